package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/internal/presentation/tui"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/report"
)

// RunOptions contains all the configuration for the Run command.
type RunOptions struct {
	Config config.Config
	// RunID names the run. Empty generates one.
	RunID string
	// Browser drives the suites instead of a launched Chromium.
	Browser ports.Browser
	Stdout  io.Writer
	Stderr  io.Writer
}

// Run executes one verification run and writes every configured report.
// It returns the process exit code; the error is set only when the run
// could not start. Reporter failures are logged and never change the code.
func Run(ctx context.Context, opts RunOptions) (int, error) {
	cfg := opts.Config
	stdout, stderr := writers(opts.Stdout, opts.Stderr)

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return 2, err
	}
	if !cfg.CI && isTerminal(stderr) {
		tui.PrintBanner(stderr)
	}

	stack, err := NewStack(ctx, cfg, logger, StackOptions{Browser: true, Driver: opts.Browser})
	if err != nil {
		return 2, err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Warn("failed to release resources", "err", err)
		}
	}()

	runID := opts.RunID
	if runID == "" {
		runID = canopy.NewRunID()
	}
	printSystemMessage(stderr, "Run %s: %d suites, %d workers, %d retries",
		runID, len(stack.Harness.Catalog()), cfg.Run.Workers, cfg.Run.Retries)

	rep, err := stack.Harness.Run(ctx, runID)
	if err != nil {
		return 2, err
	}

	if cfg.Run.DiscardFixture {
		if err := stack.Harness.Fixtures().Delete(context.WithoutCancel(ctx), runID); err != nil && !errors.Is(err, domain.ErrFixtureNotFound) {
			logger.Warn("failed to delete session fixture", "run_id", runID, "err", err)
		}
	}

	if err := WriteReports(rep, cfg.Run, stdout); err != nil {
		logger.Error("failed to write reports", "run_id", runID, "err", err)
	}
	return rep.ExitCode(), nil
}

// WriteReports emits the report through every configured reporter.
func WriteReports(rep *report.Report, cfg config.RunConfig, stdout io.Writer) error {
	var errs []error
	for _, name := range cfg.Reporters {
		switch name {
		case "list":
			tui.PrintList(stdout, rep)
		case "json":
			errs = append(errs, saveJSON(cfg.ReportPath, rep))
		case "markdown":
			errs = append(errs, writeMarkdown(stdout, rep))
		case "github":
			errs = append(errs, report.WriteGitHub(stdout, rep))
			errs = append(errs, appendStepSummary(rep))
		default:
			errs = append(errs, fmt.Errorf("unknown reporter %q", name))
		}
	}
	// The JSON report is the artifact other commands read back.
	if !slices.Contains(cfg.Reporters, "json") && cfg.ReportPath != "" {
		errs = append(errs, saveJSON(cfg.ReportPath, rep))
	}
	return errors.Join(errs...)
}

func saveJSON(path string, rep *report.Report) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	return report.SaveJSON(path, rep)
}

func writeMarkdown(w io.Writer, rep *report.Report) error {
	md := report.Markdown(rep)
	if isTerminal(w) {
		if out, err := tui.NewRenderer(terminalWidth(w))(md); err == nil {
			md = out
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

// appendStepSummary adds the markdown report to the job summary when
// running under GitHub Actions.
func appendStepSummary(rep *report.Report) error {
	path := os.Getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open step summary: %w", err)
	}
	if _, err := io.WriteString(f, report.Markdown(rep)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

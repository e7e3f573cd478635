package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/internal/presentation/graph"
	"github.com/aretw0/canopy/pkg/report"
)

// GraphOptions configures the graph command.
type GraphOptions struct {
	Config config.Config
	// Format is mermaid or json.
	Format string
	// ReportPath colors the stages with the outcome of a previous run.
	// A missing file renders the plain graph.
	ReportPath string
	Stdout     io.Writer
}

// Graph prints the stage graph with the number of suites each stage owns.
func Graph(ctx context.Context, opts GraphOptions) error {
	stdout, _ := writers(opts.Stdout, nil)
	// No backend is contacted.
	cfg := opts.Config
	cfg.Fixture.Backend = "memory"
	cfg.Fixture.EncryptionKey = ""
	cfg.Artifacts.Backend = "file"
	stack, err := NewStack(ctx, cfg, slog.New(slog.DiscardHandler), StackOptions{})
	if err != nil {
		return err
	}
	defer stack.Close()
	h := stack.Harness

	var overlay *graph.GraphOverlay
	if opts.ReportPath != "" {
		rep, err := report.LoadJSON(opts.ReportPath)
		switch {
		case err == nil:
			overlay = graph.OverlayFrom(rep)
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("read report: %w", err)
		}
	}

	switch opts.Format {
	case "", "mermaid":
		_, err = io.WriteString(stdout, graph.GenerateMermaid(h.Graph().Nodes(), h.SuiteCounts(), overlay))
		return err
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"order":  h.Graph().Order(),
			"nodes":  h.Graph().Nodes(),
			"suites": h.SuiteCounts(),
		})
	}
	return fmt.Errorf("unknown graph format %q", opts.Format)
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/config"
	httpAdapter "github.com/aretw0/canopy/pkg/adapters/http"
	"github.com/aretw0/canopy/pkg/report"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions configures the serve command.
type ServeOptions struct {
	Config config.Config
	// Trigger enables POST /runs. It launches the browser at startup.
	Trigger bool
	// Listener overrides Config.Serve.Addr, mainly for tests.
	Listener net.Listener
	Stderr   io.Writer
}

// Serve exposes the latest report, the stage graph, live events and metrics
// until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, opts ServeOptions) error {
	cfg := opts.Config
	_, stderr := writers(nil, opts.Stderr)

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	server := httpAdapter.NewServer(
		httpAdapter.WithGatherer(reg),
		httpAdapter.WithVersion(canopy.Version),
		httpAdapter.WithLogger(logger),
	)

	stack, err := NewStack(ctx, cfg, logger, StackOptions{
		Browser:    opts.Trigger,
		Registerer: reg,
		Hooks:      server.Hooks(),
	})
	if err != nil {
		return err
	}
	defer stack.Close()

	server.Graph = stack.Harness.Graph()
	server.Suites = stack.Harness.SuiteCounts()

	if rep, err := report.LoadJSON(cfg.Run.ReportPath); err == nil {
		server.SetReport(rep)
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("ignoring unreadable report", "path", cfg.Run.ReportPath, "err", err)
	}

	runs := &runner{stack: stack, server: server, ctx: ctx}
	if opts.Trigger {
		server.Trigger = runs.trigger
	}

	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln := opts.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", cfg.Serve.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.Serve.Addr, err)
		}
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		printSystemMessage(stderr, "Starting Canopy Server on %s", ln.Addr())
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil

	case <-ctx.Done():
		printSystemMessage(stderr, "Start shutdown...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
			if err := srv.Close(); err != nil {
				logger.Error("failed to close server", "err", err)
			}
		}
		runs.wait()
		printSystemMessage(stderr, "Canopy Server stopped gracefully")
		return nil
	}
}

// runner allows one background run at a time.
type runner struct {
	stack  *Stack
	server *httpAdapter.Server
	ctx    context.Context

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func (r *runner) trigger(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", httpAdapter.ErrRunInProgress
	}
	if r.ctx.Err() != nil {
		return "", r.ctx.Err()
	}
	r.running = true

	runID := canopy.NewRunID()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
		}()
		r.execute(runID)
	}()
	return runID, nil
}

func (r *runner) execute(runID string) {
	logger := r.stack.Logger.With("run_id", runID)
	rep, err := r.stack.Harness.Run(r.ctx, runID)
	if err != nil {
		if !isInterrupted(err) {
			logger.Error("triggered run failed to start", "err", err)
		}
		return
	}
	if r.stack.Config.Run.DiscardFixture {
		if err := r.stack.Harness.Fixtures().Delete(context.WithoutCancel(r.ctx), runID); err != nil {
			logger.Debug("no session fixture to delete", "err", err)
		}
	}
	if err := saveJSON(r.stack.Config.Run.ReportPath, rep); err != nil {
		logger.Warn("failed to save report", "err", err)
	}
	r.server.SetReport(rep)
}

func (r *runner) wait() { r.wg.Wait() }

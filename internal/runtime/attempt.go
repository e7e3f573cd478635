package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/scenario"
)

// suiteResult is an outcome plus whether the skip was declared by the suite
// itself, which still counts as success for the node.
type suiteResult struct {
	outcome  domain.ScenarioOutcome
	declared bool
}

func (r suiteResult) succeeded() bool {
	switch r.outcome.Status {
	case domain.StatusPassed:
		return true
	case domain.StatusSkipped:
		return r.declared
	}
	return false
}

// attemptResult is what one attempt produced.
type attemptResult struct {
	err       error
	timedOut  bool
	artifacts domain.Artifacts
}

// runSuite drives the retry loop of one suite. Credentials are checked
// before any network action; ProbeCriticalFailure, AuthenticationFailure,
// configuration errors and skips end the loop immediately.
func (e *Engine) runSuite(ctx context.Context, r *run, stageID string, s scenario.Suite) suiteResult {
	log := e.logger.With("run_id", r.id, "stage", stageID, "suite_id", s.ID)
	started := e.now()
	out := domain.ScenarioOutcome{
		SuiteID:   s.ID,
		Title:     s.Title,
		Stage:     stageID,
		Service:   s.Service,
		StartedAt: started,
	}
	e.emitSuite(ctx, domain.EventSuiteStart, r.id, stageID, s, 0, nil, nil)

	finish := func(res suiteResult) suiteResult {
		res.outcome.Duration = e.now().Sub(started)
		log.Info("suite finished",
			"status", res.outcome.Status,
			"attempts", res.outcome.Attempts,
			"reason", res.outcome.Reason,
			"duration", res.outcome.Duration,
		)
		o := res.outcome
		e.emitSuite(ctx, domain.EventSuiteFinish, r.id, stageID, s, o.Attempts, nil, &o)
		return res
	}

	for _, key := range s.Requires {
		creds := e.credentials[key]
		if !creds.Present() {
			out.Status = domain.StatusSkipped
			out.Reason = fmt.Sprintf("missing credential %s (%s)", key, envOf(key, creds))
			return finish(suiteResult{outcome: out, declared: true})
		}
	}

	maxAttempts := e.retries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		final := attempt == maxAttempts
		if attempt > 1 && s.Category == domain.CategorySetup {
			if err := e.fixtures.Reset(ctx, r.id); err != nil {
				log.Warn("failed to reset session fixture", "attempt", attempt, "err", err)
			}
		}
		res := e.attempt(ctx, r, stageID, s, attempt, final)
		out.Attempts = attempt
		out.RetryCount = attempt - 1

		if res.err == nil {
			out.Status = domain.StatusPassed
			out.Error = ""
			out.Artifacts = domain.Artifacts{}
			return finish(suiteResult{outcome: out})
		}
		if reason, ok := domain.SkipReason(res.err); ok {
			out.Status = domain.StatusSkipped
			out.Reason = reason
			out.Error = ""
			return finish(suiteResult{outcome: out, declared: true})
		}

		out.Error = res.err.Error()
		out.Artifacts = res.artifacts
		switch {
		case ctx.Err() != nil:
			out.Status = domain.StatusTimedOut
			out.Reason = interruptReason(ctx.Err(), e.globalTimeout)
			return finish(suiteResult{outcome: out})
		case res.timedOut:
			out.Status = domain.StatusTimedOut
			out.Reason = fmt.Sprintf("suite exceeded %s", e.timeoutFor(s))
		default:
			out.Status = domain.StatusFailed
			out.Reason = ""
		}

		if final || !retryable(res.err) {
			return finish(suiteResult{outcome: out})
		}
		log.Warn("attempt failed, retrying", "attempt", attempt, "err", res.err)
		e.emitSuite(ctx, domain.EventAttemptFailed, r.id, stageID, s, attempt, res.err, nil)
	}

	// The run ended between attempts.
	if out.Attempts == 0 {
		out.Status = domain.StatusSkipped
		out.Reason = ReasonInterrupted
	}
	return finish(suiteResult{outcome: out})
}

func retryable(err error) bool {
	var (
		critical *domain.ProbeCriticalFailure
		auth     *domain.AuthenticationFailure
		config   *domain.ConfigurationError
	)
	switch {
	case errors.As(err, &critical), errors.As(err, &auth), errors.As(err, &config):
		return false
	}
	return true
}

func (e *Engine) timeoutFor(s scenario.Suite) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return e.suiteTimeout
}

// attempt runs the suite once in a fresh browser context with a freshly
// loaded fixture. The suite body is abandoned, not awaited, when the suite
// timeout fires. Every attempt is recorded; the recording is kept only when
// the attempt fails and no retry follows it.
func (e *Engine) attempt(ctx context.Context, r *run, stageID string, s scenario.Suite, n int, final bool) attemptResult {
	timeout := e.timeoutFor(s)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := e.logger.With("run_id", r.id, "stage", stageID, "suite_id", s.ID, "attempt", n)

	var injected *domain.SessionFixture
	if s.UsesFixture {
		f, err := e.fixtures.Load(actx, r.id)
		if err != nil {
			return attemptResult{err: fmt.Errorf("load session fixture: %w", err)}
		}
		injected = f
	}

	env := scenario.NewEnv(scenario.EnvConfig{
		RunID:         r.id,
		Stage:         stageID,
		Suite:         s,
		Attempt:       n,
		Logger:        log,
		Locator:       e.locator,
		Credentials:   e.credentials,
		Probes:        e.probes,
		Policies:      e.policies,
		Fixtures:      e.fixtures,
		Names:         r.names,
		Fixture:       injected,
		ActionTimeout: e.actionTimeout,
		ExpectTimeout: e.expectTimeout,
		PollInterval:  e.pollInterval,
		OpenPage: func(ctx context.Context, f *domain.SessionFixture) (ports.Page, error) {
			if e.browser == nil {
				return nil, errors.New("no browser configured")
			}
			return e.browser.NewPage(ctx, ports.PageOptions{Fixture: f, Record: true})
		},
	})

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("suite panicked: %v", p)
			}
		}()
		done <- s.Run(actx, env)
	}()

	var res attemptResult
	select {
	case res.err = <-done:
	case <-actx.Done():
		res.err = actx.Err()
	}
	if res.err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		res.timedOut = true
		res.err = fmt.Errorf("suite timed out after %s: %w", timeout, res.err)
	}

	res.artifacts = e.closePage(ctx, log, r.id, s.ID, n, env.OpenedPage(), lastAttempt(ctx, res.err, final))
	return res
}

// lastAttempt reports whether a failed attempt ends the retry loop, which
// is when its recording becomes the suite's artifacts.
func lastAttempt(ctx context.Context, err error, final bool) bool {
	if err == nil || isSkip(err) {
		return false
	}
	return final || !retryable(err) || ctx.Err() != nil
}

// closePage releases the attempt's browser context and, when keep is set,
// persists its screenshot, trace and video through the artifact sink.
func (e *Engine) closePage(ctx context.Context, log *slog.Logger, runID, suiteID string, n int, page ports.Page, keep bool) domain.Artifacts {
	var arts domain.Artifacts
	if page == nil {
		return arts
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), artifactTimeout)
	defer cancel()

	keep = keep && e.sink != nil
	put := func(kind ports.ArtifactKind, ext, contentType string, data []byte) string {
		if len(data) == 0 {
			return ""
		}
		ref, err := e.sink.Put(cctx, ports.Artifact{
			RunID:       runID,
			SuiteID:     suiteID,
			Attempt:     n,
			Kind:        kind,
			Ext:         ext,
			ContentType: contentType,
			Data:        data,
		})
		if err != nil {
			log.Warn("failed to store artifact", "kind", kind, "err", err)
			return ""
		}
		return ref
	}

	if keep {
		if shot, err := page.Screenshot(cctx); err != nil {
			log.Warn("failed to capture screenshot", "err", err)
		} else {
			arts.Screenshot = put(ports.ArtifactScreenshot, ".png", "image/png", shot)
		}
	}

	rec, err := page.Close(cctx)
	if err != nil {
		log.Warn("failed to close page", "err", err)
	}
	if keep && rec != nil {
		arts.Trace = put(ports.ArtifactTrace, ".json", "application/x-ndjson", rec.Trace)
		arts.Video = put(ports.ArtifactVideo, ".mjpeg", "video/x-motion-jpeg", rec.Video)
	}
	return arts
}

func (e *Engine) emitSuite(ctx context.Context, typ domain.EventType, runID, stageID string, s scenario.Suite, attempt int, err error, o *domain.ScenarioOutcome) {
	var hook func(context.Context, *domain.SuiteEvent)
	switch typ {
	case domain.EventSuiteStart:
		hook = e.hooks.OnSuiteStart
	case domain.EventAttemptFailed:
		hook = e.hooks.OnAttemptFailed
	case domain.EventSuiteFinish:
		hook = e.hooks.OnSuiteFinish
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.SuiteEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: typ, RunID: runID},
		StageID:   stageID,
		SuiteID:   s.ID,
		Service:   s.Service,
		Attempt:   attempt,
		Err:       err,
		Outcome:   o,
	})
}

func isSkip(err error) bool {
	_, ok := domain.SkipReason(err)
	return ok
}

package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/canopy/pkg/domain"
)

// LogHooks mirrors engine events as structured log lines at debug level,
// with attempt failures at warn.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStageStart: func(ctx context.Context, e *domain.StageEvent) {
			logger.DebugContext(ctx, "stage_start", "run_id", e.RunID, "stage", e.StageID, "category", e.Category)
		},
		OnStageFinish: func(ctx context.Context, e *domain.StageEvent) {
			logger.DebugContext(ctx, "stage_finish", "run_id", e.RunID, "stage", e.StageID, "succeeded", e.Succeeded)
		},
		OnSuiteStart: func(ctx context.Context, e *domain.SuiteEvent) {
			logger.DebugContext(ctx, "suite_start", "run_id", e.RunID, "stage", e.StageID, "suite_id", e.SuiteID)
		},
		OnAttemptFailed: func(ctx context.Context, e *domain.SuiteEvent) {
			logger.WarnContext(ctx, "attempt_failed",
				"run_id", e.RunID,
				"stage", e.StageID,
				"suite_id", e.SuiteID,
				"attempt", e.Attempt,
				"err", e.Err,
			)
		},
		OnSuiteFinish: func(ctx context.Context, e *domain.SuiteEvent) {
			if e.Outcome == nil {
				return
			}
			logger.DebugContext(ctx, "suite_finish",
				"run_id", e.RunID,
				"stage", e.StageID,
				"suite_id", e.SuiteID,
				"status", e.Outcome.Status,
			)
		},
	}
}

package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStageStart    EventType = "stage_start"
	EventStageFinish   EventType = "stage_finish"
	EventSuiteStart    EventType = "suite_start"
	EventAttemptFailed EventType = "attempt_failed"
	EventSuiteFinish   EventType = "suite_finish"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
}

// StageEvent represents a node starting or finishing.
type StageEvent struct {
	EventBase
	StageID   string        `json:"stage_id"`
	Category  StageCategory `json:"category"`
	Succeeded bool          `json:"succeeded,omitempty"`
}

// SuiteEvent represents a suite or one of its attempts.
type SuiteEvent struct {
	EventBase
	StageID string           `json:"stage_id"`
	SuiteID string           `json:"suite_id"`
	Service string           `json:"service,omitempty"`
	Attempt int              `json:"attempt,omitempty"`
	Err     error            `json:"-"`
	Outcome *ScenarioOutcome `json:"outcome,omitempty"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStageStart    func(context.Context, *StageEvent)
	OnStageFinish   func(context.Context, *StageEvent)
	OnSuiteStart    func(context.Context, *SuiteEvent)
	OnAttemptFailed func(context.Context, *SuiteEvent)
	OnSuiteFinish   func(context.Context, *SuiteEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStageStart:    chain(h.OnStageStart, other.OnStageStart),
		OnStageFinish:   chain(h.OnStageFinish, other.OnStageFinish),
		OnSuiteStart:    chain(h.OnSuiteStart, other.OnSuiteStart),
		OnAttemptFailed: chain(h.OnAttemptFailed, other.OnAttemptFailed),
		OnSuiteFinish:   chain(h.OnSuiteFinish, other.OnSuiteFinish),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}

package domain

import "time"

// OutcomeStatus is the terminal status of a suite.
type OutcomeStatus string

const (
	StatusPassed   OutcomeStatus = "passed"
	StatusFailed   OutcomeStatus = "failed"
	StatusSkipped  OutcomeStatus = "skipped"
	StatusTimedOut OutcomeStatus = "timedOut"
)

// Fatal reports whether the status fails the run.
func (s OutcomeStatus) Fatal() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// Artifacts are references to diagnostics captured on the final failed attempt.
type Artifacts struct {
	Trace      string `json:"trace,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Video      string `json:"video,omitempty"`
}

// Empty reports whether nothing was captured.
func (a Artifacts) Empty() bool {
	return a.Trace == "" && a.Screenshot == "" && a.Video == ""
}

// ScenarioOutcome is created once per suite execution and never mutated afterwards.
type ScenarioOutcome struct {
	SuiteID    string        `json:"suite_id"`
	Title      string        `json:"title"`
	Stage      string        `json:"stage"`
	Service    string        `json:"service,omitempty"`
	Status     OutcomeStatus `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	RetryCount int           `json:"retry_count"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	Duration   time.Duration `json:"duration"`
	Artifacts  Artifacts     `json:"artifacts,omitzero"`
}

// Package report holds the run report: every suite's terminal status, the
// stage summaries and the aggregate exit code used for automated gating.
package report

import (
	"slices"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
)

// StageSummary records how a Stage Graph node ended.
type StageSummary struct {
	ID        string               `json:"id"`
	Category  domain.StageCategory `json:"category"`
	Suites    int                  `json:"suites"`
	Succeeded bool                 `json:"succeeded"`
	// BlockedBy names the dependency that prevented the node from running.
	BlockedBy string `json:"blocked_by,omitempty"`
}

// Report is the result of one run. It is built by the engine and read-only afterwards.
type Report struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Interrupted is set when the global timeout or a signal ended the run.
	Interrupted bool                     `json:"interrupted,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
	Stages      []StageSummary           `json:"stages"`
	Outcomes    []domain.ScenarioOutcome `json:"outcomes"`
}

// Counts aggregates outcomes by status.
type Counts struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	TimedOut int `json:"timed_out"`
	// Flaky counts suites that passed after at least one retry.
	Flaky int `json:"flaky"`
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts aggregates outcomes by status.
func (r *Report) Counts() Counts {
	c := Counts{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		switch o.Status {
		case domain.StatusPassed:
			c.Passed++
			if o.RetryCount > 0 {
				c.Flaky++
			}
		case domain.StatusFailed:
			c.Failed++
		case domain.StatusSkipped:
			c.Skipped++
		case domain.StatusTimedOut:
			c.TimedOut++
		}
	}
	return c
}

// Failed reports whether the run must fail automation: any suite failed or
// timed out, or the run was interrupted. Skipped suites never count.
func (r *Report) Failed() bool {
	if r.Interrupted {
		return true
	}
	return slices.ContainsFunc(r.Outcomes, func(o domain.ScenarioOutcome) bool {
		return o.Status.Fatal()
	})
}

// ExitCode is the process exit status for the run.
func (r *Report) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// Outcome returns the outcome of a suite.
func (r *Report) Outcome(suiteID string) (domain.ScenarioOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.SuiteID == suiteID {
			return o, true
		}
	}
	return domain.ScenarioOutcome{}, false
}

// WithStatus returns the outcomes in a given status, in report order.
func (r *Report) WithStatus(status domain.OutcomeStatus) []domain.ScenarioOutcome {
	var out []domain.ScenarioOutcome
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}

// Stage returns the summary of a node.
func (r *Report) Stage(id string) (StageSummary, bool) {
	for _, s := range r.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return StageSummary{}, false
}

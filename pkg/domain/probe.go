package domain

import (
	"fmt"
	"time"
)

// Classification is the interpretation of a probe response.
type Classification string

const (
	Healthy         Classification = "healthy"
	Failure         Classification = "failure"
	CriticalFailure Classification = "critical_failure"
	Unreachable     Classification = "unreachable"
	BodyMismatch    Classification = "body_mismatch"
)

// ProbeResult is produced and consumed within a single assertion.
type ProbeResult struct {
	Service        string         `json:"service"`
	Policy         string         `json:"policy"`
	URL            string         `json:"url"`
	HTTPStatus     int            `json:"http_status"`
	Body           map[string]any `json:"body,omitempty"`
	Classification Classification `json:"classification"`
	Critical       bool           `json:"critical"`
	// Label is the operational meaning of the status (e.g. "standby").
	Label    string        `json:"label,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the probe is healthy.
func (r ProbeResult) OK() bool {
	return r.Classification == Healthy
}

func (r ProbeResult) String() string {
	s := fmt.Sprintf("%s %s: %d %s", r.Service, r.Policy, r.HTTPStatus, r.Classification)
	if r.Label != "" {
		s += " (" + r.Label + ")"
	}
	if r.Detail != "" {
		s += ": " + r.Detail
	}
	return s
}

package tui_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"

	"github.com/aretw0/canopy/internal/presentation/tui"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/report"
)

func TestStatusLine(t *testing.T) {
	line := tui.StatusLine(termenv.Ascii, domain.ScenarioOutcome{
		SuiteID: "lldap/login", Stage: "chromium", Status: domain.StatusSkipped,
		Reason: "missing credential directory (LLDAP_ADMIN_PASSWORD)",
	})
	assert.Equal(t, "  - [chromium] lldap/login (0s) missing credential directory (LLDAP_ADMIN_PASSWORD)", line)

	line = tui.StatusLine(termenv.Ascii, domain.ScenarioOutcome{
		SuiteID: "vault/policies", Stage: "chromium", Status: domain.StatusFailed,
		Attempts: 3, Duration: 1500 * time.Millisecond,
	})
	assert.Equal(t, "  ✗ [chromium] vault/policies (1.5s) after 3 attempts", line)
}

func TestPrintList(t *testing.T) {
	var buf bytes.Buffer
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tui.PrintList(&buf, &report.Report{
		StartedAt:   start,
		FinishedAt:  start.Add(2 * time.Second),
		Interrupted: true,
		Reason:      "global timeout of 1h0m0s exceeded",
		Outcomes: []domain.ScenarioOutcome{
			{SuiteID: "smoke/vault-ui", Stage: "smoke", Status: domain.StatusPassed, RetryCount: 1, Attempts: 2},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "smoke/vault-ui")
	assert.Contains(t, out, "flaky")
	assert.Contains(t, out, "1 passed, 0 failed, 0 timed out, 0 skipped (1 flaky) in 2s")
	assert.Contains(t, out, "interrupted: global timeout")
}

func TestRendererFallsBackToMarkdown(t *testing.T) {
	render := tui.NewRenderer(80)
	out, err := render("# Canopy run\n")
	assert.NoError(t, err)
	assert.Contains(t, out, "Canopy run")
}

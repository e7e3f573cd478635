package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/muesli/termenv"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/report"
)

var statusColor = map[domain.OutcomeStatus]string{
	domain.StatusPassed:   "#22c55e",
	domain.StatusFailed:   "#ef4444",
	domain.StatusTimedOut: "#f97316",
	domain.StatusSkipped:  "#a3a3a3",
}

var statusMark = map[domain.OutcomeStatus]string{
	domain.StatusPassed:   "✓",
	domain.StatusFailed:   "✗",
	domain.StatusTimedOut: "⏱",
	domain.StatusSkipped:  "-",
}

// StatusLine formats one outcome the way the list reporter prints it.
func StatusLine(p termenv.Profile, o domain.ScenarioOutcome) string {
	mark := p.String(statusMark[o.Status]).Foreground(p.Color(statusColor[o.Status]))
	line := fmt.Sprintf("  %s [%s] %s (%s)", mark, o.Stage, o.SuiteID, o.Duration.Round(time.Millisecond))
	switch {
	case o.Status == domain.StatusSkipped && o.Reason != "":
		line += p.String(" " + o.Reason).Faint().String()
	case o.Status.Fatal() && o.Attempts > 1:
		line += fmt.Sprintf(" after %d attempts", o.Attempts)
	case o.Status == domain.StatusPassed && o.RetryCount > 0:
		line += p.String(" flaky").Foreground(p.Color(statusColor[domain.StatusTimedOut])).String()
	}
	return line
}

// PrintList writes one line per outcome followed by the totals.
func PrintList(w io.Writer, r *report.Report) {
	p := termenv.NewOutput(w).Profile
	for _, o := range r.Outcomes {
		fmt.Fprintln(w, StatusLine(p, o))
	}
	c := r.Counts()
	fmt.Fprintf(w, "\n  %d passed, %d failed, %d timed out, %d skipped (%d flaky) in %s\n",
		c.Passed, c.Failed, c.TimedOut, c.Skipped, c.Flaky, r.Duration().Round(time.Millisecond))
	if r.Interrupted {
		fmt.Fprintf(w, "  %s\n", p.String("interrupted: "+r.Reason).Foreground(p.Color(statusColor[domain.StatusFailed])))
	}
}

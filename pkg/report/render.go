package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
)

// WriteJSON encodes the report with indentation.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}

// SaveJSON writes the report to path.
func SaveJSON(path string, r *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJSON(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads a report file.
func LoadJSON(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadJSON(f)
}

var statusIcon = map[domain.OutcomeStatus]string{
	domain.StatusPassed:   "✅",
	domain.StatusFailed:   "❌",
	domain.StatusTimedOut: "⏱️",
	domain.StatusSkipped:  "⏭️",
}

// Markdown renders a human summary: totals, stages, failures with their
// artifacts and skip reasons.
func Markdown(r *Report) string {
	var b strings.Builder
	c := r.Counts()

	fmt.Fprintf(&b, "# Canopy run `%s`\n\n", r.RunID)
	result := "✅ **passed**"
	if r.Failed() {
		result = "❌ **failed**"
	}
	fmt.Fprintf(&b, "%s in %s\n\n", result, r.Duration().Round(time.Millisecond))
	if r.Interrupted {
		fmt.Fprintf(&b, "> Run interrupted: %s\n\n", r.Reason)
	}

	b.WriteString("| Passed | Failed | Timed out | Skipped | Flaky | Total |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d | %d | %d |\n\n", c.Passed, c.Failed, c.TimedOut, c.Skipped, c.Flaky, c.Total)

	if len(r.Stages) > 0 {
		b.WriteString("## Stages\n\n| Stage | Category | Suites | Result |\n|---|---|---|---|\n")
		for _, s := range r.Stages {
			res := "succeeded"
			switch {
			case s.BlockedBy != "":
				res = fmt.Sprintf("blocked by `%s`", s.BlockedBy)
			case !s.Succeeded:
				res = "failed"
			}
			fmt.Fprintf(&b, "| `%s` | %s | %d | %s |\n", s.ID, s.Category, s.Suites, res)
		}
		b.WriteString("\n")
	}

	var failures []domain.ScenarioOutcome
	for _, o := range r.Outcomes {
		if o.Status.Fatal() {
			failures = append(failures, o)
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, o := range failures {
			fmt.Fprintf(&b, "### %s `%s`\n\n", statusIcon[o.Status], o.SuiteID)
			if o.Title != "" {
				fmt.Fprintf(&b, "%s\n\n", o.Title)
			}
			fmt.Fprintf(&b, "- attempts: %d\n", o.Attempts)
			if o.Error != "" {
				fmt.Fprintf(&b, "- error: `%s`\n", oneLine(o.Error))
			}
			if o.Reason != "" {
				fmt.Fprintf(&b, "- reason: %s\n", o.Reason)
			}
			for _, a := range []struct{ name, ref string }{
				{"trace", o.Artifacts.Trace},
				{"screenshot", o.Artifacts.Screenshot},
				{"video", o.Artifacts.Video},
			} {
				if a.ref != "" {
					fmt.Fprintf(&b, "- %s: `%s`\n", a.name, a.ref)
				}
			}
			b.WriteString("\n")
		}
	}

	if skipped := r.WithStatus(domain.StatusSkipped); len(skipped) > 0 {
		b.WriteString("## Skipped\n\n| Suite | Reason |\n|---|---|\n")
		for _, o := range skipped {
			fmt.Fprintf(&b, "| `%s` | %s |\n", o.SuiteID, o.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// WriteGitHub emits GitHub Actions workflow commands: an error per failed or
// timed out suite, a warning per flaky suite and a notice per skip.
func WriteGitHub(w io.Writer, r *Report) error {
	for _, o := range r.Outcomes {
		var level, msg string
		switch {
		case o.Status.Fatal():
			level, msg = "error", firstNonEmpty(o.Error, o.Reason, string(o.Status))
		case o.Status == domain.StatusPassed && o.RetryCount > 0:
			level, msg = "warning", fmt.Sprintf("passed after %d retries", o.RetryCount)
		case o.Status == domain.StatusSkipped:
			level, msg = "notice", "skipped: "+o.Reason
		default:
			continue
		}
		title := fmt.Sprintf("[%s] %s", o.Stage, o.SuiteID)
		if _, err := fmt.Fprintf(w, "::%s title=%s::%s\n", level, escapeProperty(title), escapeData(msg)); err != nil {
			return err
		}
	}
	c := r.Counts()
	summary := fmt.Sprintf("%d passed, %d failed, %d timed out, %d skipped", c.Passed, c.Failed, c.TimedOut, c.Skipped)
	if r.Interrupted {
		_, err := fmt.Fprintf(w, "::error title=run interrupted::%s\n", escapeData(r.Reason+"; "+summary))
		return err
	}
	_, err := fmt.Fprintf(w, "::notice title=canopy::%s\n", escapeData(summary))
	return err
}

func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

func escapeProperty(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C").Replace(s)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

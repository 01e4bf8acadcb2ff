package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/stores"
)

func outcomeLabel(o engine.OutcomeStatus) string {
	switch o {
	case engine.OutcomeChanged:
		return warnStyle.Render(string(o))
	case engine.OutcomeFailed:
		return errorStyle.Render(string(o))
	case engine.OutcomeUnchanged:
		return successStyle.Render(string(o))
	default:
		return mutedStyle.Render(string(o))
	}
}

func statusLabel(s engine.RunStatus) string {
	switch s {
	case engine.RunStatusSucceeded:
		return successStyle.Render(string(s))
	case engine.RunStatusPartial:
		return warnStyle.Render(string(s))
	case engine.RunStatusFailed, engine.RunStatusCancelled:
		return errorStyle.Render(string(s))
	default:
		return string(s)
	}
}

// renderReport renders the entries of a run followed by its summary.
func renderReport(report *engine.RunReport) string {
	rows := make([][]string, 0, len(report.Entries))
	for _, e := range report.Entries {
		detail := e.Detail
		if e.Outcome == engine.OutcomeFailed {
			detail = e.Reason
			if e.Retryable {
				detail += " (retryable)"
			}
		}
		if e.Refreshed {
			detail = strings.TrimSpace(detail + " [refresh]")
		}
		rows = append(rows, []string{
			e.ResourceID,
			outcomeLabel(e.Outcome),
			detail,
			e.Duration.Round(time.Millisecond).String(),
		})
	}

	var sb strings.Builder
	sb.WriteString(renderTable([]string{"RESOURCE", "OUTCOME", "DETAIL", "TIME"}, rows))
	sb.WriteString("\n")

	for _, w := range report.Warnings {
		sb.WriteString(warnMsg("%s", w.String()) + "\n")
	}

	s := report.Summary
	sb.WriteString(keyValues("",
		kv("run", report.RunID),
		kv("status", statusLabel(report.Status)),
		kv("resources", fmt.Sprintf("%d total, %d changed, %d unchanged, %d failed, %d skipped",
			s.Total, s.Changed, s.Unchanged, s.Failed, s.Skipped)),
		kv("duration", report.Duration().Round(time.Millisecond).String()),
	))
	if report.FirstFailure != nil {
		sb.WriteString(errorMsg("halted at %s: %s", report.FirstFailure.ResourceID, report.FirstFailure.Reason) + "\n")
	}
	return sb.String()
}

// renderRuns renders run log headers newest first.
func renderRuns(runs []*stores.RunRecord) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			r.Target,
			statusLabel(r.Status),
			strconv.Itoa(r.Summary.Changed),
			strconv.Itoa(r.Summary.Failed),
			r.Duration().Round(time.Millisecond).String(),
		})
	}
	return renderTable([]string{"RUN", "STARTED", "TARGET", "STATUS", "CHANGED", "FAILED", "DURATION"}, rows)
}

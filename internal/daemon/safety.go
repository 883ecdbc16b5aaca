package daemon

import (
	"context"

	"flowpilot/internal/logging"
)

// Safety policies constrain what an autonomous action executor may do. Each
// known intent gets a narrowly scoped allow-list; anything unrecognized is
// forced into report-only mode.

const (
	policyCalendar = "Allowed: read calendar, create or update calendar events, read the source message. " +
		"Forbidden: sending mail, deleting events, touching files."

	policyCorrespondence = "Allowed: read the source message, create a draft reply. " +
		"Forbidden: sending mail without review, deleting messages, touching files."

	policyFiling = "Allowed: read the source message, copy attachments into the archive folder, tag the message. " +
		"Forbidden: deleting anything, sending mail, modifying files outside the archive folder."

	// policyReportOnly is the conservative default: observe and summarize,
	// change nothing.
	policyReportOnly = "Report-only: describe what you would do. Make no changes of any kind."
)

var intentPolicies = map[string]string{
	"schedule_meeting":   policyCalendar,
	"reply_confirmation": policyCorrespondence,
	"pay_invoice":        policyFiling,
	"newsletter":         policyFiling,
}

// PolicyForIntent returns the safety policy text for an intent, falling back
// to report-only for anything unknown.
func PolicyForIntent(intent string) string {
	if p, ok := intentPolicies[intent]; ok {
		return p
	}
	return policyReportOnly
}

// ReportOnlyExecutor is the default ActionExecutor: it performs nothing and
// reports what would have been done. Stands in until an agent-backed
// executor is wired up.
type ReportOnlyExecutor struct{}

// RunAutonomous records the request and succeeds without side effects.
func (ReportOnlyExecutor) RunAutonomous(_ context.Context, prompt, safetyPolicy string) (bool, string, error) {
	logging.Actions("Report-only execution: prompt=%q policy=%q", prompt, safetyPolicy)
	return true, "report-only: " + prompt, nil
}

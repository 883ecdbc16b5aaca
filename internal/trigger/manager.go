// Package trigger decides when workflows are due to run: wall-clock
// schedules with at-most-once-per-period suppression, file events, and
// inbound message matching. Malformed trigger configuration never aborts a
// batch; the affected workflow is silently skipped for that evaluation.
package trigger

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// Schedule matching tolerates this many minutes around the configured minute.
const minuteTolerance = 5

// Store is the slice of persistence the manager needs.
type Store interface {
	ListWorkflows(enabledOnly bool) ([]*types.Workflow, error)
	RecordTriggerEvent(ev *types.TriggerEvent) error
	TriggerEventsSince(workflowID string, since time.Time) ([]types.TriggerEvent, error)
}

// Manager evaluates workflow triggers against time, files and messages.
type Manager struct {
	store Store
}

// NewManager creates a trigger manager backed by the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// IsDue reports whether a schedule-triggered workflow should fire at now.
// The schedule must match the current wall clock, and no firing may already
// exist in the current calendar period (day, ISO week, or month). History
// inside the whole period window is consulted, not just the newest row, so a
// workflow disabled and re-enabled mid-period does not re-fire.
func (m *Manager) IsDue(wf *types.Workflow, now time.Time) bool {
	if wf.Trigger.Type != types.TriggerSchedule || wf.Trigger.Validate() != nil {
		return false
	}
	sched := wf.Trigger.Schedule

	if !scheduleMatches(sched, now) {
		return false
	}

	fired, err := m.firedInPeriod(wf.ID, sched.Frequency, now)
	if err != nil {
		logging.Get(logging.CategoryTrigger).Warn("History check failed for workflow %s, suppressing: %v", wf.ID, err)
		return false
	}
	if fired {
		logging.TriggerDebug("Workflow %s already fired this %s period", wf.ID, sched.Frequency)
		return false
	}
	return true
}

// scheduleMatches checks only the wall-clock part of a schedule.
func scheduleMatches(sched *types.ScheduleTrigger, now time.Time) bool {
	if now.Hour() != sched.Hour {
		return false
	}
	diff := now.Minute() - sched.Minute
	if diff < -minuteTolerance || diff > minuteTolerance {
		return false
	}
	switch sched.Frequency {
	case types.FrequencyWeekly:
		return now.Weekday() == sched.DayOfWeek
	case types.FrequencyMonthly:
		return now.Day() == sched.DayOfMonth
	default:
		return true
	}
}

// firedInPeriod reports whether any trigger firing exists within the current
// calendar period.
func (m *Manager) firedInPeriod(workflowID string, freq types.Frequency, now time.Time) (bool, error) {
	events, err := m.store.TriggerEventsSince(workflowID, periodStart(freq, now))
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// periodStart returns the beginning of the calendar period containing now:
// midnight for daily, the Monday of the ISO week for weekly, the first of
// the month for monthly.
func periodStart(freq types.Frequency, now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch freq {
	case types.FrequencyWeekly:
		// ISO weeks start on Monday.
		offset := (int(now.Weekday()) + 6) % 7
		return midnight.AddDate(0, 0, -offset)
	case types.FrequencyMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	default:
		return midnight
	}
}

// MatchesFile reports whether a candidate path satisfies a file trigger: the
// parent directory must equal the configured directory exactly and the
// basename must match the case-insensitive glob pattern.
func (m *Manager) MatchesFile(cfg *types.FileTrigger, path string) bool {
	if cfg == nil || cfg.Path == "" || cfg.Pattern == "" {
		return false
	}

	wantDir := filepath.Clean(ExpandHome(cfg.Path))
	gotDir := filepath.Clean(filepath.Dir(ExpandHome(path)))
	if wantDir != gotDir {
		return false
	}

	base := strings.ToLower(filepath.Base(path))
	matched, err := filepath.Match(strings.ToLower(cfg.Pattern), base)
	if err != nil {
		logging.TriggerDebug("Bad file pattern %q: %v", cfg.Pattern, err)
		return false
	}
	return matched
}

// MatchesMessage reports whether an inbox item satisfies a message trigger.
// At least one pattern must be configured and every configured pattern must
// match (case-insensitive substring, no exclusion matching).
func (m *Manager) MatchesMessage(cfg *types.MessageTrigger, item types.InboxItem) bool {
	if cfg == nil || (cfg.FromPattern == "" && cfg.SubjectPattern == "") {
		return false
	}
	if cfg.FromPattern != "" && !containsFold(item.From, cfg.FromPattern) {
		return false
	}
	if cfg.SubjectPattern != "" && !containsFold(item.Subject, cfg.SubjectPattern) {
		return false
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// RecordFiring appends a firing to the trigger history. This is what
// suppresses the next same-period schedule evaluation.
func (m *Manager) RecordFiring(workflowID string, triggerType types.TriggerType, data string) error {
	return m.store.RecordTriggerEvent(&types.TriggerEvent{
		WorkflowID:  workflowID,
		TriggerType: triggerType,
		Data:        data,
	})
}

// DueWorkflows returns all enabled schedule-triggered workflows due at now.
func (m *Manager) DueWorkflows(now time.Time) ([]*types.Workflow, error) {
	workflows, err := m.store.ListWorkflows(true)
	if err != nil {
		return nil, err
	}

	var due []*types.Workflow
	for _, wf := range workflows {
		if m.IsDue(wf, now) {
			due = append(due, wf)
		}
	}
	if len(due) > 0 {
		logging.Trigger("%d workflow(s) due at %s", len(due), now.Format(time.RFC3339))
	}
	return due, nil
}

// FileTriggeredWorkflows returns all enabled file-triggered workflows
// matching a candidate path. The caller is responsible for bounding
// candidates by modification time and consulting the watched-item markers.
func (m *Manager) FileTriggeredWorkflows(path string) ([]*types.Workflow, error) {
	workflows, err := m.store.ListWorkflows(true)
	if err != nil {
		return nil, err
	}

	var matched []*types.Workflow
	for _, wf := range workflows {
		if wf.Trigger.Type != types.TriggerFile || wf.Trigger.Validate() != nil {
			continue
		}
		if m.MatchesFile(wf.Trigger.File, path) {
			matched = append(matched, wf)
		}
	}
	return matched, nil
}

// MessageTriggeredWorkflows returns all enabled message-triggered workflows
// matching an inbox item.
func (m *Manager) MessageTriggeredWorkflows(item types.InboxItem) ([]*types.Workflow, error) {
	workflows, err := m.store.ListWorkflows(true)
	if err != nil {
		return nil, err
	}

	var matched []*types.Workflow
	for _, wf := range workflows {
		if wf.Trigger.Type != types.TriggerMessage || wf.Trigger.Validate() != nil {
			continue
		}
		if m.MatchesMessage(wf.Trigger.Message, item) {
			matched = append(matched, wf)
		}
	}
	return matched, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

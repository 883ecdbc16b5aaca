// Package types defines the core data model for flowpilot: workflows, steps,
// runs, corrections, trigger history, daemon actions and de-duplication
// markers, plus the collaborator interfaces the engine is wired against.
package types

import (
	"fmt"
	"time"
)

// =============================================================================
// TRIGGERS
// =============================================================================

// TriggerType identifies the kind of condition that makes a workflow due.
type TriggerType string

const (
	TriggerSchedule TriggerType = "schedule"
	TriggerFile     TriggerType = "file"
	TriggerMessage  TriggerType = "message"
	TriggerManual   TriggerType = "manual"
)

// Frequency is the calendar period of a schedule trigger.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduleTrigger fires at a wall-clock time, at most once per calendar period.
type ScheduleTrigger struct {
	Frequency  Frequency    `json:"frequency"`
	Hour       int          `json:"hour"`
	Minute     int          `json:"minute"`
	DayOfWeek  time.Weekday `json:"day_of_week,omitempty"`  // weekly only
	DayOfMonth int          `json:"day_of_month,omitempty"` // monthly only
}

// FileTrigger fires when a file appears in a directory (non-recursive) whose
// basename matches a case-insensitive glob pattern.
type FileTrigger struct {
	Path    string `json:"path"`
	Pattern string `json:"pattern"`
}

// MessageTrigger fires on an inbound message matching case-insensitive
// substring patterns. At least one pattern must be set; all set patterns
// must match.
type MessageTrigger struct {
	FromPattern    string `json:"from_pattern,omitempty"`
	SubjectPattern string `json:"subject_pattern,omitempty"`
}

// TriggerSpec is the tagged trigger variant carried by a workflow. Exactly one
// payload matching Type should be non-nil; a spec that violates this is
// treated as malformed and the workflow is skipped during evaluation.
type TriggerSpec struct {
	Type     TriggerType      `json:"type"`
	Schedule *ScheduleTrigger `json:"schedule,omitempty"`
	File     *FileTrigger     `json:"file,omitempty"`
	Message  *MessageTrigger  `json:"message,omitempty"`
}

// Validate checks that the spec's payload matches its type.
func (t TriggerSpec) Validate() error {
	switch t.Type {
	case TriggerSchedule:
		if t.Schedule == nil {
			return fmt.Errorf("schedule trigger missing schedule config")
		}
		switch t.Schedule.Frequency {
		case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		default:
			return fmt.Errorf("unknown schedule frequency %q", t.Schedule.Frequency)
		}
		if t.Schedule.Hour < 0 || t.Schedule.Hour > 23 {
			return fmt.Errorf("schedule hour %d out of range", t.Schedule.Hour)
		}
		if t.Schedule.Minute < 0 || t.Schedule.Minute > 59 {
			return fmt.Errorf("schedule minute %d out of range", t.Schedule.Minute)
		}
	case TriggerFile:
		if t.File == nil || t.File.Path == "" || t.File.Pattern == "" {
			return fmt.Errorf("file trigger requires path and pattern")
		}
	case TriggerMessage:
		if t.Message == nil || (t.Message.FromPattern == "" && t.Message.SubjectPattern == "") {
			return fmt.Errorf("message trigger requires at least one pattern")
		}
	case TriggerManual:
		// No config.
	default:
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	return nil
}

// =============================================================================
// WORKFLOWS AND STEPS
// =============================================================================

// Step is one tool invocation inside a workflow. Content is immutable once
// created; only Confidence mutates, via the confidence tracker.
type Step struct {
	Order       int                    `json:"order"` // 1-based, unique within workflow
	Tool        string                 `json:"tool"`
	Params      map[string]interface{} `json:"params"`
	OutputKey   string                 `json:"output_key,omitempty"`
	Description string                 `json:"description,omitempty"`
	Confidence  float64                `json:"confidence"` // [0,1]
}

// Workflow is a named, user-defined automation: a trigger plus an ordered
// flat list of steps (no branching). Never hard-deleted; disable instead.
type Workflow struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	Trigger           TriggerSpec `json:"trigger"`
	Steps             []Step      `json:"steps"`
	OverallConfidence float64     `json:"overall_confidence"` // mean of step confidences
	RunCount          int         `json:"run_count"`
	SuccessCount      int         `json:"success_count"`
	Enabled           bool        `json:"enabled"`
	CreatedAt         time.Time   `json:"created_at"`
}

// =============================================================================
// WORKFLOW RUNS
// =============================================================================

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial" // autonomous run with at least one failed step
)

// RunEventKind labels an entry in a run's step log.
type RunEventKind string

const (
	EventStepStart RunEventKind = "step_start"
	EventCompleted RunEventKind = "completed"
	EventFailed    RunEventKind = "failed"
	EventSkipped   RunEventKind = "skipped"
)

// RunEvent is one step-level entry in a run log.
type RunEvent struct {
	Kind      RunEventKind `json:"kind"`
	StepOrder int          `json:"step_order"`
	Tool      string       `json:"tool,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	At        time.Time    `json:"at"`
}

// WorkflowRun is one execution instance of a workflow. Immutable once
// CompletedAt is set; retained indefinitely for statistics and audit.
type WorkflowRun struct {
	ID          string                 `json:"id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      RunStatus              `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	State       map[string]interface{} `json:"state"` // output_key -> value
	Log         []RunEvent             `json:"log"`
}

// =============================================================================
// CORRECTIONS
// =============================================================================

// CorrectionType distinguishes parameter edits from output filtering.
type CorrectionType string

const (
	CorrectionParamEdit    CorrectionType = "param_edit"
	CorrectionOutputFilter CorrectionType = "output_filter"
)

// Correction records that the user overrode a step's proposed parameters or
// filtered its output. Append-only.
type Correction struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	StepOrder  int            `json:"step_order"`
	Type       CorrectionType `json:"type"`
	Original   string         `json:"original"`
	Corrected  string         `json:"corrected"`
	CreatedAt  time.Time      `json:"created_at"`
}

// =============================================================================
// TRIGGER HISTORY
// =============================================================================

// TriggerEvent is one firing of a workflow's trigger. Append-only; used to
// enforce at-most-once-per-period firing for schedule triggers.
type TriggerEvent struct {
	ID          string      `json:"id"`
	WorkflowID  string      `json:"workflow_id"`
	TriggerType TriggerType `json:"trigger_type"`
	Data        string      `json:"data,omitempty"` // matched file path, matched sender, ...
	FiredAt     time.Time   `json:"fired_at"`
}

// =============================================================================
// DAEMON ACTIONS
// =============================================================================

// ActionStatus is the lifecycle state of a daemon-managed autonomous action.
// Transitions are strictly forward except user-initiated cancellation, which
// is only legal from pending or notified.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionNotified  ActionStatus = "notified"
	ActionExecuting ActionStatus = "executing"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
	ActionCancelled ActionStatus = "cancelled"
)

// CanTransition reports whether moving from s to next is a legal lifecycle
// step.
func (s ActionStatus) CanTransition(next ActionStatus) bool {
	switch s {
	case ActionPending:
		return next == ActionNotified || next == ActionCancelled
	case ActionNotified:
		return next == ActionExecuting || next == ActionCancelled
	case ActionExecuting:
		return next == ActionCompleted || next == ActionFailed
	default:
		return false
	}
}

// Terminal reports whether the status is an end state.
func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionFailed || s == ActionCancelled
}

// Action is a daemon-managed autonomous task distinct from a workflow,
// subject to a cancellable countdown before execution.
type Action struct {
	ID          string                 `json:"id"`
	Intent      string                 `json:"intent"`
	Description string                 `json:"description"`
	SourceID    string                 `json:"source_id"` // triggering external item
	Data        map[string]interface{} `json:"data,omitempty"`
	Prompt      string                 `json:"prompt"`
	Status      ActionStatus           `json:"status"`
	Confidence  float64                `json:"confidence"`
	NotBefore   *time.Time             `json:"not_before,omitempty"` // countdown expiry, set once notified
	Result      string                 `json:"result,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// =============================================================================
// WATCHED ITEMS
// =============================================================================

// WatchSource identifies where a de-duplicated external item came from.
type WatchSource string

const (
	SourceInbox WatchSource = "inbox"
	SourceFile  WatchSource = "file"
)

// WatchedItem is a de-duplication marker: existence of a row means the item
// must never be processed again. Never overwritten or removed by the core.
type WatchedItem struct {
	Source    WatchSource `json:"source"`
	SourceID  string      `json:"source_id"`
	FirstSeen time.Time   `json:"first_seen"`
}

// =============================================================================
// EXTERNAL ITEMS AND CLASSIFICATION
// =============================================================================

// InboxItem is one raw item returned by the inbox collaborator.
type InboxItem struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
}

// IntentResult is one classification outcome for an inbox item.
type IntentResult struct {
	SourceID   string                 `json:"source_id"`
	Intent     string                 `json:"intent"`
	Confidence float64                `json:"confidence"`
	Data       map[string]interface{} `json:"data,omitempty"`
	ActionText string                 `json:"action_text"`
}

// StepResult is the outcome of a single step execution.
type StepResult struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Summary string      `json:"summary,omitempty"`
	Error   string      `json:"error,omitempty"`
}

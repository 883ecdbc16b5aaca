package types

import (
	"context"
	"time"
)

// StepExecutor runs one tool invocation with already-resolved parameters.
// The runtime treats tools as opaque; it only sequences them.
type StepExecutor interface {
	Execute(ctx context.Context, tool string, params map[string]interface{}) (*StepResult, error)
}

// Inbox is the external mailbox collaborator polled by the daemon.
type Inbox interface {
	PollNewItems(ctx context.Context) ([]InboxItem, error)
}

// IntentClassifier turns raw inbox items into actionable intents. Heuristic
// implementations are expected; the daemon only trusts results at or above
// its confidence threshold.
type IntentClassifier interface {
	Classify(ctx context.Context, items []InboxItem) ([]IntentResult, error)
}

// ActionExecutor carries out an autonomous action under a safety policy.
type ActionExecutor interface {
	RunAutonomous(ctx context.Context, prompt, safetyPolicy string) (success bool, result string, err error)
}

// Notifier delivers user-visible notices. Fire-and-forget: failures are
// non-fatal and must not block the caller.
type Notifier interface {
	Notify(title, body string)
}

// Clock abstracts wall-clock time so schedule matching and countdowns are
// testable.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Decision is a supervisor's verdict on a sub-threshold step.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionSkip    Decision = "skip"
	DecisionEdit    Decision = "edit"
	DecisionCancel  Decision = "cancel"
)

// StepReview is what a supervisor returns for a step awaiting approval.
// EditedParams is only consulted when Decision is DecisionEdit.
type StepReview struct {
	Decision     Decision
	EditedParams map[string]interface{}
}

// Supervisor is the human-in-the-loop collaborator for supervised runs.
// ReviewStep is called before executing any step below the autonomy
// threshold; ReviewFailure is called when a step fails in supervised mode.
type Supervisor interface {
	ReviewStep(ctx context.Context, wf *Workflow, step *Step, resolvedParams map[string]interface{}) (StepReview, error)
	ReviewFailure(ctx context.Context, wf *Workflow, step *Step, stepErr error) (Decision, error)
}

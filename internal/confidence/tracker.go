// Package confidence implements the per-step trust model: score arithmetic
// driven by approve/correct/skip events, the graduation gate for unattended
// execution, and pattern inference over repeated corrections.
package confidence

import (
	"fmt"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// Default transition deltas and graduation requirements.
const (
	DefaultApproveDelta      = 0.2
	DefaultCorrectDelta      = -0.3
	DefaultSkipDelta         = -0.5
	DefaultAutonomyThreshold = 0.8
	DefaultMinRuns           = 5
)

// Store is the slice of persistence the tracker needs.
type Store interface {
	UpdateStepConfidence(workflowID string, stepOrder int, confidence float64) error
	AddCorrection(c *types.Correction) error
	CorrectionsForStep(workflowID string, stepOrder int) ([]types.Correction, error)
	CountCorrectionsForStep(workflowID string, stepOrder int) (int, error)
}

// Tracker maintains trust scores for workflow steps.
type Tracker struct {
	store Store

	ApproveDelta      float64
	CorrectDelta      float64
	SkipDelta         float64
	AutonomyThreshold float64
	MinRuns           int
}

// NewTracker creates a tracker with default tuning.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:             store,
		ApproveDelta:      DefaultApproveDelta,
		CorrectDelta:      DefaultCorrectDelta,
		SkipDelta:         DefaultSkipDelta,
		AutonomyThreshold: DefaultAutonomyThreshold,
		MinRuns:           DefaultMinRuns,
	}
}

// clamp keeps a score in [0,1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RecordApproval rewards a step that ran unchanged.
func (t *Tracker) RecordApproval(workflowID string, step *types.Step) error {
	step.Confidence = clamp(step.Confidence + t.ApproveDelta)
	logging.Confidence("Approval: workflow=%s step=%d confidence=%.2f", workflowID, step.Order, step.Confidence)
	return t.store.UpdateStepConfidence(workflowID, step.Order, step.Confidence)
}

// RecordCorrection penalizes a step whose parameters were edited or whose
// output was filtered, and persists the correction for later inference.
func (t *Tracker) RecordCorrection(workflowID string, step *types.Step, ctype types.CorrectionType, original, corrected string) error {
	step.Confidence = clamp(step.Confidence + t.CorrectDelta)
	logging.Confidence("Correction (%s): workflow=%s step=%d confidence=%.2f", ctype, workflowID, step.Order, step.Confidence)

	if err := t.store.AddCorrection(&types.Correction{
		WorkflowID: workflowID,
		StepOrder:  step.Order,
		Type:       ctype,
		Original:   original,
		Corrected:  corrected,
	}); err != nil {
		return fmt.Errorf("failed to persist correction: %w", err)
	}
	return t.store.UpdateStepConfidence(workflowID, step.Order, step.Confidence)
}

// RecordSkip penalizes a step the user chose not to run at all.
func (t *Tracker) RecordSkip(workflowID string, step *types.Step) error {
	step.Confidence = clamp(step.Confidence + t.SkipDelta)
	logging.Confidence("Skip: workflow=%s step=%d confidence=%.2f", workflowID, step.Order, step.Confidence)
	return t.store.UpdateStepConfidence(workflowID, step.Order, step.Confidence)
}

// OverallConfidence returns the mean of a workflow's step confidences, the
// derived score stored on the workflow row after every run.
func OverallConfidence(wf *types.Workflow) float64 {
	if len(wf.Steps) == 0 {
		return 0
	}
	var sum float64
	for _, step := range wf.Steps {
		sum += step.Confidence
	}
	return sum / float64(len(wf.Steps))
}

// GraduationStatus is the explainable result of a graduation check.
type GraduationStatus struct {
	Graduated bool     `json:"graduated"`
	Reasons   []string `json:"reasons,omitempty"` // unmet requirements
}

// Graduation checks whether a step is ready for unattended autonomous
// execution: confidence at or above the threshold, enough workflow runs, and
// zero corrections ever recorded against the step.
func (t *Tracker) Graduation(wf *types.Workflow, step *types.Step) (GraduationStatus, error) {
	count, err := t.store.CountCorrectionsForStep(wf.ID, step.Order)
	if err != nil {
		return GraduationStatus{}, fmt.Errorf("failed to count corrections: %w", err)
	}
	return t.graduation(wf, step, count), nil
}

// GraduationRecent is the narrower variant: the caller supplies the
// correction count to consider (e.g. corrections within a recent window)
// instead of the full history.
func (t *Tracker) GraduationRecent(wf *types.Workflow, step *types.Step, recentCorrections int) GraduationStatus {
	return t.graduation(wf, step, recentCorrections)
}

func (t *Tracker) graduation(wf *types.Workflow, step *types.Step, corrections int) GraduationStatus {
	var reasons []string
	if step.Confidence < t.AutonomyThreshold {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below threshold %.2f", step.Confidence, t.AutonomyThreshold))
	}
	if wf.RunCount < t.MinRuns {
		reasons = append(reasons, fmt.Sprintf("workflow has run %d times, needs %d", wf.RunCount, t.MinRuns))
	}
	if corrections > 0 {
		reasons = append(reasons, fmt.Sprintf("%d corrections recorded against step", corrections))
	}
	return GraduationStatus{Graduated: len(reasons) == 0, Reasons: reasons}
}

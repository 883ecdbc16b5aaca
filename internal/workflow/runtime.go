// Package workflow drives a single workflow run through its ordered steps:
// parameter resolution, mode-dependent gating, context threading, and
// confidence reporting. Step execution itself is delegated to an opaque
// executor keyed by tool identifier.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"flowpilot/internal/confidence"
	"flowpilot/internal/logging"
	"flowpilot/internal/recovery"
	"flowpilot/internal/types"

	"github.com/google/uuid"
)

// Mode selects how much supervision a run gets.
type Mode string

const (
	// ModeSupervised yields to a Supervisor before any sub-threshold step.
	ModeSupervised Mode = "supervised"

	// ModeAutonomous executes every step without interaction; failures are
	// logged and the run continues best-effort.
	ModeAutonomous Mode = "autonomous"
)

// ErrRunCancelled is returned when a supervisor cancels a supervised run.
var ErrRunCancelled = errors.New("workflow: run cancelled by supervisor")

// Store is the slice of persistence the runtime needs.
type Store interface {
	CreateRun(run *types.WorkflowRun) error
	UpdateRun(run *types.WorkflowRun) error
	UpdateWorkflowStats(id string, overallConfidence float64, succeeded bool) error
}

// Runner executes workflows.
type Runner struct {
	store    Store
	tracker  *confidence.Tracker
	executor types.StepExecutor
	clock    types.Clock

	// AutonomyThreshold gates supervised review: steps at or above it run
	// without asking.
	AutonomyThreshold float64
}

// NewRunner creates a workflow runner.
func NewRunner(store Store, tracker *confidence.Tracker, executor types.StepExecutor, clock types.Clock) *Runner {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Runner{
		store:             store,
		tracker:           tracker,
		executor:          executor,
		clock:             clock,
		AutonomyThreshold: confidence.DefaultAutonomyThreshold,
	}
}

// Run executes a workflow to completion. In supervised mode sup must be
// non-nil; in autonomous mode it is ignored. The returned run is persisted
// with its final status; the error is non-nil only for cancellation or
// infrastructure failures, never for individual step failures.
func (r *Runner) Run(ctx context.Context, wf *types.Workflow, mode Mode, sup types.Supervisor) (*types.WorkflowRun, error) {
	timer := logging.StartTimer(logging.CategoryWorkflow, "Run "+wf.Name)
	defer timer.Stop()

	if mode == ModeSupervised && sup == nil {
		return nil, fmt.Errorf("supervised run of %s requires a supervisor", wf.Name)
	}

	run := &types.WorkflowRun{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     types.RunRunning,
		StartedAt:  r.clock.Now().UTC(),
		State:      map[string]interface{}{},
	}
	if err := r.store.CreateRun(run); err != nil {
		return nil, fmt.Errorf("failed to persist run: %w", err)
	}

	logging.Workflow("Run started: workflow=%s run=%s mode=%s steps=%d", wf.Name, run.ID, mode, len(wf.Steps))

	failed := 0
	cancelled := false

	for i := range wf.Steps {
		step := &wf.Steps[i]
		outcome, err := r.runStep(ctx, wf, run, step, mode, sup)
		if err != nil {
			if errors.Is(err, ErrRunCancelled) {
				cancelled = true
				break
			}
			return nil, err
		}
		if outcome == stepFailed {
			failed++
		}
		// Persist state threading so a crash mid-run keeps partial progress.
		if err := r.store.UpdateRun(run); err != nil {
			logging.Get(logging.CategoryWorkflow).Warn("Failed to checkpoint run %s: %v", run.ID, err)
		}
	}

	switch {
	case cancelled:
		run.Status = types.RunFailed
	case failed == 0:
		run.Status = types.RunCompleted
	default:
		run.Status = types.RunPartial
	}
	done := r.clock.Now().UTC()
	run.CompletedAt = &done

	if err := r.store.UpdateRun(run); err != nil {
		return nil, fmt.Errorf("failed to finalize run: %w", err)
	}
	if err := r.store.UpdateWorkflowStats(wf.ID, confidence.OverallConfidence(wf), run.Status == types.RunCompleted); err != nil {
		logging.Get(logging.CategoryWorkflow).Warn("Failed to update workflow stats for %s: %v", wf.ID, err)
	}

	logging.Workflow("Run finished: workflow=%s run=%s status=%s failed_steps=%d", wf.Name, run.ID, run.Status, failed)

	if cancelled {
		return run, ErrRunCancelled
	}
	return run, nil
}

// stepOutcome summarizes one step for the run's final status.
type stepOutcome int

const (
	stepSucceeded stepOutcome = iota
	stepFailed
	stepSkipped
)

func (r *Runner) runStep(ctx context.Context, wf *types.Workflow, run *types.WorkflowRun, step *types.Step, mode Mode, sup types.Supervisor) (stepOutcome, error) {
	params := ResolveParams(step.Params, run.State)
	r.logEvent(run, types.EventStepStart, step, "")

	edited := false
	if mode == ModeSupervised && step.Confidence < r.AutonomyThreshold {
		review, err := sup.ReviewStep(ctx, wf, step, params)
		if err != nil {
			return stepFailed, fmt.Errorf("supervisor failed on step %d: %w", step.Order, err)
		}
		switch review.Decision {
		case types.DecisionCancel:
			r.logEvent(run, types.EventFailed, step, "cancelled by supervisor")
			return stepFailed, ErrRunCancelled
		case types.DecisionSkip:
			r.logEvent(run, types.EventSkipped, step, "skipped by supervisor")
			if err := r.tracker.RecordSkip(wf.ID, step); err != nil {
				logging.Get(logging.CategoryConfidence).Warn("Failed to record skip: %v", err)
			}
			return stepSkipped, nil
		case types.DecisionEdit:
			edited = true
			original := marshalParams(params)
			params = review.EditedParams
			if err := r.tracker.RecordCorrection(wf.ID, step, types.CorrectionParamEdit, original, marshalParams(params)); err != nil {
				logging.Get(logging.CategoryConfidence).Warn("Failed to record correction: %v", err)
			}
		case types.DecisionApprove:
			// Executes as-is; reward after success below.
		default:
			return stepFailed, fmt.Errorf("unknown supervisor decision %q", review.Decision)
		}
	}

	result, execErr := r.execute(ctx, step, params)
	if execErr != nil || (result != nil && !result.Success) {
		detail := errorDetail(result, execErr)
		r.logEvent(run, types.EventFailed, step, detail)
		logging.Get(logging.CategoryWorkflow).Warn("Step failed: workflow=%s step=%d tool=%s: %s", wf.Name, step.Order, step.Tool, detail)

		if mode == ModeSupervised {
			decision, err := sup.ReviewFailure(ctx, wf, step, errors.New(detail))
			if err != nil {
				return stepFailed, fmt.Errorf("supervisor failed reviewing failure on step %d: %w", step.Order, err)
			}
			switch decision {
			case types.DecisionApprove: // retry once
				result, execErr = r.execute(ctx, step, params)
				if execErr == nil && result != nil && result.Success {
					break
				}
				r.logEvent(run, types.EventFailed, step, errorDetail(result, execErr))
				return stepFailed, nil
			case types.DecisionSkip:
				return stepFailed, nil
			case types.DecisionCancel:
				return stepFailed, ErrRunCancelled
			default:
				return stepFailed, nil
			}
		} else {
			// Autonomous: best-effort, continue with the next step.
			return stepFailed, nil
		}
	}

	if step.OutputKey != "" && result != nil {
		run.State[step.OutputKey] = result.Output
	}
	r.logEvent(run, types.EventCompleted, step, summaryOf(result))

	// Only supervised execution earns trust: an explicit approval, or a run
	// of an already-trusted step. An edited step already took its penalty.
	if mode == ModeSupervised && !edited {
		if err := r.tracker.RecordApproval(wf.ID, step); err != nil {
			logging.Get(logging.CategoryConfidence).Warn("Failed to record approval: %v", err)
		}
	}
	return stepSucceeded, nil
}

// execute invokes the step executor with the tool family's retry policy.
func (r *Runner) execute(ctx context.Context, step *types.Step, params map[string]interface{}) (*types.StepResult, error) {
	var result *types.StepResult
	policy := recovery.PolicyForTool(step.Tool)
	err := recovery.WithRetry(ctx, step.Tool, policy, func(ctx context.Context) error {
		var execErr error
		result, execErr = r.executor.Execute(ctx, step.Tool, params)
		return execErr
	})
	return result, err
}

func (r *Runner) logEvent(run *types.WorkflowRun, kind types.RunEventKind, step *types.Step, detail string) {
	run.Log = append(run.Log, types.RunEvent{
		Kind:      kind,
		StepOrder: step.Order,
		Tool:      step.Tool,
		Detail:    detail,
		At:        r.clock.Now().UTC(),
	})
}

func errorDetail(result *types.StepResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Error != "" {
		return result.Error
	}
	return "step reported failure"
}

func summaryOf(result *types.StepResult) string {
	if result == nil {
		return ""
	}
	return result.Summary
}

func marshalParams(params map[string]interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%v", params)
	}
	return string(data)
}

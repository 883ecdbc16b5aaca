package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// SaveWorkflow inserts or replaces a workflow and its steps.
func (s *LocalStore) SaveWorkflow(wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Saving workflow: id=%s name=%s steps=%d", wf.ID, wf.Name, len(wf.Steps))

	triggerJSON, err := json.Marshal(wf.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := wf.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = tx.Exec(
		`INSERT INTO workflows (id, name, description, trigger_json, overall_confidence, run_count, success_count, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name=excluded.name,
			description=excluded.description,
			trigger_json=excluded.trigger_json,
			overall_confidence=excluded.overall_confidence,
			run_count=excluded.run_count,
			success_count=excluded.success_count,
			enabled=excluded.enabled`,
		wf.ID, wf.Name, wf.Description, string(triggerJSON),
		wf.OverallConfidence, wf.RunCount, wf.SuccessCount, boolToInt(wf.Enabled), createdAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save workflow %s: %v", wf.Name, err)
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM steps WHERE workflow_id = ?", wf.ID); err != nil {
		return fmt.Errorf("failed to clear steps: %w", err)
	}
	for _, step := range wf.Steps {
		paramsJSON, err := json.Marshal(step.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal params for step %d: %w", step.Order, err)
		}
		_, err = tx.Exec(
			`INSERT INTO steps (workflow_id, step_order, tool, params_json, output_key, description, confidence)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			wf.ID, step.Order, step.Tool, string(paramsJSON), step.OutputKey, step.Description, step.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %d: %w", step.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow: %w", err)
	}

	logging.Store("Workflow saved: %s (%s)", wf.Name, wf.ID)
	return nil
}

// GetWorkflow loads a workflow and its steps by id.
func (s *LocalStore) GetWorkflow(id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWorkflowWhere("id = ?", id)
}

// GetWorkflowByName loads a workflow and its steps by unique name.
func (s *LocalStore) GetWorkflowByName(name string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWorkflowWhere("name = ?", name)
}

func (s *LocalStore) getWorkflowWhere(cond string, arg interface{}) (*types.Workflow, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, trigger_json, overall_confidence, run_count, success_count, enabled, created_at
		 FROM workflows WHERE `+cond, arg,
	)

	wf, err := scanWorkflow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	steps, err := s.loadSteps(wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

// ListWorkflows returns all workflows with their steps. When enabledOnly is
// set, disabled workflows are omitted.
func (s *LocalStore) ListWorkflows(enabledOnly bool) ([]*types.Workflow, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListWorkflows")
	defer timer.StopWithThreshold(100 * time.Millisecond)

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, description, trigger_json, overall_confidence, run_count, success_count, enabled, created_at
	          FROM workflows`
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.Query(query)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to list workflows: %v", err)
		return nil, err
	}
	defer rows.Close()

	var workflows []*types.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable workflow row: %v", err)
			continue
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		steps, err := s.loadSteps(wf.ID)
		if err != nil {
			return nil, err
		}
		wf.Steps = steps
	}

	logging.StoreDebug("Listed %d workflows (enabledOnly=%v)", len(workflows), enabledOnly)
	return workflows, nil
}

// SetWorkflowEnabled flips the enabled flag. Workflows are never hard-deleted.
func (s *LocalStore) SetWorkflowEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE workflows SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update enabled flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.Store("Workflow %s enabled=%v", id, enabled)
	return nil
}

// UpdateWorkflowStats records a completed run: increments run_count, bumps
// success_count when the run fully succeeded, and stores the recomputed
// overall confidence (mean of step confidences).
func (s *LocalStore) UpdateWorkflowStats(id string, overallConfidence float64, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successDelta := 0
	if succeeded {
		successDelta = 1
	}
	res, err := s.db.Exec(
		`UPDATE workflows
		 SET run_count = run_count + 1,
		     success_count = success_count + ?,
		     overall_confidence = ?
		 WHERE id = ?`,
		successDelta, overallConfidence, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow stats: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStepConfidence stores a step's new trust score.
func (s *LocalStore) UpdateStepConfidence(workflowID string, stepOrder int, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE steps SET confidence = ? WHERE workflow_id = ? AND step_order = ?",
		confidence, workflowID, stepOrder,
	)
	if err != nil {
		return fmt.Errorf("failed to update step confidence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	logging.StoreDebug("Step confidence updated: workflow=%s step=%d confidence=%.2f", workflowID, stepOrder, confidence)
	return nil
}

// loadSteps returns a workflow's steps ordered by step_order. Caller holds
// the lock.
func (s *LocalStore) loadSteps(workflowID string) ([]types.Step, error) {
	rows, err := s.db.Query(
		`SELECT step_order, tool, params_json, output_key, description, confidence
		 FROM steps WHERE workflow_id = ? ORDER BY step_order`,
		workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []types.Step
	for rows.Next() {
		var step types.Step
		var paramsJSON string
		if err := rows.Scan(&step.Order, &step.Tool, &paramsJSON, &step.OutputKey, &step.Description, &step.Confidence); err != nil {
			return nil, err
		}
		if paramsJSON != "" {
			if err := json.Unmarshal([]byte(paramsJSON), &step.Params); err != nil {
				logging.Get(logging.CategoryStore).Warn("Unreadable params for workflow=%s step=%d: %v", workflowID, step.Order, err)
				step.Params = map[string]interface{}{}
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWorkflow(sc scanner) (*types.Workflow, error) {
	var wf types.Workflow
	var triggerJSON string
	var enabled int
	if err := sc.Scan(&wf.ID, &wf.Name, &wf.Description, &triggerJSON,
		&wf.OverallConfidence, &wf.RunCount, &wf.SuccessCount, &enabled, &wf.CreatedAt); err != nil {
		return nil, err
	}
	wf.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(triggerJSON), &wf.Trigger); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger for %s: %w", wf.ID, err)
	}
	return &wf, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// CreateRun persists a freshly started workflow run.
func (s *LocalStore) CreateRun(run *types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateJSON, logJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO workflow_runs (id, workflow_id, status, started_at, completed_at, state_json, log_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, string(run.Status), run.StartedAt, run.CompletedAt, stateJSON, logJSON,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create run %s: %v", run.ID, err)
		return fmt.Errorf("failed to create run: %w", err)
	}

	logging.StoreDebug("Run created: id=%s workflow=%s", run.ID, run.WorkflowID)
	return nil
}

// UpdateRun stores the current status, state snapshot and log of a run. Used
// both mid-run (state threading) and at completion (completed_at set).
func (s *LocalStore) UpdateRun(run *types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateJSON, logJSON, err := marshalRunBlobs(run)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		`UPDATE workflow_runs SET status = ?, completed_at = ?, state_json = ?, log_json = ? WHERE id = ?`,
		string(run.Status), run.CompletedAt, stateJSON, logJSON, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun loads a run by id.
func (s *LocalStore) GetRun(id string) (*types.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, workflow_id, status, started_at, completed_at, state_json, log_json
		 FROM workflow_runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs for a workflow, newest first.
func (s *LocalStore) ListRuns(workflowID string, limit int) ([]*types.WorkflowRun, error) {
	timer := logging.StartTimer(logging.CategoryStore, "ListRuns")
	defer timer.StopWithThreshold(100 * time.Millisecond)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, workflow_id, status, started_at, completed_at, state_json, log_json
		 FROM workflow_runs WHERE workflow_id = ?
		 ORDER BY started_at DESC LIMIT ?`,
		workflowID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*types.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable run row: %v", err)
			continue
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func marshalRunBlobs(run *types.WorkflowRun) (string, string, error) {
	state := run.State
	if state == nil {
		state = map[string]interface{}{}
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal run state: %w", err)
	}
	log := run.Log
	if log == nil {
		log = []types.RunEvent{}
	}
	logJSON, err := json.Marshal(log)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal run log: %w", err)
	}
	return string(stateJSON), string(logJSON), nil
}

func scanRun(sc scanner) (*types.WorkflowRun, error) {
	var run types.WorkflowRun
	var status, stateJSON, logJSON string
	if err := sc.Scan(&run.ID, &run.WorkflowID, &status, &run.StartedAt, &run.CompletedAt, &stateJSON, &logJSON); err != nil {
		return nil, err
	}
	run.Status = types.RunStatus(status)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &run.State); err != nil {
			run.State = map[string]interface{}{}
		}
	}
	if logJSON != "" {
		if err := json.Unmarshal([]byte(logJSON), &run.Log); err != nil {
			run.Log = nil
		}
	}
	return &run, nil
}

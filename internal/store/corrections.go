package store

import (
	"fmt"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"

	"github.com/google/uuid"
)

// AddCorrection appends a user correction. Corrections are append-only.
func (s *LocalStore) AddCorrection(c *types.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO corrections (id, workflow_id, step_order, type, original, corrected, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkflowID, c.StepOrder, string(c.Type), c.Original, c.Corrected, c.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to add correction: %v", err)
		return fmt.Errorf("failed to add correction: %w", err)
	}

	logging.Store("Correction recorded: workflow=%s step=%d type=%s", c.WorkflowID, c.StepOrder, c.Type)
	return nil
}

// CorrectionsForStep returns all corrections recorded against a step, oldest
// first.
func (s *LocalStore) CorrectionsForStep(workflowID string, stepOrder int) ([]types.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, workflow_id, step_order, type, original, corrected, created_at
		 FROM corrections WHERE workflow_id = ? AND step_order = ?
		 ORDER BY created_at`,
		workflowID, stepOrder,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var corrections []types.Correction
	for rows.Next() {
		var c types.Correction
		var ctype string
		if err := rows.Scan(&c.ID, &c.WorkflowID, &c.StepOrder, &ctype, &c.Original, &c.Corrected, &c.CreatedAt); err != nil {
			continue
		}
		c.Type = types.CorrectionType(ctype)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

// CountCorrectionsForStep returns how many corrections a step has ever
// received.
func (s *LocalStore) CountCorrectionsForStep(workflowID string, stepOrder int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM corrections WHERE workflow_id = ? AND step_order = ?",
		workflowID, stepOrder,
	).Scan(&count)
	return count, err
}

// RecordTriggerEvent appends a trigger firing to the history.
func (s *LocalStore) RecordTriggerEvent(ev *types.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.FiredAt.IsZero() {
		ev.FiredAt = time.Now().UTC()
	}

	_, err := s.db.Exec(
		`INSERT INTO trigger_history (id, workflow_id, trigger_type, data, fired_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.WorkflowID, string(ev.TriggerType), ev.Data, ev.FiredAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to record trigger event: %v", err)
		return fmt.Errorf("failed to record trigger event: %w", err)
	}

	logging.TriggerDebug("Trigger firing recorded: workflow=%s type=%s data=%s", ev.WorkflowID, ev.TriggerType, ev.Data)
	return nil
}

// TriggerEventsSince returns a workflow's trigger firings at or after the
// given time, newest first.
func (s *LocalStore) TriggerEventsSince(workflowID string, since time.Time) ([]types.TriggerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, workflow_id, trigger_type, data, fired_at
		 FROM trigger_history WHERE workflow_id = ? AND fired_at >= ?
		 ORDER BY fired_at DESC`,
		workflowID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.TriggerEvent
	for rows.Next() {
		var ev types.TriggerEvent
		var ttype string
		if err := rows.Scan(&ev.ID, &ev.WorkflowID, &ttype, &ev.Data, &ev.FiredAt); err != nil {
			continue
		}
		ev.TriggerType = types.TriggerType(ttype)
		events = append(events, ev)
	}
	return events, rows.Err()
}

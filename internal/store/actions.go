package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// CreateAction persists a new pending action.
func (s *LocalStore) CreateAction(a *types.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Status == "" {
		a.Status = types.ActionPending
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	data := a.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal action data: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO actions (id, intent, description, source_id, data_json, prompt, status, confidence, not_before, result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Intent, a.Description, a.SourceID, string(dataJSON), a.Prompt,
		string(a.Status), a.Confidence, a.NotBefore, a.Result, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create action %s: %v", a.ID, err)
		return fmt.Errorf("failed to create action: %w", err)
	}

	logging.Actions("Action created: id=%s intent=%s confidence=%.2f", a.ID, a.Intent, a.Confidence)
	return nil
}

// GetAction loads an action by id.
func (s *LocalStore) GetAction(id string) (*types.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, intent, description, source_id, data_json, prompt, status, confidence, not_before, result, created_at, updated_at
		 FROM actions WHERE id = ?`, id,
	)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// ListActionsByStatus returns actions with the given status, oldest first so
// the queue is advanced in arrival order.
func (s *LocalStore) ListActionsByStatus(status types.ActionStatus) ([]*types.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, intent, description, source_id, data_json, prompt, status, confidence, not_before, result, created_at, updated_at
		 FROM actions WHERE status = ? ORDER BY created_at`,
		string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*types.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Skipping unreadable action row: %v", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// MarkActionNotified transitions pending -> notified and persists the
// countdown expiry. The transition commits before any notification is sent.
func (s *LocalStore) MarkActionNotified(id string, notBefore time.Time) error {
	return s.transition(id, types.ActionPending, types.ActionNotified, func(set *actionUpdate) {
		set.notBefore = &notBefore
	})
}

// MarkActionExecuting transitions notified -> executing.
func (s *LocalStore) MarkActionExecuting(id string) error {
	return s.transition(id, types.ActionNotified, types.ActionExecuting, nil)
}

// FinishAction transitions executing -> completed or failed, storing the
// collaborator's result text.
func (s *LocalStore) FinishAction(id string, status types.ActionStatus, result string) error {
	if status != types.ActionCompleted && status != types.ActionFailed {
		return fmt.Errorf("%w: finish requires completed or failed, got %s", ErrInvalidTransition, status)
	}
	return s.transition(id, types.ActionExecuting, status, func(set *actionUpdate) {
		set.result = &result
	})
}

// CancelAction transitions pending or notified -> cancelled. Cancellation has
// no effect once executing; ErrInvalidTransition is returned in that case.
func (s *LocalStore) CancelAction(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE actions SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(types.ActionCancelled), time.Now().UTC(),
		id, string(types.ActionPending), string(types.ActionNotified),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		cur, err := s.currentStatus(id)
		if err != nil {
			return err
		}
		if cur.Terminal() {
			return fmt.Errorf("%w: action %s already %s", ErrInvalidTransition, id, cur)
		}
		return fmt.Errorf("%w: action %s is %s", ErrInvalidTransition, id, cur)
	}

	logging.Actions("Action cancelled: id=%s", id)
	return nil
}

// ActionCounts returns the number of actions per status.
func (s *LocalStore) ActionCounts() (map[types.ActionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM actions GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[types.ActionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		counts[types.ActionStatus(status)] = count
	}
	return counts, rows.Err()
}

// actionUpdate carries the optional columns of a transition.
type actionUpdate struct {
	notBefore *time.Time
	result    *string
}

// transition performs a guarded status update: the row must currently be in
// the expected `from` status or the update affects zero rows and the caller
// gets ErrInvalidTransition. This serializes lifecycle changes per row.
func (s *LocalStore) transition(id string, from, to types.ActionStatus, mutate func(*actionUpdate)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var upd actionUpdate
	if mutate != nil {
		mutate(&upd)
	}

	query := "UPDATE actions SET status = ?, updated_at = ?"
	args := []interface{}{string(to), time.Now().UTC()}
	if upd.notBefore != nil {
		query += ", not_before = ?"
		args = append(args, *upd.notBefore)
	}
	if upd.result != nil {
		query += ", result = ?"
		args = append(args, *upd.result)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, id, string(from))

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		cur, err := s.currentStatus(id)
		if err != nil {
			return err
		}
		if !cur.CanTransition(to) {
			return fmt.Errorf("%w: action %s is %s, cannot move to %s", ErrInvalidTransition, id, cur, to)
		}
		// Status changed between the update and the read; the caller lost a
		// race with a concurrent transition.
		return fmt.Errorf("%w: action %s left %s concurrently", ErrInvalidTransition, id, from)
	}

	logging.Actions("Action transition: id=%s %s -> %s", id, from, to)
	return nil
}

// currentStatus reads an action's status for transition error reporting.
// Caller holds the lock.
func (s *LocalStore) currentStatus(id string) (types.ActionStatus, error) {
	var status string
	err := s.db.QueryRow("SELECT status FROM actions WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read action status: %w", err)
	}
	return types.ActionStatus(status), nil
}

func scanAction(sc scanner) (*types.Action, error) {
	var a types.Action
	var status, dataJSON string
	if err := sc.Scan(&a.ID, &a.Intent, &a.Description, &a.SourceID, &dataJSON, &a.Prompt,
		&status, &a.Confidence, &a.NotBefore, &a.Result, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = types.ActionStatus(status)
	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &a.Data); err != nil {
			a.Data = map[string]interface{}{}
		}
	}
	return &a, nil
}

package store

import (
	"fmt"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/types"
)

// MarkSeen records an external item as seen and reports whether this call
// created the marker. INSERT OR IGNORE keeps re-marking idempotent; markers
// are never overwritten or removed.
func (s *LocalStore) MarkSeen(source types.WatchSource, sourceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO watched_items (source, source_id, first_seen) VALUES (?, ?, ?)`,
		string(source), sourceID, time.Now().UTC(),
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to mark seen: source=%s id=%s: %v", source, sourceID, err)
		return false, fmt.Errorf("failed to mark seen: %w", err)
	}

	n, _ := res.RowsAffected()
	isNew := n > 0
	if isNew {
		logging.StoreDebug("New watched item: source=%s id=%s", source, sourceID)
	}
	return isNew, nil
}

// IsSeen reports whether an external item has ever been recorded.
func (s *LocalStore) IsSeen(source types.WatchSource, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM watched_items WHERE source = ? AND source_id = ?",
		string(source), sourceID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// WatchedCount returns the number of markers per source, for status output.
func (s *LocalStore) WatchedCount(source types.WatchSource) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM watched_items WHERE source = ?", string(source),
	).Scan(&count)
	return count, err
}

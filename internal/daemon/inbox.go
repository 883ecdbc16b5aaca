package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"flowpilot/internal/logging"
	"flowpilot/internal/trigger"
	"flowpilot/internal/types"
)

// DirInbox is a drop-directory Inbox: every .json file in the directory is
// one InboxItem. External tooling (a mail fetcher, a script) writes files in;
// the daemon's WatchedItems dedupe guarantees each is processed once, so the
// files can stay in place.
type DirInbox struct {
	Dir string
}

// PollNewItems reads every parseable item in the directory. Unreadable or
// malformed files are logged and skipped, never fatal.
func (in DirInbox) PollNewItems(ctx context.Context) ([]types.InboxItem, error) {
	dir := filepath.Clean(trigger.ExpandHome(in.Dir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var items []types.InboxItem
	for _, entry := range entries {
		if ctx.Err() != nil {
			return items, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logging.DaemonDebug("Cannot read inbox file %s: %v", path, err)
			continue
		}
		var item types.InboxItem
		if err := json.Unmarshal(data, &item); err != nil {
			logging.DaemonDebug("Malformed inbox file %s: %v", path, err)
			continue
		}
		if item.ID == "" {
			item.ID = entry.Name()
		}
		items = append(items, item)
	}
	return items, nil
}

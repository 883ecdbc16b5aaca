package daemon

import (
	"path/filepath"
	"sync"
	"time"

	"flowpilot/internal/logging"
	"flowpilot/internal/trigger"

	"github.com/fsnotify/fsnotify"
)

// Watcher feeds filesystem create/write events into the daemon's file
// pipeline. Events are debounced per path so editors that write in bursts
// produce one candidate, and delivery is non-blocking: the per-cycle
// directory scan picks up anything dropped under load.
type Watcher struct {
	fsw      *fsnotify.Watcher
	events   chan string
	interval time.Duration

	mu       sync.Mutex
	debounce map[string]time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

const (
	watcherBuffer    = 64
	debounceInterval = 2 * time.Second
)

// NewWatcher watches the given directories (non-recursive). Directories that
// cannot be watched are logged and skipped; a watcher with zero directories
// is still valid and simply idle.
func NewWatcher(dirs []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		dir = filepath.Clean(trigger.ExpandHome(dir))
		if err := fsw.Add(dir); err != nil {
			logging.Get(logging.CategoryDaemon).Warn("Cannot watch %s: %v", dir, err)
			continue
		}
		logging.DaemonDebug("Watching %s", dir)
	}

	w := &Watcher{
		fsw:      fsw,
		events:   make(chan string, watcherBuffer),
		interval: debounceInterval,
		debounce: map[string]time.Time{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Events is the candidate path feed, to be wired into Deps.FileFeed.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Stop shuts the watcher down and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		if err := w.fsw.Close(); err != nil {
			logging.DaemonDebug("Watcher close: %v", err)
		}
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.shouldEmit(ev.Name) {
				continue
			}
			select {
			case w.events <- ev.Name:
			default:
				logging.DaemonDebug("Watcher feed full, dropping %s", ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryDaemon).Warn("Watcher error: %v", err)
		}
	}
}

// shouldEmit debounces repeated events for the same path.
func (w *Watcher) shouldEmit(path string) bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	if last, ok := w.debounce[path]; ok && now.Sub(last) < w.interval {
		return false
	}
	w.debounce[path] = now

	// Keep the map from growing without bound on busy directories.
	if len(w.debounce) > 1024 {
		for p, t := range w.debounce {
			if now.Sub(t) > w.interval {
				delete(w.debounce, p)
			}
		}
	}
	return true
}

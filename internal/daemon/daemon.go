// Package daemon runs the background loop: poll external sources, classify
// intents, manage the cancellable action queue, evaluate triggers, and launch
// autonomous workflow runs. One cycle per poll interval; shutdown is observed
// only at cycle boundaries so a cycle always finishes what it started.
package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"flowpilot/internal/config"
	"flowpilot/internal/logging"
	"flowpilot/internal/trigger"
	"flowpilot/internal/types"
	"flowpilot/internal/workflow"

	"github.com/google/uuid"
)

// Store is the slice of persistence the daemon needs.
type Store interface {
	CreateAction(a *types.Action) error
	ListActionsByStatus(status types.ActionStatus) ([]*types.Action, error)
	MarkActionNotified(id string, notBefore time.Time) error
	MarkActionExecuting(id string) error
	FinishAction(id string, status types.ActionStatus, result string) error
	ActionCounts() (map[types.ActionStatus]int, error)
	MarkSeen(source types.WatchSource, sourceID string) (bool, error)
	ListWorkflows(enabledOnly bool) ([]*types.Workflow, error)
}

// WorkflowRunner launches workflow runs. Satisfied by *workflow.Runner.
type WorkflowRunner interface {
	Run(ctx context.Context, wf *types.Workflow, mode workflow.Mode, sup types.Supervisor) (*types.WorkflowRun, error)
}

// Deps bundles the daemon's collaborators. Store, Triggers and Runner are
// required; the rest default to no-op or system implementations.
type Deps struct {
	Store      Store
	Triggers   *trigger.Manager
	Runner     WorkflowRunner
	Inbox      types.Inbox
	Classifier types.IntentClassifier
	Executor   types.ActionExecutor
	Notifier   types.Notifier
	Clock      types.Clock

	// FileFeed delivers absolute paths from a live filesystem watcher. May be
	// nil; the per-cycle directory scan still runs.
	FileFeed <-chan string
}

// Daemon is the background agent loop. All state lives in explicit fields.
type Daemon struct {
	store      Store
	triggers   *trigger.Manager
	runner     WorkflowRunner
	inbox      types.Inbox
	classifier types.IntentClassifier
	executor   types.ActionExecutor
	notifier   types.Notifier
	clock      types.Clock
	fileFeed   <-chan string

	pollInterval    time.Duration
	countdown       time.Duration
	intentThreshold float64
	watchDirs       []string

	cycles    int
	lastCycle time.Time
}

// New creates a daemon from configuration and collaborators.
func New(cfg *config.Config, deps Deps) *Daemon {
	clock := deps.Clock
	if clock == nil {
		clock = types.SystemClock{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Daemon{
		store:      deps.Store,
		triggers:   deps.Triggers,
		runner:     deps.Runner,
		inbox:      deps.Inbox,
		classifier: deps.Classifier,
		executor:   deps.Executor,
		notifier:   notifier,
		clock:      clock,
		fileFeed:   deps.FileFeed,

		pollInterval:    cfg.GetPollInterval(),
		countdown:       cfg.GetActionCountdown(),
		intentThreshold: cfg.Daemon.IntentThreshold,
		watchDirs:       cfg.Daemon.WatchDirs,
	}
}

// Run executes cycles until the context is cancelled. Cancellation is checked
// between cycles, never inside one.
func (d *Daemon) Run(ctx context.Context) error {
	logging.Daemon("Daemon started: poll=%s countdown=%s intent_threshold=%.2f",
		d.pollInterval, d.countdown, d.intentThreshold)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.Cycle(ctx)
		select {
		case <-ctx.Done():
			logging.Daemon("Daemon stopping after %d cycles", d.cycles)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycle runs one full pass. Panics and phase errors are contained here; a bad
// cycle never takes the loop down.
func (d *Daemon) Cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.DaemonError("Cycle panicked, continuing: %v", r)
		}
	}()

	now := d.clock.Now()
	d.pollInbox(ctx, now)
	d.advancePending(now)
	d.executeDue(ctx, now)
	d.evaluateSchedules(ctx, now)
	d.evaluateFiles(ctx, now)

	d.cycles++
	d.lastCycle = now
	logging.DaemonDebug("Cycle %d complete", d.cycles)
}

// pollInbox fetches new inbox items, marks each seen before any further
// processing, then feeds the unseen batch to message triggers and the intent
// classifier.
func (d *Daemon) pollInbox(ctx context.Context, now time.Time) {
	if d.inbox == nil {
		return
	}
	items, err := d.inbox.PollNewItems(ctx)
	if err != nil {
		logging.Get(logging.CategoryDaemon).Warn("Inbox poll failed: %v", err)
		return
	}

	var unseen []types.InboxItem
	for _, item := range items {
		isNew, err := d.store.MarkSeen(types.SourceInbox, item.ID)
		if err != nil {
			logging.Get(logging.CategoryDaemon).Warn("Failed to mark inbox item %s: %v", item.ID, err)
			continue
		}
		if isNew {
			unseen = append(unseen, item)
		}
	}
	if len(unseen) == 0 {
		return
	}
	logging.Daemon("Inbox: %d new item(s)", len(unseen))

	for _, item := range unseen {
		d.runMessageTriggers(ctx, item)
	}
	d.classifyIntents(ctx, unseen)
}

// runMessageTriggers launches message-triggered workflows for one item.
func (d *Daemon) runMessageTriggers(ctx context.Context, item types.InboxItem) {
	matched, err := d.triggers.MessageTriggeredWorkflows(item)
	if err != nil {
		logging.Get(logging.CategoryTrigger).Warn("Message trigger evaluation failed: %v", err)
		return
	}
	for _, wf := range matched {
		d.fireWorkflow(ctx, wf, types.TriggerMessage, item.From)
	}
}

// classifyIntents turns unseen items into pending actions when the classifier
// is confident enough.
func (d *Daemon) classifyIntents(ctx context.Context, items []types.InboxItem) {
	if d.classifier == nil {
		return
	}
	results, err := d.classifier.Classify(ctx, items)
	if err != nil {
		logging.Get(logging.CategoryDaemon).Warn("Intent classification failed: %v", err)
		return
	}

	for _, res := range results {
		if res.Confidence < d.intentThreshold {
			logging.DaemonDebug("Intent %s for %s below threshold (%.2f), dropping",
				res.Intent, res.SourceID, res.Confidence)
			continue
		}
		action := &types.Action{
			ID:          uuid.NewString(),
			Intent:      res.Intent,
			Description: res.ActionText,
			SourceID:    res.SourceID,
			Data:        res.Data,
			Prompt:      res.ActionText,
			Status:      types.ActionPending,
			Confidence:  res.Confidence,
		}
		if err := d.store.CreateAction(action); err != nil {
			logging.Get(logging.CategoryActions).Error("Failed to enqueue action for %s: %v", res.SourceID, err)
			continue
		}
		logging.Actions("Enqueued action %s: intent=%s confidence=%.2f", action.ID, action.Intent, action.Confidence)
	}
}

// advancePending moves pending actions to notified. The countdown expiry is
// persisted before the notification goes out, so a crash between the two
// leaves the action waiting rather than silently executable.
func (d *Daemon) advancePending(now time.Time) {
	pending, err := d.store.ListActionsByStatus(types.ActionPending)
	if err != nil {
		logging.Get(logging.CategoryActions).Warn("Failed to list pending actions: %v", err)
		return
	}
	for _, a := range pending {
		notBefore := now.Add(d.countdown)
		if err := d.store.MarkActionNotified(a.ID, notBefore); err != nil {
			logging.Get(logging.CategoryActions).Warn("Failed to notify action %s: %v", a.ID, err)
			continue
		}
		d.notifier.Notify("Upcoming action",
			fmt.Sprintf("%s (executes after %s unless cancelled)", a.Description, notBefore.Format(time.Kitchen)))
		logging.Actions("Action %s notified, executes after %s", a.ID, notBefore.Format(time.RFC3339))
	}
}

// executeDue runs notified actions whose countdown has elapsed.
func (d *Daemon) executeDue(ctx context.Context, now time.Time) {
	if d.executor == nil {
		return
	}
	notified, err := d.store.ListActionsByStatus(types.ActionNotified)
	if err != nil {
		logging.Get(logging.CategoryActions).Warn("Failed to list notified actions: %v", err)
		return
	}
	for _, a := range notified {
		if a.NotBefore == nil || now.Before(*a.NotBefore) {
			continue
		}
		// A concurrent cancel loses the race here and that is the point: the
		// guarded transition refuses and the action is left alone.
		if err := d.store.MarkActionExecuting(a.ID); err != nil {
			logging.ActionsDebug("Action %s no longer executable: %v", a.ID, err)
			continue
		}
		d.runAction(ctx, a)
	}
}

// runAction executes one action under its intent's safety policy.
func (d *Daemon) runAction(ctx context.Context, a *types.Action) {
	timer := logging.StartTimer(logging.CategoryActions, "Action "+a.Intent)
	defer timer.Stop()

	success, result, err := d.executor.RunAutonomous(ctx, a.Prompt, PolicyForIntent(a.Intent))

	status := types.ActionCompleted
	if err != nil {
		status = types.ActionFailed
		result = err.Error()
	} else if !success {
		status = types.ActionFailed
	}
	if ferr := d.store.FinishAction(a.ID, status, result); ferr != nil {
		logging.Get(logging.CategoryActions).Error("Failed to finish action %s: %v", a.ID, ferr)
		return
	}

	if status == types.ActionCompleted {
		logging.Actions("Action %s completed: %s", a.ID, a.Intent)
		d.notifier.Notify("Action completed", a.Description)
	} else {
		logging.Get(logging.CategoryActions).Warn("Action %s failed: %s", a.ID, result)
		d.notifier.Notify("Action failed", fmt.Sprintf("%s: %s", a.Description, result))
	}
}

// evaluateSchedules fires due schedule-triggered workflows.
func (d *Daemon) evaluateSchedules(ctx context.Context, now time.Time) {
	due, err := d.triggers.DueWorkflows(now)
	if err != nil {
		logging.Get(logging.CategoryTrigger).Warn("Schedule evaluation failed: %v", err)
		return
	}
	for _, wf := range due {
		d.fireWorkflow(ctx, wf, types.TriggerSchedule, "")
	}
}

// evaluateFiles collects file candidates from the live watcher feed and a
// bounded directory scan, dedupes them, and fires matching workflows.
func (d *Daemon) evaluateFiles(ctx context.Context, now time.Time) {
	candidates := d.drainFileFeed()
	candidates = append(candidates, d.scanWatchDirs(now)...)

	for _, path := range candidates {
		abs, err := filepath.Abs(trigger.ExpandHome(path))
		if err != nil {
			continue
		}
		isNew, err := d.store.MarkSeen(types.SourceFile, fileKey(abs))
		if err != nil {
			logging.Get(logging.CategoryDaemon).Warn("Failed to mark file %s: %v", abs, err)
			continue
		}
		if !isNew {
			continue
		}

		matched, err := d.triggers.FileTriggeredWorkflows(abs)
		if err != nil {
			logging.Get(logging.CategoryTrigger).Warn("File trigger evaluation failed: %v", err)
			continue
		}
		for _, wf := range matched {
			d.fireWorkflow(ctx, wf, types.TriggerFile, abs)
		}
	}
}

// fireWorkflow records the firing, then launches an autonomous run. The
// firing is recorded first so period suppression holds even when the run
// itself fails.
func (d *Daemon) fireWorkflow(ctx context.Context, wf *types.Workflow, tt types.TriggerType, data string) {
	if err := d.triggers.RecordFiring(wf.ID, tt, data); err != nil {
		logging.Get(logging.CategoryTrigger).Warn("Failed to record firing for %s: %v", wf.ID, err)
		return
	}
	logging.Trigger("Firing workflow %s (%s)", wf.Name, tt)
	if _, err := d.runner.Run(ctx, wf, workflow.ModeAutonomous, nil); err != nil {
		logging.Get(logging.CategoryWorkflow).Error("Triggered run of %s failed: %v", wf.Name, err)
	}
}

// drainFileFeed empties the watcher channel without blocking.
func (d *Daemon) drainFileFeed() []string {
	if d.fileFeed == nil {
		return nil
	}
	var paths []string
	for {
		select {
		case p, ok := <-d.fileFeed:
			if !ok {
				d.fileFeed = nil
				return paths
			}
			paths = append(paths, p)
		default:
			return paths
		}
	}
}

// scanWatchDirs lists files in the configured and trigger-referenced
// directories whose modification time falls inside the recent window. The
// window is two poll intervals wide; WatchedItems dedupe makes overlap safe.
func (d *Daemon) scanWatchDirs(now time.Time) []string {
	cutoff := now.Add(-2 * d.pollInterval)

	var paths []string
	for _, dir := range d.collectWatchDirs() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logging.DaemonDebug("Cannot scan %s: %v", dir, err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	return paths
}

// collectWatchDirs unions the configured watch dirs with the directories of
// enabled file triggers.
func (d *Daemon) collectWatchDirs() []string {
	seen := map[string]bool{}
	var dirs []string
	add := func(dir string) {
		dir = filepath.Clean(trigger.ExpandHome(dir))
		if dir != "." && !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	for _, dir := range d.watchDirs {
		add(dir)
	}
	workflows, err := d.store.ListWorkflows(true)
	if err != nil {
		logging.Get(logging.CategoryDaemon).Warn("Failed to list workflows for watch dirs: %v", err)
		return dirs
	}
	for _, wf := range workflows {
		if wf.Trigger.Type == types.TriggerFile && wf.Trigger.File != nil && wf.Trigger.File.Path != "" {
			add(wf.Trigger.File.Path)
		}
	}
	return dirs
}

// fileKey is the dedupe key for a file candidate. Hashing keeps arbitrarily
// long paths inside the watched_items key column.
func fileKey(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])
}

// Status is a point-in-time snapshot of daemon health.
type Status struct {
	Cycles       int                        `json:"cycles"`
	LastCycle    time.Time                  `json:"last_cycle"`
	ActionCounts map[types.ActionStatus]int `json:"action_counts"`
}

// Status reports loop progress and queue depths.
func (d *Daemon) Status() (Status, error) {
	counts, err := d.store.ActionCounts()
	if err != nil {
		return Status{}, fmt.Errorf("failed to count actions: %w", err)
	}
	return Status{Cycles: d.cycles, LastCycle: d.lastCycle, ActionCounts: counts}, nil
}

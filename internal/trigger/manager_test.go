package trigger

import (
	"path/filepath"
	"testing"
	"time"

	"flowpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for trigger tests.
type memStore struct {
	workflows []*types.Workflow
	events    []types.TriggerEvent
}

func (m *memStore) ListWorkflows(enabledOnly bool) ([]*types.Workflow, error) {
	if !enabledOnly {
		return m.workflows, nil
	}
	var out []*types.Workflow
	for _, wf := range m.workflows {
		if wf.Enabled {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (m *memStore) RecordTriggerEvent(ev *types.TriggerEvent) error {
	ev.FiredAt = time.Now()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memStore) TriggerEventsSince(workflowID string, since time.Time) ([]types.TriggerEvent, error) {
	var out []types.TriggerEvent
	for _, ev := range m.events {
		if ev.WorkflowID == workflowID && !ev.FiredAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func dailyWorkflow(hour, minute int) *types.Workflow {
	return &types.Workflow{
		ID:      "wf-daily",
		Name:    "daily",
		Enabled: true,
		Trigger: types.TriggerSpec{
			Type:     types.TriggerSchedule,
			Schedule: &types.ScheduleTrigger{Frequency: types.FrequencyDaily, Hour: hour, Minute: minute},
		},
	}
}

func TestIsDueDaily(t *testing.T) {
	ms := &memStore{}
	mgr := NewManager(ms)
	wf := dailyWorkflow(8, 30)

	at := func(h, m int) time.Time {
		return time.Date(2026, 8, 23, h, m, 0, 0, time.Local)
	}

	t.Run("due inside the minute window", func(t *testing.T) {
		assert.True(t, mgr.IsDue(wf, at(8, 30)))
		assert.True(t, mgr.IsDue(wf, at(8, 25)))
		assert.True(t, mgr.IsDue(wf, at(8, 35)))
	})

	t.Run("not due outside the window", func(t *testing.T) {
		assert.False(t, mgr.IsDue(wf, at(8, 36)))
		assert.False(t, mgr.IsDue(wf, at(8, 24)))
		assert.False(t, mgr.IsDue(wf, at(9, 30)))
	})

	t.Run("fires at most once per day", func(t *testing.T) {
		// Record the firing at 8:30; evaluations every minute for the rest of
		// the window must be suppressed.
		ms.events = append(ms.events, types.TriggerEvent{
			WorkflowID: wf.ID, TriggerType: types.TriggerSchedule, FiredAt: at(8, 30),
		})
		for minute := 30; minute <= 35; minute++ {
			assert.False(t, mgr.IsDue(wf, at(8, minute)), "minute %d", minute)
		}

		// The next midnight boundary resets the period.
		tomorrow := at(8, 30).AddDate(0, 0, 1)
		assert.True(t, mgr.IsDue(wf, tomorrow))
	})

	t.Run("firing earlier in the period suppresses even if not the most recent row", func(t *testing.T) {
		ms2 := &memStore{}
		mgr2 := NewManager(ms2)
		// An unrelated later event for another workflow does not matter; a
		// same-day event for this workflow does, wherever it sits in history.
		ms2.events = append(ms2.events,
			types.TriggerEvent{WorkflowID: wf.ID, TriggerType: types.TriggerSchedule, FiredAt: at(8, 26)},
			types.TriggerEvent{WorkflowID: "other", TriggerType: types.TriggerSchedule, FiredAt: at(8, 31)},
		)
		assert.False(t, mgr2.IsDue(wf, at(8, 32)))
	})
}

func TestIsDueWeeklyMonthly(t *testing.T) {
	ms := &memStore{}
	mgr := NewManager(ms)

	weekly := &types.Workflow{
		ID: "wf-weekly", Enabled: true,
		Trigger: types.TriggerSpec{
			Type: types.TriggerSchedule,
			Schedule: &types.ScheduleTrigger{
				Frequency: types.FrequencyWeekly, Hour: 9, Minute: 0, DayOfWeek: time.Monday,
			},
		},
	}
	monday := time.Date(2026, 8, 24, 9, 0, 0, 0, time.Local) // a Monday
	assert.True(t, mgr.IsDue(weekly, monday))
	assert.False(t, mgr.IsDue(weekly, monday.AddDate(0, 0, 1)), "Tuesday")

	monthly := &types.Workflow{
		ID: "wf-monthly", Enabled: true,
		Trigger: types.TriggerSpec{
			Type: types.TriggerSchedule,
			Schedule: &types.ScheduleTrigger{
				Frequency: types.FrequencyMonthly, Hour: 9, Minute: 0, DayOfMonth: 1,
			},
		},
	}
	first := time.Date(2026, 9, 1, 9, 0, 0, 0, time.Local)
	assert.True(t, mgr.IsDue(monthly, first))
	assert.False(t, mgr.IsDue(monthly, first.AddDate(0, 0, 1)))

	t.Run("weekly suppressed within same ISO week", func(t *testing.T) {
		ms.events = append(ms.events, types.TriggerEvent{
			WorkflowID: "wf-weekly", TriggerType: types.TriggerSchedule, FiredAt: monday,
		})
		assert.False(t, mgr.IsDue(weekly, monday.Add(2*time.Minute)))
	})
}

func TestIsDueMalformedConfig(t *testing.T) {
	mgr := NewManager(&memStore{})
	now := time.Date(2026, 8, 23, 8, 30, 0, 0, time.Local)

	cases := []struct {
		name string
		wf   *types.Workflow
	}{
		{"missing schedule payload", &types.Workflow{ID: "a", Enabled: true,
			Trigger: types.TriggerSpec{Type: types.TriggerSchedule}}},
		{"wrong trigger type", &types.Workflow{ID: "b", Enabled: true,
			Trigger: types.TriggerSpec{Type: types.TriggerFile, File: &types.FileTrigger{Path: "/x", Pattern: "*"}}}},
		{"unknown frequency", &types.Workflow{ID: "c", Enabled: true,
			Trigger: types.TriggerSpec{Type: types.TriggerSchedule,
				Schedule: &types.ScheduleTrigger{Frequency: "hourly", Hour: 8, Minute: 30}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Silently skipped, never a panic or error.
			assert.False(t, mgr.IsDue(tc.wf, now))
		})
	}
}

func TestMatchesFile(t *testing.T) {
	mgr := NewManager(&memStore{})
	downloads := filepath.Join("/home", "user", "Downloads")
	cfg := &types.FileTrigger{Path: downloads, Pattern: "*.pdf"}

	assert.True(t, mgr.MatchesFile(cfg, filepath.Join(downloads, "report.pdf")))
	assert.True(t, mgr.MatchesFile(cfg, filepath.Join(downloads, "REPORT.PDF")), "pattern is case-insensitive")

	t.Run("same name in a different directory does not match", func(t *testing.T) {
		assert.False(t, mgr.MatchesFile(cfg, filepath.Join("/tmp", "report.pdf")))
	})

	t.Run("subdirectories do not match", func(t *testing.T) {
		assert.False(t, mgr.MatchesFile(cfg, filepath.Join(downloads, "sub", "report.pdf")))
	})

	t.Run("pattern mismatch", func(t *testing.T) {
		assert.False(t, mgr.MatchesFile(cfg, filepath.Join(downloads, "report.csv")))
	})

	t.Run("empty config never matches", func(t *testing.T) {
		assert.False(t, mgr.MatchesFile(&types.FileTrigger{}, filepath.Join(downloads, "report.pdf")))
		assert.False(t, mgr.MatchesFile(nil, filepath.Join(downloads, "report.pdf")))
	})
}

func TestMatchesMessage(t *testing.T) {
	mgr := NewManager(&memStore{})
	item := types.InboxItem{From: "billing@Vendor.example", Subject: "Invoice #42 attached"}

	t.Run("single pattern", func(t *testing.T) {
		assert.True(t, mgr.MatchesMessage(&types.MessageTrigger{FromPattern: "vendor.example"}, item))
		assert.True(t, mgr.MatchesMessage(&types.MessageTrigger{SubjectPattern: "invoice"}, item))
	})

	t.Run("all configured patterns must match", func(t *testing.T) {
		assert.True(t, mgr.MatchesMessage(&types.MessageTrigger{
			FromPattern: "billing", SubjectPattern: "invoice",
		}, item))
		assert.False(t, mgr.MatchesMessage(&types.MessageTrigger{
			FromPattern: "billing", SubjectPattern: "receipt",
		}, item))
	})

	t.Run("no configured pattern never matches", func(t *testing.T) {
		assert.False(t, mgr.MatchesMessage(&types.MessageTrigger{}, item))
		assert.False(t, mgr.MatchesMessage(nil, item))
	})
}

func TestListingHelpers(t *testing.T) {
	downloads := filepath.Join("/home", "user", "Downloads")
	ms := &memStore{workflows: []*types.Workflow{
		dailyWorkflow(8, 30),
		{
			ID: "wf-file", Name: "file-flow", Enabled: true,
			Trigger: types.TriggerSpec{Type: types.TriggerFile,
				File: &types.FileTrigger{Path: downloads, Pattern: "*.pdf"}},
		},
		{
			ID: "wf-msg", Name: "msg-flow", Enabled: true,
			Trigger: types.TriggerSpec{Type: types.TriggerMessage,
				Message: &types.MessageTrigger{SubjectPattern: "invoice"}},
		},
		{
			ID: "wf-disabled", Name: "off", Enabled: false,
			Trigger: types.TriggerSpec{Type: types.TriggerFile,
				File: &types.FileTrigger{Path: downloads, Pattern: "*.pdf"}},
		},
	}}
	mgr := NewManager(ms)

	due, err := mgr.DueWorkflows(time.Date(2026, 8, 23, 8, 30, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "wf-daily", due[0].ID)

	fileMatched, err := mgr.FileTriggeredWorkflows(filepath.Join(downloads, "scan.pdf"))
	require.NoError(t, err)
	require.Len(t, fileMatched, 1, "disabled workflows are excluded")
	assert.Equal(t, "wf-file", fileMatched[0].ID)

	msgMatched, err := mgr.MessageTriggeredWorkflows(types.InboxItem{Subject: "Invoice overdue"})
	require.NoError(t, err)
	require.Len(t, msgMatched, 1)
	assert.Equal(t, "wf-msg", msgMatched[0].ID)
}

func TestRecordFiring(t *testing.T) {
	ms := &memStore{}
	mgr := NewManager(ms)

	require.NoError(t, mgr.RecordFiring("wf-1", types.TriggerFile, "/home/user/Downloads/scan.pdf"))
	require.Len(t, ms.events, 1)
	assert.Equal(t, types.TriggerFile, ms.events[0].TriggerType)
}

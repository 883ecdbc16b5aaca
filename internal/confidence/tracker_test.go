package confidence

import (
	"fmt"
	"testing"

	"flowpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tracker tests.
type memStore struct {
	confidences map[string]float64
	corrections []types.Correction
}

func newMemStore() *memStore {
	return &memStore{confidences: make(map[string]float64)}
}

func stepKey(workflowID string, order int) string {
	return fmt.Sprintf("%s/%d", workflowID, order)
}

func (m *memStore) UpdateStepConfidence(workflowID string, stepOrder int, confidence float64) error {
	m.confidences[stepKey(workflowID, stepOrder)] = confidence
	return nil
}

func (m *memStore) AddCorrection(c *types.Correction) error {
	m.corrections = append(m.corrections, *c)
	return nil
}

func (m *memStore) CorrectionsForStep(workflowID string, stepOrder int) ([]types.Correction, error) {
	var out []types.Correction
	for _, c := range m.corrections {
		if c.WorkflowID == workflowID && c.StepOrder == stepOrder {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) CountCorrectionsForStep(workflowID string, stepOrder int) (int, error) {
	cs, _ := m.CorrectionsForStep(workflowID, stepOrder)
	return len(cs), nil
}

func TestScoreTransitions(t *testing.T) {
	ms := newMemStore()
	tr := NewTracker(ms)
	step := &types.Step{Order: 1, Tool: "email.fetch"}

	require.NoError(t, tr.RecordApproval("wf", step))
	assert.InDelta(t, 0.2, step.Confidence, 1e-9)

	require.NoError(t, tr.RecordApproval("wf", step))
	assert.InDelta(t, 0.4, step.Confidence, 1e-9)

	require.NoError(t, tr.RecordCorrection("wf", step, types.CorrectionParamEdit, "a", "b"))
	assert.InDelta(t, 0.1, step.Confidence, 1e-9)
	assert.Len(t, ms.corrections, 1, "correction persisted")

	require.NoError(t, tr.RecordSkip("wf", step))
	assert.Zero(t, step.Confidence, "clamped at 0")

	// Persisted score tracks the struct.
	assert.InDelta(t, step.Confidence, ms.confidences[stepKey("wf", 1)], 1e-9)
}

func TestScoreStaysInRange(t *testing.T) {
	ms := newMemStore()
	tr := NewTracker(ms)
	step := &types.Step{Order: 1}

	// Any sequence of events keeps the score in [0,1].
	events := []func() error{
		func() error { return tr.RecordApproval("wf", step) },
		func() error { return tr.RecordSkip("wf", step) },
		func() error { return tr.RecordCorrection("wf", step, types.CorrectionOutputFilter, "x", "y") },
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, events[i%len(events)]())
		assert.GreaterOrEqual(t, step.Confidence, 0.0)
		assert.LessOrEqual(t, step.Confidence, 1.0)
	}

	for i := 0; i < 10; i++ {
		require.NoError(t, tr.RecordApproval("wf", step))
	}
	assert.Equal(t, 1.0, step.Confidence, "clamped at 1")
}

func TestOverallConfidence(t *testing.T) {
	wf := &types.Workflow{Steps: []types.Step{
		{Order: 1, Confidence: 0.4},
		{Order: 2, Confidence: 0.8},
	}}
	assert.InDelta(t, 0.6, OverallConfidence(wf), 1e-9)

	assert.Zero(t, OverallConfidence(&types.Workflow{}), "no steps")
}

func TestGraduation(t *testing.T) {
	ms := newMemStore()
	tr := NewTracker(ms)

	wf := &types.Workflow{ID: "wf", RunCount: 6}
	step := &types.Step{Order: 1, Confidence: 0.85}

	t.Run("all requirements met", func(t *testing.T) {
		status, err := tr.Graduation(wf, step)
		require.NoError(t, err)
		assert.True(t, status.Graduated)
		assert.Empty(t, status.Reasons)
	})

	t.Run("each unmet requirement is named", func(t *testing.T) {
		lowStep := &types.Step{Order: 2, Confidence: 0.5}
		youngWf := &types.Workflow{ID: "wf", RunCount: 2}
		require.NoError(t, ms.AddCorrection(&types.Correction{WorkflowID: "wf", StepOrder: 2, Type: types.CorrectionParamEdit}))

		status, err := tr.Graduation(youngWf, lowStep)
		require.NoError(t, err)
		assert.False(t, status.Graduated)
		assert.Len(t, status.Reasons, 3)
	})

	t.Run("any correction ever disqualifies", func(t *testing.T) {
		require.NoError(t, ms.AddCorrection(&types.Correction{WorkflowID: "wf", StepOrder: 1, Type: types.CorrectionOutputFilter}))

		status, err := tr.Graduation(wf, step)
		require.NoError(t, err)
		assert.False(t, status.Graduated)
		require.Len(t, status.Reasons, 1)
		assert.Contains(t, status.Reasons[0], "corrections")
	})

	t.Run("recent-window variant can override history", func(t *testing.T) {
		status := tr.GraduationRecent(wf, step, 0)
		assert.True(t, status.Graduated)
	})
}

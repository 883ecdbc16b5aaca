package daemon

import (
	"context"
	"testing"

	"flowpilot/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classify(t *testing.T, item types.InboxItem) []types.IntentResult {
	t.Helper()
	results, err := NewKeywordClassifier().Classify(context.Background(), []types.InboxItem{item})
	require.NoError(t, err)
	return results
}

func TestKeywordClassifier(t *testing.T) {
	t.Run("subject and body hits boost confidence", func(t *testing.T) {
		results := classify(t, types.InboxItem{
			ID: "m1", Subject: "Invoice #42",
			Body: "Payment due by Friday, invoice attached.",
		})
		require.Len(t, results, 1)
		assert.Equal(t, "pay_invoice", results[0].Intent)
		assert.InDelta(t, 0.85, results[0].Confidence, 1e-9)
		assert.Equal(t, "m1", results[0].SourceID)
		assert.Contains(t, results[0].ActionText, "Invoice #42")
	})

	t.Run("single hit scores the base", func(t *testing.T) {
		results := classify(t, types.InboxItem{
			ID: "m2", Subject: "Quick question",
			Body: "Could you check your availability next week?",
		})
		require.Len(t, results, 1)
		assert.Equal(t, "schedule_meeting", results[0].Intent)
		assert.InDelta(t, 0.7, results[0].Confidence, 1e-9)
	})

	t.Run("newsletters score low", func(t *testing.T) {
		results := classify(t, types.InboxItem{
			ID: "m3", Subject: "Weekly digest",
			Body: "View in browser. Unsubscribe any time.",
		})
		require.Len(t, results, 1)
		assert.Equal(t, "newsletter", results[0].Intent)
		assert.Less(t, results[0].Confidence, 0.5)
	})

	t.Run("no keyword match yields no result", func(t *testing.T) {
		results := classify(t, types.InboxItem{
			ID: "m4", Subject: "Lunch?", Body: "Usual place at noon.",
		})
		assert.Empty(t, results)
	})

	t.Run("matching is case-insensitive", func(t *testing.T) {
		results := classify(t, types.InboxItem{
			ID: "m5", Subject: "PLEASE CONFIRM your attendance", Body: "",
		})
		require.Len(t, results, 1)
		assert.Equal(t, "reply_confirmation", results[0].Intent)
	})
}

func TestPolicyForIntent(t *testing.T) {
	assert.Equal(t, policyCalendar, PolicyForIntent("schedule_meeting"))
	assert.Equal(t, policyReportOnly, PolicyForIntent("launch_missiles"))
	assert.Equal(t, policyReportOnly, PolicyForIntent(""))
}

package daemon

import (
	"context"
	"fmt"
	"strings"

	"flowpilot/internal/types"
)

// KeywordClassifier is the default IntentClassifier: deterministic keyword
// scoring over subject and body. It exists so the daemon is runnable without
// any model behind it; richer classifiers plug in through the same interface.
type KeywordClassifier struct {
	rules []intentRule
}

type intentRule struct {
	intent   string
	keywords []string
	base     float64 // confidence for a single keyword hit
	action   string  // description/prompt template, %s = subject
}

// NewKeywordClassifier returns a classifier with the built-in rule set.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: []intentRule{
		{
			intent:   "schedule_meeting",
			keywords: []string{"meeting", "calendar invite", "reschedule", "availability", "call on"},
			base:     0.7,
			action:   "Add the requested meeting from %q to the calendar",
		},
		{
			intent:   "pay_invoice",
			keywords: []string{"invoice", "payment due", "amount due", "billing statement"},
			base:     0.7,
			action:   "File the invoice from %q and draft a payment reminder",
		},
		{
			intent:   "reply_confirmation",
			keywords: []string{"please confirm", "rsvp", "let us know by", "confirm your attendance"},
			base:     0.7,
			action:   "Draft a confirmation reply to %q",
		},
		{
			intent:   "newsletter",
			keywords: []string{"unsubscribe", "newsletter", "view in browser"},
			base:     0.3,
			action:   "Archive the newsletter %q",
		},
	}}
}

// Classify scores every item against every rule and returns the best intent
// per item. Items matching nothing yield no result at all.
func (c *KeywordClassifier) Classify(_ context.Context, items []types.InboxItem) ([]types.IntentResult, error) {
	var results []types.IntentResult
	for _, item := range items {
		if res, ok := c.classifyOne(item); ok {
			results = append(results, res)
		}
	}
	return results, nil
}

func (c *KeywordClassifier) classifyOne(item types.InboxItem) (types.IntentResult, bool) {
	subject := strings.ToLower(item.Subject)
	body := strings.ToLower(item.Body)

	best := types.IntentResult{}
	for _, rule := range c.rules {
		conf := rule.score(subject, body)
		if conf > best.Confidence {
			best = types.IntentResult{
				SourceID:   item.ID,
				Intent:     rule.intent,
				Confidence: conf,
				Data:       map[string]interface{}{"from": item.From, "subject": item.Subject},
				ActionText: fmt.Sprintf(rule.action, item.Subject),
			}
		}
	}
	return best, best.Intent != ""
}

// score returns 0 for no hits, the base for one hit, and a 0.15 boost when
// both subject and body hit (capped at 0.95 so keywords alone never look
// certain).
func (r intentRule) score(subject, body string) float64 {
	subjectHit, bodyHit := false, false
	for _, kw := range r.keywords {
		if strings.Contains(subject, kw) {
			subjectHit = true
		}
		if strings.Contains(body, kw) {
			bodyHit = true
		}
	}
	switch {
	case subjectHit && bodyHit:
		conf := r.base + 0.15
		if conf > 0.95 {
			conf = 0.95
		}
		return conf
	case subjectHit || bodyHit:
		return r.base
	default:
		return 0
	}
}

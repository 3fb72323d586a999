// Package intent decides what an inbound message is asking for.
//
// The default classifier is a keyword heuristic. It is deliberately simple
// and meant to be swapped out; everything downstream depends only on the
// Classifier interface.
package intent

import "strings"

// Intent is the classified purpose of a message.
type Intent int

const (
	// None means the message is an ordinary conversation turn.
	None Intent = iota
	// Handoff means the user is asking for a human agent.
	Handoff
	// ClearContext means the user wants to abandon the current topic.
	ClearContext
)

// Classifier maps message text to an intent.
type Classifier interface {
	Classify(text string) Intent
}

// KeywordClassifier matches fixed phrase lists, case-insensitively.
type KeywordClassifier struct {
	handoff []string
	clear   []string
}

// NewKeywordClassifier creates the default classifier. Empty slices fall
// back to the built-in phrase lists.
func NewKeywordClassifier(handoff, clear []string) *KeywordClassifier {
	if len(handoff) == 0 {
		handoff = []string{
			"talk to a human",
			"speak to an agent",
			"real person",
			"human agent",
			"customer representative",
			"talk to support",
		}
	}
	if len(clear) == 0 {
		clear = []string{
			"start over",
			"new topic",
			"reset conversation",
			"clear context",
			"forget that",
		}
	}
	return &KeywordClassifier{handoff: handoff, clear: clear}
}

// Classify implements Classifier.
func (c *KeywordClassifier) Classify(text string) Intent {
	lower := strings.ToLower(text)
	for _, phrase := range c.clear {
		if strings.Contains(lower, phrase) {
			return ClearContext
		}
	}
	for _, phrase := range c.handoff {
		if strings.Contains(lower, phrase) {
			return Handoff
		}
	}
	return None
}

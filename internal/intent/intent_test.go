package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier(nil, nil)

	tests := []struct {
		name string
		text string
		want Intent
	}{
		{"plain question", "what are your opening hours?", None},
		{"handoff request", "I want to talk to a human please", Handoff},
		{"handoff mixed case", "Can I Speak To An Agent?", Handoff},
		{"clear context", "ok, new topic: shipping", ClearContext},
		{"clear wins over handoff", "start over and get me a real person", ClearContext},
		{"empty", "", None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestCustomPhraseLists(t *testing.T) {
	c := NewKeywordClassifier([]string{"operator"}, []string{"wipe it"})

	assert.Equal(t, Handoff, c.Classify("get me an OPERATOR"))
	assert.Equal(t, ClearContext, c.Classify("please wipe it"))
	// defaults are replaced, not merged
	assert.Equal(t, None, c.Classify("talk to a human"))
}

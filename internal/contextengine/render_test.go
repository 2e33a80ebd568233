package contextengine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderSectionOrder(t *testing.T) {
	snap := ContextSnapshot{
		Profile:      "Name: Ada. Level: intermediate.",
		Conversation: []ContextItem{{Content: "asked about recursion"}},
		Knowledge:    []ContextItem{{Content: "recursion needs a base case"}},
		External:     []ContextItem{{Content: "exam on Friday"}},
		System:       "Teaching mode: socratic.",
	}

	out := snap.Render()

	profileIdx := strings.Index(out, "Learner profile:")
	convIdx := strings.Index(out, "Recent conversation:")
	knowIdx := strings.Index(out, "Relevant knowledge:")
	extIdx := strings.Index(out, "External context:")
	sysIdx := strings.Index(out, "Teaching mode: socratic.")

	assert.True(t, profileIdx >= 0 && profileIdx < convIdx)
	assert.True(t, convIdx < knowIdx)
	assert.True(t, knowIdx < extIdx)
	assert.True(t, extIdx < sysIdx)
	assert.Contains(t, out, "- asked about recursion")
}

func TestRenderSkipsEmptySections(t *testing.T) {
	snap := ContextSnapshot{Profile: "Name: Ada."}

	out := snap.Render()

	assert.Contains(t, out, "Learner profile:")
	assert.NotContains(t, out, "Recent conversation:")
	assert.NotContains(t, out, "Relevant knowledge:")
	assert.NotContains(t, out, "External context:")
}

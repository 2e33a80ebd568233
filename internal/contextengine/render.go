package contextengine

import (
	"fmt"
	"strings"
)

// Render flattens the snapshot into the system-prompt text handed to an
// LLM call. Section order matches scoring category order: profile,
// conversation, knowledge, external, system status.
func (s ContextSnapshot) Render() string {
	var sb strings.Builder

	if s.Profile != "" {
		sb.WriteString("Learner profile:\n")
		sb.WriteString(s.Profile)
		sb.WriteString("\n")
	}

	if len(s.Conversation) > 0 {
		sb.WriteString("\nRecent conversation:\n")
		for _, it := range s.Conversation {
			fmt.Fprintf(&sb, "- %s\n", it.Content)
		}
	}

	if len(s.Knowledge) > 0 {
		sb.WriteString("\nRelevant knowledge:\n")
		for _, it := range s.Knowledge {
			fmt.Fprintf(&sb, "- %s\n", it.Content)
		}
	}

	if len(s.External) > 0 {
		sb.WriteString("\nExternal context:\n")
		for _, it := range s.External {
			fmt.Fprintf(&sb, "- %s\n", it.Content)
		}
	}

	if s.System != "" {
		sb.WriteString("\n")
		sb.WriteString(s.System)
		sb.WriteString("\n")
	}

	return sb.String()
}

package contextengine

import (
	"regexp"
	"strings"
)

// Aggressiveness selects how lossy the text compression pass may get.
type Aggressiveness string

const (
	AggressivenessLight      Aggressiveness = "light"
	AggressivenessStandard   Aggressiveness = "standard"
	AggressivenessAggressive Aggressiveness = "aggressive"
)

const ellipsis = "..."

var (
	multiSpace = regexp.MustCompile(`[ \t]+`)
	multiBlank = regexp.MustCompile(`\n{3,}`)

	// criticalPatterns mark sentences that must survive sentence dropping.
	criticalPatterns = []string{
		"critical", "important", "must", "required", "warning",
		"error", "deadline", "key", "note", "remember",
	}
)

// abbreviations are applied longest-first so overlapping phrases collapse
// deterministically.
var abbreviations = []struct{ from, to string }{
	{"for example", "e.g."},
	{"that is to say", "i.e."},
	{"approximately", "approx."},
	{"information", "info"},
	{"performance", "perf"},
	{"conversation", "conv"},
	{"preferences", "prefs"},
	{"with respect to", "re:"},
	{"as soon as possible", "ASAP"},
	{"and so on", "etc."},
}

// CompressText shrinks text to at most maxChars using a strict priority
// list: whitespace collapsing, then (by aggressiveness) abbreviation
// substitution, then dropping non-critical sentences, then hard
// truncation with an ellipsis marker as last resort. Cheaper, least-lossy
// transforms always run before lossier ones.
func CompressText(text string, maxChars int, level Aggressiveness) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return collapseWhitespace(text)
	}

	out := collapseWhitespace(text)
	if len(out) <= maxChars {
		return out
	}

	if level == AggressivenessStandard || level == AggressivenessAggressive {
		out = substituteAbbreviations(out)
		if len(out) <= maxChars {
			return out
		}
	}

	if level == AggressivenessAggressive {
		out = dropNonCriticalSentences(out, maxChars)
		if len(out) <= maxChars {
			return out
		}
	}

	return hardTruncate(out, maxChars)
}

func collapseWhitespace(text string) string {
	out := multiSpace.ReplaceAllString(text, " ")
	out = multiBlank.ReplaceAllString(out, "\n\n")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func substituteAbbreviations(text string) string {
	out := text
	for _, ab := range abbreviations {
		out = replaceFold(out, ab.from, ab.to)
	}
	return out
}

// replaceFold is a case-insensitive strings.ReplaceAll.
func replaceFold(s, from, to string) string {
	lower := strings.ToLower(s)
	needle := strings.ToLower(from)
	var sb strings.Builder
	for {
		idx := strings.Index(lower, needle)
		if idx < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:idx])
		sb.WriteString(to)
		s = s[idx+len(from):]
		lower = lower[idx+len(needle):]
	}
}

// dropNonCriticalSentences removes sentences that match none of the
// critical keyword patterns, keeping document order, until the text fits
// or only critical sentences remain.
func dropNonCriticalSentences(text string, maxChars int) string {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return text
	}

	kept := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if isCriticalSentence(s) {
			kept = append(kept, s)
		}
	}
	// Refill with non-critical sentences in order while room remains.
	budget := maxChars - joinedLen(kept)
	for _, s := range sentences {
		if isCriticalSentence(s) {
			continue
		}
		if len(s)+1 > budget {
			continue
		}
		kept = append(kept, s)
		budget -= len(s) + 1
	}
	if len(kept) == 0 {
		return text
	}
	// Restore original ordering.
	ordered := make([]string, 0, len(kept))
	for _, s := range sentences {
		for _, k := range kept {
			if s == k {
				ordered = append(ordered, s)
				break
			}
		}
	}
	return strings.Join(ordered, " ")
}

func isCriticalSentence(s string) bool {
	lowered := strings.ToLower(s)
	for _, p := range criticalPatterns {
		if strings.Contains(lowered, p) {
			return true
		}
	}
	return false
}

func joinedLen(parts []string) int {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	return n
}

// hardTruncate cuts at maxChars, backing up to a sentence boundary when
// one exists past the halfway point, and appends an ellipsis marker.
func hardTruncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars - len(ellipsis)
	if cut <= 0 {
		return ellipsis[:maxChars]
	}
	truncated := text[:cut]
	if idx := strings.LastIndexAny(truncated, ".!?\n"); idx > cut/2 {
		truncated = truncated[:idx+1]
	}
	return strings.TrimRight(truncated, " ") + ellipsis
}

// splitSentences splits on sentence-ending punctuation followed by a space
// or newline.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

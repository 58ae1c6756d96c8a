package rewrite

import (
	"strings"

	"versecast/internal/message"
)

const promptTemplate = "You help a Christian mobile app send short devotional push notifications.\n" +
	"Rewrite the following message to be 1–2 sentences, under 130 characters, " +
	"sound encouraging, and keep it Bible/prayer/Christian related. " +
	"Do not add emojis.\n\n" +
	"Title: {title}\n" +
	"Message: {body}\n" +
	"Return ONLY the rewritten message text."

// BuildPrompt embeds the draft's title and body into the single-turn instruction.
func BuildPrompt(d message.Draft) string {
	return strings.NewReplacer("{title}", d.Title, "{body}", d.Body).Replace(promptTemplate)
}

// Normalize flattens model output to one line: surrounding whitespace is
// trimmed, every line break (with the spaces around it) becomes a single
// space, and one pair of wrapping quotes is removed.
func Normalize(s string) string {
	lines := strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' })
	parts := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return stripQuotes(strings.Join(parts, " "))
}

func stripQuotes(s string) string {
	pairs := [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}}
	for _, p := range pairs {
		if len(s) > len(p[0])+len(p[1]) && strings.HasPrefix(s, p[0]) && strings.HasSuffix(s, p[1]) {
			inner := s[len(p[0]) : len(s)-len(p[1])]
			// A quote inside means the outer ones are not a wrapper.
			if !strings.Contains(inner, p[0]) && !strings.Contains(inner, p[1]) {
				return strings.TrimSpace(inner)
			}
		}
	}
	return s
}

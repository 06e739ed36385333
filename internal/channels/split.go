package channels

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Platform message length limits, in characters.
const (
	TelegramMaxLength = 4096
	DiscordMaxLength  = 2000
	SlackMaxLength    = 40000
)

// Split breaks text into chunks of at most limit runes. It prefers paragraph
// breaks, then line breaks, then word boundaries, and hard-cuts only when a
// single word exceeds the limit. Blank text yields no chunks.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut := runeOffset(text, limit)
		window := text[:cut]

		at := strings.LastIndex(window, "\n\n")
		if at <= 0 {
			at = strings.LastIndex(window, "\n")
		}
		if at <= 0 {
			at = strings.LastIndexFunc(window, unicode.IsSpace)
		}
		if at <= 0 {
			at = cut
		}

		chunks = append(chunks, strings.TrimRightFunc(text[:at], unicode.IsSpace))
		text = strings.TrimLeftFunc(text[at:], unicode.IsSpace)
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	count := 0
	for i := range s {
		if count == n {
			return i
		}
		count++
	}
	return len(s)
}

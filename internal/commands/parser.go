package commands

import (
	"strings"
	"unicode"
)

// DefaultPrefix is the command prefix used when none is configured.
const DefaultPrefix = "/"

// Parser detects command invocations in message text.
type Parser struct {
	prefix string
	// username is the bot's own handle. When set, "/cmd@other" is ignored.
	username string
}

// Parsed is a detected invocation.
type Parsed struct {
	// Prefix is the command prefix used
	Prefix string

	// Name is the lowercased command name or alias, without prefix or mention
	Name string

	// RawName is Name as typed
	RawName string

	// Mention is the "@bot" suffix that was stripped from the name, if any
	Mention string

	// Content is the trimmed message text with the mention removed
	Content string

	// Tokens are the whitespace-separated words after the name
	Tokens []string
}

// NewParser creates a parser for prefix (DefaultPrefix if empty). username is
// the bot's handle with or without a leading "@".
func NewParser(prefix, username string) *Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Parser{
		prefix:   prefix,
		username: strings.TrimPrefix(strings.TrimSpace(username), "@"),
	}
}

// Prefix returns the configured prefix.
func (p *Parser) Prefix() string {
	return p.prefix
}

// Parse reports whether text is a command invocation. The prefix must be
// immediately followed by the name; "name@bot" has the mention stripped.
func (p *Parser) Parse(text string) (*Parsed, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, p.prefix) {
		return nil, false
	}
	body := text[len(p.prefix):]
	if body == "" || unicode.IsSpace(rune(body[0])) {
		return nil, false
	}

	word, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		word, rest = body[:i], body[i:]
	}

	name, mention := word, ""
	if i := strings.LastIndexByte(word, '@'); i >= 0 {
		name, mention = word[:i], word[i+1:]
	}
	if name == "" {
		return nil, false
	}
	if mention != "" && p.username != "" && !strings.EqualFold(mention, p.username) {
		return nil, false
	}

	return &Parsed{
		Prefix:  p.prefix,
		Name:    strings.ToLower(name),
		RawName: name,
		Mention: mention,
		Content: p.prefix + name + rest,
		Tokens:  strings.Fields(rest),
	}, true
}

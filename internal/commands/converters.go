package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Converter maps a raw token, or the joined trailing span, to a typed value.
type Converter interface {
	// TypeName names the target type in error messages.
	TypeName() string
	Convert(ctx context.Context, inv *Invocation, raw string) (any, error)
}

type converterFunc struct {
	name string
	fn   func(ctx context.Context, inv *Invocation, raw string) (any, error)
}

func (c converterFunc) TypeName() string { return c.name }

func (c converterFunc) Convert(ctx context.Context, inv *Invocation, raw string) (any, error) {
	return c.fn(ctx, inv, raw)
}

// ConverterFunc adapts a function into a Converter.
func ConverterFunc(typeName string, fn func(ctx context.Context, inv *Invocation, raw string) (any, error)) Converter {
	return converterFunc{name: typeName, fn: fn}
}

var errNoTransport = errors.New("no transport available")

// Built-in converters.
var (
	String Converter = ConverterFunc("string", func(_ context.Context, _ *Invocation, raw string) (any, error) {
		return raw, nil
	})

	Int Converter = ConverterFunc("int", func(_ context.Context, _ *Invocation, raw string) (any, error) {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, err
		}
		return n, nil
	})

	Float Converter = ConverterFunc("float", func(_ context.Context, _ *Invocation, raw string) (any, error) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	})

	Bool Converter = ConverterFunc("bool", func(_ context.Context, _ *Invocation, raw string) (any, error) {
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "on", "1", "enable", "enabled":
			return true, nil
		case "false", "no", "n", "off", "0", "disable", "disabled":
			return false, nil
		}
		return nil, fmt.Errorf("%q is not a boolean", raw)
	})

	Duration Converter = ConverterFunc("duration", func(_ context.Context, _ *Invocation, raw string) (any, error) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		return d, nil
	})

	// Member resolves a user id or mention in the invocation's chat through
	// the transport.
	Member Converter = ConverterFunc("member", func(ctx context.Context, inv *Invocation, raw string) (any, error) {
		if inv == nil || inv.Transport == nil {
			return nil, errNoTransport
		}
		member, err := inv.Transport.ResolveMember(ctx, inv.Chat.ID, mentionID(raw))
		if err != nil {
			return nil, err
		}
		if member == nil {
			return nil, fmt.Errorf("member %q: %w", raw, ErrNotFound)
		}
		return member, nil
	})

	// Chat resolves a chat id through the transport.
	Chat Converter = ConverterFunc("chat", func(ctx context.Context, inv *Invocation, raw string) (any, error) {
		if inv == nil || inv.Transport == nil {
			return nil, errNoTransport
		}
		chat, err := inv.Transport.ResolveChat(ctx, mentionID(raw))
		if err != nil {
			return nil, err
		}
		if chat == nil {
			return nil, fmt.Errorf("chat %q: %w", raw, ErrNotFound)
		}
		return chat, nil
	})
)

// Choice accepts one of a fixed set of values, compared case-insensitively.
// The canonical spelling from values is returned.
func Choice(values ...string) Converter {
	name := "one of " + strings.Join(values, "|")
	return ConverterFunc(name, func(_ context.Context, _ *Invocation, raw string) (any, error) {
		for _, v := range values {
			if strings.EqualFold(v, raw) {
				return v, nil
			}
		}
		return nil, fmt.Errorf("%q is not a valid choice", raw)
	})
}

// mentionID strips platform mention syntax: "@name", "<@123>", "<@!123>",
// "<#123>" and Slack's "<@U123|name>".
func mentionID(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		s = s[1 : len(s)-1]
		if i := strings.IndexByte(s, '|'); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimLeft(s, "@#!&")
		return s
	}
	return strings.TrimPrefix(s, "@")
}

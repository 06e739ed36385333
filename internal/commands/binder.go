package commands

import (
	"context"
	"strings"
)

// Bind converts tokens into handler arguments according to params.
//
// Positional parameters take one token each. A Trailing parameter takes every
// remaining token joined by single spaces and is returned in kwargs. When
// input runs out, a parameter's default is used if it has one; otherwise an
// ArgumentError is returned. Converter failures are always reported as
// ArgumentError. Tokens left over with no trailing parameter are ignored.
func Bind(ctx context.Context, inv *Invocation, params []Param, tokens []string) ([]any, map[string]any, error) {
	args := make([]any, 0, len(params))
	kwargs := make(map[string]any)

	pos := 0
	for _, p := range params {
		switch p.Kind {
		case Positional:
			if pos >= len(tokens) {
				v, err := fallback(p)
				if err != nil {
					return nil, nil, err
				}
				args = append(args, v)
				continue
			}
			raw := tokens[pos]
			pos++
			v, err := convert(ctx, inv, p, raw)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, v)

		case Trailing:
			rest := strings.Join(tokens[min(pos, len(tokens)):], " ")
			pos = len(tokens)
			if rest == "" {
				v, err := fallback(p)
				if err != nil {
					return nil, nil, err
				}
				kwargs[p.Name] = v
				continue
			}
			v, err := convert(ctx, inv, p, rest)
			if err != nil {
				return nil, nil, err
			}
			kwargs[p.Name] = v
		}
	}

	return args, kwargs, nil
}

func fallback(p Param) (any, error) {
	if p.HasDefault {
		return p.Default, nil
	}
	return nil, &ArgumentError{Param: p.Name, Reason: ReasonMissing}
}

func convert(ctx context.Context, inv *Invocation, p Param, raw string) (v any, err error) {
	if p.Converter == nil {
		return raw, nil
	}
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &ArgumentError{
				Param:  p.Name,
				Reason: ReasonConversion,
				Value:  raw,
				Type:   p.Converter.TypeName(),
				Cause:  panicError{r},
			}
		}
	}()

	v, err = p.Converter.Convert(ctx, inv, raw)
	if err != nil {
		return nil, &ArgumentError{
			Param:  p.Name,
			Reason: ReasonConversion,
			Value:  raw,
			Type:   p.Converter.TypeName(),
			Cause:  err,
		}
	}
	return v, nil
}

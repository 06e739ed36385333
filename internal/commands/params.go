package commands

import "fmt"

// ParamKind selects how a parameter consumes tokens.
type ParamKind int

const (
	// Positional consumes exactly one token.
	Positional ParamKind = iota
	// Trailing consumes every remaining token, joined by single spaces.
	// It must be the last parameter.
	Trailing
)

func (k ParamKind) String() string {
	switch k {
	case Positional:
		return "positional"
	case Trailing:
		return "trailing"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param declares one handler parameter.
type Param struct {
	Name        string
	Kind        ParamKind
	Converter   Converter
	Description string

	// Default is used when no input remains. It is only honoured when
	// HasDefault is set, so a nil default is distinct from "required".
	Default    any
	HasDefault bool
}

// Arg declares a required positional parameter.
func Arg(name string, conv Converter) Param {
	return Param{Name: name, Kind: Positional, Converter: conv}
}

// Rest declares a required trailing parameter that absorbs the remaining text.
func Rest(name string, conv Converter) Param {
	return Param{Name: name, Kind: Trailing, Converter: conv}
}

// WithDefault returns a copy of p that falls back to v when input is missing.
func (p Param) WithDefault(v any) Param {
	p.Default = v
	p.HasDefault = true
	return p
}

// Describe returns a copy of p with a help description.
func (p Param) Describe(desc string) Param {
	p.Description = desc
	return p
}

// Signature renders the parameter for usage strings: <name>, [name=default] or <name...>.
func (p Param) Signature() string {
	name := p.Name
	if p.Kind == Trailing {
		name += "..."
	}
	if !p.HasDefault {
		return "<" + name + ">"
	}
	if p.Default == nil {
		return "[" + name + "]"
	}
	return fmt.Sprintf("[%s=%v]", name, p.Default)
}

func validateParams(params []Param) error {
	seen := make(map[string]struct{}, len(params))
	for i, p := range params {
		if p.Name == "" {
			return fmt.Errorf("%w: parameter %d has no name", ErrLoad, i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate parameter %q", ErrLoad, p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Kind == Trailing && i != len(params)-1 {
			return fmt.Errorf("%w: trailing parameter %q must be last", ErrLoad, p.Name)
		}
		if p.Kind != Positional && p.Kind != Trailing {
			return fmt.Errorf("%w: parameter %q has unknown kind %v", ErrLoad, p.Name, p.Kind)
		}
	}
	return nil
}

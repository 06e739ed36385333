package commands

import (
	"fmt"
	"strings"
)

const (
	noDescription = "No description"
	noCategory    = "No category"
)

// HelpOverview lists every plugin with its visible commands, followed by the
// uncategorized commands.
func HelpOverview(reg *Registry, prefix string) string {
	var b strings.Builder
	for _, p := range reg.Plugins() {
		lines := commandLines(p.Commands(), prefix)
		if len(lines) == 0 {
			continue
		}
		b.WriteString(p.Name)
		if !p.Enabled() {
			b.WriteString(" (disabled)")
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n\n")
	}

	var loose []*Command
	for _, cmd := range reg.Visible() {
		if cmd.Plugin() == nil {
			loose = append(loose, cmd)
		}
	}
	if len(loose) > 0 {
		b.WriteString(noCategory + "\n")
		b.WriteString(strings.Join(commandLines(loose, prefix), "\n"))
	}
	return strings.TrimSpace(b.String())
}

// HelpFor describes one command (a space-separated path such as "ext reload")
// or one plugin. It reports false when neither exists.
func HelpFor(reg *Registry, prefix, name string) (string, bool) {
	if cmd, ok := resolvePath(reg, prefix, name); ok {
		return commandDetail(cmd, prefix), true
	}
	if p, ok := reg.Plugin(strings.TrimSpace(name)); ok {
		var b strings.Builder
		b.WriteString(p.Name)
		if p.Description != "" {
			b.WriteString(" - " + p.Description)
		}
		b.WriteString("\n\n")
		b.WriteString(strings.Join(commandLines(p.Commands(), prefix), "\n"))
		return strings.TrimSpace(b.String()), true
	}
	return "", false
}

func resolvePath(reg *Registry, prefix, path string) (*Command, bool) {
	words := strings.Fields(path)
	if len(words) == 0 {
		return nil, false
	}
	cmd, ok := reg.Lookup(strings.TrimPrefix(words[0], prefix))
	if !ok {
		return nil, false
	}
	for _, w := range words[1:] {
		if cmd, ok = cmd.Child(w); !ok {
			return nil, false
		}
	}
	return cmd, true
}

func commandDetail(cmd *Command, prefix string) string {
	var b strings.Builder
	b.WriteString(prefix + cmd.QualifiedName())
	if sig := cmd.Signature(); sig != "" {
		b.WriteString(" " + sig)
	}
	b.WriteString(" - " + describe(cmd))
	if len(cmd.Aliases) > 0 {
		fmt.Fprintf(&b, "\nAliases: %s", strings.Join(cmd.Aliases, ", "))
	}
	if children := cmd.Children(); len(children) > 0 {
		b.WriteString("\n\nSubcommands:\n")
		b.WriteString(strings.Join(commandLines(children, prefix), "\n"))
	}
	return b.String()
}

func commandLines(cmds []*Command, prefix string) []string {
	lines := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		if cmd.Hidden {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s%s - %s", prefix, cmd.QualifiedName(), describe(cmd)))
	}
	return lines
}

func describe(cmd *Command) string {
	if cmd.Description == "" {
		return noDescription
	}
	return cmd.Description
}

// Package builtins provides the core extension every bot loads: help, ping
// and the owner-only extension admin commands.
package builtins

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/plugins"
)

// CoreID is the extension id the core cog is registered under.
const CoreID = "core"

const (
	pluginName    = "core"
	notFoundReply = "No cog or command by that name"
)

// Resolver finds the origin of an extension by id for "ext load".
type Resolver interface {
	Origin(id string) (plugins.Origin, error)
}

// Register adds the core extension to sources. resolve may be nil, in which
// case "ext load" only knows the ids in sources.
func Register(sources *plugins.Sources, resolve Resolver) error {
	if resolve == nil {
		resolve = &plugins.Catalog{Sources: sources}
	}
	return sources.RegisterOrigin(CoreID, Setup(resolve))
}

// Setup returns the core extension's setup function.
func Setup(resolve Resolver) plugins.SetupFunc {
	return func(s *plugins.Setup) error {
		c := &core{
			registry: s.Registry(),
			manager:  s.Manager(),
			resolve:  resolve,
			self:     s.ID(),
		}

		// checks are per command, so every sub-command carries its own
		owner := commands.WithChecks(commands.OwnerOnly(s.Owners()...))
		ext := commands.NewGroup("ext", c.extList,
			commands.WithDescription("Manage extensions"), owner)
		children := []*commands.Command{
			commands.New("list", c.extList,
				commands.WithAliases("ls"),
				commands.WithDescription("List loaded extensions"), owner),
			commands.New("load", c.extLoad,
				commands.WithDescription("Load an extension"), owner,
				commands.WithParams(commands.Arg("id", commands.String))),
			commands.New("unload", c.extUnload,
				commands.WithDescription("Unload an extension"), owner,
				commands.WithParams(commands.Arg("id", commands.String))),
			commands.New("reload", c.extReload,
				commands.WithDescription("Reload an extension"), owner,
				commands.WithParams(commands.Arg("id", commands.String))),
			commands.New("enable", c.pluginToggle(true),
				commands.WithDescription("Enable a plugin"), owner,
				commands.WithParams(commands.Arg("plugin", commands.String))),
			commands.New("disable", c.pluginToggle(false),
				commands.WithDescription("Disable a plugin"), owner,
				commands.WithParams(commands.Arg("plugin", commands.String))),
		}
		for _, child := range children {
			if err := ext.AddCommand(child); err != nil {
				return err
			}
		}

		return s.AddPlugin(&commands.Plugin{
			Name:        pluginName,
			Description: "Built-in commands",
		},
			commands.New("help", c.help,
				commands.WithDescription("Show this message"),
				commands.WithParams(commands.Rest("name", commands.String).WithDefault(nil))),
			commands.New("ping", c.ping,
				commands.WithDescription("Check that the bot is responding")),
			ext,
		)
	}
}

type core struct {
	registry *commands.Registry
	manager  *plugins.Manager
	resolve  Resolver
	self     string
}

func (c *core) help(ctx context.Context, inv *commands.Invocation) error {
	name := strings.TrimSpace(inv.String("name"))
	if name == "" {
		text := commands.HelpOverview(c.registry, inv.Prefix)
		if text == "" {
			text = "No commands are registered."
		}
		return inv.Send(ctx, text)
	}
	text, ok := commands.HelpFor(c.registry, inv.Prefix, name)
	if !ok {
		return inv.Reply(ctx, notFoundReply)
	}
	return inv.Send(ctx, text)
}

func (c *core) ping(ctx context.Context, inv *commands.Invocation) error {
	return inv.Reply(ctx, "pong")
}

func (c *core) extList(ctx context.Context, inv *commands.Invocation) error {
	exts := c.manager.Extensions()
	if len(exts) == 0 {
		return inv.Send(ctx, "No extensions are loaded.")
	}
	lines := make([]string, 0, len(exts))
	for _, e := range exts {
		line := e.ID
		if len(e.Plugins) > 0 {
			line += " [" + strings.Join(e.Plugins, ", ") + "]"
		}
		if e.Reloads > 0 {
			line += fmt.Sprintf(" reloaded %d times", e.Reloads)
		}
		lines = append(lines, line)
	}
	return inv.Send(ctx, "Loaded extensions:\n"+strings.Join(lines, "\n"))
}

func (c *core) extLoad(ctx context.Context, inv *commands.Invocation) error {
	id := inv.String("id")
	origin, err := c.resolve.Origin(id)
	if err != nil {
		return c.report(ctx, inv, "load", id, err)
	}
	if err := c.manager.Load(ctx, origin); err != nil {
		return c.report(ctx, inv, "load", id, err)
	}
	return inv.Reply(ctx, fmt.Sprintf("Loaded %s.", id))
}

func (c *core) extUnload(ctx context.Context, inv *commands.Invocation) error {
	id := inv.String("id")
	if id == c.self {
		return inv.Reply(ctx, fmt.Sprintf("Refusing to unload %s; reload it instead.", id))
	}
	if err := c.manager.Unload(ctx, id); err != nil {
		return c.report(ctx, inv, "unload", id, err)
	}
	return inv.Reply(ctx, fmt.Sprintf("Unloaded %s.", id))
}

func (c *core) extReload(ctx context.Context, inv *commands.Invocation) error {
	id := inv.String("id")
	if err := c.manager.Reload(ctx, id); err != nil {
		return c.report(ctx, inv, "reload", id, err)
	}
	return inv.Reply(ctx, fmt.Sprintf("Reloaded %s.", id))
}

func (c *core) pluginToggle(enabled bool) commands.HandlerFunc {
	op, done := "disable", "Disabled"
	if enabled {
		op, done = "enable", "Enabled"
	}
	return func(ctx context.Context, inv *commands.Invocation) error {
		name := inv.String("plugin")
		if name == pluginName && !enabled {
			return inv.Reply(ctx, "Refusing to disable "+pluginName+".")
		}
		toggle := c.manager.Disable
		if enabled {
			toggle = c.manager.Enable
		}
		if err := toggle(ctx, name); err != nil {
			return c.report(ctx, inv, op, name, err)
		}
		return inv.Reply(ctx, fmt.Sprintf("%s %s.", done, name))
	}
}

// report tells the owner why an operation failed. The error is not returned:
// it has been handled.
func (c *core) report(ctx context.Context, inv *commands.Invocation, op, id string, err error) error {
	return inv.Reply(ctx, fmt.Sprintf("Could not %s %s (%s): %v", op, id, commands.Kind(err), err))
}

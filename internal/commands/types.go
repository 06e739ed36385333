// Package commands provides command registration, parsing, argument binding
// and dispatch for chat messages.
package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/cogbot/pkg/models"
)

// HandlerFunc executes a command. Bound arguments are available on inv.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// CheckFunc is a predicate gating whether a command may run.
type CheckFunc func(ctx context.Context, inv *Invocation) bool

// Check is a named predicate.
type Check struct {
	Name      string
	Predicate CheckFunc
}

// Transport is what the command framework needs from a chat platform.
type Transport interface {
	Send(ctx context.Context, chatID, text string) error
	ResolveChat(ctx context.Context, chatID string) (*models.Chat, error)
	ResolveMember(ctx context.Context, chatID, userID string) (*models.Member, error)
}

// Command is a named, invocable unit. A command created with NewGroup also
// owns sub-commands.
type Command struct {
	// Name is the command name without prefix (e.g., "help")
	Name string

	// Aliases are alternative names for the command
	Aliases []string

	// Description is a short description of what the command does
	Description string

	// Usage overrides the usage string derived from Params
	Usage string

	// Hidden hides the command from help listings
	Hidden bool

	// Params declares the arguments the handler expects, in order
	Params []Param

	Handler HandlerFunc

	mu       sync.RWMutex
	checks   []Check
	group    bool
	children []*Command
	parent   *Command
	plugin   *Plugin
}

// Option configures a command built by New or NewGroup.
type Option func(*Command)

// WithAliases adds alternative names.
func WithAliases(aliases ...string) Option {
	return func(c *Command) {
		c.Aliases = append(c.Aliases, aliases...)
	}
}

// WithDescription sets the help description.
func WithDescription(desc string) Option {
	return func(c *Command) {
		c.Description = desc
	}
}

// WithUsage sets an explicit usage string.
func WithUsage(usage string) Option {
	return func(c *Command) {
		c.Usage = usage
	}
}

// WithHidden hides the command from help.
func WithHidden() Option {
	return func(c *Command) {
		c.Hidden = true
	}
}

// WithParams declares the handler's parameters.
func WithParams(params ...Param) Option {
	return func(c *Command) {
		c.Params = append(c.Params, params...)
	}
}

// WithChecks attaches checks in evaluation order.
func WithChecks(checks ...Check) Option {
	return func(c *Command) {
		c.checks = append(c.checks, checks...)
	}
}

// New creates a command.
func New(name string, handler HandlerFunc, opts ...Option) *Command {
	c := &Command{Name: name, Handler: handler}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewGroup creates a command that can own sub-commands. A nil handler makes
// the group fail with a missing "subcommand" argument when no child matches.
func NewGroup(name string, handler HandlerFunc, opts ...Option) *Command {
	if handler == nil {
		handler = func(ctx context.Context, inv *Invocation) error {
			return &ArgumentError{Param: "subcommand", Reason: ReasonMissing}
		}
	}
	c := New(name, handler, opts...)
	c.group = true
	return c
}

// IsGroup reports whether the command can own sub-commands.
func (c *Command) IsGroup() bool {
	return c.group
}

// AddCommand attaches a sub-command. Names and aliases must be unique among
// the group's children.
func (c *Command) AddCommand(child *Command) error {
	if !c.group {
		return fmt.Errorf("%w: command %q is not a group", ErrLoad, c.Name)
	}
	if err := child.validate(); err != nil {
		return err
	}
	if child.parent != nil {
		return fmt.Errorf("%w: command %q already belongs to group %q", ErrAlreadyExists, child.Name, child.parent.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	taken := make(map[string]string)
	for _, existing := range c.children {
		for _, key := range existing.keys() {
			taken[key] = existing.Name
		}
	}
	for _, key := range child.keys() {
		if owner, ok := taken[key]; ok {
			return fmt.Errorf("%w: %q in group %q is used by %q", ErrAlreadyExists, key, c.Name, owner)
		}
	}

	child.parent = c
	c.children = append(c.children, child)
	return nil
}

// Children returns the sub-commands in registration order.
func (c *Command) Children() []*Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Command, len(c.children))
	copy(out, c.children)
	return out
}

// Child finds a sub-command by name, then by alias.
func (c *Command) Child(name string) (*Command, bool) {
	name = normalize(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, child := range c.children {
		if child.Name == name {
			return child, true
		}
	}
	for _, child := range c.children {
		for _, alias := range child.Aliases {
			if normalize(alias) == name {
				return child, true
			}
		}
	}
	return nil, false
}

// Parent returns the owning group, or nil for top-level commands.
func (c *Command) Parent() *Command {
	return c.parent
}

// Root returns the top-level command of c's group chain.
func (c *Command) Root() *Command {
	root := c
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Plugin returns the owning plugin. Sub-commands inherit their root's plugin.
func (c *Command) Plugin() *Plugin {
	root := c.Root()
	root.mu.RLock()
	defer root.mu.RUnlock()
	return root.plugin
}

func (c *Command) setPlugin(p *Plugin) {
	c.mu.Lock()
	c.plugin = p
	c.mu.Unlock()
}

// QualifiedName is the space-separated path from the root, e.g. "ext reload".
func (c *Command) QualifiedName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.QualifiedName() + " " + c.Name
}

// Signature renders the parameter list for help output.
func (c *Command) Signature() string {
	if c.Usage != "" {
		return c.Usage
	}
	parts := make([]string, 0, len(c.Params))
	for _, p := range c.Params {
		parts = append(parts, p.Signature())
	}
	return strings.Join(parts, " ")
}

// Checks returns the command's own checks in evaluation order.
func (c *Command) Checks() []Check {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Check, len(c.checks))
	copy(out, c.checks)
	return out
}

// AddCheck appends a check.
func (c *Command) AddCheck(check Check) error {
	if err := validateCheck(check); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.checks {
		if existing.Name == check.Name {
			return fmt.Errorf("%w: check %q on command %q", ErrAlreadyExists, check.Name, c.Name)
		}
	}
	c.checks = append(c.checks, check)
	return nil
}

// RemoveCheck removes a check by name.
func (c *Command) RemoveCheck(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.checks {
		if existing.Name == name {
			c.checks = append(c.checks[:i:i], c.checks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: check %q on command %q", ErrNotFound, name, c.Name)
}

// Walk visits c and its descendants depth-first.
func (c *Command) Walk(fn func(*Command) bool) bool {
	if !fn(c) {
		return false
	}
	for _, child := range c.Children() {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}

// validate normalizes names and rejects malformed definitions.
func (c *Command) validate() error {
	if c == nil {
		return fmt.Errorf("%w: command is nil", ErrLoad)
	}
	c.Name = normalize(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: command name is required", ErrLoad)
	}
	if strings.ContainsAny(c.Name, " \t\n") {
		return fmt.Errorf("%w: command name %q contains whitespace", ErrLoad, c.Name)
	}
	if c.Handler == nil {
		return fmt.Errorf("%w: command %q has no handler", ErrLoad, c.Name)
	}

	aliases := make([]string, 0, len(c.Aliases))
	seen := map[string]struct{}{c.Name: {}}
	for _, alias := range c.Aliases {
		alias = normalize(alias)
		if alias == "" {
			return fmt.Errorf("%w: command %q has an empty alias", ErrLoad, c.Name)
		}
		if _, dup := seen[alias]; dup {
			return fmt.Errorf("%w: command %q declares %q twice", ErrLoad, c.Name, alias)
		}
		seen[alias] = struct{}{}
		aliases = append(aliases, alias)
	}
	c.Aliases = aliases

	if err := validateParams(c.Params); err != nil {
		return fmt.Errorf("command %q: %w", c.Name, err)
	}
	for _, check := range c.checks {
		if err := validateCheck(check); err != nil {
			return fmt.Errorf("command %q: %w", c.Name, err)
		}
	}
	return nil
}

// keys returns the name followed by every alias.
func (c *Command) keys() []string {
	return append([]string{c.Name}, c.Aliases...)
}

func validateCheck(check Check) error {
	if strings.TrimSpace(check.Name) == "" {
		return fmt.Errorf("%w: check name is required", ErrLoad)
	}
	if check.Predicate == nil {
		return fmt.Errorf("%w: check %q has no predicate", ErrLoad, check.Name)
	}
	return nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Plugin is a named bundle of commands loaded and unloaded together.
type Plugin struct {
	Name        string
	Description string

	// Check, when set, gates every command the plugin owns.
	Check CheckFunc

	// Origin is the id of the extension that registered the plugin.
	Origin string

	mu       sync.RWMutex
	commands []*Command
	disabled atomic.Bool
}

// Commands returns the plugin's commands in registration order.
func (p *Plugin) Commands() []*Command {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Command, len(p.commands))
	copy(out, p.commands)
	return out
}

// Enabled reports whether the plugin's commands may run.
func (p *Plugin) Enabled() bool {
	return !p.disabled.Load()
}

// SetEnabled toggles the plugin.
func (p *Plugin) SetEnabled(enabled bool) {
	p.disabled.Store(!enabled)
}

func (p *Plugin) add(cmd *Command) {
	p.mu.Lock()
	p.commands = append(p.commands, cmd)
	p.mu.Unlock()
}

func (p *Plugin) remove(cmd *Command) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.commands {
		if c == cmd {
			p.commands = append(p.commands[:i:i], p.commands[i+1:]...)
			return
		}
	}
}

// Invocation is the per-dispatch record passed to checks, converters and
// handlers.
type Invocation struct {
	// ID uniquely identifies this dispatch in logs and events
	ID string

	// Command is the resolved command (a sub-command after group traversal)
	Command *Command

	Message *models.Message
	Chat    models.Chat
	Author  models.User

	// Prefix is the command prefix used (e.g. "/")
	Prefix string

	// InvokedWith is the name or alias the user typed for Command
	InvokedWith string

	// Path is the qualified route taken, e.g. "ext reload"
	Path string

	// Content is the message text with consumed group names stripped
	Content string

	// Tokens are the whitespace-separated words after the resolved name
	Tokens []string

	Args   []any
	Kwargs map[string]any

	Transport Transport

	// Err is the error routed to command_error, set once dispatch finishes
	Err error

	// typed is InvokedWith exactly as it appears in Content
	typed string
}

// Send posts text to the invocation's chat.
func (inv *Invocation) Send(ctx context.Context, text string) error {
	if inv.Transport == nil {
		return fmt.Errorf("no transport for chat %q", inv.Chat.ID)
	}
	return inv.Transport.Send(ctx, inv.Chat.ID, text)
}

// Reply posts text addressed to the author. In private chats it is the
// same as Send.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	if inv.Chat.IsPrivate() {
		return inv.Send(ctx, text)
	}
	return inv.Send(ctx, inv.Author.Mention()+" "+text)
}

// Value returns the bound value for a parameter name.
func (inv *Invocation) Value(name string) (any, bool) {
	if v, ok := inv.Kwargs[name]; ok {
		return v, true
	}
	if inv.Command == nil {
		return nil, false
	}
	i := 0
	for _, p := range inv.Command.Params {
		if p.Kind != Positional {
			continue
		}
		if p.Name == name {
			if i < len(inv.Args) {
				return inv.Args[i], true
			}
			return nil, false
		}
		i++
	}
	return nil, false
}

// String returns a bound string parameter or "".
func (inv *Invocation) String(name string) string {
	v, _ := inv.Value(name)
	s, _ := v.(string)
	return s
}

// Int returns a bound integer parameter or 0.
func (inv *Invocation) Int(name string) int {
	v, _ := inv.Value(name)
	n, _ := v.(int)
	return n
}

// Member returns a bound member parameter or nil.
func (inv *Invocation) Member(name string) *models.Member {
	v, _ := inv.Value(name)
	m, _ := v.(*models.Member)
	return m
}

// ChatValue returns a bound chat parameter or nil.
func (inv *Invocation) ChatValue(name string) *models.Chat {
	v, _ := inv.Value(name)
	c, _ := v.(*models.Chat)
	return c
}

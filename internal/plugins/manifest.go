package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
	"time"

	invjsonschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/yosuke-furukawa/json5/encoding/json5"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/cogbot/internal/commands"
	"github.com/haasonsaas/cogbot/internal/hooks"
	"github.com/haasonsaas/cogbot/pkg/models"
)

// Manifest is a declarative extension: a plugin with templated commands,
// event listeners and scheduled messages.
type Manifest struct {
	Plugin    *ManifestPlugin    `json:"plugin,omitempty" jsonschema:"description=Plugin that owns the commands. Without it commands are uncategorized."`
	Commands  []ManifestCommand  `json:"commands,omitempty"`
	Listeners []ManifestListener `json:"listeners,omitempty"`
	Schedules []ManifestSchedule `json:"schedules,omitempty"`
}

// ManifestPlugin declares the plugin (cog) of a manifest.
type ManifestPlugin struct {
	Name        string          `json:"name" jsonschema:"minLength=1"`
	Description string          `json:"description,omitempty"`
	Checks      []ManifestCheck `json:"checks,omitempty" jsonschema:"description=Checks applied to every command of the plugin"`
}

// ManifestCommand declares a command. A command with subcommands is a group.
type ManifestCommand struct {
	Name        string            `json:"name" jsonschema:"minLength=1"`
	Aliases     []string          `json:"aliases,omitempty"`
	Description string            `json:"description,omitempty"`
	Usage       string            `json:"usage,omitempty"`
	Hidden      bool              `json:"hidden,omitempty"`
	Params      []ManifestParam   `json:"params,omitempty"`
	Checks      []ManifestCheck   `json:"checks,omitempty"`
	Reply       string            `json:"reply,omitempty" jsonschema:"description=text/template rendered and sent as a reply to the author"`
	Send        string            `json:"send,omitempty" jsonschema:"description=text/template rendered and sent to the chat"`
	Subcommands []ManifestCommand `json:"subcommands,omitempty"`
}

// ManifestParam declares one command parameter.
type ManifestParam struct {
	Name        string   `json:"name" jsonschema:"minLength=1"`
	Type        string   `json:"type,omitempty" jsonschema:"enum=string,enum=int,enum=float,enum=bool,enum=duration,enum=member,enum=chat,enum=choice"`
	Trailing    bool     `json:"trailing,omitempty" jsonschema:"description=Absorb the rest of the message"`
	Default     any      `json:"default,omitempty"`
	Choices     []string `json:"choices,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ManifestCheck names a built-in check.
type ManifestCheck struct {
	Name string   `json:"name" jsonschema:"enum=owner_only,enum=private_only,enum=group_only,enum=admin_only,enum=cooldown"`
	IDs  []string `json:"ids,omitempty" jsonschema:"description=owner_only: allowed user ids (defaults to the bot owners)"`
	Uses int      `json:"uses,omitempty" jsonschema:"minimum=1,description=cooldown: invocations allowed per period"`
	Per  string   `json:"per,omitempty" jsonschema:"description=cooldown: period as a Go duration"`
}

// ManifestListener replies to invocations carried by command events.
type ManifestListener struct {
	Event string `json:"event" jsonschema:"minLength=1,description=Event key such as command_error or command_completion:ping"`
	Reply string `json:"reply,omitempty"`
	Send  string `json:"send,omitempty"`
}

// ManifestSchedule posts a message on a cron schedule.
type ManifestSchedule struct {
	Spec      string `json:"spec" jsonschema:"minLength=1,description=Cron spec or descriptor such as @every 1h"`
	Transport string `json:"transport" jsonschema:"minLength=1"`
	Chat      string `json:"chat" jsonschema:"minLength=1"`
	Text      string `json:"text" jsonschema:"minLength=1"`
}

var manifestSuffixes = []string{".cog.yaml", ".cog.yml", ".cog.json", ".cog.json5"}

// IsManifestFile reports whether name looks like an extension manifest.
func IsManifestFile(name string) bool {
	base := strings.ToLower(filepath.Base(name))
	for _, suffix := range manifestSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return true
		}
	}
	return false
}

// ManifestID derives the extension id from a manifest path:
// "extensions/greetings.cog.yaml" is "greetings".
func ManifestID(path string) string {
	base := filepath.Base(path)
	lower := strings.ToLower(base)
	for _, suffix := range manifestSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

var (
	manifestSchemaOnce sync.Once
	manifestSchemaJSON []byte
	manifestSchema     *jsonschema.Schema
	manifestSchemaErr  error
)

// ManifestSchema returns the JSON Schema of the manifest format.
func ManifestSchema() ([]byte, error) {
	compileManifestSchema()
	return manifestSchemaJSON, manifestSchemaErr
}

func compileManifestSchema() {
	manifestSchemaOnce.Do(func() {
		r := &invjsonschema.Reflector{
			FieldNameTag: "json",
			Anonymous:    true,
		}
		schema := r.Reflect(&Manifest{})
		manifestSchemaJSON, manifestSchemaErr = json.MarshalIndent(schema, "", "  ")
		if manifestSchemaErr != nil {
			return
		}
		manifestSchema, manifestSchemaErr = jsonschema.CompileString("manifest.schema.json", string(manifestSchemaJSON))
	})
}

// DecodeManifestFile reads and validates a manifest file.
func DecodeManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(path, data)
}

// DecodeManifest parses data as YAML, or JSON5 when name ends in .json or
// .json5, validates it against the manifest schema and decodes it.
func DecodeManifest(name string, data []byte) (*Manifest, error) {
	raw, err := parseManifestBytes(name, data)
	if err != nil {
		return nil, err
	}

	// Round-trip through JSON so the schema sees plain JSON values.
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	compileManifestSchema()
	if manifestSchemaErr != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", manifestSchemaErr)
	}
	if err := manifestSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest %s invalid: %w", filepath.Base(name), err)
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("manifest %s invalid: %w", filepath.Base(name), err)
	}
	return &m, nil
}

func parseManifestBytes(name string, data []byte) (any, error) {
	var raw any
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse manifest json5: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse manifest yaml: %w", err)
		}
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	return raw, nil
}

// Validate checks what the schema cannot: templates parse, defaults convert,
// and every leaf command responds.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest is nil")
	}
	if m.Plugin == nil && len(m.Commands) == 0 && len(m.Listeners) == 0 && len(m.Schedules) == 0 {
		return fmt.Errorf("manifest declares nothing")
	}
	if m.Plugin != nil {
		if err := validateChecks(m.Plugin.Checks); err != nil {
			return fmt.Errorf("plugin %q: %w", m.Plugin.Name, err)
		}
	}
	for _, cmd := range m.Commands {
		if err := cmd.validate(); err != nil {
			return err
		}
	}
	for i, l := range m.Listeners {
		if l.Reply == "" && l.Send == "" {
			return fmt.Errorf("listener %d (%s) has no reply or send", i, l.Event)
		}
		if _, err := parseTemplate("listener", l.Reply); err != nil {
			return err
		}
		if _, err := parseTemplate("listener", l.Send); err != nil {
			return err
		}
	}
	for _, s := range m.Schedules {
		if _, err := parseTemplate("schedule", s.Text); err != nil {
			return err
		}
	}
	return nil
}

func (c ManifestCommand) validate() error {
	if len(c.Subcommands) == 0 && c.Reply == "" && c.Send == "" {
		return fmt.Errorf("command %q has no reply, send or subcommands", c.Name)
	}
	if _, err := parseTemplate(c.Name, c.Reply); err != nil {
		return err
	}
	if _, err := parseTemplate(c.Name, c.Send); err != nil {
		return err
	}
	for _, p := range c.Params {
		if _, err := p.build(); err != nil {
			return fmt.Errorf("command %q: %w", c.Name, err)
		}
	}
	if err := validateChecks(c.Checks); err != nil {
		return fmt.Errorf("command %q: %w", c.Name, err)
	}
	for _, sub := range c.Subcommands {
		if err := sub.validate(); err != nil {
			return fmt.Errorf("group %q: %w", c.Name, err)
		}
	}
	return nil
}

func validateChecks(checks []ManifestCheck) error {
	for _, c := range checks {
		if c.Name != "cooldown" {
			continue
		}
		if c.Uses < 1 {
			return fmt.Errorf("cooldown needs uses >= 1")
		}
		per, err := time.ParseDuration(c.Per)
		if err != nil || per <= 0 {
			return fmt.Errorf("cooldown per %q is not a positive duration", c.Per)
		}
	}
	return nil
}

func (p ManifestParam) converter() (commands.Converter, error) {
	switch p.Type {
	case "", "string":
		return commands.String, nil
	case "int":
		return commands.Int, nil
	case "float":
		return commands.Float, nil
	case "bool":
		return commands.Bool, nil
	case "duration":
		return commands.Duration, nil
	case "member":
		return commands.Member, nil
	case "chat":
		return commands.Chat, nil
	case "choice":
		if len(p.Choices) == 0 {
			return nil, fmt.Errorf("param %q: choice needs choices", p.Name)
		}
		return commands.Choice(p.Choices...), nil
	default:
		return nil, fmt.Errorf("param %q: unknown type %q", p.Name, p.Type)
	}
}

func (p ManifestParam) build() (commands.Param, error) {
	conv, err := p.converter()
	if err != nil {
		return commands.Param{}, err
	}
	param := commands.Arg(p.Name, conv)
	if p.Trailing {
		param = commands.Rest(p.Name, conv)
	}
	param = param.Describe(p.Description)
	if p.Default == nil {
		return param, nil
	}
	if p.Type == "member" || p.Type == "chat" {
		return commands.Param{}, fmt.Errorf("param %q: %s params cannot have a default", p.Name, p.Type)
	}
	v, err := conv.Convert(context.Background(), &commands.Invocation{}, fmt.Sprint(p.Default))
	if err != nil {
		return commands.Param{}, fmt.Errorf("param %q: default: %w", p.Name, err)
	}
	return param.WithDefault(v), nil
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join":  strings.Join,
}

func parseTemplate(name, text string) (*template.Template, error) {
	if text == "" {
		return nil, nil
	}
	tmpl, err := template.New(name).Funcs(templateFuncs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}
	return tmpl, nil
}

// TemplateData is the value templates are executed with.
type TemplateData struct {
	Args    map[string]any
	Author  models.User
	Chat    models.Chat
	Prefix  string
	Path    string
	Content string
	Tokens  []string
	Error   string
	Config  map[string]any
	Now     time.Time
}

func newTemplateData(inv *commands.Invocation, config map[string]any) TemplateData {
	data := TemplateData{Config: config, Now: time.Now(), Args: map[string]any{}}
	if inv == nil {
		return data
	}
	data.Author = inv.Author
	data.Chat = inv.Chat
	data.Prefix = inv.Prefix
	data.Path = inv.Path
	data.Content = inv.Content
	data.Tokens = inv.Tokens
	if inv.Command != nil {
		for _, p := range inv.Command.Params {
			if v, ok := inv.Value(p.Name); ok {
				data.Args[p.Name] = v
			}
		}
	}
	if inv.Err != nil {
		data.Error = inv.Err.Error()
	}
	return data
}

func render(tmpl *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

type response struct {
	reply *template.Template
	send  *template.Template
}

func newResponse(name, reply, send string) (response, error) {
	r, err := parseTemplate(name, reply)
	if err != nil {
		return response{}, err
	}
	s, err := parseTemplate(name, send)
	if err != nil {
		return response{}, err
	}
	return response{reply: r, send: s}, nil
}

func (r response) deliver(ctx context.Context, inv *commands.Invocation, config map[string]any) error {
	data := newTemplateData(inv, config)
	if r.send != nil {
		text, err := render(r.send, data)
		if err != nil {
			return err
		}
		if err := inv.Send(ctx, text); err != nil {
			return err
		}
	}
	if r.reply != nil {
		text, err := render(r.reply, data)
		if err != nil {
			return err
		}
		return inv.Reply(ctx, text)
	}
	return nil
}

// SetupFunc builds the extension entry point for the manifest. Each call of
// the returned function creates fresh commands.
func (m *Manifest) SetupFunc() (SetupFunc, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return func(s *Setup) error {
		cmds := make([]*commands.Command, 0, len(m.Commands))
		for _, mc := range m.Commands {
			cmd, err := mc.build(s)
			if err != nil {
				return err
			}
			cmds = append(cmds, cmd)
		}

		if m.Plugin != nil {
			p := &commands.Plugin{Name: m.Plugin.Name, Description: m.Plugin.Description}
			if len(m.Plugin.Checks) > 0 {
				checks, err := buildChecks(m.Plugin.Checks, s.Owners())
				if err != nil {
					return err
				}
				p.Check = allOf(checks)
			}
			if err := s.AddPlugin(p, cmds...); err != nil {
				return err
			}
		} else {
			for _, cmd := range cmds {
				if err := s.AddCommand(cmd); err != nil {
					return err
				}
			}
		}

		for _, l := range m.Listeners {
			resp, err := newResponse("listener "+l.Event, l.Reply, l.Send)
			if err != nil {
				return err
			}
			config := s.Config()
			s.Listen(l.Event, func(ctx context.Context, event *hooks.Event) error {
				inv, ok := commands.InvocationFromEvent(event)
				if !ok {
					return nil
				}
				return resp.deliver(ctx, inv, config)
			}, hooks.WithName(s.ID()+" "+l.Event))
		}

		for _, sched := range m.Schedules {
			if err := schedule(s, sched); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (c ManifestCommand) build(s *Setup) (*commands.Command, error) {
	params := make([]commands.Param, 0, len(c.Params))
	for _, mp := range c.Params {
		p, err := mp.build()
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", c.Name, err)
		}
		params = append(params, p)
	}
	checks, err := buildChecks(c.Checks, s.Owners())
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", c.Name, err)
	}

	opts := []commands.Option{
		commands.WithAliases(c.Aliases...),
		commands.WithDescription(c.Description),
		commands.WithUsage(c.Usage),
		commands.WithParams(params...),
		commands.WithChecks(checks...),
	}
	if c.Hidden {
		opts = append(opts, commands.WithHidden())
	}

	var handler commands.HandlerFunc
	if c.Reply != "" || c.Send != "" {
		resp, err := newResponse(c.Name, c.Reply, c.Send)
		if err != nil {
			return nil, err
		}
		config := s.Config()
		handler = func(ctx context.Context, inv *commands.Invocation) error {
			return resp.deliver(ctx, inv, config)
		}
	}

	if len(c.Subcommands) == 0 {
		return commands.New(c.Name, handler, opts...), nil
	}
	group := commands.NewGroup(c.Name, handler, opts...)
	for _, sub := range c.Subcommands {
		child, err := sub.build(s)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", c.Name, err)
		}
		if err := group.AddCommand(child); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func buildChecks(specs []ManifestCheck, owners []string) ([]commands.Check, error) {
	checks := make([]commands.Check, 0, len(specs))
	for _, spec := range specs {
		switch spec.Name {
		case "owner_only":
			ids := spec.IDs
			if len(ids) == 0 {
				ids = owners
			}
			checks = append(checks, commands.OwnerOnly(ids...))
		case "private_only":
			checks = append(checks, commands.PrivateOnly())
		case "group_only":
			checks = append(checks, commands.GroupOnly())
		case "admin_only":
			checks = append(checks, commands.AdminOnly())
		case "cooldown":
			per, err := time.ParseDuration(spec.Per)
			if err != nil || per <= 0 || spec.Uses < 1 {
				return nil, fmt.Errorf("invalid cooldown %d per %q", spec.Uses, spec.Per)
			}
			limit := rate.Limit(float64(spec.Uses) / per.Seconds())
			checks = append(checks, commands.Cooldown(limit, spec.Uses))
		default:
			return nil, fmt.Errorf("unknown check %q", spec.Name)
		}
	}
	return checks, nil
}

func allOf(checks []commands.Check) commands.CheckFunc {
	return func(ctx context.Context, inv *commands.Invocation) bool {
		for _, c := range checks {
			if !c.Predicate(ctx, inv) {
				return false
			}
		}
		return true
	}
}

func schedule(s *Setup, spec ManifestSchedule) error {
	tmpl, err := parseTemplate("schedule "+spec.Spec, spec.Text)
	if err != nil {
		return err
	}
	logger := s.Logger()
	config := s.Config()
	return s.Schedule(spec.Spec, func(ctx context.Context) {
		tr, ok := s.Transport(spec.Transport)
		if !ok {
			logger.Warn("scheduled message skipped: transport not attached", "transport", spec.Transport)
			return
		}
		text, err := render(tmpl, newTemplateData(nil, config))
		if err != nil {
			logger.Warn("scheduled message render failed", "error", err)
			return
		}
		if err := tr.Send(ctx, spec.Chat, text); err != nil {
			logger.Warn("scheduled message send failed", "transport", spec.Transport, "chat", spec.Chat, "error", err)
		}
	})
}

// ManifestOrigin loads a manifest file. Every Resolve re-reads the file.
func ManifestOrigin(path string) Origin {
	return manifestOrigin{path: filepath.Clean(path)}
}

type manifestOrigin struct {
	path string
}

func (o manifestOrigin) ID() string { return ManifestID(o.path) }

// Path returns the manifest file path.
func (o manifestOrigin) Path() string { return o.path }

func (o manifestOrigin) Resolve(context.Context) (SetupFunc, error) {
	m, err := DecodeManifestFile(o.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", commands.ErrLoad, err)
	}
	return m.SetupFunc()
}

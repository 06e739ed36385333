package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const greetManifest = `
plugin:
  name: greetings
commands:
  - name: greet
    description: Greet someone
    params:
      - name: name
        default: friend
    reply: "Hello, {{.Args.name}}!"
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeConfig creates a config whose extension path holds the greetings
// manifest.
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	extDir := filepath.Join(dir, "extensions")
	if err := os.Mkdir(extDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, extDir, "greetings.cog.yaml", greetManifest)
	return writeFile(t, dir, "cogbot.yaml", `
bot:
  prefix: "!"
  state_dir: `+dir+`
extensions:
  paths: [`+extDir+`]
logging:
  format: text
`)
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "commands", "extensions", "config"} {
		if !names[name] {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestCommandsPrintsTree(t *testing.T) {
	out, err := execute(t, "commands", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("commands error = %v\n%s", err, out)
	}
	for _, want := range []string{
		"core\n",
		"  !help [name...] - Show this message\n",
		"    !ext load <id> - Load an extension\n",
		"    !ext list (aliases: ls) - List loaded extensions\n",
		"greetings\n",
		"  !greet [name=friend] - Greet someone\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestExtensionsListJSON(t *testing.T) {
	out, err := execute(t, "extensions", "list", "--json", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("extensions list error = %v\n%s", err, out)
	}
	var exts []struct {
		ID      string   `json:"id"`
		Plugins []string `json:"plugins"`
	}
	if err := json.Unmarshal([]byte(out), &exts); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if len(exts) != 2 || exts[0].ID != "core" || exts[1].ID != "greetings" {
		t.Errorf("extensions = %+v", exts)
	}
}

func TestExtensionsValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "greetings.cog.yaml", greetManifest)

	out, err := execute(t, "extensions", "validate", good)
	if err != nil {
		t.Fatalf("validate error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "ok   "+good+" (greetings)") {
		t.Errorf("output = %q", out)
	}

	writeFile(t, dir, "broken.cog.yaml", "commands:\n  - name: x\n    reply: \"{{.Args\"\n")
	out, err = execute(t, "extensions", "validate", dir)
	if err == nil {
		t.Fatalf("validate accepted a broken manifest:\n%s", out)
	}
	if !strings.Contains(out, "FAIL "+filepath.Join(dir, "broken.cog.yaml")) {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "extensions", "validate", filepath.Join(dir, "missing.cog.yaml")); err == nil {
		t.Error("validate accepted a missing file")
	}
}

func TestSchemas(t *testing.T) {
	for _, args := range [][]string{{"extensions", "schema"}, {"config", "schema"}} {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			out, err := execute(t, args...)
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if !json.Valid([]byte(out)) {
				t.Errorf("schema is not JSON:\n%s", out)
			}
		})
	}
}

func TestConfigCheck(t *testing.T) {
	out, err := execute(t, "config", "check", "--config", writeConfig(t))
	if err != nil {
		t.Fatalf("config check error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "prefix: !") || !strings.Contains(out, "channels: none") {
		t.Errorf("output = %q", out)
	}

	bad := writeFile(t, t.TempDir(), "bad.yaml", "storage:\n  driver: mongo\n")
	out, err = execute(t, "config", "check", "--config", bad)
	if err == nil {
		t.Fatal("config check accepted an invalid config")
	}
	if !strings.Contains(out, `storage.driver "mongo"`) {
		t.Errorf("output = %q", out)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("COGBOT_CONFIG", "")
	if got := resolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("explicit = %q", got)
	}
	t.Setenv("COGBOT_CONFIG", "/etc/cogbot.yaml")
	if got := resolveConfigPath(""); got != "/etc/cogbot.yaml" {
		t.Errorf("env = %q", got)
	}
}

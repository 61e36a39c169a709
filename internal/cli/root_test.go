package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsondb/internal/keygen"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "jsondb", cmd.Use)
	assert.Contains(t, cmd.Long, "slash paths")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"get", "set", "push", "update", "delete", "exists", "key", "version", "migrate", "export", "import", "bootstrap"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "backend"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
}

func TestGetCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	getCmd, _, err := cmd.Find([]string{"get"})
	require.NoError(t, err)

	for _, name := range []string{"pretty", "shallow", "depth", "callback", "order", "start-at", "start-after", "end-at", "end-before", "limit"} {
		assert.NotNil(t, getCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "asc", getCmd.Flags().Lookup("order").DefValue)
}

// cliRun executes one CLI invocation against an isolated environment.
type cliRun struct {
	t     *testing.T
	env   map[string]string
	stdin string
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func newCLI(t *testing.T) *cliRun {
	t.Helper()
	return &cliRun{
		t: t,
		env: map[string]string{
			"JSONDB_PATH": filepath.Join(t.TempDir(), "cli.db"),
		},
	}
}

func (c *cliRun) run(args ...string) cliResult {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), &RootOptions{Environ: c.env}, args, strings.NewReader(c.stdin), &stdout, &stderr)
	c.stdin = ""
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func (c *cliRun) ok(args ...string) string {
	c.t.Helper()
	res := c.run(args...)
	require.Equal(c.t, ExitSuccess, res.code, "args %v\nstdout: %s\nstderr: %s", args, res.stdout, res.stderr)
	return res.stdout
}

func TestCLI_SetGetDelete(t *testing.T) {
	c := newCLI(t)

	c.ok("set", "/users/ada", `{"name":"Ada","born":1815}`)
	assert.JSONEq(t, `{"name":"Ada","born":1815}`, c.ok("get", "/users/ada"))
	assert.Equal(t, "\"Ada\"\n", c.ok("get", "/users/ada/name"))

	c.stdin = `{"name":"Grace"}`
	c.ok("set", "/users/grace")
	assert.Equal(t, `{"ada":true,"grace":true}`+"\n", c.ok("get", "/users", "--shallow"))
	assert.Equal(t, `{"grace":{"name":"Grace"}}`+"\n", c.ok("get", "/users", "--order", "desc", "--limit", "1"))

	c.ok("update", "/users/ada", `{"born":null,"field":"math"}`)
	assert.JSONEq(t, `{"name":"Ada","field":"math"}`, c.ok("get", "/users/ada"))

	assert.Equal(t, "true\n", c.ok("exists", "/users/ada"))
	assert.Equal(t, "true\n", c.ok("delete", "/users/ada"))
	assert.Equal(t, "false\n", c.ok("delete", "/users/ada"))

	res := c.run("exists", "/users/ada")
	assert.Equal(t, ExitFailure, res.code)
	assert.Equal(t, "false\n", res.stdout)

	res = c.run("get", "/users/ada")
	assert.Equal(t, ExitFailure, res.code)
	assert.Contains(t, res.stdout, "Error [NOT_FOUND]")
}

func TestCLI_CommandErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"bad path", []string{"set", "/a.b", `1`}, ExitCommandError},
		{"bad document", []string{"set", "/a", `{"a":`}, ExitCommandError},
		{"update needs object", []string{"update", "/a", `[1]`}, ExitCommandError},
		{"bad format", []string{"--format", "yaml", "get", "/a"}, ExitCommandError},
		{"bad backend", []string{"--backend", "redis", "get", "/a"}, ExitCommandError},
		{"missing args", []string{"get"}, ExitCommandError},
		{"callback with json", []string{"--format", "json", "get", "/a", "--callback", "cb"}, ExitCommandError},
		{"no plan", []string{"migrate"}, ExitCommandError},
		{"bad order", []string{"get", "/", "--order", "up"}, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.run(tt.args...)
			assert.Equal(t, tt.want, res.code, "stdout: %s\nstderr: %s", res.stdout, res.stderr)
		})
	}
}

func TestCLI_JSONFormat(t *testing.T) {
	c := newCLI(t)

	out := c.ok("--format", "json", "set", "/cfg", `{"a":1}`)
	assert.JSONEq(t, `{"status":"ok","data":{"path":"/cfg","written":1,"deleted":0}}`, out)

	out = c.ok("--format", "json", "get", "/cfg")
	assert.JSONEq(t, `{"status":"ok","data":{"a":1}}`, out)

	res := c.run("--format", "json", "get", "/missing")
	assert.Equal(t, ExitFailure, res.code)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestCLI_Push(t *testing.T) {
	c := newCLI(t)

	first := strings.TrimSpace(c.ok("push", "/messages", `{"text":"one"}`))
	second := strings.TrimSpace(c.ok("push", "/messages", `{"text":"two"}`))
	assert.Len(t, first, keygen.KeyLength)
	assert.Less(t, first, second)

	assert.JSONEq(t, `{"text":"two"}`, c.ok("get", "/messages/"+second))
}

func TestCLI_Key(t *testing.T) {
	cmd := NewKeyCommand(&RootOptions{Format: "text"})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--count", "3"})
	require.NoError(t, cmd.Execute())

	keys := strings.Fields(buf.String())
	require.Len(t, keys, 3)
	for i, k := range keys {
		assert.Len(t, k, keygen.KeyLength)
		if i > 0 {
			assert.Less(t, keys[i-1], k)
		}
	}

	opts := &KeyOptions{RootOptions: &RootOptions{Format: "json"}, Count: 2, Keys: keygen.NewFixedGenerator("k1", "k2")}
	buf.Reset()
	cmd.SetOut(buf)
	require.NoError(t, runKey(opts, cmd))
	assert.JSONEq(t, `{"status":"ok","data":["k1","k2"]}`, buf.String())
}

func TestCLI_Migrate(t *testing.T) {
	c := newCLI(t)
	plan := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte(`steps:
  - version: 1
    set_default: {path: /settings, value: {theme: light}}
  - version: 2
    rename: {from: /settings, to: /prefs}
`), 0o644))

	c.ok("set", "/users", `{"u1":1}`)
	assert.Equal(t, "0\n", c.ok("version"))

	c.env["JSONDB_MIGRATIONS"] = plan
	assert.Equal(t, "0\n", c.ok("version"), "version does not migrate")

	assert.Equal(t, "migrated from version 0 to 1 (applied [1])\n", c.ok("migrate", "--to", "1"))

	// Pin the version other commands migrate to on open.
	c.env["JSONDB_SCHEMA_VERSION"] = "1"
	assert.JSONEq(t, `{"theme":"light"}`, c.ok("get", "/settings"))

	out := c.ok("--format", "json", "migrate", "--to", "2")
	var resp struct {
		Data MigrationSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.From)
	assert.Equal(t, 2, resp.Data.To)
	assert.Equal(t, []int{2}, resp.Data.Applied)
	assert.NotEmpty(t, resp.Data.RunID)

	assert.Equal(t, "already at version 2\n", c.ok("migrate"))
	assert.JSONEq(t, `{"theme":"light"}`, c.ok("get", "/prefs"))
}

func TestCLI_ExportImport(t *testing.T) {
	c := newCLI(t)
	c.env["JSONDB_ENCRYPTION_KEY"] = "a secret long enough to use"
	c.env["JSONDB_SENSITIVE_FIELDS"] = "password"

	c.ok("set", "/", `{"db":{"user":"app","password":"pw"},"tags":["x","y"]}`)

	snap := filepath.Join(t.TempDir(), "backup.snap")
	c.ok("export", "/", "--output", snap, "--compression", "lz4")
	raw, err := os.ReadFile(snap)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("JSONDB-SNAPSHOT 1\n")))

	// Restore into a fresh badger store with the same key.
	c.env["JSONDB_BACKEND"] = "badger"
	c.env["JSONDB_PATH"] = t.TempDir()
	out := c.ok("--format", "json", "import", snap)
	assert.Contains(t, out, `"codec":"lz4"`)
	assert.JSONEq(t, `{"db":{"user":"app","password":"pw"},"tags":["x","y"]}`, c.ok("get", "/"))

	// Export to stdout then import from stdin.
	stream := c.ok("export", "/db")
	c.env["JSONDB_PATH"] = t.TempDir()
	c.stdin = stream
	c.ok("import")
	assert.JSONEq(t, `{"user":"app","password":"pw"}`, c.ok("get", "/db"))

	res := c.run("import", filepath.Join(t.TempDir(), "missing.snap"))
	assert.Equal(t, ExitCommandError, res.code)
}

func TestCLI_Bootstrap(t *testing.T) {
	c := newCLI(t)
	c.env["JSONDB_ENCRYPTION_KEY"] = "a secret long enough to use"
	c.env["DB_HOST"] = "db.internal"
	c.env["DB_PASSWORD"] = "hunter2"

	seed := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{"host":"@DB_HOST@","password":"@ENC:DB_PASSWORD@"}`), 0o644))

	assert.Equal(t, "loaded /config\n", c.ok("bootstrap", "/config", seed))
	assert.JSONEq(t, `{"host":"db.internal","password":"hunter2"}`, c.ok("get", "/config"))
	assert.Equal(t, "/config already present, nothing loaded\n", c.ok("bootstrap", "/config", seed))

	delete(c.env, "DB_HOST")
	res := c.run("bootstrap", "/other", seed)
	assert.Equal(t, ExitCommandError, res.code)
	assert.Contains(t, res.stdout, "DB_HOST")
}

package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fellowship/internal/config"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// jsonResponse is CLIResponse with the payload left undecoded.
type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fellowship", cmd.Use)
	assert.Contains(t, cmd.Long, "announcement feed")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"event", "create"}, {"event", "list"},
		{"announcement", "create"}, {"announcement", "list"},
		{"ministry", "create"}, {"ministry", "list"},
		{"prayer", "submit"}, {"prayer", "toggle"}, {"prayer", "pray"}, {"prayer", "list"},
		{"group", "create"}, {"group", "join"}, {"group", "send"}, {"group", "messages"},
		{"discussion", "create"}, {"discussion", "comment"}, {"discussion", "recount"},
		{"watch", "group"},
		{"reconcile"}, {"serve"}, {"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(filepath.Join(path...), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
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

	for _, name := range []string{"config", "db", "remote", "token", "user", "user-name"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue, name)
	}
}

func TestInvalidFormatIsCommandError(t *testing.T) {
	_, err := execute(t, "event", "list", "--format", "xml", "--db", filepath.Join(t.TempDir(), "f.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestBadSettingsFileIsCommandError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0644))

	_, err := execute(t, "event", "list", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSettings_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  path: from-file.db
user:
  id: u-file
  name: File
`), 0644))

	opts := &RootOptions{Config: path, DB: filepath.Join(dir, "flag.db"), UserName: "Flag"}
	cfg, err := opts.Settings()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "flag.db"), cfg.Store.Path)
	assert.Equal(t, "u-file", cfg.User.ID)
	assert.Equal(t, "Flag", cfg.User.Name)

	again, err := opts.Settings()
	require.NoError(t, err)
	assert.Same(t, cfg, again)
}

func TestUser_SignedOutByDefault(t *testing.T) {
	opts := &RootOptions{}
	assert.False(t, opts.User().Authenticated())

	opts = &RootOptions{UserID: "u-1", UserName: "Ann"}
	assert.True(t, opts.User().Authenticated())
	assert.Equal(t, "Ann", opts.User().Name)
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		verbose bool
		debug   bool
		info    bool
	}{
		{"default_info", config.LogConfig{Level: "info", Format: "text"}, false, false, true},
		{"warn_hides_info", config.LogConfig{Level: "warn", Format: "text"}, false, false, false},
		{"verbose_forces_debug", config.LogConfig{Level: "error", Format: "text"}, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := newLogger(buf, tt.cfg, tt.verbose)
			assert.Equal(t, tt.debug, logger.Enabled(t.Context(), slog.LevelDebug))
			assert.Equal(t, tt.info, logger.Enabled(t.Context(), slog.LevelInfo))
		})
	}
}

func TestNewLogger_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, config.LogConfig{Level: "info", Format: "json"}, false)
	logger.Info("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "v", line["k"])
}

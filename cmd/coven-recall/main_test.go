// ABOUTME: Tests for the coven-recall command line
// ABOUTME: Covers config path priority, the init wizard and the version command

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-recall/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_RECALL_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")

	assert.Equal(t, "/flag.yaml", getConfigPath("/flag.yaml"))
	assert.Equal(t, filepath.Join("/xdg", "coven", "recall.yaml"), getConfigPath(""))

	t.Setenv("COVEN_RECALL_CONFIG", "/env.toml")
	assert.Equal(t, "/env.toml", getConfigPath(""))
	assert.Equal(t, "/flag.yaml", getConfigPath("/flag.yaml"))
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "coven"), getDataPath())
}

func TestRenderConfig_RoundTrip(t *testing.T) {
	data, err := renderConfig(initAnswers{
		Homeserver: "https://matrix.example.org",
		Username:   "recallbot",
		Password:   "secret",
		GatewayURL: "http://localhost:8080",
		Marker:     "[undo]",
	})
	require.NoError(t, err)

	cfg, err := config.Parse(data, false)
	require.NoError(t, err)
	assert.True(t, cfg.Matrix.Enabled)
	assert.False(t, cfg.Telegram.Enabled)
	assert.Equal(t, "recallbot", cfg.Matrix.Username)
	assert.Equal(t, "[undo]", cfg.Recall.Marker)
	assert.Equal(t, config.DefaultSettleDelay, cfg.Recall.SettleDelay)
	assert.Equal(t, config.DefaultMaxHistory, cfg.Recall.MaxHistory)
}

func TestRenderConfig_NoFrontend(t *testing.T) {
	_, err := renderConfig(initAnswers{Homeserver: "https://matrix.org", GatewayURL: "http://localhost:8080"})
	assert.Error(t, err)
}

func TestRunInit_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coven", "recall.yaml")
	// homeserver, username, password, recovery key, telegram token, gateway, marker
	input := strings.Join([]string{
		"",
		"recallbot",
		"secret",
		"",
		"123:telegram",
		"",
		"",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader(input), &out, path))
	assert.Contains(t, out.String(), "Config written to")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://matrix.org", cfg.Matrix.Homeserver)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "http://localhost:8080", cfg.Gateway.URL)
	assert.Equal(t, config.DefaultMarker, cfg.Recall.Marker)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRunInit_KeepsExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(strings.NewReader("n\n"), &out, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.Contains(t, out.String(), "Aborted.")
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "coven-recall dev\n", out.String())
}

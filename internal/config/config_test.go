package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Patcher/internal/types"
	"github.com/fortiblox/X1-Patcher/pkg/history"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	cfg, err := load(t)
	require.NoError(t, err)
	assert.True(t, cfg.Archive.Compress)
	assert.Equal(t, types.Blake3, cfg.Archive.Algorithm)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Nil(t, cfg.History)
}

func TestFlags(t *testing.T) {
	cfg, err := load(t,
		"-i", "in.tar.zst", "-o", "out.tar", "--compress=false",
		"--digest", "sha3-256", "--log-level", "debug",
		"--history-path", "/tmp/h.db", "--history-backend", "badger")
	require.NoError(t, err)
	assert.Equal(t, "in.tar.zst", cfg.Input)
	assert.Equal(t, "out.tar", cfg.Output)
	assert.False(t, cfg.Archive.Compress)
	assert.Equal(t, types.SHA3256, cfg.Archive.Algorithm)
	assert.Equal(t, "debug", cfg.Log.Level)
	require.NotNil(t, cfg.History)
	assert.Equal(t, history.Config{Backend: "badger", Path: "/tmp/h.db"}, *cfg.History)
}

func TestEnvAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patcher.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
input: from-file.tar
signatures: sigs.toml
compress-level: 7
log:
  level: warn
  format: json
`), 0o644))

	t.Setenv("PATCHER_LOG_LEVEL", "error")
	t.Setenv("PATCHER_OUTPUT", "from-env.tar")

	cfg, err := load(t, "--config", path, "-s", "flag.toml")
	require.NoError(t, err)
	assert.Equal(t, "from-file.tar", cfg.Input)
	assert.Equal(t, "from-env.tar", cfg.Output)
	assert.Equal(t, "flag.toml", cfg.Signatures)
	assert.Equal(t, 7, cfg.Archive.Level)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestInvalid(t *testing.T) {
	_, err := load(t, "--digest", "md5")
	assert.Error(t, err)

	_, err = load(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

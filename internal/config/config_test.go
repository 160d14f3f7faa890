package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flagsWith(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const testSecret = "0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISPATCH_SECRET", testSecret)
	l, err := NewLoader(flagsWith(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5, cfg.AlertCapacity)
	assert.Equal(t, 50, cfg.TranscriptCapacity)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoad_FileEnvAndFlagPrecedence(t *testing.T) {
	path := writeConfig(t, "secret: "+testSecret+"\nport: 9000\nlog_level: debug\napi_base_url: http://api.internal\ncache_max_age: 30s\n")
	t.Setenv("DISPATCH_API_BASE_URL", "http://api.env")

	l, err := NewLoader(flagsWith(t, "--config", path, "--port", "9100"))
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "http://api.env", cfg.APIBaseURL)
	assert.Equal(t, 30*time.Second, cfg.CacheMaxAge)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, "secret: "+testSecret+"\nmode: chaos\n")
	l, err := NewLoader(flagsWith(t, "--config", path))
	require.NoError(t, err)

	_, err = l.Load()
	assert.ErrorContains(t, err, "invalid config")
}

func TestLoad_NilFlags(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")
	t.Setenv("DISPATCH_SECRET", testSecret)
	l, err := NewLoader(nil)
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.Mode)
}

func TestLoad_RequiresSecret(t *testing.T) {
	l, err := NewLoader(flagsWith(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)

	_, err = l.Load()
	assert.ErrorContains(t, err, "Secret")
}

package app

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zachfi/streamrelay/modules/relay"
)

func TestConfig_RegisterFlagsAndApplyDefaults(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("", fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, All, cfg.Target)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3000, cfg.Server.HTTPListenPort)
	assert.Zero(t, cfg.Server.HTTPServerWriteTimeout)
	assert.Equal(t, relay.PolicyFallback, cfg.Relay.Policy)
}

func TestConfig_LoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target: relay
log_level: debug
server:
  http_listen_port: 8080
relay:
  url: http://example.com/radio.mp3
  policy: immediate
  close-listeners-on-switch: false
  retry-delay:
    end: 2s
`), 0o600))

	var cfg Config
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("", fs)
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, Relay, cfg.Target)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.HTTPListenPort)
	assert.Equal(t, "http://example.com/radio.mp3", cfg.Relay.URL)
	assert.Equal(t, relay.PolicyImmediate, cfg.Relay.Policy)
	assert.False(t, cfg.Relay.CloseListenersOnSwitch)
	assert.Equal(t, 2*time.Second, cfg.Relay.RetryDelay.End)

	// Not in the file, so the flag defaults survive.
	assert.Equal(t, 9090, cfg.Server.GRPCListenPort)
	assert.Equal(t, 5*time.Second, cfg.Relay.WatchdogTimeout)
}

func TestConfig_LoadFileRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay:\n  bogus: true\n"), 0o600))

	var cfg Config
	require.Error(t, cfg.LoadFile(path))
}

func TestConfig_LoadFileMissing(t *testing.T) {
	var cfg Config
	require.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

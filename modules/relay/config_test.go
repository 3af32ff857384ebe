package relay

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfig_FlagDefaults(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("relay", fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, defaultURL, cfg.URL)
	assert.Equal(t, PolicyFallback, cfg.Policy)
	assert.True(t, cfg.CloseListenersOnSwitch)
	assert.Equal(t, defaultWatchdogTimeout, cfg.WatchdogTimeout)
	assert.Equal(t, defaultStatusRetryDelay, cfg.RetryDelay.Status)
	assert.Equal(t, defaultErrorRetryDelay, cfg.RetryDelay.Error)
	assert.Equal(t, defaultEndRetryDelay, cfg.RetryDelay.End)
	assert.Zero(t, cfg.RetryDelay.Watchdog)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Flags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("relay", fs)
	require.NoError(t, fs.Parse([]string{
		"-relay.url=http://example.com/radio.mp3",
		"-relay.policy=immediate",
		"-relay.close-listeners-on-switch=false",
		"-relay.retry-delay.error=250ms",
	}))

	assert.Equal(t, "http://example.com/radio.mp3", cfg.URL)
	assert.Equal(t, PolicyImmediate, cfg.Policy)
	assert.False(t, cfg.CloseListenersOnSwitch)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay.Error)
}

func TestConfig_YAMLOverlay(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("", flag.ContinueOnError)
	cfg.RegisterFlagsAndApplyDefaults("relay", fs)

	require.NoError(t, yaml.UnmarshalStrict([]byte(`
url: https://example.com/stream
policy: backoff
watchdog-timeout: 4s
retry-delay:
  status: 50ms
`), &cfg))

	assert.Equal(t, "https://example.com/stream", cfg.URL)
	assert.Equal(t, PolicyBackoff, cfg.Policy)
	assert.Equal(t, 4*time.Second, cfg.WatchdogTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryDelay.Status)
	assert.Equal(t, defaultErrorRetryDelay, cfg.RetryDelay.Error)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	for name, cfg := range map[string]Config{
		"unknown policy":   {Policy: "later"},
		"relative url":     {URL: "radio.mp3"},
		"unsupported url":  {URL: "rtmp://example.com/live"},
		"negative delay":   {RetryDelay: RetryDelays{End: -time.Second}},
		"negative timeout": {WatchdogTimeout: -time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cfg.Validate())
		})
	}

	empty := Config{}
	assert.NoError(t, empty.Validate())
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{ReconnectBackoff: time.Second, ReconnectBackoffMax: time.Millisecond}
	cfg.applyDefaults()

	assert.Equal(t, PolicyFallback, cfg.Policy)
	assert.Equal(t, defaultReadBufferSize, cfg.ReadBufferSize)
	assert.Equal(t, defaultListenerQueueSize, cfg.ListenerQueueSize)
	assert.Equal(t, time.Second, cfg.ReconnectBackoffMax)
}

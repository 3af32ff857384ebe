package relay

import (
	"flag"
	"fmt"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/streamrelay/pkg/shoutcast"
)

// Policy selects how the connector recovers from an upstream failure.
type Policy string

const (
	// PolicyImmediate restarts against the current target with no delay.
	PolicyImmediate Policy = "immediate"
	// PolicyFallback reverts to the previous target and arms a no-data watchdog.
	PolicyFallback Policy = "fallback"
	// PolicyBackoff restarts against the current target with exponential backoff.
	PolicyBackoff Policy = "backoff"
)

const (
	defaultURL               = "https://stream.rsgmedia.ba/listen/radio_mix/radio.mp3"
	defaultWatchdogTimeout   = 5 * time.Second
	defaultStatusRetryDelay  = 100 * time.Millisecond
	defaultErrorRetryDelay   = 3 * time.Second
	defaultEndRetryDelay     = time.Second
	defaultReconnectInitial  = 500 * time.Millisecond
	defaultReconnectMax      = 30 * time.Second
	defaultConnectTimeout    = 5 * time.Second
	defaultReadBufferSize    = 16 * 1024
	defaultListenerQueueSize = 256
)

// RetryDelays holds the fallback policy's restart delay per failure class.
type RetryDelays struct {
	Status   time.Duration `yaml:"status,omitempty"`   // non-200 upstream response
	Error    time.Duration `yaml:"error,omitempty"`    // connect or read error
	End      time.Duration `yaml:"end,omitempty"`      // upstream closed the stream
	Watchdog time.Duration `yaml:"watchdog,omitempty"` // no data within watchdog-timeout
}

type Config struct {
	URL                    string        `yaml:"url,omitempty"`
	Policy                 Policy        `yaml:"policy,omitempty"`
	CloseListenersOnSwitch bool          `yaml:"close-listeners-on-switch"`
	WatchdogTimeout        time.Duration `yaml:"watchdog-timeout,omitempty"`
	RetryDelay             RetryDelays   `yaml:"retry-delay,omitempty"`
	ReconnectBackoff       time.Duration `yaml:"reconnect-backoff,omitempty"`     // initial delay for the backoff policy
	ReconnectBackoffMax    time.Duration `yaml:"reconnect-backoff-max,omitempty"` // cap on reconnect delay (exponential backoff)
	ConnectTimeout         time.Duration `yaml:"connect-timeout,omitempty"`
	UserAgent              string        `yaml:"user-agent,omitempty"`
	ResolvePlaylists       bool          `yaml:"resolve-playlists,omitempty"`
	ReadBufferSize         int           `yaml:"read-buffer-size,omitempty"`    // largest chunk read from upstream in one go
	ListenerQueueSize      int           `yaml:"listener-queue-size,omitempty"` // chunks buffered per listener before it is evicted
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Policy = PolicyFallback
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), defaultURL, "The upstream URL to relay at startup. Empty starts idle until a target is set.")
	f.Func(util.PrefixConfig(prefix, "policy"), "Upstream failure policy: immediate, fallback or backoff (default fallback).", func(s string) error {
		cfg.Policy = Policy(s)
		return nil
	})
	f.BoolVar(&cfg.CloseListenersOnSwitch, util.PrefixConfig(prefix, "close-listeners-on-switch"), true,
		"Disconnect every listener when the target changes so no connection carries two sources.")
	f.DurationVar(&cfg.WatchdogTimeout, util.PrefixConfig(prefix, "watchdog-timeout"), defaultWatchdogTimeout,
		"Fallback policy: treat an upstream that sends no data within this window as failed. 0 disables.")
	f.DurationVar(&cfg.RetryDelay.Status, util.PrefixConfig(prefix, "retry-delay.status"), defaultStatusRetryDelay,
		"Fallback policy: delay before reconnecting after a non-200 response.")
	f.DurationVar(&cfg.RetryDelay.Error, util.PrefixConfig(prefix, "retry-delay.error"), defaultErrorRetryDelay,
		"Fallback policy: delay before reconnecting after a transport error.")
	f.DurationVar(&cfg.RetryDelay.End, util.PrefixConfig(prefix, "retry-delay.end"), defaultEndRetryDelay,
		"Fallback policy: delay before reconnecting after the upstream ended the stream.")
	f.DurationVar(&cfg.RetryDelay.Watchdog, util.PrefixConfig(prefix, "retry-delay.watchdog"), 0,
		"Fallback policy: delay before reconnecting after the watchdog fired.")
	f.DurationVar(&cfg.ReconnectBackoff, util.PrefixConfig(prefix, "reconnect-backoff"), defaultReconnectInitial,
		"Backoff policy: initial delay before reconnecting. Exponential backoff is used up to reconnect-backoff-max.")
	f.DurationVar(&cfg.ReconnectBackoffMax, util.PrefixConfig(prefix, "reconnect-backoff-max"), defaultReconnectMax,
		"Backoff policy: maximum delay between reconnection attempts.")
	f.DurationVar(&cfg.ConnectTimeout, util.PrefixConfig(prefix, "connect-timeout"), defaultConnectTimeout,
		"Timeout for establishing the upstream connection.")
	f.StringVar(&cfg.UserAgent, util.PrefixConfig(prefix, "user-agent"), shoutcast.DefaultUserAgent, "User-Agent sent upstream.")
	f.BoolVar(&cfg.ResolvePlaylists, util.PrefixConfig(prefix, "resolve-playlists"), false,
		"Resolve .pls and .m3u targets to the first stream they list.")
	f.IntVar(&cfg.ReadBufferSize, util.PrefixConfig(prefix, "read-buffer-size"), defaultReadBufferSize,
		"Largest chunk read from the upstream at once.")
	f.IntVar(&cfg.ListenerQueueSize, util.PrefixConfig(prefix, "listener-queue-size"), defaultListenerQueueSize,
		"Chunks queued per listener. A listener that falls this far behind is disconnected.")
}

// applyDefaults fills zero values that make no sense at runtime, for configs
// built without flag registration.
func (cfg *Config) applyDefaults() {
	if cfg.Policy == "" {
		cfg.Policy = PolicyFallback
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.ListenerQueueSize <= 0 {
		cfg.ListenerQueueSize = defaultListenerQueueSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectInitial
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectBackoff {
		cfg.ReconnectBackoffMax = cfg.ReconnectBackoff
	}
}

// Validate reports configuration the relay cannot run with.
func (cfg *Config) Validate() error {
	switch cfg.Policy {
	case "", PolicyImmediate, PolicyFallback, PolicyBackoff:
	default:
		return fmt.Errorf("unknown policy %q", cfg.Policy)
	}

	if cfg.URL != "" {
		if err := validateTarget(cfg.URL); err != nil {
			return err
		}
	}

	for name, d := range map[string]time.Duration{
		"watchdog-timeout":     cfg.WatchdogTimeout,
		"retry-delay.status":   cfg.RetryDelay.Status,
		"retry-delay.error":    cfg.RetryDelay.Error,
		"retry-delay.end":      cfg.RetryDelay.End,
		"retry-delay.watchdog": cfg.RetryDelay.Watchdog,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	return nil
}

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zachfi/streamrelay/pkg/shoutcast"
)

// State is the upstream connector's state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateStreaming  State = "streaming"
	StateFailed     State = "failed"
)

// Status is a point-in-time view of the relay.
type Status struct {
	URL         string `json:"url"`
	PreviousURL string `json:"previousUrl,omitempty"`
	State       State  `json:"state"`
	Policy      Policy `json:"policy"`
	FallingBack bool   `json:"fallingBack"`
	Listeners   int    `json:"listeners"`
	Session     uint64 `json:"session"`
	LastError   string `json:"lastError,omitempty"`

	// Reported by the upstream in its icy-* headers.
	StationName  string `json:"stationName,omitempty"`
	StationGenre string `json:"stationGenre,omitempty"`
	Bitrate      int    `json:"bitrate,omitempty"`
}

// Relay keeps one upstream connection open and fans its bytes out to every
// registered listener.
//
// All relay state is owned by the goroutine running the service: control
// calls, listener churn, upstream events and timer expiries reach it as
// commands on cmdCh.
type Relay struct {
	services.Service
	cfg     *Config
	logger  *slog.Logger
	clock   clockwork.Clock
	client  *shoutcast.Client
	reg     prometheus.Registerer
	metrics *metrics
	tracer  trace.Tracer

	cmdCh   chan command
	stopped chan struct{}
	ctx     context.Context // the running context, parent of every session

	sessionsWg sync.WaitGroup // signals when every session goroutine has exited

	// Owned by the loop.
	target      string
	previous    string
	unconfirmed bool // target was set but has not delivered data yet
	fallingBack bool
	state       State
	gen         uint64
	session     *session
	gotData     bool
	lastErr     error
	watchdog    clockwork.Timer
	retry       clockwork.Timer
	backoff     *backoff.Backoff
	registry    *Registry
	station     Connected
}

var module = "relay"

// Option customises a Relay.
type Option func(*Relay)

// WithClock sets the clock used for the watchdog and retry timers.
func WithClock(c clockwork.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// WithRegisterer sets where the relay registers its metrics. It defaults to
// prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Relay) { r.reg = reg }
}

// WithTracerProvider sets the provider for upstream session spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) { r.tracer = tp.Tracer(tracerName) }
}

// New creates and returns a new Relay.
func New(cfg Config, logger slog.Logger, opts ...Option) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	cfg.applyDefaults()

	r := &Relay{
		cfg:     &cfg,
		logger:  logger.With("module", module),
		clock:   clockwork.NewRealClock(),
		reg:     prometheus.DefaultRegisterer,
		tracer:  otel.Tracer(tracerName),
		cmdCh:   make(chan command, 256),
		stopped: make(chan struct{}),
		target:  cfg.URL,
		state:   StateIdle,
	}
	for _, o := range opts {
		o(r)
	}

	r.metrics = newMetrics(r.reg)
	r.registry = NewRegistry(r.logger, r.reg)
	r.client = shoutcast.NewClient(shoutcast.Options{
		ConnectTimeout:   cfg.ConnectTimeout,
		UserAgent:        cfg.UserAgent,
		ResolvePlaylists: cfg.ResolvePlaylists,
		Logger:           r.logger,
	})

	r.Service = services.NewBasicService(r.starting, r.running, r.stopping)

	return r, nil
}

func (r *Relay) starting(ctx context.Context) error {
	r.logger.Info("starting", "url", r.target, "policy", r.cfg.Policy)
	r.metrics.observeState(r.state)
	return nil
}

func (r *Relay) running(ctx context.Context) error {
	defer close(r.stopped)

	r.ctx = ctx
	r.backoff = backoff.New(ctx, backoff.Config{
		MinBackoff: r.cfg.ReconnectBackoff,
		MaxBackoff: r.cfg.ReconnectBackoffMax,
	})

	if r.target != "" {
		r.start()
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case cmd := <-r.cmdCh:
			r.handle(cmd)
		}
	}
}

func (r *Relay) stopping(_ error) error {
	r.logger.Info("stopping")

	// running has cancelled the sessions; wait for their goroutines so nothing
	// outlives the service.
	r.sessionsWg.Wait()
	return nil
}

// shutdown tears down the session and closes every listener. Runs on the loop.
func (r *Relay) shutdown() {
	r.teardown()
	n := r.registry.CloseAll()
	r.setState(StateIdle)
	r.logger.Info("relay shut down", "closed_listeners", n)
}

func (r *Relay) handle(cmd command) {
	switch c := cmd.(type) {
	case sessionEvent:
		r.dispatch(c)
	case watchdogCmd:
		r.handleWatchdog(c)
	case retryCmd:
		r.handleRetry(c)
	case setTargetCmd:
		c.reply <- r.setTarget(c.url)
	case statusCmd:
		c.reply <- r.status()
	case registerCmd:
		r.registry.Register(c.sink)
		c.reply <- nil
	case unregisterCmd:
		r.registry.Unregister(c.id)
	default:
		r.logger.Warn("relay received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
	}
}

func (r *Relay) setTarget(target string) setTargetReply {
	if err := validateTarget(target); err != nil {
		r.logger.Warn("rejected target", "url", target, "err", err)
		return setTargetReply{err: err}
	}

	r.previous = r.target
	r.target = target
	r.unconfirmed = true
	r.fallingBack = false
	r.metrics.targetSwitches.Inc()
	r.logger.Info("switching target", "url", target, "previous", r.previous)

	if r.cfg.CloseListenersOnSwitch {
		n := r.registry.CloseAll()
		r.logger.Info("disconnected listeners for target switch", "listeners", n)
	}

	r.start()

	return setTargetReply{url: target}
}

func (r *Relay) status() Status {
	s := Status{
		URL:         r.target,
		PreviousURL: r.previous,
		State:       r.state,
		Policy:      r.cfg.Policy,
		FallingBack: r.fallingBack,
		Listeners:   r.registry.Len(),
		Session:     r.gen,

		StationName:  r.station.Name,
		StationGenre: r.station.Genre,
		Bitrate:      r.station.Bitrate,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

// send delivers cmd to the loop.
func (r *Relay) send(ctx context.Context, cmd command) error {
	select {
	case r.cmdCh <- cmd:
		return nil
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers cmd from a timer goroutine. Dropped once the relay stopped.
func (r *Relay) post(cmd command) {
	select {
	case r.cmdCh <- cmd:
	case <-r.stopped:
	}
}

func await[T any](ctx context.Context, r *Relay, reply <-chan T) (T, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-r.stopped:
		var zero T
		return zero, ErrStopped
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// SetTarget switches the relay to target and restarts the upstream
// connection. It returns the accepted URL, or ErrInvalidTarget without
// changing anything.
func (r *Relay) SetTarget(ctx context.Context, target string) (string, error) {
	reply := make(chan setTargetReply, 1)
	if err := r.send(ctx, setTargetCmd{url: target, reply: reply}); err != nil {
		return "", err
	}
	res, err := await(ctx, r, reply)
	if err != nil {
		return "", err
	}
	return res.url, res.err
}

// Target returns the URL currently being relayed.
func (r *Relay) Target(ctx context.Context) (string, error) {
	s, err := r.Status(ctx)
	return s.URL, err
}

// Status returns a snapshot of the relay.
func (r *Relay) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := r.send(ctx, statusCmd{reply: reply}); err != nil {
		return Status{}, err
	}
	return await(ctx, r, reply)
}

// Subscribe registers s. It returns once s is registered, so every chunk
// broadcast afterwards reaches it.
func (r *Relay) Subscribe(ctx context.Context, s Sink) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, registerCmd{sink: s, reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, r, reply)
	return err
}

// Unsubscribe removes the sink with the given id. Unknown ids are ignored.
func (r *Relay) Unsubscribe(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	_ = r.send(ctx, unregisterCmd{id: id})
}

const commandTimeout = 5 * time.Second

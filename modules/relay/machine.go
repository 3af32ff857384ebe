package relay

import (
	"net/http"
	"time"
)

// failureClass selects the restart delay under the fallback policy.
type failureClass string

const (
	failureStatus   failureClass = "status"
	failureError    failureClass = "error"
	failureEnd      failureClass = "end"
	failureWatchdog failureClass = "watchdog"
)

// start tears down the current session and connects to the current target.
//
//	Idle -> Connecting -> Streaming -> (Failed -> Connecting)
func (r *Relay) start() {
	r.teardown()

	r.gen++
	r.gotData = false
	r.station = Connected{}
	r.setState(StateConnecting)
	r.session = r.openSession(r.gen, r.target)
	r.metrics.connectAttempts.Inc()
	r.logger.Info("connecting to upstream", "url", r.target, "session", r.gen)

	if r.cfg.Policy == PolicyFallback && r.cfg.WatchdogTimeout > 0 {
		gen := r.gen
		r.watchdog = r.clock.AfterFunc(r.cfg.WatchdogTimeout, func() {
			r.post(watchdogCmd{gen: gen})
		})
	}
}

// teardown cancels the current session and any pending timer. Events the old
// session has already queued are dropped by dispatch because its generation
// no longer matches.
func (r *Relay) teardown() {
	if r.session != nil {
		r.session.cancel()
		r.session = nil
	}
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
}

// dispatch drives the state machine with an upstream event.
func (r *Relay) dispatch(e sessionEvent) {
	if r.session == nil || e.gen != r.session.gen {
		return
	}

	switch ev := e.event.(type) {
	case Connected:
		if ev.StatusCode != http.StatusOK {
			r.fail(failureStatus, &StatusError{Code: ev.StatusCode})
			return
		}
		r.station = ev
		r.setState(StateStreaming)
		r.logger.Info("connected to upstream", "url", r.target, "session", e.gen, "name", ev.Name, "genre", ev.Genre, "bitrate", ev.Bitrate)

	case Chunk:
		if !r.gotData {
			r.firstData()
		}
		r.metrics.upstreamBytes.Add(float64(len(ev.Data)))
		r.registry.Broadcast(ev.Data)

	case Ended:
		r.fail(failureEnd, ErrUpstreamEnded)

	case Failed:
		r.fail(failureError, ev.Err)
	}
}

// firstData records that the current session is healthy. A target that has
// delivered data is confirmed and no longer reverts on failure.
func (r *Relay) firstData() {
	r.gotData = true
	r.unconfirmed = false
	if r.watchdog != nil {
		r.watchdog.Stop()
		r.watchdog = nil
	}
	if r.fallingBack {
		r.fallingBack = false
		r.logger.Info("fallback target is delivering, fallback cleared", "url", r.target)
	}
	if r.backoff != nil {
		r.backoff.Reset()
	}
}

func (r *Relay) handleWatchdog(c watchdogCmd) {
	if r.session == nil || c.gen != r.session.gen || r.gotData {
		return
	}
	r.fail(failureWatchdog, ErrNoData)
}

func (r *Relay) handleRetry(c retryCmd) {
	// A newer session (target switch) supersedes the pending retry.
	if r.session != nil || c.gen != r.gen {
		return
	}
	r.retry = nil
	r.start()
}

// fail applies the configured policy to a failure of the current session.
func (r *Relay) fail(class failureClass, err error) {
	failedTarget := r.target
	r.teardown()
	r.lastErr = err
	r.setState(StateFailed)
	r.metrics.upstreamFailures.WithLabelValues(string(class)).Inc()
	r.logger.Warn("upstream failed", "url", failedTarget, "session", r.gen, "class", class, "err", err)

	// Only a newly set target reverts, and only once: the restored target is
	// retried in place if it fails too.
	if r.cfg.Policy == PolicyFallback && r.unconfirmed && r.previous != "" && r.previous != r.target {
		r.target = r.previous
		r.unconfirmed = false
		r.fallingBack = true
		r.metrics.fallbacks.Inc()
		r.logger.Warn("falling back to previous target", "failed", failedTarget, "url", r.target)
	}

	delay := r.retryDelay(class)
	if delay <= 0 {
		r.start()
		return
	}

	r.logger.Debug("scheduling reconnect", "url", r.target, "delay", delay)
	gen := r.gen
	r.retry = r.clock.AfterFunc(delay, func() {
		r.post(retryCmd{gen: gen})
	})
}

func (r *Relay) retryDelay(class failureClass) time.Duration {
	switch r.cfg.Policy {
	case PolicyFallback:
		switch class {
		case failureStatus:
			return r.cfg.RetryDelay.Status
		case failureError:
			return r.cfg.RetryDelay.Error
		case failureEnd:
			return r.cfg.RetryDelay.End
		case failureWatchdog:
			return r.cfg.RetryDelay.Watchdog
		}
	case PolicyBackoff:
		return r.backoff.NextDelay()
	}
	return 0
}

func (r *Relay) setState(s State) {
	r.state = s
	r.metrics.observeState(s)
}

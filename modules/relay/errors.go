package relay

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrInvalidTarget is returned when a target URL is empty or not an
	// absolute http/https URL. The relay state is left untouched.
	ErrInvalidTarget = errors.New("invalid target url")

	// ErrStopped is returned by calls made after the relay stopped.
	ErrStopped = errors.New("relay stopped")

	// ErrUpstreamEnded is the failure recorded when the upstream closes the
	// stream. A live relay never treats that as the end of the broadcast.
	ErrUpstreamEnded = errors.New("upstream ended the stream")

	// ErrNoData is the failure recorded when the watchdog fires.
	ErrNoData = errors.New("no data received from upstream")

	errListenerClosed  = errors.New("listener closed")
	errListenerLagging = errors.New("listener queue full")
)

// StatusError is the failure recorded for a non-200 upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.Code, http.StatusText(e.Code))
}

func validateTarget(target string) error {
	if target == "" {
		return pkgerrors.Wrap(ErrInvalidTarget, "url is empty")
	}

	u, err := url.Parse(target)
	if err != nil {
		return pkgerrors.Wrapf(ErrInvalidTarget, "parse %q: %v", target, err)
	}
	if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return pkgerrors.Wrapf(ErrInvalidTarget, "%q is not an absolute http or https url", target)
	}

	return nil
}

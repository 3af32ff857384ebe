package shoutcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultUserAgent      = "Mozilla/5.0"
	defaultConnectTimeout = 5 * time.Second
	defaultHeaderTimeout  = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// Timeout for establishing the TCP connection.
	ConnectTimeout time.Duration

	// Timeout for receiving the response headers once connected.
	HeaderTimeout time.Duration

	// User-Agent sent upstream.
	UserAgent string

	// Resolve .pls/.m3u playlists to the stream they point at before opening.
	ResolvePlaylists bool

	Logger *slog.Logger
}

// Client opens streams. It is safe for concurrent use.
type Client struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewClient returns a Client using opts, filling in defaults for zero values.
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = defaultHeaderTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Timeout for establishing the connection.
	// We don't want for the stream to timeout while we're reading it, but
	// we do want a timeout for establishing the connection to the server.
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		// Bytes are relayed verbatim, never let the transport negotiate gzip.
		DisableCompression: true,
	}

	return &Client{
		opts: opts,
		// No timeout on the client - we want to stream indefinitely
		client: &http.Client{Transport: transport},
		logger: logger,
	}
}

// Stream represents an open shoutcast stream.
type Stream struct {
	// The name of the server
	Name string

	// What category the server falls under
	Genre string

	// Bitrate of the server
	Bitrate int

	// HTTP status code of the upstream response
	StatusCode int

	// Content-Type of the upstream response
	ContentType string

	// The underlying data stream
	rc io.ReadCloser
}

// Open establishes a connection to a remote server. A non-200 response is
// not an error: the returned Stream carries the status code and the caller
// decides what to do with it. Cancelling ctx tears the connection down.
func (c *Client) Open(ctx context.Context, url string) (*Stream, error) {
	c.logger.Debug("opening stream", "url", url)

	if c.opts.ResolvePlaylists {
		resolvedURL, err := c.resolvePlaylistURL(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve playlist URL: %w", err)
		}
		if resolvedURL != url {
			c.logger.Info("resolved playlist to stream URL", "playlist", url, "url", resolvedURL)
			url = resolvedURL
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Icy-MetaData", "0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	for k, v := range resp.Header {
		c.logger.Debug("upstream header", "key", k, "value", v[0])
	}

	var bitrate int
	if rawBitrate := resp.Header.Get("icy-br"); rawBitrate != "" {
		bitrate, err = strconv.Atoi(rawBitrate)
		if err != nil {
			c.logger.Debug("cannot parse bitrate", "value", rawBitrate, "err", err)
			bitrate = 0
		}
	}

	s := &Stream{
		Name:        resp.Header.Get("icy-name"),
		Genre:       resp.Header.Get("icy-genre"),
		Bitrate:     bitrate,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		rc:          resp.Body,
	}

	return s, nil
}

// Read implements the standard Read interface. Bytes are passed through
// unmodified.
func (s *Stream) Read(buf []byte) (int, error) {
	return s.rc.Read(buf)
}

// Close closes the stream
func (s *Stream) Close() error {
	return s.rc.Close()
}

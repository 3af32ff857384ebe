package shoutcast

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SendsRelayHeaders(t *testing.T) {
	got := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("icy-name", "Groove Salad")
		w.Header().Set("icy-genre", "Ambient")
		w.Header().Set("icy-br", "256")
		_, _ = w.Write([]byte("audio"))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{})
	s, err := c.Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer s.Close()

	h := <-got
	assert.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
	assert.Equal(t, "*/*", h.Get("Accept"))
	assert.Equal(t, "0", h.Get("Icy-MetaData"))
	assert.Empty(t, h.Get("Accept-Encoding"))

	assert.Equal(t, http.StatusOK, s.StatusCode)
	assert.Equal(t, "Groove Salad", s.Name)
	assert.Equal(t, "Ambient", s.Genre)
	assert.Equal(t, 256, s.Bitrate)
	assert.Equal(t, "audio/mpeg", s.ContentType)

	body, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "audio", string(body))
}

func TestOpen_ReportsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	s, err := NewClient(Options{}).Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, http.StatusInternalServerError, s.StatusCode)
}

func TestOpen_InvalidBitrateIsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("icy-br", "128,64")
	}))
	t.Cleanup(srv.Close)

	s, err := NewClient(Options{}).Open(context.Background(), srv.URL)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 0, s.Bitrate)
}

func TestOpen_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(Options{ConnectTimeout: time.Second}).Open(context.Background(), url)
	require.Error(t, err)
}

func TestOpen_CancelStopsRead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	s, err := NewClient(Options{}).Open(ctx, srv.URL)
	require.NoError(t, err)
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 16))
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("read did not return after cancel")
	}
}

func TestOpen_ResolvesPlaylist(t *testing.T) {
	stream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3"))
	}))
	t.Cleanup(stream.Close)

	playlist := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/x-scpls")
		_, _ = io.WriteString(w, "[playlist]\nNumberOfEntries=1\nFile1="+stream.URL+"/live\n")
	}))
	t.Cleanup(playlist.Close)

	s, err := NewClient(Options{ResolvePlaylists: true}).Open(context.Background(), playlist.URL+"/radio.pls")
	require.NoError(t, err)
	defer s.Close()

	body, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, "mp3", string(body))
}

func TestResolvePlaylistURL_StreamReturnedAsIs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		// Never ends, like a real stream.
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := c.resolvePlaylistURL(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, got)
}

func TestParsePLS(t *testing.T) {
	url, err := parsePLS(strings.NewReader("[playlist]\nFile1=http://a.example/stream\nFile2=http://b.example/stream\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://a.example/stream", url)

	_, err = parsePLS(strings.NewReader("[playlist]\nNumberOfEntries=0\n"))
	require.Error(t, err)
}

func TestParseM3U(t *testing.T) {
	url, err := parseM3U(strings.NewReader("#EXTM3U\n#EXTINF:-1,Radio\n\nhttps://a.example/radio.mp3\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://a.example/radio.mp3", url)

	_, err = parseM3U(strings.NewReader("#EXTM3U\n"))
	require.Error(t, err)
}

package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// testConfig returns a validated AppConfig with a recognisable user agent
func testConfig() *config.AppConfig {
	cfg := &config.AppConfig{DefaultUserAgent: "khinsider-dl-test"}
	cfg.Validate()
	return cfg
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// testClient returns an http.Client suitable for testing
func testClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func TestFetchText_Success(t *testing.T) {
	var gotUA atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.Write([]byte("<html><h2>Album</h2></html>"))
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(testClient(), testConfig(), testLogger())
	body, err := fetcher.FetchText(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, "<html><h2>Album</h2></html>", body)
	assert.Equal(t, "khinsider-dl-test", gotUA.Load())
}

func TestFetchText_NonSuccessStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"404 Not Found", http.StatusNotFound},
		{"403 Forbidden", http.StatusForbidden},
		{"500 Internal Server Error", http.StatusInternalServerError},
		{"503 Service Unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(server.Close)

			fetcher := NewFetcher(testClient(), testConfig(), testLogger())
			_, err := fetcher.FetchText(context.Background(), server.URL+"/page")

			require.Error(t, err)
			var httpErr *utils.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, server.URL+"/page", httpErr.URL)
			assert.Equal(t, int32(1), attempts.Load(), "fetcher must not retry on its own")
		})
	}
}

func TestFetchText_CancelledBeforeRequest(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewFetcher(testClient(), testConfig(), testLogger())
	_, err := fetcher.FetchText(ctx, server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrCancelled))
	assert.Equal(t, int32(0), attempts.Load())
}

func TestFetchText_CancelledInFlight(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	fetcher := NewFetcher(testClient(), testConfig(), testLogger())
	start := time.Now()
	_, err := fetcher.FetchText(ctx, server.URL)

	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrCancelled), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchText_NetworkErrorIsNotCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close() // Nothing is listening any more

	fetcher := NewFetcher(testClient(), testConfig(), testLogger())
	_, err := fetcher.FetchText(context.Background(), serverURL)

	require.Error(t, err)
	assert.False(t, utils.IsCancellation(err))
}

func TestFetchText_RobotsDisallowed(t *testing.T) {
	var pageHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		pageHits.Add(1)
		w.Write([]byte("ok"))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := testConfig()
	client := testClient()
	fetcher := NewFetcher(client, cfg, testLogger()).
		WithRobots(NewRobotsChecker(client, cfg.DefaultUserAgent, testLogger()))

	_, err := fetcher.FetchText(context.Background(), server.URL+"/private/album")
	require.Error(t, err)
	assert.True(t, errors.Is(err, utils.ErrRobotsDisallowed))

	body, err := fetcher.FetchText(context.Background(), server.URL+"/public/album")
	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, int32(1), pageHits.Load())
}

func TestRobotsChecker_CachesPerHost(t *testing.T) {
	var robotsHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	rc := NewRobotsChecker(testClient(), "khinsider-dl-test", testLogger())
	target, _ := url.Parse(server.URL + "/game-soundtracks/album/x")

	for i := 0; i < 3; i++ {
		assert.True(t, rc.Allowed(context.Background(), target), "missing robots.txt allows everything")
	}
	assert.Equal(t, int32(1), robotsHits.Load())
}

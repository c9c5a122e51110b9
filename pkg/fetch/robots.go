package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsChecker fetches, caches and evaluates robots.txt per host
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	cache     map[string]*robotstxt.RobotsData // host -> parsed data (nil = unavailable, allow)
	mu        sync.Mutex
	log       *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker sharing the page client
func NewRobotsChecker(client *http.Client, userAgent string, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		client:    client,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log.WithField("component", "robots"),
	}
}

// Allowed reports whether the configured user agent may fetch target.
// A robots.txt that cannot be fetched allows everything.
func (rc *RobotsChecker) Allowed(ctx context.Context, target *url.URL) bool {
	data := rc.dataFor(ctx, target)
	if data == nil {
		return true
	}
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	return data.TestAgent(path, rc.userAgent)
}

// dataFor returns cached robots data for target's host, fetching it on a cache miss
func (rc *RobotsChecker) dataFor(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host

	// Hold the lock across the fetch so concurrent workers do not all fetch the same file
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if data, found := rc.cache[host]; found {
		return data
	}

	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: host, Path: "/robots.txt"}).String()
	robotsLog := rc.log.WithField("robots_url", robotsURL)
	robotsLog.Debug("Fetching robots.txt...")

	data := rc.fetch(ctx, robotsURL, robotsLog)
	if ctx.Err() == nil { // Do not cache a result cut short by cancellation
		rc.cache[host] = data
	}
	return data
}

func (rc *RobotsChecker) fetch(ctx context.Context, robotsURL string, robotsLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Warnf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rc.userAgent)

	resp, err := rc.client.Do(req)
	if err != nil {
		robotsLog.Warnf("Fetching robots.txt failed: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		robotsLog.Warnf("Error reading body: %v", err)
		return nil
	}

	// FromStatusAndBytes applies the usual status rules: 4xx allows all, 5xx disallows all
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.WithField("status_code", resp.StatusCode).Debug("robots.txt loaded")
	return data
}

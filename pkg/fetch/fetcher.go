package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// maxPageSize caps how much of an HTML page is read into memory
const maxPageSize = 16 << 20

// TextFetcher is what the resolvers need from a fetcher
type TextFetcher interface {
	FetchText(ctx context.Context, rawURL string) (string, error)
}

// Fetcher performs single-attempt page fetches with the configured identity.
// Retrying is left to the caller; the download engine owns the retry schedule.
type Fetcher struct {
	client    *http.Client
	userAgent string
	robots    *RobotsChecker // nil = robots.txt is not consulted
	log       *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: cfg.DefaultUserAgent,
		log:       log,
	}
}

// WithRobots enables robots.txt checks for every fetched page
func (f *Fetcher) WithRobots(rc *RobotsChecker) *Fetcher {
	f.robots = rc
	return f
}

// UserAgent returns the identity sent with every request
func (f *Fetcher) UserAgent() string {
	return f.userAgent
}

// FetchText GETs rawURL and returns the body as text.
// A non-2xx status yields *utils.HTTPError; cancellation of ctx yields an error matching utils.ErrCancelled.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	reqLog := f.log.WithField("url", rawURL)

	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: before fetching %s", utils.ErrCancelled, rawURL)
	}

	if f.robots != nil {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("%w: invalid URL '%s': %w", utils.ErrParsing, rawURL, err)
		}
		if !f.robots.Allowed(ctx, parsed) {
			return "", fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, rawURL)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			reqLog.Debug("Fetch aborted by cancellation")
			return "", fmt.Errorf("%w: GET %s: %w", utils.ErrCancelled, rawURL, ctx.Err())
		}
		reqLog.Debugf("Network error: %v", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) // Drain a little so the connection can be reused
		reqLog.WithField("status_code", resp.StatusCode).Debug("Non-success status")
		return "", utils.NewHTTPError(resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: reading %s: %w", utils.ErrCancelled, rawURL, ctx.Err())
		}
		return "", fmt.Errorf("%w: %s: %w", utils.ErrResponseBodyRead, rawURL, err)
	}

	reqLog.WithField("bytes", len(body)).Debug("Fetched page")
	return string(body), nil
}

package config

import (
	"fmt"
	"time"

	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

const (
	defaultUserAgent  = "Mozilla/5.0"
	defaultNumWorkers = 3
	defaultMaxRetries = 5
	defaultRetryStep  = 3 * time.Second
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}

	// HostBase
	if c.HostBase == "" {
		c.HostBase = parse.DefaultHostBase
	} else if _, _, perr := parse.ParseAndNormalize(c.HostBase); perr != nil {
		return warnings, fmt.Errorf("%w: host_base '%s' is not an absolute URL: %v", utils.ErrConfigValidation, c.HostBase, perr)
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, fmt.Sprintf("num_workers should be > 0, defaulting to %d", defaultNumWorkers))
		c.NumWorkers = defaultNumWorkers
	}

	// MaxRetries: an untouched retry section gets the default budget;
	// max_retries: 0 together with an explicit retry_step means a single attempt
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 && c.RetryStep == 0 {
		c.MaxRetries = defaultMaxRetries
	}

	// RetryStep
	if c.RetryStep < 0 {
		warnings = append(warnings, fmt.Sprintf("retry_step cannot be negative, defaulting to %v", defaultRetryStep))
		c.RetryStep = defaultRetryStep
	} else if c.RetryStep == 0 {
		c.RetryStep = defaultRetryStep
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './downloads'")
		c.OutputBaseDir = "./downloads"
	}

	// StateDir
	if c.StateDir == "" {
		if c.EnableHistory {
			warnings = append(warnings, "state_dir is empty, defaulting to './downloader_state'")
		}
		c.StateDir = "./downloader_state"
	}

	// ParallelAlbums
	if c.ParallelAlbums <= 0 {
		c.ParallelAlbums = 1
	}

	// Album notes filename
	if c.WriteAlbumNotes && c.AlbumNotesFilename == "" {
		warnings = append(warnings,
			"'write_album_notes' is true but 'album_notes_filename' is empty. Defaulting to 'album.md'")
		c.AlbumNotesFilename = "album.md"
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.DownloadTimeout <= 0 {
		h.DownloadTimeout = 30 * time.Minute
	}
	if h.ResponseHeaderTimeout <= 0 {
		h.ResponseHeaderTimeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = c.NumWorkers + 1 // Page fetch and transfer per worker can share a host
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks AlbumConfig fields against the (already validated) global config.
// Returns collected warnings and any fatal error.
func (c *AlbumConfig) Validate(appCfg *AppConfig) (warnings []string, err error) {
	if c.URL == "" {
		return nil, fmt.Errorf("%w: album has no url", utils.ErrConfigValidation)
	}

	hostBase := appCfg.HostBase
	if hostBase == "" {
		hostBase = parse.DefaultHostBase
	}
	if verr := parse.ValidateAlbumURL(c.URL, hostBase); verr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrConfigValidation, verr)
	}

	if c.NumWorkers < 0 {
		warnings = append(warnings, "Album num_workers cannot be negative, using global setting")
		c.NumWorkers = 0
	}

	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		warnings = append(warnings, "Album max_retries cannot be negative, setting to 0")
		zero := 0
		c.MaxRetries = &zero
	}

	return warnings, nil
}

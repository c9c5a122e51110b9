package config

import "time"

// AlbumConfig holds settings for one named album in the config file
type AlbumConfig struct {
	URL        string `yaml:"url"`
	OutputDir  string `yaml:"output_dir,omitempty"`  // Overrides output_base_dir/<slug>
	NumWorkers int    `yaml:"num_workers,omitempty"` // 0 = use global num_workers
	MaxRetries *int   `yaml:"max_retries,omitempty"` // nil = use global max_retries (0 is a valid override)
	TagMP3     *bool  `yaml:"tag_mp3,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent   string                 `yaml:"default_user_agent"`
	HostBase           string                 `yaml:"host_base"` // Relative item links are resolved against this
	NumWorkers         int                    `yaml:"num_workers"`
	MaxRetries         int                    `yaml:"max_retries"`
	RetryStep          time.Duration          `yaml:"retry_step,omitempty"` // Backoff before attempt k is k*RetryStep
	OutputBaseDir      string                 `yaml:"output_base_dir"`
	StateDir           string                 `yaml:"state_dir"`
	ParallelAlbums     int                    `yaml:"parallel_albums,omitempty"` // Albums downloaded at once in batch mode
	EnableHistory      bool                   `yaml:"enable_history,omitempty"`
	RespectRobots      bool                   `yaml:"respect_robots,omitempty"`
	TagMP3             bool                   `yaml:"tag_mp3,omitempty"`
	VerifyAudio        bool                   `yaml:"verify_audio,omitempty"`
	WriteAlbumNotes    bool                   `yaml:"write_album_notes,omitempty"`
	AlbumNotesFilename string                 `yaml:"album_notes_filename,omitempty"`
	HTTPClientSettings HTTPClientConfig       `yaml:"http_client_settings,omitempty"`
	Albums             map[string]AlbumConfig `yaml:"albums,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall timeout for page fetches
	DownloadTimeout       time.Duration `yaml:"download_timeout,omitempty"`        // Overall timeout for one file transfer
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout,omitempty"` // Time to wait for response headers
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// GetEffectiveNumWorkers determines the worker count for an album
func GetEffectiveNumWorkers(albumCfg AlbumConfig, appCfg AppConfig) int {
	if albumCfg.NumWorkers > 0 {
		return albumCfg.NumWorkers
	}
	return appCfg.NumWorkers
}

// GetEffectiveMaxRetries determines the retry budget for an album
func GetEffectiveMaxRetries(albumCfg AlbumConfig, appCfg AppConfig) int {
	if albumCfg.MaxRetries != nil {
		return *albumCfg.MaxRetries
	}
	return appCfg.MaxRetries
}

// GetEffectiveTagMP3 determines whether MP3 files of an album get ID3 tags
func GetEffectiveTagMP3(albumCfg AlbumConfig, appCfg AppConfig) bool {
	if albumCfg.TagMP3 != nil {
		return *albumCfg.TagMP3
	}
	return appCfg.TagMP3
}

// GetEffectiveAlbumNotesFilename returns the notes filename, falling back to a hardcoded default
func GetEffectiveAlbumNotesFilename(appCfg AppConfig) string {
	if appCfg.AlbumNotesFilename != "" {
		return appCfg.AlbumNotesFilename
	}
	return "album.md"
}

package orchestrate

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
)

// AlbumJob is one album to download with its effective settings
type AlbumJob struct {
	Key         string // Config key; empty for ad-hoc URLs
	URL         string
	TargetDir   string
	Concurrency int
	MaxRetries  int
	TagMP3      bool
}

// Label names the job in logs and summaries
func (j AlbumJob) Label() string {
	if j.Key != "" {
		return j.Key
	}
	return parse.ExtractSlug(j.URL)
}

// JobForAlbum resolves one configured album against the global settings
func JobForAlbum(appCfg *config.AppConfig, key string, albumCfg config.AlbumConfig) AlbumJob {
	targetDir := albumCfg.OutputDir
	if targetDir == "" {
		targetDir = filepath.Join(appCfg.OutputBaseDir, parse.ExtractSlug(albumCfg.URL))
	}
	return AlbumJob{
		Key:         key,
		URL:         albumCfg.URL,
		TargetDir:   targetDir,
		Concurrency: config.GetEffectiveNumWorkers(albumCfg, *appCfg),
		MaxRetries:  config.GetEffectiveMaxRetries(albumCfg, *appCfg),
		TagMP3:      config.GetEffectiveTagMP3(albumCfg, *appCfg),
	}
}

// JobForURL builds a job for an album URL given on the command line or over MCP
func JobForURL(appCfg *config.AppConfig, albumURL string) AlbumJob {
	return JobForAlbum(appCfg, "", config.AlbumConfig{URL: albumURL})
}

// JobsFromKeys builds jobs for the named albums in config order of the given keys
func JobsFromKeys(appCfg *config.AppConfig, keys []string) ([]AlbumJob, error) {
	if err := ValidateAlbumKeys(appCfg, keys); err != nil {
		return nil, err
	}
	jobs := make([]AlbumJob, 0, len(keys))
	for _, key := range keys {
		jobs = append(jobs, JobForAlbum(appCfg, key, appCfg.Albums[key]))
	}
	return jobs, nil
}

// ValidateAlbumKeys checks that all provided album keys exist in the config
func ValidateAlbumKeys(appCfg *config.AppConfig, keys []string) error {
	for _, key := range keys {
		if _, exists := appCfg.Albums[key]; !exists {
			return fmt.Errorf("album '%s' not found. Available albums: %v", key, GetAllAlbumKeys(appCfg))
		}
	}
	return nil
}

// GetAllAlbumKeys returns all album keys from the config, sorted
func GetAllAlbumKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Albums))
	for k := range appCfg.Albums {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

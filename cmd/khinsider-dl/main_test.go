package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
num_workers: 4
output_base_dir: "./out"
albums:
  ff7:
    url: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"
`)
	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Contains(t, cfg.Albums, "ff7")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoadConfigOptional(t *testing.T) {
	cfg, found, err := loadConfigOptional("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotNil(t, cfg)

	_, _, err = loadConfigOptional(writeConfig(t, "{{invalid yaml"))
	assert.Error(t, err, "a present but broken file is still an error")
}

func TestDoValidate_AllAlbums(t *testing.T) {
	cfgPath := writeConfig(t, `
albums:
  ff7:
    url: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"
  chrono:
    url: "https://downloads.khinsider.com/game-soundtracks/album/chrono-trigger"
    num_workers: -2
`)
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 0, exitCode, stderr.String())
	assert.Contains(t, stdout.String(), "OK: [ff7]")
	assert.Contains(t, stdout.String(), "OK: [chrono]")
	assert.Contains(t, stdout.String(), "WARN: [chrono]")
	assert.Contains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_BadAlbum(t *testing.T) {
	cfgPath := writeConfig(t, `
albums:
  bad:
    url: "https://example.com/not-an-album"
  good:
    url: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"
`)
	var stdout, stderr bytes.Buffer
	exitCode := doValidate(cfgPath, "", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "ERROR: [bad]")
	assert.Contains(t, stdout.String(), "OK: [good]")
	assert.NotContains(t, stdout.String(), "Configuration valid")
}

func TestDoValidate_SpecificAlbum(t *testing.T) {
	cfgPath := writeConfig(t, `
albums:
  ff7:
    url: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"
`)
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, doValidate(cfgPath, "ff7", &stdout, &stderr))
	assert.Contains(t, stdout.String(), "OK: [ff7]")

	stdout.Reset()
	assert.Equal(t, 1, doValidate(cfgPath, "missing", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "album 'missing' not found")
}

func TestDoValidate_MissingFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, doValidate("/nonexistent/config.yaml", "", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "read config")
}

func TestDoListAlbums(t *testing.T) {
	cfgPath := writeConfig(t, `
output_base_dir: "/music"
num_workers: 2
albums:
  zelda:
    url: "https://downloads.khinsider.com/game-soundtracks/album/zelda-ocarina"
  ff7:
    url: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"
    output_dir: "/elsewhere/ff7"
    num_workers: 6
`)
	var stdout, stderr bytes.Buffer
	exitCode := doListAlbums(cfgPath, &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	out := stdout.String()
	assert.Less(t, strings.Index(out, "ff7"), strings.Index(out, "zelda"), "keys are sorted")
	assert.Contains(t, out, "Output: /elsewhere/ff7")
	assert.Contains(t, out, "Output: "+filepath.Join("/music", "zelda-ocarina"))
	assert.Contains(t, out, "Workers: 6")
}

func TestSplitKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitKeys(" a, b,,c ,"))
	assert.Nil(t, splitKeys(" , "))
}

func TestBuildJobs(t *testing.T) {
	appCfg := &config.AppConfig{
		OutputBaseDir: "/music",
		NumWorkers:    3,
		Albums: map[string]config.AlbumConfig{
			"ff7":    {URL: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"},
			"chrono": {URL: "https://downloads.khinsider.com/game-soundtracks/album/chrono-trigger", NumWorkers: 7},
		},
	}
	_, err := appCfg.Validate()
	require.NoError(t, err)

	t.Run("url with overrides", func(t *testing.T) {
		jobs, err := buildJobs(appCfg, downloadOptions{
			URL:     "https://downloads.khinsider.com/game-soundtracks/album/zelda",
			OutDir:  "/tmp/zelda",
			Workers: 9,
			Retries: 0,
		}, quietLogger())
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, "/tmp/zelda", jobs[0].TargetDir)
		assert.Equal(t, 9, jobs[0].Concurrency)
		assert.Equal(t, 0, jobs[0].MaxRetries)
	})

	t.Run("keys keep per-album settings", func(t *testing.T) {
		jobs, err := buildJobs(appCfg, downloadOptions{AlbumKeys: []string{"chrono", "ff7"}, Retries: -1}, quietLogger())
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "chrono", jobs[0].Key)
		assert.Equal(t, 7, jobs[0].Concurrency)
		assert.Equal(t, 3, jobs[1].Concurrency)
		assert.Equal(t, appCfg.MaxRetries, jobs[1].MaxRetries)
	})

	t.Run("all albums", func(t *testing.T) {
		jobs, err := buildJobs(appCfg, downloadOptions{AllAlbums: true, Retries: -1}, quietLogger())
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := buildJobs(appCfg, downloadOptions{AlbumKeys: []string{"nope"}, Retries: -1}, quietLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "album 'nope' not found")
	})

	t.Run("foreign url", func(t *testing.T) {
		_, err := buildJobs(appCfg, downloadOptions{URL: "https://example.com/album/x", Retries: -1}, quietLogger())
		assert.Error(t, err)
	})
}

// newAlbumSite serves one album with two tracks; track 2's page has no download link
func newAlbumSite(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch p := r.URL.Path; {
		case p == "/game-soundtracks/album/test-album":
			fmt.Fprint(w, `<h2>Test Album</h2><table id="songlist">
<tr><td class="clickable-row"><a href="/game-soundtracks/album/test-album/1">1</a></td></tr>
<tr><td class="clickable-row"><a href="/game-soundtracks/album/test-album/2">2</a></td></tr></table>`)
		case p == "/game-soundtracks/album/test-album/1":
			fmt.Fprint(w, `<a href="/files/01.mp3">dl</a>`)
		case p == "/game-soundtracks/album/test-album/2":
			fmt.Fprint(w, `<p>No link here</p>`)
		case p == "/files/01.mp3":
			w.Write([]byte("ID3 fake audio payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDoDownload_URLWithHistory(t *testing.T) {
	site := newAlbumSite(t)
	stateDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "album")
	cfgPath := writeConfig(t, fmt.Sprintf(`
host_base: %q
state_dir: %q
enable_history: true
max_retries: 0
retry_step: 1ms
`, site.URL, stateDir))

	var stdout, stderr bytes.Buffer
	exitCode := doDownload(downloadOptions{
		ConfigPath: cfgPath,
		URL:        site.URL + "/game-soundtracks/album/test-album",
		OutDir:     outDir,
		Retries:    -1,
		LogLevel:   "error",
	}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode, "one track without a link fails the album")
	_, err := os.Stat(filepath.Join(outDir, "01.mp3"))
	assert.NoError(t, err)
	assert.Contains(t, stdout.String(), "Test Album")
	assert.Contains(t, stdout.String(), "1/2 succeeded")
	assert.Contains(t, stdout.String(), "FAILED Track 2")

	store, err := storage.NewBadgerStore(context.Background(), stateDir, quietLogger().WithField("component", "test"))
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.PhaseDone, runs[0].Phase)
	assert.Equal(t, 1, runs[0].Completed)
	assert.Equal(t, 1, runs[0].Failed)
}

func TestDoDownload_URLWithoutConfigFile(t *testing.T) {
	site := newAlbumSite(t)
	var stdout, stderr bytes.Buffer
	exitCode := doDownload(downloadOptions{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
		URL:        site.URL + "/game-soundtracks/album/test-album",
		Retries:    -1,
		LogLevel:   "error",
	}, &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "does not match", "default host base rejects the test server")
}

func TestDoDownload_ConfigErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doDownload(downloadOptions{
		ConfigPath: "/nonexistent/config.yaml",
		AlbumKeys:  []string{"ff7"},
		Retries:    -1,
		LogLevel:   "error",
	}, &stdout, &stderr)
	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "read config")
}

func TestDoHistory(t *testing.T) {
	stateDir := t.TempDir()
	store, err := storage.NewBadgerStore(context.Background(), stateDir, quietLogger().WithField("component", "test"))
	require.NoError(t, err)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, title := range []string{"Older Album", "Newer Album"} {
		require.NoError(t, store.SaveRun(&models.RunRecord{
			ID:         fmt.Sprintf("run-%d", i),
			Title:      title,
			Phase:      models.PhaseDone,
			StartedAt:  start.Add(time.Duration(i) * time.Hour),
			FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
			Total:      10,
			Completed:  10,
			Bytes:      2048,
		}))
	}
	require.NoError(t, store.Close())

	cfgPath := writeConfig(t, fmt.Sprintf("state_dir: %q\n", stateDir))
	logPath := filepath.Join(t.TempDir(), "history.tsv")

	var stdout, stderr bytes.Buffer
	exitCode := doHistory(cfgPath, 1, logPath, "error", &stdout, &stderr)

	require.Equal(t, 0, exitCode, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, "Showing 1 of 2 recorded runs")
	assert.Contains(t, out, "Newer Album")
	assert.NotContains(t, out, "Older Album")
	assert.Contains(t, out, "10/10")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

func TestDoHistory_Empty(t *testing.T) {
	cfgPath := writeConfig(t, fmt.Sprintf("state_dir: %q\n", t.TempDir()))
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, doHistory(cfgPath, 20, "", "error", &stdout, &stderr))
	assert.Contains(t, stdout.String(), "No runs recorded.")
}

func TestDoMcpServer_BadInputs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, doMcpServer("config.yaml", "stdio", 0, "loud", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Invalid log level")

	stderr.Reset()
	assert.Equal(t, 1, doMcpServer("/nonexistent/config.yaml", "stdio", 0, "info", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Error loading config")

	stderr.Reset()
	cfgPath := writeConfig(t, "num_workers: 2\n")
	assert.Equal(t, 1, doMcpServer(cfgPath, "carrier-pigeon", 0, "error", &stdout, &stderr))
	assert.Contains(t, stderr.String(), "unknown transport")
}

func TestProgressReporter(t *testing.T) {
	var out bytes.Buffer
	p := newProgressReporter(&out)

	p.Observe(models.ParsingSnapshot{Message: "Parsing album page..."})
	p.Observe(models.ParsedSnapshot{AlbumTitle: "Test Album", TotalFiles: 2, Message: "Found 2 tracks"})
	p.Observe(models.DownloadingSnapshot{
		TotalFiles:     2,
		CompletedFiles: 1,
		FailedFiles:    1,
		Files: []models.FileStatus{
			{Index: 0, Name: "01.mp3", Status: models.FileStateDone},
			{Index: 1, Name: "02.mp3", Status: models.FileStateFailed, Error: "HTTP 404"},
		},
	})
	p.Observe(models.DoneSnapshot{TotalFiles: 2, CompletedFiles: 1, FailedFiles: 1, TotalBytes: 1000, Message: "1/2 succeeded, took 0.1s"})

	text := out.String()
	assert.Contains(t, text, "Parsing album page...")
	assert.Contains(t, text, "Test Album: Found 2 tracks")
	assert.Contains(t, text, "Test Album: 1/2 succeeded, took 0.1s, 1.0 kB downloaded")
	assert.Contains(t, text, "FAILED 02.mp3: HTTP 404")
}

func TestProgressReporter_ThrottlesInFlightRepaints(t *testing.T) {
	var out bytes.Buffer
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := newProgressReporter(&out)
	p.now = func() time.Time { return now }

	p.Observe(models.ParsedSnapshot{AlbumTitle: "A", TotalFiles: 3})
	p.Observe(models.DownloadingSnapshot{TotalFiles: 3})
	first := p.lastDraw

	now = now.Add(50 * time.Millisecond)
	p.Observe(models.DownloadingSnapshot{TotalFiles: 3})
	assert.Equal(t, first, p.lastDraw, "no settle and inside the interval: skipped")

	p.Observe(models.DownloadingSnapshot{TotalFiles: 3, CompletedFiles: 1})
	assert.Equal(t, now, p.lastDraw, "a settle is always drawn")
	assert.Equal(t, 1, p.settled)
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)
	for _, cmd := range []string{"download", "validate", "list-albums", "history", "watch", "mcp-server", "version"} {
		assert.Contains(t, buf.String(), cmd)
	}
}

func TestDoWatch_BadInputs(t *testing.T) {
	cfgPath := writeConfig(t, `
albums:
  ff7:
    url: "https://downloads.khinsider.com/game-soundtracks/album/final-fantasy-vii"
`)
	tests := []struct {
		name string
		opts watchOptions
		want string
	}{
		{"no selection", watchOptions{ConfigPath: cfgPath, Interval: "1h"}, "is required"},
		{"bad interval", watchOptions{ConfigPath: cfgPath, AllAlbums: true, Interval: "soon"}, "invalid interval"},
		{"zero interval", watchOptions{ConfigPath: cfgPath, AllAlbums: true, Interval: "0s"}, "must be positive"},
		{"unknown album", watchOptions{ConfigPath: cfgPath, AlbumKeys: []string{"nope"}, Interval: "1h"}, "not found"},
		{"missing config", watchOptions{ConfigPath: "/nonexistent/config.yaml", AllAlbums: true, Interval: "1h"}, "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			tt.opts.LogLevel = "error"
			assert.Equal(t, 1, doWatch(tt.opts, nil, &stderr))
			assert.Contains(t, stderr.String(), tt.want)
		})
	}
}

func TestDoWatch_SyncsThenStops(t *testing.T) {
	site := newAlbumSite(t)
	stateDir := t.TempDir()
	outDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
host_base: %q
state_dir: %q
output_base_dir: %q
max_retries: 0
retry_step: 1ms
albums:
  test:
    url: %q
`, site.URL, stateDir, outDir, site.URL+"/game-soundtracks/album/test-album"))

	stop := make(chan struct{})
	done := make(chan int, 1)
	var stderr bytes.Buffer
	go func() {
		done <- doWatch(watchOptions{ConfigPath: cfgPath, AlbumKeys: []string{"test"}, Interval: "1h", LogLevel: "error"}, stop, &stderr)
	}()

	statePath := filepath.Join(stateDir, "watch_state.json")
	require.Eventually(t, func() bool {
		_, err := os.Stat(statePath)
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)
	close(stop)

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop")
	}

	data, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"test"`)
	assert.Contains(t, string(data), `"failed_tracks": 1`)
	_, err = os.Stat(filepath.Join(outDir, "test-album", "01.mp3"))
	assert.NoError(t, err)
}

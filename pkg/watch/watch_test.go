package watch

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"0s", 0, true},
		{"-5m", 0, true},
		{"0d", 0, true},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseInterval(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatInterval(tt.input)
			if got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStateManager_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)

	require.NoError(t, sm.Load(), "a missing file is an empty state")
	assert.True(t, sm.Due("ff7", time.Hour), "never-synced albums are due")

	sm.Record("ff7", SyncOutcome{Success: true, Tracks: 85})
	assert.False(t, sm.Due("ff7", time.Hour))

	require.NoError(t, sm.Save())
	statePath := filepath.Join(tmpDir, stateFileName)
	assert.FileExists(t, statePath)
	assert.NoFileExists(t, statePath+".tmp")

	loaded := NewStateManager(tmpDir)
	require.NoError(t, loaded.Load())
	state, ok := loaded.Get("ff7")
	require.True(t, ok)
	assert.True(t, state.Success)
	assert.Equal(t, 85, state.Tracks)
	assert.False(t, state.LastSuccess.IsZero())
}

func TestStateManager_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, stateFileName), []byte("{not json"), 0644))

	err := NewStateManager(tmpDir).Load()
	assert.ErrorIs(t, err, utils.ErrParsing)
}

func TestStateManager_Record(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sm := NewStateManager(t.TempDir())
	sm.now = func() time.Time { return now }

	first := sm.Record("a", SyncOutcome{Success: true, Tracks: 10})
	assert.Zero(t, first.NewTracks, "the first sync has nothing to compare with")
	assert.Equal(t, now, first.LastSuccess)

	now = now.Add(time.Hour)
	grown := sm.Record("a", SyncOutcome{Success: true, Tracks: 13})
	assert.Equal(t, 3, grown.NewTracks)

	now = now.Add(time.Hour)
	failed := sm.Record("a", SyncOutcome{Tracks: 13, Failed: 2, Err: "2 tracks failed"})
	assert.False(t, failed.Success)
	assert.Zero(t, failed.NewTracks)
	assert.Equal(t, 1, failed.ConsecutiveFailures)
	assert.Equal(t, now.Add(-time.Hour), failed.LastSuccess, "last success survives a failure")

	again := sm.Record("a", SyncOutcome{Err: "HTTP 503"})
	assert.Equal(t, 2, again.ConsecutiveFailures)

	recovered := sm.Record("a", SyncOutcome{Success: true, Tracks: 14})
	assert.Zero(t, recovered.ConsecutiveFailures)
	assert.Zero(t, recovered.NewTracks, "a setup failure read no track list to compare with")
}

func TestStateManager_NextSync(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sm := NewStateManager(t.TempDir())
	sm.now = func() time.Time { return now }

	assert.Equal(t, now, sm.NextSync("new", time.Hour))

	sm.Record("a", SyncOutcome{Tracks: 10, Failed: 2})
	assert.Equal(t, now.Add(time.Hour), sm.NextSync("a", time.Hour))

	now = now.Add(59 * time.Minute)
	assert.False(t, sm.Due("a", time.Hour))
	now = now.Add(time.Minute)
	assert.True(t, sm.Due("a", time.Hour))
}

func TestStateManager_Prune(t *testing.T) {
	sm := NewStateManager(t.TempDir())
	sm.Record("a", SyncOutcome{Success: true, Tracks: 1})
	sm.Record("b", SyncOutcome{Success: true, Tracks: 2})
	sm.Record("c", SyncOutcome{Success: true, Tracks: 3})

	assert.Equal(t, 2, sm.Prune([]string{"b", "d"}))
	_, ok := sm.Get("b")
	assert.True(t, ok)
	_, ok = sm.Get("a")
	assert.False(t, ok)
	assert.Zero(t, sm.Prune([]string{"b"}))
}

func TestCalculateTickInterval(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{5 * time.Minute, time.Minute},
		{time.Hour, 6 * time.Minute},
		{24 * time.Hour, 10 * time.Minute},
	}
	for _, tt := range tests {
		s := &Scheduler{interval: tt.interval}
		if got := s.calculateTickInterval(); got != tt.want {
			t.Errorf("calculateTickInterval(%v) = %v, want %v", tt.interval, got, tt.want)
		}
	}
}

// newSite serves album "a" with one track and counts file downloads
func newSite(t *testing.T, fileHits *atomic.Int32) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/game-soundtracks/album/a":
			fmt.Fprint(w, `<h2>A</h2><table id="songlist">
<tr><td class="clickable-row"><a href="/game-soundtracks/album/a/1">1</a></td></tr></table>`)
		case "/game-soundtracks/album/a/1":
			fmt.Fprint(w, `<a href="/files/one.mp3">dl</a>`)
		case "/files/one.mp3":
			fileHits.Add(1)
			w.Write([]byte("ID3 payload"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestScheduler(t *testing.T, site *httptest.Server, keys ...string) *Scheduler {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	appCfg := &config.AppConfig{
		HostBase:      site.URL,
		OutputBaseDir: t.TempDir(),
		StateDir:      t.TempDir(),
		RetryStep:     time.Millisecond,
	}
	if _, err := appCfg.Validate(); err != nil {
		t.Fatal(err)
	}

	jobs := make([]orchestrate.AlbumJob, 0, len(keys))
	for _, key := range keys {
		jobs = append(jobs, orchestrate.JobForURL(appCfg, site.URL+"/game-soundtracks/album/"+key))
	}
	return NewScheduler(appCfg, jobs, time.Hour, logrus.NewEntry(log))
}

func TestSyncAlbums_RecordsStateAndSkipsExisting(t *testing.T) {
	var fileHits atomic.Int32
	site := newSite(t, &fileHits)
	s := newTestScheduler(t, site, "a", "missing")

	if due := s.getDueAlbums(); len(due) != 2 {
		t.Fatalf("getDueAlbums() = %v, want both albums", due)
	}

	s.syncAlbums(s.getDueAlbums())

	a, ok := s.stateManager.Get("a")
	if !ok || !a.Success || a.Tracks != 1 {
		t.Errorf("state a = %+v (ok=%v), want success with 1 track", a, ok)
	}
	missing, ok := s.stateManager.Get("missing")
	if !ok || missing.Success || missing.Error == "" || missing.ConsecutiveFailures != 1 {
		t.Errorf("state missing = %+v (ok=%v), want one failure with message", missing, ok)
	}
	if due := s.getDueAlbums(); len(due) != 0 {
		t.Errorf("nothing should be due right after a sync, got %v", due)
	}
	if _, err := os.Stat(filepath.Join(s.appCfg.StateDir, stateFileName)); err != nil {
		t.Errorf("state should be saved: %v", err)
	}

	s.syncAlbums([]string{"a"})
	if got := fileHits.Load(); got != 1 {
		t.Errorf("file downloaded %d times, want 1 (second sync skips the existing file)", got)
	}

	status := s.GetStatus()
	if status["a"].NeverRun || status["a"].URL == "" {
		t.Errorf("status a = %+v", status["a"])
	}
}

func TestSyncAlbums_AfterStopDoesNothing(t *testing.T) {
	var fileHits atomic.Int32
	site := newSite(t, &fileHits)
	s := newTestScheduler(t, site, "a")

	s.Stop()
	s.syncAlbums([]string{"a"})

	if _, ok := s.stateManager.Get("a"); ok {
		t.Error("a stopped scheduler should not record a sync")
	}
	if fileHits.Load() != 0 {
		t.Error("a stopped scheduler should not download")
	}
}

func TestRun_StopsCleanly(t *testing.T) {
	var fileHits atomic.Int32
	site := newSite(t, &fileHits)
	s := newTestScheduler(t, site, "a")

	done := make(chan error, 1)
	go func() { done <- s.Run() }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := s.stateManager.Get("a"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial sync did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after Stop()")
	}
}

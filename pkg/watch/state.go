package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

const stateFileName = "watch_state.json"

// SyncOutcome is what one finished (not cancelled) sync of an album reports
type SyncOutcome struct {
	Success bool
	Tracks  int // Tracks listed on the album page
	Failed  int
	Err     string
}

// AlbumState is the persisted record of an album's most recent sync
type AlbumState struct {
	LastSync            time.Time `json:"last_sync"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	Success             bool      `json:"success"`
	Tracks              int       `json:"tracks"`
	NewTracks           int       `json:"new_tracks"` // Growth of the track list since the previous sync
	FailedTracks        int       `json:"failed_tracks"`
	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	Error               string    `json:"error,omitempty"`
}

type stateFile struct {
	Albums    map[string]AlbumState `json:"albums"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// StateManager keeps per-album sync state in state_dir/watch_state.json
type StateManager struct {
	dir  string
	path string
	now  func() time.Time

	mu     sync.RWMutex
	albums map[string]AlbumState
}

func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		dir:    stateDir,
		path:   filepath.Join(stateDir, stateFileName),
		now:    time.Now,
		albums: make(map[string]AlbumState),
	}
}

// Load replaces the in-memory state with the file's. A missing file is an empty state.
func (m *StateManager) Load() error {
	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.mu.Lock()
		m.albums = make(map[string]AlbumState)
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		return utils.WrapErrorf(utils.ErrFilesystem, err, "read %s", m.path)
	}

	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return utils.WrapErrorf(utils.ErrParsing, err, "decode %s", m.path)
	}
	if f.Albums == nil {
		f.Albums = make(map[string]AlbumState)
	}

	m.mu.Lock()
	m.albums = f.Albums
	m.mu.Unlock()
	return nil
}

// Save writes the state through a temp file so a crash never leaves a torn file
func (m *StateManager) Save() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(stateFile{Albums: m.albums, UpdatedAt: m.now()}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode watch state: %w", err)
	}

	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return utils.WrapErrorf(utils.ErrFilesystem, err, "create %s", m.dir)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return utils.WrapErrorf(utils.ErrFilesystem, err, "write %s", tmp)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return utils.WrapErrorf(utils.ErrFilesystem, err, "replace %s", m.path)
	}
	return nil
}

// Get returns the state of one album
func (m *StateManager) Get(key string) (AlbumState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.albums[key]
	return s, ok
}

// Record stores the outcome of a sync and returns the new state.
// NewTracks is only counted against a previous sync that read the track list.
func (m *StateManager) Record(key string, out SyncOutcome) AlbumState {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, seen := m.albums[key]
	next := AlbumState{
		LastSync:     m.now(),
		LastSuccess:  prev.LastSuccess,
		Success:      out.Success,
		Tracks:       out.Tracks,
		FailedTracks: out.Failed,
		Error:        out.Err,
	}
	if seen && prev.Tracks > 0 && out.Tracks > prev.Tracks {
		next.NewTracks = out.Tracks - prev.Tracks
	}
	if out.Success {
		next.LastSuccess = next.LastSync
	} else {
		next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	}
	m.albums[key] = next
	return next
}

// Due reports whether an album should sync now. Albums never synced are always due.
func (m *StateManager) Due(key string, interval time.Duration) bool {
	return !m.NextSync(key, interval).After(m.now())
}

// NextSync is when the album becomes due
func (m *StateManager) NextSync(key string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.albums[key]
	if !ok {
		return m.now()
	}
	return s.LastSync.Add(interval)
}

// Prune drops albums that are no longer watched and returns how many were removed
func (m *StateManager) Prune(watched []string) int {
	keep := make(map[string]bool, len(watched))
	for _, k := range watched {
		keep[k] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.albums {
		if !keep[k] {
			delete(m.albums, k)
			removed++
		}
	}
	return removed
}

package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
)

// Scheduler re-syncs albums periodically. Files already on disk are skipped by the
// engine, so each sync only fetches tracks added to the album since the last one.
type Scheduler struct {
	appCfg       *config.AppConfig
	jobs         map[string]orchestrate.AlbumJob
	keys         []string
	interval     time.Duration
	log          *logrus.Entry
	stateManager *StateManager
	history      storage.RunLedger

	syncing atomic.Bool
	currMu  sync.Mutex
	current *orchestrate.Orchestrator

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new watch scheduler
func NewScheduler(appCfg *config.AppConfig, jobs []orchestrate.AlbumJob, interval time.Duration, log *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	byKey := make(map[string]orchestrate.AlbumJob, len(jobs))
	keys := make([]string, 0, len(jobs))
	for _, job := range jobs {
		byKey[job.Label()] = job
		keys = append(keys, job.Label())
	}

	return &Scheduler{
		appCfg:       appCfg,
		jobs:         byKey,
		keys:         keys,
		interval:     interval,
		log:          log,
		stateManager: NewStateManager(appCfg.StateDir),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// WithHistory records every sync in ledger
func (s *Scheduler) WithHistory(ledger storage.RunLedger) *Scheduler {
	s.history = ledger
	return s
}

// Run starts the watch scheduler and blocks until stopped
func (s *Scheduler) Run() error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}
	if n := s.stateManager.Prune(s.keys); n > 0 {
		s.log.Infof("Dropped watch state of %d albums no longer watched", n)
	}

	s.log.Infof("Starting watch mode for %d albums with interval %v", len(s.keys), FormatInterval(s.interval))
	s.logSchedule()

	s.runDueAlbums()

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.log.Info("Watch scheduler shutting down...")
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.runDueAlbums()
		}
	}
}

// Stop stops the scheduler and cancels a sync in progress
func (s *Scheduler) Stop() {
	s.log.Info("Stopping watch scheduler...")
	s.cancel()

	s.currMu.Lock()
	defer s.currMu.Unlock()
	if s.current != nil {
		s.current.Cancel()
	}
}

// runDueAlbums starts a background sync of the due albums unless one is still running
func (s *Scheduler) runDueAlbums() {
	due := s.getDueAlbums()
	if len(due) == 0 {
		s.logNextRun()
		return
	}
	if !s.syncing.CompareAndSwap(false, true) {
		s.log.Debug("Previous sync still running, skipping this tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.syncing.Store(false)
		s.syncAlbums(due)
		s.logNextRun()
	}()
}

// syncAlbums downloads the given albums and records the outcome of each
func (s *Scheduler) syncAlbums(keys []string) {
	s.log.Infof("Syncing %d due albums: %v", len(keys), keys)

	jobs := make([]orchestrate.AlbumJob, 0, len(keys))
	for _, key := range keys {
		jobs = append(jobs, s.jobs[key])
	}

	orch := orchestrate.NewOrchestrator(s.appCfg, jobs, s.log)
	if s.history != nil {
		orch.WithHistory(s.history)
	}

	s.currMu.Lock()
	if s.ctx.Err() != nil {
		s.currMu.Unlock()
		return
	}
	s.current = orch
	s.currMu.Unlock()

	results := orch.Run()

	s.currMu.Lock()
	s.current = nil
	s.currMu.Unlock()

	for _, result := range results {
		if result.Phase == models.PhaseCancelled {
			continue // An interrupted sync does not count as a run
		}
		out := SyncOutcome{Success: result.Success(), Tracks: result.Total, Failed: result.Failed}
		if result.Error != nil {
			out.Err = result.Error.Error()
		}
		state := s.stateManager.Record(result.Job.Label(), out)
		if state.NewTracks > 0 {
			s.log.WithField("album", result.Job.Label()).Infof("%d new tracks since the last sync", state.NewTracks)
		}
	}

	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}
}

// getDueAlbums returns album keys that are due for a sync
func (s *Scheduler) getDueAlbums() []string {
	var due []string
	for _, key := range s.keys {
		if s.stateManager.Due(key, s.interval) {
			due = append(due, key)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due albums
func (s *Scheduler) calculateTickInterval() time.Duration {
	// Every 1/10th of the interval, clamped to [1m, 10m]
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, key := range s.keys {
		state, exists := s.stateManager.Get(key)
		if !exists {
			s.log.Infof("  %s: never synced, will sync immediately", key)
			continue
		}
		status := "success"
		if !state.Success {
			status = fmt.Sprintf("failed %d times in a row", state.ConsecutiveFailures)
		}
		s.log.Infof("  %s: last sync %v (%s, %d tracks), next sync %v",
			key,
			state.LastSync.Format(time.RFC3339),
			status,
			state.Tracks,
			s.stateManager.NextSync(key, s.interval).Format(time.RFC3339))
	}
}

// logNextRun logs when the next sync will occur
func (s *Scheduler) logNextRun() {
	type nextRun struct {
		key string
		at  time.Time
	}
	runs := make([]nextRun, 0, len(s.keys))
	for _, key := range s.keys {
		runs = append(runs, nextRun{key, s.stateManager.NextSync(key, s.interval)})
	}
	if len(runs) == 0 {
		return
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].at.Before(runs[j].at) })
	next := runs[0]
	until := time.Until(next.at)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next sync: %s in %v (at %s)", next.key, until.Round(time.Second), next.at.Format("15:04:05"))
}

// GetStatus returns the current status of all watched albums
func (s *Scheduler) GetStatus() map[string]AlbumStatus {
	status := make(map[string]AlbumStatus, len(s.keys))
	for _, key := range s.keys {
		state, exists := s.stateManager.Get(key)
		status[key] = AlbumStatus{
			AlbumKey: key,
			URL:      s.jobs[key].URL,
			State:    state,
			NextSync: s.stateManager.NextSync(key, s.interval),
			NeverRun: !exists,
		}
	}
	return status
}

// AlbumStatus contains the status of a watched album
type AlbumStatus struct {
	AlbumKey string
	URL      string
	State    AlbumState
	NextSync time.Time
	NeverRun bool
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for a leading day count ("7d", "1d12h")
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 && days > 0 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}

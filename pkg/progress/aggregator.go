package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/Sriram-PR/khinsider-dl/pkg/models"
)

// Aggregator owns the per-item status records and the rolled-up counters of one run.
// Workers call Record only for the index they claimed; everything else only reads.
type Aggregator struct {
	mu        sync.Mutex
	files     []models.FileStatus
	completed int
	failed    int
	bytes     int64
	startedAt time.Time
	now       func() time.Time
}

// New creates an Aggregator with total pending items and starts the elapsed clock
func New(total int) *Aggregator {
	return NewWithClock(total, time.Now)
}

// NewWithClock is New with an injectable clock
func NewWithClock(total int, now func() time.Time) *Aggregator {
	files := make([]models.FileStatus, total)
	for i := range files {
		files[i] = models.FileStatus{
			Index:  i,
			Name:   models.PlaceholderName(i),
			Status: models.FileStatePending,
		}
	}
	return &Aggregator{
		files:     files,
		startedAt: now(),
		now:       now,
	}
}

// Total returns the number of items in the run
func (a *Aggregator) Total() int {
	return len(a.files)
}

// Record applies mutate to the status of one item.
// The counters move exactly once, when the item first enters done or failed;
// mutations of an item that is already terminal are discarded.
// Returns false when the mutation was discarded.
func (a *Aggregator) Record(index int, mutate func(*models.FileStatus)) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if index < 0 || index >= len(a.files) {
		return false
	}
	current := a.files[index]
	if current.Status.IsTerminal() {
		return false
	}

	next := current
	mutate(&next)
	next.Index = index
	a.files[index] = next

	switch next.Status {
	case models.FileStateDone:
		a.completed++
		a.bytes += next.Size
	case models.FileStateFailed:
		a.failed++
	}
	return true
}

// Status returns a copy of one item's record
func (a *Aggregator) Status(index int) models.FileStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.files[index]
}

// Snapshot builds an immutable downloading snapshot. Files is a fresh copy.
func (a *Aggregator) Snapshot() models.DownloadingSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := a.elapsedLocked()
	files := make([]models.FileStatus, len(a.files))
	copy(files, a.files)

	return models.DownloadingSnapshot{
		TotalFiles:     len(a.files),
		CompletedFiles: a.completed,
		FailedFiles:    a.failed,
		TotalBytes:     a.bytes,
		Speed:          speed(a.bytes, elapsed),
		Elapsed:        elapsed,
		Files:          files,
	}
}

// Done builds the snapshot that closes a run that was not cancelled
func (a *Aggregator) Done() models.DoneSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	elapsed := a.elapsedLocked()
	return models.DoneSnapshot{
		TotalFiles:     len(a.files),
		CompletedFiles: a.completed,
		FailedFiles:    a.failed,
		TotalBytes:     a.bytes,
		Elapsed:        elapsed,
		Message:        fmt.Sprintf("%d/%d succeeded, took %.1fs", a.completed, len(a.files), elapsed),
	}
}

// Counters returns the rolled-up totals
func (a *Aggregator) Counters() models.RunCounters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.RunCounters{
		Completed: a.completed,
		Failed:    a.failed,
		Bytes:     a.bytes,
		StartedAt: a.startedAt,
	}
}

func (a *Aggregator) elapsedLocked() float64 {
	elapsed := a.now().Sub(a.startedAt).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// speed is bytes per second, 0 before any time has passed
func speed(bytes int64, elapsed float64) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed
}

package downloader

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
)

// RunRecorder builds a ledger record from the snapshots of one run
type RunRecorder struct {
	mu    sync.Mutex
	rec   models.RunRecord
	files []models.FileStatus
	last  models.Snapshot
	now   func() time.Time
}

// NewRunRecorder starts a record for albumURL with a fresh run ID
func NewRunRecorder(albumURL, targetDir string) *RunRecorder {
	now := time.Now
	return &RunRecorder{
		rec: models.RunRecord{
			ID:        uuid.NewString(),
			Album:     models.AlbumReference{URL: albumURL, Slug: parse.ExtractSlug(albumURL)},
			TargetDir: targetDir,
			Phase:     models.PhaseParsing,
			StartedAt: now(),
		},
		now: now,
	}
}

// ID returns the run ID
func (rr *RunRecorder) ID() string {
	return rr.rec.ID
}

// Observe returns a progress callback that records each snapshot and then calls next (which may be nil)
func (rr *RunRecorder) Observe(next func(models.Snapshot)) func(models.Snapshot) {
	return func(s models.Snapshot) {
		rr.update(s)
		if next != nil {
			next(s)
		}
	}
}

// Last returns the most recent snapshot seen, or nil
func (rr *RunRecorder) Last() models.Snapshot {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.last
}

func (rr *RunRecorder) update(s models.Snapshot) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.last = s
	rr.rec.Phase = s.Phase()
	switch snap := s.(type) {
	case models.ParsedSnapshot:
		rr.rec.Title = snap.AlbumTitle
		rr.rec.Total = snap.TotalFiles
	case models.DownloadingSnapshot:
		rr.rec.Total = snap.TotalFiles
		rr.rec.Completed = snap.CompletedFiles
		rr.rec.Failed = snap.FailedFiles
		rr.rec.Bytes = snap.TotalBytes
		rr.files = snap.Files
	case models.DoneSnapshot:
		rr.rec.Total = snap.TotalFiles
		rr.rec.Completed = snap.CompletedFiles
		rr.rec.Failed = snap.FailedFiles
		rr.rec.Bytes = snap.TotalBytes
	}
}

// Finish closes the record. A non-nil err is a setup failure of the run.
func (rr *RunRecorder) Finish(err error) models.RunRecord {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.rec.FinishedAt = rr.now()
	if err != nil {
		rr.rec.SetupError = err.Error()
	}
	rr.rec.Items = make([]models.ItemOutcome, 0, len(rr.files))
	for _, f := range rr.files {
		rr.rec.Items = append(rr.rec.Items, models.ItemOutcome{
			Index:         f.Index,
			Name:          f.Name,
			Status:        f.Status,
			Size:          f.Size,
			RetryCount:    f.RetryCount,
			ErrorCategory: f.ErrorCategory,
			Error:         f.Error,
		})
	}
	return rr.rec
}

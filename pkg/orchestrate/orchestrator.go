package orchestrate

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/downloader"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// AlbumResult contains the result of downloading a single album
type AlbumResult struct {
	Job       AlbumJob
	RunID     string
	Title     string
	Phase     models.Phase // Last phase reached; parsing/parsed means setup failed
	Error     error        // Setup error; per-track failures are only counted
	Total     int
	Completed int
	Failed    int
	Bytes     int64
	Duration  time.Duration
}

// Success reports whether the album finished with every track done
func (r AlbumResult) Success() bool {
	return r.Error == nil && r.Phase == models.PhaseDone && r.Failed == 0
}

// ProgressFunc receives every snapshot of every album, tagged with the job
type ProgressFunc func(job AlbumJob, s models.Snapshot)

// Orchestrator downloads several albums, at most parallel_albums at a time
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	jobs     []AlbumJob
	pipeline *Pipeline
	history  storage.RunLedger // nil = history disabled

	onProgress ProgressFunc

	// Results
	results   []AlbumResult
	resultsMu sync.Mutex

	// Coordination
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator creates a new orchestrator for the given jobs
func NewOrchestrator(appCfg *config.AppConfig, jobs []AlbumJob, log *logrus.Entry) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		appCfg:   appCfg,
		log:      log,
		jobs:     jobs,
		pipeline: NewPipeline(appCfg, log),
		results:  make([]AlbumResult, 0, len(jobs)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// WithHistory records every run in ledger
func (o *Orchestrator) WithHistory(ledger storage.RunLedger) *Orchestrator {
	o.history = ledger
	return o
}

// WithProgress forwards snapshots to fn. Calls for one album never overlap; calls for different albums may.
func (o *Orchestrator) WithProgress(fn ProgressFunc) *Orchestrator {
	o.onProgress = fn
	return o
}

// Run downloads all albums and waits for completion. Results are in job order.
func (o *Orchestrator) Run() []AlbumResult {
	startTime := time.Now()
	limit := o.appCfg.ParallelAlbums
	if limit < 1 {
		limit = 1
	}
	o.log.Infof("Starting download of %d album(s), %d at a time", len(o.jobs), limit)

	results := make([]AlbumResult, len(o.jobs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range o.jobs {
		g.Go(func() error {
			results[i] = o.runAlbum(job)
			return nil // One album failing never stops the others
		})
	}
	g.Wait()

	o.resultsMu.Lock()
	o.results = results
	o.resultsMu.Unlock()

	o.logSummary(time.Since(startTime))
	return results
}

// runAlbum downloads one album with its own engine
func (o *Orchestrator) runAlbum(job AlbumJob) AlbumResult {
	startTime := time.Now()
	albumLog := o.log.WithField("album_key", job.Label())
	result := AlbumResult{Job: job}

	if o.ctx.Err() != nil {
		result.Phase = models.PhaseCancelled
		return result
	}

	engine := o.pipeline.NewEngine(albumLog)
	recorder := downloader.NewRunRecorder(job.URL, job.TargetDir)
	var forward func(models.Snapshot)
	if o.onProgress != nil {
		forward = func(s models.Snapshot) { o.onProgress(job, s) }
	}

	albumLog.Infof("Downloading %s into %s", job.URL, job.TargetDir)
	err := engine.Start(o.ctx, downloader.Options{
		AlbumURL:    job.URL,
		TargetDir:   job.TargetDir,
		Concurrency: job.Concurrency,
		MaxRetries:  job.MaxRetries,
		TagMP3:      job.TagMP3,
		OnProgress:  recorder.Observe(forward),
	})
	record := recorder.Finish(err)

	if err != nil {
		albumLog.WithField("category", utils.CategorizeError(err)).Errorf("Album failed: %v", err)
	}
	if o.history != nil {
		if saveErr := o.history.SaveRun(&record); saveErr != nil {
			albumLog.Warnf("Failed to record run history: %v", saveErr)
		}
	}

	result.RunID = record.ID
	result.Title = record.Title
	result.Phase = record.Phase
	result.Error = err
	result.Total = record.Total
	result.Completed = record.Completed
	result.Failed = record.Failed
	result.Bytes = record.Bytes
	result.Duration = time.Since(startTime)
	return result
}

// Cancel cancels all running downloads
func (o *Orchestrator) Cancel() {
	o.log.Info("Cancelling all downloads...")
	o.cancel()
}

// Results returns the results of the last Run
func (o *Orchestrator) Results() []AlbumResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	return append([]AlbumResult(nil), o.results...)
}

// logSummary logs a summary of all album results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Download completed in %v", totalDuration.Round(time.Millisecond))
	o.log.Info("Album Results:")

	var totalBytes int64
	successCount := 0
	failCount := 0

	for _, r := range o.Results() {
		status := "SUCCESS"
		switch {
		case r.Phase == models.PhaseCancelled:
			status = "CANCELLED"
			failCount++
		case !r.Success():
			status = "FAILED"
			failCount++
		default:
			successCount++
		}
		totalBytes += r.Bytes

		o.log.Infof("  %s: %s - %d/%d tracks, %s in %v", r.Job.Label(), status, r.Completed, r.Total,
			utils.FormatSize(r.Bytes), r.Duration.Round(time.Millisecond))
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
		if r.Failed > 0 {
			o.log.Infof("    %d track(s) failed", r.Failed)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d albums (%d success, %d failed), %s downloaded",
		len(o.jobs), successCount, failCount, utils.FormatSize(totalBytes))
	o.log.Info("============================================")
}

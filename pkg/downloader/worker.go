package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/tag"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// worker claims items until the list is exhausted or the run is cancelled
func (r *run) worker(ctx context.Context, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		if ctx.Err() != nil {
			workerLog.Debugf("Worker shutting down due to context cancellation: %v", ctx.Err())
			return
		}
		idx := int(r.cursor.Add(1) - 1)
		if idx >= len(r.tasks) {
			return
		}
		r.processItem(ctx, r.tasks[idx], workerLog.WithField("index", idx))
	}
}

// processItem owns the full lifecycle of one item: resolve, download, retry with linear backoff.
// On cancellation the item keeps whatever state it last reached.
func (r *run) processItem(ctx context.Context, task models.ItemTask, taskLog *logrus.Entry) {
	idx := task.Index
	startTime := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			taskLog.WithFields(logrus.Fields{
				"panic_info":  rec,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processItem")
			r.record(idx, func(f *models.FileStatus) {
				f.Status = models.FileStateFailed
				f.Error = fmt.Sprintf("panic: %v", rec)
				f.ErrorCategory = "Internal_Panic"
			})
		}
	}()

	r.record(idx, func(f *models.FileStatus) {
		f.Status = models.FileStateDownloading
		f.RetryCount = 0
	})

	maxRetries := r.opts.MaxRetries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}

		if attempt > 0 {
			wait := time.Duration(attempt) * r.engine.retryStep
			r.record(idx, func(f *models.FileStatus) {
				f.Status = models.FileStateRetrying
				f.RetryCount = attempt
				f.Error = fmt.Sprintf("retry %d/%d, waiting %s", attempt, maxRetries, wait)
			})
			if !sleepCtx(ctx, wait) {
				return
			}
			r.record(idx, func(f *models.FileStatus) {
				f.Status = models.FileStateDownloading
				f.Error = ""
			})
		}

		size, err := r.attempt(ctx, task, taskLog)
		if err == nil {
			r.record(idx, func(f *models.FileStatus) {
				f.Status = models.FileStateDone
				f.Size = size
				f.RetryCount = attempt
				f.Error = ""
			})
			taskLog.WithFields(logrus.Fields{
				"attempt":  attempt,
				"bytes":    size,
				"duration": time.Since(startTime).String(),
			}).Info("Track done")
			return
		}

		if ctx.Err() != nil || utils.IsCancellation(err) {
			taskLog.Debugf("Attempt aborted by cancellation: %v", err)
			return
		}

		category := utils.CategorizeError(err)
		taskLog.WithFields(logrus.Fields{"attempt": attempt, "category": category}).Warnf("Attempt failed: %v", err)

		if attempt == maxRetries {
			r.record(idx, func(f *models.FileStatus) {
				f.Status = models.FileStateFailed
				f.RetryCount = maxRetries
				f.Error = fmt.Sprintf("%v (gave up after %d retries)", err, maxRetries)
				f.ErrorCategory = category
			})
			taskLog.WithField("category", category).Error("Track failed, retry budget exhausted")
		}
	}
}

// attempt resolves the item page and downloads the file once.
// An existing non-empty file at the destination counts as success.
func (r *run) attempt(ctx context.Context, task models.ItemTask, taskLog *logrus.Entry) (int64, error) {
	link, err := r.engine.resolver.ResolveItem(ctx, task.PageRef)
	if err != nil {
		return 0, err
	}
	if link.DownloadURL == "" {
		return 0, fmt.Errorf("%w: %s", utils.ErrNoDownloadLink, link.PageURL)
	}

	name := utils.SanitizeFilename(link.FileName)
	if name == "" {
		name = models.FallbackFileName(task.Index)
	}
	r.record(task.Index, func(f *models.FileStatus) { f.Name = name })

	destPath := filepath.Join(r.opts.TargetDir, name)
	if info, statErr := os.Stat(destPath); statErr == nil && info.Mode().IsRegular() && info.Size() > 0 {
		taskLog.WithField("dest", destPath).Info("File already present, skipping download")
		return info.Size(), nil
	}

	written, err := r.engine.transfer.Download(ctx, link.DownloadURL, destPath)
	if err != nil {
		return 0, err
	}

	if r.opts.TagMP3 && tag.IsMP3(destPath) {
		info := tag.TrackInfo{Album: r.title, Track: task.Index + 1, Total: len(r.tasks)}
		if tagErr := tag.WriteID3(destPath, info); tagErr != nil {
			taskLog.Warnf("Failed to write ID3 tags: %v", tagErr)
		}
	}
	return written, nil
}

// sleepCtx waits for d or until ctx is done. Returns false if ctx ended the wait.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

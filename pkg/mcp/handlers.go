package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/downloader"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// handleDownloadAlbum handles the download_album tool
func (s *Server) handleDownloadAlbum(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	albumURL := request.GetString("url", "")
	albumKey := request.GetString("album_key", "")

	var job orchestrate.AlbumJob
	switch {
	case albumURL != "" && albumKey != "":
		return mcp.NewToolResultError("pass either url or album_key, not both"), nil
	case albumKey != "":
		if err := orchestrate.ValidateAlbumKeys(s.cfg.AppConfig, []string{albumKey}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		job = orchestrate.JobForAlbum(s.cfg.AppConfig, albumKey, s.cfg.AppConfig.Albums[albumKey])
	case albumURL != "":
		if err := parse.ValidateAlbumURL(albumURL, s.cfg.AppConfig.HostBase); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		job = orchestrate.JobForURL(s.cfg.AppConfig, albumURL)
	default:
		return mcp.NewToolResultError("url or album_key parameter is required"), nil
	}

	if n := request.GetInt("concurrency", 0); n > 0 {
		job.Concurrency = n
	}
	if n := request.GetInt("max_retries", -1); n >= 0 {
		job.MaxRetries = n
	}

	mjob, created := s.jobManager.CreateJob(job.URL, job.Label(), job.TargetDir)
	if !created {
		result := map[string]interface{}{
			"status":    "already_running",
			"message":   "A download is already in progress for this album",
			"job_id":    mjob.ID,
			"album_url": mjob.AlbumURL,
		}
		if mjob.Status == JobStatusCancelled {
			result["message"] = "A cancelled download for this album is still stopping; retry shortly"
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.runDownloadJob(mjob.ID, job)
	}()

	result := map[string]interface{}{
		"status":      "started",
		"message":     "Download started successfully",
		"job_id":      mjob.ID,
		"album_url":   job.URL,
		"target_dir":  job.TargetDir,
		"concurrency": job.Concurrency,
		"max_retries": job.MaxRetries,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := jobSummary(job)
	if snap := job.Snapshot(); snap != nil {
		result["progress"] = describeSnapshot(snap, true)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	cancelled := s.jobManager.CancelJob(jobID)
	result := map[string]interface{}{
		"job_id":    jobID,
		"cancelled": cancelled,
	}
	if !cancelled {
		result["message"] = "Job is not running"
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()
	list := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		entry := jobSummary(job)
		if snap := job.Snapshot(); snap != nil {
			entry["progress"] = describeSnapshot(snap, false)
		}
		list = append(list, entry)
	}

	result := map[string]interface{}{
		"jobs":       list,
		"total_jobs": len(list),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListAlbums handles the list_albums tool
func (s *Server) handleListAlbums(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := orchestrate.GetAllAlbumKeys(s.cfg.AppConfig)
	albums := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		job := orchestrate.JobForAlbum(s.cfg.AppConfig, key, s.cfg.AppConfig.Albums[key])
		info := map[string]interface{}{
			"key":         key,
			"url":         job.URL,
			"target_dir":  job.TargetDir,
			"concurrency": job.Concurrency,
			"max_retries": job.MaxRetries,
		}
		if s.jobManager.IsRunning(job.URL) {
			info["status"] = "running"
		}
		albums = append(albums, info)
	}

	result := map[string]interface{}{
		"albums":       albums,
		"config_path":  s.cfg.ConfigPath,
		"total_albums": len(albums),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListHistory handles the list_history tool
func (s *Server) handleListHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.History == nil {
		return mcp.NewToolResultError("run history is disabled (set enable_history: true in the config)"), nil
	}

	limit := request.GetInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	runs, err := s.cfg.History.ListRuns(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}

	list := make([]map[string]interface{}, 0, len(runs))
	for i := range runs {
		run := &runs[i]
		entry := map[string]interface{}{
			"run_id":     run.ID,
			"album_url":  run.Album.URL,
			"title":      run.Title,
			"target_dir": run.TargetDir,
			"phase":      run.Phase,
			"started_at": run.StartedAt.Format(time.RFC3339),
			"total":      run.Total,
			"completed":  run.Completed,
			"failed":     run.Failed,
			"bytes":      run.Bytes,
			"duration":   run.Duration().Round(time.Millisecond).String(),
		}
		if run.SetupError != "" {
			entry["setup_error"] = run.SetupError
		}
		list = append(list, entry)
	}

	result := map[string]interface{}{
		"runs":       list,
		"total_runs": len(list),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetRun handles the get_run tool
func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.cfg.History == nil {
		return mcp.NewToolResultError("run history is disabled (set enable_history: true in the config)"), nil
	}
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}

	run, err := s.cfg.History.GetRun(runID)
	if errors.Is(err, storage.ErrRunNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("run '%s' not found", runID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}

	result := map[string]interface{}{
		"run_id":      run.ID,
		"album_url":   run.Album.URL,
		"title":       run.Title,
		"target_dir":  run.TargetDir,
		"phase":       run.Phase,
		"started_at":  run.StartedAt.Format(time.RFC3339),
		"finished_at": run.FinishedAt.Format(time.RFC3339),
		"total":       run.Total,
		"completed":   run.Completed,
		"failed":      run.Failed,
		"bytes":       run.Bytes,
		"items":       run.Items,
	}
	if run.SetupError != "" {
		result["setup_error"] = run.SetupError
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runDownloadJob runs one album download in the background
func (s *Server) runDownloadJob(jobID string, job orchestrate.AlbumJob) {
	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithFields(logrus.Fields{"job_id": jobID, "album_key": job.Label()})

	recorder := downloader.NewRunRecorder(job.URL, job.TargetDir)
	s.jobManager.MarkRunning(jobID, recorder.ID())

	engine := s.pipeline.NewEngine(jobLog)
	err := engine.Start(jobCtx, downloader.Options{
		AlbumURL:    job.URL,
		TargetDir:   job.TargetDir,
		Concurrency: job.Concurrency,
		MaxRetries:  job.MaxRetries,
		TagMP3:      job.TagMP3,
		OnProgress: recorder.Observe(func(snap models.Snapshot) {
			s.jobManager.UpdateSnapshot(jobID, snap)
		}),
	})
	record := recorder.Finish(err)

	if s.cfg.History != nil {
		if saveErr := s.cfg.History.SaveRun(&record); saveErr != nil {
			jobLog.Warnf("Failed to record run history: %v", saveErr)
		}
	}

	switch {
	case err != nil:
		jobLog.WithField("category", utils.CategorizeError(err)).Errorf("Download failed: %v", err)
		s.jobManager.Finish(jobID, JobStatusFailed, err.Error())
	case record.Phase == models.PhaseCancelled:
		s.jobManager.Finish(jobID, JobStatusCancelled, "")
	case record.Failed > 0:
		s.jobManager.Finish(jobID, JobStatusCompleted, fmt.Sprintf("%d of %d tracks failed", record.Failed, record.Total))
	default:
		s.jobManager.Finish(jobID, JobStatusCompleted, "")
	}
}

// jobSummary is the common JSON view of a job
func jobSummary(job *Job) map[string]interface{} {
	result := map[string]interface{}{
		"job_id":     job.ID,
		"album_url":  job.AlbumURL,
		"label":      job.Label,
		"target_dir": job.TargetDir,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if job.RunID != "" {
		result["run_id"] = job.RunID
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return result
}

// describeSnapshot renders a snapshot with only the fields its phase carries.
// withFiles adds the per-track list for downloading snapshots.
func describeSnapshot(snap models.Snapshot, withFiles bool) map[string]interface{} {
	out := map[string]interface{}{"phase": snap.Phase()}
	switch v := snap.(type) {
	case models.ParsingSnapshot:
		out["message"] = v.Message
	case models.ParsedSnapshot:
		out["album_title"] = v.AlbumTitle
		out["total_files"] = v.TotalFiles
		out["message"] = v.Message
	case models.DownloadingSnapshot:
		out["total_files"] = v.TotalFiles
		out["completed_files"] = v.CompletedFiles
		out["failed_files"] = v.FailedFiles
		out["total_bytes"] = v.TotalBytes
		out["percent"] = v.Percent()
		out["speed"] = utils.FormatSpeed(v.Speed)
		out["elapsed"] = utils.FormatElapsed(v.Elapsed)
		if withFiles {
			out["files"] = v.Files
		}
	case models.DoneSnapshot:
		out["total_files"] = v.TotalFiles
		out["completed_files"] = v.CompletedFiles
		out["failed_files"] = v.FailedFiles
		out["total_bytes"] = v.TotalBytes
		out["message"] = v.Message
	case models.CancelledSnapshot:
		out["message"] = v.Message
	}
	return out
}

// formatJSON formats data as indented JSON
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}

package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/progress"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// Resolver turns album and item pages into structured data
type Resolver interface {
	ResolveAlbum(ctx context.Context, albumURL string) (*models.Album, error)
	ResolveItem(ctx context.Context, pageRef string) (*models.ItemLink, error)
}

// Transfer performs one download attempt of a remote file to a local path
type Transfer interface {
	Download(ctx context.Context, rawURL, destPath string) (int64, error)
}

// Options describe one run
type Options struct {
	AlbumURL    string
	TargetDir   string
	Concurrency int  // Number of workers, at least 1
	MaxRetries  int  // Attempts per item are MaxRetries+1
	TagMP3      bool // Write ID3 album/track frames after each .mp3 download
	OnProgress  func(models.Snapshot)
}

// Engine downloads whole albums with a fixed pool of workers.
// One Engine runs at most one album at a time.
type Engine struct {
	resolver      Resolver
	transfer      Transfer
	retryStep     time.Duration
	notesFilename string
	log           *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc // Non-nil while a run is active
}

// New creates an Engine
func New(resolver Resolver, transfer Transfer, cfg *config.AppConfig, log *logrus.Entry) *Engine {
	retryStep := cfg.RetryStep
	if retryStep <= 0 {
		retryStep = 3 * time.Second
	}
	return &Engine{
		resolver:      resolver,
		transfer:      transfer,
		retryStep:     retryStep,
		notesFilename: config.GetEffectiveAlbumNotesFilename(*cfg),
		log:           log,
	}
}

// Cancel aborts the active run. It is a no-op when no run is active and may be called any number of times.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Running reports whether a run is active
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancel != nil
}

// Start runs one album to completion.
// Setup failures (album fetch, empty album, target directory) are returned as errors and no worker starts.
// Per-item failures are reported through snapshots only; a cancelled run ends with a cancelled snapshot and a nil error.
func (e *Engine) Start(ctx context.Context, opts Options) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return utils.ErrRunInProgress
	}
	e.cancel = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
	}()

	if opts.Concurrency < 1 {
		e.log.Warnf("Concurrency %d is invalid, using 1", opts.Concurrency)
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	r := &run{
		engine: e,
		opts:   opts,
		log:    e.log.WithField("album", opts.AlbumURL),
	}
	return r.execute(runCtx)
}

// run is the state of one Start call
type run struct {
	engine *Engine
	opts   Options
	log    *logrus.Entry

	title  string
	tasks  []models.ItemTask
	agg    *progress.Aggregator
	cursor atomic.Int64 // Next unclaimed index

	emitMu sync.Mutex // Serializes OnProgress calls
}

func (r *run) execute(ctx context.Context) error {
	r.emit(models.ParsingSnapshot{Message: "Parsing album page..."})

	album, err := r.engine.resolver.ResolveAlbum(ctx, r.opts.AlbumURL)
	if err != nil {
		if ctx.Err() != nil || utils.IsCancellation(err) {
			r.emitCancelled("Cancelled while parsing album page")
			return nil
		}
		return fmt.Errorf("resolve album %s: %w", r.opts.AlbumURL, err)
	}
	if len(album.ItemRefs) == 0 {
		return fmt.Errorf("%w: %s", utils.ErrEmptyAlbum, r.opts.AlbumURL)
	}

	r.title = album.Title
	r.tasks = make([]models.ItemTask, len(album.ItemRefs))
	for i, ref := range album.ItemRefs {
		r.tasks[i] = models.ItemTask{Index: i, PageRef: ref}
	}
	r.log = r.log.WithField("title", album.Title)
	r.emit(models.ParsedSnapshot{
		AlbumTitle: album.Title,
		TotalFiles: len(r.tasks),
		Message:    fmt.Sprintf("Found %d tracks", len(r.tasks)),
	})

	if err := os.MkdirAll(r.opts.TargetDir, 0755); err != nil {
		return utils.WrapErrorf(utils.ErrFilesystem, err, "create target directory '%s'", r.opts.TargetDir)
	}
	lock, err := lockTarget(r.opts.TargetDir)
	if err != nil {
		return err
	}
	defer unlockTarget(lock, r.log)

	if album.NotesMD != "" {
		r.writeNotes(album.NotesMD)
	}

	r.agg = progress.New(len(r.tasks))
	r.log.Infof("Starting %d workers for %d tracks...", r.opts.Concurrency, len(r.tasks))

	var wg sync.WaitGroup
	for i := 1; i <= r.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, r.log.WithField("worker_id", workerID))
		}(i)
	}
	wg.Wait()

	counters := r.agg.Counters()
	if ctx.Err() != nil {
		r.log.WithFields(logrus.Fields{"completed": counters.Completed, "failed": counters.Failed}).Warn("Run cancelled")
		r.emitCancelled(fmt.Sprintf("Download cancelled, %d/%d tracks finished", counters.Completed, len(r.tasks)))
		return nil
	}

	done := r.agg.Done()
	r.log.WithFields(logrus.Fields{
		"completed": done.CompletedFiles,
		"failed":    done.FailedFiles,
		"bytes":     done.TotalBytes,
	}).Info(done.Message)
	r.emit(done)
	return nil
}

// emit delivers one snapshot; callbacks never overlap
func (r *run) emit(s models.Snapshot) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(s)
	}
}

// emitProgress takes the snapshot under the emit lock so delivery order matches state order
func (r *run) emitProgress() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.agg.Snapshot())
	}
}

func (r *run) emitCancelled(message string) {
	r.emit(models.CancelledSnapshot{Message: message})
}

// record applies a mutation to one item and emits the resulting snapshot
func (r *run) record(index int, mutate func(*models.FileStatus)) {
	if r.agg.Record(index, mutate) {
		r.emitProgress()
	}
}

func (r *run) writeNotes(notes string) {
	notesPath := filepath.Join(r.opts.TargetDir, r.engine.notesFilename)
	if err := os.WriteFile(notesPath, []byte(notes), 0644); err != nil {
		r.log.Warnf("Failed to write album notes '%s': %v", notesPath, err)
		return
	}
	r.log.Debugf("Saved album notes: %s", notesPath)
}

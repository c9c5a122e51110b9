package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/models"
	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
	"github.com/Sriram-PR/khinsider-dl/pkg/parse"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
)

const (
	historyGCInterval = 10 * time.Minute
	shutdownGrace     = 30 * time.Second
)

// downloadOptions carries the parsed flags of the download subcommand
type downloadOptions struct {
	ConfigPath string
	URL        string
	AlbumKeys  []string
	AllAlbums  bool
	OutDir     string
	Workers    int // 0 = config
	Retries    int // -1 = config
	LogLevel   string
	NoProgress bool
}

// singleAlbum reports whether the selection names exactly one album
func (o downloadOptions) singleAlbum() bool {
	return o.URL != "" || (!o.AllAlbums && len(o.AlbumKeys) == 1)
}

// runDownload handles the download subcommand
func runDownload(args []string) {
	fs := newFlagSet("download")
	configFile := fs.String("config", "config.yaml", "Path to config file (optional with -url)")
	albumURL := fs.String("url", "", "Album page URL")
	albumKey := fs.String("album", "", "Album key from config (single album)")
	albums := fs.String("albums", "", "Comma-separated album keys")
	allAlbums := fs.Bool("all-albums", false, "Download all configured albums")
	outDir := fs.String("out", "", "Target directory (single album) or base directory (several albums)")
	workers := fs.Int("workers", 0, "Parallel track downloads per album (default from config)")
	retries := fs.Int("retries", -1, "Retries per track after the first attempt (default from config)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	noProgress := fs.Bool("no-progress", false, "Disable the progress bar")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: khinsider-dl download [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  khinsider-dl download -url https://downloads.khinsider.com/game-soundtracks/album/chrono-trigger\n")
		fmt.Fprintf(os.Stderr, "  khinsider-dl download -album ff7 -workers 5\n")
		fmt.Fprintf(os.Stderr, "  khinsider-dl download -albums ff7,chrono --retries 2\n")
		fmt.Fprintf(os.Stderr, "  khinsider-dl download --all-albums\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	opts := downloadOptions{
		ConfigPath: *configFile,
		URL:        strings.TrimSpace(*albumURL),
		AllAlbums:  *allAlbums,
		OutDir:     *outDir,
		Workers:    *workers,
		Retries:    *retries,
		LogLevel:   *logLevel,
		NoProgress: *noProgress,
	}
	if *albums != "" {
		opts.AlbumKeys = splitKeys(*albums)
	} else if *albumKey != "" {
		opts.AlbumKeys = []string{*albumKey}
	}

	if opts.URL == "" && len(opts.AlbumKeys) == 0 && !opts.AllAlbums {
		fmt.Fprintln(os.Stderr, "Error: one of -url, -album, -albums, or --all-albums is required")
		fs.Usage()
		os.Exit(1)
	}

	os.Exit(doDownload(opts, os.Stdout, os.Stderr))
}

// splitKeys parses a comma-separated key list, dropping blanks
func splitKeys(list string) []string {
	var keys []string
	for _, k := range strings.Split(list, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// buildJobs turns the selection flags into album jobs with CLI overrides applied
func buildJobs(appCfg *config.AppConfig, opts downloadOptions, log *logrus.Logger) ([]orchestrate.AlbumJob, error) {
	var jobs []orchestrate.AlbumJob

	switch {
	case opts.URL != "":
		if err := parse.ValidateAlbumURL(opts.URL, appCfg.HostBase); err != nil {
			return nil, err
		}
		jobs = []orchestrate.AlbumJob{orchestrate.JobForURL(appCfg, opts.URL)}
	default:
		keys := opts.AlbumKeys
		if opts.AllAlbums {
			keys = orchestrate.GetAllAlbumKeys(appCfg)
			log.Infof("All albums mode: found %d albums", len(keys))
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("no albums configured")
		}
		if err := orchestrate.ValidateAlbumKeys(appCfg, keys); err != nil {
			return nil, err
		}
		for _, key := range keys {
			albumCfg := appCfg.Albums[key]
			warnings, err := albumCfg.Validate(appCfg)
			if err != nil {
				return nil, fmt.Errorf("album '%s' configuration error: %w", key, err)
			}
			for _, w := range warnings {
				log.Warnf("[%s] %s", key, w)
			}
			jobs = append(jobs, orchestrate.JobForAlbum(appCfg, key, albumCfg))
		}
	}

	for i := range jobs {
		if opts.Workers > 0 {
			jobs[i].Concurrency = opts.Workers
		}
		if opts.Retries >= 0 {
			jobs[i].MaxRetries = opts.Retries
		}
		if opts.OutDir != "" && opts.singleAlbum() {
			jobs[i].TargetDir = opts.OutDir
		}
	}
	return jobs, nil
}

// doDownload runs the download subcommand and returns the exit code.
// 0 = every album finished (or the run was interrupted), 1 = any album failed or setup error.
func doDownload(opts downloadOptions, stdout, stderr io.Writer) int {
	log := setupLogger(opts.LogLevel, stderr)

	var appCfg *config.AppConfig
	var err error
	if opts.URL != "" {
		var found bool
		appCfg, found, err = loadConfigOptional(opts.ConfigPath)
		if err == nil && !found {
			log.Debugf("No config file at %s, using defaults", opts.ConfigPath)
		}
	} else {
		log.Infof("Loading configuration from %s", opts.ConfigPath)
		appCfg, err = loadConfig(opts.ConfigPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}

	// Several albums: -out replaces the base directory before targets are derived
	if opts.OutDir != "" && !opts.singleAlbum() {
		appCfg.OutputBaseDir = opts.OutDir
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	logAppConfig(appCfg, log)

	jobs, err := buildJobs(appCfg, opts, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	logEntry := log.WithField("component", "download")
	orch := orchestrate.NewOrchestrator(appCfg, jobs, logEntry)

	if appCfg.EnableHistory {
		store, err := storage.NewBadgerStore(runCtx, appCfg.StateDir, logEntry)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open run history: %v\n", err)
			return 1
		}
		defer store.Close()
		go store.RunGC(runCtx, historyGCInterval)
		orch.WithHistory(store)
	}

	// One album gets a live bar; several albums interleave, so they only log
	if !opts.NoProgress && len(jobs) == 1 {
		reporter := newProgressReporter(stdout)
		orch.WithProgress(func(_ orchestrate.AlbumJob, s models.Snapshot) {
			reporter.Observe(s)
		})
	}

	// --- Handle signals for graceful shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-runCtx.Done():
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		orch.Cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGrace):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-runCtx.Done():
		}
	}()

	results := orch.Run()

	exitCode := 0
	for _, r := range results {
		if r.Phase != models.PhaseCancelled && !r.Success() {
			exitCode = 1
		}
	}
	return exitCode
}

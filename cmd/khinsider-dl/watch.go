package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
	"github.com/Sriram-PR/khinsider-dl/pkg/watch"
)

type watchOptions struct {
	ConfigPath string
	AlbumKeys  []string
	AllAlbums  bool
	Interval   string
	LogLevel   string
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := newFlagSet("watch")
	configFile := fs.String("config", "config.yaml", "Path to config file")
	albumKey := fs.String("album", "", "Album key to watch")
	albums := fs.String("albums", "", "Comma-separated album keys")
	allAlbums := fs.Bool("all-albums", false, "Watch all configured albums")
	interval := fs.String("interval", "24h", "Re-sync interval (e.g. 30m, 6h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	opts := watchOptions{
		ConfigPath: *configFile,
		AllAlbums:  *allAlbums,
		Interval:   *interval,
		LogLevel:   *logLevel,
	}
	if *albums != "" {
		opts.AlbumKeys = splitKeys(*albums)
	} else if *albumKey != "" {
		opts.AlbumKeys = []string{*albumKey}
	}

	os.Exit(doWatch(opts, nil, os.Stderr))
}

// doWatch re-syncs the selected albums every interval until a signal arrives or stop is closed.
// Returns exit code (0 = stopped cleanly, 1 = setup error).
func doWatch(opts watchOptions, stop <-chan struct{}, stderr io.Writer) int {
	if !opts.AllAlbums && len(opts.AlbumKeys) == 0 {
		fmt.Fprintln(stderr, "Error: -album, -albums, or --all-albums is required")
		return 1
	}

	interval, err := watch.ParseInterval(opts.Interval)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	log := setupLogger(opts.LogLevel, stderr)
	appCfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}

	keys := opts.AlbumKeys
	if opts.AllAlbums {
		keys = orchestrate.GetAllAlbumKeys(appCfg)
	}
	jobs, err := orchestrate.JobsFromKeys(appCfg, keys)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(jobs) == 0 {
		fmt.Fprintln(stderr, "Error: no albums configured")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logEntry := log.WithField("component", "watch")
	scheduler := watch.NewScheduler(appCfg, jobs, interval, logEntry)

	if appCfg.EnableHistory {
		store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, logEntry)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to open run history: %v\n", err)
			return 1
		}
		defer store.Close()
		go store.RunGC(ctx, historyGCInterval)
		scheduler.WithHistory(store)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Stopping watch...", sig)
		case <-stop:
		case <-ctx.Done():
			return
		}
		scheduler.Stop()
	}()

	if err := scheduler.Run(); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return 1
	}
	return 0
}

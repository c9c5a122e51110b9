package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
	"github.com/Sriram-PR/khinsider-dl/pkg/utils"
)

// runHistory handles the history subcommand
func runHistory(args []string) {
	fs := newFlagSet("history")
	configFile := fs.String("config", "config.yaml", "Path to config file (for state_dir)")
	limit := fs.Int("limit", 20, "Maximum number of runs to show, newest first (0 = all)")
	logFile := fs.String("write-log", "", "Also write every recorded run as TSV to this file")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doHistory(*configFile, *limit, *logFile, *logLevel, os.Stdout, os.Stderr))
}

// doHistory prints recorded runs and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doHistory(configPath string, limit int, logFile, logLevel string, stdout, stderr io.Writer) int {
	log := setupLogger(logLevel, stderr)

	appCfg, _, err := loadConfigOptional(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := storage.NewBadgerStore(context.Background(), appCfg.StateDir, log.WithField("component", "history"))
	if err != nil {
		fmt.Fprintf(stderr, "Error opening run history in %s: %v\n", appCfg.StateDir, err)
		return 1
	}
	defer store.Close()

	runs, err := store.ListRuns(limit)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading run history: %v\n", err)
		return 1
	}

	if len(runs) == 0 {
		fmt.Fprintln(stdout, "No runs recorded.")
	} else {
		fmt.Fprintf(stdout, "Showing %d of %d recorded runs:\n\n", len(runs), store.RunCount())
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tALBUM\tPHASE\tTRACKS\tFAILED\tSIZE\tDURATION\tRUN ID")
		for i := range runs {
			run := &runs[i]
			album := run.Title
			if album == "" {
				album = run.Album.Slug
			}
			if run.SetupError != "" {
				album += " (error: " + run.SetupError + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\t%s\t%s\n",
				run.StartedAt.Local().Format("2006-01-02 15:04"),
				album,
				run.Phase,
				run.Completed, run.Total,
				run.Failed,
				utils.FormatSize(run.Bytes),
				run.Duration().Round(time.Second),
				run.ID,
			)
		}
		tw.Flush()
	}

	if logFile != "" {
		if err := store.WriteHistoryLog(logFile); err != nil {
			fmt.Fprintf(stderr, "Error writing history log: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "\nWrote history log to %s\n", logFile)
	}
	return 0
}

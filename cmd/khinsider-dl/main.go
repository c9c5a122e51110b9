package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "download":
		runDownload(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-albums":
		runListAlbums(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("khinsider-dl %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `khinsider-dl - Soundtrack album downloader

Usage:
  khinsider-dl <command> [options]

Commands:
  download     Download one or more albums
  validate     Validate configuration file
  list-albums  List album keys from the config file
  history      Show recorded download runs
  watch        Re-sync albums on an interval
  mcp-server   Start MCP server for AI tool integration
  version      Show version info

Run 'khinsider-dl <command> -h' for command-specific help.`)
}

// newFlagSet returns a subcommand flag set with the standard usage header
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: khinsider-dl %s [options]\n\nOptions:\n", name)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadConfigOptional is loadConfig, except that a missing file yields an empty config
func loadConfigOptional(path string) (cfg *config.AppConfig, found bool, err error) {
	cfg, err = loadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &config.AppConfig{}, false, nil
	}
	return cfg, err == nil, err
}

// setupLogger creates a configured logrus.Logger writing to out with the given log level.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
		log.Debugf("Setting log level to: %s", level.String())
	}

	return log
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, MaxRetries:%d, RetryStep:%v, ParallelAlbums:%d",
		appCfg.NumWorkers, appCfg.MaxRetries, appCfg.RetryStep, appCfg.ParallelAlbums)
	log.Infof("Global Config: HostBase:%s, OutputDir:%s, StateDir:%s, History:%t",
		appCfg.HostBase, appCfg.OutputBaseDir, appCfg.StateDir, appCfg.EnableHistory)
	log.Infof("Global Config Hooks: TagMP3:%t, VerifyAudio:%t, AlbumNotes:%t, RespectRobots:%t",
		appCfg.TagMP3, appCfg.VerifyAudio, appCfg.WriteAlbumNotes, appCfg.RespectRobots)
	log.Debugf("Global Config HTTP Client: Timeout:%v, DownloadTimeout:%v, HeaderTimeout:%v, MaxIdlePerHost:%d",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.DownloadTimeout,
		appCfg.HTTPClientSettings.ResponseHeaderTimeout, appCfg.HTTPClientSettings.MaxIdleConnsPerHost)
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := newFlagSet("validate")
	configFile := fs.String("config", "config.yaml", "Path to config file")
	albumKey := fs.String("album", "", "Album key to validate (optional, validates all if empty)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *albumKey, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, albumKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := orchestrate.GetAllAlbumKeys(appCfg)
	if albumKey != "" {
		if _, ok := appCfg.Albums[albumKey]; !ok {
			fmt.Fprintf(stderr, "Error: album '%s' not found in config\n", albumKey)
			return 1
		}
		keys = []string{albumKey}
	}

	hasError := false
	for _, key := range keys {
		albumCfg := appCfg.Albums[key]
		albumWarnings, err := albumCfg.Validate(appCfg)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range albumWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListAlbums handles the list-albums subcommand
func runListAlbums(args []string) {
	fs := newFlagSet("list-albums")
	configFile := fs.String("config", "config.yaml", "Path to config file")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListAlbums(*configFile, os.Stdout, os.Stderr))
}

// doListAlbums lists albums and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListAlbums(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Albums in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllAlbumKeys(appCfg) {
		job := orchestrate.JobForAlbum(appCfg, key, appCfg.Albums[key])
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    URL: %s\n", job.URL)
		fmt.Fprintf(stdout, "    Output: %s\n", job.TargetDir)
		fmt.Fprintf(stdout, "    Workers: %d, Retries: %d\n", job.Concurrency, job.MaxRetries)
		fmt.Fprintln(stdout)
	}
	return 0
}

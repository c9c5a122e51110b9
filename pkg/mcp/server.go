package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/khinsider-dl/pkg/config"
	"github.com/Sriram-PR/khinsider-dl/pkg/orchestrate"
	"github.com/Sriram-PR/khinsider-dl/pkg/storage"
)

const (
	serverName    = "khinsider-dl"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	History    storage.RunLedger // nil = history tools report it as disabled
}

// Server exposes album downloads as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	pipeline   *orchestrate.Pipeline
	jobs       sync.WaitGroup // Background download goroutines
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	log := cfg.Logger.WithField("component", "mcp")
	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		pipeline:   orchestrate.NewPipeline(cfg.AppConfig, log),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	downloadTool := mcp.NewTool("download_album",
		mcp.WithDescription("Start a background download of a khinsider album. Returns immediately with a job ID."),
		mcp.WithString("url",
			mcp.Description("Album page URL; either url or album_key is required"),
		),
		mcp.WithString("album_key",
			mcp.Description("Album key from the config file"),
		),
		mcp.WithNumber("concurrency",
			mcp.Description("Number of parallel track downloads (default from config)"),
		),
		mcp.WithNumber("max_retries",
			mcp.Description("Retries per track after the first attempt (default from config)"),
		),
	)
	s.mcpServer.AddTool(downloadTool, s.handleDownloadAlbum)

	statusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and latest progress of a download job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by download_album"),
		),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetJobStatus)

	cancelTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running download job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by download_album"),
		),
	)
	s.mcpServer.AddTool(cancelTool, s.handleCancelJob)

	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List download jobs started by this server"),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	listAlbumsTool := mcp.NewTool("list_albums",
		mcp.WithDescription("List albums configured in the config file"),
	)
	s.mcpServer.AddTool(listAlbumsTool, s.handleListAlbums)

	historyTool := mcp.NewTool("list_history",
		mcp.WithDescription("List recorded download runs, newest first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of runs to return (default: 20, max: 200)"),
		),
	)
	s.mcpServer.AddTool(historyTool, s.handleListHistory)

	getRunTool := mcp.NewTool("get_run",
		mcp.WithDescription("Get one recorded run with its per-track outcomes"),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID from list_history or get_job_status"),
		),
	)
	s.mcpServer.AddTool(getRunTool, s.handleGetRun)

	s.log.Infof("Registered %d MCP tools", 7)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels every running job and waits for them to stop or for ctx to end
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

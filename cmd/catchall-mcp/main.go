package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/catchall/internal/app"
	"github.com/ternarybob/catchall/internal/common"
)

func main() {
	// Load configuration; a missing default file just means defaults + env
	var configFiles []string
	if configPath := os.Getenv("CATCHALL_CONFIG"); configPath != "" {
		configFiles = append(configFiles, configPath)
	} else if _, err := os.Stat("catchall.toml"); err == nil {
		configFiles = append(configFiles, "catchall.toml")
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize minimal logger for MCP server (console only, no file output)
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn") // Minimal logging to avoid cluttering MCP stdio

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	mcpServer := server.NewMCPServer(
		"catchall",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)
	registerTools(mcpServer, application, logger)

	// Start server (blocks on stdio)
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}

func registerTools(mcpServer *server.MCPServer, application *app.App, logger arbor.ILogger) {
	client := application.Client

	// Job tools
	mcpServer.AddTool(createSubmitQueryTool(), handleSubmitQuery(client, application.Config.CatchAll.DefaultLimit, logger))
	mcpServer.AddTool(createGetJobStatusTool(), handleGetJobStatus(client, logger))
	mcpServer.AddTool(createPullResultsTool(), handlePullResults(client, application.PollLoop, logger))
	mcpServer.AddTool(createContinueJobTool(), handleContinueJob(client, logger))
	mcpServer.AddTool(createListUserJobsTool(), handleListUserJobs(client, logger))
	mcpServer.AddTool(createPreviewQueryTool(), handlePreviewQuery(client, logger))

	// Deep search tools
	mcpServer.AddTool(createDeepSearchTool(), handleDeepSearch(application.Controller, logger))
	mcpServer.AddTool(createGetSessionTool(), handleGetSession(application.StorageManager.SessionStorage(), logger))

	// Monitor tools
	mcpServer.AddTool(createCreateMonitorTool(), handleCreateMonitor(application.Monitors, logger))
	mcpServer.AddTool(createListMonitorsTool(), handleListMonitors(application.Monitors, logger))
	mcpServer.AddTool(createPullMonitorResultsTool(), handlePullMonitorResults(application.Monitors, logger))
	mcpServer.AddTool(createListMonitorRunsTool(), handleListMonitorRuns(application.Monitors, logger))
	mcpServer.AddTool(createEnableMonitorTool(), handleToggleMonitor(application.Monitors, true, logger))
	mcpServer.AddTool(createDisableMonitorTool(), handleToggleMonitor(application.Monitors, false, logger))
	mcpServer.AddTool(createUpdateMonitorTool(), handleUpdateMonitor(application.Monitors, logger))
}

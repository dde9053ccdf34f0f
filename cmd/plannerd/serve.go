package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowgraph/planner/internal/config"
	"github.com/flowgraph/planner/internal/dagscoring"
	"github.com/flowgraph/planner/internal/hybridsearch"
	"github.com/flowgraph/planner/internal/localalpha"
	"github.com/flowgraph/planner/internal/logging"
	"github.com/flowgraph/planner/internal/mcp"
	"github.com/flowgraph/planner/internal/planner"
	"github.com/flowgraph/planner/internal/semantic"
	"github.com/flowgraph/planner/internal/slogutil"
	"github.com/flowgraph/planner/internal/storage"
	"github.com/flowgraph/planner/internal/version"
)

var serveStateDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the planning engine over stdio JSON-RPC",
	Long: `Serve loads the knowledge graph from the state directory's database,
builds the planning engine, and speaks MCP over stdin/stdout until EOF.
Logs go to <stateDir>/logs so stdout stays reserved for the transport.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(serveStateDir)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveStateDir, "state-dir", "", "state directory (default .planner)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(stateDir string) error {
	cfg, err := config.LoadConfig(stateDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	scoring, err := dagscoring.LoadOrDefault(cfg.ResolvePath(cfg.DagScoringPath))
	if err != nil {
		return err
	}
	alphaCfg, err := localalpha.LoadOrDefault(cfg.ResolvePath(cfg.LocalAlphaPath))
	if err != nil {
		return err
	}

	factory := slogutil.NewLoggerFactory(cfg.StateDir, cfg, 0)
	defer factory.Close()
	sysLog, err := factory.SystemLogger()
	if err != nil {
		return fmt.Errorf("create system logger: %w", err)
	}

	// The transport logger writes to a file too: stdout carries JSON-RPC.
	logPath := cfg.ResolvePath("logs/mcp-transport.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open transport log: %w", err)
	}
	defer logFile.Close()
	mcpLog := logging.NewLogger(logging.Config{
		Format: logging.JSONFormat,
		Level:  logging.LogLevel(cfg.Logging.Level),
		Output: logFile,
	})

	db, err := storage.Open(cfg.StateDir, cfg.Storage.DBPath, mcpLog)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	tools := storage.NewToolRepository(db)
	fts := storage.NewFTSManager(db.Conn(), storage.DefaultFTSConfig())
	if err := fts.InitSchema(); err != nil {
		return fmt.Errorf("init fts schema: %w", err)
	}

	var (
		index  *semantic.Index
		search hybridsearch.SemanticSearch
	)
	if cfg.Semantic.Enabled && cfg.Semantic.APIKey != "" {
		embedder := semantic.NewOpenAIEmbedder(cfg.Semantic.APIKey, cfg.Semantic.BaseURL, cfg.Semantic.Model)
		index = semantic.NewIndex(tools, embedder)
		search = index
	} else {
		index = semantic.NewIndex(tools, nil)
		search = semantic.NewFTSSearch(fts)
		sysLog.Info("semantic search disabled, using lexical fallback")
	}

	engine, err := planner.New(planner.Options{
		DB:      db,
		Index:   index,
		Search:  search,
		Lexical: fts,
		Scoring: scoring,
		Alpha:   alphaCfg,
		Logger:  sysLog,
	})
	if err != nil {
		return err
	}
	if err := engine.Sync(); err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}

	server := mcp.NewMCPServer(version.Version, mcpLog, cfg.Engine.MaxInFlight)
	mcp.RegisterPlannerTools(server, engine)
	return server.Start()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mapspeak/mapspeak/internal/api"
	"github.com/mapspeak/mapspeak/internal/config"
	"github.com/mapspeak/mapspeak/internal/errlog"
	"github.com/mapspeak/mapspeak/internal/gis"
	"github.com/mapspeak/mapspeak/internal/history"
	"github.com/mapspeak/mapspeak/internal/nlp"
	"github.com/mapspeak/mapspeak/internal/pipeline"
	"github.com/mapspeak/mapspeak/internal/query"
	"github.com/mapspeak/mapspeak/internal/safety"
	"github.com/mapspeak/mapspeak/internal/txlog"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the mapspeak server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running mapspeak server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show mapspeak system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mapspeak.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "mapspeak version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.APIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start twice: check the health endpoint before claiming the
	// PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("mapspeak is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("mapspeak is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the persistent stores.
	store, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing history store: %v\n", err)
		}
	}()

	errorLog, err := errlog.New(filepath.Join(cfg.Storage.DataDir, "errors.json"), slog.Default())
	if err != nil {
		return fmt.Errorf("opening error log: %w", err)
	}
	defer errorLog.Close()

	txLog, err := txlog.New(filepath.Join(cfg.Storage.DataDir, "transactions.json"), cfg.Safety.MaxSnapshots, slog.Default())
	if err != nil {
		return fmt.Errorf("opening transaction log: %w", err)
	}
	defer txLog.Close()

	// Build the interpretation pipeline. The external tagger is optional;
	// without it, interpretation runs on pattern matching alone.
	var tagger nlp.Tagger
	if cfg.Tagger.BaseURL != "" {
		tagger = nlp.NewHTTPTagger(cfg.Tagger.BaseURL)
		slog.Info("entity tagger configured", "base_url", cfg.Tagger.BaseURL)
	}
	interpreter := nlp.NewEngine(tagger)

	stats := gis.StaticStats{}
	limits := query.Limits{
		MaxFeatures:           cfg.Safety.MaxFeatures,
		LargeDatasetThreshold: cfg.Safety.LargeDatasetThreshold,
		MemoryLimitMB:         cfg.Safety.MemoryLimitMB,
	}
	queries := query.NewEngine(interpreter, stats, limits, slog.Default())
	checker := safety.NewChecker(stats, errorLog, cfg.Safety.MaxFeatures, slog.Default())

	assistant := pipeline.NewAssistant(
		queries,
		checker,
		gis.ScriptExecutor{},
		txLog,
		errorLog,
		store,
		slog.Default(),
	)

	sessions := api.NewSessionStore(gis.Session{})

	appHandler := api.NewAppHandler(api.AppDeps{
		Assistant: assistant,
		Sessions:  sessions,
		Token:     apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: appHandler,
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Assistant: assistant,
		Sessions:  sessions,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "mapspeak listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("mapspeak is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop mapspeak (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to mapspeak (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if cfg.Tagger.BaseURL != "" {
		taggerResp, err := client.Get(cfg.Tagger.BaseURL + "/health")
		if err != nil {
			printStatus("Tagger", "not reachable at %s", cfg.Tagger.BaseURL)
		} else {
			taggerResp.Body.Close()
			printStatus("Tagger", "running at %s", cfg.Tagger.BaseURL)
		}
	} else {
		printStatus("Tagger", "not configured (pattern matching only)")
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

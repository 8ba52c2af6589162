package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mymcp "github.com/rickchristie/mysql-mcp"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

func runServe() error {
	ctx := context.Background()

	// 1. Load ServerConfig (optional file; defaults when absent)
	serverConfig, err := loadServerConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	transport := serverConfig.Server.Transport
	if transport == "" {
		transport = "stdio"
	}
	switch transport {
	case "stdio":
	case "http":
		if serverConfig.Server.Port <= 0 {
			panic("gomymcp: server.port must be > 0 when server.transport is http")
		}
	default:
		panic(fmt.Sprintf("gomymcp: unknown server.transport %q, must be stdio or http", transport))
	}

	// 2. Resolve connection from environment. Startup config errors are
	// fatal before any connection attempt.
	conn, err := mymcp.ConnFromEnv()
	if err != nil {
		return err
	}

	// 3. Setup logger. In stdio mode stdout carries the protocol, so log
	// output is forced away from it.
	logger := setupLogger(serverConfig.Logging, transport == "stdio")

	// 4. Create MySQLMcp instance
	var opts []mymcp.Option
	if len(serverConfig.ServerHooks.BeforeQuery) > 0 || len(serverConfig.ServerHooks.AfterQuery) > 0 {
		opts = append(opts, mymcp.WithServerHooks(serverConfig.ServerHooks))
	}
	myMcp, err := mymcp.New(ctx, conn, serverConfig.Config, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create MySQLMcp: %w", err)
	}
	defer myMcp.Close(ctx)

	// 5. Test database connection
	logger.Info().Msg("testing database connection")
	if err := myMcp.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Msg("database connection test successful")

	// 6. Create MCP server with initialize lifecycle logging
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		clientName := req.Params.ClientInfo.Name
		clientVersion := req.Params.ClientInfo.Version
		logger.Info().
			Str("client_name", clientName).
			Str("client_version", clientVersion).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("gomymcp", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithHooks(hooks),
	)

	mymcp.RegisterMCPHandlers(mcpServer, hooks, myMcp)

	// 7. Serve on the configured transport
	if transport == "stdio" {
		logger.Info().Str("database", conn.Database).Msg("starting gomymcp server on stdio")
		return server.ServeStdio(mcpServer)
	}
	return serveHTTP(ctx, mcpServer, serverConfig, logger)
}

// serveHTTP runs the streamable HTTP transport with an optional health check
// endpoint, shutting down gracefully on SIGINT/SIGTERM.
func serveHTTP(ctx context.Context, mcpServer *server.MCPServer, serverConfig *mymcp.ServerConfig, logger zerolog.Logger) error {
	addr := fmt.Sprintf(":%d", serverConfig.Server.Port)
	mux := http.NewServeMux()

	// Health check endpoint (process liveness only, not DB connectivity)
	if serverConfig.Server.HealthCheckEnabled {
		if serverConfig.Server.HealthCheckPath == "" {
			panic("gomymcp: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(serverConfig.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Create StreamableHTTPServer with custom http.Server
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
		server.WithStreamableHTTPServer(httpSrv),
	)

	// Manually register the MCP handler — Start() does NOT register
	// when a custom *http.Server is provided via WithStreamableHTTPServer.
	mux.Handle("/mcp", streamableServer)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- streamableServer.Start(addr)
	}()

	logger.Info().Int("port", serverConfig.Server.Port).Msg("starting gomymcp server")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-signalCtx.Done():
		logger.Info().Msg("termination signal received, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := streamableServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("error during server shutdown")
		}
		return nil
	}
}

// loadServerConfig reads the optional JSON config file. The path comes from
// GOMYMCP_CONFIG_PATH, defaulting to .gomymcp/config.json. A missing file at
// the default path means defaults; a missing file at an explicit path is an
// error. Connection parameters never live here, they come from MYSQL_* env.
func loadServerConfig() (*mymcp.ServerConfig, error) {
	configPath := os.Getenv("GOMYMCP_CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = ".gomymcp/config.json"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return &mymcp.ServerConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config mymcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

func setupLogger(config mymcp.LoggingConfig, stdioTransport bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" && !stdioTransport {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" && config.Output != "stdout" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Command clustermux is a multiplexing MCP router: it speaks the Model
// Context Protocol upstream over stdio, fans each tool call out to one or
// all of a set of downstream cluster endpoints, and keeps those endpoints
// alive with a background health/reconnect loop.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pocketomega/clustermux/internal/config"
	"github.com/pocketomega/clustermux/internal/endpoint"
	"github.com/pocketomega/clustermux/internal/envfile"
	"github.com/pocketomega/clustermux/internal/health"
	"github.com/pocketomega/clustermux/internal/logging"
	"github.com/pocketomega/clustermux/internal/router"
	"github.com/pocketomega/clustermux/internal/schema"
	"github.com/pocketomega/clustermux/internal/supervisor"
	"github.com/pocketomega/clustermux/internal/upstream"
)

const (
	serverName    = "clustermux"
	serverVersion = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

// run holds the full startup/shutdown sequence so deferred cleanup always
// executes, even on an early fatal exit. It returns the process exit code
// rather than calling os.Exit itself.
func run() int {
	envfile.Load()

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		slog.Error("startup: invalid configuration", "error", err)
		return 1
	}

	logger, cleanupLog := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		LogDir:       os.Getenv("CLUSTERMUX_LOG_DIR"),
		MappingCount: len(cfg.Mappings),
	})
	defer cleanupLog()

	logger.Info("starting clustermux",
		"read_only", cfg.ReadOnly,
		"ping_interval", cfg.PingInterval,
		"ping_timeout", cfg.PingTimeout,
		"max_reconnect_backoff", cfg.MaxReconnectBackoff,
		"env_file", envfile.Path(),
	)

	sup := supervisor.New(childCommand(), logger)

	ctx := context.Background()

	connected := sup.InitializeAll(ctx, cfg.Mappings)
	if connected == 0 {
		logger.Error("startup: no downstream endpoints connected")
		return 1
	}
	logger.Info("downstream endpoints connected", "connected", connected, "configured", len(cfg.Mappings))

	source, ok := firstToolSource(sup.Snapshot())
	if !ok {
		logger.Error("startup: no downstream endpoint reported any tools")
		return 1
	}

	classifier := schema.New(logger)
	classifier.Refresh(source, sup.Endpoints())
	table := classifier.Current()
	if len(table.Names()) == 0 {
		logger.Error("startup: classified tool table is empty")
		return 1
	}
	logger.Info("tool schema classified", "tool_count", len(table.Names()), "source_endpoint", source.EndpointURL)

	rt := router.New(sup, classifier)
	srv := upstream.New(serverName, serverVersion, rt, logger)
	srv.Sync(table)

	healthLoop := health.New(sup, health.Config{
		PingInterval:        cfg.PingInterval,
		PingTimeout:         cfg.PingTimeout,
		MaxReconnectBackoff: cfg.MaxReconnectBackoff,
	}, logger)
	healthLoop.Start()

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.ServeStdio()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var exitCode int
	select {
	case sig := <-sigCh:
		logger.Info("shutdown: signal received", "signal", sig.String())
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("upstream server exited unexpectedly", "error", err)
			exitCode = 1
		} else {
			logger.Info("shutdown: upstream stream closed")
		}
	}

	shutdown(healthLoop, sup, logger)
	return exitCode
}

// shutdown tears components down in the reverse order they were started:
// health loop first (stop scheduling reconnects), then the downstream
// child processes. A timeout bounds how long teardown is allowed to take.
func shutdown(healthLoop *health.Loop, sup *supervisor.Supervisor, logger *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	healthLoop.Stop()

	done := make(chan struct{})
	go func() {
		sup.ShutdownAll()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown: all endpoints torn down")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown: timed out waiting for endpoint teardown")
	}
}

// childCommand resolves the downstream child invocation, externally
// configured rather than hardcoded; CLUSTERMUX_CHILD_COMMAND holds the
// binary followed by any fixed arguments, whitespace-separated.
func childCommand() supervisor.ChildCommand {
	fields := strings.Fields(os.Getenv("CLUSTERMUX_CHILD_COMMAND"))
	if len(fields) == 0 {
		fields = []string{"clustermux-cluster-server"}
	}
	return supervisor.ChildCommand{Command: fields[0], Args: fields[1:]}
}

// firstToolSource picks the first connected endpoint (by URL, since
// Snapshot is already URL-sorted) that reported a non-empty tool list —
// the source of truth the classifier builds its merged table from.
func firstToolSource(records []endpoint.Record) (schema.SourceTools, bool) {
	for _, r := range records {
		if r.Status == endpoint.StatusConnected && len(r.Tools) > 0 {
			return schema.SourceTools{EndpointURL: r.URL, Tools: r.Tools}, true
		}
	}
	return schema.SourceTools{}, false
}

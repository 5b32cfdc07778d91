package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/gatekeep/gatekeep/internal/adapter/inbound/stdio"
	outboundaudit "github.com/gatekeep/gatekeep/internal/adapter/outbound/audit"
	"github.com/gatekeep/gatekeep/internal/adapter/outbound/memory"
	"github.com/gatekeep/gatekeep/internal/config"
	"github.com/gatekeep/gatekeep/internal/dispatch"
	"github.com/gatekeep/gatekeep/internal/domain/lifecycle"
	"github.com/gatekeep/gatekeep/internal/domain/security"
	"github.com/gatekeep/gatekeep/internal/plugin/bugstore"
	"github.com/gatekeep/gatekeep/internal/plugin/discovery"
	"github.com/gatekeep/gatekeep/internal/plugin/storygen"
	"github.com/gatekeep/gatekeep/internal/plugin/websearch"
	"github.com/gatekeep/gatekeep/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP security gateway over stdio",
	Long: `Run gatekeep as a stdio MCP server: it reads newline-delimited JSON-RPC
from stdin, enforces the loaded policy on every tool call, and writes
responses to stdout. Diagnostics go to stderr, never stdout, so nothing
can corrupt the protocol stream.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// securityTracerAdapter lets the security Engine's ValidateURL reach the
// firewall through the same request-ID-stamped path every other security
// check uses, giving websearch a URLValidator without importing security
// directly.
type securityTracerAdapter struct {
	engine *security.Engine
}

func (a securityTracerAdapter) ValidateURL(ctx context.Context, rawURL string) error {
	return a.engine.ValidateURL(ctx, security.GenerateRequestID(), rawURL)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// BOOT-01: load and validate the policy document.
	cfg, err := config.LoadPolicyConfig()
	if err != nil {
		return fmt.Errorf("failed to load policy: %w", err)
	}
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded policy", "file", configFile)
	} else {
		logger.Warn("no policy file found, running with environment-only defaults")
	}
	pol := cfg.ToPolicy()

	logger.Info("policy active",
		"version", pol.Version,
		"blocked_ports", len(pol.Network.BlockedPorts),
		"allowed_ranges", len(pol.Network.AllowedRanges),
		"blocked_commands", len(pol.Commands.Blocked),
	)

	// BOOT-02: audit logger, nil when no log file is configured.
	var auditLogger security.AuditLogger
	if pol.Audit.LogFile != "" {
		fileLogger, err := outboundaudit.NewFileLogger(pol.Audit.LogFile)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer fileLogger.Close()
		auditLogger = fileLogger
		logger.Info("audit logging enabled", "file", pol.Audit.LogFile)
	}

	// BOOT-03: rate limiter and security engine.
	limiter := memory.NewSlidingWindowLimiter()
	secEngine := security.New(pol, limiter, auditLogger)

	// BOOT-04: telemetry, ambient and optional.
	telemetryProvider, err := telemetry.New(cmd.Context(), telemetry.Config{
		Enabled:        pol.Telemetry.Enabled,
		Writer:         os.Stderr,
		ServiceName:    "gatekeep",
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	secEngine.SetTelemetry(telemetryProvider)
	if pol.Telemetry.Enabled {
		logger.Info("telemetry enabled")
	}

	// BOOT-05: register plugins.
	tools := dispatch.NewToolDispatcher()
	tools.RegisterPlugin(websearch.New(securityTracerAdapter{engine: secEngine}))
	tools.RegisterPlugin(bugstore.New())
	tools.RegisterPlugin(storygen.New())
	tools.RegisterPlugin(discovery.New(tools))
	logger.Info("plugins registered", "tools", len(tools.ListTools()))

	// BOOT-06: lifecycle, protocol dispatch, transport.
	lc := lifecycle.New(
		lifecycle.ServerInfo{Name: "gatekeep", Version: Version},
		map[string]interface{}{"tools": map[string]interface{}{}},
	)
	protocolDispatcher := dispatch.NewProtocolDispatcher(lc, tools, secEngine)
	protocolDispatcher.SetTracer(telemetryProvider)

	transport := stdio.NewTransport(protocolDispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger.Info("gatekeep ready")
	runErr := transport.Run(ctx)

	tools.Cleanup(context.Background())
	if shutdownErr := telemetryProvider.Shutdown(context.Background()); shutdownErr != nil {
		logger.Warn("telemetry shutdown failed", "error", shutdownErr)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("gatekeep stopped")
	return nil
}

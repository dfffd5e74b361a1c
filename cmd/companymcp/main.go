// Command companymcp serves the Brightwell Labs company profile over the
// MCP streamable HTTP transport.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/brightwell-labs/companymcp/companyinfo"
	"github.com/brightwell-labs/companymcp/internal/engine"
	"github.com/brightwell-labs/companymcp/internal/logctx"
	"github.com/brightwell-labs/companymcp/mcp"
	"github.com/brightwell-labs/companymcp/sessions"
	"github.com/brightwell-labs/companymcp/streaminghttp"
)

const (
	serverName    = "Brightwell Labs Info Server"
	serverVersion = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

type config struct {
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

func main() {
	var cfg config
	// Defaults are provided via struct tags; absent env vars are fine.
	_ = envdecode.Decode(&cfg)

	logger := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})})

	registry := sessions.NewRegistry()
	eng := engine.New(companyinfo.Default(),
		engine.WithLogger(logger),
		engine.WithServerInfo(mcp.ImplementationInfo{Name: serverName, Version: serverVersion}),
	)

	handler, err := streaminghttp.New(registry, eng,
		streaminghttp.WithLogger(logger),
		streaminghttp.WithServerName(serverName),
		streaminghttp.WithServerVersion(serverVersion),
	)
	if err != nil {
		logger.Error("handler.init.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.listen", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		logger.Error("server.fail", slog.String("err", err.Error()))
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown.fail", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("server.stop")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/voicebridge/voicebridge/internal/dotenv"
	"github.com/voicebridge/voicebridge/pkg/gateway/config"
	gatewayserver "github.com/voicebridge/voicebridge/pkg/gateway/server"
	"github.com/voicebridge/voicebridge/pkg/store"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error)
	newGateway   func(config.Config, store.Store, *slog.Logger) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore picks Postgres when a database URL is configured and falls
// back to the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, using in-memory session store")
		return store.NewMemoryStore(), nil
	}
	return store.OpenPostgres(ctx, cfg.DatabaseURL, logger)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil || deps.newGateway == nil {
		return errors.New("missing dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	gw, err := deps.newGateway(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	defer gw.Close()

	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting voice bridge",
		"addr", cfg.Addr,
		"upstream", cfg.Upstream,
		"turn_policy", cfg.TurnPolicy,
		"auth_mode", cfg.AuthMode,
		"call_control", cfg.CallControlEnabled(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	gw.Drain(drainCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("voice bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "voicebridge: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "voicebridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rendis/mediamcp/internal/audit"
	"github.com/rendis/mediamcp/internal/logging"
	"github.com/rendis/mediamcp/internal/mediaindex"
	"github.com/rendis/mediamcp/internal/metrics"
	"github.com/rendis/mediamcp/internal/session"
	"github.com/rendis/mediamcp/internal/storage"
	awsstore "github.com/rendis/mediamcp/internal/storage/aws"
	s3store "github.com/rendis/mediamcp/internal/storage/s3"
	"github.com/rendis/mediamcp/internal/tenant"
	"github.com/rendis/mediamcp/internal/tools"
	"github.com/rendis/mediamcp/internal/workerpool"
	mediamcp "github.com/rendis/mediamcp/pkg/mcp"
	"github.com/rendis/mediamcp/pkg/schema"
)

const shutdownTimeout = 5 * time.Second

// openerFor selects the storage backend implementation.
func openerFor(cfg Config) storage.Opener {
	opts := storage.Options{
		URLExpiry: cfg.URLExpiry,
		Insecure:  cfg.Insecure,
		PathStyle: cfg.PathStyle,
	}
	if cfg.StorageDriver == driverAWS {
		return awsstore.Opener(opts)
	}
	return s3store.Opener(opts)
}

// runServe wires every component and serves the configured transport until
// ctx is cancelled.
func runServe(ctx context.Context, cfg Config, stdin io.Reader, stdout, stderr io.Writer) error {
	logger, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	var stdioTenant schema.TenantConfig
	if cfg.Transport == transportStdio {
		if stdioTenant, err = cfg.StaticTenant(); err != nil {
			return err
		}
	}

	m := metrics.New()
	sessionObservers := []session.Observer{m}
	toolObservers := []tools.Observer{m}

	if cfg.AuditDBPath != "" {
		store, err := audit.Open(ctx, cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer store.Close()
		if cfg.AuditRetention > 0 {
			n, err := store.Prune(ctx, time.Now().Add(-cfg.AuditRetention))
			if err != nil {
				logger.Warn("audit prune failed", slog.String("error", err.Error()))
			} else if n > 0 {
				logger.Info("audit rows pruned", slog.Int64("rows", n))
			}
		}
		rec := audit.NewRecorder(store, 0, logger)
		defer rec.Close()
		sessionObservers = append(sessionObservers, rec)
		toolObservers = append(toolObservers, rec)
		logger.Info("audit log enabled", slog.String("path", cfg.AuditDBPath))
	}

	opener := openerFor(cfg)
	index := mediaindex.NewStore(mediaindex.WithPageSizes(cfg.DefaultPageSize, cfg.MaxPageSize))
	builder := mediaindex.NewBuilder(opener, index, mediaindex.BuilderConfig{
		MaxConcurrentContainers: cfg.MaxConcurrentContainers,
		MaxItemsPerContainer:    cfg.MaxItemsPerContainer,
	}, logger)

	sessions := session.NewRegistry(session.Deps{
		Cache:     index,
		Indexer:   builder,
		Observers: sessionObservers,
		Logger:    logger,
	})
	defer sessions.Close()

	pool := workerpool.New(cfg.PoolSize)
	m.WatchPool("dispatch", pool)
	registry := tools.NewRegistry(tools.Options{
		Pool:      pool,
		Observers: toolObservers,
		Logger:    logger,
	})
	defer registry.Close()

	srv, err := mediamcp.NewMediaServer(mediamcp.Deps{
		Sessions:      sessions,
		Index:         index,
		Open:          opener,
		Tools:         registry,
		AdmissionRule: cfg.AdmissionRule,
		Metrics:       m,
		Tenant:        tenant.Options{EndpointTemplate: cfg.EndpointTemplate},
		IndexWait:     cfg.IndexWait,
		Version:       version,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	if cfg.SessionMaxAge > 0 {
		reaper, err := session.NewReaper(sessions, cfg.SessionMaxAge, cfg.ReapSchedule, logger)
		if err != nil {
			return err
		}
		if err := reaper.Start(ctx); err != nil {
			return err
		}
		defer reaper.Stop()
	}

	switch cfg.Transport {
	case transportSSE:
		return serveSSE(ctx, cfg, srv, logger)
	default:
		logger.Info("serving stdio",
			slog.String("region", stdioTenant.Region),
			slog.Any("containers", stdioTenant.Containers()),
		)
		return srv.ServeStdio(ctx, stdioTenant, stdin, stdout)
	}
}

func serveSSE(ctx context.Context, cfg Config, srv *mediamcp.MediaServer, logger *slog.Logger) error {
	httpSrv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: srv.HTTPHandler(mediamcp.HTTPOptions{
			BaseURL:   cfg.BaseURL,
			KeepAlive: 30 * time.Second,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving sse", slog.String("addr", cfg.ListenAddr), slog.String("base_url", cfg.BaseURL))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve sse: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		// SSE streams never go idle; force them closed.
		_ = httpSrv.Close()
	}
	return nil
}

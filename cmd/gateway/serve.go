package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/auth"
	"github.com/rickgao/astras-gateway/internal/config"
	"github.com/rickgao/astras-gateway/internal/connection"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/gateway"
	"github.com/rickgao/astras-gateway/internal/idempotency"
	"github.com/rickgao/astras-gateway/internal/instrument"
	"github.com/rickgao/astras-gateway/internal/metrics"
	"github.com/rickgao/astras-gateway/internal/order"
	"github.com/rickgao/astras-gateway/internal/restapi"
	"github.com/rickgao/astras-gateway/internal/version"
)

const (
	shutdownTimeout = 10 * time.Second
	janitorInterval = time.Minute
	orderSideTTL    = 24 * time.Hour
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAndValidate(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger(os.Stdout, cfg.Log)
			slog.SetDefault(logger)
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/gateway.yaml", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	logger.Info("starting gateway",
		"version", version.Version,
		"commit", version.Commit,
		"listen", cfg.Server.Listen,
		"simulated", cfg.Upstream.Simulated,
	)

	m := metrics.New()

	creds, err := auth.NewCredentials(cfg.Upstream.APIKey, cfg.Upstream.SecretKey, cfg.Upstream.Passphrase)
	if err != nil {
		// Market data still works; private channels and orders fail per request.
		logger.Warn("upstream credentials incomplete, trading disabled", "error", err)
		creds = nil
	}

	apiOpts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithTimeout(cfg.Upstream.Timeout),
		api.WithRetries(cfg.Upstream.MaxRetries, time.Second),
		api.WithRateLimit(cfg.Upstream.RateLimit, cfg.Upstream.RateBurst),
		api.WithBreaker(api.NewBreaker("okx-rest", cfg.Upstream.Breaker.ConsecutiveFailures, cfg.Upstream.Breaker.OpenTimeout)),
		api.WithSimulated(cfg.Upstream.Simulated),
		api.WithMetrics(m),
	}
	if creds != nil {
		apiOpts = append(apiOpts, api.WithCredentials(creds))
	}
	rest := api.NewClient(cfg.Upstream.RestURL, apiOpts...)

	instruments := instrument.NewCache(instrument.Config{
		TTL:     cfg.Gateway.InstrumentCacheTTL,
		Classes: cfg.Gateway.InstrumentClasses,
	}, rest, logger)

	trading := connection.NewSession(connection.SessionConfig{
		URL:         cfg.Upstream.PrivateWSURL,
		Credentials: creds,
	}, logger, m)
	defer trading.Close()

	sides := order.NewSideTable(orderSideTTL)
	orders := order.NewService(trading, instruments, sides, logger)
	replays := idempotency.New(cfg.Gateway.IdempotencyTTL, logger)

	feeds := feed.NewEngine(feed.Config{
		Endpoints: feed.Endpoints{
			Public:   cfg.Upstream.PublicWSURL,
			Private:  cfg.Upstream.PrivateWSURL,
			Business: cfg.Upstream.BusinessWSURL,
		},
		Credentials: creds,
	}, logger, m)

	ws := gateway.NewServer(gateway.Config{
		Exchange:          cfg.Gateway.Exchange,
		Portfolio:         cfg.Gateway.Portfolio,
		ClientTokens:      cfg.Gateway.ClientTokens,
		SlimMinInterval:   cfg.Gateway.SlimMinInterval,
		SimpleMinInterval: cfg.Gateway.SimpleMinInterval,
		ReadLimit:         cfg.Server.ReadLimit,
		WriteTimeout:      cfg.Server.WriteTimeout,
		OutboxLimit:       cfg.Server.SendBuffer,
	}, gateway.Deps{
		Feeds:       feeds,
		Orders:      orders,
		Instruments: instruments,
		Portfolio:   rest,
		Candles:     rest,
		Idempotency: replays,
	}, logger, m)

	facade := restapi.NewServer(restapi.Config{
		Exchange:     cfg.Gateway.Exchange,
		Portfolio:    cfg.Gateway.Portfolio,
		ClientTokens: cfg.Gateway.ClientTokens,
	}, restapi.Deps{
		Market:      rest,
		Instruments: instruments,
		Orders:      orders,
		Idempotency: replays,
	}, logger, m)

	router := facade.Router()
	router.Handle(cfg.Server.WSPath, ws)
	router.Handle(cfg.Server.CWSPath, ws)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle(cfg.Metrics.Path, m.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("client listener started", "addr", cfg.Server.Listen, "ws_path", cfg.Server.WSPath)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("client listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics listener started", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return instruments.Run(gctx)
	})
	g.Go(func() error {
		return replays.Run(gctx, janitorInterval)
	})
	g.Go(func() error {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := sides.Purge(); n > 0 {
					logger.Debug("order side table purged", "entries", n)
				}
			}
		}
	})
	g.Go(func() error {
		// Warm the instrument table so the first subscription does not pay for it.
		if _, err := instruments.List(gctx, ""); err != nil {
			logger.Warn("initial instrument load failed", "error", err)
		} else {
			logger.Info("instrument cache loaded", "instruments", instruments.Len())
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := ws.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("client sessions: %w", err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("client listener: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics listener: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	logger.Info("gateway stopped", "error", err)
	return err
}

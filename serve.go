package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"BlinkPay/internal/db"
	"BlinkPay/internal/handler"
	"BlinkPay/internal/metrics"
	"BlinkPay/internal/middleware"
	"BlinkPay/internal/services"
	"BlinkPay/utils"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and action HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := utils.NewLogger(cfg.App.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 连接 MySQL
	conn, err := db.Open(cfg.MySQL)
	if err != nil {
		return err
	}
	store := db.NewStore(conn)

	registry, err := services.NewTokenRegistry(cfg.Solana.USDCMint, cfg.Solana.USDTMint)
	if err != nil {
		return err
	}

	rpcChain, err := services.NewRPCChain(cfg.Solana.RPCURL)
	if err != nil {
		return err
	}
	var chain services.Chain = rpcChain
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, account lookups go to rpc", "addr", cfg.Redis.Addr, "err", err)
		}
		chain = services.WithAccountCache(rpcChain, rdb, cfg.Redis.AccountTTL, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	decoder := services.NewDecoder(registry, log.With("component", "decoder"))
	matcher := services.NewMatcher(cfg.Matching.StrictMemoAmount, log.With("component", "matcher"))
	reconciler := services.NewReconciler(store, matcher, services.ReconcilerConfig{
		Workers:        cfg.App.Workers,
		PlatformWallet: cfg.Solana.PlatformWallet,
	}, rec, log.With("component", "reconciler"))

	builder, err := services.NewBuilder(services.BuilderConfig{
		PlatformWallet:   cfg.Solana.PlatformWallet,
		FeeRateBps:       cfg.Solana.FeeRateBps,
		PriorityFee:      cfg.Solana.PriorityFee,
		ComputeUnitLimit: cfg.Solana.ComputeUnitLimit,
	}, registry, chain, rec, log.With("component", "builder"))
	if err != nil {
		return err
	}
	actions := services.NewActionService(store, builder, services.ActionConfig{
		BaseURL:       cfg.Action.BaseURL,
		IconURL:       cfg.Action.IconURL,
		AmountPresets: cfg.Action.AmountPresets,
	}, log.With("component", "actions"))

	h := handler.New(handler.Deps{
		Decoder:    decoder,
		Reconciler: reconciler,
		Actions:    actions,
		Records:    store,
		DB:         store,
		Chain:      rpcChain,
		WebhookAuth: handler.WebhookConfig{
			Secret:          cfg.Webhook.Secret,
			SignatureHeader: cfg.Webhook.SignatureHeader,
		},
		Metrics:    rec,
		Gatherer:   reg,
		Log:        log.With("component", "http"),
		ReadyDelay: cfg.App.ReadyDelay,
	})
	if cfg.Webhook.Secret == "" {
		log.Warn("webhook signature verification disabled")
	}

	// 初始化 Gin
	gin.SetMode(cfg.App.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.AccessLog(log.With("component", "access")))
	handler.RegisterRoutes(r, h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

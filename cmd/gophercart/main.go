// Package main запускает HTTP-сервер сервиса гоферкарт.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/gophercart-system/internal/cache"
	"github.com/mmeshcher/gophercart-system/internal/config"
	"github.com/mmeshcher/gophercart-system/internal/handler"
	"github.com/mmeshcher/gophercart-system/internal/invalidation"
	"github.com/mmeshcher/gophercart-system/internal/lookup"
	"github.com/mmeshcher/gophercart-system/internal/merge"
	"github.com/mmeshcher/gophercart-system/internal/middleware"
	"github.com/mmeshcher/gophercart-system/internal/pricing"
	"github.com/mmeshcher/gophercart-system/internal/repository"
	"github.com/mmeshcher/gophercart-system/internal/service"
	"github.com/mmeshcher/gophercart-system/internal/store"
	"github.com/mmeshcher/gophercart-system/internal/syncer"
	"github.com/mmeshcher/gophercart-system/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	cartCache := cache.NewCartCache(cfg.RedisAddr, cfg.CacheTTL)
	defer cartCache.Close()

	monitor := cache.NewMonitor(cartCache, cfg.ProbeInterval, logger)

	pool := worker.NewPool(cfg.WorkerCount, cfg.QueueSize, logger)
	defer pool.Close()

	cartStore := store.NewCartStore(repo, cartCache, monitor, pool, logger)
	broadcaster := invalidation.NewBroadcaster(repo, cartCache, pool, logger)
	sync := syncer.NewSynchronizer(repo, cartCache, monitor, logger,
		cfg.RecoveryWindow, cfg.RecoveryBatchSize, cfg.RecoveryPause)

	mergeEngine := merge.NewEngine(repo, cartStore, broadcaster, cartCache, pool, merge.Limits{
		MaxItems:       cfg.MergeMaxItems,
		MaxAmountCents: cfg.MergeMaxAmountCents,
		UserCartTTL:    cfg.UserCartTTL,
		Currency:       "USD",
	}, logger)

	pipeline := pricing.NewPipeline(
		lookup.NewLoyaltyClient(cfg.LoyaltyAddress),
		lookup.NewPromotionClient(cfg.PromotionAddress),
		lookup.NewShippingClient(cfg.ShippingAddress),
		lookup.NewAddressClient(cfg.AddressAddress),
		pricing.DefaultTaxRules(),
		logger,
	)

	svc := service.NewService(repo, cartStore, mergeEngine, pipeline, broadcaster, service.TTLs{
		Guest: cfg.GuestCartTTL,
		User:  cfg.UserCartTTL,
	}, "USD")

	identity := middleware.NewIdentityMiddleware("gophercart-secret")
	h := handler.NewHandler(svc, logger, identity)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Монитор доступности кэша
	g.Go(func() error {
		monitor.Run(ctx)
		return nil
	})

	// Восстановление кэша после старта: прогрев активных корзин окна
	g.Go(func() error {
		total, err := sync.RecoverToCache(ctx)
		if err != nil {
			sugar.Warnw("cache recovery sweep failed", "error", err.Error())
			return nil
		}
		sugar.Infow("cache recovery sweep finished", "carts", total)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting gophercart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polls-backend/cache"
	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/handlers"
	"polls-backend/logger"
	"polls-backend/migrations"
	"polls-backend/mq"
	"polls-backend/routes"
	"polls-backend/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config failed", "error", err.Error())
		os.Exit(1)
	}

	out := logger.Output(cfg.Log)
	log := logger.New(cfg.Log, out)
	slog.SetDefault(log)

	db, err := database.Open(cfg.Database, out)
	if err != nil {
		log.Error("open database failed", "driver", cfg.Database.Driver, "error", err.Error())
		os.Exit(1)
	}
	if err := migrations.Run(db, log); err != nil {
		log.Error("migrate database failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("database ready", "driver", cfg.Database.Driver)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// nil when disabled or unreachable; everything below falls back to
	// in-process implementations
	rdb, _ := cache.NewRedis(ctx, cfg.Redis, log)

	var locker service.Locker = cache.NewLocalLocker()
	if rdb != nil {
		locker = cache.NewLockService(rdb)
	}

	var limiter cache.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = cache.NewRateLimiter(rdb, "api", float64(cfg.RateLimit.Rate), cfg.RateLimit.Burst)
	}

	publisher := mq.NewPublisher(cfg.MQ, rdb, log)
	log.Info("vote events", "publisher", publisher.Name())

	hub := handlers.NewHub(cfg.Server.MaxLiveConnections, cfg.Server.AllowedOrigins, log)
	go hub.Run(ctx)

	reconciler := service.NewReconciler(db, locker, log)
	if cfg.Reconcile.Enabled {
		go reconciler.Run(ctx, cfg.Reconcile.Interval, cfg.Reconcile.Repair)
	}

	h := handlers.New(handlers.Deps{
		DB:         db,
		Redis:      rdb,
		Votes:      service.NewVoteService(db, cfg.Database.TxTimeout, log),
		Polls:      service.NewPollService(db, log),
		Users:      service.NewUserService(db),
		Reader:     service.NewPollReader(db),
		Reconciler: reconciler,
		Cache:      cache.NewPollCache(rdb, cfg.Cache.TTL),
		Publisher:  publisher,
		Hub:        hub,
		Limiter:    limiter,
		Admins:     cfg.Server.AdminUsers,
		Logger:     log,
	})

	router := routes.SetupRouter(h, cfg.Server)
	srv := routes.StartServer(router, cfg.Server.Address, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server forced to shut down", "error", err.Error())
	}

	// stops the hub and the reconcile loop
	stop()
	h.Wait()

	if err := publisher.Close(); err != nil {
		log.Warn("close event publisher failed", "error", err.Error())
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Warn("close redis failed", "error", err.Error())
		}
	}
	if err := database.Close(db); err != nil {
		log.Warn("close database failed", "error", err.Error())
	}
	log.Info("server stopped")
}

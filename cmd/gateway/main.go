package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	api "vies-gateway/internal/api"
	"vies-gateway/internal/cache"
	"vies-gateway/internal/config"
	"vies-gateway/internal/logger"
	"vies-gateway/internal/ratelimit"
	"vies-gateway/internal/vies"
	"vies-gateway/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	store, err := cache.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open cache")
	}
	defer store.Close()

	opts := []worker.Option{
		worker.WithNotifier(worker.NewDeliverer(cfg.CallbackAttempts, cfg.CallbackBackoff, cfg.CallbackTimeout, log)),
	}
	if cfg.UpstreamRateCapacity > 0 {
		limiterClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer limiterClient.Close()
		limiter := ratelimit.NewTokenBucket(limiterClient, ratelimit.UpstreamKey, cfg.UpstreamRateCapacity, cfg.UpstreamRateRefill, time.Hour)
		opts = append(opts, worker.WithLimiter(limiter))
	}

	client := vies.NewClient(cfg.VIESEndpoint, log)
	sched := worker.New(worker.OptionsFromConfig(cfg), client, store, log, opts...)

	// The loop outlives the signal context so that Shutdown can drain it.
	if err := sched.Start(context.Background()); err != nil {
		log.WithError(err).Error("start scheduler")
		return
	}

	server := api.New(sched, log)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		log.WithError(err).Error("listen")
		_ = sched.Shutdown(context.Background())
		return
	}

	log.WithFields(logrus.Fields{
		"port":  cfg.HTTPPort,
		"cache": cfg.CacheBackend,
	}).Info("gateway listening")
	if err := serve(ctx, log, httpServer, ln, sched, cfg.ShutdownGrace); err != nil {
		log.WithError(err).Error("gateway stopped")
	}
}

type drainer interface {
	Shutdown(ctx context.Context) error
}

const httpShutdownGrace = 5 * time.Second

// serve runs srv on ln until ctx ends or serving fails, then drains sched
// within grace and stops srv under a deadline of its own.
func serve(ctx context.Context, log logrus.FieldLogger, srv *http.Server, ln net.Listener, sched drainer, grace time.Duration) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var failed error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case failed = <-serveErr:
		log.WithError(failed).Error("serve")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), grace)
	defer cancelDrain()
	if err := sched.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("scheduler did not drain in time")
	}

	// Handlers still waiting were resolved or abandoned by the drain above.
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpShutdownGrace)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		return errors.Join(failed, fmt.Errorf("http shutdown: %w", err))
	}
	return failed
}

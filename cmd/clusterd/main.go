// Copyright 2026 The Sploot Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command clusterd runs the media clustering service: the internal HTTP
// surface plus a fleet of stream consumers that maintain per-pet cluster
// state.  See the README.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"
	"go.chromium.org/luci/server/router"

	"github.com/rclong1221/sploot-media-clustering/internal/cache"
	"github.com/rclong1221/sploot-media-clustering/internal/clustering/strategies"
	"github.com/rclong1221/sploot-media-clustering/internal/config"
	"github.com/rclong1221/sploot-media-clustering/internal/frontend"
	"github.com/rclong1221/sploot-media-clustering/internal/metrics"
	"github.com/rclong1221/sploot-media-clustering/internal/streams"
	"github.com/rclong1221/sploot-media-clustering/internal/worker"
)

// shutdownGrace bounds how long teardown waits for in-flight HTTP
// requests. Workers bound their own drain with their per-message grace
// period.
const shutdownGrace = 15 * time.Second

func main() {
	if err := innerMain(); err != nil {
		log.Fatal(err)
	}
}

func innerMain() error {
	ctx := gologger.StdConfig.Use(context.Background())

	cfg, err := config.Load()
	if err != nil {
		return errors.Annotate(err, "load configuration").Err()
	}
	logging.Infof(ctx, "%s starting (environment %s)", cfg.AppName, cfg.Environment)

	strategy, err := strategies.Get(cfg.Strategy)
	if err != nil {
		return errors.Annotate(err, "CLUSTER_STRATEGY %q", cfg.Strategy).Err()
	}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return err
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	sc := streams.NewClient(rdb, streams.Options{
		Stream:           cfg.StreamKey,
		Group:            cfg.ConsumerGroup,
		DeadLetterStream: cfg.DeadLetterStream,
		MaxLen:           cfg.StreamMaxLen,
		ApproximateTrim:  cfg.StreamApproximateTrim,
	})

	// The broker must be reachable before anything serves; give it a few
	// tries and then let the supervisor restart us.
	err = retry.Retry(ctx, transient.Only(startupRetry), func() error {
		return sc.Ping(ctx)
	}, retry.LogCallback(ctx, "ping broker"))
	if err != nil {
		return errors.Annotate(err, "broker unreachable").Err()
	}
	if err := sc.EnsureGroup(ctx); err != nil {
		return err
	}

	store := cache.NewStore(rdb, cfg.Namespace, cfg.ClusterTTL)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Workers get their own cancellation so teardown can stop the HTTP
	// surface first and drain consumers second.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	var wg sync.WaitGroup
	errc := make(chan error, cfg.WorkerCount+2)
	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(sc, store, worker.Options{
			Consumer:       fmt.Sprintf("%s-%d", cfg.WorkerConsumerName, i),
			Strategy:       strategy,
			MaxClusterSize: cfg.MaxClusterSize,
			ReadCount:      cfg.ReadCount,
			BlockFor:       cfg.ReadTimeout,
			MinIdle:        cfg.RetryIdle,
			MaxAttempts:    cfg.MaxAttempts,
			MaxPending:     cfg.MaxPendingPerWorker,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(workerCtx); err != nil {
				errc <- err
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchBroker(workerCtx, sc, cfg.RedisHealthcheckInterval)
	}()

	r := router.New()
	frontend.NewHandlers(cfg.InternalToken, sc, store).RegisterRoutes(r)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logging.Infof(ctx, "HTTP surface listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- errors.Annotate(err, "HTTP surface").Err()
		}
	}()

	var metricsSrv *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.MetricsHost, cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		go func() {
			logging.Infof(ctx, "metrics listening on %s", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- errors.Annotate(err, "metrics listener").Err()
			}
		}()
	}

	select {
	case <-sigCtx.Done():
		logging.Infof(ctx, "shutdown signal received")
	case err = <-errc:
		logging.WithError(err).Errorf(ctx, "fatal error, shutting down")
	}

	// Teardown order: HTTP surface, then workers, then the broker pool
	// (closed by the deferred rdb.Close).
	shutdownCtx, cancel := clock.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		logging.WithError(sErr).Warningf(ctx, "HTTP surface shutdown")
	}
	if metricsSrv != nil {
		if sErr := metricsSrv.Shutdown(shutdownCtx); sErr != nil {
			logging.WithError(sErr).Warningf(ctx, "metrics listener shutdown")
		}
	}
	cancelWorkers()
	wg.Wait()
	if err != nil {
		return err
	}
	logging.Infof(ctx, "%s stopped", cfg.AppName)
	return nil
}

// startupRetry is the backoff schedule for the initial broker probe.
func startupRetry() retry.Iterator {
	return &retry.ExponentialBackoff{
		Limited: retry.Limited{
			Delay:   time.Second,
			Retries: 5,
		},
		Multiplier: 2,
		MaxDelay:   10 * time.Second,
	}
}

// watchBroker pings the broker on the configured interval so a broken
// pool surfaces in the logs even when the stream is quiet.
func watchBroker(ctx context.Context, sc *streams.Client, interval time.Duration) {
	if interval <= 0 {
		return
	}
	for {
		if tr := clock.Sleep(ctx, interval); tr.Err != nil {
			return
		}
		if err := sc.Ping(ctx); err != nil {
			logging.WithError(err).Warningf(ctx, "broker healthcheck failed")
		}
	}
}

/*
Copyright 2026 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package service assembles and runs the logport process: stores,
// queue, workers, scheduler and the diagnostics endpoint.
package service

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/gravitational/logport"
	"github.com/gravitational/logport/lib/config"
	"github.com/gravitational/logport/lib/defaults"
	"github.com/gravitational/logport/lib/jobs"
	"github.com/gravitational/logport/lib/queue"
	"github.com/gravitational/logport/lib/scheduler"
	"github.com/gravitational/logport/lib/storage"
	"github.com/gravitational/logport/lib/store"
)

// Config configures a service process.
type Config struct {
	// FileConfig is the parsed configuration file
	FileConfig *config.FileConfig
	// DiagnosticsAddr serves /metrics and /healthz
	DiagnosticsAddr string
	// Clock drives the scheduler and state stamps
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.FileConfig == nil {
		return trace.BadParameter("missing parameter FileConfig")
	}
	if c.FileConfig.Database.DSN == "" {
		return trace.BadParameter("database.dsn is required")
	}
	if c.FileConfig.Redis.Addr == "" {
		return trace.BadParameter("redis.addr is required")
	}
	if c.FileConfig.Storage.Bucket == "" {
		return trace.BadParameter("storage.bucket is required")
	}
	if c.DiagnosticsAddr == "" {
		c.DiagnosticsAddr = defaults.DiagnosticsAddr
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Run starts the configured roles and blocks until SIGINT/SIGTERM or a
// fatal startup error.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	cfg.FileConfig.ApplyLogging()
	logger := log.WithField(logport.Component, logport.ComponentService)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewPostgresStore(ctx, store.PostgresConfig{
		DSN:   cfg.FileConfig.Database.DSN,
		Clock: cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer db.Close()
	if err := db.Bootstrap(ctx); err != nil {
		return trace.Wrap(err)
	}

	tasks, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
		Addr:     cfg.FileConfig.Redis.Addr,
		Password: cfg.FileConfig.Redis.Password,
		DB:       cfg.FileConfig.Redis.DB,
		Clock:    cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer tasks.Close()
	if _, err := tasks.Recover(ctx); err != nil {
		return trace.Wrap(err)
	}

	objects, err := storage.NewS3Store(ctx, storage.S3Config{
		Region:          cfg.FileConfig.Storage.Region,
		Bucket:          cfg.FileConfig.Storage.Bucket,
		Endpoint:        cfg.FileConfig.Storage.Endpoint,
		PublicEndpoint:  cfg.FileConfig.Storage.PublicEndpoint,
		AccessKeyID:     cfg.FileConfig.Storage.AccessKeyID,
		SecretAccessKey: cfg.FileConfig.Storage.SecretAccessKey,
		UsePathStyle:    cfg.FileConfig.Storage.UsePathStyle,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return trace.Wrap(err)
	}

	runner, err := jobs.NewRunner(jobs.Config{
		Store:   db,
		Objects: objects,
		Queue:   tasks,
		Clock:   cfg.Clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	diagnostics := newDiagnosticsServer(cfg.DiagnosticsAddr)
	go func() {
		if err := diagnostics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warningf("Diagnostics server exited: %v.", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		diagnostics.Shutdown(shutdownCtx)
	}()

	var wg sync.WaitGroup
	if *cfg.FileConfig.Worker.Enabled {
		for i := 0; i < cfg.FileConfig.Worker.Count; i++ {
			worker, err := jobs.NewWorker(jobs.WorkerConfig{
				Runner: runner,
				Queue:  tasks,
				Name:   fmt.Sprintf("worker-%d", i),
			})
			if err != nil {
				return trace.Wrap(err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				worker.Run(ctx)
			}()
		}
		logger.Infof("Started %v workers.", cfg.FileConfig.Worker.Count)
	}

	if *cfg.FileConfig.Scheduler.Enabled {
		sched, err := scheduler.New(scheduler.Config{
			Sources: db,
			Queue:   tasks,
			Clock:   cfg.Clock,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	}

	logger.Infof("Logport is running, diagnostics at %v.", cfg.DiagnosticsAddr)
	<-ctx.Done()
	logger.Info("Shutting down.")
	wg.Wait()
	return nil
}

// newDiagnosticsServer serves prometheus metrics and the health check.
func newDiagnosticsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

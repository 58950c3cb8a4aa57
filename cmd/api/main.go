package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"transcript-classifier-go/internal/config"
	"transcript-classifier-go/internal/jobs"
	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/pipeline"
	"transcript-classifier-go/internal/processor"
)

const jobRetention = 7 * 24 * time.Hour

func main() {
	log := logger.New()
	log.WithField("service", "transcript-classifier-go").Info("starting service")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := jobs.Open(cfg.JobsDB)
	if err != nil {
		log.WithError(err).Fatal("failed to open job store")
	}
	defer store.Close()
	if n, err := store.FailInterrupted(ctx); err != nil {
		log.WithError(err).Warn("could not mark interrupted jobs")
	} else if n > 0 {
		log.WithField("jobs", n).Warn("jobs from a previous run marked failed")
	}
	if n, err := store.Cleanup(ctx, jobRetention); err == nil && n > 0 {
		log.WithField("jobs", n).Info("old jobs removed")
	}

	p, cleanup, err := pipeline.FromConfig(ctx, cfg, log.Entry)
	if err != nil {
		log.WithError(err).Fatal("failed to build pipeline")
	}
	defer cleanup()

	runner := processor.New(store, p, cfg, log.Entry)
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newServer(ctx, runner, cfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down, waiting for running jobs to checkpoint")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.WithFields(map[string]interface{}{
		"addr":     addr,
		"provider": cfg.Provider,
		"model":    cfg.Model,
	}).Info("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server terminated")
	}
	runner.Wait()
	log.Info("stopped")
}

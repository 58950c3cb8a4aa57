package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/config"
	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/pipeline"
	"transcript-classifier-go/internal/processor"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	var (
		input   = flag.String("input", "", "input workbook (.xlsx) with a text and a video_id column")
		output  = flag.String("output", "", "output workbook (default <input>_ai_analysis.xlsx)")
		person  = flag.String("person", cfg.TargetPerson, "person the segments are evaluated against")
		explain = flag.Bool("explain", cfg.WithExplanation, "ask for and store an explanation per segment")
		resume  = flag.Bool("resume", cfg.Resume, "continue from an existing output workbook")
		retryEr = flag.Bool("retry-errors", cfg.RetryErrors, "reclassify rows previously marked Erro")
		force   = flag.Bool("force-summaries", false, "regenerate cached video summaries")
		every   = flag.Int("save-interval", cfg.SaveInterval, "checkpoint after this many rows")
		workers = flag.Int("concurrency", cfg.Concurrency, "maximum concurrent model calls")
		mock    = flag.Bool("mock", false, "use the offline mock generator")
	)
	flag.Parse()
	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: classify -input file.xlsx [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *mock {
		cfg.Provider = "mock"
	}
	cfg.Concurrency = *workers
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, cleanup, err := pipeline.FromConfig(ctx, cfg, log.Entry)
	if err != nil {
		log.WithError(err).Fatal("failed to build pipeline")
	}
	defer cleanup()

	target := cfg.Target()
	target.Person = *person
	target.WithExplanation = *explain

	start := time.Now()
	opts := pipeline.Options{
		InputPath:    *input,
		OutputPath:   *output,
		Sheet:        cfg.Sheet,
		TextColumn:   cfg.TextColumn,
		EntityColumn: cfg.EntityColumn,
		Target:       target,
		Resume:       *resume,
		RetryErrors:  *retryEr,
		ForceSummary: *force,
		SaveInterval: *every,
		OnProgress: func(pr pipeline.Progress) {
			entry := log.WithFields(logrus.Fields{"processed": pr.Processed, "total": pr.Total, "entity_id": pr.EntityID})
			if pr.Checkpoint != "" {
				entry.WithField("checkpoint", pr.Checkpoint).Info("progress saved")
				return
			}
			entry.Debug("row done")
		},
	}

	out, err := p.Run(ctx, opts)
	if err != nil {
		var runErr *pipeline.RunError
		switch {
		case errors.As(err, &runErr):
			log.WithFields(logrus.Fields{
				"failed_rows":     runErr.FailedRows,
				"failed_entities": runErr.FailedEntities,
				"checkpoint":      runErr.Checkpoint,
			}).WithError(err).Error("classification stopped; rerun with -resume to continue")
		case errors.Is(err, context.Canceled):
			log.WithField("output", out).Warn("interrupted; rerun with -resume to continue")
		default:
			log.WithError(err).Error("classification failed")
		}
		stop()
		cleanup()
		os.Exit(1)
	}

	rep, err := processor.Summarize(out, cfg)
	if err != nil {
		log.WithError(err).Fatal("could not read results")
	}
	log.WithFields(logrus.Fields{
		"output":     out,
		"total":      rep.Stats.Total,
		"classified": rep.Stats.Classified,
		"errors":     rep.Stats.Errors,
		"flagged":    rep.Insight.Flagged,
		"elapsed":    time.Since(start).Round(time.Second).String(),
	}).Info("classification complete")
	fmt.Printf("%s\n%s\n", rep.Card.Insight, rep.Card.Action)
}

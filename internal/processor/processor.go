// Package processor runs analysis jobs in the background and mirrors their
// progress into the job store.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/actionable"
	"transcript-classifier-go/internal/aggregator"
	"transcript-classifier-go/internal/config"
	"transcript-classifier-go/internal/dataset"
	"transcript-classifier-go/internal/jobs"
	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/pipeline"
	"transcript-classifier-go/internal/types"
)

const JobTypeAnalysis = "analysis"

var (
	ErrBusy        = errors.New("an analysis is already running for this file")
	ErrInvalidFile = errors.New("invalid input file")
)

type AnalysisRequest struct {
	File            string `json:"file"`
	TargetPerson    string `json:"target_person,omitempty"`
	AnalysisContext string `json:"analysis_context,omitempty"`
	WithExplanation *bool  `json:"with_explanation,omitempty"`
	Resume          *bool  `json:"resume,omitempty"`
	RetryErrors     bool   `json:"retry_errors,omitempty"`
	SaveInterval    int    `json:"save_interval,omitempty"`
}

// Report is the job result and the /results payload.
type Report struct {
	File     string                `json:"file"`
	Output   string                `json:"output"`
	Stats    dataset.Stats         `json:"stats"`
	Insight  aggregator.Insight    `json:"insight"`
	Card     actionable.ActionCard `json:"action_card"`
	Duration string                `json:"duration,omitempty"`
}

type Runner struct {
	Store    *jobs.Store
	Pipeline *pipeline.Pipeline
	Config   config.Config
	Log      *logrus.Entry

	mu     sync.Mutex
	active map[string]string
	wg     sync.WaitGroup
}

func New(store *jobs.Store, p *pipeline.Pipeline, cfg config.Config, log *logrus.Entry) *Runner {
	return &Runner{
		Store:    store,
		Pipeline: p,
		Config:   cfg,
		Log:      logger.Component(log, "processor"),
		active:   map[string]string{},
	}
}

// InputPath resolves a bare file name inside the excel output directory.
func (r *Runner) InputPath(file string) (string, error) {
	name := filepath.Base(strings.TrimSpace(file))
	if name == "." || name == "/" || !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFile, file)
	}
	path := filepath.Join(r.Config.ExcelOutputDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	return path, nil
}

// Start registers a job and runs it in the background under ctx. Only one
// job may write a given output file at a time.
func (r *Runner) Start(ctx context.Context, req AnalysisRequest) (string, error) {
	in, err := r.InputPath(req.File)
	if err != nil {
		return "", err
	}
	out := pipeline.DefaultOutputPath(in)

	r.mu.Lock()
	if id, busy := r.active[out]; busy {
		r.mu.Unlock()
		return "", fmt.Errorf("%w (job %s)", ErrBusy, id)
	}
	id, err := r.Store.Create(ctx, JobTypeAnalysis, req)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.active[out] = id
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, out)
			r.mu.Unlock()
		}()
		r.Run(ctx, id, r.options(req, in, out))
	}()
	return id, nil
}

// Wait blocks until every started job has returned.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) options(req AnalysisRequest, in, out string) pipeline.Options {
	cfg := r.Config
	target := cfg.Target()
	if req.TargetPerson != "" {
		target.Person = req.TargetPerson
	}
	if req.AnalysisContext != "" {
		target.Context = req.AnalysisContext
	}
	if req.WithExplanation != nil {
		target.WithExplanation = *req.WithExplanation
	}
	resume := cfg.Resume
	if req.Resume != nil {
		resume = *req.Resume
	}
	interval := cfg.SaveInterval
	if req.SaveInterval > 0 {
		interval = req.SaveInterval
	}
	return pipeline.Options{
		InputPath:    in,
		OutputPath:   out,
		Sheet:        cfg.Sheet,
		TextColumn:   cfg.TextColumn,
		EntityColumn: cfg.EntityColumn,
		Target:       target,
		Resume:       resume,
		RetryErrors:  req.RetryErrors || cfg.RetryErrors,
		SaveInterval: interval,
	}
}

// Run executes one job synchronously. Store failures are logged, never
// allowed to abort the analysis.
func (r *Runner) Run(ctx context.Context, id string, opts pipeline.Options) {
	log := r.Log.WithFields(logrus.Fields{"job_id": id, "input": opts.InputPath})
	start := time.Now()
	// bookkeeping must outlive a cancelled run so the failure is recorded
	bctx := context.WithoutCancel(ctx)

	r.note(bctx, log, id, "Iniciando análise")
	r.step(bctx, log, id, jobs.Step{ID: "classify", Name: "Classificação", Status: "running"})
	status, stepName := jobs.StatusProcessing, "Classificando segmentos"
	r.patch(bctx, log, id, jobs.Patch{Status: &status, Step: &stepName})

	lastPct := -1
	opts.OnProgress = func(p pipeline.Progress) {
		pct := 0
		if p.Total > 0 {
			pct = p.Processed * 100 / p.Total
		}
		if p.Checkpoint != "" {
			r.note(bctx, log, id, fmt.Sprintf("Checkpoint salvo: %d/%d", p.Processed, p.Total))
		}
		if pct == lastPct {
			return
		}
		lastPct = pct
		step := fmt.Sprintf("Classificando segmentos (%d/%d)", p.Processed, p.Total)
		r.patch(bctx, log, id, jobs.Patch{Progress: &pct, Step: &step})
	}

	out, err := r.Pipeline.Run(ctx, opts)
	if err != nil {
		msg := err.Error()
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) && runErr.Checkpoint != "" {
			r.note(bctx, log, id, "Progresso salvo em "+runErr.Checkpoint+"; reexecute com resume para continuar")
		}
		r.step(bctx, log, id, jobs.Step{ID: "classify", Name: "Classificação", Status: "failed", Message: msg})
		if ferr := r.Store.Fail(bctx, id, msg); ferr != nil {
			log.WithError(ferr).Error("record job failure")
		}
		log.WithError(err).Error("analysis job failed")
		return
	}

	report, err := Summarize(out, r.Config)
	if err != nil {
		msg := fmt.Sprintf("summarize results: %v", err)
		if ferr := r.Store.Fail(bctx, id, msg); ferr != nil {
			log.WithError(ferr).Error("record job failure")
		}
		return
	}
	report.File = filepath.Base(opts.InputPath)
	report.Duration = time.Since(start).Round(time.Second).String()

	r.step(bctx, log, id, jobs.Step{ID: "classify", Name: "Classificação", Status: "done",
		Message: fmt.Sprintf("%d classificados, %d com erro", report.Stats.Classified, report.Stats.Errors)})
	r.note(bctx, log, id, "Análise concluída: "+filepath.Base(out))
	if err := r.Store.Complete(bctx, id, report); err != nil {
		log.WithError(err).Error("record job completion")
	}
	log.WithField("output", out).Info("analysis job completed")
}

// Summarize loads a classified workbook and builds its report.
func Summarize(path string, cfg config.Config) (Report, error) {
	fields := cfg.Labels
	if len(fields) == 0 {
		fields = types.DefaultLabelFields
	}
	d, err := dataset.Load(path, cfg.Sheet, cfg.TextColumn, cfg.EntityColumn)
	if err != nil {
		return Report{}, err
	}
	d.EnsureLabels(fields, false)
	ins := aggregator.Aggregate(d.Rows, fields)
	return Report{
		File:    filepath.Base(path),
		Output:  path,
		Stats:   d.Stats(),
		Insight: ins,
		Card:    actionable.Generate(ins),
	}, nil
}

func (r *Runner) patch(ctx context.Context, log *logrus.Entry, id string, p jobs.Patch) {
	if err := r.Store.Update(ctx, id, p); err != nil {
		log.WithError(err).Warn("job update failed")
	}
}

func (r *Runner) step(ctx context.Context, log *logrus.Entry, id string, s jobs.Step) {
	if err := r.Store.AddStep(ctx, id, s); err != nil {
		log.WithError(err).Warn("job step update failed")
	}
}

func (r *Runner) note(ctx context.Context, log *logrus.Entry, id, msg string) {
	if err := r.Store.AddLog(ctx, id, msg); err != nil {
		log.WithError(err).Warn("job log failed")
	}
}

// Package pipeline drives a classification pass over a dataset: it finds the
// unclassified rows, fetches per-entity summaries, sends each row through
// limiter -> retry -> generator -> parser and checkpoints the dataset as
// rows complete.
//
// Failure policy:
//   - a fatal generation error (llm.ErrGeneration) marks that row error and
//     the batch continues;
//   - exhausted retries, or any unexpected error, mark the row error, stop
//     issuing new calls, checkpoint and return a *RunError;
//   - cancellation stops issuing new calls, lets in-flight calls finish,
//     checkpoints and returns the context error.
//
// Rows already marked error are not picked up again on resume unless
// Options.RetryErrors is set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"transcript-classifier-go/internal/dataset"
	"transcript-classifier-go/internal/limiter"
	"transcript-classifier-go/internal/llm"
	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/parser"
	"transcript-classifier-go/internal/prompts"
	"transcript-classifier-go/internal/retry"
	"transcript-classifier-go/internal/summary"
	"transcript-classifier-go/internal/types"
)

const (
	DefaultSaveInterval = 100
	OutputSuffix        = "_ai_analysis.xlsx"
)

type Options struct {
	InputPath string
	// OutputPath defaults to <input>_ai_analysis.xlsx.
	OutputPath   string
	Sheet        string
	TextColumn   string
	EntityColumn string
	Target       types.Target
	Resume       bool
	// RetryErrors resets error labels to unset before computing the work set.
	RetryErrors  bool
	ForceSummary bool
	SaveInterval int
	// Workers bounds rows in flight; defaults to the limiter capacity.
	Workers    int
	OnProgress func(Progress)
}

// Progress is reported after every completed row. Checkpoint is set when
// that completion triggered a save.
type Progress struct {
	Processed  int    `json:"processed"`
	Remaining  int    `json:"remaining"`
	Total      int    `json:"total"`
	EntityID   string `json:"entity_id"`
	Row        int    `json:"row"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

type Pipeline struct {
	Generator llm.Generator
	Summaries *summary.Cache
	Limiter   *limiter.Limiter
	Retry     *retry.Coordinator
	Fields    []types.LabelField
	Log       *logrus.Entry
}

// RunError reports a run that stopped on a hard failure. Checkpoint is the
// last file successfully written, empty if none was.
type RunError struct {
	FailedRows     []int
	FailedEntities []string
	Checkpoint     string
	Err            error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("classification stopped (failed rows %v, entities %v, last checkpoint %q): %v",
		e.FailedRows, e.FailedEntities, e.Checkpoint, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

func DefaultOutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + OutputSuffix
}

func (p *Pipeline) fields() []types.LabelField {
	if len(p.Fields) == 0 {
		return types.DefaultLabelFields
	}
	return p.Fields
}

func (p *Pipeline) log() *logrus.Entry {
	if p.Log == nil {
		return logger.Component(nil, "pipeline")
	}
	return p.Log
}

// Run classifies every unclassified row of the dataset and returns the
// output path.
func (p *Pipeline) Run(ctx context.Context, opts Options) (string, error) {
	if p.Generator == nil || p.Limiter == nil || p.Retry == nil {
		return "", errors.New("pipeline: generator, limiter and retry are required")
	}
	out := opts.OutputPath
	if out == "" {
		out = DefaultOutputPath(opts.InputPath)
	}
	log := p.log().WithFields(logrus.Fields{"input": opts.InputPath, "output": out})

	source := opts.InputPath
	if opts.Resume {
		if _, err := os.Stat(out); err == nil {
			source = out
			log.Info("resuming from previous output")
		}
	}
	ds, err := dataset.Load(source, opts.Sheet, opts.TextColumn, opts.EntityColumn)
	if err != nil {
		return "", fmt.Errorf("load dataset %s: %w", source, err)
	}
	ds.EnsureLabels(p.fields(), opts.Target.WithExplanation)
	if opts.RetryErrors {
		if n := ds.ResetErrors(); n > 0 {
			log.WithField("rows", n).Info("error rows reset for retry")
		}
	}

	pending := ds.Pending()
	if len(pending) == 0 {
		log.Info("nothing to classify")
		if source != out {
			if err := ds.Save(out); err != nil {
				return "", err
			}
		}
		return out, nil
	}
	log.WithFields(logrus.Fields{"pending": len(pending), "rows": len(ds.Rows)}).Info("classification started")

	r := &run{
		p:        p,
		ds:       ds,
		opts:     opts,
		out:      out,
		pending:  pending,
		interval: opts.SaveInterval,
		log:      log,
	}
	if r.interval < 1 {
		r.interval = DefaultSaveInterval
	}
	return r.execute(ctx)
}

type run struct {
	p        *Pipeline
	ds       *dataset.Dataset
	opts     Options
	out      string
	pending  []int
	interval int
	log      *logrus.Entry

	summaries map[string]string

	mu         sync.Mutex
	processed  int
	dirty      bool
	checkpoint string
	failedRows []int
	failedEnts map[string]struct{}
	hardErr    error
	halt       atomic.Bool
}

func (r *run) execute(ctx context.Context) (string, error) {
	start := time.Now()
	r.failedEnts = map[string]struct{}{}

	if err := r.loadSummaries(ctx); err != nil {
		return r.finish(err)
	}

	workers := r.opts.Workers
	if workers < 1 {
		workers = r.p.Limiter.Capacity()
	}
	var g errgroup.Group
	g.SetLimit(workers)

	for _, idx := range r.pending {
		if r.halt.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if r.halt.Load() || ctx.Err() != nil {
				return nil
			}
			r.classify(ctx, idx)
			return nil
		})
	}
	_ = g.Wait()

	r.log.WithFields(logrus.Fields{
		"processed": r.processed,
		"failed":    len(r.failedRows),
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Info("classification loop finished")

	switch {
	case r.hardErr != nil:
		return r.finish(r.hardErr)
	case ctx.Err() != nil:
		return r.finish(ctx.Err())
	}
	return r.finish(nil)
}

func (r *run) loadSummaries(ctx context.Context) error {
	r.summaries = map[string]string{}
	if r.p.Summaries == nil {
		return nil
	}
	var ids []string
	seen := map[string]struct{}{}
	for _, idx := range r.pending {
		id := r.ds.Rows[idx].EntityID
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	got, err := r.p.Summaries.GetOrCreateMany(ctx, ids, r.opts.ForceSummary)
	r.summaries = got
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.WithError(err).Warn("summary cache failure, continuing with partial context")
	}
	r.log.WithFields(logrus.Fields{"entities": len(ids), "summaries": len(got)}).Info("summaries ready")
	return nil
}

// classify runs one row and records its outcome. A row whose call was
// abandoned because of cancellation stays unset.
func (r *run) classify(ctx context.Context, idx int) {
	row := r.ds.Rows[idx]
	rlog := r.log.WithFields(logrus.Fields{"row": idx, "entity_id": row.EntityID})

	c, err := r.p.classifyText(ctx, row.Text, r.summaries[row.EntityID], r.opts.Target)
	switch {
	case err == nil:
		rlog.Debug("row classified")
	case ctx.Err() != nil && isContextErr(err):
		rlog.Debug("row abandoned on cancellation")
		return
	case errors.Is(err, llm.ErrGeneration):
		rlog.WithError(err).Warn("row failed, marked error")
		c = types.ErrorClassification(r.p.fields(), err.Error())
		r.fail(idx, row.EntityID, nil)
	default:
		rlog.WithError(err).Error("row failed hard, stopping")
		c = types.ErrorClassification(r.p.fields(), err.Error())
		r.fail(idx, row.EntityID, err)
	}
	r.complete(idx, row.EntityID, c)
}

func (r *run) fail(idx int, entity string, hard error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedRows = append(r.failedRows, idx)
	if entity != "" {
		r.failedEnts[entity] = struct{}{}
	}
	if hard != nil && r.hardErr == nil {
		r.hardErr = hard
		r.halt.Store(true)
	}
}

func (r *run) complete(idx int, entity string, c types.Classification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ds.Apply(idx, c)
	r.processed++
	r.dirty = true

	prog := Progress{
		Processed: r.processed,
		Remaining: len(r.pending) - r.processed,
		Total:     len(r.pending),
		EntityID:  entity,
		Row:       idx,
	}
	if r.processed%r.interval == 0 {
		if err := r.saveLocked(); err != nil {
			if r.hardErr == nil {
				r.hardErr = err
			}
			r.halt.Store(true)
		} else {
			prog.Checkpoint = r.out
		}
	}
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(prog)
	}
}

func (r *run) saveLocked() error {
	if err := r.ds.Save(r.out); err != nil {
		r.log.WithError(err).Error("checkpoint failed")
		return err
	}
	r.checkpoint = r.out
	r.dirty = false
	r.log.WithField("processed", r.processed).Info("checkpoint saved")
	return nil
}

// finish writes the final checkpoint and shapes the returned error.
func (r *run) finish(cause error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var saveErr error
	if r.dirty || r.checkpoint == "" {
		saveErr = r.saveLocked()
	}

	if cause == nil && saveErr == nil {
		r.log.WithFields(logrus.Fields{"processed": r.processed, "failed": len(r.failedRows)}).Info("classification complete")
		return r.out, nil
	}
	if cause != nil && isContextErr(cause) && saveErr == nil {
		r.log.WithField("processed", r.processed).Warn("interrupted, progress saved")
		return r.out, fmt.Errorf("interrupted after %d rows, progress saved to %s: %w", r.processed, r.out, cause)
	}

	err := cause
	if err == nil {
		err = saveErr
	} else if saveErr != nil {
		err = fmt.Errorf("%w (final checkpoint also failed: %w)", cause, saveErr)
	}
	rows := append([]int(nil), r.failedRows...)
	sort.Ints(rows)
	ents := make([]string, 0, len(r.failedEnts))
	for e := range r.failedEnts {
		ents = append(ents, e)
	}
	sort.Strings(ents)
	return r.out, &RunError{FailedRows: rows, FailedEntities: ents, Checkpoint: r.checkpoint, Err: err}
}

// classifyText sends one segment through limiter -> retry -> generator and
// parses the answer. The row keeps its slot across retries and every attempt,
// retries included, waits for the issuance spacing. Each remote attempt is
// detached from ctx cancellation (it still ends at the attempt deadline) so an
// interrupt never tears down a call already on the wire; waiting for a slot,
// the spacing or a backoff does observe ctx.
func (p *Pipeline) classifyText(ctx context.Context, text, summ string, target types.Target) (types.Classification, error) {
	prompt := prompts.Classification(text, summ, target, p.fields())
	raw, err := p.Limiter.Hold(ctx, func(lctx context.Context) (string, error) {
		return p.Retry.Do(lctx, func(actx context.Context) (string, error) {
			if err := p.Limiter.Pace(lctx); err != nil {
				return "", err
			}
			cctx, cancel := detach(actx)
			defer cancel()
			return p.Generator.Generate(cctx, prompt)
		})
	})
	if err != nil {
		return types.Classification{}, err
	}
	return parser.Parse(raw, p.fields(), target.WithExplanation), nil
}

// ClassifyRows classifies rows in memory without touching any file. Fatal
// generation errors mark only their row; the first hard error stops issuing
// and is returned alongside the partial result. Unprocessed rows have a nil
// Labels map.
func (p *Pipeline) ClassifyRows(ctx context.Context, rows []types.Row, summaries map[string]string, target types.Target) ([]types.Classification, error) {
	out := make([]types.Classification, len(rows))
	var (
		g       errgroup.Group
		mu      sync.Mutex
		hardErr error
		halt    atomic.Bool
	)
	g.SetLimit(p.Limiter.Capacity())
	for i, row := range rows {
		if halt.Load() || ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if halt.Load() {
				return nil
			}
			c, err := p.classifyText(ctx, row.Text, summaries[row.EntityID], target)
			switch {
			case err == nil:
			case ctx.Err() != nil && isContextErr(err):
				return nil
			case errors.Is(err, llm.ErrGeneration):
				c = types.ErrorClassification(p.fields(), err.Error())
			default:
				c = types.ErrorClassification(p.fields(), err.Error())
				mu.Lock()
				if hardErr == nil {
					hardErr = fmt.Errorf("row %d: %w", i, err)
				}
				mu.Unlock()
				halt.Store(true)
			}
			out[i] = c
			return nil
		})
	}
	_ = g.Wait()
	if hardErr != nil {
		return out, hardErr
	}
	return out, ctx.Err()
}

func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if dl, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, dl)
	}
	return context.WithCancel(base)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

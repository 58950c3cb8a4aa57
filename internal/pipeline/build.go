package pipeline

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/config"
	"transcript-classifier-go/internal/limiter"
	"transcript-classifier-go/internal/llm"
	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/retry"
	"transcript-classifier-go/internal/summary"
	"transcript-classifier-go/internal/transcript"
)

// FromConfig wires generator, limiter, retry and summary cache from cfg.
// The returned func releases backend clients.
func FromConfig(ctx context.Context, cfg config.Config, log *logrus.Entry) (*Pipeline, func(), error) {
	gen, err := llm.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("generator: %w", err)
	}
	src, err := transcript.New(ctx, cfg, log)
	if err != nil {
		closeIfCloser(gen)
		return nil, nil, fmt.Errorf("transcript source: %w", err)
	}
	rc := retry.New(cfg.BaseRetryDelay, cfg.MaxRetries, cfg.CallTimeout, log)
	p := &Pipeline{
		Generator: gen,
		Limiter:   limiter.New(cfg.Concurrency, cfg.RequestDelay),
		Retry:     rc,
		Fields:    cfg.Labels,
		Log:       logger.Component(log, "pipeline"),
		Summaries: &summary.Cache{
			Dir:    cfg.SummariesDir,
			Source: src,
			Generate: func(ctx context.Context, prompt string) (string, error) {
				return rc.Do(ctx, func(actx context.Context) (string, error) {
					return gen.Generate(actx, prompt)
				})
			},
			Concurrency: cfg.SummaryConcurrency,
			Log:         logger.Component(log, "summary"),
		},
	}
	cleanup := func() {
		closeIfCloser(gen)
		closeIfCloser(src)
	}
	return p, cleanup, nil
}

func closeIfCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		_ = c.Close()
	}
}

// Package summary keeps one generated summary per entity on disk and reuses
// it as classification context.
package summary

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"transcript-classifier-go/internal/logger"
	"transcript-classifier-go/internal/prompts"
	"transcript-classifier-go/internal/transcript"
)

type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// Cache stores <Dir>/<id>_summary.txt. A written file is reused until a
// forced regeneration overwrites it. Concurrent writers for one id must be
// serialized by the caller; GetOrCreateMany dedupes ids itself.
type Cache struct {
	Dir         string
	Source      transcript.Source
	Generate    GenerateFunc
	Concurrency int
	Log         *logrus.Entry
}

func (c *Cache) Path(id string) string {
	return filepath.Join(c.Dir, id+"_summary.txt")
}

func (c *Cache) Has(id string) bool {
	_, err := os.Stat(c.Path(id))
	return err == nil
}

// Load returns the cached summary, or ok=false when none is stored.
func (c *Cache) Load(id string) (string, bool, error) {
	b, err := os.ReadFile(c.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read summary %s: %w", id, err)
	}
	return strings.TrimSpace(string(b)), true, nil
}

// GetOrCreate returns the summary for id. ok=false with a nil error means no
// summary could be produced (missing transcript or failed generation); both
// are logged and left to the caller to skip.
func (c *Cache) GetOrCreate(ctx context.Context, id string, force bool) (string, bool, error) {
	log := c.log().WithField("entity_id", id)

	if !force {
		s, ok, err := c.Load(id)
		if err != nil {
			return "", false, err
		}
		if ok {
			log.Debug("summary cache hit")
			return s, true, nil
		}
	}

	text, err := c.Source.Load(ctx, id)
	if errors.Is(err, transcript.ErrSourceNotFound) {
		log.WithError(err).Warn("transcript not found, skipping summary")
		return "", false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		log.WithError(err).Error("transcript load failed")
		return "", false, nil
	}

	log.Info("generating summary")
	s, err := c.Generate(ctx, prompts.Summary(text))
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		log.WithError(err).Error("summary generation failed")
		return "", false, nil
	}
	s = strings.TrimSpace(s)
	if err := writeFileAtomic(c.Path(id), []byte(s)); err != nil {
		return "", false, fmt.Errorf("write summary %s: %w", id, err)
	}
	log.WithField("path", c.Path(id)).Info("summary saved")
	return s, true, nil
}

// GetOrCreateMany fans GetOrCreate out over ids. Ids without a summary are
// absent from the result. Only context cancellation and cache write errors
// are returned.
func (c *Cache) GetOrCreateMany(ctx context.Context, ids []string, force bool) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := c.Concurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			s, ok, err := c.GetOrCreate(gctx, id, force)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			mu.Lock()
			out[id] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if skipped := len(seen) - len(out); skipped > 0 {
		c.log().WithFields(logrus.Fields{"requested": len(seen), "skipped": skipped}).Warn("some entities have no summary")
	}
	return out, nil
}

func (c *Cache) log() *logrus.Entry {
	if c.Log == nil {
		return logger.Component(nil, "summary")
	}
	return c.Log
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

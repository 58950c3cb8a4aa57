// Package transcript loads the full transcript of one entity (video) by id.
package transcript

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/config"
)

// ErrSourceNotFound means no transcript exists for the id. Callers treat it
// as a per-entity condition, not a batch failure.
var ErrSourceNotFound = errors.New("transcript not found")

type Source interface {
	Load(ctx context.Context, id string) (string, error)
}

// New picks the source from config: a GCS bucket wins over a URL template,
// which wins over the local words directory.
func New(ctx context.Context, cfg config.Config, log *logrus.Entry) (Source, error) {
	switch {
	case strings.TrimSpace(cfg.TranscriptBucket) != "":
		return NewGCS(ctx, cfg.TranscriptBucket, cfg.TranscriptPrefix)
	case strings.TrimSpace(cfg.TranscriptURL) != "":
		return NewHTTP(cfg.TranscriptURL, log), nil
	}
	return Dir(cfg.WordsDir), nil
}

package transcript

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"transcript-classifier-go/internal/logger"
)

// HTTP fetches transcripts from a URL template; "{id}" is replaced by the
// escaped entity id, or the id is appended as a path segment.
type HTTP struct {
	Template string
	Client   *http.Client
	// MaxElapsed caps retries on 5xx and transport errors.
	MaxElapsed time.Duration
	Log        *logrus.Entry
}

func NewHTTP(template string, log *logrus.Entry) *HTTP {
	return &HTTP{
		Template:   template,
		Client:     &http.Client{Timeout: 12 * time.Second},
		MaxElapsed: 12 * time.Second,
		Log:        logger.Component(log, "transcript.http"),
	}
}

func (h *HTTP) URL(id string) string {
	esc := url.PathEscape(id)
	if strings.Contains(h.Template, "{id}") {
		return strings.ReplaceAll(h.Template, "{id}", esc)
	}
	return strings.TrimRight(h.Template, "/") + "/" + esc + ".txt"
}

func (h *HTTP) Load(ctx context.Context, id string) (string, error) {
	target := h.URL(id)
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = h.MaxElapsed

	op := func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		resp, err := h.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return "", backoff.Permanent(fmt.Errorf("%s: %w", target, ErrSourceNotFound))
		case resp.StatusCode >= 500:
			return "", fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
		case resp.StatusCode >= 300:
			return "", backoff.Permanent(fmt.Errorf("download failed %d: %s", resp.StatusCode, string(body)))
		}
		return string(body), nil
	}
	notify := func(err error, d time.Duration) {
		h.Log.WithError(err).WithField("entity_id", id).WithField("delay", d.String()).Warn("transcript fetch failed, retrying")
	}
	return backoff.RetryNotifyWithData(op, backoff.WithContext(bo, ctx), notify)
}

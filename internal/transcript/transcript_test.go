package transcript

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"transcript-classifier-go/internal/logger"
)

func TestDirLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vid1.txt"), []byte("olá mundo"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := Dir(dir)
	got, err := src.Load(context.Background(), "vid1")
	if err != nil || got != "olá mundo" {
		t.Fatalf("Load = %q, %v", got, err)
	}
	if _, err := src.Load(context.Background(), "missing"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestHTTPLoad(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/words/vid1.txt":
			fmt.Fprint(w, "texto")
		case "/words/flaky.txt":
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, "recuperado")
		case "/words/denied.txt":
			w.WriteHeader(http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	h := NewHTTP(srv.URL+"/words/{id}.txt", logger.Discard())
	h.MaxElapsed = 5 * time.Second
	ctx := context.Background()

	if got, err := h.Load(ctx, "vid1"); err != nil || got != "texto" {
		t.Fatalf("vid1 = %q, %v", got, err)
	}
	if got, err := h.Load(ctx, "flaky"); err != nil || got != "recuperado" {
		t.Fatalf("flaky = %q, %v", got, err)
	}
	if _, err := h.Load(ctx, "nope"); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
	if _, err := h.Load(ctx, "denied"); err == nil || errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected plain failure, got %v", err)
	}
}

func TestHTTPURL(t *testing.T) {
	h := &HTTP{Template: "https://cdn.example/words/"}
	if got := h.URL("a b"); got != "https://cdn.example/words/a%20b.txt" {
		t.Fatalf("URL = %s", got)
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transcript-classifier-go/internal/config"
)

func TestGatewayGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("authorization header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "classifique isto") {
			t.Errorf("prompt not forwarded: %s", body)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"  Calúnia: Sim\nInjúria: Não  "}}]}`)
	}))
	defer srv.Close()

	g, err := NewGateway(srv.URL, "k", "m")
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.Generate(context.Background(), "classifique isto")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "Calúnia: Sim\nInjúria: Não" {
		t.Fatalf("unexpected content %q", out)
	}
}

func TestGatewayErrorKinds(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		limited bool
	}{
		{"too many requests", http.StatusTooManyRequests, `{"error":"slow down"}`, true},
		{"bad request", http.StatusBadRequest, `{"error":"bad"}`, false},
		{"unauthorized", http.StatusUnauthorized, `{"error":"key"}`, false},
		{"server error", http.StatusInternalServerError, `oops`, false},
		{"empty choices", http.StatusOK, `{"choices":[]}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			g, _ := NewGateway(srv.URL, "k", "m")
			_, err := g.Generate(context.Background(), "p")
			if err == nil {
				t.Fatal("expected error")
			}
			if IsRateLimited(err) != tc.limited {
				t.Fatalf("IsRateLimited = %v, want %v (err=%v)", IsRateLimited(err), tc.limited, err)
			}
			if !tc.limited && !errors.Is(err, ErrGeneration) {
				t.Fatalf("expected ErrGeneration, got %v", err)
			}
		})
	}
}

func TestGatewayDeadlinePassesThrough(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	// unblock the handler before Close waits on it
	defer close(release)

	g, _ := NewGateway(srv.URL, "k", "m")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if errors.Is(err, ErrGeneration) || IsRateLimited(err) {
		t.Fatalf("deadline must stay unclassified, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		err     error
		limited bool
	}{
		{"googleapi 429", &googleapi.Error{Code: 429}, true},
		{"googleapi 403", &googleapi.Error{Code: 403}, false},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), true},
		{"grpc invalid argument", status.Error(codes.InvalidArgument, "bad"), false},
		{"message marker", errors.New("rpc error: 429 Resource exhausted"), true},
		{"status coder", statusError{code: 429}, true},
		{"plain", errors.New("permission denied"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(ctx, "test", false, tc.err)
			if IsRateLimited(err) != tc.limited {
				t.Fatalf("IsRateLimited = %v, want %v", IsRateLimited(err), tc.limited)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("original error lost from chain: %v", err)
			}
		})
	}
	if err := classify(ctx, "test", true, errors.New("x")); !IsRateLimited(err) {
		t.Fatal("forced limited flag ignored")
	}
}

func TestMock(t *testing.T) {
	m := NewMock()
	out, err := m.Generate(context.Background(), "Sua tarefa é criar um resumo abrangente")
	if err != nil || !strings.Contains(out, "Tema principal") {
		t.Fatalf("summary prompt got %q, %v", out, err)
	}
	out, _ = m.Generate(context.Background(), "classifique")
	if !strings.HasPrefix(out, "Calúnia:") {
		t.Fatalf("classification prompt got %q", out)
	}
	if m.Calls() != 2 {
		t.Fatalf("calls = %d", m.Calls())
	}
}

func TestNewUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.Provider = "nope"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error")
	}
	cfg.Provider = "mock"
	if g, err := New(context.Background(), cfg); err != nil || g == nil {
		t.Fatalf("mock provider: %v", err)
	}
	cfg.Provider = "gateway"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("gateway without url should fail")
	}
}

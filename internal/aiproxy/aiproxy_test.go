package aiproxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaywave/wagateway/internal/apierr"
	"github.com/relaywave/wagateway/internal/metrics"
	"github.com/relaywave/wagateway/internal/store"
)

func testRecord(endpoint string) *store.AgentRecord {
	rec := &store.AgentRecord{UserID: 1, AgentID: "a1", APIKey: "k1"}
	if endpoint != "" {
		rec.EndpointURLRun = &endpoint
	}
	return rec
}

func TestResolveEndpoint(t *testing.T) {
	cases := []struct {
		name     string
		base     string
		override string
		want     string
	}{
		{"plain base", "http://ai.test", "", "http://ai.test/agents/a1/execute"},
		{"trailing slash", "http://ai.test/", "", "http://ai.test/agents/a1/execute"},
		{"base already agents", "http://ai.test/agents", "", "http://ai.test/agents/a1/execute"},
		{"agents trailing slash", "http://ai.test/agents/", "", "http://ai.test/agents/a1/execute"},
		{"per-agent override", "http://ai.test", "http://other.test/run", "http://other.test/run"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(tc.base, metrics.New())
			got := p.resolveEndpoint(testRecord(tc.override))
			if got != tc.want {
				t.Fatalf("resolveEndpoint = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractReply(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string // "" means expect nil
	}{
		{"reply field", `{"reply":"hi"}`, "hi"},
		{"response field", `{"response":"yo"}`, "yo"},
		{"nested result reply", `{"result":{"reply":"nested"}}`, "nested"},
		{"nested result response", `{"result":{"response":"deep"}}`, "deep"},
		{"output field", `{"output":"out"}`, "out"},
		{"probe order wins", `{"response":"second","reply":"first"}`, "first"},
		{"trims whitespace", `{"reply":"  padded  "}`, "padded"},
		{"empty string skipped", `{"reply":"","response":"fallback"}`, "fallback"},
		{"nothing usable", `{"status":"ok"}`, ""},
		{"not json", `garbage`, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := extractReply([]byte(tc.body))
			if tc.want == "" {
				if got != nil {
					t.Fatalf("expected nil reply, got %q", *got)
				}
				return
			}
			if got == nil || *got != tc.want {
				t.Fatalf("extractReply = %v, want %q", got, tc.want)
			}
		})
	}
}

func TestExecuteRunSuccess(t *testing.T) {
	var gotAuth, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTrace = r.Header.Get("X-Trace-Id")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"hello"}`))
	}))
	defer srv.Close()

	p := New(srv.URL, metrics.New())
	res, err := p.ExecuteRun(context.Background(), testRecord(""), map[string]string{"input": "hi"}, "trace-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reply == nil || *res.Reply != "hello" {
		t.Fatalf("expected reply hello, got %v", res.Reply)
	}
	if gotAuth != "Bearer k1" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotTrace != "trace-1" {
		t.Fatalf("expected trace header, got %q", gotTrace)
	}
}

func TestExecuteRunDownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(srv.URL, metrics.New())
	_, err := p.ExecuteRun(context.Background(), testRecord(""), nil, "trace-2")
	if apierr.As(err).Code != "AI_DOWNSTREAM_ERROR" {
		t.Fatalf("expected AI_DOWNSTREAM_ERROR, got %v", err)
	}
}

func TestExecuteRunTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := New(srv.URL, metrics.New())
	p.timeout = 50 * time.Millisecond

	_, err := p.ExecuteRun(context.Background(), testRecord(""), nil, "trace-3")
	if apierr.As(err).Code != "AI_TIMEOUT" {
		t.Fatalf("expected AI_TIMEOUT, got %v", err)
	}
}

func TestExecuteRunUnreachable(t *testing.T) {
	p := New("http://127.0.0.1:1", metrics.New())
	_, err := p.ExecuteRun(context.Background(), testRecord(""), nil, "trace-4")
	if apierr.As(err).Code != "AI_DOWNSTREAM_ERROR" {
		t.Fatalf("expected AI_DOWNSTREAM_ERROR, got %v", err)
	}
}

// Package aiproxy calls the external AI backend on behalf of an agent and
// extracts the reply from whatever envelope the backend answers with.
package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relaywave/wagateway/internal/apierr"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/metrics"
	"github.com/relaywave/wagateway/internal/store"
)

// RunTimeout is the hard deadline on one AI call.
const RunTimeout = 60 * time.Second

// Proxy issues execute-run calls against the configured AI backend.
type Proxy struct {
	baseURL string
	metrics *metrics.Registry
	client  *http.Client
	timeout time.Duration
}

// RunResult carries the extracted reply (nil when the backend produced no
// usable text) and the raw response body.
type RunResult struct {
	Reply *string
	Raw   json.RawMessage
}

// New builds a Proxy against baseURL (the AI_BACKEND_URL value).
func New(baseURL string, m *metrics.Registry) *Proxy {
	return &Proxy{
		baseURL: baseURL,
		metrics: m,
		client:  &http.Client{},
		timeout: RunTimeout,
	}
}

// ExecuteRun POSTs payload to the agent's endpoint and returns the
// extracted reply. Timeouts map to AI_TIMEOUT, everything else that fails
// maps to AI_DOWNSTREAM_ERROR; both are counted per agent and code.
func (p *Proxy) ExecuteRun(ctx context.Context, rec *store.AgentRecord, payload interface{}, traceID string) (*RunResult, error) {
	endpoint := p.resolveEndpoint(rec)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, p.fail(rec.AgentID, apierr.AIDownstreamError(fmt.Sprintf("marshal AI payload: %v", err)))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, p.fail(rec.AgentID, apierr.AIDownstreamError(fmt.Sprintf("build AI request: %v", err)))
	}
	req.Header.Set("Authorization", "Bearer "+rec.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Trace-Id", traceID)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, p.fail(rec.AgentID, apierr.AITimeout("AI backend call exceeded 60s"))
		}
		return nil, p.fail(rec.AgentID, apierr.AIDownstreamError(fmt.Sprintf("AI backend call failed: %v", err)))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, p.fail(rec.AgentID, apierr.AIDownstreamError(fmt.Sprintf("read AI response: %v", err)))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		L_warn("aiproxy: backend returned non-2xx", "agentId", rec.AgentID, "status", resp.StatusCode, "traceId", traceID)
		return nil, p.fail(rec.AgentID, apierr.AIDownstreamError(fmt.Sprintf("AI backend returned status %d", resp.StatusCode)))
	}

	p.metrics.AILatencySeconds.WithLabelValues(rec.AgentID).Observe(time.Since(start).Seconds())

	return &RunResult{Reply: extractReply(raw), Raw: raw}, nil
}

// resolveEndpoint prefers the per-agent override; otherwise it builds
// {base}/agents/{agent_id}/execute, tolerating a base that already ends in
// /agents.
func (p *Proxy) resolveEndpoint(rec *store.AgentRecord) string {
	if rec.EndpointURLRun != nil && *rec.EndpointURLRun != "" {
		return *rec.EndpointURLRun
	}
	base := strings.TrimRight(p.baseURL, "/")
	if !strings.HasSuffix(base, "/agents") {
		base += "/agents"
	}
	return base + "/" + rec.AgentID + "/execute"
}

// DefaultEndpoint exposes the resolution rule for callers persisting the
// effective endpoint on create.
func (p *Proxy) DefaultEndpoint(agentID string) string {
	return p.resolveEndpoint(&store.AgentRecord{AgentID: agentID})
}

func (p *Proxy) fail(agentID string, e *apierr.Error) error {
	p.metrics.Errors.WithLabelValues(agentID, e.Code).Inc()
	return e
}

// replyProbes are the response fields checked for a usable reply, in order.
var replyProbes = [][]string{
	{"reply"},
	{"response"},
	{"result", "reply"},
	{"result", "response"},
	{"output"},
}

// extractReply probes the response envelope for the first non-empty
// trimmed string among the known reply fields.
func extractReply(raw []byte) *string {
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}

	for _, probe := range replyProbes {
		v := lookup(envelope, probe)
		s, ok := v.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			return &trimmed
		}
	}
	return nil
}

func lookup(m map[string]interface{}, path []string) interface{} {
	var cur interface{} = m
	for _, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

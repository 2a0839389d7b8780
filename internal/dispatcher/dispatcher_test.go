package dispatcher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relaywave/wagateway/internal/aiproxy"
	"github.com/relaywave/wagateway/internal/apierr"
	"github.com/relaywave/wagateway/internal/chatclient"
	"github.com/relaywave/wagateway/internal/metrics"
	"github.com/relaywave/wagateway/internal/scheduler"
	"github.com/relaywave/wagateway/internal/store"
)

type fakeAI struct {
	mu    sync.Mutex
	calls []RunPayload
	reply *string
	err   error
}

func (f *fakeAI) ExecuteRun(ctx context.Context, rec *store.AgentRecord, payload interface{}, traceID string) (*aiproxy.RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, payload.(RunPayload))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &aiproxy.RunResult{Reply: f.reply}, nil
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sentMsg struct {
	to   string
	body string
}

type fakeClient struct {
	mu     sync.Mutex
	sent   []sentMsg
	typing []bool
	self   string
}

func (c *fakeClient) Initialize(ctx context.Context) error { return nil }

func (c *fakeClient) SendMessage(ctx context.Context, to, body, quotedID string) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentMsg{to: to, body: body})
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) SendMedia(ctx context.Context, to string, media chatclient.PreparedMedia, caption string) error {
	return nil
}

func (c *fakeClient) SetTyping(ctx context.Context, to string, typing bool) error {
	c.mu.Lock()
	c.typing = append(c.typing, typing)
	c.mu.Unlock()
	return nil
}

func (c *fakeClient) Destroy(ctx context.Context) error { return nil }
func (c *fakeClient) Events() <-chan chatclient.Event   { return nil }
func (c *fakeClient) SelfJID() string                   { return c.self }

func (c *fakeClient) snapshot() ([]sentMsg, []bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...), append([]bool(nil), c.typing...)
}

func testRec() *store.AgentRecord {
	return &store.AgentRecord{UserID: 1, AgentID: "a1", APIKey: "k1"}
}

func chatMsg(overrides func(*chatclient.EventMessage)) chatclient.EventMessage {
	msg := chatclient.EventMessage{
		From:         "628123",
		ChatID:       "628123@c.us",
		Body:         "hi",
		Type:         "chat",
		WhatsAppName: "Tester",
		ChatName:     "628123",
	}
	if overrides != nil {
		overrides(&msg)
	}
	return msg
}

func newTestDispatcher(t *testing.T, ai *fakeAI) *Dispatcher {
	t.Helper()
	sched := scheduler.New()
	t.Cleanup(sched.Close)
	return New(ai, sched, metrics.New(), "dev@c.us")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFiltersDropNonDispatchable(t *testing.T) {
	cases := []struct {
		name string
		msg  chatclient.EventMessage
	}{
		{"own message", chatMsg(func(m *chatclient.EventMessage) { m.FromMe = true })},
		{"status update", chatMsg(func(m *chatclient.EventMessage) { m.IsStatus = true })},
		{"channel broadcast", chatMsg(func(m *chatclient.EventMessage) { m.IsChannel = true })},
		{"non-chat type", chatMsg(func(m *chatclient.EventMessage) { m.Type = "image" })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ai := &fakeAI{}
			d := newTestDispatcher(t, ai)
			client := &fakeClient{self: "628111"}

			d.HandleMessage(context.Background(), testRec(), client, tc.msg)
			time.Sleep(50 * time.Millisecond)

			if ai.callCount() != 0 {
				t.Fatal("filtered message reached the AI")
			}
		})
	}
}

func TestGroupGating(t *testing.T) {
	groupMsg := func(body string, mentions []string) chatclient.EventMessage {
		return chatMsg(func(m *chatclient.EventMessage) {
			m.ChatID = "12036312@g.us"
			m.Body = body
			m.MentionedIDs = mentions
		})
	}

	cases := []struct {
		name     string
		msg      chatclient.EventMessage
		expectAI bool
	}{
		{"unaddressed group message", groupMsg("hi", nil), false},
		{"bot mentioned", groupMsg("hi", []string{"628111@c.us"}), true},
		{"bot digits in body", groupMsg("hi @628111", nil), true},
		{"other digits in body", groupMsg("call 999", nil), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ai := &fakeAI{}
			d := newTestDispatcher(t, ai)
			client := &fakeClient{self: "628111"}

			d.HandleMessage(context.Background(), testRec(), client, tc.msg)

			if tc.expectAI {
				waitFor(t, "AI call", func() bool { return ai.callCount() == 1 })
			} else {
				time.Sleep(50 * time.Millisecond)
				if ai.callCount() != 0 {
					t.Fatal("gated message reached the AI")
				}
			}
		})
	}
}

func TestDispatchSuccess(t *testing.T) {
	reply := "hello human"
	ai := &fakeAI{reply: &reply}
	d := newTestDispatcher(t, ai)
	client := &fakeClient{self: "628111"}

	d.HandleMessage(context.Background(), testRec(), client, chatMsg(nil))

	waitFor(t, "reply delivery", func() bool {
		sent, _ := client.snapshot()
		return len(sent) == 1
	})

	sent, typing := client.snapshot()
	if sent[0].to != "628123@c.us" || sent[0].body != "hello human" {
		t.Fatalf("unexpected reply: %+v", sent[0])
	}
	if len(typing) != 2 || !typing[0] || typing[1] {
		t.Fatalf("expected typing on then off, got %v", typing)
	}

	ai.mu.Lock()
	payload := ai.calls[0]
	ai.mu.Unlock()
	if payload.Input != "hi" || payload.SessionID != "628123" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Parameters.MaxSteps != 5 {
		t.Fatalf("expected max_steps 5, got %d", payload.Parameters.MaxSteps)
	}
	if payload.Parameters.Metadata.WhatsAppName != "Tester" {
		t.Fatalf("unexpected metadata: %+v", payload.Parameters.Metadata)
	}
}

func TestDispatchNullReply(t *testing.T) {
	ai := &fakeAI{} // reply stays nil
	d := newTestDispatcher(t, ai)
	client := &fakeClient{self: "628111"}

	d.HandleMessage(context.Background(), testRec(), client, chatMsg(nil))

	waitFor(t, "AI call", func() bool { return ai.callCount() == 1 })
	waitFor(t, "typing cleared", func() bool {
		_, typing := client.snapshot()
		return len(typing) == 2
	})

	sent, _ := client.snapshot()
	if len(sent) != 0 {
		t.Fatalf("null reply must not send anything, got %v", sent)
	}
}

func TestDispatchAIFailureNotifiesDeveloper(t *testing.T) {
	ai := &fakeAI{err: apierr.AITimeout("AI backend call exceeded 60s")}
	d := newTestDispatcher(t, ai)
	client := &fakeClient{self: "628111"}

	d.HandleMessage(context.Background(), testRec(), client, chatMsg(nil))

	waitFor(t, "developer notification", func() bool {
		sent, _ := client.snapshot()
		return len(sent) == 1
	})

	sent, typing := client.snapshot()
	if sent[0].to != "dev@c.us" {
		t.Fatalf("notification went to %s, not the developer JID", sent[0].to)
	}
	for _, field := range []string{"agent_id: a1", "from: 628123", "trace_id:", "body: hi", "AI backend call exceeded 60s"} {
		if !strings.Contains(sent[0].body, field) {
			t.Fatalf("notification missing %q:\n%s", field, sent[0].body)
		}
	}

	// Typing was cleared despite the failure.
	if len(typing) != 2 || typing[1] {
		t.Fatalf("expected typing cleared on failure, got %v", typing)
	}
}

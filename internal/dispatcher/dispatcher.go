// Package dispatcher is the inbound pipeline: it filters raw chat events,
// routes accepted messages through the per-agent scheduler to the AI
// backend, and delivers the reply, or a developer notification when the
// AI call fails.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaywave/wagateway/internal/aiproxy"
	"github.com/relaywave/wagateway/internal/chatclient"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/metrics"
	"github.com/relaywave/wagateway/internal/store"
)

// DeveloperJID receives fallback notifications when an inbound AI call
// fails. The user never sees the failure.
const DeveloperJID = "628118008080@c.us"

// maxSteps caps the AI backend's tool-use loop per inbound message.
const maxSteps = 5

// AI is the proxy surface the dispatcher calls, satisfied by
// *aiproxy.Proxy.
type AI interface {
	ExecuteRun(ctx context.Context, rec *store.AgentRecord, payload interface{}, traceID string) (*aiproxy.RunResult, error)
}

// Scheduler is the per-agent FIFO, satisfied by *scheduler.Scheduler.
type Scheduler interface {
	Enqueue(ctx context.Context, agentID string, task func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// RunPayload is the JSON body sent to the AI backend for one inbound
// message.
type RunPayload struct {
	Input      string     `json:"input"`
	Parameters Parameters `json:"parameters"`
	SessionID  string     `json:"session_id"`
}

// Parameters tunes one AI run.
type Parameters struct {
	MaxSteps int      `json:"max_steps"`
	Metadata Metadata `json:"metadata"`
}

// Metadata carries chat context for the AI backend.
type Metadata struct {
	WhatsAppName string `json:"whatsapp_name"`
	ChatName     string `json:"chat_name"`
}

// Dispatcher consumes message events from the session supervisor.
type Dispatcher struct {
	ai      AI
	sched   Scheduler
	metrics *metrics.Registry
	devJID  string
}

// New builds a Dispatcher. devJID overrides the developer fallback target
// when non-empty (tests use this).
func New(ai AI, sched Scheduler, m *metrics.Registry, devJID string) *Dispatcher {
	if devJID == "" {
		devJID = DeveloperJID
	}
	return &Dispatcher{ai: ai, sched: sched, metrics: m, devJID: devJID}
}

// HandleMessage implements session.Inbound. It filters, then hands the
// message to the agent's queue without blocking the caller's event pump.
func (d *Dispatcher) HandleMessage(ctx context.Context, rec *store.AgentRecord, client chatclient.Client, msg chatclient.EventMessage) {
	if !d.accept(client, msg) {
		return
	}

	d.metrics.MessagesReceived.WithLabelValues(rec.AgentID).Inc()

	go d.dispatch(ctx, rec, client, msg)
}

// accept applies the drop filters and the group-mention gate.
func (d *Dispatcher) accept(client chatclient.Client, msg chatclient.EventMessage) bool {
	if msg.FromMe || msg.IsStatus || msg.IsChannel || msg.Type != "chat" {
		return false
	}

	if strings.HasSuffix(msg.ChatID, "@g.us") {
		return d.groupMentionsBot(client, msg)
	}
	return true
}

// groupMentionsBot requires the bot to be addressed in a group: either its
// JID appears among the mentions, or the body's digits contain the bot's
// digits. The digit match is deliberately fuzzy and can false-positive on
// arbitrary numbers in the text.
func (d *Dispatcher) groupMentionsBot(client chatclient.Client, msg chatclient.EventMessage) bool {
	self := client.SelfJID()
	if self == "" {
		return false
	}

	for _, m := range msg.MentionedIDs {
		if strings.Contains(m, self) {
			return true
		}
	}

	return strings.Contains(digitsOf(msg.Body), self)
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dispatch runs the message through the agent's queue: typing indicator
// on, AI call, typing off, reply delivery. AI failures never reach the
// user; they fan out to the developer JID instead.
func (d *Dispatcher) dispatch(ctx context.Context, rec *store.AgentRecord, client chatclient.Client, msg chatclient.EventMessage) {
	traceID := uuid.NewString()

	_, err := d.sched.Enqueue(ctx, rec.AgentID, func(ctx context.Context) (interface{}, error) {
		if err := client.SetTyping(ctx, msg.ChatID, true); err != nil {
			L_debug("dispatcher: typing on failed", "agentId", rec.AgentID, "error", err)
		}

		payload := RunPayload{
			Input: msg.Body,
			Parameters: Parameters{
				MaxSteps: maxSteps,
				Metadata: Metadata{WhatsAppName: msg.WhatsAppName, ChatName: msg.ChatName},
			},
			SessionID: msg.From,
		}

		result, runErr := d.ai.ExecuteRun(ctx, rec, payload, traceID)

		if err := client.SetTyping(ctx, msg.ChatID, false); err != nil {
			L_debug("dispatcher: typing off failed", "agentId", rec.AgentID, "error", err)
		}

		if runErr != nil {
			return nil, runErr
		}

		if result.Reply != nil {
			if err := client.SendMessage(ctx, msg.ChatID, *result.Reply, ""); err != nil {
				return nil, err
			}
			d.metrics.MessagesSent.WithLabelValues(rec.AgentID).Inc()
		}
		return nil, nil
	})

	if err != nil {
		L_error("dispatcher: inbound run failed", "agentId", rec.AgentID, "from", msg.From, "traceId", traceID, "error", err)
		d.notifyDeveloper(ctx, rec, client, msg, traceID, err)
	}
}

// notifyDeveloper sends the fallback notification through the same
// agent's queue. A failure here is only logged; there is nobody left to
// tell.
func (d *Dispatcher) notifyDeveloper(ctx context.Context, rec *store.AgentRecord, client chatclient.Client, msg chatclient.EventMessage, traceID string, cause error) {
	body := fmt.Sprintf(
		"AI run failed\nagent_id: %s\nfrom: %s\nreason: %v\ntrace_id: %s\nbody: %s\ntimestamp: %s",
		rec.AgentID, msg.From, cause, traceID, msg.Body, time.Now().UTC().Format(time.RFC3339),
	)

	_, err := d.sched.Enqueue(ctx, rec.AgentID, func(ctx context.Context) (interface{}, error) {
		return nil, client.SendMessage(ctx, d.devJID, body, "")
	})
	if err != nil {
		L_error("dispatcher: developer notification failed", "agentId", rec.AgentID, "traceId", traceID, "error", err)
	}
}

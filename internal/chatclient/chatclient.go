// Package chatclient wraps the chat-network client library behind a small
// event-driven interface, so the session supervisor never touches
// whatsmeow directly. One Client exists per agent_id, each backed by its
// own on-disk device store.
package chatclient

import (
	"context"
)

// Event is the union of everything a Client can emit. The supervisor
// type-switches on the concrete type.
type Event interface{ isChatEvent() }

// EventQR carries a freshly issued pairing string.
type EventQR struct{ Code string }

// EventReady fires once the client has fully synced and is usable.
type EventReady struct{}

// EventAuthFailure fires when the device's credentials are rejected.
type EventAuthFailure struct{ Reason string }

// EventDisconnected fires when the underlying connection drops, including
// on an explicit remote logout (Reason then mentions "logout" or
// "logged out").
type EventDisconnected struct{ Reason string }

// EventMessage carries one inbound chat message.
type EventMessage struct {
	From         string
	ChatID       string
	Body         string
	MentionedIDs []string
	Type         string
	FromMe       bool
	IsStatus     bool
	IsChannel    bool
	WhatsAppName string
	ChatName     string
}

func (EventQR) isChatEvent()           {}
func (EventReady) isChatEvent()        {}
func (EventAuthFailure) isChatEvent()  {}
func (EventDisconnected) isChatEvent() {}
func (EventMessage) isChatEvent()      {}

// PreparedMedia is an opaque media handle ready to hand to SendMedia.
type PreparedMedia struct {
	MimeType string
	Data     []byte
	Filename string
}

// Client is the opaque chat-network collaborator the supervisor drives.
// Implementations translate the underlying library's connection lifecycle
// into the Event union delivered on the channel returned by Events.
type Client interface {
	Initialize(ctx context.Context) error
	SendMessage(ctx context.Context, to, body string, quotedID string) error
	SendMedia(ctx context.Context, to string, media PreparedMedia, caption string) error
	SetTyping(ctx context.Context, to string, typing bool) error
	Destroy(ctx context.Context) error
	Events() <-chan Event

	// SelfJID returns the paired account's own JID user part (digits), or
	// "" before pairing completes. The inbound dispatcher uses it for
	// group-mention gating.
	SelfJID() string
}

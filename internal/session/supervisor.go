// Package session is the per-agent lifecycle and supervision engine. It
// owns every live chat-client instance, persists state transitions,
// recovers from disconnects with backoff, and coordinates QR delivery to
// HTTP callers through a single-waiter rendezvous.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/relaywave/wagateway/internal/apierr"
	"github.com/relaywave/wagateway/internal/chatclient"
	"github.com/relaywave/wagateway/internal/jid"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/media"
	"github.com/relaywave/wagateway/internal/metrics"
	"github.com/relaywave/wagateway/internal/store"
)

const (
	// QRWaitTimeout bounds one generate-QR rendezvous.
	QRWaitTimeout = 60 * time.Second

	// recordStaleAfter is how long a cached AgentRecord stays trusted
	// before the next inbound message forces a reload.
	recordStaleAfter = 60 * time.Second

	// destroyTimeout bounds the best-effort client teardown.
	destroyTimeout = 15 * time.Second
)

// Store is the persistence surface the supervisor depends on, satisfied by
// *store.Store.
type Store interface {
	UpsertAgent(ctx context.Context, userID int64, agentID, agentName, apiKey string, endpointURLRun *string) (*store.AgentRecord, error)
	GetAgent(ctx context.Context, userID int64, agentID string) (*store.AgentRecord, error)
	GetAgentByID(ctx context.Context, agentID string) (*store.AgentRecord, error)
	SetStatus(ctx context.Context, agentID, status string, extras store.StatusExtras) error
	DeleteAgent(ctx context.Context, agentID string) (bool, error)
	ListBootstrappable(ctx context.Context) ([]*store.AgentRecord, error)
	LatestActiveAPIKey(ctx context.Context, userID int64) (*store.ApiKey, error)
}

// Inbound consumes message events. The dispatcher implements it; the
// supervisor hands it a freshly-cached record alongside the raw event.
type Inbound interface {
	HandleMessage(ctx context.Context, rec *store.AgentRecord, client chatclient.Client, msg chatclient.EventMessage)
}

// ClientFactory builds a chat client bound to one agent's auth store.
type ClientFactory func(authRoot, agentID string) (chatclient.Client, error)

// RemoveAuthFunc deletes one agent's on-disk auth store.
type RemoveAuthFunc func(authRoot, agentID string) error

// Options wires a Supervisor's collaborators.
type Options struct {
	Store           Store
	Metrics         *metrics.Registry
	AuthRoot        string
	TempDir         string
	NewClient       ClientFactory  // defaults to chatclient.NewWhatsmeowClient
	RemoveAuth      RemoveAuthFunc // defaults to chatclient.RemoveAuthDir
	DefaultEndpoint func(agentID string) string
	Scheduler       OutboundScheduler
}

// OutboundScheduler is the per-agent FIFO every outbound send runs
// through, satisfied by *scheduler.Scheduler.
type OutboundScheduler interface {
	Enqueue(ctx context.Context, agentID string, task func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// liveSession is the in-memory state for one active agent. All fields are
// guarded by the Supervisor's mutex.
type liveSession struct {
	agentID string

	rec         *store.AgentRecord
	recLoadedAt time.Time

	client chatclient.Client

	qr          *QRPayload
	qrUpdatedAt time.Time

	isReady        bool
	status         string
	shuttingDown   bool
	metricsCounted bool
}

// Supervisor owns the process-wide session, timer, and waiter maps. Every
// public operation is safe to call from concurrent HTTP handlers.
type Supervisor struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*liveSession
	timers   map[string]*time.Timer
	waiters  map[string]*qrWaiter

	inbound Inbound

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Supervisor. Call SetInbound before any client can deliver
// messages, then Bootstrap to rehydrate persisted agents.
func New(opts Options) *Supervisor {
	if opts.NewClient == nil {
		opts.NewClient = chatclient.NewWhatsmeowClient
	}
	if opts.RemoveAuth == nil {
		opts.RemoveAuth = chatclient.RemoveAuthDir
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:     opts,
		sessions: make(map[string]*liveSession),
		timers:   make(map[string]*time.Timer),
		waiters:  make(map[string]*qrWaiter),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetInbound installs the message consumer. Messages arriving before this
// is called are dropped with a warning.
func (s *Supervisor) SetInbound(in Inbound) {
	s.mu.Lock()
	s.inbound = in
	s.mu.Unlock()
}

// CreateOrResume resolves the effective API key, upserts the agent row,
// and ensures a live session exists. The returned view reflects the state
// before the client finishes connecting; callers wanting a QR follow with
// GenerateQR.
func (s *Supervisor) CreateOrResume(ctx context.Context, userID int64, agentID, agentName, apiKey string) (*StatusView, error) {
	key, err := s.resolveAPIKey(ctx, userID, apiKey)
	if err != nil {
		return nil, err
	}

	var endpoint *string
	if s.opts.DefaultEndpoint != nil {
		e := s.opts.DefaultEndpoint(agentID)
		endpoint = &e
	}

	rec, err := s.opts.Store.UpsertAgent(ctx, userID, agentID, agentName, key, endpoint)
	if err != nil {
		return nil, err
	}

	if _, err := s.ensureClient(ctx, rec); err != nil {
		L_error("session: ensure client failed on create", "agentId", agentID, "error", err)
		return nil, apierr.BadGateway("failed to start chat client")
	}

	return viewOf(rec, s.liveState(agentID)), nil
}

// resolveAPIKey prefers the latest active key for the user, falling back
// to the caller-supplied one.
func (s *Supervisor) resolveAPIKey(ctx context.Context, userID int64, supplied string) (string, error) {
	key, err := s.opts.Store.LatestActiveAPIKey(ctx, userID)
	if err != nil {
		return "", err
	}
	if key != nil && key.AccessToken != "" {
		return key.AccessToken, nil
	}
	if supplied != "" {
		return supplied, nil
	}
	return "", apierr.InvalidPayload("no API key available for this user")
}

// GetStatus returns the current view for agentID.
func (s *Supervisor) GetStatus(ctx context.Context, agentID string) (*StatusView, error) {
	rec, err := s.opts.Store.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.SessionNotFound("no session record for agent " + agentID)
	}
	return viewOf(rec, s.liveState(agentID)), nil
}

// Reconnect tears the live session down, clears the on-disk auth store,
// and brings a fresh client up against the preserved DB row.
func (s *Supervisor) Reconnect(ctx context.Context, agentID string) (*StatusView, error) {
	rec, err := s.opts.Store.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.SessionNotFound("no session record for agent " + agentID)
	}

	s.teardown(ctx, agentID, true, true)

	if _, err := s.ensureClient(ctx, rec); err != nil {
		L_error("session: ensure client failed on reconnect", "agentId", agentID, "error", err)
		return nil, apierr.BadGateway("failed to restart chat client")
	}
	return viewOf(rec, s.liveState(agentID)), nil
}

// Delete tears down, removes the auth store, and deletes the DB row.
// Idempotent: a second call still performs best-effort teardown.
func (s *Supervisor) Delete(ctx context.Context, agentID string) (*DeleteResult, error) {
	rec, err := s.opts.Store.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	s.teardown(ctx, agentID, true, true)

	if rec == nil {
		return &DeleteResult{Deleted: false, AlreadyRemoved: true}, nil
	}

	deleted, err := s.opts.Store.DeleteAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Deleted: deleted, AlreadyRemoved: !deleted}, nil
}

// GenerateQR ensures a client exists and waits up to QRWaitTimeout for a
// QR payload, returning a cached one immediately when present.
func (s *Supervisor) GenerateQR(ctx context.Context, agentID string) (*QRResult, error) {
	rec, err := s.opts.Store.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.SessionNotFound("no session record for agent " + agentID)
	}

	if _, err := s.ensureClient(ctx, rec); err != nil {
		L_error("session: ensure client failed on generate QR", "agentId", agentID, "error", err)
		return nil, apierr.BadGateway("failed to start chat client")
	}

	qr, at, err := s.waitForQR(ctx, agentID, QRWaitTimeout)
	if err != nil {
		return nil, err
	}
	return &QRResult{AgentID: agentID, QR: qr, QRUpdatedAt: at}, nil
}

// SendText normalises the destination and submits the send through the
// agent's queue. Requires a ready session.
func (s *Supervisor) SendText(ctx context.Context, agentID, to, message, quotedID string) (*SendResult, error) {
	client, err := s.readyClient(ctx, agentID)
	if err != nil {
		return nil, err
	}

	dest, err := jid.Normalize(to)
	if err != nil {
		return nil, apierr.InvalidPayload(err.Error())
	}

	_, err = s.opts.Scheduler.Enqueue(ctx, agentID, func(ctx context.Context) (interface{}, error) {
		return nil, client.SendMessage(ctx, dest, message, quotedID)
	})
	if err != nil {
		return nil, err
	}

	s.opts.Metrics.MessagesSent.WithLabelValues(agentID).Inc()
	return &SendResult{Delivered: true}, nil
}

// SendMedia prepares the payload (decode or download, size cap, preview
// copy) and submits the send through the agent's queue.
func (s *Supervisor) SendMedia(ctx context.Context, agentID, to string, in media.Input, caption string) (*SendResult, error) {
	client, err := s.readyClient(ctx, agentID)
	if err != nil {
		return nil, err
	}

	dest, err := jid.Normalize(to)
	if err != nil {
		return nil, apierr.InvalidPayload(err.Error())
	}

	prepared, err := media.Prepare(ctx, in, s.opts.TempDir)
	if err != nil {
		return nil, err
	}

	payload := chatclient.PreparedMedia{
		MimeType: prepared.MimeType,
		Data:     prepared.Data,
		Filename: prepared.Filename,
	}

	_, err = s.opts.Scheduler.Enqueue(ctx, agentID, func(ctx context.Context) (interface{}, error) {
		return nil, client.SendMedia(ctx, dest, payload, caption)
	})
	if err != nil {
		return nil, err
	}

	s.opts.Metrics.MessagesSent.WithLabelValues(agentID).Inc()
	return &SendResult{Delivered: true, PreviewPath: prepared.PreviewPath}, nil
}

// readyClient returns the agent's client when the session is live and
// ready, classifying the failure otherwise.
func (s *Supervisor) readyClient(ctx context.Context, agentID string) (chatclient.Client, error) {
	s.mu.Lock()
	sess := s.sessions[agentID]
	if sess != nil && sess.isReady {
		client := sess.client
		s.mu.Unlock()
		return client, nil
	}
	s.mu.Unlock()

	rec, err := s.opts.Store.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apierr.SessionNotFound("no session record for agent " + agentID)
	}
	return nil, apierr.SessionNotReady("session is not connected")
}

// Bootstrap rehydrates a live session for every persisted agent whose
// status allows it. Individual failures are logged and skipped.
func (s *Supervisor) Bootstrap(ctx context.Context) {
	recs, err := s.opts.Store.ListBootstrappable(ctx)
	if err != nil {
		L_error("session: bootstrap listing failed", "error", err)
		return
	}
	for _, rec := range recs {
		if _, err := s.ensureClient(ctx, rec); err != nil {
			L_warn("session: bootstrap skipped agent", "agentId", rec.AgentID, "error", err)
		}
	}
	L_info("session: bootstrap complete", "agents", len(recs))
}

// Shutdown cancels every pending reconnect timer and stops the event
// pumps. Live sessions are left standing: the auth stores and DB rows
// survive the process, per the graceful-shutdown contract.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for agentID, t := range s.timers {
		t.Stop()
		delete(s.timers, agentID)
	}
	s.mu.Unlock()
	s.cancel()
}

// liveState snapshots the in-memory half of a status view.
func (s *Supervisor) liveState(agentID string) LiveState {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[agentID]
	if sess == nil {
		return LiveState{}
	}
	ls := LiveState{IsReady: sess.isReady, HasQR: sess.qr != nil}
	if sess.qr != nil {
		at := sess.qrUpdatedAt
		ls.QRUpdatedAt = &at
	}
	return ls
}

package session

import (
	"context"
	"strings"
	"time"

	"github.com/relaywave/wagateway/internal/chatclient"
	. "github.com/relaywave/wagateway/internal/logging"
	"github.com/relaywave/wagateway/internal/qrcode"
	"github.com/relaywave/wagateway/internal/store"
)

// Reconnect backoff bounds.
const (
	restartStep     = 5 * time.Second
	restartCap      = 30 * time.Second
	restartRetryCap = 60 * time.Second
)

// ensureClient returns agentID's live session, constructing the client and
// starting its event pump on first need. Idempotent: an existing session
// wins, including against a concurrent caller.
func (s *Supervisor) ensureClient(ctx context.Context, rec *store.AgentRecord) (*liveSession, error) {
	s.mu.Lock()
	if sess := s.sessions[rec.AgentID]; sess != nil {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	client, err := s.opts.NewClient(s.opts.AuthRoot, rec.AgentID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if existing := s.sessions[rec.AgentID]; existing != nil {
		s.mu.Unlock()
		go s.destroyClient(rec.AgentID, client)
		return existing, nil
	}
	sess := &liveSession{
		agentID:     rec.AgentID,
		rec:         rec,
		recLoadedAt: time.Now(),
		client:      client,
		status:      rec.Status,
	}
	s.sessions[rec.AgentID] = sess
	s.mu.Unlock()

	go s.pumpEvents(sess, client)

	// Initialize against the supervisor's lifetime, not the HTTP request:
	// pairing continues after the creating call returns.
	if err := client.Initialize(s.ctx); err != nil {
		s.teardown(ctx, rec.AgentID, true, false)
		return nil, err
	}

	L_info("session: client ensured", "agentId", rec.AgentID)
	return sess, nil
}

// pumpEvents drains one client's event stream into the state machine.
// Events are delivered sequentially, so the handlers are non-reentrant per
// agent.
func (s *Supervisor) pumpEvents(sess *liveSession, client chatclient.Client) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-client.Events():
			if !ok {
				return
			}
			switch e := evt.(type) {
			case chatclient.EventQR:
				s.onQR(sess, e.Code)
			case chatclient.EventReady:
				s.onReady(sess)
			case chatclient.EventAuthFailure:
				s.onAuthFailure(sess, e.Reason)
			case chatclient.EventDisconnected:
				s.onDisconnected(sess, e.Reason)
			case chatclient.EventMessage:
				s.onMessage(sess, client, e)
			}
		}
	}
}

func (s *Supervisor) onQR(sess *liveSession, code string) {
	encoded, err := qrcode.Encode(code)
	if err != nil {
		L_error("session: QR encode failed", "agentId", sess.agentID, "error", err)
		return
	}
	payload := &QRPayload{ContentType: "image/png", Base64: encoded}

	s.mu.Lock()
	if sess.shuttingDown {
		s.mu.Unlock()
		return
	}
	sess.qr = payload
	sess.qrUpdatedAt = time.Now()
	sess.status = store.StatusAwaitingQR
	s.resolveQRWaiterLocked(sess.agentID, payload, sess.qrUpdatedAt)
	s.mu.Unlock()

	L_debug("session: QR received", "agentId", sess.agentID)
	s.persistStatus(sess.agentID, store.StatusAwaitingQR, store.StatusExtras{})
}

func (s *Supervisor) onReady(sess *liveSession) {
	s.mu.Lock()
	if sess.shuttingDown {
		s.mu.Unlock()
		return
	}
	sess.isReady = true
	sess.status = store.StatusConnected
	if !sess.metricsCounted {
		s.opts.Metrics.SessionsActive.Inc()
		sess.metricsCounted = true
	}
	s.mu.Unlock()

	L_info("session: ready", "agentId", sess.agentID)
	s.persistStatus(sess.agentID, store.StatusConnected, store.StatusExtras{SetLastConnectedAt: true})
}

func (s *Supervisor) onAuthFailure(sess *liveSession, reason string) {
	s.mu.Lock()
	if sess.shuttingDown {
		s.mu.Unlock()
		return
	}
	sess.isReady = false
	sess.status = store.StatusAuthFailed
	s.mu.Unlock()

	L_warn("session: auth failure", "agentId", sess.agentID, "reason", reason)
	s.persistStatus(sess.agentID, store.StatusAuthFailed, store.StatusExtras{SetLastDisconnectedAt: true})
	s.scheduleRestart(sess.agentID, reason, true, 1)
}

func (s *Supervisor) onDisconnected(sess *liveSession, reason string) {
	s.mu.Lock()
	if sess.shuttingDown {
		s.mu.Unlock()
		return
	}
	sess.isReady = false
	sess.status = store.StatusDisconnected
	if sess.metricsCounted {
		s.opts.Metrics.SessionsActive.Dec()
		sess.metricsCounted = false
	}
	s.mu.Unlock()

	L_warn("session: disconnected", "agentId", sess.agentID, "reason", reason)
	s.persistStatus(sess.agentID, store.StatusDisconnected, store.StatusExtras{SetLastDisconnectedAt: true})

	s.scheduleRestart(sess.agentID, reason, mentionsLogout(reason), 1)
}

func (s *Supervisor) onMessage(sess *liveSession, client chatclient.Client, msg chatclient.EventMessage) {
	s.mu.Lock()
	in := s.inbound
	rec := sess.rec
	stale := time.Since(sess.recLoadedAt) > recordStaleAfter
	s.mu.Unlock()

	if stale {
		fresh, err := s.opts.Store.GetAgentByID(s.ctx, sess.agentID)
		if err != nil {
			L_warn("session: record refresh failed", "agentId", sess.agentID, "error", err)
		} else if fresh != nil {
			s.mu.Lock()
			sess.rec = fresh
			sess.recLoadedAt = time.Now()
			s.mu.Unlock()
			rec = fresh
		}
	}

	if in == nil {
		L_warn("session: no inbound handler installed, dropping message", "agentId", sess.agentID)
		return
	}
	in.HandleMessage(s.ctx, rec, client, msg)
}

// mentionsLogout decides whether a disconnect reason means the remote end
// logged the device out, in which case the auth store must be cleared
// before the next pairing attempt.
func mentionsLogout(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "logout") || strings.Contains(r, "logged out")
}

// scheduleRestart arms a reconnect timer with delay min(attempt x 5s, 30s).
// At most one timer per agent is ever outstanding.
func (s *Supervisor) scheduleRestart(agentID, reason string, clearAuth bool, attempt int) {
	delay := time.Duration(attempt) * restartStep
	if delay > restartCap {
		delay = restartCap
	}
	s.scheduleRestartAfter(agentID, reason, clearAuth, attempt, delay)
}

func (s *Supervisor) scheduleRestartAfter(agentID, reason string, clearAuth bool, attempt int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	if _, exists := s.timers[agentID]; exists {
		return
	}
	if sess := s.sessions[agentID]; sess != nil && sess.shuttingDown {
		return
	}

	L_info("session: restart scheduled", "agentId", agentID, "reason", reason, "attempt", attempt, "delay", delay.String(), "clearAuth", clearAuth)
	s.timers[agentID] = time.AfterFunc(delay, func() {
		s.restart(agentID, reason, clearAuth, attempt, delay)
	})
}

// restart fires when a reconnect timer elapses: reload the record, tear
// the old session down, and bring a new client up. Failures reschedule
// with doubled delay, capped at 60s.
func (s *Supervisor) restart(agentID, reason string, clearAuth bool, attempt int, delay time.Duration) {
	s.mu.Lock()
	delete(s.timers, agentID)
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	rec, err := s.opts.Store.GetAgentByID(s.ctx, agentID)
	if err != nil {
		L_error("session: restart record load failed", "agentId", agentID, "error", err)
		s.rescheduleRestart(agentID, reason, clearAuth, attempt, delay)
		return
	}
	if rec == nil {
		L_info("session: restart aborted, agent removed", "agentId", agentID)
		return
	}

	s.teardown(s.ctx, agentID, true, clearAuth)

	if _, err := s.ensureClient(s.ctx, rec); err != nil {
		L_error("session: restart ensure client failed", "agentId", agentID, "error", err)
		s.rescheduleRestart(agentID, reason, clearAuth, attempt, delay)
	}
}

func (s *Supervisor) rescheduleRestart(agentID, reason string, clearAuth bool, attempt int, prevDelay time.Duration) {
	next := prevDelay * 2
	if next > restartRetryCap {
		next = restartRetryCap
	}
	s.scheduleRestartAfter(agentID, reason, clearAuth, attempt+1, next)
}

// teardown dismantles agentID's live session per the teardown contract:
// cancel the timer, suppress event-driven transitions, best-effort destroy,
// settle the gauge, reject any QR waiter, then touch the DB row and auth
// store as requested. Never returns an error; everything is logged.
func (s *Supervisor) teardown(ctx context.Context, agentID string, preserveDB, clearAuth bool) {
	s.mu.Lock()
	if t := s.timers[agentID]; t != nil {
		t.Stop()
		delete(s.timers, agentID)
	}

	var client chatclient.Client
	if sess := s.sessions[agentID]; sess != nil {
		sess.shuttingDown = true
		sess.isReady = false
		client = sess.client
		if sess.metricsCounted {
			s.opts.Metrics.SessionsActive.Dec()
			sess.metricsCounted = false
		}
		delete(s.sessions, agentID)
	}
	s.rejectQRWaiterLocked(agentID)
	s.mu.Unlock()

	if client != nil {
		s.destroyClient(agentID, client)
	}

	if !preserveDB {
		s.persistStatus(agentID, store.StatusDisconnected, store.StatusExtras{SetLastDisconnectedAt: true})
	}

	if clearAuth {
		if err := s.opts.RemoveAuth(s.opts.AuthRoot, agentID); err != nil {
			L_warn("session: auth store removal failed", "agentId", agentID, "error", err)
		}
	}
}

func (s *Supervisor) destroyClient(agentID string, client chatclient.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
	defer cancel()
	if err := client.Destroy(ctx); err != nil {
		L_warn("session: client destroy failed", "agentId", agentID, "error", err)
	}
}

// persistStatus writes an event-driven status transition. Failures are
// logged and never propagated.
func (s *Supervisor) persistStatus(agentID, status string, extras store.StatusExtras) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.opts.Store.SetStatus(ctx, agentID, status, extras); err != nil {
		L_error("session: status persist failed", "agentId", agentID, "status", status, "error", err)
	}
}

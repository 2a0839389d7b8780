package session

import (
	"context"
	"time"

	"github.com/relaywave/wagateway/internal/apierr"
)

// qrWaiter is the single-waiter rendezvous for one agent's next QR.
// Resolution is exactly-once: either qr or err is set, then done closes.
// Concurrent callers join the same waiter rather than installing another.
type qrWaiter struct {
	done chan struct{}
	qr   *QRPayload
	at   time.Time
	err  error
}

func newQRWaiter() *qrWaiter {
	return &qrWaiter{done: make(chan struct{})}
}

// waitForQR returns the cached QR synchronously when one exists, otherwise
// blocks on the agent's rendezvous until a QR arrives, the timeout lapses,
// or the caller gives up.
func (s *Supervisor) waitForQR(ctx context.Context, agentID string, timeout time.Duration) (*QRPayload, *time.Time, error) {
	s.mu.Lock()
	if sess := s.sessions[agentID]; sess != nil && sess.qr != nil {
		qr := sess.qr
		at := sess.qrUpdatedAt
		s.mu.Unlock()
		return qr, &at, nil
	}
	w := s.waiters[agentID]
	if w == nil {
		w = newQRWaiter()
		s.waiters[agentID] = w
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		if w.err != nil {
			return nil, nil, w.err
		}
		at := w.at
		return w.qr, &at, nil
	case <-timer.C:
		s.removeWaiter(agentID, w)
		return nil, nil, apierr.SessionNotReady("timed out waiting for QR code")
	case <-ctx.Done():
		s.removeWaiter(agentID, w)
		return nil, nil, ctx.Err()
	}
}

// removeWaiter uninstalls w unless the map has already moved on.
func (s *Supervisor) removeWaiter(agentID string, w *qrWaiter) {
	s.mu.Lock()
	if s.waiters[agentID] == w {
		delete(s.waiters, agentID)
	}
	s.mu.Unlock()
}

// resolveQRWaiterLocked delivers payload to the pending waiter, if any.
// Caller holds s.mu.
func (s *Supervisor) resolveQRWaiterLocked(agentID string, payload *QRPayload, at time.Time) {
	w := s.waiters[agentID]
	if w == nil {
		return
	}
	delete(s.waiters, agentID)
	w.qr = payload
	w.at = at
	close(w.done)
}

// rejectQRWaiterLocked fails the pending waiter, if any. Caller holds s.mu.
func (s *Supervisor) rejectQRWaiterLocked(agentID string) {
	w := s.waiters[agentID]
	if w == nil {
		return
	}
	delete(s.waiters, agentID)
	w.err = apierr.SessionNotReady("session torn down while waiting for QR")
	close(w.done)
}

// Package scheduler serialises outbound chat-network work per agent behind
// a token bucket. Every send, user-originated or AI-originated, passes
// through here; strict FIFO holds within an agent, nothing is promised
// across agents.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/relaywave/wagateway/internal/apierr"
	. "github.com/relaywave/wagateway/internal/logging"
)

// Defaults for every agent's bucket.
const (
	TokensPerMinute = 100
	Burst           = 100
	QueueLimit      = 500
)

// Task is one unit of outbound work. It runs on the agent's worker
// goroutine with the scheduler's lifetime context. An alias, so callers
// can hand Enqueue a plain function literal through their own interfaces.
type Task = func(ctx context.Context) (interface{}, error)

// Params tunes a Scheduler. Zero values fall back to the defaults above.
type Params struct {
	TokensPerMinute int
	Burst           int
	QueueLimit      int
}

type jobResult struct {
	value interface{}
	err   error
}

type job struct {
	task   Task
	result chan jobResult
}

type agentQueue struct {
	jobs    chan *job
	limiter *rate.Limiter
}

// Scheduler owns one bounded FIFO queue and one token bucket per agent.
type Scheduler struct {
	params Params

	mu     sync.Mutex
	agents map[string]*agentQueue

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler with the default parameters.
func New() *Scheduler {
	return NewWithParams(Params{})
}

// NewWithParams builds a Scheduler with explicit parameters, used by tests
// that need a small bucket.
func NewWithParams(p Params) *Scheduler {
	if p.TokensPerMinute <= 0 {
		p.TokensPerMinute = TokensPerMinute
	}
	if p.Burst <= 0 {
		p.Burst = Burst
	}
	if p.QueueLimit <= 0 {
		p.QueueLimit = QueueLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		params: p,
		agents: make(map[string]*agentQueue),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue submits task to agentID's queue and blocks until it has run.
// A saturated queue fails immediately with RATE_LIMITED. If the caller's
// ctx is cancelled while waiting, Enqueue returns early but the task still
// runs in its queue position.
func (s *Scheduler) Enqueue(ctx context.Context, agentID string, task Task) (interface{}, error) {
	q := s.queueFor(agentID)

	j := &job{task: task, result: make(chan jobResult, 1)}
	select {
	case q.jobs <- j:
	default:
		L_warn("scheduler: queue saturated", "agentId", agentID)
		return nil, apierr.RateLimited("too many pending operations for this agent")
	}

	select {
	case res := <-j.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// queueFor returns agentID's queue, creating it (and its worker) on first
// sight.
func (s *Scheduler) queueFor(agentID string) *agentQueue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.agents[agentID]; ok {
		return q
	}

	q := &agentQueue{
		jobs: make(chan *job, s.params.QueueLimit),
		limiter: rate.NewLimiter(
			rate.Limit(float64(s.params.TokensPerMinute)/60.0),
			s.params.Burst,
		),
	}
	s.agents[agentID] = q

	s.wg.Add(1)
	go s.work(agentID, q)
	return q
}

// work is the per-agent consumer: one token per job, FIFO, one at a time.
func (s *Scheduler) work(agentID string, q *agentQueue) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case j := <-q.jobs:
			if err := q.limiter.Wait(s.ctx); err != nil {
				j.result <- jobResult{err: err}
				return
			}
			value, err := j.task(s.ctx)
			j.result <- jobResult{value: value, err: err}
		}
	}
}

// Close stops every worker. Queued jobs that have not started are dropped;
// their waiters unblock with the scheduler's cancellation error.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaywave/wagateway/internal/apierr"
)

func TestEnqueueFIFOWithinAgent(t *testing.T) {
	s := New()
	defer s.Close()

	const n = 50
	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	results := make(chan error, n)

	// Enqueue sequentially so the submission order is deterministic; the
	// waits happen concurrently.
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		done := make(chan struct{})
		go func() {
			defer wg.Done()
			close(done)
			_, err := s.Enqueue(context.Background(), "a1", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
			results <- err
		}()
		<-done
		// Give the goroutine time to reach the channel send before the
		// next submission, preserving enqueue order.
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, got := range order {
		if got != i {
			t.Fatalf("order[%d] = %d, tasks ran out of FIFO order: %v", i, got, order)
		}
	}
}

func TestEnqueueQueueSaturation(t *testing.T) {
	s := NewWithParams(Params{QueueLimit: 500})
	defer s.Close()

	block := make(chan struct{})
	stuck := func(ctx context.Context) (interface{}, error) {
		<-block
		return nil, nil
	}

	// First job is pulled by the worker and blocks; wait for that pull so
	// the channel backlog count is exact.
	go s.Enqueue(context.Background(), "a1", stuck)
	time.Sleep(20 * time.Millisecond)

	// Fill the queue to its limit.
	for i := 0; i < 500; i++ {
		go s.Enqueue(context.Background(), "a1", stuck)
	}
	time.Sleep(50 * time.Millisecond)

	_, err := s.Enqueue(context.Background(), "a1", stuck)
	if err == nil {
		t.Fatal("expected saturation rejection")
	}
	if apierr.As(err).Code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}

	// A different agent is unaffected.
	done := make(chan error, 1)
	go func() {
		_, err := s.Enqueue(context.Background(), "a2", func(ctx context.Context) (interface{}, error) {
			return "ok", nil
		})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("independent agent should not be rate limited: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("independent agent's job never ran")
	}

	close(block)
}

func TestEnqueueTokenBudget(t *testing.T) {
	// Tiny bucket: 3 tokens of burst, refilling at one token a minute.
	s := NewWithParams(Params{TokensPerMinute: 1, Burst: 3, QueueLimit: 10})
	defer s.Close()

	ran := make(chan int, 4)
	for i := 0; i < 4; i++ {
		i := i
		go s.Enqueue(context.Background(), "a1", func(ctx context.Context) (interface{}, error) {
			ran <- i
			return nil, nil
		})
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.After(500 * time.Millisecond)
	count := 0
loop:
	for {
		select {
		case <-ran:
			count++
		case <-deadline:
			break loop
		}
	}
	if count != 3 {
		t.Fatalf("expected exactly burst (3) jobs within the window, got %d", count)
	}
}

func TestEnqueueReturnsTaskResult(t *testing.T) {
	s := New()
	defer s.Close()

	v, err := s.Enqueue(context.Background(), "a1", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.(int) != 42 {
		t.Fatalf("expected task value 42, got %v", v)
	}

	_, err = s.Enqueue(context.Background(), "a1", func(ctx context.Context) (interface{}, error) {
		return nil, apierr.BadGateway("boom")
	})
	if apierr.As(err).Code != "BAD_GATEWAY" {
		t.Fatalf("expected task error to propagate, got %v", err)
	}
}

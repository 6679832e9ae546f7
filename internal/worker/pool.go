// Package worker runs token counting off the request path.
//
// Jobs are submitted under a key (one per root and kind). Submitting replaces
// a job still waiting under the same key, and a running job can ask whether a
// newer submission has superseded it and stop early.
package worker

import (
	"context"
	"sync"

	"github.com/agentic-research/sift/internal/metrics"
)

// Job is one unit of background work. superseded reports whether a newer job
// was submitted under the same key after this one.
type Job func(ctx context.Context, superseded func() bool)

// Pool is a fixed set of goroutines draining a keyed, coalescing queue.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	pending map[string]Job
	gens    map[string]uint64
	active  int
	closed  bool

	wg sync.WaitGroup
}

// NewPool starts size workers.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]Job),
		gens:    make(map[string]uint64),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Submit queues job under key without blocking. A job still waiting under
// key is dropped in favor of this one. Submit after Close is a no-op.
func (p *Pool) Submit(key string, job Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.gens[key]++
	if _, waiting := p.pending[key]; !waiting {
		p.queue = append(p.queue, key)
	}
	p.pending[key] = job
	metrics.SetQueueDepth(len(p.queue))
	p.cond.Broadcast()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		key := p.queue[0]
		p.queue = p.queue[1:]
		job := p.pending[key]
		delete(p.pending, key)
		gen := p.gens[key]
		p.active++
		metrics.SetQueueDepth(len(p.queue))
		p.mu.Unlock()

		job(p.ctx, func() bool { return p.generation(key) != gen })

		p.mu.Lock()
		p.active--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pool) generation(key string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gens[key]
}

// Wait blocks until no job is queued or running.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for (len(p.queue) > 0 || p.active > 0) && !p.closed {
		p.cond.Wait()
	}
}

// Close cancels running jobs, drops queued ones and waits for the workers to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.queue = nil
	clear(p.pending)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

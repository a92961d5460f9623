package engine

import (
	"context"
	"sync"

	"github.com/courtsidelabs/linedrop/internal/domain"
)

// workerBuffer bounds each per-market queue. A full queue blocks the
// dispatcher briefly rather than dropping a lifecycle-relevant update.
const workerBuffer = 64

// workerPool serializes update handling per market key: every update for
// the same key runs on the same goroutine, so no two entry/exit
// evaluations for one market ever race. Updates for different keys run
// concurrently.
type workerPool struct {
	handle func(ctx context.Context, key string, up domain.Update)

	mu      sync.Mutex
	queues  map[string]chan domain.Update
	wg      sync.WaitGroup
	stopped bool
}

func newWorkerPool(handle func(ctx context.Context, key string, up domain.Update)) *workerPool {
	return &workerPool{
		handle: handle,
		queues: make(map[string]chan domain.Update),
	}
}

// dispatch routes one update to the owner goroutine for key, starting it
// on first use.
func (p *workerPool) dispatch(ctx context.Context, key string, up domain.Update) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	q, ok := p.queues[key]
	if !ok {
		q = make(chan domain.Update, workerBuffer)
		p.queues[key] = q
		p.wg.Add(1)
		go p.run(ctx, key, q)
	}
	p.mu.Unlock()

	select {
	case q <- up:
	case <-ctx.Done():
	}
}

func (p *workerPool) run(ctx context.Context, key string, q <-chan domain.Update) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-q:
			if !ok {
				return
			}
			p.handle(ctx, key, up)
		}
	}
}

// stop closes every queue and waits for in-flight handlers to finish.
func (p *workerPool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

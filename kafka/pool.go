package kafka

import (
	"sync"

	"github.com/eapache/queue"
)

// producerPool is an unbounded FIFO of recycled transactional handles.
// Neither poll nor offer ever blocks.
type producerPool struct {
	mu    sync.Mutex
	items *queue.Queue
}

func newProducerPool() *producerPool {
	return &producerPool{items: queue.New()}
}

// poll removes the oldest handle, or returns false when the pool is empty
func (p *producerPool) poll() (*closeSafeProducer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.items.Length() == 0 {
		return nil, false
	}
	return p.items.Remove().(*closeSafeProducer), true
}

// offer appends a handle to the pool
func (p *producerPool) offer(producer *closeSafeProducer) {
	p.mu.Lock()
	p.items.Add(producer)
	p.mu.Unlock()
}

// Len returns the number of idle handles
func (p *producerPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items.Length()
}

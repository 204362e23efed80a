package engine

import (
	"sync"

	"github.com/downfa11-org/packrat/pkg/types"
)

// workerPool runs batches on a fixed set of goroutines fed by a bounded
// queue. submit returns immediately while the queue has room and blocks
// once it is full.
type workerPool struct {
	tasks  chan []types.Message
	wg     sync.WaitGroup
	handle func([]types.Message)
}

func newWorkerPool(size, queue int, handle func([]types.Message)) *workerPool {
	p := &workerPool{
		tasks:  make(chan []types.Message, queue),
		handle: handle,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for batch := range p.tasks {
				p.handle(batch)
			}
		}()
	}
	return p
}

func (p *workerPool) submit(batch []types.Message) {
	p.tasks <- batch
}

// pending is the number of queued batches not yet picked up by a worker.
func (p *workerPool) pending() int {
	return len(p.tasks)
}

// drain stops accepting work and waits for every queued and running batch.
// No submit may race with drain.
func (p *workerPool) drain() {
	close(p.tasks)
	p.wg.Wait()
}

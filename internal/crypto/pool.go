package crypto

import "sync"

// WorkerPool is a fixed-size task pool shared by all files of a batch.
// Tasks are submitted over a channel; chunk tasks from different files
// interleave freely, and a sequential (CBC) file occupies exactly one slot
// for its full duration without blocking other files' chunks.
type WorkerPool struct {
	tasks   chan func()
	wg      sync.WaitGroup
	workers int

	closeOnce sync.Once
}

// NewWorkerPool starts a pool with the given number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}

	p := &WorkerPool{
		tasks:   make(chan func()),
		workers: workers,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues a task. It blocks while all workers are busy and the queue
// is full, which is what bounds in-flight chunk memory.
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// Workers returns the pool size.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *WorkerPool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}

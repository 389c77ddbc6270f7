package engine

import "sync"

// workerPool is a small fixed-size goroutine pool draining a buffered
// job channel, per SPEC_FULL.md §5's ambient addition: no third-party
// worker-pool library appears anywhere in the pack, so this is the
// justified stdlib implementation, in the teacher's own
// ticker-driven-goroutine idiom (main.go's `go runPollingScheduler(ctx)`)
// generalized from one fixed goroutine to a sized pool of them.
type workerPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	if size <= 0 {
		size = 1
	}
	p := &workerPool{jobs: make(chan func(), size*4)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	return p
}

func (p *workerPool) loop() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// submit enqueues job, blocking if every worker and the buffer are
// busy. Callers that need a result pass a closure that sends it over a
// channel they own.
func (p *workerPool) submit(job func()) {
	p.jobs <- job
}

func (p *workerPool) stop() {
	close(p.jobs)
	p.wg.Wait()
}

package dispatch

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Task is one unit of detached work handed off after the webhook response
// has been sent. Nothing waits on its completion and there is no
// cancellation; a task runs until it returns or panics into the log.
type Task struct {
	ID   string
	Name string
	Run  func()
}

// Pool is a bounded worker pool for post-acknowledgment processing.
type Pool struct {
	workers int
	tasks   chan Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewPool creates a pool with the given worker count and queue bound.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Pool{
		workers: workers,
		tasks:   make(chan Task, queueSize),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})

	log.Infof("[Dispatch] Starting %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop signals the workers and waits for in-flight tasks to finish. Queued
// but unstarted tasks are dropped with a log line; the webhook contract has
// already acknowledged them, so recovery relies on provider redelivery or
// the failover cache.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	if dropped := len(p.tasks); dropped > 0 {
		log.Warnf("[Dispatch] Stopped with %d queued tasks dropped", dropped)
	}
	log.Info("[Dispatch] All workers stopped")
}

// Submit enqueues a task without blocking. It returns false when the pool is
// stopped or the queue is full; the caller has already acknowledged the
// delivery, so a refused task is logged and abandoned, not retried.
func (p *Pool) Submit(name string, run func()) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		log.Warnf("[Dispatch] Task %s refused: pool not running", name)
		return false
	}

	task := Task{ID: uuid.New().String(), Name: name, Run: run}
	select {
	case p.tasks <- task:
		return true
	default:
		log.Errorf("[Dispatch] Task %s refused: queue full", name)
		return false
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case task := <-p.tasks:
			p.execute(id, task)
		}
	}
}

func (p *Pool) execute(workerID int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Dispatch] Worker %d: task %s (%s) panicked: %v", workerID, task.Name, task.ID, r)
		}
	}()

	log.Debugf("[Dispatch] Worker %d: running task %s (%s)", workerID, task.Name, task.ID)
	task.Run()
}

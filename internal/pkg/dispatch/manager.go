package dispatch

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// periodicJob is a named closure run on a fixed interval.
type periodicJob struct {
	name     string
	interval time.Duration
	run      func()
}

// Manager owns the worker pool and the periodic background jobs (retention
// sweeps and similar housekeeping). Jobs are registered before Start.
type Manager struct {
	pool    *Pool
	jobs    []periodicJob
	tickers []*time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a manager around the given pool.
func NewManager(pool *Pool) *Manager {
	return &Manager{
		pool:   pool,
		stopCh: make(chan struct{}),
	}
}

// Pool returns the managed worker pool.
func (m *Manager) Pool() *Pool {
	return m.pool
}

// AddPeriodic registers a background job to run every interval once the
// manager starts. Must be called before Start.
func (m *Manager) AddPeriodic(name string, interval time.Duration, run func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, periodicJob{name: name, interval: interval, run: run})
}

// Start starts the pool and the periodic jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.pool.Start()

	for _, job := range m.jobs {
		ticker := time.NewTicker(job.interval)
		m.tickers = append(m.tickers, ticker)
		m.wg.Add(1)
		go m.runPeriodic(job, ticker)
	}
	log.Infof("[Dispatch Manager] Started with %d periodic jobs", len(m.jobs))
}

// Stop halts the periodic jobs and then the pool.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	for _, t := range m.tickers {
		t.Stop()
	}
	m.tickers = nil
	m.mu.Unlock()

	m.wg.Wait()
	m.pool.Stop()
	log.Info("[Dispatch Manager] Stopped")
}

func (m *Manager) runPeriodic(job periodicJob, ticker *time.Ticker) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("[Dispatch Manager] Periodic job %s panicked: %v", job.name, r)
					}
				}()
				job.run()
			}()
		}
	}
}

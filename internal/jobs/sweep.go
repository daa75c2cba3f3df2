package jobs

import (
	"log"
	"sync"
	"time"
)

// Sweeper drops state that expired before now and reports how much it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweepJob evicts expired rate-limit windows on a fixed interval so the
// in-memory window table does not grow for the life of the process.
type SweepJob struct {
	target   Sweeper
	logger   *log.Logger
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweepJob creates a sweep job. A zero interval defaults to five minutes.
func NewSweepJob(target Sweeper, logger *log.Logger, interval time.Duration) *SweepJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SweepJob{
		target:   target,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background job.
func (j *SweepJob) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("SweepJob: started (interval=%v)", j.interval)
}

// Stop gracefully stops the background job. Safe to call more than once.
func (j *SweepJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
	j.logger.Println("SweepJob: stopped")
}

func (j *SweepJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweepOnce()
		case <-j.stopCh:
			return
		}
	}
}

func (j *SweepJob) sweepOnce() int {
	n := j.target.Sweep(j.now())
	if n > 0 {
		j.logger.Printf("SweepJob: evicted %d expired windows", n)
	}
	return n
}

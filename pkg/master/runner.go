package master

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const DefaultCyclePeriod = 1 * time.Millisecond

// Runner calls [Master.CyclicFunction] at a fixed period inside of a go routine
type Runner struct {
	master *Master
	period time.Duration
	logger *log.Entry
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cycles uint64
	errors uint64
	mu     sync.Mutex
}

func NewRunner(master *Master, period time.Duration) *Runner {
	if period <= 0 {
		period = DefaultCyclePeriod
	}
	return &Runner{master: master, period: period, logger: master.logger.WithField("service", "[RUNNER]")}
}

func (r *Runner) run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	r.logger.Infof("starting cyclic task, period %v", r.period)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("exited cyclic task")
			ticker.Stop()
			return
		case <-ticker.C:
			err := r.master.CyclicFunction()
			r.mu.Lock()
			r.cycles++
			if err != nil {
				r.errors++
			}
			r.mu.Unlock()
			if err != nil {
				r.logger.Debugf("cycle failed : %v", err)
			}
		}
	}
}

// Start the cyclic task, call Stop() or cancel the context to stop it
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop the cyclic task and wait for it to exit
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Wait for the cyclic task to exit
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stats returns the number of cycles run and how many of them failed
func (r *Runner) Stats() (cycles uint64, failed uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles, r.errors
}

package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaultworks/reconcore/repository"
)

// Pool runs a fixed number of claim→execute worker goroutines, grounded
// on the teacher's worker.start/stop/register pattern (work/worker.go)
// generalized from "agents mining blocks" to "workers claiming
// reconciliation jobs", and on chaindata_fetcher.go's
// numHandlers-goroutines-reading-one-channel shape for the handler count
// knob.
type Pool struct {
	jobs   *repository.ReconciliationRepo
	engine *Engine

	size         int
	pollInterval time.Duration
	staleEvery   time.Duration
	staleAfter   time.Duration

	running int32 // atomic
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewPool constructs a Pool. size is the number of concurrent claim
// workers; pollInterval is how long an idle worker sleeps between claim
// attempts when no job is available.
func NewPool(jobs *repository.ReconciliationRepo, engine *Engine, size int, pollInterval time.Duration, staleEvery, staleAfter time.Duration) *Pool {
	return &Pool{
		jobs: jobs, engine: engine, size: size,
		pollInterval: pollInterval, staleEvery: staleEvery, staleAfter: staleAfter,
	}
}

// Start spins up size claim workers plus one stale-job sweeper, following
// worker.start's "spin up agents" call under the same guard.
func (p *Pool) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return
	}
	p.stopCh = make(chan struct{})

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.claimLoop(ctx, i)
	}

	p.wg.Add(1)
	go p.sweepLoop(ctx)

	logger.Info("reconciliation pool started", "workers", p.size)
}

// Stop flips the running flag, closes stopCh to signal every worker to
// exit, then waits for them with wg.Wait().
func (p *Pool) Stop() {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return
	}
	close(p.stopCh)
	p.wg.Wait()
	logger.Info("reconciliation pool stopped")
}

func (p *Pool) claimLoop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, kind, err := p.jobs.ClaimNextJob(ctx)
		if err != nil {
			logger.Error("claim job failed", "worker", workerID, "err", err)
			p.sleep(p.pollInterval)
			continue
		}
		if job == nil {
			p.sleep(p.pollInterval)
			continue
		}

		p.engine.RunOnce(ctx, job, kind)
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.staleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.jobs.ResetStaleRunningJobs(ctx, p.staleAfter)
			if err != nil {
				logger.Error("reset stale running jobs failed", "err", err)
				continue
			}
			if n > 0 {
				logger.Warn("reset stale running jobs", "count", n)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

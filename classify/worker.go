// Package classify implements the periodic token classification worker
// (C5): refresh expired cache entries, pull the next batch needing
// classification, and drive each through the injected Classifier.
package classify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaultworks/reconcore/contracts"
	"github.com/vaultworks/reconcore/internal/clock"
	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/log"
	"github.com/vaultworks/reconcore/internal/metrics"
	"github.com/vaultworks/reconcore/repository"
)

var logger = log.NewModuleLogger("classify")

// Worker runs the periodic classification tick described in spec.md
// §4.5. It is safe to run more than one instance per deployment — the
// only shared mutation is per-row, via TokenRepo's own row-level updates.
type Worker struct {
	tokens     *repository.TokenRepo
	classifier contracts.Classifier
	clock      clock.Clock
	cfg        config.ClassificationConfig

	running int32 // atomic
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func New(tokens *repository.TokenRepo, classifier contracts.Classifier, clk clock.Clock, cfg config.ClassificationConfig) *Worker {
	return &Worker{tokens: tokens, classifier: classifier, clock: clk, cfg: cfg}
}

// Start launches cfg.PoolSize periodic tick loops (at least one).
func (w *Worker) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&w.running, 0, 1) {
		return
	}
	w.stopCh = make(chan struct{})
	workers := w.cfg.PoolSize
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	logger.Info("classification worker started", "workers", workers, "pollIntervalMs", w.cfg.PollIntervalMillis)
}

// Stop signals the loop to exit and waits for it.
func (w *Worker) Stop() {
	if !atomic.CompareAndSwapInt32(&w.running, 1, 0) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
	logger.Info("classification worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(time.Duration(w.cfg.PollIntervalMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if _, err := w.tokens.RefreshExpiredClassifications(ctx); err != nil {
		logger.Error("refresh expired classifications failed", "err", err)
		return
	}

	candidates, err := w.tokens.FindNeedingClassification(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts)
	if err != nil {
		logger.Error("find needing classification failed", "err", err)
		return
	}
	metrics.ClassificationBacklog.Set(float64(len(candidates)))

	for _, token := range candidates {
		metrics.ClassificationAttemptsTotal.Inc()

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.CallTimeoutMillis)*time.Millisecond)
		spamClassification, err := w.classifier.Classify(callCtx, token.ChainAlias, token.Address)
		cancel()

		now := w.clock.Now()
		if err != nil {
			metrics.ClassificationFailuresTotal.Inc()
			attempts := token.ClassificationAttempts + 1
			if uerr := w.tokens.RecordClassificationFailure(ctx, token.ID, attempts, w.cfg.MaxAttempts, err.Error(), now); uerr != nil {
				logger.Error("record classification failure failed", "tokenId", token.ID, "err", uerr)
			}
			continue
		}

		if uerr := w.tokens.RecordClassificationSuccess(ctx, token.ID, spamClassification, now); uerr != nil {
			logger.Error("record classification success failed", "tokenId", token.ID, "err", uerr)
		}
	}
}

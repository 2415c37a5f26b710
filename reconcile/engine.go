// Package reconcile implements the reconciliation engine (C3): the claim
// loop, per-job sync/async provider dispatch, transaction diffing against
// the local index, and the audit trail the diff produces.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"

	"github.com/vaultworks/reconcore/contracts"
	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/clock"
	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/internal/eventbus"
	"github.com/vaultworks/reconcore/internal/log"
	"github.com/vaultworks/reconcore/internal/metrics"
	"github.com/vaultworks/reconcore/repository"
)

var logger = log.NewModuleLogger("reconcile")

// Engine runs one claimed job to its next stopping point: a page
// processed, the job completed, or the job parked (pending/backoff/async
// wait).
//
// Finding a transaction the remote side no longer reports for a
// previously-reconciled block range (e.g. a chain reorg) is not detected:
// each page is diffed only against the local rows for the transactions it
// contains, and no component in this module diffs the full local window
// against everything the provider re-reports (see DESIGN.md).
type Engine struct {
	jobs      *repository.ReconciliationRepo
	txs       *repository.TransactionRepo
	addresses *repository.AddressRepo

	syncProviders  map[string]contracts.SyncReconciliationProvider
	asyncProviders map[string]contracts.AsyncReconciliationProvider

	clock clock.Clock
	cfg   config.ReconciliationConfig
	bus   eventbus.Publisher
}

// New constructs an Engine. providerTimeout/backoff tuning comes from
// cfg; per-provider overrides are read from cfg.Providers at job-creation
// time (see CreateJob), not here.
func New(
	jobs *repository.ReconciliationRepo,
	txs *repository.TransactionRepo,
	addresses *repository.AddressRepo,
	syncProviders map[string]contracts.SyncReconciliationProvider,
	asyncProviders map[string]contracts.AsyncReconciliationProvider,
	clk clock.Clock,
	cfg config.ReconciliationConfig,
	bus eventbus.Publisher,
) *Engine {
	return &Engine{
		jobs: jobs, txs: txs, addresses: addresses,
		syncProviders: syncProviders, asyncProviders: asyncProviders,
		clock: clk, cfg: cfg, bus: bus,
	}
}

// CreateJob validates the provider is known and snapshots its configured
// timeout onto the job, then delegates to the repository's
// active-job-exists check, per spec.md §4.3.
func (e *Engine) CreateJob(ctx context.Context, j domain.ReconciliationJob) (domain.ReconciliationJob, error) {
	if _, sync := e.syncProviders[j.Provider]; !sync {
		if _, async := e.asyncProviders[j.Provider]; !async {
			return domain.ReconciliationJob{}, errs.Wrap(errs.ErrValidation, fmt.Sprintf("unknown provider %q", j.Provider))
		}
	}
	if pc, ok := e.cfg.Providers[j.Provider]; ok {
		j.ProviderTimeoutSeconds = pc.TimeoutSeconds
	}
	j.BackoffSeconds = e.cfg.BaseBackoffSeconds
	id, err := uuid.GenerateUUID()
	if err != nil {
		return domain.ReconciliationJob{}, errs.Wrap(err, "generate job id")
	}
	j.ID = id
	return e.jobs.CreateJob(ctx, j)
}

// RunOnce advances a freshly-claimed job by exactly one step: one page for
// a sync provider, one submit-or-poll for an async provider.
func (e *Engine) RunOnce(ctx context.Context, job *domain.ReconciliationJob, claimKind string) {
	metrics.JobsClaimedTotal.WithLabelValues(claimKind).Inc()

	if _, isAsync := e.asyncProviders[job.Provider]; isAsync {
		e.runAsync(ctx, job)
		return
	}
	e.runSync(ctx, job)
}

func (e *Engine) runSync(ctx context.Context, job *domain.ReconciliationJob) {
	provider, ok := e.syncProviders[job.Provider]
	if !ok {
		e.failJob(ctx, job, fmt.Sprintf("no sync provider registered for %q", job.Provider))
		return
	}

	cursor := job.LastProcessedCursor
	if cursor == "" && job.FromBlock != nil {
		cursor = fmt.Sprintf("%d", *job.FromBlock)
	}

	page, err := provider.FetchPage(ctx, job.Address, job.ChainAlias, cursor)
	if err != nil {
		e.handlePageError(ctx, job, err)
		return
	}
	e.applyPage(ctx, job, page)
}

func (e *Engine) runAsync(ctx context.Context, job *domain.ReconciliationJob) {
	provider, ok := e.asyncProviders[job.Provider]
	if !ok {
		e.failJob(ctx, job, fmt.Sprintf("no async provider registered for %q", job.Provider))
		return
	}

	if job.NovesJobID == "" {
		remoteID, err := provider.Submit(ctx, job.Address, job.ChainAlias, job.FromBlock, job.ToBlock)
		if err != nil {
			e.handlePageError(ctx, job, err)
			return
		}
		now := e.clock.Now()
		_ = e.jobs.ApplyJobUpdate(ctx, job.ID, repository.JobUpdate{
			NovesJobID: &remoteID, NovesJobStartedAt: &now,
		})
		logger.Info("submitted async reconciliation job", "jobId", job.ID, "remoteJobId", remoteID)
		return
	}

	if job.NovesJobStartedAt != nil && job.ProviderTimeoutSeconds > 0 {
		deadline := job.NovesJobStartedAt.Add(time.Duration(job.ProviderTimeoutSeconds) * time.Second)
		if e.clock.Now().After(deadline) {
			_ = provider.Abort(ctx, job.NovesJobID)
			e.failJob(ctx, job, "async provider job timed out")
			return
		}
	}

	result, err := provider.Poll(ctx, job.NovesJobID, job.NovesNextPageURL)
	if err != nil {
		e.handlePageError(ctx, job, err)
		return
	}
	if result.Status == contracts.AsyncJobInProgress {
		_ = e.jobs.ApplyJobUpdate(ctx, job.ID, repository.JobUpdate{NovesNextPageURL: &result.NextPageURL})
		return
	}
	if result.Page != nil {
		e.applyPage(ctx, job, *result.Page)
	}
}

func (e *Engine) applyPage(ctx context.Context, job *domain.ReconciliationJob, page contracts.ProviderPage) {
	var added, discrepancies int64

	for _, tx := range page.Txs {
		action, err := e.reconcileOne(ctx, job, tx)
		if err != nil {
			logger.Error("reconcile transaction failed", "jobId", job.ID, "txHash", tx.TxHash, "err", err)
			continue
		}
		switch action {
		case domain.AuditActionAdded:
			added++
		case domain.AuditActionDiscrepancy:
			discrepancies++
		}
	}

	update := repository.JobUpdate{
		LastProcessedCursor:    &page.NextCursor,
		ProcessedDelta:         int64(len(page.Txs)),
		TransactionsAddedDelta: added,
		DiscrepanciesFlaggedDelta: discrepancies,
	}
	if page.FinalBlock != nil {
		update.FinalBlock = page.FinalBlock
	}

	if page.End {
		completed := domain.JobStatusCompleted
		now := e.clock.Now()
		update.Status = &completed
		update.CompletedAt = &now
		if page.FinalBlock != nil {
			if addr, err := e.addresses.FindByAddressAndChainAlias(ctx, job.Address, job.ChainAlias); err == nil {
				_ = e.addresses.UpdateLastReconciledBlock(ctx, addr.ID, *page.FinalBlock)
			}
		}
		metrics.JobsCompletedTotal.WithLabelValues(string(domain.JobStatusCompleted)).Inc()
	} else if !job.IsAsync() {
		// Release the sync job so the next claim fetches its next page.
		pending := domain.JobStatusPending
		update.Status = &pending
	}

	if err := e.jobs.ApplyJobUpdate(ctx, job.ID, update); err != nil {
		logger.Error("apply job update failed", "jobId", job.ID, "err", err)
		return
	}
	metrics.TransactionsAddedTotal.Add(float64(added))

	e.bus.Publish(eventbus.Event{
		Topic: "reconciliation.progress", Key: job.ID,
		Body: map[string]interface{}{
			"jobId": job.ID, "added": added, "discrepancies": discrepancies, "end": page.End,
		},
	})
}

// reconcileOne diffs one observed chain transaction against the local
// index, inserting, reattaching, or flagging drift as spec.md §4.3
// describes, and returns which audit action (if any) it recorded.
func (e *Engine) reconcileOne(ctx context.Context, job *domain.ReconciliationJob, observed contracts.ChainTx) (domain.AuditAction, error) {
	existing, err := e.txs.FindByChainAliasAndTxHash(ctx, job.ChainAlias, observed.TxHash)

	if errs.Is(err, errs.ErrNotFound) {
		return e.insertObserved(ctx, job, observed)
	}
	if err != nil {
		return "", err
	}

	if existing.SoftDeletedAt != nil {
		if err := e.txs.Reattach(ctx, existing.ID); err != nil {
			return "", err
		}
		return "", nil
	}

	fields := driftedFields(existing, observed)
	if len(fields) == 0 {
		return "", nil
	}

	if err := e.txs.UpdateObservedFields(ctx, existing.ID, domain.Transaction{
		BlockNumber: observed.BlockNumber, BlockHash: observed.BlockHash,
		Value: observed.Value, Fee: observed.Fee, Status: domain.TxStatus(observed.Status),
	}); err != nil {
		return "", err
	}

	if err := e.jobs.AppendAudit(ctx, domain.ReconciliationAuditEntry{
		ID: mustID(), JobID: job.ID, TransactionHash: observed.TxHash,
		Action: domain.AuditActionDiscrepancy, DiscrepancyFields: fields,
	}); err != nil {
		return "", err
	}
	return domain.AuditActionDiscrepancy, nil
}

func (e *Engine) insertObserved(ctx context.Context, job *domain.ReconciliationJob, observed contracts.ChainTx) (domain.AuditAction, error) {
	txID := mustID()
	tx := domain.Transaction{
		ID: txID, ChainAlias: job.ChainAlias, TxHash: observed.TxHash, BlockNumber: observed.BlockNumber,
		BlockHash: observed.BlockHash, FromAddress: observed.From, ToAddress: observed.To,
		Value: observed.Value, Fee: observed.Fee, Status: domain.TxStatus(observed.Status),
		Timestamp: observed.Timestamp,
	}

	direction := domain.DirectionNeutral
	switch job.Address {
	case observed.From:
		direction = domain.DirectionOut
	case observed.To:
		direction = domain.DirectionIn
	}
	link := domain.AddressTransaction{
		Address: job.Address, ChainAlias: job.ChainAlias, TxID: txID,
		Timestamp: observed.Timestamp, Direction: direction,
	}

	if err := e.txs.Insert(ctx, tx, []domain.AddressTransaction{link}); err != nil {
		return "", err
	}
	if err := e.jobs.AppendAudit(ctx, domain.ReconciliationAuditEntry{
		ID: mustID(), JobID: job.ID, TransactionHash: observed.TxHash, Action: domain.AuditActionAdded,
	}); err != nil {
		return "", err
	}
	return domain.AuditActionAdded, nil
}

func driftedFields(existing domain.Transaction, observed contracts.ChainTx) []string {
	var fields []string
	if existing.BlockNumber != observed.BlockNumber {
		fields = append(fields, "blockNumber")
	}
	if existing.BlockHash != observed.BlockHash {
		fields = append(fields, "blockHash")
	}
	if existing.Value != observed.Value {
		fields = append(fields, "value")
	}
	if existing.Fee != observed.Fee {
		fields = append(fields, "fee")
	}
	if string(existing.Status) != observed.Status {
		fields = append(fields, "status")
	}
	return fields
}

// handlePageError applies the backoff/fail policy of spec.md §4.3: bump
// errorsCount, append an audit error entry, and either schedule an
// exponential backoff retry or transition to failed once the provider's
// max-errors budget is exhausted.
func (e *Engine) handlePageError(ctx context.Context, job *domain.ReconciliationJob, cause error) {
	errorsCount := job.ErrorsCount + 1

	if err := e.jobs.AppendAudit(ctx, domain.ReconciliationAuditEntry{
		ID: mustID(), JobID: job.ID, Action: domain.AuditActionError, ErrorMessage: cause.Error(),
	}); err != nil {
		logger.Error("append error audit failed", "jobId", job.ID, "err", err)
	}

	maxErrors := e.cfg.MaxErrorsBeforeFailed
	if int(errorsCount) >= maxErrors {
		e.failJob(ctx, job, cause.Error())
		return
	}

	backoff := e.cfg.BaseBackoffSeconds << uint(errorsCount)
	if backoff > e.cfg.MaxBackoffSeconds || backoff <= 0 {
		backoff = e.cfg.MaxBackoffSeconds
	}

	pending := domain.JobStatusPending
	if err := e.jobs.ApplyJobUpdate(ctx, job.ID, repository.JobUpdate{
		Status: &pending, ErrorsDelta: 1, BackoffSeconds: &backoff,
	}); err != nil {
		logger.Error("apply backoff update failed", "jobId", job.ID, "err", err)
	}
}

func (e *Engine) failJob(ctx context.Context, job *domain.ReconciliationJob, reason string) {
	failed := domain.JobStatusFailed
	now := e.clock.Now()
	if err := e.jobs.ApplyJobUpdate(ctx, job.ID, repository.JobUpdate{
		Status: &failed, ErrorsDelta: 1, CompletedAt: &now,
	}); err != nil {
		logger.Error("apply fail update failed", "jobId", job.ID, "err", err)
	}
	_ = e.jobs.AppendAudit(ctx, domain.ReconciliationAuditEntry{
		ID: mustID(), JobID: job.ID, Action: domain.AuditActionError, ErrorMessage: reason,
	})
	metrics.JobsCompletedTotal.WithLabelValues(string(domain.JobStatusFailed)).Inc()
	logger.Warn("reconciliation job failed", "jobId", job.ID, "reason", reason)
}

func mustID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// uuid.GenerateUUID only fails if the system's CSPRNG is broken, a
		// condition no caller here can recover from meaningfully.
		logger.Crit("generate uuid failed", "err", err)
	}
	return id
}

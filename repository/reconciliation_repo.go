package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type reconciliationJobRow struct {
	ID         string `gorm:"primary_key"`
	Address    string
	ChainAlias string `gorm:"column:chain_alias"`
	Status     string
	Provider   string
	Mode       string

	FromBlock  *uint64 `gorm:"column:from_block"`
	ToBlock    *uint64 `gorm:"column:to_block"`
	FinalBlock *uint64 `gorm:"column:final_block"`

	FromTimestamp *time.Time `gorm:"column:from_timestamp"`
	ToTimestamp   *time.Time `gorm:"column:to_timestamp"`

	LastProcessedCursor string `gorm:"column:last_processed_cursor"`

	ProcessedCount          int64 `gorm:"column:processed_count"`
	TransactionsAdded       int64 `gorm:"column:transactions_added"`
	TransactionsSoftDeleted int64 `gorm:"column:transactions_soft_deleted"`
	DiscrepanciesFlagged    int64 `gorm:"column:discrepancies_flagged"`
	ErrorsCount             int64 `gorm:"column:errors_count"`

	NovesJobID        string     `gorm:"column:noves_job_id"`
	NovesNextPageURL  string     `gorm:"column:noves_next_page_url"`
	NovesJobStartedAt *time.Time `gorm:"column:noves_job_started_at"`

	BackoffSeconds         int `gorm:"column:backoff_seconds"`
	ProviderTimeoutSeconds int `gorm:"column:provider_timeout_seconds"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (reconciliationJobRow) TableName() string { return "reconciliation_jobs" }

func (r reconciliationJobRow) toDomain() domain.ReconciliationJob {
	return domain.ReconciliationJob{
		ID: r.ID, Address: r.Address, ChainAlias: r.ChainAlias, Status: domain.JobStatus(r.Status),
		Provider: r.Provider, Mode: domain.JobMode(r.Mode),
		FromBlock: r.FromBlock, ToBlock: r.ToBlock, FinalBlock: r.FinalBlock,
		FromTimestamp: r.FromTimestamp, ToTimestamp: r.ToTimestamp,
		LastProcessedCursor: r.LastProcessedCursor,
		ProcessedCount:          r.ProcessedCount,
		TransactionsAdded:       r.TransactionsAdded,
		TransactionsSoftDeleted: r.TransactionsSoftDeleted,
		DiscrepanciesFlagged:    r.DiscrepanciesFlagged,
		ErrorsCount:             r.ErrorsCount,
		NovesJobID:              r.NovesJobID,
		NovesNextPageURL:        r.NovesNextPageURL,
		NovesJobStartedAt:       r.NovesJobStartedAt,
		BackoffSeconds:          r.BackoffSeconds,
		ProviderTimeoutSeconds:  r.ProviderTimeoutSeconds,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
		StartedAt:               r.StartedAt,
		CompletedAt:             r.CompletedAt,
	}
}

type auditEntryRow struct {
	ID                string `gorm:"primary_key"`
	JobID             string `gorm:"column:job_id"`
	TransactionHash   string `gorm:"column:transaction_hash"`
	Action            string
	BeforeSnapshot    string `gorm:"column:before_snapshot"`
	AfterSnapshot     string `gorm:"column:after_snapshot"`
	DiscrepancyFields string `gorm:"column:discrepancy_fields"` // comma-joined; opaque to the core
	ErrorMessage      string `gorm:"column:error_message"`
	CreatedAt         time.Time
}

func (auditEntryRow) TableName() string { return "reconciliation_audit_entries" }

// ReconciliationRepo implements the ReconciliationJob/audit CRUD and the
// claim algorithm of spec.md §4.2/§4.3.
type ReconciliationRepo struct {
	store *store.Store
}

func NewReconciliationRepo(s *store.Store) *ReconciliationRepo {
	return &ReconciliationRepo{store: s}
}

// activeJobExists checks the one-non-terminal-job-per-(address,chain)
// invariant. Must be called within the same transaction as the insert it
// guards.
func (repo *ReconciliationRepo) activeJobExists(ctx context.Context, address, chainAlias string) (bool, error) {
	var count int
	err := repo.store.Conn(ctx).Table("reconciliation_jobs").
		Where("LOWER(address) = LOWER(?) AND chain_alias = ? AND status NOT IN (?, ?)",
			address, chainAlias, domain.JobStatusCompleted, domain.JobStatusFailed).
		Count(&count).Error
	return count > 0, err
}

// CreateJob inserts a new pending job, failing with errs.ErrActiveJobExists
// if a non-terminal job already exists for (address, chain), per
// spec.md §4.3.
func (repo *ReconciliationRepo) CreateJob(ctx context.Context, j domain.ReconciliationJob) (domain.ReconciliationJob, error) {
	var created domain.ReconciliationJob
	err := repo.store.Tx(ctx, sql.LevelSerializable, func(txCtx context.Context) error {
		exists, err := repo.activeJobExists(txCtx, j.Address, j.ChainAlias)
		if err != nil {
			return errs.Wrap(err, "check active job")
		}
		if exists {
			return errs.ErrActiveJobExists
		}

		row := reconciliationJobRow{
			ID: j.ID, Address: j.Address, ChainAlias: j.ChainAlias, Status: string(domain.JobStatusPending),
			Provider: j.Provider, Mode: string(j.Mode), FromBlock: j.FromBlock, ToBlock: j.ToBlock,
			FromTimestamp: j.FromTimestamp, ToTimestamp: j.ToTimestamp,
			ProviderTimeoutSeconds: j.ProviderTimeoutSeconds,
		}
		if err := repo.store.Conn(txCtx).Create(&row).Error; err != nil {
			return errs.Wrap(err, "create job")
		}
		created = row.toDomain()
		return nil
	})
	return created, err
}

// GetJob fetches one job by id.
func (repo *ReconciliationRepo) GetJob(ctx context.Context, id string) (domain.ReconciliationJob, error) {
	var row reconciliationJobRow
	err := repo.store.Conn(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.ReconciliationJob{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.ReconciliationJob{}, errs.Wrap(err, "get job")
	}
	return row.toDomain(), nil
}

// ListJobs offset-paginates a job's history for one address/chain.
func (repo *ReconciliationRepo) ListJobs(ctx context.Context, address, chainAlias string, offset, limit int) ([]domain.ReconciliationJob, int, error) {
	q := repo.store.Conn(ctx).Model(&reconciliationJobRow{}).
		Where("LOWER(address) = LOWER(?) AND chain_alias = ?", address, chainAlias)

	var total int
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, errs.Wrap(err, "count jobs")
	}

	var rows []reconciliationJobRow
	if err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, 0, errs.Wrap(err, "list jobs")
	}

	out := make([]domain.ReconciliationJob, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, total, nil
}

// ClaimNextJob implements the three-step claim algorithm of spec.md §4.3:
// oldest pending first, then the oldest-updated running async job for
// fair polling, else nil. The whole check-then-act sequence runs under
// SERIALIZABLE with FOR UPDATE SKIP LOCKED so concurrent workers never
// claim the same row.
func (repo *ReconciliationRepo) ClaimNextJob(ctx context.Context) (*domain.ReconciliationJob, string, error) {
	var claimed *domain.ReconciliationJob
	var kind string

	err := repo.store.Tx(ctx, sql.LevelSerializable, func(txCtx context.Context) error {
		conn := repo.store.Conn(txCtx)

		var pendingRows []reconciliationJobRow
		if err := conn.Raw(
			`SELECT * FROM reconciliation_jobs
			  WHERE status = ? AND TIMESTAMPADD(SECOND, backoff_seconds, updated_at) <= ?
			  ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`,
			string(domain.JobStatusPending), time.Now().UTC(),
		).Scan(&pendingRows).Error; err != nil {
			return errs.Wrap(err, "claim pending job")
		}
		if len(pendingRows) == 1 {
			row := pendingRows[0]
			now := time.Now().UTC()
			if err := conn.Model(&reconciliationJobRow{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
				"status": string(domain.JobStatusRunning), "started_at": now, "updated_at": now,
			}).Error; err != nil {
				return errs.Wrap(err, "mark job running")
			}
			row.Status = string(domain.JobStatusRunning)
			row.StartedAt = &now
			row.UpdatedAt = now
			d := row.toDomain()
			claimed = &d
			kind = "pending"
			return nil
		}

		var asyncRows []reconciliationJobRow
		if err := conn.Raw(
			`SELECT * FROM reconciliation_jobs WHERE status = ? AND noves_job_id <> '' ORDER BY updated_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED`,
			string(domain.JobStatusRunning),
		).Scan(&asyncRows).Error; err != nil {
			return errs.Wrap(err, "claim async job")
		}
		if len(asyncRows) == 1 {
			row := asyncRows[0]
			now := time.Now().UTC()
			if err := conn.Model(&reconciliationJobRow{}).Where("id = ?", row.ID).
				Update("updated_at", now).Error; err != nil {
				return errs.Wrap(err, "bump async job")
			}
			row.UpdatedAt = now
			d := row.toDomain()
			claimed = &d
			kind = "async_poll"
			return nil
		}

		return nil // nothing claimable
	})
	return claimed, kind, err
}

// ResetStaleRunningJobs sweeps sync jobs stuck in "running" past
// threshold back to "pending", per spec.md §4.3. Async jobs are excluded:
// they expire via provider polling (providerTimeoutSeconds), not this
// sweep.
func (repo *ReconciliationRepo) ResetStaleRunningJobs(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	res := repo.store.Conn(ctx).Exec(
		`UPDATE reconciliation_jobs
		   SET status = ?, updated_at = UTC_TIMESTAMP(3)
		 WHERE status = ? AND (noves_job_id IS NULL OR noves_job_id = '') AND started_at < ?`,
		string(domain.JobStatusPending), string(domain.JobStatusRunning), cutoff,
	)
	if res.Error != nil {
		return 0, errs.Wrap(res.Error, "reset stale running jobs")
	}
	return res.RowsAffected, nil
}

// DeleteJob removes a job, only permitted while it is pending, per
// spec.md §4.3.
func (repo *ReconciliationRepo) DeleteJob(ctx context.Context, id string) error {
	return repo.store.Tx(ctx, 0, func(txCtx context.Context) error {
		job, err := repo.GetJob(txCtx, id)
		if err != nil {
			return err
		}
		if job.Status != domain.JobStatusPending {
			return errs.ErrJobNotDeletable
		}
		return repo.store.Conn(txCtx).Where("id = ?", id).Delete(&reconciliationJobRow{}).Error
	})
}

// JobUpdate is the set of mutable fields a reconciliation run advances in
// one step; all counters are applied as deltas to preserve monotonicity
// even under retried updates.
type JobUpdate struct {
	Status                  *domain.JobStatus
	LastProcessedCursor     *string
	FinalBlock              *uint64
	ProcessedDelta          int64
	TransactionsAddedDelta  int64
	TransactionsSoftDeletedDelta int64
	DiscrepanciesFlaggedDelta    int64
	ErrorsDelta                  int64
	NovesJobID          *string
	NovesNextPageURL    *string
	NovesJobStartedAt   *time.Time
	BackoffSeconds      *int
	CompletedAt         *time.Time
}

// ApplyJobUpdate persists one forward-progress step of a reconciliation
// run. Must be called within the same transaction as any audit entries it
// produces (AppendAudit), per spec.md §4.3's invariant that counters and
// the audit trail never diverge.
func (repo *ReconciliationRepo) ApplyJobUpdate(ctx context.Context, id string, u JobUpdate) error {
	updates := map[string]interface{}{
		"updated_at":               time.Now().UTC(),
		"processed_count":          gorm.Expr("processed_count + ?", u.ProcessedDelta),
		"transactions_added":       gorm.Expr("transactions_added + ?", u.TransactionsAddedDelta),
		"transactions_soft_deleted": gorm.Expr("transactions_soft_deleted + ?", u.TransactionsSoftDeletedDelta),
		"discrepancies_flagged":    gorm.Expr("discrepancies_flagged + ?", u.DiscrepanciesFlaggedDelta),
		"errors_count":             gorm.Expr("errors_count + ?", u.ErrorsDelta),
	}
	if u.Status != nil {
		updates["status"] = string(*u.Status)
	}
	if u.LastProcessedCursor != nil {
		updates["last_processed_cursor"] = *u.LastProcessedCursor
	}
	if u.FinalBlock != nil {
		updates["final_block"] = *u.FinalBlock
	}
	if u.NovesJobID != nil {
		updates["noves_job_id"] = *u.NovesJobID
	}
	if u.NovesNextPageURL != nil {
		updates["noves_next_page_url"] = *u.NovesNextPageURL
	}
	if u.NovesJobStartedAt != nil {
		updates["noves_job_started_at"] = *u.NovesJobStartedAt
	}
	if u.BackoffSeconds != nil {
		updates["backoff_seconds"] = *u.BackoffSeconds
	}
	if u.CompletedAt != nil {
		updates["completed_at"] = *u.CompletedAt
	}
	return repo.store.Conn(ctx).Model(&reconciliationJobRow{}).Where("id = ?", id).Updates(updates).Error
}

// AppendAudit inserts one append-only audit row. Entries are never
// updated or deleted once written.
func (repo *ReconciliationRepo) AppendAudit(ctx context.Context, e domain.ReconciliationAuditEntry) error {
	row := auditEntryRow{
		ID: e.ID, JobID: e.JobID, TransactionHash: e.TransactionHash, Action: string(e.Action),
		BeforeSnapshot: e.BeforeSnapshot, AfterSnapshot: e.AfterSnapshot, ErrorMessage: e.ErrorMessage,
	}
	if len(e.DiscrepancyFields) > 0 {
		joined := e.DiscrepancyFields[0]
		for _, f := range e.DiscrepancyFields[1:] {
			joined += "," + f
		}
		row.DiscrepancyFields = joined
	}
	return repo.store.Conn(ctx).Create(&row).Error
}

// AuditTail returns a job's most recent audit entries, newest first.
func (repo *ReconciliationRepo) AuditTail(ctx context.Context, jobID string, limit int) ([]domain.ReconciliationAuditEntry, error) {
	var rows []auditEntryRow
	if err := repo.store.Conn(ctx).Where("job_id = ?", jobID).
		Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "audit tail")
	}
	out := make([]domain.ReconciliationAuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ReconciliationAuditEntry{
			ID: row.ID, JobID: row.JobID, TransactionHash: row.TransactionHash,
			Action: domain.AuditAction(row.Action), BeforeSnapshot: row.BeforeSnapshot,
			AfterSnapshot: row.AfterSnapshot, ErrorMessage: row.ErrorMessage, CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}

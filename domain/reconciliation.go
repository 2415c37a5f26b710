package domain

import "time"

// JobStatus is the closed set of ReconciliationJob.Status values.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobMode is the closed set of ReconciliationJob.Mode values.
type JobMode string

const (
	JobModeFull    JobMode = "full"
	JobModePartial JobMode = "partial"
)

// ReconciliationJob drives one address/chain's history reconciliation.
//
// Invariant: at most one non-terminal job per (LOWER(Address), ChainAlias).
type ReconciliationJob struct {
	ID         string
	Address    string
	ChainAlias string
	Status     JobStatus
	Provider   string
	Mode       JobMode

	FromBlock *uint64
	ToBlock   *uint64
	FinalBlock *uint64

	FromTimestamp *time.Time
	ToTimestamp   *time.Time

	LastProcessedCursor string

	ProcessedCount          int64
	TransactionsAdded       int64
	TransactionsSoftDeleted int64
	DiscrepanciesFlagged    int64
	ErrorsCount             int64

	// Async (e.g. Noves) provider bookkeeping.
	NovesJobID          string
	NovesNextPageURL    string
	NovesJobStartedAt   *time.Time

	// BackoffSeconds and ProviderTimeoutSeconds resolve the two open
	// questions in spec.md §9; see SPEC_FULL.md §4.3.
	BackoffSeconds         int
	ProviderTimeoutSeconds int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// IsAsync reports whether this job is driven by polling an external
// remote job rather than direct page fetches.
func (j *ReconciliationJob) IsAsync() bool {
	return j.NovesJobID != ""
}

// AuditAction is the closed set of ReconciliationAuditEntry.Action values.
type AuditAction string

const (
	AuditActionAdded        AuditAction = "added"
	AuditActionSoftDeleted  AuditAction = "soft_deleted"
	AuditActionDiscrepancy  AuditAction = "discrepancy"
	AuditActionError        AuditAction = "error"
)

// ReconciliationAuditEntry is one append-only row in a job's audit trail.
// No entry is ever deleted or mutated once written.
type ReconciliationAuditEntry struct {
	ID                string
	JobID             string
	TransactionHash   string
	Action            AuditAction
	BeforeSnapshot    string // JSON, opaque to the core
	AfterSnapshot     string // JSON, opaque to the core
	DiscrepancyFields []string
	ErrorMessage      string
	CreatedAt         time.Time
}

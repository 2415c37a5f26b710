package domain

import "time"

// WorkflowState is the closed set of Workflow.State values, forming the
// state machine described in spec.md §4.4.
type WorkflowState string

const (
	StateCreated      WorkflowState = "created"
	StatePendingReview WorkflowState = "pending_review"
	StateApproved     WorkflowState = "approved"
	StateSigning      WorkflowState = "signing"
	StateBroadcasting WorkflowState = "broadcasting"
	StateConfirmed    WorkflowState = "confirmed"
	StateFailed       WorkflowState = "failed"
	StateCancelled    WorkflowState = "cancelled"
)

// Terminal reports whether the state accepts no further events.
func (s WorkflowState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// WorkflowContext is the structured, immutable-per-version context a
// Workflow carries. Transitions produce a new WorkflowContext value; the
// old one is never mutated in place (spec.md §9's re-architecture note on
// "mixed mutation through shared objects").
type WorkflowContext struct {
	Approvers          []string
	ApprovedBy         []string
	Signature          string
	TxHash             string
	BlockNumber        *uint64
	BroadcastAttempts  int
	MaxBroadcastAttempts int
	Error              string
	FailedAt           *time.Time
}

// Workflow is the persistent state machine representing one transaction's
// lifecycle, per spec.md §3/§4.4.
type Workflow struct {
	ID             string
	State          WorkflowState
	Context        WorkflowContext
	Version        int64
	VaultID        string
	ChainAlias     string
	MarshalledHex  string
	OrgID          string
	CreatedBy      string
	TxHash         string
	Signature      string
	BlockNumber    *uint64
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// WorkflowEvent is one append-only row in a workflow's event log.
type WorkflowEvent struct {
	ID               string
	WorkflowID       string
	FromState        WorkflowState
	ToState          WorkflowState
	EventType        string
	EventPayload     string // JSON, opaque to the core
	ContextSnapshot  string // JSON snapshot of WorkflowContext after the transition
	TriggeredBy      string
	CreatedAt        time.Time
}

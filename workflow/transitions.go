package workflow

import "github.com/vaultworks/reconcore/domain"

// EventType is the closed set of events the workflow engine accepts.
type EventType string

const (
	EventSubmit            EventType = "submit"
	EventApprove           EventType = "approve"
	EventSign              EventType = "sign"
	EventBroadcast         EventType = "broadcast"
	EventBroadcastSuccess  EventType = "broadcast_success"
	EventBroadcastRetry    EventType = "broadcast_retry_failure"
	EventBroadcastNonRetry EventType = "broadcast_nonretry_failure"
	EventCancel            EventType = "cancel"
)

// Payload is the event-specific data a Transition's mutator reads; not
// every field applies to every event.
type Payload struct {
	SkipReview  bool
	ApproverID  string
	Signature   string
	TxHash      string
	BlockNumber *uint64
	Error       string
}

// transition is one (state, event) -> (nextState, mutate) entry.
type transition struct {
	next   domain.WorkflowState
	mutate func(domain.WorkflowContext, Payload) domain.WorkflowContext
}

// key is the exhaustive map key: (currentState, eventType).
type key struct {
	state domain.WorkflowState
	event EventType
}

// table is the closed transition map spec.md §9's re-architecture note
// calls for in place of an ad-hoc discriminated union: every legal
// (state, event) pair other than EventCancel and the skip-review
// (created, submit) hop, which lookup resolves before consulting the
// table, is listed explicitly, and a pair lookup cannot resolve is exactly
// what ErrIllegalTransition means.
var table = map[key]transition{
	{domain.StateCreated, EventSubmit}: {
		next: domain.StatePendingReview,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			return c
		},
	},

	{domain.StatePendingReview, EventApprove}: {
		next: domain.StateApproved,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			c.ApprovedBy = append(append([]string{}, c.ApprovedBy...), p.ApproverID)
			return c
		},
	},

	{domain.StateApproved, EventSign}: {
		next: domain.StateSigning,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			c.Signature = p.Signature
			return c
		},
	},

	{domain.StateSigning, EventBroadcast}: {
		next: domain.StateBroadcasting,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			return c
		},
	},

	{domain.StateBroadcasting, EventBroadcastSuccess}: {
		next: domain.StateConfirmed,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			c.TxHash = p.TxHash
			c.BlockNumber = p.BlockNumber
			c.Error = ""
			return c
		},
	},

	{domain.StateBroadcasting, EventBroadcastRetry}: {
		next: domain.StateApproved,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			c.BroadcastAttempts++
			c.Error = p.Error
			return c
		},
	},

	{domain.StateBroadcasting, EventBroadcastNonRetry}: {
		next: domain.StateFailed,
		mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext {
			c.Error = p.Error
			return c
		},
	},
}

// cancellable lists the states EventCancel is legal from: any non-terminal
// state, per spec.md §4.4.
var cancellable = map[domain.WorkflowState]bool{
	domain.StateCreated:       true,
	domain.StatePendingReview: true,
	domain.StateApproved:      true,
	domain.StateSigning:       true,
	domain.StateBroadcasting:  true,
}

// lookup resolves the transition for one (state, event) pair. skipReview
// is consulted only for (created, submit), where it collapses the hop
// directly to approved per spec.md §4.4.
func lookup(state domain.WorkflowState, event EventType, skipReview bool) (transition, bool) {
	if event == EventCancel {
		if !cancellable[state] {
			return transition{}, false
		}
		return transition{next: domain.StateCancelled, mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext { return c }}, true
	}

	if state == domain.StateCreated && event == EventSubmit && skipReview {
		return transition{
			next: domain.StateApproved,
			mutate: func(c domain.WorkflowContext, p Payload) domain.WorkflowContext { return c },
		}, true
	}

	t, ok := table[key{state, event}]
	return t, ok
}

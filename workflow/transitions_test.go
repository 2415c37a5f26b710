package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vaultworks/reconcore/domain"
)

func TestLookup_HappyPathChain(t *testing.T) {
	tr, ok := lookup(domain.StateCreated, EventSubmit, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StatePendingReview, tr.next)

	tr, ok = lookup(domain.StatePendingReview, EventApprove, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StateApproved, tr.next)
	ctx := tr.mutate(domain.WorkflowContext{}, Payload{ApproverID: "user-1"})
	assert.Equal(t, []string{"user-1"}, ctx.ApprovedBy)

	tr, ok = lookup(domain.StateApproved, EventSign, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StateSigning, tr.next)
	ctx = tr.mutate(domain.WorkflowContext{}, Payload{Signature: "sig"})
	assert.Equal(t, "sig", ctx.Signature)

	tr, ok = lookup(domain.StateSigning, EventBroadcast, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StateBroadcasting, tr.next)

	tr, ok = lookup(domain.StateBroadcasting, EventBroadcastSuccess, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StateConfirmed, tr.next)
}

func TestLookup_SkipReviewCollapsesToApproved(t *testing.T) {
	tr, ok := lookup(domain.StateCreated, EventSubmit, true)
	assert.True(t, ok)
	assert.Equal(t, domain.StateApproved, tr.next)
}

func TestLookup_BroadcastRetryReturnsToApprovedAndCountsAttempt(t *testing.T) {
	tr, ok := lookup(domain.StateBroadcasting, EventBroadcastRetry, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StateApproved, tr.next)

	ctx := tr.mutate(domain.WorkflowContext{BroadcastAttempts: 1}, Payload{Error: "timeout"})
	assert.Equal(t, 2, ctx.BroadcastAttempts)
	assert.Equal(t, "timeout", ctx.Error)
}

func TestLookup_BroadcastNonRetryFails(t *testing.T) {
	tr, ok := lookup(domain.StateBroadcasting, EventBroadcastNonRetry, false)
	assert.True(t, ok)
	assert.Equal(t, domain.StateFailed, tr.next)
}

func TestLookup_CancelLegalFromNonTerminalStates(t *testing.T) {
	for _, s := range []domain.WorkflowState{
		domain.StateCreated, domain.StatePendingReview, domain.StateApproved,
		domain.StateSigning, domain.StateBroadcasting,
	} {
		tr, ok := lookup(s, EventCancel, false)
		assert.Truef(t, ok, "expected cancel to be legal from %s", s)
		assert.Equal(t, domain.StateCancelled, tr.next)
	}
}

func TestLookup_CancelIllegalFromTerminalStates(t *testing.T) {
	for _, s := range []domain.WorkflowState{domain.StateConfirmed, domain.StateFailed, domain.StateCancelled} {
		_, ok := lookup(s, EventCancel, false)
		assert.Falsef(t, ok, "expected cancel to be illegal from %s", s)
	}
}

func TestLookup_UnknownPairIsIllegal(t *testing.T) {
	_, ok := lookup(domain.StateCreated, EventApprove, false)
	assert.False(t, ok)

	_, ok = lookup(domain.StateConfirmed, EventSign, false)
	assert.False(t, ok)
}

func TestWorkflowState_Terminal(t *testing.T) {
	assert.True(t, domain.StateConfirmed.Terminal())
	assert.True(t, domain.StateFailed.Terminal())
	assert.True(t, domain.StateCancelled.Terminal())
	assert.False(t, domain.StateCreated.Terminal())
	assert.False(t, domain.StateBroadcasting.Terminal())
}

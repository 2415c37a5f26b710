// Package workflow implements the transaction lifecycle state machine
// (C4): optimistic-locked transitions over the closed table in
// transitions.go, plus the broadcast policy that drives the
// signing->broadcasting->confirmed/failed leg.
package workflow

import (
	"context"

	"github.com/hashicorp/go-uuid"

	"github.com/vaultworks/reconcore/contracts"
	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/internal/eventbus"
	"github.com/vaultworks/reconcore/internal/log"
	"github.com/vaultworks/reconcore/internal/metrics"
	"github.com/vaultworks/reconcore/repository"
	"github.com/vaultworks/reconcore/store"
)

var logger = log.NewModuleLogger("workflow")

// Engine drives Workflow transitions.
type Engine struct {
	repo        *repository.WorkflowRepo
	broadcaster contracts.Broadcaster
	cfg         config.WorkflowConfig
	bus         eventbus.Publisher
}

func New(repo *repository.WorkflowRepo, broadcaster contracts.Broadcaster, cfg config.WorkflowConfig, bus eventbus.Publisher) *Engine {
	return &Engine{repo: repo, broadcaster: broadcaster, cfg: cfg, bus: bus}
}

// Create starts a new workflow in StateCreated, applying
// config.WorkflowConfig's default broadcast-attempt budget. Idempotency
// is handled by the repository layer.
func (e *Engine) Create(ctx context.Context, w domain.Workflow) (domain.Workflow, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return domain.Workflow{}, errs.Wrap(err, "generate workflow id")
	}
	w.ID = id
	w.Context.MaxBroadcastAttempts = e.cfg.MaxBroadcastAttempts
	return e.repo.Create(ctx, w)
}

// Get loads one workflow by id.
func (e *Engine) Get(ctx context.Context, id string) (domain.Workflow, error) {
	return e.repo.Get(ctx, id)
}

// Transition applies one event to a workflow, per spec.md §4.4's
// load-validate-update-append sequence. skipReview only matters for the
// (created, submit) pair; it is ignored otherwise.
func (e *Engine) Transition(ctx context.Context, id string, event EventType, payload Payload, triggeredBy string) (domain.Workflow, error) {
	w, err := e.repo.Get(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	if w.State.Terminal() {
		return domain.Workflow{}, errs.ErrIllegalTransition
	}

	t, ok := lookup(w.State, event, payload.SkipReview)
	if !ok {
		return domain.Workflow{}, errs.ErrIllegalTransition
	}

	updated, err := e.apply(ctx, w, t, event, payload, triggeredBy)
	if err != nil {
		return domain.Workflow{}, err
	}

	// Entering broadcasting immediately invokes the chain adapter and
	// self-drives the resulting success/retry/fail transition, per
	// spec.md §4.4 ("when transitioning into broadcasting, the engine
	// calls the chain adapter").
	if updated.State == domain.StateBroadcasting {
		return e.runBroadcast(ctx, updated)
	}
	return updated, nil
}

func (e *Engine) apply(ctx context.Context, w domain.Workflow, t transition, event EventType, payload Payload, triggeredBy string) (domain.Workflow, error) {
	newCtx := t.mutate(w.Context, payload)

	eventID, err := uuid.GenerateUUID()
	if err != nil {
		return domain.Workflow{}, errs.Wrap(err, "generate event id")
	}

	patch := repository.Patch{State: t.next, Context: newCtx, TxHash: payload.TxHash, BlockNumber: payload.BlockNumber}
	if payload.Signature != "" {
		patch.Signature = payload.Signature
	}

	updated, err := e.repo.Update(ctx, w.ID, w.Version, patch, domain.WorkflowEvent{
		ID: eventID, WorkflowID: w.ID, FromState: w.State, ToState: t.next,
		EventType: string(event), TriggeredBy: triggeredBy,
	})
	if err != nil {
		if errs.Is(err, errs.ErrConcurrentModification) {
			metrics.WorkflowConcurrentModificationTotal.Inc()
		}
		return domain.Workflow{}, err
	}

	metrics.WorkflowTransitionsTotal.WithLabelValues(string(w.State), string(t.next)).Inc()
	e.bus.Publish(eventbus.Event{
		Topic: "workflow.transition", Key: w.ID,
		Body: map[string]interface{}{"workflowId": w.ID, "from": w.State, "to": t.next, "event": event},
	})
	return updated, nil
}

// runBroadcast calls the chain adapter and translates its outcome into
// the matching follow-up event, exactly as spec.md §4.4's broadcast
// policy describes: success confirms, a retryable failure bounces back to
// approved (bounded by maxBroadcastAttempts), a non-retryable failure or
// an exhausted retry budget fails the workflow.
func (e *Engine) runBroadcast(ctx context.Context, w domain.Workflow) (domain.Workflow, error) {
	result, err := e.broadcaster.Broadcast(ctx, w.ChainAlias, w.MarshalledHex, w.Context.Signature)
	if err != nil {
		retryable := result.Retryable && w.Context.BroadcastAttempts+1 < w.Context.MaxBroadcastAttempts
		event := EventBroadcastNonRetry
		if retryable {
			event = EventBroadcastRetry
		}
		logger.Warn("broadcast failed", "workflowId", w.ID, "err", err, "retryable", retryable)
		return e.Transition(ctx, w.ID, event, Payload{Error: err.Error()}, "system:broadcaster")
	}

	return e.Transition(ctx, w.ID, EventBroadcastSuccess, Payload{
		TxHash: result.TxHash, BlockNumber: result.BlockNumber,
	}, "system:broadcaster")
}

// ListEvents cursor-paginates a workflow's event log.
func (e *Engine) ListEvents(ctx context.Context, workflowID, cursor string, limit int) ([]domain.WorkflowEvent, store.Page, error) {
	return e.repo.ListEvents(ctx, workflowID, cursor, limit)
}

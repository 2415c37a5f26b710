package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type workflowRow struct {
	ID             string `gorm:"primary_key"`
	State          string
	ContextJSON    string `gorm:"column:context_json"`
	Version        int64
	VaultID        string `gorm:"column:vault_id"`
	ChainAlias     string `gorm:"column:chain_alias"`
	MarshalledHex  string `gorm:"column:marshalled_hex"`
	OrgID          string `gorm:"column:org_id"`
	CreatedBy      string `gorm:"column:created_by"`
	TxHash         string `gorm:"column:tx_hash"`
	Signature      string
	BlockNumber    *uint64 `gorm:"column:block_number"`
	IdempotencyKey string  `gorm:"column:idempotency_key"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (workflowRow) TableName() string { return "workflows" }

func (r workflowRow) toDomain() domain.Workflow {
	var wctx domain.WorkflowContext
	_ = json.Unmarshal([]byte(r.ContextJSON), &wctx) // empty ContextJSON -> zero value, never a fatal condition
	return domain.Workflow{
		ID: r.ID, State: domain.WorkflowState(r.State), Context: wctx, Version: r.Version,
		VaultID: r.VaultID, ChainAlias: r.ChainAlias, MarshalledHex: r.MarshalledHex,
		OrgID: r.OrgID, CreatedBy: r.CreatedBy, TxHash: r.TxHash, Signature: r.Signature,
		BlockNumber: r.BlockNumber, IdempotencyKey: r.IdempotencyKey,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, CompletedAt: r.CompletedAt,
	}
}

type workflowEventRow struct {
	ID              string `gorm:"primary_key"`
	WorkflowID      string `gorm:"column:workflow_id"`
	FromState       string `gorm:"column:from_state"`
	ToState         string `gorm:"column:to_state"`
	EventType       string `gorm:"column:event_type"`
	EventPayload    string `gorm:"column:event_payload"`
	ContextSnapshot string `gorm:"column:context_snapshot"`
	TriggeredBy     string `gorm:"column:triggered_by"`
	CreatedAt       time.Time
}

func (workflowEventRow) TableName() string { return "workflow_events" }

func (r workflowEventRow) toDomain() domain.WorkflowEvent {
	return domain.WorkflowEvent{
		ID: r.ID, WorkflowID: r.WorkflowID, FromState: domain.WorkflowState(r.FromState),
		ToState: domain.WorkflowState(r.ToState), EventType: r.EventType, EventPayload: r.EventPayload,
		ContextSnapshot: r.ContextSnapshot, TriggeredBy: r.TriggeredBy, CreatedAt: r.CreatedAt,
	}
}

// WorkflowRepo implements the Workflow state-machine persistence of
// spec.md §4.2/§4.4: optimistic-locked updates paired atomically with the
// event they produce.
type WorkflowRepo struct {
	store *store.Store
}

func NewWorkflowRepo(s *store.Store) *WorkflowRepo {
	return &WorkflowRepo{store: s}
}

// Create inserts a new workflow in StateCreated. If idempotencyKey is
// non-empty and a workflow with that key already exists in the same org,
// the existing workflow is returned instead of a duplicate, per
// SPEC_FULL.md §4.4's idempotent-submission extension.
func (r *WorkflowRepo) Create(ctx context.Context, w domain.Workflow) (domain.Workflow, error) {
	var result domain.Workflow
	err := r.store.Tx(ctx, 0, func(txCtx context.Context) error {
		if w.IdempotencyKey != "" {
			var existing workflowRow
			err := r.store.Conn(txCtx).Where("idempotency_key = ? AND org_id = ?", w.IdempotencyKey, w.OrgID).First(&existing).Error
			if err == nil {
				result = existing.toDomain()
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return errs.Wrap(err, "check idempotency key")
			}
		}

		ctxJSON, err := json.Marshal(w.Context)
		if err != nil {
			return errs.Wrap(err, "marshal workflow context")
		}
		row := workflowRow{
			ID: w.ID, State: string(domain.StateCreated), ContextJSON: string(ctxJSON), Version: 1,
			VaultID: w.VaultID, ChainAlias: w.ChainAlias, MarshalledHex: w.MarshalledHex,
			OrgID: w.OrgID, CreatedBy: w.CreatedBy, IdempotencyKey: w.IdempotencyKey,
		}
		if err := r.store.Conn(txCtx).Create(&row).Error; err != nil {
			return errs.Wrap(err, "create workflow")
		}
		result = row.toDomain()
		return nil
	})
	return result, err
}

// Get fetches one workflow by id.
func (r *WorkflowRepo) Get(ctx context.Context, id string) (domain.Workflow, error) {
	var row workflowRow
	err := r.store.Conn(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Workflow{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.Workflow{}, errs.Wrap(err, "get workflow")
	}
	return row.toDomain(), nil
}

// Patch is the new state produced by one workflow transition.
type Patch struct {
	State       domain.WorkflowState
	Context     domain.WorkflowContext
	TxHash      string
	Signature   string
	BlockNumber *uint64
	CompletedAt *time.Time
}

// Update applies patch to the workflow identified by id, guarded by an
// optimistic version check: the UPDATE's WHERE clause pins both id and
// expectedVersion, so a version mismatch (a concurrent transition already
// landed) affects zero rows and surfaces as errs.ErrConcurrentModification
// rather than silently overwriting, per spec.md §4.4.
func (r *WorkflowRepo) Update(ctx context.Context, id string, expectedVersion int64, patch Patch, event domain.WorkflowEvent) (domain.Workflow, error) {
	var result domain.Workflow
	err := r.store.Tx(ctx, sql.LevelSerializable, func(txCtx context.Context) error {
		ctxJSON, err := json.Marshal(patch.Context)
		if err != nil {
			return errs.Wrap(err, "marshal workflow context")
		}

		updates := map[string]interface{}{
			"state":        string(patch.State),
			"context_json": string(ctxJSON),
			"version":      expectedVersion + 1,
			"updated_at":   time.Now().UTC(),
		}
		if patch.TxHash != "" {
			updates["tx_hash"] = patch.TxHash
		}
		if patch.Signature != "" {
			updates["signature"] = patch.Signature
		}
		if patch.BlockNumber != nil {
			updates["block_number"] = *patch.BlockNumber
		}
		if patch.CompletedAt != nil {
			updates["completed_at"] = *patch.CompletedAt
		}

		res := r.store.Conn(txCtx).Model(&workflowRow{}).
			Where("id = ? AND version = ?", id, expectedVersion).
			Updates(updates)
		if res.Error != nil {
			return errs.Wrap(res.Error, "update workflow")
		}
		if res.RowsAffected == 0 {
			return errs.ErrConcurrentModification
		}

		eventRow := workflowEventRow{
			ID: event.ID, WorkflowID: id, FromState: string(event.FromState), ToState: string(event.ToState),
			EventType: event.EventType, EventPayload: event.EventPayload,
			ContextSnapshot: string(ctxJSON), TriggeredBy: event.TriggeredBy,
		}
		if err := r.store.Conn(txCtx).Create(&eventRow).Error; err != nil {
			return errs.Wrap(err, "append workflow event")
		}

		var row workflowRow
		if err := r.store.Conn(txCtx).Where("id = ?", id).First(&row).Error; err != nil {
			return errs.Wrap(err, "reload workflow")
		}
		result = row.toDomain()
		return nil
	})
	return result, err
}

// ListEvents cursor-paginates a workflow's event log, oldest first (the
// log's natural replay order), per spec.md §4.2.
func (r *WorkflowRepo) ListEvents(ctx context.Context, workflowID, cursorRaw string, limit int) ([]domain.WorkflowEvent, store.Page, error) {
	q := r.store.Conn(ctx).Where("workflow_id = ?", workflowID)

	var cur store.EventCursor
	if store.DecodeCursor(cursorRaw, &cur) {
		// The cursor carries id alone (spec.md §4.1); ids are random
		// UUIDs unrelated to creation order, so resolve the cursor row's
		// own created_at here and filter on the (created_at, id) tuple
		// the listing is actually ordered by, the same way
		// address/transaction cursors do with their embedded timestamp.
		var cursorRow workflowEventRow
		if err := r.store.Conn(ctx).Select("created_at").Where("id = ?", cur.ID).First(&cursorRow).Error; err == nil {
			q = q.Where("(created_at > ?) OR (created_at = ? AND id > ?)", cursorRow.CreatedAt, cursorRow.CreatedAt, cur.ID)
		}
		// a cursor id that no longer resolves (deleted/stale) is treated
		// as no cursor at all, per the malformed-cursor-never-errors rule.
	}

	var rows []workflowEventRow
	if err := q.Order("created_at ASC, id ASC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, store.Page{}, errs.Wrap(err, "list workflow events")
	}

	n, page := store.Paginate(len(rows), limit, func(lastIndex int) string {
		return store.EncodeCursor(store.EventCursor{ID: rows[lastIndex].ID})
	})

	out := make([]domain.WorkflowEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rows[i].toDomain())
	}
	return out, page, nil
}

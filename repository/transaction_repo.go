package repository

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type transactionRow struct {
	ID                  string `gorm:"primary_key"`
	ChainAlias          string `gorm:"column:chain_alias"`
	TxHash              string `gorm:"column:tx_hash"`
	BlockNumber         uint64 `gorm:"column:block_number"`
	BlockHash           string `gorm:"column:block_hash"`
	TxIndex             *int   `gorm:"column:tx_index"`
	FromAddress         string `gorm:"column:from_address"`
	ToAddress           string `gorm:"column:to_address"`
	Value               string
	Fee                 string
	Status              string
	Timestamp           time.Time
	ClassificationType  string `gorm:"column:classification_type"`
	ClassificationLabel string `gorm:"column:classification_label"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	SoftDeletedAt       *time.Time `gorm:"column:soft_deleted_at"`
}

func (transactionRow) TableName() string { return "transactions" }

func (r transactionRow) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:                  r.ID,
		ChainAlias:          r.ChainAlias,
		TxHash:              r.TxHash,
		BlockNumber:         r.BlockNumber,
		BlockHash:           r.BlockHash,
		TxIndex:             r.TxIndex,
		FromAddress:         r.FromAddress,
		ToAddress:           r.ToAddress,
		Value:               r.Value,
		Fee:                 r.Fee,
		Status:              domain.TxStatus(r.Status),
		Timestamp:           r.Timestamp,
		ClassificationType:  r.ClassificationType,
		ClassificationLabel: r.ClassificationLabel,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		SoftDeletedAt:       r.SoftDeletedAt,
	}
}

type addressTransactionRow struct {
	Address    string
	ChainAlias string `gorm:"column:chain_alias"`
	TxID       string `gorm:"column:tx_id"`
	Timestamp  time.Time
	Direction  string
}

func (addressTransactionRow) TableName() string { return "address_transactions" }

// TransactionRepo implements the Transaction CRUD and cursor-paginated
// listing of spec.md §4.2.
type TransactionRepo struct {
	store *store.Store
}

func NewTransactionRepo(s *store.Store) *TransactionRepo {
	return &TransactionRepo{store: s}
}

// FindByChainAliasAndTxHash is the unique lookup keyed on
// (ChainAlias, TxHash), case-insensitive on the hash.
func (r *TransactionRepo) FindByChainAliasAndTxHash(ctx context.Context, chainAlias, txHash string) (domain.Transaction, error) {
	var row transactionRow
	err := r.store.Conn(ctx).
		Where("chain_alias = ? AND LOWER(tx_hash) = LOWER(?)", chainAlias, txHash).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Transaction{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, errs.Wrap(err, "find transaction")
	}
	return row.toDomain(), nil
}

// Insert creates a transaction row plus its address_transactions join
// rows, within the caller's active transaction (reconcile.Engine always
// calls this inside a Store.Tx alongside the audit-entry append).
func (r *TransactionRepo) Insert(ctx context.Context, tx domain.Transaction, links []domain.AddressTransaction) error {
	row := transactionRow{
		ID: tx.ID, ChainAlias: tx.ChainAlias, TxHash: tx.TxHash, BlockNumber: tx.BlockNumber,
		BlockHash: tx.BlockHash, TxIndex: tx.TxIndex, FromAddress: tx.FromAddress, ToAddress: tx.ToAddress,
		Value: tx.Value, Fee: tx.Fee, Status: string(tx.Status), Timestamp: tx.Timestamp,
		ClassificationType: tx.ClassificationType, ClassificationLabel: tx.ClassificationLabel,
	}
	if err := r.store.Conn(ctx).Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert transaction")
	}
	for _, link := range links {
		linkRow := addressTransactionRow{
			Address: link.Address, ChainAlias: link.ChainAlias, TxID: link.TxID,
			Timestamp: link.Timestamp, Direction: string(link.Direction),
		}
		if err := r.store.Conn(ctx).Create(&linkRow).Error; err != nil {
			return errs.Wrap(err, "insert address_transaction")
		}
	}
	return nil
}

// UpdateObservedFields patches the mutable chain-observed fields of an
// existing transaction when a reconciliation pass sees drift (reorg,
// late status settlement) against the stored row.
func (r *TransactionRepo) UpdateObservedFields(ctx context.Context, id string, tx domain.Transaction) error {
	return r.store.Conn(ctx).Model(&transactionRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"block_number": tx.BlockNumber,
		"block_hash":   tx.BlockHash,
		"value":        tx.Value,
		"fee":          tx.Fee,
		"status":       string(tx.Status),
		"updated_at":   time.Now().UTC(),
	}).Error
}

// SoftDelete marks a transaction as no longer observed upstream. It is
// reattached (cleared) rather than re-inserted if the provider reports it
// again, per spec.md §4.3.
func (r *TransactionRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.store.Conn(ctx).Model(&transactionRow{}).Where("id = ?", id).
		Update("soft_deleted_at", at).Error
}

// Reattach clears a transaction's soft-delete marker.
func (r *TransactionRepo) Reattach(ctx context.Context, id string) error {
	return r.store.Conn(ctx).Model(&transactionRow{}).Where("id = ?", id).
		Update("soft_deleted_at", nil).Error
}

// ListOptions narrows FindByChainAliasAndAddress, per spec.md §6.
type ListOptions struct {
	Sort      string // "asc" or "desc"
	Direction []domain.Direction
}

// FindByChainAliasAndAddress cursor-paginates by (timestamp, txId) with
// explicit tuple comparison for direction-aware ordering, joined to
// address_transactions for direction and case-insensitive address match,
// per spec.md §4.2.
func (r *TransactionRepo) FindByChainAliasAndAddress(ctx context.Context, chainAlias, address string, cursorRaw string, limit int, opts ListOptions) ([]domain.Transaction, store.Page, error) {
	desc := opts.Sort == "desc"

	q := r.store.Conn(ctx).Table("transactions t").
		Joins("JOIN address_transactions at ON at.tx_id = t.id").
		Where("t.chain_alias = ? AND LOWER(at.address) = LOWER(?)", chainAlias, address)

	if len(opts.Direction) > 0 {
		dirs := make([]string, 0, len(opts.Direction))
		for _, d := range opts.Direction {
			dirs = append(dirs, string(d))
		}
		q = q.Where("at.direction IN (?)", dirs)
	}

	var cur store.TransactionCursor
	if store.DecodeCursor(cursorRaw, &cur) {
		cutoff := time.Unix(0, cur.Timestamp*int64(time.Millisecond))
		if desc {
			q = q.Where("(t.timestamp < ?) OR (t.timestamp = ? AND t.id < ?)", cutoff, cutoff, cur.TxID)
		} else {
			q = q.Where("(t.timestamp > ?) OR (t.timestamp = ? AND t.id > ?)", cutoff, cutoff, cur.TxID)
		}
	}

	order := "t.timestamp ASC, t.id ASC"
	if desc {
		order = "t.timestamp DESC, t.id DESC"
	}

	var rows []transactionRow
	if err := q.Select("t.*").Order(order).Limit(limit + 1).Scan(&rows).Error; err != nil {
		return nil, store.Page{}, errs.Wrap(err, "list transactions")
	}

	n, page := store.Paginate(len(rows), limit, func(lastIndex int) string {
		last := rows[lastIndex]
		return store.EncodeCursor(store.TransactionCursor{
			Timestamp: last.Timestamp.UnixNano() / int64(time.Millisecond),
			TxID:      last.ID,
		})
	})

	out := make([]domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rows[i].toDomain())
	}
	return out, page, nil
}

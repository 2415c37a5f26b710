package repository

import (
	"context"
	"time"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type tokenHoldingRow struct {
	ID                string `gorm:"primary_key"`
	AddressID         string `gorm:"column:address_id"`
	ChainAlias        string `gorm:"column:chain_alias"`
	TokenAddress      string `gorm:"column:token_address"`
	IsNative          bool   `gorm:"column:is_native"`
	Balance           string
	Decimals          int
	Name              string
	Symbol            string
	Visibility        string
	UserSpamOverride  string `gorm:"column:user_spam_override"`
	OverrideUpdatedAt *time.Time `gorm:"column:override_updated_at"`
}

func (tokenHoldingRow) TableName() string { return "token_holdings" }

func (r tokenHoldingRow) toDomain() domain.TokenHolding {
	return domain.TokenHolding{
		ID:                r.ID,
		AddressID:         r.AddressID,
		ChainAlias:        r.ChainAlias,
		TokenAddress:      r.TokenAddress,
		IsNative:          r.IsNative,
		Balance:           r.Balance,
		Decimals:          r.Decimals,
		Name:              r.Name,
		Symbol:            r.Symbol,
		Visibility:        domain.HoldingVisibility(r.Visibility),
		UserSpamOverride:  domain.SpamOverride(r.UserSpamOverride),
		OverrideUpdatedAt: r.OverrideUpdatedAt,
	}
}

// TokenHoldingRepo implements the TokenHolding CRUD of spec.md §4.2.
type TokenHoldingRepo struct {
	store *store.Store
}

func NewTokenHoldingRepo(s *store.Store) *TokenHoldingRepo {
	return &TokenHoldingRepo{store: s}
}

// UpsertMany iterates inputs sequentially to preserve per-row conflict
// semantics, per spec.md §4.2 — a batched multi-row INSERT would collapse
// distinct ON DUPLICATE KEY UPDATE outcomes into one statement result and
// make per-row error attribution impossible.
func (r *TokenHoldingRepo) UpsertMany(ctx context.Context, holdings []domain.TokenHolding) error {
	for _, h := range holdings {
		if err := r.upsertOne(ctx, h); err != nil {
			return errs.Wrap(err, "upsert token holding")
		}
	}
	return nil
}

func (r *TokenHoldingRepo) upsertOne(ctx context.Context, h domain.TokenHolding) error {
	return r.store.Conn(ctx).Exec(
		`INSERT INTO token_holdings (id, address_id, chain_alias, token_address, is_native, balance,
		    decimals, name, symbol, visibility)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE balance = VALUES(balance), decimals = VALUES(decimals),
		   name = VALUES(name), symbol = VALUES(symbol)`,
		h.ID, h.AddressID, h.ChainAlias, h.TokenAddress, h.IsNative, h.Balance,
		h.Decimals, h.Name, h.Symbol, string(h.Visibility),
	).Error
}

// SpamOverrideUpdate is one row of a batch override update.
type SpamOverrideUpdate struct {
	HoldingID string
	Override  domain.SpamOverride
}

// UpdateSpamOverrideBatch executes within a single transaction: all
// succeed or all fail, per spec.md §4.2.
func (r *TokenHoldingRepo) UpdateSpamOverrideBatch(ctx context.Context, updates []SpamOverrideUpdate, now time.Time) error {
	return r.store.Tx(ctx, 0, func(txCtx context.Context) error {
		for _, u := range updates {
			res := r.store.Conn(txCtx).Model(&tokenHoldingRow{}).
				Where("id = ?", u.HoldingID).
				Updates(map[string]interface{}{
					"user_spam_override": string(u.Override),
					"override_updated_at": now,
				})
			if res.Error != nil {
				return errs.Wrap(res.Error, "update spam override")
			}
			if res.RowsAffected == 0 {
				return errs.ErrNotFound
			}
		}
		return nil
	})
}

// FindByAddressIDAndChainAlias lists an address's holdings on one chain.
func (r *TokenHoldingRepo) FindByAddressIDAndChainAlias(ctx context.Context, addressID, chainAlias string) ([]domain.TokenHolding, error) {
	var rows []tokenHoldingRow
	if err := r.store.Conn(ctx).
		Where("address_id = ? AND chain_alias = ?", addressID, chainAlias).
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "find token holdings")
	}
	out := make([]domain.TokenHolding, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Package repository implements the per-aggregate CRUD and cursor-paginated
// listings of spec.md §4.2, over the relational primitives in package
// store. Each repository owns its row<->domain mapping and, where noted,
// a small in-process cache adapted from internal/cache (never load-bearing
// for correctness).
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/cache"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/internal/log"
	"github.com/vaultworks/reconcore/store"
)

var logger = log.NewModuleLogger("repository")

// addressRow is the gorm-mapped table row for Address.
type addressRow struct {
	ID                  string `gorm:"primary_key"`
	Address             string
	ChainAlias           string `gorm:"column:chain_alias"`
	VaultID             string `gorm:"column:vault_id"`
	OrgID               string `gorm:"column:org_id"`
	WorkspaceID         string `gorm:"column:workspace_id"`
	Ecosystem           string
	DerivationPath      string `gorm:"column:derivation_path"`
	Alias               string
	IsMonitored         bool   `gorm:"column:is_monitored"`
	SubscriptionID      string `gorm:"column:subscription_id"`
	MonitoredAt         *time.Time `gorm:"column:monitored_at"`
	UnmonitoredAt       *time.Time `gorm:"column:unmonitored_at"`
	LastReconciledBlock *uint64    `gorm:"column:last_reconciled_block"`
	Notes               string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
}

func (addressRow) TableName() string { return "addresses" }

func (r addressRow) toDomain() domain.Address {
	return domain.Address{
		ID:                  r.ID,
		Address:             r.Address,
		ChainAlias:          r.ChainAlias,
		VaultID:             r.VaultID,
		OrgID:               r.OrgID,
		WorkspaceID:         r.WorkspaceID,
		Ecosystem:           r.Ecosystem,
		DerivationPath:      r.DerivationPath,
		Alias:               r.Alias,
		IsMonitored:         r.IsMonitored,
		SubscriptionID:      r.SubscriptionID,
		MonitoredAt:         r.MonitoredAt,
		UnmonitoredAt:       r.UnmonitoredAt,
		LastReconciledBlock: r.LastReconciledBlock,
		Notes:               r.Notes,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
		DeletedAt:           r.DeletedAt,
	}
}

func addressRowFrom(a domain.Address) addressRow {
	return addressRow{
		ID:                  a.ID,
		Address:             a.Address,
		ChainAlias:          a.ChainAlias,
		VaultID:             a.VaultID,
		OrgID:               a.OrgID,
		WorkspaceID:         a.WorkspaceID,
		Ecosystem:           a.Ecosystem,
		DerivationPath:      a.DerivationPath,
		Alias:               a.Alias,
		IsMonitored:         a.IsMonitored,
		SubscriptionID:      a.SubscriptionID,
		MonitoredAt:         a.MonitoredAt,
		UnmonitoredAt:       a.UnmonitoredAt,
		LastReconciledBlock: a.LastReconciledBlock,
		Notes:               a.Notes,
	}
}

// AddressRepo implements spec.md's Address CRUD and cursor listings.
type AddressRepo struct {
	store *store.Store
	cache cache.Cache // keyed "chainAlias:lower(address)"; optional
}

// NewAddressRepo constructs an AddressRepo. cacheSize<=0 disables caching.
func NewAddressRepo(s *store.Store, cacheSize int) *AddressRepo {
	var c cache.Cache
	if cacheSize > 0 {
		if built, err := cache.NewLRU(cacheSize); err == nil {
			c = built
		}
	}
	return &AddressRepo{store: s, cache: c}
}

func addressCacheKey(chainAlias, address string) string {
	return chainAlias + ":" + strings.ToLower(address)
}

func (r *AddressRepo) invalidate(a domain.Address) {
	if r.cache != nil {
		r.cache.Remove(addressCacheKey(a.ChainAlias, a.Address))
	}
}

// Create inserts a new address row.
func (r *AddressRepo) Create(ctx context.Context, a domain.Address) (domain.Address, error) {
	row := addressRowFrom(a)
	row.CreatedAt = time.Now().UTC()
	row.UpdatedAt = row.CreatedAt
	if err := r.store.Conn(ctx).Create(&row).Error; err != nil {
		return domain.Address{}, errs.Wrap(err, "create address")
	}
	return row.toDomain(), nil
}

// FindByAddressAndChainAlias performs the case-insensitive lookup spec.md
// §8 requires: findByAddressAndChainAlias(A.upper(), c) must equal
// findByAddressAndChainAlias(A.lower(), c).
func (r *AddressRepo) FindByAddressAndChainAlias(ctx context.Context, address, chainAlias string) (domain.Address, error) {
	key := addressCacheKey(chainAlias, address)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(domain.Address), nil
		}
	}

	var row addressRow
	err := r.store.Conn(ctx).
		Where("LOWER(address) = LOWER(?) AND chain_alias = ? AND deleted_at IS NULL", address, chainAlias).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Address{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.Address{}, errs.Wrap(err, "find address")
	}

	d := row.toDomain()
	if r.cache != nil {
		r.cache.Add(key, d)
	}
	return d, nil
}

// FindByVaultIDAndChainAliasCursorOptions configures the optional
// isMonitored filter spec.md §4.2 describes: applied only when supplied.
type FindByVaultIDAndChainAliasCursorOptions struct {
	IsMonitored *bool
}

// FindByVaultIDAndChainAliasCursor lists addresses for a vault/chain,
// cursor-paginated by (createdAt, id).
func (r *AddressRepo) FindByVaultIDAndChainAliasCursor(ctx context.Context, vaultID, chainAlias string, cursorRaw string, limit int, opts FindByVaultIDAndChainAliasCursorOptions) ([]domain.Address, store.Page, error) {
	q := r.store.Conn(ctx).Where("vault_id = ? AND chain_alias = ? AND deleted_at IS NULL", vaultID, chainAlias)
	if opts.IsMonitored != nil {
		q = q.Where("is_monitored = ?", *opts.IsMonitored)
	}

	var cur store.AddressCursor
	if store.DecodeCursor(cursorRaw, &cur) {
		cutoff := time.Unix(0, cur.CreatedAt*int64(time.Millisecond))
		q = q.Where("(created_at > ?) OR (created_at = ? AND id > ?)", cutoff, cutoff, cur.ID)
	}

	var rows []addressRow
	if err := q.Order("created_at ASC, id ASC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, store.Page{}, errs.Wrap(err, "list addresses")
	}

	n, page := store.Paginate(len(rows), limit, func(lastIndex int) string {
		last := rows[lastIndex]
		return store.EncodeCursor(store.AddressCursor{ID: last.ID, CreatedAt: last.CreatedAt.UnixNano() / int64(time.Millisecond)})
	})

	out := make([]domain.Address, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, rows[i].toDomain())
	}
	return out, page, nil
}

// SetMonitored toggles IsMonitored and stamps the matching timestamp.
func (r *AddressRepo) SetMonitored(ctx context.Context, id string, monitored bool, subscriptionID string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"is_monitored": monitored,
		"updated_at":   now,
	}
	if monitored {
		updates["monitored_at"] = now
		updates["subscription_id"] = subscriptionID
	} else {
		updates["unmonitored_at"] = now
	}
	res := r.store.Conn(ctx).Model(&addressRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errs.Wrap(res.Error, "set monitored")
	}
	if res.RowsAffected == 0 {
		return errs.ErrNotFound
	}
	if r.cache != nil {
		// caller-visible effect is small enough that a full cache purge
		// is cheaper than tracking id->key back-references.
		r.cache.Purge()
	}
	return nil
}

// UpdateLastReconciledBlock stamps the high-water mark a completed
// reconciliation job leaves behind, so a subsequent partial job knows
// where to resume from.
func (r *AddressRepo) UpdateLastReconciledBlock(ctx context.Context, id string, block uint64) error {
	res := r.store.Conn(ctx).Model(&addressRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_reconciled_block": block,
		"updated_at":            time.Now().UTC(),
	})
	if res.Error != nil {
		return errs.Wrap(res.Error, "update last reconciled block")
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	return nil
}

// DeleteByVaultID performs the bulk delete spec.md §3 describes as the
// only permitted deletion path for an Address: "deleted only in bulk with
// its owning vault."
func (r *AddressRepo) DeleteByVaultID(ctx context.Context, vaultID string, deletedAt time.Time) (int64, error) {
	res := r.store.Conn(ctx).Model(&addressRow{}).
		Where("vault_id = ? AND deleted_at IS NULL", vaultID).
		Update("deleted_at", deletedAt)
	if res.Error != nil {
		return 0, errs.Wrap(res.Error, "bulk delete addresses")
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	return res.RowsAffected, nil
}

// UpsertAddressToken applies the upsert policy of spec.md §4.1: the set
// of fields updated on conflict is explicit.
func (r *AddressRepo) UpsertAddressToken(ctx context.Context, at domain.AddressToken) error {
	row := addressTokenRow{
		AddressID:       at.AddressID,
		ContractAddress: at.ContractAddress,
		Symbol:          at.Symbol,
		Decimals:        at.Decimals,
		Name:            at.Name,
		Hidden:          at.Hidden,
	}
	return r.store.Conn(ctx).Exec(
		`INSERT INTO address_tokens (address_id, contract_address, symbol, decimals, name, hidden)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE symbol = VALUES(symbol), decimals = VALUES(decimals),
		   name = VALUES(name), hidden = VALUES(hidden)`,
		row.AddressID, row.ContractAddress, row.Symbol, row.Decimals, row.Name, row.Hidden,
	).Error
}

type addressTokenRow struct {
	AddressID       string `gorm:"column:address_id"`
	ContractAddress string `gorm:"column:contract_address"`
	Symbol          string
	Decimals        *int
	Name            string
	Hidden          bool
}

func (addressTokenRow) TableName() string { return "address_tokens" }

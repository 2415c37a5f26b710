package repository

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type vaultRow struct {
	ID        string `gorm:"primary_key"`
	Name      string
	OrgID     string `gorm:"column:org_id"`
	Threshold int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (vaultRow) TableName() string { return "vaults" }

type vaultCurveRow struct {
	ID        string `gorm:"primary_key"`
	VaultID   string `gorm:"column:vault_id"`
	Curve     string
	Algorithm string
	PublicKey string `gorm:"column:public_key"`
	Xpub      string
}

func (vaultCurveRow) TableName() string { return "vault_curves" }

func (r vaultCurveRow) toDomain() domain.VaultCurve {
	return domain.VaultCurve{
		ID: r.ID, VaultID: r.VaultID, Curve: r.Curve, Algorithm: r.Algorithm,
		PublicKey: r.PublicKey, Xpub: r.Xpub,
	}
}

// VaultRepo implements the Vault/VaultCurve aggregate CRUD of spec.md §4.2.
type VaultRepo struct {
	store *store.Store
}

func NewVaultRepo(s *store.Store) *VaultRepo {
	return &VaultRepo{store: s}
}

// CreateVaultWithCurves inserts a vault and its curves atomically: a vault
// with zero curves can sign nothing, so the two must never be observable
// independently, per spec.md §4.1.
func (r *VaultRepo) CreateVaultWithCurves(ctx context.Context, v domain.Vault) (domain.Vault, error) {
	var result domain.Vault
	err := r.store.Tx(ctx, 0, func(txCtx context.Context) error {
		row := vaultRow{ID: v.ID, Name: v.Name, OrgID: v.OrgID, Threshold: v.Threshold}
		if err := r.store.Conn(txCtx).Create(&row).Error; err != nil {
			return errs.Wrap(err, "create vault")
		}

		curves := make([]domain.VaultCurve, 0, len(v.Curves))
		for _, c := range v.Curves {
			curveRow := vaultCurveRow{
				ID: c.ID, VaultID: v.ID, Curve: c.Curve, Algorithm: c.Algorithm,
				PublicKey: c.PublicKey, Xpub: c.Xpub,
			}
			if err := r.store.Conn(txCtx).Create(&curveRow).Error; err != nil {
				return errs.Wrap(err, "create vault curve")
			}
			curves = append(curves, curveRow.toDomain())
		}

		result = domain.Vault{
			ID: row.ID, Name: row.Name, OrgID: row.OrgID, Threshold: row.Threshold, Curves: curves,
		}
		return nil
	})
	return result, err
}

// Get fetches one vault with its curves.
func (r *VaultRepo) Get(ctx context.Context, id string) (domain.Vault, error) {
	var row vaultRow
	err := r.store.Conn(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Vault{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.Vault{}, errs.Wrap(err, "get vault")
	}

	var curveRows []vaultCurveRow
	if err := r.store.Conn(ctx).Where("vault_id = ?", id).Find(&curveRows).Error; err != nil {
		return domain.Vault{}, errs.Wrap(err, "get vault curves")
	}
	curves := make([]domain.VaultCurve, 0, len(curveRows))
	for _, cr := range curveRows {
		curves = append(curves, cr.toDomain())
	}

	return domain.Vault{
		ID: row.ID, Name: row.Name, OrgID: row.OrgID, Threshold: row.Threshold, Curves: curves,
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, nil
}

// ListByOrg lists all vaults belonging to an organisation, without curves
// (callers needing curves fetch per-vault via Get).
func (r *VaultRepo) ListByOrg(ctx context.Context, orgID string) ([]domain.Vault, error) {
	var rows []vaultRow
	if err := r.store.Conn(ctx).Where("org_id = ?", orgID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "list vaults")
	}
	out := make([]domain.Vault, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Vault{
			ID: row.ID, Name: row.Name, OrgID: row.OrgID, Threshold: row.Threshold,
			CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
		})
	}
	return out, nil
}

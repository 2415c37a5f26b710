package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/cache"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type tokenRow struct {
	ID                      string `gorm:"primary_key"`
	ChainAlias              string `gorm:"column:chain_alias"`
	Address                 string
	Name                    string
	Symbol                  string
	Decimals                int
	LogoURI                 string `gorm:"column:logo_uri"`
	CoingeckoID             string `gorm:"column:coingecko_id"`
	IsVerified              bool   `gorm:"column:is_verified"`
	IsSpam                  bool   `gorm:"column:is_spam"`
	SpamClassification      string `gorm:"column:spam_classification"`
	ClassificationUpdatedAt *time.Time `gorm:"column:classification_updated_at"`
	ClassificationTTLHours  int        `gorm:"column:classification_ttl_hours"`
	NeedsClassification     bool       `gorm:"column:needs_classification"`
	ClassificationAttempts  int        `gorm:"column:classification_attempts"`
	ClassificationError     string     `gorm:"column:classification_error"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (tokenRow) TableName() string { return "tokens" }

func (r tokenRow) toDomain() domain.Token {
	return domain.Token{
		ID:                      r.ID,
		ChainAlias:              r.ChainAlias,
		Address:                 r.Address,
		Name:                    r.Name,
		Symbol:                  r.Symbol,
		Decimals:                r.Decimals,
		LogoURI:                 r.LogoURI,
		CoingeckoID:             r.CoingeckoID,
		IsVerified:              r.IsVerified,
		IsSpam:                  r.IsSpam,
		SpamClassification:      r.SpamClassification,
		ClassificationUpdatedAt: r.ClassificationUpdatedAt,
		ClassificationTTLHours:  r.ClassificationTTLHours,
		NeedsClassification:     r.NeedsClassification,
		ClassificationAttempts:  r.ClassificationAttempts,
		ClassificationError:     r.ClassificationError,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

// TokenRepo implements the Token registry CRUD and classification-queue
// queries of spec.md §4.2.
type TokenRepo struct {
	store *store.Store
	cache cache.Cache // keyed "chainAlias:lower(address)"; optional
}

// NewTokenRepo constructs a TokenRepo. cacheSize<=0 disables caching.
func NewTokenRepo(s *store.Store, cacheSize int) *TokenRepo {
	var c cache.Cache
	if cacheSize > 0 {
		if built, err := cache.NewARC(cacheSize); err == nil {
			c = built
		}
	}
	return &TokenRepo{store: s, cache: c}
}

func tokenCacheKey(chainAlias, address string) string {
	return chainAlias + ":" + strings.ToLower(address)
}

// Upsert inserts or updates a token, keyed on (ChainAlias, LOWER(Address)),
// explicitly listing the fields refreshed on conflict per spec.md §4.1.
func (r *TokenRepo) Upsert(ctx context.Context, t domain.Token) error {
	ttl := t.ClassificationTTLHours
	if ttl == 0 {
		ttl = domain.DefaultClassificationTTLHours
	}
	err := r.store.Conn(ctx).Exec(
		`INSERT INTO tokens (id, chain_alias, address, name, symbol, decimals, logo_uri, coingecko_id,
		    is_verified, is_spam, classification_ttl_hours, needs_classification, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, UTC_TIMESTAMP(3), UTC_TIMESTAMP(3))
		 ON DUPLICATE KEY UPDATE name = VALUES(name), symbol = VALUES(symbol), decimals = VALUES(decimals),
		   logo_uri = VALUES(logo_uri), coingecko_id = VALUES(coingecko_id), is_verified = VALUES(is_verified),
		   updated_at = UTC_TIMESTAMP(3)`,
		t.ID, t.ChainAlias, t.Address, t.Name, t.Symbol, t.Decimals, t.LogoURI, t.CoingeckoID,
		t.IsVerified, t.IsSpam, ttl, t.NeedsClassification,
	).Error
	if err != nil {
		return errs.Wrap(err, "upsert token")
	}
	if r.cache != nil {
		r.cache.Remove(tokenCacheKey(t.ChainAlias, t.Address))
	}
	return nil
}

// FindByChainAliasAndAddress is the case-insensitive token lookup.
func (r *TokenRepo) FindByChainAliasAndAddress(ctx context.Context, chainAlias, address string) (domain.Token, error) {
	key := tokenCacheKey(chainAlias, address)
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			return v.(domain.Token), nil
		}
	}

	var row tokenRow
	err := r.store.Conn(ctx).
		Where("chain_alias = ? AND LOWER(address) = LOWER(?)", chainAlias, address).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.Token{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.Token{}, errs.Wrap(err, "find token")
	}
	d := row.toDomain()
	if r.cache != nil {
		r.cache.Add(key, d)
	}
	return d, nil
}

// RefreshExpiredClassifications sets needsClassification=true, attempts=0
// for tokens whose classification cache has expired, per spec.md §4.2.
// Returns the number of affected rows.
func (r *TokenRepo) RefreshExpiredClassifications(ctx context.Context) (int64, error) {
	res := r.store.Conn(ctx).Exec(
		`UPDATE tokens
		   SET needs_classification = true, classification_attempts = 0, updated_at = UTC_TIMESTAMP(3)
		 WHERE needs_classification = false
		   AND classification_updated_at IS NOT NULL
		   AND TIMESTAMPADD(HOUR, classification_ttl_hours, classification_updated_at) < UTC_TIMESTAMP(3)`,
	)
	if res.Error != nil {
		return 0, errs.Wrap(res.Error, "refresh expired classifications")
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	return res.RowsAffected, nil
}

// FindNeedingClassification returns tokens eligible for the classifier,
// ordered classificationUpdatedAt ASC NULLS FIRST, createdAt ASC, capped
// at attempts < maxAttempts, per spec.md §4.2.
func (r *TokenRepo) FindNeedingClassification(ctx context.Context, limit, maxAttempts int) ([]domain.Token, error) {
	var rows []tokenRow
	err := r.store.Conn(ctx).
		Where("needs_classification = true AND classification_attempts < ?", maxAttempts).
		Order("classification_updated_at IS NULL DESC, classification_updated_at ASC, created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errs.Wrap(err, "find needing classification")
	}
	out := make([]domain.Token, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// RecordClassificationSuccess applies a successful classifier result.
func (r *TokenRepo) RecordClassificationSuccess(ctx context.Context, id, spamClassification string, now time.Time) error {
	res := r.store.Conn(ctx).Model(&tokenRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"spam_classification":      spamClassification,
		"classification_updated_at": now,
		"needs_classification":     false,
		"classification_error":     "",
		"updated_at":               now,
	})
	if res.Error != nil {
		return errs.Wrap(res.Error, "record classification success")
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	return nil
}

// RecordClassificationFailure increments attempts and stores the error;
// needsClassification stays true unless attempts reached max, per
// spec.md §4.5.
func (r *TokenRepo) RecordClassificationFailure(ctx context.Context, id string, attempts, maxAttempts int, classifyErr string, now time.Time) error {
	needsClassification := attempts < maxAttempts
	res := r.store.Conn(ctx).Model(&tokenRow{}).Where("id = ?", id).Updates(map[string]interface{}{
		"classification_attempts": attempts,
		"classification_error":    classifyErr,
		"needs_classification":    needsClassification,
		"updated_at":              now,
	})
	if res.Error != nil {
		return errs.Wrap(res.Error, "record classification failure")
	}
	if r.cache != nil {
		r.cache.Purge()
	}
	return nil
}

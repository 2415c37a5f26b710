package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/jinzhu/gorm"

	"github.com/vaultworks/reconcore/domain"
	"github.com/vaultworks/reconcore/internal/errs"
	"github.com/vaultworks/reconcore/store"
)

type tokenPriceRow struct {
	CoingeckoID    string `gorm:"column:coingecko_id;primary_key"`
	Currency       string `gorm:"primary_key"`
	Price          float64
	PriceChange24h *float64 `gorm:"column:price_change_24h"`
	MarketCap      *float64 `gorm:"column:market_cap"`
	FetchedAt      time.Time `gorm:"column:fetched_at"`
}

func (tokenPriceRow) TableName() string { return "token_prices" }

func (r tokenPriceRow) toDomain() domain.TokenPrice {
	return domain.TokenPrice{
		CoingeckoID:    r.CoingeckoID,
		Currency:       r.Currency,
		Price:          r.Price,
		PriceChange24h: r.PriceChange24h,
		MarketCap:      r.MarketCap,
		FetchedAt:      r.FetchedAt,
	}
}

// TokenPriceRepo implements the TokenPrice CRUD of spec.md §4.2, fronted
// by an optional go-redis read-through cache to dampen duplicate reads
// during a price-refresh burst across many addresses holding the same
// token (SPEC_FULL.md §4.2).
type TokenPriceRepo struct {
	store *store.Store
	redis *redis.Client // nil when Redis is disabled
	ttl   time.Duration
}

// NewTokenPriceRepo constructs a TokenPriceRepo. rdb may be nil to disable
// the cache layer entirely.
func NewTokenPriceRepo(s *store.Store, rdb *redis.Client, ttl time.Duration) *TokenPriceRepo {
	return &TokenPriceRepo{store: s, redis: rdb, ttl: ttl}
}

// Upsert writes a price quote, keyed on (CoingeckoID, Currency).
func (r *TokenPriceRepo) Upsert(ctx context.Context, p domain.TokenPrice) error {
	currency := strings.ToLower(p.Currency)
	err := r.store.Conn(ctx).Exec(
		`INSERT INTO token_prices (coingecko_id, currency, price, price_change_24h, market_cap, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE price = VALUES(price), price_change_24h = VALUES(price_change_24h),
		   market_cap = VALUES(market_cap), fetched_at = VALUES(fetched_at)`,
		p.CoingeckoID, currency, p.Price, p.PriceChange24h, p.MarketCap, p.FetchedAt,
	).Error
	if err != nil {
		return errs.Wrap(err, "upsert token price")
	}
	if r.redis != nil {
		r.redis.Del(r.cacheKey(p.CoingeckoID, currency))
	}
	return nil
}

func (r *TokenPriceRepo) cacheKey(coingeckoID, currency string) string {
	return fmt.Sprintf("reconcore:price:%s:%s", coingeckoID, currency)
}

// FetchLatest returns the latest stored quote, consulting the read-through
// cache first when enabled.
func (r *TokenPriceRepo) FetchLatest(ctx context.Context, coingeckoID, currency string) (domain.TokenPrice, error) {
	currency = strings.ToLower(currency)

	if r.redis != nil {
		if cached, err := r.redis.Get(r.cacheKey(coingeckoID, currency)).Result(); err == nil {
			var price domain.TokenPrice
			if jerr := json.Unmarshal([]byte(cached), &price); jerr == nil {
				return price, nil
			}
		}
	}

	var row tokenPriceRow
	err := r.store.Conn(ctx).
		Where("coingecko_id = ? AND currency = ?", coingeckoID, currency).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return domain.TokenPrice{}, errs.ErrNotFound
	}
	if err != nil {
		return domain.TokenPrice{}, errs.Wrap(err, "fetch token price")
	}

	d := row.toDomain()
	if r.redis != nil {
		if b, jerr := json.Marshal(d); jerr == nil {
			r.redis.Set(r.cacheKey(coingeckoID, currency), b, r.ttl)
		}
	}
	return d, nil
}

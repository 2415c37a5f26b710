// Package contracts declares the interfaces the core consumes from its
// collaborators — chain providers, price/metadata providers, the
// sync/async reconciliation providers, the broadcaster, the classifier,
// and auth — per spec.md §4.6. The injected clock and logger are declared
// in internal/clock and internal/log. Concrete implementations (Noves, CoinGecko, a chain SDK
// client, the RBAC resolver) live outside this module's scope; the core
// only ever programs against these interfaces.
package contracts

import (
	"context"
	"time"
)

// ChainBalance is a native or token balance as reported by a ChainProvider.
type ChainBalance struct {
	TokenAddress string // empty for native
	Balance      string
	Decimals     int
	Symbol       string
	Name         string
}

// ChainTx is one transaction as reported by a ChainProvider page.
type ChainTx struct {
	TxHash      string
	BlockNumber uint64
	BlockHash   string
	From        string
	To          string
	Value       string
	Fee         string
	Timestamp   time.Time
	Status      string
}

// ChainProvider abstracts a chain SDK/indexer client.
type ChainProvider interface {
	GetNativeBalance(ctx context.Context, chainAlias, address string) (ChainBalance, error)
	GetTokenBalances(ctx context.Context, chainAlias, address string) ([]ChainBalance, error)
	GetNextPage(ctx context.Context, chainAlias, cursor string) (txs []ChainTx, nextCursor string, err error)
}

// TokenMetadata is what a PriceProvider reports for a coingeckoId.
type TokenMetadata struct {
	CoingeckoID string
	Name        string
	Symbol      string
	LogoURI     string
}

// PriceQuote is what a PriceProvider reports for a (coingeckoId, currency).
type PriceQuote struct {
	CoingeckoID    string
	Currency       string
	Price          float64
	PriceChange24h *float64
	MarketCap      *float64
}

// PriceProvider abstracts a price/metadata client (e.g. CoinGecko).
type PriceProvider interface {
	FetchMetadata(ctx context.Context, coingeckoIDs []string) ([]TokenMetadata, error)
	FetchPrices(ctx context.Context, coingeckoIDs []string, currency string) ([]PriceQuote, error)
}

// ProviderPage is one page of reconciled transactions plus the cursor the
// engine should persist as lastProcessedCursor, and whether the stream has
// ended.
type ProviderPage struct {
	Txs        []ChainTx
	NextCursor string
	End        bool
	FinalBlock *uint64
}

// SyncReconciliationProvider is a provider that hands back pages directly
// on each call (spec.md §4.3/§4.6 "synchronous paginated provider").
type SyncReconciliationProvider interface {
	FetchPage(ctx context.Context, address, chainAlias, cursorOrFromBlock string) (ProviderPage, error)
}

// AsyncJobStatus is the closed set of statuses AsyncReconciliationProvider.Poll
// reports for a remote job.
type AsyncJobStatus string

const (
	AsyncJobInProgress AsyncJobStatus = "in_progress"
	AsyncJobComplete   AsyncJobStatus = "complete"
)

// AsyncPollResult is one poll response from an async provider.
type AsyncPollResult struct {
	Status      AsyncJobStatus
	Page        *ProviderPage
	NextPageURL string
}

// AsyncReconciliationProvider is a provider that runs reconciliation as a
// remote job the engine submits once and polls thereafter (spec.md §4.3/
// §4.6 "asynchronous job-polling provider", e.g. Noves).
type AsyncReconciliationProvider interface {
	Submit(ctx context.Context, address, chainAlias string, fromBlock, toBlock *uint64) (remoteJobID string, err error)
	Poll(ctx context.Context, remoteJobID, nextPageURL string) (AsyncPollResult, error)
	Abort(ctx context.Context, remoteJobID string) error
}

// BroadcastResult is what a Broadcaster reports for one submitted
// transaction.
type BroadcastResult struct {
	TxHash      string
	BlockNumber *uint64
	Retryable   bool // only meaningful when the call returned an error
}

// Broadcaster abstracts the chain adapter the workflow engine calls when
// entering the broadcasting state, per spec.md §4.4.
type Broadcaster interface {
	Broadcast(ctx context.Context, chainAlias, marshalledHex, signature string) (BroadcastResult, error)
}

// Classifier is what drives C5's per-token spam/verification classification.
type Classifier interface {
	Classify(ctx context.Context, chainAlias, tokenAddress string) (spamClassification string, err error)
}

// ResourceScope narrows a permission check to one resource (e.g. a vault);
// the zero value means org-wide.
type ResourceScope struct {
	Type string
	ID   string
}

// Permissions resolves whether a principal may perform an action, per
// spec.md §4.6. The transport layer (out of scope) is expected to expose
// this as a gRPC-shaped service; the core only ever calls this Go
// interface — see DESIGN.md for why no core package imports
// google.golang.org/grpc directly.
type Permissions interface {
	Check(ctx context.Context, userID, orgID, module, action string, scope *ResourceScope) (allow bool, err error)
}

// AuthContext carries the authenticated principal through a request; the
// transport layer (out of scope) constructs it and passes it down.
type AuthContext struct {
	UserID string
	OrgID  string
}

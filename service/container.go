// Package service wires every component (C1-C6) into one process,
// following the teacher's node-as-the-one-place-dependencies-are-
// constructed convention (cmd/kcn's app.Action building a *node.Node and
// registering services onto it) generalized to reconcore's components
// instead of blockchain protocol services.
package service

import (
	"context"
	"time"

	"github.com/go-redis/redis/v7"

	"github.com/vaultworks/reconcore/classify"
	"github.com/vaultworks/reconcore/contracts"
	"github.com/vaultworks/reconcore/internal/clock"
	"github.com/vaultworks/reconcore/internal/config"
	"github.com/vaultworks/reconcore/internal/eventbus"
	"github.com/vaultworks/reconcore/internal/log"
	"github.com/vaultworks/reconcore/reconcile"
	"github.com/vaultworks/reconcore/repository"
	"github.com/vaultworks/reconcore/store"
	"github.com/vaultworks/reconcore/workflow"
)

var logger = log.NewModuleLogger("service")

// Providers bundles the external collaborators (C6) a Container needs;
// constructing these concrete clients (a chain SDK, CoinGecko, Noves,
// the RBAC resolver's transport) is out of this module's scope, so
// callers inject them.
type Providers struct {
	SyncChains   map[string]contracts.SyncReconciliationProvider
	AsyncChains  map[string]contracts.AsyncReconciliationProvider
	Prices       contracts.PriceProvider
	Classifier   contracts.Classifier
	Broadcaster  contracts.Broadcaster
	Permissions  contracts.Permissions
}

// Container holds every constructed component for one process lifetime.
type Container struct {
	Config *config.Config

	Store *store.Store
	Bus   eventbus.Publisher

	Addresses      *repository.AddressRepo
	Tokens         *repository.TokenRepo
	TokenPrices    *repository.TokenPriceRepo
	TokenHoldings  *repository.TokenHoldingRepo
	Transactions   *repository.TransactionRepo
	Reconciliation *repository.ReconciliationRepo
	Workflows      *repository.WorkflowRepo
	Vaults         *repository.VaultRepo
	RBAC           *repository.RBACRepo

	ReconcileEngine *reconcile.Engine
	ReconcilePool   *reconcile.Pool
	WorkflowEngine  *workflow.Engine
	ClassifyWorker  *classify.Worker
}

// New constructs every component but does not start any background
// worker — call Run for that.
func New(cfg *config.Config, providers Providers) (*Container, error) {
	log.Init(cfg.Log.Level, cfg.Log.Development)

	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	bus, err := eventbus.New(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	}

	c := &Container{
		Config: cfg,
		Store:  st,
		Bus:    bus,

		Addresses:      repository.NewAddressRepo(st, 10000),
		Tokens:         repository.NewTokenRepo(st, 10000),
		TokenPrices:    repository.NewTokenPriceRepo(st, rdb, time.Duration(cfg.Redis.TTLSecs)*time.Second),
		TokenHoldings:  repository.NewTokenHoldingRepo(st),
		Transactions:   repository.NewTransactionRepo(st),
		Reconciliation: repository.NewReconciliationRepo(st),
		Workflows:      repository.NewWorkflowRepo(st),
		Vaults:         repository.NewVaultRepo(st),
		RBAC:           repository.NewRBACRepo(st),
	}

	c.ReconcileEngine = reconcile.New(
		c.Reconciliation, c.Transactions, c.Addresses,
		providers.SyncChains, providers.AsyncChains,
		clock.Real{}, cfg.Reconciliation, bus,
	)
	c.ReconcilePool = reconcile.NewPool(
		c.Reconciliation, c.ReconcileEngine, cfg.Reconciliation.PoolSize,
		time.Duration(cfg.Reconciliation.PollIntervalMillis)*time.Millisecond,
		time.Minute, time.Duration(cfg.Reconciliation.StaleRunningThreshold)*time.Minute,
	)

	c.WorkflowEngine = workflow.New(c.Workflows, providers.Broadcaster, cfg.Workflow, bus)

	c.ClassifyWorker = classify.New(c.Tokens, providers.Classifier, clock.Real{}, cfg.Classification)

	return c, nil
}

// Run starts every background worker. It blocks until ctx is cancelled,
// then stops them in reverse order.
func (c *Container) Run(ctx context.Context) {
	c.ReconcilePool.Start(ctx)
	c.ClassifyWorker.Start(ctx)
	logger.Info("reconcore service started")

	<-ctx.Done()

	logger.Info("reconcore service stopping")
	c.ClassifyWorker.Stop()
	c.ReconcilePool.Stop()
}

// Shutdown releases process-wide resources. Call after Run returns.
func (c *Container) Shutdown() error {
	if err := c.Bus.Close(); err != nil {
		logger.Warn("close event bus failed", "err", err)
	}
	return c.Store.Close()
}

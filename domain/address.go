package domain

import "time"

// Address is a monitored on-chain address belonging to a vault.
//
// Invariant: unique on (LOWER(address), chainAlias).
type Address struct {
	ID                   string
	Address              string
	ChainAlias           string
	VaultID              string
	OrgID                string
	WorkspaceID          string
	Ecosystem            string
	DerivationPath       string
	Alias                string
	IsMonitored          bool
	SubscriptionID       string
	MonitoredAt          *time.Time
	UnmonitoredAt        *time.Time
	LastReconciledBlock  *uint64
	Notes                string
	CreatedAt            time.Time
	UpdatedAt            time.Time
	DeletedAt            *time.Time
}

// AddressToken is a per-address override of a token's display metadata.
//
// Invariant: unique on (AddressID, ContractAddress).
type AddressToken struct {
	AddressID       string
	ContractAddress string
	Symbol          string
	Decimals        *int
	Name            string
	Hidden          bool
}

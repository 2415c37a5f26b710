package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vaultworks/reconcore/contracts"
	"github.com/vaultworks/reconcore/domain"
)

func TestDriftedFields_NoDriftReturnsEmpty(t *testing.T) {
	ts := time.Now()
	existing := domain.Transaction{
		BlockNumber: 100, BlockHash: "0xabc", Value: "10", Fee: "1", Status: domain.TxStatusSuccess,
	}
	observed := contracts.ChainTx{
		BlockNumber: 100, BlockHash: "0xabc", Value: "10", Fee: "1", Status: "success", Timestamp: ts,
	}
	assert.Empty(t, driftedFields(existing, observed))
}

func TestDriftedFields_DetectsEachDriftedField(t *testing.T) {
	existing := domain.Transaction{
		BlockNumber: 100, BlockHash: "0xabc", Value: "10", Fee: "1", Status: domain.TxStatusPending,
	}
	observed := contracts.ChainTx{
		BlockNumber: 101, BlockHash: "0xdef", Value: "20", Fee: "2", Status: "success",
	}
	fields := driftedFields(existing, observed)
	assert.ElementsMatch(t, []string{"blockNumber", "blockHash", "value", "fee", "status"}, fields)
}

func TestDriftedFields_DetectsSingleFieldDrift(t *testing.T) {
	existing := domain.Transaction{
		BlockNumber: 100, BlockHash: "0xabc", Value: "10", Fee: "1", Status: domain.TxStatusSuccess,
	}
	observed := contracts.ChainTx{
		BlockNumber: 100, BlockHash: "0xabc", Value: "10", Fee: "1", Status: "failed",
	}
	assert.Equal(t, []string{"status"}, driftedFields(existing, observed))
}

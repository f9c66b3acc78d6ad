package persistence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trading-bot-go/internal/models"
)

func openTestRepository(t *testing.T) Repository {
	t.Helper()
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestLoadLedgerReturnsNilWhenAbsent(t *testing.T) {
	repo := openTestRepository(t)

	state, err := repo.LoadLedger()

	require.NoError(t, err)
	assert.Nil(t, state, "an empty database must not fabricate a ledger")
}

func TestLedgerRoundTrip(t *testing.T) {
	repo := openTestRepository(t)

	saved := &models.LedgerState{
		Version: 1,
		Cash:    9500.25,
		Positions: map[string]*models.Position{
			"BTC-USD": {Symbol: "BTC-USD", Quantity: 0.1, AvgEntryPrice: 45000},
		},
		MaxEquity:    10200,
		AppliedFills: map[string]bool{"sim-ord-1": true},
		TradeCount:   3,
	}
	require.NoError(t, repo.SaveLedger(saved))

	loaded, err := repo.LoadLedger()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.Cash, loaded.Cash)
	assert.Equal(t, saved.MaxEquity, loaded.MaxEquity)
	assert.Equal(t, 0.1, loaded.Positions["BTC-USD"].Quantity)
	assert.True(t, loaded.AppliedFills["sim-ord-1"])
}

func TestConfigRoundTrip(t *testing.T) {
	repo := openTestRepository(t)

	missing, err := repo.LoadConfig()
	require.NoError(t, err)
	assert.Nil(t, missing)

	saved := &models.Config{Symbols: []string{"BTC-USD"}, MinConfidence: 0.6, MaxPositionPct: 0.05}
	require.NoError(t, repo.SaveConfig(saved))

	loaded, err := repo.LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.Symbols, loaded.Symbols)
	assert.Equal(t, saved.MinConfidence, loaded.MinConfidence)
}

func TestTradeLogKeepsInsertionOrder(t *testing.T) {
	repo := openTestRepository(t)

	for i := 0; i < 5; i++ {
		trade := &models.Trade{
			ID:        fmt.Sprintf("trade-%d", i),
			Symbol:    "BTC-USD",
			Side:      models.Buy,
			Status:    models.TradeFilled,
			CreatedAt: time.Now(),
		}
		require.NoError(t, repo.AppendTrade(trade))
	}

	trades, err := repo.ListTrades(3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	// Newest first.
	assert.Equal(t, "trade-4", trades[0].ID)
	assert.Equal(t, "trade-2", trades[2].ID)

	all, err := repo.ListTrades(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

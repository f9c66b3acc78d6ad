package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimProviderIsDeterministicForFixedSeed(t *testing.T) {
	first := NewSimProvider(42, 0, 0.01)
	second := NewSimProvider(42, 0, 0.01)

	snap1, err := first.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	snap2, err := second.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)

	assert.Equal(t, snap1.Price, snap2.Price)
	assert.Equal(t, snap1.Returns, snap2.Returns)
}

func TestSimProviderFirstSnapshotCarriesFullWindow(t *testing.T) {
	provider := NewSimProvider(7, 0, 0.01)

	snap, err := provider.Snapshot(context.Background(), "ETH-USD")
	require.NoError(t, err)

	assert.Len(t, snap.Returns, ReturnsWindow)
	assert.Greater(t, snap.Price, 0.0)
	assert.Greater(t, snap.Volatility, 0.0)
	assert.Greater(t, snap.Volume, 0.0)
}

func TestSimProviderSymbolsEvolveIndependently(t *testing.T) {
	provider := NewSimProvider(42, 0, 0.01)

	btc, err := provider.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	eth, err := provider.Snapshot(context.Background(), "ETH-USD")
	require.NoError(t, err)

	assert.NotEqual(t, btc.Returns, eth.Returns)
}

func TestSimProviderAdvancesOnEachSnapshot(t *testing.T) {
	provider := NewSimProvider(42, 0, 0.01)

	snap1, err := provider.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	snap2, err := provider.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)

	assert.NotEqual(t, snap1.Price, snap2.Price)
}

func TestLiveProviderKlineWindowRolls(t *testing.T) {
	provider := &LiveProvider{states: map[string]*symbolState{
		"BTC-USD": {
			lastPrice: 45000,
			closes:    []float64{44800, 44900, 45000},
			volumes:   []float64{1000, 1100, 1200},
		},
	}}

	closedEvent := wsKlineEvent{}
	closedEvent.Kline.Close = "45100"
	closedEvent.Kline.QuoteVolume = "1300"
	closedEvent.Kline.Closed = true
	provider.applyKline("BTC-USD", closedEvent)

	snap, err := provider.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 45100.0, snap.Price)
	assert.Len(t, snap.Returns, 3)
	assert.InDelta(t, 1000+1100+1200+1300, snap.Volume, 1e-9)

	// 未收盘的消息只更新最新价，不推进窗口
	tickEvent := wsKlineEvent{}
	tickEvent.Kline.Close = "45200"
	tickEvent.Kline.QuoteVolume = "50"
	provider.applyKline("BTC-USD", tickEvent)

	snap, err = provider.Snapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, 45200.0, snap.Price)
	assert.Len(t, snap.Returns, 3)
}

func TestLiveProviderRejectsEmptyWindow(t *testing.T) {
	provider := &LiveProvider{states: map[string]*symbolState{}}

	_, err := provider.Snapshot(context.Background(), "BTC-USD")

	assert.Error(t, err)
}

func TestStreamSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTCUSDT", streamSymbol("BTC-USD"))
	assert.Equal(t, "ETHUSDT", streamSymbol("ETH-USDT"))
}

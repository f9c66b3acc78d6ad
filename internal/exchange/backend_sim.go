package exchange

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
)

// SimBackend 是确定性的模拟撮合引擎。它只负责定价：
// 滑点由种子和订单内容共同哈希出来，相同的参考价与订单
// 总是产生相同的成交，便于回放和测试断言。
// 资金与持仓的权威在账本侧，这里不重复记账。
type SimBackend struct {
	seed         int64
	slippageRate float64
	feeRate      float64
	latency      time.Duration
	maxNotional  float64
	initialCash  float64

	mu    sync.Mutex
	fills map[string]*models.Fill
}

// NewSimBackend 根据配置构造模拟撮合引擎。
func NewSimBackend(config *models.Config) *SimBackend {
	return &SimBackend{
		seed:         config.SimSeed,
		slippageRate: config.SimSlippageRate,
		feeRate:      config.SimFeeRate,
		latency:      time.Duration(config.SimLatencyMs) * time.Millisecond,
		maxNotional:  config.SimMaxNotional,
		initialCash:  config.InitialCash,
		fills:        make(map[string]*models.Fill),
	}
}

func (s *SimBackend) Mode() models.ExecutionMode {
	return models.ModeSimulated
}

// PlaceMarketOrder 按参考价加滑点立即撮合。
// 超过 SimMaxNotional 的订单模拟流动性不足被拒。
func (s *SimBackend) PlaceMarketOrder(ctx context.Context, order models.Order, refPrice float64) (string, error) {
	if s.latency > 0 {
		select {
		case <-time.After(s.latency):
		case <-ctx.Done():
			return "", &models.ExecutionError{Kind: models.ExecTimeout, Msg: "simulated latency exceeded deadline"}
		}
	}

	notional := order.Quantity * refPrice
	if s.maxNotional > 0 && notional > s.maxNotional {
		return "", &models.ExecutionError{
			Kind: models.ExecRejectedByVenue,
			Msg:  "simulated liquidity exhausted",
		}
	}

	slip := s.slippage(order, refPrice)
	price := refPrice * (1 + slip)
	if order.Side == models.Sell {
		price = refPrice * (1 - slip)
	}
	fee := order.Quantity * price * s.feeRate

	if order.MaxCost > 0 {
		cost := order.Quantity*price - notional
		if order.Side == models.Sell {
			cost = notional - order.Quantity*price
		}
		if cost+fee > order.MaxCost {
			return "", &models.ExecutionError{
				Kind: models.ExecRejectedByVenue,
				Msg:  "simulated execution cost above budget",
			}
		}
	}

	fill := &models.Fill{
		ID:            "sim-" + order.ClientOrderID,
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         price,
		Fee:           fee,
		Mode:          models.ModeSimulated,
		Timestamp:     time.Now(),
	}

	s.mu.Lock()
	s.fills[order.ClientOrderID] = fill
	s.mu.Unlock()

	logger.S().Debugw("模拟成交", "clientOrderId", order.ClientOrderID, "price", price, "slippage", slip)
	return order.ClientOrderID, nil
}

// GetFill 返回撮合结果。适配器对每个订单只查询到成交为止，
// 返回后即删除记录，长时间模拟运行不会积累成交表。
func (s *SimBackend) GetFill(_ context.Context, _ string, orderID string) (*models.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill, ok := s.fills[orderID]
	if !ok {
		return nil, ErrFillPending
	}
	delete(s.fills, orderID)
	return fill, nil
}

// GetBalances 在模拟模式下只返回配置的初始现金。
// 模拟运行时资金的权威是账本，这个接口仅满足后端契约。
func (s *SimBackend) GetBalances(_ context.Context) (*Balances, error) {
	return &Balances{Cash: s.initialCash, Positions: make(map[string]float64)}, nil
}

// slippage 从种子和订单内容哈希出 [0, slippageRate] 内的确定性滑点。
func (s *SimBackend) slippage(order models.Order, refPrice float64) float64 {
	h := fnv.New64a()
	h.Write([]byte(order.Symbol))
	h.Write([]byte(order.Side))
	h.Write([]byte(order.ClientOrderID))
	var buf [16]byte
	writeFloat(buf[:8], order.Quantity)
	writeFloat(buf[8:], refPrice)
	h.Write(buf[:])

	rng := rand.New(rand.NewSource(s.seed ^ int64(h.Sum64())))
	return rng.Float64() * s.slippageRate
}

func writeFloat(dst []byte, f float64) {
	bits := uint64(f * 1e8)
	for i := 0; i < 8; i++ {
		dst[i] = byte(bits >> (8 * i))
	}
}

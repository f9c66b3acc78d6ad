package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"ai-trading-bot-go/internal/models"
)

// 未在基准表中的标的使用的默认起始价
const defaultBasePrice = 100.0

// 各标的的随机游走基准价
var simBasePrices = map[string]float64{
	"BTC-USD": 45000,
	"ETH-USD": 2500,
}

// SimProvider 为每个标的维护一条独立种子的几何随机游走。
// 相同的种子产生相同的价格序列，回测和测试可以逐笔复现。
type SimProvider struct {
	seed     int64
	driftPct float64
	volPct   float64
	mu       sync.Mutex
	walks    map[string]*simWalk
}

type simWalk struct {
	rng     *rand.Rand
	price   float64
	returns []float64
}

// NewSimProvider 构造模拟行情源。drift 与 vol 是单步的百分比参数。
func NewSimProvider(seed int64, driftPct, volPct float64) *SimProvider {
	if volPct <= 0 {
		volPct = 0.01
	}
	return &SimProvider{
		seed:     seed,
		driftPct: driftPct,
		volPct:   volPct,
		walks:    make(map[string]*simWalk),
	}
}

// Snapshot 把该标的的游走推进一步并返回最新快照。
func (p *SimProvider) Snapshot(_ context.Context, symbol string) (*models.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	walk, ok := p.walks[symbol]
	if !ok {
		walk = p.newWalk(symbol)
		p.walks[symbol] = walk
	}

	step := p.driftPct + walk.rng.NormFloat64()*p.volPct
	walk.price *= 1 + step
	walk.returns = append(walk.returns, step)
	if len(walk.returns) > ReturnsWindow {
		walk.returns = walk.returns[len(walk.returns)-ReturnsWindow:]
	}

	returns := make([]float64, len(walk.returns))
	copy(returns, walk.returns)

	return &models.Snapshot{
		Symbol:     symbol,
		Price:      walk.price,
		Volume:     walk.price * (50000 + walk.rng.Float64()*50000), // 合成的 24h 名义成交量
		Returns:    returns,
		Volatility: sampleStdDev(returns),
		Timestamp:  time.Now(),
	}, nil
}

// newWalk 用主种子加标的名派生每个标的自己的子种子，
// 保证多标的下各自序列互不干扰且仍然可复现。
func (p *SimProvider) newWalk(symbol string) *simWalk {
	var sub int64
	for _, c := range symbol {
		sub = sub*31 + int64(c)
	}
	rng := rand.New(rand.NewSource(p.seed ^ sub))

	price, ok := simBasePrices[symbol]
	if !ok {
		price = defaultBasePrice
	}

	// 预热一段历史，首个快照就带满收益率窗口
	walk := &simWalk{rng: rng, price: price}
	for i := 0; i < ReturnsWindow; i++ {
		step := p.driftPct + rng.NormFloat64()*p.volPct
		walk.price *= 1 + step
		walk.returns = append(walk.returns, step)
	}
	return walk
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)-1))
}

// String 便于日志标识行情来源
func (p *SimProvider) String() string {
	return fmt.Sprintf("sim(seed=%d)", p.seed)
}

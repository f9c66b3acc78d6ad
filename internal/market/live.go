package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
)

const (
	wsEndpoint       = "wss://stream.binance.com:9443/ws"
	wsReadTimeout    = 90 * time.Second
	wsReconnectDelay = 5 * time.Second
	klineInterval    = "1m"
)

// LiveProvider 从币安组装实盘快照：
// 启动时通过 REST K 线预热收益率窗口，之后由 WebSocket
// K 线流持续推进。断线后自动重连并重新预热。
type LiveProvider struct {
	client *binance.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	states map[string]*symbolState
}

type symbolState struct {
	lastPrice float64
	closes    []float64
	volumes   []float64 // 与 closes 对齐的每根 K 线成交额
}

// windowVolume 窗口内累计成交额，作为流动性近似
func (s *symbolState) windowVolume() float64 {
	var total float64
	for _, v := range s.volumes {
		total += v
	}
	return total
}

// NewLiveProvider 预热各标的的历史并启动行情流。
// 任一标的预热失败则整体失败：没有历史窗口就无法分类行情。
func NewLiveProvider(ctx context.Context, symbols []string) (*LiveProvider, error) {
	streamCtx, cancel := context.WithCancel(context.Background())
	p := &LiveProvider{
		client: binance.NewClient("", ""), // 行情接口无需鉴权
		cancel: cancel,
		states: make(map[string]*symbolState),
	}

	for _, symbol := range symbols {
		if err := p.warmUp(ctx, symbol); err != nil {
			cancel()
			return nil, fmt.Errorf("warm up %s: %w", symbol, err)
		}
		p.wg.Add(1)
		go p.streamLoop(streamCtx, symbol)
	}
	return p, nil
}

// Snapshot 从当前窗口组装快照。窗口为空说明行情流尚未就绪。
func (p *LiveProvider) Snapshot(_ context.Context, symbol string) (*models.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state, ok := p.states[symbol]
	if !ok || len(state.closes) < 2 {
		return nil, fmt.Errorf("no market data for %s yet", symbol)
	}

	returns := make([]float64, 0, len(state.closes)-1)
	for i := 1; i < len(state.closes); i++ {
		returns = append(returns, state.closes[i]/state.closes[i-1]-1)
	}

	return &models.Snapshot{
		Symbol:     symbol,
		Price:      state.lastPrice,
		Volume:     state.windowVolume(),
		Returns:    returns,
		Volatility: sampleStdDev(returns),
		Timestamp:  time.Now(),
	}, nil
}

// Close 停止所有行情流并等待 goroutine 退出。
func (p *LiveProvider) Close() {
	p.cancel()
	p.wg.Wait()
}

// warmUp 拉取最近的 K 线填满收益率窗口。
func (p *LiveProvider) warmUp(ctx context.Context, symbol string) error {
	klines, err := p.client.NewKlinesService().
		Symbol(streamSymbol(symbol)).
		Interval(klineInterval).
		Limit(ReturnsWindow + 1).
		Do(ctx)
	if err != nil {
		return err
	}
	if len(klines) < 2 {
		return fmt.Errorf("venue returned %d klines", len(klines))
	}

	state := &symbolState{}
	for _, k := range klines {
		closePrice, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			return fmt.Errorf("parse kline close: %w", err)
		}
		quoteVolume, _ := strconv.ParseFloat(k.QuoteAssetVolume, 64)
		state.closes = append(state.closes, closePrice)
		state.volumes = append(state.volumes, quoteVolume)
	}
	state.lastPrice = state.closes[len(state.closes)-1]

	p.mu.Lock()
	p.states[symbol] = state
	p.mu.Unlock()

	logger.S().Infow("行情预热完成", "symbol", symbol, "klines", len(klines), "price", state.lastPrice)
	return nil
}

// streamLoop 维护单个标的的 WebSocket 连接，断开后退避重连。
func (p *LiveProvider) streamLoop(ctx context.Context, symbol string) {
	defer p.wg.Done()

	url := fmt.Sprintf("%s/%s@kline_%s", wsEndpoint, strings.ToLower(streamSymbol(symbol)), klineInterval)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.readStream(ctx, symbol, url); err != nil {
			logger.S().Warnw("行情流断开，稍后重连", "symbol", symbol, "error", err)
		}
		select {
		case <-time.After(wsReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// wsKlineEvent 只解码我们关心的字段
type wsKlineEvent struct {
	Kline struct {
		Close       string `json:"c"`
		QuoteVolume string `json:"q"`
		Closed      bool   `json:"x"`
	} `json:"k"`
}

func (p *LiveProvider) readStream(ctx context.Context, symbol, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// 交易所主动发 ping，回 pong 并顺延读超时即可保活
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(10*time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var event wsKlineEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			logger.S().Warnw("无法解析行情消息", "symbol", symbol, "error", err)
			continue
		}
		p.applyKline(symbol, event)
	}
}

// applyKline 用最新价更新快照；K 线收盘时推进收益率窗口。
func (p *LiveProvider) applyKline(symbol string, event wsKlineEvent) {
	closePrice, err := strconv.ParseFloat(event.Kline.Close, 64)
	if err != nil || closePrice <= 0 {
		return
	}
	quoteVolume, _ := strconv.ParseFloat(event.Kline.QuoteVolume, 64)

	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.states[symbol]
	if !ok {
		return
	}
	state.lastPrice = closePrice
	if event.Kline.Closed {
		state.closes = append(state.closes, closePrice)
		state.volumes = append(state.volumes, quoteVolume)
		if len(state.closes) > ReturnsWindow+1 {
			state.closes = state.closes[len(state.closes)-(ReturnsWindow+1):]
			state.volumes = state.volumes[len(state.volumes)-(ReturnsWindow+1):]
		}
	}
}

// streamSymbol 把内部符号 (BTC-USD) 转成币安符号 (BTCUSDT)
func streamSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	if strings.HasSuffix(s, "USD") && !strings.HasSuffix(s, "USDT") {
		s += "T"
	}
	return s
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
)

// 实盘下单的默认本地限速，避免触发交易所 -1003
const defaultRequestsPerSecond = 5

// LiveBackend 通过币安现货接口执行真实订单。
// 所有请求经过本地令牌桶限速，交易所错误码被翻译成统一的
// ExecutionError 分类，供上层决定是否重试。
type LiveBackend struct {
	client  *binance.Client
	limiter *rate.Limiter
	feeRate float64
}

// NewLiveBackend 使用 API 凭证构造实盘后端。
func NewLiveBackend(apiKey, apiSecret string, feeRate, requestsPerSecond float64) *LiveBackend {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	return &LiveBackend{
		client:  binance.NewClient(apiKey, apiSecret),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		feeRate: feeRate,
	}
}

func (l *LiveBackend) Mode() models.ExecutionMode {
	return models.ModeLive
}

// PlaceMarketOrder 提交市价单。客户端订单号原样透传，
// 便于之后按它幂等地查询成交。
func (l *LiveBackend) PlaceMarketOrder(ctx context.Context, order models.Order, _ float64) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", &models.ExecutionError{Kind: models.ExecTimeout, Msg: "rate limiter wait: " + err.Error()}
	}

	side := binance.SideTypeBuy
	if order.Side == models.Sell {
		side = binance.SideTypeSell
	}

	resp, err := l.client.NewCreateOrderService().
		Symbol(venueSymbol(order.Symbol)).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(order.Quantity, 'f', -1, 64)).
		NewClientOrderID(order.ClientOrderID).
		Do(ctx)
	if err != nil {
		return "", translateVenueError(err)
	}
	logger.S().Infow("实盘订单已提交", "clientOrderId", resp.ClientOrderID, "venueOrderId", resp.OrderID)
	return resp.ClientOrderID, nil
}

// GetFill 按客户端订单号查询成交。订单仍在撮合时返回 ErrFillPending。
func (l *LiveBackend) GetFill(ctx context.Context, symbol, orderID string) (*models.Fill, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &models.ExecutionError{Kind: models.ExecTimeout, Msg: "rate limiter wait: " + err.Error()}
	}

	venueOrder, err := l.client.NewGetOrderService().
		Symbol(venueSymbol(symbol)).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		return nil, translateVenueError(err)
	}

	switch venueOrder.Status {
	case binance.OrderStatusTypeFilled:
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return nil, ErrFillPending
	default:
		return nil, &models.ExecutionError{
			Kind: models.ExecRejectedByVenue,
			Msg:  fmt.Sprintf("order ended in status %s", venueOrder.Status),
		}
	}

	executedQty, err := strconv.ParseFloat(venueOrder.ExecutedQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parse executed quantity: %w", err)
	}
	quoteQty, err := strconv.ParseFloat(venueOrder.CummulativeQuoteQuantity, 64)
	if err != nil {
		return nil, fmt.Errorf("parse quote quantity: %w", err)
	}
	if executedQty <= 0 {
		return nil, ErrFillPending
	}

	avgPrice := quoteQty / executedQty
	return &models.Fill{
		ID:            strconv.FormatInt(venueOrder.OrderID, 10),
		ClientOrderID: venueOrder.ClientOrderID,
		Symbol:        symbol,
		Side:          models.Side(strings.ToUpper(string(venueOrder.Side))),
		Quantity:      executedQty,
		Price:         avgPrice,
		Fee:           quoteQty * l.feeRate,
		Mode:          models.ModeLive,
		Timestamp:     parseVenueTime(venueOrder.UpdateTime),
	}, nil
}

// GetBalances 查询现货账户，USD 类稳定币合并计为现金。
func (l *LiveBackend) GetBalances(ctx context.Context) (*Balances, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, &models.ExecutionError{Kind: models.ExecTimeout, Msg: "rate limiter wait: " + err.Error()}
	}

	account, err := l.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, translateVenueError(err)
	}

	balances := &Balances{Positions: make(map[string]float64)}
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil || free == 0 {
			continue
		}
		switch b.Asset {
		case "USDT", "USDC", "BUSD":
			balances.Cash += free
		default:
			balances.Positions[b.Asset+"-USD"] = free
		}
	}
	return balances, nil
}

func parseVenueTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// venueSymbol 把内部符号 (BTC-USD) 转成币安现货符号 (BTCUSDT)
func venueSymbol(symbol string) string {
	s := strings.ReplaceAll(symbol, "-", "")
	if strings.HasSuffix(s, "USD") && !strings.HasSuffix(s, "USDT") {
		s += "T"
	}
	return s
}

// translateVenueError 把交易所错误码翻译成统一分类。
// 只有限速和超时被视为瞬时错误，其余一律不重试。
func translateVenueError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &models.ExecutionError{Kind: models.ExecTimeout, Msg: err.Error()}
	}

	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		// 网络层故障按超时处理，可重试
		return &models.ExecutionError{Kind: models.ExecTimeout, Msg: err.Error()}
	}

	kind := models.ExecRejectedByVenue
	switch apiErr.Code {
	case -2014, -2015, -1022:
		kind = models.ExecAuthFailure
	case -2010, -2019:
		kind = models.ExecInsufficientFunds
	case -1003, -1015:
		kind = models.ExecRateLimited
	case -1021:
		kind = models.ExecTimeout
	}
	return &models.ExecutionError{Kind: kind, Code: apiErr.Code, Msg: apiErr.Message}
}

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"

	"github.com/sony/gobreaker"
)

// LLMAnalyzer 通过 OpenAI 兼容的 chat completions 接口请求市场分析。
// 外部模型被视为不可靠协作方：所有响应在边界处按严格模式归一化，
// 连续失败会触发熔断，熔断期间调用立即失败而不是等待超时。
type LLMAnalyzer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// NewLLMAnalyzer 创建一个带熔断器的分析客户端
func NewLLMAnalyzer(baseURL, apiKey, model string, maxFailures uint32, cooldown time.Duration) *LLMAnalyzer {
	settings := gobreaker.Settings{
		Name:    "ai-analysis",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.S().Warnf("分析后端熔断器状态变化: %s -> %s", from, to)
		},
	}
	return &LLMAnalyzer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{}, // 超时由调用方的 context 控制
		breaker:    gobreaker.NewCircuitBreaker(settings),
	}
}

// chatRequest / chatResponse 是 OpenAI 兼容接口的最小载荷
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// analysisPayload 是要求模型输出的 JSON 形状，置信度为 0-100
type analysisPayload struct {
	Regime         string  `json:"regime"`
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	Risks          string  `json:"risks"`
}

const systemPrompt = "You are an expert cryptocurrency trading analyst. " +
	"Analyze market data and provide clear, concise trading recommendations with reasoning."

// Analyze 请求一次市场分析并把结果归一化为严格模式
func (a *LLMAnalyzer) Analyze(ctx context.Context, snap models.Snapshot, regime models.RegimeLabel) (*models.AnalysisResult, error) {
	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.analyzeOnce(ctx, snap, regime)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.AnalysisResult), nil
}

func (a *LLMAnalyzer) analyzeOnce(ctx context.Context, snap models.Snapshot, regime models.RegimeLabel) (*models.AnalysisResult, error) {
	prompt := buildPrompt(snap, regime)

	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求分析后端失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取分析响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("分析后端返回 HTTP %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return nil, fmt.Errorf("解析分析响应失败: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("分析响应为空")
	}

	return Normalize([]byte(extractJSON(cr.Choices[0].Message.Content)), regime)
}

// buildPrompt 组装分析提示词，要求按固定 JSON 形状作答
func buildPrompt(snap models.Snapshot, regime models.RegimeLabel) string {
	return fmt.Sprintf(`Analyze the following market data for %s:

Current Price: $%.2f
Recent Volatility: %.4f
Volume (notional): %.0f
Detected Regime: %s

Provide:
1. Market regime assessment (TREND/MEAN_REVERSION/VOLATILITY_CRUSH/SHOCK)
2. BUY/HOLD/SELL recommendation
3. Confidence level (0-100)
4. Brief reasoning (2-3 sentences)
5. Key risk factors

Respond in this JSON format:
{"regime": "<regime>", "recommendation": "<BUY|HOLD|SELL>", "confidence": <0-100>, "reasoning": "<explanation>", "risks": "<key risks>"}`,
		snap.Symbol, snap.Price, snap.Volatility, snap.Volume, regime)
}

// Normalize 把外部返回的原始 JSON 归一化为 AnalysisResult。
// 方向非法视为格式错误；置信度越界会被记录并钳制，绝不原样信任。
func Normalize(raw []byte, fallbackRegime models.RegimeLabel) (*models.AnalysisResult, error) {
	var p analysisPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("分析结果不是合法 JSON: %w", err)
	}

	direction := models.Direction(strings.ToUpper(strings.TrimSpace(p.Recommendation)))
	switch direction {
	case models.DirectionBuy, models.DirectionSell, models.DirectionHold:
	default:
		return nil, fmt.Errorf("非法的方向: %q", p.Recommendation)
	}

	confidence := p.Confidence / 100
	if p.Confidence < 0 || p.Confidence > 100 {
		logger.S().Warnf("分析后端返回越界置信度 %.2f, 已钳制", p.Confidence)
		if confidence < 0 {
			confidence = 0
		} else if confidence > 1 {
			confidence = 1
		}
	}

	return &models.AnalysisResult{
		Regime:         parseRegime(p.Regime, fallbackRegime),
		Recommendation: direction,
		Confidence:     confidence,
		Reasoning:      p.Reasoning,
		Risks:          p.Risks,
	}, nil
}

func parseRegime(s string, fallback models.RegimeLabel) models.RegimeLabel {
	switch models.RegimeLabel(strings.ToUpper(strings.TrimSpace(s))) {
	case models.RegimeTrend:
		return models.RegimeTrend
	case models.RegimeMeanReversion:
		return models.RegimeMeanReversion
	case models.RegimeVolatilityCrush:
		return models.RegimeVolatilityCrush
	case models.RegimeShock:
		return models.RegimeShock
	}
	return fallback
}

// extractJSON 截取首个 '{' 到末个 '}' 之间的内容，容忍模型在 JSON 外包裹说明文字
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

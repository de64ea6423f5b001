package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/internal/metrics"
	"github.com/BaSui01/knowledgeflow/internal/telemetry"
	"github.com/BaSui01/knowledgeflow/internal/tlsutil"
	"github.com/BaSui01/knowledgeflow/llm/retry"
	"github.com/BaSui01/knowledgeflow/types"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	providerName = "openai-compatible"
	probeTimeout = 3 * time.Second
	availableKey = "llm:available"
	statusUp     = "1"
	statusDown   = "0"
)

// StatusCache 可用性探测结果的共享缓存，*cache.Manager 满足该接口
type StatusCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// GatewayOption 配置 OpenAIGateway
type GatewayOption func(*OpenAIGateway)

// WithStatusCache 使多个实例共享可用性探测结果
func WithStatusCache(c StatusCache) GatewayOption {
	return func(g *OpenAIGateway) { g.status = c }
}

// WithMetrics 记录网关调用指标
func WithMetrics(c *metrics.Collector) GatewayOption {
	return func(g *OpenAIGateway) { g.metrics = c }
}

// WithHTTPClient 替换默认的 HTTP 客户端
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *OpenAIGateway) { g.client = c }
}

// WithRetryPolicy 替换默认重试策略
func WithRetryPolicy(p retry.Policy) GatewayOption {
	return func(g *OpenAIGateway) { g.retryer = retry.New(p, g.logger) }
}

// OpenAIGateway 基于 OpenAI 兼容 HTTP 协议的 Gateway 实现
type OpenAIGateway struct {
	cfg     config.LLMConfig
	client  *http.Client
	limiter *rate.Limiter
	retryer *retry.Retryer
	status  StatusCache
	metrics *metrics.Collector
	logger  *zap.Logger

	// 未配置 StatusCache 时的本地探测缓存
	mu        sync.Mutex
	probedAt  time.Time
	available bool
}

var _ Gateway = (*OpenAIGateway)(nil)

// NewOpenAIGateway 创建网关
func NewOpenAIGateway(cfg config.LLMConfig, logger *zap.Logger, opts ...GatewayOption) *OpenAIGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 30 * time.Second
	}
	logger = logger.With(zap.String("component", "llm_gateway"))

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries

	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	g := &OpenAIGateway{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
	g.retryer = retry.New(policy, logger)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete 调用 /chat/completions
func (g *OpenAIGateway) Complete(ctx context.Context, messages []types.Message, opts Options) (*Completion, error) {
	if g.cfg.APIKey == "" {
		return nil, types.NewError(types.ErrServiceUnavailable, "LLM API key is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	model := opts.Model
	if model == "" {
		model = g.cfg.ChatModel
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	ctx, span := telemetry.StartSpan(ctx, "llm.complete",
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(opts.Tools)),
	)

	body := chatRequest{
		Model:       model,
		Messages:    encodeMessages(messages),
		Tools:       encodeTools(opts.Tools),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = opts.ToolChoice
	}
	if opts.ResponseFormat != "" {
		body.ResponseFormat = &wireResponseFormat{Type: opts.ResponseFormat}
	}

	start := time.Now()
	completion, err := retry.Do(ctx, g.retryer, func(ctx context.Context) (*Completion, error) {
		var resp chatResponse
		if err := g.post(ctx, "/chat/completions", body, &resp); err != nil {
			return nil, err
		}
		c, ok := decodeCompletion(resp)
		if !ok {
			return nil, types.NewError(types.ErrMalformedResponse, "completion has no choices").
				WithHTTPStatus(http.StatusBadGateway).
				WithProvider(providerName)
		}
		return c, nil
	})
	duration := time.Since(start)

	if err != nil {
		g.metrics.RecordLLMRequest("complete", model, "error", duration, 0, 0)
		g.logger.Warn("completion failed", zap.String("model", model), zap.Duration("duration", duration), zap.Error(err))
		telemetry.EndSpan(span, err)
		return nil, err
	}

	g.metrics.RecordLLMRequest("complete", model, "success", duration, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	g.logger.Debug("completion finished",
		zap.String("model", model),
		zap.String("finish_reason", completion.FinishReason),
		zap.Int("tool_calls", len(completion.ToolCalls)),
		zap.Int("total_tokens", completion.Usage.TotalTokens),
		zap.Duration("duration", duration),
	)
	span.SetAttributes(attribute.Int("llm.total_tokens", completion.Usage.TotalTokens))
	telemetry.EndSpan(span, nil)
	return completion, nil
}

// Embed 调用 /embeddings
func (g *OpenAIGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.cfg.APIKey == "" {
		return nil, types.NewError(types.ErrServiceUnavailable, "LLM API key is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	model := g.cfg.EmbeddingModel

	ctx, span := telemetry.StartSpan(ctx, "llm.embed", attribute.String("llm.model", model))

	start := time.Now()
	vec, err := retry.Do(ctx, g.retryer, func(ctx context.Context) ([]float32, error) {
		var resp embeddingResponse
		if err := g.post(ctx, "/embeddings", embeddingRequest{Model: model, Input: text}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, types.NewError(types.ErrMalformedResponse, "embedding response has no data").
				WithHTTPStatus(http.StatusBadGateway).
				WithProvider(providerName)
		}
		return resp.Data[0].Embedding, nil
	})
	duration := time.Since(start)

	if err != nil {
		g.metrics.RecordLLMRequest("embed", model, "error", duration, 0, 0)
		g.logger.Warn("embedding failed", zap.String("model", model), zap.Error(err))
		telemetry.EndSpan(span, err)
		return nil, err
	}

	g.metrics.RecordLLMRequest("embed", model, "success", duration, 0, 0)
	span.SetAttributes(attribute.Int("llm.dimension", len(vec)))
	telemetry.EndSpan(span, nil)
	return vec, nil
}

// Available 报告网关是否可用：未配置 API Key 直接返回 false，
// 否则 GET /models 探测，结果缓存 AvailabilityTTL。
// 调用方 ctx 已取消时返回 false 且不写缓存。
func (g *OpenAIGateway) Available(ctx context.Context) bool {
	if g.cfg.APIKey == "" {
		return false
	}
	if ctx.Err() != nil {
		return false
	}

	if g.status != nil {
		if v, err := g.status.Get(ctx, availableKey); err == nil {
			return v == statusUp
		}
		up := g.probe(ctx)
		val := statusDown
		if up {
			val = statusUp
		}
		if err := g.status.Set(ctx, availableKey, val, g.cfg.AvailabilityTTL); err != nil {
			g.logger.Debug("failed to cache availability", zap.Error(err))
		}
		return up
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.probedAt.IsZero() && time.Since(g.probedAt) < g.cfg.AvailabilityTTL {
		return g.available
	}
	g.available = g.probe(ctx)
	g.probedAt = time.Now()
	return g.available
}

// probe 不继承调用方的取消，结果会被其他请求共享
func (g *OpenAIGateway) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint("/models"), nil)
	if err != nil {
		return false
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("LLM availability probe failed", zap.Error(err))
		return false
	}
	defer safeClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("LLM availability probe rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("message", ReadErrorMessage(resp.Body)),
		)
		return false
	}
	return true
}

// post 发送一次 JSON 请求并解码响应，不含重试
func (g *OpenAIGateway) post(ctx context.Context, path string, body, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrRateLimited, "rate limiter wait failed").
			WithHTTPStatus(http.StatusTooManyRequests).
			WithCause(err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	g.setHeaders(req)

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewError(types.ErrTimeout, "request canceled").
				WithHTTPStatus(http.StatusGatewayTimeout).
				WithProvider(providerName).
				WithCause(ctx.Err())
		}
		return networkError(err, providerName)
	}
	defer safeClose(resp.Body)

	if resp.StatusCode >= 400 {
		return MapHTTPError(resp.StatusCode, ReadErrorMessage(resp.Body), providerName)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformedError(err, providerName)
	}
	return nil
}

func (g *OpenAIGateway) endpoint(path string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + path
}

func (g *OpenAIGateway) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func safeClose(body io.ReadCloser) {
	if body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
		_ = body.Close()
	}
}

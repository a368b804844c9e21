package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
)

// rateLimitedModel 在每次调用模型前等待令牌，WithTools 的副本共享同一个 limiter
type rateLimitedModel struct {
	inner   model.ToolCallingChatModel
	limiter *rate.Limiter
}

// WithRateLimit 限制每秒请求数；rps <= 0 时原样返回
func WithRateLimit(cm model.ToolCallingChatModel, rps float64, burst int) model.ToolCallingChatModel {
	if cm == nil || rps <= 0 {
		return cm
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimitedModel{inner: cm, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (m *rateLimitedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for model rate limit: %w", err)
	}
	return m.inner.Generate(ctx, input, opts...)
}

func (m *rateLimitedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for model rate limit: %w", err)
	}
	return m.inner.Stream(ctx, input, opts...)
}

func (m *rateLimitedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := m.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &rateLimitedModel{inner: bound, limiter: m.limiter}, nil
}

// SharingRateLimit 让 cm 与已限流的 with 共用同一个 limiter；with 未限流时原样返回 cm
func SharingRateLimit(cm, with model.ToolCallingChatModel) model.ToolCallingChatModel {
	limited, ok := with.(*rateLimitedModel)
	if cm == nil || !ok {
		return cm
	}
	return &rateLimitedModel{inner: cm, limiter: limited.limiter}
}

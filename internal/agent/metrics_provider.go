package agent

import (
	"context"
	"time"

	"github.com/agentcore/runtime/internal/observability"
)

// metricsProvider wraps an LLMProvider, recording request duration, token
// usage, and success/failure counts on the shared Metrics registry (§4.1,
// §7). It changes no behavior of the wrapped provider; a Complete error or
// a streamed CompletionChunk.Error both count as a "error" status.
type metricsProvider struct {
	inner   LLMProvider
	metrics *observability.Metrics
}

// InstrumentProvider wraps provider so every Complete call is recorded on
// metrics. metrics may be nil, in which case provider is returned unwrapped.
func InstrumentProvider(provider LLMProvider, metrics *observability.Metrics) LLMProvider {
	if metrics == nil {
		return provider
	}
	return &metricsProvider{inner: provider, metrics: metrics}
}

func (p *metricsProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	model := req.Model
	start := time.Now()

	upstream, err := p.inner.Complete(ctx, req)
	if err != nil {
		p.metrics.RecordLLMRequest(p.inner.Name(), model, "error", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}

	out := make(chan *CompletionChunk, 1)
	go func() {
		defer close(out)
		status := "success"
		var inputTokens, outputTokens int
		for chunk := range upstream {
			if chunk.Error != nil {
				status = "error"
			}
			if chunk.Done {
				inputTokens = chunk.InputTokens
				outputTokens = chunk.OutputTokens
			}
			out <- chunk
		}
		p.metrics.RecordLLMRequest(p.inner.Name(), model, status, time.Since(start).Seconds(), inputTokens, outputTokens)
	}()

	return out, nil
}

func (p *metricsProvider) Name() string        { return p.inner.Name() }
func (p *metricsProvider) Models() []Model     { return p.inner.Models() }
func (p *metricsProvider) SupportsTools() bool { return p.inner.SupportsTools() }

package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// StageMeta is the `_stage_meta` block a stage function returns alongside
// its output (§4.F, §6).
type StageMeta struct {
	Stage     string
	Model     string
	TokensIn  int
	TokensOut int
	DurationS float64
	CostUSD   float64
}

// StageResult is what a stage function returns: the value destined for its
// registry output key, plus execution metadata. A stage function must not
// persist anything itself — the runner does that after the call returns
// (§4.F "Side effects forbidden inside the stage function").
type StageResult struct {
	Output string
	Meta   StageMeta
}

// StageFunc is the pluggable stage-function contract (§6). Implementations
// live outside the core engine; Stages (stages.go) supplies the built-in
// deterministic ones this repo ships with.
type StageFunc func(ctx context.Context, snap Snapshot) (StageResult, error)

// modelPricing is the per-million-token price table cost accounting looks
// up by model name (§4.F); an unknown model yields a zero cost rather than
// failing the stage.
var modelPricing = map[string]struct{ In, Out float64 }{
	"gpt-4o":            {In: 2.50, Out: 10.00},
	"gpt-4o-mini":       {In: 0.15, Out: 0.60},
	"claude-3-5-sonnet": {In: 3.00, Out: 15.00},
	"claude-3-5-haiku":  {In: 0.80, Out: 4.00},
}

// CostUSD applies the §4.F cost formula: unknown models price at 0, never
// an error, so a missing price entry never blocks a stage from completing.
func CostUSD(model string, tokensIn, tokensOut int) float64 {
	price, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(tokensIn)/1e6*price.In + float64(tokensOut)/1e6*price.Out
}

var tracer = otel.Tracer("pipeline")

// Execute invokes fn, timing it and wrapping it in an OTel span
// (`stage.execute`, attributes post_id/stage/provider — §4.F) without
// polluting the StageFunc contract with tracing concerns. Errors are
// returned unwrapped so the caller can still tell an explicit permanent
// StageError from a retryable one.
func Execute(ctx context.Context, postID string, def StageDef, snap Snapshot, fn StageFunc) (StageResult, error) {
	providers := make([]string, 0, len(def.Providers))
	for _, p := range def.Providers {
		providers = append(providers, string(p))
	}
	attrs := []attribute.KeyValue{
		attribute.String("post_id", postID),
		attribute.String("stage", string(def.Stage)),
	}
	if len(providers) > 0 {
		attrs = append(attrs, attribute.StringSlice("provider", providers))
	}

	ctx, span := tracer.Start(ctx, "stage.execute", trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	result, err := fn(ctx, snap)
	result.Meta.DurationS = time.Since(start).Seconds()
	result.Meta.Stage = string(def.Stage)
	result.Meta.CostUSD = CostUSD(result.Meta.Model, result.Meta.TokensIn, result.Meta.TokensOut)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}
	return result, nil
}

// toLogEntry converts StageMeta into the persisted StageLogEntry shape
// (Post.StageLogs, §3).
func (m StageMeta) toLogEntry(recordedAt time.Time) content.StageLogEntry {
	return content.StageLogEntry{
		Model:      m.Model,
		TokensIn:   m.TokensIn,
		TokensOut:  m.TokensOut,
		DurationS:  m.DurationS,
		CostUSD:    m.CostUSD,
		RecordedAt: recordedAt.UTC().Format(time.RFC3339),
	}
}

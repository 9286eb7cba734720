package pipeline

import (
	"context"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// StageFuncs maps a stage name to its StageFunc implementation. Real
// provider-backed implementations are pluggable (§6 "implementations live
// outside the core"); DefaultStageFuncs supplies deterministic built-ins
// so the engine is runnable standalone and test-friendly.
type StageFuncs map[content.Stage]StageFunc

// DefaultStageFuncs returns a placeholder implementation per stage: each
// simply echoes `"<stage>-output"` with a fixed cost-accounting meta. This
// mirrors the deterministic stub contract SPEC_FULL.md's scenarios (S1,
// S4) describe stage functions as satisfying, and gives every registered
// stage a real, swappable entry rather than leaving the map partial. The
// images stage is the one exception: its manifest/fan-out/counters
// bookkeeping is core-engine contract, not pluggable provider logic (§1),
// so it gets the deterministic-but-real imagesStageFunc instead of the
// generic echo (see images.go).
func DefaultStageFuncs() StageFuncs {
	funcs := StageFuncs{}
	for _, def := range Registry {
		def := def
		funcs[def.Stage] = func(ctx context.Context, snap Snapshot) (StageResult, error) {
			PublishLog(ctx, "running "+string(def.Stage), "info")
			model := snap.RulesMeta.Model
			if model == "" {
				model = "m"
			}
			return StageResult{
				Output: string(def.Stage) + "-output",
				Meta: StageMeta{
					Model:     model,
					TokensIn:  100,
					TokensOut: 200,
				},
			}, nil
		}
	}
	funcs[content.StageImages] = imagesStageFunc
	return funcs
}

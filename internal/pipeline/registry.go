package pipeline

import (
	"fmt"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// ProviderTag names the class of external dependency a stage calls out to,
// surfaced as the `provider` attribute of the stage-execution span (§4.F).
type ProviderTag string

const (
	ProviderSearch  ProviderTag = "search"
	ProviderLLMText ProviderTag = "llm-text"
	ProviderImage   ProviderTag = "image-gen"
)

// StageDef is one row of the Stage Registry (§4.E): everything the runner
// needs to know about a stage that isn't the stage function itself.
type StageDef struct {
	Stage       content.Stage
	OutputKey   string
	Providers   []ProviderTag
	RulesFile   string
	ContentKeys []string
}

// Registry is the ordered, compile-time-fixed stage table. Adding a stage
// is a change here plus a stage function (see stages.go) — the runner
// itself stays oblivious to what any given stage does.
var Registry = []StageDef{
	{
		Stage:       content.StageResearch,
		OutputKey:   "research",
		Providers:   []ProviderTag{ProviderSearch},
		RulesFile:   "blog-research.md",
		ContentKeys: []string{"research_content"},
	},
	{
		Stage:       content.StageOutline,
		OutputKey:   "outline",
		Providers:   []ProviderTag{ProviderLLMText},
		RulesFile:   "blog-outline.md",
		ContentKeys: []string{"outline_content"},
	},
	{
		Stage:       content.StageWrite,
		OutputKey:   "draft",
		Providers:   []ProviderTag{ProviderLLMText},
		RulesFile:   "blog-write.md",
		ContentKeys: []string{"draft_content"},
	},
	{
		Stage:       content.StageEdit,
		OutputKey:   "final_md",
		Providers:   []ProviderTag{ProviderLLMText},
		RulesFile:   "blog-edit.md",
		ContentKeys: []string{"final_md_content", "final_html_content"},
	},
	{
		Stage:       content.StageImages,
		OutputKey:   "image_manifest",
		Providers:   []ProviderTag{ProviderLLMText, ProviderImage},
		RulesFile:   "blog-images.md",
		ContentKeys: []string{"image_manifest"},
	},
	{
		Stage:       content.StageReady,
		OutputKey:   "ready",
		Providers:   []ProviderTag{ProviderLLMText},
		RulesFile:   "blog-ready.md",
		ContentKeys: []string{"ready_content"},
	},
}

// LookupStage returns the registry row for name, or an error if name is not
// a registered stage — an unrecognized stage is a caller error (§4.G), not
// a gate decision.
func LookupStage(name string) (StageDef, error) {
	for _, def := range Registry {
		if string(def.Stage) == name {
			return def, nil
		}
	}
	return StageDef{}, fmt.Errorf("pipeline: unregistered stage %q", name)
}

// NextIncomplete returns the first stage after from (exclusive) whose
// status in statuses is not content.StatusComplete, or "" if none remain.
// Used by the Gate Controller to advance current_stage on approval (§4.G).
func NextIncomplete(from content.Stage, statuses map[string]string) content.Stage {
	seenFrom := false
	for _, def := range Registry {
		if !seenFrom {
			if def.Stage == from {
				seenFrom = true
			}
			continue
		}
		if content.StageStatus(statuses[string(def.Stage)]) != content.StatusComplete {
			return def.Stage
		}
	}
	return ""
}

// FirstIncomplete returns the first stage whose status is not complete, or
// "" if every registered stage is complete.
func FirstIncomplete(statuses map[string]string) content.Stage {
	for _, def := range Registry {
		if content.StageStatus(statuses[string(def.Stage)]) != content.StatusComplete {
			return def.Stage
		}
	}
	return ""
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// imageGenConcurrency bounds the images stage's concurrent generation
// fan-out (§5 "bounded by a semaphore of width 3, awaiting all before
// returning").
const imageGenConcurrency = 3

// ImageSpec is one manifest entry: a single image placement, carrying its
// generation outcome once the fan-out completes (§7.6).
type ImageSpec struct {
	Placement string `json:"placement"`
	Prompt    string `json:"prompt"`
	Filename  string `json:"filename"`
	Index     int    `json:"index"`
	Generated bool   `json:"generated"`
	Error     string `json:"error,omitempty"`
}

// ImageManifest is the images stage's structured output, marshaled into
// StageResult.Output and persisted verbatim into Post.ImageManifest (§5,
// §7.5, §7.6). Grounded on the original's images_node return shape
// (images.py:124-130): `images`, `total_generated`, `total_failed`, and an
// optional top-level `error` when manifest generation itself failed.
type ImageManifest struct {
	Images         []ImageSpec    `json:"images"`
	StyleBrief     map[string]any `json:"style_brief,omitempty"`
	Error          string         `json:"error,omitempty"`
	TotalGenerated int            `json:"total_generated"`
	TotalFailed    int            `json:"total_failed"`
}

// imagesStageFunc is the built-in images-stage implementation (§4.E
// Registry row `images`): it assembles a manifest from the snapshot (one
// featured placement plus one per related keyword, standing in for the
// original's Claude-authored manifest — see §1 non-goal on "the concrete
// prompt text, LLM provider SDKs, and image-byte generation"), then fans
// per-image generation out across a width-3 semaphore (§5), folding each
// item's outcome back into the manifest rather than failing the stage
// (§7.6). A manifest that fails to "parse" is simulated via a sentinel
// related keyword so the §7.5 edge case is exercised deterministically,
// same convention as stages.go's generic `"<stage>-output"` stubs.
func imagesStageFunc(ctx context.Context, snap Snapshot) (StageResult, error) {
	model := snap.RulesMeta.Model
	if model == "" {
		model = "m"
	}
	meta := StageMeta{Model: model, TokensIn: 100, TokensOut: 200}

	manifest, err := buildImageManifest(snap)
	if err != nil {
		// Not fatal (§7.5): the stage still returns successfully, carrying
		// the failure inside the manifest rather than as a Go error, so the
		// runner persists an empty-but-errored manifest and moves on
		// instead of retrying/dead-lettering. The original does the
		// equivalent (images.py:159-163): _parse_manifest swallows the
		// JSON error and the node still returns "images": "complete".
		out, marshalErr := json.Marshal(ImageManifest{Error: err.Error()})
		if marshalErr != nil {
			return StageResult{}, fmt.Errorf("pipeline: marshal failed image manifest: %w", marshalErr)
		}
		return StageResult{Output: string(out), Meta: meta}, nil
	}

	generateManifestImages(ctx, manifest)

	out, err := json.Marshal(manifest)
	if err != nil {
		return StageResult{}, fmt.Errorf("pipeline: marshal image manifest: %w", err)
	}
	return StageResult{Output: string(out), Meta: meta}, nil
}

// manifestErrorKeyword is the sentinel RelatedKeywords entry that
// simulates a manifest-authoring failure (§7.5), exercised by tests.
const manifestErrorKeyword = "manifest_error"

// failImagePromptMarker is the sentinel prompt substring that simulates a
// single image's generation failing (§7.6), exercised by tests.
const failImagePromptMarker = "fail-image"

func buildImageManifest(snap Snapshot) (*ImageManifest, error) {
	for _, kw := range snap.RelatedKeywords {
		if kw == manifestErrorKeyword {
			return nil, fmt.Errorf("failed to parse image manifest")
		}
	}

	images := make([]ImageSpec, 0, len(snap.RelatedKeywords)+1)
	images = append(images, ImageSpec{
		Placement: "featured",
		Prompt:    "featured image for " + snap.Topic,
		Filename:  "image-0.png",
		Index:     0,
	})
	for i, kw := range snap.RelatedKeywords {
		images = append(images, ImageSpec{
			Placement: "inline",
			Prompt:    "inline illustration of " + kw,
			Filename:  fmt.Sprintf("image-%d.png", i+1),
			Index:     i + 1,
		})
	}

	return &ImageManifest{
		Images:     images,
		StyleBrief: map[string]any{"style": snap.ImageStyle, "brand_colors": snap.ImageBrandColors},
	}, nil
}

// generateManifestImages fans manifest.Images out across a semaphore of
// width imageGenConcurrency, generating each concurrently and joining
// before returning (§5). Each item's success or failure is captured on
// its own ImageSpec; no single item's failure affects another's, nor
// propagates out of the stage (§7.6).
func generateManifestImages(ctx context.Context, manifest *ImageManifest) {
	sem := semaphore.NewWeighted(imageGenConcurrency)
	var wg sync.WaitGroup

	for i := range manifest.Images {
		spec := &manifest.Images[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			spec.Generated = false
			spec.Error = err.Error()
			continue
		}
		wg.Add(1)
		go func(spec *ImageSpec) {
			defer wg.Done()
			defer sem.Release(1)
			generateOneImage(spec)
		}(spec)
	}
	wg.Wait()

	for _, img := range manifest.Images {
		if img.Generated {
			manifest.TotalGenerated++
		} else {
			manifest.TotalFailed++
		}
	}
}

// generateOneImage stands in for the real provider call this engine's
// pluggable layer makes (§1 non-goal: image-byte generation itself is out
// of scope). A prompt containing failImagePromptMarker simulates a
// per-item provider failure.
func generateOneImage(spec *ImageSpec) {
	if strings.Contains(spec.Prompt, failImagePromptMarker) {
		spec.Generated = false
		spec.Error = "image generation failed"
		return
	}
	spec.Generated = true
}

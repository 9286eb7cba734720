package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

func TestImagesStageFuncGeneratesOneEntryPerKeywordPlusFeatured(t *testing.T) {
	snap := Snapshot{
		Stage:           content.StageImages,
		Topic:           "widgets",
		ImageStyle:      "flat illustration",
		RelatedKeywords: []string{"ergonomics", "mechanical switches"},
	}

	result, err := imagesStageFunc(t.Context(), snap)
	if err != nil {
		t.Fatalf("imagesStageFunc: %v", err)
	}

	var manifest ImageManifest
	if err := json.Unmarshal([]byte(result.Output), &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if manifest.Error != "" {
		t.Fatalf("expected no manifest error, got %q", manifest.Error)
	}
	if len(manifest.Images) != 3 {
		t.Fatalf("expected 3 images (1 featured + 2 keyword), got %d", len(manifest.Images))
	}
	if manifest.Images[0].Placement != "featured" {
		t.Fatalf("expected first image to be featured, got %q", manifest.Images[0].Placement)
	}
	if manifest.TotalGenerated != 3 || manifest.TotalFailed != 0 {
		t.Fatalf("expected 3 generated / 0 failed, got %d/%d", manifest.TotalGenerated, manifest.TotalFailed)
	}
	for _, img := range manifest.Images {
		if !img.Generated {
			t.Fatalf("expected every image generated, got %+v", img)
		}
	}
}

// §7.5: a manifest that fails to parse is not fatal — the stage returns
// successfully with an `error` field set on the manifest, no images.
func TestImagesStageFuncManifestParseFailureIsNotFatal(t *testing.T) {
	snap := Snapshot{
		Stage:           content.StageImages,
		Topic:           "widgets",
		RelatedKeywords: []string{manifestErrorKeyword},
	}

	result, err := imagesStageFunc(t.Context(), snap)
	if err != nil {
		t.Fatalf("expected no error (manifest failure is not fatal), got %v", err)
	}

	var manifest ImageManifest
	if err := json.Unmarshal([]byte(result.Output), &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if manifest.Error == "" {
		t.Fatal("expected manifest.Error to be set")
	}
	if len(manifest.Images) != 0 {
		t.Fatalf("expected no images on manifest failure, got %d", len(manifest.Images))
	}
}

// §7.6: an individual image's generation failure doesn't fail the stage
// or the other images — it's captured on that image's entry, with
// total_generated/total_failed counters reflecting the split.
func TestImagesStageFuncPartialGenerationFailureIsCapturedPerImage(t *testing.T) {
	snap := Snapshot{
		Stage:           content.StageImages,
		Topic:           "fail-image subject",
		RelatedKeywords: []string{"ok-keyword"},
	}

	result, err := imagesStageFunc(t.Context(), snap)
	if err != nil {
		t.Fatalf("imagesStageFunc: %v", err)
	}

	var manifest ImageManifest
	if err := json.Unmarshal([]byte(result.Output), &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if manifest.TotalGenerated != 1 || manifest.TotalFailed != 1 {
		t.Fatalf("expected 1 generated / 1 failed, got %d/%d", manifest.TotalGenerated, manifest.TotalFailed)
	}
	if manifest.Images[0].Generated || manifest.Images[0].Error == "" {
		t.Fatalf("expected featured image (prompt contains subject) to have failed, got %+v", manifest.Images[0])
	}
	if !manifest.Images[1].Generated {
		t.Fatalf("expected keyword image to have generated, got %+v", manifest.Images[1])
	}
}

// §5: the fan-out is bounded by a width-3 semaphore but still generates
// every item and joins before returning, regardless of count.
func TestImagesStageFuncFanOutExceedsSemaphoreWidth(t *testing.T) {
	keywords := make([]string, 10)
	for i := range keywords {
		keywords[i] = "keyword"
	}
	snap := Snapshot{Stage: content.StageImages, Topic: "widgets", RelatedKeywords: keywords}

	result, err := imagesStageFunc(t.Context(), snap)
	if err != nil {
		t.Fatalf("imagesStageFunc: %v", err)
	}

	var manifest ImageManifest
	if err := json.Unmarshal([]byte(result.Output), &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if len(manifest.Images) != 11 {
		t.Fatalf("expected 11 images, got %d", len(manifest.Images))
	}
	if manifest.TotalGenerated != 11 {
		t.Fatalf("expected all 11 to generate despite width-3 bound, got %d", manifest.TotalGenerated)
	}
}

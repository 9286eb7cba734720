package pipeline

import (
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/upnorthmedia/content-pipeline/internal/domain/content"
)

// LinkRef is the read-only view of an internal link a stage function may
// consult for internal-linking context (§4.D).
type LinkRef struct {
	URL      string
	Title    string
	Slug     string
	Source   string
	Keywords []string
}

// Snapshot is the immutable state a stage function receives (§4.F, §4.H):
// the post id, post-level config, every prior stage's output, and the
// profile's internal-linking context. Stage functions never see a live
// *gorm.DB — all persistence happens in the runner after the function
// returns.
type Snapshot struct {
	PostID uuid.UUID
	Stage  content.Stage

	Topic            string
	Audience         string
	Tone             string
	TargetWordCount  int
	OutputFormat     string
	RelatedKeywords  []string
	ImageStyle       string
	ImageBrandColors []string
	ImageExclude     []string
	RequiredMentions string
	Avoid            string
	CompetitorURLs   []string

	PriorOutputs map[content.Stage]string
	InternalLinks []LinkRef

	Rules     string
	RulesMeta RulesFrontMatter
}

// Build assembles a Snapshot for the given stage from a freshly loaded Post
// and its profile's link catalog (§4.H: "load fresh Post from Store" +
// "snapshot ← build from Post + link catalog").
func Build(post *content.Post, stage content.Stage, links []LinkRef, rulesMeta RulesFrontMatter, rules string) Snapshot {
	prior := map[content.Stage]string{}
	for _, def := range Registry {
		if def.Stage == stage {
			break
		}
		prior[def.Stage] = post.ContentFor(def.Stage)
	}

	brandColors := decodeStringSlice(post.ImageBrandColors)
	imageExclude := decodeStringSlice(post.ImageExclude)
	competitorURLs := decodeStringSlice(post.CompetitorURLs)

	return Snapshot{
		PostID:           post.ID,
		Stage:            stage,
		Topic:            post.Topic,
		Audience:         post.Audience,
		Tone:             post.Tone,
		TargetWordCount:  post.TargetWordCount,
		OutputFormat:     post.OutputFormat,
		RelatedKeywords:  post.RelatedKeywordsSlice(),
		ImageStyle:       post.ImageStyle,
		ImageBrandColors: brandColors,
		ImageExclude:     imageExclude,
		RequiredMentions: post.RequiredMentions,
		Avoid:            post.Avoid,
		CompetitorURLs:   competitorURLs,
		PriorOutputs:     prior,
		InternalLinks:    links,
		Rules:            rules,
		RulesMeta:        rulesMeta,
	}
}

func decodeStringSlice(raw datatypes.JSON) []string {
	var out []string
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

package content

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Post is one content job: the unit of scheduling, persistence, and
// progress tracking the pipeline engine advances through the registry.
type Post struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProfileID *uuid.UUID `gorm:"type:uuid;column:profile_id;index" json:"profile_id,omitempty"`
	Slug      string     `gorm:"column:slug;not null;index:idx_posts_profile_slug,unique" json:"slug"`

	Topic            string         `gorm:"column:topic;type:text" json:"topic"`
	Audience         string         `gorm:"column:audience;type:text" json:"audience,omitempty"`
	Tone             string         `gorm:"column:tone;type:text;default:'Conversational and friendly'" json:"tone"`
	TargetWordCount  int            `gorm:"column:target_word_count;default:2000" json:"target_word_count"`
	OutputFormat     string         `gorm:"column:output_format;type:varchar(20);default:'both'" json:"output_format"`
	RelatedKeywords  datatypes.JSON `gorm:"column:related_keywords;type:jsonb;default:'[]'" json:"related_keywords"`
	ImageStyle       string         `gorm:"column:image_style;type:text" json:"image_style,omitempty"`
	ImageBrandColors datatypes.JSON `gorm:"column:image_brand_colors;type:jsonb;default:'[]'" json:"image_brand_colors"`
	ImageExclude     datatypes.JSON `gorm:"column:image_exclude;type:jsonb;default:'[]'" json:"image_exclude"`
	RequiredMentions string         `gorm:"column:required_mentions;type:text" json:"required_mentions,omitempty"`
	Avoid            string         `gorm:"column:avoid;type:text" json:"avoid,omitempty"`
	CompetitorURLs   datatypes.JSON `gorm:"column:competitor_urls;type:jsonb;default:'[]'" json:"competitor_urls"`

	// Priority is persisted but never consulted by the Runner; see
	// SPEC_FULL.md §9 Open Questions.
	Priority int `gorm:"column:priority;default:0" json:"priority"`

	ResearchContent  string         `gorm:"column:research_content;type:text" json:"research_content,omitempty"`
	OutlineContent   string         `gorm:"column:outline_content;type:text" json:"outline_content,omitempty"`
	DraftContent     string         `gorm:"column:draft_content;type:text" json:"draft_content,omitempty"`
	FinalMDContent   string         `gorm:"column:final_md_content;type:text" json:"final_md_content,omitempty"`
	FinalHTMLContent string         `gorm:"column:final_html_content;type:text" json:"final_html_content,omitempty"`
	ImageManifest    datatypes.JSON `gorm:"column:image_manifest;type:jsonb" json:"image_manifest,omitempty"`
	ReadyContent     string         `gorm:"column:ready_content;type:text" json:"ready_content,omitempty"`

	StageSettings datatypes.JSON `gorm:"column:stage_settings;type:jsonb;default:'{}'" json:"stage_settings"`
	StageStatus   datatypes.JSON `gorm:"column:stage_status;type:jsonb;default:'{}'" json:"stage_status"`
	CurrentStage  string         `gorm:"column:current_stage;type:varchar(32);default:'pending';index" json:"current_stage"`
	StageLogs     datatypes.JSON `gorm:"column:stage_logs;type:jsonb;default:'{}'" json:"stage_logs"`
	ExecutionLogs datatypes.JSON `gorm:"column:execution_logs;type:jsonb;default:'[]'" json:"execution_logs"`

	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Post) TableName() string { return "posts" }

// StageLogEntry records one stage's execution metrics, appended to
// Post.StageLogs keyed by stage name.
type StageLogEntry struct {
	Model      string  `json:"model"`
	TokensIn   int     `json:"tokens_in"`
	TokensOut  int     `json:"tokens_out"`
	DurationS  float64 `json:"duration_s"`
	CostUSD    float64 `json:"cost_usd"`
	RecordedAt string  `json:"recorded_at"`
}

// ErrorRecord is the single `_error` slot in Post.StageLogs: its presence
// implies CurrentStage == StateFailed.
type ErrorRecord struct {
	Stage    string `json:"stage"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
	FailedAt string `json:"failed_at"`
}

// ExecutionLogEntry is one append-only audit-trail row.
type ExecutionLogEntry struct {
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

func decodeJSONMap[K comparable, V any](raw datatypes.JSON) map[K]V {
	out := map[K]V{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

func encodeJSON(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(raw)
}

// StageSettingsMap decodes Post.StageSettings into stage -> mode.
func (p *Post) StageSettingsMap() map[string]string {
	return decodeJSONMap[string, string](p.StageSettings)
}

func (p *Post) SetStageSettingsMap(m map[string]string) { p.StageSettings = encodeJSON(m) }

// StageStatusMap decodes Post.StageStatus into stage -> status.
func (p *Post) StageStatusMap() map[string]string {
	return decodeJSONMap[string, string](p.StageStatus)
}

func (p *Post) SetStageStatusMap(m map[string]string) { p.StageStatus = encodeJSON(m) }

// StageLogsMap decodes Post.StageLogs into stage -> StageLogEntry, except
// for the reserved "_error" key which is read separately via Error().
func (p *Post) StageLogsMap() map[string]StageLogEntry {
	out := map[string]StageLogEntry{}
	if len(p.StageLogs) == 0 {
		return out
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(p.StageLogs, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		if k == "_error" {
			continue
		}
		var entry StageLogEntry
		if json.Unmarshal(v, &entry) == nil {
			out[k] = entry
		}
	}
	return out
}

// Error returns the `_error` slot, if present.
func (p *Post) Error() *ErrorRecord {
	if len(p.StageLogs) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(p.StageLogs, &raw); err != nil {
		return nil
	}
	errRaw, ok := raw["_error"]
	if !ok {
		return nil
	}
	var rec ErrorRecord
	if json.Unmarshal(errRaw, &rec) != nil {
		return nil
	}
	return &rec
}

// SetStageLogsMap persists stage -> StageLogEntry plus an optional
// `_error` record (pass nil to clear it).
func (p *Post) SetStageLogsMap(m map[string]StageLogEntry, errRec *ErrorRecord) {
	out := map[string]any{}
	for k, v := range m {
		out[k] = v
	}
	if errRec != nil {
		out["_error"] = errRec
	}
	p.StageLogs = encodeJSON(out)
}

// ExecutionLogsSlice decodes Post.ExecutionLogs.
func (p *Post) ExecutionLogsSlice() []ExecutionLogEntry {
	var out []ExecutionLogEntry
	if len(p.ExecutionLogs) == 0 {
		return out
	}
	_ = json.Unmarshal(p.ExecutionLogs, &out)
	return out
}

// AppendExecutionLog appends one entry; the slice is monotonically
// append-only (§8 testable property).
func (p *Post) AppendExecutionLog(entry ExecutionLogEntry) {
	logs := p.ExecutionLogsSlice()
	logs = append(logs, entry)
	p.ExecutionLogs = encodeJSON(logs)
}

// RelatedKeywordsSlice decodes the ordered related-keywords list.
func (p *Post) RelatedKeywordsSlice() []string {
	var out []string
	if len(p.RelatedKeywords) == 0 {
		return out
	}
	_ = json.Unmarshal(p.RelatedKeywords, &out)
	return out
}

// ModeFor returns the configured gate mode for a stage. A registered stage
// with no entry in StageSettings, or an entry holding an unrecognized mode
// string, falls back to ModeReview — the original's `stage_settings.get(stage,
// "review")` default (state.py) plus its unknown-mode warning path
// (gates.py) — except StageReady, which falls back to ModeAuto: `ready` is
// a stage this engine adds that the original never gated, and Profile's
// default_stage_settings omits it, so a review fallback there would block
// every post forever (SPEC_FULL.md §9).
func (p *Post) ModeFor(stage Stage) StageMode {
	fallback := ModeReview
	if stage == StageReady {
		fallback = ModeAuto
	}
	m, ok := p.StageSettingsMap()[string(stage)]
	if !ok {
		return fallback
	}
	switch StageMode(m) {
	case ModeAuto, ModeReview, ModeApproveOnly:
		return StageMode(m)
	default:
		return fallback
	}
}

// ModeConfigured reports whether stage has an explicit, recognized entry in
// StageSettings — used by the Gate Controller to distinguish a real
// unknown-mode typo (worth a warning) from a simple absence.
func (p *Post) ModeConfigured(stage Stage) (StageMode, bool) {
	m, ok := p.StageSettingsMap()[string(stage)]
	if !ok {
		return "", false
	}
	switch StageMode(m) {
	case ModeAuto, ModeReview, ModeApproveOnly:
		return StageMode(m), true
	default:
		return StageMode(m), false
	}
}

// StatusFor returns the status of a stage, or "" if absent.
func (p *Post) StatusFor(stage Stage) StageStatus {
	statuses := p.StageStatusMap()
	return StageStatus(statuses[string(stage)])
}

// ContentFor returns the content slot for a stage.
func (p *Post) ContentFor(stage Stage) string {
	switch stage {
	case StageResearch:
		return p.ResearchContent
	case StageOutline:
		return p.OutlineContent
	case StageWrite:
		return p.DraftContent
	case StageEdit:
		return p.FinalMDContent
	case StageImages:
		return string(p.ImageManifest)
	case StageReady:
		return p.ReadyContent
	}
	return ""
}

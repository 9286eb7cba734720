package content

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Profile holds site-wide defaults that prefill new Posts, plus the
// profile's Link Catalog and sitemap crawl cadence.
type Profile struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	WebsiteURL string    `gorm:"column:website_url;type:text;not null" json:"website_url"`

	SitemapURLs datatypes.JSON `gorm:"column:sitemap_urls;type:jsonb;default:'[]'" json:"sitemap_urls"`

	Niche               string         `gorm:"column:niche;type:text" json:"niche,omitempty"`
	TargetAudience      string         `gorm:"column:target_audience;type:text" json:"target_audience,omitempty"`
	Tone                string         `gorm:"column:tone;type:text;default:'Conversational and friendly'" json:"tone"`
	BrandVoice          string         `gorm:"column:brand_voice;type:text" json:"brand_voice,omitempty"`
	WordCount           int            `gorm:"column:word_count;default:2000" json:"word_count"`
	OutputFormat        string         `gorm:"column:output_format;type:varchar(20);default:'both'" json:"output_format"`
	ImageStyle          string         `gorm:"column:image_style;type:text" json:"image_style,omitempty"`
	ImageBrandColors    datatypes.JSON `gorm:"column:image_brand_colors;type:jsonb;default:'[]'" json:"image_brand_colors"`
	ImageExclude        datatypes.JSON `gorm:"column:image_exclude;type:jsonb;default:'[]'" json:"image_exclude"`
	Avoid               string         `gorm:"column:avoid;type:text" json:"avoid,omitempty"`
	RequiredMentions    string         `gorm:"column:required_mentions;type:text" json:"required_mentions,omitempty"`
	RelatedKeywords     datatypes.JSON `gorm:"column:related_keywords;type:jsonb;default:'[]'" json:"related_keywords"`
	DefaultStageSettings datatypes.JSON `gorm:"column:default_stage_settings;type:jsonb" json:"default_stage_settings"`

	LastCrawledAt   *time.Time `gorm:"column:last_crawled_at" json:"last_crawled_at,omitempty"`
	CrawlStatus     string     `gorm:"column:crawl_status;type:varchar(20);default:'pending'" json:"crawl_status"`
	RecrawlInterval *string    `gorm:"column:recrawl_interval;type:varchar(20)" json:"recrawl_interval,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Profile) TableName() string { return "profiles" }

// DefaultStageSettingsForNewProfile seeds the five review-gated stages;
// `ready` is deliberately absent so it defaults to auto (see
// SPEC_FULL.md §9).
func DefaultStageSettingsForNewProfile() map[string]string {
	return map[string]string{
		string(StageResearch): string(ModeReview),
		string(StageOutline):  string(ModeReview),
		string(StageWrite):    string(ModeReview),
		string(StageEdit):     string(ModeReview),
		string(StageImages):   string(ModeReview),
	}
}

func (p *Profile) DefaultStageSettingsMap() map[string]string {
	out := map[string]string{}
	if len(p.DefaultStageSettings) == 0 {
		return DefaultStageSettingsForNewProfile()
	}
	if err := json.Unmarshal(p.DefaultStageSettings, &out); err != nil {
		return DefaultStageSettingsForNewProfile()
	}
	return out
}

func (p *Profile) SetDefaultStageSettingsMap(m map[string]string) {
	p.DefaultStageSettings = encodeJSON(m)
}

// RecrawlDue reports whether now's elapsed time since LastCrawledAt meets
// or exceeds the configured cadence (§4.J).
func (p *Profile) RecrawlDue(now time.Time) bool {
	if p.RecrawlInterval == nil {
		return false
	}
	if content := CrawlStatus(p.CrawlStatus); content == CrawlCrawling {
		return false
	}
	if p.LastCrawledAt == nil {
		return true
	}
	var interval time.Duration
	switch RecrawlInterval(*p.RecrawlInterval) {
	case RecrawlWeekly:
		interval = 7 * 24 * time.Hour
	case RecrawlMonthly:
		interval = 30 * 24 * time.Hour
	default:
		return false
	}
	return now.Sub(*p.LastCrawledAt) >= interval
}

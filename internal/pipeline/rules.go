package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RulesLoader resolves a stage's rules file from a configured directory
// (§6 "Rules resolution"): `blog-<stage>.md`, or an empty block if the
// file is missing — never an error.
type RulesLoader struct {
	Dir string
}

func NewRulesLoader(dir string) RulesLoader {
	if dir == "" {
		dir = "./rules"
	}
	return RulesLoader{Dir: dir}
}

// RulesFrontMatter is the optional YAML block a rules file may lead with,
// delimited by `---` lines, ahead of its markdown body — the same
// leading-front-matter convention static site generators use. All fields
// are advisory overrides a stage function may apply; an absent or
// malformed block yields the zero value and the file's full text is kept
// as the body, never an error.
type RulesFrontMatter struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Notes     string `yaml:"notes"`
}

// Load reads def's rules file and splits it into its optional front
// matter and markdown body. A missing file yields a zero RulesFrontMatter
// and an empty body.
func (l RulesLoader) Load(def StageDef) (RulesFrontMatter, string) {
	path := filepath.Join(l.Dir, def.RulesFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		return RulesFrontMatter{}, ""
	}
	return splitFrontMatter(string(raw))
}

const frontMatterDelim = "---"

// splitFrontMatter pulls a leading `---`-delimited YAML block off text and
// parses it; any absence or parse failure falls back to treating the
// whole input as body with a zero-value front matter.
func splitFrontMatter(text string) (RulesFrontMatter, string) {
	trimmed := strings.TrimLeft(text, "\n")
	if !strings.HasPrefix(trimmed, frontMatterDelim) {
		return RulesFrontMatter{}, text
	}

	rest := strings.TrimPrefix(trimmed, frontMatterDelim)
	rest = strings.TrimPrefix(rest, "\n")
	closeIdx := strings.Index(rest, "\n"+frontMatterDelim)
	if closeIdx < 0 {
		return RulesFrontMatter{}, text
	}

	block := rest[:closeIdx]
	body := strings.TrimPrefix(rest[closeIdx+len("\n"+frontMatterDelim):], "\n")

	var fm RulesFrontMatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return RulesFrontMatter{}, text
	}
	return fm, body
}

// Package prompts holds the per-stage, per-language prompt templates the
// workflow engine renders before each generative call.
package prompts

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/haneulab/deepresearch/internal/research"
)

// ID names one prompt template.
type ID string

const (
	Clarification ID = "clarification"
	ResearchBrief ID = "research_brief"
	Supervisor    ID = "supervisor"
	Researcher    ID = "researcher"
	Compression   ID = "compression"
	FinalReport   ID = "final_report"
)

// placeholders declares, per template, the exact variable names the engine
// supplies. A template using anything outside its set fails NewRegistry.
var placeholders = map[ID][]string{
	Clarification: {"research_question"},
	ResearchBrief: {"clarified_research_goal"},
	Supervisor:    {"research_brief", "previous_findings", "max_tasks"},
	Researcher:    {"research_question", "description"},
	Compression:   {"research_summaries"},
	FinalReport:   {"research_question", "compressed_research"},
}

var placeholderRe = regexp.MustCompile(`\{([a-z_]+)\}`)

// Registry resolves templates by id and language.
type Registry struct {
	templates map[ID]map[research.Language]string
}

// NewRegistry builds the registry from the built-in template tables and
// validates every placeholder. Validation failure is a fatal config error.
func NewRegistry() (*Registry, error) {
	r := &Registry{templates: map[ID]map[research.Language]string{}}
	for id, text := range englishTemplates {
		r.templates[id] = map[research.Language]string{research.LangEnglish: text}
	}
	for id, text := range koreanTemplates {
		byLang, ok := r.templates[id]
		if !ok {
			return nil, fmt.Errorf("prompts: korean template %q has no english counterpart", id)
		}
		byLang[research.LangKorean] = text
	}
	for id := range placeholders {
		if _, ok := r.templates[id]; !ok {
			return nil, fmt.Errorf("prompts: missing template %q", id)
		}
	}
	for id, byLang := range r.templates {
		allowed, ok := placeholders[id]
		if !ok {
			return nil, fmt.Errorf("prompts: template %q is not a known id", id)
		}
		for lang, text := range byLang {
			for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
				if !contains(allowed, m[1]) {
					return nil, fmt.Errorf("prompts: template %q (%s) uses unknown placeholder {%s}", id, lang, m[1])
				}
			}
		}
	}
	return r, nil
}

// Render fills template id for the language with vars. Every declared
// placeholder must be supplied; Korean falls back to English when a template
// has no localisation.
func (r *Registry) Render(id ID, lang research.Language, vars map[string]string) (string, error) {
	byLang, ok := r.templates[id]
	if !ok {
		return "", fmt.Errorf("prompts: unknown template %q", id)
	}
	text, ok := byLang[lang]
	if !ok {
		text = byLang[research.LangEnglish]
	}
	for _, name := range placeholders[id] {
		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("prompts: template %q missing variable %q", id, name)
		}
		text = strings.ReplaceAll(text, "{"+name+"}", val)
	}
	return text, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

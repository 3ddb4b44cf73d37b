package engine

import (
	"fmt"
	"strings"

	"github.com/haneulab/deepresearch/internal/research"
)

// progress message ids
type messageID int

const (
	msgClarifying messageID = iota
	msgBriefing
	msgPlanning
	msgResearching
	msgSynthesizing
	msgFinalizing
)

var stageMessages = map[messageID]map[research.Language]string{
	msgClarifying: {
		research.LangKorean:  "연구 목표를 분석하고 있습니다...",
		research.LangEnglish: "Analyzing the research goal...",
	},
	msgBriefing: {
		research.LangKorean:  "연구 계획서를 작성하고 있습니다...",
		research.LangEnglish: "Writing the research brief...",
	},
	msgPlanning: {
		research.LangKorean:  "연구 과제를 계획하고 있습니다...",
		research.LangEnglish: "Planning research tasks...",
	},
	msgResearching: {
		research.LangKorean:  "AI가 정보를 종합하여 연구를 수행하고 있습니다...",
		research.LangEnglish: "Synthesizing information from collected sources...",
	},
	msgSynthesizing: {
		research.LangKorean:  "%d개의 연구 결과를 통합하고 있습니다...",
		research.LangEnglish: "Consolidating %d research summaries...",
	},
	msgFinalizing: {
		research.LangKorean:  "최종 보고서를 정리하고 있습니다...",
		research.LangEnglish: "Formatting the final report...",
	},
}

func stageMessage(id messageID, lang research.Language) string {
	byLang := stageMessages[id]
	if msg, ok := byLang[lang]; ok {
		return msg
	}
	return byLang[research.LangEnglish]
}

func stageMessageN(id messageID, lang research.Language, n int) string {
	return fmt.Sprintf(stageMessage(id, lang), n)
}

func searchingMessage(lang research.Language, query string) string {
	q := firstN(query, 50)
	if lang == research.LangKorean {
		return fmt.Sprintf("웹 검색 중: %s", q)
	}
	return fmt.Sprintf("Searching the web: %s", q)
}

func fallbackDescription(lang research.Language) string {
	if lang == research.LangKorean {
		return "주어진 주제에 대한 포괄적인 연구"
	}
	return "Comprehensive research on the given topic"
}

// formatFindings renders gathered summaries for the supervisor prompt.
func formatFindings(summaries []research.Summary, subtasks []research.Subtask) string {
	if len(summaries) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for i, s := range summaries {
		question := ""
		if s.SubtaskRef >= 0 && s.SubtaskRef < len(subtasks) {
			question = subtasks[s.SubtaskRef].Question
		}
		fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, question, firstN(s.Text, 400))
	}
	return strings.TrimSpace(b.String())
}

// formatSummaries renders every summary in full for the compression prompt,
// separated the way the compression template expects.
func formatSummaries(summaries []research.Summary, subtasks []research.Subtask) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		question := ""
		if s.SubtaskRef >= 0 && s.SubtaskRef < len(subtasks) {
			question = subtasks[s.SubtaskRef].Question
		}
		parts = append(parts, fmt.Sprintf("Research Question: %s\nSummary: %s\nSources: %s",
			question, s.Text, strings.Join(s.Sources, ", ")))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

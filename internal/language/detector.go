// Package language detects whether a research question is Korean or English.
package language

import (
	"regexp"
	"unicode"

	"github.com/haneulab/deepresearch/internal/research"
)

var (
	urlRe   = regexp.MustCompile(`https?://\S+`)
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
)

// koreanRatioThreshold: above this share of Hangul characters (syllables or
// Jamo) among non-space characters the text is Korean.
const koreanRatioThreshold = 0.1

// Detect returns the primary language of text. URLs and email addresses are
// stripped first so that Latin-heavy links do not swamp short Korean queries.
// Ambiguous or empty input defaults to English.
func Detect(text string) research.Language {
	cleaned := emailRe.ReplaceAllString(urlRe.ReplaceAllString(text, ""), "")

	var hangul, total int
	for _, r := range cleaned {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if isHangul(r) {
			hangul++
		}
	}
	if total == 0 {
		return research.LangEnglish
	}
	if float64(hangul)/float64(total) > koreanRatioThreshold {
		return research.LangKorean
	}
	return research.LangEnglish
}

// isHangul covers the precomposed syllable block plus Jamo.
func isHangul(r rune) bool {
	return (r >= 0xAC00 && r <= 0xD7A3) || // syllables
		(r >= 0x1100 && r <= 0x11FF) || // Jamo
		(r >= 0x3130 && r <= 0x318F) // compatibility Jamo
}

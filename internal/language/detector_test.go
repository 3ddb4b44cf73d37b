package language

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haneulab/deepresearch/internal/research"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		text string
		want research.Language
	}{
		{"english question", "Latest trends in quantum computing", research.LangEnglish},
		{"korean question", "AI 기술의 최신 동향", research.LangKorean},
		{"empty", "", research.LangEnglish},
		{"whitespace only", "   \n\t ", research.LangEnglish},
		{"mixed mostly korean", "GPT 모델의 한국어 성능은 어떤가요?", research.LangKorean},
		{"mixed mostly english", "Explain the term 한강 in one sentence, focusing on geography and history", research.LangEnglish},
		{"url does not dilute korean", "https://example.com/a/very/long/path?q=1234567890 인공지능 동향", research.LangKorean},
		{"numbers and symbols", "2024 Q3 GDP +3.1%?", research.LangEnglish},
		{"jamo and syllables", "ㅋㅋㅋ 재밌다", research.LangKorean},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Detect(tc.text))
		})
	}
}

package research

import (
	"errors"
	"fmt"
)

// Kind is the user-visible error taxonomy.
type Kind string

const (
	KindInvalidInput   Kind = "INVALID_INPUT"
	KindNotFound       Kind = "NOT_FOUND"
	KindLLMUnavailable Kind = "LLM_UNAVAILABLE"
	KindSearchDegraded Kind = "SEARCH_DEGRADED"
	KindTimeout        Kind = "TIMEOUT"
	KindNoProgress     Kind = "NO_PROGRESS"
	KindCancelled      Kind = "CANCELLED"
	KindInternal       Kind = "INTERNAL"
)

// Error carries a taxonomy kind alongside the message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a taxonomy error wrapping err.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the taxonomy kind from err, defaulting to INTERNAL.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindInternal
}

var (
	// ErrNotFound is returned by stores for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrVersionConflict signals a lost optimistic-concurrency race inside a store.
	ErrVersionConflict = errors.New("session version conflict")
)

// localized terminal-error messages, keyed by kind then language
var errorMessages = map[Kind]map[Language]string{
	KindLLMUnavailable: {
		LangEnglish: "The language model backend is unavailable.",
		LangKorean:  "언어 모델 백엔드를 사용할 수 없습니다.",
	},
	KindCancelled: {
		LangEnglish: "Research was cancelled.",
		LangKorean:  "연구가 취소되었습니다.",
	},
	KindNoProgress: {
		LangEnglish: "Research could not make progress within the iteration limit.",
		LangKorean:  "반복 한도 내에서 연구를 진전시키지 못했습니다.",
	},
	KindTimeout: {
		LangEnglish: "A research stage exceeded its time budget.",
		LangKorean:  "연구 단계가 시간 제한을 초과했습니다.",
	},
	KindInternal: {
		LangEnglish: "An internal error interrupted the research.",
		LangKorean:  "내부 오류로 연구가 중단되었습니다.",
	},
}

// LocalizedMessage returns a user-facing message for a terminal error kind.
func LocalizedMessage(kind Kind, lang Language) string {
	byLang, ok := errorMessages[kind]
	if !ok {
		byLang = errorMessages[KindInternal]
	}
	if msg, ok := byLang[lang]; ok {
		return msg
	}
	return byLang[LangEnglish]
}

package local

import (
	"strings"
	"unicode/utf8"

	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/database/models"
	"github.com/CELINE-CARVALHO/executive-secretary-agent/internal/functions/ai"
)

const (
	// MaxSummaryLength is the maximum length of a fallback summary in characters
	MaxSummaryLength = 200
	// NoContentPlaceholder is used when both subject and body are blank
	NoContentPlaceholder = "(No content)"
	// FallbackUrgency is the fixed urgency of a fallback annotation
	FallbackUrgency = models.PriorityLow
	// FallbackCategory is the fixed category of a fallback annotation
	FallbackCategory = "info"
)

// Fallback builds a deterministic annotation without the language model.
// It never fails: the body wins over the subject, and the placeholder is used only when both are blank.
func Fallback(subject, body string) ai.Annotation {
	return ai.Annotation{
		Summary:  fallbackSummary(subject, body),
		Urgency:  FallbackUrgency,
		Category: FallbackCategory,
		Actions:  []any{},
	}
}

func fallbackSummary(subject, body string) string {
	if text := strings.TrimSpace(body); text != "" {
		return truncateRunes(text, MaxSummaryLength)
	}
	if text := strings.TrimSpace(subject); text != "" {
		return truncateRunes(text, MaxSummaryLength)
	}
	return NoContentPlaceholder
}

// truncateRunes cuts s to at most max characters without splitting a multi-byte rune
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

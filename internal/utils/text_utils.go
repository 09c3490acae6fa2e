package utils

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// TextProcessor prepares email text before it is stored or sent to a model
type TextProcessor struct {
	logger *zap.Logger
}

// NewTextProcessor creates a new TextProcessor
func NewTextProcessor(logger *zap.Logger) *TextProcessor {
	return &TextProcessor{
		logger: logger,
	}
}

// TruncateText cuts text to at most maxSize bytes without splitting a rune
// and marks the cut
func (tp *TextProcessor) TruncateText(text string, maxSize int) string {
	truncated, cut := Truncate(text, maxSize)
	if !cut {
		return text
	}

	tp.logger.Debug("Text truncated",
		zap.Int("original_size", len(text)),
		zap.Int("truncated_size", len(truncated)),
		zap.Int("max_size", maxSize))

	return truncated + "\n[... Content truncated due to size limits ...]"
}

// SanitizeUTF8 drops invalid UTF-8 byte sequences
func (tp *TextProcessor) SanitizeUTF8(text string) string {
	if utf8.ValidString(text) {
		return text
	}

	sanitized := strings.ToValidUTF8(text, "")

	tp.logger.Debug("Text sanitized",
		zap.Int("original_size", len(text)),
		zap.Int("sanitized_size", len(sanitized)))

	return sanitized
}

// ProcessText truncates and sanitizes text in one operation
func (tp *TextProcessor) ProcessText(text string, maxSize int) string {
	return tp.SanitizeUTF8(tp.TruncateText(text, maxSize))
}

// Preview returns the leading maxSize bytes of text, whitespace trimmed and
// without a truncation marker. It is used for stored body previews.
func (tp *TextProcessor) Preview(text string, maxSize int) string {
	preview, _ := Truncate(strings.TrimSpace(tp.SanitizeUTF8(text)), maxSize)
	return preview
}

// Truncate cuts s to at most maxSize bytes on a rune boundary. A
// non-positive maxSize disables the limit.
func Truncate(s string, maxSize int) (string, bool) {
	if maxSize <= 0 || len(s) <= maxSize {
		return s, false
	}
	truncated := s[:maxSize]
	// drop a rune split by the cut
	for i := 0; i < utf8.UTFMax-1 && len(truncated) > 0; i++ {
		r, size := utf8.DecodeLastRuneInString(truncated)
		if r != utf8.RuneError || size > 1 {
			break
		}
		truncated = truncated[:len(truncated)-1]
	}
	return truncated, true
}

// ExtractJSONObject returns the substring from the first '{' to the last '}'.
// Models often wrap their JSON answer in prose or markdown fences.
func ExtractJSONObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

package model

import (
	"errors"
	"strings"
)

// MaxTextChars caps chat and direct-message text. Longer input is truncated,
// not rejected: the client input field enforces the cap, so server-side
// truncation is only a safety net.
const MaxTextChars = 500

// ErrEmptyText rejects text that is blank after trimming.
var ErrEmptyText = errors.New("text is empty")

// NormalizeText trims and caps message text.
func NormalizeText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrEmptyText
	}
	if runes := []rune(text); len(runes) > MaxTextChars {
		text = string(runes[:MaxTextChars])
	}
	return text, nil
}

package league

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxContentLength     = 200
	MaxDescriptionLength = 500
	MaxThemeLength       = 100
	minWindow            = 24 * time.Hour

	DefaultLeaderboardLimit = 5
	MaxLeaderboardLimit     = 25
)

func validateContent(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", reject(ErrValidation, "submission content is required", "paste a link or title with /submit")
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", reject(ErrValidation, fmt.Sprintf("submission content must be %d characters or fewer", MaxContentLength), "")
	}
	return trimmed, nil
}

func validateDescription(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) > MaxDescriptionLength {
		return "", reject(ErrValidation, fmt.Sprintf("description must be %d characters or fewer", MaxDescriptionLength), "")
	}
	return trimmed, nil
}

func validateTheme(text string) (string, error) {
	normalized := normalizeText(text)
	if normalized == "" {
		return "", reject(ErrValidation, "a theme is required", "")
	}
	if utf8.RuneCountInString(normalized) > MaxThemeLength {
		return "", reject(ErrValidation, fmt.Sprintf("theme must be %d characters or fewer", MaxThemeLength), "")
	}
	return normalized, nil
}

func validateWindow(label string, d time.Duration) error {
	if d < minWindow {
		return reject(ErrValidation, fmt.Sprintf("%s must be at least 1 day", label), "")
	}
	return nil
}

func normalizeText(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	return strings.Join(fields, " ")
}

// ClampLeaderboardLimit maps a requested leaderboard size onto 1..25, with
// zero meaning the default of 5.
func ClampLeaderboardLimit(limit int) int {
	switch {
	case limit == 0:
		return DefaultLeaderboardLimit
	case limit < 1:
		return 1
	case limit > MaxLeaderboardLimit:
		return MaxLeaderboardLimit
	default:
		return limit
	}
}

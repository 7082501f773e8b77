package validation

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultMaxCityLen bounds city queries when no limit is configured.
const DefaultMaxCityLen = 100

var (
	// ErrCityTooLong is returned when the city exceeds the maximum length in runes.
	ErrCityTooLong = errors.New("city too long")
	// ErrCityInvalidChars is returned when the city contains disallowed characters.
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// ValidateCity trims input and collapses inner whitespace. An empty result is valid and
// means "use the default city". Otherwise the city must be at most maxLen runes
// (DefaultMaxCityLen when maxLen <= 0) of letters, digits, space, comma, hyphen,
// apostrophe or period. Errors map to 400 INVALID_CITY.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.Join(strings.Fields(input), " ")
	if s == "" {
		return "", nil
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxCityLen
	}
	r := []rune(s)
	if len(r) > maxLen {
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !isAllowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func isAllowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '\'', '.':
		return true
	}
	return false
}

package facerec

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics strips combining marks from a string so person names
// like "Renée" survive use in ASCII-only API identifiers.
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeGroupID converts a person name into a valid remote identity
// group identifier: lowercase alphanumerics and dashes, at most 64 runes,
// no leading or trailing dash.
func NormalizeGroupID(name string) string {
	s := strings.ToLower(RemoveDiacritics(name))

	var sb strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				sb.WriteByte('-')
				lastDash = true
			}
		}
	}

	id := strings.Trim(sb.String(), "-")
	if len(id) > 64 {
		id = strings.Trim(id[:64], "-")
	}
	if id == "" {
		id = "person"
	}
	return id
}

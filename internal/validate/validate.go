// Package validate checks rewritten channel posts against the channel's
// format: word count bounds, required hashtags and required markers.
package validate

import (
	"fmt"
	"strings"
)

// Mode selects the word-count floor.
type Mode int

const (
	// Strict applies to API-generated text.
	Strict Mode = iota
	// Lenient applies to the deterministic fallback template.
	Lenient
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Lenient:
		return "lenient"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// RequiredHashtags must all appear in a post.
var RequiredHashtags = []string{"#авиация", "#происшествие", "#небонаграни", "#авиабезопасность"}

// RequiredMarkers must all appear in a post. The ⚠️ marker is optional
// since it only appears when casualties are known.
var RequiredMarkers = []string{"✈️", "📍"}

// Rules holds the word-count limits.
type Rules struct {
	StrictMinWords  int
	LenientMinWords int
	MaxWords        int
}

// DefaultRules match the channel's editorial limits.
var DefaultRules = Rules{
	StrictMinWords:  60,
	LenientMinWords: 40,
	MaxWords:        350,
}

// Validate checks text with DefaultRules.
func Validate(text string, mode Mode) (bool, string) {
	return DefaultRules.Validate(text, mode)
}

// Validate reports whether text passes and a short reason code.
// Checks run in order: length, hashtags, markers.
func (r Rules) Validate(text string, mode Mode) (bool, string) {
	minWords := r.StrictMinWords
	if mode == Lenient {
		minWords = r.LenientMinWords
	}

	words := len(strings.Fields(text))
	if words < minWords {
		return false, fmt.Sprintf("too_short (got %d, need %d)", words, minWords)
	}
	if words > r.MaxWords {
		return false, fmt.Sprintf("too_long (got %d)", words)
	}
	if missing := missingFrom(text, RequiredHashtags); len(missing) > 0 {
		return false, "missing_required_hashtags: [" + strings.Join(missing, ", ") + "]"
	}
	if missing := missingFrom(text, RequiredMarkers); len(missing) > 0 {
		return false, "missing_format_markers: [" + strings.Join(missing, ", ") + "]"
	}
	return true, "ok"
}

func missingFrom(text string, required []string) []string {
	var missing []string
	for _, s := range required {
		if !strings.Contains(text, s) {
			missing = append(missing, s)
		}
	}
	return missing
}

package incident

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// idLength is the number of hex characters kept from the SHA-256 digest.
const idLength = 24

// DeriveID returns the stable identifier for an incident. The source URL is
// the only input when present: listing-only records often lack date,
// aircraft and location, and must still map to the same ID once details fill
// them in.
func DeriveID(dateUTC, aircraft, location, sourceURL string) string {
	payload := sourceURL
	if payload == "" {
		payload = strings.Join([]string{dateUTC, aircraft, location}, "|")
	}
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:idLength]
}

// Normalize converts a raw record into an Incident. Every field is coerced to
// trimmed text; missing and nil values become "".
func Normalize(raw Raw) Incident {
	dateUTC := text(raw, FieldDateUTC)
	aircraft := text(raw, FieldAircraft)
	location := text(raw, FieldLocation)
	sourceURL := text(raw, FieldSourceURL)

	return Incident{
		ID:             DeriveID(dateUTC, aircraft, location, sourceURL),
		Title:          text(raw, FieldTitle),
		EventType:      text(raw, FieldEventType),
		DateUTC:        dateUTC,
		Location:       location,
		Aircraft:       aircraft,
		Operator:       text(raw, FieldOperator),
		PersonsOnboard: text(raw, FieldPersonsOnboard),
		Summary:        text(raw, FieldSummary),
		SourceURL:      sourceURL,
	}
}

// Merge returns a copy of inc with every non-empty detail field applied.
// ID, SourceURL and EventType are never overridden.
func (inc Incident) Merge(details Raw) Incident {
	if len(details) == 0 {
		return inc
	}

	out := inc
	override(&out.Title, details, FieldTitle)
	override(&out.DateUTC, details, FieldDateUTC)
	override(&out.Location, details, FieldLocation)
	override(&out.Aircraft, details, FieldAircraft)
	override(&out.Operator, details, FieldOperator)
	override(&out.PersonsOnboard, details, FieldPersonsOnboard)
	override(&out.Summary, details, FieldSummary)
	return out
}

func override(dst *string, details Raw, key string) {
	if v := text(details, key); v != "" {
		*dst = v
	}
}

func text(raw Raw, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

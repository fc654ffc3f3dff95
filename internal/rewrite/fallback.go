package rewrite

import (
	"strings"

	"github.com/linnemanlabs/avwatch/internal/incident"
	"github.com/linnemanlabs/avwatch/internal/validate"
)

// Fallback renders the fixed post template. Missing fields are replaced with
// neutral placeholders; the output always carries the required markers and
// hashtags.
func Fallback(inc incident.Incident) string {
	aircraft := or(inc.Aircraft, "Воздушное судно")
	location := or(inc.Location, "место уточняется")
	date := or(inc.DateUTC, "дата уточняется")
	onboard := or(inc.PersonsOnboard, "данные уточняются")

	operator := ""
	if inc.Operator != "" {
		operator = " авиакомпании " + inc.Operator
	}

	var b strings.Builder
	b.WriteString("✈️ " + aircraft + " — инцидент в районе " + location + "\n\n")
	b.WriteString("📍 Подробности: " + date + " воздушное судно " + aircraft + operator +
		" выполняло полет в районе " + location + ". " +
		"По предварительной информации, на борту возникла нештатная ситуация. " +
		"Экипаж действовал в соответствии со стандартными процедурами. " +
		"Подробности и официальные данные публикуются по мере поступления.\n\n")
	b.WriteString("⚠️ Пострадавшие: На борту находились: " + onboard + ". " +
		"Данные о пострадавших уточняются.\n\n")
	b.WriteString(strings.Join(validate.RequiredHashtags, " "))
	return b.String()
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

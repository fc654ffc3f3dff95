package rewrite

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/avwatch/internal/incident"
	"github.com/linnemanlabs/avwatch/internal/validate"
)

const unknown = "нет данных"

// SystemPrompt instructs the model on the channel post format.
var SystemPrompt = strings.Join([]string{
	"Ты редактор русскоязычного Telegram-канала об авиационных происшествиях.",
	"Перепиши сводку происшествия в короткий новостной пост на русском языке.",
	"Пиши только по фактам из сводки, ничего не придумывай и не строй догадок о причинах.",
	"Формат поста:",
	"✈️ заголовок в одну строку: тип воздушного судна и суть события;",
	"📍 абзац с подробностями: дата, место, оператор, фаза полёта, что произошло;",
	"⚠️ абзац о пострадавших и числе людей на борту, если данных нет, так и напиши;",
	"последняя строка: " + strings.Join(validate.RequiredHashtags, " "),
	fmt.Sprintf("Объём от %d до %d слов. Используй Markdown Telegram умеренно, без таблиц и ссылок.",
		validate.DefaultRules.StrictMinWords, validate.DefaultRules.MaxWords),
}, "\n")

// UserPrompt renders the incident facts for the model.
func UserPrompt(inc incident.Incident) string {
	var b strings.Builder
	b.WriteString("Данные о происшествии:\n")
	line := func(label, value string) {
		if value == "" {
			value = unknown
		}
		fmt.Fprintf(&b, "%s: %s\n", label, value)
	}
	line("Заголовок", inc.Title)
	line("Тип события", inc.EventType)
	line("Дата (UTC)", inc.DateUTC)
	line("Место", inc.Location)
	line("Воздушное судно", inc.Aircraft)
	line("Оператор", inc.Operator)
	line("На борту", inc.PersonsOnboard)
	line("Источник", inc.SourceURL)
	b.WriteString("\nСводка:\n")
	if inc.Summary != "" {
		b.WriteString(inc.Summary)
	} else {
		b.WriteString(unknown)
	}
	return b.String()
}

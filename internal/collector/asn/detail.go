package asn

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

const (
	minNarrativeRunes = 30
	minParagraphRunes = 40
	maxParagraphs     = 5
)

var (
	occupantsRe  = regexp.MustCompile(`[Oo]ccupants?[:\s]+(\d+)`)
	fatalitiesRe = regexp.MustCompile(`[Ff]atalit\w+[:\s]+(\d+)`)
)

// parseDetail extracts the fields of an ASN incident page. Only non-empty
// fields are returned so the result can be merged over a listing row.
func parseDetail(body string) (incident.Raw, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	titleNode := doc.Find("h1").First()
	if titleNode.Length() == 0 {
		titleNode = doc.Find("title").First()
	}
	title := collapse(textOf(titleNode))

	facts := factTable(doc)
	operator := firstOf(facts, "owner/operator", "operator")
	aircraft := firstOf(facts, "type", "aircraft type", "aircraft")
	location := facts["location"]
	date := facts["date"]
	clock := facts["time"]
	registration := facts["registration"]
	departure := facts["departure airport"]
	destination := facts["destination airport"]
	phase := facts["phase"]
	nature := facts["nature"]

	var personsOnboard, fatalities string
	if raw := facts["fatalities"]; raw != "" {
		if m := occupantsRe.FindStringSubmatch(raw); m != nil {
			personsOnboard = m[1]
		}
		if m := fatalitiesRe.FindStringSubmatch(raw); m != nil {
			fatalities = m[1]
		}
	}

	var lines []string
	if narrative := findNarrative(doc); narrative != "" {
		lines = append(lines, "Нарратив: "+narrative)
	}
	if phase != "" {
		lines = append(lines, "Фаза полёта: "+phase)
	}
	if nature != "" {
		lines = append(lines, "Характер полёта: "+nature)
	}
	if departure != "" {
		lines = append(lines, "Аэропорт вылета: "+departure)
	}
	if destination != "" && destination != departure {
		lines = append(lines, "Аэропорт назначения: "+destination)
	}
	if fatalities != "" {
		lines = append(lines, "Погибших: "+fatalities)
	}
	summary := strings.TrimSpace(strings.Join(lines, "\n"))

	if registration != "" && aircraft != "" && !strings.Contains(aircraft, registration) {
		aircraft += " (борт " + registration + ")"
	}
	if clock != "" && date != "" && !strings.Contains(date, clock) {
		date += ", " + clock
	}

	out := incident.Raw{}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set(incident.FieldTitle, title)
	set(incident.FieldSummary, summary)
	set(incident.FieldOperator, operator)
	set(incident.FieldAircraft, aircraft)
	set(incident.FieldLocation, location)
	set(incident.FieldDateUTC, date)
	set(incident.FieldPersonsOnboard, personsOnboard)
	return out, nil
}

// factTable reads two-cell rows as lowercased key/value pairs. Later rows
// override earlier ones; empty values are ignored.
func factTable(doc *goquery.Document) map[string]string {
	facts := make(map[string]string)
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		key := strings.Trim(strings.ToLower(textOf(cells.Eq(0))), ": ")
		value := collapse(textOf(cells.Eq(1)))
		if value != "" {
			facts[key] = value
		}
	})
	return facts
}

func firstOf(facts map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := facts[k]; v != "" {
			return v
		}
	}
	return ""
}

// findNarrative prefers the block that follows a "Narrative" heading and falls
// back to the first long paragraphs of the page.
func findNarrative(doc *goquery.Document) string {
	narrative := ""
	doc.Find("h2, h3, b, strong, td, th").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(textOf(s)), "narrative") {
			return true
		}
		next := nextElement(s.Nodes[0], "p", "td", "div")
		if next == nil {
			return true
		}
		candidate := collapse(nodeText(next))
		if utf8.RuneCountInString(candidate) >= minNarrativeRunes {
			narrative = candidate
			return false
		}
		return true
	})
	if narrative != "" {
		return narrative
	}

	var parts []string
	doc.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		text := collapse(textOf(p))
		if utf8.RuneCountInString(text) >= minParagraphRunes {
			parts = append(parts, text)
		}
		return len(parts) < maxParagraphs
	})
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

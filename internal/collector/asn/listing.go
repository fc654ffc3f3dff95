package asn

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

const eventTypeIncident = "incident"

// incidentLinkMarkers identify ASN incident pages among arbitrary anchors.
var incidentLinkMarkers = []string{"/wikibase/", "/database/record.php", "/database/db", "/asndb/"}

// isFeed reports whether a payload is an XML feed rather than an HTML page.
func isFeed(payload string) bool {
	if strings.HasPrefix(payload, "<?xml") {
		return true
	}
	head := payload
	if len(head) > 300 {
		head = head[:300]
	}
	head = strings.ToLower(head)
	return strings.Contains(head, "<rss") || strings.Contains(head, "<feed")
}

func parseListing(body string) []incident.Raw {
	payload := strings.TrimLeft(body, " \t\r\n")
	if isFeed(payload) {
		return parseFeed(payload)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(payload))
	if err != nil {
		return nil
	}
	if rows := parseTableRows(doc); len(rows) > 0 {
		return rows
	}
	return parseIncidentLinks(doc)
}

func parseFeed(payload string) []incident.Raw {
	feed, err := gofeed.NewParser().ParseString(payload)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{}, len(feed.Items))
	out := make([]incident.Raw, 0, len(feed.Items))
	for _, item := range feed.Items {
		link := strings.TrimSpace(item.Link)
		title := collapse(item.Title)
		if link == "" || title == "" {
			continue
		}
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}

		published := item.Published
		if published == "" {
			published = item.Updated
		}
		out = append(out, listingRow(title, collapse(published), "", "", link))
	}
	return out
}

func parseTableRows(doc *goquery.Document) []incident.Raw {
	rows := doc.Find("table.hp tr")
	if rows.Length() == 0 {
		rows = doc.Find("table.list tr")
	}
	if rows.Length() == 0 {
		rows = doc.Find("table tr")
	}

	var out []incident.Raw
	rows.Each(func(_ int, row *goquery.Selection) {
		cols := row.Find("td")
		if cols.Length() < 4 {
			return
		}
		anchor := row.Find("a[href]").First()
		if anchor.Length() == 0 {
			return
		}
		href, _ := anchor.Attr("href")

		title := collapse(textOf(cols.Eq(3)))
		date := textOf(cols.Eq(0))
		location := textOf(cols.Eq(1))
		aircraft := textOf(cols.Eq(2))
		if title == "" && date == "" && location == "" && aircraft == "" {
			return
		}
		out = append(out, listingRow(title, date, location, aircraft, absoluteURL(href)))
	})
	return out
}

func parseIncidentLinks(doc *goquery.Document) []incident.Raw {
	seen := make(map[string]struct{})
	var out []incident.Raw
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isIncidentLink(href) {
			return
		}
		url := absoluteURL(href)
		if _, dup := seen[url]; dup {
			return
		}
		seen[url] = struct{}{}

		title := collapse(textOf(a))
		if title == "" {
			return
		}
		out = append(out, listingRow(title, "", "", "", url))
	})
	return out
}

func listingRow(title, date, location, aircraft, url string) incident.Raw {
	return incident.Raw{
		incident.FieldTitle:          title,
		incident.FieldEventType:      eventTypeIncident,
		incident.FieldDateUTC:        date,
		incident.FieldLocation:       location,
		incident.FieldAircraft:       aircraft,
		incident.FieldOperator:       "",
		incident.FieldPersonsOnboard: "",
		incident.FieldSummary:        title,
		incident.FieldSourceURL:      url,
	}
}

func isIncidentLink(href string) bool {
	lowered := strings.ToLower(href)
	for _, m := range incidentLinkMarkers {
		if strings.Contains(lowered, m) {
			return true
		}
	}
	return false
}

func absoluteURL(href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	return SiteURL + strings.TrimLeft(href, "/")
}

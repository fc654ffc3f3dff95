package asn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/avwatch/internal/incident"
)

const tableHTML = `
<html><body>
  <table class="hp">
    <tr><th>D</th><th>L</th><th>A</th><th>T</th></tr>
    <tr>
      <td>2026-01-15</td>
      <td>Cairo</td>
      <td>Airbus A320-200</td>
      <td><a href="/wikibase/123">Engine issue after takeoff</a></td>
    </tr>
  </table>
</body></html>`

const rssXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss><channel>
  <item>
    <title>Airbus A320 incident near Cairo</title>
    <link>https://aviation-safety.net/database/record.php?id=20260115-0</link>
    <pubDate>Sat, 15 Jan 2026 12:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Duplicate link</title>
    <link>https://aviation-safety.net/database/record.php?id=20260115-0</link>
  </item>
  <item>
    <title></title>
    <link>https://aviation-safety.net/database/record.php?id=1</link>
  </item>
</channel></rss>`

func str(r incident.Raw, key string) string {
	s, _ := r[key].(string)
	return s
}

func TestParseListing_TableRows(t *testing.T) {
	t.Parallel()

	rows := parseListing(tableHTML)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	checks := map[string]string{
		incident.FieldAircraft:  "Airbus A320-200",
		incident.FieldLocation:  "Cairo",
		incident.FieldDateUTC:   "2026-01-15",
		incident.FieldTitle:     "Engine issue after takeoff",
		incident.FieldSummary:   "Engine issue after takeoff",
		incident.FieldEventType: "incident",
		incident.FieldSourceURL: "https://aviation-safety.net/wikibase/123",
	}
	for k, want := range checks {
		if got := str(r, k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestParseListing_TableRowRequirements(t *testing.T) {
	t.Parallel()

	html := `<table>
	  <tr><td>a</td><td>b</td><td>c</td><td>no anchor</td></tr>
	  <tr><td>a</td><td>b</td><td><a href="/wikibase/1">x</a></td></tr>
	  <tr><td></td><td></td><td></td><td><a href="/wikibase/2"></a></td></tr>
	  <tr><td>1 Mar 2026</td><td>Oslo</td><td>B737</td><td><a href="https://example.org/x">Runway   excursion</a></td></tr>
	</table>`

	rows := parseListing(html)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1: %v", len(rows), rows)
	}
	if got := str(rows[0], incident.FieldTitle); got != "Runway excursion" {
		t.Errorf("title = %q", got)
	}
	if got := str(rows[0], incident.FieldSourceURL); got != "https://example.org/x" {
		t.Errorf("absolute href rewritten: %q", got)
	}
}

func TestParseListing_LinkFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		html    string
		wantURL []string
	}{
		{
			name:    "record.php",
			html:    `<div><a href="/database/record.php?id=20260115-0">Boeing 737 incident near Oslo</a></div>`,
			wantURL: []string{"https://aviation-safety.net/database/record.php?id=20260115-0"},
		},
		{
			name:    "dedup by url",
			html:    `<a href="/wikibase/999">First title</a><a href="/wikibase/999">Second title duplicate link</a>`,
			wantURL: []string{"https://aviation-safety.net/wikibase/999"},
		},
		{
			name:    "asndb year links",
			html:    `<a href="/asndb/year/2026/1">ASN article link</a>`,
			wantURL: []string{"https://aviation-safety.net/asndb/year/2026/1"},
		},
		{
			name:    "case insensitive and unrelated links ignored",
			html:    `<a href="/about">About</a><a href="/Database/DB12">X</a>`,
			wantURL: []string{"https://aviation-safety.net/Database/DB12"},
		},
		{
			name:    "empty title skipped",
			html:    `<a href="/wikibase/1"> </a>`,
			wantURL: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rows := parseListing("<html><body>" + tt.html + "</body></html>")
			if len(rows) != len(tt.wantURL) {
				t.Fatalf("rows = %d, want %d", len(rows), len(tt.wantURL))
			}
			for i, want := range tt.wantURL {
				if got := str(rows[i], incident.FieldSourceURL); got != want {
					t.Errorf("url[%d] = %q, want %q", i, got, want)
				}
			}
		})
	}
}

func TestParseListing_RSS(t *testing.T) {
	t.Parallel()

	rows := parseListing("\n  " + rssXML)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	r := rows[0]
	if got := str(r, incident.FieldTitle); got != "Airbus A320 incident near Cairo" {
		t.Errorf("title = %q", got)
	}
	if got := str(r, incident.FieldSourceURL); got != "https://aviation-safety.net/database/record.php?id=20260115-0" {
		t.Errorf("url = %q", got)
	}
	if got := str(r, incident.FieldDateUTC); got != "Sat, 15 Jan 2026 12:00:00 GMT" {
		t.Errorf("date = %q", got)
	}
}

func TestIsFeed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{`<?xml version="1.0"?><rss/>`, true},
		{`<RSS version="2.0">`, true},
		{`<feed xmlns="http://www.w3.org/2005/Atom">`, true},
		{`<html><body>rss</body></html>`, false},
		{"<html>" + strings.Repeat(" ", 400) + "<rss>", false},
	}
	for _, tt := range tests {
		if got := isFeed(tt.in); got != tt.want {
			t.Errorf("isFeed(%.30q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDetail_FallbackParagraphs(t *testing.T) {
	t.Parallel()

	html := `
	<html><body>
	  <h1>Airbus A320 incident</h1>
	  <table>
	    <tr><th>Operator</th><td>Air Test</td></tr>
	    <tr><th>Location</th><td>Cairo</td></tr>
	  </table>
	  <p>This is a detailed narrative paragraph containing more than forty characters.</p>
	  <p>Second paragraph with extra context for publication formatting.</p>
	  <p>short</p>
	</body></html>`

	d, err := parseDetail(html)
	if err != nil {
		t.Fatalf("parseDetail: %v", err)
	}
	if got := str(d, incident.FieldTitle); got != "Airbus A320 incident" {
		t.Errorf("title = %q", got)
	}
	if got := str(d, incident.FieldOperator); got != "Air Test" {
		t.Errorf("operator = %q", got)
	}
	want := "Нарратив: This is a detailed narrative paragraph containing more than forty characters.\n" +
		"Second paragraph with extra context for publication formatting."
	if got := str(d, incident.FieldSummary); got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
	if _, ok := d[incident.FieldPersonsOnboard]; ok {
		t.Error("empty persons_onboard should be omitted")
	}
}

func TestParseDetail_FactTable(t *testing.T) {
	t.Parallel()

	html := `
	<html><head><title>ASN Wikibase Occurrence</title></head><body>
	  <table>
	    <tr><td>Date:</td><td>Monday 2 March 2026</td></tr>
	    <tr><td>Time:</td><td>14:05 LT</td></tr>
	    <tr><td>Type:</td><td>Boeing 737-800</td></tr>
	    <tr><td>Owner/operator:</td><td>Example Air</td></tr>
	    <tr><td>Registration:</td><td>EI-ABC</td></tr>
	    <tr><td>Fatalities:</td><td>Fatalities: 0 / Occupants: 168</td></tr>
	    <tr><td>Location:</td><td>near <b>Oslo</b></td></tr>
	    <tr><td>Phase:</td><td>Landing</td></tr>
	    <tr><td>Nature:</td><td>Passenger - Scheduled</td></tr>
	    <tr><td>Departure airport:</td><td>Bergen (BGO)</td></tr>
	    <tr><td>Destination airport:</td><td>Bergen (BGO)</td></tr>
	    <tr><td>Narrative:</td></tr>
	  </table>
	  <span class="caption">Narrative:</span>
	  <div>The aircraft overran the runway on landing in heavy rain. No injuries were reported.</div>
	</body></html>`

	d, err := parseDetail(html)
	if err != nil {
		t.Fatalf("parseDetail: %v", err)
	}

	checks := map[string]string{
		incident.FieldTitle:          "ASN Wikibase Occurrence",
		incident.FieldOperator:       "Example Air",
		incident.FieldAircraft:       "Boeing 737-800 (борт EI-ABC)",
		incident.FieldDateUTC:        "Monday 2 March 2026, 14:05 LT",
		incident.FieldLocation:       "near Oslo",
		incident.FieldPersonsOnboard: "168",
	}
	for k, want := range checks {
		if got := str(d, k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}

	summary := str(d, incident.FieldSummary)
	for _, want := range []string{
		"Нарратив: The aircraft overran the runway",
		"Фаза полёта: Landing",
		"Характер полёта: Passenger - Scheduled",
		"Аэропорт вылета: Bergen (BGO)",
		"Погибших: 0",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
	if strings.Contains(summary, "Аэропорт назначения") {
		t.Error("destination equal to departure should be omitted")
	}
}

func TestParseDetail_NarrativeHeading(t *testing.T) {
	t.Parallel()

	html := `<html><body>
	  <h3>Narrative</h3>
	  <p>too short</p>
	  <b>Narrative:</b>
	  <p>A light aircraft made a forced landing in a field after engine failure.</p>
	  <p>Unrelated paragraph long enough to be picked by the fallback path only.</p>
	</body></html>`

	d, err := parseDetail(html)
	if err != nil {
		t.Fatalf("parseDetail: %v", err)
	}
	want := "Нарратив: A light aircraft made a forced landing in a field after engine failure."
	if got := str(d, incident.FieldSummary); got != want {
		t.Errorf("summary = %q, want %q", got, want)
	}
}

func TestParseDetail_RegistrationAlreadyPresent(t *testing.T) {
	t.Parallel()

	html := `<table>
	  <tr><th>Aircraft type</th><td>Cessna 172 EI-XYZ</td></tr>
	  <tr><th>Registration</th><td>EI-XYZ</td></tr>
	  <tr><th>Date</th><td>2 Mar 2026 10:00</td></tr>
	  <tr><th>Time</th><td>10:00</td></tr>
	</table>`

	d, err := parseDetail(html)
	if err != nil {
		t.Fatalf("parseDetail: %v", err)
	}
	if got := str(d, incident.FieldAircraft); got != "Cessna 172 EI-XYZ" {
		t.Errorf("aircraft = %q", got)
	}
	if got := str(d, incident.FieldDateUTC); got != "2 Mar 2026 10:00" {
		t.Errorf("date = %q", got)
	}
}

func newCollector(urls ...string) *Collector {
	return New(Config{FeedURLs: urls, Timeout: 5 * time.Second}, log.Nop())
}

func TestFetchRecent_FirstParsedFeedWins(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusBadGateway)
		case "/empty":
			_, _ = w.Write([]byte("<html><body>nothing here</body></html>"))
		case "/rss":
			w.Header().Set("Content-Type", "application/rss+xml")
			_, _ = w.Write([]byte(rssXML))
		default:
			_, _ = w.Write([]byte(tableHTML))
		}
	}))
	defer srv.Close()

	c := New(Config{
		FeedURLs:  []string{srv.URL + "/down", srv.URL + "/empty", srv.URL + "/rss", srv.URL + "/table"},
		UserAgent: "avwatch-test",
	}, log.Nop())

	rows, err := c.FetchRecent(context.Background())
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(rows) != 1 || str(rows[0], incident.FieldTitle) != "Airbus A320 incident near Cairo" {
		t.Fatalf("rows = %v", rows)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3 (stop at first parsed feed)", hits.Load())
	}
	if ua, _ := gotUA.Load().(string); ua != "avwatch-test" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestFetchRecent_ReachableButEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>maintenance</p></body></html>"))
	}))
	defer srv.Close()

	rows, err := newCollector(srv.URL).FetchRecent(context.Background())
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %v, want empty non-nil", rows)
	}
}

func TestFetchRecent_Unavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	_, err := newCollector(srv.URL+"/a", closedURL).FetchRecent(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if !strings.Contains(err.Error(), "status 503") || !strings.Contains(err.Error(), " | ") {
		t.Errorf("err = %q, want per-URL reasons", err)
	}
}

func TestFetchRecent_NoURLs(t *testing.T) {
	t.Parallel()

	_, err := newCollector().FetchRecent(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestFetchDetails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`<h1>Detail title</h1><table><tr><th>Location</th><td>Oslo</td></tr></table>`))
	}))
	defer srv.Close()

	c := newCollector()

	d := c.FetchDetails(context.Background(), srv.URL+"/wikibase/1")
	if str(d, incident.FieldTitle) != "Detail title" || str(d, incident.FieldLocation) != "Oslo" {
		t.Errorf("details = %v", d)
	}
	if d := c.FetchDetails(context.Background(), srv.URL+"/missing"); len(d) != 0 {
		t.Errorf("404 details = %v, want empty", d)
	}
	if d := c.FetchDetails(context.Background(), ""); len(d) != 0 {
		t.Errorf("empty url details = %v, want empty", d)
	}
}

func TestDefaultFeedURLs(t *testing.T) {
	t.Parallel()

	urls := DefaultFeedURLs(2026)
	if len(urls) != 4 || urls[0] != "https://aviation-safety.net/rss.xml" {
		t.Fatalf("urls = %v", urls)
	}
	if urls[1] != "https://aviation-safety.net/asndb/year/2026" {
		t.Errorf("year url = %q", urls[1])
	}
}

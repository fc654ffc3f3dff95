package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/go-core/log"
)

// fakeBotAPI records sendMessage calls as flat field maps, whatever the
// request encoding.
type fakeBotAPI struct {
	mu       sync.Mutex
	requests []map[string]string
	paths    []string
	respond  func(n int, fields map[string]string) (int, string)
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := requestFields(r)

	f.mu.Lock()
	f.requests = append(f.requests, fields)
	f.paths = append(f.paths, r.URL.Path)
	n := len(f.requests)
	f.mu.Unlock()

	status, resp := http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":1,"type":"channel"}}}`
	if f.respond != nil {
		status, resp = f.respond(n, fields)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resp))
}

func requestFields(r *http.Request) map[string]string {
	fields := map[string]string{}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		for k, v := range body {
			if str, ok := v.(string); ok {
				fields[k] = str
				continue
			}
			raw, _ := json.Marshal(v)
			fields[k] = string(raw)
		}
	case "multipart/form-data":
		_ = r.ParseMultipartForm(1 << 20)
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
	default:
		_ = r.ParseForm()
		for k, v := range r.PostForm {
			fields[k] = v[0]
		}
	}
	return fields
}

func (f *fakeBotAPI) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestPublisher(t *testing.T, api *fakeBotAPI, cfg Config) *Publisher {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg.APIURL = srv.URL + "/"
	return New(cfg, log.Nop())
}

func TestPublish_SendsMarkdown(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	p := newTestPublisher(t, api, Config{BotToken: "123:abc", Channel: "@avia"})

	if err := p.Publish(context.Background(), "*hello*"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if api.count() != 1 {
		t.Fatalf("requests = %d, want 1", api.count())
	}
	if api.paths[0] != "/bot123:abc/sendMessage" {
		t.Errorf("path = %q", api.paths[0])
	}
	req := api.requests[0]
	if req["chat_id"] != "@avia" || req["text"] != "*hello*" {
		t.Errorf("request = %v", req)
	}
	if req["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %q", req["parse_mode"])
	}
	if !strings.Contains(strings.ReplaceAll(req["link_preview_options"], " ", ""), `"is_disabled":true`) {
		t.Errorf("link_preview_options = %q", req["link_preview_options"])
	}
}

func TestPublish_RetriesWithoutParseMode(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{respond: func(n int, _ map[string]string) (int, string) {
		if n == 1 {
			return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: Can't find end of the entity starting at byte offset 12"}`
		}
		return http.StatusOK, `{"ok":true,"result":{"message_id":2,"date":0,"chat":{"id":1,"type":"channel"}}}`
	}}
	p := newTestPublisher(t, api, Config{BotToken: "t", Channel: "@c"})

	if err := p.Publish(context.Background(), "broken_markdown"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if api.count() != 2 {
		t.Fatalf("requests = %d, want 2", api.count())
	}
	if api.requests[0]["parse_mode"] != "Markdown" {
		t.Errorf("first attempt parse_mode = %q", api.requests[0]["parse_mode"])
	}
	if pm := api.requests[1]["parse_mode"]; pm != "" {
		t.Errorf("retry still carries parse_mode %q", pm)
	}
	if api.requests[1]["text"] != "broken_markdown" {
		t.Errorf("retry text = %q", api.requests[1]["text"])
	}
}

func TestPublish_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		cfg          Config
		status       int
		body         string
		wantRequests int
		wantErr      string
	}{
		{"no token", Config{Channel: "@c"}, 0, "", 0, "bot token is empty"},
		{"no channel", Config{BotToken: "t"}, 0, "", 0, "channel is empty"},
		{"forbidden", Config{BotToken: "t", Channel: "@c"}, http.StatusForbidden,
			`{"ok":false,"error_code":403,"description":"Forbidden: bot is not a member of the channel chat"}`, 1, "bot is not a member"},
		{"other 400 not retried", Config{BotToken: "t", Channel: "@c"}, http.StatusBadRequest,
			`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, 1, "chat not found"},
		{"plain body", Config{BotToken: "t", Channel: "@c"}, http.StatusBadGateway, "upstream down", 1, "chat_id=@c"},
		{"parse error twice", Config{BotToken: "t", Channel: "@c"}, http.StatusBadRequest,
			`{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`, 2, "can't parse entities"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeBotAPI{respond: func(int, map[string]string) (int, string) { return tt.status, tt.body }}
			p := newTestPublisher(t, api, tt.cfg)

			err := p.Publish(context.Background(), "text")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
			if api.count() != tt.wantRequests {
				t.Errorf("requests = %d, want %d", api.count(), tt.wantRequests)
			}
		})
	}
}

func TestPublish_NetworkErrorHidesToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := New(Config{BotToken: "secret-token", Channel: "@c", APIURL: url}, log.Nop())
	err := p.Publish(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks token: %v", err)
	}
}

func TestSendAlert(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{}
	p := newTestPublisher(t, api, Config{BotToken: "t", Channel: "@c", AlertChatID: "-100500"})

	p.SendAlert(context.Background(), "⚠️ 3 подряд идущих ошибок публикации.")
	if api.count() != 1 {
		t.Fatalf("requests = %d, want 1", api.count())
	}
	req := api.requests[0]
	if req["chat_id"] != "-100500" {
		t.Errorf("chat_id = %q", req["chat_id"])
	}
	text := req["text"]
	if !strings.HasPrefix(text, "🚨 avwatch ALERT\n\n⚠️ 3") {
		t.Errorf("text = %q", text)
	}
}

func TestSendAlert_NoDeliveryWithoutConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no alert chat", Config{BotToken: "t", Channel: "@c"}},
		{"no token", Config{AlertChatID: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := &fakeBotAPI{}
			p := newTestPublisher(t, api, tt.cfg)
			p.SendAlert(context.Background(), "x")
			if api.count() != 0 {
				t.Errorf("requests = %d, want 0", api.count())
			}
		})
	}
}

func TestSendAlert_SwallowsFailure(t *testing.T) {
	t.Parallel()

	api := &fakeBotAPI{respond: func(int, map[string]string) (int, string) {
		return http.StatusInternalServerError, `{"ok":false,"error_code":500,"description":"internal"}`
	}}
	p := newTestPublisher(t, api, Config{BotToken: "t", AlertChatID: "1"})

	// must not panic or block
	p.SendAlert(context.Background(), "x")
	if api.count() != 1 {
		t.Errorf("requests = %d, want 1", api.count())
	}
}

func TestIsEntityParseError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{"bad request, Bad Request: can't parse entities: unexpected end", true},
		{"bad request, Bad Request: Can't Parse Entities", true},
		{"bad request, Bad Request: chat not found", false},
		{"forbidden, Forbidden: bot was blocked", false},
	}
	for _, tt := range tests {
		if got := isEntityParseError(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isEntityParseError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/avwatch/internal/collector/asn"
	vc "github.com/linnemanlabs/avwatch/internal/cfg"
	"github.com/linnemanlabs/avwatch/internal/incident/memstore"
	"github.com/linnemanlabs/avwatch/internal/incident/sqlitestore"
	"github.com/linnemanlabs/avwatch/internal/notify/slack"
	"github.com/linnemanlabs/avwatch/internal/notify/telegram"
)

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error when NOTIFY_SOCKET is empty")
	}
	if !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Errorf("error = %q, want substring %q", err, "NOTIFY_SOCKET not set")
	}
}

func TestNotifySystemd_InvalidPath(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", filepath.Join(t.TempDir(), "nonexistent.sock"))

	err := notifySystemd()
	if err == nil {
		t.Fatal("expected error for nonexistent socket")
	}
	if !strings.Contains(err.Error(), "dial failed") {
		t.Errorf("error = %q, want substring %q", err, "dial failed")
	}
}

func TestNotifySystemd_Success(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	defer func() { _ = conn.Close() }()

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 256)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}

func TestOpenStore_InMemory(t *testing.T) {
	t.Parallel()

	st, closeFn, err := openStore(context.Background(), vc.Config{}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*memstore.Store); !ok {
		t.Errorf("store = %T, want *memstore.Store", st)
	}
}

func TestOpenStore_SQLiteCreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "avwatch.db")
	st, closeFn, err := openStore(context.Background(), vc.Config{DatabaseURL: "sqlite:///" + path}, log.Nop())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeFn()
	if _, ok := st.(*sqlitestore.Store); !ok {
		t.Errorf("store = %T, want *sqlitestore.Store", st)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpenStore_BadPostgresURL(t *testing.T) {
	t.Parallel()

	_, _, err := openStore(context.Background(), vc.Config{DatabaseURL: "postgres://%zz"}, log.Nop())
	if err == nil || !strings.Contains(err.Error(), "postgres pool") {
		t.Errorf("err = %v, want postgres pool error", err)
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		cfg      vc.Config
		wantNil  bool
		wantName string
	}{
		{"auto without keys", vc.Config{LLMProvider: vc.ProviderAuto}, true, ""},
		{"auto picks deepseek", vc.Config{LLMProvider: vc.ProviderAuto, DeepSeekAPIKey: "k"}, false, "deepseek"},
		{"auto picks openrouter", vc.Config{LLMProvider: vc.ProviderAuto, DeepSeekAPIKey: "k", OpenRouterAPIKey: "o"}, false, "openrouter"},
		{"explicit openrouter without key", vc.Config{LLMProvider: vc.ProviderOpenRouter, DeepSeekAPIKey: "k"}, true, ""},
		{"claude", vc.Config{LLMProvider: vc.ProviderClaude, ClaudeAPIKey: "c", ClaudeModel: "claude-sonnet-4-20250514"}, false, "claude"},
		{"claude without key", vc.Config{LLMProvider: vc.ProviderClaude}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := newProvider(tt.cfg)
			if tt.wantNil {
				if p != nil {
					t.Errorf("provider = %v, want nil", p.Name())
				}
				return
			}
			if p == nil {
				t.Fatal("provider = nil")
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestNewPublisher(t *testing.T) {
	t.Parallel()

	if _, ok := newPublisher(vc.Config{Publisher: vc.PublisherSlack}, log.Nop()).(*slack.Notifier); !ok {
		t.Error("slack publisher not selected")
	}
	if _, ok := newPublisher(vc.Config{Publisher: vc.PublisherTelegram}, log.Nop()).(*telegram.Publisher); !ok {
		t.Error("telegram publisher not selected")
	}
}

func TestOnceExitErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"source unavailable", fmt.Errorf("collect: %w", asn.ErrSourceUnavailable), true},
		{"store failure", errors.New("exists: connection reset"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := onceExitErr(tt.err)
			if (err != nil) != tt.wantErr {
				t.Fatalf("onceExitErr(%v) = %v, wantErr %v", tt.err, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, asn.ErrSourceUnavailable) {
				t.Errorf("err = %v, want wrapped ErrSourceUnavailable", err)
			}
		})
	}
}

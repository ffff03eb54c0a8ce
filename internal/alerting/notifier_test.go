package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNote() Notification {
	entry := decimal.RequireFromString("0.002")
	athAt := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	return Notification{
		AssetID:      "ethereum:0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		Network:      "ethereum",
		Address:      "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		CalledAt:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		PriceAtCall:  &entry,
		ATHPrice:     decimal.RequireFromString("0.01"),
		ATHAt:        &athAt,
		CurrentPrice: decimal.RequireFromString("0.004"),
		Channels:     []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "5.00x") {
		t.Fatalf("message should report the gain ratio, got %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false should error")
	}
}

func TestGainRatioUnknownEntry(t *testing.T) {
	note := testNote()
	note.PriceAtCall = nil
	if note.GainRatio() != nil {
		t.Fatal("gain ratio should be nil without an entry price")
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

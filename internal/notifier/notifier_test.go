package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StockScanner/internal/scanner"
)

func TestSend(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			t.Errorf("path: %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42", "")
	n.BaseURL = srv.URL
	if err := n.Send(context.Background(), "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" || got["parse_mode"] != "HTML" || got["text"] != "hi" {
		t.Errorf("payload: %v", got)
	}
}

func TestSendWithRetry_GivesUp(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("T", "1", "")
	n.BaseURL = srv.URL
	if err := n.SendWithRetry(context.Background(), "x", 0); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestFormatCycleReport(t *testing.T) {
	start := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	sums := []scanner.Summary{
		{Scanner: "price", State: scanner.StateCompleted, Success: 12, Skipped: 1800, Started: start, Finished: start.Add(90 * time.Second)},
		{Scanner: "chip", State: scanner.StateCircuitBroken, Failed: 10},
	}
	out := FormatCycleReport(start, 600, sums)
	for _, want := range []string{"2024-06-03 10:00", "600", "<b>price</b>", "1m30s", "熔斷"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(FormatCycleReport(start, -1, nil), "不限") {
		t.Error("unlimited budget not shown")
	}
}

package alert_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veldt/outpaint/alert"
)

func TestWebhook_Notify(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := alert.NewWebhook(srv.URL, slog.Default(), alert.WithChannelID("chan-42"))
	if err := wh.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["msg_type"] != "text" {
		t.Errorf("msg_type = %v, want text", got["msg_type"])
	}
	if got["channel_id"] != "chan-42" {
		t.Errorf("channel_id = %v, want chan-42", got["channel_id"])
	}
	content, ok := got["content"].(map[string]any)
	if !ok || content["text"] != "hello" {
		t.Errorf("content = %v, want text hello", got["content"])
	}
}

func TestWebhook_NotifyStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	wh := alert.NewWebhook(srv.URL, slog.Default())
	if err := wh.Notify(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

type recordingNotifier struct {
	texts []string
}

func (r *recordingNotifier) Notify(_ context.Context, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func TestEvictionAlerter_Format(t *testing.T) {
	n := &recordingNotifier{}
	a := alert.NewEvictionAlerter(n)

	if err := a.OnWorkerEvicted(context.Background(), "browser-2", "insufficient credit"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(n.texts) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(n.texts))
	}
	if n.texts[0] != "[browser-2] insufficient credit" {
		t.Errorf("notification = %q", n.texts[0])
	}
}

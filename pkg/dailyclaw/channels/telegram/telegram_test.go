package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jholhewres/dailyclaw/pkg/dailyclaw/channels"
)

type fakeBotAPI struct {
	mu      sync.Mutex
	served  bool
	updates string
	sent    []map[string]any
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch method {
	case "getMe":
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":999,"is_bot":true,"username":"dailyclaw_bot"}}`)
	case "getUpdates":
		if f.served {
			f.mu.Unlock()
			time.Sleep(20 * time.Millisecond) // stand-in for the long-poll wait
			f.mu.Lock()
			_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
			return
		}
		f.served = true
		_, _ = io.WriteString(w, `{"ok":true,"result":`+f.updates+`}`)
	case "sendMessage", "sendChatAction":
		payload["method"] = method
		f.sent = append(f.sent, payload)
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	default:
		_, _ = io.WriteString(w, `{"ok":false,"description":"unknown method"}`)
	}
}

func newTestChannel(t *testing.T, api *fakeBotAPI, cfg Config) *Telegram {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg.Token = "TOKEN"
	cfg.APIBase = srv.URL
	tg := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := tg.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = tg.Disconnect() })
	return tg
}

func TestReceiveConvertsUpdates(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{updates: `[
		{"update_id":1,"message":{"message_id":10,"from":{"id":7,"first_name":"Ana"},"chat":{"id":7,"type":"private"},"date":1700000000,"text":"add milk"}},
		{"update_id":2,"message":{"message_id":11,"from":{"id":8,"is_bot":true},"chat":{"id":7,"type":"private"},"date":1700000000,"text":"ignored"}},
		{"update_id":3,"message":{"message_id":12,"from":{"id":7},"chat":{"id":-100,"type":"supergroup"},"date":1700000000,"text":"thanks",
			"reply_to_message":{"message_id":5,"from":{"id":999,"is_bot":true},"chat":{"id":-100,"type":"supergroup"},"text":"Reminder: x"}}},
		{"update_id":4,"message":{"message_id":13,"from":{"id":7},"chat":{"id":-100,"type":"supergroup"},"date":1700000000,"text":"@DailyClaw_Bot list tasks"}}
	]`}
	tg := newTestChannel(t, api, DefaultConfig())

	var got []*channels.IncomingMessage
	for len(got) < 3 {
		select {
		case msg := <-tg.Receive():
			got = append(got, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d messages, want 3", len(got))
		}
	}

	if got[0].ChatKey() != "telegram:7" || got[0].Content != "add milk" || got[0].FromName != "Ana" || got[0].IsGroup {
		t.Errorf("private message = %+v", got[0])
	}
	if !got[1].IsGroup || !got[1].ReplyToBot || got[1].ReplyTo != "5" {
		t.Errorf("group reply = %+v", got[1])
	}
	if got[1].Mentioned || !got[2].Mentioned {
		t.Errorf("mention flags = %v, %v", got[1].Mentioned, got[2].Mentioned)
	}
}

func TestSendAndTyping(t *testing.T) {
	t.Parallel()
	api := &fakeBotAPI{updates: `[]`}
	tg := newTestChannel(t, api, DefaultConfig())

	if err := tg.Send(context.Background(), "42", &channels.OutgoingMessage{Content: "Reminder: call mom"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := tg.SendTyping(context.Background(), "42"); err != nil {
		t.Fatalf("SendTyping: %v", err)
	}
	if err := tg.Send(context.Background(), "not-a-number", &channels.OutgoingMessage{Content: "x"}); err == nil {
		t.Fatal("invalid chat id accepted")
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 2 {
		t.Fatalf("api calls = %v", api.sent)
	}
	if api.sent[0]["method"] != "sendMessage" || api.sent[0]["text"] != "Reminder: call mom" || api.sent[0]["chat_id"] != float64(42) {
		t.Errorf("sendMessage payload = %v", api.sent[0])
	}
	if api.sent[1]["action"] != "typing" {
		t.Errorf("sendChatAction payload = %v", api.sent[1])
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	t.Parallel()
	tg := New(Config{Token: "x"}, nil)
	if err := tg.Send(context.Background(), "1", &channels.OutgoingMessage{Content: "x"}); err != channels.ErrChannelDisconnected {
		t.Fatalf("expected ErrChannelDisconnected, got %v", err)
	}
}

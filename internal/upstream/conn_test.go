package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsTestServer serves one websocket handler and returns the ws:// URL.
func wsTestServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSConnToolResultWritesSingleFrame(t *testing.T) {
	types := make(chan string, 16)
	url := wsTestServer(t, func(conn *websocket.Conn) {
		defer close(types)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &frame); err == nil {
				types <- frame.Type
			}
		}
	})

	d := NewWSDialer(WSDialerConfig{URL: url, APIKey: "test"})
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	ctx := context.Background()

	update := BuildSessionUpdate(SessionSettings{Voice: "Sal", Language: "en", AudioFormat: "audio/pcm"}, nil, VADParams{}, nil)
	if err := conn.Configure(ctx, update); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if err := conn.SendToolResult(ctx, "c1", `{"ok":true}`); err != nil {
		t.Fatalf("SendToolResult() error = %v", err)
	}
	if err := conn.RequestResponse(ctx); err != nil {
		t.Fatalf("RequestResponse() error = %v", err)
	}
	_ = conn.Close()

	var got []string
	for typ := range types {
		got = append(got, typ)
	}
	want := []string{"session.update", "conversation.item.create", "response.create"}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestWSConnCloseWhileStreaming(t *testing.T) {
	url := wsTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		for {
			if err := conn.WriteJSON(map[string]any{"type": "response.audio.delta", "delta": "YWJj"}); err != nil {
				return
			}
		}
	})

	d := NewWSDialer(WSDialerConfig{URL: url, APIKey: "test"})
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}

	// Tear down while the upstream is mid-stream.
	select {
	case <-conn.Events():
	case <-time.After(2 * time.Second):
		t.Fatalf("no event before deadline")
	}
	_ = conn.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-conn.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel did not close after Close")
		}
	}
}

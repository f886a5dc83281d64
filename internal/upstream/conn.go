package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live connection to the upstream realtime voice agent. A
// VoiceSession exclusively owns its Conn; the Events channel closes when the
// connection drops.
type Conn interface {
	Configure(ctx context.Context, update SessionUpdate) error
	AppendAudio(ctx context.Context, audioBase64 string) error
	CommitAudio(ctx context.Context) error
	CreateUserText(ctx context.Context, text string) error
	SendToolResult(ctx context.Context, callID, output string) error
	RequestResponse(ctx context.Context) error
	CancelResponse(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// Dialer establishes upstream connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

type WSDialerConfig struct {
	URL    string
	APIKey string
}

// WSDialer dials the upstream realtime websocket endpoint.
type WSDialer struct {
	cfg WSDialerConfig
}

func NewWSDialer(cfg WSDialerConfig) *WSDialer {
	return &WSDialer{cfg: cfg}
}

func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	// The upstream speaks the OpenAI-compatible realtime protocol.
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, strings.TrimSpace(d.cfg.URL), headers)
	if err != nil {
		return nil, fmt.Errorf("dial upstream websocket: %w", err)
	}

	c := &wsConn{conn: conn, events: make(chan Event, 256)}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan Event
}

func (c *wsConn) Configure(_ context.Context, update SessionUpdate) error {
	return c.writeJSON(update)
}

func (c *wsConn) AppendAudio(_ context.Context, audioBase64 string) error {
	return c.writeJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioBase64,
	})
}

func (c *wsConn) CommitAudio(_ context.Context) error {
	return c.writeJSON(map[string]any{"type": "input_audio_buffer.commit"})
}

func (c *wsConn) CreateUserText(_ context.Context, text string) error {
	return c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// SendToolResult submits a function_call_output item. Requesting the
// follow-up response is the caller's job.
func (c *wsConn) SendToolResult(_ context.Context, callID, output string) error {
	return c.writeJSON(map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
}

func (c *wsConn) RequestResponse(_ context.Context) error {
	return c.writeJSON(map[string]any{"type": "response.create"})
}

func (c *wsConn) CancelResponse(_ context.Context) error {
	return c.writeJSON(map[string]any{"type": "response.cancel"})
}

func (c *wsConn) Events() <-chan Event { return c.events }

// Close shuts the underlying socket. The read loop notices, exits, and
// closes the events channel; only the read loop may close it, since it can
// be mid-send when Close is called from another goroutine.
func (c *wsConn) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		retErr = c.conn.Close()
	})
	return retErr
}

func (c *wsConn) writeJSON(payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

func (c *wsConn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		evt, ok := ParseEvent(data)
		if !ok {
			// Forward compatibility: unknown upstream frames are dropped.
			continue
		}
		c.events <- evt
	}
}

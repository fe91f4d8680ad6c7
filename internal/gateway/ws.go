package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ChatRouter runs one turn on a channel's agent, streaming pass-through text
// to sink. *router.Router implements it.
type ChatRouter interface {
	Route(ctx context.Context, channelID, prompt string, sink io.WriteCloser) (string, error)
	Clear(ctx context.Context, channelID string) error
}

// DefaultChannelID is used when a message arrives without a ChannelID.
const DefaultChannelID = "default"

// Message types on the wire.
const (
	TypeChat        = "chat"
	TypeClear       = "clear"
	TypeCleared     = "cleared"
	TypeDelta       = "delta"
	TypeError       = "error"
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"
)

// WSMessage is the JSON message protocol for the WebSocket gateway.
// Example: {"type": "chat", "content": "hello", "channelId": "general"}
type WSMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	ChannelID string `json:"channelId,omitempty"`
}

// jsonMarshal is used when encoding WSMessage; tests may replace it to force Marshal errors.
// Access is protected by jsonMarshalMu for race-safe test swaps.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

// Default upgrader for WebSocket connections.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsHandler struct {
	router ChatRouter
	logger *slog.Logger
}

// ServeHTTP upgrades the request to WebSocket and runs a read loop, responding
// on the same connection. With a router, "chat" messages run a turn on the
// message's channel: typing_start, delta frames while the model streams, the
// final answer as a chat frame, then typing_stop. "clear" resets the channel.
// Without a router every message is echoed. Only GET is accepted.
func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("gateway: ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	h.logger.Debug("gateway: ws connected", "remote", r.RemoteAddr)

	out := &wsWriter{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			out.send(WSMessage{Type: TypeError, Content: "invalid JSON"})
			continue
		}
		channelID := in.ChannelID
		if channelID == "" {
			channelID = DefaultChannelID
		}

		switch {
		case h.router == nil:
			out.send(WSMessage{Type: in.Type, Content: "echo: " + in.Content, ChannelID: channelID})
		case in.Type == TypeChat:
			h.chat(r.Context(), out, channelID, in.Content)
		case in.Type == TypeClear:
			if err := h.router.Clear(r.Context(), channelID); err != nil {
				out.send(WSMessage{Type: TypeError, Content: err.Error(), ChannelID: channelID})
				continue
			}
			out.send(WSMessage{Type: TypeCleared, ChannelID: channelID})
		default:
			out.send(WSMessage{Type: TypeError, Content: "unknown message type " + in.Type, ChannelID: channelID})
		}
	}
	h.logger.Debug("gateway: ws disconnected", "remote", r.RemoteAddr)
}

func (h *wsHandler) chat(ctx context.Context, out *wsWriter, channelID, prompt string) {
	out.send(WSMessage{Type: TypeTypingStart, ChannelID: channelID})
	content, err := h.router.Route(ctx, channelID, prompt, &deltaSink{out: out, channelID: channelID})
	if err != nil {
		h.logger.Warn("gateway: turn failed", "channel", channelID, "err", err)
		content = "error: " + err.Error()
	}
	out.send(WSMessage{Type: TypeChat, Content: content, ChannelID: channelID})
	out.send(WSMessage{Type: TypeTypingStop, ChannelID: channelID})
}

// wsWriter serializes writes to one connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(msg WSMessage) {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(&msg)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteMessage(websocket.TextMessage, data)
}

// deltaSink forwards each streamed write as a delta frame. Close is a no-op;
// the final chat frame marks the end of the turn.
type deltaSink struct {
	out       *wsWriter
	channelID string
}

func (s *deltaSink) Write(p []byte) (int, error) {
	if len(p) > 0 {
		s.out.send(WSMessage{Type: TypeDelta, Content: string(p), ChannelID: s.channelID})
	}
	return len(p), nil
}

func (s *deltaSink) Close() error { return nil }

// Package bridge is the WebSocket server the companion extension connects
// to. It exposes the live browser as a browser.Browser (commands are sent
// as correlated request/response pairs), streams browser events to the
// engine, and forwards UI requests from the extension's pages.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/browser"
	"nhooyr.io/websocket"
)

const rpcTimeout = 10 * time.Second

// OutgoingMsg is a frame from the daemon to the extension.
type OutgoingMsg struct {
	ID     string   `json:"id,omitempty"`
	Action string   `json:"action,omitempty"`
	WinID  int      `json:"windowId,omitempty"`
	TabID  int      `json:"tabId,omitempty"`
	TabIDs []int    `json:"tabIds,omitempty"`
	URL    string   `json:"url,omitempty"`
	URLs   []string `json:"urls,omitempty"`
	Label  string   `json:"label,omitempty"`
	Color  string   `json:"color,omitempty"`

	// Reply to a forwarded UI request.
	Reply json.RawMessage `json:"reply,omitempty"`
	Error string          `json:"error,omitempty"`

	// Push notification (bus fan-out).
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// IncomingMsg is a frame from the extension to the daemon.
type IncomingMsg struct {
	Type string `json:"type"` // "response", "event" or "request"

	// Response fields.
	ID      string          `json:"id,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Exists  *bool           `json:"exists,omitempty"`
	Window  json.RawMessage `json:"window,omitempty"`
	Windows json.RawMessage `json:"windows,omitempty"`
	Tab     json.RawMessage `json:"tab,omitempty"`
	Tabs    json.RawMessage `json:"tabs,omitempty"`
	Meta    json.RawMessage `json:"meta,omitempty"`

	// Event fields.
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Request fields (UI pages asking the daemon for something).
	Request json.RawMessage `json:"request,omitempty"`
}

// UIRequest is a request forwarded from an extension page, answered via
// Reply.
type UIRequest struct {
	ID      string
	Payload json.RawMessage
}

// Bridge is the WebSocket endpoint. One extension connection at a time; a
// new connection replaces the old one.
type Bridge struct {
	port int

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg

	events   chan browser.Event
	requests chan UIRequest
}

// New creates a bridge listening (once served) on the given port.
func New(port int) *Bridge {
	return &Bridge{
		port:     port,
		pending:  make(map[string]chan IncomingMsg),
		events:   make(chan browser.Event, 64),
		requests: make(chan UIRequest, 16),
	}
}

// Events returns the stream of browser events.
func (b *Bridge) Events() <-chan browser.Event {
	return b.events
}

// Requests returns the stream of forwarded UI requests.
func (b *Bridge) Requests() <-chan UIRequest {
	return b.requests
}

// Connected reports whether an extension is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Handler returns an http.Handler accepting WebSocket upgrades.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("ws.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // windows with many tabs produce large frames

		ctx := r.Context()
		b.mu.Lock()
		if b.conn != nil {
			applog.Info("ws.replaced")
			b.conn.CloseNow()
		}
		b.conn = conn
		b.connCtx = ctx
		b.mu.Unlock()

		applog.Info("ws.connected", "remote", r.RemoteAddr)
		select {
		case b.events <- browser.Connected{}:
		default:
		}

		defer func() {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				b.connCtx = nil
			}
			b.mu.Unlock()
			conn.CloseNow()
			applog.Info("ws.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("ws.parse", err)
				continue
			}
			b.dispatch(msg)
		}
	})
}

func (b *Bridge) dispatch(msg IncomingMsg) {
	switch msg.Type {
	case "response":
		b.mu.Lock()
		ch, ok := b.pending[msg.ID]
		b.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	case "event":
		ev, err := parseEvent(msg.Event, msg.Payload)
		if err != nil {
			applog.Error("ws.event", err, "event", msg.Event)
			return
		}
		select {
		case b.events <- ev:
		default:
			applog.Info("ws.event.dropped", "event", msg.Event)
		}
	case "request":
		select {
		case b.requests <- UIRequest{ID: msg.ID, Payload: msg.Request}:
		default:
			applog.Info("ws.request.dropped", "id", msg.ID)
		}
	default:
		applog.Info("ws.unknown", "type", msg.Type)
	}
}

// ListenAndServe runs the WebSocket server until ctx is cancelled.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", b.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", b.port)
	applog.Info("bridge.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}

func (b *Bridge) send(msg OutgoingMsg) error {
	b.mu.Lock()
	conn := b.conn
	ctx := b.connCtx
	b.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("extension not connected")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Reply answers a forwarded UI request.
func (b *Bridge) Reply(id string, payload any, reqErr error) {
	msg := OutgoingMsg{ID: id}
	if reqErr != nil {
		msg.Error = reqErr.Error()
	} else if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			msg.Error = err.Error()
		} else {
			msg.Reply = data
		}
	}
	if err := b.send(msg); err != nil {
		applog.Error("ws.reply", err, "id", id)
	}
}

// Push sends a fire-and-forget notification to the extension.
func (b *Bridge) Push(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		applog.Error("ws.push", err, "event", event)
		return
	}
	if err := b.send(OutgoingMsg{Event: event, Payload: data}); err != nil {
		applog.Info("ws.push.skipped", "event", event)
	}
}

// call sends a command and waits for its correlated response.
func (b *Bridge) call(ctx context.Context, msg OutgoingMsg) (IncomingMsg, error) {
	msg.ID = uuid.NewString()
	ch := make(chan IncomingMsg, 1)

	b.mu.Lock()
	b.pending[msg.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	if err := b.send(msg); err != nil {
		return IncomingMsg{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("%s: %s", msg.Action, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return IncomingMsg{}, fmt.Errorf("%s: %w", msg.Action, ctx.Err())
	}
}

// Package hub implements the C2 Communication Hub: one persistent duplex
// connection per process, keyed by the trailing path segment of the
// connection URL, with append-only message history, path rewriting for
// sandboxed artifact references, and per-connection cost tracking.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/magi-project/magi/internal/cost"
	"github.com/magi-project/magi/pkg/wire"
)

const (
	readBufferBytes  = 8192
	writeBufferBytes = 8192
	pongWait         = 45 * time.Second
	writeWait        = 10 * time.Second
	flushEveryN      = 5
)

var reservedProcessIDs = map[string]bool{
	"": true, "ws": true, "connect": true, "favicon.ico": true,
}

// Dispatcher forwards an inbound message to the Event Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, processID string, msg wire.MagiMessage)
}

// Persister writes and loads a process's message history.
type Persister interface {
	Load(processID string) ([]wire.MagiMessage, error)
	Save(processID string, history []wire.MagiMessage) error
}

// Connection is one live duplex link to a containerized agent process.
type Connection struct {
	ProcessID string
	IsCore    bool

	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	hub *Hub

	mu             sync.Mutex
	messageHistory []wire.MagiMessage
	unflushed      int
}

// Hub tracks every live Connection and broadcasts to all of them.
type Hub struct {
	mu          sync.RWMutex
	conns       map[string]*Connection
	logger      *slog.Logger
	dispatcher  Dispatcher
	persister   Persister
	aggregator  *cost.Aggregator
	auth        *Authenticator
	upgrader    websocket.Upgrader
	onBroadcast func(wire.MagiMessage)
}

func New(logger *slog.Logger, dispatcher Dispatcher, persister Persister, aggregator *cost.Aggregator) *Hub {
	return &Hub{
		conns:      make(map[string]*Connection),
		logger:     logger,
		dispatcher: dispatcher,
		persister:  persister,
		aggregator: aggregator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferBytes,
			WriteBufferSize: writeBufferBytes,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// WithAuth enables bearer-token authentication on subsequent
// connections. Passing nil disables it again.
func (h *Hub) WithAuth(a *Authenticator) *Hub {
	h.auth = a
	return h
}

// SetDispatcher wires the Event Router after construction, breaking the
// Hub/Router constructor cycle (the router needs a Sender, and the Hub
// satisfies that interface).
func (h *Hub) SetDispatcher(d Dispatcher) { h.dispatcher = d }

// ServeHTTP accepts a connection whose URL path's trailing segment names
// the process id; unset or reserved ids are rejected (spec §4.8).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	processID := path.Base(r.URL.Path)
	if reservedProcessIDs[processID] {
		http.Error(w, "missing or reserved process id", http.StatusBadRequest)
		return
	}

	if h.auth.Enabled() {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if err := h.auth.Validate(token, processID); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &Connection{
		ProcessID: processID,
		conn:      wsConn,
		send:      make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
		hub:       h,
	}

	if h.persister != nil {
		if history, err := h.persister.Load(processID); err == nil {
			c.messageHistory = history
		}
	}

	h.mu.Lock()
	h.conns[processID] = c
	h.mu.Unlock()

	h.logger.Info("hub connection established", "process_id", processID)
	c.sendHandshake()

	go c.writeLoop()
	c.readLoop()

	h.mu.Lock()
	delete(h.conns, processID)
	h.mu.Unlock()
	c.flush()
}

func (c *Connection) sendHandshake() {
	payload, _ := json.Marshal(map[string]any{
		"timestamp":      time.Now().UnixMilli(),
		"controllerPort": 0,
		"coreProcessId":  "",
	})
	c.enqueue(payload)
}

func (c *Connection) readLoop() {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wire.MagiMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.logger.Warn("hub: invalid inbound frame", "process_id", c.ProcessID, "error", err)
			continue
		}
		if msg.ProcessID != "" && msg.ProcessID != c.ProcessID {
			c.hub.logger.Warn("hub: processId mismatch, dropping", "expected", c.ProcessID, "got", msg.ProcessID)
			continue
		}
		msg.ProcessID = c.ProcessID

		c.appendHistory(msg)
		rewriteEventPaths(&msg.Event)

		if msg.Event.Type == wire.EventCostUpdate && msg.Event.CostUpdate != nil {
			c.recordCost(msg.Event.CostUpdate.Usage)
		}

		if c.hub.dispatcher != nil {
			c.hub.dispatcher.Dispatch(c.ctx, c.ProcessID, msg)
		}
		if c.hub.onBroadcast != nil {
			c.hub.onBroadcast(msg)
		}
	}
}

func (c *Connection) writeLoop() {
	defer close(c.send)
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (c *Connection) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}

// appendHistory records an inbound message and flushes to the persister
// every flushEveryN messages (spec §4.8).
func (c *Connection) appendHistory(msg wire.MagiMessage) {
	c.mu.Lock()
	c.messageHistory = append(c.messageHistory, msg)
	c.unflushed++
	shouldFlush := c.unflushed >= flushEveryN
	if shouldFlush {
		c.unflushed = 0
	}
	c.mu.Unlock()

	if shouldFlush {
		c.flush()
	}
}

func (c *Connection) flush() {
	if c.hub.persister == nil {
		return
	}
	c.mu.Lock()
	history := append([]wire.MagiMessage(nil), c.messageHistory...)
	c.mu.Unlock()
	if err := c.hub.persister.Save(c.ProcessID, history); err != nil {
		c.hub.logger.Warn("hub: failed to persist message history", "process_id", c.ProcessID, "error", err)
	}
}

// recordCost forwards the usage event to the shared cost.Aggregator,
// which owns the 60-second sliding window, global snapshot recompute,
// and daily-limit check (spec §4.8 delegates to §4.10 for this).
func (c *Connection) recordCost(u wire.Usage) {
	if c.hub.aggregator == nil {
		return
	}
	now := time.UnixMilli(u.TimestampMs)
	if u.TimestampMs == 0 {
		now = time.Now()
	}
	c.hub.aggregator.RecordAndCheck(c.ProcessID, cost.UsageEvent{
		ModelID:        u.Model,
		InputTokens:    int64(u.InputTokens),
		OutputTokens:   int64(u.OutputTokens),
		CachedTokens:   int64(u.CachedTokens),
		Timestamp:      now,
		FreeTierForced: u.FreeTier,
	}, now)
}

// Send delivers an outbound message to a specific process's connection.
func (h *Hub) Send(processID string, event wire.Event) error {
	h.mu.RLock()
	c, ok := h.conns[processID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("hub: no connection for process %q", processID)
	}
	data, err := json.Marshal(wire.MagiMessage{ProcessID: processID, Event: event})
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}

// Broadcast delivers event to every live connection (spec §4.8's
// process:message broadcast).
func (h *Hub) Broadcast(event wire.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.conns {
		data, err := json.Marshal(wire.MagiMessage{ProcessID: id, Event: event})
		if err != nil {
			continue
		}
		c.enqueue(data)
	}
}

// OnBroadcast registers a callback invoked with every inbound message
// across all connections, used to republish to the process:message bus.
func (h *Hub) OnBroadcast(fn func(wire.MagiMessage)) { h.onBroadcast = fn }

// magiOutputInline matches a bare /magi_output/... image path anywhere
// inline in message content, not just when it is the entire trimmed
// string (spec §4.8 scenario S5: "see sandbox:/magi_output/foo/bar.png for
// detail" must still produce a markdown link for the embedded path).
var magiOutputInline = regexp.MustCompile(`(/magi_output/[^\s()]+\.(?:png|jpe?g|gif|webp|svg))`)

// rewriteEventPaths applies spec §4.8's sandbox path-rewriting rules to
// any message_delta/message_complete content, and to tool_done results, on
// the event.
func rewriteEventPaths(e *wire.Event) {
	switch e.Type {
	case wire.EventMessageDelta:
		if e.MessageDelta != nil {
			e.MessageDelta.Content = rewritePaths(e.MessageDelta.Content)
		}
	case wire.EventMessageComplete:
		if e.MessageComplete != nil {
			e.MessageComplete.Content = rewritePaths(e.MessageComplete.Content)
		}
	case wire.EventToolDone:
		if e.ToolDone != nil {
			for i := range e.ToolDone.Results {
				e.ToolDone.Results[i].Output = rewriteToolResultOutput(e.ToolDone.Results[i].Output)
			}
		}
	}
}

func rewritePaths(content string) string {
	content = strings.ReplaceAll(content, "sandbox:/magi_output/", "/magi_output/")
	content = strings.ReplaceAll(content, "sandbox:", "")
	return magiOutputInline.ReplaceAllString(content, "[$1]($1)")
}

// rewriteToolResultOutput rewrites a tool_done result's output: if it
// decodes as a JSON object carrying an "output" string field, only that
// field is rewritten and the object is re-encoded; otherwise the whole
// string is treated as the result and rewritten directly (spec §4.8).
func rewriteToolResultOutput(output string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(output), &obj); err == nil {
		if raw, ok := obj["output"]; ok {
			var inner string
			if err := json.Unmarshal(raw, &inner); err == nil {
				rewritten, err := json.Marshal(rewritePaths(inner))
				if err == nil {
					obj["output"] = rewritten
					if data, err := json.Marshal(obj); err == nil {
						return string(data)
					}
				}
			}
		}
		return output
	}
	return rewritePaths(output)
}

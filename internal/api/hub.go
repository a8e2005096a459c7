package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/yardsale/internal/engine"
)

const (
	maxStreamConns = 8
	sendBuffer     = 16
)

// Stream message types.
const (
	MsgDistribution = "distribution"
	MsgTrace        = "trace"
	MsgStatus       = "status"
)

type distributionMsg struct {
	Type   string    `json:"type"`
	Agents []int     `json:"agents"`
	Wealth []float64 `json:"wealth"`
}

// traceMsg carries the tracked agent's history. With Reset set it replaces
// what the client holds; otherwise X and Y extend it.
type traceMsg struct {
	Type    string    `json:"type"`
	Tracked int       `json:"tracked"`
	Reset   bool      `json:"reset,omitempty"`
	X       []int     `json:"x"`
	Y       []float64 `json:"y"`
}

type statusMsg struct {
	Type         string  `json:"type"`
	RunID        string  `json:"run_id"`
	RunningTotal float64 `json:"running_total"`
	Iterations   int     `json:"iterations"`
	Gini         float64 `json:"gini"`
	Richest      int     `json:"richest"`
	RichestShare float64 `json:"richest_share"`
	RichestStart float64 `json:"richest_start"`
	Oligarch     bool    `json:"oligarch,omitempty"`
}

// Hub forwards each tick to websocket clients, which do the actual plotting.
// Every client holds the trace points it has been sent so only new points go
// out per tick. Clients that fall behind drop messages.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	conns   int32
}

type client struct {
	send chan []byte

	// Trace already delivered, guarded by Hub.mu.
	run      string
	traceLen int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish streams one frame: the distribution, the trace points each client
// is missing, then the status line.
func (h *Hub) Publish(f engine.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}

	dist := marshal(distributionMsg{Type: MsgDistribution, Agents: f.Agents, Wealth: f.Wealth})
	status := marshal(statusFor(f))

	// Clients normally share one offset, so each delta is encoded once.
	deltas := make(map[int][]byte)
	for c := range h.clients {
		from := c.traceLen
		if c.run != f.RunID || from > len(f.TraceX) {
			from = -1
		}
		b, ok := deltas[from]
		if !ok {
			b = marshal(traceFrom(f, from))
			deltas[from] = b
		}
		c.run, c.traceLen = f.RunID, len(f.TraceX)

		for _, msg := range [][]byte{dist, b, status} {
			if msg == nil {
				continue
			}
			select {
			case c.send <- msg:
			default:
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// traceFrom builds the points from index from onward; a negative from sends
// the whole trace as a reset.
func traceFrom(f engine.Frame, from int) traceMsg {
	if from < 0 {
		return traceMsg{Type: MsgTrace, Tracked: f.Tracked, Reset: true, X: f.TraceX, Y: f.TraceY}
	}
	return traceMsg{Type: MsgTrace, Tracked: f.Tracked, X: f.TraceX[from:], Y: f.TraceY[from:]}
}

func statusFor(f engine.Frame) statusMsg {
	return statusMsg{
		Type:         MsgStatus,
		RunID:        f.RunID,
		RunningTotal: f.RunningTotal,
		Iterations:   f.Iterations,
		Gini:         f.Stats.Gini,
		Richest:      f.Stats.Richest,
		RichestShare: f.Stats.RichestShare,
		RichestStart: f.RichestStart,
		Oligarch:     f.Oligarch,
	}
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("stream marshal failed", "error", err)
		return nil
	}
	return b
}

// Serve upgrades the request and streams until the client disconnects. The
// client first receives the full current frame from current, taken under the
// hub lock so no tick slips in between the catch-up and the first delta.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, current func() engine.Frame) {
	if atomic.AddInt32(&h.conns, 1) > maxStreamConns {
		atomic.AddInt32(&h.conns, -1)
		http.Error(w, "too many stream connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&h.conns, -1)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := &client{send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	f := current()
	for _, v := range []any{
		distributionMsg{Type: MsgDistribution, Agents: f.Agents, Wealth: f.Wealth},
		traceFrom(f, -1),
		statusFor(f),
	} {
		if b := marshal(v); b != nil {
			c.send <- b
		}
	}
	c.run, c.traceLen = f.RunID, len(f.TraceX)
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("stream client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	// Writer goroutine.
	go func() {
		defer close(done)
		for b := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}()

	// Reader loop; clients send nothing meaningful, reads detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	delete(h.clients, c)
	close(c.send)
	h.mu.Unlock()
	<-done
	slog.Info("stream client disconnected", "remote", r.RemoteAddr)
}

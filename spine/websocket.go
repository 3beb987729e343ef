// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package spine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hydra/spine/internal/idgen"
)

// Channels a WebSocket client may subscribe to (spec §6).
const (
	ChanActions   = "actions"
	ChanDecisions = "decisions"
	ChanHeads     = "heads"
	ChanLimbs     = "limbs"
	ChanWorkflows = "workflows"
	ChanConsensus = "consensus"
	ChanSpectral  = "spectral"
	ChanBroadcast = "broadcast"
	ChanAll       = "all"
)

// wsFrame is the on-wire envelope for every WebSocket message type of
// spec §6: subscribe, unsubscribe, execute, ping, pong, welcome,
// state_change, error.
type wsFrame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Command *Command        `json:"command,omitempty"`
	Data    interface{}     `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

type wsClientStatus string

const (
	wsClientActive wsClientStatus = "ACTIVE"
	wsClientIdle   wsClientStatus = "IDLE"
)

type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan wsFrame
	subs   map[string]bool
	mu     sync.Mutex
	status wsClientStatus
	lastRX time.Time
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[ChanAll] || c.subs[channel]
}

// Hub is the WebSocket fanout server of spec §6. Every `execute` frame
// re-enters Dispatcher.Execute identically to any other transport; the hub
// never bypasses Governance/Turnstile. Grounded on
// itsneelabh-gomind/ui/transports/websocket's upgrader/writePump/readPump
// client-registry shape.
type Hub struct {
	coord    *Coordinator
	upgrader websocket.Upgrader

	heartbeat time.Duration
	maxClient int

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// NewHub builds a Hub bound to coord. It subscribes itself to
// coord.OnDecision so the DECISION entry of every Execute call gets
// published without the Dispatcher knowing anything about transports.
func NewHub(coord *Coordinator, heartbeat time.Duration, maxClients int, allowedOrigins []string) *Hub {
	h := &Hub{
		coord:     coord,
		heartbeat: heartbeat,
		maxClient: maxClients,
		clients:   make(map[string]*wsClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, a := range allowedOrigins {
					if a == "*" || a == origin {
						return true
					}
				}
				return false
			},
		},
	}

	coord.OnDecision(func(entry LedgerEntry) {
		h.broadcast(ChanActions, "state_change", entry)
		if entry.Decision != "" && entry.Decision != string(DecisionAllow) {
			h.broadcast(ChanDecisions, "state_change", entry)
		}
	})

	go h.heartbeatLoop()
	return h
}

// ServeHTTP upgrades the connection and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := h.maxClient > 0 && len(h.clients) >= h.maxClient
	h.mu.RUnlock()
	if full {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		id:     idgen.Short("ws"),
		conn:   conn,
		send:   make(chan wsFrame, 256),
		subs:   make(map[string]bool),
		status: wsClientActive,
		lastRX: time.Now(),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)

	client.send <- wsFrame{Type: "welcome", Data: map[string]interface{}{"client_id": client.id}}
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.send)
		c.conn.Close()
	}()

	for {
		var frame wsFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}

		c.mu.Lock()
		c.lastRX = time.Now()
		c.status = wsClientActive
		c.mu.Unlock()

		switch frame.Type {
		case "subscribe":
			c.mu.Lock()
			c.subs[frame.Channel] = true
			c.mu.Unlock()
		case "unsubscribe":
			c.mu.Lock()
			delete(c.subs, frame.Channel)
			c.mu.Unlock()
		case "ping":
			c.send <- wsFrame{Type: "pong"}
		case "execute":
			h.handleExecute(c, frame)
		default:
			c.send <- wsFrame{Type: "error", Error: "unknown frame type: " + frame.Type}
		}
	}
}

func (h *Hub) handleExecute(c *wsClient, frame wsFrame) {
	if frame.Command == nil {
		c.send <- wsFrame{Type: "error", Error: "execute frame missing command"}
		return
	}

	ctx := context.Background()
	result := h.coord.Execute(ctx, *frame.Command)
	c.send <- wsFrame{Type: "state_change", Channel: ChanActions, Data: result}
}

// broadcast fans a payload out to every client subscribed to channel (or to
// "all").
func (h *Hub) broadcast(channel, frameType string, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- wsFrame{Type: frameType, Channel: channel, Data: payload}:
		default:
			// Slow consumer: drop rather than block the fanout.
		}
	}
}

// Broadcast lets other subsystems (workflow runner, consensus rounds)
// publish onto a named channel without depending on websocket internals.
func (h *Hub) Broadcast(channel string, payload interface{}) {
	h.broadcast(channel, "state_change", payload)
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) heartbeatLoop() {
	interval := h.heartbeat
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		h.mu.RLock()
		clients := make([]*wsClient, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.mu.RUnlock()

		for _, c := range clients {
			c.mu.Lock()
			silence := time.Since(c.lastRX)
			if silence >= 3*interval {
				c.status = wsClientIdle
			}
			c.mu.Unlock()

			select {
			case c.send <- wsFrame{Type: "ping", Data: fmt.Sprintf("%d", time.Now().Unix())}:
			default:
			}
		}
	}
}

package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matthewbaird/formsync/internal/eventbus"
	"github.com/matthewbaird/formsync/internal/live"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second
)

// Hub holds the connected websocket clients and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
	log     *zap.Logger
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	formID string // "" receives every form
}

func (c *client) wants(formID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formID == "" || c.formID == formID
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// ServeHTTP upgrades to WebSocket and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("hub: websocket accept", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(c)
	log := h.log.With(zap.String("client_id", c.id))
	log.Info("hub: client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c)
	}()

	ctx := r.Context()
	for {
		var msg live.Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				log.Info("hub: client disconnected", zap.Int("code", int(status)))
			} else {
				log.Debug("hub: read ended", zap.Error(err))
			}
			break
		}

		switch msg.Type {
		case live.TypePing:
			h.enqueue(c, live.Message{Type: live.TypePong})
		case live.TypeSubscribeForm:
			c.mu.Lock()
			c.formID = msg.FormID()
			c.mu.Unlock()
			log.Debug("hub: subscribed", zap.String("form_id", msg.FormID()))
		default:
			log.Debug("hub: ignoring message", zap.String("type", msg.Type))
		}
	}

	h.unregister(c)
	<-writerDone
}

func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.log.Debug("hub: write failed", zap.String("client_id", c.id), zap.Error(err))
			c.conn.CloseNow()
			return
		}
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	return true
}

// unregister is idempotent.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.wg.Done()
}

func (h *Hub) enqueue(c *client, msg live.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("hub: encode message", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Broadcast sends msg to every client subscribed to formID (or to all
// forms). Clients that cannot keep up are disconnected.
func (h *Hub) Broadcast(formID string, msg live.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("hub: encode message", zap.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(formID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("hub: dropping slow client", zap.String("client_id", c.id))
		c.conn.CloseNow()
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent forwards bus events to subscribed clients.
func (h *Hub) HandleEvent(_ context.Context, evt eventbus.Event) error {
	var typ string
	switch evt.Type {
	case eventbus.ResponseSubmitted:
		typ = live.TypeNewResponse
	case eventbus.FormUpdated:
		typ = live.TypeFormUpdated
	default:
		return nil
	}
	msg, err := live.NewMessage(typ, live.FormRef{FormID: evt.FormID})
	if err != nil {
		return err
	}
	h.Broadcast(evt.FormID, msg)
	return nil
}

// Close disconnects every client with 1001 and waits for their handlers
// to finish. New connections are refused afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		go c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	h.wg.Wait()
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"labreport-bot/api/internal/chat"
	"labreport-bot/api/internal/observability"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Frame is one websocket message. The first frame of a connection is a
// snapshot carrying the full history.
type Frame struct {
	Type    string         `json:"type"`
	Message *chat.Message  `json:"message,omitempty"`
	History []chat.Message `json:"history,omitempty"`
	Phase   chat.Phase     `json:"phase"`
	Busy    bool           `json:"busy"`
}

const (
	FrameSnapshot        = "snapshot"
	FrameMessageAppended = "message_appended"
	FrameMessageUpdated  = "message_updated"
	FrameState           = "state"
)

func frameOf(ev chat.Event) Frame {
	f := Frame{Phase: ev.Phase, Busy: ev.Busy}
	switch ev.Kind {
	case chat.MessageAppended:
		f.Type = FrameMessageAppended
	case chat.MessageUpdated:
		f.Type = FrameMessageUpdated
	default:
		f.Type = FrameState
		return f
	}
	msg := ev.Message
	f.Message = &msg
	return f
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans chat events out to every connected websocket.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	clients    map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run delivers broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	log := observability.Logger()
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			log.Debug("ws client registered", "client", c.id)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				log.Debug("ws client unregistered", "client", c.id)
			}
		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					log.Warn("ws client too slow, dropping", "client", c.id)
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// add reports false once the hub has stopped.
func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Observe is a chat.Observer. It never blocks: events are dropped when the
// broadcast queue is full.
func (h *Hub) Observe(ev chat.Event) {
	data, err := json.Marshal(frameOf(ev))
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		observability.Logger().Warn("ws broadcast queue full, event dropped")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Events upgrades to a websocket streaming session changes.
func (h *Handler) Events(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		observability.LoggerFromContext(c.Request().Context()).Warn("ws upgrade", "err", err)
		return nil
	}
	cl := &client{id: uuid.NewString(), conn: ws, send: make(chan []byte, sendBuffer)}

	st := h.pipe.Chat().Snapshot()
	snap, err := json.Marshal(Frame{Type: FrameSnapshot, History: st.History, Phase: st.Phase, Busy: st.Busy})
	if err == nil {
		cl.send <- snap
	}
	if !h.hub.add(cl) {
		ws.Close()
		return nil
	}

	go writePump(cl)
	readPump(h.hub, cl)
	return nil
}

// readPump only consumes control frames; clients have nothing to say.
func readPump(h *Hub, c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Logger().Warn("ws read", "client", c.id, "err", err)
			}
			return
		}
	}
}

func writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

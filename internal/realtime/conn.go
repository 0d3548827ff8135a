package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 64
)

// Conn is one authenticated WebSocket connection. All writes go
// through the buffered send channel and a single write pump — gorilla
// connections do not support concurrent writers.
type Conn struct {
	userID   uuid.UUID
	username string

	ws     *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, userID uuid.UUID, username string, logger *zap.Logger) *Conn {
	return &Conn{
		userID:   userID,
		username: username,
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		logger:   logger,
	}
}

func (c *Conn) UserID() uuid.UUID { return c.userID }
func (c *Conn) Username() string  { return c.username }

// Deliver implements Subscriber. It never blocks: if the send buffer
// is full the client is too slow to keep up, and the connection is
// torn down rather than letting one reader stall a broadcast.
func (c *Conn) Deliver(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("marshal event payload",
			zap.String("event", event), zap.Error(err))
		return
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		c.logger.Error("marshal event envelope",
			zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case c.send <- frame:
	default:
		c.logger.Warn("dropping slow connection",
			zap.String("user_id", c.userID.String()))
		c.close()
	}
}

// close forces the socket shut; the read pump then exits and runs the
// teardown path exactly once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.ws.Close()
	})
}

// readPump reads envelopes off the socket and hands them to handle
// until the connection dies. Runs on the connection's own goroutine;
// events from one connection are processed in receipt order.
func (c *Conn) readPump(handle func(*Conn, Envelope), done func(*Conn)) {
	defer func() {
		done(c)
		c.close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.Deliver(EventError, errorPayload{Message: "Malformed event"})
			continue
		}
		handle(c, env)
	}
}

// writePump serializes all outbound frames and keeps the connection
// alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/pipeline"
	"github.com/dhintech/translate-gateway/internal/protocol"
)

// Connection states. A connection starts in stateConnecting and only ever
// moves forward, except for the active/idle flip while joined.
type connState int

const (
	stateConnecting connState = iota
	stateJoined
	stateActive
	stateIdle
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateJoined:
		return "joined"
	case stateActive:
		return "active"
	case stateIdle:
		return "idle"
	case stateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Client is one websocket connection. It implements room.Member so the
// registry can fan out to it.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	h      *Handler
	logger zerolog.Logger

	mu          sync.Mutex
	state       connState
	roomCode    string
	role        string
	malformed   int
	stream      *pipeline.Stream
	lastInbound time.Time
	lastChunk   protocol.ChunkMessage

	closeOnce sync.Once
}

func newClient(h *Handler, conn *websocket.Conn) *Client {
	id := observability.NewConnectionID()
	return &Client{
		id:          id,
		conn:        conn,
		send:        make(chan []byte, h.cfg.WSSendQueueSize),
		h:           h,
		logger:      observability.WithConnection(id, ""),
		state:       stateConnecting,
		lastInbound: time.Now(),
	}
}

// ID implements room.Member.
func (c *Client) ID() string { return c.id }

// Role implements room.Member.
func (c *Client) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Deliver implements room.Member. It never blocks; a full queue drops the
// message for this member only.
func (c *Client) Deliver(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}

	c.mu.Lock()
	if c.state >= stateClosing {
		c.mu.Unlock()
		return false
	}
	var delivered bool
	select {
	case c.send <- data:
		delivered = true
	default:
	}
	c.mu.Unlock()

	// A room teardown notice is the last thing this connection will see.
	if _, isClose := v.(protocol.RoomClosedMessage); isClose {
		go c.teardown("room closed")
	}
	return delivered
}

// readPump drains inbound frames until the socket dies. Runs on its own
// goroutine; exit always triggers teardown.
func (c *Client) readPump() {
	defer c.teardown("read pump exit")

	pongWait := 2 * time.Duration(c.h.cfg.WSPingInterval) * time.Second
	c.conn.SetReadLimit(c.h.cfg.WSReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("Websocket closed unexpectedly")
			}
			return
		}

		c.markInbound()
		if done := c.h.handleMessage(c, data); done {
			return
		}
	}
}

// writePump owns all writes to the socket: queued messages plus transport
// pings. The connection idles when the peer goes quiet between pings.
func (c *Client) writePump() {
	pingInterval := time.Duration(c.h.cfg.WSPingInterval) * time.Second
	writeWait := time.Duration(c.h.cfg.WSWriteTimeout) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.maybeIdle(pingInterval)
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) markInbound() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastInbound = time.Now()
	if c.state == stateJoined || c.state == stateIdle {
		c.state = stateActive
	}
}

func (c *Client) maybeIdle(window time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateActive && time.Since(c.lastInbound) > window {
		c.state = stateIdle
	}
}

// teardown closes everything exactly once: transport error, explicit leave,
// malformed overflow and room deletion all funnel here and may race.
func (c *Client) teardown(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosing
		roomCode := c.roomCode
		stream := c.stream
		close(c.send)
		c.mu.Unlock()

		if stream != nil {
			stream.Close()
		}
		if roomCode != "" {
			c.h.registry.LeaveRoom(roomCode, c.id)
		}
		c.h.limiter.Forget(c.id)
		// The socket itself is closed by writePump after it drains the
		// queue, so pending error and close frames still reach the peer.

		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()

		c.logger.Info().Str("reason", reason).Msg("Connection closed")
		observability.RecordConnectionClose()
	})
}

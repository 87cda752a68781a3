package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/config"
	"github.com/dhintech/translate-gateway/internal/normalize"
	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/persist"
	"github.com/dhintech/translate-gateway/internal/pipeline"
	"github.com/dhintech/translate-gateway/internal/protocol"
	"github.com/dhintech/translate-gateway/internal/ratelimit"
	"github.com/dhintech/translate-gateway/internal/room"
)

// Handler owns the websocket endpoint and runs the per-connection protocol.
type Handler struct {
	cfg        *config.Config
	registry   *room.Registry
	limiter    *ratelimit.Limiter
	translator *pipeline.Translator
	normalizer normalize.Normalizer
	notifier   persist.Notifier
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler wires the protocol layer to its collaborators.
func NewHandler(cfg *config.Config, registry *room.Registry, limiter *ratelimit.Limiter,
	translator *pipeline.Translator, normalizer normalize.Normalizer, notifier persist.Notifier) *Handler {
	if normalizer == nil {
		normalizer = normalize.Passthrough{}
	}
	if notifier == nil {
		notifier = persist.Noop{}
	}
	return &Handler{
		cfg:        cfg,
		registry:   registry,
		limiter:    limiter,
		translator: translator,
		normalizer: normalizer,
		notifier:   notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: observability.WithComponent("gateway"),
	}
}

// ServeWS upgrades the request and runs the connection to completion.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := newClient(h, conn)
	observability.RecordConnectionOpen()
	client.logger.Info().Msg("Connection opened")

	go client.writePump()
	client.readPump()
}

// handleMessage dispatches one inbound frame. Returns true when the
// connection should stop reading.
func (h *Handler) handleMessage(c *Client, data []byte) bool {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return h.malformed(c, "unparseable message")
	}

	switch base.Type {
	case protocol.MsgTypeJoin:
		return h.handleJoin(c, data)
	case protocol.MsgTypeChunk:
		return h.handleChunk(c, data)
	case protocol.MsgTypeCancel:
		return h.handleCancel(c, data)
	case protocol.MsgTypeLeave:
		c.teardown("client left")
		return true
	case protocol.MsgTypePing:
		return h.handlePing(c, data)
	default:
		return h.malformed(c, "unknown message type")
	}
}

func (h *Handler) handleJoin(c *Client, data []byte) bool {
	var msg protocol.JoinMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.malformed(c, "bad join payload")
	}

	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		return h.malformed(c, "duplicate join")
	}
	c.mu.Unlock()

	if !protocol.ValidRole(msg.Role) {
		c.Deliver(protocol.NewErrorMessage(protocol.ErrCodeInvalidRole, "role must be speaker or listener"))
		c.teardown("invalid role")
		return true
	}

	c.mu.Lock()
	c.role = msg.Role
	c.mu.Unlock()

	joined, err := h.registry.JoinRoom(msg.RoomCode, c)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomFull):
			c.Deliver(protocol.NewErrorMessage(protocol.ErrCodeRoomFull, "room is at capacity"))
		default:
			c.Deliver(protocol.NewErrorMessage(protocol.ErrCodeRoomNotFound, "no such room"))
		}
		c.teardown("join rejected")
		return true
	}

	c.mu.Lock()
	c.roomCode = joined.Code
	c.state = stateJoined
	c.logger = observability.WithConnection(c.id, joined.Code)
	if msg.Role == protocol.RoleSpeaker {
		c.stream = pipeline.NewStream(pipeline.StreamConfig{
			SourceLang:       joined.SourceLang,
			TargetLangs:      joined.TargetLangs,
			MinEmitDelta:     h.cfg.MinEmitDelta,
			QueueSize:        h.cfg.ChunkQueueSize,
			UtteranceTimeout: h.cfg.UtteranceIdleTimeout(),
		}, h.translator, h.normalizer, h.emitFunc(joined.Code), c.logger)
	}
	c.mu.Unlock()

	c.Deliver(protocol.JoinedMessage{
		Type:     protocol.MsgTypeJoined,
		RoomCode: joined.Code,
		Role:     msg.Role,
		ConnID:   c.id,
	})
	c.logger.Info().Str("role", msg.Role).Msg("Joined room")
	return false
}

func (h *Handler) handleChunk(c *Client, data []byte) bool {
	c.mu.Lock()
	stream := c.stream
	roomCode := c.roomCode
	notJoined := c.state == stateConnecting
	c.mu.Unlock()

	if notJoined {
		c.Deliver(protocol.NewErrorMessage(protocol.ErrCodeNotJoined, "join a room first"))
		return false
	}
	if stream == nil {
		c.Deliver(protocol.NewErrorMessage(protocol.ErrCodeInvalidRole, "only speakers send chunks"))
		return false
	}

	var msg protocol.ChunkMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.UtteranceID == "" {
		return h.malformed(c, "bad chunk payload")
	}

	// Clients on flaky links resend the last frame; an exact repeat is
	// acknowledged, not re-translated.
	c.mu.Lock()
	duplicate := msg == c.lastChunk
	if !duplicate {
		c.lastChunk = msg
	}
	c.mu.Unlock()
	if duplicate {
		c.Deliver(protocol.AckMessage{
			Type:        protocol.MsgTypeAck,
			UtteranceID: msg.UtteranceID,
			Seq:         msg.Seq,
		})
		return false
	}

	if !h.limiter.Admit(c.id) {
		observability.RecordThrottled()
		c.Deliver(protocol.NewThrottledMessage(h.limiter.RetryAfter(c.id).Milliseconds()))
		return false
	}

	h.registry.Touch(roomCode)
	if err := stream.Submit(msg.UtteranceID, msg.Seq, msg.Text, msg.IsFinal); err != nil {
		// Queue pressure is reported like throttling; the client backs
		// off instead of losing the connection.
		observability.RecordThrottled()
		c.Deliver(protocol.NewThrottledMessage(time.Second.Milliseconds()))
	}
	return false
}

func (h *Handler) handleCancel(c *Client, data []byte) bool {
	var msg protocol.CancelMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.UtteranceID == "" {
		return h.malformed(c, "bad cancel payload")
	}

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Cancel(msg.UtteranceID)
	}
	return false
}

func (h *Handler) handlePing(c *Client, data []byte) bool {
	var msg protocol.PingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return h.malformed(c, "bad ping payload")
	}
	c.Deliver(protocol.PongMessage{
		Type:       protocol.MsgTypePong,
		Timestamp:  msg.Timestamp,
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	})
	return false
}

// malformed answers a protocol error without changing connection state,
// until the peer exhausts its tolerance.
func (h *Handler) malformed(c *Client, detail string) bool {
	observability.RecordError("malformed_message", "gateway")
	c.Deliver(protocol.NewErrorMessage(protocol.ErrCodeMalformedMessage, detail))

	c.mu.Lock()
	c.malformed++
	count := c.malformed
	c.mu.Unlock()

	if count > h.cfg.MalformedTolerance {
		c.logger.Warn().Int("count", count).Msg("Malformed message tolerance exhausted")
		c.teardown("malformed overflow")
		return true
	}
	return false
}

// emitFunc fans one speaker's translation events out to the whole room and
// mirrors finals to the sync backend.
func (h *Handler) emitFunc(roomCode string) pipeline.EmitFunc {
	return func(msg protocol.TranslationMessage) {
		h.registry.Broadcast(roomCode, msg, room.BroadcastFilter{})
		if msg.Type == protocol.MsgTypeFinal {
			h.notifier.UtteranceFinal(persist.FinalUtterance{
				RoomCode:    roomCode,
				UtteranceID: msg.UtteranceID,
				Original:    msg.Original,
				Translation: msg.Text,
				SourceLang:  msg.SourceLang,
				TargetLang:  msg.TargetLang,
				At:          time.Now(),
			})
		}
	}
}

package protocol

// WebSocket message types from client.
const (
	MsgTypeJoin   = "join"
	MsgTypeChunk  = "chunk"
	MsgTypeCancel = "cancel"
	MsgTypeLeave  = "leave"
	MsgTypePing   = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeJoined     = "joined"
	MsgTypeAck        = "ack"
	MsgTypePartial    = "partial"
	MsgTypeFinal      = "final"
	MsgTypeError      = "error"
	MsgTypeThrottled  = "throttled"
	MsgTypePong       = "pong"
	MsgTypeRoomClosed = "room_closed"
)

// Member roles
const (
	RoleSpeaker  = "speaker"
	RoleListener = "listener"
)

// Error codes
const (
	ErrCodeRoomNotFound     = "ROOM_NOT_FOUND"
	ErrCodeRoomFull         = "ROOM_FULL"
	ErrCodeMalformedMessage = "MALFORMED_MESSAGE"
	ErrCodeInvalidRole      = "INVALID_ROLE"
	ErrCodeNotJoined        = "NOT_JOINED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// BaseMessage carries the type discriminator for all inbound messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type JoinMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
	Role     string `json:"role"`
}

type ChunkMessage struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
	Seq         uint64 `json:"seq"`
	Text        string `json:"text"`
	IsFinal     bool   `json:"is_final"`
}

type CancelMessage struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
}

type PingMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Server -> Client messages

type JoinedMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"room_code"`
	Role     string `json:"role"`
	ConnID   string `json:"conn_id"`
}

// AckMessage confirms receipt of a frame the server already processed, so a
// resending client can stop without the frame being handled twice.
type AckMessage struct {
	Type        string `json:"type"`
	UtteranceID string `json:"utterance_id"`
	Seq         uint64 `json:"seq"`
}

type TranslationMessage struct {
	Type        string `json:"type"` // "partial" or "final"
	UtteranceID string `json:"utterance_id"`
	Original    string `json:"original"`
	Text        string `json:"text"`
	SourceLang  string `json:"lang_source"`
	TargetLang  string `json:"lang_target"`
	Degraded    bool   `json:"degraded,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ThrottledMessage struct {
	Type         string `json:"type"`
	RetryAfterMs int64  `json:"retry_after_ms"`
}

type PongMessage struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	ServerTime string `json:"server_time"`
}

type RoomClosedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

func NewThrottledMessage(retryAfterMs int64) *ThrottledMessage {
	return &ThrottledMessage{
		Type:         MsgTypeThrottled,
		RetryAfterMs: retryAfterMs,
	}
}

// ValidRole reports whether role is a recognized member role.
func ValidRole(role string) bool {
	return role == RoleSpeaker || role == RoleListener
}

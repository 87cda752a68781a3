package persist

import "time"

// RoomInfo is the snapshot shared with the sync backend when a room changes.
type RoomInfo struct {
	Code        string    `json:"code"`
	SourceLang  string    `json:"source_lang"`
	TargetLangs []string  `json:"target_langs"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
}

// FinalUtterance is the record for one completed translation.
type FinalUtterance struct {
	RoomCode    string    `json:"room_code"`
	UtteranceID string    `json:"utterance_id"`
	Original    string    `json:"original"`
	Translation string    `json:"translation"`
	SourceLang  string    `json:"source_lang"`
	TargetLang  string    `json:"target_lang"`
	At          time.Time `json:"at"`
}

// Notifier pushes state changes to an external sync backend. All methods are
// fire-and-forget: they return immediately and never fail the caller.
type Notifier interface {
	RoomCreated(info RoomInfo)
	RoomDeleted(code, reason string)
	UtteranceFinal(u FinalUtterance)
}

// Noop discards every notification.
type Noop struct{}

func (Noop) RoomCreated(RoomInfo)          {}
func (Noop) RoomDeleted(string, string)    {}
func (Noop) UtteranceFinal(FinalUtterance) {}

package room

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dhintech/translate-gateway/internal/observability"
	"github.com/dhintech/translate-gateway/internal/persist"
	"github.com/dhintech/translate-gateway/internal/protocol"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room full")
)

// codeAlphabet omits characters that are easy to misread over voice or
// handwriting (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Member is a connection the registry can fan out to. Deliver must never
// block; a member that cannot keep up reports false and the message is
// dropped for that member only.
type Member interface {
	ID() string
	Role() string
	Deliver(v interface{}) bool
}

// Options configures a new room.
type Options struct {
	SourceLang  string
	TargetLangs []string
	Capacity    int
}

// BroadcastFilter narrows a broadcast. Zero value means everyone.
type BroadcastFilter struct {
	// ExcludeID skips one member, typically the sender.
	ExcludeID string
	// Role, when set, restricts delivery to members with that role.
	Role string
}

// Room holds the membership of one live session. Membership mutation and
// broadcast for a room are serialized by its own mutex; different rooms never
// contend.
type Room struct {
	Code        string
	SourceLang  string
	TargetLangs []string
	Capacity    int
	CreatedAt   time.Time

	mu           sync.Mutex
	members      map[string]Member
	lastActivity time.Time
	closed       bool
}

// Info is the read-only snapshot returned by ListRooms.
type Info struct {
	Code         string    `json:"code"`
	SourceLang   string    `json:"source_lang"`
	TargetLangs  []string  `json:"target_langs"`
	Capacity     int       `json:"capacity"`
	MemberCount  int       `json:"member_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Config bounds the registry.
type Config struct {
	CodeLength      int
	DefaultCapacity int
	IdleTimeout     time.Duration
	SweepInterval   time.Duration
}

// Registry owns all live rooms.
type Registry struct {
	cfg      Config
	notifier persist.Notifier
	logger   zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
	rng   *rand.Rand
	rngMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewRegistry builds a registry and starts the idle sweeper.
func NewRegistry(cfg Config, notifier persist.Notifier) *Registry {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 4
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 50
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if notifier == nil {
		notifier = persist.Noop{}
	}

	r := &Registry{
		cfg:      cfg,
		notifier: notifier,
		logger:   observability.WithComponent("registry"),
		rooms:    make(map[string]*Room),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		done:     make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// CreateRoom registers a new room under a fresh collision-checked code.
func (r *Registry) CreateRoom(opts Options) *Room {
	if opts.Capacity <= 0 {
		opts.Capacity = r.cfg.DefaultCapacity
	}
	if len(opts.TargetLangs) == 0 {
		opts.TargetLangs = []string{"en"}
	}

	now := time.Now()
	room := &Room{
		SourceLang:   opts.SourceLang,
		TargetLangs:  opts.TargetLangs,
		Capacity:     opts.Capacity,
		CreatedAt:    now,
		members:      make(map[string]Member),
		lastActivity: now,
	}

	r.mu.Lock()
	room.Code = r.nextCodeLocked()
	r.rooms[room.Code] = room
	r.mu.Unlock()

	r.logger.Info().
		Str("room_code", room.Code).
		Str("source_lang", room.SourceLang).
		Strs("target_langs", room.TargetLangs).
		Msg("Room created")
	observability.RecordRoomCreated()
	r.notifier.RoomCreated(persist.RoomInfo{
		Code:        room.Code,
		SourceLang:  room.SourceLang,
		TargetLangs: room.TargetLangs,
		CreatedAt:   room.CreatedAt,
	})
	return room
}

// Get returns a live room by code.
func (r *Registry) Get(code string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	return room, ok
}

// JoinRoom atomically adds m to the room. The capacity check and the insert
// happen under the room lock, so concurrent joins can never overshoot.
func (r *Registry) JoinRoom(code string, m Member) (*Room, error) {
	room, ok := r.Get(code)
	if !ok {
		return nil, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closed {
		return nil, ErrRoomNotFound
	}
	if len(room.members) >= room.Capacity {
		return nil, ErrRoomFull
	}
	room.members[m.ID()] = m
	room.lastActivity = time.Now()
	return room, nil
}

// LeaveRoom removes a member. Unknown rooms and members are ignored.
func (r *Registry) LeaveRoom(code, memberID string) {
	room, ok := r.Get(code)
	if !ok {
		return
	}
	room.mu.Lock()
	delete(room.members, memberID)
	room.lastActivity = time.Now()
	room.mu.Unlock()
}

// Broadcast fans v out to every member passing the filter. Delivery is
// best-effort per member; one slow member never blocks the rest.
func (r *Registry) Broadcast(code string, v interface{}, filter BroadcastFilter) {
	room, ok := r.Get(code)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	for id, m := range room.members {
		if id == filter.ExcludeID {
			continue
		}
		if filter.Role != "" && m.Role() != filter.Role {
			continue
		}
		if !m.Deliver(v) {
			r.logger.Debug().Str("room_code", code).Str("conn_id", id).Msg("Dropped broadcast to slow member")
		}
	}
}

// Touch records chunk activity so the sweeper keeps the room alive.
func (r *Registry) Touch(code string) {
	if room, ok := r.Get(code); ok {
		room.mu.Lock()
		room.lastActivity = time.Now()
		room.mu.Unlock()
	}
}

// ListRooms snapshots every live room.
func (r *Registry) ListRooms() []Info {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(rooms))
	for _, room := range rooms {
		room.mu.Lock()
		infos = append(infos, Info{
			Code:         room.Code,
			SourceLang:   room.SourceLang,
			TargetLangs:  room.TargetLangs,
			Capacity:     room.Capacity,
			MemberCount:  len(room.members),
			CreatedAt:    room.CreatedAt,
			LastActivity: room.lastActivity,
		})
		room.mu.Unlock()
	}
	return infos
}

// DeleteRoom tears a room down, telling members first. Idempotent; deleting
// an unknown or already-deleted room is a no-op.
func (r *Registry) DeleteRoom(code, reason string) {
	r.mu.Lock()
	room, ok := r.rooms[code]
	if ok {
		delete(r.rooms, code)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	room.mu.Lock()
	room.closed = true
	members := make([]Member, 0, len(room.members))
	for _, m := range room.members {
		members = append(members, m)
	}
	room.members = make(map[string]Member)
	room.mu.Unlock()

	closing := protocol.RoomClosedMessage{
		Type:    protocol.MsgTypeRoomClosed,
		Message: "room closed: " + reason,
	}
	for _, m := range members {
		m.Deliver(closing)
	}

	r.logger.Info().Str("room_code", code).Str("reason", reason).Int("members", len(members)).Msg("Room deleted")
	observability.RecordRoomDeleted(reason)
	r.notifier.RoomDeleted(code, reason)
}

// MemberCount reports current occupancy of a room.
func (r *Registry) MemberCount(code string) int {
	room, ok := r.Get(code)
	if !ok {
		return 0
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return len(room.members)
}

// Close stops the sweeper. Live rooms are left in place for shutdown
// handling by the caller.
func (r *Registry) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweepIdle()
		case <-r.done:
			return
		}
	}
}

// sweepIdle deletes rooms that have been empty and inactive past the idle
// timeout.
func (r *Registry) sweepIdle() {
	cutoff := time.Now().Add(-r.cfg.IdleTimeout)

	r.mu.RLock()
	var stale []string
	for code, room := range r.rooms {
		room.mu.Lock()
		idle := len(room.members) == 0 && room.lastActivity.Before(cutoff)
		room.mu.Unlock()
		if idle {
			stale = append(stale, code)
		}
	}
	r.mu.RUnlock()

	for _, code := range stale {
		r.DeleteRoom(code, "idle")
	}
}

// nextCodeLocked generates a code not currently in use. Called with the
// registry lock held. If the space is crowded the code grows a character
// rather than spinning forever.
func (r *Registry) nextCodeLocked() string {
	length := r.cfg.CodeLength
	for attempt := 0; ; attempt++ {
		code := r.randomCode(length)
		if _, taken := r.rooms[code]; !taken {
			return code
		}
		if attempt > 0 && attempt%50 == 0 {
			length++
		}
	}
}

func (r *Registry) randomCode(length int) string {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = codeAlphabet[r.rng.Intn(len(codeAlphabet))]
	}
	return string(buf)
}

package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codecollab/server/internal/db"
)

const (
	// Typing indicator expiry after the last typing-start renewal.
	DefaultTypingTTL = 1200 * time.Millisecond
	// Autosave quiet period after the last edit.
	DefaultSaveDelay = 1000 * time.Millisecond
)

// Manager is the process-wide room registry. It loads rooms from durable
// storage on first join, evicts them when the last member leaves, and
// routes per-room operations to the owning Room.
type Manager struct {
	store  *db.Database
	sender Sender
	log    *zap.Logger

	typingTTL time.Duration
	saveDelay time.Duration

	mu    sync.Mutex
	rooms map[string]*Room
	conns map[string]string // connID -> roomID
}

func NewManager(store *db.Database, sender Sender, log *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		sender:    sender,
		log:       log,
		typingTTL: DefaultTypingTTL,
		saveDelay: DefaultSaveDelay,
		rooms:     make(map[string]*Room),
		conns:     make(map[string]string),
	}
}

// SetSender rebinds the outbound event sink. Used at wiring time when the
// gateway is constructed after the manager.
func (m *Manager) SetSender(s Sender) {
	m.sender = s
}

// SetTimings overrides the typing expiry and autosave debounce windows.
func (m *Manager) SetTimings(typingTTL, saveDelay time.Duration) {
	m.typingTTL = typingTTL
	m.saveDelay = saveDelay
}

// Create registers a new room with a server-issued collision-resistant id.
func (m *Manager) Create(ctx context.Context, defaultRole Role) (string, error) {
	if defaultRole == "" {
		defaultRole = RoleEditor
	}
	if !validDefaultRole(defaultRole) {
		return "", ErrBadRole
	}

	// uuid v4 carries 122 bits of entropy; the retry loop exists for the
	// unique-constraint race, not because collisions are expected.
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		now := time.Now().UTC()
		rec := &db.Room{
			ID:          uuid.NewString(),
			Code:        "",
			Language:    "javascript",
			DefaultRole: string(defaultRole),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.CreateRoom(ctx, rec); err != nil {
			lastErr = err
			continue
		}
		m.log.Info("room created", zap.String("room_id", rec.ID))
		return rec.ID, nil
	}
	return "", fmt.Errorf("create room: %w", lastErr)
}

// State returns the room's current buffer and language, live if the room
// is loaded, durable otherwise. Unknown ids fail; a state query never
// materializes a room.
func (m *Manager) State(ctx context.Context, roomID string) (code, language string, err error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()

	if ok {
		snap := r.snapshot()
		return snap.Code, snap.Language, nil
	}

	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return "", "", err
	}
	if rec == nil {
		return "", "", ErrRoomNotFound
	}
	return rec.Code, rec.Language, nil
}

// Join binds a connection to a room, loading the room from storage if it
// is not live. Joining an id that was never created fails with
// ErrRoomNotFound.
func (m *Manager) Join(ctx context.Context, roomID string, user User, connID string) (Snapshot, error) {
	for {
		r, err := m.getOrLoad(ctx, roomID)
		if err != nil {
			return Snapshot{}, err
		}

		snap, ok := r.join(user, connID)
		if !ok {
			// Lost a race with eviction; reload.
			continue
		}

		m.mu.Lock()
		m.conns[connID] = roomID
		m.mu.Unlock()
		return snap, nil
	}
}

func (m *Manager) getOrLoad(ctx context.Context, roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[roomID]; ok {
		return r, nil
	}

	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRoomNotFound
	}

	r := newRoom(rec, m.store, m.sender, m.log, m.typingTTL, m.saveDelay)
	m.rooms[roomID] = r
	return r, nil
}

// Leave removes the connection's membership in the given room.
func (m *Manager) Leave(roomID, connID string) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	if m.conns[connID] == roomID {
		delete(m.conns, connID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	if r.leave(connID) {
		m.tryEvict(r)
	}
}

// Disconnect cleans up after an abrupt transport drop, identical to an
// explicit leave of whatever room the connection was in.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	roomID, ok := m.conns[connID]
	m.mu.Unlock()

	if !ok {
		return
	}
	m.Leave(roomID, connID)
}

// RoomOf reports which room a connection is currently joined to.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.conns[connID]
	return roomID, ok
}

// tryEvict unloads a room that has gone empty, flushing its buffer so the
// state survives every member leaving and later rejoining.
func (m *Manager) tryEvict(r *Room) {
	m.mu.Lock()
	r.mu.Lock()
	if len(r.members) > 0 || r.evicted {
		r.mu.Unlock()
		m.mu.Unlock()
		return
	}
	r.evicted = true
	if r.saveTimer != nil {
		r.saveTimer.Stop()
		r.saveTimer = nil
	}
	code, language := r.code, r.language
	delete(m.rooms, r.ID)
	r.mu.Unlock()
	m.mu.Unlock()

	r.persist(code, language)
	m.log.Info("room evicted", zap.String("room_id", r.ID))
}

// Per-room operations. Each verifies the connection's membership inside
// the room's own serialization boundary.

func (m *Manager) ApplyEdit(roomID, connID, code string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	return r.applyEdit(connID, code)
}

func (m *Manager) ChangeLanguage(roomID, connID, language string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	return r.changeLanguage(connID, language)
}

func (m *Manager) TypingStart(roomID, connID string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	return r.typingStart(connID)
}

func (m *Manager) TypingStop(roomID, connID string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	return r.typingStop(connID)
}

func (m *Manager) Chat(ctx context.Context, roomID, connID, message string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	return r.chat(ctx, connID, message)
}

func (m *Manager) Promote(roomID, actorUserID, targetUserID string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	return r.promote(actorUserID, targetUserID)
}

func (m *Manager) Kick(roomID, actorUserID, targetUserID string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	removed, err := r.kick(actorUserID, targetUserID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, connID := range removed {
		if m.conns[connID] == roomID {
			delete(m.conns, connID)
		}
	}
	m.mu.Unlock()
	return nil
}

// RoleOf reports the highest role the user holds in the room. Every
// privileged REST call re-checks through here at execution time; client
// side control disabling is cosmetic only.
func (m *Manager) RoleOf(ctx context.Context, roomID, userID string) (Role, error) {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()

	if ok {
		return r.roleOfUser(userID)
	}

	rec, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", ErrRoomNotFound
	}
	return "", ErrNotMember
}

// SaveState persists an explicit snapshot as a version. When the room is
// live the snapshot also becomes the authoritative buffer; otherwise a
// later autosave or eviction flush would silently overwrite the save.
func (m *Manager) SaveState(ctx context.Context, roomID, code, language string) error {
	m.mu.Lock()
	r, ok := m.rooms[roomID]
	m.mu.Unlock()

	if ok {
		r.adoptState(code, language)
	} else {
		rec, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrRoomNotFound
		}
	}

	if err := m.store.UpdateRoomState(ctx, roomID, code, language); err != nil {
		return err
	}
	_, err := m.store.SaveVersion(ctx, roomID, code, language)
	return err
}

// BroadcastUsers re-sends the member list to the whole room on demand.
func (m *Manager) BroadcastUsers(roomID string) error {
	r, err := m.live(roomID)
	if err != nil {
		return err
	}
	r.broadcastUsers()
	return nil
}

// LiveStats returns the number of loaded rooms and bound connections.
func (m *Manager) LiveStats() (rooms, conns int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms), len(m.conns)
}

// Shutdown flushes every live room's buffer to storage.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		live = append(live, r)
	}
	m.mu.Unlock()

	for _, r := range live {
		r.mu.Lock()
		if r.saveTimer != nil {
			r.saveTimer.Stop()
			r.saveTimer = nil
		}
		code, language := r.code, r.language
		r.mu.Unlock()
		r.persist(code, language)
	}
}

// live resolves a loaded room; a member's room is always loaded while any
// member is connected, so an unloaded id means the caller is not in it.
func (m *Manager) live(roomID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

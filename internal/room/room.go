package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codecollab/server/internal/db"
)

// member is one (connection, user) pair inside a room. A user connected
// twice holds two memberships.
type member struct {
	user     User
	connID   string
	role     Role
	joinedAt time.Time
}

// Room is the authoritative state of one collaborative session. All
// mutations serialize on mu; different rooms never contend.
type Room struct {
	ID string

	defaultRole Role
	store       *db.Database
	sender      Sender
	log         *zap.Logger
	typingTTL   time.Duration
	saveDelay   time.Duration

	mu        sync.Mutex
	evicted   bool
	code      string
	language  string
	members   []*member
	typing    map[string]*time.Timer
	saveTimer *time.Timer
}

func newRoom(rec *db.Room, store *db.Database, sender Sender, log *zap.Logger, typingTTL, saveDelay time.Duration) *Room {
	return &Room{
		ID:          rec.ID,
		defaultRole: Role(rec.DefaultRole),
		store:       store,
		sender:      sender,
		log:         log.With(zap.String("room_id", rec.ID)),
		typingTTL:   typingTTL,
		saveDelay:   saveDelay,
		code:        rec.Code,
		language:    rec.Language,
		typing:      make(map[string]*time.Timer),
	}
}

// join adds a membership and broadcasts the updated member list. The first
// connection into an empty room becomes OWNER; everyone else gets the
// room's default role. Returns ok=false if the room was evicted between
// lookup and lock, in which case the caller retries.
func (r *Room) join(user User, connID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return Snapshot{}, false
	}

	// A connection holds at most one membership per room; re-joining a
	// room it is already in just returns the current snapshot.
	if r.byConnLocked(connID) != nil {
		return r.snapshotLocked(), true
	}

	role := r.defaultRole
	if len(r.members) == 0 {
		role = RoleOwner
	}

	r.members = append(r.members, &member{
		user:     user,
		connID:   connID,
		role:     role,
		joinedAt: time.Now().UTC(),
	})

	snap := r.snapshotLocked()
	r.broadcastUsersLocked()
	return snap, true
}

// leave removes the membership bound to connID, treating abrupt disconnect
// and explicit leave identically. Reports whether the room became empty.
func (r *Room) leave(connID string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.removeLocked(connID)
	if m == nil {
		return len(r.members) == 0
	}

	r.stopTypingIfGoneLocked(m.user.ID)

	if len(r.members) == 0 {
		if r.saveTimer != nil {
			r.saveTimer.Stop()
			r.saveTimer = nil
		}
		return true
	}

	if m.role == RoleOwner {
		r.ensureOwnerLocked()
	}
	r.broadcastUsersLocked()
	return false
}

// applyEdit replaces the buffer, last writer wins. Concurrent edits from
// two editors may clobber each other; the protocol is full-buffer replace,
// not per-character merge.
func (r *Room) applyEdit(connID, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byConnLocked(connID)
	if m == nil {
		return ErrNotMember
	}
	if !m.role.AtLeast(RoleEditor) {
		return ErrPermission
	}

	r.code = code
	r.sender.Send(r.connIDsLocked(connID), EventCodeUpdate, code)
	r.scheduleSaveLocked()
	return nil
}

func (r *Room) changeLanguage(connID, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byConnLocked(connID)
	if m == nil {
		return ErrNotMember
	}
	if !m.role.AtLeast(RoleEditor) {
		return ErrPermission
	}
	if !SupportedLanguage(language) {
		return ErrBadLanguage
	}

	r.language = language
	r.sender.Send(r.connIDsLocked(connID), EventLanguageUpdate, language)
	r.scheduleSaveLocked()
	return nil
}

// typingStart marks the user as typing and renews their expiry timer.
// Repeated starts from the same user replace the timer; duplicates never
// accumulate.
func (r *Room) typingStart(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byConnLocked(connID)
	if m == nil {
		return ErrNotMember
	}

	userID := m.user.ID
	if t, ok := r.typing[userID]; ok {
		t.Stop()
	} else {
		r.sender.Send(r.connIDsLocked(connID), EventUserTyping, TypingPayload{
			Username: m.user.Name,
			IsTyping: true,
		})
	}

	var t *time.Timer
	t = time.AfterFunc(r.typingTTL, func() { r.expireTyping(userID, t) })
	r.typing[userID] = t
	return nil
}

func (r *Room) typingStop(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byConnLocked(connID)
	if m == nil {
		return ErrNotMember
	}

	if t, ok := r.typing[m.user.ID]; ok {
		t.Stop()
		delete(r.typing, m.user.ID)
		r.sender.Send(r.connIDsLocked(connID), EventUserTyping, TypingPayload{
			Username: m.user.Name,
			IsTyping: false,
		})
	}
	return nil
}

// expireTyping fires when a typing window lapses without renewal and emits
// the stop on the user's behalf. A stale timer that lost a race with a
// renewal is ignored.
func (r *Room) expireTyping(userID string, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.typing[userID] != t {
		return
	}
	delete(r.typing, userID)

	for _, m := range r.members {
		if m.user.ID == userID {
			r.sender.Send(r.connIDsLocked(""), EventUserTyping, TypingPayload{
				Username: m.user.Name,
				IsTyping: false,
			})
			return
		}
	}
}

// chat persists the message and fans it out to every member, sender
// included; clients render their own messages from the broadcast.
func (r *Room) chat(ctx context.Context, connID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.byConnLocked(connID)
	if m == nil {
		return ErrNotMember
	}
	if !m.role.AtLeast(RoleEditor) {
		return ErrPermission
	}

	msg := &db.ChatMessage{
		RoomID:    r.ID,
		UserID:    m.user.ID,
		Username:  m.user.Name,
		Color:     m.user.Color,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.AppendChatMessage(ctx, msg); err != nil {
		return err
	}

	r.sender.Send(r.connIDsLocked(""), EventChatMessage, ChatPayload{
		Username:  msg.Username,
		Color:     msg.Color,
		Message:   msg.Message,
		CreatedAt: msg.CreatedAt,
	})
	return nil
}

// promote raises the target from VIEWER to EDITOR. It never grants OWNER.
// Promoting someone already at EDITOR or above is a no-op.
func (r *Room) promote(actorUserID, targetUserID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOwnerLocked(actorUserID); err != nil {
		return err
	}

	found := false
	changed := false
	for _, m := range r.members {
		if m.user.ID != targetUserID {
			continue
		}
		found = true
		if m.role == RoleViewer {
			m.role = RoleEditor
			changed = true
		}
	}
	if !found {
		return ErrNoSuchMember
	}
	if changed {
		r.broadcastUsersLocked()
	}
	return nil
}

// kick removes every membership the target holds in this room and notifies
// each of the target's connections exactly once. Returns the removed
// connection ids so the registry can unbind them.
func (r *Room) kick(actorUserID, targetUserID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireOwnerLocked(actorUserID); err != nil {
		return nil, err
	}
	if actorUserID == targetUserID {
		return nil, ErrSelfKick
	}

	var removed []string
	kept := r.members[:0]
	for _, m := range r.members {
		if m.user.ID == targetUserID {
			removed = append(removed, m.connID)
		} else {
			kept = append(kept, m)
		}
	}
	if len(removed) == 0 {
		return nil, ErrNoSuchMember
	}
	r.members = kept

	r.stopTypingIfGoneLocked(targetUserID)
	r.sender.Send(removed, EventKicked, struct{}{})
	r.ensureOwnerLocked()
	r.broadcastUsersLocked()
	return removed, nil
}

// roleOfUser returns the highest role the user holds across their
// connections in this room.
func (r *Room) roleOfUser(userID string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	best := Role("")
	for _, m := range r.members {
		if m.user.ID == userID && (best == "" || m.role.AtLeast(best)) {
			best = m.role
		}
	}
	if best == "" {
		return "", ErrNotMember
	}
	return best, nil
}

func (r *Room) snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) broadcastUsers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastUsersLocked()
}

// adoptState replaces the live buffer with an explicitly saved snapshot
// and cancels any pending autosave, so a later debounce fire or eviction
// cannot roll the save back.
func (r *Room) adoptState(code, language string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return
	}
	r.code = code
	r.language = language
	if r.saveTimer != nil {
		r.saveTimer.Stop()
		r.saveTimer = nil
	}
}

// scheduleSaveLocked resets the autosave debounce: a version is persisted
// once the buffer settles for the quiet period.
func (r *Room) scheduleSaveLocked() {
	if r.saveTimer != nil {
		r.saveTimer.Stop()
	}
	r.saveTimer = time.AfterFunc(r.saveDelay, r.autosave)
}

func (r *Room) autosave() {
	r.mu.Lock()
	if r.evicted {
		r.mu.Unlock()
		return
	}
	code, language := r.code, r.language
	r.mu.Unlock()

	r.persist(code, language)
}

// persist flushes the buffer to the room row and appends a version.
// Runs without the room lock; persistence never stalls editing.
func (r *Room) persist(code, language string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.UpdateRoomState(ctx, r.ID, code, language); err != nil {
		r.log.Error("flush room state", zap.Error(err))
		return
	}
	saved, err := r.store.SaveVersion(ctx, r.ID, code, language)
	if err != nil {
		r.log.Error("save version", zap.Error(err))
		return
	}
	if saved {
		r.log.Debug("version saved")
	}
}

// --- helpers, caller holds mu ---

func (r *Room) byConnLocked(connID string) *member {
	for _, m := range r.members {
		if m.connID == connID {
			return m
		}
	}
	return nil
}

func (r *Room) removeLocked(connID string) *member {
	for i, m := range r.members {
		if m.connID == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return m
		}
	}
	return nil
}

func (r *Room) requireOwnerLocked(userID string) error {
	isMember := false
	for _, m := range r.members {
		if m.user.ID == userID {
			isMember = true
			if m.role == RoleOwner {
				return nil
			}
		}
	}
	if !isMember {
		return ErrNotMember
	}
	return ErrPermission
}

// ensureOwnerLocked restores the one-OWNER invariant after the owner
// departs: the earliest-joined EDITOR wins, falling back to the earliest
// member of any role. Members is kept in join order, so slice order is the
// tie-break.
func (r *Room) ensureOwnerLocked() {
	if len(r.members) == 0 {
		return
	}
	for _, m := range r.members {
		if m.role == RoleOwner {
			return
		}
	}
	for _, m := range r.members {
		if m.role == RoleEditor {
			m.role = RoleOwner
			return
		}
	}
	r.members[0].role = RoleOwner
}

// stopTypingIfGoneLocked clears the user's typing timer once they hold no
// remaining connection in the room.
func (r *Room) stopTypingIfGoneLocked(userID string) {
	for _, m := range r.members {
		if m.user.ID == userID {
			return
		}
	}
	if t, ok := r.typing[userID]; ok {
		t.Stop()
		delete(r.typing, userID)
	}
}

func (r *Room) snapshotLocked() Snapshot {
	return Snapshot{
		RoomID:   r.ID,
		Code:     r.code,
		Language: r.language,
		Members:  r.memberInfosLocked(),
	}
}

func (r *Room) memberInfosLocked() []MemberInfo {
	infos := make([]MemberInfo, len(r.members))
	for i, m := range r.members {
		infos[i] = MemberInfo{
			ID:       m.user.ID,
			Name:     m.user.Name,
			Color:    m.user.Color,
			Role:     m.role,
			JoinedAt: m.joinedAt,
		}
	}
	return infos
}

func (r *Room) connIDsLocked(except string) []string {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.connID != except {
			ids = append(ids, m.connID)
		}
	}
	return ids
}

func (r *Room) broadcastUsersLocked() {
	r.sender.Send(r.connIDsLocked(""), EventRoomUsers, r.memberInfosLocked())
}

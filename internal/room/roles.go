package room

import "errors"

// Role is a member's privilege tier within one room.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleEditor: 1,
	RoleOwner:  2,
}

// AtLeast reports whether r carries at least the privilege of other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

func validDefaultRole(r Role) bool {
	return r == RoleEditor || r == RoleViewer
}

var (
	// ErrRoomNotFound is returned for an unknown room id. Joining never
	// creates a room implicitly; rooms exist only through Create.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotMember is returned when the acting connection or user holds no
	// membership in the room.
	ErrNotMember = errors.New("not a member of this room")
	// ErrNoSuchMember is returned when the target of promote/kick is not a
	// member of the room.
	ErrNoSuchMember = errors.New("target user is not a member of this room")
	// ErrPermission is returned when the actor's role does not allow the
	// action. Room state is left unchanged.
	ErrPermission = errors.New("insufficient role for this action")
	// ErrSelfKick is returned when the owner tries to kick themselves.
	ErrSelfKick = errors.New("cannot kick yourself")
	// ErrBadLanguage is returned for a language outside the supported set.
	ErrBadLanguage = errors.New("unsupported language")
	// ErrBadRole is returned for an invalid default role on room creation.
	ErrBadRole = errors.New("invalid default role")
)

// Languages the embedded editor supports.
var supportedLanguages = map[string]bool{
	"javascript": true,
	"typescript": true,
	"python":     true,
	"cpp":        true,
	"java":       true,
	"html":       true,
	"css":        true,
	"rust":       true,
	"go":         true,
}

// SupportedLanguage reports whether lang is in the supported set.
func SupportedLanguage(lang string) bool {
	return supportedLanguages[lang]
}

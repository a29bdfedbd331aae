package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/codecollab/server/internal/auth"
	"github.com/codecollab/server/internal/db"
	"github.com/codecollab/server/internal/room"
	"github.com/codecollab/server/internal/runner"
	"github.com/codecollab/server/internal/ws"
)

type API struct {
	log    *zap.Logger
	auth   *auth.Service
	rooms  *room.Manager
	store  *db.Database
	runner *runner.Runner
	hub    *ws.Hub
}

func New(authSvc *auth.Service, rooms *room.Manager, store *db.Database, run *runner.Runner, hub *ws.Hub, log *zap.Logger) *API {
	return &API{
		log:    log,
		auth:   authSvc,
		rooms:  rooms,
		store:  store,
		runner: run,
		hub:    hub,
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", a.HealthHandler)
	r.Get("/api/stats", a.StatsHandler)

	r.Post("/api/auth/signup", a.SignupHandler)
	r.Post("/api/auth/login", a.LoginHandler)

	r.Group(func(pr chi.Router) {
		pr.Use(a.RequireAuth)

		pr.Post("/api/rooms/create", a.CreateRoomHandler)
		pr.Post("/api/rooms/save", a.SaveRoomHandler)
		pr.Get("/api/rooms/{roomID}", a.GetRoomHandler)
		pr.Get("/api/rooms/{roomID}/versions", a.ListVersionsHandler)
		pr.Post("/api/rooms/{roomID}/promote", a.PromoteHandler)
		pr.Post("/api/rooms/{roomID}/kick", a.KickHandler)
		pr.Get("/api/chat/{roomID}", a.ChatHistoryHandler)
		pr.Post("/api/run", a.RunHandler)
	})

	r.Get("/ws", a.hub.ServeWS)

	return corsMiddleware(r)
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// roomError maps the room package's sentinel errors onto HTTP statuses.
func (a *API) roomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrNoSuchMember):
		errorResponse(w, http.StatusNotFound, err.Error())
	case errors.Is(err, room.ErrPermission), errors.Is(err, room.ErrNotMember), errors.Is(err, room.ErrSelfKick):
		errorResponse(w, http.StatusForbidden, err.Error())
	case errors.Is(err, room.ErrBadLanguage), errors.Is(err, room.ErrBadRole):
		errorResponse(w, http.StatusBadRequest, err.Error())
	default:
		a.log.Error("room operation failed", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "internal error")
	}
}

// Auth handlers

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string   `json:"token"`
	User  *db.User `json:"user"`
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := a.auth.Signup(r.Context(), req.Name, req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrBadInput):
		errorResponse(w, http.StatusBadRequest, "name, email and a password of at least 6 characters are required")
		return
	case errors.Is(err, auth.ErrEmailTaken):
		errorResponse(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		a.log.Error("signup failed", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "signup failed")
		return
	}

	jsonResponse(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, token, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		errorResponse(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if err != nil {
		a.log.Error("login failed", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "login failed")
		return
	}

	jsonResponse(w, http.StatusOK, authResponse{Token: token, User: user})
}

// Room handlers

type createRoomRequest struct {
	DefaultRole string `json:"defaultRole,omitempty"`
}

func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if r.Body != nil {
		// Body is optional; an empty one means default settings.
		json.NewDecoder(r.Body).Decode(&req)
	}

	roomID, err := a.rooms.Create(r.Context(), room.Role(req.DefaultRole))
	if err != nil {
		a.roomError(w, err)
		return
	}

	jsonResponse(w, http.StatusCreated, map[string]string{"roomId": roomID})
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	code, language, err := a.rooms.State(r.Context(), roomID)
	if err != nil {
		a.roomError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{
		"code":     code,
		"language": language,
	})
}

type saveRoomRequest struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

// SaveRoomHandler persists an explicit version snapshot. VIEWERs cannot
// save; the role is re-checked here regardless of what the client UI
// allowed.
func (a *API) SaveRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req saveRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomID == "" {
		errorResponse(w, http.StatusBadRequest, "roomId is required")
		return
	}
	if !room.SupportedLanguage(req.Language) {
		errorResponse(w, http.StatusBadRequest, "unsupported language")
		return
	}

	claims := claimsFrom(r)
	role, err := a.rooms.RoleOf(r.Context(), req.RoomID, claims.UserID)
	if err != nil {
		a.roomError(w, err)
		return
	}
	if !role.AtLeast(room.RoleEditor) {
		a.roomError(w, room.ErrPermission)
		return
	}

	if err := a.rooms.SaveState(r.Context(), req.RoomID, req.Code, req.Language); err != nil {
		a.log.Error("save room state", zap.Error(err))
		a.roomError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (a *API) ListVersionsHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	versions, err := a.store.ListVersions(r.Context(), roomID, limit, offset)
	if err != nil {
		a.log.Error("list versions", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	if versions == nil {
		versions = []db.Version{}
	}

	jsonResponse(w, http.StatusOK, versions)
}

// Membership handlers

type targetRequest struct {
	TargetUserID string `json:"targetUserId"`
}

func (a *API) PromoteHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetUserID == "" {
		errorResponse(w, http.StatusBadRequest, "targetUserId is required")
		return
	}

	claims := claimsFrom(r)
	if err := a.rooms.Promote(roomID, claims.UserID, req.TargetUserID); err != nil {
		a.roomError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "promoted"})
}

func (a *API) KickHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TargetUserID == "" {
		errorResponse(w, http.StatusBadRequest, "targetUserId is required")
		return
	}

	claims := claimsFrom(r)
	if err := a.rooms.Kick(roomID, claims.UserID, req.TargetUserID); err != nil {
		a.roomError(w, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"status": "kicked"})
}

// Chat handlers

type chatMessageResponse struct {
	Username  string    `json:"username"`
	Color     string    `json:"color"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *API) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	messages, err := a.store.ListChatMessages(r.Context(), roomID, 500)
	if err != nil {
		a.log.Error("list chat messages", zap.Error(err))
		errorResponse(w, http.StatusInternalServerError, "failed to load chat")
		return
	}

	response := make([]chatMessageResponse, len(messages))
	for i, m := range messages {
		response[i] = chatMessageResponse{
			Username:  m.Username,
			Color:     m.Color,
			Message:   m.Message,
			CreatedAt: m.CreatedAt,
		}
	}

	jsonResponse(w, http.StatusOK, response)
}

// Run handler

type runRequest struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
	Code     string `json:"code"`
}

// RunHandler executes the submitted buffer through the execution backend.
// OWNER only; the code to run comes from the request so no room lock is
// held while the backend works.
func (a *API) RunHandler(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RoomID == "" {
		errorResponse(w, http.StatusBadRequest, "roomId is required")
		return
	}
	if !room.SupportedLanguage(req.Language) {
		errorResponse(w, http.StatusBadRequest, "unsupported language")
		return
	}

	claims := claimsFrom(r)
	role, err := a.rooms.RoleOf(r.Context(), req.RoomID, claims.UserID)
	if err != nil {
		a.roomError(w, err)
		return
	}
	if role != room.RoleOwner {
		a.roomError(w, room.ErrPermission)
		return
	}

	output, err := a.runner.Run(r.Context(), req.Language, req.Code)
	switch {
	case errors.Is(err, runner.ErrTimeout):
		errorResponse(w, http.StatusGatewayTimeout, "code execution timed out")
		return
	case err != nil:
		a.log.Warn("code execution failed", zap.Error(err))
		errorResponse(w, http.StatusBadGateway, "code execution failed")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"output": output})
}

// Ops handlers

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	liveRooms, liveConns := a.rooms.LiveStats()
	stats := map[string]any{
		"active_rooms":   liveRooms,
		"active_clients": liveConns,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if dbStats, err := a.store.GetStats(r.Context()); err == nil {
		stats["total_rooms"] = dbStats["room_count"]
		stats["total_users"] = dbStats["user_count"]
		stats["total_versions"] = dbStats["version_count"]
	}

	jsonResponse(w, http.StatusOK, stats)
}

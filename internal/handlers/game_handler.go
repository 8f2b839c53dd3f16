package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"bananaclash/internal/models"
	"bananaclash/internal/security"
	"bananaclash/internal/service"
	"bananaclash/internal/utils"
)

const (
	qrSize             = 320
	defaultMatchLimit  = 20
	maxMatchLimit      = 100
	maxRequestBodySize = 16 << 10
)

// GameHandler exposes the game client API over HTTP
type GameHandler struct {
	registry      *Registry
	identities    *service.IdentityService
	csrf          *security.CSRFGenerator
	publicBaseURL string
}

// NewGameHandler creates a new game handler
func NewGameHandler(registry *Registry, identities *service.IdentityService, csrf *security.CSRFGenerator, publicBaseURL string) *GameHandler {
	return &GameHandler{
		registry:      registry,
		identities:    identities,
		csrf:          csrf,
		publicBaseURL: publicBaseURL,
	}
}

type sessionRequest struct {
	Name string `json:"name"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CSRFToken string    `json:"csrfToken"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type roomResponse struct {
	Code      string       `json:"code"`
	Room      *models.Room `json:"room"`
	Phase     string       `json:"phase"`
	ServerNow int64        `json:"serverNow"`
}

type guessRequest struct {
	Guess *int `json:"guess"`
}

type chatRequest struct {
	Text  string        `json:"text"`
	Media *models.Media `json:"media,omitempty"`
}

type policyRequest struct {
	Policy string `json:"policy"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: ErrInvalidRequestBody})
		return false
	}
	return true
}

// CreateSession issues a guest identity, or renames the caller's existing one.
// An empty name gets a generated one.
func (h *GameHandler) CreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req sessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		name, err := utils.GenerateGuestName()
		if err != nil {
			respondWithError(w, r, http.StatusInternalServerError, ErrInternalServerError, "Failed to generate guest name", err)
			return
		}
		req.Name = name
	}

	var (
		id      models.Identity
		token   string
		expires time.Time
		err     error
	)
	current, verr := h.currentIdentity(r)
	if verr == nil {
		id, token, expires, err = h.identities.Rename(current, req.Name)
	} else {
		id, token, expires, err = h.identities.Issue(req.Name)
	}
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}

	// A lobby-free client is reopened so later rooms carry the new name
	if verr == nil && current.Name != id.Name {
		if s, ok := h.registry.Lookup(id.ID); ok && s.Client.RoomCode() == "" {
			h.registry.Remove(id.ID)
		}
	}

	http.SetCookie(w, security.IdentityCookie(r, IdentityCookieName, token, expires))
	zerolog.Ctx(r.Context()).Info().Str("player", id.ID).Msg("Issued identity")
	respondJSON(w, http.StatusOK, sessionResponse{
		ID:        id.ID,
		Name:      id.Name,
		CSRFToken: h.csrf.GenerateToken(id.ID),
		ExpiresAt: expires,
	})
}

func (h *GameHandler) currentIdentity(r *http.Request) (models.Identity, error) {
	cookie, err := r.Cookie(IdentityCookieName)
	if err != nil {
		return models.Identity{}, service.ErrInvalidIdentity
	}
	return h.identities.Verify(cookie.Value)
}

// GetSession returns the caller's identity and a fresh CSRF token
func (h *GameHandler) GetSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	id, _ := IdentityFromContext(r.Context())
	respondJSON(w, http.StatusOK, sessionResponse{
		ID:        id.ID,
		Name:      id.Name,
		CSRFToken: h.csrf.GenerateToken(id.ID),
	})
}

// session resolves the caller's PlayerSession, writing an error response on failure
func (h *GameHandler) session(w http.ResponseWriter, r *http.Request) (*PlayerSession, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		respondJSON(w, http.StatusUnauthorized, errorResponse{Error: ErrUnauthorized})
		return nil, false
	}
	s, err := h.registry.Get(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, r, err)
		return nil, false
	}
	return s, true
}

func (h *GameHandler) respondRoom(w http.ResponseWriter, c *service.Client) {
	room := c.CurrentRoom()
	respondJSON(w, http.StatusOK, roomResponse{
		Code:      c.RoomCode(),
		Room:      room,
		Phase:     room.Phase().String(),
		ServerNow: c.ServerNow(),
	})
}

// CreateRoom hosts a new private room
func (h *GameHandler) CreateRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	code, err := s.Client.CreateRoom(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("room", code).Msg("Created room")
	h.respondRoom(w, s.Client)
}

// JoinRoom joins the room named in the path
func (h *GameHandler) JoinRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Client.JoinRoom(r.Context(), ps.ByName("code")); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	h.respondRoom(w, s.Client)
}

// PlayOnline pairs the caller with a waiting player or queues them
func (h *GameHandler) PlayOnline(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.Client.PlayOnline(r.Context()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	h.respondRoom(w, s.Client)
}

// GetRoom returns the caller's current room snapshot
func (h *GameHandler) GetRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respondRoom(w, s.Client)
}

// LeaveRoom leaves the current room; leaving when not in a room is a no-op
func (h *GameHandler) LeaveRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Client.LeaveRoom(r.Context()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleReady flips the caller's ready flag in the lobby
func (h *GameHandler) ToggleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Client.ToggleReady(r.Context()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	h.respondRoom(w, s.Client)
}

// SetPolicy changes the room's round advance policy
func (h *GameHandler) SetPolicy(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req policyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	policy, err := models.ParseAdvancePolicy(req.Policy)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Client.SetAdvancePolicy(r.Context(), policy); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	h.respondRoom(w, s.Client)
}

// StartGame starts the first round
func (h *GameHandler) StartGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Client.StartGame(r.Context()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	h.respondRoom(w, s.Client)
}

// SubmitGuess answers the current puzzle
func (h *GameHandler) SubmitGuess(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req guessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Guess == nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "guess is required"})
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	result, err := s.Client.SubmitGuess(r.Context(), *req.Guess)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// PlayAgain requests a rematch after the game completes
func (h *GameHandler) PlayAgain(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Client.PlayAgain(r.Context()); err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	h.respondRoom(w, s.Client)
}

// SendChat posts a message to the current room
func (h *GameHandler) SendChat(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	msg, err := s.Client.SendChat(r.Context(), req.Text, req.Media)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// ChatHistory returns the backfill of the caller's room chat
func (h *GameHandler) ChatHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	msgs, err := s.Client.ChatHistory(r.Context())
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, msgs)
}

// RecentMatches lists finished games, newest first
func (h *GameHandler) RecentMatches(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	limit := defaultMatchLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxMatchLimit)
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	matches, err := s.Client.RecentMatches(r.Context(), limit)
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}
	if matches == nil {
		matches = []models.MatchRecord{}
	}
	respondJSON(w, http.StatusOK, matches)
}

// RoomQR renders a PNG QR code linking to the room's join page
func (h *GameHandler) RoomQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	code, err := utils.NormalizeRoomCode(ps.ByName("code"))
	if err != nil {
		respondWithDomainError(w, r, err)
		return
	}

	png, err := qrcode.Encode(h.publicBaseURL+"/join/"+code, qrcode.Medium, qrSize)
	if err != nil {
		respondWithError(w, r, http.StatusInternalServerError, ErrInternalServerError, "QR generation failed", err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

// Health reports liveness
func (h *GameHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.registry.Len(),
	})
}

package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
)

// NewRouter wires the game API routes
func NewRouter(h *GameHandler, m *Middleware, log zerolog.Logger) http.Handler {
	router := httprouter.New()

	// identity-only reads
	authed := m.RequireIdentity
	// state changing calls also need the CSRF header
	mutating := func(next httprouter.Handle) httprouter.Handle {
		return m.RequireIdentity(m.CSRFProtect(next))
	}

	router.GET("/healthz", h.Health)

	router.POST("/api/session", m.RateLimit(h.CreateSession))
	router.GET("/api/session", authed(h.GetSession))

	router.POST("/api/rooms", m.RateLimit(mutating(h.CreateRoom)))
	router.POST("/api/rooms/:code/join", m.RateLimit(mutating(h.JoinRoom)))
	router.GET("/api/rooms/:code/qr", h.RoomQR)
	router.POST("/api/online", m.RateLimit(mutating(h.PlayOnline)))

	router.GET("/api/room", authed(h.GetRoom))
	router.POST("/api/room/leave", mutating(h.LeaveRoom))
	router.POST("/api/room/ready", mutating(h.ToggleReady))
	router.POST("/api/room/policy", mutating(h.SetPolicy))
	router.POST("/api/room/start", mutating(h.StartGame))
	router.POST("/api/room/guess", mutating(h.SubmitGuess))
	router.POST("/api/room/again", mutating(h.PlayAgain))
	router.GET("/api/room/chat", authed(h.ChatHistory))
	router.POST("/api/room/chat", mutating(h.SendChat))

	router.GET("/api/matches", authed(h.RecentMatches))
	router.GET("/ws", authed(h.Stream))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})

	return Logging(log, router)
}

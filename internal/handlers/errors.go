package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"bananaclash/internal/models"
	"bananaclash/internal/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func respondWithError(w http.ResponseWriter, r *http.Request, status int, userMsg, logMsg string, err error) {
	if err != nil {
		if logMsg == "" {
			logMsg = userMsg
		}
		zerolog.Ctx(r.Context()).Warn().Err(err).Int("status", status).Msg(logMsg)
	}

	respondJSON(w, status, errorResponse{Error: userMsg})
}

// respondWithDomainError maps game errors onto HTTP statuses
func respondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrInvalidIdentity):
		respondWithError(w, r, http.StatusUnauthorized, ErrUnauthorized, "Rejected identity", err)
	case errors.Is(err, models.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "Room not found"})
	case errors.Is(err, models.ErrRateLimited):
		respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: ErrTooManyRequests})
	case errors.Is(err, models.ErrConflict):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrTransient):
		respondWithError(w, r, http.StatusServiceUnavailable, ErrServiceUnavailable, "Store unavailable", err)
	default:
		respondWithError(w, r, http.StatusInternalServerError, ErrInternalServerError, "", err)
	}
}

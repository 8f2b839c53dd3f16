package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the room (or player) does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict means the room is not in a state that allows the operation
	ErrConflict = errors.New("conflict")
	// ErrTransient means the shared store could not be reached; retrying may help
	ErrTransient = errors.New("temporarily unavailable")
	// ErrAbandoned means the host left before the game started
	ErrAbandoned = errors.New("room abandoned")
	// ErrInvalidInput rejects malformed user input
	ErrInvalidInput = errors.New("invalid input")
)

var (
	ErrAlreadyStarted  = fmt.Errorf("%w: game already started", ErrConflict)
	ErrNotHost         = fmt.Errorf("%w: only the host can do that", ErrConflict)
	ErrNotReady        = fmt.Errorf("%w: need at least two ready players", ErrConflict)
	ErrNotInRoom       = fmt.Errorf("%w: not in a room", ErrConflict)
	ErrAlreadyInRoom   = fmt.Errorf("%w: already in a room", ErrConflict)
	ErrNoActiveRound   = fmt.Errorf("%w: no round in progress", ErrConflict)
	ErrAlreadyAnswered = fmt.Errorf("%w: already answered this round", ErrConflict)
	ErrNotCompleted    = fmt.Errorf("%w: game is not finished", ErrConflict)
	ErrRateLimited     = fmt.Errorf("%w: slow down", ErrConflict)
)

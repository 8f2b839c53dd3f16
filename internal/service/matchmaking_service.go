package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"bananaclash/internal/models"
	"bananaclash/internal/repository"
)

// MatchmakingService pairs online players first come, first served
type MatchmakingService struct {
	queue    *repository.MatchmakingRepository
	rooms    *repository.RoomRepository
	settings GameSettings
	log      zerolog.Logger
}

// NewMatchmakingService creates a new matchmaking service
func NewMatchmakingService(queue *repository.MatchmakingRepository, rooms *repository.RoomRepository, settings GameSettings, log zerolog.Logger) *MatchmakingService {
	return &MatchmakingService{
		queue:    queue,
		rooms:    rooms,
		settings: settings.withDefaults(),
		log:      log.With().Str("component", "matchmaking").Logger(),
	}
}

// MatchResult says where EnqueueOrMatch placed the player
type MatchResult struct {
	RoomCode string
	// Waiting is true when the player created a room and advertised it
	Waiting bool
}

// EnqueueOrMatch joins the oldest waiting player's room, or creates a room
// and waits in the queue when nobody usable is waiting. Two players racing
// for an empty queue may both end up waiting in separate rooms.
func (s *MatchmakingService) EnqueueOrMatch(ctx context.Context, me models.Identity) (MatchResult, error) {
	if err := s.queue.RemoveEntry(ctx, me.ID); err != nil {
		s.log.Debug().Err(err).Msg("Failed to clear own matchmaking entry")
	}

	entries, err := s.queue.ListEntries(ctx)
	if err != nil {
		return MatchResult{}, err
	}

	for _, e := range entries {
		if e.Identity == me.ID || e.RoomCode == "" {
			continue
		}
		claimed, err := s.queue.ClaimEntry(ctx, e.Identity)
		if err != nil {
			return MatchResult{}, err
		}
		if !claimed {
			continue
		}

		_, err = s.rooms.JoinRoom(ctx, e.RoomCode, me)
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrAlreadyStarted) {
			s.log.Debug().Str("room", e.RoomCode).Msg("Skipping stale matchmaking entry")
			continue
		}
		if err != nil {
			return MatchResult{}, err
		}
		s.log.Info().Str("room", e.RoomCode).Str("opponent", e.Identity).Msg("Matched with waiting player")
		return MatchResult{RoomCode: e.RoomCode}, nil
	}

	code, err := s.rooms.CreateRoom(ctx, me, s.settings.TotalRounds, s.settings.AdvancePolicy)
	if err != nil {
		return MatchResult{}, err
	}
	if err := s.rooms.WatchPlayer(ctx, code, me.ID); err != nil {
		return MatchResult{}, err
	}
	if err := s.queue.PutEntry(ctx, me, code); err != nil {
		return MatchResult{}, err
	}
	s.log.Info().Str("room", code).Msg("Waiting for an opponent")
	return MatchResult{RoomCode: code, Waiting: true}, nil
}

// Withdraw removes the player's entry from the queue
func (s *MatchmakingService) Withdraw(ctx context.Context, me string) error {
	return s.queue.RemoveEntry(ctx, me)
}

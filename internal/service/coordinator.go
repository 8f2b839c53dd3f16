package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"bananaclash/internal/models"
	"bananaclash/internal/repository"
	"bananaclash/internal/store"
)

const clockResyncInterval = time.Minute

// GameSettings are the tunables shared by every room a client plays in
type GameSettings struct {
	TotalRounds   int
	RoundDuration time.Duration
	AdvancePolicy models.AdvancePolicy
	// TickInterval is how often a client re-checks the round timeout
	TickInterval time.Duration
	// LeaveTimeout bounds remote cleanup when leaving a room
	LeaveTimeout time.Duration
	// ClaimTimeout is how long an advance or rematch claim may sit
	// unresolved before another player clears it
	ClaimTimeout time.Duration
}

// DefaultGameSettings returns the standard three round game
func DefaultGameSettings() GameSettings {
	return GameSettings{
		TotalRounds:   models.DefaultTotalRounds,
		RoundDuration: models.DefaultRoundDuration,
		AdvancePolicy: models.AdvanceAllSolved,
		TickInterval:  time.Second,
		LeaveTimeout:  3 * time.Second,
		ClaimTimeout:  15 * time.Second,
	}
}

func (s GameSettings) withDefaults() GameSettings {
	d := DefaultGameSettings()
	if s.TotalRounds <= 0 {
		s.TotalRounds = d.TotalRounds
	}
	if s.RoundDuration <= 0 {
		s.RoundDuration = d.RoundDuration
	}
	if s.AdvancePolicy == "" {
		s.AdvancePolicy = d.AdvancePolicy
	}
	if s.TickInterval <= 0 {
		s.TickInterval = d.TickInterval
	}
	if s.LeaveTimeout <= 0 {
		s.LeaveTimeout = d.LeaveTimeout
	}
	if s.ClaimTimeout <= 0 {
		s.ClaimTimeout = d.ClaimTimeout
	}
	return s
}

// CoordinatorConfig wires a RoundCoordinator to one room
type CoordinatorConfig struct {
	Code     string
	Me       models.Identity
	Store    store.Store
	Rooms    *repository.RoomRepository
	Matches  *repository.MatchRepository
	Puzzles  PuzzleSource
	Settings GameSettings
	Clock    func() time.Time
	Logger   zerolog.Logger

	OnRoom  func(*models.Room)
	OnEvent func(models.Event)
	// OnTerminal is called once when the local session in the room ends
	// for a reason other than Stop
	OnTerminal func(models.Event)
}

// RoundCoordinator follows one room for the local player: it turns
// snapshots into events, arbitrates round advancement and recovers from
// departed players. Every client in a room runs its own coordinator.
type RoundCoordinator struct {
	cfg     CoordinatorConfig
	log     zerolog.Logger
	offset  atomic.Int64
	flights singleflight.Group

	mu       sync.Mutex
	room     *models.Room
	seen     bool
	stopped  bool
	unsub    store.Unsubscribe
	cancel   context.CancelFunc
	lastSync time.Time
}

// NewRoundCoordinator creates a coordinator; call Start to begin following the room
func NewRoundCoordinator(cfg CoordinatorConfig) *RoundCoordinator {
	cfg.Settings = cfg.Settings.withDefaults()
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Puzzles == nil {
		cfg.Puzzles = NewPuzzleService("", 0, cfg.Logger)
	}
	return &RoundCoordinator{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "coordinator").Str("room", cfg.Code).Str("player", cfg.Me.ID).Logger(),
	}
}

// Start syncs the server clock, subscribes to the room and starts the
// round timer. The first snapshot is delivered before Start returns or
// shortly after.
func (c *RoundCoordinator) Start(ctx context.Context) error {
	if err := c.syncClock(ctx); err != nil {
		c.log.Warn().Err(err).Msg("Server clock unavailable, using local time")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	unsub, err := c.cfg.Store.Subscribe(ctx, repository.RoomPath(c.cfg.Code), func(snap store.Snapshot) {
		c.handleSnapshot(loopCtx, snap)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("%w: subscribe to room: %w", models.ErrTransient, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		unsub()
		cancel()
		return nil
	}
	c.unsub = unsub
	c.mu.Unlock()

	go c.tickLoop(loopCtx)
	return nil
}

// Stop cancels the subscription and timer. It never touches the store.
func (c *RoundCoordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsub, cancel := c.unsub, c.cancel
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
}

// Code returns the followed room code
func (c *RoundCoordinator) Code() string {
	return c.cfg.Code
}

// Room returns the latest snapshot, or nil before the first one arrives
func (c *RoundCoordinator) Room() *models.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// ServerNow estimates the server clock in Unix ms
func (c *RoundCoordinator) ServerNow() int64 {
	return c.cfg.Clock().UnixMilli() + c.offset.Load()
}

func (c *RoundCoordinator) syncClock(ctx context.Context) error {
	before := c.cfg.Clock()
	server, err := c.cfg.Store.ServerTime(ctx)
	if err != nil {
		return err
	}
	after := c.cfg.Clock()
	local := before.UnixMilli() + after.Sub(before).Milliseconds()/2
	c.offset.Store(server - local)

	c.mu.Lock()
	c.lastSync = after
	c.mu.Unlock()
	return nil
}

func (c *RoundCoordinator) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *RoundCoordinator) handleSnapshot(ctx context.Context, snap store.Snapshot) {
	curr, err := repository.DecodeRoom(snap.Value)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to decode room snapshot")
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	prev, first := c.room, !c.seen
	c.room, c.seen = curr, true
	c.mu.Unlock()

	me := c.cfg.Me.ID
	if c.cfg.OnRoom != nil {
		c.cfg.OnRoom(curr)
	}

	if curr == nil {
		typ := models.EventRoomClosed
		if EvaluatePresence(me, prev, nil) == PresenceAbandoned {
			typ = models.EventRoomAbandoned
		}
		c.terminate(models.Event{Type: typ, RoomCode: c.cfg.Code})
		return
	}
	if !curr.IsMember(me) && (first || (prev != nil && prev.IsMember(me))) {
		// Removed by someone else, typically an expired lease
		c.terminate(models.Event{Type: models.EventRoomClosed, RoomCode: c.cfg.Code, Round: curr.CurrentRound})
		return
	}
	if first {
		prev = nil
	}

	for _, e := range DeriveEvents(me, prev, curr) {
		c.emit(e)
	}

	switch EvaluatePresence(me, prev, curr) {
	case PresenceOpponentLeft:
		c.terminate(models.Event{Type: models.EventOpponentLeft, RoomCode: curr.Code, Round: curr.CurrentRound})
		return
	case PresenceAbandoned:
		c.terminate(models.Event{Type: models.EventRoomAbandoned, RoomCode: curr.Code, Round: curr.CurrentRound})
		return
	}

	c.recoverFromDepartures(ctx, prev, curr)
	go c.CheckAdvance(ctx, curr)
}

func (c *RoundCoordinator) emit(e models.Event) {
	c.log.Debug().Str("event", string(e.Type)).Int("round", e.Round).Msg("Room event")
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(e)
	}
}

func (c *RoundCoordinator) terminate(e models.Event) {
	c.emit(e)
	c.Stop()
	if c.cfg.OnTerminal != nil {
		c.cfg.OnTerminal(e)
	}
}

// recoverFromDepartures hands the host role on and clears claims held by
// players who are gone
func (c *RoundCoordinator) recoverFromDepartures(ctx context.Context, prev, curr *models.Room) {
	me := c.cfg.Me.ID

	if !curr.IsMember(curr.Host) && (curr.GameStarted || curr.GameCompleted) && len(curr.Players) >= 2 {
		ids := curr.PlayerIDs()
		if ids[0] == me {
			ok, err := c.cfg.Rooms.ReassignHost(ctx, curr.Code, curr.Host, me)
			if err != nil {
				c.log.Warn().Err(err).Msg("Failed to take over as host")
			} else if ok {
				c.log.Info().Str("previous_host", curr.Host).Msg("Took over as host")
			}
		}
	}

	for _, field := range []string{repository.RoundAdvanceToken, repository.RematchToken} {
		holder := curr.RoundAdvanceToken
		if field == repository.RematchToken {
			if !curr.GameCompleted {
				continue
			}
			holder = curr.RematchToken
		}
		if holder == "" || curr.IsMember(holder) {
			continue
		}
		if _, err := c.cfg.Rooms.ReleaseToken(ctx, curr.Code, field, holder); err != nil {
			c.log.Warn().Err(err).Str("token", field).Msg("Failed to clear a departed player's claim")
		}
	}
}

// releaseStaleClaim clears holder's claim on field once it has gone
// unresolved for the claim timeout. It reports whether the claim is gone.
func (c *RoundCoordinator) releaseStaleClaim(ctx context.Context, field, holder string, claimedAt int64) bool {
	cutoff := c.ServerNow() - c.cfg.Settings.ClaimTimeout.Milliseconds()
	if claimedAt > cutoff {
		return false
	}
	released, err := c.cfg.Rooms.ReleaseStaleToken(ctx, c.cfg.Code, field, holder, cutoff)
	if err != nil {
		c.log.Warn().Err(err).Str("token", field).Msg("Failed to clear a stale claim")
		return false
	}
	if released {
		c.log.Info().Str("token", field).Str("holder", holder).Msg("Cleared a stale claim")
	}
	return released
}

func (c *RoundCoordinator) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Settings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		resync := c.cfg.Clock().Sub(c.lastSync) >= clockResyncInterval
		c.mu.Unlock()
		if resync {
			if err := c.syncClock(ctx); err != nil && ctx.Err() == nil {
				c.log.Debug().Err(err).Msg("Server clock resync failed")
			}
		}

		if room := c.Room(); room != nil {
			c.CheckAdvance(ctx, room)
		}
	}
}

// advanceTriggered reports whether room's current round should end now
func (c *RoundCoordinator) advanceTriggered(room *models.Room) bool {
	if room == nil || !room.InRound() {
		return false
	}
	return room.PolicySatisfied() || room.TimedOut(c.ServerNow(), c.cfg.Settings.RoundDuration)
}

// CheckAdvance attempts to end the round shown in room if its policy is
// satisfied or it timed out. Concurrent local attempts for one round share
// a single claim. Another player's claim is left alone until it is older
// than the claim timeout; our own leftover claim is simply retried.
func (c *RoundCoordinator) CheckAdvance(ctx context.Context, room *models.Room) {
	if c.isStopped() || !c.advanceTriggered(room) {
		return
	}
	if latest := c.Room(); latest != nil && latest.CurrentRound != room.CurrentRound {
		return
	}
	if holder := room.RoundAdvanceToken; holder != "" && holder != c.cfg.Me.ID {
		c.releaseStaleClaim(ctx, repository.RoundAdvanceToken, holder, room.RoundAdvanceClaimedAt)
		return
	}

	key := fmt.Sprintf("advance/%d", room.CurrentRound)
	_, _, _ = c.flights.Do(key, func() (any, error) {
		c.advance(ctx, room.CurrentRound)
		return nil, nil
	})
}

// advance runs the claim protocol for observedRound: claim the token, re-read
// the room, and only then write the next round or the final result
func (c *RoundCoordinator) advance(ctx context.Context, observedRound int) {
	me := c.cfg.Me.ID
	code := c.cfg.Code
	log := c.log.With().Int("round", observedRound).Logger()

	claimed, err := c.cfg.Rooms.ClaimToken(ctx, code, repository.RoundAdvanceToken, me)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to claim round advance")
		return
	}
	if !claimed {
		return
	}

	release := func() {
		if _, err := c.cfg.Rooms.ReleaseToken(ctx, code, repository.RoundAdvanceToken, me); err != nil {
			log.Warn().Err(err).Msg("Failed to release round advance claim")
		}
	}

	room, err := c.cfg.Rooms.GetRoom(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to re-read room after claim")
		release()
		return
	}
	if room == nil || room.RoundAdvanceToken != me || room.CurrentRound != observedRound || !c.advanceTriggered(room) {
		release()
		return
	}

	if observedRound+1 >= room.TotalRounds {
		c.complete(ctx, observedRound)
		return
	}

	puzzle := c.cfg.Puzzles.NextPuzzle(ctx)
	if _, err := c.cfg.Rooms.AdvanceRound(ctx, code, me, observedRound, puzzle); err != nil {
		if !repository.IsLostClaim(err) {
			log.Warn().Err(err).Msg("Failed to advance round")
			release()
		}
		return
	}
	log.Info().Int("next_round", observedRound+1).Msg("Advanced round")
}

func (c *RoundCoordinator) complete(ctx context.Context, observedRound int) {
	me := c.cfg.Me.ID
	room, err := c.cfg.Rooms.CompleteGame(ctx, c.cfg.Code, me, observedRound)
	if err != nil {
		if !repository.IsLostClaim(err) {
			c.log.Warn().Err(err).Msg("Failed to complete game")
			if _, err := c.cfg.Rooms.ReleaseToken(ctx, c.cfg.Code, repository.RoundAdvanceToken, me); err != nil {
				c.log.Warn().Err(err).Msg("Failed to release round advance claim")
			}
		}
		return
	}
	c.log.Info().Str("winner", room.Winner).Msg("Game completed")

	if c.cfg.Matches == nil {
		return
	}
	rec := models.MatchRecord{
		RoomCode:   room.Code,
		Players:    make(map[string]models.MatchPlayer, len(room.Players)),
		Winner:     room.Winner,
		WinnerName: room.WinnerName,
		Rounds:     room.TotalRounds,
	}
	for id, p := range room.Players {
		rec.Players[id] = models.MatchPlayer{Username: p.Username, Score: p.Score}
	}
	if _, err := c.cfg.Matches.RecordMatch(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Msg("Failed to record match")
	}
}

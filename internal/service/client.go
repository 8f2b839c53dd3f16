package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bananaclash/internal/models"
	"bananaclash/internal/repository"
	"bananaclash/internal/store"
	"bananaclash/internal/utils"
)

const (
	guessAttempts = 3
	guessBackoff  = 100 * time.Millisecond
)

// ClientConfig wires a Client to its store connection
type ClientConfig struct {
	Identity models.Identity
	// Store is owned by the client and closed by Close
	Store    store.Store
	Puzzles  PuzzleSource
	Settings GameSettings
	Clock    func() time.Time
	Logger   zerolog.Logger
}

// GuessResult is the outcome of one submitted answer
type GuessResult struct {
	Correct bool `json:"correct"`
	Points  int  `json:"points"`
	Score   int  `json:"score"`
}

// Client is one player's game session: it joins at most one room at a
// time and reports room changes, events and chat through callbacks
type Client struct {
	me       models.Identity
	store    store.Store
	rooms    *repository.RoomRepository
	matches  *repository.MatchRepository
	queue    *MatchmakingService
	chat     *ChatService
	puzzles  PuzzleSource
	settings GameSettings
	clock    func() time.Time
	log      zerolog.Logger

	mu        sync.Mutex
	coord     *RoundCoordinator
	chatUnsub store.Unsubscribe
	waiting   bool

	lmu     sync.RWMutex
	onRoom  []func(*models.Room)
	onEvent []func(models.Event)
	onChat  []func(models.ChatMessage)
}

// NewClient creates a client for one identity
func NewClient(cfg ClientConfig) *Client {
	settings := cfg.Settings.withDefaults()
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	log := cfg.Logger.With().Str("player", cfg.Identity.ID).Logger()
	if cfg.Puzzles == nil {
		cfg.Puzzles = NewPuzzleService("", 0, log)
	}
	rooms := repository.NewRoomRepository(cfg.Store)
	return &Client{
		me:       cfg.Identity,
		store:    cfg.Store,
		rooms:    rooms,
		matches:  repository.NewMatchRepository(cfg.Store),
		queue:    NewMatchmakingService(repository.NewMatchmakingRepository(cfg.Store), rooms, settings, log),
		chat:     NewChatService(cfg.Store, log),
		puzzles:  cfg.Puzzles,
		settings: settings,
		clock:    cfg.Clock,
		log:      log,
	}
}

// Identity returns who this client plays as
func (c *Client) Identity() models.Identity {
	return c.me
}

// OnRoomChange registers a callback for every room snapshot (nil when the room is gone)
func (c *Client) OnRoomChange(fn func(*models.Room)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.onRoom = append(c.onRoom, fn)
}

// OnEvent registers a callback for domain events
func (c *Client) OnEvent(fn func(models.Event)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.onEvent = append(c.onEvent, fn)
}

// OnChat registers a callback for chat messages in the current room
func (c *Client) OnChat(fn func(models.ChatMessage)) {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	c.onChat = append(c.onChat, fn)
}

// RoomCode returns the joined room's code, or "" when not in a room
func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coord == nil {
		return ""
	}
	return c.coord.Code()
}

// CurrentRoom returns the latest snapshot of the joined room
func (c *Client) CurrentRoom() *models.Room {
	coord := c.current()
	if coord == nil {
		return nil
	}
	return coord.Room()
}

// ServerNow estimates the shared clock in Unix ms
func (c *Client) ServerNow() int64 {
	if coord := c.current(); coord != nil {
		return coord.ServerNow()
	}
	return c.clock().UnixMilli()
}

func (c *Client) current() *RoundCoordinator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coord
}

func (c *Client) ensureNotInRoom() error {
	if c.current() != nil {
		return models.ErrAlreadyInRoom
	}
	return nil
}

// CreateRoom creates a room hosted by this player and joins it
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	if err := c.ensureNotInRoom(); err != nil {
		return "", err
	}
	code, err := c.rooms.CreateRoom(ctx, c.me, c.settings.TotalRounds, c.settings.AdvancePolicy)
	if err != nil {
		return "", err
	}
	if err := c.rooms.WatchPlayer(ctx, code, c.me.ID); err != nil {
		return "", err
	}
	if err := c.enter(ctx, code, false); err != nil {
		return "", err
	}
	c.log.Info().Str("room", code).Msg("Created room")
	return code, nil
}

// JoinRoom joins an existing room that has not started
func (c *Client) JoinRoom(ctx context.Context, code string) error {
	code, err := utils.NormalizeRoomCode(code)
	if err != nil {
		return err
	}
	if err := c.ensureNotInRoom(); err != nil {
		return err
	}
	if _, err := c.rooms.JoinRoom(ctx, code, c.me); err != nil {
		return err
	}
	if err := c.enter(ctx, code, false); err != nil {
		return err
	}
	c.log.Info().Str("room", code).Msg("Joined room")
	return nil
}

// PlayOnline pairs this player with someone waiting, or waits for an opponent
func (c *Client) PlayOnline(ctx context.Context) (string, error) {
	if err := c.ensureNotInRoom(); err != nil {
		return "", err
	}
	res, err := c.queue.EnqueueOrMatch(ctx, c.me)
	if err != nil {
		return "", err
	}
	if err := c.enter(ctx, res.RoomCode, res.Waiting); err != nil {
		return "", err
	}
	return res.RoomCode, nil
}

// enter starts following a room this player is already a member of
func (c *Client) enter(ctx context.Context, code string, waiting bool) error {
	var coord *RoundCoordinator
	coord = NewRoundCoordinator(CoordinatorConfig{
		Code:     code,
		Me:       c.me,
		Store:    c.store,
		Rooms:    c.rooms,
		Matches:  c.matches,
		Puzzles:  c.puzzles,
		Settings: c.settings,
		Clock:    c.clock,
		Logger:   c.log,
		OnRoom:   c.dispatchRoom,
		OnEvent:  c.dispatchEvent,
		OnTerminal: func(e models.Event) {
			c.handleTerminal(coord, e)
		},
	})

	c.mu.Lock()
	if c.coord != nil {
		c.mu.Unlock()
		return models.ErrAlreadyInRoom
	}
	c.coord = coord
	c.waiting = waiting
	c.mu.Unlock()

	if err := coord.Start(ctx); err != nil {
		c.mu.Lock()
		c.coord = nil
		c.mu.Unlock()
		return err
	}

	unsub, err := c.chat.Subscribe(ctx, code, c.dispatchChat)
	if err != nil {
		c.log.Warn().Err(err).Str("room", code).Msg("Chat unavailable")
		return nil
	}
	c.mu.Lock()
	if c.coord == coord {
		c.chatUnsub = unsub
		unsub = nil
	}
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}

func (c *Client) dispatchRoom(room *models.Room) {
	c.lmu.RLock()
	defer c.lmu.RUnlock()
	for _, fn := range c.onRoom {
		fn(room)
	}
}

func (c *Client) dispatchEvent(e models.Event) {
	if e.Type == models.EventPlayerJoined {
		c.mu.Lock()
		waiting := c.waiting
		c.waiting = false
		c.mu.Unlock()
		if waiting {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), c.settings.LeaveTimeout)
				defer cancel()
				if err := c.queue.Withdraw(ctx, c.me.ID); err != nil {
					c.log.Warn().Err(err).Msg("Failed to leave the matchmaking queue")
				}
			}()
		}
	}

	c.lmu.RLock()
	defer c.lmu.RUnlock()
	for _, fn := range c.onEvent {
		fn(e)
	}
}

func (c *Client) dispatchChat(m models.ChatMessage) {
	c.lmu.RLock()
	defer c.lmu.RUnlock()
	for _, fn := range c.onChat {
		fn(m)
	}
}

// handleTerminal ends the local session after the coordinator stopped itself
func (c *Client) handleTerminal(coord *RoundCoordinator, e models.Event) {
	switch e.Type {
	case models.EventOpponentLeft, models.EventRoomAbandoned:
		go func() {
			if err := c.leave(context.Background(), coord); err != nil {
				c.log.Warn().Err(err).Str("room", coord.Code()).Msg("Failed to leave room")
			}
		}()
	default:
		c.detach(coord)
	}
}

// detach forgets coord locally; it returns whether coord was current
func (c *Client) detach(coord *RoundCoordinator) (bool, bool) {
	c.mu.Lock()
	if c.coord != coord {
		c.mu.Unlock()
		return false, false
	}
	c.coord = nil
	unsub, waiting := c.chatUnsub, c.waiting
	c.chatUnsub, c.waiting = nil, false
	c.mu.Unlock()

	coord.Stop()
	if unsub != nil {
		unsub()
	}
	return true, waiting
}

// LeaveRoom leaves the current room. Local subscriptions stop at once;
// the remote cleanup is best effort and bounded by the leave timeout.
func (c *Client) LeaveRoom(ctx context.Context) error {
	coord := c.current()
	if coord == nil {
		return nil
	}
	return c.leave(ctx, coord)
}

func (c *Client) leave(ctx context.Context, coord *RoundCoordinator) error {
	last := coord.Room()
	current, waiting := c.detach(coord)
	if !current {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.settings.LeaveTimeout)
	defer cancel()

	code := coord.Code()
	var errs []error
	if waiting {
		if err := c.queue.Withdraw(ctx, c.me.ID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.rooms.RemovePlayer(ctx, code, c.me.ID); err != nil {
		errs = append(errs, err)
	}

	if last != nil && last.Host == c.me.ID && !last.GameStarted {
		if err := c.rooms.DeleteRoom(ctx, code); err != nil {
			errs = append(errs, err)
		}
	} else if _, err := c.rooms.DeleteIfEmpty(ctx, code); err != nil {
		errs = append(errs, err)
	}

	c.log.Info().Str("room", code).Msg("Left room")
	if err := errors.Join(errs...); err != nil {
		c.log.Warn().Err(err).Str("room", code).Msg("Remote cleanup incomplete")
	}
	return nil
}

func (c *Client) requireRoom() (*RoundCoordinator, *models.Room, error) {
	coord := c.current()
	if coord == nil {
		return nil, nil, models.ErrNotInRoom
	}
	room := coord.Room()
	if room == nil || !room.IsMember(c.me.ID) {
		return nil, nil, models.ErrNotInRoom
	}
	return coord, room, nil
}

// ToggleReady flips this player's ready flag in the lobby
func (c *Client) ToggleReady(ctx context.Context) error {
	coord, room, err := c.requireRoom()
	if err != nil {
		return err
	}
	if room.GameStarted {
		return models.ErrAlreadyStarted
	}
	return c.rooms.SetReady(ctx, coord.Code(), c.me.ID, !room.Players[c.me.ID].Ready)
}

// SetAdvancePolicy changes when rounds end early; host only, before start
func (c *Client) SetAdvancePolicy(ctx context.Context, policy models.AdvancePolicy) error {
	coord, _, err := c.requireRoom()
	if err != nil {
		return err
	}
	return c.rooms.SetAdvancePolicy(ctx, coord.Code(), c.me.ID, policy)
}

// StartGame starts round 0. The local checks are advisory; the write
// re-checks them atomically.
func (c *Client) StartGame(ctx context.Context) error {
	coord, room, err := c.requireRoom()
	if err != nil {
		return err
	}
	switch {
	case room.GameStarted:
		return models.ErrAlreadyStarted
	case room.Host != c.me.ID:
		return models.ErrNotHost
	case len(room.Players) < 2 || !room.AllReady():
		return models.ErrNotReady
	}

	puzzle := c.puzzles.NextPuzzle(ctx)
	if _, err := c.rooms.StartGame(ctx, coord.Code(), c.me.ID, puzzle); err != nil {
		return err
	}
	c.log.Info().Str("room", coord.Code()).Msg("Started game")
	return nil
}

// SubmitGuess answers the current puzzle. Points depend on how long after
// the round start (by the shared clock) the answer is given.
func (c *Client) SubmitGuess(ctx context.Context, guess int) (GuessResult, error) {
	if err := utils.ValidateGuess(guess); err != nil {
		return GuessResult{}, err
	}
	coord, room, err := c.requireRoom()
	if err != nil {
		return GuessResult{}, err
	}
	if !room.InRound() {
		return GuessResult{}, models.ErrNoActiveRound
	}
	if room.Players[c.me.ID].Solved {
		return GuessResult{}, models.ErrAlreadyAnswered
	}

	correct := guess == room.CurrentPuzzle.Answer
	points := PointsAfter(correct, room.Elapsed(coord.ServerNow()))

	var state models.PlayerState
	err = retryTransient(ctx, guessAttempts, guessBackoff, func() error {
		var err error
		state, err = c.rooms.ApplyGuess(ctx, coord.Code(), c.me.ID, room, guess, correct, points)
		return err
	})
	if err != nil {
		return GuessResult{}, err
	}

	detached := context.WithoutCancel(ctx)
	if fresh, err := c.rooms.GetRoom(detached, coord.Code()); err == nil && fresh != nil {
		coord.CheckAdvance(detached, fresh)
	}
	return GuessResult{Correct: correct, Points: points, Score: state.Score}, nil
}

// PlayAgain asks for a rematch after a completed game. Whoever claims the
// rematch first resets the room; later callers succeed without writing.
// A claim whose reset never landed is retried by its holder, and cleared
// by anyone else once it is older than the claim timeout.
func (c *Client) PlayAgain(ctx context.Context) error {
	coord, room, err := c.requireRoom()
	if err != nil {
		return err
	}
	if !room.GameCompleted {
		return models.ErrNotCompleted
	}
	if holder := room.RematchToken; holder != "" && holder != c.me.ID {
		if !coord.releaseStaleClaim(ctx, repository.RematchToken, holder, room.RematchClaimedAt) {
			return nil
		}
	}
	claimed, err := c.rooms.ClaimToken(ctx, coord.Code(), repository.RematchToken, c.me.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if _, err := c.rooms.ResetForRematch(ctx, coord.Code(), c.me.ID); err != nil {
		return fmt.Errorf("failed to reset room for rematch: %w", err)
	}
	return nil
}

// SendChat posts to the current room's chat
func (c *Client) SendChat(ctx context.Context, text string, media *models.Media) (models.ChatMessage, error) {
	coord, _, err := c.requireRoom()
	if err != nil {
		return models.ChatMessage{}, err
	}
	return c.chat.SendMessage(ctx, coord.Code(), c.me, text, media)
}

// ChatHistory returns the latest messages of the current room
func (c *Client) ChatHistory(ctx context.Context) ([]models.ChatMessage, error) {
	coord, _, err := c.requireRoom()
	if err != nil {
		return nil, err
	}
	return c.chat.History(ctx, coord.Code(), models.ChatBackfill)
}

// RecentMatches lists finished games, newest first
func (c *Client) RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	return c.matches.RecentMatches(ctx, limit)
}

// Close leaves any room and closes the store connection, which also fires
// this client's disconnect removals
func (c *Client) Close() error {
	if err := c.LeaveRoom(context.Background()); err != nil {
		c.log.Warn().Err(err).Msg("Failed to leave room on close")
	}
	return c.store.Close()
}

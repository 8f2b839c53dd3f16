package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"bananaclash/internal/models"
	"bananaclash/internal/store"
)

const (
	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomCodeLength   = 6
	maxCodeAttempts  = 10
)

// Token fields arbitrated by compare-and-set
const (
	RoundAdvanceToken = "roundAdvanceToken"
	RematchToken      = "rematchToken"
)

// stampServerTime marks RoundStartTime to be filled with the store clock
// when a mutated room is written
var stampServerTime = new(int64)

// RoomRepository handles store operations on rooms/<code>
type RoomRepository struct {
	store store.Store
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(s store.Store) *RoomRepository {
	return &RoomRepository{store: s}
}

// RoomPath returns the store path of a room document
func RoomPath(code string) string {
	return store.Join("rooms", code)
}

func playerPath(code, identity string) string {
	return store.Join("rooms", code, "players", identity)
}

// GenerateRoomCode returns a random 6 character uppercase alphanumeric code
func GenerateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	max := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrTransient, op, err)
}

// DecodeRoom converts a room snapshot; a nil value decodes to nil
func DecodeRoom(value any) (*models.Room, error) {
	if value == nil {
		return nil, nil
	}
	var room models.Room
	if err := store.Decode(value, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom writes a new room with the host as its only player. A code
// that is already taken is retried with a fresh one.
func (r *RoomRepository) CreateRoom(ctx context.Context, host models.Identity, totalRounds int, policy models.AdvancePolicy) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateRoomCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate room code: %w", err)
		}
		created, err := r.CreateRoomWithCode(ctx, code, host, totalRounds, policy)
		if err != nil {
			return "", err
		}
		if created {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w: no free room code after %d attempts", models.ErrConflict, maxCodeAttempts)
}

// CreateRoomWithCode writes a new room under code if that code is free
func (r *RoomRepository) CreateRoomWithCode(ctx context.Context, code string, host models.Identity, totalRounds int, policy models.AdvancePolicy) (bool, error) {
	if totalRounds <= 0 {
		totalRounds = models.DefaultTotalRounds
	}
	if policy == "" {
		policy = models.AdvanceAllSolved
	}
	doc := map[string]any{
		"code":     code,
		"host":     host.ID,
		"hostName": host.Name,
		"players": map[string]any{
			host.ID: newPlayer(host.Name),
		},
		"gameStarted":   false,
		"gameCompleted": false,
		"currentRound":  0,
		"totalRounds":   totalRounds,
		"advancePolicy": string(policy),
		"createdAt":     store.ServerTimestamp,
	}
	res, err := r.store.Transact(ctx, RoomPath(code), func(cur any) (any, error) {
		if cur != nil {
			return nil, store.ErrAbort
		}
		return doc, nil
	})
	if err != nil {
		return false, transient("create room", err)
	}
	return res.Committed, nil
}

func newPlayer(username string) models.PlayerState {
	return models.PlayerState{Username: username}
}

// GetRoom reads a room; it returns nil when the room does not exist
func (r *RoomRepository) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	v, err := r.store.Get(ctx, RoomPath(code))
	if err != nil {
		return nil, transient("get room", err)
	}
	room, err := DecodeRoom(v)
	if err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", code, err)
	}
	return room, nil
}

// Mutate applies fn to the current room inside a transaction. Returning an
// error from fn aborts without writing and that error is returned.
func (r *RoomRepository) Mutate(ctx context.Context, code string, fn func(room *models.Room) error) (*models.Room, error) {
	var reason error
	var written *models.Room
	res, err := r.store.Transact(ctx, RoomPath(code), func(cur any) (any, error) {
		reason, written = nil, nil
		room, err := DecodeRoom(cur)
		if err != nil {
			return nil, err
		}
		if room == nil {
			reason = models.ErrNotFound
			return nil, store.ErrAbort
		}
		if err := fn(room); err != nil {
			reason = err
			return nil, store.ErrAbort
		}
		written = room
		return roomDocument(room)
	})
	if err != nil {
		return nil, transient("update room", err)
	}
	if !res.Committed {
		return nil, reason
	}
	if updated, err := DecodeRoom(res.Value); err == nil && updated != nil {
		return updated, nil
	}
	return written, nil
}

func roomDocument(room *models.Room) (any, error) {
	var doc map[string]any
	if err := store.Decode(room, &doc); err != nil {
		return nil, err
	}
	if room.RoundStartTime == stampServerTime {
		doc["roundStartTime"] = store.ServerTimestamp
	}
	return doc, nil
}

// JoinRoom adds identity to a room that has not started. Joining a room
// twice is a no-op. The player entry is removed if this client disconnects.
func (r *RoomRepository) JoinRoom(ctx context.Context, code string, identity models.Identity) (*models.Room, error) {
	room, err := r.Mutate(ctx, code, func(room *models.Room) error {
		if room.IsMember(identity.ID) {
			return nil
		}
		if room.GameStarted {
			return models.ErrAlreadyStarted
		}
		if room.Players == nil {
			room.Players = make(map[string]models.PlayerState)
		}
		room.Players[identity.ID] = newPlayer(identity.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.store.OnDisconnectRemove(ctx, playerPath(code, identity.ID)); err != nil {
		return room, transient("register disconnect cleanup", err)
	}
	return room, nil
}

// WatchPlayer registers removal of the player's entry on disconnect
func (r *RoomRepository) WatchPlayer(ctx context.Context, code, identity string) error {
	if err := r.store.OnDisconnectRemove(ctx, playerPath(code, identity)); err != nil {
		return transient("register disconnect cleanup", err)
	}
	return nil
}

// RemovePlayer deletes a player's entry
func (r *RoomRepository) RemovePlayer(ctx context.Context, code, identity string) error {
	if err := r.store.Set(ctx, playerPath(code, identity), nil); err != nil {
		return transient("remove player", err)
	}
	if err := r.store.CancelOnDisconnect(ctx, playerPath(code, identity)); err != nil {
		return transient("cancel disconnect cleanup", err)
	}
	return nil
}

// DeleteRoom removes a room and everything under it
func (r *RoomRepository) DeleteRoom(ctx context.Context, code string) error {
	if err := r.store.Set(ctx, RoomPath(code), nil); err != nil {
		return transient("delete room", err)
	}
	return nil
}

// DeleteIfEmpty removes the room only when no players remain
func (r *RoomRepository) DeleteIfEmpty(ctx context.Context, code string) (bool, error) {
	res, err := r.store.Transact(ctx, RoomPath(code), func(cur any) (any, error) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, store.ErrAbort
		}
		if players, _ := m["players"].(map[string]any); len(players) > 0 {
			return nil, store.ErrAbort
		}
		return nil, nil
	})
	if err != nil {
		return false, transient("delete empty room", err)
	}
	return res.Committed, nil
}

// PruneEmptyRooms deletes every room named by a removed
// rooms/<code>/players/<id> path that no longer has players
func PruneEmptyRooms(ctx context.Context, s store.Store, removed []string) error {
	rooms := NewRoomRepository(s)
	seen := make(map[string]bool)
	var errs []error
	for _, p := range removed {
		segs := strings.Split(strings.Trim(p, "/"), "/")
		if len(segs) != 4 || segs[0] != "rooms" || segs[2] != "players" || seen[segs[1]] {
			continue
		}
		seen[segs[1]] = true
		if _, err := rooms.DeleteIfEmpty(ctx, segs[1]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// updatePlayer runs fn on one player's subtree; fn receives a private copy
func (r *RoomRepository) updatePlayer(ctx context.Context, code, identity string, fn func(p *models.PlayerState) error) (models.PlayerState, error) {
	var reason error
	var next models.PlayerState
	res, err := r.store.Transact(ctx, playerPath(code, identity), func(cur any) (any, error) {
		reason = nil
		if cur == nil {
			reason = models.ErrNotFound
			return nil, store.ErrAbort
		}
		var p models.PlayerState
		if err := store.Decode(cur, &p); err != nil {
			return nil, err
		}
		if err := fn(&p); err != nil {
			reason = err
			return nil, store.ErrAbort
		}
		next = p
		return p, nil
	})
	if err != nil {
		return models.PlayerState{}, transient("update player", err)
	}
	if !res.Committed {
		return models.PlayerState{}, reason
	}
	return next, nil
}

// SetReady changes a player's ready flag
func (r *RoomRepository) SetReady(ctx context.Context, code, identity string, ready bool) error {
	_, err := r.updatePlayer(ctx, code, identity, func(p *models.PlayerState) error {
		p.Ready = ready
		return nil
	})
	return err
}

// ApplyGuess records a player's answer and adds the points in one room
// transaction. observed is the snapshot the guess was scored against; the
// write is rejected with ErrNoActiveRound once that round is over, and a
// second answer in one round is rejected.
func (r *RoomRepository) ApplyGuess(ctx context.Context, code, identity string, observed *models.Room, guess int, correct bool, points int) (models.PlayerState, error) {
	room, err := r.Mutate(ctx, code, func(room *models.Room) error {
		p, ok := room.Players[identity]
		if !ok {
			return models.ErrNotFound
		}
		if !room.SameRound(observed) {
			return models.ErrNoActiveRound
		}
		if p.Solved {
			return models.ErrAlreadyAnswered
		}
		p.Score += points
		p.CurrentGuess = &guess
		p.Solved = true
		p.Correct = correct
		room.Players[identity] = p
		return nil
	})
	if err != nil {
		return models.PlayerState{}, err
	}
	return room.Players[identity], nil
}

// claimStamps maps each token field to the field holding its claim time
var claimStamps = map[string]string{
	RoundAdvanceToken: "roundAdvanceClaimedAt",
	RematchToken:      "rematchClaimedAt",
}

// ClaimToken sets a token field from empty to identity and stamps the
// claim with the store clock. The current holder may claim again, which
// refreshes the stamp.
func (r *RoomRepository) ClaimToken(ctx context.Context, code, field, identity string) (bool, error) {
	stamp := claimStamps[field]
	res, err := r.store.Transact(ctx, RoomPath(code), func(cur any) (any, error) {
		doc, ok := cur.(map[string]any)
		if !ok {
			return nil, store.ErrAbort
		}
		if s, _ := doc[field].(string); s != "" && s != identity {
			return nil, store.ErrAbort
		}
		next := copyDoc(doc)
		next[field] = identity
		if stamp != "" {
			next[stamp] = store.ServerTimestamp
		}
		return next, nil
	})
	if err != nil {
		return false, transient("claim "+field, err)
	}
	return res.Committed, nil
}

// ReleaseToken clears a token field only if holder still owns it
func (r *RoomRepository) ReleaseToken(ctx context.Context, code, field, holder string) (bool, error) {
	return r.releaseToken(ctx, code, field, holder, math.MaxInt64)
}

// ReleaseStaleToken clears holder's claim only if it was made at or
// before cutoff (server ms). Claims without a stamp count as stale.
func (r *RoomRepository) ReleaseStaleToken(ctx context.Context, code, field, holder string, cutoff int64) (bool, error) {
	return r.releaseToken(ctx, code, field, holder, cutoff)
}

func (r *RoomRepository) releaseToken(ctx context.Context, code, field, holder string, cutoff int64) (bool, error) {
	stamp := claimStamps[field]
	res, err := r.store.Transact(ctx, RoomPath(code), func(cur any) (any, error) {
		doc, ok := cur.(map[string]any)
		if !ok {
			return nil, store.ErrAbort
		}
		if s, _ := doc[field].(string); s == "" || s != holder {
			return nil, store.ErrAbort
		}
		if stamp != "" && millis(doc[stamp]) > cutoff {
			return nil, store.ErrAbort
		}
		next := copyDoc(doc)
		delete(next, field)
		delete(next, stamp)
		return next, nil
	})
	if err != nil {
		return false, transient("release "+field, err)
	}
	return res.Committed, nil
}

func copyDoc(doc map[string]any) map[string]any {
	next := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		next[k] = v
	}
	return next
}

// millis reads a numeric tree value; JSON trees carry numbers as float64
func millis(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func resetRound(room *models.Room, resetScores bool) {
	for id, p := range room.Players {
		p.CurrentGuess = nil
		p.Solved = false
		p.Correct = false
		if resetScores {
			p.Score = 0
			p.Ready = false
		}
		room.Players[id] = p
	}
}

// StartGame moves a lobby into round 0. Only the host may start, with at
// least two players who are all ready.
func (r *RoomRepository) StartGame(ctx context.Context, code, host string, puzzle models.Puzzle) (*models.Room, error) {
	return r.Mutate(ctx, code, func(room *models.Room) error {
		if room.GameStarted {
			return models.ErrAlreadyStarted
		}
		if room.Host != host {
			return models.ErrNotHost
		}
		if len(room.Players) < 2 || !room.AllReady() {
			return models.ErrNotReady
		}
		for id, p := range room.Players {
			p.Score = 0
			room.Players[id] = p
		}
		resetRound(room, false)
		room.GameStarted = true
		room.GameCompleted = false
		room.CurrentRound = 0
		room.CurrentPuzzle = &puzzle
		room.RoundStartTime = stampServerTime
		room.RoundAdvanceToken, room.RoundAdvanceClaimedAt = "", 0
		room.RematchToken, room.RematchClaimedAt = "", 0
		room.Winner = ""
		room.WinnerName = ""
		room.FinalScores = nil
		return nil
	})
}

// errLostClaim means the token holder or round changed under the claimant
var errLostClaim = fmt.Errorf("%w: round advance claim lost", models.ErrConflict)

// IsLostClaim reports whether an advance or completion was pre-empted
func IsLostClaim(err error) bool {
	return errors.Is(err, errLostClaim)
}

func checkClaim(room *models.Room, holder string, observedRound int) error {
	if !room.GameStarted || room.GameCompleted {
		return errLostClaim
	}
	if room.RoundAdvanceToken != holder || room.CurrentRound != observedRound {
		return errLostClaim
	}
	return nil
}

// AdvanceRound moves to the next round with a fresh puzzle. holder must
// own the advance token for observedRound.
func (r *RoomRepository) AdvanceRound(ctx context.Context, code, holder string, observedRound int, puzzle models.Puzzle) (*models.Room, error) {
	return r.Mutate(ctx, code, func(room *models.Room) error {
		if err := checkClaim(room, holder, observedRound); err != nil {
			return err
		}
		resetRound(room, false)
		room.CurrentRound = observedRound + 1
		room.CurrentPuzzle = &puzzle
		room.RoundStartTime = stampServerTime
		room.RoundAdvanceToken, room.RoundAdvanceClaimedAt = "", 0
		return nil
	})
}

// CompleteGame ends the game after the last round and records the winner
func (r *RoomRepository) CompleteGame(ctx context.Context, code, holder string, observedRound int) (*models.Room, error) {
	return r.Mutate(ctx, code, func(room *models.Room) error {
		if err := checkClaim(room, holder, observedRound); err != nil {
			return err
		}
		winner, best, _ := room.Leader()
		room.GameStarted = false
		room.GameCompleted = true
		room.Winner = winner
		room.WinnerName = best.Username
		room.FinalScores = room.Scores()
		room.CurrentPuzzle = nil
		room.RoundStartTime = nil
		room.RoundAdvanceToken, room.RoundAdvanceClaimedAt = "", 0
		return nil
	})
}

// ResetForRematch returns a completed room to the lobby. holder must own
// the rematch token; the token stays set until the next start.
func (r *RoomRepository) ResetForRematch(ctx context.Context, code, holder string) (*models.Room, error) {
	return r.Mutate(ctx, code, func(room *models.Room) error {
		if !room.GameCompleted || room.RematchToken != holder {
			return models.ErrNotCompleted
		}
		resetRound(room, true)
		room.GameStarted = false
		room.GameCompleted = false
		room.CurrentRound = 0
		room.CurrentPuzzle = nil
		room.RoundStartTime = nil
		room.RoundAdvanceToken, room.RoundAdvanceClaimedAt = "", 0
		room.Winner = ""
		room.WinnerName = ""
		room.FinalScores = nil
		return nil
	})
}

// ReassignHost hands the room from a departed host to a remaining member
func (r *RoomRepository) ReassignHost(ctx context.Context, code, from, to string) (bool, error) {
	_, err := r.Mutate(ctx, code, func(room *models.Room) error {
		if room.Host != from || !room.IsMember(to) || room.IsMember(from) {
			return models.ErrConflict
		}
		room.Host = to
		room.HostName = room.Players[to].Username
		return nil
	})
	if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetAdvancePolicy lets the host change the policy before the game starts
func (r *RoomRepository) SetAdvancePolicy(ctx context.Context, code, host string, policy models.AdvancePolicy) error {
	_, err := r.Mutate(ctx, code, func(room *models.Room) error {
		if room.Host != host {
			return models.ErrNotHost
		}
		if room.GameStarted {
			return models.ErrAlreadyStarted
		}
		room.AdvancePolicy = policy
		return nil
	})
	return err
}

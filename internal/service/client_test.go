package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bananaclash/internal/models"
	"bananaclash/internal/repository"
	"bananaclash/internal/store"
)

const waitTimeout = 3 * time.Second

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventLog records events delivered to one client
type eventLog struct {
	mu     sync.Mutex
	events []models.Event
}

func (l *eventLog) add(e models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(typ models.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	t        *testing.T
	backend  *store.MemoryBackend
	clock    *fakeClock
	puzzles  *StaticPuzzles
	settings GameSettings
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:       t,
		backend: store.NewMemoryBackend(),
		clock:   newFakeClock(),
		puzzles: NewStaticPuzzles(models.Puzzle{ImageURL: "https://example.com/bananas.png", Answer: 7}),
		settings: GameSettings{
			TotalRounds:   3,
			RoundDuration: 60 * time.Second,
			TickInterval:  10 * time.Millisecond,
			LeaveTimeout:  time.Second,
		},
	}
	h.backend.SetClock(h.clock.Now)
	return h
}

func (h *harness) client(id, name string) (*Client, *eventLog) {
	c := NewClient(ClientConfig{
		Identity: models.Identity{ID: id, Name: name},
		Store:    h.backend.Connect(),
		Puzzles:  h.puzzles,
		Settings: h.settings,
		Clock:    h.clock.Now,
		Logger:   zerolog.Nop(),
	})
	log := &eventLog{}
	c.OnEvent(log.add)
	h.t.Cleanup(func() { _ = c.Close() })
	return c, log
}

func (h *harness) room(code string) *models.Room {
	room, err := repository.DecodeRoom(h.backend.Snapshot(repository.RoomPath(code)))
	if err != nil {
		h.t.Errorf("decode room %s: %v", code, err)
	}
	return room
}

func waitRoom(t *testing.T, c *Client, cond func(*models.Room) bool) *models.Room {
	t.Helper()
	var got *models.Room
	require.Eventually(t, func() bool {
		r := c.CurrentRoom()
		if r != nil && cond(r) {
			got = r
			return true
		}
		return false
	}, waitTimeout, 5*time.Millisecond)
	return got
}

func inRound(round int) func(*models.Room) bool {
	return func(r *models.Room) bool { return r.InRound() && r.CurrentRound == round }
}

func hasPlayers(n int) func(*models.Room) bool {
	return func(r *models.Room) bool { return len(r.Players) == n }
}

// startGame seats every client in the host's room and starts round 0
func startGame(t *testing.T, host *Client, guests ...*Client) string {
	t.Helper()
	ctx := context.Background()
	code, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	for _, g := range guests {
		require.NoError(t, g.JoinRoom(ctx, code))
	}
	waitRoom(t, host, hasPlayers(len(guests)+1))

	for _, c := range append([]*Client{host}, guests...) {
		waitRoom(t, c, hasPlayers(len(guests)+1))
		require.NoError(t, c.ToggleReady(ctx))
	}
	waitRoom(t, host, func(r *models.Room) bool { return r.AllReady() })
	require.NoError(t, host.StartGame(ctx))

	for _, c := range append([]*Client{host}, guests...) {
		waitRoom(t, c, inRound(0))
	}
	return code
}

func TestClientLobbyGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")

	_, err := host.SubmitGuess(ctx, 3)
	assert.ErrorIs(t, err, models.ErrNotInRoom)

	code, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = host.CreateRoom(ctx)
	assert.ErrorIs(t, err, models.ErrAlreadyInRoom)

	assert.ErrorIs(t, guest.JoinRoom(ctx, "nope"), models.ErrInvalidInput)
	assert.ErrorIs(t, guest.JoinRoom(ctx, "ZZZZZZ"), models.ErrNotFound)
	require.NoError(t, guest.JoinRoom(ctx, code))

	waitRoom(t, host, hasPlayers(2))
	waitRoom(t, guest, hasPlayers(2))

	assert.ErrorIs(t, host.StartGame(ctx), models.ErrNotReady)
	assert.ErrorIs(t, guest.StartGame(ctx), models.ErrNotHost)
	_, err = guest.SubmitGuess(ctx, 3)
	assert.ErrorIs(t, err, models.ErrNoActiveRound)
}

func TestSubmitGuessScoresByElapsedTime(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, guestEvents := h.client("guest", "Gus")

	conn := h.backend.Connect()
	defer conn.Close()
	hostRooms := repository.NewRoomRepository(conn)
	created, err := hostRooms.CreateRoomWithCode(ctx, "ABC123", host.Identity(), 3, models.AdvanceAllSolved)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, host.JoinRoom(ctx, "abc123"))
	require.NoError(t, guest.JoinRoom(ctx, "ABC123"))
	for _, c := range []*Client{host, guest} {
		waitRoom(t, c, hasPlayers(2))
		require.NoError(t, c.ToggleReady(ctx))
	}
	waitRoom(t, host, func(r *models.Room) bool { return r.AllReady() })
	require.NoError(t, host.StartGame(ctx))
	waitRoom(t, host, inRound(0))
	waitRoom(t, guest, inRound(0))

	h.clock.Advance(3 * time.Second)

	res, err := guest.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, GuessResult{Correct: true, Points: 15, Score: 15}, res)

	_, err = guest.SubmitGuess(ctx, 7)
	assert.ErrorIs(t, err, models.ErrAlreadyAnswered)

	res, err = host.SubmitGuess(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, GuessResult{Correct: false, Points: 0, Score: 0}, res)

	room := waitRoom(t, guest, inRound(1))
	assert.Equal(t, 15, room.Players["guest"].Score)
	assert.Equal(t, 0, room.Players["host"].Score)
	assert.False(t, room.Players["guest"].Solved)
	assert.Empty(t, room.RoundAdvanceToken)
	assert.Eventually(t, func() bool {
		return guestEvents.count(models.EventRoundAdvanced) == 1
	}, waitTimeout, 5*time.Millisecond)
}

func TestRoundAdvancesOnceWithRacingClients(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("p0", "Host")
	var guests []*Client
	var logs []*eventLog
	for _, id := range []string{"p1", "p2", "p3"} {
		c, log := h.client(id, id)
		guests = append(guests, c)
		logs = append(logs, log)
	}
	code := startGame(t, host, guests...)

	var wg sync.WaitGroup
	for _, c := range append([]*Client{host}, guests...) {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			_, err := c.SubmitGuess(ctx, 7)
			assert.NoError(t, err)
		}(c)
	}
	wg.Wait()

	for _, c := range append([]*Client{host}, guests...) {
		waitRoom(t, c, inRound(1))
	}
	assert.Never(t, func() bool {
		r := h.room(code)
		return r == nil || r.CurrentRound != 1
	}, 200*time.Millisecond, 10*time.Millisecond)

	room := h.room(code)
	for id, p := range room.Players {
		assert.Equal(t, 15, p.Score, id)
	}
	for _, log := range logs {
		assert.Equal(t, 1, log.count(models.EventRoundAdvanced))
	}
}

func TestRoundTimesOut(t *testing.T) {
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	h.clock.Advance(59 * time.Second)
	assert.Never(t, func() bool { return h.room(code).CurrentRound != 0 }, 100*time.Millisecond, 10*time.Millisecond)

	h.clock.Advance(2 * time.Second)
	waitRoom(t, host, inRound(1))
	waitRoom(t, guest, inRound(1))

	assert.Never(t, func() bool { return h.room(code).CurrentRound != 1 }, 100*time.Millisecond, 10*time.Millisecond)
	room := h.room(code)
	assert.Equal(t, 0, room.Players["host"].Score)
	assert.Equal(t, 0, room.Players["guest"].Score)
}

func TestScoresNeverDecrease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.settings.TotalRounds = 3
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	startGame(t, host, guest)

	last := map[string]int{}
	for round := 0; round < 3; round++ {
		waitRoom(t, host, inRound(round))
		waitRoom(t, guest, inRound(round))
		h.clock.Advance(time.Duration(round*20) * time.Second)

		_, err := host.SubmitGuess(ctx, 7)
		require.NoError(t, err)
		_, err = guest.SubmitGuess(ctx, round)
		require.NoError(t, err)

		room := waitRoom(t, host, func(r *models.Room) bool {
			return r.GameCompleted || r.CurrentRound == round+1
		})
		for id, p := range room.Players {
			assert.GreaterOrEqual(t, p.Score, last[id], id)
			last[id] = p.Score
		}
	}

	room := waitRoom(t, guest, func(r *models.Room) bool { return r.GameCompleted })
	assert.Equal(t, "host", room.Winner)
	assert.Equal(t, "Hana", room.WinnerName)
	assert.Equal(t, map[string]int{"host": 15 + 13 + 11, "guest": 0}, room.FinalScores)
}

func TestGameCompletesAndRecordsMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.settings.TotalRounds = 1
	host, hostEvents := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	_, err := host.SubmitGuess(ctx, 2)
	require.NoError(t, err)
	_, err = guest.SubmitGuess(ctx, 7)
	require.NoError(t, err)

	room := waitRoom(t, host, func(r *models.Room) bool { return r.GameCompleted })
	assert.False(t, room.GameStarted)
	assert.Equal(t, "guest", room.Winner)
	assert.Equal(t, map[string]int{"host": 0, "guest": 15}, room.FinalScores)
	assert.Nil(t, room.CurrentPuzzle)
	assert.Eventually(t, func() bool {
		return hostEvents.count(models.EventGameCompleted) == 1
	}, waitTimeout, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		matches, err := host.RecentMatches(ctx, 10)
		return err == nil && len(matches) == 1
	}, waitTimeout, 10*time.Millisecond)
	matches, err := host.RecentMatches(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, code, matches[0].RoomCode)
	assert.Equal(t, "guest", matches[0].Winner)
	assert.Equal(t, 15, matches[0].Players["guest"].Score)
}

func TestPlayAgainResetsRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.settings.TotalRounds = 1
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	assert.ErrorIs(t, host.PlayAgain(ctx), models.ErrNotCompleted)

	_, err := host.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	_, err = guest.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	waitRoom(t, guest, func(r *models.Room) bool { return r.GameCompleted })

	require.NoError(t, guest.PlayAgain(ctx))
	room := waitRoom(t, host, func(r *models.Room) bool { return !r.GameCompleted })
	assert.False(t, room.GameStarted)
	assert.Equal(t, "guest", room.RematchToken)
	assert.Empty(t, room.Winner)
	assert.Nil(t, room.FinalScores)
	for id, p := range room.Players {
		assert.Zero(t, p.Score, id)
		assert.False(t, p.Ready, id)
		assert.False(t, p.Solved, id)
	}

	waitRoom(t, guest, func(r *models.Room) bool { return !r.GameCompleted })
	assert.ErrorIs(t, host.PlayAgain(ctx), models.ErrNotCompleted)

	for _, c := range []*Client{host, guest} {
		require.NoError(t, c.ToggleReady(ctx))
	}
	waitRoom(t, host, func(r *models.Room) bool { return r.AllReady() })
	require.NoError(t, host.StartGame(ctx))
	waitRoom(t, host, inRound(0))
	assert.Empty(t, h.room(code).RematchToken)
}

func TestHostLeavingLobbyAbandonsRoom(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, guestEvents := h.client("guest", "Gus")

	code, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, code))
	waitRoom(t, guest, hasPlayers(2))

	require.NoError(t, host.LeaveRoom(ctx))
	assert.Empty(t, host.RoomCode())
	assert.Nil(t, h.room(code))

	require.Eventually(t, func() bool { return guest.RoomCode() == "" }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, guestEvents.count(models.EventRoomAbandoned))
	assert.Zero(t, guestEvents.count(models.EventRoomClosed))
}

func TestOpponentLeavingEndsGame(t *testing.T) {
	h := newHarness(t)
	host, hostEvents := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	// Dropping the connection removes the player through its disconnect hook
	require.NoError(t, guest.Close())

	require.Eventually(t, func() bool { return hostEvents.count(models.EventOpponentLeft) == 1 }, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return host.RoomCode() == "" }, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.room(code) == nil }, waitTimeout, 5*time.Millisecond)
}

func TestHostDepartureMidGameHandsOverHost(t *testing.T) {
	h := newHarness(t)
	host, _ := h.client("zed", "Zed")
	a, aEvents := h.client("amy", "Amy")
	b, _ := h.client("bob", "Bob")
	code := startGame(t, host, a, b)

	require.NoError(t, host.Close())

	room := waitRoom(t, b, func(r *models.Room) bool { return r.Host == "amy" })
	assert.Equal(t, "Amy", room.HostName)
	assert.True(t, room.InRound())
	assert.Equal(t, "amy", h.room(code).Host)
	assert.Eventually(t, func() bool { return aEvents.count(models.EventHostChanged) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, code, a.RoomCode())
}

func TestStaleAdvanceClaimIsReleased(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	writer := h.backend.Connect()
	defer writer.Close()
	require.NoError(t, writer.Set(ctx, store.Join(repository.RoomPath(code), repository.RoundAdvanceToken), "ghost"))

	_, err := host.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	_, err = guest.SubmitGuess(ctx, 7)
	require.NoError(t, err)

	waitRoom(t, host, inRound(1))
	assert.Empty(t, h.room(code).RoundAdvanceToken)
}

func TestGuessForAFinishedRoundIsRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	// Hold the guest's view on round 0 by blocking its snapshot delivery
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	var held atomic.Bool
	guest.OnRoomChange(func(r *models.Room) {
		if r != nil && r.CurrentRound == 0 && r.Players["host"].Solved {
			held.Store(true)
			<-gate
		}
	})

	_, err := host.SubmitGuess(ctx, 3)
	require.NoError(t, err)
	require.Eventually(t, held.Load, waitTimeout, 5*time.Millisecond)

	h.clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool {
		r := h.room(code)
		return r != nil && r.CurrentRound == 1 && r.InRound()
	}, waitTimeout, 5*time.Millisecond)
	require.Equal(t, 0, guest.CurrentRoom().CurrentRound)

	_, err = guest.SubmitGuess(ctx, 7)
	assert.ErrorIs(t, err, models.ErrNoActiveRound)
	p := h.room(code).Players["guest"]
	assert.False(t, p.Solved)
	assert.Zero(t, p.Score)

	release()
	waitRoom(t, guest, inRound(1))
	res, err := guest.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, GuessResult{Correct: true, Points: 15, Score: 15}, res)
}

func TestAdvanceRecoversFromFailedWrites(t *testing.T) {
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	// The claim lands, then the advance and the release both fail
	unavailable := errors.New("store unavailable")
	var writes atomic.Int32
	h.backend.FailWith(func(op, path string) error {
		if op == "transact" && path == repository.RoomPath(code) && writes.Add(1) > 1 {
			return unavailable
		}
		return nil
	})

	h.clock.Advance(61 * time.Second)
	require.Eventually(t, func() bool { return h.room(code).RoundAdvanceToken != "" }, waitTimeout, 5*time.Millisecond)
	require.Eventually(t, func() bool { return writes.Load() > 3 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 0, h.room(code).CurrentRound)

	h.backend.FailWith(nil)
	waitRoom(t, host, inRound(1))
	waitRoom(t, guest, inRound(1))
	assert.Eventually(t, func() bool { return h.room(code).RoundAdvanceToken == "" }, waitTimeout, 5*time.Millisecond)
}

func TestStaleClaimOfSilentMemberIsCleared(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	// carl is still seated but his client stopped after claiming
	conn := h.backend.Connect()
	defer conn.Close()
	rooms := repository.NewRoomRepository(conn)
	require.NoError(t, conn.Set(ctx, store.Join(repository.RoomPath(code), "players", "carl"), map[string]any{"username": "Carl"}))
	waitRoom(t, host, hasPlayers(3))

	h.clock.Advance(55 * time.Second)
	ok, err := rooms.ClaimToken(ctx, code, repository.RoundAdvanceToken, "carl")
	require.NoError(t, err)
	require.True(t, ok)

	h.clock.Advance(6 * time.Second)
	assert.Never(t, func() bool {
		r := h.room(code)
		return r.CurrentRound != 0 || r.RoundAdvanceToken != "carl"
	}, 150*time.Millisecond, 10*time.Millisecond)

	h.clock.Advance(10 * time.Second)
	waitRoom(t, host, inRound(1))
	waitRoom(t, guest, inRound(1))
	assert.Eventually(t, func() bool { return h.room(code).RoundAdvanceToken == "" }, waitTimeout, 5*time.Millisecond)
}

func TestPlayAgainClearsAStaleRematchClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.settings.TotalRounds = 1
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")
	code := startGame(t, host, guest)

	_, err := host.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	_, err = guest.SubmitGuess(ctx, 7)
	require.NoError(t, err)
	waitRoom(t, host, func(r *models.Room) bool { return r.GameCompleted })
	waitRoom(t, guest, func(r *models.Room) bool { return r.GameCompleted })

	unavailable := errors.New("store unavailable")
	var writes atomic.Int32
	h.backend.FailWith(func(op, path string) error {
		if op == "transact" && path == repository.RoomPath(code) && writes.Add(1) > 1 {
			return unavailable
		}
		return nil
	})
	assert.ErrorIs(t, guest.PlayAgain(ctx), models.ErrTransient)
	h.backend.FailWith(nil)

	waitRoom(t, host, func(r *models.Room) bool { return r.RematchToken == "guest" })
	require.NoError(t, host.PlayAgain(ctx))
	assert.True(t, h.room(code).GameCompleted, "a fresh claim is left to its holder")

	h.clock.Advance(16 * time.Second)
	require.NoError(t, host.PlayAgain(ctx))
	room := waitRoom(t, host, func(r *models.Room) bool { return !r.GameCompleted })
	assert.Equal(t, "host", room.RematchToken)
	assert.False(t, room.GameStarted)
}

func TestPlayOnlinePairsPlayers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	first, firstEvents := h.client("p1", "One")
	second, _ := h.client("p2", "Two")

	code, err := first.PlayOnline(ctx)
	require.NoError(t, err)
	assert.NotNil(t, h.backend.Snapshot("matchmaking/p1"))

	got, err := second.PlayOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, code, got)

	waitRoom(t, first, hasPlayers(2))
	assert.Eventually(t, func() bool { return firstEvents.count(models.EventPlayerJoined) == 1 }, waitTimeout, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return h.backend.Snapshot("matchmaking") == nil }, waitTimeout, 5*time.Millisecond)
}

func TestPlayOnlineClaimsEachEntryOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	waiting, _ := h.client("p0", "Zero")
	code, err := waiting.PlayOnline(ctx)
	require.NoError(t, err)

	var racers []*Client
	for _, id := range []string{"p1", "p2", "p3"} {
		c, _ := h.client(id, id)
		racers = append(racers, c)
	}

	codes := make([]string, len(racers))
	var wg sync.WaitGroup
	for i, c := range racers {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			got, err := c.PlayOnline(ctx)
			assert.NoError(t, err)
			codes[i] = got
		}(i, c)
	}
	wg.Wait()

	matched := 0
	for _, c := range codes {
		if c == code {
			matched++
		}
	}
	// only one racer can take p0's entry
	assert.Equal(t, 1, matched)
	room := h.room(code)
	require.NotNil(t, room)
	assert.Len(t, room.Players, 2)
}

func TestClientChat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	host, _ := h.client("host", "Hana")
	guest, _ := h.client("guest", "Gus")

	var mu sync.Mutex
	var received []models.ChatMessage
	guest.OnChat(func(m models.ChatMessage) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m)
	})

	code, err := host.CreateRoom(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.JoinRoom(ctx, code))

	msg, err := host.SendChat(ctx, "<b>hello</b>   bananas", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello bananas", msg.Text)
	assert.NotEmpty(t, msg.ID)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, waitTimeout, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "hello bananas", received[0].Text)
	assert.Equal(t, "Hana", received[0].SenderName)
	mu.Unlock()

	_, err = guest.SendChat(ctx, "   ", nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

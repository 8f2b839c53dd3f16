package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"bananaclash/internal/models"
	"bananaclash/internal/service"
)

const helpText = `Commands:
  ready            toggle ready in the lobby
  start            start the game (host)
  <number>         answer the current puzzle
  policy NAME      all_solved or first_correct (host, lobby)
  say TEXT         chat
  again            rematch after a finished game
  scores           show the scoreboard
  leave            leave the room and quit`

var errQuit = errors.New("quit")

// terminal renders one client's room to a text stream and runs typed commands
type terminal struct {
	client *service.Client

	in  io.Reader
	mu  sync.Mutex
	out io.Writer

	ended chan struct{}
	once  sync.Once
	round int
}

func newTerminal(c *service.Client, in io.Reader, out io.Writer) *terminal {
	t := &terminal{client: c, in: in, out: out, ended: make(chan struct{}), round: -1}
	c.OnEvent(t.showEvent)
	c.OnChat(t.showChat)
	c.OnRoomChange(t.showRoom)
	return t
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) showRoom(room *models.Room) {
	if room == nil || !room.InRound() {
		return
	}
	t.mu.Lock()
	fresh := room.CurrentRound != t.round
	t.round = room.CurrentRound
	t.mu.Unlock()
	if fresh {
		t.printf("Round %d of %d: how many bananas? %s\n", room.CurrentRound+1, room.TotalRounds, room.CurrentPuzzle.ImageURL)
	}
}

func (t *terminal) showEvent(e models.Event) {
	switch e.Type {
	case models.EventRoomJoined:
		t.printf("Joined room %s. Type 'help' for commands.\n", e.RoomCode)
	case models.EventPlayerJoined:
		t.printf("%s joined.\n", e.PlayerName)
	case models.EventPlayerLeft:
		t.printf("%s left.\n", e.PlayerName)
	case models.EventHostChanged:
		t.printf("%s is now the host.\n", e.PlayerName)
	case models.EventGameCompleted:
		t.printf("Game over! Winner: %s\n%s", e.WinnerName, t.scoreboard(e.Scores))
		t.printf("Type 'again' for a rematch or 'leave' to quit.\n")
	case models.EventRematchReady:
		t.mu.Lock()
		t.round = -1
		t.mu.Unlock()
		t.printf("Rematch! Ready up again.\n")
	case models.EventOpponentLeft:
		t.printf("Your opponent left the game.\n")
		t.end()
	case models.EventRoomAbandoned:
		t.printf("The host left before the game started.\n")
		t.end()
	case models.EventRoomClosed:
		t.printf("The room was closed.\n")
		t.end()
	}
}

func (t *terminal) showChat(m models.ChatMessage) {
	switch {
	case m.Media != nil:
		t.printf("[%s] %s: (%s) %s\n", formatClock(m.Timestamp), m.SenderName, m.Media.Kind, m.Media.URL)
	default:
		t.printf("[%s] %s: %s\n", formatClock(m.Timestamp), m.SenderName, m.Text)
	}
}

func (t *terminal) end() {
	t.once.Do(func() { close(t.ended) })
}

func (t *terminal) scoreboard(scores map[string]int) string {
	room := t.client.CurrentRoom()
	type row struct {
		name  string
		score int
	}
	rows := make([]row, 0, len(scores))
	for id, score := range scores {
		name := id
		if room != nil {
			if p, ok := room.Players[id]; ok {
				name = p.Username
			}
		}
		rows = append(rows, row{name, score})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].name < rows[j].name
	})
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-24s %d\n", r.name, r.score)
	}
	return b.String()
}

// run reads commands until the input ends, the player leaves or the room ends
func (t *terminal) run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.ended:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := t.execute(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				t.printf("! %s\n", err)
			}
		}
	}
}

// execute runs one command line
func (t *terminal) execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	c := t.client

	if n, err := strconv.Atoi(verb); err == nil {
		res, err := c.SubmitGuess(ctx, n)
		if err != nil {
			return err
		}
		if res.Correct {
			t.printf("Correct! +%d (score %d)\n", res.Points, res.Score)
		} else {
			t.printf("Wrong. Score %d\n", res.Score)
		}
		return nil
	}

	switch strings.ToLower(verb) {
	case "help", "?":
		t.printf("%s\n", helpText)
		return nil
	case "ready":
		return c.ToggleReady(ctx)
	case "start":
		return c.StartGame(ctx)
	case "policy":
		policy, err := models.ParseAdvancePolicy(rest)
		if err != nil {
			return err
		}
		return c.SetAdvancePolicy(ctx, policy)
	case "say":
		_, err := c.SendChat(ctx, rest, nil)
		return err
	case "again":
		return c.PlayAgain(ctx)
	case "scores":
		room := c.CurrentRoom()
		if room == nil {
			return models.ErrNotInRoom
		}
		t.printf("%s", t.scoreboard(room.Scores()))
		return nil
	case "leave", "quit", "exit":
		if err := c.LeaveRoom(ctx); err != nil {
			return err
		}
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help'", verb)
	}
}

func formatClock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04")
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func formatPlayers(players map[string]models.MatchPlayer) string {
	parts := make([]string, 0, len(players))
	for _, p := range players {
		parts = append(parts, fmt.Sprintf("%s:%d", p.Username, p.Score))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

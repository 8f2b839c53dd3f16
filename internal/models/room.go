package models

import (
	"fmt"
	"sort"
	"time"
)

// DefaultTotalRounds is the number of puzzles in one game
const DefaultTotalRounds = 3

// DefaultRoundDuration is how long a round runs before it times out
const DefaultRoundDuration = 60 * time.Second

// AdvancePolicy decides when a round is finished before its timeout
type AdvancePolicy string

const (
	// AdvanceAllSolved ends the round once every player has answered
	AdvanceAllSolved AdvancePolicy = "all_solved"
	// AdvanceFirstCorrect ends the round on the first correct answer
	AdvanceFirstCorrect AdvancePolicy = "first_correct"
)

// ParseAdvancePolicy validates a configured policy name; empty means the default
func ParseAdvancePolicy(s string) (AdvancePolicy, error) {
	switch AdvancePolicy(s) {
	case "", AdvanceAllSolved:
		return AdvanceAllSolved, nil
	case AdvanceFirstCorrect:
		return AdvanceFirstCorrect, nil
	default:
		return "", fmt.Errorf("unknown advance policy %q", s)
	}
}

// Puzzle is one "how many bananas" image and its answer
type Puzzle struct {
	ImageURL string `json:"imageUrl"`
	Answer   int    `json:"answer"`
}

// PlayerState is a member's entry in a room
type PlayerState struct {
	Username     string `json:"username"`
	Ready        bool   `json:"ready"`
	Score        int    `json:"score"`
	CurrentGuess *int   `json:"currentGuess"`
	Solved       bool   `json:"solved"`
	Correct      bool   `json:"correct"`
}

// Room is the shared document at rooms/<code>
type Room struct {
	Code                  string                 `json:"code"`
	Host                  string                 `json:"host"`
	HostName              string                 `json:"hostName,omitempty"`
	Players               map[string]PlayerState `json:"players,omitempty"`
	GameStarted           bool                   `json:"gameStarted"`
	GameCompleted         bool                   `json:"gameCompleted"`
	CurrentRound          int                    `json:"currentRound"`
	TotalRounds           int                    `json:"totalRounds"`
	CurrentPuzzle         *Puzzle                `json:"currentPuzzle,omitempty"`
	RoundStartTime        *int64                 `json:"roundStartTime,omitempty"`
	RoundAdvanceToken     string                 `json:"roundAdvanceToken,omitempty"`
	RematchToken          string                 `json:"rematchToken,omitempty"`
	RoundAdvanceClaimedAt int64                  `json:"roundAdvanceClaimedAt,omitempty"`
	RematchClaimedAt      int64                  `json:"rematchClaimedAt,omitempty"`
	FinalScores           map[string]int         `json:"finalScores,omitempty"`
	Winner                string                 `json:"winner,omitempty"`
	WinnerName            string                 `json:"winnerName,omitempty"`
	AdvancePolicy         AdvancePolicy          `json:"advancePolicy,omitempty"`
	CreatedAt             int64                  `json:"createdAt,omitempty"`
	Chat                  map[string]ChatMessage `json:"chat,omitempty"`
}

// PlayerIDs returns member identities in store key order
func (r *Room) PlayerIDs() []string {
	ids := make([]string, 0, len(r.Players))
	for id := range r.Players {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsMember reports whether identity has a player entry
func (r *Room) IsMember(identity string) bool {
	_, ok := r.Players[identity]
	return ok
}

// AllReady reports whether every member has marked ready
func (r *Room) AllReady() bool {
	if len(r.Players) == 0 {
		return false
	}
	for _, p := range r.Players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// Policy returns the room's advance policy, defaulting to all_solved
func (r *Room) Policy() AdvancePolicy {
	if r.AdvancePolicy == "" {
		return AdvanceAllSolved
	}
	return r.AdvancePolicy
}

// PolicySatisfied reports whether the current round is finished by answers
func (r *Room) PolicySatisfied() bool {
	if len(r.Players) == 0 {
		return false
	}
	switch r.Policy() {
	case AdvanceFirstCorrect:
		for _, p := range r.Players {
			if p.Correct {
				return true
			}
		}
		return false
	default:
		for _, p := range r.Players {
			if !p.Solved {
				return false
			}
		}
		return true
	}
}

// Elapsed returns the time since the round started, clamped at zero
func (r *Room) Elapsed(nowMillis int64) time.Duration {
	if r.RoundStartTime == nil {
		return 0
	}
	d := time.Duration(nowMillis-*r.RoundStartTime) * time.Millisecond
	if d < 0 {
		return 0
	}
	return d
}

// TimedOut reports whether the current round has run past limit
func (r *Room) TimedOut(nowMillis int64, limit time.Duration) bool {
	return r.RoundStartTime != nil && r.Elapsed(nowMillis) >= limit
}

// InRound reports whether a round is being played
func (r *Room) InRound() bool {
	return r.GameStarted && !r.GameCompleted && r.CurrentPuzzle != nil
}

// SameRound reports whether r and other show the same round in play: same
// index, puzzle and start time
func (r *Room) SameRound(other *Room) bool {
	if r == nil || other == nil || !r.InRound() || !other.InRound() {
		return false
	}
	if r.CurrentRound != other.CurrentRound || *r.CurrentPuzzle != *other.CurrentPuzzle {
		return false
	}
	if r.RoundStartTime == nil || other.RoundStartTime == nil {
		return r.RoundStartTime == other.RoundStartTime
	}
	return *r.RoundStartTime == *other.RoundStartTime
}

// Leader returns the highest scorer; ties go to the first identity in key order
func (r *Room) Leader() (string, PlayerState, bool) {
	var bestID string
	var best PlayerState
	found := false
	for _, id := range r.PlayerIDs() {
		p := r.Players[id]
		if !found || p.Score > best.Score {
			bestID, best, found = id, p, true
		}
	}
	return bestID, best, found
}

// Scores maps each member to their current score
func (r *Room) Scores() map[string]int {
	scores := make(map[string]int, len(r.Players))
	for id, p := range r.Players {
		scores[id] = p.Score
	}
	return scores
}

// Phase derives the coordinator state from the document
func (r *Room) Phase() Phase {
	switch {
	case r == nil:
		return PhaseClosed
	case r.GameCompleted:
		return PhaseCompleted
	case r.GameStarted && r.RoundAdvanceToken != "":
		return PhaseRoundAdvancing
	case r.GameStarted:
		return PhaseRoundActive
	default:
		return PhaseLobby
	}
}

// Phase is the coordinator state of a room as seen by one client
type Phase int

const (
	PhaseClosed Phase = iota
	PhaseLobby
	PhaseRoundActive
	PhaseRoundAdvancing
	PhaseCompleted
)

var phaseNames = map[Phase]string{
	PhaseClosed:         "closed",
	PhaseLobby:          "lobby",
	PhaseRoundActive:    "round_active",
	PhaseRoundAdvancing: "round_advancing",
	PhaseCompleted:      "completed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText encodes the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestRoomPolicySatisfied(t *testing.T) {
	tests := []struct {
		name    string
		policy  AdvancePolicy
		players map[string]PlayerState
		want    bool
	}{
		{
			name:    "no players",
			players: map[string]PlayerState{},
			want:    false,
		},
		{
			name: "all solved, one still thinking",
			players: map[string]PlayerState{
				"a": {Solved: true, Correct: true},
				"b": {},
			},
			want: false,
		},
		{
			name: "all solved, everyone answered even if wrong",
			players: map[string]PlayerState{
				"a": {Solved: true, Correct: true},
				"b": {Solved: true},
			},
			want: true,
		},
		{
			name:   "first correct, only wrong answers",
			policy: AdvanceFirstCorrect,
			players: map[string]PlayerState{
				"a": {Solved: true},
				"b": {},
			},
			want: false,
		},
		{
			name:   "first correct, one right answer",
			policy: AdvanceFirstCorrect,
			players: map[string]PlayerState{
				"a": {Solved: true, Correct: true},
				"b": {},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Room{AdvancePolicy: tt.policy, Players: tt.players}
			assert.Equal(t, tt.want, r.PolicySatisfied())
		})
	}
}

func TestRoomTimedOut(t *testing.T) {
	r := Room{RoundStartTime: ptr(int64(1_000_000))}

	assert.False(t, r.TimedOut(1_000_000+59_999, DefaultRoundDuration))
	assert.True(t, r.TimedOut(1_000_000+60_000, DefaultRoundDuration))
	assert.Equal(t, time.Duration(0), r.Elapsed(999_000), "clock skew clamps to zero")

	assert.False(t, (&Room{}).TimedOut(5_000_000, DefaultRoundDuration))
}

func TestRoomLeaderTieBreak(t *testing.T) {
	r := Room{Players: map[string]PlayerState{
		"zed":   {Username: "Zed", Score: 15},
		"alice": {Username: "Alice", Score: 15},
		"bob":   {Username: "Bob", Score: 3},
	}}
	id, p, ok := r.Leader()
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
	assert.Equal(t, "Alice", p.Username)

	_, _, ok = (&Room{}).Leader()
	assert.False(t, ok)
}

func TestRoomPhase(t *testing.T) {
	var missing *Room
	assert.Equal(t, PhaseClosed, missing.Phase())
	assert.Equal(t, PhaseLobby, (&Room{}).Phase())
	assert.Equal(t, PhaseRoundActive, (&Room{GameStarted: true}).Phase())
	assert.Equal(t, PhaseRoundAdvancing, (&Room{GameStarted: true, RoundAdvanceToken: "a"}).Phase())
	assert.Equal(t, PhaseCompleted, (&Room{GameCompleted: true}).Phase())
	assert.Equal(t, "round_active", PhaseRoundActive.String())
}

func TestParseAdvancePolicy(t *testing.T) {
	p, err := ParseAdvancePolicy("")
	assert.NoError(t, err)
	assert.Equal(t, AdvanceAllSolved, p)

	p, err = ParseAdvancePolicy("first_correct")
	assert.NoError(t, err)
	assert.Equal(t, AdvanceFirstCorrect, p)

	_, err = ParseAdvancePolicy("fastest")
	assert.Error(t, err)
}

func TestRoomAllReady(t *testing.T) {
	r := Room{Players: map[string]PlayerState{"a": {Ready: true}, "b": {Ready: false}}}
	assert.False(t, r.AllReady())
	r.Players["b"] = PlayerState{Ready: true}
	assert.True(t, r.AllReady())
	assert.False(t, (&Room{}).AllReady())
}

func TestRoomSameRound(t *testing.T) {
	round := func(n int, answer int, start int64) *Room {
		return &Room{
			GameStarted:    true,
			CurrentRound:   n,
			CurrentPuzzle:  &Puzzle{ImageURL: "https://example.com/b.png", Answer: answer},
			RoundStartTime: ptr(start),
		}
	}

	tests := []struct {
		name string
		a, b *Room
		want bool
	}{
		{name: "identical", a: round(0, 7, 100), b: round(0, 7, 100), want: true},
		{name: "next round", a: round(0, 7, 100), b: round(1, 7, 100), want: false},
		{name: "new puzzle", a: round(0, 7, 100), b: round(0, 4, 100), want: false},
		{name: "restarted after rematch", a: round(0, 7, 100), b: round(0, 7, 900), want: false},
		{name: "lobby", a: round(0, 7, 100), b: &Room{}, want: false},
		{name: "missing room", a: round(0, 7, 100), b: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.SameRound(tt.b))
		})
	}
}

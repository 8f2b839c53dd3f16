package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bananaclash/internal/models"
)

func eventTypes(events []models.Event) []models.EventType {
	var types []models.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestDeriveEvents(t *testing.T) {
	lobby := roomWith("a", false, "a", "b")
	started := roomWith("a", true, "a", "b")
	started.CurrentPuzzle = &models.Puzzle{Answer: 4}

	nextRound := roomWith("a", true, "a", "b")
	nextRound.CurrentRound = 1
	nextRound.CurrentPuzzle = &models.Puzzle{Answer: 9}

	completed := roomWith("a", false, "a", "b")
	completed.GameCompleted = true
	completed.CurrentRound = 2
	completed.Winner = "b"
	completed.WinnerName = "b"
	completed.FinalScores = map[string]int{"a": 10, "b": 25}

	handedOver := roomWith("b", true, "b", "c")
	handedOver.HostName = "b"

	tests := []struct {
		name string
		prev *models.Room
		curr *models.Room
		want []models.EventType
	}{
		{
			name: "first snapshot",
			curr: lobby,
			want: []models.EventType{models.EventRoomJoined},
		},
		{
			name: "room gone",
			prev: lobby,
			want: nil,
		},
		{
			name: "player joined",
			prev: roomWith("a", false, "a"),
			curr: lobby,
			want: []models.EventType{models.EventPlayerJoined},
		},
		{
			name: "game started",
			prev: lobby,
			curr: started,
			want: []models.EventType{models.EventRoundStarted},
		},
		{
			name: "round advanced",
			prev: started,
			curr: nextRound,
			want: []models.EventType{models.EventRoundAdvanced},
		},
		{
			name: "game completed",
			prev: nextRound,
			curr: completed,
			want: []models.EventType{models.EventGameCompleted},
		},
		{
			name: "rematch",
			prev: completed,
			curr: lobby,
			want: []models.EventType{models.EventRematchReady},
		},
		{
			name: "host left and someone arrived",
			prev: roomWith("a", true, "a", "b"),
			curr: handedOver,
			want: []models.EventType{models.EventPlayerJoined, models.EventPlayerLeft, models.EventHostChanged},
		},
		{
			name: "no change",
			prev: started,
			curr: started,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, eventTypes(DeriveEvents("b", tt.prev, tt.curr)))
		})
	}
}

func TestDeriveEventsCarriesResult(t *testing.T) {
	prev := roomWith("a", true, "a", "b")
	curr := roomWith("a", false, "a", "b")
	curr.GameCompleted = true
	curr.CurrentRound = 2
	curr.Winner = "a"
	curr.WinnerName = "Alice"
	curr.FinalScores = map[string]int{"a": 30, "b": 12}

	events := DeriveEvents("b", prev, curr)
	if assert.Len(t, events, 1) {
		e := events[0]
		assert.Equal(t, "ABC123", e.RoomCode)
		assert.Equal(t, 2, e.Round)
		assert.Equal(t, "Alice", e.WinnerName)
		assert.Equal(t, map[string]int{"a": 30, "b": 12}, e.Scores)
	}
}

func TestDeriveEventsIgnoresOwnArrival(t *testing.T) {
	prev := roomWith("a", false, "a")
	curr := roomWith("a", false, "a", "b")

	assert.Empty(t, DeriveEvents("b", prev, curr))
	assert.Equal(t, []models.EventType{models.EventPlayerJoined}, eventTypes(DeriveEvents("a", prev, curr)))
}

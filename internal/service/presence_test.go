package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bananaclash/internal/models"
)

func roomWith(host string, started bool, ids ...string) *models.Room {
	r := &models.Room{Code: "ABC123", Host: host, GameStarted: started, Players: map[string]models.PlayerState{}}
	for _, id := range ids {
		r.Players[id] = models.PlayerState{Username: id}
	}
	return r
}

func TestDepartedAndArrived(t *testing.T) {
	prev := roomWith("a", false, "a", "b", "c")
	curr := roomWith("a", false, "a", "d")

	assert.Equal(t, []string{"b", "c"}, Departed(prev, curr))
	assert.Equal(t, []string{"d"}, Arrived(prev, curr))
	assert.Equal(t, []string{"a", "b", "c"}, Departed(prev, nil))
	assert.Nil(t, Departed(nil, curr))
}

func TestEvaluatePresence(t *testing.T) {
	tests := []struct {
		name  string
		local string
		prev  *models.Room
		curr  *models.Room
		want  PresenceOutcome
	}{
		{
			name:  "host deletes the lobby",
			local: "b",
			prev:  roomWith("a", false, "a", "b"),
			curr:  nil,
			want:  PresenceAbandoned,
		},
		{
			name:  "room deleted under the host",
			local: "a",
			prev:  roomWith("a", false, "a", "b"),
			curr:  nil,
			want:  PresenceClosed,
		},
		{
			name:  "started room deleted",
			local: "b",
			prev:  roomWith("a", true, "a", "b"),
			curr:  nil,
			want:  PresenceClosed,
		},
		{
			name:  "room gone before the first snapshot",
			local: "b",
			prev:  nil,
			curr:  nil,
			want:  PresenceClosed,
		},
		{
			name:  "first snapshot",
			local: "b",
			prev:  nil,
			curr:  roomWith("a", false, "a", "b"),
			want:  PresenceNone,
		},
		{
			name:  "opponent leaves a started game",
			local: "a",
			prev:  roomWith("a", true, "a", "b"),
			curr:  roomWith("a", true, "a"),
			want:  PresenceOpponentLeft,
		},
		{
			name:  "one of three leaves a started game",
			local: "a",
			prev:  roomWith("a", true, "a", "b", "c"),
			curr:  roomWith("a", true, "a", "c"),
			want:  PresenceNone,
		},
		{
			name:  "host leaves the lobby",
			local: "b",
			prev:  roomWith("a", false, "a", "b"),
			curr:  roomWith("a", false, "b"),
			want:  PresenceAbandoned,
		},
		{
			name:  "guest leaves the lobby",
			local: "a",
			prev:  roomWith("a", false, "a", "b"),
			curr:  roomWith("a", false, "a"),
			want:  PresenceNone,
		},
		{
			name:  "own departure is ignored",
			local: "b",
			prev:  roomWith("a", true, "a", "b"),
			curr:  roomWith("a", true, "a"),
			want:  PresenceNone,
		},
		{
			name:  "someone joins",
			local: "a",
			prev:  roomWith("a", false, "a"),
			curr:  roomWith("a", false, "a", "b"),
			want:  PresenceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluatePresence(tt.local, tt.prev, tt.curr))
		})
	}
}

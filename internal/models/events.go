package models

// EventType names a domain event emitted by the round coordinator
type EventType string

const (
	EventRoomJoined    EventType = "room_joined"
	EventPlayerJoined  EventType = "player_joined"
	EventPlayerLeft    EventType = "player_left"
	EventHostChanged   EventType = "host_changed"
	EventRoundStarted  EventType = "round_started"
	EventRoundAdvanced EventType = "round_advanced"
	EventGameCompleted EventType = "game_completed"
	EventRematchReady  EventType = "rematch_ready"
	EventOpponentLeft  EventType = "opponent_left"
	EventRoomAbandoned EventType = "room_abandoned"
	EventRoomClosed    EventType = "room_closed"
)

// Terminal reports whether the event ends the local session in the room
func (t EventType) Terminal() bool {
	switch t {
	case EventOpponentLeft, EventRoomAbandoned, EventRoomClosed:
		return true
	}
	return false
}

// Event is a transition derived from consecutive room snapshots
type Event struct {
	Type       EventType      `json:"type"`
	RoomCode   string         `json:"roomCode"`
	PlayerID   string         `json:"playerId,omitempty"`
	PlayerName string         `json:"playerName,omitempty"`
	Round      int            `json:"round"`
	Winner     string         `json:"winner,omitempty"`
	WinnerName string         `json:"winnerName,omitempty"`
	Scores     map[string]int `json:"scores,omitempty"`
}

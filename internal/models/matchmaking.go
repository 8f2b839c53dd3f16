package models

// MatchmakingEntry advertises a waiting player's room at matchmaking/<identity>
type MatchmakingEntry struct {
	Identity  string `json:"identity"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
	RoomCode  string `json:"roomCode"`
}

// MatchPlayer is one participant's result in a finished game
type MatchPlayer struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// MatchRecord is appended to matches/ when a game completes
type MatchRecord struct {
	RoomCode   string                 `json:"roomCode"`
	Players    map[string]MatchPlayer `json:"players"`
	Winner     string                 `json:"winner"`
	WinnerName string                 `json:"winnerName"`
	Rounds     int                    `json:"rounds"`
	Timestamp  int64                  `json:"timestamp"`
}

// Identity is who the local client plays as
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

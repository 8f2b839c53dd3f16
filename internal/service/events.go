package service

import "bananaclash/internal/models"

// DeriveEvents lists the transitions between two consecutive snapshots of
// a room as seen by local. Snapshots may coalesce, so only the net change
// is reported.
func DeriveEvents(local string, prev, curr *models.Room) []models.Event {
	if curr == nil {
		return nil
	}
	code := curr.Code
	var events []models.Event
	add := func(e models.Event) {
		e.RoomCode = code
		e.Round = curr.CurrentRound
		events = append(events, e)
	}

	if prev == nil {
		add(models.Event{Type: models.EventRoomJoined, PlayerID: local, PlayerName: curr.Players[local].Username})
		return events
	}

	for _, id := range Arrived(prev, curr) {
		if id != local {
			add(models.Event{Type: models.EventPlayerJoined, PlayerID: id, PlayerName: curr.Players[id].Username})
		}
	}
	for _, id := range Departed(prev, curr) {
		if id != local {
			add(models.Event{Type: models.EventPlayerLeft, PlayerID: id, PlayerName: prev.Players[id].Username})
		}
	}
	if prev.Host != curr.Host {
		add(models.Event{Type: models.EventHostChanged, PlayerID: curr.Host, PlayerName: curr.HostName})
	}

	switch {
	case !prev.GameStarted && curr.GameStarted:
		add(models.Event{Type: models.EventRoundStarted})
	case prev.GameStarted && curr.GameStarted && curr.CurrentRound > prev.CurrentRound:
		add(models.Event{Type: models.EventRoundAdvanced})
	}

	switch {
	case !prev.GameCompleted && curr.GameCompleted:
		add(models.Event{
			Type:       models.EventGameCompleted,
			Winner:     curr.Winner,
			WinnerName: curr.WinnerName,
			Scores:     curr.FinalScores,
		})
	case prev.GameCompleted && !curr.GameCompleted && !curr.GameStarted:
		add(models.Event{Type: models.EventRematchReady})
	}
	return events
}

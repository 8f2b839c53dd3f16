package service

import (
	"sort"

	"bananaclash/internal/models"
)

// PresenceOutcome is what a membership change means for the local player
type PresenceOutcome int

const (
	// PresenceNone needs no action beyond updating the view
	PresenceNone PresenceOutcome = iota
	// PresenceOpponentLeft ends a started game that has one player left
	PresenceOpponentLeft
	// PresenceAbandoned means the host left an unstarted room
	PresenceAbandoned
	// PresenceClosed means the room document is gone
	PresenceClosed
)

func (o PresenceOutcome) String() string {
	switch o {
	case PresenceOpponentLeft:
		return "opponent_left"
	case PresenceAbandoned:
		return "abandoned"
	case PresenceClosed:
		return "closed"
	default:
		return "none"
	}
}

// Departed lists identities present in prev but missing from curr, sorted
func Departed(prev, curr *models.Room) []string {
	if prev == nil {
		return nil
	}
	var gone []string
	for id := range prev.Players {
		if curr == nil || !curr.IsMember(id) {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	return gone
}

// Arrived lists identities present in curr but not in prev, sorted
func Arrived(prev, curr *models.Room) []string {
	if curr == nil {
		return nil
	}
	var added []string
	for id := range curr.Players {
		if prev == nil || !prev.IsMember(id) {
			added = append(added, id)
		}
	}
	sort.Strings(added)
	return added
}

// EvaluatePresence decides how the local player reacts to the change from
// prev to curr. Departures that include the local player are its own leave
// and are ignored. A lobby that disappears under a guest was deleted by its
// departing host.
func EvaluatePresence(local string, prev, curr *models.Room) PresenceOutcome {
	if curr == nil {
		if prev != nil && !prev.GameStarted && !prev.GameCompleted && prev.Host != local {
			return PresenceAbandoned
		}
		return PresenceClosed
	}
	if prev == nil {
		return PresenceNone
	}
	gone := Departed(prev, curr)
	if len(gone) == 0 || contains(gone, local) {
		return PresenceNone
	}
	if curr.GameStarted && len(curr.Players) <= 1 {
		return PresenceOpponentLeft
	}
	if !curr.GameStarted && !curr.GameCompleted && contains(gone, prev.Host) && local != prev.Host {
		return PresenceAbandoned
	}
	return PresenceNone
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

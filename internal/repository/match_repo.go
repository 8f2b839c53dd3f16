package repository

import (
	"context"
	"fmt"
	"sort"

	"bananaclash/internal/models"
	"bananaclash/internal/store"
)

const matchesRoot = "matches"

// MatchRepository stores finished game results at matches/
type MatchRepository struct {
	store store.Store
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(s store.Store) *MatchRepository {
	return &MatchRepository{store: s}
}

// RecordMatch appends a finished game
func (r *MatchRepository) RecordMatch(ctx context.Context, rec models.MatchRecord) (string, error) {
	doc := map[string]any{
		"roomCode":   rec.RoomCode,
		"players":    rec.Players,
		"winner":     rec.Winner,
		"winnerName": rec.WinnerName,
		"rounds":     rec.Rounds,
		"timestamp":  store.ServerTimestamp,
	}
	key, err := r.store.Push(ctx, matchesRoot, doc)
	if err != nil {
		return "", transient("record match", err)
	}
	return key, nil
}

// RecentMatches returns up to limit matches, newest first
func (r *MatchRepository) RecentMatches(ctx context.Context, limit int) ([]models.MatchRecord, error) {
	v, err := r.store.Get(ctx, matchesRoot)
	if err != nil {
		return nil, transient("list matches", err)
	}
	if v == nil {
		return nil, nil
	}
	var byKey map[string]models.MatchRecord
	if err := store.Decode(v, &byKey); err != nil {
		return nil, fmt.Errorf("failed to decode matches: %w", err)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]models.MatchRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out, nil
}

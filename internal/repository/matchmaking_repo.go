package repository

import (
	"context"
	"fmt"
	"sort"

	"bananaclash/internal/models"
	"bananaclash/internal/store"
)

const matchmakingRoot = "matchmaking"

// MatchmakingRepository handles the waiting-player queue at matchmaking/
type MatchmakingRepository struct {
	store store.Store
}

// NewMatchmakingRepository creates a new matchmaking repository
func NewMatchmakingRepository(s store.Store) *MatchmakingRepository {
	return &MatchmakingRepository{store: s}
}

func entryPath(identity string) string {
	return store.Join(matchmakingRoot, identity)
}

// ListEntries returns waiting entries in store key order
func (r *MatchmakingRepository) ListEntries(ctx context.Context) ([]models.MatchmakingEntry, error) {
	v, err := r.store.Get(ctx, matchmakingRoot)
	if err != nil {
		return nil, transient("list matchmaking", err)
	}
	if v == nil {
		return nil, nil
	}

	var byKey map[string]models.MatchmakingEntry
	if err := store.Decode(v, &byKey); err != nil {
		return nil, fmt.Errorf("failed to decode matchmaking entries: %w", err)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]models.MatchmakingEntry, 0, len(keys))
	for _, k := range keys {
		e := byKey[k]
		e.Identity = k
		entries = append(entries, e)
	}
	return entries, nil
}

// PutEntry advertises a waiting player and removes the entry if the
// player disconnects
func (r *MatchmakingRepository) PutEntry(ctx context.Context, identity models.Identity, roomCode string) error {
	entry := map[string]any{
		"identity":  identity.ID,
		"username":  identity.Name,
		"roomCode":  roomCode,
		"timestamp": store.ServerTimestamp,
	}
	if err := r.store.Set(ctx, entryPath(identity.ID), entry); err != nil {
		return transient("write matchmaking entry", err)
	}
	if err := r.store.OnDisconnectRemove(ctx, entryPath(identity.ID)); err != nil {
		return transient("register matchmaking cleanup", err)
	}
	return nil
}

// ClaimEntry deletes another player's entry if it is still present. Only
// one claimant can succeed.
func (r *MatchmakingRepository) ClaimEntry(ctx context.Context, identity string) (bool, error) {
	res, err := r.store.Transact(ctx, entryPath(identity), func(cur any) (any, error) {
		if cur == nil {
			return nil, store.ErrAbort
		}
		return nil, nil
	})
	if err != nil {
		return false, transient("claim matchmaking entry", err)
	}
	return res.Committed, nil
}

// RemoveEntry deletes the caller's own entry
func (r *MatchmakingRepository) RemoveEntry(ctx context.Context, identity string) error {
	if err := r.store.Set(ctx, entryPath(identity), nil); err != nil {
		return transient("remove matchmaking entry", err)
	}
	if err := r.store.CancelOnDisconnect(ctx, entryPath(identity)); err != nil {
		return transient("cancel matchmaking cleanup", err)
	}
	return nil
}

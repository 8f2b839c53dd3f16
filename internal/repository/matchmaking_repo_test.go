package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bananaclash/internal/models"
	"bananaclash/internal/store"
)

func TestMatchmakingEntries(t *testing.T) {
	backend := store.NewMemoryBackend()
	conn := backend.Connect()
	defer conn.Close()
	repo := NewMatchmakingRepository(conn)
	ctx := context.Background()

	entries, err := repo.ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, repo.PutEntry(ctx, bob, "BBBBBB"))
	require.NoError(t, repo.PutEntry(ctx, alice, "AAAAAA"))

	entries, err = repo.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice", entries[0].Identity)
	assert.Equal(t, "AAAAAA", entries[0].RoomCode)
	assert.Equal(t, "Bob", entries[1].Username)
	assert.NotZero(t, entries[1].Timestamp)

	require.NoError(t, repo.RemoveEntry(ctx, alice.ID))
	entries, err = repo.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMatchmakingClaimHasOneWinner(t *testing.T) {
	backend := store.NewMemoryBackend()
	owner := backend.Connect()
	defer owner.Close()
	ctx := context.Background()
	require.NoError(t, NewMatchmakingRepository(owner).PutEntry(ctx, alice, "AAAAAA"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	claims := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := backend.Connect()
			defer conn.Close()
			ok, err := NewMatchmakingRepository(conn).ClaimEntry(ctx, alice.ID)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims)
}

func TestMatchmakingEntryRemovedOnDisconnect(t *testing.T) {
	backend := store.NewMemoryBackend()
	waiting := backend.Connect()
	observer := backend.Connect()
	defer observer.Close()
	ctx := context.Background()

	require.NoError(t, NewMatchmakingRepository(waiting).PutEntry(ctx, alice, "AAAAAA"))
	require.NoError(t, waiting.Close())

	entries, err := NewMatchmakingRepository(observer).ListEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestChatAndMatchRepositories(t *testing.T) {
	backend := store.NewMemoryBackend()
	conn := backend.Connect()
	defer conn.Close()
	ctx := context.Background()

	chat := NewChatRepository(conn)
	for _, text := range []string{"one", "two", "three"} {
		_, err := chat.AppendMessage(ctx, "ABC123", models.ChatMessage{SenderID: "alice", SenderName: "Alice", Text: text})
		require.NoError(t, err)
	}
	_, err := chat.AppendMessage(ctx, "ABC123", models.ChatMessage{
		SenderID: "bob", SenderName: "Bob",
		Media: &models.Media{Kind: models.MediaGIF, URL: "https://example.com/a.gif"},
	})
	require.NoError(t, err)

	msgs, err := chat.RecentMessages(ctx, "ABC123", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, models.MediaGIF, msgs[1].Media.Kind)
	assert.NotEmpty(t, msgs[1].ID)
	assert.NotZero(t, msgs[1].Timestamp)

	matches := NewMatchRepository(conn)
	for _, code := range []string{"AAAAAA", "BBBBBB"} {
		_, err := matches.RecordMatch(ctx, models.MatchRecord{
			RoomCode: code,
			Players:  map[string]models.MatchPlayer{"alice": {Username: "Alice", Score: 15}},
			Winner:   "alice", WinnerName: "Alice", Rounds: 3,
		})
		require.NoError(t, err)
	}
	recent, err := matches.RecentMatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "BBBBBB", recent[0].RoomCode)
	assert.Equal(t, 15, recent[0].Players["alice"].Score)
}

package repository

import (
	"context"
	"fmt"
	"sort"

	"bananaclash/internal/models"
	"bananaclash/internal/store"
)

// ChatRepository appends to and decodes rooms/<code>/chat
type ChatRepository struct {
	store store.Store
}

// NewChatRepository creates a new chat repository
func NewChatRepository(s store.Store) *ChatRepository {
	return &ChatRepository{store: s}
}

// ChatPath returns the store path of a room's chat log
func ChatPath(code string) string {
	return store.Join(RoomPath(code), "chat")
}

// AppendMessage pushes a message stamped with the store clock
func (r *ChatRepository) AppendMessage(ctx context.Context, code string, msg models.ChatMessage) (string, error) {
	doc := map[string]any{
		"senderId":   msg.SenderID,
		"senderName": msg.SenderName,
		"timestamp":  store.ServerTimestamp,
	}
	if msg.Text != "" {
		doc["text"] = msg.Text
	}
	if msg.Media != nil {
		doc["media"] = msg.Media
	}
	key, err := r.store.Push(ctx, ChatPath(code), doc)
	if err != nil {
		return "", transient("send chat message", err)
	}
	return key, nil
}

// DecodeMessages converts a chat snapshot into messages in key order
func DecodeMessages(value any) ([]models.ChatMessage, error) {
	if value == nil {
		return nil, nil
	}
	var byKey map[string]models.ChatMessage
	if err := store.Decode(value, &byKey); err != nil {
		return nil, fmt.Errorf("failed to decode chat: %w", err)
	}
	msgs := make([]models.ChatMessage, 0, len(byKey))
	for k, m := range byKey {
		m.ID = k
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// RecentMessages reads the last limit messages of a room
func (r *ChatRepository) RecentMessages(ctx context.Context, code string, limit int) ([]models.ChatMessage, error) {
	v, err := r.store.Get(ctx, ChatPath(code))
	if err != nil {
		return nil, transient("read chat", err)
	}
	msgs, err := DecodeMessages(v)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

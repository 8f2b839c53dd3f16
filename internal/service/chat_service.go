package service

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bananaclash/internal/models"
	"bananaclash/internal/repository"
	"bananaclash/internal/store"
)

const (
	chatBurst    = 5
	chatInterval = time.Second
)

// ChatService sends and follows room chat
type ChatService struct {
	repo   *repository.ChatRepository
	store  store.Store
	policy *bluemonday.Policy
	log    zerolog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewChatService creates a chat service over s
func NewChatService(s store.Store, log zerolog.Logger) *ChatService {
	return &ChatService{
		repo:     repository.NewChatRepository(s),
		store:    s,
		policy:   bluemonday.StrictPolicy(),
		log:      log.With().Str("component", "chat").Logger(),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SanitizeText reduces user input to plain text: markup is stripped,
// whitespace collapsed and the result capped at MaxChatRunes
func (s *ChatService) SanitizeText(text string) string {
	plain := html.UnescapeString(s.policy.Sanitize(text))
	plain = strings.Join(strings.Fields(plain), " ")
	if runes := []rune(plain); len(runes) > models.MaxChatRunes {
		plain = string(runes[:models.MaxChatRunes])
	}
	return plain
}

// ValidateMedia accepts https image or gif attachments only
func ValidateMedia(m *models.Media) error {
	if m == nil {
		return nil
	}
	if m.Kind != models.MediaImage && m.Kind != models.MediaGIF {
		return fmt.Errorf("%w: unsupported media kind %q", models.ErrInvalidInput, m.Kind)
	}
	u, err := url.Parse(m.URL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: media must be an https URL", models.ErrInvalidInput)
	}
	return nil
}

func (s *ChatService) allow(sender string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[sender]
	if !ok {
		l = rate.NewLimiter(rate.Every(chatInterval), chatBurst)
		s.limiters[sender] = l
	}
	return l.Allow()
}

// SendMessage posts a message to a room's chat
func (s *ChatService) SendMessage(ctx context.Context, code string, sender models.Identity, text string, media *models.Media) (models.ChatMessage, error) {
	text = s.SanitizeText(text)
	if err := ValidateMedia(media); err != nil {
		return models.ChatMessage{}, err
	}
	if text == "" && media == nil {
		return models.ChatMessage{}, fmt.Errorf("%w: empty message", models.ErrInvalidInput)
	}
	if !s.allow(sender.ID) {
		return models.ChatMessage{}, models.ErrRateLimited
	}

	msg := models.ChatMessage{
		SenderID:   sender.ID,
		SenderName: sender.Name,
		Text:       text,
		Media:      media,
	}
	id, err := s.repo.AppendMessage(ctx, code, msg)
	if err != nil {
		return models.ChatMessage{}, err
	}
	msg.ID = id
	return msg, nil
}

// History returns up to limit of a room's latest messages, oldest first.
// limit is capped at ChatBackfill.
func (s *ChatService) History(ctx context.Context, code string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > models.ChatBackfill {
		limit = models.ChatBackfill
	}
	return s.repo.RecentMessages(ctx, code, limit)
}

// Subscribe delivers the most recent ChatBackfill messages, then every new
// message exactly once in key order
func (s *ChatService) Subscribe(ctx context.Context, code string, onMessage func(models.ChatMessage)) (store.Unsubscribe, error) {
	seen := make(map[string]struct{})
	first := true

	unsub, err := s.store.Subscribe(ctx, repository.ChatPath(code), func(snap store.Snapshot) {
		msgs, err := repository.DecodeMessages(snap.Value)
		if err != nil {
			s.log.Error().Err(err).Str("room", code).Msg("Failed to decode chat")
			return
		}

		fresh := msgs[:0:0]
		for _, m := range msgs {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			fresh = append(fresh, m)
		}
		if first {
			first = false
			if len(fresh) > models.ChatBackfill {
				fresh = fresh[len(fresh)-models.ChatBackfill:]
			}
		}
		for _, m := range fresh {
			onMessage(m)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe to chat: %w", models.ErrTransient, err)
	}
	return unsub, nil
}

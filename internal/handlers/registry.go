package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bananaclash/internal/models"
	"bananaclash/internal/service"
)

const listenerBuffer = 32

// NewClientFunc opens a game client, with its own store connection, for id
type NewClientFunc func(ctx context.Context, id models.Identity) (*service.Client, error)

// wsMessage is one frame pushed to a browser
type wsMessage struct {
	Type      string              `json:"type"`
	Room      *models.Room        `json:"room,omitempty"`
	Phase     string              `json:"phase,omitempty"`
	Event     *models.Event       `json:"event,omitempty"`
	Message   *models.ChatMessage `json:"message,omitempty"`
	ServerNow int64               `json:"serverNow,omitempty"`
}

// PlayerSession is the gateway's handle on one identity's game client
type PlayerSession struct {
	Client *service.Client
	log    zerolog.Logger

	mu         sync.Mutex
	lastActive time.Time
	listeners  map[chan wsMessage]struct{}
}

func newPlayerSession(c *service.Client, log zerolog.Logger) *PlayerSession {
	s := &PlayerSession{
		Client:     c,
		log:        log,
		lastActive: time.Now(),
		listeners:  make(map[chan wsMessage]struct{}),
	}
	c.OnRoomChange(func(room *models.Room) {
		s.broadcast(wsMessage{Type: "room", Room: room, Phase: room.Phase().String(), ServerNow: c.ServerNow()})
	})
	c.OnEvent(func(e models.Event) {
		s.broadcast(wsMessage{Type: "event", Event: &e})
	})
	c.OnChat(func(m models.ChatMessage) {
		s.broadcast(wsMessage{Type: "chat", Message: &m})
	})
	return s
}

func (s *PlayerSession) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// listen registers a frame channel; call the returned func to stop
func (s *PlayerSession) listen() (<-chan wsMessage, func()) {
	ch := make(chan wsMessage, listenerBuffer)
	s.mu.Lock()
	s.listeners[ch] = struct{}{}
	s.lastActive = time.Now()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, ch)
			s.lastActive = time.Now()
			s.mu.Unlock()
		})
	}
}

// broadcast never blocks: a listener that cannot keep up misses frames and
// can re-read the room over HTTP
func (s *PlayerSession) broadcast(msg wsMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.listeners {
		select {
		case ch <- msg:
		default:
			s.log.Warn().Str("type", msg.Type).Msg("Dropped websocket frame for slow listener")
		}
	}
}

func (s *PlayerSession) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) == 0 && s.lastActive.Before(cutoff)
}

// Registry keeps one PlayerSession per identity and closes idle ones
type Registry struct {
	newClient NewClientFunc
	idle      time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*PlayerSession
	done     chan struct{}
	once     sync.Once
}

// NewRegistry creates a registry; sessions with no websocket and no
// requests for idle are closed, which also leaves their room
func NewRegistry(newClient NewClientFunc, idle time.Duration, log zerolog.Logger) *Registry {
	r := &Registry{
		newClient: newClient,
		idle:      idle,
		log:       log.With().Str("component", "registry").Logger(),
		sessions:  make(map[string]*PlayerSession),
		done:      make(chan struct{}),
	}
	if idle > 0 {
		go r.reaperLoop()
	}
	return r
}

// Get returns id's session, opening a client on first use
func (r *Registry) Get(ctx context.Context, id models.Identity) (*PlayerSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id.ID]; ok {
		s.touch()
		return s, nil
	}
	c, err := r.newClient(ctx, id)
	if err != nil {
		return nil, err
	}
	s := newPlayerSession(c, r.log.With().Str("player", id.ID).Logger())
	r.sessions[id.ID] = s
	r.log.Debug().Str("player", id.ID).Msg("Opened player session")
	return s, nil
}

// Lookup returns an existing session without creating one
func (r *Registry) Lookup(id string) (*PlayerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of open sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove closes id's session
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		r.closeSession(id, s)
	}
}

func (r *Registry) closeSession(id string, s *PlayerSession) {
	if err := s.Client.Close(); err != nil {
		r.log.Warn().Err(err).Str("player", id).Msg("Failed to close player session")
	}
}

// reaperLoop periodically closes sessions idle longer than r.idle
func (r *Registry) reaperLoop() {
	ticker := time.NewTicker(r.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
		}
		r.reap(time.Now().Add(-r.idle))
	}
}

func (r *Registry) reap(cutoff time.Time) int {
	r.mu.Lock()
	stale := make(map[string]*PlayerSession)
	for id, s := range r.sessions {
		if s.idleSince(cutoff) {
			stale[id] = s
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for id, s := range stale {
		r.log.Info().Str("player", id).Msg("Closing idle player session")
		go r.closeSession(id, s)
	}
	return len(stale)
}

// Close stops the reaper and closes every session
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*PlayerSession)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for id, s := range sessions {
		wg.Add(1)
		go func(id string, s *PlayerSession) {
			defer wg.Done()
			r.closeSession(id, s)
		}(id, s)
	}
	wg.Wait()
}

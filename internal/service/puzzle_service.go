package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bananaclash/internal/models"
)

// DefaultPuzzleAPIURL serves a random banana image and its count
const DefaultPuzzleAPIURL = "https://marcconrad.com/uob/banana/api.php"

const (
	fallbackMaxBananas = 20
	fallbackImageURL   = "https://source.unsplash.com/random/400x300?banana&"
)

// PuzzleSource supplies the puzzle for a new round. It never fails; when
// the remote source is unavailable a local puzzle is returned.
type PuzzleSource interface {
	NextPuzzle(ctx context.Context) models.Puzzle
}

// PuzzleService fetches puzzles from the banana API
type PuzzleService struct {
	client *http.Client
	url    string
	log    zerolog.Logger
}

// NewPuzzleService creates a puzzle source. An empty url disables the
// remote API and every puzzle is generated locally.
func NewPuzzleService(url string, timeout time.Duration, log zerolog.Logger) *PuzzleService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PuzzleService{
		client: &http.Client{Timeout: timeout},
		url:    url,
		log:    log.With().Str("component", "puzzles").Logger(),
	}
}

type bananaResponse struct {
	Question string `json:"question"`
	Solution *int   `json:"solution"`
}

// NextPuzzle returns a remote puzzle, or a local one on any failure
func (s *PuzzleService) NextPuzzle(ctx context.Context) models.Puzzle {
	if s.url == "" {
		return RandomPuzzle()
	}
	p, err := s.fetch(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("Puzzle API unavailable, using a local puzzle")
		return RandomPuzzle()
	}
	return p
}

func (s *PuzzleService) fetch(ctx context.Context) (models.Puzzle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return models.Puzzle{}, fmt.Errorf("failed to build puzzle request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return models.Puzzle{}, fmt.Errorf("failed to fetch puzzle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Puzzle{}, fmt.Errorf("puzzle API responded with status: %d", resp.StatusCode)
	}

	var body bananaResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Puzzle{}, fmt.Errorf("failed to decode puzzle: %w", err)
	}
	if body.Question == "" || body.Solution == nil {
		return models.Puzzle{}, fmt.Errorf("puzzle API returned an incomplete puzzle")
	}
	return models.Puzzle{ImageURL: body.Question, Answer: *body.Solution}, nil
}

// RandomPuzzle generates a local puzzle with 1 to 20 bananas
func RandomPuzzle() models.Puzzle {
	return models.Puzzle{
		ImageURL: fallbackImageURL + strconv.FormatInt(time.Now().UnixMilli(), 10),
		Answer:   rand.IntN(fallbackMaxBananas) + 1,
	}
}

// StaticPuzzles replays a fixed list of puzzles, cycling when exhausted
type StaticPuzzles struct {
	mu      sync.Mutex
	puzzles []models.Puzzle
	next    int
}

// NewStaticPuzzles creates a deterministic puzzle source
func NewStaticPuzzles(puzzles ...models.Puzzle) *StaticPuzzles {
	return &StaticPuzzles{puzzles: puzzles}
}

func (s *StaticPuzzles) NextPuzzle(ctx context.Context) models.Puzzle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.puzzles) == 0 {
		return RandomPuzzle()
	}
	p := s.puzzles[s.next%len(s.puzzles)]
	s.next++
	return p
}

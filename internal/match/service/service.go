// Package service runs match rooms: seating, the start handshake, submissions,
// completion, winner selection and rating hand-off.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"codearena/internal/judge/evaluator"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/match/model"
	"codearena/internal/match/repository"
	"codearena/internal/notify"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/rating"
	"codearena/pkg/utils/logger"
)

const (
	defaultRoomTTL       = time.Hour
	defaultCodeAttempts  = 20
	defaultSubmitLockTTL = 2 * time.Minute
	defaultMaxCodeBytes  = 64 * 1024
	defaultBotMinDelay   = 30 * time.Second
	defaultBotMaxDelay   = 3 * time.Minute
)

// Evaluator grades source against an ordered test list.
type Evaluator interface {
	Run(ctx context.Context, source string, lang profile.Language, tests []evaluator.TestCase) (evaluator.SuiteResult, error)
}

// RatingUpdater applies Elo changes for a decided match.
type RatingUpdater interface {
	ApplyResult(ctx context.Context, matchID, winnerID, loserID string, isDraw bool) (map[string]rating.Change, error)
	ApplyTeamResult(ctx context.Context, matchID string, winners, losers []string, isDraw bool) (map[string]rating.Change, error)
}

// RatingRetrier queues a failed rating update for another attempt.
type RatingRetrier interface {
	Enqueue(ctx context.Context, task rating.RetryTask) error
}

// CodeStore reserves room codes and serializes submissions.
type CodeStore interface {
	Reserve(ctx context.Context, code, roomID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, code, roomID string) error
	LockSubmission(ctx context.Context, roomID, userID string, ttl time.Duration) (func(), error)
}

// SourceArchiver stores final submissions.
type SourceArchiver interface {
	Put(ctx context.Context, roomID, userID, language, source string) (string, error)
}

// BotProfile registers a synthetic opponent.
type BotProfile struct {
	ID     string `yaml:"id"`
	Rating int    `yaml:"rating"`
}

// Settings are the tunables read from the match config block.
type Settings struct {
	RoomTTL       time.Duration `yaml:"roomTTL"`
	CodeAttempts  int           `yaml:"codeAttempts"`
	SubmitLockTTL time.Duration `yaml:"submitLockTTL"`
	MaxCodeBytes  int           `yaml:"maxCodeBytes"`
	BotMinDelay   time.Duration `yaml:"botMinDelay"`
	BotMaxDelay   time.Duration `yaml:"botMaxDelay"`
	Bots          []BotProfile  `yaml:"bots"`
}

func (s Settings) withDefaults() Settings {
	if s.RoomTTL <= 0 {
		s.RoomTTL = defaultRoomTTL
	}
	if s.CodeAttempts <= 0 {
		s.CodeAttempts = defaultCodeAttempts
	}
	if s.SubmitLockTTL <= 0 {
		s.SubmitLockTTL = defaultSubmitLockTTL
	}
	if s.MaxCodeBytes <= 0 {
		s.MaxCodeBytes = defaultMaxCodeBytes
	}
	if s.BotMinDelay <= 0 {
		s.BotMinDelay = defaultBotMinDelay
	}
	if s.BotMaxDelay <= 0 {
		s.BotMaxDelay = defaultBotMaxDelay
	}
	if s.BotMaxDelay < s.BotMinDelay {
		s.BotMaxDelay = s.BotMinDelay
	}
	return s
}

// Config holds match service dependencies and settings.
type Config struct {
	Rooms     repository.RoomRepository
	Codes     CodeStore
	Problems  problemRepo.ProblemProvider
	Evaluator Evaluator
	Ratings   RatingUpdater

	// Optional collaborators.
	Retry    RatingRetrier
	Notifier notify.Notifier
	Archive  SourceArchiver

	Settings Settings
}

// MatchService coordinates rooms.
type MatchService struct {
	rooms     repository.RoomRepository
	codes     CodeStore
	problems  problemRepo.ProblemProvider
	evaluator Evaluator
	ratings   RatingUpdater
	retry     RatingRetrier
	notifier  notify.Notifier
	archive   SourceArchiver

	settings Settings
	bots     map[string]int
	timers   *botTimers
	now      func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMatchService creates a match service.
func NewMatchService(cfg Config) (*MatchService, error) {
	if cfg.Rooms == nil {
		return nil, fmt.Errorf("room repository is required")
	}
	if cfg.Codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if cfg.Problems == nil {
		return nil, fmt.Errorf("problem provider is required")
	}
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Ratings == nil {
		return nil, fmt.Errorf("rating updater is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	settings := cfg.Settings.withDefaults()
	bots := make(map[string]int, len(settings.Bots))
	for _, b := range settings.Bots {
		if b.ID == "" {
			continue
		}
		if b.Rating <= 0 {
			b.Rating = rating.DefaultRating
		}
		bots[b.ID] = b.Rating
	}
	now := time.Now()
	return &MatchService{
		rooms:     cfg.Rooms,
		codes:     cfg.Codes,
		problems:  cfg.Problems,
		evaluator: cfg.Evaluator,
		ratings:   cfg.Ratings,
		retry:     cfg.Retry,
		notifier:  cfg.Notifier,
		archive:   cfg.Archive,
		settings:  settings,
		bots:      bots,
		timers:    newBotTimers(),
		now:       func() time.Time { return time.Now().UTC() },
		rng:       rand.New(rand.NewPCG(uint64(now.UnixNano()), uint64(now.Unix()))),
	}, nil
}

// IsBot reports whether userID is a registered synthetic opponent.
func (s *MatchService) IsBot(userID string) bool {
	_, ok := s.bots[userID]
	return ok
}

// Close cancels every pending bot timer.
func (s *MatchService) Close() {
	s.timers.cancelAll()
}

func (s *MatchService) intN(n int) int {
	if n <= 0 {
		return 0
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

func (s *MatchService) float() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *MatchService) emit(ctx context.Context, t notify.EventType, roomID, userID string, payload interface{}) {
	if err := s.notifier.Notify(ctx, notify.NewEvent(t, roomID, userID, payload)); err != nil {
		logger.Warn(ctx, "notify failed", zap.String("event", string(t)), zap.String("room_id", roomID), zap.Error(err))
	}
}

func findParticipant(ps []model.Participant, userID string) (model.Participant, bool) {
	for _, p := range ps {
		if p.UserID == userID {
			return p, true
		}
	}
	return model.Participant{}, false
}

func allFinished(ps []model.Participant) bool {
	if len(ps) == 0 {
		return false
	}
	for _, p := range ps {
		if !p.Status.Finished() {
			return false
		}
	}
	return true
}

package service

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"codearena/internal/judge/evaluator"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/match/model"
	"codearena/internal/rating"
	"codearena/pkg/utils/logger"
)

// botTimers holds pending bot plays per room so a room that ends early leaves nothing behind.
type botTimers struct {
	mu     sync.Mutex
	byRoom map[string]map[string]*botTimer
}

type botTimer struct {
	timer *time.Timer
}

func newBotTimers() *botTimers {
	return &botTimers{byRoom: make(map[string]map[string]*botTimer)}
}

func (b *botTimers) schedule(roomID, botID string, delay time.Duration, fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.byRoom[roomID]
	if room == nil {
		room = make(map[string]*botTimer)
		b.byRoom[roomID] = room
	}
	if old, ok := room[botID]; ok {
		old.timer.Stop()
	}
	entry := &botTimer{}
	entry.timer = time.AfterFunc(delay, func() {
		if !b.take(roomID, botID, entry) {
			return
		}
		fn()
	})
	room[botID] = entry
}

// take removes a fired timer; false means it was cancelled or replaced meanwhile.
func (b *botTimers) take(roomID, botID string, entry *botTimer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.byRoom[roomID]
	if room == nil || room[botID] != entry {
		return false
	}
	delete(room, botID)
	if len(room) == 0 {
		delete(b.byRoom, roomID)
	}
	return true
}

func (b *botTimers) cancel(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.byRoom[roomID]
	for _, t := range room {
		t.timer.Stop()
	}
	delete(b.byRoom, roomID)
	return len(room)
}

func (b *botTimers) cancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, room := range b.byRoom {
		for _, t := range room {
			t.timer.Stop()
		}
		delete(b.byRoom, roomID)
	}
}

func (b *botTimers) pending(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byRoom[roomID])
}

func (s *MatchService) scheduleBot(room model.Room, botID string) {
	spread := s.settings.BotMaxDelay - s.settings.BotMinDelay
	delay := s.settings.BotMinDelay
	if spread > 0 {
		delay += time.Duration(s.intN(int(spread/time.Millisecond))) * time.Millisecond
	}
	s.timers.schedule(room.ID, botID, delay, func() {
		s.playBot(context.Background(), room.ID, botID)
	})
	logger.Debug(context.Background(), "bot scheduled",
		zap.String("room_id", room.ID),
		zap.String("bot_id", botID),
		zap.Duration("delay", delay),
	)
}

// playBot submits a fabricated result for botID. Nothing is executed.
func (s *MatchService) playBot(ctx context.Context, roomID, botID string) {
	room, err := s.rooms.GetRoom(ctx, nil, roomID)
	if err != nil || room.Status != model.RoomInProgress {
		return
	}
	ps, err := s.rooms.ListParticipants(ctx, nil, roomID)
	if err != nil {
		logger.Warn(ctx, "bot load participants failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	p, ok := findParticipant(ps, botID)
	if !ok || p.Status.Finished() {
		return
	}
	tests, err := s.suiteFor(ctx, room)
	if err != nil {
		logger.Warn(ctx, "bot load tests failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	botRating, ok := s.bots[botID]
	if !ok {
		botRating = rating.DefaultRating
	}
	p.Synthetic = true
	p.Language = room.Language
	suite := s.syntheticSuite(botRating, len(tests))
	completed, err := s.recordSubmission(ctx, p, suite)
	if err != nil {
		logger.Warn(ctx, "bot submission failed", zap.String("room_id", roomID), zap.String("bot_id", botID), zap.Error(err))
		return
	}
	if completed {
		s.finalize(ctx, roomID)
	}
}

// botPassRate maps a rating onto a per-test pass probability in [0.1, 0.95].
func botPassRate(botRating int) float64 {
	p := 0.5 + float64(botRating-rating.DefaultRating)/1600
	return math.Max(0.1, math.Min(0.95, p))
}

// syntheticSuite plays tests in order with botPassRate odds, stopping at the first miss
// like a real evaluation.
func (s *MatchService) syntheticSuite(botRating, total int) evaluator.SuiteResult {
	rate := botPassRate(botRating)
	suite := evaluator.SuiteResult{
		Verdict:    result.VerdictAccepted,
		TestsTotal: total,
		Backend:    result.BackendSynthetic,
	}
	for i := 0; i < total; i++ {
		if s.float() >= rate {
			suite.Verdict = result.VerdictWrongAnswer
			break
		}
		suite.TestsPassed++
		suite.TotalTimeMs += int64(20 + s.intN(180))
	}
	return suite
}

package service

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/judge/evaluator"
	"codearena/internal/judge/sandbox/profile"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/match/model"
	"codearena/internal/match/repository"
	"codearena/internal/notify"
	problemRepo "codearena/internal/problem/repository"
	"codearena/internal/rating"
	appErr "codearena/pkg/errors"
)

// memRooms is an in-memory RoomRepository. Transactions are serialized and roll back on error.
type memRooms struct {
	txMu sync.Mutex
	mu   sync.Mutex

	rooms        map[string]model.Room
	participants map[string][]model.Participant
	scores       map[string][]model.Score
	// addErr fails AddParticipant for the keyed user.
	addErr map[string]error
}

func newMemRooms() *memRooms {
	return &memRooms{
		rooms:        map[string]model.Room{},
		participants: map[string][]model.Participant{},
		scores:       map[string][]model.Score{},
	}
}

func (m *memRooms) snapshot() (map[string]model.Room, map[string][]model.Participant, map[string][]model.Score) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make(map[string]model.Room, len(m.rooms))
	for k, v := range m.rooms {
		rooms[k] = v
	}
	ps := make(map[string][]model.Participant, len(m.participants))
	for k, v := range m.participants {
		ps[k] = append([]model.Participant(nil), v...)
	}
	scores := make(map[string][]model.Score, len(m.scores))
	for k, v := range m.scores {
		scores[k] = append([]model.Score(nil), v...)
	}
	return rooms, ps, scores
}

func (m *memRooms) Transaction(_ context.Context, fn func(tx db.Transaction) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	rooms, ps, scores := m.snapshot()
	if err := fn(nil); err != nil {
		m.mu.Lock()
		m.rooms, m.participants, m.scores = rooms, ps, scores
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memRooms) CreateRoom(_ context.Context, _ db.Transaction, room model.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[room.ID] = room
	return nil
}

func (m *memRooms) GetRoom(_ context.Context, _ db.Transaction, roomID string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.rooms[roomID]
	if !ok {
		return model.Room{}, appErr.New(appErr.RoomNotFound)
	}
	return room, nil
}

func (m *memRooms) LockRoom(ctx context.Context, tx db.Transaction, roomID string) (model.Room, error) {
	return m.GetRoom(ctx, tx, roomID)
}

func (m *memRooms) FindByCode(_ context.Context, code string) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *model.Room
	for _, r := range m.rooms {
		r := r
		if r.Code != code || r.Status == model.RoomExpired {
			continue
		}
		if found == nil || r.CreatedAt.After(found.CreatedAt) {
			found = &r
		}
	}
	if found == nil {
		return model.Room{}, appErr.New(appErr.RoomNotFound)
	}
	return *found, nil
}

func (m *memRooms) CodeInUse(_ context.Context, code string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.Code != code {
			continue
		}
		if r.Status == model.RoomInProgress || (r.Status == model.RoomWaiting && r.ExpiresAt.After(now)) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRooms) FindOpenRoom(_ context.Context, format model.Format, userID string, now time.Time) (model.Room, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []model.Room
	for _, r := range m.rooms {
		if r.Status != model.RoomWaiting || r.Format != format || !r.ExpiresAt.After(now) {
			continue
		}
		ps := m.participants[r.ID]
		if len(ps) >= r.MaxParticipants() {
			continue
		}
		if _, in := findParticipant(ps, userID); in {
			continue
		}
		open = append(open, r)
	}
	if len(open) == 0 {
		return model.Room{}, false, nil
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open[0], true, nil
}

func (m *memRooms) MarkExpired(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok && r.Status == model.RoomWaiting {
		r.Status = model.RoomExpired
		m.rooms[roomID] = r
	}
	return nil
}

func (m *memRooms) DeleteRoom(_ context.Context, _ db.Transaction, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
	delete(m.participants, roomID)
	delete(m.scores, roomID)
	return nil
}

func (m *memRooms) StartRoom(_ context.Context, _ db.Transaction, roomID string, problemID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || r.Status != model.RoomWaiting {
		return false, nil
	}
	r.Status = model.RoomInProgress
	r.ProblemID = problemID
	r.StartedAt = &at
	m.rooms[roomID] = r
	return true, nil
}

func (m *memRooms) CompleteRoom(_ context.Context, _ db.Transaction, roomID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || r.Status != model.RoomInProgress {
		return false, nil
	}
	r.Status = model.RoomCompleted
	r.CompletedAt = &at
	m.rooms[roomID] = r
	return true, nil
}

func (m *memRooms) SetWinner(_ context.Context, roomID, winnerID string, team int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	r.WinnerID = winnerID
	r.WinningTeam = team
	m.rooms[roomID] = r
	return nil
}

func (m *memRooms) SetHost(_ context.Context, _ db.Transaction, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rooms[roomID]
	r.HostID = userID
	m.rooms[roomID] = r
	return nil
}

func (m *memRooms) AddParticipant(_ context.Context, _ db.Transaction, p model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.addErr[p.UserID]; err != nil {
		return err
	}
	if _, ok := findParticipant(m.participants[p.RoomID], p.UserID); ok {
		return appErr.New(appErr.AlreadyJoined)
	}
	m.participants[p.RoomID] = append(m.participants[p.RoomID], p)
	return nil
}

func (m *memRooms) RemoveParticipant(_ context.Context, _ db.Transaction, roomID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.participants[roomID])
	m.participants[roomID] = removeParticipant(m.participants[roomID], userID)
	return len(m.participants[roomID]) < before, nil
}

func (m *memRooms) ListParticipants(_ context.Context, _ db.Transaction, roomID string) ([]model.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Participant(nil), m.participants[roomID]...), nil
}

func (m *memRooms) UpdateParticipantStatus(_ context.Context, _ db.Transaction, roomID, userID string, status model.ParticipantStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.participants[roomID] {
		if p.UserID == userID {
			m.participants[roomID][i].Status = status
			return true, nil
		}
	}
	return false, nil
}

func (m *memRooms) RecordSubmission(_ context.Context, _ db.Transaction, p model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.participants[p.RoomID] {
		if cur.UserID == p.UserID {
			m.participants[p.RoomID][i] = p
		}
	}
	return nil
}

func (m *memRooms) InitScores(_ context.Context, _ db.Transaction, roomID string, ps []model.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		m.scores[roomID] = append(m.scores[roomID], model.Score{RoomID: roomID, UserID: p.UserID, Team: p.Team, Synthetic: p.Synthetic})
	}
	return nil
}

func (m *memRooms) UpdateScore(_ context.Context, _ db.Transaction, s model.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.scores[s.RoomID] {
		if cur.UserID == s.UserID {
			m.scores[s.RoomID][i] = s
		}
	}
	return nil
}

func (m *memRooms) SetRanks(_ context.Context, _ db.Transaction, scores []model.Score) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range scores {
		for i, cur := range m.scores[s.RoomID] {
			if cur.UserID == s.UserID {
				m.scores[s.RoomID][i].Rank = s.Rank
			}
		}
	}
	return nil
}

func (m *memRooms) ListScores(_ context.Context, _ db.Transaction, roomID string) ([]model.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Score(nil), m.scores[roomID]...), nil
}

func (m *memRooms) participant(roomID, userID string) model.Participant {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, _ := findParticipant(m.participants[roomID], userID)
	return p
}

var _ repository.RoomRepository = (*memRooms)(nil)

type fakeProblems struct {
	problem problemRepo.Problem
}

func (f fakeProblems) Get(_ context.Context, id int64) (problemRepo.Problem, error) {
	if id != f.problem.ID {
		return problemRepo.Problem{}, appErr.New(appErr.ProblemNotFound)
	}
	return f.problem, nil
}

func (f fakeProblems) RandomID(_ context.Context, d problemRepo.Difficulty) (int64, error) {
	if d == f.problem.Difficulty {
		return f.problem.ID, nil
	}
	return 0, nil
}

func (f fakeProblems) AnyRandomID(context.Context) (int64, error) { return f.problem.ID, nil }

// scriptedEvaluator grades by looking the source up in a table.
type scriptedEvaluator struct {
	mu     sync.Mutex
	calls  int
	byCode map[string]evaluator.SuiteResult
}

func (e *scriptedEvaluator) Run(_ context.Context, source string, _ profile.Language, tests []evaluator.TestCase) (evaluator.SuiteResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if len(tests) == 0 {
		return evaluator.SuiteResult{}, appErr.New(appErr.TestCaseNotFound)
	}
	res, ok := e.byCode[source]
	if !ok {
		return evaluator.SuiteResult{Verdict: result.VerdictWrongAnswer, TestsTotal: len(tests)}, nil
	}
	res.TestsTotal = len(tests)
	return res, nil
}

type ratingCall struct {
	matchID string
	winners []string
	losers  []string
	draw    bool
	team    bool
}

type fakeRatings struct {
	mu    sync.Mutex
	calls []ratingCall
	err   error
}

func (f *fakeRatings) ApplyResult(_ context.Context, matchID, winnerID, loserID string, isDraw bool) (map[string]rating.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ratingCall{matchID: matchID, winners: []string{winnerID}, losers: []string{loserID}, draw: isDraw})
	if f.err != nil {
		return nil, f.err
	}
	return map[string]rating.Change{
		winnerID: {UserID: winnerID, OldRating: 1200, NewRating: 1216, Delta: 16},
		loserID:  {UserID: loserID, OldRating: 1200, NewRating: 1184, Delta: -16},
	}, nil
}

func (f *fakeRatings) ApplyTeamResult(_ context.Context, matchID string, winners, losers []string, isDraw bool) (map[string]rating.Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ratingCall{matchID: matchID, winners: winners, losers: losers, draw: isDraw, team: true})
	return map[string]rating.Change{}, f.err
}

func (f *fakeRatings) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeRetry struct {
	mu    sync.Mutex
	tasks []rating.RetryTask
}

func (f *fakeRetry) Enqueue(_ context.Context, task rating.RetryTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count(t notify.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	svc      *MatchService
	rooms    *memRooms
	eval     *scriptedEvaluator
	ratings  *fakeRatings
	retry    *fakeRetry
	notifier *recordingNotifier
	clock    *fakeClock
	redis    *miniredis.Miniredis
}

const (
	codeCorrect = "print(sum(map(int, input().split())))"
	codeFast    = "import sys; print(sum(map(int, sys.stdin.read().split())))"
	codeBroken  = "print(("
	codePartial = "print(3)"
)

func newHarness(t *testing.T, settings Settings) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	h := &harness{
		rooms: newMemRooms(),
		eval: &scriptedEvaluator{byCode: map[string]evaluator.SuiteResult{
			codeCorrect: {Verdict: result.VerdictAccepted, TestsPassed: 3, TotalTimeMs: 120},
			codeFast:    {Verdict: result.VerdictAccepted, TestsPassed: 3, TotalTimeMs: 50},
			codeBroken:  {Verdict: result.VerdictCompilationError, FirstError: "SyntaxError"},
			codePartial: {Verdict: result.VerdictWrongAnswer, TestsPassed: 1, TotalTimeMs: 10},
		}},
		ratings:  &fakeRatings{},
		retry:    &fakeRetry{},
		notifier: &recordingNotifier{},
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		redis:    mr,
	}
	problems := fakeProblems{problem: problemRepo.Problem{
		ID:         1,
		Title:      "Sum",
		Difficulty: problemRepo.DifficultyEasy,
		HiddenTests: []evaluator.TestCase{
			{Input: "1 2", ExpectedOutput: "3"},
			{Input: "2 2", ExpectedOutput: "4"},
			{Input: "5 5", ExpectedOutput: "10"},
		},
	}}
	svc, err := NewMatchService(Config{
		Rooms:     h.rooms,
		Codes:     repository.NewCodeStore(c),
		Problems:  problems,
		Evaluator: h.eval,
		Ratings:   h.ratings,
		Retry:     h.retry,
		Notifier:  h.notifier,
		Settings:  settings,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = h.clock.Now
	svc.rng = rand.New(rand.NewPCG(1, 2))
	t.Cleanup(svc.Close)
	h.svc = svc
	return h
}

// startedRoom creates a full room of format and starts it. The first user hosts.
func (h *harness) startedRoom(t *testing.T, format model.Format, users ...string) model.Room {
	t.Helper()
	ctx := context.Background()
	room, err := h.svc.CreateRoom(ctx, users[0], format, 0, model.CreateOptions{Difficulty: "easy"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	for _, u := range users[1:] {
		if _, err := h.svc.JoinRoom(ctx, room.Code, u); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
	}
	started, err := h.svc.StartMatch(ctx, room.ID, users[0], 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return started
}

package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"
	"testing"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/match/model"
	"codearena/internal/notify"
	appErr "codearena/pkg/errors"
)

var fourDigits = regexp.MustCompile(`^\d{4}$`)

func TestCreateRoomDefaults(t *testing.T) {
	h := newHarness(t, Settings{})
	room, err := h.svc.CreateRoom(context.Background(), "alice", model.Format1v1, 0, model.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !fourDigits.MatchString(room.Code) {
		t.Fatalf("room code %q is not 4 digits", room.Code)
	}
	if room.Language != "javascript" || room.Difficulty != "medium" || room.TimeLimitMin != 30 {
		t.Fatalf("unexpected defaults %+v", room)
	}
	if got := room.ExpiresAt.Sub(room.CreatedAt); got != time.Hour {
		t.Fatalf("expiry window = %v", got)
	}
	// no medium problem exists, so any problem is picked
	if room.ProblemID != 1 {
		t.Fatalf("expected fallback problem, got %d", room.ProblemID)
	}
	host := h.rooms.participant(room.ID, "alice")
	if host.Status != model.StatusReady || host.Team != 0 {
		t.Fatalf("unexpected host seat %+v", host)
	}
	if !h.redis.Exists("room:code:" + room.Code) {
		t.Fatal("room code not reserved")
	}
}

func TestCompletedRoomCodeIsReusable(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	first, err := h.svc.CreateRoom(ctx, "alice", model.Format1v1, 0, model.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.rooms.mu.Lock()
	r := h.rooms.rooms[first.ID]
	r.Status = model.RoomCompleted
	h.rooms.rooms[first.ID] = r
	h.rooms.mu.Unlock()
	h.redis.Del("room:code:" + first.Code)

	// same seed, so the first draw repeats the finished room's code
	h.svc.rng = rand.New(rand.NewPCG(1, 2))
	second, err := h.svc.CreateRoom(ctx, "bob", model.Format1v1, 0, model.CreateOptions{})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if second.Code != first.Code {
		t.Fatalf("completed room still holds code %s, got %s", first.Code, second.Code)
	}
}

func TestRoomCodesUniqueAmongLiveRooms(t *testing.T) {
	h := newHarness(t, Settings{})
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		room, err := h.svc.CreateRoom(context.Background(), fmt.Sprintf("user-%d", i), model.Format1v1, 0, model.CreateOptions{})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[room.Code] {
			t.Fatalf("code %s handed out twice", room.Code)
		}
		seen[room.Code] = true
	}
}

func TestJoinRoomErrors(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room, err := h.svc.CreateRoom(ctx, "alice", model.Format1v1, 0, model.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := h.svc.JoinRoom(ctx, "9999x", "bob"); !appErr.Is(err, appErr.RoomNotFound) {
		t.Fatalf("unknown code: %v", err)
	}
	if _, err := h.svc.JoinRoom(ctx, room.Code, "alice"); !appErr.Is(err, appErr.AlreadyJoined) {
		t.Fatalf("host rejoin: %v", err)
	}
	if _, err := h.svc.JoinRoom(ctx, room.Code, "bob"); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if _, err := h.svc.JoinRoom(ctx, room.Code, "carol"); !appErr.Is(err, appErr.RoomFull) {
		t.Fatalf("third seat in 1v1: %v", err)
	}
	if n := h.notifier.count(notify.EventRoomJoined); n != 1 {
		t.Fatalf("room-joined events = %d", n)
	}
}

func TestJoinExpiredRoomFlipsStatus(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room, _ := h.svc.CreateRoom(ctx, "alice", model.Format1v1, 0, model.CreateOptions{})

	h.clock.Advance(time.Hour + time.Minute)
	if _, err := h.svc.JoinRoom(ctx, room.Code, "bob"); !appErr.Is(err, appErr.RoomExpired) {
		t.Fatalf("expected RoomExpired, got %v", err)
	}
	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.Status != model.RoomExpired {
		t.Fatalf("room not flipped to expired: %s", stored.Status)
	}
	if _, err := h.svc.JoinRoom(ctx, room.Code, "bob"); !appErr.Is(err, appErr.RoomNotFound) {
		t.Fatalf("expired code should no longer resolve: %v", err)
	}
}

func TestTeamAssignment2v2(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room, _ := h.svc.CreateRoom(ctx, "u1", model.Format2v2, 0, model.CreateOptions{})

	want := map[string]int{"u2": 2, "u3": 1, "u4": 2}
	for _, u := range []string{"u2", "u3", "u4"} {
		res, err := h.svc.JoinRoom(ctx, room.Code, u)
		if err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
		if res.Participant.Team != want[u] {
			t.Fatalf("%s on team %d, want %d", u, res.Participant.Team, want[u])
		}
	}
	if h.rooms.participant(room.ID, "u1").Team != 1 {
		t.Fatal("host should be on team 1")
	}
}

func TestStartMatchChecks(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room, _ := h.svc.CreateRoom(ctx, "alice", model.Format1v1, 0, model.CreateOptions{Difficulty: "easy"})

	_, err := h.svc.StartMatch(ctx, room.ID, "mallory", 0)
	if !appErr.Is(err, appErr.NotRoomHost) || appErr.GetError(err).Message != "Unauthorized: Only host can start the match" {
		t.Fatalf("non-host start: %v", err)
	}
	_, err = h.svc.StartMatch(ctx, room.ID, "alice", 0)
	if !appErr.Is(err, appErr.NotEnoughParticipants) || appErr.GetError(err).Message != "Need 2 participants to start" {
		t.Fatalf("short-handed start: %v", err)
	}

	if _, err := h.svc.JoinRoom(ctx, room.Code, "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	started, err := h.svc.StartMatch(ctx, room.ID, "alice", 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != model.RoomInProgress || started.StartedAt == nil || started.ProblemID != 1 {
		t.Fatalf("unexpected started room %+v", started)
	}
	scores, _ := h.rooms.ListScores(ctx, nil, room.ID)
	if len(scores) != 2 || scores[0].TestsPassed != 0 {
		t.Fatalf("scores not zeroed per seat: %+v", scores)
	}
	if h.rooms.participant(room.ID, "bob").Status != model.StatusCoding {
		t.Fatal("participants should be coding once started")
	}
	if _, err := h.svc.StartMatch(ctx, room.ID, "alice", 0); !appErr.Is(err, appErr.MatchAlreadyStarted) {
		t.Fatalf("double start: %v", err)
	}
	if _, err := h.svc.JoinRoom(ctx, room.Code, "carol"); !appErr.Is(err, appErr.RoomFull) {
		t.Fatalf("join full started room: %v", err)
	}
}

func TestSubmitCompletesAndRatesWinner(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	res, err := h.svc.SubmitCode(ctx, room.ID, "bob", codeBroken, "python")
	if err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if res.Verdict != result.VerdictCompilationError {
		t.Fatalf("bob verdict = %s", res.Verdict)
	}
	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.Status != model.RoomInProgress {
		t.Fatal("room completed before everyone submitted")
	}

	if _, err := h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python"); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	stored, _ = h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.Status != model.RoomCompleted || stored.CompletedAt == nil {
		t.Fatalf("room not completed: %+v", stored)
	}
	if stored.WinnerID != "alice" {
		t.Fatalf("winner = %q", stored.WinnerID)
	}
	bob := h.rooms.participant(room.ID, "bob")
	if bob.Result == nil || bob.Result.Verdict != result.VerdictCompilationError || bob.Status != model.StatusSubmitted {
		t.Fatalf("bob's stored submission %+v", bob)
	}
	if h.ratings.callCount() != 1 || h.ratings.calls[0].winners[0] != "alice" || h.ratings.calls[0].losers[0] != "bob" {
		t.Fatalf("rating calls %+v", h.ratings.calls)
	}
	if h.notifier.count(notify.EventMatchCompleted) != 1 || h.notifier.count(notify.EventSubmissionReceived) != 2 {
		t.Fatal("missing lifecycle events")
	}

	board, err := h.svc.GetLeaderboard(ctx, room.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board[0].UserID != "alice" || board[0].Rank != 1 || board[1].Rank != 2 {
		t.Fatalf("unexpected leaderboard %+v", board)
	}

	if _, err := h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python"); !appErr.Is(err, appErr.MatchNotInProgress) {
		t.Fatalf("submit after completion: %v", err)
	}
}

func TestSubmitTieBreakByTime(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	_, _ = h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python")
	_, _ = h.svc.SubmitCode(ctx, room.ID, "bob", codeFast, "python")

	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.WinnerID != "bob" {
		t.Fatalf("faster full solve should win, got %q", stored.WinnerID)
	}
}

func TestSubmitDrawPassesDrawFlag(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	_, _ = h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python")
	_, _ = h.svc.SubmitCode(ctx, room.ID, "bob", codeCorrect, "python")

	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.WinnerID != "" {
		t.Fatalf("draw recorded a winner %q", stored.WinnerID)
	}
	if h.ratings.callCount() != 1 || !h.ratings.calls[0].draw {
		t.Fatalf("draw not handed to ratings: %+v", h.ratings.calls)
	}
}

func TestSubmit2v2UsesTeamSums(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format2v2, "a1", "b1", "a2", "b2")

	// a1/a2 on team 1, b1/b2 on team 2
	_, _ = h.svc.SubmitCode(ctx, room.ID, "a1", codeCorrect, "python")
	_, _ = h.svc.SubmitCode(ctx, room.ID, "a2", codePartial, "python")
	_, _ = h.svc.SubmitCode(ctx, room.ID, "b1", codeFast, "python")
	_, _ = h.svc.SubmitCode(ctx, room.ID, "b2", codeFast, "python")

	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.Status != model.RoomCompleted || stored.WinningTeam != 2 {
		t.Fatalf("team 2 should win: %+v", stored)
	}
	call := h.ratings.calls[0]
	if !call.team || len(call.winners) != 2 || len(call.losers) != 2 {
		t.Fatalf("team rating call %+v", call)
	}
}

func TestConcurrentSubmissionsCompleteOnce(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format2v2, "a1", "b1", "a2", "b2")

	var wg sync.WaitGroup
	for _, u := range []string{"a1", "b1", "a2", "b2"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if _, err := h.svc.SubmitCode(ctx, room.ID, user, codeCorrect, "python"); err != nil {
				t.Errorf("submit %s: %v", user, err)
			}
		}(u)
	}
	wg.Wait()

	if n := h.ratings.callCount(); n != 1 {
		t.Fatalf("rating applied %d times", n)
	}
	if n := h.notifier.count(notify.EventMatchCompleted); n != 1 {
		t.Fatalf("completion announced %d times", n)
	}
}

func TestDoubleSubmitRejected(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	if _, err := h.svc.SubmitCode(ctx, room.ID, "alice", codePartial, "python"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python"); !appErr.Is(err, appErr.AlreadySubmitted) {
		t.Fatalf("resubmit: %v", err)
	}
	if _, err := h.svc.SubmitCode(ctx, room.ID, "eve", codeCorrect, "python"); !appErr.Is(err, appErr.NotParticipant) {
		t.Fatalf("outsider submit: %v", err)
	}
	if _, err := h.svc.SubmitCode(ctx, room.ID, "bob", codeCorrect, "cobol"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("bad language: %v", err)
	}
}

func TestRatingFailureKeepsCompletion(t *testing.T) {
	h := newHarness(t, Settings{})
	h.ratings.err = appErr.New(appErr.RatingUpdateFailed)
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	_, _ = h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python")
	if _, err := h.svc.SubmitCode(ctx, room.ID, "bob", codePartial, "python"); err != nil {
		t.Fatalf("completing submit should not surface rating errors: %v", err)
	}
	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.Status != model.RoomCompleted || stored.WinnerID != "alice" {
		t.Fatalf("completion rolled back: %+v", stored)
	}
	if len(h.retry.tasks) != 1 || h.retry.tasks[0].MatchID != room.ID {
		t.Fatalf("retry not queued: %+v", h.retry.tasks)
	}
}

func TestRunCodePersistsNothing(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	res, err := h.svc.RunCode(ctx, room.ID, "alice", codeCorrect, "python")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.TestsPassed != 3 {
		t.Fatalf("unexpected run result %+v", res)
	}
	if p := h.rooms.participant(room.ID, "alice"); p.Status != model.StatusCoding || p.Result != nil {
		t.Fatalf("run persisted state: %+v", p)
	}
}

func TestLeaveWaitingRoomDeletesWhenEmpty(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room, _ := h.svc.CreateRoom(ctx, "alice", model.Format1v1, 0, model.CreateOptions{})
	_, _ = h.svc.JoinRoom(ctx, room.Code, "bob")

	if err := h.svc.LeaveRoom(ctx, room.ID, "alice"); err != nil {
		t.Fatalf("host leave: %v", err)
	}
	stored, err := h.rooms.GetRoom(ctx, nil, room.ID)
	if err != nil || stored.HostID != "bob" {
		t.Fatalf("host not handed over: %+v %v", stored, err)
	}

	if err := h.svc.LeaveRoom(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("last leave: %v", err)
	}
	if _, err := h.rooms.GetRoom(ctx, nil, room.ID); !appErr.Is(err, appErr.RoomNotFound) {
		t.Fatalf("empty room kept: %v", err)
	}
	if h.redis.Exists("room:code:" + room.Code) {
		t.Fatal("code reservation not released")
	}
	if err := h.svc.LeaveRoom(ctx, room.ID, "bob"); !appErr.Is(err, appErr.RoomNotFound) {
		t.Fatalf("leave deleted room: %v", err)
	}
}

func TestLeaveInProgressForfeits(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")

	if err := h.svc.LeaveRoom(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if p := h.rooms.participant(room.ID, "bob"); p.Status != model.StatusForfeited {
		t.Fatalf("bob should be forfeited, got %s", p.Status)
	}
	if _, err := h.svc.SubmitCode(ctx, room.ID, "alice", codeBroken, "python"); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	stored, _ := h.rooms.GetRoom(ctx, nil, room.ID)
	if stored.Status != model.RoomCompleted || stored.WinnerID != "alice" {
		t.Fatalf("staying player should win a zero-zero match: %+v", stored)
	}
}

func TestLeaveCompletedRoomIsSilent(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")
	for _, u := range []string{"alice", "bob"} {
		if _, err := h.svc.SubmitCode(ctx, room.ID, u, codeCorrect, "python"); err != nil {
			t.Fatalf("%s submit: %v", u, err)
		}
	}
	if stored, _ := h.rooms.GetRoom(ctx, nil, room.ID); stored.Status != model.RoomCompleted {
		t.Fatalf("match not completed: %s", stored.Status)
	}
	before := h.notifier.count(notify.EventParticipantLeft)
	status := h.rooms.participant(room.ID, "bob").Status

	if err := h.svc.LeaveRoom(ctx, room.ID, "bob"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if got := h.notifier.count(notify.EventParticipantLeft); got != before {
		t.Fatalf("leaving a completed room emitted %d participant-left events", got-before)
	}
	if p := h.rooms.participant(room.ID, "bob"); p.Status != status {
		t.Fatalf("bob's final status changed from %s to %s", status, p.Status)
	}
}

func TestUpdateParticipantStatus(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room, _ := h.svc.CreateRoom(ctx, "alice", model.Format1v1, 0, model.CreateOptions{})
	_, _ = h.svc.JoinRoom(ctx, room.Code, "bob")

	if err := h.svc.UpdateParticipantStatus(ctx, room.ID, "bob", model.StatusReady); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if h.rooms.participant(room.ID, "bob").Status != model.StatusReady {
		t.Fatal("status not stored")
	}
	if err := h.svc.UpdateParticipantStatus(ctx, room.ID, "bob", model.StatusSubmitted); !appErr.Is(err, appErr.InvalidTransition) {
		t.Fatalf("client set submitted: %v", err)
	}
	if err := h.svc.UpdateParticipantStatus(ctx, room.ID, "eve", model.StatusReady); !appErr.Is(err, appErr.NotParticipant) {
		t.Fatalf("outsider status: %v", err)
	}
	if h.notifier.count(notify.EventParticipantStatus) != 1 {
		t.Fatal("status event missing")
	}
}

func TestGetRoomStateHidesCode(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()
	room := h.startedRoom(t, model.Format1v1, "alice", "bob")
	_, _ = h.svc.SubmitCode(ctx, room.ID, "alice", codeCorrect, "python")

	state, err := h.svc.GetRoomState(ctx, room.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.ParticipantCount != 2 || !state.IsFull || state.Problem == nil {
		t.Fatalf("unexpected state %+v", state)
	}
	for _, p := range state.Participants {
		if p.Code != "" {
			t.Fatal("room state leaked submitted code")
		}
		if p.UserID == "alice" && (p.Score == nil || p.Score.TestsPassed != 3) {
			t.Fatalf("alice score missing: %+v", p.Score)
		}
	}
}

func TestQuickMatch(t *testing.T) {
	h := newHarness(t, Settings{})
	ctx := context.Background()

	first, err := h.svc.QuickMatch(ctx, "alice", model.Format1v1)
	if err != nil || !first.Created {
		t.Fatalf("first quick match should open a room: %+v %v", first, err)
	}
	h.clock.Advance(time.Second)
	second, err := h.svc.QuickMatch(ctx, "bob", model.Format1v1)
	if err != nil {
		t.Fatalf("second quick match: %v", err)
	}
	if second.Created || second.Room.ID != first.Room.ID {
		t.Fatalf("bob should join alice's room: %+v", second)
	}
	third, err := h.svc.QuickMatch(ctx, "carol", model.Format1v1)
	if err != nil || !third.Created || third.Room.ID == first.Room.ID {
		t.Fatalf("full room should not be offered: %+v %v", third, err)
	}
}

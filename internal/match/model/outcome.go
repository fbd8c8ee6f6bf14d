package model

import "sort"

// Outcome is the decided result of a completed match.
type Outcome struct {
	IsDraw      bool     `json:"is_draw"`
	WinnerIDs   []string `json:"winner_ids"`
	LoserIDs    []string `json:"loser_ids"`
	WinningTeam int      `json:"winning_team,omitempty"`
}

type side struct {
	members  []string
	passed   int
	timeMs   int64
	forfeits int
}

// better orders sides by tests passed, then fewer forfeits, then faster time.
// It returns 1 when a beats b, -1 when b beats a and 0 on a full tie.
func better(a, b side) int {
	switch {
	case a.passed != b.passed:
		if a.passed > b.passed {
			return 1
		}
		return -1
	case a.forfeits != b.forfeits:
		if a.forfeits < b.forfeits {
			return 1
		}
		return -1
	case a.timeMs != b.timeMs:
		if a.timeMs < b.timeMs {
			return 1
		}
		return -1
	}
	return 0
}

// DecideOutcome computes the winner from per-seat scores.
// It reports false when the scores do not fill the format's seats.
func DecideOutcome(format Format, scores []Score) (Outcome, bool) {
	var a, b side
	if format.Teams() {
		if len(scores) != format.Seats() {
			return Outcome{}, false
		}
		for _, s := range scores {
			switch s.Team {
			case 1:
				a.add(s)
			case 2:
				b.add(s)
			default:
				return Outcome{}, false
			}
		}
		if len(a.members) == 0 || len(b.members) == 0 {
			return Outcome{}, false
		}
	} else {
		if len(scores) != 2 {
			return Outcome{}, false
		}
		a.add(scores[0])
		b.add(scores[1])
	}

	switch better(a, b) {
	case 1:
		return outcomeFor(format, a, b, 1), true
	case -1:
		return outcomeFor(format, b, a, 2), true
	}
	return Outcome{IsDraw: true, WinnerIDs: a.members, LoserIDs: b.members}, true
}

func (s *side) add(score Score) {
	s.members = append(s.members, score.UserID)
	s.passed += score.TestsPassed
	s.timeMs += score.ExecTimeMs
	if score.Forfeited {
		s.forfeits++
	}
}

func outcomeFor(format Format, winner, loser side, winnerTeam int) Outcome {
	o := Outcome{WinnerIDs: winner.members, LoserIDs: loser.members}
	if format.Teams() {
		o.WinningTeam = winnerTeam
	}
	return o
}

// Rank orders scores for the leaderboard: tests passed desc, forfeits last, time asc.
// Equal scores share a rank.
func Rank(scores []Score) []Score {
	out := append([]Score(nil), scores...)
	key := func(s Score) side {
		f := 0
		if s.Forfeited {
			f = 1
		}
		return side{passed: s.TestsPassed, timeMs: s.ExecTimeMs, forfeits: f}
	}
	sort.SliceStable(out, func(i, j int) bool { return better(key(out[i]), key(out[j])) > 0 })
	for i := range out {
		if i > 0 && better(key(out[i-1]), key(out[i])) == 0 {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}
	return out
}

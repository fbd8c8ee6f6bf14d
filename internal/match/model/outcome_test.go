package model

import "testing"

func TestDecideOutcome1v1(t *testing.T) {
	cases := []struct {
		name   string
		scores []Score
		winner string
		draw   bool
	}{
		{"faster wins tie", []Score{{UserID: "a", TestsPassed: 5, ExecTimeMs: 100}, {UserID: "b", TestsPassed: 5, ExecTimeMs: 50}}, "b", false},
		{"more tests beats time", []Score{{UserID: "a", TestsPassed: 4, ExecTimeMs: 10}, {UserID: "b", TestsPassed: 5, ExecTimeMs: 900}}, "b", false},
		{"full tie is draw", []Score{{UserID: "a", TestsPassed: 3, ExecTimeMs: 70}, {UserID: "b", TestsPassed: 3, ExecTimeMs: 70}}, "", true},
		{"forfeit loses zero tie", []Score{{UserID: "a", Forfeited: true}, {UserID: "b", ExecTimeMs: 300}}, "b", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o, ok := DecideOutcome(Format1v1, tc.scores)
			if !ok {
				t.Fatal("outcome not decided")
			}
			if o.IsDraw != tc.draw {
				t.Fatalf("draw = %v, want %v", o.IsDraw, tc.draw)
			}
			if !tc.draw && o.WinnerIDs[0] != tc.winner {
				t.Fatalf("winner = %v, want %s", o.WinnerIDs, tc.winner)
			}
		})
	}
}

func TestDecideOutcome2v2TeamSums(t *testing.T) {
	scores := []Score{
		{UserID: "a1", Team: 1, TestsPassed: 3, ExecTimeMs: 10},
		{UserID: "a2", Team: 1, TestsPassed: 4, ExecTimeMs: 10},
		{UserID: "b1", Team: 2, TestsPassed: 4, ExecTimeMs: 500},
		{UserID: "b2", Team: 2, TestsPassed: 4, ExecTimeMs: 500},
	}
	o, ok := DecideOutcome(Format2v2, scores)
	if !ok {
		t.Fatal("outcome not decided")
	}
	if o.WinningTeam != 2 || len(o.WinnerIDs) != 2 || o.WinnerIDs[0] != "b1" {
		t.Fatalf("team 2 should win, got %+v", o)
	}
}

func TestDecideOutcomeIncompleteSeats(t *testing.T) {
	if _, ok := DecideOutcome(Format1v1, []Score{{UserID: "a"}}); ok {
		t.Fatal("one score cannot decide a 1v1")
	}
	if _, ok := DecideOutcome(Format2v2, []Score{{UserID: "a", Team: 1}, {UserID: "b", Team: 1}, {UserID: "c", Team: 1}, {UserID: "d", Team: 1}}); ok {
		t.Fatal("one-sided teams cannot decide a 2v2")
	}
}

func TestRankSharesTies(t *testing.T) {
	ranked := Rank([]Score{
		{UserID: "slow", TestsPassed: 2, ExecTimeMs: 90},
		{UserID: "best", TestsPassed: 3, ExecTimeMs: 50},
		{UserID: "tie", TestsPassed: 2, ExecTimeMs: 90},
		{UserID: "quit", Forfeited: true},
	})
	if ranked[0].UserID != "best" || ranked[0].Rank != 1 {
		t.Fatalf("unexpected leader %+v", ranked[0])
	}
	if ranked[1].Rank != 2 || ranked[2].Rank != 2 {
		t.Fatalf("ties should share rank: %+v", ranked)
	}
	if ranked[3].UserID != "quit" || ranked[3].Rank != 4 {
		t.Fatalf("forfeit should be last: %+v", ranked[3])
	}
}

func TestParseFormat(t *testing.T) {
	if f, _ := ParseFormat(""); f != Format1v1 {
		t.Fatal("empty should default to 1v1")
	}
	if f, _ := ParseFormat("2V2"); f.Seats() != 4 {
		t.Fatal("2v2 has four seats")
	}
	if _, err := ParseFormat("3v3"); err == nil {
		t.Fatal("3v3 should be rejected")
	}
}

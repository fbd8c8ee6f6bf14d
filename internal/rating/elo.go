// Package rating applies Elo updates for finished matches.
package rating

import "math"

const (
	KFactor       = 32
	DefaultRating = 1200
)

// Outcome is a player's result in one match.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Score is the Elo actual score of the outcome.
func (o Outcome) Score() float64 {
	switch o {
	case OutcomeWin:
		return 1
	case OutcomeLoss:
		return 0
	default:
		return 0.5
	}
}

// ExpectedScore is the probability that a player rated a beats one rated b.
func ExpectedScore(a, b float64) float64 {
	return 1 / (1 + math.Pow(10, (b-a)/400))
}

// Delta is the rating change of a player rated own against opponent.
// Halves round toward positive infinity.
func Delta(own, opponent float64, outcome Outcome) int {
	return int(math.Floor(KFactor*(outcome.Score()-ExpectedScore(own, opponent)) + 0.5))
}

func average(ratings []int) float64 {
	if len(ratings) == 0 {
		return DefaultRating
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return float64(sum) / float64(len(ratings))
}

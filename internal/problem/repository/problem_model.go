package repository

import (
	"strings"
	"time"

	"codearena/internal/judge/evaluator"
)

// Difficulty is the stored difficulty label.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// NormalizeDifficulty maps client spellings ("medium", "HARD") onto the stored label.
// Unknown labels fall back to Medium.
func NormalizeDifficulty(label string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "easy":
		return DifficultyEasy
	case "hard":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// Problem is a coding question with its ordered hidden test suite.
type Problem struct {
	ID          int64                `json:"id"`
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Difficulty  Difficulty           `json:"difficulty"`
	Constraints string               `json:"constraints,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	Examples    []evaluator.TestCase `json:"examples,omitempty"`
	HiddenTests []evaluator.TestCase `json:"-"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"codearena/internal/common/cache"
	"codearena/internal/common/db"
	"codearena/internal/judge/evaluator"
	appErr "codearena/pkg/errors"
)

const (
	defaultProblemTTL      = 30 * time.Minute
	defaultProblemEmptyTTL = 5 * time.Minute
	problemKeyPrefix       = "problem:detail:"
)

var ErrProblemNotFound = errors.New("problem not found")

// ProblemProvider is the read-only problem source used by match rooms.
type ProblemProvider interface {
	Get(ctx context.Context, problemID int64) (Problem, error)
	// RandomID returns a random problem id of the given difficulty, or 0 when none exists.
	RandomID(ctx context.Context, difficulty Difficulty) (int64, error)
	// AnyRandomID returns a random problem id of any difficulty, or 0 when the bank is empty.
	AnyRandomID(ctx context.Context) (int64, error)
}

type MySQLProblemRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

func NewProblemRepository(database db.Database, cacheClient cache.Cache) *MySQLProblemRepository {
	return NewProblemRepositoryWithTTL(database, cacheClient, defaultProblemTTL, defaultProblemEmptyTTL)
}

func NewProblemRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLProblemRepository {
	if ttl <= 0 {
		ttl = defaultProblemTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultProblemEmptyTTL
	}
	return &MySQLProblemRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

// Get loads a problem through the read-through cache.
func (r *MySQLProblemRepository) Get(ctx context.Context, problemID int64) (Problem, error) {
	p, err := cache.GetWithCached[Problem](
		ctx,
		r.cache,
		problemKey(problemID),
		r.ttl,
		r.emptyTTL,
		func(p Problem) bool { return p.ID == 0 },
		marshalProblem,
		unmarshalProblem,
		func(ctx context.Context) (Problem, error) {
			p, err := r.getFromDB(ctx, problemID)
			if errors.Is(err, ErrProblemNotFound) {
				return Problem{}, nil
			}
			return p, err
		},
	)
	if err != nil {
		return Problem{}, appErr.Wrapf(err, appErr.DatabaseError, "load problem %d", problemID)
	}
	if p.ID == 0 {
		return Problem{}, appErr.New(appErr.ProblemNotFound).WithDetail("problem_id", problemID)
	}
	return p, nil
}

func (r *MySQLProblemRepository) RandomID(ctx context.Context, difficulty Difficulty) (int64, error) {
	return r.randomID(ctx, "SELECT id FROM coding_questions WHERE difficulty = ? ORDER BY RAND() LIMIT 1", string(difficulty))
}

func (r *MySQLProblemRepository) AnyRandomID(ctx context.Context) (int64, error) {
	return r.randomID(ctx, "SELECT id FROM coding_questions ORDER BY RAND() LIMIT 1")
}

func (r *MySQLProblemRepository) randomID(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if db.IsNoRows(err) {
			return 0, nil
		}
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "pick random problem")
	}
	return id, nil
}

func (r *MySQLProblemRepository) getFromDB(ctx context.Context, problemID int64) (Problem, error) {
	query := `
		SELECT id, title, description, difficulty, constraints, tags, sample_test_cases, hidden_test_cases, updated_at
		FROM coding_questions
		WHERE id = ?`

	var (
		p                     Problem
		difficulty            string
		constraints           sql.NullString
		tags, samples, hidden sql.NullString
	)
	err := r.db.QueryRow(ctx, query, problemID).Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&difficulty,
		&constraints,
		&tags,
		&samples,
		&hidden,
		&p.UpdatedAt,
	)
	if err != nil {
		if db.IsNoRows(err) {
			return Problem{}, ErrProblemNotFound
		}
		return Problem{}, err
	}
	p.Difficulty = NormalizeDifficulty(difficulty)
	p.Constraints = constraints.String
	if p.Tags, err = decodeList[string](tags); err != nil {
		return Problem{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode tags of problem %d", problemID)
	}
	if p.Examples, err = decodeList[evaluator.TestCase](samples); err != nil {
		return Problem{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode sample tests of problem %d", problemID)
	}
	if p.HiddenTests, err = decodeList[evaluator.TestCase](hidden); err != nil {
		return Problem{}, appErr.Wrapf(err, appErr.TestCaseInvalid, "decode hidden tests of problem %d", problemID)
	}
	return p, nil
}

func decodeList[T any](raw sql.NullString) ([]T, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// cachedProblem keeps hidden tests in the cache entry; Problem hides them from JSON responses.
type cachedProblem struct {
	Problem
	HiddenTests []evaluator.TestCase `json:"hidden_tests"`
}

func problemKey(problemID int64) string {
	return problemKeyPrefix + strconv.FormatInt(problemID, 10)
}

func marshalProblem(p Problem) string {
	payload, err := json.Marshal(cachedProblem{Problem: p, HiddenTests: p.HiddenTests})
	if err != nil {
		return ""
	}
	return string(payload)
}

func unmarshalProblem(data string) (Problem, error) {
	if data == "" {
		return Problem{}, nil
	}
	var cp cachedProblem
	if err := json.Unmarshal([]byte(data), &cp); err != nil {
		return Problem{}, err
	}
	p := cp.Problem
	p.HiddenTests = cp.HiddenTests
	return p, nil
}

var _ ProblemProvider = (*MySQLProblemRepository)(nil)

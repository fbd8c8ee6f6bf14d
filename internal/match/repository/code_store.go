package repository

import (
	"context"
	"time"

	"codearena/internal/common/cache"
	appErr "codearena/pkg/errors"
)

const (
	codeKeyPrefix   = "room:code:"
	submitKeyPrefix = "room:submit:"
)

// CodeStore reserves room codes and guards concurrent submissions in redis.
type CodeStore struct {
	cache cache.Cache
}

func NewCodeStore(c cache.Cache) *CodeStore {
	return &CodeStore{cache: c}
}

// Reserve claims code for roomID until ttl passes. False means another live room holds it.
func (s *CodeStore) Reserve(ctx context.Context, code, roomID string, ttl time.Duration) (bool, error) {
	ok, err := s.cache.SetNX(ctx, codeKeyPrefix+code, roomID, ttl)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "reserve room code")
	}
	return ok, nil
}

// Release frees code when its room is gone. A reservation held by another room is left alone.
func (s *CodeStore) Release(ctx context.Context, code, roomID string) error {
	holder, err := s.cache.Get(ctx, codeKeyPrefix+code)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "read room code")
	}
	if holder != roomID {
		return nil
	}
	if err := s.cache.Del(ctx, codeKeyPrefix+code); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "release room code")
	}
	return nil
}

// LockSubmission serializes submit calls of one participant while its code is evaluated.
func (s *CodeStore) LockSubmission(ctx context.Context, roomID, userID string, ttl time.Duration) (func(), error) {
	key := submitKeyPrefix + roomID + ":" + userID
	ok, err := s.cache.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "lock submission")
	}
	if !ok {
		return nil, appErr.New(appErr.SubmitTooFrequently).WithMessage("A submission is already being evaluated")
	}
	return func() { _ = s.cache.Unlock(context.WithoutCancel(ctx), key) }, nil
}

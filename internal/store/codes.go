package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gomolemo-esi-developer/tutorverse-identity/internal/errs"
)

// CodeStore keeps verification codes in Redis under TTL. A reissue
// overwrites the prior code and resets the attempt counter; attempts
// are counted with INCR so concurrent verifies never under-count.
type CodeStore struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

func NewCodeStore(client *redis.Client, ttl, timeout time.Duration) *CodeStore {
	return &CodeStore{client: client, ttl: ttl, timeout: timeout}
}

func codeKey(purpose, email string) string {
	return fmt.Sprintf("verify:%s:%s", purpose, email)
}

func attemptsKey(purpose, email string) string {
	return fmt.Sprintf("verify_attempts:%s:%s", purpose, email)
}

func (s *CodeStore) Put(ctx context.Context, purpose, email, code string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, codeKey(purpose, email), code, s.ttl)
	pipe.Del(ctx, attemptsKey(purpose, email))
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.Dependency(err)
	}
	return nil
}

// Bump atomically increments the attempt counter and returns the new
// value. The counter expires with the code so a stale key cannot lock
// an address out forever.
func (s *CodeStore) Bump(ctx context.Context, purpose, email string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := attemptsKey(purpose, email)
	attempts, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, errs.Dependency(err)
	}
	if attempts == 1 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return attempts, errs.Dependency(err)
		}
	}
	return attempts, nil
}

func (s *CodeStore) Get(ctx context.Context, purpose, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	code, err := s.client.Get(ctx, codeKey(purpose, email)).Result()
	if err == redis.Nil {
		return "", errs.New(errs.Validation, errs.CodeCodeExpired, "no active code")
	}
	if err != nil {
		return "", errs.Dependency(err)
	}
	return code, nil
}

func (s *CodeStore) Delete(ctx context.Context, purpose, email string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, codeKey(purpose, email), attemptsKey(purpose, email)).Err(); err != nil {
		return errs.Dependency(err)
	}
	return nil
}

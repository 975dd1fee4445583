package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replaceMaxRetries = 3

// RedisStore is the server-context session variant: one sealed blob per
// principal under prefix:principalID, expiring with the refresh credential.
//
//	Performance: Get is 1 GET. Replace is WATCH + GET + MULTI/SET/EXEC.
type RedisStore struct {
	redis    redis.UniversalClient
	prefix   string
	codec    *Codec
	lifetime LifetimeFunc
	now      func() time.Time
}

// NewRedisStore creates a [RedisStore]. lifetime bounds each blob's TTL.
func NewRedisStore(client redis.UniversalClient, prefix string, codec *Codec, lifetime LifetimeFunc) *RedisStore {
	if lifetime == nil {
		lifetime = FixedLifetime(7 * 24 * time.Hour)
	}
	return &RedisStore{
		redis:    client,
		prefix:   prefix,
		codec:    codec,
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (s *RedisStore) key(principalID string) string {
	return s.prefix + ":" + principalID
}

// Get returns the stored session. It never writes, so a corrupt blob is
// reported as absent and left for its TTL to reap.
func (s *RedisStore) Get(ctx context.Context, principalID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	sess, err := s.codec.Open(principalID, data)
	if err != nil {
		return nil, notFoundCorrupt(err)
	}
	return sess, nil
}

// Create stores a fresh session, overwriting any previous one for principalID.
func (s *RedisStore) Create(ctx context.Context, principalID string, pair CredentialPair) error {
	sess := &Session{
		PrincipalID: principalID,
		Pair:        pair,
		CreatedAt:   s.now().UTC(),
	}
	blob, ttl, err := s.seal(sess)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(principalID), blob, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Replace swaps the pair in place under an optimistic WATCH transaction, so a
// concurrent Destroy is never undone and readers see either the old or the new
// blob.
func (s *RedisStore) Replace(ctx context.Context, principalID string, pair CredentialPair) error {
	if !pair.Valid() {
		return ErrInvalidPair
	}
	key := s.key(principalID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		current, err := s.codec.Open(principalID, data)
		if err != nil {
			return notFoundCorrupt(err)
		}

		blob, ttl, err := s.seal(&Session{
			PrincipalID: principalID,
			Pair:        pair,
			CreatedAt:   current.CreatedAt,
		})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < replaceMaxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidPair):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return fmt.Errorf("%w: replace contention on %s", ErrBackendUnavailable, key)
}

// Destroy deletes the session. Deleting a missing key is not an error.
func (s *RedisStore) Destroy(ctx context.Context, principalID string) error {
	if err := s.redis.Del(ctx, s.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *RedisStore) seal(sess *Session) ([]byte, time.Duration, error) {
	ttl := s.lifetime(sess.Pair)
	if ttl <= 0 {
		return nil, 0, fmt.Errorf("%w: refresh credential already expired", ErrInvalidPair)
	}
	blob, err := s.codec.Seal(sess)
	if err != nil {
		return nil, 0, err
	}
	return blob, ttl, nil
}

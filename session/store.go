package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the session id does not resolve to a live row.
var ErrNotFound = errors.New("session not found")

// ErrRedisUnavailable wraps transport-level redis failures.
var ErrRedisUnavailable = errors.New("session redis unavailable")

// deleteSessionScript removes the row and its index entry together, so a
// crashed half-delete can never leave a live row behind an empty index.
// Returns whether the row existed; re-deleting is a no-op.
const deleteSessionScript = `
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store persists session rows in redis.
type Store struct {
	redis  *redis.Client
	prefix string
}

func NewStore(redisClient *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ncs"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userIndexKey(userID string) string {
	return s.prefix + ":u:" + userID
}

// Save writes the row and registers it in the owner's index. The index key
// carries the same TTL so it cannot outlive its longest-lived member by
// more than one lifetime.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	encoded, err := Encode(sess)
	if err != nil {
		return err
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.key(sess.ID), encoded, ttl)
	pipe.SAdd(ctx, s.userIndexKey(sess.UserID), sess.ID)
	// NX seeds the TTL on a fresh index; GT extends it but never lets a
	// short-lived session shorten the index under a longer-lived sibling.
	pipe.ExpireNX(ctx, s.userIndexKey(sess.UserID), ttl)
	pipe.ExpireGT(ctx, s.userIndexKey(sess.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the live row for sessionID. Expiry is also checked against
// the embedded ExpiresAt so a row never outlives its own deadline even if
// the redis TTL drifted.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(sessionID, data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > sess.ExpiresAt {
		_, _ = s.Delete(ctx, sess.UserID, sessionID)
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete removes one row. Idempotent; reports whether the row existed.
func (s *Store) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	res, err := deleteSessionLua.Run(
		ctx,
		s.redis,
		[]string{s.key(sessionID), s.userIndexKey(userID)},
		sessionID,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// DeleteAllForUser removes every session owned by userID, including rows
// whose index entries went stale.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	ids, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	pipe := s.redis.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.key(id))
	}
	pipe.Del(ctx, s.userIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionCount reports how many live rows the index currently holds.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.userIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	alive := 0
	for _, id := range ids {
		n, err := s.redis.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if n > 0 {
			alive++
		}
	}
	return alive, nil
}

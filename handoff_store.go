package nightcap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const handoffRecordVersion1 = 1

// Well-known handoff value keys. Each flow stores only the keys it needs.
const (
	handoffKeyEmail            = "email"
	handoffKeyUserID           = "user_id"
	handoffKeyNewEmail         = "new_email"
	handoffKeyPendingSessionID = "pending_session_id"
	handoffKeyRememberMe       = "remember_me"
	handoffKeyRedirectTo       = "redirect_to"
)

var (
	errHandoffNotFound    = errors.New("handoff state not found")
	errHandoffUnavailable = errors.New("handoff backend unavailable")
)

// takeHandoffScript reads and deletes in one round trip so the state is
// consumed exactly once even under concurrent submissions.
const takeHandoffScript = `
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
end
return v
`

var takeHandoffLua = redis.NewScript(takeHandoffScript)

// handoffState is the ephemeral payload carried across a redirect. The
// browser holds only the opaque id (in a cookie); the values live here.
type handoffState struct {
	Flow      Flow
	Values    map[string]string
	ExpiresAt int64
}

type handoffStore struct {
	redis  *redis.Client
	prefix string
}

func newHandoffStore(redisClient *redis.Client, prefix string) *handoffStore {
	return &handoffStore{redis: redisClient, prefix: prefix}
}

func (s *handoffStore) key(id string) string {
	return s.prefix + ":" + id
}

func (s *handoffStore) Put(ctx context.Context, id string, state *handoffState, ttl time.Duration) error {
	encoded, err := encodeHandoffState(state)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errHandoffUnavailable, err)
	}
	return nil
}

// Peek reads without consuming. Used when a retryable step (a wrong code)
// must leave the flow open.
func (s *handoffStore) Peek(ctx context.Context, id string) (*handoffState, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errHandoffNotFound
		}
		return nil, fmt.Errorf("%w: %v", errHandoffUnavailable, err)
	}
	return s.decodeLive(ctx, id, data)
}

// Take consumes the state: at most one caller ever receives it.
func (s *handoffStore) Take(ctx context.Context, id string) (*handoffState, error) {
	res, err := takeHandoffLua.Run(ctx, s.redis, []string{s.key(id)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errHandoffNotFound
		}
		return nil, fmt.Errorf("%w: %v", errHandoffUnavailable, err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, errHandoffNotFound
	}
	return s.decodeLive(ctx, id, []byte(raw))
}

func (s *handoffStore) Delete(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errHandoffUnavailable, err)
	}
	return nil
}

func (s *handoffStore) decodeLive(ctx context.Context, id string, data []byte) (*handoffState, error) {
	state, err := decodeHandoffState(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > state.ExpiresAt {
		_ = s.redis.Del(ctx, s.key(id)).Err()
		return nil, errHandoffNotFound
	}
	return state, nil
}

func encodeHandoffState(state *handoffState) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(handoffRecordVersion1)
	buf.WriteByte(byte(state.Flow))

	if err := binary.Write(&buf, binary.BigEndian, state.ExpiresAt); err != nil {
		return nil, err
	}

	if len(state.Values) > 255 {
		return nil, errors.New("handoff state too many values")
	}
	buf.WriteByte(byte(len(state.Values)))
	for k, v := range state.Values {
		for _, field := range []string{k, v} {
			if len(field) > 65535 {
				return nil, errors.New("handoff state field too long")
			}
			if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
				return nil, err
			}
			buf.WriteString(field)
		}
	}

	return buf.Bytes(), nil
}

func decodeHandoffState(data []byte) (*handoffState, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != handoffRecordVersion1 {
		return nil, errors.New("invalid handoff state version")
	}

	flowByte, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	state := &handoffState{
		Flow:   Flow(flowByte),
		Values: map[string]string{},
	}
	if !state.Flow.Valid() {
		return nil, errors.New("invalid handoff state flow")
	}

	if err := binary.Read(reader, binary.BigEndian, &state.ExpiresAt); err != nil {
		return nil, err
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		pair := make([]string, 2)
		for j := range pair {
			var n uint16
			if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
				return nil, err
			}
			raw := make([]byte, n)
			if _, err := io.ReadFull(reader, raw); err != nil {
				return nil, err
			}
			pair[j] = string(raw)
		}
		state.Values[pair[0]] = pair[1]
	}

	return state, nil
}

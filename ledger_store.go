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

const ledgerRecordVersion1 = 1

var (
	errLedgerNotFound    = errors.New("ledger record not found")
	errLedgerCodeInvalid = errors.New("ledger code mismatch")
	errLedgerAttempts    = errors.New("ledger attempts exceeded")
	errLedgerUnavailable = errors.New("ledger backend unavailable")
)

// verificationRecord is one row of the verification ledger, unique per
// (target, flow). ExpiresAt == 0 marks the durable enabled-two-factor
// record; any other value marks an ephemeral challenge.
type verificationRecord struct {
	Target    string
	Flow      Flow
	Secret    []byte
	Params    otpParams
	ExpiresAt int64
	Attempts  uint16
}

func (r *verificationRecord) durable() bool {
	return r.ExpiresAt == 0
}

func (r *verificationRecord) expired(now time.Time) bool {
	return !r.durable() && now.Unix() > r.ExpiresAt
}

type verificationLedger struct {
	redis  *redis.Client
	prefix string
}

func newVerificationLedger(redisClient *redis.Client, prefix string) *verificationLedger {
	return &verificationLedger{redis: redisClient, prefix: prefix}
}

func (l *verificationLedger) key(target string, flow Flow) string {
	return l.prefix + ":" + flow.String() + ":" + target
}

// Upsert writes the record, silently replacing any prior challenge for the
// same (target, flow). Last write wins; a previously delivered code becomes
// permanently unverifiable.
func (l *verificationLedger) Upsert(ctx context.Context, record *verificationRecord) error {
	encoded, err := encodeVerificationRecord(record)
	if err != nil {
		return err
	}

	var ttl time.Duration
	if !record.durable() {
		ttl = time.Until(time.Unix(record.ExpiresAt, 0))
		if ttl <= 0 {
			return fmt.Errorf("%w: record already expired", errLedgerNotFound)
		}
	}

	if err := l.redis.Set(ctx, l.key(record.Target, record.Flow), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errLedgerUnavailable, err)
	}
	return nil
}

// Find returns the live record for (target, flow). Expiry is enforced
// lazily here: a stale row is deleted on sight and reported as absent.
func (l *verificationLedger) Find(ctx context.Context, target string, flow Flow) (*verificationRecord, error) {
	data, err := l.redis.Get(ctx, l.key(target, flow)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errLedgerNotFound
		}
		return nil, fmt.Errorf("%w: %v", errLedgerUnavailable, err)
	}

	record, err := decodeVerificationRecord(data)
	if err != nil {
		return nil, err
	}
	if record.expired(time.Now()) {
		_, _ = l.redis.Del(ctx, l.key(target, flow)).Result()
		return nil, errLedgerNotFound
	}
	return record, nil
}

// Delete removes the record if present. Reports whether a row existed; a
// second delete of the same row is a no-op.
func (l *verificationLedger) Delete(ctx context.Context, target string, flow Flow) (bool, error) {
	n, err := l.redis.Del(ctx, l.key(target, flow)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errLedgerUnavailable, err)
	}
	return n > 0, nil
}

// Consume atomically checks code against the record and deletes it on
// success. Two racing submissions of the same valid code resolve to exactly
// one winner; the loser observes errLedgerNotFound. A wrong code increments
// the attempt counter in the same transaction and destroys the record once
// maxAttempts is reached.
func (l *verificationLedger) Consume(
	ctx context.Context,
	target string,
	flow Flow,
	code string,
	skew int,
	maxAttempts int,
	now time.Time,
) (*verificationRecord, error) {
	const maxRetries = 4
	key := l.key(target, flow)

	for i := 0; i < maxRetries; i++ {
		var matched *verificationRecord

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}
			if record.expired(now) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errLedgerNotFound
			}

			ok, _ := otpVerify(record.Secret, code, record.Params, skew, now)
			if !ok {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errLedgerAttempts
				}

				updated, err := encodeVerificationRecord(record)
				if err != nil {
					return err
				}
				ttl := time.Duration(0)
				if !record.durable() {
					ttl = time.Until(time.Unix(record.ExpiresAt, 0))
					if ttl <= 0 {
						_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
							pipe.Del(ctx, key)
							return nil
						})
						if err != nil {
							return err
						}
						return errLedgerNotFound
					}
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errLedgerCodeInvalid
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errLedgerNotFound
			case errors.Is(err, errLedgerNotFound), errors.Is(err, errLedgerCodeInvalid), errors.Is(err, errLedgerAttempts):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errLedgerUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, errLedgerNotFound
}

// Promote atomically rewrites a record under a new flow and expiry while
// preserving its secret and code parameters. It is how a confirmed
// two-factor setup challenge becomes the durable enabled record: same
// secret, new key, no expiry, attempt counter reset.
func (l *verificationLedger) Promote(
	ctx context.Context,
	target string,
	from, to Flow,
	newExpiresAt int64,
) (*verificationRecord, error) {
	const maxRetries = 4
	fromKey := l.key(target, from)
	toKey := l.key(target, to)

	for i := 0; i < maxRetries; i++ {
		var promoted *verificationRecord

		err := l.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, fromKey).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}
			if record.expired(time.Now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, fromKey)
					return nil
				})
				if err != nil {
					return err
				}
				return errLedgerNotFound
			}

			record.Flow = to
			record.ExpiresAt = newExpiresAt
			record.Attempts = 0

			encoded, err := encodeVerificationRecord(record)
			if err != nil {
				return err
			}
			ttl := time.Duration(0)
			if !record.durable() {
				ttl = time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					return errLedgerNotFound
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, toKey, encoded, ttl)
				pipe.Del(ctx, fromKey)
				return nil
			})
			if err != nil {
				return err
			}

			promoted = record
			return nil
		}, fromKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errLedgerNotFound):
				return nil, errLedgerNotFound
			default:
				return nil, fmt.Errorf("%w: %v", errLedgerUnavailable, err)
			}
		}
		return promoted, nil
	}

	return nil, errLedgerNotFound
}

func encodeVerificationRecord(record *verificationRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(ledgerRecordVersion1)
	buf.WriteByte(byte(record.Flow))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	buf.WriteByte(byte(record.Params.Digits))
	if err := binary.Write(&buf, binary.BigEndian, uint16(record.Params.Period)); err != nil {
		return nil, err
	}

	for _, field := range []string{record.Params.Algorithm, record.Params.CharSet, record.Target} {
		if len(field) > 255 {
			return nil, errors.New("ledger record field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	if len(record.Secret) > 255 {
		return nil, errors.New("ledger record secret too long")
	}
	buf.WriteByte(byte(len(record.Secret)))
	buf.Write(record.Secret)

	return buf.Bytes(), nil
}

func decodeVerificationRecord(data []byte) (*verificationRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != ledgerRecordVersion1 {
		return nil, errors.New("invalid ledger record version")
	}

	flowByte, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record := &verificationRecord{Flow: Flow(flowByte)}
	if !record.Flow.Valid() {
		return nil, errors.New("invalid ledger record flow")
	}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	digits, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Params.Digits = int(digits)

	var period uint16
	if err := binary.Read(reader, binary.BigEndian, &period); err != nil {
		return nil, err
	}
	record.Params.Period = int(period)

	fields := make([]string, 3)
	for i := range fields {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	record.Params.Algorithm = fields[0]
	record.Params.CharSet = fields[1]
	record.Target = fields[2]

	secretLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	record.Secret = make([]byte, secretLen)
	if _, err := io.ReadFull(reader, record.Secret); err != nil {
		return nil, err
	}

	return record, nil
}

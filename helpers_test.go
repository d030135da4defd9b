package nightcap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nightcap-social/nightcap/notify"
)

func testConfig() Config {
	cfg := defaultConfig()
	cfg.FlowToken.Secret = []byte("0123456789abcdef0123456789abcdef")
	// Cheap hashing keeps the suite fast; production floors live in the
	// password package tests.
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// memoryDirectory is an in-memory Directory for engine tests.
type memoryDirectory struct {
	mu    sync.Mutex
	users map[string]UserRecord // keyed by user id
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{users: map[string]UserRecord{}}
}

func (d *memoryDirectory) add(user UserRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.UserID] = user
}

func (d *memoryDirectory) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (d *memoryDirectory) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (d *memoryDirectory) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	d.users[userID] = u
	return nil
}

func (d *memoryDirectory) UpdateEmail(_ context.Context, userID, newEmail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Email = newEmail
	d.users[userID] = u
	return nil
}

// chanNotifier feeds deliveries to a channel so tests can read the code the
// engine generated.
type chanNotifier struct {
	ch chan notify.Message
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{ch: make(chan notify.Message, 16)}
}

func (n *chanNotifier) Send(_ context.Context, msg notify.Message) error {
	n.ch <- msg
	return nil
}

func (n *chanNotifier) wait(t *testing.T) notify.Message {
	t.Helper()
	select {
	case msg := <-n.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return notify.Message{}
	}
}

func (n *chanNotifier) none(t *testing.T) {
	t.Helper()
	select {
	case msg := <-n.ch:
		t.Fatalf("unexpected notification for %s (%s)", msg.Target, msg.Purpose)
	case <-time.After(100 * time.Millisecond):
	}
}

func newVerifyTestEngine(t *testing.T, cfg Config) (*Engine, *memoryDirectory, *chanNotifier) {
	t.Helper()

	_, rdb := newTestRedis(t)
	dir := newMemoryDirectory()
	notifier := newChanNotifier()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(dir).
		WithNotifier(notifier).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, dir, notifier
}

func addTestUser(t *testing.T, engine *Engine, dir *memoryDirectory, userID, email, passphrase string) {
	t.Helper()

	hash, err := engine.hasher.Hash(passphrase)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	dir.add(UserRecord{UserID: userID, Email: email, PasswordHash: hash})
}

// currentCode derives the code an authenticator would show for the secret
// held by a ledger record.
func currentCode(t *testing.T, engine *Engine, target string, flow Flow) string {
	t.Helper()

	record, err := engine.ledger.Find(context.Background(), target, flow)
	if err != nil {
		t.Fatalf("ledger find failed: %v", err)
	}
	code, err := otpCodeAt(record.Secret, time.Now().Unix()/int64(record.Params.Period), record.Params)
	if err != nil {
		t.Fatalf("otpCodeAt failed: %v", err)
	}
	return code
}

package nightcap

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nightcap-social/nightcap/notify"
	"github.com/nightcap-social/nightcap/password"
	"github.com/nightcap-social/nightcap/session"
)

// Builder assembles an [Engine]. Configure it once, call [Builder.Build],
// and discard it; a Builder is single-use.
type Builder struct {
	config Config
	redis  *redis.Client

	directory Directory
	notifier  notify.Notifier
	auditSink AuditSink
	logger    *slog.Logger

	notifyBuffer int

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config:       defaultConfig(),
		notifyBuffer: 64,
	}
}

// WithConfig replaces the default configuration wholesale. Callers who only
// want to tweak a field should start from [New] and use the focused setters.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithDirectory(d Directory) *Builder {
	b.directory = d
	return b
}

// WithNotifier sets the out-of-band delivery channel for verification codes.
// Defaults to [notify.NoOpNotifier] when unset.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithNotifyBuffer bounds the post-commit delivery queue.
func (b *Builder) WithNotifyBuffer(size int) *Builder {
	b.notifyBuffer = size
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithFlowTokenSecret sets the HMAC key for signed verify-link tokens.
func (b *Builder) WithFlowTokenSecret(secret []byte) *Builder {
	b.config.FlowToken.Secret = secret
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the stores, and returns a ready
// Engine. The redis client and directory are mandatory.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("directory required")
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = notify.NoOpNotifier{}
	}

	engine := &Engine{
		config:    b.config,
		sessions:  session.NewStore(b.redis, b.config.Session.RedisPrefix),
		ledger:    newVerificationLedger(b.redis, b.config.Verification.RedisPrefix),
		handoff:   newHandoffStore(b.redis, b.config.Handoff.RedisPrefix),
		hasher:    hasher,
		directory: b.directory,
		notifyq:   notify.NewQueue(notifier, b.notifyBuffer, logger),
		tokens:    newFlowTokenSigner(b.config.FlowToken),
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:   newMetrics(b.config.Metrics),
		logger:    logger,
		clock:     clockNow,
	}

	return engine, nil
}

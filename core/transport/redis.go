package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"world-sync/core/keypath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxPublishRetries = 8

// NewRedisClient creates a Redis client from cfg.
func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// StateKey returns the hash holding the flat state of a session.
func StateKey(prefix, session string) string {
	return prefix + ":" + session + ":state"
}

// ChangesChannel returns the pub/sub channel carrying a session's notifications.
func ChangesChannel(prefix, session string) string {
	return prefix + ":" + session + ":changes"
}

// RedisTransport joins one session stored in Redis.
type RedisTransport struct {
	client      *redis.Client
	prefix      string
	session     string
	participant string
	logger      *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	closed bool
	// subs maps each open subscription to the func releasing it.
	subs map[*redis.PubSub]func() error
}

// NewRedisTransport creates a transport for session. The client is shared and is not
// closed by Close.
func NewRedisTransport(client *redis.Client, prefix, session, participant string, logger *zap.Logger) *RedisTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisTransport{
		client:      client,
		prefix:      prefix,
		session:     session,
		participant: participant,
		logger:      logger.With(zap.String("session", session)),
		ready:       make(chan struct{}),
		subs:        make(map[*redis.PubSub]func() error),
	}
}

// Connect checks the connection and marks the transport ready.
func (t *RedisTransport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	t.readyOnce.Do(func() { close(t.ready) })
	t.logger.Info("Joined session", zap.String("participant", t.participant))
	return nil
}

// Publish implements Transport. The read of the current keys, the write and the
// notification happen in one optimistic transaction, retried on contention.
func (t *RedisTransport) Publish(ctx context.Context, flat keypath.Flat) error {
	if err := t.check(); err != nil {
		return err
	}
	if len(flat) == 0 {
		return nil
	}

	key := StateKey(t.prefix, t.session)
	channel := ChangesChannel(t.prefix, t.session)

	txf := func(tx *redis.Tx) error {
		current, err := tx.HGetAll(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		change := Merge(keypath.Flat(current), flat)
		payload, err := json.Marshal(Notification{Session: t.session, Origin: t.participant, StateChange: change})
		if err != nil {
			return err
		}

		values := make(map[string]any, len(change.Added))
		for _, kv := range change.Added {
			values[kv.Key] = kv.Value
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(change.Removed) > 0 {
				pipe.HDel(ctx, key, change.Removed...)
			}
			pipe.HSet(ctx, key, values)
			pipe.Publish(ctx, channel, payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxPublishRetries; i++ {
		err := t.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			t.logger.Debug("Retrying contended publish", zap.Int("attempt", i+1))
			continue
		}
		return fmt.Errorf("failed to publish change-set: %w", err)
	}
	return fmt.Errorf("failed to publish change-set: %w", redis.TxFailedErr)
}

// State implements Transport.
func (t *RedisTransport) State(ctx context.Context) (keypath.Flat, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	values, err := t.client.HGetAll(ctx, StateKey(t.prefix, t.session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return keypath.Flat(values), nil
}

// Subscribe implements Transport.
func (t *RedisTransport) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	pubsub := t.client.Subscribe(ctx, ChangesChannel(t.prefix, t.session))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			n, err := DecodeNotification(msg.Payload)
			if err != nil {
				t.logger.Warn("Dropping undecodable notification", zap.Error(err))
				continue
			}
			handler(n.StateChange)
		}
	}()

	var (
		once     sync.Once
		closeErr error
	)
	done := make(chan struct{})
	release := func() error {
		once.Do(func() {
			close(done)
			closeErr = pubsub.Close()
		})
		return closeErr
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = release()
		return nil, ErrClosed
	}
	t.subs[pubsub] = release
	t.mu.Unlock()

	unsubscribe := func() {
		t.mu.Lock()
		delete(t.subs, pubsub)
		t.mu.Unlock()
		if err := release(); err != nil {
			t.logger.Warn("Failed to close subscription", zap.Error(err))
		}
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return unsubscribe, nil
}

// Ready implements Transport.
func (t *RedisTransport) Ready() <-chan struct{} {
	return t.ready
}

// Close implements Transport.
func (t *RedisTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	subs := t.subs
	t.subs = make(map[*redis.PubSub]func() error)
	t.mu.Unlock()

	var errs []error
	for _, release := range subs {
		errs = append(errs, release())
	}
	return errors.Join(errs...)
}

func (t *RedisTransport) check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

// RedisSessions opens Redis transports sharing one client.
type RedisSessions struct {
	Client      *redis.Client
	Prefix      string
	Participant string
	Logger      *zap.Logger
}

// Open implements Sessions. The returned transport is ready immediately; callers
// share a client whose connection is checked at startup.
func (r *RedisSessions) Open(session string) Transport {
	t := NewRedisTransport(r.Client, r.Prefix, session, r.Participant, r.Logger)
	t.readyOnce.Do(func() { close(t.ready) })
	return t
}

// DecodeNotification parses a notification payload.
func DecodeNotification(payload string) (Notification, error) {
	var n Notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return n, fmt.Errorf("failed to decode notification: %w", err)
	}
	return n, nil
}

// RedisWatcher receives the notifications of every session under a prefix.
type RedisWatcher struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisWatcher creates a watcher for every session under prefix.
func NewRedisWatcher(client *redis.Client, prefix string, logger *zap.Logger) *RedisWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWatcher{client: client, prefix: prefix, logger: logger}
}

// Pattern returns the channel pattern the watcher subscribes to.
func (w *RedisWatcher) Pattern() string {
	return ChangesChannel(w.prefix, "*")
}

// Run delivers notifications to handle until ctx is done.
func (w *RedisWatcher) Run(ctx context.Context, handle func(Notification)) error {
	pubsub := w.client.PSubscribe(ctx, w.Pattern())
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", w.Pattern(), err)
	}
	w.logger.Info("Watching sessions", zap.String("pattern", w.Pattern()))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, err := DecodeNotification(msg.Payload)
			if err != nil {
				w.logger.Warn("Dropping undecodable notification",
					zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if n.Session == "" {
				n.Session = sessionFromChannel(w.prefix, msg.Channel)
			}
			handle(n)
		}
	}
}

func sessionFromChannel(prefix, channel string) string {
	s := strings.TrimPrefix(channel, prefix+":")
	return strings.TrimSuffix(s, ":changes")
}

// Store bundles the connections opened from a Config.
type Store struct {
	Sessions Sessions
	Watcher  Watcher
	// Client is nil for the memory driver.
	Client *redis.Client
}

// Close releases the shared connection, if any.
func (s *Store) Close() error {
	if s.Client == nil {
		return nil
	}
	return s.Client.Close()
}

// Open connects to the store described by cfg. For redis, the connection is checked
// before returning.
func Open(ctx context.Context, cfg Config, participant string, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverMemory:
		sessions := NewMemorySessions(logger)
		return &Store{Sessions: sessions, Watcher: sessions}, nil
	case DriverRedis:
		client := NewRedisClient(cfg)
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
		}
		return &Store{
			Sessions: &RedisSessions{Client: client, Prefix: cfg.Prefix, Participant: participant, Logger: logger},
			Watcher:  NewRedisWatcher(client, cfg.Prefix, logger),
			Client:   client,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

package redisstore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xbeacon"
)

// Store implements xbeacon.PersistentStore on plain Redis strings.
type Store struct {
	cfg    Config
	client *redis.Client
	owned  bool
}

var _ xbeacon.PersistentStore = (*Store)(nil)

// New dials Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		PoolSize:     2,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(client, cfg.OpTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Store{cfg: cfg, client: client, owned: true}, nil
}

// NewFromClient wraps an existing client. Close leaves it open.
func NewFromClient(client *redis.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("redisstore: nil client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, client: client}, nil
}

func (s *Store) key(k string) string { return s.cfg.KeyPrefix + k }

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.OpTimeout)
}

// Get returns xbeacon.ErrNotFound for a missing key.
func (s *Store) Get(key string) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	b, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, xbeacon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", key, err)
	}
	return b, nil
}

// Set stores value with the configured TTL. Values above MaxValueBytes are
// refused with xbeacon.ErrQuotaExceeded.
func (s *Store) Set(key string, value []byte) error {
	if len(value) > s.cfg.MaxValueBytes {
		return xbeacon.ErrQuotaExceeded
	}
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.Set(ctx, s.key(key), value, s.cfg.TTL).Err(); err != nil {
		if strings.HasPrefix(err.Error(), "OOM") {
			return fmt.Errorf("redisstore: set %s: %w: %v", key, xbeacon.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("redisstore: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", key, err)
	}
	return nil
}

// Close releases the client when the Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func ping(c *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}
	return nil
}

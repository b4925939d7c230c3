// Package redis implements db.Store on Redis or Valkey through rueidis.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragvault/internal/db"
)

var _ db.Store = (*Store)(nil)

const (
	defaultClientName  = "ragvault"
	defaultDialTimeout = 5 * time.Second

	readyFirstWait = 50 * time.Millisecond
	readyMaxWait   = time.Second
)

// Config holds connection parameters for the embedding cache.
type Config struct {
	Addrs       []string
	Username    string
	Password    string
	DB          int
	ClientName  string        // shows up in CLIENT LIST; default "ragvault"
	DialTimeout time.Duration // default 5s
}

// Store is the embedding cache backend. Works against Redis 6+ and Valkey.
type Store struct {
	client rueidis.Client
}

// NewStore connects to the cache. Client-side caching stays off: every
// embedding is read at most a handful of times.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.ClientName == "" {
		cfg.ClientName = defaultClientName
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		ClientName:   cfg.ClientName,
		Dialer:       net.Dialer{Timeout: cfg.DialTimeout},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect cache %v: %w", cfg.Addrs, err)
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return &db.Error{Op: db.OpPing, Err: err}
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady pings with a doubling interval until the cache answers or
// timeout expires. The returned error carries both the deadline and the
// last ping failure.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := readyFirstWait
	timer := time.NewTimer(wait)
	defer timer.Stop()

	var lastErr error
	for {
		select {
		case <-ctx.Done():
			if lastErr == nil {
				return fmt.Errorf("cache not ready: %w", ctx.Err())
			}
			return fmt.Errorf("cache not ready: %w (last ping: %w)", ctx.Err(), lastErr)
		case <-timer.C:
			if lastErr = s.Ping(ctx); lastErr == nil {
				return nil
			}
			wait = min(wait*2, readyMaxWait)
			timer.Reset(wait)
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

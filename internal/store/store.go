// Package store persists submission records to the shared key-value
// store (Redis), keyed by submission_id with a 600s TTL. Development
// wiring goes through Sentinel for master discovery; production talks
// to a direct host.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oj-platform/exec-worker/internal/config"
)

// RecordTTL bounds how long a submission record stays in the store.
const RecordTTL = 600 * time.Second

// ReplacePair is one base64-encoded (from, to) textual substitution.
type ReplacePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Record is one submission's full state: the inputs it arrived with and
// the outputs execution fills in.
type Record struct {
	Code      string          `json:"code"`
	Language  string          `json:"language"`
	Input     []string        `json:"input"`
	Replace   [][]ReplacePair `json:"replace"`
	TestCases json.RawMessage `json:"test_cases"`

	Stdout []string `json:"stdout,omitempty"`
	Stderr []string `json:"stderr,omitempty"`
	Status string   `json:"status,omitempty"`
	Result string   `json:"result,omitempty"`
	Stdin  []string `json:"stdin,omitempty"`
}

// Store reads and writes Submission Records.
type Store struct {
	client redis.UniversalClient
}

// New builds a Store from the worker configuration: a Sentinel-backed
// failover client in development, a direct client in production.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	var client redis.UniversalClient

	switch cfg.Environment {
	case config.Development:
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.RedisMasterName,
			SentinelAddrs:    sentinelAddrs(cfg.RedisSentinels),
			SentinelPassword: cfg.RedisPassword,
			Password:         cfg.RedisPassword,
		})
	case config.Production:
		client = redis.NewClient(&redis.Options{
			Addr: fmt.Sprintf("%s:6379", cfg.RedisHost),
		})
	default:
		return nil, fmt.Errorf("store: unknown environment %q", cfg.Environment)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Get loads the submission record for submissionID.
func (s *Store) Get(ctx context.Context, submissionID string) (*Record, error) {
	data, err := s.client.Get(ctx, submissionID).Bytes()
	if err != nil {
		return nil, fmt.Errorf("getting submission %s: %w", submissionID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding submission %s: %w", submissionID, err)
	}
	return &rec, nil
}

// Set persists rec under submissionID with RecordTTL.
func (s *Store) Set(ctx context.Context, submissionID string, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding submission %s: %w", submissionID, err)
	}
	if err := s.client.Set(ctx, submissionID, data, RecordTTL).Err(); err != nil {
		return fmt.Errorf("setting submission %s: %w", submissionID, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// IsRetryable reports whether err is a connection/timeout-class Redis
// failure worth retrying under internal/retry's Store policy, as opposed
// to a logical error (bad JSON, missing key) that should propagate
// immediately.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	return isNetworkError(err)
}

// sentinelAddrs parses a comma-separated sentinel host list, defaulting
// the standard sentinel port for bare hostnames.
func sentinelAddrs(raw string) []string {
	var addrs []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, ":") {
			s += ":26379"
		}
		addrs = append(addrs, s)
	}
	return addrs
}

func isNetworkError(err error) bool {
	type timeout interface{ Timeout() bool }
	var t timeout
	if errors.As(err, &t) && t.Timeout() {
		return true
	}

	// Connection-class failures (refused/reset mid Sentinel failover)
	// are as transient as timeouts. net.AddrError and friends also
	// implement net.Error but describe a malformed address, a logical
	// error, so only dial/read/write failures count.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

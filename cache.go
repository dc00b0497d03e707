package surveygen

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TTLClass names the expiry policy attached to a cache entry. Each remote
// resource has its own server-side lifetime: uploaded files live 48 hours,
// context caches 60 minutes, and model responses never expire because they
// are deterministic for fixed inputs.
type TTLClass string

const (
	ClassPermanent TTLClass = "permanent"
	Class48Hours   TTLClass = "48h"
	Class60Minutes TTLClass = "60m"
)

// TTL returns the fixed duration for the class; zero means never expires.
func (c TTLClass) TTL() time.Duration {
	switch c {
	case Class48Hours:
		return 48 * time.Hour
	case Class60Minutes:
		return 60 * time.Minute
	default:
		return 0
	}
}

// cacheEnvelope is the on-disk representation of one entry.
type cacheEnvelope struct {
	CreatedAt time.Time `json:"created_at"`
	Class     TTLClass  `json:"class"`
	Value     []byte    `json:"value"`
}

// Store is an on-disk key/value cache with per-class lazy expiry. Entries
// survive process restarts so reruns of the same batch avoid re-billing.
//
// Expiry is evaluated on Get: an entry is a hit iff age < ttl, so an entry
// aged exactly the class duration is a miss. Expired entries are left on
// disk; a later Put for the same key overwrites them. A corrupted or
// unreadable entry is treated as a miss, never as an error — caching is an
// optimization, not a correctness requirement.
type Store struct {
	dir string
	now func() time.Time
	log *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source, used by tests to pin entry ages.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithStoreLogger sets the logger used for cache diagnostics.
func WithStoreLogger(log *slog.Logger) StoreOption {
	return func(s *Store) { s.log = log }
}

// NewStore opens (creating if needed) a cache directory.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{
		dir:   dir,
		now:   time.Now,
		log:   slog.Default(),
		locks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

// Get returns the cached value for key, or ok=false on a miss. Expired and
// corrupted entries are misses.
func (s *Store) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, false
	}

	var env cacheEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("discarding corrupted cache entry", "key", key, "error", err)
		return nil, false
	}

	if ttl := env.Class.TTL(); ttl > 0 {
		age := s.now().Sub(env.CreatedAt)
		if age >= ttl {
			s.log.Debug("cache entry expired", "key", key, "class", env.Class, "age", age)
			return nil, false
		}
	}
	return env.Value, true
}

// Put stores value under key with the given expiry class, overwriting any
// previous entry. The write itself is atomic (temp file plus rename) so a
// concurrent Get never observes a torn entry.
func (s *Store) Put(key string, value []byte, class TTLClass) error {
	env := cacheEnvelope{CreatedAt: s.now(), Class: class, Value: value}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := writeFileAtomic(s.path(key), data, 0o644); err != nil {
		return fmt.Errorf("write cache entry %s: %w", key, err)
	}
	return nil
}

// Evict removes the entry for key, if present. Used when the remote side
// reports a cached handle as invalid before its local TTL lapsed.
func (s *Store) Evict(key string) {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("failed to evict cache entry", "key", key, "error", err)
	}
}

// Lock serializes remote creation for a single key. Two workers racing on
// the same fingerprint block each other here, so the loser finds the
// winner's freshly written entry instead of issuing a duplicate remote
// call. The returned func releases the lock.
func (s *Store) Lock(key string) func() {
	s.mu.Lock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

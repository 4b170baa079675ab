package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/redmetrics/redmetrics-go/pkg/types"
)

// Errors returned by Store methods.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrInvalidRecord  = errors.New("store: invalid record")
	ErrUnknownVersion = errors.New("store: unknown game version")
)

// Kind distinguishes the two record collections.
type Kind string

const (
	KindEvent    Kind = "event"
	KindSnapshot Kind = "snapshot"
)

// Entry is a stored record with its server-side id and receive time.
type Entry struct {
	ID         string
	Record     map[string]any
	ReceivedAt time.Time
}

// Store is a thread-safe in-memory collector store.
type Store struct {
	mu           sync.RWMutex
	openVersions bool // accept any game version id
	versions     map[string]struct{}
	players      map[string]map[string]any
	records      map[Kind][]Entry
	ttl          time.Duration
	now          func() time.Time // injectable for deterministic tests
}

// New creates a Store. An empty versions list accepts every game version id.
func New(ttl time.Duration, versions ...string) *Store {
	s := &Store{
		openVersions: len(versions) == 0,
		versions:     make(map[string]struct{}, len(versions)),
		players:      make(map[string]map[string]any),
		records:      map[Kind][]Entry{KindEvent: nil, KindSnapshot: nil},
		ttl:          ttl,
		now:          time.Now,
	}
	for _, v := range versions {
		s.versions[v] = struct{}{}
	}
	return s
}

// HasGameVersion reports whether id is a known game version.
func (s *Store) HasGameVersion(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasVersionLocked(id)
}

func (s *Store) hasVersionLocked(id string) bool {
	if id == "" {
		return false
	}
	if s.openVersions {
		return true
	}
	_, ok := s.versions[id]
	return ok
}

// CreatePlayer stores info under a new UUID and returns the stored player,
// including its "id".
func (s *Store) CreatePlayer(info map[string]any) map[string]any {
	id := uuid.NewString()
	p := clone(info)
	p["id"] = id

	s.mu.Lock()
	s.players[id] = p
	s.mu.Unlock()
	return clone(p)
}

// UpdatePlayer replaces the attributes of player id.
func (s *Store) UpdatePlayer(id string, info map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return nil, fmt.Errorf("%w: player %q", ErrNotFound, id)
	}
	p := clone(info)
	p["id"] = id
	s.players[id] = p
	return clone(p), nil
}

// Player returns a copy of player id.
func (s *Store) Player(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, false
	}
	return clone(p), true
}

// Append validates and stores a batch. Either every record is stored or none.
// The stored records are returned with their assigned "id".
func (s *Store) Append(kind Kind, recs []map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range recs {
		if err := s.validateLocked(r); err != nil {
			return nil, fmt.Errorf("%s %d: %w", kind, i, err)
		}
	}

	now := s.now()
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		e := Entry{ID: uuid.NewString(), Record: clone(r), ReceivedAt: now}
		e.Record["id"] = e.ID
		s.records[kind] = append(s.records[kind], e)
		out = append(out, clone(e.Record))
	}
	return out, nil
}

func (s *Store) validateLocked(r map[string]any) error {
	gv, _ := r[types.FieldGameVersion].(string)
	if !s.hasVersionLocked(gv) {
		return fmt.Errorf("%w: %q", ErrUnknownVersion, gv)
	}
	player, _ := r[types.FieldPlayer].(string)
	if _, ok := s.players[player]; !ok {
		return fmt.Errorf("%w: unknown player %q", ErrInvalidRecord, player)
	}
	if sec, ok := r[types.FieldSection]; ok {
		if _, isString := sec.(string); !isString {
			return fmt.Errorf("%w: section must be a string", ErrInvalidRecord)
		}
	}
	return nil
}

// List returns copies of the stored records of kind, oldest first.
func (s *Store) List(kind Kind) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.records[kind]
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = Entry{ID: e.ID, Record: clone(e.Record), ReceivedAt: e.ReceivedAt}
	}
	return out
}

// Count returns the number of stored records of kind.
func (s *Store) Count(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[kind])
}

// PlayerCount returns the number of players.
func (s *Store) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

// Evict removes records received before now minus TTL and returns how many
// were removed. A zero TTL disables eviction.
func (s *Store) Evict(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for kind, entries := range s.records {
		// Records are appended in receive order.
		i := 0
		for i < len(entries) && !entries[i].ReceivedAt.After(cutoff) {
			i++
		}
		if i > 0 {
			s.records[kind] = append([]Entry(nil), entries[i:]...)
			removed += i
		}
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the TTL
// (minimum 1 second) and blocks until ctx is cancelled. With a zero TTL it
// just waits for ctx.
func (s *Store) Run(ctx context.Context) {
	if s.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted old records", "count", n)
			}
		}
	}
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	maps.Copy(out, m)
	return out
}

package userstore

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/prilive-com/ezsticker/internal/persist"
)

// Snapshot is the on-disk form of a MemoryStore.
type Snapshot struct {
	SchemaVersion int               `json:"schema_version"`
	Counters      map[string]int64  `json:"counters"`
	Users         map[string]Record `json:"users"`
}

// MemoryStore keeps every record in memory. Creation of a missing record
// is single-flighted per user id and re-checked under the write lock, so
// concurrent first contacts create exactly one record.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*Record
	counters *MemoryCounters
	creating singleflight.Group
	logger   *slog.Logger
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		users:    make(map[string]*Record),
		counters: NewMemoryCounters(),
		logger:   logger,
	}
}

func (s *MemoryStore) Counters() Counters { return s.counters }

func (s *MemoryStore) GetOrCreate(ctx context.Context, userID string, hint LanguageHint) (Record, error) {
	s.mu.RLock()
	if r, ok := s.users[userID]; ok {
		rec := r.Clone()
		s.mu.RUnlock()
		return rec, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.creating.Do(userID, func() (any, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if r, ok := s.users[userID]; ok {
			return r.Clone(), nil
		}
		rec := NewRecord()
		if hint != "" {
			rec.Lang = string(hint)
		}
		s.users[userID] = &rec
		if rec.Lang != DefaultLang {
			if err := s.counters.Increment(ctx, CounterLangsAutoSet); err != nil {
				return Record{}, err
			}
		}
		s.logger.Debug("user created", "user_id", userID, "lang", rec.Lang)
		return rec.Clone(), nil
	})
	if err != nil {
		return Record{}, err
	}
	rec := v.(Record)
	return rec.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.users[userID]
	if !ok {
		return Record{}, false, nil
	}
	return r.Clone(), true, nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, fn func(*Record)) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	applyPreferences(r, fn)
	return r.Clone(), nil
}

func (s *MemoryStore) IncrementUsage(ctx context.Context, userID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[userID]
	if !ok {
		return Record{}, ErrNotFound
	}
	r.Uses++
	if err := s.counters.Increment(ctx, CounterUses); err != nil {
		return Record{}, err
	}
	return r.Clone(), nil
}

func (s *MemoryStore) AddToPack(ctx context.Context, userID, assetRef string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[userID]
	if !ok {
		return Record{}, false, ErrNotFound
	}
	for i := range r.Pack {
		if r.Pack[i].AssetRef == assetRef {
			r.Pack[i].UseCount++
			return r.Clone(), false, nil
		}
	}
	r.Pack = append(r.Pack, PackSlot{AssetRef: assetRef, UseCount: 1})
	if err := s.counters.Increment(ctx, CounterPersonalStickersAdded); err != nil {
		return Record{}, false, err
	}
	return r.Clone(), true, nil
}

// Users returns every record ordered by user id.
func (s *MemoryStore) Users(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.users))
	for id, r := range s.users {
		out = append(out, Entry{ID: id, Record: r.Clone()})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Len returns the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// Snapshot copies the store for persisting.
func (s *MemoryStore) Snapshot() Snapshot {
	counters, _ := s.counters.All(context.Background())

	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make(map[string]Record, len(s.users))
	for id, r := range s.users {
		users[id] = r.Clone()
	}
	return Snapshot{
		SchemaVersion: SchemaVersion,
		Counters:      counters,
		Users:         users,
	}
}

// Restore replaces the store contents with snap, migrating every record
// with FillDefaults.
func (s *MemoryStore) Restore(snap Snapshot) {
	users := make(map[string]*Record, len(snap.Users))
	for id, r := range snap.Users {
		rec := FillDefaults(r)
		users[id] = &rec
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	s.counters.Restore(snap.Counters)
}

// Save writes a snapshot through fm.
func (s *MemoryStore) Save(fm *persist.FileManager) error {
	return fm.Save(s.Snapshot())
}

// Load restores the store from fm. Besides the current snapshot layout it
// accepts the legacy file that was a bare map of user id to record.
func (s *MemoryStore) Load(fm *persist.FileManager) error {
	var raw json.RawMessage
	found, err := fm.Load(&raw)
	if err != nil || !found {
		return err
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err == nil && snap.Users != nil {
		s.Restore(snap)
		s.logger.Info("user store restored", "users", len(snap.Users), "path", fm.Path())
		return nil
	}

	s.logger.Warn("snapshot has no users section, trying legacy users file format", "path", fm.Path())
	var legacy map[string]Record
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return err
	}
	s.Restore(Snapshot{Users: legacy})
	s.logger.Warn("migration from legacy users file successful", "users", len(legacy))
	return nil
}

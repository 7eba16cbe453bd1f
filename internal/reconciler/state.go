package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelqueue/internal/cache"
)

// Entry is a persisted watch.
type Entry struct {
	JobID     uuid.UUID `json:"job_id"`
	StartTime time.Time `json:"start_time"`
}

// WatchState persists watches keyed by job id so they survive a restart.
type WatchState interface {
	Save(ctx context.Context, e Entry) error
	Load(ctx context.Context, jobID uuid.UUID) (Entry, bool, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
	List(ctx context.Context) ([]Entry, error)
}

// FileState keeps watches in a single JSON file. Writes go to a temp file that
// is renamed over the original, so a crash never leaves a torn file. Every
// operation holds an advisory lock on <path>.lock, so watchers in separate
// processes can share one state file without losing each other's updates.
type FileState struct {
	path string
	mu   sync.Mutex
}

func NewFileState(path string) *FileState {
	return &FileState{path: path}
}

// locked runs fn while holding both the in-process mutex and the lock file.
func (f *FileState) locked(fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	defer lf.Close()
	if err := lockFile(lf); err != nil {
		return fmt.Errorf("locking %s: %w", lf.Name(), err)
	}
	defer unlockFile(lf)

	return fn()
}

func (f *FileState) read() (map[uuid.UUID]Entry, error) {
	entries := make(map[uuid.UUID]Entry)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	var list []Entry
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	for _, e := range list {
		entries[e.JobID] = e
	}
	return entries, nil
}

func (f *FileState) write(entries map[uuid.UUID]Entry) error {
	data, err := json.MarshalIndent(sortedEntries(entries), "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".watch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileState) Save(_ context.Context, e Entry) error {
	return f.locked(func() error {
		entries, err := f.read()
		if err != nil {
			return err
		}
		entries[e.JobID] = e
		return f.write(entries)
	})
}

func (f *FileState) Load(_ context.Context, jobID uuid.UUID) (Entry, bool, error) {
	var (
		e  Entry
		ok bool
	)
	err := f.locked(func() error {
		entries, err := f.read()
		if err != nil {
			return err
		}
		e, ok = entries[jobID]
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return e, ok, nil
}

func (f *FileState) Delete(_ context.Context, jobID uuid.UUID) error {
	return f.locked(func() error {
		entries, err := f.read()
		if err != nil {
			return err
		}
		if _, ok := entries[jobID]; !ok {
			return nil
		}
		delete(entries, jobID)
		return f.write(entries)
	})
}

func (f *FileState) List(_ context.Context) ([]Entry, error) {
	var list []Entry
	err := f.locked(func() error {
		entries, err := f.read()
		if err != nil {
			return err
		}
		list = sortedEntries(entries)
		return nil
	})
	return list, err
}

func sortedEntries(entries map[uuid.UUID]Entry) []Entry {
	list := make([]Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	sort.Slice(list, func(a, b int) bool {
		if !list[a].StartTime.Equal(list[b].StartTime) {
			return list[a].StartTime.Before(list[b].StartTime)
		}
		return list[a].JobID.String() < list[b].JobID.String()
	})
	return list
}

// RedisState keeps each watch under its own key plus an index set of job ids,
// so watchers on any host can resume them.
type RedisState struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewRedisState creates a RedisState. Entries expire after ttl, which should be
// longer than the watch window; zero keeps them until deleted.
func NewRedisState(c cache.Cache, ttl time.Duration) *RedisState {
	return &RedisState{cache: c, ttl: ttl}
}

func (s *RedisState) Save(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, cache.WatchKey(e.JobID), data, s.ttl); err != nil {
		return fmt.Errorf("saving watch: %w", err)
	}
	if err := s.cache.AddToSet(ctx, cache.WatchIndexKey(), e.JobID.String()); err != nil {
		return fmt.Errorf("indexing watch: %w", err)
	}
	return nil
}

func (s *RedisState) Load(ctx context.Context, jobID uuid.UUID) (Entry, bool, error) {
	data, ok, err := s.cache.Get(ctx, cache.WatchKey(jobID))
	if err != nil || !ok {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decoding watch %s: %w", jobID, err)
	}
	return e, true, nil
}

func (s *RedisState) Delete(ctx context.Context, jobID uuid.UUID) error {
	if err := s.cache.Delete(ctx, cache.WatchKey(jobID)); err != nil {
		return err
	}
	return s.cache.RemoveFromSet(ctx, cache.WatchIndexKey(), jobID.String())
}

// List returns the indexed watches. Index members whose key has expired are
// pruned.
func (s *RedisState) List(ctx context.Context) ([]Entry, error) {
	members, err := s.cache.SetMembers(ctx, cache.WatchIndexKey())
	if err != nil {
		return nil, fmt.Errorf("listing watches: %w", err)
	}
	entries := make(map[uuid.UUID]Entry, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			_ = s.cache.RemoveFromSet(ctx, cache.WatchIndexKey(), m)
			continue
		}
		e, ok, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			_ = s.cache.RemoveFromSet(ctx, cache.WatchIndexKey(), m)
			continue
		}
		entries[id] = e
	}
	return sortedEntries(entries), nil
}

var (
	_ WatchState = (*FileState)(nil)
	_ WatchState = (*RedisState)(nil)
)

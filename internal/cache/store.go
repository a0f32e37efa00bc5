// Package cache holds the client-side entity cache: server-derived values
// keyed by structured query keys, with prefix invalidation and
// latest-request-wins fetching.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"boardsync/internal/observability"
)

// ErrSuperseded is returned by Fetch when a newer fetch for the same key was
// issued (or the cache was cleared) before this one resolved.
var ErrSuperseded = errors.New("cache: fetch superseded by a newer request")

// Cloner is implemented by cached values that carry reference fields.
// Values leave and enter the store through Clone so callers never share
// mutable state with it.
type Cloner interface {
	Clone() any
}

// FetchFunc loads the authoritative value for a key.
type FetchFunc func(ctx context.Context) (any, error)

// Entry is the cached state for one key. Data is nil when no fetch has
// succeeded yet; Err is the most recent fetch failure.
type Entry struct {
	Key       QueryKey
	Data      any
	FetchedAt time.Time
	IsStale   bool
	Err       error
}

// HasData reports whether the entry carries a value.
func (e Entry) HasData() bool {
	return e.Data != nil
}

// Snapshot is a restorable copy of one key's state, including absence.
type Snapshot struct {
	Key     QueryKey
	Entry   Entry
	Present bool
	gen     uint64
}

type observer struct {
	refs  int
	fetch FetchFunc
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for background refetch failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is safe for concurrent use.
type Store struct {
	mu           sync.Mutex
	entries      map[string]Entry
	observers    map[string]*observer
	seq          map[string]uint64
	gen          uint64
	listeners    map[int]func(QueryKey)
	nextListener int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now    func() time.Time
	logger *slog.Logger
}

func New(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[string]Entry),
		observers: make(map[string]*observer),
		seq:       make(map[string]uint64),
		listeners: make(map[int]func(QueryKey)),
		now:       time.Now,
		logger:    observability.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func clone(v any) any {
	if c, ok := v.(Cloner); ok {
		return c.Clone()
	}
	return v
}

func (e Entry) copied() Entry {
	e.Key = slices.Clone(e.Key)
	e.Data = clone(e.Data)
	return e
}

// Get returns a private copy of the entry for key.
func (s *Store) Get(key QueryKey) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Entry{}, false
	}
	return e.copied(), true
}

// Set stores an authoritative value: fresh, not stale, no error.
func (s *Store) Set(key QueryKey, data any) {
	s.mu.Lock()
	s.entries[key.String()] = Entry{
		Key:       slices.Clone(key),
		Data:      clone(data),
		FetchedAt: s.now(),
	}
	s.mu.Unlock()

	s.notify(key)
}

// Update applies fn to the current value. fn receives a private copy and
// reports whether a value is present; returning keep=false leaves the entry
// untouched. An entry created by Update has never been fetched and is
// therefore stale. fn must not call back into the Store.
func (s *Store) Update(key QueryKey, fn func(old any, ok bool) (next any, keep bool)) bool {
	k := key.String()

	s.mu.Lock()
	e, exists := s.entries[k]
	var old any
	if exists && e.HasData() {
		old = clone(e.Data)
	}
	next, keep := fn(old, old != nil)
	if !keep {
		s.mu.Unlock()
		return false
	}
	if !exists || !e.HasData() {
		e.Key = slices.Clone(key)
		e.IsStale = true
	}
	e.Data = clone(next)
	s.entries[k] = e
	s.mu.Unlock()

	s.notify(key)
	return true
}

// Snapshot captures the key's current state for a later Restore.
func (s *Store) Snapshot(key QueryKey) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key.String()]
	snap := Snapshot{Key: slices.Clone(key), Present: ok, gen: s.gen}
	if ok {
		snap.Entry = e.copied()
	}
	return snap
}

// Restore puts back exactly what Snapshot captured. A snapshot of an absent
// key removes the entry. Snapshots taken before the last Clear are ignored
// and Restore reports false.
func (s *Store) Restore(snap Snapshot) bool {
	k := snap.Key.String()

	s.mu.Lock()
	if snap.gen != s.gen {
		s.mu.Unlock()
		return false
	}
	if snap.Present {
		s.entries[k] = snap.Entry.copied()
	} else {
		delete(s.entries, k)
	}
	s.mu.Unlock()

	s.notify(snap.Key)
	return true
}

// Remove drops the entry for key.
func (s *Store) Remove(key QueryKey) bool {
	k := key.String()

	s.mu.Lock()
	_, ok := s.entries[k]
	delete(s.entries, k)
	s.mu.Unlock()

	if ok {
		s.notify(key)
	}
	return ok
}

// Invalidate marks every entry whose key starts with prefix as stale and
// schedules a refetch for the ones currently observed. It returns the
// number of entries marked.
func (s *Store) Invalidate(prefix QueryKey) int {
	type refetch struct {
		key   QueryKey
		fetch FetchFunc
	}

	s.mu.Lock()
	var marked []QueryKey
	for k, e := range s.entries {
		if !e.Key.HasPrefix(prefix) {
			continue
		}
		e.IsStale = true
		s.entries[k] = e
		marked = append(marked, e.Key)
	}

	var pending []refetch
	for k, obs := range s.observers {
		e, ok := s.entries[k]
		if ok && e.Key.HasPrefix(prefix) {
			pending = append(pending, refetch{key: e.Key, fetch: obs.fetch})
		}
	}
	ctx := s.ctx
	s.mu.Unlock()

	if len(marked) > 0 {
		observability.CacheInvalidations.WithLabelValues(prefix.Kind()).Add(float64(len(marked)))
	}
	for _, key := range marked {
		s.notify(key)
	}
	for _, r := range pending {
		s.refetch(ctx, r.key, r.fetch)
	}
	return len(marked)
}

func (s *Store) refetch(ctx context.Context, key QueryKey, fetch FetchFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Fetch(ctx, key, fetch); err != nil && !errors.Is(err, ErrSuperseded) && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "background refetch failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Fetch runs fetch and stores its result unless a newer Fetch for the same
// key was started meanwhile, in which case the result is discarded and
// ErrSuperseded is returned. A failed fetch keeps any existing data and
// records the error on the entry.
func (s *Store) Fetch(ctx context.Context, key QueryKey, fetch FetchFunc) (Entry, error) {
	k := key.String()

	s.mu.Lock()
	s.seq[k]++
	mine, gen := s.seq[k], s.gen
	s.mu.Unlock()

	data, err := fetch(ctx)

	s.mu.Lock()
	if gen != s.gen || s.seq[k] != mine {
		s.mu.Unlock()
		observability.StaleFetchesDiscarded.WithLabelValues(key.Kind()).Inc()
		return Entry{}, ErrSuperseded
	}

	e, exists := s.entries[k]
	if err != nil {
		if !exists {
			e = Entry{Key: slices.Clone(key)}
		}
		e.Err = err
	} else {
		e = Entry{Key: slices.Clone(key), Data: clone(data), FetchedAt: s.now()}
	}
	s.entries[k] = e
	out := e.copied()
	s.mu.Unlock()

	if err != nil {
		observability.FetchFailures.WithLabelValues(key.Kind()).Inc()
	}
	s.notify(key)
	return out, err
}

// Load returns the cached entry when it is fresh and fetches otherwise.
func (s *Store) Load(ctx context.Context, key QueryKey, fetch FetchFunc) (Entry, error) {
	if e, ok := s.Get(key); ok && e.HasData() && !e.IsStale && e.Err == nil {
		return e, nil
	}

	e, err := s.Fetch(ctx, key, fetch)
	if errors.Is(err, ErrSuperseded) {
		if cur, ok := s.Get(key); ok && cur.HasData() {
			return cur, nil
		}
	}
	return e, err
}

// Observe marks key as in use so that invalidation refetches it, and
// schedules a fetch right away when the entry is missing or stale. The
// returned function ends the observation.
func (s *Store) Observe(key QueryKey, fetch FetchFunc) (unobserve func()) {
	k := key.String()

	s.mu.Lock()
	obs, ok := s.observers[k]
	if !ok {
		obs = &observer{}
		s.observers[k] = obs
	}
	obs.refs++
	obs.fetch = fetch
	e, exists := s.entries[k]
	needsFetch := !exists || !e.HasData() || e.IsStale
	ctx := s.ctx
	s.mu.Unlock()

	if needsFetch {
		s.refetch(ctx, key, fetch)
	}

	return sync.OnceFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.observers[k]; ok && cur == obs {
			cur.refs--
			if cur.refs <= 0 {
				delete(s.observers, k)
			}
		}
	})
}

// Observed reports whether key currently has observers.
func (s *Store) Observed(key QueryKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.observers[key.String()]
	return ok
}

// Subscribe registers fn to be called after any change to a key. Clear
// calls fn with a nil key.
func (s *Store) Subscribe(fn func(QueryKey)) (cancel func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(key QueryKey) {
	s.mu.Lock()
	fns := make([]func(QueryKey), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(key)
	}
}

// Clear empties the cache, drops observers, and discards the results of
// fetches still in flight. Used when the session identity changes.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cancel()
	s.entries = make(map[string]Entry)
	s.observers = make(map[string]*observer)
	s.seq = make(map[string]uint64)
	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.notify(nil)
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Wait blocks until scheduled background refetches have finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels background refetches and waits for them.
func (s *Store) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Value extracts typed data from an entry.
func Value[T any](e Entry) (T, bool) {
	v, ok := e.Data.(T)
	return v, ok
}

// GetAs returns the typed value cached under key.
func GetAs[T any](s *Store, key QueryKey) (T, bool) {
	e, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	return Value[T](e)
}

// UpdateAs is Update for a known value type. A stored value of another type
// is treated as absent.
func UpdateAs[T any](s *Store, key QueryKey, fn func(old T, ok bool) (T, bool)) bool {
	return s.Update(key, func(old any, ok bool) (any, bool) {
		var typed T
		if ok {
			typed, ok = old.(T)
		}
		next, keep := fn(typed, ok)
		return next, keep
	})
}

// Package ctxstore is the shared, tag-indexed history of task results that
// feeds prior work back into new prompts.
package ctxstore

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

const (
	// DefaultMaxEntries caps the total number of entries kept in memory.
	DefaultMaxEntries = 1000
	// DefaultMaxAge is how long an entry is kept.
	DefaultMaxAge = 24 * time.Hour
	// DefaultDebounce is the window in which stores are coalesced into one flush.
	DefaultDebounce = 2 * time.Second
	// DefaultSummaryLength truncates entry content returned by GetContext.
	DefaultSummaryLength = 500
)

// ErrInvalidEntry is returned by Store for entries missing a producer or type.
var ErrInvalidEntry = errors.New("invalid context entry")

// record pairs an entry with its global append sequence, used to order
// entries that share a timestamp.
type record struct {
	entry models.ContextEntry
	seq   uint64
}

// Store keeps context entries grouped by producer. Entries are only appended
// and evicted, never changed. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex
	// byProducer maps producer ID to its entries in append order.
	byProducer map[string][]record
	count      int
	seq        uint64
	timer      *time.Timer
	closed     bool

	// flushMu serializes writes to the persister.
	flushMu sync.Mutex

	persister     Persister
	maxEntries    int
	maxAge        time.Duration
	debounce      time.Duration
	summaryLength int
	now           func() time.Time
	logf          func(format string, args ...interface{})
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries sets the global entry cap.
func WithMaxEntries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithMaxAge sets the maximum entry age.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithDebounce sets the flush coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithSummaryLength sets the content truncation length for GetContext.
func WithSummaryLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.summaryLength = n
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogf overrides log.Printf for persistence warnings.
func WithLogf(fn func(format string, args ...interface{})) Option {
	return func(s *Store) {
		if fn != nil {
			s.logf = fn
		}
	}
}

// New creates an empty store. A nil persister keeps entries in memory only.
func New(p Persister, opts ...Option) *Store {
	if p == nil {
		p = NopPersister{}
	}
	s := &Store{
		byProducer:    make(map[string][]record),
		persister:     p,
		maxEntries:    DefaultMaxEntries,
		maxAge:        DefaultMaxAge,
		debounce:      DefaultDebounce,
		summaryLength: DefaultSummaryLength,
		now:           time.Now,
		logf:          log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store appends an entry and returns it as stored. Missing IDs and
// timestamps are filled in. Eviction runs before Store returns, and a
// debounced flush is scheduled.
func (s *Store) Store(entry models.ContextEntry) (models.ContextEntry, error) {
	if entry.ProducerID == "" {
		return models.ContextEntry{}, fmt.Errorf("%w: producer id is empty", ErrInvalidEntry)
	}
	if !entry.Type.Valid() {
		return models.ContextEntry{}, fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, entry.Type)
	}

	e := entry.Clone()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	s.mu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.seq++
	s.byProducer[e.ProducerID] = append(s.byProducer[e.ProducerID], record{entry: e, seq: s.seq})
	s.count++
	s.evictLocked()
	s.scheduleFlushLocked()
	s.mu.Unlock()

	return e.Clone(), nil
}

// GetContext returns up to limit entries tagged with category, newest first.
// Content is truncated to the summary length. The result is a copy.
func (s *Store) GetContext(category models.Category, limit int) []models.ContextEntry {
	if limit <= 0 {
		return nil
	}

	s.mu.Lock()
	var matches []record
	for _, recs := range s.byProducer {
		for _, r := range recs {
			if r.entry.HasTag(string(category)) {
				matches = append(matches, r)
			}
		}
	}
	s.mu.Unlock()

	sortNewestFirst(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]models.ContextEntry, len(matches))
	for i, r := range matches {
		e := r.entry.Clone()
		e.Content = Summarize(e.Content, s.summaryLength)
		out[i] = e
	}
	return out
}

// Entries returns every entry of one producer in append order, untruncated.
func (s *Store) Entries(producerID string) []models.ContextEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.byProducer[producerID]
	out := make([]models.ContextEntry, len(recs))
	for i, r := range recs {
		out[i] = r.entry.Clone()
	}
	return out
}

// Errors returns the error entries of one producer, oldest first.
func (s *Store) Errors(producerID string) []models.ContextEntry {
	var out []models.ContextEntry
	for _, e := range s.Entries(producerID) {
		if e.Type == models.EntryError {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the total number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Flush writes the full store to the persister now. Failures are returned
// as *PersistenceError and leave memory untouched.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if err := s.persister.Save(snapshot); err != nil {
		return wrapPersistence("save", s.persister, err)
	}
	return nil
}

// Load replaces the in-memory entries with the persisted ones and applies
// eviction. On failure the store is left unchanged.
func (s *Store) Load() error {
	data, err := s.persister.Load()
	if err != nil {
		return wrapPersistence("load", s.persister, err)
	}

	var recs []record
	for producer, entries := range data {
		for _, e := range entries {
			if e.ProducerID == "" {
				e.ProducerID = producer
			}
			recs = append(recs, record{entry: e.Clone()})
		}
	}
	// Re-number in timestamp order so later appends sort after loaded entries.
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].entry.Timestamp.Before(recs[j].entry.Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byProducer = make(map[string][]record)
	s.count = 0
	s.seq = 0
	for _, r := range recs {
		s.seq++
		r.seq = s.seq
		s.byProducer[r.entry.ProducerID] = append(s.byProducer[r.entry.ProducerID], r)
		s.count++
	}
	s.evictLocked()
	return nil
}

// Close cancels any pending debounced flush and flushes once more.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush()
}

// evictLocked drops entries older than maxAge, then the globally oldest
// entries until the count is within maxEntries.
func (s *Store) evictLocked() {
	cutoff := s.now().Add(-s.maxAge)
	for producer, recs := range s.byProducer {
		kept := recs[:0]
		for _, r := range recs {
			if r.entry.Timestamp.Before(cutoff) {
				s.count--
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.byProducer, producer)
		} else {
			s.byProducer[producer] = kept
		}
	}

	excess := s.count - s.maxEntries
	if excess <= 0 {
		return
	}

	all := make([]record, 0, s.count)
	for _, recs := range s.byProducer {
		all = append(all, recs...)
	}
	sortNewestFirst(all)
	drop := make(map[uint64]bool, excess)
	for _, r := range all[len(all)-excess:] {
		drop[r.seq] = true
	}

	for producer, recs := range s.byProducer {
		kept := recs[:0]
		for _, r := range recs {
			if drop[r.seq] {
				s.count--
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.byProducer, producer)
		} else {
			s.byProducer[producer] = kept
		}
	}
}

// scheduleFlushLocked arms the debounce timer unless one is already pending.
func (s *Store) scheduleFlushLocked() {
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		s.timer = nil
		s.mu.Unlock()
		if err := s.Flush(); err != nil {
			s.logf("[ctxstore] WARNING: debounced flush failed: %v", err)
		}
	})
}

func (s *Store) snapshotLocked() map[string][]models.ContextEntry {
	out := make(map[string][]models.ContextEntry, len(s.byProducer))
	for producer, recs := range s.byProducer {
		entries := make([]models.ContextEntry, len(recs))
		for i, r := range recs {
			entries[i] = r.entry.Clone()
		}
		out[producer] = entries
	}
	return out
}

func sortNewestFirst(recs []record) {
	sort.Slice(recs, func(i, j int) bool {
		ti, tj := recs[i].entry.Timestamp, recs[j].entry.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return recs[i].seq > recs[j].seq
	})
}

// Summarize truncates s to at most n runes, marking the cut with "...".
func Summarize(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

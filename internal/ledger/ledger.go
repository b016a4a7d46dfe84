// Package ledger keeps the append-only list of committed attendance events and
// flushes it to durable storage.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// ErrPersistence wraps every failure of the backing store. The events stay in
// memory and the next Flush retries.
var ErrPersistence = errors.New("ledger persistence failed")

// Snapshot is a consistent copy of the ledger handed to a Store.
type Snapshot struct {
	All          []Event
	Session      []Event // events of SessionLabel on Date
	SessionLabel string
	Date         string
	TakenAt      time.Time
}

// Store persists snapshots. Writes must be idempotent: the same event can be
// part of many snapshots.
type Store interface {
	Write(ctx context.Context, snap Snapshot) error
}

// Loader is implemented by stores that can return previously persisted events.
type Loader interface {
	Load(ctx context.Context) ([]Event, error)
}

// Ledger is the in-memory attendance ledger.
type Ledger struct {
	store        Store
	sessionLabel string
	now          func() time.Time
	logger       *slog.Logger

	mu         sync.Mutex
	events     []Event
	generation uint64 // bumped on every Append
	flushedGen uint64

	flushMu sync.Mutex
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithClock overrides the clock used to pick the session date on flush.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates an empty ledger. A nil store keeps events in memory only.
func New(store Store, sessionLabel string, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		sessionLabel: sessionLabel,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load preloads events persisted by earlier runs. It is a no-op for stores
// that cannot load.
func (l *Ledger) Load(ctx context.Context) (int, error) {
	loader, ok := l.store.(Loader)
	if !ok {
		return 0, nil
	}
	events, err := loader.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: loading: %w", ErrPersistence, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(append(make([]Event, 0, len(events)+len(l.events)), events...), l.events...)
	return len(events), nil
}

// Append adds an event. It never fails; persistence happens on Flush.
func (l *Ledger) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	l.generation++
}

// Events returns a copy of all events.
func (l *Ledger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Count returns the number of events.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// SessionEvents returns events of one session label on one date.
func (l *Ledger) SessionEvents(label, date string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return filterSession(l.events, label, date)
}

// Dirty reports whether events were appended since the last successful flush.
func (l *Ledger) Dirty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation != l.flushedGen
}

// Flush writes the full ledger and today's session subset to the store.
// It is safe to call while other goroutines Append: the store receives a
// snapshot, and events appended during the write stay dirty for the next flush.
func (l *Ledger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	if l.generation == l.flushedGen {
		l.mu.Unlock()
		return nil
	}
	gen := l.generation
	all := make([]Event, len(l.events))
	copy(all, l.events)
	l.mu.Unlock()

	now := l.now()
	date := now.Local().Format(DateLayout)
	snap := Snapshot{
		All:          all,
		Session:      filterSession(all, l.sessionLabel, date),
		SessionLabel: l.sessionLabel,
		Date:         date,
		TakenAt:      now,
	}

	if err := l.store.Write(ctx, snap); err != nil {
		l.logger.Warn("ledger flush failed, will retry", "events", len(all), "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	l.mu.Lock()
	l.flushedGen = gen
	l.mu.Unlock()

	l.logger.Info("ledger flushed", "events", len(all), "session_events", len(snap.Session))
	return nil
}

func filterSession(events []Event, label, date string) []Event {
	var out []Event
	for _, e := range events {
		if e.SessionLabel == label && e.Date == date {
			out = append(out, e)
		}
	}
	return out
}

// MultiStore writes every snapshot to all stores. Loading merges every store
// that implements Loader, so a store added to an existing kiosk starts from the
// history the others already hold. Events are matched by ID and the first
// store's copy wins.
type MultiStore []Store

func (m MultiStore) Write(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiStore) Load(ctx context.Context) ([]Event, error) {
	var merged []Event
	seen := make(map[string]bool)
	for _, s := range m {
		loader, ok := s.(Loader)
		if !ok {
			continue
		}
		events, err := loader.Load(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range events {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	slices.SortStableFunc(merged, func(a, b Event) int {
		return a.AttendanceTime.Compare(b.AttendanceTime)
	})
	return merged, nil
}

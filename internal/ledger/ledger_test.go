package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jana  = roster.Identity{ID: "S001", DisplayName: "Jana", Contact: "jana@example.com"}
	tomas = roster.Identity{ID: "S002", DisplayName: "Tomas", Contact: "tomas@example.com"}
)

type recordingStore struct {
	mu     sync.Mutex
	snaps  []Snapshot
	err    error
	loaded []Event
}

func (s *recordingStore) Write(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *recordingStore) Load(context.Context) ([]Event, error) {
	return s.loaded, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(store Store, now time.Time) *Ledger {
	return New(store, "CS101", WithLogger(quietLogger()), WithClock(func() time.Time { return now }))
}

func TestNewEvent(t *testing.T) {
	issued := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	committed := issued.Add(3 * time.Minute)

	e := NewEvent(jana, "CS101", issued, committed)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "S001", e.IdentityID)
	assert.Equal(t, "2025-05-23", e.Date)
	assert.Equal(t, "09:03", e.TimeOfDay)
	assert.Equal(t, StatusPresent, e.Status)
	assert.Equal(t, []string{"Jana", "S001", "jana@example.com", "CS101", "2025-05-23", "09:03", "2025-05-23 09:00:00", "Present"}, e.Record())
}

func TestAppend_CountAndEvents(t *testing.T) {
	now := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	l := newTestLedger(nil, now)

	l.Append(NewEvent(jana, "CS101", now, now))
	l.Append(NewEvent(tomas, "CS101", now, now))

	assert.Equal(t, 2, l.Count())
	events := l.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "S001", events[0].IdentityID)
	assert.Equal(t, "S002", events[1].IdentityID)

	events[0].IdentityID = "changed"
	assert.Equal(t, "S001", l.Events()[0].IdentityID)
}

func TestSessionEvents_FiltersLabelAndDate(t *testing.T) {
	day1 := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	day2 := day1.Add(24 * time.Hour)
	l := newTestLedger(nil, day1)

	l.Append(NewEvent(jana, "CS101", day1, day1))
	l.Append(NewEvent(tomas, "CS102", day1, day1))
	l.Append(NewEvent(tomas, "CS101", day2, day2))

	got := l.SessionEvents("CS101", "2025-05-23")
	require.Len(t, got, 1)
	assert.Equal(t, "S001", got[0].IdentityID)
}

func TestFlush_WritesSnapshot(t *testing.T) {
	now := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	store := &recordingStore{}
	l := newTestLedger(store, now)

	l.Append(NewEvent(jana, "CS101", now, now))
	l.Append(NewEvent(tomas, "CS999", now, now))
	require.True(t, l.Dirty())

	require.NoError(t, l.Flush(context.Background()))
	require.Len(t, store.snaps, 1)
	snap := store.snaps[0]
	assert.Len(t, snap.All, 2)
	assert.Len(t, snap.Session, 1)
	assert.Equal(t, "CS101", snap.SessionLabel)
	assert.Equal(t, "2025-05-23", snap.Date)
	assert.False(t, l.Dirty())

	// Nothing new, nothing written.
	require.NoError(t, l.Flush(context.Background()))
	assert.Len(t, store.snaps, 1)
}

func TestFlush_FailureKeepsEvents(t *testing.T) {
	now := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	store := &recordingStore{err: errors.New("disk full")}
	l := newTestLedger(store, now)
	l.Append(NewEvent(jana, "CS101", now, now))

	err := l.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 1, l.Count())
	assert.True(t, l.Dirty())

	store.err = nil
	require.NoError(t, l.Flush(context.Background()))
	assert.Len(t, store.snaps, 1)
	assert.False(t, l.Dirty())
}

func TestFlush_NilStore(t *testing.T) {
	l := newTestLedger(nil, time.Now())
	l.Append(NewEvent(jana, "CS101", time.Now(), time.Now()))
	assert.NoError(t, l.Flush(context.Background()))
}

func TestFlush_ConcurrentAppend(t *testing.T) {
	now := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	store := &recordingStore{}
	l := newTestLedger(store, now)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Append(NewEvent(jana, "CS101", now, now))
		}()
		go func() {
			defer wg.Done()
			_ = l.Flush(context.Background())
		}()
	}
	wg.Wait()

	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 50, l.Count())
	last := store.snaps[len(store.snaps)-1]
	assert.Len(t, last.All, 50)
}

func TestLoad_PrependsPersisted(t *testing.T) {
	now := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	store := &recordingStore{loaded: []Event{NewEvent(tomas, "CS101", now, now)}}
	l := newTestLedger(store, now)
	l.Append(NewEvent(jana, "CS101", now, now))

	n, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := l.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "S002", events[0].IdentityID)
	assert.Equal(t, "S001", events[1].IdentityID)
}

func TestMultiStore(t *testing.T) {
	a := &recordingStore{}
	b := &recordingStore{err: errors.New("down")}
	c := &recordingStore{}

	err := MultiStore{a, b, c}.Write(context.Background(), Snapshot{})
	require.Error(t, err)
	assert.Len(t, a.snaps, 1)
	assert.Len(t, c.snaps, 1)
}

func TestMultiStore_LoadMergesAllLoaders(t *testing.T) {
	t0 := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)
	first := NewEvent(jana, "CS101", t0, t0.Add(time.Minute))
	second := NewEvent(tomas, "CS101", t0.Add(2*time.Minute), t0.Add(3*time.Minute))

	primaryCopy := second
	primaryCopy.CommittedAt = t0.Add(3*time.Minute + 10*time.Second)
	primary := &recordingStore{loaded: []Event{primaryCopy}}
	legacy := &recordingStore{loaded: []Event{first, second}}

	events, err := MultiStore{primary, legacy}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, first.ID, events[0].ID)
	assert.Equal(t, second.ID, events[1].ID)
	assert.True(t, events[1].CommittedAt.Equal(primaryCopy.CommittedAt), "the first store's copy wins")
}

func TestMultiStore_NewStoreKeepsExistingHistory(t *testing.T) {
	csvStore, err := NewCSVStore(t.TempDir())
	require.NoError(t, err)
	t0 := time.Date(2025, 5, 23, 9, 0, 0, 0, time.Local)

	before := newTestLedger(csvStore, t0.Add(5*time.Minute))
	before.Append(NewEvent(jana, "CS101", t0, t0.Add(time.Minute)))
	before.Append(NewEvent(tomas, "CS101", t0.Add(time.Minute), t0.Add(2*time.Minute)))
	require.NoError(t, before.Flush(context.Background()))

	// A fresh database is put in front of the existing CSV export.
	fresh := &recordingStore{}
	after := newTestLedger(MultiStore{fresh, csvStore}, t0.Add(time.Hour))
	n, err := after.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after.Append(NewEvent(jana, "CS101", t0.Add(30*time.Minute), t0.Add(31*time.Minute)))
	require.NoError(t, after.Flush(context.Background()))

	reloaded, err := csvStore.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, reloaded, 3, "the CSV export must keep the earlier events")
	require.Len(t, fresh.snaps, 1)
	assert.Len(t, fresh.snaps[0].All, 3, "the new store receives the full history")
}

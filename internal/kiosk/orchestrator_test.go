package kiosk_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk/kiosktest"
	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/kozaktomas/attendance-kiosk/internal/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 5, 23, 9, 0, 0, 0, time.UTC)

var jana = roster.Identity{ID: "S001", DisplayName: "Jana Novakova", Contact: "jana@example.com"}

type harness struct {
	clock    *kiosktest.Clock
	motion   *kiosktest.Motion
	camera   *kiosktest.Camera
	renderer *kiosktest.Renderer
	display  *kiosktest.Display
	notifier *kiosktest.Notifier
	signals  *kiosktest.Signals
	ledger   *ledger.Ledger
	metrics  *kiosk.Metrics
	orch     *kiosk.Orchestrator
}

type harnessOpts struct {
	matcher kiosk.IdentityMatcher
	// decoder is built after the renderer so it can show rendered codes.
	decoder func(h *harness) kiosk.QRDecoder
	config  func(cfg *kiosk.Config)
	seed    []ledger.Event
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	clock := kiosktest.NewClock(start)
	h := &harness{
		clock:    clock,
		motion:   &kiosktest.Motion{},
		camera:   &kiosktest.Camera{Clock: clock},
		renderer: &kiosktest.Renderer{Clock: clock},
		display:  &kiosktest.Display{},
		notifier: &kiosktest.Notifier{},
		signals:  &kiosktest.Signals{},
		ledger:   ledger.New(nil, "CS101", ledger.WithClock(clock.Now)),
		metrics:  kiosk.NewMetrics(prometheus.NewRegistry()),
	}
	for _, e := range opts.seed {
		h.ledger.Append(e)
	}

	matcher := opts.matcher
	if matcher == nil {
		matcher = kiosktest.Recognize(jana.ID)
	}
	decoder := kiosk.QRDecoder(kiosktest.NoCodes())
	if opts.decoder != nil {
		decoder = opts.decoder(h)
	}

	dir, err := roster.New([]roster.Identity{jana, {ID: "S002", DisplayName: "Tomas Dvorak"}})
	require.NoError(t, err)

	cfg := kiosk.DefaultConfig()
	cfg.SessionLabel = "CS101"
	cfg.SecretKey = "K"
	cfg.MotionSettle = 0
	cfg.FeedbackPause = 0
	if opts.config != nil {
		opts.config(&cfg)
	}

	h.orch, err = kiosk.New(cfg, kiosk.Deps{
		Motion:    h.motion,
		Frames:    h.camera,
		Matcher:   matcher,
		Decoder:   decoder,
		Renderer:  h.renderer,
		Display:   h.display,
		Notifier:  h.notifier,
		Signals:   h.signals,
		Directory: dir,
		Ledger:    h.ledger,
	},
		kiosk.WithClock(clock),
		kiosk.WithMetrics(h.metrics),
		kiosk.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return h
}

func scanAfter(delay time.Duration) func(h *harness) kiosk.QRDecoder {
	return func(h *harness) kiosk.QRDecoder {
		return kiosktest.ShowRenderedAfter(h.clock, h.renderer, delay)
	}
}

func TestCycle_CommitsWhenCodeIsScannedInTime(t *testing.T) {
	h := newHarness(t, harnessOpts{decoder: scanAfter(5 * time.Minute)})

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeCommitted, outcome)

	payloads := h.renderer.Payloads()
	require.Len(t, payloads, 1)
	tok, err := token.Parse(payloads[0])
	require.NoError(t, err)
	assert.Equal(t, jana.ID, tok.IdentityID)
	assert.True(t, tok.IssuedAt.Equal(start))
	assert.True(t, tok.ExpiresAt.Equal(start.Add(15*time.Minute)))

	events := h.ledger.Events()
	require.Len(t, events, 1)
	assert.Equal(t, jana.ID, events[0].IdentityID)
	assert.Equal(t, "CS101", events[0].SessionLabel)
	assert.True(t, events[0].AttendanceTime.Equal(start))
	assert.True(t, events[0].CommittedAt.Equal(start.Add(5*time.Minute)))

	last, ok := h.orch.Guard().LastCommitted(jana.ID)
	require.True(t, ok)
	assert.True(t, last.Equal(start.Add(5*time.Minute)))

	assert.Len(t, h.display.Shown(), 1)
	assert.Len(t, h.notifier.Sent(), 1)

	success, ok := h.signals.Find(kiosk.SignalSuccess)
	require.True(t, ok)
	assert.Equal(t, 1, success.Count)
	assert.Equal(t, jana.DisplayName, success.Name)

	status := h.orch.Snapshot()
	assert.Equal(t, 1, status.Commits)
	assert.Equal(t, "committed", status.LastOutcome)
	assert.Nil(t, status.Challenge)

	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Commits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ChallengesIssued), 0)
}

func TestCycle_ExpiresWhenCodeIsScannedTooLate(t *testing.T) {
	h := newHarness(t, harnessOpts{decoder: scanAfter(16 * time.Minute)})

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeExpired, outcome)

	assert.Equal(t, 0, h.ledger.Count())
	_, ok := h.orch.Guard().LastCommitted(jana.ID)
	assert.False(t, ok, "expired challenge must not touch the dedup guard")

	_, ok = h.signals.Find(kiosk.SignalExpired)
	assert.True(t, ok)
	assert.True(t, h.clock.Now().After(start.Add(15*time.Minute)))
	assert.False(t, h.clock.Now().After(start.Add(16*time.Minute)))
	assert.Equal(t, kiosk.StateFailed, h.orch.State())
}

func TestCycle_BlocksRecommitBeforeIssuingChallenge(t *testing.T) {
	h := newHarness(t, harnessOpts{decoder: scanAfter(5 * time.Minute)})
	ctx := context.Background()

	outcome, err := h.orch.Cycle(ctx)
	require.NoError(t, err)
	require.Equal(t, kiosk.OutcomeCommitted, outcome)

	h.clock.Set(start.Add(10 * time.Minute))
	outcome, err = h.orch.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeBlocked, outcome)

	assert.Len(t, h.renderer.Payloads(), 1, "no new code may be rendered")
	assert.Len(t, h.notifier.Sent(), 1, "no new notification may be sent")
	assert.Equal(t, 1, h.ledger.Count())

	blocked, ok := h.signals.Find(kiosk.SignalBlocked)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, blocked.Remaining)
	assert.Equal(t, jana.DisplayName, blocked.Name)
}

func TestCycle_AdmitsAgainAfterDedupInterval(t *testing.T) {
	h := newHarness(t, harnessOpts{decoder: scanAfter(0)})
	ctx := context.Background()

	outcome, err := h.orch.Cycle(ctx)
	require.NoError(t, err)
	require.Equal(t, kiosk.OutcomeCommitted, outcome)

	h.clock.Advance(15 * time.Minute)
	outcome, err = h.orch.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeCommitted, outcome)
	assert.Equal(t, 2, h.ledger.Count())
	assert.Equal(t, 2, h.orch.Snapshot().Commits)
}

func TestCycle_SeedsGuardFromLedger(t *testing.T) {
	previous := ledger.NewEvent(jana, "CS101", start.Add(-3*time.Minute), start.Add(-time.Minute))
	h := newHarness(t, harnessOpts{seed: []ledger.Event{previous}})

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeBlocked, outcome)
	assert.Empty(t, h.renderer.Payloads())
}

func TestCycle_SeedFromReloadedCSVKeepsFullWindow(t *testing.T) {
	// The export only keeps the minute of the commit.
	previous := ledger.NewEvent(jana, "CS101", start.Add(50*time.Second), start.Add(59*time.Second))
	var buf bytes.Buffer
	require.NoError(t, ledger.WriteCSV(&buf, []ledger.Event{previous}))
	reloaded, err := ledger.ReadCSV(&buf)
	require.NoError(t, err)

	h := newHarness(t, harnessOpts{seed: reloaded})
	h.clock.Set(start.Add(15 * time.Minute))

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeBlocked, outcome)
	assert.Empty(t, h.renderer.Payloads())
	assert.Equal(t, 1, h.ledger.Count())

	sig, ok := h.signals.Find(kiosk.SignalBlocked)
	require.True(t, ok)
	assert.True(t, sig.Remaining > 0, "remaining = %v", sig.Remaining)
}

func TestCycle_UnknownFaceNeverChallenges(t *testing.T) {
	h := newHarness(t, harnessOpts{
		matcher: kiosktest.MatcherFunc(func(context.Context, kiosk.Frame) (kiosk.Match, error) {
			return kiosk.Unknown, nil
		}),
		config: func(cfg *kiosk.Config) { cfg.RecognitionTimeout = 30 * time.Second },
	})

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeAbandoned, outcome)
	assert.Equal(t, kiosk.StateRecognizing, h.orch.State())
	assert.Empty(t, h.renderer.Payloads())
	assert.Empty(t, h.notifier.Sent())
	assert.Greater(t, h.camera.Captures(), 100)
}

func TestRun_UnknownFaceStaysInRecognizing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	h := newHarness(t, harnessOpts{
		matcher: kiosktest.MatcherFunc(func(context.Context, kiosk.Frame) (kiosk.Match, error) {
			calls++
			if calls == 50 {
				cancel()
			}
			return kiosk.Unknown, nil
		}),
	})

	require.NoError(t, h.orch.Run(ctx))
	assert.Equal(t, 50, calls)
	assert.Empty(t, h.renderer.Payloads())
	assert.Equal(t, 0, h.ledger.Count())
	assert.Equal(t, kiosk.StateIdle, h.orch.State())
}

func TestCycle_NotEnrolled(t *testing.T) {
	h := newHarness(t, harnessOpts{matcher: kiosktest.Recognize("S999")})

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeNotEnrolled, outcome)
	assert.Empty(t, h.renderer.Payloads())

	sig, ok := h.signals.Find(kiosk.SignalNotEnrolled)
	require.True(t, ok)
	assert.Equal(t, "S999", sig.Name)
}

func TestCycle_NotificationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, harnessOpts{decoder: scanAfter(time.Minute)})
	h.notifier.Err = errors.New("smtp unavailable")
	h.display.Err = errors.New("disk full")

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeCommitted, outcome)
	assert.Len(t, h.notifier.Sent(), 1)
	assert.Equal(t, 1, h.ledger.Count())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.NotificationFailures), 0)
}

func TestCycle_TransientCameraFaultsAreRetried(t *testing.T) {
	h := newHarness(t, harnessOpts{
		decoder: scanAfter(0),
		config:  func(cfg *kiosk.Config) { cfg.MaxConsecutiveFaults = 3 },
	})
	h.camera.Err = errors.New("camera busy")
	h.camera.FailFirst = 2

	outcome, err := h.orch.Cycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kiosk.OutcomeCommitted, outcome)
	assert.InDelta(t, 2, testutil.ToFloat64(h.metrics.Faults), 0)
}

func TestRun_PersistentSensorFaultIsFatal(t *testing.T) {
	h := newHarness(t, harnessOpts{
		config: func(cfg *kiosk.Config) { cfg.MaxConsecutiveFaults = 3 },
	})
	h.motion.Err = errors.New("gpio read failed")

	err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, kiosk.ErrHardwareFault)
	assert.Equal(t, 3, h.motion.Reads())
}

func TestRun_WaitsForMotion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, harnessOpts{decoder: scanAfter(0)})
	h.motion.Pattern = []bool{false, false, false}
	h.signals.OnNotify = func(s kiosk.Signal) {
		if s.Kind == kiosk.SignalBlocked {
			cancel()
		}
	}

	require.NoError(t, h.orch.Run(ctx))
	assert.Equal(t, 1, h.ledger.Count())
	assert.GreaterOrEqual(t, h.motion.Reads(), 5)

	_, issuedAt, ok := h.renderer.Last()
	require.True(t, ok)
	assert.True(t, issuedAt.Equal(start.Add(600*time.Millisecond)))
}

func TestRun_CancelDuringVerificationReleasesChallenge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, harnessOpts{})
	h.signals.OnNotify = func(s kiosk.Signal) {
		if s.Kind == kiosk.SignalChallenging {
			cancel()
		}
	}

	require.NoError(t, h.orch.Run(ctx))
	assert.Len(t, h.renderer.Payloads(), 1)
	assert.Equal(t, 0, h.ledger.Count())
	assert.Nil(t, h.orch.Snapshot().Challenge)
	_, ok := h.orch.Guard().LastCommitted(jana.ID)
	assert.False(t, ok)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := kiosk.DefaultConfig()
	cfg.SecretKey = "K"

	_, err := kiosk.New(cfg, kiosk.Deps{})
	assert.Error(t, err, "missing session label")

	cfg.SessionLabel = "CS101"
	_, err = kiosk.New(cfg, kiosk.Deps{})
	assert.Error(t, err, "missing dependencies")
}

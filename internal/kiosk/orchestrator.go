// Package kiosk drives the attendance cycle: motion, face recognition, QR
// challenge, verification and commit.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kozaktomas/attendance-kiosk/internal/challenge"
	"github.com/kozaktomas/attendance-kiosk/internal/dedup"
	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/kozaktomas/attendance-kiosk/internal/token"
)

// ErrHardwareFault is returned from Run when the sensor, camera or matcher
// keeps failing.
var ErrHardwareFault = errors.New("persistent hardware fault")

// Deps are the collaborators of the state machine. Display, Notifier and
// Signals are optional.
type Deps struct {
	Motion    MotionSensor
	Frames    FrameSource
	Matcher   IdentityMatcher
	Decoder   QRDecoder
	Renderer  QRRenderer
	Display   Display
	Notifier  NotificationSink
	Signals   SignalSink
	Directory Directory
	Ledger    *ledger.Ledger
}

// Status is a point-in-time view of the orchestrator for the status server.
type Status struct {
	RunID        string           `json:"run_id"`
	SessionLabel string           `json:"session_label"`
	State        string           `json:"state"`
	StartedAt    time.Time        `json:"started_at"`
	Commits      int              `json:"commits"`
	LastOutcome  string           `json:"last_outcome,omitempty"`
	Challenge    *ChallengeStatus `json:"challenge,omitempty"`
}

type ChallengeStatus struct {
	IdentityID string    `json:"identity_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Orchestrator owns all mutable kiosk state. Cycle and Run must be called from
// a single goroutine; State and Snapshot are safe from any goroutine.
type Orchestrator struct {
	cfg     Config
	deps    Deps
	codec   *token.Codec
	slot    *challenge.Slot
	guard   *dedup.Guard
	clock   Clock
	logger  *slog.Logger
	metrics *Metrics
	runID   string
	started time.Time

	faults int

	mu          sync.Mutex
	state       State
	commits     int
	lastOutcome string
	current     *ChallengeStatus
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithClock(clock Clock) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New validates the configuration and builds the orchestrator. The dedup
// guard is seeded from events already in the ledger, so a restarted kiosk
// keeps blocking recent attendees.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid kiosk config: %w", err)
	}
	if deps.Motion == nil || deps.Frames == nil || deps.Matcher == nil || deps.Decoder == nil ||
		deps.Renderer == nil || deps.Directory == nil || deps.Ledger == nil {
		return nil, errors.New("kiosk: motion, frames, matcher, decoder, renderer, directory and ledger are required")
	}

	codec, err := token.NewCodec(cfg.SessionLabel, cfg.SecretKey, cfg.DigestScheme)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		codec:  codec,
		slot:   challenge.NewSlot(codec),
		guard:  dedup.NewGuard(cfg.DedupInterval),
		clock:  realClock{},
		logger: slog.Default(),
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	o.logger = o.logger.With("run_id", o.runID, "session", cfg.SessionLabel)
	o.started = o.clock.Now()

	for _, e := range deps.Ledger.Events() {
		o.guard.Seed(e.IdentityID, e.CommittedAt)
	}

	return o, nil
}

// Guard exposes the dedup bookkeeping.
func (o *Orchestrator) Guard() *dedup.Guard {
	return o.guard
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Snapshot returns the current status.
func (o *Orchestrator) Snapshot() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Status{
		RunID:        o.runID,
		SessionLabel: o.cfg.SessionLabel,
		State:        o.state.String(),
		StartedAt:    o.started,
		Commits:      o.commits,
		LastOutcome:  o.lastOutcome,
	}
	if o.current != nil {
		c := *o.current
		s.Challenge = &c
	}
	return s
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.metrics.setState(s)
}

func (o *Orchestrator) signal(ctx context.Context, s Signal) {
	if o.deps.Signals != nil {
		o.deps.Signals.Notify(ctx, s)
	}
}

// Run cycles until ctx is cancelled (returns nil) or a fatal error occurs.
// The caller flushes the ledger afterwards.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.setState(StateIdle)
	o.logger.Info("kiosk started", "dedup_seeded", o.guard.Len())

	for {
		if ctx.Err() != nil {
			o.setState(StateIdle)
			return nil
		}

		outcome, err := o.Cycle(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				o.setState(StateIdle)
				return nil
			}
			return err
		}
		o.logger.Debug("cycle finished", "outcome", outcome)
	}
}

// Cycle runs one motion cycle from AwaitingMotion back to AwaitingMotion.
func (o *Orchestrator) Cycle(ctx context.Context) (Outcome, error) {
	outcome, err := o.cycle(ctx)
	if err == nil {
		o.mu.Lock()
		o.lastOutcome = outcome.String()
		o.mu.Unlock()
		o.metrics.Cycles.WithLabelValues(outcome.String()).Inc()
	}
	return outcome, err
}

func (o *Orchestrator) cycle(ctx context.Context) (Outcome, error) {
	o.setState(StateAwaitingMotion)
	o.signal(ctx, Signal{Kind: SignalWaiting})

	if err := o.awaitMotion(ctx); err != nil {
		return OutcomeAbandoned, err
	}
	o.logger.Info("motion detected")
	o.signal(ctx, Signal{Kind: SignalMotionDetected})
	if err := o.clock.Sleep(ctx, o.cfg.MotionSettle); err != nil {
		return OutcomeAbandoned, err
	}

	o.setState(StateRecognizing)
	match, ok, err := o.recognize(ctx)
	if err != nil {
		return OutcomeAbandoned, err
	}
	if !ok {
		o.logger.Info("recognition timed out", "timeout", o.cfg.RecognitionTimeout)
		return OutcomeAbandoned, nil
	}

	identity, enrolled := o.deps.Directory.ByID(match.IdentityID)
	name := match.IdentityID
	if enrolled && identity.DisplayName != "" {
		name = identity.DisplayName
	}

	decision := o.guard.TryAdmit(match.IdentityID, o.clock.Now())
	if !decision.Admitted {
		o.setState(StateBlocked)
		o.logger.Info("attendance already recorded", "identity", match.IdentityID, "remaining", decision.Remaining)
		o.signal(ctx, Signal{Kind: SignalBlocked, IdentityID: match.IdentityID, Name: name, Remaining: decision.Remaining})
		return OutcomeBlocked, o.clock.Sleep(ctx, o.cfg.FeedbackPause)
	}

	if !enrolled {
		o.logger.Warn("recognized identity is not in the roster", "identity", match.IdentityID)
		o.signal(ctx, Signal{Kind: SignalNotEnrolled, IdentityID: match.IdentityID, Name: name})
		return OutcomeNotEnrolled, o.clock.Sleep(ctx, o.cfg.FeedbackPause)
	}

	return o.challenge(ctx, identity)
}

func (o *Orchestrator) awaitMotion(ctx context.Context) error {
	for {
		motion, err := o.deps.Motion.Read(ctx)
		if err != nil {
			if ferr := o.fault(ctx, "motion sensor", err); ferr != nil {
				return ferr
			}
		} else {
			o.faults = 0
			if motion {
				return nil
			}
		}
		if err := o.clock.Sleep(ctx, o.cfg.MotionPollInterval); err != nil {
			return err
		}
	}
}

// recognize pulls frames until a known face is matched. ok is false when
// RecognitionTimeout elapsed first.
func (o *Orchestrator) recognize(ctx context.Context) (Match, bool, error) {
	var deadline time.Time
	if o.cfg.RecognitionTimeout > 0 {
		deadline = o.clock.Now().Add(o.cfg.RecognitionTimeout)
	}

	for {
		if !deadline.IsZero() && o.clock.Now().After(deadline) {
			return Match{}, false, nil
		}

		frame, err := o.deps.Frames.Capture(ctx)
		if err != nil {
			if ferr := o.fault(ctx, "camera", err); ferr != nil {
				return Match{}, false, ferr
			}
		} else {
			match, err := o.deps.Matcher.Match(ctx, frame)
			switch {
			case err != nil:
				if ferr := o.fault(ctx, "identity matcher", err); ferr != nil {
					return Match{}, false, ferr
				}
			case match.Known:
				o.faults = 0
				o.logger.Info("face recognized", "identity", match.IdentityID, "confidence", match.Confidence)
				return match, true, nil
			default:
				o.faults = 0
			}
		}

		if err := o.clock.Sleep(ctx, o.cfg.FramePollInterval); err != nil {
			return Match{}, false, err
		}
	}
}

func (o *Orchestrator) challenge(ctx context.Context, identity roster.Identity) (Outcome, error) {
	o.setState(StateChallenging)

	tok := o.codec.Issue(identity.ID, o.clock.Now(), o.cfg.ChallengeTTL)
	session, err := o.slot.Open(identity.ID, tok)
	if err != nil {
		return OutcomeAbandoned, fmt.Errorf("opening challenge for %s: %w", identity.ID, err)
	}
	defer session.Close()
	o.metrics.ChallengesIssued.Inc()

	o.mu.Lock()
	o.current = &ChallengeStatus{IdentityID: identity.ID, ExpiresAt: tok.ExpiresAt}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.current = nil
		o.mu.Unlock()
	}()

	png, err := o.deps.Renderer.Render(tok.Payload())
	if err != nil {
		o.logger.Error("rendering challenge code failed", "identity", identity.ID, "error", err)
		return OutcomeAbandoned, nil
	}
	if o.deps.Display != nil {
		if err := o.deps.Display.Show(identity, png); err != nil {
			o.logger.Warn("showing challenge code failed", "identity", identity.ID, "error", err)
		}
	}
	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.Send(ctx, identity, png); err != nil {
			o.metrics.NotificationFailures.Inc()
			o.logger.Warn("sending challenge code failed", "identity", identity.ID, "error", err)
		}
	}
	o.logger.Info("challenge issued", "identity", identity.ID, "expires_at", tok.ExpiresAt)
	o.signal(ctx, Signal{Kind: SignalChallenging, IdentityID: identity.ID, Name: identity.DisplayName})

	o.setState(StateVerifying)
	for {
		var payloads []string
		frame, err := o.deps.Frames.Capture(ctx)
		if err != nil {
			if ferr := o.fault(ctx, "camera", err); ferr != nil {
				return OutcomeAbandoned, ferr
			}
		} else {
			o.faults = 0
			payloads, err = o.deps.Decoder.Decode(ctx, frame)
			if err != nil {
				o.logger.Debug("decoding frame failed", "error", err)
			}
		}

		switch session.PollVerify(payloads, o.clock.Now()) {
		case challenge.Verified:
			return o.commit(ctx, identity, tok)
		case challenge.Expired:
			o.setState(StateFailed)
			o.logger.Info("challenge expired", "identity", identity.ID)
			o.signal(ctx, Signal{Kind: SignalExpired, IdentityID: identity.ID, Name: identity.DisplayName})
			return OutcomeExpired, o.clock.Sleep(ctx, o.cfg.FeedbackPause)
		case challenge.StillOpen:
		}

		if err := o.clock.Sleep(ctx, o.cfg.FramePollInterval); err != nil {
			return OutcomeAbandoned, err
		}
	}
}

func (o *Orchestrator) commit(ctx context.Context, identity roster.Identity, tok token.Token) (Outcome, error) {
	o.setState(StateCommitting)

	now := o.clock.Now()
	o.deps.Ledger.Append(ledger.NewEvent(identity, o.cfg.SessionLabel, tok.IssuedAt, now))
	o.guard.Record(identity.ID, now)
	o.metrics.Commits.Inc()

	o.mu.Lock()
	o.commits++
	count := o.commits
	o.mu.Unlock()

	o.logger.Info("attendance recorded", "identity", identity.ID, "name", identity.DisplayName, "commits", count)
	o.signal(ctx, Signal{Kind: SignalSuccess, IdentityID: identity.ID, Name: identity.DisplayName, Count: count})
	return OutcomeCommitted, o.clock.Sleep(ctx, o.cfg.FeedbackPause)
}

// fault counts a transient error and escalates once too many arrive in a row.
func (o *Orchestrator) fault(ctx context.Context, source string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	o.faults++
	o.metrics.Faults.Inc()
	o.logger.Warn("transient fault", "source", source, "consecutive", o.faults, "error", err)
	if o.faults >= o.cfg.MaxConsecutiveFaults {
		return fmt.Errorf("%w: %s failed %d times in a row: %w", ErrHardwareFault, source, o.faults, err)
	}
	return nil
}

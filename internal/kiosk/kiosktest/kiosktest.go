// Package kiosktest provides scripted fakes of the kiosk capabilities.
package kiosktest

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
)

// Clock is a manual clock. Sleep advances it instead of blocking.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Motion replays Pattern and then reports motion forever. Err fails every read.
type Motion struct {
	mu      sync.Mutex
	Pattern []bool
	Err     error
	reads   int
}

func (m *Motion) Read(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.reads
	m.reads++
	if m.Err != nil {
		return false, m.Err
	}
	if i < len(m.Pattern) {
		return m.Pattern[i], nil
	}
	return true, nil
}

func (m *Motion) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Camera returns empty frames stamped with the clock. The first FailFirst
// captures return Err.
type Camera struct {
	mu        sync.Mutex
	Clock     kiosk.Clock
	Err       error
	FailFirst int
	captures  int
}

func (c *Camera) Capture(ctx context.Context) (kiosk.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	if c.Err != nil && (c.FailFirst == 0 || c.captures <= c.FailFirst) {
		return kiosk.Frame{}, c.Err
	}
	return kiosk.Frame{CapturedAt: c.Clock.Now()}, nil
}

func (c *Camera) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

type MatcherFunc func(ctx context.Context, frame kiosk.Frame) (kiosk.Match, error)

func (f MatcherFunc) Match(ctx context.Context, frame kiosk.Frame) (kiosk.Match, error) {
	return f(ctx, frame)
}

// Recognize always matches identityID.
func Recognize(identityID string) MatcherFunc {
	return func(context.Context, kiosk.Frame) (kiosk.Match, error) {
		return kiosk.Match{IdentityID: identityID, Known: true, Confidence: 0.9, Distance: 0.1}, nil
	}
}

type DecoderFunc func(ctx context.Context, frame kiosk.Frame) ([]string, error)

func (f DecoderFunc) Decode(ctx context.Context, frame kiosk.Frame) ([]string, error) {
	return f(ctx, frame)
}

// NoCodes never finds a QR code.
func NoCodes() DecoderFunc {
	return func(context.Context, kiosk.Frame) ([]string, error) {
		return nil, nil
	}
}

// ShowRenderedAfter decodes the last rendered payload once delay has passed
// since it was rendered, as if the subject held their code up at that moment.
func ShowRenderedAfter(clock kiosk.Clock, r *Renderer, delay time.Duration) DecoderFunc {
	return func(context.Context, kiosk.Frame) ([]string, error) {
		payload, at, ok := r.Last()
		if !ok || clock.Now().Before(at.Add(delay)) {
			return nil, nil
		}
		return []string{payload}, nil
	}
}

// Renderer records rendered payloads.
type Renderer struct {
	mu       sync.Mutex
	Clock    kiosk.Clock
	Err      error
	payloads []string
	times    []time.Time
}

func (r *Renderer) Render(payload string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.payloads = append(r.payloads, payload)
	r.times = append(r.times, r.Clock.Now())
	return []byte("png:" + payload), nil
}

func (r *Renderer) Payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.payloads...)
}

func (r *Renderer) Last() (string, time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return "", time.Time{}, false
	}
	n := len(r.payloads) - 1
	return r.payloads[n], r.times[n], true
}

// Delivery is one recorded Show or Send call.
type Delivery struct {
	IdentityID string
	PNG        []byte
}

type Display struct {
	mu    sync.Mutex
	Err   error
	shown []Delivery
}

func (d *Display) Show(identity roster.Identity, png []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, Delivery{IdentityID: identity.ID, PNG: png})
	return d.Err
}

func (d *Display) Shown() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Delivery(nil), d.shown...)
}

// Notifier records every attempt, including failed ones.
type Notifier struct {
	mu   sync.Mutex
	Err  error
	sent []Delivery
}

func (n *Notifier) Send(ctx context.Context, identity roster.Identity, png []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Delivery{IdentityID: identity.ID, PNG: png})
	return n.Err
}

func (n *Notifier) Sent() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.sent...)
}

// Signals records feedback. OnNotify, when set, runs after each signal.
type Signals struct {
	mu       sync.Mutex
	OnNotify func(kiosk.Signal)
	signals  []kiosk.Signal
}

func (s *Signals) Notify(ctx context.Context, sig kiosk.Signal) {
	s.mu.Lock()
	s.signals = append(s.signals, sig)
	hook := s.OnNotify
	s.mu.Unlock()
	if hook != nil {
		hook(sig)
	}
}

func (s *Signals) All() []kiosk.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kiosk.Signal(nil), s.signals...)
}

// Find returns the last signal of kind.
func (s *Signals) Find(kind kiosk.SignalKind) (kiosk.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.signals) - 1; i >= 0; i-- {
		if s.signals[i].Kind == kind {
			return s.signals[i], true
		}
	}
	return kiosk.Signal{}, false
}

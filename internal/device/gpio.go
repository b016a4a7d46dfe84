package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var hostOnce = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// OpenPin initializes the host drivers and looks a GPIO pin up by name, e.g. "GPIO17".
func OpenPin(name string) (gpio.PinIO, error) {
	if err := hostOnce(); err != nil {
		return nil, fmt.Errorf("initializing GPIO host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("GPIO pin %q not found", name)
	}
	return p, nil
}

// MotionSensor reads a PIR sensor wired to a GPIO input.
type MotionSensor struct {
	pin       gpio.PinIn
	activeLow bool
}

func NewMotionSensor(pin gpio.PinIn, activeLow bool) (*MotionSensor, error) {
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := pin.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("configuring motion pin %s: %w", pin, err)
	}
	return &MotionSensor{pin: pin, activeLow: activeLow}, nil
}

// Read implements kiosk.MotionSensor.
func (s *MotionSensor) Read(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	high := s.pin.Read() == gpio.High
	return high != s.activeLow, nil
}

// LED shows kiosk signals on a status LED: steady while a challenge is open,
// blinking on success and on failures.
type LED struct {
	pin    gpio.PinOut
	period time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLED(pin gpio.PinOut) *LED {
	return &LED{pin: pin, period: constants.LEDBlinkPeriod}
}

// Notify implements kiosk.SignalSink. It returns immediately; a blink
// pattern in progress is replaced.
func (l *LED) Notify(ctx context.Context, s kiosk.Signal) {
	blinks, steady := ledPattern(s)

	l.stop()
	if blinks == 0 {
		l.set(steady)
		return
	}

	patternCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	l.mu.Lock()
	l.cancel, l.done = cancel, done
	l.mu.Unlock()

	go func() {
		defer close(done)
		for i := 0; i < blinks; i++ {
			l.set(gpio.High)
			if !sleep(patternCtx, l.period) {
				break
			}
			l.set(gpio.Low)
			if !sleep(patternCtx, l.period) {
				break
			}
		}
		l.set(steady)
	}()
}

// Close stops any pattern and turns the LED off.
func (l *LED) Close() error {
	l.stop()
	return l.pin.Out(gpio.Low)
}

func (l *LED) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (l *LED) set(level gpio.Level) {
	_ = l.pin.Out(level)
}

// ledPattern blinks once per commit of this run on success.
func ledPattern(s kiosk.Signal) (blinks int, steady gpio.Level) {
	switch s.Kind {
	case kiosk.SignalChallenging:
		return 0, gpio.High
	case kiosk.SignalSuccess:
		return max(s.Count, 1), gpio.Low
	case kiosk.SignalBlocked:
		return 1, gpio.Low
	case kiosk.SignalExpired, kiosk.SignalNotEnrolled:
		return 5, gpio.Low
	default:
		return 0, gpio.Low
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var (
	_ kiosk.MotionSensor = (*MotionSensor)(nil)
	_ kiosk.SignalSink   = (*LED)(nil)
)

package device

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
)

// Console prints operator messages to a terminal in color and logs them.
type Console struct {
	messages *config.SignalsConfig
	logger   *slog.Logger

	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer, messages *config.SignalsConfig, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{messages: messages, logger: logger, out: out}
}

// Notify implements kiosk.SignalSink.
func (c *Console) Notify(ctx context.Context, s kiosk.Signal) {
	msg := c.Message(s)
	c.logger.Debug("signal", "kind", s.Kind.String(), "identity", s.IdentityID, "message", msg)
	if c.out == nil || msg == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, signalColor(s.Kind).Sprint(msg))
}

// Message renders the configured message for s.
func (c *Console) Message(s kiosk.Signal) string {
	remaining := ""
	if s.Remaining > 0 {
		remaining = s.Remaining.Round(time.Second).String()
	}
	return c.messages.Message(s.Kind.String(), s.Name, strconv.Itoa(s.Count), remaining)
}

func signalColor(kind kiosk.SignalKind) *color.Color {
	switch kind {
	case kiosk.SignalSuccess:
		return color.New(color.FgGreen, color.Bold)
	case kiosk.SignalBlocked:
		return color.New(color.FgYellow)
	case kiosk.SignalExpired, kiosk.SignalNotEnrolled:
		return color.New(color.FgRed)
	case kiosk.SignalChallenging:
		return color.New(color.FgCyan)
	default:
		return color.New(color.FgWhite)
	}
}

// MultiSignal fans a signal out to every sink.
type MultiSignal []kiosk.SignalSink

func (m MultiSignal) Notify(ctx context.Context, s kiosk.Signal) {
	for _, sink := range m {
		sink.Notify(ctx, s)
	}
}

var (
	_ kiosk.SignalSink = (*Console)(nil)
	_ kiosk.SignalSink = MultiSignal(nil)
)

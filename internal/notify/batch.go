package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/attendance-kiosk/internal/kiosk"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/kozaktomas/attendance-kiosk/internal/token"
)

// Issuer mints challenge tokens. *token.Codec implements it.
type Issuer interface {
	Issue(identityID string, now time.Time, ttl time.Duration) token.Token
}

// Failure is one identity the batch could not notify.
type Failure struct {
	IdentityID string
	Err        error
}

type BatchResult struct {
	Sent     int
	Skipped  int // identities without a contact address
	Failures []Failure
}

// Batch mails a fresh challenge code to every identity of a roster ahead of a session.
type Batch struct {
	Issuer   Issuer
	Renderer kiosk.QRRenderer
	Display  kiosk.Display // optional, keeps a local copy of every code
	Sink     kiosk.NotificationSink
	TTL      time.Duration
	// FailFast stops at the first failure instead of logging it and moving on.
	FailFast bool
	Logger   *slog.Logger
	// Progress is called after each identity.
	Progress func(done, total int)
}

func (b *Batch) Run(ctx context.Context, identities []roster.Identity, now time.Time) (BatchResult, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var result BatchResult
	for i, identity := range identities {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := b.notify(ctx, identity, now)
		switch {
		case err == nil && identity.Contact == "":
			result.Skipped++
			logger.Warn("no email address, code not mailed", "identity", identity.ID)
		case err == nil:
			result.Sent++
		default:
			result.Failures = append(result.Failures, Failure{IdentityID: identity.ID, Err: err})
			logger.Error("mailing challenge code failed", "identity", identity.ID, "error", err)
			if b.FailFast {
				return result, fmt.Errorf("mailing %s: %w", identity.ID, err)
			}
		}

		if b.Progress != nil {
			b.Progress(i+1, len(identities))
		}
	}
	return result, nil
}

func (b *Batch) notify(ctx context.Context, identity roster.Identity, now time.Time) error {
	tok := b.Issuer.Issue(identity.ID, now, b.TTL)
	png, err := b.Renderer.Render(tok.Payload())
	if err != nil {
		return fmt.Errorf("rendering code: %w", err)
	}
	if b.Display != nil {
		if err := b.Display.Show(identity, png); err != nil {
			return err
		}
	}
	if identity.Contact == "" {
		return nil
	}
	return b.Sink.Send(ctx, identity, png)
}

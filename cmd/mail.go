package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/device"
	"github.com/kozaktomas/attendance-kiosk/internal/notify"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/spf13/cobra"
)

var mailCmd = &cobra.Command{
	Use:   "mail-qr",
	Short: "Mail a QR code to every identity ahead of a session",
	Long: `Issue a fresh challenge code for each roster identity and mail it as a PNG
attachment. A local copy of every code is written to QR_DIR.

Identities without an email address only get the local copy.`,
	Example: `  attendance-kiosk mail-qr
  attendance-kiosk mail-qr --ids S001,S002 --fail-fast`,
	RunE: runMail,
}

func init() {
	rootCmd.AddCommand(mailCmd)

	mailCmd.Flags().StringSlice("ids", nil, "Only mail these identity IDs")
	mailCmd.Flags().Bool("fail-fast", false, "Stop at the first delivery failure")
	mailCmd.Flags().Duration("ttl", 0, "Code validity (defaults to KIOSK_CHALLENGE_TTL)")
}

func runMail(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if !cfg.SMTP.Enabled() {
		return errors.New("SMTP_HOST and SMTP_FROM are required")
	}
	ttl := cfg.Kiosk.ChallengeTTL
	if d := mustGetDuration(cmd, "ttl"); d > 0 {
		ttl = d
	}

	dir, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		return err
	}
	identities, err := selectIdentities(dir, mustGetStringSlice(cmd, "ids"))
	if err != nil {
		return err
	}

	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	display, err := device.NewFileDisplay(cfg.Storage.QRDir)
	if err != nil {
		return err
	}

	logger := slog.Default()
	bar := newProgressBar(len(identities), "Mailing codes", "codes")
	batch := &notify.Batch{
		Issuer:   codec,
		Renderer: device.NewQRRenderer(constants.QRCodeSize),
		Display:  display,
		Sink:     notify.NewMailer(&cfg.SMTP, notify.WithLogger(logger), notify.WithValidity(ttl)),
		TTL:      ttl,
		FailFast: mustGetBool(cmd, "fail-fast"),
		Logger:   logger,
		Progress: func(done, _ int) {
			_ = bar.Set(done)
		},
	}

	result, err := batch.Run(cmd.Context(), identities, time.Now())
	_ = bar.Finish()
	fmt.Println()

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Printf("Session %q, codes valid for %s\n", cfg.Kiosk.SessionLabel, ttl)
	fmt.Printf("  Sent:    %s\n", green(result.Sent))
	fmt.Printf("  Skipped: %s (no email address)\n", yellow(result.Skipped))
	fmt.Printf("  Failed:  %s\n", red(len(result.Failures)))
	for _, f := range result.Failures {
		fmt.Printf("    %s: %v\n", f.IdentityID, f.Err)
	}

	if err != nil {
		return err
	}
	if len(result.Failures) > 0 {
		return fmt.Errorf("%d of %d codes could not be mailed", len(result.Failures), len(identities))
	}
	return nil
}

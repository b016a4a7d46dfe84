package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/device"
	"github.com/kozaktomas/attendance-kiosk/internal/roster"
	"github.com/kozaktomas/attendance-kiosk/internal/token"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue and verify challenge payloads",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <identity-id>",
	Short: "Issue a challenge payload for an identity",
	Example: `  attendance-kiosk token issue S001
  attendance-kiosk token issue S001 --ttl 1h --png s001.png`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenIssue,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <payload>",
	Short: "Verify a scanned challenge payload",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenVerify,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenVerifyCmd)

	tokenIssueCmd.Flags().Duration("ttl", 0, "Validity (defaults to KIOSK_CHALLENGE_TTL)")
	tokenIssueCmd.Flags().String("png", "", "Also write the QR code to this file")
}

func newCodec(cfg *config.Config) (*token.Codec, error) {
	return token.NewCodec(cfg.Kiosk.SessionLabel, cfg.Kiosk.SecretKey, token.Scheme(cfg.Kiosk.DigestScheme))
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	dir, err := roster.Load(cfg.Roster.Path)
	if err != nil {
		return err
	}
	if _, ok := dir.ByID(args[0]); !ok {
		return fmt.Errorf("identity %q is not in the roster", args[0])
	}

	ttl := cfg.Kiosk.ChallengeTTL
	if d := mustGetDuration(cmd, "ttl"); d > 0 {
		ttl = d
	}
	tok := codec.Issue(args[0], time.Now(), ttl)
	fmt.Println(tok.Payload())

	if path := mustGetString(cmd, "png"); path != "" {
		png, err := device.NewQRRenderer(constants.QRCodeSize).Render(tok.Payload())
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, png, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "QR code written to %s, valid until %s\n", path, tok.ExpiresAt.Format(time.DateTime))
	}
	return nil
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	codec, err := newCodec(cfg)
	if err != nil {
		return err
	}

	red := color.New(color.FgRed).SprintFunc()
	id, err := codec.Verify(args[0], time.Now())
	switch {
	case errors.Is(err, token.ErrExpired):
		fmt.Println(red("EXPIRED"))
		return err
	case errors.Is(err, token.ErrDigestMismatch), errors.Is(err, token.ErrMalformedPayload):
		fmt.Println(red("INVALID"))
		return err
	case err != nil:
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	name := id
	if dir, err := roster.Load(cfg.Roster.Path); err == nil {
		if identity, ok := dir.ByID(id); ok && identity.DisplayName != "" {
			name = identity.DisplayName
		}
	}
	fmt.Printf("%s %s (%s)\n", green("VALID"), name, id)
	return nil
}

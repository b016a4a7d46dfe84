package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/ledger"
	"github.com/spf13/cobra"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect recorded attendance",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance events",
	Example: `  attendance-kiosk ledger list
  attendance-kiosk ledger list --session CS101 --date 2025-05-23`,
	RunE: runLedgerList,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export attendance events as CSV",
	Example: `  attendance-kiosk ledger export --session CS101 --out cs101.csv`,
	RunE: runLedgerExport,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerExportCmd)

	for _, c := range []*cobra.Command{ledgerListCmd, ledgerExportCmd} {
		c.Flags().String("session", "", "Only events of this session label")
		c.Flags().String("date", "", "Only events of this date (YYYY-MM-DD, defaults to today with --session)")
	}
	ledgerExportCmd.Flags().String("out", "", "Output file (defaults to stdout)")
}

// filteredEvents loads the persisted ledger and applies the --session/--date filters.
func filteredEvents(cmd *cobra.Command) ([]ledger.Event, error) {
	cfg := config.Load()
	ctx := cmd.Context()
	logger := slog.Default()

	back, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer back.Close()

	l, err := back.loadLedger(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	session := mustGetString(cmd, "session")
	date := mustGetString(cmd, "date")
	if date != "" {
		if _, err := time.Parse(ledger.DateLayout, date); err != nil {
			return nil, fmt.Errorf("invalid --date %q: %w", date, err)
		}
	}
	switch {
	case session == "" && date == "":
		return l.Events(), nil
	case session != "":
		if date == "" {
			date = time.Now().Format(ledger.DateLayout)
		}
		return l.SessionEvents(session, date), nil
	}

	var out []ledger.Event
	for _, e := range l.Events() {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out, nil
}

func runLedgerList(cmd *cobra.Command, args []string) error {
	events, err := filteredEvents(cmd)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No attendance recorded.")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%-12s %-28s %-12s %-10s %-5s %s\n", "ID", "NAME", "SESSION", "DATE", "TIME", "STATUS")
	for _, e := range events {
		fmt.Printf("%-12s %-28s %-12s %-10s %-5s %s\n", e.IdentityID, e.DisplayName, e.SessionLabel, e.Date, e.TimeOfDay, green(e.Status))
	}
	fmt.Printf("\n%d events\n", len(events))
	return nil
}

func runLedgerExport(cmd *cobra.Command, args []string) error {
	events, err := filteredEvents(cmd)
	if err != nil {
		return err
	}

	out := mustGetString(cmd, "out")
	if out == "" {
		return ledger.WriteCSV(os.Stdout, events)
	}
	f, err := os.Create(out) //nolint:gosec // path is from the command line
	if err != nil {
		return err
	}
	if err := ledger.WriteCSV(f, events); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Exported %d events to %s\n", len(events), out)
	return nil
}

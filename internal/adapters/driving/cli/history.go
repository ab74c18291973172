package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history [owner/name]",
	Short: "Show recent ingestion outcomes",
	Long: `Lists ledger entries, newest first. With owner/name only the entries of
that file are shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of entries")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output entries as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}
	ledger, err := b.Ledger()
	if err != nil {
		return err
	}
	if ledger == nil {
		return errors.New("the ledger is disabled (ledger.enabled = false)")
	}

	var entries []domain.LedgerEntry
	if len(args) == 1 {
		ref, err := parseRef(args[0])
		if err != nil {
			return err
		}
		entries, err = ledger.ForSource(cmd.Context(), ref)
		if err != nil {
			return fmt.Errorf("history failed: %w", err)
		}
		if len(entries) > historyLimit && historyLimit > 0 {
			entries = entries[:historyLimit]
		}
	} else {
		entries, err = ledger.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return fmt.Errorf("history failed: %w", err)
		}
	}

	if historyJSON {
		return printJSON(cmd, entries)
	}
	if len(entries) == 0 {
		cmd.Println("No entries.")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-6s %-6s %s/%s", e.ProcessedAt.Local().Format(time.DateTime),
			e.Status, e.Action, e.OwnerID, e.SourceName)
		if e.Status == domain.LedgerStatusFailed {
			cmd.Printf("%s  %s\n", line, e.Error)
			continue
		}
		cmd.Printf("%s  chunks=%d deleted=%d\n", line, e.Chunks, e.Deleted)
	}
	return nil
}

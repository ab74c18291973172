package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

var (
	ingestMediaType string
	ingestJSON      bool
	removeJSON      bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [owner] [name...]",
	Short: "Index uploaded files directly",
	Long: `Extracts, chunks, embeds and indexes files from the upload directory
without going through the queue. Chunks previously indexed for the same
owner and name are replaced.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIngest,
}

var removeCmd = &cobra.Command{
	Use:   "remove [owner] [name...]",
	Short: "Remove indexed files directly",
	Long:  `Deletes every chunk indexed for the given owner and file names.`,
	Args:  cobra.MinimumNArgs(2),
	RunE:  runRemove,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMediaType, "media-type", "", "media type of the files (default: guessed from the name)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output outcomes as JSON")
	removeCmd.Flags().BoolVar(&removeJSON, "json", false, "output outcomes as JSON")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(removeCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}
	svc, err := b.Ingestion(cmd.Context())
	if err != nil {
		return err
	}

	event := domain.IngestEvent{}
	for _, name := range args[1:] {
		event.Add = append(event.Add, domain.FileDescriptor{OwnerID: args[0], Name: name, MediaType: ingestMediaType})
	}
	return reportBatch(cmd, svc.HandleEvent(cmd.Context(), event), ingestJSON)
}

func runRemove(cmd *cobra.Command, args []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}
	svc, err := b.Ingestion(cmd.Context())
	if err != nil {
		return err
	}

	event := domain.IngestEvent{}
	for _, name := range args[1:] {
		event.Remove = append(event.Remove, domain.FileRef{OwnerID: args[0], SourceName: name})
	}
	return reportBatch(cmd, svc.HandleEvent(cmd.Context(), event), removeJSON)
}

type outcomeJSON struct {
	Action  string `json:"action"`
	Owner   string `json:"owner_id"`
	Source  string `json:"source_name"`
	Chunks  int    `json:"chunks"`
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

// reportBatch prints one line per item and fails when any item failed.
func reportBatch(cmd *cobra.Command, result domain.BatchResult, asJSON bool) error {
	if asJSON {
		out := make([]outcomeJSON, len(result.Outcomes))
		for i, o := range result.Outcomes {
			out[i] = outcomeJSON{
				Action:  string(o.Action),
				Owner:   o.Ref.OwnerID,
				Source:  o.Ref.SourceName,
				Chunks:  o.Chunks,
				Deleted: o.Deleted,
			}
			if o.Err != nil {
				out[i].Error = o.Err.Error()
			}
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal outcomes: %w", err)
		}
		cmd.Println(string(data))
	} else {
		for _, o := range result.Outcomes {
			switch {
			case o.Err != nil:
				cmd.Printf("FAIL %s %s: %v\n", o.Action, o.Ref, o.Err)
			case o.Action == domain.ActionAdd:
				cmd.Printf("ok   add %s: %d chunks (%d replaced)\n", o.Ref, o.Chunks, o.Deleted)
			default:
				cmd.Printf("ok   remove %s: %d chunks deleted\n", o.Ref, o.Deleted)
			}
		}
	}

	if n := result.Failed(); n > 0 {
		return errors.New(plural(n, "item") + " failed")
	}
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/adapters/driven/storage/local"
	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/events"
)

var (
	publishAdd    []string
	publishRemove []string
	publishFile   string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish an ingestion event to the queue",
	Long: `Publishes one add/remove event for the consume worker.

Files are given as owner/name. Alternatively --file reads a JSON event
("-" for stdin), which is validated before it is sent.

Examples:
  dcindex publish --add 0xABC/programme.pdf
  dcindex publish --remove 0xABC/old.pdf --add 0xABC/new.pdf
  dcindex publish --file event.json`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringSliceVar(&publishAdd, "add", nil, "owner/name of a file to index (repeatable)")
	publishCmd.Flags().StringSliceVar(&publishRemove, "remove", nil, "owner/name of a file to remove (repeatable)")
	publishCmd.Flags().StringVarP(&publishFile, "file", "f", "", "JSON event file, - for stdin")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, _ []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}

	event, err := publishEvent(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if event.IsEmpty() {
		return errors.New("nothing to publish: use --add, --remove or --file")
	}

	if err := b.Publisher().Publish(cmd.Context(), event); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	cmd.Printf("Published %s and %s to queue %q.\n",
		plural(len(event.Add), "add"), plural(len(event.Remove), "remove"), currentSettings.Queue.Name)
	return nil
}

func publishEvent(stdin io.Reader) (domain.IngestEvent, error) {
	var event domain.IngestEvent
	if publishFile != "" {
		var (
			body []byte
			err  error
		)
		if publishFile == "-" {
			body, err = io.ReadAll(stdin)
		} else {
			body, err = os.ReadFile(publishFile)
		}
		if err != nil {
			return event, fmt.Errorf("read event: %w", err)
		}
		if event, err = events.Decode(body); err != nil {
			return event, err
		}
	}

	for _, arg := range publishAdd {
		ref, err := parseRef(arg)
		if err != nil {
			return event, err
		}
		event.Add = append(event.Add, domain.FileDescriptor{
			OwnerID:   ref.OwnerID,
			Name:      ref.SourceName,
			MediaType: local.GuessMediaType(ref.SourceName),
		})
	}
	for _, arg := range publishRemove {
		ref, err := parseRef(arg)
		if err != nil {
			return event, err
		}
		event.Remove = append(event.Remove, ref)
	}
	return event, nil
}

// parseRef splits owner/name.
func parseRef(s string) (domain.FileRef, error) {
	owner, name, ok := strings.Cut(s, "/")
	ref := domain.FileRef{OwnerID: strings.TrimSpace(owner), SourceName: strings.TrimSpace(name)}
	if !ok || ref.Validate() != nil {
		return domain.FileRef{}, fmt.Errorf("%w: %q is not owner/name", domain.ErrInvalidInput, s)
	}
	return ref, nil
}

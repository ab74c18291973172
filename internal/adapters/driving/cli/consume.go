package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/logger"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the ingestion worker",
	Long: `Connects to the message queue and processes add and remove events until
interrupted. Each message is acknowledged once every file in it has been
attempted; failures are logged and recorded in the ledger.

The process exits non-zero when the broker cannot be reached at startup or
when the collection's vector size does not match the embedding model.`,
	Args: cobra.NoArgs,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, _ []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.SetTimestamps(true)
	defer logger.SetTimestamps(false)

	consumer, err := b.Consumer(ctx)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	logger.Info("consuming queue %q into collection %q",
		currentSettings.Queue.Name, currentSettings.VectorIndex.Collection)
	return consumer.Run(ctx)
}

package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/adapters/driving/watcher"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Publish events for files changed in the upload directory",
	Long: `Watches <upload dir>/<owner>/ and publishes add events for created or
modified files and remove events for deleted or renamed ones. Changes are
batched until the directory has been quiet for the debounce period.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "quiet period before publishing")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(b.FileStore(), b.Publisher(), watcher.Config{Debounce: watchDebounce})
	cmd.Printf("Watching %s (Ctrl+C to stop)\n", b.FileStore().Root())
	return w.Run(ctx)
}

package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/democracy-chain/dcindex/internal/core/domain"
)

var (
	askTopK      int
	askJSON      bool
	askContext   bool
	retrieveTopK int
	retrieveJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask which programmes match a question",
	Long: `Retrieves the programme excerpts closest to the question, asks the
language model to compare them, and prints its answer followed by the
wallets it matched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Show programme excerpts similar to a query",
	Long:  `Embeds the query and prints the nearest indexed excerpts grouped by wallet.`,
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRetrieve,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "excerpts to retrieve (default grounding.top_k)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	askCmd.Flags().BoolVar(&askContext, "context", false, "also print the retrieved excerpts")
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 0, "excerpts to retrieve (default grounding.top_k)")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output excerpts as JSON")
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(retrieveCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}
	svc, err := b.Grounding(cmd.Context())
	if err != nil {
		return err
	}

	answer, err := svc.Chat(cmd.Context(), strings.Join(args, " "), askTopK)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		return printJSON(cmd, struct {
			Reply   string              `json:"reply"`
			Wallets []string            `json:"wallets"`
			Context map[string][]string `json:"context,omitempty"`
		}{
			Reply:   answer.Reply,
			Wallets: answer.Owners,
			Context: contextMap(answer.Group, askContext),
		})
	}

	cmd.Println(answer.Reply)
	cmd.Println()
	if len(answer.Owners) == 0 {
		cmd.Println("Wallets: (none)")
	} else {
		cmd.Printf("Wallets: %s\n", strings.Join(answer.Owners, ", "))
	}
	if askContext {
		cmd.Println()
		printGroup(cmd, answer.Group)
	}
	return nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	b, err := requireBackend()
	if err != nil {
		return err
	}
	svc, err := b.Grounding(cmd.Context())
	if err != nil {
		return err
	}

	group, err := svc.Retrieve(cmd.Context(), strings.Join(args, " "), retrieveTopK)
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}

	if retrieveJSON {
		type owner struct {
			Wallet string   `json:"wallet"`
			Texts  []string `json:"texts"`
		}
		out := make([]owner, 0, group.Len())
		for _, o := range group.Owners() {
			out = append(out, owner{Wallet: o, Texts: group.Texts(o)})
		}
		return printJSON(cmd, out)
	}

	if group.Len() == 0 {
		cmd.Println("No results found.")
		return nil
	}
	printGroup(cmd, group)
	return nil
}

func printGroup(cmd *cobra.Command, group *domain.RetrievalGroup) {
	for _, owner := range group.Owners() {
		cmd.Printf("[%s]\n", owner)
		for i, text := range group.Texts(owner) {
			cmd.Printf("  %d. %s\n", i+1, truncate(text, 200))
		}
	}
}

func contextMap(group *domain.RetrievalGroup, include bool) map[string][]string {
	if !include {
		return nil
	}
	return group.Map()
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

package cmd

import (
	"context"
	"encoding/json"

	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/trust"
	"github.com/spf13/cobra"
)

var scoreJSON bool

var scoreCmd = &cobra.Command{
	Use:   "score <identifier>",
	Short: "Score an account against the last committed graph",
	Long: `Score loads the last committed snapshot and prints the trust score of an
account together with its depth and follower counts.

Example:
  weaver score 3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d`,
	Args: cobra.ExactArgs(1),
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "Print the breakdown as JSON")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	graph := memory.NewStore(store)
	if err := graph.LoadFromStorage(context.Background()); err != nil {
		return err
	}

	b := trust.NewEngine(graph).Explain(args[0])

	if scoreJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}

	cmd.Printf("Account:   %s\n", b.Identifier)
	cmd.Printf("Score:     %.4f\n", b.Score)
	if b.Depth != nil {
		cmd.Printf("Depth:     %d\n", *b.Depth)
	} else {
		cmd.Printf("Depth:     (not in graph)\n")
	}
	cmd.Printf("Followers: d0=%d d1=%d d2=%d\n", b.Followers.D0, b.Followers.D1, b.Followers.D2)
	if b.Floor {
		cmd.Printf("           (floor score applied)\n")
	}
	cmd.Printf("Snapshot:  %s\n", snapshotLabel(graph.Active().BuildID()))
	return nil
}

func snapshotLabel(buildID string) string {
	if buildID == "" {
		return "(none committed)"
	}
	return buildID
}

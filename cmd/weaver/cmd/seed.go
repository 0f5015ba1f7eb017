package cmd

import (
	"context"

	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/spf13/cobra"
)

var (
	seedRegion  string
	seedLabel   string
	seedAddedBy string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Manage seeder accounts",
	Long: `Seeders are the curated depth-0 accounts every graph build starts from.
Changes take effect on the next build.`,
}

var seedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered seeders",
	Args:  cobra.NoArgs,
	RunE:  runSeedList,
}

var seedAddCmd = &cobra.Command{
	Use:   "add <identifier>",
	Short: "Register a seeder",
	Long: `Add registers a 64-character hex public key as a seeder.

Example:
  weaver seed add 3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d --region eu --label "core dev"`,
	Args: cobra.ExactArgs(1),
	RunE: runSeedAdd,
}

var seedRemoveCmd = &cobra.Command{
	Use:   "remove <identifier>",
	Short: "Remove a seeder",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedRemove,
}

func init() {
	seedAddCmd.Flags().StringVar(&seedRegion, "region", "", "Region tag (required)")
	seedAddCmd.Flags().StringVar(&seedLabel, "label", "", "Free-form label")
	seedAddCmd.Flags().StringVar(&seedAddedBy, "added-by", "cli", "Who registered the seeder")

	seedCmd.AddCommand(seedListCmd, seedAddCmd, seedRemoveCmd)
	rootCmd.AddCommand(seedCmd)
}

func runSeedList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	seeders, err := store.ListSeeders(context.Background())
	if err != nil {
		return err
	}

	if len(seeders) == 0 {
		cmd.Println("No seeders registered")
		return nil
	}

	for i, s := range seeders {
		cmd.Printf("%d. %s\n", i+1, s.Identifier)
		cmd.Printf("   Region:  %s\n", s.Region)
		if s.Label != "" {
			cmd.Printf("   Label:   %s\n", s.Label)
		}
		cmd.Printf("   Added:   %s by %s\n", s.CreatedAt.Format("2006-01-02 15:04"), s.AddedBy)
	}
	cmd.Printf("\nTotal: %d seeder(s)\n", len(seeders))
	return nil
}

func runSeedAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	seeder, err := store.AddSeeder(context.Background(), args[0], seedRegion, seedLabel, seedAddedBy)
	if err != nil {
		return err
	}

	cmd.Printf("Added seeder %s (%s)\n", account.Short(seeder.Identifier), seeder.Region)
	return nil
}

func runSeedRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RemoveSeeder(context.Background(), args[0]); err != nil {
		return err
	}

	cmd.Printf("Removed seeder %s\n", args[0])
	return nil
}

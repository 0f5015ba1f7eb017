package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent graph builds",
	Long: `History prints the most recent graph builds, newest first.

Example:
  weaver history --limit 10`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of builds to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	builds, err := store.ListBuilds(context.Background(), historyLimit)
	if err != nil {
		return err
	}

	if len(builds) == 0 {
		cmd.Println("No graph builds recorded")
		return nil
	}

	renderHistory(cmd.OutOrStdout(), builds, time.Now())
	return nil
}

var historyHeaders = []string{"BUILD", "STATUS", "STARTED", "DURATION", "SEEDERS", "NODES", "ERROR"}

const maxErrorWidth = 48

// renderHistory writes an aligned table. Cells are padded on their display width
// before being coloured so escape codes never skew the columns.
func renderHistory(w io.Writer, builds []storage.GraphBuild, now time.Time) {
	rows := make([][]string, 0, len(builds))
	for _, b := range builds {
		rows = append(rows, historyRow(b, now))
	}

	widths := make([]int, len(historyHeaders))
	for i, h := range historyHeaders {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	header := make([]string, len(historyHeaders))
	for i, h := range historyHeaders {
		header[i] = color.Bold.Sprint(runewidth.FillRight(h, widths[i]))
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(header, "  "), " "))

	for r, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			padded := runewidth.FillRight(cell, widths[i])
			if i == 1 {
				padded = statusColor(builds[r].Status).Sprint(padded)
			}
			cells[i] = padded
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func historyRow(b storage.GraphBuild, now time.Time) []string {
	id := b.ID
	if len(id) > 8 {
		id = id[:8]
	}

	duration := "-"
	switch {
	case b.CompletedAt != nil:
		duration = b.CompletedAt.Sub(b.StartedAt).Round(time.Second).String()
	case b.Status == storage.BuildRunning:
		duration = now.Sub(b.StartedAt).Round(time.Second).String() + "…"
	}

	nodes := "-"
	if b.NodesCount != nil {
		nodes = strconv.Itoa(*b.NodesCount)
	}

	errMsg := ""
	if b.ErrorMessage != nil {
		errMsg = runewidth.Truncate(*b.ErrorMessage, maxErrorWidth, "…")
	}

	return []string{
		id,
		string(b.Status),
		b.StartedAt.Local().Format("2006-01-02 15:04:05"),
		duration,
		strconv.Itoa(b.SeedersCount),
		nodes,
		errMsg,
	}
}

func statusColor(status storage.BuildStatus) color.Color {
	switch status {
	case storage.BuildCompleted:
		return color.Green
	case storage.BuildFailed:
		return color.Red
	default:
		return color.Yellow
	}
}

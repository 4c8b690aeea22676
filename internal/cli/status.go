package cli

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoints and persisted run artifacts",
	RunE:  statusAction,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func statusAction(_ *cobra.Command, _ []string) error {
	logger := newLogger()

	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	checkpoints, err := d.checkpoints.Load()
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}

	if len(checkpoints) == 0 {
		fmt.Println("No checkpoints: no channel has been bootstrapped yet.")
	} else {
		fmt.Println("Checkpoints:")
		channels := make([]string, 0, len(checkpoints))
		for ch := range checkpoints {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		for _, ch := range channels {
			fmt.Printf("  %s: %s\n", ch, humanize.Comma(checkpoints[ch]))
		}
	}

	runs, err := d.snapshots.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	fmt.Printf("Run artifacts: %d in %s\n", len(runs), d.snapshots.Dir())
	if len(runs) > 0 {
		fmt.Printf("  newest: %s\n", runs[len(runs)-1])
	}

	msgs, ok, err := d.snapshots.ReadLatest()
	if err != nil {
		return fmt.Errorf("read latest: %w", err)
	}
	if ok {
		fmt.Printf("Latest snapshot: %s messages\n", humanize.Comma(int64(len(msgs))))
	} else {
		fmt.Println("Latest snapshot: absent (no run has completed)")
	}

	return nil
}

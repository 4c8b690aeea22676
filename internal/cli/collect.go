package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/tgcollect/internal/api"
)

var (
	collectSinceHours int
	collectCap        int
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection cycle and exit",
	RunE:  collectAction,
}

func init() {
	collectCmd.Flags().IntVar(&collectSinceHours, "since-hours", 0, "bootstrap horizon in hours (default from config)")
	collectCmd.Flags().IntVar(&collectCap, "cap", 0, "per-channel message cap (default from config)")
	rootCmd.AddCommand(collectCmd)
}

func collectAction(cmd *cobra.Command, _ []string) error {
	if collectSinceHours != 0 && (collectSinceHours < api.MinSinceHours || collectSinceHours > api.MaxSinceHours) {
		return fmt.Errorf("--since-hours: %d out of range [%d,%d]", collectSinceHours, api.MinSinceHours, api.MaxSinceHours)
	}

	logger := newLogger()

	d, err := buildDeps(logger)
	if err != nil {
		return err
	}

	sinceHours := d.cfg.Poll.SinceHours
	if collectSinceHours > 0 {
		sinceHours = collectSinceHours
	}
	perSourceCap := d.cfg.Poll.PerSourceCap
	if collectCap > 0 {
		perSourceCap = collectCap
	}

	result, err := d.engine.Collect(cmd.Context(), sinceHours, perSourceCap)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	fmt.Printf("Collected %s messages (%s run) -> %s\n",
		humanize.Comma(int64(result.Count)), result.Mode, result.Artifact)
	for _, ch := range d.cfg.Channels {
		outcome := result.Sources[ch]
		line := fmt.Sprintf("  %s: %d", ch, outcome.Count)
		if outcome.Note != "" {
			line += " (" + outcome.Note + ")"
		}
		fmt.Println(line)
	}

	return nil
}

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/tgcollect/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with an example config.yaml",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	path := filepath.Join(configDir, config.DefaultConfigFile)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Printf("Created %s\n", path)
	return nil
}

const exampleConfig = `# tgcollect configuration

transport:
  # Telethon bridge exposing channel history as JSON.
  base_url: http://127.0.0.1:8085
  token_env: TGCOLLECT_TOKEN
  page_size: 100

# Ordered channel list. Override with TGC_CHANNELS=a,b,c.
channels:
  - whalefollower
  - cryptoquant_kr

output:
  dir: exports
  # reset: unreadable state degrades to empty (re-bootstrap, deduplicated)
  # fail:  unreadable state aborts the run
  on_corruption: reset

poll:
  enabled: false
  interval: 10m
  since_hours: 24
  per_source_cap: 500

server:
  port: 8000
`

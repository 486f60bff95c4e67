package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/slpwatch/internal/model"
	"github.com/verte-zerg/slpwatch/internal/replay"
	"github.com/verte-zerg/slpwatch/internal/stats"
)

func newOpponentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opponents",
		Short: "List your most recent online opponents",
		Args:  cobra.NoArgs,
		RunE:  runOpponentsCmd,
	}
	cmd.Flags().StringVarP(&opponentsOutput, "output", "o", "table", "output format (table, json, yaml)")
	return cmd
}

func runOpponentsCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	if replayDir == "" {
		return fmt.Errorf("--dir is required (or set replays.dir in the config)")
	}
	if connectCode == "" {
		return fmt.Errorf("--code is required (or set replays.connect-code in the config)")
	}
	setDefaultLogger(os.Stderr)

	reader, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	opponents := replay.Opponents(context.Background(), reader, replayDir, connectCode)
	return writeOpponents(cmd.OutOrStdout(), opponents, opponentsOutput)
}

func writeOpponents(w io.Writer, opponents []model.OpponentRecord, format string) error {
	if opponents == nil {
		opponents = []model.OpponentRecord{}
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(opponents)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() {
			if cerr := enc.Close(); cerr != nil {
				// Best-effort flush.
				_ = cerr
			}
		}()
		return enc.Encode(opponents)
	case "table":
		return stats.RenderOpponents(w, opponents, time.Now(), stats.ShouldUseColor(w, false))
	default:
		return fmt.Errorf("unknown output format %q (table, json, yaml)", format)
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/extract"
)

var flagRunName string

func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <hyperopt-log>",
		Short: "Parse one hyperopt log and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading log: %w", err)
			}
			name := flagRunName
			if name == "" {
				name = filepath.Base(filepath.Dir(args[0]))
			}
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			res, err := extract.New(cfg.Campaign.StakeCurrency).Extract(string(data), name)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&flagRunName, "run", "", "run name stored in the result (default: the log's directory name)")
	return cmd
}

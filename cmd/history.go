package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/history"
)

var flagLimit int

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded run attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfig(cmd)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()
			attempts, err := store.List(context.Background(), flagLimit)
			if err != nil {
				return err
			}
			return writeHistory(attempts, os.Stdout)
		},
	}
	cmd.Flags().IntVar(&flagLimit, "limit", 20, "number of attempts to show (0 for all)")
	return cmd
}

func writeHistory(attempts []history.Attempt, w io.Writer) error {
	if len(attempts) == 0 {
		fmt.Fprintln(w, "No attempts recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCAMPAIGN\tRUN\tSTATUS\tOBJECTIVE\tDURATION\tERROR")
	for _, a := range attempts {
		obj := "-"
		if a.Objective != nil {
			obj = fmt.Sprintf("%.5f", *a.Objective)
		}
		detail := a.ErrorType
		if a.Admitted {
			detail = "admitted"
		}
		campaign := a.CampaignID
		if len(campaign) > 8 {
			campaign = campaign[:8]
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			a.StartedAt.Local().Format("2006-01-02 15:04:05"), campaign, a.RunID, a.Status, obj, a.Duration().Round(time.Second), detail)
	}
	return tw.Flush()
}

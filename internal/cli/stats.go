package cli

import (
	"github.com/spf13/cobra"
)

func newStatsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print ledger statistics",
		Example: `  medledger stats
  medledger stats --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openHost(cmd, opts, false)
			if err != nil {
				return err
			}
			defer h.Close()

			stats := h.svc.Stats()
			if opts.output == OutputJSON {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		},
	}
}

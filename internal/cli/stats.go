package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

// NewStatsCommand builds "chatlogd stats": prints row counts and cache
// occupancy for operational inspection.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print store row counts and cache occupancy",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Shutdown(context.Background())

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}

			cmd.Printf("events=%d payloads=%d cache_entries=%d queue_depth=%d\n",
				stats.Events, stats.Payloads, stats.CacheEntries, stats.QueueDepth)
			return nil
		},
	}
}

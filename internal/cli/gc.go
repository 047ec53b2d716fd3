package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewGCCommand builds "chatlogd gc": forces one synchronous retention
// cycle outside the regular ticker, then reports the remaining event and
// payload row counts.
func NewGCCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "force one retention cleanup cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Shutdown(context.Background())

			st.RunRetentionOnce()

			stats, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("retention cycle complete; events=%d payloads=%d\n", stats.Events, stats.Payloads)
			return nil
		},
	}
}

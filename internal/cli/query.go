package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatlogd/chatlogd/internal/msgstore"
)

// NewQueryCommand builds "chatlogd query": exercises the five CHATHISTORY
// range-query forms (spec §4.4) against a running store's database.
func NewQueryCommand(opts *RootOptions) *cobra.Command {
	var (
		userID, networkID uint64
		buffer            string
		form              string
		msgid             string
		atTime            string
		fromTime          string
		toTime            string
		fromMsgid         string
		toMsgid           string
		limit             int
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "run a CHATHISTORY-style range query",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openStore(opts)
			if err != nil {
				return err
			}
			defer st.Shutdown(context.Background())

			ctx := cmd.Context()
			var records []msgstore.Record

			switch form {
			case "from-msgid":
				records, err = st.QueryFromMsgid(ctx, userID, networkID, buffer, msgid, limit)
			case "from-time":
				t, perr := parseTime(atTime)
				if perr != nil {
					return perr
				}
				records, err = st.QueryFromTime(ctx, userID, networkID, buffer, t, limit)
			case "before-msgid":
				records, err = st.QueryBeforeMsgid(ctx, userID, networkID, buffer, msgid, limit)
			case "before-time":
				t, perr := parseTime(atTime)
				if perr != nil {
					return perr
				}
				records, err = st.QueryBeforeTime(ctx, userID, networkID, buffer, t, limit)
			case "between":
				from, ferr := parseBound(fromTime, fromMsgid)
				if ferr != nil {
					return ferr
				}
				to, terr := parseBound(toTime, toMsgid)
				if terr != nil {
					return terr
				}
				records, err = st.QueryBetween(ctx, userID, networkID, buffer, from, to, limit)
			default:
				return fmt.Errorf("unknown --form %q (want from-msgid|from-time|before-msgid|before-time|between)", form)
			}
			if err != nil {
				return err
			}

			return printRecords(cmd, opts, records)
		},
	}

	cmd.Flags().Uint64Var(&userID, "user", 0, "user id")
	cmd.Flags().Uint64Var(&networkID, "network", 0, "network id")
	cmd.Flags().StringVar(&buffer, "buffer", "", "buffer name (channel or PM nick)")
	cmd.Flags().StringVar(&form, "form", "before-time", "from-msgid|from-time|before-msgid|before-time|between")
	cmd.Flags().StringVar(&msgid, "msgid", "", "msgid cursor (from-msgid/before-msgid)")
	cmd.Flags().StringVar(&atTime, "time", "", "RFC3339 timestamp cursor (from-time/before-time)")
	cmd.Flags().StringVar(&fromTime, "from-time", "", "RFC3339 timestamp for between()'s from bound")
	cmd.Flags().StringVar(&toTime, "to-time", "", "RFC3339 timestamp for between()'s to bound")
	cmd.Flags().StringVar(&fromMsgid, "from-msgid-bound", "", "msgid for between()'s from bound")
	cmd.Flags().StringVar(&toMsgid, "to-msgid-bound", "", "msgid for between()'s to bound")
	cmd.Flags().IntVar(&limit, "limit", msgstore.DefaultLength, "maximum number of records")

	return cmd
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("--time is required for this --form")
	}
	return time.Parse(time.RFC3339, s)
}

func parseBound(timeStr, msgidStr string) (msgstore.Bound, error) {
	switch {
	case timeStr != "" && msgidStr != "":
		return msgstore.Bound{}, fmt.Errorf("specify at most one of a timestamp or msgid bound")
	case timeStr != "":
		t, err := time.Parse(time.RFC3339, timeStr)
		if err != nil {
			return msgstore.Bound{}, err
		}
		return msgstore.TimestampBound(t), nil
	case msgidStr != "":
		return msgstore.MsgidBound(msgidStr), nil
	default:
		return msgstore.Bound{}, nil
	}
}

func printRecords(cmd *cobra.Command, opts *RootOptions, records []msgstore.Record) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	for _, r := range records {
		cmd.Printf("%s [%s] <%s> %s\n", r.Time.Format(time.RFC3339), r.Buffer, r.Prefix, r.Data)
	}
	return nil
}

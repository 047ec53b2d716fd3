package msgstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/chatlogd/chatlogd/internal/ircmsg"
)

// querySnapshot freezes the shape of a query result for golden comparison.
// Time is captured as milliseconds rather than an RFC3339 time.Time so the
// fixture doesn't depend on time.Time's JSON layout.
type querySnapshot struct {
	Buffer     string `json:"buffer"`
	Command    string `json:"command"`
	Msgid      string `json:"msgid"`
	TimeMillis int64  `json:"time_millis"`
	Data       string `json:"data"`
	Prefix     string `json:"prefix"`
}

func snapshotRecords(recs []Record) []querySnapshot {
	out := make([]querySnapshot, len(recs))
	for i, r := range recs {
		out[i] = querySnapshot{
			Buffer:     r.Buffer,
			Command:    r.Command,
			Msgid:      r.Msgid,
			TimeMillis: r.Time.UnixMilli(),
			Data:       r.Data,
			Prefix:     r.Prefix,
		}
	}
	return out
}

// TestQueryBetween_GoldenShape freezes the CHATHISTORY-style query output
// shape against a committed fixture. To regenerate after a deliberate
// format change, run `go test ./internal/msgstore -run Golden -update`.
func TestQueryBetween_GoldenShape(t *testing.T) {
	s := openTestStore(t, Options{})

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Store(privmsgAt("#golden", "alpha", base), ircmsg.Context{}, 1, 1)
	s.Store(privmsgAt("#golden", "beta", base.Add(time.Second)), ircmsg.Context{}, 1, 1)
	s.Store(privmsgAt("#golden", "gamma", base.Add(2*time.Second)), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryBetween(context.Background(), 1, 1, "#golden", Bound{}, Bound{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	snapshot, err := json.MarshalIndent(snapshotRecords(recs), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "query_between_ascending", snapshot)
}

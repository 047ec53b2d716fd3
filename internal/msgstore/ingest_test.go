package msgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlogd/chatlogd/internal/ircmsg"
)

func privmsg(buffer, body string, tags map[string]string) ircmsg.Inbound {
	return ircmsg.Inbound{
		Command: "PRIVMSG",
		Params:  []string{buffer, body},
		Tags:    tags,
	}
}

func TestStore_PersistsQualifyingMessage(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#ops", "hello", map[string]string{"msgid": "m1"}), ircmsg.Context{RemoteNick: "alice"}, 1, 1)
	waitIngestIdle(t, s)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Events)
}

func TestStore_DropsNonQualifyingMessage(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(ircmsg.Inbound{Command: "JOIN", Params: []string{"#ops"}}, ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Events)
}

// Scenario 6 (spec §8): a CTCP ACTION is stored, a non-ACTION CTCP is not.
func TestStore_CTCPFiltering(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#c", "\x01ACTION waves\x01", nil), ircmsg.Context{}, 1, 1)
	s.Store(privmsg("#c", "\x01VERSION\x01", nil), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryBetween(context.Background(), 1, 1, "#c", Bound{}, Bound{}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "\x01ACTION waves\x01", recs[0].Data)
}

// Scenario 4 (spec §8): two events sharing identical tag bytes dedup to a
// single payloads row.
func TestStore_DedupsIdenticalPayloads(t *testing.T) {
	s := openTestStore(t, Options{})

	tags := map[string]string{"label": "shared"}
	s.Store(privmsg("#c", "one", tags), ircmsg.Context{}, 1, 1)
	s.Store(privmsg("#c", "two", tags), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Events)

	// Distinct byte strings interned across both events: "#c" (both the
	// buffer and the single-param params blob collapse to this one row),
	// the shared tags blob, "" (prefix), "one", "two" = 5 rows.
	assert.EqualValues(t, 5, stats.Payloads)
}

func TestStore_RepeatedStoreCreatesOneEventPerCallNoExtraPayloads(t *testing.T) {
	s := openTestStore(t, Options{})

	msg := privmsg("#c", "same body", map[string]string{"msgid": "dup"})
	s.Store(msg, ircmsg.Context{}, 1, 1)
	s.Store(msg, ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Events)
	// "#c" (buffer and params collapse to one row), tags blob, "",
	// "same body" = 4 distinct payload rows regardless of the repeat.
	assert.EqualValues(t, 4, stats.Payloads)
}

func TestStore_PMBufferResolvesToRemoteNick(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("me", "hi", map[string]string{"msgid": "p1"}), ircmsg.Context{RemoteNick: "alice"}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryBeforeTime(context.Background(), 1, 1, "alice", time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "alice", recs[0].Buffer)
}

package msgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatlogd/chatlogd/internal/ircmsg"
)

func tagged(msgid string) map[string]string {
	if msgid == "" {
		return nil
	}
	return map[string]string{"msgid": msgid}
}

// Scenario 1 (spec §8): from_msgid(m1, 10) returns exactly one record with
// data "world" when m1 precedes a single later message.
func TestQueryFromMsgid_ReturnsMessagesAfterCursor(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#c", "hello", tagged("m1")), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)
	s.Store(privmsg("#c", "world", tagged("m2")), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryFromMsgid(context.Background(), 1, 1, "#c", "m1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "world", recs[0].Data)
}

func TestQueryFromMsgid_UnknownMsgidReturnsEmpty(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#c", "hello", tagged("m1")), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryFromMsgid(context.Background(), 1, 1, "#c", "no-such-msgid", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestQueryFromTime_UnknownBufferReturnsEmpty(t *testing.T) {
	s := openTestStore(t, Options{})

	recs, err := s.QueryFromTime(context.Background(), 1, 1, "#never-seen", time.Unix(0, 0), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestQueryBeforeMsgid_ReturnsAscendingUpToAndIncludingCursor(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#c", "one", tagged("m1")), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)
	s.Store(privmsg("#c", "two", tagged("m2")), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)
	s.Store(privmsg("#c", "three", tagged("m3")), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryBeforeMsgid(context.Background(), 1, 1, "#c", "m2", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "one", recs[0].Data)
	assert.Equal(t, "two", recs[1].Data)
}

func TestQueryBetween_NoBoundsReturnsMostRecentN(t *testing.T) {
	s := openTestStore(t, Options{})

	for _, body := range []string{"a", "b", "c", "d"} {
		s.Store(privmsg("#c", body, nil), ircmsg.Context{}, 1, 1)
		waitIngestIdle(t, s)
	}

	recs, err := s.QueryBetween(context.Background(), 1, 1, "#c", Bound{}, Bound{}, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Data)
	assert.Equal(t, "d", recs[1].Data)
}

func TestQueryBetween_TimestampBoundsAreFromInclusiveToExclusive(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#c", "a", nil), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)
	t1 := time.Now()
	s.Store(privmsg("#c", "b", nil), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)
	t2 := time.Now()
	s.Store(privmsg("#c", "c", nil), ircmsg.Context{}, 1, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryBetween(context.Background(), 1, 1, "#c", TimestampBound(t1), TimestampBound(t2), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Data)
}

func TestQuery_ResultsAreNonDecreasingInTime(t *testing.T) {
	s := openTestStore(t, Options{})

	for _, body := range []string{"a", "b", "c"} {
		s.Store(privmsg("#c", body, nil), ircmsg.Context{}, 1, 1)
		waitIngestIdle(t, s)
	}

	recs, err := s.QueryBetween(context.Background(), 1, 1, "#c", Bound{}, Bound{}, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i := 1; i < len(recs); i++ {
		assert.False(t, recs[i].Time.Before(recs[i-1].Time))
	}
}

func TestQuery_ScopedPerUserAndNetwork(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Store(privmsg("#c", "for-user-one", nil), ircmsg.Context{}, 1, 1)
	s.Store(privmsg("#c", "for-user-two", nil), ircmsg.Context{}, 2, 1)
	waitIngestIdle(t, s)

	recs, err := s.QueryBetween(context.Background(), 1, 1, "#c", Bound{}, Bound{}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "for-user-one", recs[0].Data)
}

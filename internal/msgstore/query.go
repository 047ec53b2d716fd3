package msgstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/chatlogd/chatlogd/internal/ircmsg"
)

// DefaultLength is the default result-set size for the five query forms
// (spec §4.4).
const DefaultLength = 50

// Record is a materialised Event: all five payload references joined back
// to their bytes (spec §4.4).
type Record struct {
	UserID    uint64
	NetworkID uint64
	Buffer    string
	Time      time.Time
	Command   string // "PRIVMSG" | "NOTICE"
	Msgid     string
	Tags      map[string]string
	Params    string
	Data      string
	Prefix    string
}

// BoundKind distinguishes the two cursor flavours a Bound may carry, or
// "unset" for between()'s omittable endpoints.
type BoundKind int

const (
	BoundNone BoundKind = iota
	BoundTimestamp
	BoundMsgid
)

// Bound is one endpoint of a between() query (spec §4.4): either a
// timestamp or a msgid, or omitted entirely.
type Bound struct {
	Kind      BoundKind
	Timestamp time.Time
	Msgid     string
}

// TimestampBound builds a timestamp Bound.
func TimestampBound(t time.Time) Bound { return Bound{Kind: BoundTimestamp, Timestamp: t} }

// MsgidBound builds a msgid Bound.
func MsgidBound(msgid string) Bound { return Bound{Kind: BoundMsgid, Msgid: msgid} }

func normalizeLength(n int) int {
	if n <= 0 {
		return DefaultLength
	}
	return n
}

// QueryFromMsgid returns up to n events in buffer strictly after the time
// of msgid m, ascending (spec §4.4 from_msgid).
func (s *Store) QueryFromMsgid(ctx context.Context, userID, networkID uint64, buffer, msgid string, n int) ([]Record, error) {
	return s.timed(func() ([]Record, error) {
		t, ok, err := s.timeOfMsgid(ctx, userID, networkID, msgid)
		if err != nil || !ok {
			return nil, err
		}
		return s.queryAscending(ctx, userID, networkID, buffer, t.UnixMilli(), normalizeLength(n))
	})
}

// QueryFromTime returns up to n events in buffer strictly after t,
// ascending (spec §4.4 from_time).
func (s *Store) QueryFromTime(ctx context.Context, userID, networkID uint64, buffer string, t time.Time, n int) ([]Record, error) {
	return s.timed(func() ([]Record, error) {
		return s.queryAscending(ctx, userID, networkID, buffer, t.UnixMilli(), normalizeLength(n))
	})
}

// QueryBeforeMsgid returns up to n events in buffer at or before the time
// of msgid m, ascending (spec §4.4 before_msgid: queried descending then
// reversed).
func (s *Store) QueryBeforeMsgid(ctx context.Context, userID, networkID uint64, buffer, msgid string, n int) ([]Record, error) {
	return s.timed(func() ([]Record, error) {
		t, ok, err := s.timeOfMsgid(ctx, userID, networkID, msgid)
		if err != nil || !ok {
			return nil, err
		}
		return s.queryDescendingReversed(ctx, userID, networkID, buffer, t.UnixMilli(), normalizeLength(n))
	})
}

// QueryBeforeTime returns up to n events in buffer at or before t,
// ascending (spec §4.4 before_time: queried descending then reversed).
func (s *Store) QueryBeforeTime(ctx context.Context, userID, networkID uint64, buffer string, t time.Time, n int) ([]Record, error) {
	return s.timed(func() ([]Record, error) {
		return s.queryDescendingReversed(ctx, userID, networkID, buffer, t.UnixMilli(), normalizeLength(n))
	})
}

// QueryBetween returns up to n events in buffer with from inclusive and to
// exclusive, ascending (spec §4.4 between). Omitting both bounds returns
// the most recent n messages in the buffer.
func (s *Store) QueryBetween(ctx context.Context, userID, networkID uint64, buffer string, from, to Bound, n int) ([]Record, error) {
	return s.timed(func() ([]Record, error) {
		fromMillis := int64(0)
		if from.Kind != BoundNone {
			t, ok, err := s.resolveBound(ctx, userID, networkID, from)
			if err != nil || !ok {
				return nil, err
			}
			fromMillis = t.UnixMilli()
		}

		toMillis := int64(math.MaxInt64)
		if to.Kind != BoundNone {
			t, ok, err := s.resolveBound(ctx, userID, networkID, to)
			if err != nil || !ok {
				return nil, err
			}
			toMillis = t.UnixMilli()
		}

		return s.queryBetweenDescendingReversed(ctx, userID, networkID, buffer, fromMillis, toMillis, normalizeLength(n))
	})
}

func (s *Store) resolveBound(ctx context.Context, userID, networkID uint64, b Bound) (time.Time, bool, error) {
	switch b.Kind {
	case BoundTimestamp:
		return b.Timestamp, true, nil
	case BoundMsgid:
		return s.timeOfMsgid(ctx, userID, networkID, b.Msgid)
	default:
		return time.Time{}, false, nil
	}
}

// timeOfMsgid resolves the time of the first event matching msgid, scoped
// to a user/network (spec §9: msgid is not guaranteed unique; callers
// should treat repeated msgids as unspecified-but-stable, so we take the
// first match via the msgid index).
func (s *Store) timeOfMsgid(ctx context.Context, userID, networkID uint64, msgid string) (time.Time, bool, error) {
	var millis int64
	err := s.db.QueryRowContext(ctx, `
		SELECT time FROM events
		WHERE user_id = ? AND network_id = ? AND msgid = ?
		ORDER BY rowid ASC
		LIMIT 1
	`, userID, networkID, msgid).Scan(&millis)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("resolve msgid time: %w", err)
	}
	return time.UnixMilli(millis), true, nil
}

const recordColumns = `
	e.user_id, e.network_id, e.time, e.kind, e.msgid,
	tagsP.bytes, paramsP.bytes, dataP.bytes, prefixP.bytes
`

const recordJoins = `
	FROM events e
	JOIN payloads tagsP   ON tagsP.id = e.tags_ref
	JOIN payloads paramsP ON paramsP.id = e.params_ref
	JOIN payloads dataP   ON dataP.id = e.data_ref
	JOIN payloads prefixP ON prefixP.id = e.prefix_ref
`

func (s *Store) queryAscending(ctx context.Context, userID, networkID uint64, buffer string, afterMillis int64, n int) ([]Record, error) {
	bufferRef, found, err := s.lookupPayloadID(ctx, []byte(buffer))
	if err != nil || !found {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+recordJoins+`
		WHERE e.user_id = ? AND e.network_id = ? AND e.buffer_ref = ? AND e.time > ?
		ORDER BY e.time ASC, e.rowid ASC
		LIMIT ?
	`, userID, networkID, bufferRef, afterMillis, n)
	if err != nil {
		return nil, fmt.Errorf("query from cursor: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, buffer)
}

func (s *Store) queryDescendingReversed(ctx context.Context, userID, networkID uint64, buffer string, atOrBeforeMillis int64, n int) ([]Record, error) {
	bufferRef, found, err := s.lookupPayloadID(ctx, []byte(buffer))
	if err != nil || !found {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+recordJoins+`
		WHERE e.user_id = ? AND e.network_id = ? AND e.buffer_ref = ? AND e.time <= ?
		ORDER BY e.time DESC, e.rowid DESC
		LIMIT ?
	`, userID, networkID, bufferRef, atOrBeforeMillis, n)
	if err != nil {
		return nil, fmt.Errorf("query before cursor: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows, buffer)
	if err != nil {
		return nil, err
	}
	reverseRecords(recs)
	return recs, nil
}

func (s *Store) queryBetweenDescendingReversed(ctx context.Context, userID, networkID uint64, buffer string, fromMillis, toMillis int64, n int) ([]Record, error) {
	bufferRef, found, err := s.lookupPayloadID(ctx, []byte(buffer))
	if err != nil || !found {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+recordJoins+`
		WHERE e.user_id = ? AND e.network_id = ? AND e.buffer_ref = ? AND e.time >= ? AND e.time < ?
		ORDER BY e.time DESC, e.rowid DESC
		LIMIT ?
	`, userID, networkID, bufferRef, fromMillis, toMillis, n)
	if err != nil {
		return nil, fmt.Errorf("query between: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows, buffer)
	if err != nil {
		return nil, err
	}
	reverseRecords(recs)
	return recs, nil
}

func (s *Store) lookupPayloadID(ctx context.Context, data []byte) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM payloads WHERE bytes = ?`, data).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup payload: %w", err)
	}
	return id, true, nil
}

func scanRecords(rows *sql.Rows, buffer string) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var (
			userID, networkID uint64
			millis             int64
			kind               int
			msgid              string
			tagsBytes          []byte
			paramsBytes        []byte
			dataBytes          []byte
			prefixBytes        []byte
		)
		if err := rows.Scan(&userID, &networkID, &millis, &kind, &msgid, &tagsBytes, &paramsBytes, &dataBytes, &prefixBytes); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		tags := map[string]string{}
		if len(bytes.TrimSpace(tagsBytes)) > 0 {
			_ = json.Unmarshal(tagsBytes, &tags)
		}

		command := "PRIVMSG"
		if ircmsg.Kind(kind) == ircmsg.KindNotice {
			command = "NOTICE"
		}

		out = append(out, Record{
			UserID:    userID,
			NetworkID: networkID,
			Buffer:    buffer,
			Time:      time.UnixMilli(millis),
			Command:   command,
			Msgid:     msgid,
			Tags:      tags,
			Params:    string(paramsBytes),
			Data:      string(dataBytes),
			Prefix:    string(prefixBytes),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func reverseRecords(recs []Record) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}

// timed wraps a query with the messages.lookup.time metric.
func (s *Store) timed(fn func() ([]Record, error)) ([]Record, error) {
	start := time.Now()
	recs, err := fn()
	s.metrics.ObserveLookupTime(time.Since(start))
	if err != nil {
		s.logger.Error("msgstore: query failed", "error", err)
		return []Record{}, nil
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

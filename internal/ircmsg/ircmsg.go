// Package ircmsg derives message-store fields from an already-parsed
// inbound IRC message.
//
// Line parsing, tag decoding, and connection bookkeeping are the
// surrounding bouncer's job; this package only implements the
// qualification and field-derivation rules the store's ingest path
// requires: which messages are kept, how their buffer/prefix/body/params
// are computed, and how their tags are canonicalised for dedup.
package ircmsg

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind enumerates the two message kinds the store persists.
type Kind int

const (
	// KindPrivmsg is an IRC PRIVMSG.
	KindPrivmsg Kind = 1
	// KindNotice is an IRC NOTICE.
	KindNotice Kind = 2
)

const ctcpMarker = '\x01'
const ctcpAction = "\x01ACTION"

// Inbound is the already-parsed inbound IRC message the surrounding bouncer
// hands to the store.
type Inbound struct {
	Command string            // "PRIVMSG", "NOTICE", or anything else
	Params  []string          // target first, body last; needs at least two to qualify
	Tags    map[string]string // IRCv3 message tags
}

// Context supplies the pieces of bouncer state needed to resolve a buffer
// name and a prefix, without the store depending on connection or account
// types.
type Context struct {
	// LocalNick is the bouncer client's own nick on this network.
	LocalNick string
	// RemoteNick is the nick of the other party in a PM exchange (the
	// resolved PM buffer name when the target isn't a channel).
	RemoteNick string
	// FromUpstream is true when the message originated from a local
	// client bound upstream to the network (vs. arriving from the
	// network bound down to the client).
	FromUpstream bool
}

// Fields is the derived, store-ready representation of a qualifying
// message.
type Fields struct {
	Kind   Kind
	Buffer string
	Data   string
	Params string
	Msgid  string
	Tags   []byte // canonical JSON serialisation of the tag map
	Prefix string
	Time   time.Time
}

// IsChannel reports whether a buffer name denotes a channel (leading # or &)
// as opposed to a private-message buffer.
func IsChannel(buffer string) bool {
	return strings.HasPrefix(buffer, "#") || strings.HasPrefix(buffer, "&")
}

// Derive applies the qualification and field-derivation rules to an inbound
// message. It returns ok=false for messages that must be dropped silently:
// non-PRIVMSG/NOTICE commands, missing target/body, and non-ACTION CTCP.
//
// now is the clock-provided fallback used when the message carries no
// parseable "time" tag.
func Derive(in Inbound, ctx Context, now time.Time) (Fields, bool) {
	var kind Kind
	switch in.Command {
	case "PRIVMSG":
		kind = KindPrivmsg
	case "NOTICE":
		kind = KindNotice
	default:
		return Fields{}, false
	}

	if len(in.Params) < 2 {
		return Fields{}, false
	}

	target := in.Params[0]
	data := in.Params[len(in.Params)-1]
	params := strings.Join(in.Params[:len(in.Params)-1], " ")

	if isCTCP(data) && !strings.HasPrefix(data, ctcpAction) {
		return Fields{}, false
	}

	buffer := target
	if !IsChannel(target) {
		buffer = ctx.RemoteNick
	}

	prefix := ctx.RemoteNick
	if ctx.FromUpstream {
		prefix = ctx.LocalNick
	}

	msgid := firstTag(in.Tags, "draft/msgid", "msgid")

	tags, err := canonicalTags(in.Tags)
	if err != nil {
		tags = []byte("{}")
	}

	ts := now
	if raw, ok := in.Tags["time"]; ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed
		}
	}

	return Fields{
		Kind:   kind,
		Buffer: buffer,
		Data:   data,
		Params: params,
		Msgid:  msgid,
		Tags:   tags,
		Prefix: prefix,
		Time:   ts,
	}, true
}

func isCTCP(data string) bool {
	return len(data) > 0 && data[0] == ctcpMarker
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := tags[k]; ok {
			return v
		}
	}
	return ""
}

// canonicalTags serialises a tag map to a deterministic JSON object: keys
// sorted (json.Marshal already sorts map[string]string keys) and values NFC
// normalised so visually-identical tag bundles dedup to the same payload.
func canonicalTags(tags map[string]string) ([]byte, error) {
	if len(tags) == 0 {
		return []byte("{}"), nil
	}

	normalised := make(map[string]string, len(tags))
	for k, v := range tags {
		normalised[norm.NFC.String(k)] = norm.NFC.String(v)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalised); err != nil {
		return nil, err
	}

	return bytes.TrimSpace(buf.Bytes()), nil
}

package dmsconnector

import (
	"fmt"
	"time"
)

// ResponseBase holds the fields common to every response record regardless of
// verb (spec §3, "Response").
type ResponseBase struct {
	Tag     string
	Path    string
	Code    ResponseCode
	Message string
}

// Response is implemented by every typed response record. Base returns
// the fields common to all verbs; ServerErr reports the failure as a
// *ServerError when Code is set to anything but CodeOK, or nil on success
// or when the record carries no code.
type Response interface {
	Base() *ResponseBase
	ServerErr() *ServerError
}

func (b *ResponseBase) Base() *ResponseBase { return b }

func (b *ResponseBase) ServerErr() *ServerError {
	if b.Code == CodeOK || b.Code == "" {
		return nil
	}
	return &ServerError{Path: b.Path, Code: b.Code, Message: b.Message}
}

// RespGet is the reply to a "get" command (spec §4.4). At most one of
// HistDetail/HistCompact and at most one of ChangelogProtocol/
// ChangelogAlarm is populated, each chosen by shape-sniffing the decoded
// record; all are nil for a plain value fetch.
type RespGet struct {
	ResponseBase
	Value    any
	Stamp    time.Time
	HasStamp bool
	ExtInfos *ExtInfos

	HistDetail  []HistRecord
	HistCompact []HistPoint

	ChangelogProtocol []ChangelogEntry
	ChangelogAlarm    []AlarmEntry
}

// RespSet is the reply to a "set" command.
type RespSet struct{ ResponseBase }

// RespRen is the reply to a "rename" command.
type RespRen struct{ ResponseBase }

// RespDel is the reply to a "delete" command.
type RespDel struct{ ResponseBase }

// RespSub is the reply to a "subscribe" command.
type RespSub struct{ ResponseBase }

// RespUnsub is the reply to an "unsubscribe" command.
type RespUnsub struct{ ResponseBase }

// RespChangelogGetGroups is the reply to the tag-less "changelogGetGroups"
// command (spec §4.3).
type RespChangelogGetGroups struct {
	ResponseBase
	Groups []string
}

// RespChangelogRead is the reply to a "changelogRead" command. Per the
// original implementation, these records are always protocol-shaped,
// never alarm-shaped, regardless of what the datapoint's own changelog
// entries would sniff as (spec §4.4, "changelogRead exception").
type RespChangelogRead struct {
	ResponseBase
	Entries []ChangelogEntry
}

func asString(m map[string]any, k string) string {
	v, _ := m[k].(string)
	return v
}

func asFloat(m map[string]any, k string) (float64, bool) {
	v, ok := m[k].(float64)
	return v, ok
}

func asMap(m map[string]any, k string) map[string]any {
	v, _ := m[k].(map[string]any)
	return v
}

func asSlice(m map[string]any, k string) []any {
	v, _ := m[k].([]any)
	return v
}

// stampLayouts are the timestamp layouts accepted on input, tried in
// order. The DMS server emits ISO 8601 with a comma as the decimal
// separator (e.g. "2018-12-05T19:00:00,000+02:00") in addition to the
// ordinary period-decimal form.
var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05,000000000Z07:00",
	"2006-01-02T15:04:05,000Z07:00",
}

// parseStamp parses an ISO 8601 stamp string. The protocol uses a null
// stamp to mean "no value yet" (spec §4.4); an empty or unparsable
// string yields the zero time with ok=false.
func parseStamp(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}, false
	}
	for _, layout := range stampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func decodeBase(verb, tag string, m map[string]any) ResponseBase {
	return ResponseBase{
		Tag:     tag,
		Path:    asString(m, "path"),
		Code:    ResponseCode(asString(m, "code")),
		Message: asString(m, "message"),
	}
}

// decodeResponse builds the typed record for one (verb, record) pair
// from a decoded JSON object. Unknown verbs are a protocol error (spec
// §7, "Protocol errors").
func decodeResponse(verb, tag string, m map[string]any) (Response, error) {
	b := decodeBase(verb, tag, m)

	switch verb {
	case verbGet:
		return decodeGetResponse(b, m), nil
	case verbSet:
		return &RespSet{b}, nil
	case verbRename:
		return &RespRen{b}, nil
	case verbDelete:
		return &RespDel{b}, nil
	case verbSubscribe:
		return &RespSub{b}, nil
	case verbUnsubscribe:
		return &RespUnsub{b}, nil
	case verbChangelogGetGroups:
		groups := make([]string, 0)
		for _, g := range asSlice(m, "groups") {
			if s, ok := g.(string); ok {
				groups = append(groups, s)
			}
		}
		return &RespChangelogGetGroups{ResponseBase: b, Groups: groups}, nil
	case verbChangelogRead:
		return &RespChangelogRead{ResponseBase: b, Entries: decodeChangelogProtocol(asSlice(m, "changelog"))}, nil
	default:
		return nil, fmt.Errorf("dmsconnector: unrecognized response verb %q", verb)
	}
}

func decodeGetResponse(b ResponseBase, m map[string]any) *RespGet {
	r := &RespGet{ResponseBase: b}

	if b.Code != CodeOK {
		return r
	}

	r.Value = m["value"]
	if stamp, ok := parseStamp(m["stamp"]); ok {
		r.Stamp, r.HasStamp = stamp, true
	}
	r.ExtInfos = extInfosFromWire(asMap(m, "extInfos"))

	if hist, ok := m["histData"]; ok {
		items := toSlice(hist)
		if isDetailHistShape(items) {
			r.HistDetail = decodeHistDetail(items)
		} else {
			r.HistCompact = decodeHistCompact(items)
		}
	}

	if cl, ok := m["changelog"]; ok {
		items := toSlice(cl)
		if isAlarmShape(items) {
			r.ChangelogAlarm = decodeChangelogAlarm(items)
		} else {
			r.ChangelogProtocol = decodeChangelogProtocol(items)
		}
	}

	return r
}

func toSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

// isDetailHistShape sniffs "detail" vs "compact" history shape by the
// presence of a "stamp" key on the first record (spec §4.4,
// "histData shape-sniffing"). An empty list is treated as compact,
// matching the original's default.
func isDetailHistShape(items []any) bool {
	if len(items) == 0 {
		return false
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return false
	}
	_, hasStamp := first["stamp"]
	return hasStamp
}

func decodeHistDetail(items []any) []HistRecord {
	out := make([]HistRecord, 0, len(items))
	for _, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			continue
		}
		stamp, _ := parseStamp(rec["stamp"])
		out = append(out, HistRecord{
			Stamp: stamp,
			Value: rec["value"],
			State: asString(rec, "state"),
			Rec:   rec["rec"],
		})
	}
	return out
}

// decodeHistCompact synthesizes (stamp, value) pairs from each record's
// single key/value entry: the wire shape for "compact" history is an
// object whose one key is the ISO 8601 stamp (spec §4.4).
func decodeHistCompact(items []any) []HistPoint {
	out := make([]HistPoint, 0, len(items))
	for _, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			continue
		}
		for k, v := range rec {
			stamp, _ := parseStamp(k)
			out = append(out, HistPoint{Stamp: stamp, Value: v})
			break
		}
	}
	return out
}

// isAlarmShape sniffs "alarm" vs "protocol" changelog shape by the
// presence of a "state" key on the first record (spec §4.4).
func isAlarmShape(items []any) bool {
	if len(items) == 0 {
		return false
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return false
	}
	_, hasState := first["state"]
	return hasState
}

func decodeChangelogProtocol(items []any) []ChangelogEntry {
	out := make([]ChangelogEntry, 0, len(items))
	for _, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			continue
		}
		stamp, _ := parseStamp(rec["stamp"])
		out = append(out, ChangelogEntry{
			Path:  asString(rec, "path"),
			Stamp: stamp,
			Text:  asString(rec, "text"),
		})
	}
	return out
}

func decodeChangelogAlarm(items []any) []AlarmEntry {
	out := make([]AlarmEntry, 0, len(items))
	for _, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			continue
		}
		stamp, _ := parseStamp(rec["stamp"])
		intOf := func(k string) int {
			v, _ := asFloat(rec, k)
			return int(v)
		}
		out = append(out, AlarmEntry{
			ChangelogEntry: ChangelogEntry{
				Path:  asString(rec, "path"),
				Stamp: stamp,
				Text:  asString(rec, "text"),
			},
			State:             asString(rec, "state"),
			Priority:          intOf("priority"),
			PriorityBACnet:    intOf("priorityBACnet"),
			AlarmGroup:        intOf("alarmGroup"),
			AlarmCollectGroup: intOf("alarmCollectGroup"),
			SiteGroup:         intOf("siteGroup"),
			Screen:            asString(rec, "screen"),
		})
	}
	return out
}

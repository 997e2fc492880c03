package dmsconnector

import "time"

// ResponseCode is the DMS result code carried by every response.
type ResponseCode string

// Response codes defined by the protocol (spec §6).
const (
	CodeOK       ResponseCode = "ok"
	CodeNoPerm   ResponseCode = "no perm"
	CodeNotFound ResponseCode = "not found"
	CodeError    ResponseCode = "error"
)

// EventCode identifies the kind of change a subscription event reports.
type EventCode string

// Event codes (spec §3, §6). The original implementation's mapping for
// "delete" emits onRename (a bug); this port emits onDelete, per spec
// §9's deliberate correction.
const (
	EventOnChange EventCode = "onChange"
	EventOnSet    EventCode = "onSet"
	EventOnCreate EventCode = "onCreate"
	EventOnRename EventCode = "onRename"
	EventOnDelete EventCode = "onDelete"
)

// Extended-info bitmask flags for the "showExtInfos" get option (spec §6).
const (
	InfoState          = 1 << 0 // 1
	InfoAccType        = 1 << 1 // 2
	InfoName           = 1 << 2 // 4
	InfoTemplate       = 1 << 3 // 8
	InfoUnit           = 1 << 4 // 16
	InfoComment        = 1 << 5 // 32
	InfoChangelogGroup = 1 << 6 // 64
	InfoAll            = 127
)

// Event-subscription bitmask flags for the "subscribe" event option
// (spec §6).
const (
	OnChange = 1 << 0 // 1
	OnSet    = 1 << 1 // 2
	OnCreate = 1 << 2 // 4
	OnRename = 1 << 3 // 8
	OnDelete = 1 << 4 // 16
	OnAll    = 31
)

// Query narrows a "get" request or a subscription to a subtree (spec §4.2).
type Query struct {
	RegExPath    string
	RegExValue   string
	RegExStamp   string
	IsType       string
	HasHistData  bool
	HasChangelog bool
	HasAlarmData bool
	MaxDepth     int
}

func (q *Query) asWire() map[string]any {
	if q == nil {
		return nil
	}
	m := map[string]any{}
	if q.RegExPath != "" {
		m["regExPath"] = q.RegExPath
	}
	if q.RegExValue != "" {
		m["regExValue"] = q.RegExValue
	}
	if q.RegExStamp != "" {
		m["regExStamp"] = q.RegExStamp
	}
	if q.IsType != "" {
		m["isType"] = q.IsType
	}
	if q.HasHistData {
		m["hasHistData"] = true
	}
	if q.HasChangelog {
		m["hasChangelog"] = true
	}
	if q.HasAlarmData {
		m["hasAlarmData"] = true
	}
	if q.MaxDepth != 0 {
		m["maxDepth"] = q.MaxDepth
	}
	return m
}

func queryFromWire(m map[string]any) *Query {
	if m == nil {
		return nil
	}
	q := &Query{}
	if v, ok := m["regExPath"].(string); ok {
		q.RegExPath = v
	}
	if v, ok := m["regExValue"].(string); ok {
		q.RegExValue = v
	}
	if v, ok := m["regExStamp"].(string); ok {
		q.RegExStamp = v
	}
	if v, ok := m["isType"].(string); ok {
		q.IsType = v
	}
	if v, ok := m["hasHistData"].(bool); ok {
		q.HasHistData = v
	}
	if v, ok := m["hasChangelog"].(bool); ok {
		q.HasChangelog = v
	}
	if v, ok := m["hasAlarmData"].(bool); ok {
		q.HasAlarmData = v
	}
	switch v := m["maxDepth"].(type) {
	case float64:
		q.MaxDepth = int(v)
	case int:
		q.MaxDepth = v
	}
	return q
}

// HistData requests historical trend data as part of a "get" (spec §4.2).
// Start and End accept either a pre-formatted ISO 8601 string or any
// value satisfying [TimeStamper]; both are normalized at encode time.
type HistData struct {
	Start    any
	End      any
	Interval int
	Format   string
}

func (h *HistData) asWire() map[string]any {
	if h == nil {
		return nil
	}
	m := map[string]any{"start": formatTimestamp(h.Start)}
	if h.End != nil {
		m["end"] = formatTimestamp(h.End)
	}
	if h.Interval != 0 {
		m["interval"] = h.Interval
	}
	if h.Format != "" {
		m["format"] = h.Format
	}
	return m
}

// Changelog requests changelog/alarm entries as part of a "get" (spec §4.2).
type Changelog struct {
	Start any
	End   any
}

func (c *Changelog) asWire() map[string]any {
	if c == nil {
		return nil
	}
	m := map[string]any{"start": formatTimestamp(c.Start)}
	if c.End != nil {
		m["end"] = formatTimestamp(c.End)
	}
	return m
}

// TimeStamper is satisfied by any value that renders itself as an ISO
// 8601 string. [time.Time] does not implement it; formatTimestamp
// handles time.Time values directly.
type TimeStamper interface {
	ISO8601() string
}

// formatTimestamp normalizes a timestamp-shaped value to a wire string.
// Strings pass through verbatim; time.Time and anything implementing
// [TimeStamper] are rendered as ISO 8601 (spec §4.2, "Timestamp
// normalization").
func formatTimestamp(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case TimeStamper:
		return t.ISO8601()
	case nil:
		return ""
	default:
		return ""
	}
}

// ExtInfos carries the extended metadata optionally returned alongside a
// "get" response (spec §3, §6). Present only when the caller requested
// it via ShowExtInfos; nil otherwise.
type ExtInfos struct {
	State          string
	AccType        string
	Name           string
	Template       string
	Unit           string
	Comment        string
	ChangelogGroup string
}

func extInfosFromWire(m map[string]any) *ExtInfos {
	if m == nil {
		return nil
	}
	get := func(k string) string {
		v, _ := m[k].(string)
		return v
	}
	return &ExtInfos{
		State:          get("state"),
		AccType:        get("accType"),
		Name:           get("name"),
		Template:       get("template"),
		Unit:           get("unit"),
		Comment:        get("comment"),
		ChangelogGroup: get("changelogGroup"),
	}
}

// HistPoint is one chronological sample of "compact" history data: a
// (stamp, value) pair synthesized from the single key/value of each wire
// item (spec §4.4).
type HistPoint struct {
	Stamp time.Time
	Value any
}

// HistRecord is one sample of "detail" history data, carrying the full
// trend record (spec §4.4).
type HistRecord struct {
	Stamp time.Time
	Value any
	State string
	Rec   any
}

// ChangelogEntry is one protocol-format changelog row (spec §4.4).
type ChangelogEntry struct {
	Path  string
	Stamp time.Time
	Text  string
}

// AlarmEntry is one alarm-format changelog row: a ChangelogEntry plus
// the additional alarm fields the server includes when the datapoint
// carries alarm state (spec §4.4).
type AlarmEntry struct {
	ChangelogEntry
	State             string
	Priority          int
	PriorityBACnet    int
	AlarmGroup        int
	AlarmCollectGroup int
	SiteGroup         int
	Screen            string
}

// Event is a server-pushed subscription notification (spec §3).
type Event struct {
	Code     EventCode
	Path     string
	NewPath  string
	Trigger  string
	Value    any
	Type     string
	Stamp    time.Time
	HasStamp bool
	Tag      string
}

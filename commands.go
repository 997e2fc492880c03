package dmsconnector

import "sort"

// Command verbs as they appear on the wire (spec §4.2).
const (
	verbGet                = "get"
	verbSet                = "set"
	verbRename             = "rename"
	verbDelete             = "delete"
	verbSubscribe          = "subscribe"
	verbUnsubscribe        = "unsubscribe"
	verbChangelogGetGroups = "changelogGetGroups"
	verbChangelogRead      = "changelogRead"
)

// preparedCommand is the verb-agnostic result of validating and encoding
// one command's options. tagless is set only for changelogGetGroups,
// the one verb whose correlation tag lives in the envelope-level helper
// list rather than in the command object itself (spec §4.3).
type preparedCommand struct {
	verb    string
	fields  map[string]any
	tagless bool
}

// GetOptions configures a "get" command (spec §4.2).
type GetOptions struct {
	Query        *Query
	HistData     *HistData
	Changelog    *Changelog
	ShowExtInfos any // int bitmask, []string of field names, or nil
}

func buildGet(path string, opts GetOptions) (preparedCommand, error) {
	fields := map[string]any{"path": path}
	mergeWire(fields, opts.Query.asWire())

	if opts.HistData != nil {
		fields["histData"] = opts.HistData.asWire()
	}
	if opts.Changelog != nil {
		fields["changelog"] = opts.Changelog.asWire()
	}
	if opts.ShowExtInfos != nil {
		names, err := showExtInfosToWire(verbGet, opts.ShowExtInfos)
		if err != nil {
			return preparedCommand{}, err
		}
		if len(names) > 0 {
			fields["showExtInfos"] = names
		}
	}
	return preparedCommand{verb: verbGet, fields: fields}, nil
}

// SetOptions configures a "set" command (spec §4.2).
type SetOptions struct {
	Create bool
	Type   string
	Stamp  any
}

func buildSet(path string, value any, opts SetOptions) (preparedCommand, error) {
	fields := map[string]any{"path": path, "value": value}
	if opts.Create {
		fields["create"] = true
	}
	if opts.Type != "" {
		fields["type"] = opts.Type
	}
	if opts.Stamp != nil {
		if s := formatTimestamp(opts.Stamp); s != "" {
			fields["stamp"] = s
		}
	}
	return preparedCommand{verb: verbSet, fields: fields}, nil
}

func buildRename(path, newPath string) (preparedCommand, error) {
	if newPath == "" {
		return preparedCommand{}, &EncodingError{Verb: verbRename, Field: "newPath", Msg: "must not be empty"}
	}
	return preparedCommand{verb: verbRename, fields: map[string]any{"path": path, "newPath": newPath}}, nil
}

// DeleteOptions configures a "delete" command. Recursive is a tri-state:
// nil omits the field and defers to the server's default (spec §4.2).
type DeleteOptions struct {
	Recursive *bool
}

func buildDelete(path string, opts DeleteOptions) (preparedCommand, error) {
	fields := map[string]any{"path": path}
	if opts.Recursive != nil {
		fields["recursive"] = *opts.Recursive
	}
	return preparedCommand{verb: verbDelete, fields: fields}, nil
}

// SubscribeOptions configures a "subscribe" command (spec §4.2, §4.5).
// Event accepts an int bitmask of the On* constants, the literal string
// "*" for every event, or a pre-formatted comma-separated event list.
type SubscribeOptions struct {
	Query *Query
	Event any
}

func buildSubscribe(path string, opts SubscribeOptions) (preparedCommand, error) {
	fields := map[string]any{"path": path}
	mergeWire(fields, opts.Query.asWire())

	if opts.Event != nil {
		ev, err := eventToWire(verbSubscribe, opts.Event)
		if err != nil {
			return preparedCommand{}, err
		}
		if ev != "" {
			fields["event"] = ev
		}
	}
	return preparedCommand{verb: verbSubscribe, fields: fields}, nil
}

func buildUnsubscribe(path string) (preparedCommand, error) {
	return preparedCommand{verb: verbUnsubscribe, fields: map[string]any{"path": path}}, nil
}

func buildChangelogGetGroups() (preparedCommand, error) {
	return preparedCommand{verb: verbChangelogGetGroups, fields: map[string]any{}, tagless: true}, nil
}

// ChangelogReadOptions configures a "changelogRead" command.
type ChangelogReadOptions struct {
	End any
}

func buildChangelogRead(path string, start any, opts ChangelogReadOptions) (preparedCommand, error) {
	fields := map[string]any{"path": path, "start": formatTimestamp(start)}
	if opts.End != nil {
		fields["end"] = formatTimestamp(opts.End)
	}
	return preparedCommand{verb: verbChangelogRead, fields: fields}, nil
}

func mergeWire(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

// extInfoNames lists the showExtInfos bitmask flags in a fixed order so
// bitmaskToExtInfoNames output is deterministic.
var extInfoNames = []struct {
	bit  int
	name string
}{
	{InfoState, "state"},
	{InfoAccType, "accType"},
	{InfoName, "name"},
	{InfoTemplate, "template"},
	{InfoUnit, "unit"},
	{InfoComment, "comment"},
	{InfoChangelogGroup, "changelogGroup"},
}

func bitmaskToExtInfoNames(mask int) []string {
	names := make([]string, 0, len(extInfoNames))
	for _, e := range extInfoNames {
		if mask&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	return names
}

func showExtInfosToWire(verb string, v any) ([]string, error) {
	switch t := v.(type) {
	case int:
		return bitmaskToExtInfoNames(t), nil
	case []string:
		valid := make(map[string]bool, len(extInfoNames))
		for _, e := range extInfoNames {
			valid[e.name] = true
		}
		for _, name := range t {
			if !valid[name] {
				return nil, &EncodingError{Verb: verb, Field: "showExtInfos", Msg: "unknown field name " + name}
			}
		}
		out := append([]string(nil), t...)
		sort.Strings(out)
		return out, nil
	default:
		return nil, &EncodingError{Verb: verb, Field: "showExtInfos", Msg: "must be an int bitmask or []string of field names"}
	}
}

// eventNames lists the subscribe event bitmask flags in the order the
// original implementation joins them (spec §6, §9 — onDelete corrected
// to its own code rather than aliasing onRename).
var eventNames = []struct {
	bit  int
	name string
}{
	{OnChange, "onChange"},
	{OnSet, "onSet"},
	{OnCreate, "onCreate"},
	{OnRename, "onRename"},
	{OnDelete, "onDelete"},
}

func bitmaskToEventString(mask int) string {
	if mask == OnAll {
		return "*"
	}
	s := ""
	for _, e := range eventNames {
		if mask&e.bit == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += e.name
	}
	return s
}

func eventToWire(verb string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return bitmaskToEventString(t), nil
	default:
		return "", &EncodingError{Verb: verb, Field: "event", Msg: "must be an int bitmask or a string"}
	}
}

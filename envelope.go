package dmsconnector

// request is an outgoing wire envelope: the client's identity, one or
// more commands grouped by verb, ready for JSON encoding (spec §3, §6).
type request struct {
	whois string
	user  string

	verbs   map[string][]map[string]any
	clgTags []string // correlation tags for changelogGetGroups commands, in send order
}

func newRequest(whois, user string) *request {
	return &request{whois: whois, user: user, verbs: make(map[string][]map[string]any)}
}

// add attaches a reserved tag to a prepared command and appends it to
// the envelope. changelogGetGroups commands carry no "tag" field of
// their own and no options; their tag instead goes into the
// envelope-level helper map so the reply, which the server echoes back
// under the same "tag" key, can be matched by position (spec §4.3, §6).
func (r *request) add(tag string, cmd preparedCommand) {
	if cmd.tagless {
		r.clgTags = append(r.clgTags, tag)
		r.verbs[cmd.verb] = append(r.verbs[cmd.verb], map[string]any{})
		return
	}
	fields := make(map[string]any, len(cmd.fields)+1)
	for k, v := range cmd.fields {
		fields[k] = v
	}
	fields["tag"] = tag
	r.verbs[cmd.verb] = append(r.verbs[cmd.verb], fields)
}

// encode renders the envelope to the map that gets JSON-marshalled onto
// the wire: the client's identity fields, the envelope-level "tag"
// helper map for any changelogGetGroups commands, and the per-verb
// command lists (spec §3, §6).
func (r *request) encode() map[string]any {
	out := make(map[string]any, len(r.verbs)+3)
	out["whois"] = r.whois
	out["user"] = r.user
	if len(r.clgTags) > 0 {
		out["tag"] = map[string]any{verbChangelogGetGroups: r.clgTags}
	}
	for verb, cmds := range r.verbs {
		out[verb] = cmds
	}
	return out
}

// decodeFrame splits one decoded wire frame into response groups keyed
// by tag and any subscription events it carries (spec §4.4, §4.6).
// Replies for ordinary verbs echo their own "tag" per record; a run of
// records sharing a tag is accumulated into one group, matching the
// original implementation's "contiguous same-tag" grouping.
func decodeFrame(raw map[string]any) (map[string]responseGroup, []Event, error) {
	groups := make(map[string]responseGroup)
	var events []Event

	clgTags := clgTagsFromFrame(raw)

	for verb, val := range raw {
		switch verb {
		case "event":
			events = append(events, decodeEvents(toSlice(val))...)
			continue
		case "whois", "user", "tag":
			continue
		}

		items := toSlice(val)

		if verb == verbChangelogGetGroups {
			for i, it := range items {
				m, _ := it.(map[string]any)
				tag := ""
				if i < len(clgTags) {
					tag = clgTags[i]
				}
				resp, err := decodeResponse(verb, tag, m)
				if err != nil {
					return nil, nil, err
				}
				groups[tag] = append(groups[tag], resp)
			}
			continue
		}

		for _, it := range items {
			m, _ := it.(map[string]any)
			tag := asString(m, "tag")
			resp, err := decodeResponse(verb, tag, m)
			if err != nil {
				return nil, nil, err
			}
			groups[tag] = append(groups[tag], resp)
		}
	}

	return groups, events, nil
}

// clgTagsFromFrame reads the positional correlation tags for
// changelogGetGroups replies back off the envelope-level "tag" helper
// map the server echoes verbatim in the same reply frame (spec §4.3,
// §6; original `connector.py:1584-1586`).
func clgTagsFromFrame(raw map[string]any) []string {
	tagField, ok := raw["tag"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := tagField[verbChangelogGetGroups].([]any)
	if !ok {
		return nil
	}
	tags := make([]string, 0, len(items))
	for _, it := range items {
		s, _ := it.(string)
		tags = append(tags, s)
	}
	return tags
}

// decodeEvents decodes the records under a frame's "event" key into
// typed Event values (spec §4.6).
func decodeEvents(items []any) []Event {
	out := make([]Event, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		e := Event{
			Code:    EventCode(asString(m, "code")),
			Path:    asString(m, "path"),
			NewPath: asString(m, "newPath"),
			Trigger: asString(m, "trigger"),
			Value:   m["value"],
			Type:    asString(m, "type"),
			Tag:     asString(m, "tag"),
		}
		if stamp, ok := parseStamp(m["stamp"]); ok {
			e.Stamp, e.HasStamp = stamp, true
		}
		out = append(out, e)
	}
	return out
}

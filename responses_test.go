package dmsconnector

import "testing"

func TestDecodeResponse_Get(t *testing.T) {
	resp, err := decodeResponse(verbGet, "t1", map[string]any{
		"path": "System:Time", "code": "ok", "value": "12:00:00", "stamp": "2026-08-01T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("decodeResponse error: %v", err)
	}
	g, ok := resp.(*RespGet)
	if !ok {
		t.Fatalf("got %T, want *RespGet", resp)
	}
	if g.Value != "12:00:00" || !g.HasStamp {
		t.Errorf("got %+v", g)
	}
}

func TestDecodeGetResponse_HistDataCompact(t *testing.T) {
	m := map[string]any{
		"path": "Weather:Aussentemp:Istwert", "code": "ok",
		"histData": []any{
			map[string]any{"2018-12-05T19:00:00+02:00": 4.2},
			map[string]any{"2018-12-05T19:10:00+02:00": 4.1},
		},
	}
	resp := decodeGetResponse(decodeBase(verbGet, "t1", m), m)
	if len(resp.HistCompact) != 2 {
		t.Fatalf("HistCompact = %v, want 2 entries", resp.HistCompact)
	}
	if resp.HistDetail != nil {
		t.Errorf("HistDetail should be nil for compact shape, got %v", resp.HistDetail)
	}
	if resp.HistCompact[0].Value != 4.2 {
		t.Errorf("HistCompact[0].Value = %v, want 4.2", resp.HistCompact[0].Value)
	}
}

func TestDecodeGetResponse_HistDataDetail(t *testing.T) {
	m := map[string]any{
		"path": "Weather:Aussentemp:Istwert", "code": "ok",
		"histData": []any{
			map[string]any{"stamp": "2018-12-05T19:00:00+02:00", "value": 4.2, "state": "ok"},
		},
	}
	resp := decodeGetResponse(decodeBase(verbGet, "t1", m), m)
	if len(resp.HistDetail) != 1 {
		t.Fatalf("HistDetail = %v, want 1 entry", resp.HistDetail)
	}
	if resp.HistCompact != nil {
		t.Errorf("HistCompact should be nil for detail shape, got %v", resp.HistCompact)
	}
}

func TestDecodeGetResponse_ChangelogProtocol(t *testing.T) {
	m := map[string]any{
		"path": "MSR01:Test_int", "code": "ok",
		"changelog": []any{
			map[string]any{"path": "MSR01:Test_int", "stamp": "2018-12-05T19:00:00+02:00", "text": "changed"},
		},
	}
	resp := decodeGetResponse(decodeBase(verbGet, "t1", m), m)
	if len(resp.ChangelogProtocol) != 1 {
		t.Fatalf("ChangelogProtocol = %v, want 1 entry", resp.ChangelogProtocol)
	}
	if resp.ChangelogAlarm != nil {
		t.Errorf("ChangelogAlarm should be nil, got %v", resp.ChangelogAlarm)
	}
}

func TestDecodeGetResponse_ChangelogAlarm(t *testing.T) {
	m := map[string]any{
		"path": "MSR01:Alarm1", "code": "ok",
		"changelog": []any{
			map[string]any{
				"path": "MSR01:Alarm1", "stamp": "2018-12-05T19:00:00+02:00", "text": "alarm",
				"state": "active", "priority": float64(3),
			},
		},
	}
	resp := decodeGetResponse(decodeBase(verbGet, "t1", m), m)
	if len(resp.ChangelogAlarm) != 1 {
		t.Fatalf("ChangelogAlarm = %v, want 1 entry", resp.ChangelogAlarm)
	}
	if resp.ChangelogAlarm[0].Priority != 3 {
		t.Errorf("Priority = %d, want 3", resp.ChangelogAlarm[0].Priority)
	}
}

func TestDecodeResponse_ChangelogReadAlwaysProtocolShaped(t *testing.T) {
	// Per the original implementation, changelogRead results are always
	// decoded as protocol-shaped entries, even if individual records
	// happen to carry a "state" key (spec §4.4 exception).
	resp, err := decodeResponse(verbChangelogRead, "t1", map[string]any{
		"path": "MSR01:Alarm1", "code": "ok",
		"changelog": []any{
			map[string]any{"path": "MSR01:Alarm1", "stamp": "2018-12-05T19:00:00+02:00", "text": "x", "state": "active"},
		},
	})
	if err != nil {
		t.Fatalf("decodeResponse error: %v", err)
	}
	cr, ok := resp.(*RespChangelogRead)
	if !ok {
		t.Fatalf("got %T, want *RespChangelogRead", resp)
	}
	if len(cr.Entries) != 1 || cr.Entries[0].Text != "x" {
		t.Errorf("Entries = %+v", cr.Entries)
	}
}

func TestParseStamp_CommaDecimalFallback(t *testing.T) {
	stamp, ok := parseStamp("2018-12-05T19:00:00,000+02:00")
	if !ok {
		t.Fatal("parseStamp should accept the comma-decimal DMS timestamp format")
	}
	if stamp.Hour() != 19 || stamp.Minute() != 0 {
		t.Errorf("stamp = %v, want 19:00", stamp)
	}
}

func TestResponse_ServerErr(t *testing.T) {
	resp, _ := decodeResponse(verbGet, "t1", map[string]any{"path": "X", "code": "no perm", "message": "denied"})
	se := resp.Base()
	if se.Code != CodeNoPerm {
		t.Errorf("Code = %v, want no perm", se.Code)
	}
	if resp.ServerErr() == nil {
		t.Fatal("ServerErr() should be non-nil for a non-ok code")
	}
}

func TestResponse_ServerErr_OK(t *testing.T) {
	resp, _ := decodeResponse(verbGet, "t1", map[string]any{"path": "X", "code": "ok"})
	if resp.ServerErr() != nil {
		t.Fatal("ServerErr() should be nil for an ok code")
	}
}

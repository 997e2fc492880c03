package dmsconnector

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestClient(t *testing.T) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	c := New("ws://test/", "testsuite", "tester", withTransport(ft), WithTimeout(time.Second))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, ft
}

func sentTag(t *testing.T, ft *fakeTransport, verb string) string {
	t.Helper()
	env := ft.lastSent()
	cmds, _ := env[verb].([]map[string]any)
	if len(cmds) == 0 {
		t.Fatalf("no %q commands sent in %v", verb, env)
	}
	tag, _ := cmds[0]["tag"].(string)
	if tag == "" {
		t.Fatalf("command %q has no tag: %v", verb, cmds[0])
	}
	return tag
}

func TestClient_EnvelopeCarriesIdentity(t *testing.T) {
	c, ft := newTestClient(t)

	done := make(chan struct{})
	go func() {
		c.DpGet(context.Background(), "System:Time", GetOptions{})
		close(done)
	}()

	waitForSend(t, ft)
	env := ft.lastSent()
	if env["whois"] != "testsuite" {
		t.Errorf("whois = %v, want testsuite", env["whois"])
	}
	if env["user"] != "tester" {
		t.Errorf("user = %v, want tester", env["user"])
	}

	tag := sentTag(t, ft, verbGet)
	ft.push(map[string]any{
		"get": []any{map[string]any{"tag": tag, "path": "System:Time", "code": "ok"}},
	})
	<-done
}

func TestClient_DpGet(t *testing.T) {
	c, ft := newTestClient(t)

	done := make(chan struct{})
	var resp *RespGet
	var err error
	go func() {
		resp, err = c.DpGet(context.Background(), "System:Time", GetOptions{})
		close(done)
	}()

	waitForSend(t, ft)
	tag := sentTag(t, ft, verbGet)
	ft.push(map[string]any{
		"get": []any{map[string]any{"tag": tag, "path": "System:Time", "code": "ok", "value": "12:00:00"}},
	})

	<-done
	if err != nil {
		t.Fatalf("DpGet error: %v", err)
	}
	if resp.Value != "12:00:00" {
		t.Errorf("Value = %v, want 12:00:00", resp.Value)
	}
	if resp.Code != CodeOK {
		t.Errorf("Code = %v, want ok", resp.Code)
	}
}

func TestClient_DpSet_ServerError(t *testing.T) {
	c, ft := newTestClient(t)

	done := make(chan struct{})
	var resp *RespSet
	var err error
	go func() {
		resp, err = c.DpSet(context.Background(), "MSR01:NoSuch", "x", SetOptions{})
		close(done)
	}()

	waitForSend(t, ft)
	tag := sentTag(t, ft, verbSet)
	ft.push(map[string]any{
		"set": []any{map[string]any{"tag": tag, "path": "MSR01:NoSuch", "code": "not found"}},
	})

	<-done
	if err != nil {
		t.Fatalf("DpSet transport error: %v", err)
	}
	if se := resp.ServerErr(); se == nil || se.Code != CodeNotFound {
		t.Errorf("ServerErr() = %v, want not found", se)
	}
}

func TestClient_Timeout(t *testing.T) {
	c := New("ws://test/", "testsuite", "tester", withTransport(newFakeTransport()), WithTimeout(20*time.Millisecond))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.DpGet(context.Background(), "System:Time", GetOptions{})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestClient_Subscription(t *testing.T) {
	c, ft := newTestClient(t)

	done := make(chan struct{})
	var sub *Subscription
	var err error
	events := make(chan Event, 1)

	go func() {
		sub, err = c.GetDPSubscription(context.Background(), "System:Blinker:Blink1.0", SubscribeOptions{Event: OnChange},
			func(_ *Subscription, ev Event) { events <- ev })
		close(done)
	}()

	waitForSend(t, ft)
	tag := sentTag(t, ft, verbSubscribe)
	ft.push(map[string]any{
		"subscribe": []any{map[string]any{"tag": tag, "path": "System:Blinker:Blink1.0", "code": "ok"}},
	})
	<-done
	if err != nil {
		t.Fatalf("GetDPSubscription error: %v", err)
	}

	ft.push(map[string]any{
		"event": []any{map[string]any{"tag": tag, "path": "System:Blinker:Blink1.0", "code": "onChange", "value": true}},
	})

	select {
	case ev := <-events:
		if ev.Code != EventOnChange {
			t.Errorf("event code = %v, want onChange", ev.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}

	if !sub.Active() {
		t.Fatal("subscription should be active")
	}
}

func TestClient_SubscriptionRejected(t *testing.T) {
	c, ft := newTestClient(t)

	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.GetDPSubscription(context.Background(), "No:Such:Path", SubscribeOptions{}, func(*Subscription, Event) {})
		close(done)
	}()

	waitForSend(t, ft)
	tag := sentTag(t, ft, verbSubscribe)
	ft.push(map[string]any{
		"subscribe": []any{map[string]any{"tag": tag, "path": "No:Such:Path", "code": "not found"}},
	})
	<-done

	if !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("err = %v, want wrapping ErrSubscriptionFailed", err)
	}
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *ServerError in chain", err)
	}
	if se.Code != CodeNotFound {
		t.Errorf("ServerError.Code = %v, want not found", se.Code)
	}
}

func TestClient_ChangelogGetGroups_PositionalCorrelation(t *testing.T) {
	// changelogGetGroups replies echo no tag of their own: the server
	// instead echoes the envelope-level "tag" helper map verbatim in the
	// reply frame, and each reply's position within the verb's array is
	// matched against that map's tag list (spec §4.3, §6).
	c, ft := newTestClient(t)

	done1 := make(chan struct{})
	var resp1 *RespChangelogGetGroups
	var err1 error
	go func() {
		resp1, err1 = c.ChangelogGetGroups(context.Background())
		close(done1)
	}()
	waitForSend(t, ft)
	tag1 := clgSentTag(t, ft.nthSent(0))

	done2 := make(chan struct{})
	var resp2 *RespChangelogGetGroups
	var err2 error
	go func() {
		resp2, err2 = c.ChangelogGetGroups(context.Background())
		close(done2)
	}()
	waitForTagCount(t, ft, 2)
	tag2 := clgSentTag(t, ft.nthSent(1))

	ft.push(map[string]any{
		"tag":                map[string]any{"changelogGetGroups": []any{tag1}},
		"changelogGetGroups": []any{map[string]any{"code": "ok", "groups": []any{"Alarms"}}},
	})
	<-done1
	if err1 != nil {
		t.Fatalf("first call error: %v", err1)
	}
	if len(resp1.Groups) != 1 || resp1.Groups[0] != "Alarms" {
		t.Errorf("resp1.Groups = %v, want [Alarms]", resp1.Groups)
	}

	ft.push(map[string]any{
		"tag":                map[string]any{"changelogGetGroups": []any{tag2}},
		"changelogGetGroups": []any{map[string]any{"code": "ok", "groups": []any{"Trends"}}},
	})
	<-done2
	if err2 != nil {
		t.Fatalf("second call error: %v", err2)
	}
	if len(resp2.Groups) != 1 || resp2.Groups[0] != "Trends" {
		t.Errorf("resp2.Groups = %v, want [Trends]", resp2.Groups)
	}
}

// clgSentTag extracts the correlation tag recorded in an envelope's
// top-level "tag" helper map for its changelogGetGroups command.
func clgSentTag(t *testing.T, env map[string]any) string {
	t.Helper()
	tagField, ok := env["tag"].(map[string]any)
	if !ok {
		t.Fatalf("envelope %v has no top-level tag map", env)
	}
	tags, ok := tagField[verbChangelogGetGroups].([]string)
	if !ok || len(tags) == 0 {
		t.Fatalf("envelope %v has no changelogGetGroups tags", env)
	}
	return tags[0]
}

func waitForSend(t *testing.T, ft *fakeTransport) {
	t.Helper()
	waitForTagCount(t, ft, 1)
}

func waitForTagCount(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		ft.mu.Lock()
		count := len(ft.sent)
		ft.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent envelope(s)", n)
}

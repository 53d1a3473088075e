package rpc

import "testing"

func TestBuildMethod(t *testing.T) {
	cases := []struct {
		action, rid, name, want string
	}{
		{"subscribe", "users.1", "", "subscribe.users.1"},
		{"call", "users.1", "setName", "call.users.1.setName"},
	}
	for _, c := range cases {
		got := BuildMethod(c.action, c.rid, c.name)
		if got != c.want {
			t.Errorf("BuildMethod(%q,%q,%q) = %q, want %q", c.action, c.rid, c.name, got, c.want)
		}
	}
}

func TestSplitEvent_SplitsAtLastDot(t *testing.T) {
	rid, name, ok := SplitEvent("users.1.profile.change")
	if !ok {
		t.Fatal("expected ok")
	}
	if rid != "users.1.profile" || name != "change" {
		t.Errorf("got rid=%q name=%q", rid, name)
	}
}

func TestSplitEvent_NoDotFails(t *testing.T) {
	_, _, ok := SplitEvent("nodothere")
	if ok {
		t.Error("expected ok=false for a string with no dot")
	}
}

func TestFrame_IsResponseVsIsEvent(t *testing.T) {
	resp := Frame{ID: 5}
	if !resp.IsResponse() {
		t.Error("frame with ID and no event should be a response")
	}
	if resp.IsEvent() {
		t.Error("response frame should not be an event")
	}

	ev := Frame{Event: "users.1.change"}
	if !ev.IsEvent() {
		t.Error("frame with Event set should be an event")
	}
	if ev.IsResponse() {
		t.Error("event frame should not be a response")
	}
}

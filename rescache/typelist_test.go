package rescache

import "testing"

func TestTypeList_ExactAndWildcardTokens(t *testing.T) {
	tl := NewTypeList(nil)
	userFactory := func(rid RID) any { return "user" }
	tl.Add("users.*", userFactory)

	if f := tl.Factory("users.42"); f == nil {
		t.Fatal("expected users.* to match users.42")
	}
	if f := tl.Factory("users.42.posts"); f != nil {
		t.Error("users.* should not match a RID with an extra token")
	}
}

func TestTypeList_TrailingGlobMatchesMultipleTokens(t *testing.T) {
	tl := NewTypeList(nil)
	tl.Add("users.>", func(rid RID) any { return "user-subtree" })

	if tl.Factory("users.42.posts") == nil {
		t.Error("users.> should match users.42.posts")
	}
	if tl.Factory("users") != nil {
		t.Error("users.> should require at least one trailing token")
	}
}

func TestTypeList_FallbackUsedWhenNoPatternMatches(t *testing.T) {
	fallback := func(rid RID) any { return "fallback" }
	tl := NewTypeList(fallback)
	tl.Add("users.*", func(rid RID) any { return "user" })

	f := tl.Factory("orders.7")
	if f == nil {
		t.Fatal("expected fallback factory")
	}
	if f("orders.7") != "fallback" {
		t.Error("fallback factory was not the one returned")
	}
}

func TestTypeList_LaterRegistrationTakesPrecedence(t *testing.T) {
	tl := NewTypeList(nil)
	tl.Add("*", func(rid RID) any { return "generic" })
	tl.Add("users.*", func(rid RID) any { return "user" })

	f := tl.Factory("users.42")
	if f("users.42") != "user" {
		t.Error("more specific, later-registered pattern should win")
	}
}

package rescache

import (
	"encoding/json"
	"testing"
)

func TestDecodeValue_ResourceReference(t *testing.T) {
	v := DecodeValue(json.RawMessage(`{"rid":"users.42"}`))
	if v.Kind != ValueResource {
		t.Fatalf("Kind = %v, want ValueResource", v.Kind)
	}
	if v.RID != "users.42" {
		t.Errorf("RID = %q, want users.42", v.RID)
	}
}

func TestDecodeValue_DeleteSentinel(t *testing.T) {
	v := DecodeValue(json.RawMessage(`{"action":"delete"}`))
	if v.Kind != ValueDelete {
		t.Fatalf("Kind = %v, want ValueDelete", v.Kind)
	}
}

func TestDecodeValue_UnknownActionIsPrimitive(t *testing.T) {
	v := DecodeValue(json.RawMessage(`{"action":"archive"}`))
	if v.Kind != ValuePrimitive {
		t.Fatalf("Kind = %v, want ValuePrimitive for an unrecognized action", v.Kind)
	}
}

func TestDecodeValue_Primitives(t *testing.T) {
	for _, raw := range []string{`42`, `"hello"`, `true`, `null`, `[1,2,3]`} {
		v := DecodeValue(json.RawMessage(raw))
		if v.Kind != ValuePrimitive {
			t.Errorf("DecodeValue(%s).Kind = %v, want ValuePrimitive", raw, v.Kind)
		}
	}
}

func TestValue_EqualByKind(t *testing.T) {
	a := Value{Kind: ValueResource, RID: "x.1"}
	b := Value{Kind: ValueResource, RID: "x.1"}
	c := Value{Kind: ValueResource, RID: "x.2"}
	if !a.Equal(b) {
		t.Error("resource values with the same RID should be equal")
	}
	if a.Equal(c) {
		t.Error("resource values with different RIDs should not be equal")
	}

	p1 := Value{Kind: ValuePrimitive, Raw: json.RawMessage(`42`)}
	p2 := Value{Kind: ValuePrimitive, Raw: json.RawMessage(`42`)}
	if !p1.Equal(p2) {
		t.Error("identical primitive raw bytes should be equal")
	}
	if a.Equal(p1) {
		t.Error("values of different kinds should never be equal")
	}
}

package rescache

import "encoding/json"

// RID is a Resource Identifier: an opaque dotted string used as the
// cache key. resclient never parses it beyond the glob matching done
// by TypeList.
type RID = string

// ValueKind classifies a decoded JSON value as it appears in a model
// field, a collection element, or a change event's value slot.
// Mirrors resgate's server/codec value typing (ValueTypeResource,
// ValueTypeDelete, ValueTypePrimitive).
type ValueKind byte

const (
	// ValuePrimitive is any JSON value that is not a resource
	// reference or the delete sentinel: string, number, bool, null,
	// plain object, or array.
	ValuePrimitive ValueKind = iota
	// ValueResource is a resource reference {"rid":"<RID>"}.
	ValueResource
	// ValueDelete is the delete sentinel {"action":"delete"}.
	ValueDelete
)

// Value is a decoded JSON value together with its kind. Raw retains
// the original encoding for primitives so it can be handed unchanged
// to the application's resource adapter.
type Value struct {
	Kind ValueKind
	RID  RID
	Raw  json.RawMessage
}

type resourceRefShape struct {
	RID *string `json:"rid"`
}

type deleteActionShape struct {
	Action *string `json:"action"`
}

// DecodeValue classifies a single raw JSON value: an
// object of shape {"rid":"<RID>"} is a resource reference; an object of
// shape {"action":"delete"} is the delete sentinel; anything else is a
// primitive carried through unchanged.
func DecodeValue(raw json.RawMessage) Value {
	var ref resourceRefShape
	if err := json.Unmarshal(raw, &ref); err == nil && ref.RID != nil {
		return Value{Kind: ValueResource, RID: *ref.RID, Raw: raw}
	}

	var del deleteActionShape
	if err := json.Unmarshal(raw, &del); err == nil && del.Action != nil && *del.Action == "delete" {
		return Value{Kind: ValueDelete, Raw: raw}
	}

	return Value{Kind: ValuePrimitive, Raw: raw}
}

// Equal reports whether two values are the same, used by
// model/collection diffing to decide whether a field or element
// actually changed. Values of different kinds are never equal.
// Resource references compare by RID; every other value compares its
// raw encoding byte-for-byte as received, without re-marshaling.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == ValueResource {
		return v.RID == o.RID
	}
	return string(v.Raw) == string(o.Raw)
}

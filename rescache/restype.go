package rescache

import "encoding/json"

// ModelResource is the internal contract a model adapter must satisfy
// so the cache coordinator can materialize, mutate and diff it.
// Application-facing behavior beyond this is out of scope for
// resclient; the default implementation below (Model) satisfies it
// with a plain map. Methods are exported so applications may supply
// their own adapter via a Factory registered on a TypeList.
type ModelResource interface {
	// Init populates the model from a fresh snapshot during phase 2 of
	// materialization. Called at most once, before any listener can
	// observe the value.
	Init(values map[string]Value)
	// SetValues applies a prepared change set (post reference
	// resolution/delete-sentinel substitution) and returns the subset
	// of keys whose value actually changed, for the emitted "change"
	// event payload.
	SetValues(values map[string]Value) map[string]Value
	// Get returns the current raw value for a field, and whether it
	// is set.
	Get(key string) (Value, bool)
	// Keys returns the names of every field currently set, used by
	// model sync to find fields a fresh snapshot no longer carries.
	Keys() []string
	// Refs returns the RIDs of every field currently holding a
	// resource reference, used by the reference-state engine and
	// indirect-count bookkeeping.
	Refs() []RID
}

// CollectionResource is the internal contract a collection adapter
// must satisfy.
type CollectionResource interface {
	// Init populates the collection from a fresh snapshot.
	Init(values []Value)
	// Insert adds a value at idx, shifting subsequent elements right.
	Insert(idx int, v Value)
	// RemoveAt removes and returns the value at idx, shifting
	// subsequent elements left.
	RemoveAt(idx int) Value
	// Len returns the number of elements.
	Len() int
	// At returns the value at idx.
	At(idx int) Value
	// Refs returns the RIDs of every element currently holding a
	// resource reference.
	Refs() []RID
}

// Factory constructs the application-visible resource object for a
// given RID. One factory is selected per kind via TypeList.
type Factory func(rid RID) any

// Model is the default ModelResource: a JSON-object-shaped resource
// backed by a map, computing a minimal diff on every change.
type Model struct {
	rid    RID
	values map[string]Value
}

// NewModel is the default model Factory.
func NewModel(rid RID) any {
	return &Model{rid: rid, values: make(map[string]Value)}
}

// Init implements ModelResource.
func (m *Model) Init(values map[string]Value) {
	m.values = values
}

// SetValues implements ModelResource.
func (m *Model) SetValues(values map[string]Value) map[string]Value {
	changed := make(map[string]Value, len(values))
	for k, v := range values {
		old, ok := m.values[k]
		if ok && old.Equal(v) {
			continue
		}
		changed[k] = v
		if v.Kind == ValueDelete {
			delete(m.values, k)
		} else {
			m.values[k] = v
		}
	}
	return changed
}

// Get returns the raw value stored for key.
func (m *Model) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Refs implements ModelResource.
func (m *Model) Refs() []RID {
	var refs []RID
	for _, v := range m.values {
		if v.Kind == ValueResource {
			refs = append(refs, v.RID)
		}
	}
	return refs
}

// RID returns the model's resource identifier.
func (m *Model) RID() RID { return m.rid }

// Keys returns the model's current field names.
func (m *Model) Keys() []string {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

// MarshalJSON renders the model as a plain JSON object of its current
// field values, resource references rendered as {"rid":"..."}.
func (m *Model) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.values))
	for k, v := range m.values {
		out[k] = v.Raw
	}
	return json.Marshal(out)
}

// Collection is the default CollectionResource: an ordered, indexable
// sequence of values.
type Collection struct {
	rid    RID
	values []Value
}

// NewCollection is the default collection Factory.
func NewCollection(rid RID) any {
	return &Collection{rid: rid}
}

// Init implements CollectionResource.
func (c *Collection) Init(values []Value) {
	c.values = values
}

// Insert implements CollectionResource.
func (c *Collection) Insert(idx int, v Value) {
	c.values = append(c.values, Value{})
	copy(c.values[idx+1:], c.values[idx:])
	c.values[idx] = v
}

// RemoveAt implements CollectionResource.
func (c *Collection) RemoveAt(idx int) Value {
	v := c.values[idx]
	copy(c.values[idx:], c.values[idx+1:])
	c.values = c.values[:len(c.values)-1]
	return v
}

// Len returns the number of elements in the collection.
func (c *Collection) Len() int { return len(c.values) }

// At returns the value at idx.
func (c *Collection) At(idx int) Value { return c.values[idx] }

// Refs implements CollectionResource.
func (c *Collection) Refs() []RID {
	var refs []RID
	for _, v := range c.values {
		if v.Kind == ValueResource {
			refs = append(refs, v.RID)
		}
	}
	return refs
}

// RID returns the collection's resource identifier.
func (c *Collection) RID() RID { return c.rid }

// MarshalJSON renders the collection as a plain JSON array of its
// current element values.
func (c *Collection) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, len(c.values))
	for i, v := range c.values {
		out[i] = v.Raw
	}
	return json.Marshal(out)
}

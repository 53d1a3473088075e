package rescache

import "encoding/json"

// syncModel reconciles an already-materialized model against a fresh
// snapshot obj: a field-by-field diff producing a single synthetic
// change event, with indirect-count bookkeeping for any reference that
// was introduced or dropped. Fields present in the model but absent
// from obj are treated as deleted.
//
// All new references are added before any old reference is released,
// the same way applyChangeEvent handles an inbound change event: a RID
// that is removed from one field and re-added via another (or via the
// same field's new value) within this one sync must never observe a
// transient zero count and get reclaimed when the net delta across the
// whole snapshot is actually zero.
func (c *Cache) syncModel(item *CacheItem, obj map[string]json.RawMessage) {
	if item.kind != KindModel || item.model == nil {
		return
	}

	values := make(map[string]Value)
	seen := make(map[string]bool, len(obj))
	var oldRefs []RID

	for k, raw := range obj {
		seen[k] = true
		v := DecodeValue(raw)
		old, ok := item.model.Get(k)
		if ok && old.Equal(v) {
			continue
		}
		if ok && old.Kind == ValueResource {
			oldRefs = append(oldRefs, old.RID)
		}
		if v.Kind == ValueResource {
			c.addReference(v.RID)
		}
		values[k] = v
	}

	for _, k := range item.model.Keys() {
		if seen[k] {
			continue
		}
		old, _ := item.model.Get(k)
		if old.Kind == ValueResource {
			oldRefs = append(oldRefs, old.RID)
		}
		values[k] = Value{Kind: ValueDelete}
	}

	for _, rid := range oldRefs {
		c.releaseReference(rid)
	}

	changed := item.model.SetValues(values)
	if len(changed) > 0 {
		c.sink.Emit(item.rid, "change", changed)
	}
}

// syncCollection reconciles an already-materialized collection against
// a fresh snapshot arr: the minimal add/remove edit script from diff
// is applied in order, each step emitting the event a live subscriber
// would have received.
func (c *Cache) syncCollection(item *CacheItem, arr []json.RawMessage) {
	if item.kind != KindCollection || item.collection == nil {
		return
	}

	oldLen := item.collection.Len()
	oldVals := make([]Value, oldLen)
	for i := 0; i < oldLen; i++ {
		oldVals[i] = item.collection.At(i)
	}

	newVals := make([]Value, len(arr))
	for i, raw := range arr {
		newVals[i] = DecodeValue(raw)
	}

	for _, op := range diff(oldVals, newVals) {
		if op.remove {
			old := item.collection.RemoveAt(op.idx)
			if old.Kind == ValueResource {
				c.releaseReference(old.RID)
			}
			c.sink.Emit(item.rid, "remove", map[string]any{"idx": op.idx})
			continue
		}
		if op.value.Kind == ValueResource {
			c.addReference(op.value.RID)
		}
		item.collection.Insert(op.idx, op.value)
		c.sink.Emit(item.rid, "add", map[string]any{"idx": op.idx, "value": op.value})
	}
}

package rescache

import (
	"encoding/json"

	"github.com/nugget/resclient/rpc"
)

// HandleEvent applies an inbound "<rid>.<name>" event to the cache and
// forwards the result to the EventSink. Unknown RIDs
// are logged and ignored: the server should never emit an event for a
// resource this client is not subscribed to, but a race during
// unsubscribe can produce exactly that.
func (c *Cache) HandleEvent(rid RID, name string, data json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.items[rid]
	if item == nil {
		c.logger.Debug("event for uncached resource ignored", "rid", rid, "event", name)
		return
	}

	switch name {
	case "change":
		c.applyChangeEvent(item, data)
	case "add":
		c.applyAddEvent(item, data)
	case "remove":
		c.applyRemoveEvent(item, data)
	case "unsubscribe":
		c.applyUnsubscribeEvent(item)
	default:
		// Custom application event: forwarded verbatim, the cache does
		// not interpret it.
		var payload any
		if len(data) > 0 {
			_ = json.Unmarshal(data, &payload)
		}
		c.sink.Emit(rid, name, payload)
	}
}

// applyChangeEvent resolves each changed value in an inbound "change"
// event and emits the resulting minimal change set. A reference to a
// RID with no existing CacheItem is materialized as a bare,
// unsubscribed placeholder rather than fetched; the application must
// still Get it for a fully populated value.
//
// Indirect-count bookkeeping is done in two passes over the changed
// fields rather than interleaved release-then-add per key: a field
// swap that removes a reference to X in one field and re-adds it in
// another (or the same RID appearing in two different fields within
// the same event) must never let X observe a transient zero count and
// get reclaimed mid-event when the net reference delta across the
// whole change is actually zero. All new references are added first
// — creating placeholders and bumping indirect counts — and only then
// are the old, superseded references released, so anything still
// referenced anywhere in the event is already accounted for before
// any release can trigger reclamation.
func (c *Cache) applyChangeEvent(item *CacheItem, data json.RawMessage) {
	if item.kind != KindModel || item.model == nil {
		return
	}

	var ev rpc.ChangeEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Error("decode change event", "rid", item.rid, "error", err)
		return
	}

	values := make(map[string]Value, len(ev.Values))
	var oldRefs []RID
	for k, raw := range ev.Values {
		v := DecodeValue(raw)
		if old, ok := item.model.Get(k); ok && old.Kind == ValueResource {
			oldRefs = append(oldRefs, old.RID)
		}
		if v.Kind == ValueResource {
			c.addReference(v.RID)
		}
		values[k] = v
	}
	for _, rid := range oldRefs {
		c.releaseReference(rid)
	}

	changed := item.model.SetValues(values)
	if len(changed) > 0 {
		c.sink.Emit(item.rid, "change", changed)
	}
}

// applyAddEvent applies an inbound collection-insert event.
func (c *Cache) applyAddEvent(item *CacheItem, data json.RawMessage) {
	if item.kind != KindCollection || item.collection == nil {
		return
	}

	var ev rpc.AddEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Error("decode add event", "rid", item.rid, "error", err)
		return
	}

	v := DecodeValue(ev.Value)
	if v.Kind == ValueResource {
		c.addReference(v.RID)
	}
	item.collection.Insert(ev.Idx, v)
	c.sink.Emit(item.rid, "add", map[string]any{"idx": ev.Idx, "value": v})
}

// applyRemoveEvent applies an inbound collection-remove event.
func (c *Cache) applyRemoveEvent(item *CacheItem, data json.RawMessage) {
	if item.kind != KindCollection || item.collection == nil {
		return
	}

	var ev rpc.RemoveEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Error("decode remove event", "rid", item.rid, "error", err)
		return
	}
	if ev.Idx < 0 || ev.Idx >= item.collection.Len() {
		c.logger.Error("remove event index out of range", "rid", item.rid, "idx", ev.Idx)
		return
	}

	old := item.collection.RemoveAt(ev.Idx)
	if old.Kind == ValueResource {
		c.releaseReference(old.RID)
	}
	c.sink.Emit(item.rid, "remove", map[string]any{"idx": ev.Idx})
}

// applyUnsubscribeEvent handles an inbound unsubscribe event: the
// server has revoked this client's subscription, independent of any
// direct application listeners. The reference-state engine then
// decides whether the item is reachable from something else (keep),
// reachable only through application listeners (stale), or unreachable
// (delete).
func (c *Cache) applyUnsubscribeEvent(item *CacheItem) {
	item.subscribed = false
	r := c.classifyReferenceState(item)
	c.applyClassification(r, true)
	c.sink.Emit(item.rid, "unsubscribe", nil)
}

// releaseReference decrements the indirect count on rid and, if the
// item consequently becomes a deletion candidate, runs the
// reference-state engine for it. Must be called with c.mu held.
func (c *Cache) releaseReference(rid RID) {
	item := c.items[rid]
	if item == nil {
		return
	}
	if item.indirect > 0 {
		item.indirect--
	}
	c.maybeReclaim(item)
}

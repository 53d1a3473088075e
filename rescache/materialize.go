package rescache

import (
	"encoding/json"
	"fmt"

	"github.com/nugget/resclient/rpc"
)

// freshItem pairs a newly-created CacheItem with its raw snapshot data
// for the init phase.
type freshItem struct {
	item *CacheItem
	raw  json.RawMessage
}

// resyncItem pairs an already-materialized CacheItem with the new
// snapshot it must be reconciled against in the sync phase.
type resyncItem struct {
	item *CacheItem
	raw  json.RawMessage
}

// materializeSubscribeResult decodes a subscribe/new/get response body
// and runs the three-phase create/init/sync materialization. Must be
// called with c.mu held.
func (c *Cache) materializeSubscribeResult(raw json.RawMessage) error {
	var result rpc.GetResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode subscribe result: %w", err)
	}
	return c.materializeBundle(&result)
}

func (c *Cache) materializeBundle(result *rpc.GetResult) error {
	var fresh []freshItem
	var resync []resyncItem

	// Phase 1 — create.
	for rid, raw := range result.Models {
		item, isFresh, err := c.createPhase(rid, KindModel, raw)
		if err != nil {
			c.logger.Error("materialize: type inconsistency", "rid", rid, "error", err)
			continue
		}
		if isFresh {
			fresh = append(fresh, freshItem{item, raw})
		} else {
			resync = append(resync, resyncItem{item, raw})
		}
	}
	for rid, raw := range result.Collections {
		item, isFresh, err := c.createPhase(rid, KindCollection, raw)
		if err != nil {
			c.logger.Error("materialize: type inconsistency", "rid", rid, "error", err)
			continue
		}
		if isFresh {
			fresh = append(fresh, freshItem{item, raw})
		} else {
			resync = append(resync, resyncItem{item, raw})
		}
	}
	for rid, raw := range result.Errors {
		item, isFresh, err := c.createPhase(rid, KindError, raw)
		if err != nil {
			c.logger.Error("materialize: type inconsistency", "rid", rid, "error", err)
			continue
		}
		if isFresh {
			fresh = append(fresh, freshItem{item, raw})
		}
		_ = resync // errors are not resynced; the server resends a fresh error each time
	}

	// Phase 2 — init. No user-visible events may be produced here.
	for _, f := range fresh {
		c.initPhase(f.item, f.raw)
		f.item.subscribed = true
		f.item.unsubscribeCallback = c.sendUnsubscribe
	}

	// Phase 3 — sync.
	for _, s := range resync {
		c.syncPhase(s.item, s.raw)
		s.item.subscribed = true
		s.item.unsubscribeCallback = c.sendUnsubscribe
	}

	return nil
}

// createPhase ensures a CacheItem exists for rid and reports whether
// it is fresh (needs init) or already materialized (needs sync).
func (c *Cache) createPhase(rid RID, kind Kind, raw json.RawMessage) (item *CacheItem, fresh bool, err error) {
	item = c.items[rid]
	if item == nil {
		item = &CacheItem{rid: rid}
		c.items[rid] = item
	}

	if item.materialized() {
		if item.kind != kind {
			return item, false, fmt.Errorf("resource %s: type changed from %s to %s", rid, item.kind, kind)
		}
		return item, false, nil
	}

	item.kind = kind
	switch kind {
	case KindModel:
		factory := c.modelTypes.Factory(rid)
		if factory == nil {
			factory = NewModel
		}
		item.model, _ = factory(rid).(ModelResource)
	case KindCollection:
		factory := c.collectionTypes.Factory(rid)
		if factory == nil {
			factory = NewCollection
		}
		item.collection, _ = factory(rid).(CollectionResource)
	case KindError:
		var e ResourceError
		if uErr := json.Unmarshal(raw, &e); uErr != nil {
			return item, true, fmt.Errorf("resource %s: decode error value: %w", rid, uErr)
		}
		item.resErr = &e
	}

	return item, true, nil
}

// initPhase decodes raw and populates a freshly-created item,
// resolving nested resource references to cached items (creating bare
// placeholders and bumping indirect counts as needed).
func (c *Cache) initPhase(item *CacheItem, raw json.RawMessage) {
	switch item.kind {
	case KindModel:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			c.logger.Error("materialize: decode model", "rid", item.rid, "error", err)
			return
		}
		values := make(map[string]Value, len(obj))
		for k, rawVal := range obj {
			v := DecodeValue(rawVal)
			if v.Kind == ValueResource {
				c.addReference(v.RID)
			}
			values[k] = v
		}
		if item.model != nil {
			item.model.Init(values)
		}
	case KindCollection:
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			c.logger.Error("materialize: decode collection", "rid", item.rid, "error", err)
			return
		}
		values := make([]Value, len(arr))
		for i, rawVal := range arr {
			v := DecodeValue(rawVal)
			if v.Kind == ValueResource {
				c.addReference(v.RID)
			}
			values[i] = v
		}
		if item.collection != nil {
			item.collection.Init(values)
		}
	case KindError:
		// Error values are fully decoded during createPhase.
	}
}

// syncPhase reconciles an already-materialized item against a new
// snapshot, emitting the minimal set of change/add/remove events
// needed to reach the new state.
func (c *Cache) syncPhase(item *CacheItem, raw json.RawMessage) {
	switch item.kind {
	case KindModel:
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			c.logger.Error("sync: decode model", "rid", item.rid, "error", err)
			return
		}
		c.syncModel(item, obj)
	case KindCollection:
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			c.logger.Error("sync: decode collection", "rid", item.rid, "error", err)
			return
		}
		c.syncCollection(item, arr)
	}
}

package rescache

import "time"

// addStale marks rid as stale (the item is kept in the cache but its
// data is no longer trustworthy). When scheduled is true the
// resubscribe is deferred by subscribeStaleDelay to absorb a
// flapping reference count; when false (used from HandleDisconnect)
// the item is simply parked, to be resubscribed in a batch once
// ResubscribeAll runs on reconnect. Must be called with c.mu held.
func (c *Cache) addStale(rid RID, scheduled bool) {
	if _, ok := c.staleSet[rid]; ok {
		return
	}
	c.staleSet[rid] = struct{}{}

	if !scheduled {
		return
	}

	delay := c.subscribeStaleDelay
	c.staleTimers[rid] = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.resubscribeIfStale(rid)
	})
}

// removeStale clears rid's stale marking and cancels any pending
// resubscribe timer. Must be called with c.mu held.
func (c *Cache) removeStale(rid RID) {
	if t, ok := c.staleTimers[rid]; ok {
		t.Stop()
		delete(c.staleTimers, rid)
	}
	delete(c.staleSet, rid)
}

// resubscribeIfStale fires from a stale timer's callback. It re-checks
// staleSet membership before resubscribing, since the item may have
// been reclaimed (evicted) or already resubscribed (by ResubscribeAll)
// since the timer was armed. Must be called with c.mu held.
func (c *Cache) resubscribeIfStale(rid RID) {
	delete(c.staleTimers, rid)
	if _, ok := c.staleSet[rid]; !ok {
		return
	}
	item := c.items[rid]
	if item == nil {
		delete(c.staleSet, rid)
		return
	}
	c.resubscribeOne(item)
}

// resubscribeOne issues a fresh subscribe request for an already
// cached, stale item and runs the result through the sync phase of
// materialization rather than create/init, since the item already has
// a value. The request is sent without c.mu held; c.mu is re-acquired
// before touching cache state.
func (c *Cache) resubscribeOne(item *CacheItem) {
	rid := item.rid
	c.mu.Unlock()
	raw, err := c.transport.Request("subscribe", rid, "", nil)
	c.mu.Lock()

	// The item may have been evicted while the request was in flight.
	if c.items[rid] == nil {
		return
	}

	if err != nil {
		c.logger.Warn("resubscribe failed", "rid", rid, "error", err)
		return
	}

	if mErr := c.materializeSubscribeResult(raw); mErr != nil {
		c.logger.Error("resubscribe: materialize failed", "rid", rid, "error", mErr)
		return
	}
	delete(c.staleSet, rid)
}

// HandleDisconnect transitions every currently-subscribed item to
// ¬subscribed and runs each through the reference-state engine: an
// item with a direct listener and no inbound reference from outside its
// own now-unsubscribed subgraph is added to the stale set (without
// arming a resubscribe timer, since there is nothing to resubscribe to
// until reconnect, and flapping protection is meaningless while
// offline); an item that still has such an outside reference is kept
// but not added to the stale set; everything else is evicted
// immediately, matching what would happen if the server had sent an
// explicit unsubscribe for it.
// Subscribed flags are cleared up front, before any classification
// runs, so the engine sees the whole disconnected graph at once rather
// than depending on map iteration order.
func (c *Cache) HandleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for t := range c.staleTimers {
		c.staleTimers[t].Stop()
	}
	c.staleTimers = make(map[RID]*time.Timer)

	var roots []*CacheItem
	for _, item := range c.items {
		if !item.subscribed {
			continue
		}
		item.subscribed = false
		roots = append(roots, item)
	}

	for _, item := range roots {
		if _, ok := c.items[item.rid]; !ok {
			// Evicted already as part of another root's subgraph.
			continue
		}
		r := c.classifyReferenceState(item)
		c.applyClassification(r, false)
	}
}

// ResubscribeAll resubscribes every stale item in one batch. Intended
// to run once the transport's onConnect hook resolves after a
// reconnect: resubscription on reconnect is immediate, bypassing the
// flapping-absorption delay used for runtime staleness.
func (c *Cache) ResubscribeAll() {
	c.mu.Lock()
	rids := make([]RID, 0, len(c.staleSet))
	for rid := range c.staleSet {
		rids = append(rids, rid)
	}
	c.mu.Unlock()

	for _, rid := range rids {
		c.mu.Lock()
		item := c.items[rid]
		if item == nil {
			delete(c.staleSet, rid)
			c.mu.Unlock()
			continue
		}
		if _, stillStale := c.staleSet[rid]; !stillStale {
			c.mu.Unlock()
			continue
		}
		c.resubscribeOne(item)
		c.mu.Unlock()
	}
}

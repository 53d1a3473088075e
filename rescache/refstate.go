package rescache

// refClass is the classification a CacheItem receives from the
// two-pass reference-state engine.
type refClass byte

const (
	classNone refClass = iota
	classKeep
	classStale
	classDelete
)

// refEntry is one row of the reference-state map R built while
// classifying the subgraph reachable from an unsubscribed root.
type refEntry struct {
	item  *CacheItem
	rc    int // inbound edges from outside the rooted subgraph
	class refClass
}

// outboundRefs returns the RIDs the item directly points to, i.e. its
// model fields or collection elements that are resource references.
func (c *Cache) outboundRefs(item *CacheItem) []RID {
	switch item.kind {
	case KindModel:
		if item.model != nil {
			return item.model.Refs()
		}
	case KindCollection:
		if item.collection != nil {
			return item.collection.Refs()
		}
	}
	return nil
}

// classifyReferenceState runs the two-pass reference-state walk over
// the subgraph reachable from root and returns the resulting
// classification map, keyed by RID. Must be called with c.mu held.
func (c *Cache) classifyReferenceState(root *CacheItem) map[RID]*refEntry {
	r := make(map[RID]*refEntry)
	c.seekRefs(root, root, r)
	c.markDelete(root, stateDeleteToken, r)
	return r
}

// seekRefs is pass 1: depth-first from root, building R[X].rc as the
// number of inbound edges to X from outside the rooted subgraph.
func (c *Cache) seekRefs(root, x *CacheItem, r map[RID]*refEntry) {
	entry, visited := r[x.rid]
	if visited {
		entry.rc--
		return
	}

	delta := 0
	if x != root {
		delta = 1
	}
	entry = &refEntry{item: x, rc: x.indirect - delta}
	r[x.rid] = entry

	if x.subscribed {
		return
	}

	for _, rid := range c.outboundRefs(x) {
		child := c.items[rid]
		if child == nil {
			continue
		}
		c.seekRefs(root, child, r)
	}
}

// markDelete is pass 2: depth-first from root with a parent-state
// token. stateDeleteToken means the parent is still on the "delete"
// path; any other value is a stale-root RID token meaning "this
// subtree is only kept alive via that RID".
func (c *Cache) markDelete(x *CacheItem, parentState string, r map[RID]*refEntry) {
	if x.subscribed {
		return
	}

	entry := r[x.rid]
	if entry == nil {
		return
	}
	if entry.class == classKeep {
		return
	}

	if parentState == stateDeleteToken {
		switch {
		case entry.rc > 0:
			entry.class = classKeep
			c.descend(x, x.rid, r)
		case entry.class != classNone:
			// already visited with a conclusive class; stop.
		case x.direct > 0:
			entry.class = classStale
			c.descend(x, x.rid, r)
		default:
			entry.class = classDelete
			c.descend(x, stateDeleteToken, r)
		}
		return
	}

	// Parent state is a stale-root token T.
	if x.rid == parentState {
		// Self-covering: the stale root reappears in its own
		// subtree. Keep the classification but stop descending.
		return
	}
	entry.class = classKeep
	if entry.rc > 0 {
		c.descend(x, x.rid, r)
	} else {
		c.descend(x, parentState, r)
	}
}

// stateDeleteToken is the reserved parent-state sentinel meaning
// "delete", distinct from any real RID since RIDs never contain NUL.
const stateDeleteToken = "\x00delete"

func (c *Cache) descend(x *CacheItem, state string, r map[RID]*refEntry) {
	for _, rid := range c.outboundRefs(x) {
		child := c.items[rid]
		if child == nil {
			continue
		}
		c.markDelete(child, state, r)
	}
}

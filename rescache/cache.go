// Package rescache implements the resource cache: a reference-counted,
// RID-keyed graph of materialized models, collections and resource
// errors, the two-pass reference-state engine used on unsubscribe, and
// the stale/reconnect machinery that keeps the graph coherent across
// disconnects.
//
// rescache has no knowledge of the WebSocket transport or the request
// multiplexer; it is driven entirely through the Transport and
// EventSink interfaces, which resclient supplies (EventSink by Client
// itself, Transport by its request multiplexer).
package rescache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Transport is everything the cache needs from the connection layer:
// a single blocking round trip for "<action>.<rid>[.<method>]". It is
// implemented by resclient.Client's request multiplexer.
type Transport interface {
	Request(action, rid, method string, params any) (json.RawMessage, error)
}

// EventSink receives resource-level events for delivery to the
// application's event bus. Cache never interprets the emitted payload;
// it only decides when and what to emit.
type EventSink interface {
	Emit(rid RID, event string, payload any)
}

// DefaultSubscribeStaleDelay is the delay absorbing flapping before a
// newly-stale resource is resubscribed.
const DefaultSubscribeStaleDelay = 2000 * time.Millisecond

// Cache is the cache coordinator. All exported methods are safe for
// concurrent use; internally every mutation is serialized behind mu,
// an actor mutex guarding the whole graph on a preemptive runtime.
type Cache struct {
	mu sync.Mutex

	items           map[RID]*CacheItem
	modelTypes      *TypeList
	collectionTypes *TypeList

	transport Transport
	sink      EventSink
	logger    *slog.Logger

	staleSet            map[RID]struct{}
	staleTimers         map[RID]*time.Timer
	subscribeStaleDelay time.Duration
}

// New creates an empty Cache. modelTypes and collectionTypes select the
// factory used to construct the application-visible object for each
// materialized RID; pass rescache.NewTypeList(rescache.NewModel) and
// rescache.NewTypeList(rescache.NewCollection) for the library
// defaults.
func New(transport Transport, sink EventSink, modelTypes, collectionTypes *TypeList, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		items:               make(map[RID]*CacheItem),
		modelTypes:          modelTypes,
		collectionTypes:     collectionTypes,
		transport:           transport,
		sink:                sink,
		logger:              logger,
		staleSet:            make(map[RID]struct{}),
		staleTimers:         make(map[RID]*time.Timer),
		subscribeStaleDelay: DefaultSubscribeStaleDelay,
	}
}

// SetSubscribeStaleDelay overrides the default delay before a stale
// resource is resubscribed. Intended for tests.
func (c *Cache) SetSubscribeStaleDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeStaleDelay = d
}

// lookup returns the existing item for rid, or nil.
func (c *Cache) lookup(rid RID) *CacheItem {
	return c.items[rid]
}

// HasStale reports whether any resource is currently in the stale set,
// used by the reconnect manager to decide whether a reconnect attempt
// is worth making.
func (c *Cache) HasStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.staleSet) > 0
}

// Size returns the number of resources currently resident in the
// cache, materialized or bare, regardless of listener/reference state.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Lookup returns the cached item for rid without triggering a
// subscribe, or nil if the RID is not cached.
func (c *Cache) Lookup(rid RID) *CacheItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(rid)
}

// Get implements the public get(rid) operation: return
// the cached value if present, share an in-flight subscription promise
// if one exists, or issue a fresh subscribe and materialize the
// result. On subscribe failure the just-created item is evicted and
// the error propagated.
func (c *Cache) Get(rid RID) (*CacheItem, error) {
	c.mu.Lock()
	item := c.lookup(rid)
	if item != nil {
		promise := item.promise
		if promise == nil {
			c.mu.Unlock()
			return item, nil
		}
		c.mu.Unlock()
		if err := promise.wait(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		item = c.lookup(rid)
		c.mu.Unlock()
		return item, nil
	}

	item = &CacheItem{rid: rid, promise: newSubscribePromise()}
	c.items[rid] = item
	c.mu.Unlock()

	raw, err := c.transport.Request("subscribe", rid, "", nil)

	c.mu.Lock()
	if err != nil {
		delete(c.items, rid)
		item.promise.resolve(err)
		c.mu.Unlock()
		return nil, err
	}

	if mErr := c.materializeSubscribeResult(raw); mErr != nil {
		delete(c.items, rid)
		item.promise.resolve(mErr)
		c.mu.Unlock()
		return nil, mErr
	}

	promise := item.promise
	resolved := c.lookup(rid)
	if resolved != nil {
		resolved.promise = nil
	}
	promise.resolve(nil)
	c.mu.Unlock()

	return resolved, nil
}

// Create implements the create(rid, params) operation: dispatches a
// "new.<rid>" call, then materializes the response's rid-addressed
// bundle into a subscribed CacheItem exactly like a subscribe
// response. The returned item is the one named by the response's
// "rid" field, or the item for rid itself when that field is absent.
func (c *Cache) Create(rid RID, params any) (*CacheItem, error) {
	raw, err := c.transport.Request("new", rid, "", params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.materializeSubscribeResult(raw); err != nil {
		return nil, err
	}
	var addressed struct {
		RID RID `json:"rid"`
	}
	if err := json.Unmarshal(raw, &addressed); err == nil && addressed.RID != "" {
		return c.lookup(addressed.RID), nil
	}
	return c.lookup(rid), nil
}

// AddListener increments the direct-listener count for rid, which must
// already be cached (the application is expected to have called Get
// first). Returns a not-found error for unknown RIDs.
func (c *Cache) AddListener(rid RID) (*CacheItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.lookup(rid)
	if item == nil {
		return nil, fmt.Errorf("resource not cached: %s", rid)
	}
	item.direct++
	return item, nil
}

// RemoveListener decrements the direct-listener count for rid. When it
// reaches zero and the server still considers us subscribed, the
// item's unsubscribeCallback runs (if set); an item that has already
// gone stale (server-unsubscribed, kept alive only by this listener)
// has nothing to tell the server, and the reference-state engine runs
// to decide delete/keep/stale.
func (c *Cache) RemoveListener(rid RID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := c.lookup(rid)
	if item == nil {
		return fmt.Errorf("resource not cached: %s", rid)
	}
	if item.direct > 0 {
		item.direct--
	}
	if item.direct == 0 {
		if item.subscribed && item.unsubscribeCallback != nil {
			item.unsubscribeCallback(item)
		}
		c.maybeReclaim(item)
	}
	return nil
}

// maybeReclaim runs the reference-state engine for item if it is a
// possible deletion candidate, then applies the resulting
// classification. Must be called with c.mu held.
func (c *Cache) maybeReclaim(item *CacheItem) {
	if item.subscribed {
		return
	}
	if !item.isDeletionCandidate() && item.direct > 0 {
		return
	}
	r := c.classifyReferenceState(item)
	c.applyClassification(r, true)
}

// applyClassification evicts delete-marked items and adds stale-marked
// items to the stale set. scheduled controls whether a newly-stale
// item arms a delayed resubscribe timer (true for any live
// reclassification) or is simply parked for a later batch resubscribe
// (false, used only while disconnected, when there is nothing to
// resubscribe to yet). Must be called with c.mu held. Eviction never
// re-invokes the engine.
func (c *Cache) applyClassification(r map[RID]*refEntry, scheduled bool) {
	for _, entry := range r {
		switch entry.class {
		case classDelete:
			c.evict(entry.item)
		case classStale:
			c.addStale(entry.item.rid, scheduled)
		}
	}
}

// evict removes item from the cache, decrementing indirect counts on
// every outbound edge. Must be called with c.mu held.
func (c *Cache) evict(item *CacheItem) {
	if _, ok := c.items[item.rid]; !ok {
		return
	}
	for _, rid := range c.outboundRefs(item) {
		if child := c.items[rid]; child != nil {
			child.indirect--
		}
	}
	delete(c.items, item.rid)
	c.removeStale(item.rid)
}

// sendUnsubscribe is the unsubscribeCallback wired onto every
// materialized item: when the last direct listener goes away on a
// resource the server still considers us subscribed to, tell it to
// stop. Runs the actual request off the calling goroutine since
// RemoveListener holds c.mu when it invokes the callback; the response
// is applied back under the lock exactly like an inbound "unsubscribe"
// event, via classifyReferenceState/applyClassification.
func (c *Cache) sendUnsubscribe(item *CacheItem) {
	go func() {
		_, err := c.transport.Request("unsubscribe", item.rid, "", nil)

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.items[item.rid] != item {
			// Evicted or replaced while the request was in flight.
			return
		}
		if err != nil {
			c.logger.Debug("unsubscribe request failed", "rid", item.rid, "error", err)
			return
		}
		if !item.subscribed {
			// Already transitioned, e.g. a server-sent unsubscribe event
			// raced this response.
			return
		}

		item.subscribed = false
		r := c.classifyReferenceState(item)
		c.applyClassification(r, true)
	}()
}

// addReference increments the indirect count on the item for rid,
// creating a bare (unmaterialized-kind) CacheItem if one does not yet
// exist. Used while resolving a resource reference encountered inside
// another resource's data. Must be called with c.mu held.
func (c *Cache) addReference(rid RID) *CacheItem {
	item := c.items[rid]
	if item == nil {
		item = &CacheItem{rid: rid}
		c.items[rid] = item
	}
	item.indirect++
	return item
}

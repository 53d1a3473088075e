package rescache

// Kind identifies the three resource kinds the protocol knows about.
type Kind byte

const (
	// KindUnset marks an item that has not yet been materialized.
	KindUnset Kind = iota
	KindModel
	KindCollection
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindModel:
		return "model"
	case KindCollection:
		return "collection"
	case KindError:
		return "error"
	default:
		return "unset"
	}
}

// subscribePromise is the in-flight state shared by concurrent get()
// calls for the same RID while its subscribe response is outstanding.
// It is resolved exactly once, from the coordinator's goroutine, while
// holding Cache.mu.
type subscribePromise struct {
	done chan struct{}
	err  error
}

func newSubscribePromise() *subscribePromise {
	return &subscribePromise{done: make(chan struct{})}
}

func (p *subscribePromise) resolve(err error) {
	p.err = err
	close(p.done)
}

// wait blocks until the promise settles. Safe to call without holding
// Cache.mu; the caller re-acquires it afterward to read final item
// state.
func (p *subscribePromise) wait() error {
	<-p.done
	return p.err
}

// CacheItem is the per-resource record held by the cache. A CacheItem
// is only ever mutated while the owning Cache's mutex is held.
type CacheItem struct {
	rid  RID
	kind Kind

	model      ModelResource
	collection CollectionResource
	resErr     *ResourceError

	subscribed bool
	direct     int
	indirect   int

	promise *subscribePromise

	// unsubscribeCallback is invoked (by the owning Cache) when direct
	// transitions to zero while the item is still subscribed; the
	// callback wired at materialization sends the unsubscribe request.
	unsubscribeCallback func(item *CacheItem)
}

// RID returns the item's resource identifier.
func (c *CacheItem) RID() RID { return c.rid }

// Kind returns the item's materialized kind, or KindUnset before first
// materialization.
func (c *CacheItem) Kind() Kind { return c.kind }

// Subscribed reports whether the server currently considers this
// client subscribed to the RID.
func (c *CacheItem) Subscribed() bool { return c.subscribed }

// Direct returns the current direct-listener count.
func (c *CacheItem) Direct() int { return c.direct }

// Indirect returns the current inbound-edge count from other cached
// resources.
func (c *CacheItem) Indirect() int { return c.indirect }

// Model returns the materialized model value, or nil if the item is
// not a model or not yet materialized.
func (c *CacheItem) Model() ModelResource { return c.model }

// Collection returns the materialized collection value, or nil if the
// item is not a collection or not yet materialized.
func (c *CacheItem) Collection() CollectionResource { return c.collection }

// ResourceError returns the materialized error value, or nil if the
// item is not an error resource.
func (c *CacheItem) ResourceError() *ResourceError { return c.resErr }

// Value returns the item's materialized value as an `any`, regardless
// of kind: a ModelResource, a CollectionResource, or a *ResourceError.
func (c *CacheItem) Value() any {
	switch c.kind {
	case KindModel:
		return c.model
	case KindCollection:
		return c.collection
	case KindError:
		return c.resErr
	default:
		return nil
	}
}

// materialized reports whether the item's value has been populated at
// least once.
func (c *CacheItem) materialized() bool {
	return c.kind != KindUnset
}

// isDeletionCandidate reports whether the item currently has no
// anchor: no application listeners, no inbound edges, and the server
// does not consider it subscribed.
func (c *CacheItem) isDeletionCandidate() bool {
	return c.direct == 0 && c.indirect == 0 && !c.subscribed
}

// ResourceError is the materialized value of an "error" kind resource:
// the server responded to a subscribe with an error for this RID
// instead of a model/collection snapshot.
type ResourceError struct {
	Code    string
	Message string
}

func (e *ResourceError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

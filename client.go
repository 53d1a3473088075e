// Package resclient is a RES-protocol client: a resource cache kept
// synchronized with a RES gateway over a single WebSocket connection,
// presenting a reference-counted graph of models, collections, and
// resource errors to the application.
package resclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/resclient/calllog"
	"github.com/nugget/resclient/diagnostics"
	"github.com/nugget/resclient/eventbus"
	"github.com/nugget/resclient/rescache"
	"github.com/nugget/resclient/reserr"
	"github.com/nugget/resclient/rpc"
)

// Client-level observable event topics.
const (
	topicConnect = "connect"
	topicClose   = "close"
	topicError   = "error"
)

// deleteSentinel is the value applications pass as a SetModel field to
// mean "delete this field", rewritten internally to the wire-level
// delete sentinel, as a convenience over building the action map by
// hand. Comparison is
// by pointer identity against the single package-level value.
var deleteSentinel = &struct{}{}

// Delete is the sentinel value for SetModel: assign a field to Delete
// to have it sent to the server as a delete action.
var Delete any = deleteSentinel

// Client is a RES-protocol client: one WebSocket connection, one
// resource cache, one event bus. Safe for concurrent use.
type Client struct {
	url       string
	namespace string
	onConnect func() error

	transport *wsTransport
	cache     *rescache.Cache
	bus       EventBus
	logger    *slog.Logger

	callLog     *calllog.Store
	diagnostics *diagnostics.Publisher

	reconnectMgr *reconnectManager

	connMu    sync.Mutex
	connected bool
}

// New constructs a Client for hostURL without connecting. Call Connect
// to open the transport.
func New(hostURL string, opts Options) *Client {
	logger := opts.logger()

	modelTypes := opts.ModelTypes
	if modelTypes == nil {
		modelTypes = rescache.NewTypeList(rescache.NewModel)
	}
	collectionTypes := opts.CollectionTypes
	if collectionTypes == nil {
		collectionTypes = rescache.NewTypeList(rescache.NewCollection)
	}

	bus := opts.EventBus
	if bus == nil {
		bus = newLocalBus()
	}

	c := &Client{
		url:         hostURL,
		namespace:   opts.namespace(),
		onConnect:   opts.OnConnect,
		bus:         bus,
		logger:      logger,
		callLog:     opts.CallLog,
		diagnostics: opts.Diagnostics,
	}

	c.transport = newWSTransport(logger)
	if opts.Dialer != nil {
		c.transport.dialer = opts.Dialer
	}
	c.transport.onEvent = c.dispatchEvent
	c.transport.onClose = c.handleTransportClose

	c.cache = rescache.New(c.auditedTransport(), c, modelTypes, collectionTypes, logger)
	if opts.SubscribeStaleDelay > 0 {
		c.cache.SetSubscribeStaleDelay(opts.SubscribeStaleDelay)
	}

	c.reconnectMgr = newReconnectManager(c, opts.ReconnectDelay, logger)
	return c
}

// dispatchEvent adapts wsTransport's onEvent callback to
// rescache.Cache.HandleEvent.
func (c *Client) dispatchEvent(rid, name string, data json.RawMessage) {
	c.cache.HandleEvent(rid, name, data)
}

// handleTransportClose runs on the transport's read-loop exit.
func (c *Client) handleTransportClose(cause error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	c.bus.Publish(c.topic(topicError), reserr.ConnectionError(cause))
	c.reconnectMgr.handleClose(cause)
}

// Emit implements rescache.EventSink: publish a per-resource event at
// "<namespace>.resource.<rid>.<event>".
func (c *Client) Emit(rid rescache.RID, event string, payload any) {
	c.bus.Publish(c.namespace+".resource."+rid+"."+event, payload)
}

func (c *Client) topic(name string) string {
	return c.namespace + "." + name
}

// Connect opens the transport, runs the onConnect hook if set, and
// marks the client connected. Safe to call again after Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.reconnectMgr.resume()

	if err := c.transport.connect(ctx, c.url); err != nil {
		return reserr.ConnectionError(err)
	}

	if c.onConnect != nil {
		if err := c.onConnect(); err != nil {
			_ = c.transport.close()
			return err
		}
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.bus.Publish(c.topic(topicConnect), nil)
	return nil
}

// Disconnect closes the transport and disables automatic reconnection
// (an explicit disconnect, as opposed to a transport drop).
func (c *Client) Disconnect() error {
	c.reconnectMgr.stop()
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	err := c.transport.close()
	c.bus.Publish(c.topic(topicClose), reserr.Disconnect())
	return err
}

// Connected reports whether the transport currently has a live
// connection. Used by the diagnostics publisher's Source interface.
func (c *Client) Connected() bool {
	return c.transport.connected()
}

// CacheSize reports the number of resources currently resident in the
// cache. Used by the diagnostics publisher's Source interface.
func (c *Client) CacheSize() int {
	return c.cache.Size()
}

// Diagnostics returns the configured diagnostics publisher, or nil if
// Options.Diagnostics was not set. Callers are responsible for calling
// Start/Stop on it with their own lifetime context.
func (c *Client) Diagnostics() *diagnostics.Publisher {
	return c.diagnostics
}

// Get resolves rid, subscribing and materializing it if not already
// cached.
func (c *Client) Get(rid string) (*rescache.CacheItem, error) {
	if rid == "" {
		return nil, reserr.InvalidParams("rid must not be empty")
	}
	return c.cache.Get(rid)
}

// Call invokes method on rid with params and returns the raw result.
func (c *Client) Call(rid, method string, params any) ([]byte, error) {
	if rid == "" {
		return nil, reserr.InvalidParams("rid must not be empty")
	}
	if method == "" {
		return nil, reserr.InvalidParams("call requires a non-empty method")
	}
	return c.request(rpc.ActionCall, rid, method, params)
}

// Authenticate invokes an auth method on rid with params.
func (c *Client) Authenticate(rid, method string, params any) ([]byte, error) {
	if rid == "" {
		return nil, reserr.InvalidParams("rid must not be empty")
	}
	if method == "" {
		return nil, reserr.InvalidParams("authenticate requires a non-empty method")
	}
	return c.request(rpc.ActionAuth, rid, method, params)
}

// Create dispatches "new.<rid>" and materializes the response into a
// subscribed CacheItem exactly like a subscribe response.
func (c *Client) Create(rid string, params any) (*rescache.CacheItem, error) {
	if rid == "" {
		return nil, reserr.InvalidParams("rid must not be empty")
	}
	return c.cache.Create(rid, params)
}

// SetModel is a convenience over Call(rid, "set", props) that rewrites
// any field set to Delete into the wire-level delete sentinel.
func (c *Client) SetModel(rid string, props map[string]any) ([]byte, error) {
	return c.Call(rid, "set", prepareSetModelProps(props))
}

// prepareSetModelProps rewrites any field set to Delete into the
// wire-level delete sentinel, leaving every other field untouched.
func prepareSetModelProps(props map[string]any) map[string]any {
	prepared := make(map[string]any, len(props))
	for k, v := range props {
		if v == deleteSentinel {
			prepared[k] = map[string]string{"action": "delete"}
			continue
		}
		prepared[k] = v
	}
	return prepared
}

// request dispatches a method call through the request multiplexer,
// recording it to the call log (if configured).
func (c *Client) request(action, rid, method string, params any) ([]byte, error) {
	raw, err := c.auditedTransport().Request(action, rid, method, params)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// auditedTransport wraps the client's wsTransport so rescache.Cache's
// subscribe/unsubscribe/new traffic is also recorded to the call log,
// without rescache needing any knowledge of calllog.
func (c *Client) auditedTransport() rescache.Transport {
	if c.callLog == nil {
		return c.transport
	}
	return &auditingTransport{inner: c.transport, log: c.callLog}
}

// On registers handler for a client-level event ("connect", "close",
// "error") and returns a function that removes it.
func (c *Client) On(event string, handler func(data any)) (off func()) {
	return c.bus.On(c.topic(event), handler)
}

// ResourceOn registers handler for a per-resource event and increments
// the targeted CacheItem's direct-listener count; the returned off
// function decrements it again. Unknown RIDs fail with a not-found
// error.
func (c *Client) ResourceOn(rid, event string, handler func(data any)) (off func(), err error) {
	if rid == "" {
		return nil, reserr.InvalidParams("rid must not be empty")
	}
	if _, err := c.cache.AddListener(rid); err != nil {
		return nil, reserr.NotFound(rid)
	}

	busOff := c.bus.On(c.namespace+".resource."+rid+"."+event, handler)
	return func() {
		busOff()
		_ = c.cache.RemoveListener(rid)
	}, nil
}

// localBus adapts *eventbus.Bus to the EventBus interface. Bus.On's
// handler parameter is the named type eventbus.Handler rather than the
// bare func(data any) EventBus requires, so the two are not
// interface-identical without this thin wrapper.
type localBus struct {
	inner *eventbus.Bus
}

func newLocalBus() *localBus {
	return &localBus{inner: eventbus.New()}
}

func (b *localBus) Publish(topic string, data any) {
	b.inner.Publish(topic, data)
}

func (b *localBus) On(topic string, handler func(data any)) (off func()) {
	return b.inner.On(topic, handler)
}

// auditingTransport wraps wsTransport so every cache-issued request
// (subscribe/unsubscribe/new) is also recorded to the call log,
// keeping rescache itself unaware that auditing exists.
type auditingTransport struct {
	inner *wsTransport
	log   *calllog.Store
}

func (a *auditingTransport) Request(action, rid, method string, params any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := a.inner.Request(action, rid, method, params)

	outcome := "ok"
	if err != nil {
		if resErr, ok := err.(*reserr.Error); ok {
			outcome = resErr.Code
		} else {
			outcome = reserr.CodeConnectionError
		}
	}

	rec := calllog.Record{
		Method:     rpc.BuildMethod(action, rid, method),
		RID:        rid,
		DurationMS: time.Since(start).Milliseconds(),
		Outcome:    outcome,
	}
	if logErr := a.log.Record(context.Background(), rec); logErr != nil {
		a.inner.logger.Warn("call log record failed", "error", logErr)
	}

	return raw, err
}

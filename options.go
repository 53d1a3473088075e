package resclient

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/resclient/calllog"
	"github.com/nugget/resclient/diagnostics"
	"github.com/nugget/resclient/rescache"
)

// DefaultNamespace is the event-bus namespace used when Options.Namespace
// is empty.
const DefaultNamespace = "resclient"

// EventBus is the event-bus collaborator a Client publishes observable
// events to. eventbus.Bus is the ambient default; applications may
// substitute their own implementation.
type EventBus interface {
	Publish(topic string, data any)
	On(topic string, handler func(data any)) (off func())
}

// Options configures a Client. The zero value is valid: every field
// has a documented default applied by New.
type Options struct {
	// OnConnect runs after each successful transport open and before
	// the stale set is resubscribed. A non-nil error closes the
	// transport: Connect then returns the error to its caller, while an
	// automatic reconnect attempt schedules another attempt after the
	// reconnect delay.
	OnConnect func() error

	// Namespace prefixes every per-resource event topic; defaults to
	// DefaultNamespace.
	Namespace string

	// EventBus is the pub/sub collaborator observable events are
	// published to; defaults to a private eventbus.Bus instance.
	EventBus EventBus

	// Dialer configures the underlying WebSocket dial. resclient leaves
	// gorilla's defaults alone unless the caller overrides them; large
	// collection snapshots may warrant wider read/write buffers.
	Dialer *websocket.Dialer

	// Logger receives structured diagnostic output. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// SubscribeStaleDelay overrides rescache.DefaultSubscribeStaleDelay.
	SubscribeStaleDelay time.Duration

	// ReconnectDelay overrides DefaultReconnectDelay.
	ReconnectDelay time.Duration

	// ModelTypes and CollectionTypes register application-specific
	// resource adapters by RID pattern; the most recently registered
	// matching pattern wins. Nil means every resource uses the library's
	// default map/slice-backed Model/Collection.
	ModelTypes      *rescache.TypeList
	CollectionTypes *rescache.TypeList

	// CallLog, if set, records every multiplexed request to a SQLite
	// audit trail.
	CallLog *calllog.Store

	// Diagnostics, if set, publishes connection state and cache size
	// over MQTT discovery/telemetry.
	Diagnostics *diagnostics.Publisher
}

func (o Options) namespace() string {
	if o.Namespace == "" {
		return DefaultNamespace
	}
	return o.Namespace
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

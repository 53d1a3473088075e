package resclient

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultReconnectDelay is the fixed interval between reconnect
// attempts.
const DefaultReconnectDelay = 3000 * time.Millisecond

// reconnectManager drives reconnection after the transport closes: a
// single goroutine-free state machine armed by time.AfterFunc rather
// than a ticker. Unlike an exponential-backoff watcher, it retries on
// one fixed interval, gated on whether the cache still holds anything
// worth reconnecting for.
type reconnectManager struct {
	client *Client
	logger *slog.Logger
	delay  time.Duration

	mu         sync.Mutex
	tryConnect bool
	timer      *time.Timer
}

func newReconnectManager(c *Client, delay time.Duration, logger *slog.Logger) *reconnectManager {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	return &reconnectManager{client: c, logger: logger, delay: delay, tryConnect: true}
}

// handleClose runs on the transport's onClose callback. It marks every
// subscribed resource stale and, if reconnection is still wanted and
// there is something to recover, arms a single retry timer.
func (r *reconnectManager) handleClose(cause error) {
	r.client.cache.HandleDisconnect()
	r.client.bus.Publish(r.client.topic(topicClose), cause)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.tryConnect {
		return
	}
	if !r.client.cache.HasStale() {
		return
	}
	r.arm()
}

// arm schedules a single reconnect attempt after delay. Must be called
// with r.mu held.
func (r *reconnectManager) arm() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.attempt)
}

// attempt performs one connect try. On failure it re-arms itself for
// another attempt after delay; on success it runs the application's
// onConnect hook (if any) before resubscribing the stale set, so the
// hook can finish any re-authentication before resubscribe traffic
// goes out.
func (r *reconnectManager) attempt() {
	r.mu.Lock()
	if !r.tryConnect {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := r.client.transport.connect(ctx, r.client.url); err != nil {
		r.logger.Warn("reconnect attempt failed", "error", err)
		r.mu.Lock()
		if r.tryConnect {
			r.arm()
		}
		r.mu.Unlock()
		return
	}

	if r.client.onConnect != nil {
		if err := r.client.onConnect(); err != nil {
			r.logger.Warn("onConnect hook failed, closing to retry", "error", err)
			_ = r.client.transport.close()
			r.mu.Lock()
			if r.tryConnect {
				r.arm()
			}
			r.mu.Unlock()
			return
		}
	}

	r.logger.Info("reconnected")
	r.client.bus.Publish(r.client.topic(topicConnect), nil)
	r.client.cache.ResubscribeAll()
}

// stop disables future reconnect attempts (explicit disconnect).
func (r *reconnectManager) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryConnect = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// resume re-enables reconnect attempts after an explicit disconnect,
// used when the application calls Connect again on a previously
// disconnected Client.
func (r *reconnectManager) resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tryConnect = true
}

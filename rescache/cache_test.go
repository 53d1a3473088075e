package rescache

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeTransport is a scripted rescache.Transport: responses/errors are
// keyed by "<action>.<rid>[.<method>]", the same string BuildMethod
// produces on the wire.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]json.RawMessage
	errs      map[string]error
	calls     []string
	unsubCh   chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses: make(map[string]json.RawMessage),
		errs:      make(map[string]error),
	}
}

func (f *fakeTransport) key(action, rid, method string) string {
	if method == "" {
		return action + "." + rid
	}
	return action + "." + rid + "." + method
}

func (f *fakeTransport) setResult(action, rid, method, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[f.key(action, rid, method)] = json.RawMessage(body)
}

func (f *fakeTransport) setErr(action, rid, method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[f.key(action, rid, method)] = err
}

func (f *fakeTransport) Request(action, rid, method string, params any) (json.RawMessage, error) {
	k := f.key(action, rid, method)
	f.mu.Lock()
	f.calls = append(f.calls, k)
	err, hasErr := f.errs[k]
	resp := f.responses[k]
	ch := f.unsubCh
	f.mu.Unlock()

	if action == "unsubscribe" && ch != nil {
		ch <- rid
	}
	if hasErr {
		return nil, err
	}
	return resp, nil
}

type fakeSinkEvent struct {
	rid     RID
	event   string
	payload any
}

type fakeSink struct {
	mu     sync.Mutex
	events []fakeSinkEvent
}

func (f *fakeSink) Emit(rid RID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeSinkEvent{rid, event, payload})
}

func (f *fakeSink) count(rid RID, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.rid == rid && e.event == event {
			n++
		}
	}
	return n
}

func newTestCache(t *testing.T) (*Cache, *fakeTransport, *fakeSink) {
	t.Helper()
	transport := newFakeTransport()
	sink := &fakeSink{}
	c := New(transport, sink, NewTypeList(NewModel), NewTypeList(NewCollection), nil)
	return c, transport, sink
}

func TestCache_GetMaterializesModel(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":"bar"}}}`)

	item, err := c.Get("test.model")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Kind() != KindModel {
		t.Fatalf("Kind() = %v, want KindModel", item.Kind())
	}
	if !item.Subscribed() {
		t.Fatal("item should be subscribed after materialization")
	}
	v, ok := item.Model().Get("foo")
	if !ok {
		t.Fatal("field foo missing")
	}
	if string(v.Raw) != `"bar"` {
		t.Errorf("foo = %s, want \"bar\"", v.Raw)
	}
}

func TestCache_GetReturnsCachedItemWithoutResubscribing(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":1}}}`)

	if _, err := c.Get("test.model"); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := c.Get("test.model"); err != nil {
		t.Fatalf("second Get: %v", err)
	}

	transport.mu.Lock()
	calls := len(transport.calls)
	transport.mu.Unlock()
	if calls != 1 {
		t.Errorf("transport called %d times, want 1", calls)
	}
}

func TestCache_GetSubscribeErrorEvictsItem(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setErr("subscribe", "bad.rid", "", fmt.Errorf("boom"))

	if _, err := c.Get("bad.rid"); err == nil {
		t.Fatal("expected error")
	}
	if c.Lookup("bad.rid") != nil {
		t.Fatal("failed subscribe should not leave an item cached")
	}
}

func TestCache_ReferenceCountingEvictsTransitively(t *testing.T) {
	c, transport, sink := newTestCache(t)
	transport.setResult("subscribe", "a.model", "",
		`{"models":{"a.model":{"ref":{"rid":"b.model"}}}}`)

	if _, err := c.Get("a.model"); err != nil {
		t.Fatalf("Get a: %v", err)
	}

	b := c.Lookup("b.model")
	if b == nil {
		t.Fatal("referenced resource should materialize as a bare placeholder")
	}
	if b.Indirect() != 1 {
		t.Errorf("b.Indirect() = %d, want 1", b.Indirect())
	}

	// Server revokes the subscription; nothing else anchors a.model or
	// b.model, so both should be reclaimed.
	c.HandleEvent("a.model", "unsubscribe", nil)

	if c.Lookup("a.model") != nil {
		t.Error("a.model should have been evicted")
	}
	if c.Lookup("b.model") != nil {
		t.Error("b.model should have been evicted transitively")
	}
	if sink.count("a.model", "unsubscribe") != 1 {
		t.Error("expected exactly one unsubscribe event for a.model")
	}
}

func TestCache_UnsubscribeWithDirectListenerGoesStale(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":1}}}`)

	if _, err := c.Get("test.model"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.AddListener("test.model"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	c.HandleEvent("test.model", "unsubscribe", nil)

	if c.Lookup("test.model") == nil {
		t.Fatal("item with a direct listener should not be evicted")
	}
	if !c.HasStale() {
		t.Fatal("item should be marked stale, not kept silently")
	}
}

func TestCache_RemoveListenerToZeroSendsUnsubscribe(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":1}}}`)
	ch := make(chan string, 1)
	transport.mu.Lock()
	transport.unsubCh = ch
	transport.mu.Unlock()

	if _, err := c.Get("test.model"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.AddListener("test.model"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := c.RemoveListener("test.model"); err != nil {
		t.Fatalf("RemoveListener: %v", err)
	}

	select {
	case rid := <-ch:
		if rid != "test.model" {
			t.Errorf("unsubscribe sent for %q, want test.model", rid)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unsubscribe request")
	}
}

func TestCache_AddListenerUnknownRIDErrors(t *testing.T) {
	c, _, _ := newTestCache(t)
	if _, err := c.AddListener("nope.nope"); err == nil {
		t.Fatal("expected error for uncached RID")
	}
}

// TestCache_HandleDisconnectEvictsUnreferencedItem covers the common
// case of a plain Get with no registered listener: on disconnect the
// item has no anchor (no direct listener, no inbound reference), so
// the reference-state engine evicts it outright instead of parking it
// in the stale set forever.
func TestCache_HandleDisconnectEvictsUnreferencedItem(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":1}}}`)

	if _, err := c.Get("test.model"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.HandleDisconnect()

	if item := c.Lookup("test.model"); item != nil {
		t.Fatalf("item should have been evicted on disconnect, got %+v", item)
	}
	if c.HasStale() {
		t.Fatal("stale set should be empty: nothing anchored the evicted item")
	}
}

// TestCache_HandleDisconnectAndResubscribeAll covers an item kept
// alive by a direct listener: it goes stale (not evicted) on
// disconnect and is resubscribed in the batch once ResubscribeAll
// runs.
func TestCache_HandleDisconnectAndResubscribeAll(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":1}}}`)

	if _, err := c.Get("test.model"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.AddListener("test.model"); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	c.HandleDisconnect()
	item := c.Lookup("test.model")
	if item == nil {
		t.Fatal("item with a direct listener should survive disconnect")
	}
	if item.Subscribed() {
		t.Fatal("item should be unsubscribed after disconnect")
	}
	if !c.HasStale() {
		t.Fatal("item should be stale after disconnect")
	}

	transport.setResult("subscribe", "test.model", "", `{"models":{"test.model":{"foo":2}}}`)
	c.ResubscribeAll()

	item = c.Lookup("test.model")
	if !item.Subscribed() {
		t.Fatal("item should be subscribed again after ResubscribeAll")
	}
	if c.HasStale() {
		t.Fatal("stale set should be empty after successful resubscribe")
	}
}

func TestCache_Create(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("new", "task.new", "", `{"rid":"task.42","models":{"task.42":{"title":"hi"}}}`)

	item, err := c.Create("task.new", map[string]any{"title": "hi"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if item.RID() != "task.42" {
		t.Errorf("created item RID = %q, want task.42", item.RID())
	}
}

// TestCache_ChangeEventSwapReferencesNoTransientEviction covers a
// change event that swaps two resource references between fields in
// one shot: p.a pointed at x.model and p.b at y.model, and the event
// flips them (p.a -> y.model, p.b -> x.model). Neither x.model nor
// y.model has a direct listener, so each is held alive only by its
// one inbound reference from p.model. If the two fields were applied
// one at a time (release old, add new, per key) a field order that
// processes p.a first would drop x.model's only reference to zero
// and evict it before p.b's new reference to x.model is added back,
// destroying the item and losing its identity. Since the net change
// across the whole event leaves each of x.model/y.model referenced
// exactly once, neither should be evicted, and the *CacheItem
// instances should survive the event unchanged.
func TestCache_ChangeEventSwapReferencesNoTransientEviction(t *testing.T) {
	c, transport, _ := newTestCache(t)
	transport.setResult("subscribe", "p.model", "", `{"models":{"p.model":{
		"a":{"rid":"x.model"},
		"b":{"rid":"y.model"}
	}}}`)

	if _, err := c.Get("p.model"); err != nil {
		t.Fatalf("Get p.model: %v", err)
	}

	// x.model and y.model now exist only as bare, unsubscribed
	// placeholders referenced solely by p.model's fields.
	x := c.Lookup("x.model")
	y := c.Lookup("y.model")
	if x == nil || y == nil {
		t.Fatal("expected bare placeholders for x.model and y.model")
	}
	if x.Indirect() != 1 || y.Indirect() != 1 {
		t.Fatalf("expected indirect=1 for both before swap, got x=%d y=%d", x.Indirect(), y.Indirect())
	}

	c.HandleEvent("p.model", "change", json.RawMessage(`{"values":{
		"a":{"rid":"y.model"},
		"b":{"rid":"x.model"}
	}}`))

	if got := c.Lookup("x.model"); got != x {
		t.Fatal("x.model was evicted and recreated mid-event; identity not preserved")
	}
	if got := c.Lookup("y.model"); got != y {
		t.Fatal("y.model was evicted and recreated mid-event; identity not preserved")
	}
	if x.Indirect() != 1 {
		t.Errorf("x.model indirect after swap = %d, want 1", x.Indirect())
	}
	if y.Indirect() != 1 {
		t.Errorf("y.model indirect after swap = %d, want 1", y.Indirect())
	}

	p := c.Lookup("p.model")
	av, _ := p.Model().Get("a")
	bv, _ := p.Model().Get("b")
	if av.RID != "y.model" {
		t.Errorf("p.model.a = %q, want y.model", av.RID)
	}
	if bv.RID != "x.model" {
		t.Errorf("p.model.b = %q, want x.model", bv.RID)
	}
}

func TestCache_CollectionSyncEmitsMinimalDiff(t *testing.T) {
	c, transport, sink := newTestCache(t)
	transport.setResult("subscribe", "list.items", "", `{"collections":{"list.items":[1,2,3]}}`)

	if _, err := c.Get("list.items"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.mu.Lock()
	item := c.lookup("list.items")
	var arr []json.RawMessage
	_ = json.Unmarshal([]byte(`[1,2,3,4]`), &arr)
	c.syncCollection(item, arr)
	c.mu.Unlock()

	if item.collection.Len() != 4 {
		t.Fatalf("collection len = %d, want 4", item.collection.Len())
	}
	if sink.count("list.items", "add") != 1 {
		t.Errorf("expected exactly one add event, got %d", sink.count("list.items", "add"))
	}
}

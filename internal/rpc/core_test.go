package rpc

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePeer records framed messages and can be made to fail writes.
type fakePeer struct {
	mu       sync.Mutex
	frames   [][]byte
	failWith error
}

func (p *fakePeer) Send(msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.frames = append(p.frames, append([]byte(nil), msg...))
	return nil
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *fakePeer) frame(t *testing.T, i int) map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.frames) {
		t.Fatalf("frame(%d): only %d frames recorded", i, len(p.frames))
	}
	var m map[string]any
	if err := json.Unmarshal(p.frames[i], &m); err != nil {
		t.Fatalf("frame(%d) is not valid JSON: %v", i, err)
	}
	return m
}

// recordingHandler records notifications in arrival order.
type recordingHandler struct {
	mu      sync.Mutex
	methods []string
}

func (h *recordingHandler) Notification(method string, params json.RawMessage) {
	h.mu.Lock()
	h.methods = append(h.methods, method)
	h.mu.Unlock()
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.methods...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// flush pushes a marker notification through the inbound stream and waits
// for the handler to see it, guaranteeing everything queued earlier has
// been dispatched.
func flush(t *testing.T, inbound chan json.RawMessage, h *recordingHandler) {
	t.Helper()
	before := len(h.seen())
	inbound <- json.RawMessage(`{"method":"__flush","params":{}}`)
	waitFor(t, func() bool { return len(h.seen()) > before }, "flush marker")
}

func newTestCore(t *testing.T) (*Core, *fakePeer, chan json.RawMessage, *recordingHandler) {
	t.Helper()
	peer := &fakePeer{}
	inbound := make(chan json.RawMessage, 16)
	handler := &recordingHandler{}
	core := NewCore(peer, inbound, handler)
	t.Cleanup(func() { core.Close() })
	return core, peer, inbound, handler
}

func TestCore_SendNotification(t *testing.T) {
	core, peer, _, _ := newTestCore(t)

	if err := core.SendNotification("client_started", map[string]any{}); err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 1 }, "notification write")

	frame := peer.frame(t, 0)
	if frame["method"] != "client_started" {
		t.Errorf("method = %v, want client_started", frame["method"])
	}
	if _, hasID := frame["id"]; hasID {
		t.Errorf("notification frame carries an id: %v", frame)
	}

	// No table entry was created: the next request must get identifier 0.
	if err := core.SendRequest("new_view", nil, nopCont); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 2 }, "request write")
	if id := peer.frame(t, 1)["id"]; id != float64(0) {
		t.Errorf("first request id = %v, want 0", id)
	}
}

func TestCore_RequestResolvesContinuationExactlyOnce(t *testing.T) {
	core, peer, inbound, handler := newTestCore(t)

	var mu sync.Mutex
	var calls int
	var got string
	err := core.SendRequest("new_view", map[string]any{}, func(result json.RawMessage, err error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if err != nil {
			t.Errorf("continuation error = %v, want nil", err)
			return
		}
		got = string(result)
	})
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 1 }, "request write")

	inbound <- json.RawMessage(`{"id":0,"result":"view-1"}`)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return calls == 1 }, "continuation")

	mu.Lock()
	if got != `"view-1"` {
		t.Errorf("continuation result = %s, want \"view-1\"", got)
	}
	mu.Unlock()

	// A duplicate response for an already-resolved identifier is dropped.
	inbound <- json.RawMessage(`{"id":0,"result":"view-1"}`)
	flush(t, inbound, handler)

	mu.Lock()
	if calls != 1 {
		t.Errorf("continuation ran %d times after duplicate response, want 1", calls)
	}
	mu.Unlock()
}

func TestCore_OutOfOrderResponses(t *testing.T) {
	core, peer, inbound, _ := newTestCore(t)

	var mu sync.Mutex
	results := make(map[string]string)
	cont := func(name string) Continuation {
		return func(result json.RawMessage, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("continuation %s error = %v", name, err)
				return
			}
			results[name] = string(result)
		}
	}

	if err := core.SendRequest("new_view", nil, cont("r0")); err != nil {
		t.Fatalf("SendRequest(r0) error = %v", err)
	}
	if err := core.SendRequest("new_view", nil, cont("r1")); err != nil {
		t.Fatalf("SendRequest(r1) error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 2 }, "both request writes")

	if id := peer.frame(t, 0)["id"]; id != float64(0) {
		t.Fatalf("first request id = %v, want 0", id)
	}
	if id := peer.frame(t, 1)["id"]; id != float64(1) {
		t.Fatalf("second request id = %v, want 1", id)
	}

	// Replies arrive in reverse order; each must resolve its own request.
	inbound <- json.RawMessage(`{"id":1,"result":"view-B"}`)
	inbound <- json.RawMessage(`{"id":0,"result":"view-A"}`)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(results) == 2 }, "both continuations")

	mu.Lock()
	defer mu.Unlock()
	if results["r0"] != `"view-A"` {
		t.Errorf("r0 result = %s, want \"view-A\"", results["r0"])
	}
	if results["r1"] != `"view-B"` {
		t.Errorf("r1 result = %s, want \"view-B\"", results["r1"])
	}
}

func TestCore_NotificationOrderPreserved(t *testing.T) {
	_, _, inbound, handler := newTestCore(t)

	inbound <- json.RawMessage(`{"method":"update","params":{"seq":1}}`)
	inbound <- json.RawMessage(`{"method":"scroll_to","params":{"seq":2}}`)
	inbound <- json.RawMessage(`{"method":"update","params":{"seq":3}}`)
	waitFor(t, func() bool { return len(handler.seen()) == 3 }, "three notifications")

	want := []string{"update", "scroll_to", "update"}
	for i, method := range handler.seen() {
		if method != want[i] {
			t.Errorf("notification %d = %s, want %s", i, method, want[i])
		}
	}
}

func TestCore_InterleavedResponsesAndNotifications(t *testing.T) {
	// Shared event log: handler and continuation both run on the core's
	// goroutine, so observed order is fully determined by the inbound order.
	var mu sync.Mutex
	var events []string

	peer := &fakePeer{}
	inbound := make(chan json.RawMessage, 16)
	core := NewCore(peer, inbound, notifyFunc(func(method string, params json.RawMessage) {
		mu.Lock()
		events = append(events, "notif:"+method)
		mu.Unlock()
	}))
	defer core.Close()

	err := core.SendRequest("new_view", nil, func(result json.RawMessage, err error) {
		mu.Lock()
		events = append(events, "resp:"+string(result))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 1 }, "request write")

	inbound <- json.RawMessage(`{"method":"before","params":{}}`)
	inbound <- json.RawMessage(`{"id":0,"result":"v"}`)
	inbound <- json.RawMessage(`{"method":"after","params":{}}`)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(events) == 3 }, "three events")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"notif:before", `resp:"v"`, "notif:after"}
	for i, ev := range events {
		if ev != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev, want[i])
		}
	}
}

// notifyFunc adapts a function to the Handler interface.
type notifyFunc func(method string, params json.RawMessage)

func (f notifyFunc) Notification(method string, params json.RawMessage) { f(method, params) }

func TestCore_EngineExitFailsAllPending(t *testing.T) {
	peer := &fakePeer{}
	inbound := make(chan json.RawMessage, 16)
	core := NewCore(peer, inbound, &recordingHandler{})

	const n = 5
	var mu sync.Mutex
	errs := make([]error, 0, n)
	for i := 0; i < n; i++ {
		err := core.SendRequest("new_view", nil, func(result json.RawMessage, err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		})
		if err != nil {
			t.Fatalf("SendRequest(%d) error = %v", i, err)
		}
	}
	waitFor(t, func() bool { return peer.count() == n }, "all request writes")

	// Engine process exits: the inbound stream closes.
	close(inbound)
	<-core.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != n {
		t.Fatalf("%d continuations fired at shutdown, want %d", len(errs), n)
	}
	for i, err := range errs {
		if !errors.Is(err, ErrCoreClosed) {
			t.Errorf("continuation %d error = %v, want ErrCoreClosed", i, err)
		}
	}
}

func TestCore_SendAfterClose(t *testing.T) {
	core, _, _, _ := newTestCore(t)
	if err := core.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// Close is idempotent.
	if err := core.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := core.SendNotification("client_started", nil); !errors.Is(err, ErrCoreClosed) {
		t.Errorf("SendNotification() after close error = %v, want ErrCoreClosed", err)
	}

	fired := false
	err := core.SendRequest("new_view", nil, func(result json.RawMessage, err error) { fired = true })
	if !errors.Is(err, ErrCoreClosed) {
		t.Errorf("SendRequest() after close error = %v, want ErrCoreClosed", err)
	}
	time.Sleep(10 * time.Millisecond)
	if fired {
		t.Error("continuation fired for a request rejected at send time")
	}
}

func TestCore_WriteFailureReachesContinuation(t *testing.T) {
	peer := &fakePeer{failWith: errors.New("broken pipe")}
	inbound := make(chan json.RawMessage, 16)
	core := NewCore(peer, inbound, &recordingHandler{})
	defer core.Close()

	errCh := make(chan error, 1)
	err := core.SendRequest("new_view", nil, func(result json.RawMessage, err error) {
		errCh <- err
	})
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, ErrCoreClosed) {
			t.Errorf("continuation error = %v, want transport write error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("continuation not invoked after write failure")
	}
}

func TestCore_UnknownResponseIDDropped(t *testing.T) {
	_, _, inbound, handler := newTestCore(t)

	inbound <- json.RawMessage(`{"id":9,"result":"stale"}`)
	flush(t, inbound, handler)
	// Nothing to assert beyond survival: the unknown id is logged and
	// dropped, and dispatch continues.
}

func TestCore_MalformedInboundDropped(t *testing.T) {
	_, _, inbound, handler := newTestCore(t)

	inbound <- json.RawMessage(`{not json`)
	inbound <- json.RawMessage(`{"id":3}`)
	flush(t, inbound, handler)

	if got := handler.seen(); len(got) != 1 || got[0] != "__flush" {
		t.Errorf("handler saw %v, want only the flush marker", got)
	}
}

func TestCore_ErrorPayloadDelivered(t *testing.T) {
	core, peer, inbound, _ := newTestCore(t)

	errCh := make(chan error, 1)
	if err := core.SendRequest("new_view", nil, func(result json.RawMessage, err error) {
		errCh <- err
	}); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 1 }, "request write")

	inbound <- json.RawMessage(`{"id":0,"error":{"code":5,"message":"no such file"}}`)

	select {
	case err := <-errCh:
		var engineErr *Error
		if !errors.As(err, &engineErr) {
			t.Fatalf("continuation error = %v (%T), want *Error", err, err)
		}
		if engineErr.Code != 5 || engineErr.Message != "no such file" {
			t.Errorf("engine error = %+v, want code 5 / no such file", engineErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("continuation not invoked for error response")
	}
}

func TestCore_IdentifierReusedAfterResolution(t *testing.T) {
	core, peer, inbound, _ := newTestCore(t)

	done := make(chan struct{}, 1)
	if err := core.SendRequest("new_view", nil, func(result json.RawMessage, err error) {
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 1 }, "first request write")

	inbound <- json.RawMessage(`{"id":0,"result":null}`)
	<-done

	if err := core.SendRequest("new_view", nil, nopCont); err != nil {
		t.Fatalf("second SendRequest() error = %v", err)
	}
	waitFor(t, func() bool { return peer.count() == 2 }, "second request write")
	if id := peer.frame(t, 1)["id"]; id != float64(0) {
		t.Errorf("second request id = %v, want reused 0", id)
	}
}

func TestCore_HandlerMaySendWithoutDeadlock(t *testing.T) {
	peer := &fakePeer{}
	inbound := make(chan json.RawMessage, 16)

	var core *Core
	var wired sync.WaitGroup
	wired.Add(1)
	handler := notifyFunc(func(method string, params json.RawMessage) {
		if method != "ping" {
			return
		}
		wired.Wait()
		if err := core.SendNotification("pong", params); err != nil {
			t.Errorf("SendNotification() from handler error = %v", err)
		}
	})
	core = NewCore(peer, inbound, handler)
	wired.Done()
	defer core.Close()

	inbound <- json.RawMessage(`{"method":"ping","params":{"n":1}}`)
	waitFor(t, func() bool { return peer.count() == 1 }, "handler-initiated write")

	if method := peer.frame(t, 0)["method"]; method != "pong" {
		t.Errorf("frame method = %v, want pong", method)
	}
}

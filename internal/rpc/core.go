package rpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Peer is the write side of the engine transport. Send transmits one framed
// message; framing (delimiters, buffering) belongs to the implementation.
// The core is the only caller of Send.
type Peer interface {
	Send(msg []byte) error
}

// Handler receives engine notifications. It is invoked from the core's
// goroutine, one notification at a time, in arrival order. Implementations
// never need internal synchronization against concurrent notification
// delivery, but must not block for long: dispatch of all further responses
// and notifications waits on each call.
type Handler interface {
	Notification(method string, params json.RawMessage)
}

// Continuation receives a request's outcome. Exactly one of the following
// happens, exactly once, never inline from SendRequest:
//
//   - the engine replied with a result: result holds it, err is nil
//   - the engine replied with an error payload: err is an *Error
//   - the request could not be written: err is the transport error
//   - the core shut down first: err is ErrCoreClosed
type Continuation func(result json.RawMessage, err error)

// Core is the RPC correlation layer. It is the sole writer to the Peer and
// the sole owner of the pending-request table; both are confined to one
// internal goroutine, and any number of goroutines may call the send
// methods concurrently.
//
// Holders of a *Core do not own its lifetime. Close belongs to whoever wired
// the core to the engine process; everyone else treats the handle as living
// for the whole session.
type Core struct {
	peer    Peer
	inbound <-chan json.RawMessage
	handler Handler
	log     *zap.Logger

	mail    *mailbox
	pending arena

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Core) {
		c.log = log
	}
}

// NewCore creates a core wired to the given peer, inbound stream, and
// handler, and starts its dispatch goroutine. The handler is fixed for the
// core's lifetime.
//
// The core runs until Close is called or inbound is closed (engine exit);
// either way every still-pending continuation is failed with ErrCoreClosed
// before Done is signalled.
func NewCore(peer Peer, inbound <-chan json.RawMessage, handler Handler, opts ...Option) *Core {
	c := &Core{
		peer:    peer,
		inbound: inbound,
		handler: handler,
		log:     zap.NewNop(),
		mail:    newMailbox(),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.run()
	return c
}

// SendNotification sends a fire-and-forget message to the engine. No reply
// is expected and no correlation state is created. It returns an error if
// params cannot be marshaled or the core has shut down; a transport write
// failure is logged by the core's goroutine.
func (c *Core) SendNotification(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params for %q: %w", method, err)
	}
	if !c.mail.put(outbound{method: method, params: raw}) {
		return ErrCoreClosed
	}
	return nil
}

// SendRequest sends a request to the engine and registers cont to receive
// the correlated reply. It returns immediately; cont runs later on the
// core's goroutine (see Continuation for the exact contract). If SendRequest
// returns an error the request was never sent and cont will not be invoked.
func (c *Core) SendRequest(method string, params any, cont Continuation) error {
	if cont == nil {
		return fmt.Errorf("request %q: nil continuation", method)
	}
	raw, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params for %q: %w", method, err)
	}
	if !c.mail.put(outbound{method: method, params: raw, cont: cont}) {
		return ErrCoreClosed
	}
	return nil
}

// Close shuts the core down and waits for the dispatch goroutine to finish.
// All pending continuations are failed with ErrCoreClosed. Close is
// idempotent and safe to call concurrently with sends.
func (c *Core) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)
	})
	<-c.done
	return nil
}

// Done is closed once the core has fully shut down and drained its
// pending-request table.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// run is the owning goroutine: sole consumer of the inbound stream, sole
// writer to the peer, sole toucher of the pending arena.
func (c *Core) run() {
	defer close(c.done)
	for {
		select {
		case <-c.closing:
			c.shutdown()
			return
		case msg, ok := <-c.inbound:
			if !ok {
				c.log.Info("engine inbound stream closed")
				c.shutdown()
				return
			}
			c.dispatch(msg)
		case <-c.mail.wake:
			for _, o := range c.mail.drain() {
				c.transmit(o)
			}
		}
	}
}

// transmit performs one queued send. For requests the continuation is
// registered before the write, so a reply can never arrive and find no
// table entry.
func (c *Core) transmit(o outbound) {
	if o.cont == nil {
		frame, err := json.Marshal(notification{Method: o.method, Params: o.params})
		if err != nil {
			c.log.Error("marshal notification", zap.String("method", o.method), zap.Error(err))
			return
		}
		if err := c.peer.Send(frame); err != nil {
			c.log.Error("notification write failed",
				zap.String("method", o.method), zap.Error(err))
		}
		return
	}

	id := c.pending.put(o.cont)
	frame, err := json.Marshal(request{ID: id, Method: o.method, Params: o.params})
	if err != nil {
		// Params are already raw JSON; this cannot happen in practice.
		c.pending.take(id)
		o.cont(nil, fmt.Errorf("marshal request %q: %w", o.method, err))
		return
	}
	if err := c.peer.Send(frame); err != nil {
		c.log.Error("request write failed",
			zap.String("method", o.method), zap.Uint64("id", id), zap.Error(err))
		if cont, ok := c.pending.take(id); ok {
			cont(nil, fmt.Errorf("send request %q: %w", o.method, err))
		}
		return
	}
	c.log.Debug("request sent", zap.String("method", o.method), zap.Uint64("id", id))
}

// dispatch classifies one inbound message and routes it: responses resolve
// their pending continuation, everything else goes to the handler.
func (c *Core) dispatch(msg json.RawMessage) {
	var probe inboundProbe
	if err := json.Unmarshal(msg, &probe); err != nil {
		c.log.Warn("unparseable engine message", zap.Error(err))
		return
	}

	switch {
	case probe.isResponse():
		cont, ok := c.pending.take(*probe.ID)
		if !ok {
			c.log.Warn("response for unknown request id, dropping",
				zap.Uint64("id", *probe.ID))
			return
		}
		if probe.Error != nil {
			cont(nil, errorFromPayload(probe.Error))
			return
		}
		cont(probe.Result, nil)
	case probe.isNotification():
		c.handler.Notification(probe.Method, probe.Params)
	default:
		c.log.Warn("engine message is neither response nor notification, dropping")
	}
}

// shutdown fails everything still in flight: queued-but-unsent requests
// first, then registered pending requests. After this no continuation can
// be registered (the mailbox rejects puts) and none is left unresolved.
func (c *Core) shutdown() {
	for _, o := range c.mail.close() {
		if o.cont != nil {
			o.cont(nil, ErrCoreClosed)
		} else {
			c.log.Debug("dropping unsent notification at shutdown",
				zap.String("method", o.method))
		}
	}
	conts := c.pending.drain()
	if len(conts) > 0 {
		c.log.Info("failing pending requests at shutdown", zap.Int("count", len(conts)))
	}
	for _, cont := range conts {
		cont(nil, ErrCoreClosed)
	}
}

// marshalParams normalizes caller-supplied params to raw JSON. Raw params
// pass through untouched; nil stays absent from the wire message.
func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(params)
	}
}

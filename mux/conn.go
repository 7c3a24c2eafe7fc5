package mux

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/progrium/hydna-go/frame"
	"github.com/rs/xid"
)

// Conn is one transport connection shared by every channel opened to the
// same endpoint. It dials, performs the handshake, sends the open and
// resolve requests of its channels and routes incoming frames to them.
//
// Conn values are created and owned by a Registry.
type Conn struct {
	id       xid.ID
	target   Target
	key      Key
	dialect  frame.Dialect
	opts     *Options
	log      hclog.Logger
	registry *Registry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	rwc        io.ReadWriteCloser
	enc        *frame.Encoder
	connected  bool
	handshaked bool
	closing    bool
	destroying bool
	listening  bool
	err        error
	closeErr   error

	pendingOpen    map[uint32]*OpenRequest
	pendingResolve map[string]*OpenRequest
	openChannels   map[uint32]*Channel
	waiting        []*OpenRequest
	refCount       int

	// outbox holds request frames for writeLoop, which writes them in order
	// without holding mu.
	outbox []frame.Frame
	wake   chan struct{}
	writer sync.WaitGroup
}

func newConn(r *Registry, t Target) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:             xid.New(),
		target:         t,
		key:            t.Key(),
		dialect:        r.opts.dialect(),
		opts:           r.opts,
		registry:       r,
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		wake:           make(chan struct{}, 1),
		listening:      r.opts.listen(),
		pendingOpen:    make(map[uint32]*OpenRequest),
		pendingResolve: make(map[string]*OpenRequest),
		openChannels:   make(map[uint32]*Channel),
	}
	c.log = r.opts.logger().Named("conn").With("conn", c.id.String(), "endpoint", c.key.String())
	return c
}

func (c *Conn) ID() string             { return c.id.String() }
func (c *Conn) Key() Key               { return c.key }
func (c *Conn) Dialect() frame.Dialect { return c.dialect }

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Handshaked reports whether the handshake has completed.
func (c *Conn) Handshaked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handshaked
}

// Connected reports whether the transport has been dialed.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.destroying
}

// RefCount is the number of channels attached to the connection.
func (c *Conn) RefCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refCount
}

// Err returns the error the connection was destroyed with, if any.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until the connection has shut down, and returns the
// error causing the shutdown.
func (c *Conn) Wait() error {
	<-c.done
	return c.Err()
}

// SetListening keeps the connection alive without channels when v is true.
// Clearing it tears down an idle connection.
func (c *Conn) SetListening(v bool) {
	c.mu.Lock()
	c.listening = v
	var after notifier
	if !v && c.refCount == 0 {
		after = c.teardownLocked()
	}
	c.mu.Unlock()
	after.run()
}

// Close shuts the connection down, destroying every channel on it with
// ErrClosed, and waits for its goroutine to exit.
func (c *Conn) Close() error {
	c.destroy(ErrClosed)
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// attach registers a channel with the connection and submits its first
// request in one step. It returns ErrConnDestroyed once the connection has
// begun shutting down; any other error leaves the connection untouched.
func (c *Conn) attach(r *OpenRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroying {
		return ErrConnDestroyed
	}
	var err error
	if r.kind == kindResolve {
		err = c.requestResolveLocked(r)
	} else {
		err = c.requestOpenLocked(r)
	}
	if err != nil {
		return err
	}
	c.refCount++
	c.closing = false
	return nil
}

// deallocChannel detaches ch, dropping any request or routing entry it
// still has. The last detach tears down a connection that is not listening.
func (c *Conn) deallocChannel(ch *Channel) {
	c.mu.Lock()
	var after notifier
	if !c.destroying {
		for id, open := range c.openChannels {
			if open == ch {
				delete(c.openChannels, id)
			}
		}
		c.dropRequestsLocked(ch)
		if err := c.flushLocked(); err != nil {
			c.log.Warn("flushing waiting requests failed", "error", err)
		}
		c.refCount--
		if c.refCount <= 0 && !c.listening {
			c.refCount = 0
			after = c.teardownLocked()
		}
	}
	c.mu.Unlock()
	after.run()
}

func (c *Conn) dropRequestsLocked(ch *Channel) {
	for id, r := range c.pendingOpen {
		if r.channel == ch {
			delete(c.pendingOpen, id)
		}
	}
	for path, r := range c.pendingResolve {
		if r.channel == ch {
			delete(c.pendingResolve, path)
		}
	}
	waiting := c.waiting[:0]
	for _, r := range c.waiting {
		if r.channel != ch {
			waiting = append(waiting, r)
		}
	}
	c.waiting = waiting
}

// teardownLocked closes an idle connection. Before the handshake has
// completed the teardown is deferred to its completion.
func (c *Conn) teardownLocked() notifier {
	if !c.handshaked {
		c.closing = true
		c.log.Debug("deferring teardown until handshake completes")
		return nil
	}
	c.log.Debug("closing idle connection")
	return c.destroyLocked(nil)
}

// requestOpenLocked sends r, or queues it until the handshake completes.
func (c *Conn) requestOpenLocked(r *OpenRequest) error {
	if !c.handshaked {
		c.waiting = append(c.waiting, r)
		return nil
	}
	if _, ok := c.pendingOpen[r.id]; ok {
		return ErrOpenPending
	}
	if _, ok := c.openChannels[r.id]; ok {
		return ErrChannelBusy
	}
	return c.sendLocked(r)
}

// requestResolveLocked sends a request to resolve r's path, or queues it
// until the handshake completes.
func (c *Conn) requestResolveLocked(r *OpenRequest) error {
	if !c.dialect.Resolve {
		return frame.ErrUnsupported
	}
	if !c.handshaked {
		c.waiting = append(c.waiting, r)
		return nil
	}
	if _, ok := c.pendingResolve[r.path]; ok {
		return ErrResolvePending
	}
	return c.sendLocked(r)
}

// CancelOpen withdraws r, including any request that replaced it after a
// redirect or resolve. A request that was never sent is removed silently.
// Cancelling a sent request is best effort: it is forgotten locally and the
// late response is dropped. It reports false if nothing was found.
func (c *Conn) CancelOpen(r *OpenRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.waiting {
		if w.same(r) {
			c.waiting = append(c.waiting[:i], c.waiting[i+1:]...)
			return true
		}
	}
	var found *OpenRequest
	for id, p := range c.pendingOpen {
		if p.same(r) {
			delete(c.pendingOpen, id)
			found = p
		}
	}
	for path, p := range c.pendingResolve {
		if p.same(r) {
			delete(c.pendingResolve, path)
			found = p
		}
	}
	if found == nil {
		return false
	}
	if found.Sent() {
		c.log.Debug("cancelled request after send, response will be dropped", "request", found)
	}
	if err := c.flushLocked(); err != nil {
		c.log.Warn("flushing waiting requests failed", "error", err)
	}
	return true
}

// Write sends a frame on an established connection.
func (c *Conn) Write(f frame.Frame) error {
	c.mu.Lock()
	enc := c.enc
	switch {
	case c.destroying:
		c.mu.Unlock()
		return ErrConnDestroyed
	case !c.handshaked:
		c.mu.Unlock()
		return ErrNotHandshaked
	}
	c.mu.Unlock()

	if err := enc.Encode(f); err != nil {
		if errors.Is(err, frame.ErrPayloadTooLarge) || errors.Is(err, frame.ErrUnsupported) {
			return err
		}
		err = &TransportError{Err: err}
		c.destroy(err)
		return err
	}
	metrics.IncrCounter([]string{"hydna", "frames", "sent"}, 1)
	return nil
}

// sendLocked queues r's frame for writeLoop and records r as pending. A
// frame the dialect cannot encode is rejected before anything is recorded.
func (c *Conn) sendLocked(r *OpenRequest) error {
	if _, err := c.dialect.Encode(r.frame); err != nil {
		return err
	}
	c.outbox = append(c.outbox, r.frame)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	r.sent.Store(true)
	if r.kind == kindResolve {
		c.pendingResolve[r.path] = r
	} else {
		c.pendingOpen[r.id] = r
	}
	c.log.Trace("sent request", "request", r)
	return nil
}

// writeLoop writes queued request frames in order until the connection shuts
// down. A write error destroys the connection.
func (c *Conn) writeLoop(enc *frame.Encoder) {
	defer c.writer.Done()
	for {
		select {
		case <-c.wake:
		case <-c.ctx.Done():
			return
		}
		c.mu.Lock()
		out := c.outbox
		c.outbox = nil
		c.mu.Unlock()
		for _, f := range out {
			if err := enc.Encode(f); err != nil {
				c.destroy(&TransportError{Err: err})
				return
			}
			metrics.IncrCounter([]string{"hydna", "frames", "sent"}, 1)
		}
	}
}

func (c *Conn) busyLocked(r *OpenRequest) bool {
	if r.kind == kindResolve {
		_, ok := c.pendingResolve[r.path]
		return ok
	}
	if _, ok := c.pendingOpen[r.id]; ok {
		return true
	}
	_, ok := c.openChannels[r.id]
	return ok
}

// flushLocked sends every waiting request whose id or path is free, in the
// order they were queued.
func (c *Conn) flushLocked() error {
	if !c.handshaked || c.destroying {
		return nil
	}
	waiting := c.waiting
	c.waiting = nil
	for i, r := range waiting {
		if c.busyLocked(r) {
			c.waiting = append(c.waiting, r)
			continue
		}
		if err := c.sendLocked(r); err != nil {
			c.waiting = append(c.waiting, waiting[i:]...)
			return err
		}
	}
	return nil
}

// submitLocked sends r now, or queues it behind the request holding its id.
func (c *Conn) submitLocked(r *OpenRequest) error {
	if c.busyLocked(r) {
		c.waiting = append(c.waiting, r)
		return nil
	}
	if err := c.sendLocked(r); err != nil {
		c.waiting = append(c.waiting, r)
		return err
	}
	return nil
}

func (c *Conn) destroy(err error) {
	c.mu.Lock()
	after := c.destroyLocked(err)
	c.mu.Unlock()
	after.run()
}

// destroyLocked shuts the connection down once. Every request and channel
// still attached is collected under the lock and destroyed with err after
// the caller releases it.
func (c *Conn) destroyLocked(err error) notifier {
	if c.destroying {
		return nil
	}
	c.destroying = true
	c.err = err
	c.cancel()
	if c.rwc != nil {
		c.closeErr = c.rwc.Close()
	}

	cause := err
	if cause == nil {
		cause = ErrConnDestroyed
	}
	var after notifier
	seen := make(map[*Channel]bool)
	fail := func(ch *Channel) {
		if ch == nil || seen[ch] {
			return
		}
		seen[ch] = true
		after.add(func() { ch.destroy(cause) })
	}
	for _, r := range c.waiting {
		fail(r.channel)
	}
	for _, r := range c.pendingOpen {
		fail(r.channel)
	}
	for _, r := range c.pendingResolve {
		fail(r.channel)
	}
	for _, ch := range c.openChannels {
		fail(ch)
	}
	c.waiting = nil
	c.outbox = nil
	c.pendingOpen = make(map[uint32]*OpenRequest)
	c.pendingResolve = make(map[string]*OpenRequest)
	c.openChannels = make(map[uint32]*Channel)

	if err != nil && err != ErrClosed {
		c.log.Error("connection destroyed", "error", err, "channels", len(seen))
	} else {
		c.log.Debug("connection closed")
	}
	metrics.IncrCounter([]string{"hydna", "conn", "destroyed"}, 1)

	// registry removal first so a new channel dials a fresh connection
	return append(notifier{func() { c.registry.remove(c) }}, after...)
}

func (c *Conn) run() {
	defer close(c.done)
	defer c.writer.Wait()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.dialTimeout())
	rwc, err := c.opts.dialer()(ctx, c.target.Scheme, c.target.Addr())
	cancel()
	if err != nil {
		c.destroy(&TransportError{Err: err})
		return
	}

	c.mu.Lock()
	if c.destroying {
		c.mu.Unlock()
		rwc.Close()
		return
	}
	c.rwc = rwc
	c.enc = frame.NewEncoder(rwc, c.dialect)
	c.connected = true
	c.writer.Add(1)
	go c.writeLoop(c.enc)
	c.mu.Unlock()
	c.log.Debug("connected", "dialect", c.dialect)

	if err := c.handshake(rwc); err != nil {
		c.destroy(err)
		return
	}
	if !c.ready() {
		return
	}

	dec := frame.NewDecoder(rwc, c.dialect)
	for {
		f, err := dec.Decode()
		if err != nil {
			if errors.Is(err, frame.ErrMalformed) {
				err = &ProtocolError{Err: err}
			} else {
				err = &TransportError{Err: err}
			}
			c.destroy(err)
			return
		}
		c.dispatch(f)
	}
}

var afterFunc = time.AfterFunc

func (c *Conn) handshake(rwc io.ReadWriteCloser) error {
	b, err := frame.EncodeHandshake(c.dialect, c.target.Host, c.target.Auth)
	if err != nil {
		return err
	}
	if _, err := rwc.Write(b); err != nil {
		return &TransportError{Err: err}
	}

	var timedOut atomic.Bool
	t := afterFunc(c.opts.handshakeTimeout(), func() {
		timedOut.Store(true)
		rwc.Close()
	})
	defer t.Stop()

	var resp [frame.HandshakeResponseSize]byte
	if _, err := io.ReadFull(rwc, resp[:]); err != nil {
		if timedOut.Load() {
			return ErrHandshakeTimeout
		}
		return &TransportError{Err: err}
	}
	if !t.Stop() {
		// the timer fired after the response arrived and closed rwc
		return ErrHandshakeTimeout
	}
	version, status, err := frame.DecodeHandshakeResponse(resp[:])
	if err != nil {
		return &ProtocolError{Err: err}
	}
	if status != frame.HandshakeOK {
		return &HandshakeError{Status: status}
	}
	if version != c.dialect.Version {
		return &HandshakeError{Status: frame.HandshakeProtocol}
	}
	return nil
}

// ready marks the handshake complete and sends the queued requests. It
// reports false if the connection was torn down instead.
func (c *Conn) ready() bool {
	c.mu.Lock()
	if c.destroying {
		c.mu.Unlock()
		return false
	}
	c.handshaked = true
	c.log.Debug("handshake complete", "queued", len(c.waiting))
	var after notifier
	if c.closing && c.refCount == 0 && !c.listening {
		after = c.destroyLocked(nil)
	} else if err := c.flushLocked(); err != nil {
		after = c.destroyLocked(err)
	}
	destroyed := c.destroying
	c.mu.Unlock()
	after.run()
	return !destroyed
}

func (c *Conn) dispatch(f frame.Frame) {
	metrics.IncrCounter([]string{"hydna", "frames", "received"}, 1)

	var after notifier
	var err error
	c.mu.Lock()
	switch f.Op {
	case frame.OpNoop:
	case frame.OpOpen:
		err = c.handleOpenLocked(f, &after)
	case frame.OpData:
		c.handleDataLocked(f, &after)
	case frame.OpSignal:
		err = c.handleSignalLocked(f, &after)
	case frame.OpResolve:
		err = c.handleResolveLocked(f, &after)
	default:
		err = protocolErrorf("unexpected opcode %s", f.Op)
	}
	if err != nil {
		after = append(after, c.destroyLocked(err)...)
	}
	c.mu.Unlock()
	after.run()
}

func (c *Conn) drop(f frame.Frame, reason string) {
	metrics.IncrCounter([]string{"hydna", "frames", "dropped"}, 1)
	c.log.Debug("dropping frame", "frame", f, "reason", reason)
}

func (c *Conn) handleOpenLocked(f frame.Frame, after *notifier) error {
	r, ok := c.pendingOpen[f.Channel]
	if !ok {
		c.drop(f, "no pending open")
		return nil
	}
	switch f.Flag {
	case frame.FlagAllow, frame.FlagDeny:
	case frame.FlagRedirect:
		if len(f.Payload) != 4 {
			return protocolErrorf("redirect payload of %d bytes", len(f.Payload))
		}
	default:
		return protocolErrorf("unknown open response flag %d", f.Flag)
	}
	delete(c.pendingOpen, f.Channel)

	switch f.Flag {
	case frame.FlagAllow:
		ch := r.channel
		c.openChannels[f.Channel] = ch
		msg := string(f.Payload)
		c.log.Debug("channel opened", "channel", f.Channel)
		after.add(func() { ch.openSuccess(f.Channel, msg) })

	case frame.FlagRedirect:
		to := binary.BigEndian.Uint32(f.Payload)
		switch {
		case !c.opts.followRedirects():
			c.fail(r, &OpenDeniedError{Channel: f.Channel, Path: r.path, Reason: "redirected"}, after)
		case r.redirects >= c.opts.maxRedirects():
			c.fail(r, &RedirectExceededError{Channel: r.origin.id, Attempts: r.redirects}, after)
		default:
			c.log.Debug("open redirected", "channel", f.Channel, "to", to)
			if err := c.submitLocked(r.redirect(to)); err != nil {
				return err
			}
		}

	case frame.FlagDeny:
		c.fail(r, &OpenDeniedError{Channel: f.Channel, Path: r.path, Reason: string(f.Payload)}, after)
	}
	return c.flushLocked()
}

func (c *Conn) handleResolveLocked(f frame.Frame, after *notifier) error {
	path := string(f.Payload)
	r, ok := c.pendingResolve[path]
	if !ok {
		c.drop(f, "no pending resolve")
		return nil
	}
	delete(c.pendingResolve, path)

	switch f.Flag {
	case frame.FlagAllow:
		c.log.Debug("path resolved", "path", path, "channel", f.Channel)
		open, err := r.resolved(f.Channel)
		if err != nil {
			c.fail(r, err, after)
			break
		}
		if err := c.submitLocked(open); err != nil {
			return err
		}

	case frame.FlagRedirect:
		if r.redirects >= c.opts.maxRedirects() {
			c.fail(r, &RedirectExceededError{Channel: frame.ResolveChannel, Attempts: r.redirects}, after)
			break
		}
		if err := c.submitLocked(r.redirect(frame.ResolveChannel)); err != nil {
			return err
		}

	case frame.FlagDeny:
		c.fail(r, &OpenDeniedError{Channel: f.Channel, Path: path, Reason: "resolve denied"}, after)

	default:
		return protocolErrorf("unknown resolve response flag %d", f.Flag)
	}
	return c.flushLocked()
}

func (c *Conn) handleDataLocked(f frame.Frame, after *notifier) {
	ch, ok := c.openChannels[f.Channel]
	if !ok {
		c.drop(f, "channel not open")
		return
	}
	d := Data{Priority: int(f.Flag), ContentType: f.ContentType, Content: f.Payload}
	after.add(func() { ch.deliverData(d) })
}

func (c *Conn) handleSignalLocked(f frame.Frame, after *notifier) error {
	ch, ok := c.openChannels[f.Channel]
	if !ok {
		c.drop(f, "channel not open")
		return nil
	}
	switch f.Flag {
	case frame.FlagEmit:
		s := Signal{ContentType: f.ContentType, Content: f.Payload}
		after.add(func() { ch.deliverSignal(s) })
	case frame.FlagEnd:
		delete(c.openChannels, f.Channel)
		c.log.Debug("channel ended", "channel", f.Channel)
		after.add(func() { ch.destroy(nil) })
	case frame.FlagError:
		delete(c.openChannels, f.Channel)
		err := &SignalError{Channel: f.Channel, Reason: string(f.Payload)}
		c.log.Debug("channel ended with error", "channel", f.Channel, "reason", err.Reason)
		after.add(func() { ch.destroy(err) })
	default:
		return protocolErrorf("unknown signal flag %d", f.Flag)
	}
	return c.flushLocked()
}

func (c *Conn) fail(r *OpenRequest, err error, after *notifier) {
	c.log.Debug("request failed", "request", r, "error", err)
	ch := r.channel
	after.add(func() { ch.destroy(err) })
}

// notifier collects channel notifications made while the connection lock is
// held, to be run once it is released.
type notifier []func()

func (n *notifier) add(f func()) { *n = append(*n, f) }

func (n notifier) run() {
	for _, f := range n {
		f()
	}
}

package mux

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/progrium/hydna-go/frame"
)

// State is the lifecycle state of a Channel.
type State int

const (
	StatePending State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Channel is a logical bidirectional stream multiplexed over a shared
// connection. A Channel is connected once; after it is destroyed it can no
// longer be used.
type Channel struct {
	registry *Registry
	handler  Handler

	mu         sync.Mutex
	state      State
	mode       Mode
	id         uint32
	path       string
	message    string
	err        error
	conn       *Conn
	req        *OpenRequest
	readable   bool
	writable   bool
	emitable   bool
	closeTimer *time.Timer
	opened     chan struct{}
	done       chan struct{}

	dataMu    sync.Mutex
	data      []Data
	dataReady chan struct{}

	sigMu    sync.Mutex
	signals  []Signal
	sigReady chan struct{}
}

// NewChannel returns an unconnected channel using r for its connections.
// h, if not nil, is called from the connection's read goroutine and must
// not block.
func NewChannel(r *Registry, h Handler) *Channel {
	return &Channel{
		registry:  r,
		handler:   h,
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
		dataReady: make(chan struct{}, 1),
		sigReady:  make(chan struct{}, 1),
	}
}

// Connect begins opening the channel addressed by expr with mode. token, if
// not empty, replaces any token in the expression. Connect returns once the
// request is queued; use Wait or the handler to learn the outcome.
func (c *Channel) Connect(expr string, mode Mode, token string) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	t, err := ParseExpr(expr)
	if err != nil {
		return err
	}
	if token == "" {
		token = t.Token
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDestroyed:
		return ErrDestroyed
	case StatePending:
	default:
		return ErrAlreadyConnected
	}

	var req *OpenRequest
	if id, ok := t.Channel(); ok {
		req, err = newOpenRequest(c, id, mode, t.Path, token)
	} else if c.registry.opts.dialect().Resolve {
		req, err = newResolveRequest(c, mode, t.Path, token)
	} else {
		err = fmt.Errorf("%w: path %q is not numeric and %s cannot resolve paths",
			ErrBadExpr, t.Path, c.registry.opts.dialect())
	}
	if err != nil {
		return err
	}

	conn, err := c.registry.acquire(t, req)
	if err != nil {
		return err
	}
	c.conn = conn
	c.req = req
	c.mode = mode
	c.path = t.Path
	c.state = StateConnecting
	return nil
}

// Wait blocks until the channel is open or destroyed. It returns the
// error that destroyed the channel, or ErrDestroyed if it was closed
// cleanly before opening.
func (c *Channel) Wait(ctx context.Context) error {
	select {
	case <-c.opened:
		return nil
	case <-c.done:
		select {
		case <-c.opened:
			return nil
		default:
		}
		if err := c.Err(); err != nil {
			return err
		}
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the channel is destroyed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// WriteBytes sends data with the given priority, 0 being the highest.
func (c *Channel) WriteBytes(data []byte, priority int, ctype frame.ContentType) error {
	if priority < 0 || priority > 7 {
		return ErrInvalidPriority
	}
	conn, id, err := c.ready(func() error {
		if !c.writable {
			return ErrNotWritable
		}
		return nil
	})
	if err != nil {
		return err
	}
	f, err := frame.New(id, frame.OpData, uint8(priority), ctype, data)
	if err != nil {
		return err
	}
	return conn.Write(f)
}

// WriteString sends s as UTF-8 data.
func (c *Channel) WriteString(s string, priority int) error {
	return c.WriteBytes([]byte(s), priority, frame.UTF8)
}

// EmitBytes sends an out of band signal.
func (c *Channel) EmitBytes(data []byte, ctype frame.ContentType) error {
	conn, id, err := c.ready(func() error {
		if !c.emitable {
			return ErrNotEmitable
		}
		return nil
	})
	if err != nil {
		return err
	}
	f, err := frame.New(id, frame.OpSignal, frame.FlagEmit, ctype, data)
	if err != nil {
		return err
	}
	return conn.Write(f)
}

// EmitString sends s as a UTF-8 signal.
func (c *Channel) EmitString(s string) error {
	return c.EmitBytes([]byte(s), frame.UTF8)
}

func (c *Channel) ready(check func() error) (*Conn, uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDestroyed:
		return nil, 0, ErrDestroyed
	case StateOpen:
	default:
		return nil, 0, ErrNotOpen
	}
	if err := check(); err != nil {
		return nil, 0, err
	}
	return c.conn, c.id, nil
}

// Close ends the channel. A channel still connecting is withdrawn and
// destroyed at once; an open channel sends END and is destroyed when the
// server acknowledges or the close timeout expires.
func (c *Channel) Close() error {
	c.mu.Lock()
	switch c.state {
	case StateDestroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case StatePending:
		c.mu.Unlock()
		return ErrNotOpen
	case StateClosing:
		c.mu.Unlock()
		return nil

	case StateConnecting:
		cancelled := c.conn.CancelOpen(c.req)
		c.mu.Unlock()
		if cancelled {
			c.destroy(nil)
			return nil
		}
		// the response is already being delivered
		select {
		case <-c.opened:
			return c.Close()
		case <-c.done:
			return nil
		}
	}

	c.state = StateClosing
	c.readable, c.writable, c.emitable = false, false, false
	conn, id := c.conn, c.id
	if timeout := c.registry.opts.closeTimeout(); timeout > 0 {
		c.closeTimer = time.AfterFunc(timeout, func() { c.destroy(ErrCloseTimeout) })
	}
	c.mu.Unlock()

	f, _ := frame.New(id, frame.OpSignal, frame.FlagEnd, frame.UTF8, nil)
	if err := conn.Write(f); err != nil {
		c.destroy(err)
		return err
	}
	return nil
}

// openSuccess moves a connecting channel to open.
func (c *Channel) openSuccess(id uint32, message string) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.id = id
	c.message = message
	c.req = nil
	c.readable = c.mode&ModeRead != 0
	c.writable = c.mode&ModeWrite != 0
	c.emitable = c.mode&ModeEmit != 0
	close(c.opened)
	c.mu.Unlock()

	if c.handler != nil {
		c.handler.OnOpen(c, message)
	}
}

// destroy finalizes the channel with err, nil meaning a clean close. It is
// safe to call more than once.
func (c *Channel) destroy(err error) {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateDestroyed
	c.err = err
	c.readable, c.writable, c.emitable = false, false, false
	c.req = nil
	conn := c.conn
	if c.closeTimer != nil {
		c.closeTimer.Stop()
	}
	c.mu.Unlock()

	c.dataMu.Lock()
	c.data = nil
	c.dataMu.Unlock()
	c.sigMu.Lock()
	c.signals = nil
	c.sigMu.Unlock()
	close(c.done)

	if conn != nil {
		conn.deallocChannel(c)
	}
	if c.handler != nil {
		c.handler.OnClose(c, err)
	}
}

func (c *Channel) deliverData(d Data) {
	if c.State() == StateDestroyed {
		return
	}
	c.AddData(d)
	if c.handler != nil {
		c.handler.OnData(c, d)
	}
}

func (c *Channel) deliverSignal(s Signal) {
	if c.State() == StateDestroyed {
		return
	}
	c.AddSignal(s)
	if c.handler != nil {
		c.handler.OnSignal(c, s)
	}
}

// AddData appends d to the data queue.
func (c *Channel) AddData(d Data) {
	c.dataMu.Lock()
	c.data = append(c.data, d)
	c.dataMu.Unlock()
	select {
	case c.dataReady <- struct{}{}:
	default:
	}
}

// PopData removes the oldest queued data.
func (c *Channel) PopData() (Data, bool) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	if len(c.data) == 0 {
		return Data{}, false
	}
	d := c.data[0]
	c.data[0] = Data{}
	c.data = c.data[1:]
	return d, true
}

func (c *Channel) IsDataEmpty() bool {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	return len(c.data) == 0
}

// AddSignal appends s to the signal queue.
func (c *Channel) AddSignal(s Signal) {
	c.sigMu.Lock()
	c.signals = append(c.signals, s)
	c.sigMu.Unlock()
	select {
	case c.sigReady <- struct{}{}:
	default:
	}
}

// PopSignal removes the oldest queued signal.
func (c *Channel) PopSignal() (Signal, bool) {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	if len(c.signals) == 0 {
		return Signal{}, false
	}
	s := c.signals[0]
	c.signals[0] = Signal{}
	c.signals = c.signals[1:]
	return s, true
}

func (c *Channel) IsSignalEmpty() bool {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()
	return len(c.signals) == 0
}

// ReadData blocks until data is queued. Once the channel is destroyed it
// returns the destroy error, or io.EOF after a clean close.
func (c *Channel) ReadData(ctx context.Context) (Data, error) {
	for {
		if d, ok := c.PopData(); ok {
			return d, nil
		}
		select {
		case <-c.dataReady:
		case <-c.done:
			return Data{}, c.closedErr()
		case <-ctx.Done():
			return Data{}, ctx.Err()
		}
	}
}

// ReadSignal is ReadData for signals.
func (c *Channel) ReadSignal(ctx context.Context) (Signal, error) {
	for {
		if s, ok := c.PopSignal(); ok {
			return s, nil
		}
		select {
		case <-c.sigReady:
		case <-c.done:
			return Signal{}, c.closedErr()
		case <-ctx.Done():
			return Signal{}, ctx.Err()
		}
	}
}

func (c *Channel) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID is the channel id assigned by the server, zero until open.
func (c *Channel) ID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Path is the path the channel was connected with.
func (c *Channel) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Mode is the mode the channel was connected with.
func (c *Channel) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Message is the welcome message the server sent with its open response.
func (c *Channel) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Err is the error the channel was destroyed with. It is nil while the
// channel is alive and after a clean close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Conn is the connection the channel is attached to, nil before Connect.
func (c *Channel) Conn() *Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) request() *OpenRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

func (c *Channel) IsConnected() bool { return c.State() == StateOpen }
func (c *Channel) IsClosing() bool   { return c.State() == StateClosing }

func (c *Channel) IsReadable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readable
}

func (c *Channel) IsWritable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writable
}

func (c *Channel) IsEmitable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitable
}

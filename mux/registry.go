package mux

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// Registry shares one connection between every channel opened to the same
// endpoint with the same credentials. Connections are created on first use
// and removed once they are destroyed.
type Registry struct {
	opts *Options
	log  hclog.Logger

	mu     sync.Mutex
	conns  map[Key]*Conn
	closed bool
}

// NewRegistry returns an empty registry. A nil opts uses defaults.
func NewRegistry(opts *Options) *Registry {
	return &Registry{
		opts:  opts,
		log:   opts.logger(),
		conns: make(map[Key]*Conn),
	}
}

// Channel returns a new unconnected channel using the registry.
func (r *Registry) Channel(h Handler) *Channel {
	return NewChannel(r, h)
}

// acquire attaches req's channel to the connection for t and submits req,
// dialing a new connection if none exists or the existing one is shutting
// down.
func (r *Registry) acquire(t Target, req *OpenRequest) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	key := t.Key()
	if c, ok := r.conns[key]; ok {
		err := c.attach(req)
		if err != ErrConnDestroyed {
			return c, err
		}
	}
	c := newConn(r, t)
	if err := c.attach(req); err != nil {
		return nil, err
	}
	r.conns[key] = c
	r.log.Debug("new connection", "conn", c.ID(), "endpoint", key.String())
	go c.run()
	return c, nil
}

// remove forgets c if it is still the registered connection for its key.
func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.key] == c {
		delete(r.conns, c.key)
	}
}

// Lookup returns the live connection for key.
func (r *Registry) Lookup(key Key) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[key]
	return c, ok
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close shuts down every connection, destroying their channels with
// ErrClosed. The registry can not be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[Key]*Conn)
	r.mu.Unlock()

	var result *multierror.Error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

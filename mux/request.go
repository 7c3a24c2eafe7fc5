package mux

import (
	"fmt"
	"sync/atomic"

	"github.com/progrium/hydna-go/frame"
)

type requestKind int

const (
	kindOpen requestKind = iota
	kindResolve
)

// OpenRequest is an outstanding request by a channel to open a channel id,
// or to resolve a path into one. A request that is redirected or resolved is
// replaced by a new request pointing back at the one the channel made.
type OpenRequest struct {
	kind    requestKind
	channel *Channel
	id      uint32
	mode    Mode
	path    string
	token   string
	frame   frame.Frame

	sent      atomic.Bool
	redirects int
	origin    *OpenRequest
}

func newOpenRequest(c *Channel, id uint32, mode Mode, path, token string) (*OpenRequest, error) {
	f, err := frame.New(id, frame.OpOpen, uint8(mode), frame.UTF8, []byte(token))
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	r := &OpenRequest{
		kind:    kindOpen,
		channel: c,
		id:      id,
		mode:    mode,
		path:    path,
		token:   token,
		frame:   f,
	}
	r.origin = r
	return r, nil
}

func newResolveRequest(c *Channel, mode Mode, path, token string) (*OpenRequest, error) {
	f, err := frame.New(frame.ResolveChannel, frame.OpResolve, 0, frame.UTF8, []byte(path))
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	r := &OpenRequest{
		kind:    kindResolve,
		channel: c,
		id:      frame.ResolveChannel,
		mode:    mode,
		path:    path,
		token:   token,
		frame:   f,
	}
	r.origin = r
	return r, nil
}

// Sent reports whether the request has been handed to the connection's
// writer. Requests queued until the handshake or behind a busy id are not.
func (r *OpenRequest) Sent() bool { return r.sent.Load() }

// redirect returns the request that replaces r after the server redirected
// it to id. Resolve requests keep their id and are simply re-sent.
func (r *OpenRequest) redirect(id uint32) *OpenRequest {
	next := &OpenRequest{
		kind:      r.kind,
		channel:   r.channel,
		id:        r.id,
		mode:      r.mode,
		path:      r.path,
		token:     r.token,
		frame:     r.frame,
		redirects: r.redirects + 1,
		origin:    r.origin,
	}
	if r.kind == kindOpen {
		next.id = id
		next.frame = r.frame.WithChannel(id)
	}
	return next
}

// resolved returns the open request for the channel id a path resolved to.
func (r *OpenRequest) resolved(id uint32) (*OpenRequest, error) {
	next, err := newOpenRequest(r.channel, id, r.mode, r.path, r.token)
	if err != nil {
		return nil, err
	}
	next.origin = r.origin
	return next, nil
}

// same reports whether r and o stand for the same channel request.
func (r *OpenRequest) same(o *OpenRequest) bool {
	return r.origin == o.origin
}

func (r *OpenRequest) String() string {
	if r.kind == kindResolve {
		return fmt.Sprintf("resolve %q", r.path)
	}
	return fmt.Sprintf("open %d (%s)", r.id, r.mode)
}

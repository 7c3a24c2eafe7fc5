package mux

import (
	"context"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/transport"
)

// MaxRedirectAttempts is the default bound on redirects followed per open.
const MaxRedirectAttempts = 5

const (
	defaultDialTimeout      = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultCloseTimeout     = 30 * time.Second
)

// A Dialer opens the byte stream a connection runs over.
type Dialer func(ctx context.Context, scheme, addr string) (io.ReadWriteCloser, error)

// Options control the behaviour of connections created by a Registry.
// A nil *Options provides sensible defaults.
type Options struct {
	// If not nil, connection and channel events are logged here.
	Logger hclog.Logger

	// Dialer opens connections. By default transport.Dial is used.
	Dialer Dialer

	// Protocol selects the wire format by handshake version. Zero or an
	// unknown version selects frame.Default.
	Protocol byte

	// MaxRedirects bounds the redirects followed for one open. A value
	// less than 1 uses MaxRedirectAttempts.
	MaxRedirects int

	// NoFollowRedirects treats a redirect response as a denial.
	NoFollowRedirects bool

	DialTimeout      time.Duration
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long a closing channel waits for the server
	// to acknowledge. A negative value waits forever.
	CloseTimeout time.Duration

	// Listen keeps connections alive after their last channel is gone.
	Listen bool
}

func (o *Options) logger() hclog.Logger {
	if o == nil || o.Logger == nil {
		return hclog.NewNullLogger()
	}
	return o.Logger
}

func (o *Options) dialer() Dialer {
	if o == nil || o.Dialer == nil {
		return transport.Dial
	}
	return o.Dialer
}

func (o *Options) dialect() frame.Dialect {
	if o == nil {
		return frame.Default
	}
	if d, ok := frame.Lookup(o.Protocol); ok {
		return d
	}
	return frame.Default
}

func (o *Options) maxRedirects() int {
	if o == nil || o.MaxRedirects < 1 {
		return MaxRedirectAttempts
	}
	return o.MaxRedirects
}

func (o *Options) followRedirects() bool { return o == nil || !o.NoFollowRedirects }

func (o *Options) listen() bool { return o != nil && o.Listen }

func (o *Options) dialTimeout() time.Duration {
	if o == nil || o.DialTimeout <= 0 {
		return defaultDialTimeout
	}
	return o.DialTimeout
}

func (o *Options) handshakeTimeout() time.Duration {
	if o == nil || o.HandshakeTimeout <= 0 {
		return defaultHandshakeTimeout
	}
	return o.HandshakeTimeout
}

func (o *Options) closeTimeout() time.Duration {
	switch {
	case o == nil || o.CloseTimeout == 0:
		return defaultCloseTimeout
	case o.CloseTimeout < 0:
		return 0
	}
	return o.CloseTimeout
}

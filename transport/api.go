// Package transport opens the byte streams hydna connections run over.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
)

// A Dialer connects to addr and returns the byte stream. config is used by
// secure transports and may be nil.
type Dialer func(ctx context.Context, addr string, config *tls.Config) (io.ReadWriteCloser, error)

// Dialers is map of channel expression schemes to Dialers
// and includes all builtin transports
var Dialers map[string]Dialer

func init() {
	Dialers = map[string]Dialer{
		"tcp":    DialTCP,
		"hydna":  DialTCP,
		"unix":   DialUnix,
		"tls":    DialTLS,
		"hydnas": DialTLS,
		"ws":     DialWS,
		"wss":    DialWSS,
		"quic":   DialQUIC,
		"stdio": func(context.Context, string, *tls.Config) (io.ReadWriteCloser, error) {
			return DialStdio()
		},
	}
}

// Dial connects to addr using the transport registered for scheme.
func Dial(ctx context.Context, scheme, addr string) (io.ReadWriteCloser, error) {
	return DialWithTLS(nil)(ctx, scheme, addr)
}

// DialWithTLS returns a dial function that uses config for secure
// transports.
func DialWithTLS(config *tls.Config) func(ctx context.Context, scheme, addr string) (io.ReadWriteCloser, error) {
	return func(ctx context.Context, scheme, addr string) (io.ReadWriteCloser, error) {
		d, ok := Dialers[scheme]
		if !ok {
			return nil, fmt.Errorf("transport '%s' not available in Dialers", scheme)
		}
		return d(ctx, addr, config)
	}
}

// A Listener is similar to a net.Listener but returns the accepted
// byte streams of any transport.
type Listener interface {
	// Close closes the listener.
	// Any blocked Accept operations will be unblocked and return errors.
	Close() error

	// Accept waits for and returns the next incoming stream.
	Accept() (io.ReadWriteCloser, error)

	// Addr returns the listener's network address if available.
	Addr() net.Addr
}

// Listen listens on addr with the transport named by scheme. config is
// required by secure transports.
func Listen(scheme, addr string, config *tls.Config) (Listener, error) {
	switch scheme {
	case "tcp", "hydna":
		return ListenTCP(addr)
	case "unix":
		return ListenUnix(addr)
	case "tls", "hydnas":
		return ListenTLS(addr, config)
	case "ws":
		return ListenWS(addr, nil)
	case "wss":
		return ListenWS(addr, config)
	case "quic":
		return ListenQUIC(addr, config)
	}
	return nil, fmt.Errorf("transport '%s' can not listen", scheme)
}

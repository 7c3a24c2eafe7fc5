package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
)

func dialNet(ctx context.Context, proto, addr string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, proto, addr)
}

// DialTCP establishes a plain TCP connection.
func DialTCP(ctx context.Context, addr string, _ *tls.Config) (io.ReadWriteCloser, error) {
	return dialNet(ctx, "tcp", addr)
}

// DialUnix establishes a connection via Unix domain socket.
func DialUnix(ctx context.Context, path string, _ *tls.Config) (io.ReadWriteCloser, error) {
	return dialNet(ctx, "unix", path)
}

// DialTLS establishes a TLS connection. A nil config verifies the server
// against the host in addr.
func DialTLS(ctx context.Context, addr string, config *tls.Config) (io.ReadWriteCloser, error) {
	d := tls.Dialer{Config: clientConfig(addr, config, "")}
	return d.DialContext(ctx, "tcp", addr)
}

// clientConfig fills in the server name and protocol a client config needs.
func clientConfig(addr string, config *tls.Config, proto string) *tls.Config {
	if config == nil {
		config = &tls.Config{}
	} else {
		config = config.Clone()
	}
	if config.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			config.ServerName = host
		}
	}
	if proto != "" && len(config.NextProtos) == 0 {
		config.NextProtos = []string{proto}
	}
	return config
}

// netListener wraps a net.Listener to return its connections as streams.
type netListener struct {
	net.Listener
}

func (l *netListener) Accept() (io.ReadWriteCloser, error) {
	return l.Listener.Accept()
}

// ListenTCP creates a TCP listener at the given address.
func ListenTCP(addr string) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &netListener{l}, nil
}

// ListenUnix creates a Unix domain socket listener at the given path.
func ListenUnix(path string) (Listener, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &netListener{l}, nil
}

// ListenTLS creates a TLS listener at the given address.
func ListenTLS(addr string, config *tls.Config) (Listener, error) {
	if config == nil {
		return nil, errors.New("transport: tls requires a TLS config")
	}
	l, err := tls.Listen("tcp", addr, config)
	if err != nil {
		return nil, err
	}
	return &netListener{l}, nil
}

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"

	"github.com/quic-go/quic-go"
)

// QUICProto is the ALPN protocol negotiated by QUIC streams.
const QUICProto = "hydna-quic"

// quicStream is a single bidirectional stream owning its connection.
type quicStream struct {
	quic.Stream
	conn quic.Connection
}

func (s *quicStream) Close() error {
	s.Stream.Close()
	return s.conn.CloseWithError(0, "close connection")
}

// DialQUIC opens a QUIC connection and carries the stream over its first
// bidirectional stream.
func DialQUIC(ctx context.Context, addr string, config *tls.Config) (io.ReadWriteCloser, error) {
	conn, err := quic.DialAddr(ctx, addr, clientConfig(addr, config, QUICProto), nil)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "open stream")
		return nil, err
	}
	return &quicStream{Stream: stream, conn: conn}, nil
}

type quicListener struct {
	l      *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
}

// Accept waits for a connection and returns its first stream. The stream
// becomes visible once the client writes to it.
func (l *quicListener) Accept() (io.ReadWriteCloser, error) {
	conn, err := l.l.Accept(l.ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(l.ctx)
	if err != nil {
		conn.CloseWithError(0, "accept stream")
		return nil, err
	}
	return &quicStream{Stream: stream, conn: conn}, nil
}

func (l *quicListener) Close() error {
	l.cancel()
	return l.l.Close()
}

func (l *quicListener) Addr() net.Addr { return l.l.Addr() }

// ListenQUIC creates a QUIC listener at the given UDP address.
func ListenQUIC(addr string, config *tls.Config) (Listener, error) {
	if config == nil {
		return nil, errors.New("transport: quic requires a TLS config")
	}
	config = config.Clone()
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{QUICProto}
	}
	l, err := quic.ListenAddr(addr, config, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &quicListener{l: l, ctx: ctx, cancel: cancel}, nil
}

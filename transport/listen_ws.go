package transport

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

// wsListener wraps a net.Listener and WebSocket server to return connected streams.
type wsListener struct {
	net.Listener
	srv       *http.Server
	accepted  chan io.ReadWriteCloser
	closed    chan struct{}
	closeOnce sync.Once
}

// Accept waits for and returns the next connected stream.
func (l *wsListener) Accept() (io.ReadWriteCloser, error) {
	select {
	case ws := <-l.accepted:
		return ws, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.srv.Close()
}

func (l *wsListener) Addr() net.Addr {
	return l.Listener.Addr()
}

// wsConn keeps the WebSocket handler alive until the stream is closed.
type wsConn struct {
	*websocket.Conn
	done chan struct{}
	once sync.Once
}

func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.Conn.Close()
}

// ListenWS takes a TCP address and returns a Listener for a HTTP+WebSocket
// server listening on the given address. A non-nil config serves over TLS.
func ListenWS(addr string, config *tls.Config) (Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if config != nil {
		l = tls.NewListener(l, config)
	}
	wsl := &wsListener{
		Listener: l,
		accepted: make(chan io.ReadWriteCloser),
		closed:   make(chan struct{}),
	}
	wsl.srv = &http.Server{
		Addr: addr,
		Handler: websocket.Server{
			// non-browser clients send an origin of their own choosing
			Handshake: func(*websocket.Config, *http.Request) error { return nil },
			Handler: func(ws *websocket.Conn) {
				ws.PayloadType = websocket.BinaryFrame
				c := &wsConn{Conn: ws, done: make(chan struct{})}
				select {
				case wsl.accepted <- c:
				case <-wsl.closed:
					return
				}
				select {
				case <-c.done:
				case <-wsl.closed:
				}
			},
		},
	}
	go wsl.srv.Serve(l)
	return wsl, nil
}

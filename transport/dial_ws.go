package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"golang.org/x/net/websocket"
)

// DialWS establishes a stream via WebSocket connection.
// The address must be a host and port. Opening a WebSocket
// connection at a particular path is not supported.
func DialWS(ctx context.Context, addr string, _ *tls.Config) (io.ReadWriteCloser, error) {
	return dialWebsocket(ctx, "ws", "http", addr, nil)
}

// DialWSS is DialWS over TLS.
func DialWSS(ctx context.Context, addr string, config *tls.Config) (io.ReadWriteCloser, error) {
	return dialWebsocket(ctx, "wss", "https", addr, clientConfig(addr, config, ""))
}

func dialWebsocket(ctx context.Context, scheme, origin, addr string, config *tls.Config) (io.ReadWriteCloser, error) {
	cfg, err := websocket.NewConfig(fmt.Sprintf("%s://%s/", scheme, addr), fmt.Sprintf("%s://%s/", origin, addr))
	if err != nil {
		return nil, err
	}
	cfg.TlsConfig = config
	cfg.Dialer = &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Dialer.Deadline = deadline
	}
	ws, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return ws, nil
}

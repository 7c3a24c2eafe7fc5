// Package muxtest provides a scripted hydna server for testing clients.
package muxtest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"hash/fnv"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/progrium/hydna-go/frame"
	"github.com/progrium/hydna-go/transport"
)

// Handler is called for every frame the server receives.
type Handler func(c *Conn, f frame.Frame)

// Server is a loopback server speaking the hydna protocol. Every frame
// it receives is recorded and passed to its Handler.
type Server struct {
	// Dialect is the wire format spoken. The zero value means frame.Default.
	Dialect frame.Dialect

	// Status is sent in every handshake response.
	Status frame.HandshakeStatus

	// Handler scripts the server. Nil means Default.
	Handler Handler

	// Scheme is the transport served, "tcp" if empty. Secure transports
	// use TLSConfig, or a self-signed certificate if it is nil.
	Scheme    string
	TLSConfig *tls.Config

	l  transport.Listener
	wg sync.WaitGroup

	mu         sync.Mutex
	raw        map[io.ReadWriteCloser]struct{}
	conns      []*Conn
	handshakes int
	received   []frame.Frame
	cursor     int
	notify     chan struct{}
}

// NewServer starts a server running h.
func NewServer(h Handler) (*Server, error) {
	s := NewUnstartedServer(h)
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewUnstartedServer returns a server that can be configured before Start.
func NewUnstartedServer(h Handler) *Server {
	return &Server{
		Handler: h,
		raw:     make(map[io.ReadWriteCloser]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

func (s *Server) Start() error {
	if s.Dialect.Version == 0 {
		s.Dialect = frame.Default
	}
	if s.Handler == nil {
		s.Handler = Default
	}
	if s.Scheme == "" {
		s.Scheme = "tcp"
	}
	if s.TLSConfig == nil && s.secure() {
		config, err := GenerateTLSConfig()
		if err != nil {
			return err
		}
		s.TLSConfig = config
	}
	l, err := transport.Listen(s.Scheme, "127.0.0.1:0", s.TLSConfig)
	if err != nil {
		return err
	}
	s.l = l
	s.wg.Add(1)
	go s.accept()
	return nil
}

func (s *Server) secure() bool {
	switch s.Scheme {
	case "tls", "hydnas", "wss", "quic":
		return true
	}
	return false
}

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.l.Addr().String() }

// Expr returns a channel expression for path on this server.
func (s *Server) Expr(path string) string {
	return s.Scheme + "://" + s.Addr() + path
}

// Close stops the server, closes every connection and waits for their
// goroutines.
func (s *Server) Close() error {
	err := s.l.Close()
	s.mu.Lock()
	for rwc := range s.raw {
		rwc.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Handshakes is the number of handshake requests received.
func (s *Server) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Conns returns the connections that completed a handshake.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// Received returns every frame received so far.
func (s *Server) Received() []frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Frame(nil), s.received...)
}

// Next waits for the next received frame not yet returned by Next.
func (s *Server) Next(ctx context.Context) (frame.Frame, error) {
	for {
		s.mu.Lock()
		if s.cursor < len(s.received) {
			f := s.received[s.cursor]
			s.cursor++
			s.mu.Unlock()
			return f, nil
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-ctx.Done():
			return frame.Frame{}, ctx.Err()
		}
	}
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		rwc, err := s.l.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.raw[rwc] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(rwc)
	}
}

func (s *Server) serve(rwc io.ReadWriteCloser) {
	defer s.wg.Done()
	defer func() {
		rwc.Close()
		s.mu.Lock()
		delete(s.raw, rwc)
		s.mu.Unlock()
	}()

	version, host, auth, err := frame.ReadHandshake(rwc)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.handshakes++
	s.mu.Unlock()

	status := s.Status
	if status == frame.HandshakeOK && version != s.Dialect.Version {
		status = frame.HandshakeProtocol
	}
	if _, err := rwc.Write(frame.EncodeHandshakeResponse(s.Dialect.Version, status)); err != nil {
		return
	}
	if status != frame.HandshakeOK {
		return
	}

	c := &Conn{
		Host:    host,
		Auth:    auth,
		Version: version,
		rwc:     rwc,
		enc:     frame.NewEncoder(rwc, s.Dialect),
		done:    make(chan struct{}),
	}
	defer close(c.done)
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	dec := frame.NewDecoder(rwc, s.Dialect)
	for {
		f, err := dec.Decode()
		if err != nil {
			return
		}
		s.record(f)
		s.Handler(c, f)
	}
}

func (s *Server) record(f frame.Frame) {
	s.mu.Lock()
	s.received = append(s.received, f)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Conn is the server side of one client connection.
type Conn struct {
	Host    string
	Auth    string
	Version byte

	rwc  io.ReadWriteCloser
	enc  *frame.Encoder
	done chan struct{}
}

// Done is closed when the client connection has gone away.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Close drops the client connection.
func (c *Conn) Close() error { return c.rwc.Close() }

// Send writes f to the client.
func (c *Conn) Send(f frame.Frame) error { return c.enc.Encode(f) }

// WriteRaw writes b to the client as is.
func (c *Conn) WriteRaw(b []byte) error {
	_, err := c.rwc.Write(b)
	return err
}

// Allow responds to an open request.
func (c *Conn) Allow(ch uint32, message string) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpOpen, Flag: frame.FlagAllow, Payload: []byte(message)})
}

// Deny rejects an open request.
func (c *Conn) Deny(ch uint32, reason string) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpOpen, Flag: frame.FlagDeny, Payload: []byte(reason)})
}

// Redirect tells the client to open to instead of ch.
func (c *Conn) Redirect(ch, to uint32) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpOpen, Flag: frame.FlagRedirect, Payload: binary.BigEndian.AppendUint32(nil, to)})
}

// End ends an open channel, or acknowledges the client ending it.
func (c *Conn) End(ch uint32) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpSignal, Flag: frame.FlagEnd})
}

// Error ends an open channel with an error.
func (c *Conn) Error(ch uint32, reason string) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpSignal, Flag: frame.FlagError, Payload: []byte(reason)})
}

// Data sends data on an open channel.
func (c *Conn) Data(ch uint32, priority uint8, payload string) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpData, Flag: priority, Payload: []byte(payload)})
}

// Emit sends a signal on an open channel.
func (c *Conn) Emit(ch uint32, payload string) error {
	return c.Send(frame.Frame{Channel: ch, Op: frame.OpSignal, Flag: frame.FlagEmit, Payload: []byte(payload)})
}

// Resolve answers a resolve request for path with id.
func (c *Conn) Resolve(path string, id uint32) error {
	return c.Send(frame.Frame{Channel: id, Op: frame.OpResolve, Flag: frame.FlagAllow, Payload: []byte(path)})
}

// ResolveID is the channel id Default resolves path to.
func ResolveID(path string) uint32 {
	h := fnv.New32a()
	io.WriteString(h, path)
	if id := h.Sum32(); id != 0 {
		return id
	}
	return 1
}

// Default allows every open, resolves every path with ResolveID and
// acknowledges every END.
func Default(c *Conn, f frame.Frame) {
	switch f.Op {
	case frame.OpOpen:
		c.Allow(f.Channel, "")
	case frame.OpResolve:
		c.Resolve(string(f.Payload), ResolveID(string(f.Payload)))
	case frame.OpSignal:
		if f.Flag == frame.FlagEnd {
			c.End(f.Channel)
		}
	}
}

// Echo is Default that also sends data and signals back to the client.
func Echo(c *Conn, f frame.Frame) {
	switch {
	case f.Op == frame.OpData:
		c.Send(f)
	case f.Op == frame.OpSignal && f.Flag == frame.FlagEmit:
		c.Send(f)
	default:
		Default(c, f)
	}
}

// Silent records frames and never answers.
func Silent(c *Conn, f frame.Frame) {}

// GenerateTLSConfig returns a server config with a fresh self-signed
// certificate for 127.0.0.1.
func GenerateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{transport.QUICProto},
	}, nil
}

// ClientTLSConfig is a client config that accepts the server's self-signed
// certificate.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true}
}

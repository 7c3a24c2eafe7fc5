package transport

import (
	"io"
	"net"
	"os"
)

type ioduplex struct {
	io.WriteCloser
	io.ReadCloser
}

func (d *ioduplex) Close() error {
	if err := d.WriteCloser.Close(); err != nil {
		return err
	}
	if err := d.ReadCloser.Close(); err != nil {
		return err
	}
	return nil
}

// DialIO joins a WriteCloser and ReadCloser into one stream.
func DialIO(out io.WriteCloser, in io.ReadCloser) (io.ReadWriteCloser, error) {
	return &ioduplex{out, in}, nil
}

// DialStdio is DialIO with Stdout and Stdin.
func DialStdio() (io.ReadWriteCloser, error) {
	return DialIO(os.Stdout, os.Stdin)
}

// ioListener wraps a single ReadWriteCloser to use as a listener.
type ioListener struct {
	io.ReadWriteCloser
	accepted bool
}

// Accept returns the wrapped stream once, then io.EOF.
func (l *ioListener) Accept() (io.ReadWriteCloser, error) {
	if l.accepted {
		return nil, io.EOF
	}
	l.accepted = true
	return l.ReadWriteCloser, nil
}

func (l *ioListener) Addr() net.Addr {
	return nil
}

// ListenIO returns a Listener that accepts a single stream made of
// separate WriteCloser and ReadCloser.
func ListenIO(out io.WriteCloser, in io.ReadCloser) (Listener, error) {
	return &ioListener{ReadWriteCloser: &ioduplex{out, in}}, nil
}

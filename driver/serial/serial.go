//go:build !tinygo && !baremetal

// Package serial adapts a host serial port to the transport interface.
// A pump goroutine drains the port into an internal buffer so Avail can be
// answered without blocking.
package serial

import (
	"io"
	"sync"

	gserial "github.com/jacobsa/go-serial/serial"

	"github.com/serialdbg/scagent/transport"
)

// Config selects the serial port to open.
type Config struct {
	Port string `yaml:"port"`
	Baud uint   `yaml:"baud"`
}

// Transport is a serial-port backed byte channel.
type Transport struct {
	port io.ReadWriteCloser

	mu  sync.Mutex
	buf []byte
	err error
}

var _ transport.Transport = (*Transport)(nil)

// Open opens the configured port at 8N1 and starts the reader pump.
func Open(cfg Config) (*Transport, error) {
	port, err := gserial.Open(gserial.OpenOptions{
		PortName:        cfg.Port,
		BaudRate:        cfg.Baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, err
	}

	t := &Transport{port: port}
	go t.pump()
	return t, nil
}

func (t *Transport) pump() {
	chunk := make([]byte, 512)
	for {
		n, err := t.port.Read(chunk)
		t.mu.Lock()
		if n > 0 {
			t.buf = append(t.buf, chunk[:n]...)
		}
		if err != nil {
			t.err = err
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()
	}
}

func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	err := t.err
	t.mu.Unlock()
	if err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := t.port.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

func (t *Transport) Read(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) > len(t.buf) {
		if t.err != nil {
			return t.err
		}
		return io.ErrUnexpectedEOF
	}
	copy(p, t.buf[:len(p)])
	t.buf = t.buf[len(p):]
	return nil
}

func (t *Transport) Avail() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// Close shuts down the port; the pump exits on the resulting read error.
func (t *Transport) Close() error {
	return t.port.Close()
}

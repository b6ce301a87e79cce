package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// SerialConfig configures the point-to-point serial/BLE transport. It wraps
// an io.ReadWriteCloser that the caller has already opened (a real serial
// port, a Nordic UART BLE characteristic pair exposed as a ReadWriteCloser,
// or a test pipe) — this package owns only the framing and lifecycle, not
// the physical link setup.
type SerialConfig struct {
	MTU           int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultSerialConfig returns sane defaults for a Nordic UART-style link.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		MTU:          244, // typical BLE ATT MTU minus headroom
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// SerialTransport frames a duplex byte stream one frame per read, using a
// receive/transmit goroutine pair the same shape as a hardware radio
// driver's rx/tx loop: a buffered channel into and out of the loop, a stop
// channel, and a WaitGroup tracking both goroutines.
type SerialTransport struct {
	config SerialConfig
	link   io.ReadWriter

	rxChan   chan []byte
	txChan   chan []byte
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewSerialTransport wraps an already-open duplex link. link is expected
// to delimit frames the way the physical transport already does (one
// notification == one frame for BLE; for a raw serial byte stream, wrap
// link in a length- or delimiter-framing io.ReadWriter before passing it
// here — this package does not itself re-frame a byte stream).
func NewSerialTransport(link io.ReadWriter, config SerialConfig) *SerialTransport {
	return &SerialTransport{
		config: config,
		link:   link,
	}
}

func (t *SerialTransport) MTU() int { return t.config.MTU }

func (t *SerialTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}

	t.rxChan = make(chan []byte, 32)
	t.txChan = make(chan []byte, 32)
	t.stopChan = make(chan struct{})
	t.running = true

	t.wg.Add(2)
	go t.receiveLoop()
	go t.transmitLoop()

	log.Println("transport: serial link connected")
	return nil
}

func (t *SerialTransport) Disconnect() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	close(t.stopChan)
	t.mu.Unlock()

	t.wg.Wait()
	log.Println("transport: serial link disconnected")
	return nil
}

func (t *SerialTransport) Reads() <-chan []byte { return t.rxChan }

func (t *SerialTransport) Write(ctx context.Context, b []byte) error {
	t.mu.Lock()
	running := t.running
	ch := t.txChan
	t.mu.Unlock()
	if !running {
		return fmt.Errorf("transport: not connected")
	}
	select {
	case ch <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopChan:
		return fmt.Errorf("transport: disconnected mid-write")
	}
}

func (t *SerialTransport) receiveLoop() {
	defer t.wg.Done()
	defer close(t.rxChan)

	buf := make([]byte, t.config.MTU)
	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.link.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("transport: read error: %v", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])

		select {
		case t.rxChan <- frame:
		case <-t.stopChan:
			return
		}
	}
}

func (t *SerialTransport) transmitLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopChan:
			return
		case frame, ok := <-t.txChan:
			if !ok {
				return
			}
			if _, err := t.link.Write(frame); err != nil {
				log.Printf("transport: write error: %v", err)
			}
		}
	}
}

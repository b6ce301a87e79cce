// Package telemetry mirrors mesh activity to an external collector over a
// persistent WebSocket connection, independent of the local gRPC bridge.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EnvelopeType identifies the kind of payload an Envelope carries.
type EnvelopeType string

const (
	EnvelopeMessage   EnvelopeType = "message"
	EnvelopeDelivered EnvelopeType = "delivered"
	EnvelopeFailed    EnvelopeType = "failed"
	EnvelopeHeartbeat EnvelopeType = "heartbeat"
	EnvelopeAck       EnvelopeType = "ack" // inbound: collector confirming ingest
)

// Envelope is the WebSocket wire message, to and from the collector.
type Envelope struct {
	Type      EnvelopeType           `json:"type"`
	ID        string                 `json:"id,omitempty"`
	Timestamp *timestamppb.Timestamp `json:"timestamp"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
}

// Config holds telemetry client configuration.
type Config struct {
	URL            string
	DeviceID       string
	AuthToken      string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
}

// DefaultConfig returns default telemetry client configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay: 5 * time.Second,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
	}
}

// Client maintains a reconnecting WebSocket connection to a telemetry
// collector, sending envelopes queued via Send and dispatching inbound
// acks to a registered callback.
type Client struct {
	config Config

	conn      *websocket.Conn
	sendChan  chan *Envelope
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	connected bool

	onAck func(id string)
}

// New creates a telemetry client bound to config.
func New(config Config) *Client {
	return &Client{
		config:   config,
		sendChan: make(chan *Envelope, 100),
		stopChan: make(chan struct{}),
	}
}

// OnAck registers a callback invoked when the collector acknowledges an
// envelope by ID.
func (c *Client) OnAck(f func(id string)) {
	c.mu.Lock()
	c.onAck = f
	c.mu.Unlock()
}

// Start connects to the collector and runs the connection loop in the
// background until Stop is called or ctx is done.
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// Stop disconnects and stops all loops.
func (c *Client) Stop() error {
	close(c.stopChan)
	c.wg.Wait()
	return nil
}

// IsConnected reports whether the WebSocket connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send queues env for delivery, stamping its timestamp if unset.
func (c *Client) Send(env *Envelope) error {
	if env.Timestamp == nil {
		env.Timestamp = timestamppb.New(time.Now())
	}
	select {
	case c.sendChan <- env:
		return nil
	default:
		return fmt.Errorf("telemetry: send queue full")
	}
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			c.disconnect()
			return
		case <-ctx.Done():
			c.disconnect()
			return
		default:
		}

		if err := c.connect(); err != nil {
			log.Printf("telemetry: connect failed: %v", err)
			time.Sleep(c.config.ReconnectDelay)
			continue
		}

		c.runMessageLoops(ctx)

		log.Println("telemetry: disconnected, reconnecting")
		time.Sleep(c.config.ReconnectDelay)
	}
}

func (c *Client) connect() error {
	header := make(map[string][]string)
	header["X-Device-ID"] = []string{c.config.DeviceID}
	header["X-Auth-Token"] = []string{c.config.AuthToken}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(c.config.URL, header)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	log.Printf("telemetry: connected to %s", c.config.URL)
	return nil
}

func (c *Client) disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

func (c *Client) runMessageLoops(ctx context.Context) {
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() { defer wg.Done(); c.readLoop(done) }()

	wg.Add(1)
	go func() { defer wg.Done(); c.writeLoop(ctx, done) }()

	wg.Add(1)
	go func() { defer wg.Done(); c.pingLoop(done) }()

	wg.Wait()
}

func (c *Client) readLoop(done chan struct{}) {
	defer close(done)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("telemetry: read error: %v", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("telemetry: failed to parse envelope: %v", err)
			continue
		}
		c.handleInbound(&env)
	}
}

func (c *Client) writeLoop(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case env := <-c.sendChan:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}

			data, err := json.Marshal(env)
			if err != nil {
				log.Printf("telemetry: failed to marshal envelope: %v", err)
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("telemetry: write error: %v", err)
				return
			}
		}
	}
}

func (c *Client) pingLoop(done chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			hb := &Envelope{Type: EnvelopeHeartbeat, Timestamp: timestamppb.New(time.Now())}
			data, _ := json.Marshal(hb)
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("telemetry: heartbeat failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) handleInbound(env *Envelope) {
	if env.Type != EnvelopeAck {
		return
	}
	c.mu.Lock()
	cb := c.onAck
	c.mu.Unlock()
	if cb != nil {
		cb(env.ID)
	}
}

// Package transport defines the duplex byte-transport contract the Session
// consumes and ships two concrete implementations: a point-to-point
// serial/BLE-style link and an alternate ZeroMQ link for exercising the
// Session/Reliability stack against a software mesh-node simulator.
package transport

import "context"

// Transport is the external contract §6 of the specification describes:
// connect/disconnect, chunked writes, a lazy infinite read stream framed one
// frame per notification, and an MTU the Session chunks writes against.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Write(ctx context.Context, b []byte) error
	// Reads returns the channel of inbound frames, one slice per
	// notification/read. The channel is closed when the transport
	// disconnects.
	Reads() <-chan []byte
	MTU() int
}

// LinkDriver is the low-level half of a Transport: the piece that actually
// moves bytes across a physical or simulated channel. No type in this
// package implements LinkDriver, and neither SerialTransport nor
// ZMQTransport is built on one: each moves its bytes itself.
type LinkDriver interface {
	Start(onReceive func([]byte)) error
	Stop() error
	Send(b []byte) error
}

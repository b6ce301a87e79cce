package transport

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"

	"github.com/Avi0n/PocketMesh-sub005/internal/transport/envelope"
)

// ZMQConfig configures the alternate ZeroMQ-backed Transport, used to run
// the Session/Reliability stack against a software mesh-node simulator
// without real hardware.
type ZMQConfig struct {
	EventEndpoint   string // PUB socket the simulator publishes uplink/stats on
	CommandEndpoint string // REP socket the simulator accepts downlink sends on
	NodeID          [NodeIDSize]byte
	MTU             int
	RequestTimeout  time.Duration
}

func DefaultZMQConfig() ZMQConfig {
	return ZMQConfig{
		EventEndpoint:   "tcp://127.0.0.1:14711",
		CommandEndpoint: "tcp://127.0.0.1:14712",
		MTU:             244,
		RequestTimeout:  5 * time.Second,
	}
}

// ZMQTransport implements Transport by driving a PUB/SUB event socket and a
// REQ/REP command socket against a simulated mesh node, encrypting each
// frame with the simulated link's per-node key.
type ZMQTransport struct {
	config   ZMQConfig
	eventSub zmq4.Socket
	cmdReq   zmq4.Socket
	keys     *NodeKeyCache
	counter  uint32

	rxChan   chan []byte
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	nextID   uint32
}

func NewZMQTransport(config ZMQConfig) *ZMQTransport {
	return &ZMQTransport{
		config: config,
		keys:   NewNodeKeyCache(),
	}
}

func (z *ZMQTransport) MTU() int { return z.config.MTU }

func (z *ZMQTransport) Connect(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.running {
		return nil
	}

	z.eventSub = zmq4.NewSub(ctx)
	if err := z.eventSub.Dial(z.config.EventEndpoint); err != nil {
		return fmt.Errorf("transport: zmq event dial: %w", err)
	}
	if err := z.eventSub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("transport: zmq subscribe: %w", err)
	}

	z.cmdReq = zmq4.NewReq(ctx)
	if err := z.cmdReq.Dial(z.config.CommandEndpoint); err != nil {
		z.eventSub.Close()
		return fmt.Errorf("transport: zmq command dial: %w", err)
	}

	z.rxChan = make(chan []byte, 32)
	z.stopChan = make(chan struct{})
	z.running = true

	z.wg.Add(1)
	go z.eventLoop()

	log.Println("transport: zmq link connected")
	return nil
}

func (z *ZMQTransport) Disconnect() error {
	z.mu.Lock()
	if !z.running {
		z.mu.Unlock()
		return nil
	}
	z.running = false
	close(z.stopChan)
	z.mu.Unlock()

	z.wg.Wait()
	z.eventSub.Close()
	z.cmdReq.Close()
	log.Println("transport: zmq link disconnected")
	return nil
}

func (z *ZMQTransport) Reads() <-chan []byte { return z.rxChan }

// Write encrypts and sends one frame as a downlink request, blocking for the
// simulator's ack over the REQ/REP round trip.
func (z *ZMQTransport) Write(ctx context.Context, b []byte) error {
	key := z.keys.Get(z.config.NodeID)
	ctr := atomic.AddUint32(&z.counter, 1)
	cipherFrame, err := EncryptLinkFrame(key, ctr, b)
	if err != nil {
		return fmt.Errorf("transport: encrypt: %w", err)
	}

	id := atomic.AddUint32(&z.nextID, 1)
	wire := envelope.MarshalDownlink(envelope.DownlinkEnvelope{
		DownlinkID: id,
		NodeID:     z.config.NodeID,
		Payload:    cipherFrame,
	})

	msg := zmq4.NewMsg(wire)
	if err := z.cmdReq.Send(msg); err != nil {
		return fmt.Errorf("transport: zmq send: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, z.config.RequestTimeout)
	defer cancel()
	reply, err := z.recvWithTimeout(reqCtx)
	if err != nil {
		return fmt.Errorf("transport: zmq recv: %w", err)
	}

	ack, err := envelope.UnmarshalDownlinkAck(reply.Bytes())
	if err != nil {
		return err
	}
	if ack.Status != envelope.TxAckOK {
		return fmt.Errorf("transport: downlink rejected: %s", ack.Status)
	}
	return nil
}

func (z *ZMQTransport) recvWithTimeout(ctx context.Context) (zmq4.Msg, error) {
	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := z.cmdReq.Recv()
		done <- result{m, err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return zmq4.Msg{}, ctx.Err()
	}
}

func (z *ZMQTransport) eventLoop() {
	defer z.wg.Done()
	defer close(z.rxChan)

	for {
		select {
		case <-z.stopChan:
			return
		default:
		}

		msg, err := z.eventSub.Recv()
		if err != nil {
			select {
			case <-z.stopChan:
				return
			default:
				log.Printf("transport: zmq event recv error: %v", err)
				return
			}
		}

		z.handleEvent(msg.Bytes())
	}
}

func (z *ZMQTransport) handleEvent(data []byte) {
	up, err := envelope.UnmarshalUplink(data)
	if err != nil {
		// Not every published event is an uplink frame (stats events share
		// the socket); ignore what doesn't parse as one.
		return
	}

	key := z.keys.Get(up.NodeID)
	plain, err := DecryptLinkFrame(key, up.Payload)
	if err != nil {
		log.Printf("transport: zmq uplink decrypt failed: %v", err)
		return
	}

	select {
	case z.rxChan <- plain:
	case <-z.stopChan:
	}
}

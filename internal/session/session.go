// Package session implements the single-owner actor that multiplexes a
// duplex Transport: it correlates outgoing commands with the next inbound
// response of the expected category, routes unsolicited push events to the
// Event Bus, chunks writes to the transport MTU, and enforces per-operation
// timeouts. All Session state is owned by one internal loop goroutine;
// external callers only ever talk to it over channels.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/errs"
	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/transport"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// State is the Session's connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReady
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// Config tunes the timeouts the specification calls out by name.
type Config struct {
	// AppName is the handshake identity sent in appStart; it identifies
	// this companion application to the node during connect.
	AppName        string
	DefaultTimeout time.Duration // most commands
	PairingTimeout time.Duration // self-advertisement / initial handshake
	// LoginTimeout computes a remote-node login timeout as
	// base + perHop*pathLen, capped at max.
	LoginBase    time.Duration
	LoginPerHop  time.Duration
	LoginMaxCap  time.Duration
	// ParseFailureDisconnectThreshold disconnects the Session after this
	// many consecutive parseFailure events.
	ParseFailureDisconnectThreshold int
	// SubscriberHighWater is not read by the Session; each Event Bus
	// subscriber's queue is bounded by the highWater passed to eventbus.New.
	SubscriberHighWater int
}

func DefaultConfig() Config {
	return Config{
		DefaultTimeout:                  5 * time.Second,
		PairingTimeout:                  40 * time.Second,
		LoginBase:                       5 * time.Second,
		LoginPerHop:                     10 * time.Second,
		LoginMaxCap:                     60 * time.Second,
		ParseFailureDisconnectThreshold: 5,
		SubscriberHighWater:             eventbus.HighWaterMark,
	}
}

// LoginTimeout computes the scaled remote-node-login timeout for a path of
// pathHops relay hops.
func (c Config) LoginTimeout(pathHops int) time.Duration {
	d := c.LoginBase + time.Duration(pathHops)*c.LoginPerHop
	if d > c.LoginMaxCap {
		return c.LoginMaxCap
	}
	return d
}

type submitRequest struct {
	frame      wire.Frame
	category   Category
	timeout    time.Duration
	resultChan chan submitResult
}

type submitResult struct {
	event  wire.Event
	events []wire.Event // populated for CategoryContacts
	err    error
}

// Session is the single-owner actor. Create with New, then Connect before
// issuing Submit calls.
type Session struct {
	config    Config
	transport transport.Transport
	bus       *eventbus.Bus

	submitChan chan submitRequest
	stopChan   chan struct{}
	loopDone   chan struct{}
	wg         sync.WaitGroup

	mu    sync.RWMutex
	state State
}

// New constructs a Session over t, publishing unsolicited events to bus.
func New(t transport.Transport, bus *eventbus.Bus, config Config) *Session {
	return &Session{
		config:     config,
		transport:  t,
		bus:        bus,
		submitChan: make(chan submitRequest),
		stopChan:   make(chan struct{}),
		loopDone:   make(chan struct{}),
		state:      StateDisconnected,
	}
}

// State reports the current connection lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect dials the Transport, starts the Session's owning loop, and runs
// the deviceQuery/appStart handshake before declaring the Session ready.
// Failure at either handshake step tears the Session back down to
// disconnected and returns a handshakeFailed error, per §4.4.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.transport.Connect(ctx); err != nil {
		s.setState(StateDisconnected)
		return errs.Wrap(errs.KindTransport, "connect failed", err)
	}
	s.setState(StateConnected)

	s.wg.Add(1)
	go s.loop()

	if _, err := s.Submit(ctx, wire.BuildDeviceQuery(wire.ProtocolVersion), CategoryDeviceInfo, s.config.PairingTimeout); err != nil {
		s.Disconnect()
		return errs.Wrap(errs.KindHandshakeFailed, "deviceQuery handshake step failed", err)
	}
	if _, err := s.Submit(ctx, wire.BuildAppStart(s.config.AppName), CategorySelfInfo, s.config.PairingTimeout); err != nil {
		s.Disconnect()
		return errs.Wrap(errs.KindHandshakeFailed, "appStart handshake step failed", err)
	}

	s.setState(StateReady)
	return nil
}

// Disconnect tears down the Transport and cancels every in-flight waiter
// and Event Bus subscriber with a cancelled signal.
func (s *Session) Disconnect() error {
	select {
	case <-s.stopChan:
		return nil // already disconnecting
	default:
		close(s.stopChan)
	}
	s.wg.Wait()
	s.bus.Close()
	err := s.transport.Disconnect()
	s.setState(StateDisconnected)
	if err != nil {
		return errs.Wrap(errs.KindTransport, "disconnect failed", err)
	}
	return nil
}

// Submit encodes frame, chunk-writes it to the Transport, and blocks until
// a response matching category arrives, ctx is cancelled, or timeout
// elapses (0 uses config.DefaultTimeout).
func (s *Session) Submit(ctx context.Context, frame wire.Frame, category Category, timeout time.Duration) (wire.Event, error) {
	if s.State() == StateDisconnected {
		return nil, errs.New(errs.KindNotConnected, "session is disconnected")
	}
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}

	req := submitRequest{
		frame:      frame,
		category:   category,
		timeout:    timeout,
		resultChan: make(chan submitResult, 1),
	}

	select {
	case s.submitChan <- req:
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, "submit cancelled before dispatch", ctx.Err())
	case <-s.stopChan:
		return nil, errs.New(errs.KindCancelled, "session disconnected")
	}

	select {
	case res := <-req.resultChan:
		return res.event, res.err
	case <-ctx.Done():
		return nil, errs.Wrap(errs.KindCancelled, "submit cancelled", ctx.Err())
	}
}

// SubmitContacts is the multi-frame getContacts() correlation: it runs the
// same single-waiter protocol as Submit but accumulates every ContactEvent
// between contactsStart and contactsEnd, per §4.4 of the specification.
func (s *Session) SubmitContacts(ctx context.Context, frame wire.Frame, timeout time.Duration) ([]wire.ContactEvent, bool, error) {
	if timeout <= 0 {
		timeout = s.config.DefaultTimeout
	}
	req := submitRequest{
		frame:      frame,
		category:   CategoryContacts,
		timeout:    timeout,
		resultChan: make(chan submitResult, 1),
	}

	select {
	case s.submitChan <- req:
	case <-ctx.Done():
		return nil, false, errs.Wrap(errs.KindCancelled, "submit cancelled before dispatch", ctx.Err())
	case <-s.stopChan:
		return nil, false, errs.New(errs.KindCancelled, "session disconnected")
	}

	select {
	case res := <-req.resultChan:
		if res.err != nil {
			if e, ok := res.err.(*errs.Error); ok && e.Kind == errs.KindSyncInterrupted {
				contacts := make([]wire.ContactEvent, len(res.events))
				for i, ev := range res.events {
					contacts[i] = ev.(wire.ContactEvent)
				}
				return contacts, true, nil
			}
			return nil, false, res.err
		}
		contacts := make([]wire.ContactEvent, len(res.events))
		for i, ev := range res.events {
			contacts[i] = ev.(wire.ContactEvent)
		}
		return contacts, false, nil
	case <-ctx.Done():
		return nil, false, errs.Wrap(errs.KindCancelled, "submit cancelled", ctx.Err())
	}
}

// loop is the single goroutine that owns all Session state: the active
// waiter, the parse-failure streak, and the Transport handle. Nothing else
// touches these fields.
func (s *Session) loop() {
	defer s.wg.Done()
	defer close(s.loopDone)

	rx := s.transport.Reads()

	var active *activeWaiter
	parseFailures := 0

	failActive := func(err error) {
		if active != nil {
			active.timer.Stop()
			active.result(submitResult{err: err})
			active = nil
		}
	}

	for {
		var timeoutC <-chan time.Time
		if active != nil {
			timeoutC = active.timer.C
		}

		select {
		case <-s.stopChan:
			failActive(errs.New(errs.KindCancelled, "session disconnected"))
			return

		case req := <-s.submitChan:
			if active != nil {
				// Single-owner serialization: the caller should not submit
				// again until the prior call returns, but guard anyway.
				req.resultChan <- submitResult{err: errs.New(errs.KindProtocolError, "a command is already in flight")}
				continue
			}
			if err := s.writeChunked(req.frame); err != nil {
				req.resultChan <- submitResult{err: errs.Wrap(errs.KindTransport, "write failed", err)}
				continue
			}
			active = newActiveWaiter(req)

		case <-timeoutC:
			active.result(submitResult{err: errs.New(errs.KindTimeout, "response timed out")})
			active = nil

		case raw, ok := <-rx:
			if !ok {
				failActive(errs.New(errs.KindTransport, "transport closed"))
				s.setState(StateDisconnected)
				return
			}
			ev := wire.Parse(wire.ParseRaw(raw))

			if pf, isFail := ev.(wire.ParseFailureEvent); isFail {
				parseFailures++
				s.bus.Publish(pf)
				if parseFailures >= s.config.ParseFailureDisconnectThreshold {
					log.Printf("session: disconnecting after %d consecutive parse failures", parseFailures)
					failActive(errs.New(errs.KindProtocolError, "too many consecutive parse failures"))
					s.setState(StateDisconnected)
					return
				}
				continue
			}
			parseFailures = 0

			if active != nil && active.category == CategoryContacts {
				if done, result := active.feedContacts(ev); done {
					active.timer.Stop()
					active.result(result)
					active = nil
					continue
				}
				continue
			}

			if active != nil && active.category.matches(ev) {
				active.timer.Stop()
				active.result(submitResult{event: ev})
				active = nil
				continue
			}

			// Unsolicited (or unmatched) — forward to the Event Bus.
			s.bus.Publish(ev)
		}
	}
}

// writeChunked writes frame to the Transport in chunks no larger than the
// Transport's MTU. The Transport write, once started, runs to completion
// before the loop accepts the next submit (single-owner serialization).
func (s *Session) writeChunked(frame wire.Frame) error {
	data := frame.Bytes()
	mtu := s.transport.MTU()
	if mtu <= 0 {
		mtu = len(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.DefaultTimeout)
	defer cancel()

	for len(data) > 0 {
		n := mtu
		if n > len(data) {
			n = len(data)
		}
		if err := s.transport.Write(ctx, data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// activeWaiter tracks the single in-flight Submit call.
type activeWaiter struct {
	category Category
	timer    *time.Timer
	done     chan submitResult

	// contacts assembly state, only used when category == CategoryContacts
	expectCount int
	contacts    []wire.Event
	haveCount   bool
}

func newActiveWaiter(req submitRequest) *activeWaiter {
	return &activeWaiter{
		category: req.category,
		timer:    time.NewTimer(req.timeout),
		done:     req.resultChan,
	}
}

func (a *activeWaiter) result(r submitResult) {
	a.done <- r
}

// feedContacts advances the contactsStart..contact*..contactsEnd assembly.
// It returns done=true once the sequence resolves (complete or
// syncInterrupted), at which point result holds the outcome.
func (a *activeWaiter) feedContacts(ev wire.Event) (bool, submitResult) {
	switch e := ev.(type) {
	case wire.ContactsStartEvent:
		a.expectCount = int(e.Count)
		a.haveCount = true
		return false, submitResult{}
	case wire.ContactEvent:
		a.contacts = append(a.contacts, e)
		return false, submitResult{}
	case wire.ContactsEndEvent:
		if a.haveCount && len(a.contacts) < a.expectCount {
			return true, submitResult{
				events: a.contacts,
				err:    errs.New(errs.KindSyncInterrupted, "contactsEnd arrived before all contacts"),
			}
		}
		return true, submitResult{events: a.contacts}
	default:
		return false, submitResult{}
	}
}

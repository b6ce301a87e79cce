package reliability

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

// SendKind distinguishes a direct send (to a contact) from a channel post,
// since retry escalation and resend routing differ between the two.
type SendKind int

const (
	SendDirect SendKind = iota
	SendChannel
)

// Resender lets the retry ladder push a message back onto the wire without
// the reliability package depending on the session package directly.
type Resender interface {
	ResendDirect(contactID string, text string, useFlood bool) (expectedAck [4]byte, timeoutMs uint32, err error)
	ResendChannel(channelIndex uint8, text string) (expectedAck [4]byte, timeoutMs uint32, err error)
	SendPathDiscovery(contactID string) error
}

// MessageFetcher lets the engine drain the node's message queue without
// depending on the session package directly. SyncNextMessage issues one
// syncNextMessage request; noMore reports whether the node replied
// noMoreMessages instead of delivering a message.
type MessageFetcher interface {
	SyncNextMessage(ctx context.Context) (noMore bool, err error)
}

// PendingAck tracks one in-flight send awaiting acknowledgment.
type PendingAck struct {
	MessageID string
	Kind      SendKind
	ContactID string // set when Kind == SendDirect
	Channel   uint8  // set when Kind == SendChannel
	Text      string

	AckCode   uint32
	SentAt    time.Time
	Timeout   time.Duration
	Attempt   int
	Delivered bool
}

func ackCodeOf(code [4]byte) uint32 {
	return binary.LittleEndian.Uint32(code[:])
}

// deadline is when this attempt's timeout expires.
func (p PendingAck) deadline() time.Time {
	return p.SentAt.Add(p.Timeout)
}

// AckTracker owns the set of in-flight sends and drives the retry ladder.
// One sweep (see Sweep) should be called periodically; it resends or fails
// any pending ack whose attempt has expired.
type AckTracker struct {
	mu      sync.Mutex
	retry   RetryConfig
	pending map[uint32]*PendingAck

	resender Resender

	onDelivered func(messageID string, rtt time.Duration)
	onFailed    func(messageID string)
}

func NewAckTracker(retry RetryConfig, resender Resender) *AckTracker {
	return &AckTracker{
		retry:    retry,
		pending:  make(map[uint32]*PendingAck),
		resender: resender,
	}
}

// OnDelivered/OnFailed register callbacks invoked (outside the tracker's
// lock) when a pending ack resolves.
func (t *AckTracker) OnDelivered(f func(messageID string, rtt time.Duration)) { t.onDelivered = f }
func (t *AckTracker) OnFailed(f func(messageID string))                      { t.onFailed = f }

// Register starts tracking a freshly sent message. timeoutMs is the
// suggested timeout reported by the node in its messageSent response;
// the specification requires scaling it by 1.2 to absorb scheduling jitter.
func (t *AckTracker) Register(p PendingAck, expectedAck [4]byte, suggestedTimeoutMs uint32) {
	p.AckCode = ackCodeOf(expectedAck)
	p.SentAt = time.Now()
	p.Timeout = time.Duration(float64(suggestedTimeoutMs)*1.2) * time.Millisecond
	p.Attempt = 1

	t.mu.Lock()
	t.pending[p.AckCode] = &p
	t.mu.Unlock()
}

// Acknowledge resolves a pending ack by its wire code. Reports whether a
// matching pending ack was found.
func (t *AckTracker) Acknowledge(code [4]byte) bool {
	ackCode := ackCodeOf(code)

	t.mu.Lock()
	p, ok := t.pending[ackCode]
	if ok {
		delete(t.pending, ackCode)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	if t.onDelivered != nil {
		t.onDelivered(p.MessageID, time.Since(p.SentAt))
	}
	return true
}

// Sweep resends or fails any pending ack whose current attempt has expired.
// Grounded on the retry-on-ticker pattern used elsewhere for periodic
// maintenance work; intended to be called once per second.
func (t *AckTracker) Sweep() {
	now := time.Now()

	t.mu.Lock()
	var expired []*PendingAck
	for _, p := range t.pending {
		if now.After(p.deadline()) {
			expired = append(expired, p)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		t.retryOne(p)
	}
}

func (t *AckTracker) retryOne(p *PendingAck) {
	t.mu.Lock()
	// Another goroutine may have already acknowledged or re-registered
	// this ack code between the snapshot in Sweep and now.
	current, ok := t.pending[p.AckCode]
	if !ok || current != p {
		t.mu.Unlock()
		return
	}
	delete(t.pending, p.AckCode)
	t.mu.Unlock()

	nextAttempt := p.Attempt + 1
	if nextAttempt > t.retry.MaxAttempts {
		if t.onFailed != nil {
			t.onFailed(p.MessageID)
		}
		if t.retry.TriggerPathDiscoveryAfterFlood && p.Kind == SendDirect && t.retry.useFlood(p.Attempt) {
			t.resender.SendPathDiscovery(p.ContactID)
		}
		return
	}

	useFlood := t.retry.useFlood(nextAttempt)

	// The backoff ladder spaces attempts out beyond whatever the node's own
	// suggested timeout already waited; resend after that extra delay
	// rather than the instant the previous attempt's deadline passed.
	time.AfterFunc(t.retry.backoff(nextAttempt), func() {
		var expectedAck [4]byte
		var timeoutMs uint32
		var err error
		switch p.Kind {
		case SendDirect:
			expectedAck, timeoutMs, err = t.resender.ResendDirect(p.ContactID, p.Text, useFlood)
		case SendChannel:
			expectedAck, timeoutMs, err = t.resender.ResendChannel(p.Channel, p.Text)
		}
		if err != nil {
			if t.onFailed != nil {
				t.onFailed(p.MessageID)
			}
			return
		}

		next := *p
		next.Attempt = nextAttempt
		t.Register(next, expectedAck, timeoutMs)
	})
}

// Pending reports the number of in-flight sends, for tests and diagnostics.
func (t *AckTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

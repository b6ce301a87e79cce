package reliability

import (
	"context"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"github.com/Avi0n/PocketMesh-sub005/internal/eventbus"
	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

// MessageEvent is what the engine reports to its caller for an inbound
// message that survived dedup, along with any reactions it resolved.
type MessageEvent struct {
	ChannelMsg bool
	Channel    uint8
	ContactID  string
	SenderName string
	SenderTs   uint32
	Text       string
	Resolved   []ResolvedReaction
}

// Engine is the reliability layer sitting over an Event Bus and a Resender:
// it tracks in-flight sends to their acknowledgment, escalates retries from
// direct to flood routing, deduplicates inbound messages, and resolves
// emoji reactions against a bounded index of recent channel content.
type Engine struct {
	cfg      Config
	bus      *eventbus.Bus
	acks     *AckTracker
	dedup    *dedupStore
	chanDedup *dedupStore
	reactions *ReactionIndex

	onMessage func(MessageEvent)

	fetcher MessageFetcher

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// New wires a reliability Engine over bus using resender to (re)send
// messages the retry ladder escalates and fetcher to drain the node's
// message queue on a messagesWaiting push.
func New(cfg Config, bus *eventbus.Bus, resender Resender, fetcher MessageFetcher) *Engine {
	e := &Engine{
		cfg:       cfg,
		bus:       bus,
		acks:      NewAckTracker(cfg.Retry, resender),
		dedup:     newDedupStore(cfg.Dedup.DirectCapacity),
		chanDedup: newDedupStore(cfg.Dedup.ChannelCapacity),
		reactions: NewReactionIndex(cfg.ReactionIndexCapacity, cfg.PendingReactionTTL, cfg.ReactionPreviewBytes),
		fetcher:   fetcher,
		stopChan:  make(chan struct{}),
	}
	return e
}

// OnMessage registers the callback invoked for each inbound message that
// passes dedup, after any reaction it represents has been resolved or
// queued and after it has been indexed for future reaction resolution.
func (e *Engine) OnMessage(f func(MessageEvent)) { e.onMessage = f }

// OnDelivered/OnFailed mirror AckTracker's callbacks for message lifecycle
// reporting up to the Message service.
func (e *Engine) OnDelivered(f func(messageID string, rtt time.Duration)) { e.acks.OnDelivered(f) }
func (e *Engine) OnFailed(f func(messageID string))                      { e.acks.OnFailed(f) }

// TrackSend registers a freshly sent message for ack/retry tracking.
func (e *Engine) TrackSend(p PendingAck, expectedAck [4]byte, suggestedTimeoutMs uint32) {
	e.acks.Register(p, expectedAck, suggestedTimeoutMs)
}

// IndexOutbound inserts a just-sent channel message into the reaction
// index, the same as an inbound channel message, so a reaction to your own
// post (including one from yourself) can resolve. Any pending reactions it
// newly resolves are reported through OnMessage, same as an inbound match.
func (e *Engine) IndexOutbound(channelIndex uint8, senderName string, senderTs uint32, text string) []ResolvedReaction {
	resolved := e.reactions.Index(channelIndex, senderName, senderTs, text)
	if len(resolved) > 0 && e.onMessage != nil {
		e.onMessage(MessageEvent{
			ChannelMsg: true,
			Channel:    channelIndex,
			SenderName: senderName,
			SenderTs:   senderTs,
			Text:       text,
			Resolved:   resolved,
		})
	}
	return resolved
}

// Start subscribes to the bus and begins the periodic retry sweep, in the
// same one-ticker-per-concern shape as a node-facing controller's periodic
// maintenance loops.
func (e *Engine) Start(ctx context.Context) {
	ackSub := e.bus.Subscribe(eventbus.Acknowledgement(nil))
	msgSub := e.bus.Subscribe(eventbus.ContactMessage(nil).Or(eventbus.ChannelMessage(nil)))

	e.wg.Add(1)
	go e.ackLoop(ctx, ackSub)

	e.wg.Add(1)
	go e.messageLoop(ctx, msgSub)

	e.wg.Add(1)
	go e.sweepLoop(ctx)

	if e.fetcher != nil {
		waitingSub := e.bus.Subscribe(eventbus.Custom(func(ev wire.Event) bool {
			_, ok := ev.(wire.MessagesWaitingEvent)
			return ok
		}))
		e.wg.Add(1)
		go e.autoFetchLoop(ctx, waitingSub)
	}
}

// autoFetchLoop issues syncNextMessage in a loop on every messagesWaiting
// push until the node reports noMoreMessages, per the specification's
// auto-fetch behavior. Drains run one at a time on this goroutine: a
// messagesWaiting push that arrives during a drain stays queued on the
// subscription and starts another drain once the current one ends.
func (e *Engine) autoFetchLoop(ctx context.Context, sub *eventbus.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	draining := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
			if draining {
				continue
			}
			draining = true
			for {
				noMore, err := e.fetcher.SyncNextMessage(ctx)
				if err != nil {
					log.Printf("reliability: syncNextMessage: %v", err)
					break
				}
				if noMore {
					break
				}
			}
			draining = false
		}
	}
}

// Stop unwinds the engine's background loops and waits for them to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()
}

func (e *Engine) ackLoop(ctx context.Context, sub *eventbus.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			ack, ok := ev.(wire.AcknowledgementEvent)
			if !ok {
				continue
			}
			if !e.acks.Acknowledge(ack.Code) {
				log.Printf("reliability: acknowledgement for unknown code %x", ack.Code)
			}
		}
	}
}

func (e *Engine) messageLoop(ctx context.Context, sub *eventbus.Subscription) {
	defer e.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			e.handleMessage(ev)
		}
	}
}

func (e *Engine) handleMessage(ev wire.Event) {
	switch m := ev.(type) {
	case wire.ContactMessageReceivedEvent:
		contactID := hex.EncodeToString(m.SenderPrefix[:])
		key := directKey(m.SenderTs, m.Text)
		if e.dedup.seen(contactID, key) {
			return
		}
		if e.onMessage != nil {
			e.onMessage(MessageEvent{
				ContactID: contactID,
				SenderTs:  m.SenderTs,
				Text:      m.Text,
			})
		}
	case wire.ChannelMessageReceivedEvent:
		senderName, body := splitSenderText(m.Text)
		key := channelKey(m.SenderTs, senderName, body)
		chanID := channelDedupKey(m.ChannelIndex)
		if e.chanDedup.seen(chanID, key) {
			return
		}

		var resolved []ResolvedReaction
		if reaction, ok := ParseReaction(body); ok {
			if r, ok := e.reactions.Resolve(m.ChannelIndex, reaction); ok {
				resolved = append(resolved, r)
			}
		}
		// Every inbound channel message is indexed regardless of whether it
		// is itself reaction-shaped, so a reaction to it can resolve later.
		resolved = append(resolved, e.reactions.Index(m.ChannelIndex, senderName, m.SenderTs, body)...)

		if e.onMessage != nil {
			e.onMessage(MessageEvent{
				ChannelMsg: true,
				Channel:    m.ChannelIndex,
				SenderName: senderName,
				SenderTs:   m.SenderTs,
				Text:       body,
				Resolved:   resolved,
			})
		}
	}
}

// splitSenderText splits a channel message's wire text on the first
// ": " occurrence into its sender name and body, the convention used for
// public-channel posts. Text with no such separator is treated as having
// no identifiable sender.
func splitSenderText(text string) (senderName, body string) {
	idx := indexOfSeparator(text)
	if idx < 0 {
		return "", text
	}
	return text[:idx], text[idx+2:]
}

func indexOfSeparator(text string) int {
	for i := 0; i+1 < len(text); i++ {
		if text[i] == ':' && text[i+1] == ' ' {
			return i
		}
	}
	return -1
}

func channelDedupKey(idx uint8) string {
	return string([]byte{idx})
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.acks.Sweep()
			if dropped := e.reactions.Sweep(); dropped > 0 {
				log.Printf("reliability: dropped %d expired pending reaction(s)", dropped)
			}
		}
	}
}

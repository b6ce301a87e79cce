// Package eventbus fans parsed wire.Event values out to zero or more
// filtered subscribers. It generalizes the donor project's single dispatch
// switch (one callback per message type) into composable predicates so the
// reliability engine, services, and external callers can all subscribe to
// the same stream with different views of it.
package eventbus

import "github.com/Avi0n/PocketMesh-sub005/internal/wire"

// Filter is a predicate over events. Filters compose with And/Or/Not.
type Filter func(wire.Event) bool

// Any matches every event.
func Any() Filter { return func(wire.Event) bool { return true } }

func (f Filter) And(g Filter) Filter {
	return func(e wire.Event) bool { return f(e) && g(e) }
}

func (f Filter) Or(g Filter) Filter {
	return func(e wire.Event) bool { return f(e) || g(e) }
}

func (f Filter) Not() Filter {
	return func(e wire.Event) bool { return !f(e) }
}

// IsOk matches successful status responses.
func IsOk() Filter {
	return func(e wire.Event) bool { _, ok := e.(wire.OkEvent); return ok }
}

// IsError matches error status responses.
func IsError() Filter {
	return func(e wire.Event) bool { _, ok := e.(wire.ErrorEvent); return ok }
}

// IsMessagesWaiting matches the messagesWaiting push.
func IsMessagesWaiting() Filter {
	return func(e wire.Event) bool { _, ok := e.(wire.MessagesWaitingEvent); return ok }
}

// IsNoMoreMessages matches the noMoreMessages push.
func IsNoMoreMessages() Filter {
	return func(e wire.Event) bool { _, ok := e.(wire.NoMoreMessagesEvent); return ok }
}

// Acknowledgement matches acknowledgement pushes, optionally restricted to a
// specific 4-byte ack code.
func Acknowledgement(code *[4]byte) Filter {
	return func(e wire.Event) bool {
		a, ok := e.(wire.AcknowledgementEvent)
		if !ok {
			return false
		}
		return code == nil || a.Code == *code
	}
}

// ContactMessage matches contact message pushes, optionally restricted to
// senders whose prefix has fromPrefix as a common prefix.
func ContactMessage(fromPrefix []byte) Filter {
	return func(e wire.Event) bool {
		m, ok := e.(wire.ContactMessageReceivedEvent)
		if !ok {
			return false
		}
		return hasPrefix(m.SenderPrefix[:], fromPrefix)
	}
}

// ChannelMessage matches channel message pushes for a specific channel index
// when channel is non-nil.
func ChannelMessage(channel *uint8) Filter {
	return func(e wire.Event) bool {
		m, ok := e.(wire.ChannelMessageReceivedEvent)
		if !ok {
			return false
		}
		return channel == nil || m.ChannelIndex == *channel
	}
}

// StatusResponse matches every statusResponse push. It takes no prefix
// argument: the parsed status carries no key of the responding node, so
// pushes from different nodes are not told apart by this filter.
func StatusResponse() Filter {
	return func(e wire.Event) bool { _, ok := e.(wire.StatusResponseEvent); return ok }
}

// Advertisement matches advertisement pushes, optionally restricted by
// common-prefix match against the carried key/prefix.
func Advertisement(fromPrefix []byte) Filter {
	return func(e wire.Event) bool {
		a, ok := e.(wire.AdvertisementEvent)
		if !ok {
			return false
		}
		return hasPrefix(a.PublicKeyOrPrefix, fromPrefix)
	}
}

// PathUpdate matches pathUpdate pushes for a given prefix/key.
func PathUpdate(forPrefix []byte) Filter {
	return func(e wire.Event) bool {
		p, ok := e.(wire.PathUpdateEvent)
		if !ok {
			return false
		}
		return hasPrefix(p.PublicKeyOrPrefix, forPrefix)
	}
}

// TelemetryResponse matches telemetryResponse pushes.
func TelemetryResponse() Filter {
	return func(e wire.Event) bool { _, ok := e.(wire.TelemetryResponseEvent); return ok }
}

// Custom wraps an arbitrary matcher function as a Filter.
func Custom(match func(wire.Event) bool) Filter { return Filter(match) }

// hasPrefix reports whether prefix is a prefix of b; an empty or nil prefix
// matches everything.
func hasPrefix(b, prefix []byte) bool {
	if len(prefix) == 0 {
		return true
	}
	if len(prefix) > len(b) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

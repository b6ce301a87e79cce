package session

import "github.com/Avi0n/PocketMesh-sub005/internal/wire"

// Category identifies the class of response a submitted command expects.
// The Session installs at most one waiter at a time, keyed by Category, and
// resolves it with the first Event of arrival order that matches.
type Category int

const (
	// CategoryOkError matches either an OkEvent or an ErrorEvent, the
	// generic response shape for commands with no richer payload.
	CategoryOkError Category = iota
	CategoryDeviceInfo
	CategorySelfInfo
	CategoryCurrentTime
	CategoryBattery
	// CategoryContacts matches the multi-frame contactsStart..contact*..
	// contactsEnd sequence; see feedContacts in session.go.
	CategoryContacts
	CategoryChannelInfo
	CategoryMessageSent
	CategoryLogin
	// CategorySyncNext matches the response to a syncNextMessage command:
	// a delivered message push, the noMoreMessages sentinel, or an error.
	CategorySyncNext
)

// matches reports whether ev satisfies category c. ParseFailureEvent never
// matches any category — the Session treats it as an out-of-band signal
// handled by the parse-failure streak counter, not as a waiter resolution.
func (c Category) matches(ev wire.Event) bool {
	switch c {
	case CategoryOkError:
		switch ev.(type) {
		case wire.OkEvent, wire.ErrorEvent:
			return true
		}
	case CategoryDeviceInfo:
		_, ok := ev.(wire.DeviceInfoEvent)
		return ok
	case CategorySelfInfo:
		_, ok := ev.(wire.SelfInfoEvent)
		return ok
	case CategoryCurrentTime:
		_, ok := ev.(wire.CurrentTimeEvent)
		return ok
	case CategoryBattery:
		_, ok := ev.(wire.BatteryEvent)
		return ok
	case CategoryContacts:
		_, ok := ev.(wire.ContactsStartEvent)
		return ok
	case CategoryChannelInfo:
		switch ev.(type) {
		case wire.ChannelInfoEvent, wire.ErrorEvent:
			return true
		}
	case CategoryMessageSent:
		switch ev.(type) {
		case wire.MessageSentEvent, wire.ErrorEvent:
			return true
		}
	case CategoryLogin:
		switch ev.(type) {
		case wire.LoginSuccessEvent, wire.LoginFailEvent:
			return true
		}
	case CategorySyncNext:
		switch ev.(type) {
		case wire.NoMoreMessagesEvent, wire.ContactMessageReceivedEvent, wire.ChannelMessageReceivedEvent, wire.ErrorEvent:
			return true
		}
	}
	return false
}

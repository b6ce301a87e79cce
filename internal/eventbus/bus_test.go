package eventbus

import (
	"testing"

	"github.com/Avi0n/PocketMesh-sub005/internal/wire"
)

func TestFilterComposition(t *testing.T) {
	ok := IsOk()
	isErr := IsError()
	okEvent := wire.OkEvent{}
	errEvent := wire.ErrorEvent{}

	or := ok.Or(isErr)
	if or(okEvent) != (ok(okEvent) || isErr(okEvent)) {
		t.Fatal("or composition mismatch on ok event")
	}
	if or(errEvent) != (ok(errEvent) || isErr(errEvent)) {
		t.Fatal("or composition mismatch on error event")
	}

	and := ok.And(isErr)
	if and(okEvent) != (ok(okEvent) && isErr(okEvent)) {
		t.Fatal("and composition mismatch")
	}

	not := ok.Not()
	if not(okEvent) == ok(okEvent) {
		t.Fatal("not composition mismatch")
	}
}

func TestPublishDeliversToMatchingSubscribersOnly(t *testing.T) {
	b := New(4, nil, nil)
	defer b.Close()

	okSub := b.Subscribe(IsOk())
	defer okSub.Close()
	errSub := b.Subscribe(IsError())
	defer errSub.Close()

	b.Publish(wire.OkEvent{})

	select {
	case <-okSub.Events():
	default:
		t.Fatal("ok subscriber did not receive matching event")
	}
	select {
	case <-errSub.Events():
		t.Fatal("error subscriber should not have received an ok event")
	default:
	}
}

func TestSubscriberOverflowDropsSlowSubscriber(t *testing.T) {
	var overflowed uint64
	b := New(1, func(id uint64) { overflowed = id }, nil)
	defer b.Close()

	sub := b.Subscribe(Any())
	b.Publish(wire.OkEvent{}) // fills the 1-slot queue
	b.Publish(wire.OkEvent{}) // should overflow and drop the subscriber

	if overflowed != sub.id {
		t.Fatalf("expected overflow callback for subscriber %d, got %d", sub.id, overflowed)
	}

	if _, open := <-sub.Events(); open {
		// first buffered event still readable
	}
}

func TestHasPrefixEmptyMatchesAll(t *testing.T) {
	if !hasPrefix([]byte{1, 2, 3}, nil) {
		t.Fatal("nil prefix should match")
	}
	if hasPrefix([]byte{1, 2}, []byte{1, 2, 3}) {
		t.Fatal("longer prefix should not match shorter data")
	}
}

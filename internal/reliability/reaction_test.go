package reliability

import (
	"testing"
	"time"
)

func TestParseReactionGrammar(t *testing.T) {
	r, ok := ParseReaction("👍 @[alice] lunch at noon? [abcdefgh]")
	if !ok {
		t.Fatal("expected grammar to match")
	}
	if r.Emoji != "👍" || r.TargetSender != "alice" || r.ContentPreview != "lunch at noon?" || r.ID != "abcdefgh" {
		t.Fatalf("unexpected parse result: %+v", r)
	}
}

func TestParseReactionRejectsPlainText(t *testing.T) {
	if _, ok := ParseReaction("just a normal channel message"); ok {
		t.Fatal("plain text must not parse as a reaction")
	}
}

func TestParseReactionNormalizesID(t *testing.T) {
	r, ok := ParseReaction("👍 @[bob] hey [ABCDEFGH]")
	if !ok {
		t.Fatal("expected grammar to match")
	}
	if r.ID != "abcdefgh" {
		t.Fatalf("expected normalized lowercase id, got %q", r.ID)
	}
}

func TestGeneratePreviewNoTruncation(t *testing.T) {
	if got := GeneratePreview("short", 80); got != "short" {
		t.Fatalf("expected unchanged text, got %q", got)
	}
}

func TestGeneratePreviewTruncatesWithEllipsis(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	got := GeneratePreview(string(long), 10)
	if len(got) == 0 {
		t.Fatal("expected non-empty preview")
	}
	if got[len(got)-len("…"):] != "…" {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
}

func TestReactionIndexResolvesExactMatch(t *testing.T) {
	idx := NewReactionIndex(512, 120*time.Second, 80)
	idx.Index(1, "alice", 1000, "lunch at noon?")

	reaction := ParsedReaction{
		TargetSender:   "alice",
		ContentPreview: "lunch at noon?",
		ID:             messageHash(1000, "lunch at noon?"),
	}

	_, ok := idx.Resolve(1, reaction)
	if !ok {
		t.Fatal("expected resolution against freshly indexed message")
	}
}

func TestReactionIndexQueuesUnresolvedAndResolvesOnLaterIndex(t *testing.T) {
	idx := NewReactionIndex(512, 120*time.Second, 80)

	reaction := ParsedReaction{
		TargetSender:   "alice",
		ContentPreview: "lunch at noon?",
		ID:             messageHash(1000, "lunch at noon?"),
	}

	if _, ok := idx.Resolve(1, reaction); ok {
		t.Fatal("reaction arriving before its target must not resolve yet")
	}

	resolved := idx.Index(1, "alice", 1000, "lunch at noon?")
	if len(resolved) != 1 {
		t.Fatalf("expected the pending reaction to resolve on indexing, got %d", len(resolved))
	}
}

func TestReactionIndexDropsOnPreviewMismatch(t *testing.T) {
	idx := NewReactionIndex(512, 120*time.Second, 80)
	idx.Index(1, "alice", 1000, "lunch at noon?")

	reaction := ParsedReaction{
		TargetSender:   "alice",
		ContentPreview: "dinner at eight?",
		ID:             messageHash(1000, "lunch at noon?"),
	}

	if _, ok := idx.Resolve(1, reaction); ok {
		t.Fatal("a hash match with a mismatched preview must not resolve")
	}
}

func TestReactionIndexSweepExpiresPending(t *testing.T) {
	idx := NewReactionIndex(512, 1*time.Millisecond, 80)

	reaction := ParsedReaction{TargetSender: "alice", ContentPreview: "x", ID: "abcdefgh"}
	idx.Resolve(1, reaction)

	time.Sleep(5 * time.Millisecond)
	if dropped := idx.Sweep(); dropped != 1 {
		t.Fatalf("expected 1 expired pending reaction, got %d", dropped)
	}
}

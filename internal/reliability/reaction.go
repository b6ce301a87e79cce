package reliability

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
	"sync"
	"time"
	"unicode/utf8"
)

// ParsedReaction is a channel text message recognized as the reaction
// grammar `{emoji} @[{sender}] {preview} [{id}]`.
type ParsedReaction struct {
	Emoji          string
	TargetSender   string
	ContentPreview string
	ID             string // normalized 8-char Crockford-Base32
}

// reactionGrammar matches "{emoji} @[{sender}] {preview} [{id}]". The emoji
// token is whatever non-whitespace run precedes "@[", and the id is
// exactly 8 characters captured loosely here; normalizeCrockfordID rejects
// anything that doesn't survive normalization.
var reactionGrammar = regexp.MustCompile(`^(\S+)\s+@\[([^\]]+)\]\s+(.+?)\s+\[([0-9A-Za-z]{8})\]$`)

// ParseReaction attempts to parse text as a ParsedReaction. ok is false for
// any text that doesn't match the grammar or whose trailing id isn't a
// valid (post-normalization) Crockford-Base32 code.
func ParseReaction(text string) (ParsedReaction, bool) {
	m := reactionGrammar.FindStringSubmatch(text)
	if m == nil {
		return ParsedReaction{}, false
	}
	id, ok := normalizeCrockfordID(m[4])
	if !ok {
		return ParsedReaction{}, false
	}
	return ParsedReaction{
		Emoji:          m[1],
		TargetSender:   m[2],
		ContentPreview: m[3],
		ID:             id,
	}, true
}

// messageHash renders the first 40 bits of SHA-256(senderTs_le4 || text) as
// 8 lowercase Crockford-Base32 characters, the id a reaction references.
func messageHash(senderTs uint32, text string) string {
	var in [4]byte
	binary.LittleEndian.PutUint32(in[:], senderTs)
	h := sha256.New()
	h.Write(in[:])
	h.Write([]byte(text))
	sum := h.Sum(nil)
	var first5 [5]byte
	copy(first5[:], sum[:5])
	return encodeCrockford40(first5)
}

// GeneratePreview truncates text on a rune boundary and appends "…" if
// truncation occurred; the result, ellipsis included, is at most maxBytes
// UTF-8 bytes. An empty result is invalid per the specification; callers
// should treat it as "no preview".
func GeneratePreview(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	// Reserve room for the ellipsis so it does not push the preview over
	// maxBytes; below that size the text is cut without one.
	suffix := "…"
	cut := maxBytes - len(suffix)
	if cut < 0 {
		cut, suffix = max(maxBytes, 0), ""
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + suffix
}

// indexEntry is one channel message recorded for reaction resolution.
type indexEntry struct {
	Preview   string
	SenderTs  uint32
	IndexedAt time.Time
}

// pendingReaction is a reaction whose target could not yet be resolved,
// queued in case a matching message is indexed before it expires.
type pendingReaction struct {
	ChannelIndex uint8
	Reaction     ParsedReaction
	QueuedAt     time.Time
}

// ReactionIndex tracks recent channel messages (capacity-bounded LRU by
// indexing recency, keyed by channelIndex|senderName|hash; lookups do not
// refresh an entry) and a TTL-bounded queue of
// reactions that arrived before their target was indexed.
type ReactionIndex struct {
	mu           sync.Mutex
	capacity     int
	previewBytes int
	order        []string // insertion order of keys still live, oldest first
	byKey        map[string]indexEntry
	pending      []pendingReaction
	ttl          time.Duration
}

func NewReactionIndex(capacity int, ttl time.Duration, previewBytes int) *ReactionIndex {
	return &ReactionIndex{
		capacity:     capacity,
		previewBytes: previewBytes,
		byKey:        make(map[string]indexEntry),
		ttl:          ttl,
	}
}

func indexKey(channelIndex uint8, senderName, hash string) string {
	return fmt.Sprintf("%d|%s|%s", channelIndex, senderName, hash)
}

// Index records a channel message and returns any pending reactions it
// resolves (to be emitted by the caller), per the specification's "scan the
// pending queue when a new message is indexed" rule.
func (r *ReactionIndex) Index(channelIndex uint8, senderName string, senderTs uint32, text string) []ResolvedReaction {
	hash := messageHash(senderTs, text)
	preview := GeneratePreview(text, r.previewBytes)
	key := indexKey(channelIndex, senderName, hash)

	r.mu.Lock()
	if _, exists := r.byKey[key]; exists {
		// Re-indexing moves the key to the newest end of the order.
		for i, k := range r.order {
			if k == key {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.byKey[key] = indexEntry{Preview: preview, SenderTs: senderTs, IndexedAt: time.Now()}
	r.order = append(r.order, key)
	r.evictLocked()

	var resolved []ResolvedReaction
	remaining := r.pending[:0]
	for _, p := range r.pending {
		candidateKey := indexKey(p.ChannelIndex, p.Reaction.TargetSender, p.Reaction.ID)
		if candidateKey == key && preview == p.Reaction.ContentPreview {
			resolved = append(resolved, ResolvedReaction{ChannelIndex: p.ChannelIndex, Reaction: p.Reaction, TargetMessageID: key})
			continue
		}
		remaining = append(remaining, p)
	}
	r.pending = remaining
	r.mu.Unlock()
	return resolved
}

// evictLocked drops the oldest entries once capacity is exceeded. Caller
// must hold r.mu.
func (r *ReactionIndex) evictLocked() {
	for len(r.order) > r.capacity {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.byKey, oldest)
	}
}

// ResolvedReaction is a ParsedReaction successfully matched to prior content.
type ResolvedReaction struct {
	ChannelIndex    uint8
	Reaction        ParsedReaction
	TargetMessageID string
}

// Resolve attempts to resolve a reaction against the index; if it cannot be
// resolved yet, it is enqueued as pending (subject to TTL) and ok is false.
func (r *ReactionIndex) Resolve(channelIndex uint8, reaction ParsedReaction) (ResolvedReaction, bool) {
	key := indexKey(channelIndex, reaction.TargetSender, reaction.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byKey[key]
	if ok && entry.Preview == reaction.ContentPreview {
		return ResolvedReaction{ChannelIndex: channelIndex, Reaction: reaction, TargetMessageID: key}, true
	}

	// No exact match. A hash with no indexed entry is queued as pending; an
	// indexed entry whose preview differs leaves the reaction unresolved
	// and it is dropped rather than queued.
	if !ok {
		r.pending = append(r.pending, pendingReaction{ChannelIndex: channelIndex, Reaction: reaction, QueuedAt: time.Now()})
	}
	return ResolvedReaction{}, false
}

// Sweep drops pending reactions older than the configured TTL and reports
// how many were dropped.
func (r *ReactionIndex) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.ttl)
	kept := r.pending[:0]
	dropped := 0
	for _, p := range r.pending {
		if p.QueuedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	r.pending = kept
	return dropped
}

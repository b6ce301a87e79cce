package reliability

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupStore holds one small fixed-capacity LRU per peer (direct contacts)
// or per channel, matching the specification's requirement that eviction be
// strictly by least-recent insertion/touch within each peer/channel's own
// bounded window rather than a single shared cache.
type dedupStore struct {
	mu       sync.Mutex
	capacity int
	peers    map[string]*lru.Cache[string, struct{}]
}

func newDedupStore(capacity int) *dedupStore {
	return &dedupStore{capacity: capacity, peers: make(map[string]*lru.Cache[string, struct{}])}
}

// seen reports whether key has already been recorded for peer, recording it
// if not. peer is the contactId for direct dedup or the channel index
// (stringified) for channel dedup.
func (d *dedupStore) seen(peer, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cache, ok := d.peers[peer]
	if !ok {
		var err error
		cache, err = lru.New[string, struct{}](d.capacity)
		if err != nil {
			// Only possible with a non-positive capacity, which is a
			// configuration bug, not a runtime condition to recover from.
			panic(fmt.Sprintf("reliability: invalid dedup capacity %d: %v", d.capacity, err))
		}
		d.peers[peer] = cache
	}

	if cache.Contains(key) {
		cache.Get(key) // touch, so recency reflects this check too
		return true
	}
	cache.Add(key, struct{}{})
	return false
}

// directKey builds the dedup key for a direct message: (senderTs, text); the
// contactId is carried by the per-peer cache the key is stored in.
func directKey(senderTs uint32, text string) string {
	return fmt.Sprintf("%d|%s", senderTs, text)
}

// channelKey builds the dedup key for a channel message: (senderTs, senderName,
// text); the channelIndex is carried by the per-channel cache the key is stored in.
func channelKey(senderTs uint32, senderName, text string) string {
	return fmt.Sprintf("%d|%s|%s", senderTs, senderName, text)
}

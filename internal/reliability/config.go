// Package reliability implements the retry, deduplication, and
// reaction-resolution layer that sits over a Session: it tracks in-flight
// sends by their 32-bit acknowledgment code, escalates retries from direct
// routing to flood, deduplicates inbound messages with small per-peer/
// per-channel LRU caches, and indexes channel messages so emoji reactions
// can be resolved back to the content they target.
package reliability

import "time"

// RetryConfig tunes the direct-to-flood escalation ladder.
type RetryConfig struct {
	MaxAttempts                    int
	FloodAfter                     int
	MaxFloodAttempts               int
	FloodFallbackOnRetry           bool
	TriggerPathDiscoveryAfterFlood bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:                    4,
		FloodAfter:                     2,
		MaxFloodAttempts:               2,
		FloodFallbackOnRetry:           true,
		TriggerPathDiscoveryAfterFlood: true,
	}
}

// backoff returns the inter-attempt delay before attempt k (1-indexed):
// 200ms * 2^(k-1).
func (r RetryConfig) backoff(k int) time.Duration {
	return 200 * time.Millisecond * time.Duration(1<<uint(k-1))
}

// useFlood reports whether attempt k (1-indexed) should use flood routing.
func (r RetryConfig) useFlood(k int) bool {
	if k <= r.FloodAfter {
		return false
	}
	if !r.FloodFallbackOnRetry {
		return false
	}
	return k-r.FloodAfter <= r.MaxFloodAttempts
}

// DedupConfig bounds the per-peer/per-channel inbound dedup caches.
type DedupConfig struct {
	DirectCapacity  int
	ChannelCapacity int
}

func DefaultDedupConfig() DedupConfig {
	return DedupConfig{DirectCapacity: 5, ChannelCapacity: 10}
}

// Config is the full engine configuration.
type Config struct {
	Retry                 RetryConfig
	Dedup                 DedupConfig
	ReactionIndexCapacity int
	PendingReactionTTL    time.Duration
	SweepInterval         time.Duration
	ReactionPreviewBytes  int
}

func DefaultConfig() Config {
	return Config{
		Retry:                 DefaultRetryConfig(),
		Dedup:                 DefaultDedupConfig(),
		ReactionIndexCapacity: 512,
		PendingReactionTTL:    120 * time.Second,
		SweepInterval:         1 * time.Second,
		ReactionPreviewBytes:  80,
	}
}

// Package affinity remembers which pipeline last served a conversation so
// follow-up turns prefer the same backend's KV cache. The hint only lowers a
// candidate's score; it never overrides eligibility or health.
package affinity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/tidwall/gjson"

	"github.com/omarluq/cc-router/internal/config"
)

// Cache maps conversation fingerprints to pipeline ids.
type Cache struct {
	store *ristretto.Cache[string, string]
	ttl   time.Duration
}

// New builds the cache per config. A disabled config returns a nil cache,
// which every method tolerates.
func New(cfg config.AffinityConfig) (*Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	maxEntries := int64(cfg.GetMaxEntries())
	store, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{store: store, ttl: cfg.GetTTL()}, nil
}

// Fingerprint derives a stable conversation key from the system prompt and
// the first user message of a raw request body. Requests without either get
// no fingerprint.
func Fingerprint(body []byte) string {
	h := sha256.New()
	seen := false

	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		h.Write([]byte(sys.Raw))
		seen = true
	}

	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		if msg.Get("role").Str != "user" {
			return true
		}
		h.Write([]byte(msg.Get("content").Raw))
		seen = true
		return false
	})

	if !seen {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Hint returns the remembered pipeline for a fingerprint.
func (c *Cache) Hint(fingerprint string) string {
	if c == nil || fingerprint == "" {
		return ""
	}
	id, ok := c.store.Get(fingerprint)
	if !ok {
		return ""
	}
	return id
}

// Remember records the pipeline that served a fingerprint.
func (c *Cache) Remember(fingerprint, pipelineID string) {
	if c == nil || fingerprint == "" || pipelineID == "" {
		return
	}
	c.store.SetWithTTL(fingerprint, pipelineID, 1, c.ttl)
}

// Close releases the underlying cache.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	c.store.Close()
}

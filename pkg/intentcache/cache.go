// Package intentcache holds the deduplicated, priority-ordered pool of open
// intents polled from chain, plus the embedding cache keyed by intent hash.
// Grounded on the teacher's pkg/intent package (intent struct + lookup),
// generalized from a blockchain-intent-execution record to a
// natural-language marketplace intent.
package intentcache

import (
	"sort"
	"sync"

	"github.com/kase1111-hash/mediator-node/pkg/model"
)

// Cache is the shared region (a) of the concurrency model: the intent pool
// plus its embedding map, bounded by maxIntentsCache.
type Cache struct {
	mu sync.RWMutex

	maxSize    int
	intents    map[string]*model.Intent
	embeddings map[string][]float32
	pendingPairs map[string]int // intent hash -> count of unresolved candidate pairs this cycle
}

// New constructs an empty Cache bounded at maxSize entries.
func New(maxSize int) *Cache {
	return &Cache{
		maxSize:      maxSize,
		intents:      make(map[string]*model.Intent),
		embeddings:   make(map[string][]float32),
		pendingPairs: make(map[string]int),
	}
}

// Upsert inserts or replaces an intent, evicting the lowest-priority entry
// if the cache is at capacity and the intent is new.
func (c *Cache) Upsert(intent model.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.intents[intent.Hash]; !exists && len(c.intents) >= c.maxSize {
		c.evictOneLocked()
	}
	stored := intent
	c.intents[intent.Hash] = &stored
}

func (c *Cache) evictOneLocked() {
	// Evict the intent with the lowest priority, then oldest createdAt, to
	// make room — a best-effort policy; correctness does not depend on it.
	var victim string
	var victimIntent *model.Intent
	for h, i := range c.intents {
		if victimIntent == nil || i.Priority < victimIntent.Priority ||
			(i.Priority == victimIntent.Priority && i.CreatedAt < victimIntent.CreatedAt) {
			victim = h
			victimIntent = i
		}
	}
	if victim != "" {
		delete(c.intents, victim)
		delete(c.embeddings, victim)
		delete(c.pendingPairs, victim)
	}
}

// Remove drops an intent and its embedding.
func (c *Cache) Remove(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.intents, hash)
	delete(c.embeddings, hash)
	delete(c.pendingPairs, hash)
}

// Get returns a copy of the cached intent, if present.
func (c *Cache) Get(hash string) (model.Intent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.intents[hash]
	if !ok {
		return model.Intent{}, false
	}
	return *i, true
}

// SetEmbedding caches the embedding vector for a hash.
func (c *Cache) SetEmbedding(hash string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embeddings[hash] = vec
}

// Embedding returns the cached embedding for a hash, if any.
func (c *Cache) Embedding(hash string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.embeddings[hash]
	return v, ok
}

// SetPendingPairs records how many unresolved candidate pairs an intent has
// this cycle, used by TopN's priority ordering.
func (c *Cache) SetPendingPairs(hash string, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingPairs[hash] = count
}

// TopN returns up to n intents ordered per spec.md §4.1 step 2: fewer
// pending candidate-pairs first, then older createdAt, then lexicographic
// hash — a total order, so ties never cause nondeterministic output.
func (c *Cache) TopN(n int) []model.Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]model.Intent, 0, len(c.intents))
	for _, i := range c.intents {
		all = append(all, *i)
	}
	pending := c.pendingPairs

	sort.Slice(all, func(i, j int) bool {
		pi, pj := pending[all[i].Hash], pending[all[j].Hash]
		if pi != pj {
			return pi < pj
		}
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt < all[j].CreatedAt
		}
		return all[i].Hash < all[j].Hash
	})

	if n < len(all) {
		all = all[:n]
	}
	return all
}

// PruneEmbeddings drops any cached embedding whose intent is no longer in
// the cache (spec.md §4.1 step 8 cleanup).
func (c *Cache) PruneEmbeddings() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash := range c.embeddings {
		if _, ok := c.intents[hash]; !ok {
			delete(c.embeddings, hash)
		}
	}
}

// Len returns the number of cached intents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.intents)
}

// All returns a copy of every cached intent, used to rehydrate the vector
// index on restart.
func (c *Cache) All() []model.Intent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.Intent, 0, len(c.intents))
	for _, i := range c.intents {
		out = append(out, *i)
	}
	return out
}

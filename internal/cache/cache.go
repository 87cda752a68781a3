package cache

import (
	"container/list"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/dhintech/translate-gateway/internal/observability"
)

const shardCount = 16

// Config tunes cache capacity and the fuzzy-match path.
type Config struct {
	MaxEntries     int
	FuzzyThreshold float64 // Minimum token-overlap similarity for a fuzzy hit
	FuzzyScanLimit int     // Max same-language-pair entries scanned per fuzzy lookup
	FuzzyMaxLen    int     // Fuzzy path only for queries at most this many bytes
}

// Result describes a successful lookup.
type Result struct {
	Translation string
	Fuzzy       bool    // True when served by a near-duplicate entry
	Similarity  float64 // 1.0 for exact hits
}

// Stats is a point-in-time snapshot for the management surface.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       uint64  `json:"hits"`
	FuzzyHits  uint64  `json:"fuzzy_hits"`
	Misses     uint64  `json:"misses"`
	Evictions  uint64  `json:"evictions"`
	HitRate    float64 `json:"hit_rate"`
}

type entry struct {
	key         string // normalized text + language pair
	langPair    string
	normText    string
	tokens      []string
	translation string
	insertedAt  time.Time
	lastAccess  time.Time
	useCount    uint64
}

// Cache is a bounded LRU of (normalized source text, language pair) to
// translation, with a bounded fuzzy-match path on exact miss. Entries hash
// to independent shards so lookups on unrelated keys never serialize on one
// lock; the fuzzy scan visits shards one at a time under each shard's own
// lock, capped at FuzzyScanLimit candidates total.
type Cache struct {
	cfg    Config
	shards []*shard

	statsMu   sync.Mutex
	hitCount  uint64
	fuzzyHits uint64
	missCount uint64
	evictions uint64
}

type shard struct {
	mu    sync.Mutex
	cap   int
	items map[string]*list.Element // key -> element holding *entry
	order *list.List               // front = most recently used
	// byPair indexes keys per language pair for the fuzzy scan
	byPair map[string]map[string]struct{}
}

// New creates a cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.FuzzyScanLimit <= 0 {
		cfg.FuzzyScanLimit = 64
	}
	if cfg.FuzzyMaxLen <= 0 {
		cfg.FuzzyMaxLen = 80
	}

	// Per-shard capacities sum exactly to MaxEntries, so the global bound
	// holds for any configured value. Tiny capacities get fewer shards
	// rather than shards that can hold nothing.
	n := shardCount
	if cfg.MaxEntries < n {
		n = cfg.MaxEntries
	}
	base, extra := cfg.MaxEntries/n, cfg.MaxEntries%n

	c := &Cache{
		cfg:    cfg,
		shards: make([]*shard, n),
	}
	for i := range c.shards {
		capacity := base
		if i < extra {
			capacity++
		}
		c.shards[i] = &shard{
			cap:    capacity,
			items:  make(map[string]*list.Element),
			order:  list.New(),
			byPair: make(map[string]map[string]struct{}),
		}
	}
	return c
}

// Normalize folds case and collapses whitespace so near-identical inputs
// share a cache key.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Lookup returns the cached translation for (text, srcLang, tgtLang).
// Exact match is tried first; on miss, same-language-pair entries are
// scanned (bounded) for a near-duplicate within the similarity threshold.
// A hit of either kind refreshes the entry's recency.
func (c *Cache) Lookup(text, srcLang, tgtLang string) (Result, bool) {
	norm := Normalize(text)
	if norm == "" {
		return Result{}, false
	}

	pair := langPair(srcLang, tgtLang)
	key := cacheKey(norm, pair)
	s := c.shardFor(key)

	s.mu.Lock()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		if e.langPair != pair {
			// Keyed entry disagrees with its own language pair: a defect.
			// Self-heal by dropping the entry and reporting a miss.
			s.removeLocked(el)
			s.mu.Unlock()
			observability.RecordError("cache_inconsistency", "cache")
			c.recordMiss()
			return Result{}, false
		}
		e.lastAccess = time.Now()
		e.useCount++
		s.order.MoveToFront(el)
		translation := e.translation
		s.mu.Unlock()
		c.recordHit(false)
		return Result{Translation: translation, Similarity: 1.0}, true
	}
	s.mu.Unlock()

	if res, ok := c.fuzzyLookup(norm, pair); ok {
		c.recordHit(true)
		return res, true
	}

	c.recordMiss()
	return Result{}, false
}

// fuzzyLookup scans same-language-pair entries across shards, one shard
// lock at a time, for the closest candidate at or above the threshold.
func (c *Cache) fuzzyLookup(norm, pair string) (Result, bool) {
	if c.cfg.FuzzyThreshold <= 0 || len(norm) > c.cfg.FuzzyMaxLen {
		return Result{}, false
	}

	queryTokens := strings.Fields(norm)
	scanned := 0
	bestScore := 0.0
	var bestKey string
	var bestShard *shard
	var bestTranslation string
	var bestAccess time.Time

	for _, s := range c.shards {
		if scanned >= c.cfg.FuzzyScanLimit {
			break
		}
		s.mu.Lock()
		for otherKey := range s.byPair[pair] {
			if scanned >= c.cfg.FuzzyScanLimit {
				break
			}
			scanned++
			el := s.items[otherKey]
			if el == nil {
				continue
			}
			e := el.Value.(*entry)
			score := tokenOverlap(queryTokens, e.tokens)
			if score < c.cfg.FuzzyThreshold {
				continue
			}
			// Prefer higher similarity; break ties toward recency.
			if score > bestScore || (score == bestScore && e.lastAccess.After(bestAccess)) {
				bestScore = score
				bestKey = otherKey
				bestShard = s
				bestTranslation = e.translation
				bestAccess = e.lastAccess
			}
		}
		s.mu.Unlock()
	}

	if bestShard == nil {
		return Result{}, false
	}

	// Refresh recency; the entry may have been evicted between the scan and
	// now, in which case the stale translation is still a valid answer.
	bestShard.mu.Lock()
	if el, ok := bestShard.items[bestKey]; ok {
		e := el.Value.(*entry)
		e.lastAccess = time.Now()
		e.useCount++
		bestShard.order.MoveToFront(el)
	}
	bestShard.mu.Unlock()

	return Result{Translation: bestTranslation, Fuzzy: true, Similarity: bestScore}, true
}

// Store inserts or replaces the translation for (text, srcLang, tgtLang),
// evicting the least-recently-used entry in the target shard at capacity.
func (c *Cache) Store(text, srcLang, tgtLang, translation string) {
	norm := Normalize(text)
	if norm == "" || translation == "" {
		return
	}

	pair := langPair(srcLang, tgtLang)
	key := cacheKey(norm, pair)
	s := c.shardFor(key)

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.translation = translation
		e.lastAccess = now
		s.order.MoveToFront(el)
		return
	}

	for s.order.Len() >= s.cap {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
		c.recordEviction()
	}

	e := &entry{
		key:         key,
		langPair:    pair,
		normText:    norm,
		tokens:      strings.Fields(norm),
		translation: translation,
		insertedAt:  now,
		lastAccess:  now,
		useCount:    1,
	}
	s.items[key] = s.order.PushFront(e)
	if s.byPair[pair] == nil {
		s.byPair[pair] = make(map[string]struct{})
	}
	s.byPair[pair][key] = struct{}{}
}

// Len returns the current number of entries across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.order.Len()
		s.mu.Unlock()
	}
	return n
}

// Clear drops every entry.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]*list.Element)
		s.order = list.New()
		s.byPair = make(map[string]map[string]struct{})
		s.mu.Unlock()
	}
}

// Stats returns a snapshot of cache counters for the management surface.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	hits, fuzzy, misses, evictions := c.hitCount, c.fuzzyHits, c.missCount, c.evictions
	c.statsMu.Unlock()

	total := hits + fuzzy + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits+fuzzy) / float64(total)
	}

	return Stats{
		Entries:    c.Len(),
		MaxEntries: c.cfg.MaxEntries,
		Hits:       hits,
		FuzzyHits:  fuzzy,
		Misses:     misses,
		Evictions:  evictions,
		HitRate:    rate,
	}
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Cache) recordHit(fuzzy bool) {
	c.statsMu.Lock()
	if fuzzy {
		c.fuzzyHits++
	} else {
		c.hitCount++
	}
	c.statsMu.Unlock()
	if fuzzy {
		observability.RecordCacheLookup("fuzzy_hit")
	} else {
		observability.RecordCacheLookup("hit")
	}
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.missCount++
	c.statsMu.Unlock()
	observability.RecordCacheLookup("miss")
}

func (c *Cache) recordEviction() {
	c.statsMu.Lock()
	c.evictions++
	c.statsMu.Unlock()
	observability.RecordCacheEviction()
}

// removeLocked unlinks an element from the shard. Caller must hold s.mu.
func (s *shard) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	s.order.Remove(el)
	delete(s.items, e.key)
	if keys, ok := s.byPair[e.langPair]; ok {
		delete(keys, e.key)
		if len(keys) == 0 {
			delete(s.byPair, e.langPair)
		}
	}
}

func langPair(srcLang, tgtLang string) string {
	return srcLang + ">" + tgtLang
}

func cacheKey(normText, pair string) string {
	return normText + "|" + pair
}

// tokenOverlap computes Jaccard similarity over word sets.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

package trackcache

import (
	"sync"
	"time"

	"github.com/BearBump/TrackHooks/internal/models"
)

// Cache — процессный кэш результатов трекинга по (carrierId, trackingNumber).
// Это коалесcер нагрузки на API перевозчиков, а не источник истины:
// несколько вебхуков на одну посылку делят один запрос в пределах TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	maxSize int

	hits    int64
	misses  int64
	expired int64
	evicted int64
}

type entry struct {
	info       *models.TrackInfo
	insertedAt time.Time
}

const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 1000
)

func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

func cacheKey(carrierID, trackingNumber string) string {
	return carrierID + "|" + trackingNumber
}

// Get возвращает запись не старше TTL. Протухшая запись удаляется и
// считается промахом.
func (c *Cache) Get(carrierID, trackingNumber string) *models.TrackInfo {
	k := cacheKey(carrierID, trackingNumber)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		c.misses++
		return nil
	}
	if time.Since(e.insertedAt) > c.ttl {
		delete(c.entries, k)
		c.expired++
		c.misses++
		return nil
	}
	c.hits++
	return e.info
}

// Set вставляет или заменяет запись. При переполнении вытесняется
// единственная запись с самым старым insertedAt.
func (c *Cache) Set(carrierID, trackingNumber string, info *models.TrackInfo) {
	k := cacheKey(carrierID, trackingNumber)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestAt time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
		c.evicted++
	}

	c.entries[k] = entry{info: info, insertedAt: time.Now()}
}

func (c *Cache) Invalidate(carrierID, trackingNumber string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(carrierID, trackingNumber))
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Cleanup выбрасывает все протухшие записи, возвращает число удалённых.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if time.Since(e.insertedAt) > c.ttl {
			delete(c.entries, k)
			c.expired++
			n++
		}
	}
	return n
}

type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"maxSize"`
	TTLMillis int64 `json:"ttlMillis"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Expired   int64 `json:"expired"`
	Evicted   int64 `json:"evicted"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		TTLMillis: c.ttl.Milliseconds(),
		Hits:      c.hits,
		Misses:    c.misses,
		Expired:   c.expired,
		Evicted:   c.evicted,
	}
}

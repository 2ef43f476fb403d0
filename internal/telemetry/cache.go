package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by this package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

const (
	// DefaultSource is the sentinel source key for samples that arrive
	// without a source label (single-producer paths).
	DefaultSource = "default"

	// DefaultTTL is the freshness window applied when a caller does not
	// supply one.
	DefaultTTL = 30 * time.Second
)

// DataPoint is one cached telemetry sample.
type DataPoint struct {
	Path      string    `json:"path"`
	Source    string    `json:"source"`
	Value     Value     `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// pathEntry holds every source's latest sample for one path.
//
// Each entry has its own lock so the delta stream writing path A never
// contends with a widget reading path B. latest tracks which source wrote
// most recently, so source-less reads need no scan.
type pathEntry struct {
	mu      sync.RWMutex
	samples map[string]DataPoint
	latest  string
}

// Cache is the (path, source)-keyed registry of latest telemetry samples.
//
// Writes come from a single dispatch goroutine per connection at sensor
// rate (tens of paths at several Hz); reads come from every widget
// refresh. Samples are overwritten by arrival order, never compared by
// timestamp: the upstream stream is already ordered per connection, and
// reordering here would break last-wins semantics. Two sources updated in
// the same batch resolve to whichever write was applied last.
//
// All public methods are thread-safe.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*pathEntry
	ttl     time.Duration
	logger  Logger

	// now is the clock used for freshness checks. Tests swap it out.
	now func() time.Time
}

// NewCache creates an empty data point cache with the default TTL.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*pathEntry),
		ttl:     DefaultTTL,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	c.logger = logger
}

// SetDefaultTTL overrides the freshness window used when IsFresh is
// called without one. Non-positive values are ignored.
func (c *Cache) SetDefaultTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Put installs or overwrites the sample for (path, source) and marks that
// source as the path's most recent writer. An empty source stores under
// the DefaultSource sentinel. Empty paths are dropped.
func (c *Cache) Put(path, source string, value Value, timestamp time.Time) {
	if path == "" {
		c.logger.Warn("telemetry sample dropped", "reason", "empty path")
		return
	}
	if source == "" {
		source = DefaultSource
	}

	entry := c.entryFor(path)

	entry.mu.Lock()
	entry.samples[source] = DataPoint{
		Path:      path,
		Source:    source,
		Value:     value,
		Timestamp: timestamp,
	}
	entry.latest = source
	entry.mu.Unlock()
}

// entryFor returns the pathEntry for path, creating it on first use.
func (c *Cache) entryFor(path string) *pathEntry {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another writer may have created it between the locks.
	if entry, ok = c.entries[path]; ok {
		return entry
	}
	entry = &pathEntry{samples: make(map[string]DataPoint)}
	c.entries[path] = entry
	return entry
}

// Get retrieves the latest sample for (path, source). An empty source
// resolves to whichever source for that path was written most recently.
// The boolean is false when no sample exists for the resolved key.
func (c *Cache) Get(path, source string) (DataPoint, bool) {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return DataPoint{}, false
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	if source == "" {
		source = entry.latest
	}
	dp, ok := entry.samples[source]
	return dp, ok
}

// IsFresh reports whether a sample exists for (path, source) and its age
// is within ttl. A non-positive ttl means the cache default. Missing data
// answers false; freshness never errors.
func (c *Cache) IsFresh(path, source string, ttl time.Duration) bool {
	if ttl <= 0 {
		c.mu.RLock()
		ttl = c.ttl
		c.mu.RUnlock()
	}

	dp, ok := c.Get(path, source)
	if !ok {
		return false
	}
	return c.now().Sub(dp.Timestamp) <= ttl
}

// Clear empties the cache. Called on disconnect so a dead connection's
// samples can never report fresh on the next one. Atomic with respect to
// concurrent reads.
func (c *Cache) Clear() {
	c.mu.Lock()
	count := len(c.entries)
	c.entries = make(map[string]*pathEntry)
	c.mu.Unlock()

	if count > 0 {
		c.logger.Info("telemetry cache cleared", "paths_dropped", count)
	}
}

// Paths returns every cached path, sorted.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	paths := make([]string, 0, len(c.entries))
	for path := range c.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// SourcesFor returns every source with a sample for path, sorted.
func (c *Cache) SourcesFor(path string) []string {
	c.mu.RLock()
	entry, ok := c.entries[path]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	sources := make([]string, 0, len(entry.samples))
	for source := range entry.samples {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	return sources
}

// CacheStats summarises cache occupancy for monitoring.
type CacheStats struct {
	Paths   int `json:"paths"`
	Samples int `json:"samples"`
}

// Stats returns current cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{Paths: len(c.entries)}
	for _, entry := range c.entries {
		entry.mu.RLock()
		stats.Samples += len(entry.samples)
		entry.mu.RUnlock()
	}
	return stats
}

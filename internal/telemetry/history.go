package telemetry

import (
	"context"
	"sync"
	"time"
)

// Recorder defaults, overridable through RecorderConfig.
const (
	defaultMinInterval   = 10 * time.Second
	defaultRetention     = 30 * 24 * time.Hour
	defaultPruneInterval = 6 * time.Hour
)

// SampleRecord is a single persisted telemetry sample.
//
// The local history table is a thinned record of what the cache has seen,
// kept so recent values survive a restart and so range queries work even
// when the time-series database is unavailable.
type SampleRecord struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Path is the dotted telemetry path.
	Path string `json:"path"`

	// Source identifies the producing device, empty when unlabelled.
	Source string `json:"source"`

	// Value is the sample payload at the time of recording.
	Value Value `json:"value"`

	// CreatedAt is the sample timestamp (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves telemetry sample history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordSample persists one telemetry sample.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - path: Dotted telemetry path
	//   - source: Producing device label (may be empty)
	//   - value: Sample payload to persist
	//   - at: Sample timestamp
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordSample(ctx context.Context, path, source string, value Value, at time.Time) error

	// GetSamples returns recent samples for a path, ordered newest first.
	// An empty source matches samples from every source.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - path: Dotted telemetry path
	//   - source: Producing device label, or empty for all sources
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []SampleRecord: Ordered newest-first samples (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetSamples(ctx context.Context, path, source string, limit int) ([]SampleRecord, error)

	// PruneSamples deletes samples older than the given duration.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - olderThan: Duration to retain
	//
	// Returns:
	//   - int64: Number of rows deleted
	//   - error: nil on success, otherwise the underlying database error
	PruneSamples(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RecorderConfig holds configuration for the history recorder.
type RecorderConfig struct {
	// Repository persists the thinned samples.
	Repository HistoryRepository

	// MinInterval is the minimum spacing between stored samples per
	// (path, source). Default: 10 seconds.
	MinInterval time.Duration

	// Retention is how long samples are kept. Default: 30 days.
	Retention time.Duration

	// PruneInterval is how often the prune job runs. Default: 6 hours.
	PruneInterval time.Duration
}

// Recorder thins the live telemetry stream into the history repository.
//
// Telemetry arrives at several Hz per path; storing every sample would
// grow the database by orders of magnitude for no benefit. The recorder
// keeps at most one sample per (path, source) per MinInterval and prunes
// rows past retention on a background loop.
//
// All public methods are thread-safe.
type Recorder struct {
	repo          HistoryRepository
	minInterval   time.Duration
	retention     time.Duration
	pruneInterval time.Duration

	// lastWrite tracks the most recent stored sample per (path, source)
	// for throttling.
	mu        sync.Mutex
	lastWrite map[string]time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger

	// now is the clock used for throttling. Tests swap it out.
	now func() time.Time
}

// NewRecorder creates a history recorder.
//
// Parameters:
//   - cfg: Configuration (zero durations fall back to defaults)
//
// Returns:
//   - *Recorder: Ready to record (call Start to begin pruning)
func NewRecorder(cfg RecorderConfig) *Recorder {
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = defaultPruneInterval
	}

	return &Recorder{
		repo:          cfg.Repository,
		minInterval:   minInterval,
		retention:     retention,
		pruneInterval: pruneInterval,
		lastWrite:     make(map[string]time.Time),
		done:          make(chan struct{}),
		logger:        noopLogger{},
		now:           time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Record offers a sample to the history. Samples inside the per-key
// throttle window are dropped silently; persistence failures are logged
// and never propagate to the caller, so a full disk cannot stall the
// live stream.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - path: Dotted telemetry path
//   - source: Producing device label (may be empty)
//   - value: Sample payload
//   - at: Sample timestamp
func (r *Recorder) Record(ctx context.Context, path, source string, value Value, at time.Time) {
	if r.repo == nil || path == "" {
		return
	}

	key := path + "|" + source
	now := r.now()

	r.mu.Lock()
	last, seen := r.lastWrite[key]
	if seen && now.Sub(last) < r.minInterval {
		r.mu.Unlock()
		return
	}
	r.lastWrite[key] = now
	r.mu.Unlock()

	if err := r.repo.RecordSample(ctx, path, source, value, at); err != nil {
		r.logger.Debug("sample history write failed", "path", path, "error", err)
	}
}

// Start begins the background prune loop.
// Must be called after creation. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop pruning when cancelled)
func (r *Recorder) Start(ctx context.Context) {
	if r.repo == nil {
		return
	}
	r.wg.Add(1)
	go r.pruneLoop(ctx)
}

// Stop gracefully stops the prune loop.
// Safe to call multiple times (uses sync.Once).
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

// pruneLoop runs the periodic retention prune.
func (r *Recorder) pruneLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pruneInterval)
	defer ticker.Stop()

	// Prune once at startup so a long-stopped install recovers promptly.
	r.pruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.pruneOnce(ctx)
		}
	}
}

// pruneOnce deletes samples past retention and logs the outcome.
func (r *Recorder) pruneOnce(ctx context.Context) {
	deleted, err := r.repo.PruneSamples(ctx, r.retention)
	if err != nil {
		r.logger.Warn("sample history prune failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("sample history pruned", "rows_deleted", deleted)
	}
}

// Package gc reclaims expired tombstones from a storage's metadata index.
//
// A delete leaves a tombstone record behind so that a put carrying an older
// timestamp, delivered late, cannot resurrect the value. Once a tombstone is
// older than the retention period no such put is expected any more and the
// record can go. Tombstones whose path has a file again, and live records
// whose file disappeared, indicate external interference: they are reported,
// never repaired.
package gc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/metrics"
	"github.com/marmos91/fsstore/pkg/store/index"
	"github.com/marmos91/fsstore/pkg/timestamp"
)

// FileChecker reports whether a managed path has a backing file.
type FileChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// PathLocker serializes the collector with puts and deletes on one path.
type PathLocker interface {
	// Lock blocks until the path's write lock is held and returns its release.
	Lock(path string) (unlock func())
}

// Collector periodically removes expired tombstones.
//
// Thread Safety: Safe for concurrent use. RunNow may overlap a periodic run;
// both take the per-path lock before deleting anything.
type Collector struct {
	name    string
	index   index.Index
	files   FileChecker
	locker  PathLocker
	config  Config
	metrics metrics.StorageMetrics
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the collector.
type Config struct {
	// Enabled controls whether the periodic worker runs (RunNow always works)
	Enabled bool

	// Interval is how often a run starts (default: 30s)
	Interval time.Duration

	// Retention is the minimum age of a tombstone before it is reclaimed
	// (default: 5s)
	Retention time.Duration

	// DryRun logs what would be reclaimed without deleting anything
	DryRun bool
}

const (
	DefaultInterval  = 30 * time.Second
	DefaultRetention = 5 * time.Second

	// runTimeout bounds a periodic run.
	runTimeout = 10 * time.Minute
)

// NewCollector creates a collector. Call Start() to begin periodic runs.
//
// Parameters:
//   - name: Storage name, used in logs
//   - idx: Metadata index to reclaim from
//   - files: File store consulted before reclaiming a tombstone
//   - locker: Per-path lock shared with the storage engine
//   - config: Collector configuration, zero durations get defaults
//   - m: Metrics sink, nil for none
func NewCollector(
	name string,
	idx index.Index,
	files FileChecker,
	locker PathLocker,
	config Config,
	m metrics.StorageMetrics,
) *Collector {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if m == nil {
		m = metrics.NoopStorageMetrics{}
	}

	return &Collector{
		name:    name,
		index:   idx,
		files:   files,
		locker:  locker,
		config:  config,
		metrics: m,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins periodic collection. Subsequent calls are no-ops.
func (c *Collector) Start() {
	if !c.config.Enabled {
		logger.Info("[%s] Tombstone reclamation disabled", c.name)
		return
	}

	c.startOnce.Do(func() {
		c.started.Store(true)
		logger.Info("[%s] Starting tombstone reclamation: interval=%s retention=%s dry_run=%v",
			c.name, c.config.Interval, c.config.Retention, c.config.DryRun)
		go c.worker()
	})
}

// Stop signals the worker and waits for an in-progress run to finish.
//
// Returns ctx.Err() if the worker does not stop before ctx expires.
func (c *Collector) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if !c.started.Load() {
			return
		}

		select {
		case <-c.doneCh:
			logger.Debug("[%s] Tombstone reclamation stopped", c.name)
		case <-ctx.Done():
			logger.Warn("[%s] Tombstone reclamation shutdown timeout", c.name)
			err = ctx.Err()
		}
	})
	return err
}

// RunNow performs one collection and blocks until it completes.
func (c *Collector) RunNow(ctx context.Context) (*Stats, error) {
	return c.collect(ctx)
}

func (c *Collector) worker() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			go func() {
				// Cancel an in-progress run as soon as Stop is called.
				select {
				case <-c.stopCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			stats, err := c.collect(ctx)
			cancel()

			if err != nil {
				logger.Error("[%s] Tombstone reclamation failed: %v", c.name, err)
			} else if stats.Reclaimed > 0 || stats.Anomalies > 0 || stats.Orphans > 0 {
				logger.Info("[%s] Tombstone reclamation completed: %s", c.name, stats.Summary())
			} else {
				logger.Debug("[%s] Tombstone reclamation completed: %s", c.name, stats.Summary())
			}

		case <-c.stopCh:
			return
		}
	}
}

// candidate is an expired tombstone found during the scan.
type candidate struct {
	path string
	ts   timestamp.Timestamp
}

// collect performs a single run:
//  1. Scan every record, collecting expired tombstones and checking live
//     records for a backing file
//  2. For each expired tombstone, under the path lock: re-read the record,
//     skip it if it changed or a file exists, else delete it
func (c *Collector) collect(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: c.now()}
	defer func() {
		stats.EndTime = c.now()
		c.metrics.RecordReclamation(stats.Reclaimed, stats.Anomalies, stats.Orphans, stats.Duration())
	}()

	cutoff := timestamp.ToNTP64(stats.StartTime.Add(-c.config.Retention))

	// Phase 1: scan
	var expired []candidate
	var orphans []string

	for entry, err := range c.index.ScanPrefix(ctx, "") {
		if err != nil {
			return stats, fmt.Errorf("failed to scan index: %w", err)
		}
		stats.Scanned++

		if !entry.Record.Deleted {
			ok, err := c.files.Exists(ctx, entry.Path)
			if err != nil {
				logger.Debug("[%s] Reclaim: cannot check %s: %v", c.name, entry.Path, err)
				continue
			}
			if !ok {
				orphans = append(orphans, entry.Path)
			}
			continue
		}

		stats.Tombstones++
		if entry.Record.Timestamp.Time < cutoff {
			expired = append(expired, candidate{path: entry.Path, ts: entry.Record.Timestamp})
		}
	}

	stats.Expired = len(expired)
	stats.Orphans = len(orphans)
	if len(orphans) > 0 {
		logger.Warn("[%s] Reclaim: %d live records have no backing file", c.name, len(orphans))
		for i, p := range orphans {
			if i == 10 {
				logger.Debug("[%s]   ... and %d more", c.name, len(orphans)-10)
				break
			}
			logger.Debug("[%s]   - %s", c.name, p)
		}
	}

	// Phase 2: reclaim
	for _, cand := range expired {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		c.reclaim(ctx, cand, stats)
	}

	return stats, nil
}

func (c *Collector) reclaim(ctx context.Context, cand candidate, stats *Stats) {
	unlock := c.locker.Lock(cand.path)
	defer unlock()

	rec, found, err := c.index.Lookup(ctx, cand.path)
	if err != nil {
		stats.Failed++
		logger.Warn("[%s] Reclaim: lookup %s failed: %v", c.name, cand.path, err)
		return
	}
	if !found || !rec.Deleted || rec.Timestamp != cand.ts {
		// A put or delete landed after the scan.
		stats.Superseded++
		return
	}

	exists, err := c.files.Exists(ctx, cand.path)
	if err != nil {
		stats.Failed++
		logger.Warn("[%s] Reclaim: cannot check %s: %v", c.name, cand.path, err)
		return
	}
	if exists {
		stats.Anomalies++
		logger.Warn("[%s] Reclaim: tombstone for %s has a file on disk, leaving it", c.name, cand.path)
		return
	}

	if c.config.DryRun {
		logger.Info("[%s] Reclaim: DRY RUN - would remove tombstone %s (%s)", c.name, cand.path, cand.ts)
		return
	}

	if err := c.index.Delete(ctx, cand.path); err != nil {
		stats.Failed++
		logger.Warn("[%s] Reclaim: delete %s failed: %v", c.name, cand.path, err)
		return
	}
	stats.Reclaimed++
}

// Stats contains statistics from one collection run.
type Stats struct {
	StartTime  time.Time // When the run started
	EndTime    time.Time // When the run ended
	Scanned    int       // Records scanned
	Tombstones int       // Tombstones among them
	Expired    int       // Tombstones older than the retention period
	Reclaimed  int       // Tombstones removed
	Superseded int       // Expired tombstones replaced before they could be removed
	Anomalies  int       // Expired tombstones left because a file exists
	Orphans    int       // Live records without a file
	Failed     int       // Lookups or deletes that failed
}

// Duration returns how long the run took.
func (s *Stats) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a one-line summary for logs.
func (s *Stats) Summary() string {
	return fmt.Sprintf("scanned=%d tombstones=%d expired=%d reclaimed=%d superseded=%d anomalies=%d orphans=%d failed=%d duration=%s",
		s.Scanned, s.Tombstones, s.Expired, s.Reclaimed, s.Superseded, s.Anomalies, s.Orphans, s.Failed, s.Duration())
}

// Package storage implements the storage engine: it persists key/value
// updates as files below a directory, keeps a metadata index beside them and
// orders concurrent or out-of-order updates by their logical timestamps.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/gc"
	"github.com/marmos91/fsstore/pkg/keymap"
	"github.com/marmos91/fsstore/pkg/metrics"
	"github.com/marmos91/fsstore/pkg/store/files"
	"github.com/marmos91/fsstore/pkg/store/index"
	badgerindex "github.com/marmos91/fsstore/pkg/store/index/badger"
	"github.com/marmos91/fsstore/pkg/store/index/memory"
	"github.com/marmos91/fsstore/pkg/timestamp"
)

// OnClosure selects what Close does with the storage directory.
type OnClosure string

const (
	OnClosureDoNothing OnClosure = "do_nothing"
	OnClosureDeleteAll OnClosure = "delete_all"
)

// ParseOnClosure validates an on_closure property value.
func ParseOnClosure(s string) (OnClosure, error) {
	switch OnClosure(s) {
	case "", OnClosureDoNothing:
		return OnClosureDoNothing, nil
	case OnClosureDeleteAll:
		return OnClosureDeleteAll, nil
	}
	return "", fmt.Errorf("%w: on_closure must be %q or %q, got %q",
		ErrInvalidConfig, OnClosureDoNothing, OnClosureDeleteAll, s)
}

// IndexType selects the metadata index implementation.
type IndexType string

const (
	IndexBadger IndexType = "badger"
	IndexMemory IndexType = "memory"
)

// Config describes one storage.
type Config struct {
	// Name identifies the storage in logs and metrics.
	Name string

	// Dir is the storage root. Created if absent.
	Dir string

	// StripPrefix is removed from keys to form managed paths.
	StripPrefix string

	ReadOnly      bool
	FollowLinks   bool
	KeepMimeTypes bool
	OnClosure     OnClosure

	// IndexType defaults to IndexBadger.
	IndexType IndexType

	// SyncWrites fsyncs every index commit.
	SyncWrites bool

	// Reclamation configures the tombstone collector. Read-only storages
	// never run it.
	Reclamation gc.Config

	// Clock stamps updates that arrive without a timestamp. Default: a new
	// clock with a random writer ID.
	Clock *timestamp.Clock

	// Matcher filters wildcard queries. Default: keymap.Match.
	Matcher keymap.Matcher

	// Metrics receives operation metrics. Default: no-op.
	Metrics metrics.StorageMetrics
}

// Sample is one value returned by Get.
type Sample struct {
	Key       string
	Payload   []byte
	Encoding  string
	Timestamp timestamp.Timestamp
}

// Storage is a live storage engine bound to one directory.
//
// Thread Safety:
// All methods are safe for concurrent use. Updates to the same managed path
// are serialized; different paths proceed in parallel. Close waits for
// in-flight puts, deletes and sample reads.
type Storage struct {
	config    Config
	dir       string
	files     *files.FSFileStore
	index     index.Index
	locks     *pathLocks
	clock     *timestamp.Clock
	matcher   keymap.Matcher
	metrics   metrics.StorageMetrics
	collector *gc.Collector

	// lifecycle is read-held by every operation and write-held by Close.
	lifecycle sync.RWMutex
	closed    bool
}

// openDirs tracks directories owned by a live Storage in this process.
var openDirs = struct {
	sync.Mutex
	m map[string]bool
}{m: make(map[string]bool)}

func claimDir(dir string) bool {
	openDirs.Lock()
	defer openDirs.Unlock()
	if openDirs.m[dir] {
		return false
	}
	openDirs.m[dir] = true
	return true
}

func releaseDir(dir string) {
	openDirs.Lock()
	defer openDirs.Unlock()
	delete(openDirs.m, dir)
}

// Open validates config, prepares the directory and opens the index.
//
// Parameters:
//   - ctx: Context for cancellation during initialization
//   - config: Storage configuration
//
// Returns:
//   - *Storage: A live storage
//   - error: ErrInvalidConfig, ErrAlreadyOpen, ErrFileIO or ErrIndexIO,
//     wrapped in a *StorageError
func Open(ctx context.Context, config Config) (*Storage, error) {
	// ========================================================================
	// Step 1: Validate configuration and apply defaults
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, opError("open", "", fmt.Errorf("%w: dir is required", ErrInvalidConfig))
	}

	onClosure, err := ParseOnClosure(string(config.OnClosure))
	if err != nil {
		return nil, opError("open", "", err)
	}
	config.OnClosure = onClosure

	switch config.IndexType {
	case "":
		config.IndexType = IndexBadger
	case IndexBadger, IndexMemory:
	default:
		return nil, opError("open", "", fmt.Errorf("%w: unknown index type %q", ErrInvalidConfig, config.IndexType))
	}

	if config.Name == "" {
		config.Name = filepath.Base(config.Dir)
	}
	if config.Clock == nil {
		config.Clock = timestamp.NewClock(uuid.Nil)
	}
	if config.Matcher == nil {
		config.Matcher = keymap.Match
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoopStorageMetrics{}
	}

	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, opError("open", "", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	// ========================================================================
	// Step 2: Claim the directory for this process
	// ========================================================================

	if !claimDir(dir) {
		return nil, opError("open", "", fmt.Errorf("%w: %s", ErrAlreadyOpen, dir))
	}

	s, err := open(ctx, config, dir)
	if err != nil {
		releaseDir(dir)
		return nil, opError("open", "", err)
	}

	logger.Info("[%s] Storage opened: dir=%s read_only=%v follow_links=%v keep_mime_types=%v on_closure=%s index=%s",
		config.Name, dir, config.ReadOnly, config.FollowLinks, config.KeepMimeTypes, config.OnClosure, config.IndexType)
	return s, nil
}

func open(ctx context.Context, config Config, dir string) (*Storage, error) {
	// ========================================================================
	// Step 3: Prepare the directory
	// ========================================================================

	fi, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fileIOError(fmt.Errorf("cannot create %s: %w", dir, err))
		}
	case err != nil:
		return nil, fileIOError(err)
	case !fi.IsDir():
		return nil, fmt.Errorf("%w: %s exists and is not a directory", ErrInvalidConfig, dir)
	}

	if _, err := os.ReadDir(dir); err != nil {
		return nil, fileIOError(fmt.Errorf("cannot read %s: %w", dir, err))
	}

	if !config.ReadOnly {
		if err := probeWritable(dir); err != nil {
			return nil, err
		}
	}

	fileStore, err := files.NewFSFileStore(ctx, dir, config.FollowLinks)
	if err != nil {
		return nil, fileIOError(err)
	}

	// ========================================================================
	// Step 4: Open the index
	// ========================================================================

	idx, err := openIndex(ctx, config, dir)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		config:  config,
		dir:     dir,
		files:   fileStore,
		index:   idx,
		locks:   newPathLocks(),
		clock:   config.Clock,
		matcher: config.Matcher,
		metrics: config.Metrics,
	}

	// ========================================================================
	// Step 5: Start reclamation
	// ========================================================================

	if !config.ReadOnly {
		s.collector = gc.NewCollector(config.Name, idx, fileStore, s.locks, config.Reclamation, config.Metrics)
		s.collector.Start()
	}

	return s, nil
}

func openIndex(ctx context.Context, config Config, dir string) (index.Index, error) {
	if config.IndexType == IndexMemory {
		return memory.New(), nil
	}

	idx, err := badgerindex.New(ctx, badgerindex.Config{
		Path:       filepath.Join(dir, keymap.IndexDirName),
		SyncWrites: config.SyncWrites,
	})
	if errors.Is(err, index.ErrAlreadyOpen) {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyOpen, err)
	}
	return idx, err
}

// probeWritable creates and removes a temporary file in dir.
func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, keymap.TempFilePrefix+"probe-*")
	if err != nil {
		return fileIOError(fmt.Errorf("%s is not writable: %w", dir, err))
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return fileIOError(fmt.Errorf("cannot remove probe file %s: %w", name, err))
	}
	return nil
}

// Close stops reclamation, closes the index and applies the on_closure
// policy. Subsequent calls are no-ops.
func (s *Storage) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	defer releaseDir(s.dir)

	var errs []error
	if s.collector != nil {
		if err := s.collector.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.index.Close(); err != nil {
		errs = append(errs, err)
	}

	if s.config.OnClosure == OnClosureDeleteAll {
		logger.Info("[%s] Removing storage directory %s", s.config.Name, s.dir)
		if err := os.RemoveAll(s.dir); err != nil {
			errs = append(errs, fileIOError(err))
		}
	}

	logger.Info("[%s] Storage closed", s.config.Name)
	return opError("close", "", errors.Join(errs...))
}

// begin read-holds the lifecycle lock for one operation.
func (s *Storage) begin() (func(), error) {
	s.lifecycle.RLock()
	if s.closed {
		s.lifecycle.RUnlock()
		return nil, ErrClosed
	}
	return s.lifecycle.RUnlock, nil
}

// RunReclamation performs one tombstone collection immediately.
func (s *Storage) RunReclamation(ctx context.Context) (*gc.Stats, error) {
	release, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	if s.collector == nil {
		return nil, ErrReadOnly
	}
	return s.collector.RunNow(ctx)
}

// Name returns the storage name.
func (s *Storage) Name() string {
	return s.config.Name
}

// Dir returns the absolute storage directory.
func (s *Storage) Dir() string {
	return s.dir
}

// StripPrefix returns the prefix removed from keys.
func (s *Storage) StripPrefix() string {
	return s.config.StripPrefix
}

// Status describes the storage for administrative listings.
func (s *Storage) Status() map[string]any {
	return map[string]any{
		"name":            s.config.Name,
		"dir":             s.dir,
		"strip_prefix":    s.config.StripPrefix,
		"read_only":       s.config.ReadOnly,
		"follow_links":    s.config.FollowLinks,
		"keep_mime_types": s.config.KeepMimeTypes,
		"on_closure":      string(s.config.OnClosure),
		"index":           string(s.config.IndexType),
		"writer_id":       s.clock.ID().String(),
	}
}

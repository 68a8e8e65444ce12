// Package backend creates storages under a shared root directory.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/gc"
	"github.com/marmos91/fsstore/pkg/metrics"
	"github.com/marmos91/fsstore/pkg/storage"
	"github.com/marmos91/fsstore/pkg/timestamp"
)

// RootEnvVar overrides the default backend root.
const RootEnvVar = "FSSTORE_ROOT"

// Version is reported by Status.
var Version = "dev"

var (
	// ErrInvalidProperties indicates malformed storage properties.
	ErrInvalidProperties = errors.New("invalid storage properties")
)

// Properties describe a storage to create.
type Properties struct {
	// Name identifies the storage in logs and metrics.
	Name string

	// KeyExpr is the key expression the storage serves.
	KeyExpr string

	// StripPrefix is removed from keys. Must be a prefix of KeyExpr.
	StripPrefix string

	// Options are decoded by ParseOptions.
	Options map[string]any
}

// Config configures a Backend.
type Config struct {
	// Root is the parent of every storage directory. Empty resolves via
	// DefaultRoot.
	Root string

	// Reclamation is applied to storages that do not override it.
	Reclamation gc.Config

	// WriterID identifies this process in generated timestamps. A nil ID
	// is replaced with a random one.
	WriterID uuid.UUID
}

// Backend creates storages under its root.
type Backend struct {
	root     string
	config   Config
	writerID uuid.UUID
}

// DefaultRoot returns $FSSTORE_ROOT, else ~/.fsstore/backend_fs.
func DefaultRoot() (string, error) {
	if root := os.Getenv(RootEnvVar); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".fsstore", "backend_fs"), nil
}

// New resolves the root and makes sure it exists.
func New(cfg Config) (*Backend, error) {
	root := cfg.Root
	if root == "" {
		var err error
		if root, err = DefaultRoot(); err != nil {
			return nil, err
		}
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid backend root %q: %w", cfg.Root, err)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backend root %s: %w", root, err)
	}

	writerID := cfg.WriterID
	if writerID == uuid.Nil {
		writerID = uuid.New()
	}

	logger.Info("Backend root: %s (writer %s)", root, writerID)

	return &Backend{root: root, config: cfg, writerID: writerID}, nil
}

// Root returns the absolute backend root.
func (b *Backend) Root() string {
	return b.root
}

// CreateStorage validates props and opens the storage they describe.
func (b *Backend) CreateStorage(ctx context.Context, props Properties) (*storage.Storage, error) {
	opts, err := ParseOptions(props.Options)
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", props.Name, err)
	}

	stripPrefix, err := normalizeStripPrefix(props.KeyExpr, props.StripPrefix)
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", props.Name, err)
	}

	dir, err := b.storageDir(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", props.Name, err)
	}

	onClosure, err := storage.ParseOnClosure(opts.OnClosure)
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", props.Name, err)
	}

	indexType, err := parseIndexType(opts.Index)
	if err != nil {
		return nil, fmt.Errorf("storage %q: %w", props.Name, err)
	}

	reclamation := b.config.Reclamation
	if opts.GCInterval > 0 {
		reclamation.Interval = opts.GCInterval
	}
	if opts.TombstoneRetention > 0 {
		reclamation.Retention = opts.TombstoneRetention
	}

	logger.Info("Creating storage %q in %s (read_only=%t, on_closure=%s, follow_links=%t)",
		props.Name, dir, opts.ReadOnly, onClosure, opts.FollowLinks)

	return storage.Open(ctx, storage.Config{
		Name:          props.Name,
		Dir:           dir,
		StripPrefix:   stripPrefix,
		ReadOnly:      opts.ReadOnly,
		FollowLinks:   opts.FollowLinks,
		KeepMimeTypes: opts.KeepMimeTypes,
		OnClosure:     onClosure,
		IndexType:     indexType,
		SyncWrites:    opts.SyncWrites,
		Reclamation:   reclamation,
		Clock:         timestamp.NewClock(b.writerID),
		Metrics:       metrics.NewStorageMetrics(props.Name),
	})
}

// Status returns the admin properties of the backend.
func (b *Backend) Status() map[string]any {
	return map[string]any{
		"root":      b.root,
		"version":   Version,
		"writer_id": b.writerID.String(),
		"reclamation": map[string]any{
			"enabled":   b.config.Reclamation.Enabled,
			"interval":  b.config.Reclamation.Interval.String(),
			"retention": b.config.Reclamation.Retention.String(),
		},
	}
}

// storageDir joins dir under the root segment by segment.
func (b *Backend) storageDir(dir string) (string, error) {
	rel := filepath.FromSlash(strings.Trim(dir, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: dir %q must be a relative path inside the backend root",
			ErrInvalidProperties, dir)
	}
	return filepath.Join(b.root, rel), nil
}

// normalizeStripPrefix terminates prefix with "/" and checks it against
// keyExpr.
func normalizeStripPrefix(keyExpr, prefix string) (string, error) {
	if prefix == "" {
		return "", nil
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if !strings.HasPrefix(keyExpr+"/", prefix) {
		return "", fmt.Errorf("%w: strip_prefix %q is not a prefix of key_expr %q",
			ErrInvalidProperties, prefix, keyExpr)
	}
	return prefix, nil
}

func parseIndexType(s string) (storage.IndexType, error) {
	switch storage.IndexType(s) {
	case "", storage.IndexBadger:
		return storage.IndexBadger, nil
	case storage.IndexMemory:
		return storage.IndexMemory, nil
	}
	return "", fmt.Errorf("%w: index must be %q or %q, got %q",
		ErrInvalidProperties, storage.IndexBadger, storage.IndexMemory, s)
}

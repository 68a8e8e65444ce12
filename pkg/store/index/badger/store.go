package badger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/fxamacker/cbor/v2"
	"github.com/marmos91/fsstore/internal/logger"
	"github.com/marmos91/fsstore/pkg/store/index"
)

// BadgerIndex implements index.Index on top of BadgerDB.
//
// Records survive restarts and crashes: BadgerDB persists every committed
// transaction through its write-ahead value log, and with SyncWrites enabled
// a commit returns only after the log is fsynced.
//
// BadgerDB holds an exclusive lock on its directory for the lifetime of the
// handle, which is what makes a second engine on the same storage directory
// fail with index.ErrAlreadyOpen.
//
// Thread Safety:
// BadgerDB is MVCC and safe for concurrent use, so the index adds no locking
// of its own. Scans run inside a read-only transaction and observe a
// consistent snapshot even while writers commit.
type BadgerIndex struct {
	db     *badger.DB
	closed atomic.Bool
}

// Config contains configuration for opening a BadgerDB index.
type Config struct {
	// Path is the directory holding the BadgerDB files.
	Path string

	// SyncWrites fsyncs the value log on every commit.
	SyncWrites bool

	// ReadOnly opens the database without write access.
	ReadOnly bool

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
}

// errStopIteration ends a scan transaction when the consumer stops early.
var errStopIteration = errors.New("iteration stopped")

// New opens (creating if needed) the BadgerDB index described by config.
//
// Parameters:
//   - ctx: Context checked before the database is opened
//   - config: Location and durability settings
//
// Returns:
//   - *BadgerIndex: The opened index
//   - error: index.ErrAlreadyOpen if another handle owns the directory,
//     index.ErrIndexIO for any other failure
func New(ctx context.Context, config Config) (*BadgerIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(logger.BadgerLogger{Prefix: "badger: "})
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None) // records are a few dozen bytes
	opts = opts.WithSyncWrites(config.SyncWrites)
	opts = opts.WithReadOnly(config.ReadOnly)

	db, err := badger.Open(opts)
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("%w: %s: %v", index.ErrAlreadyOpen, config.Path, err)
		}
		return nil, fmt.Errorf("%w: failed to open BadgerDB at %s: %v", index.ErrIndexIO, config.Path, err)
	}

	store := &BadgerIndex{db: db}
	if !config.ReadOnly {
		if err := store.checkSchema(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return store, nil
}

// isLockError detects BadgerDB's directory lock conflict.
func isLockError(err error) bool {
	return strings.Contains(err.Error(), "Cannot acquire directory lock")
}

// checkSchema stamps a fresh database with the current layout version and
// refuses databases written with a different one.
func (s *BadgerIndex) checkSchema() error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badger.ErrKeyNotFound) {
			data, err := cbor.Marshal(uint(schemaVersion))
			if err != nil {
				return err
			}
			return txn.Set([]byte(keySchemaVersion), data)
		}
		if err != nil {
			return fmt.Errorf("%w: read schema version: %v", index.ErrIndexIO, err)
		}

		var version uint
		err = item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &version)
		})
		if err != nil {
			return fmt.Errorf("%w: decode schema version: %v", index.ErrIndexIO, err)
		}
		if version != schemaVersion {
			return fmt.Errorf("%w: unsupported index schema version %d", index.ErrIndexIO, version)
		}
		return nil
	})
}

// Upsert stores rec for path, replacing any previous record.
func (s *BadgerIndex) Upsert(ctx context.Context, path string, rec index.Record) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", index.ErrIndexIO, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyRecord(path), data)
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", index.ErrIndexIO, path, err)
	}
	return nil
}

// Lookup returns the record stored for path.
func (s *BadgerIndex) Lookup(ctx context.Context, path string) (index.Record, bool, error) {
	if err := s.check(ctx); err != nil {
		return index.Record{}, false, err
	}

	var rec index.Record
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRecord(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			decoded, err := decodeRecord(val)
			if err != nil {
				return err
			}
			rec = decoded
			found = true
			return nil
		})
	})
	if err != nil {
		return index.Record{}, false, fmt.Errorf("%w: lookup %s: %v", index.ErrIndexIO, path, err)
	}

	return rec, found, nil
}

// ScanPrefix yields records below prefix in key order.
//
// The sequence holds a read transaction open while the consumer iterates,
// so consumers should not block for long between steps.
func (s *BadgerIndex) ScanPrefix(ctx context.Context, prefix string) iter.Seq2[index.Entry, error] {
	return func(yield func(index.Entry, error) bool) {
		if err := s.check(ctx); err != nil {
			yield(index.Entry{}, err)
			return
		}

		err := s.db.View(func(txn *badger.Txn) error {
			keyPrefix := keyRecordPrefix(prefix)
			opts := badger.DefaultIteratorOptions
			opts.Prefix = keyPrefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}

				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				rec, err := decodeRecord(val)
				if err != nil {
					return err
				}

				if !yield(index.Entry{Path: pathFromKey(item.KeyCopy(nil)), Record: rec}, nil) {
					return errStopIteration
				}
			}
			return nil
		})

		if err != nil && !errors.Is(err, errStopIteration) {
			yield(index.Entry{}, fmt.Errorf("%w: scan %q: %v", index.ErrIndexIO, prefix, err))
		}
	}
}

// Delete removes the record for path. Missing records are not an error.
func (s *BadgerIndex) Delete(ctx context.Context, path string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyRecord(path))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", index.ErrIndexIO, path, err)
	}
	return nil
}

// Close releases the database and its directory lock.
func (s *BadgerIndex) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", index.ErrIndexIO, err)
	}
	return nil
}

func (s *BadgerIndex) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return index.ErrClosed
	}
	return nil
}

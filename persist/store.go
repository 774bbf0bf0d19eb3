// Package persist keeps document updates in badger.
//
// Each document has an optional snapshot and a log of updates appended
// after it, keyed by document GUID. Loading returns the snapshot first,
// then the updates in append order.
package persist

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrCorrupt = errors.New("persist: corrupt record")
	ErrConfig  = errors.New("persist: bad config")
)

// Config configures a Store.
type Config struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"inMemory"`
	SyncWrites bool   `yaml:"syncWrites"`

	Log *slog.Logger `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{SyncWrites: true}
}

// Store is a badger database of document updates. It is safe for
// concurrent use.
type Store struct {
	db  *badger.DB
	log *slog.Logger

	mu  sync.Mutex
	seq map[string]uint64
}

const (
	updatePrefix   = 'u'
	snapshotPrefix = 's'
)

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("%w: path is required unless in memory", ErrConfig)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "persist")
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{log: log.With("component", "badger")})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Store{db: db, log: log, seq: map[string]uint64{}}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func docPrefix(kind byte, guid string) []byte {
	k := make([]byte, 0, len(guid)+2)
	k = append(k, kind)
	k = append(k, guid...)
	return append(k, 0)
}

func updateKey(guid string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(docPrefix(updatePrefix, guid), seq)
}

// records carry a crc32 of their payload.
func encodeRecord(payload []byte) []byte {
	rec := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(rec, crc32.ChecksumIEEE(payload))
	return append(rec, payload...)
}

func decodeRecord(key, rec []byte) ([]byte, error) {
	if len(rec) < 4 {
		return nil, fmt.Errorf("%w: %q: short record", ErrCorrupt, key)
	}
	payload := rec[4:]
	if crc32.ChecksumIEEE(payload) != binary.BigEndian.Uint32(rec) {
		return nil, fmt.Errorf("%w: %q: checksum mismatch", ErrCorrupt, key)
	}
	return payload, nil
}

// nextSeq returns the next update sequence number of guid. The caller
// holds s.mu.
func (s *Store) nextSeq(guid string) (uint64, error) {
	if n, ok := s.seq[guid]; ok {
		s.seq[guid] = n + 1
		return n + 1, nil
	}
	var last uint64
	prefix := docPrefix(updatePrefix, guid)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(bytes.Clone(prefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seek)
		if it.ValidForPrefix(prefix) {
			k := it.Item().Key()
			last = binary.BigEndian.Uint64(k[len(prefix):])
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.seq[guid] = last + 1
	return last + 1, nil
}

// Append adds update to the log of guid.
func (s *Store) Append(guid string, update []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.nextSeq(guid)
	if err != nil {
		return fmt.Errorf("append to %s: %w", guid, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(updateKey(guid, seq), encodeRecord(update))
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", guid, err)
	}
	s.log.Debug("appended update", "guid", guid, "seq", seq, "bytes", len(update))
	return nil
}

// Load returns the snapshot of guid, if any, followed by its updates.
func (s *Store) Load(guid string) ([][]byte, error) {
	var res [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		key := docPrefix(snapshotPrefix, guid)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			rec, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			snap, err := decodeRecord(key, rec)
			if err != nil {
				return err
			}
			res = append(res, snap)
		}
		prefix := docPrefix(updatePrefix, guid)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rec, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			u, err := decodeRecord(item.KeyCopy(nil), rec)
			if err != nil {
				return err
			}
			res = append(res, u)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", guid, err)
	}
	return res, nil
}

// Compact replaces the snapshot of guid and drops its logged updates.
// snapshot must cover every update appended so far.
func (s *Store) Compact(guid string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := docPrefix(updatePrefix, guid)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("compact %s: %w", guid, err)
	}
	wb := s.db.NewWriteBatch()
	err = wb.Set(docPrefix(snapshotPrefix, guid), encodeRecord(snapshot))
	for i := 0; err == nil && i < len(keys); i++ {
		err = wb.Delete(keys[i])
	}
	if err != nil {
		wb.Cancel()
		return fmt.Errorf("compact %s: %w", guid, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("compact %s: %w", guid, err)
	}
	s.log.Info("compacted", "guid", guid, "dropped", len(keys), "bytes", len(snapshot))
	return nil
}

// Drop removes everything stored for guid.
func (s *Store) Drop(guid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seq, guid)
	if err := s.db.DropPrefix(docPrefix(updatePrefix, guid), docPrefix(snapshotPrefix, guid)); err != nil {
		return fmt.Errorf("drop %s: %w", guid, err)
	}
	return nil
}

// GUIDs lists the documents with stored state, sorted.
func (s *Store) GUIDs() ([]string, error) {
	seen := map[string]bool{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			if len(k) < 2 || (k[0] != updatePrefix && k[0] != snapshotPrefix) {
				continue
			}
			if i := bytes.IndexByte(k[1:], 0); i >= 0 {
				seen[string(k[1:1+i])] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(seen))
	for g := range seen {
		res = append(res, g)
	}
	sort.Strings(res)
	return res, nil
}

// badgerLogger adapts slog to badger's logger.
type badgerLogger struct {
	log *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

// badger is chatty at info level
func (l *badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

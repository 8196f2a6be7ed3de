// store.go - Keyed record storage with one atomic unit of work per call.
//
// Every external operation runs inside DB.Update. Writes are staged in an
// overlay and a leveldb.Batch and reach disk in a single atomic batch write
// only if the callback returns nil; any error discards them all.
//
// Update holds the write lock for the whole callback, so calls are totally
// ordered: two racing operations on the same record observe each other's
// effects or fail, never interleave.

package store

import (
	"bytes"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	// ErrExists is returned by Txn.Create when the record is already present.
	ErrExists = errors.New("store: record already exists")
	// ErrReadOnly is returned when a View callback attempts a write.
	ErrReadOnly = errors.New("store: write in read-only transaction")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store: database closed")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// DB is the host record store.
type DB struct {
	mu     sync.RWMutex
	ldb    *leveldb.DB
	sync   bool
	closed bool
}

// Options tune the underlying database.
type Options struct {
	// Sync forces an fsync on every committed unit of work.
	Sync bool
}

// Open opens or creates a database at path. An empty path opens an
// in-memory database.
func Open(path string, o *Options) (*DB, error) {
	var (
		ldb *leveldb.DB
		err error
	)
	if path == "" {
		ldb, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		ldb, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open database at %q", path)
	}
	db := &DB{ldb: ldb}
	if o != nil {
		db.sync = o.Sync
	}
	return db, nil
}

// OpenMemory opens an in-memory database, mostly for tests.
func OpenMemory() (*DB, error) { return Open("", nil) }

// Close releases the database.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	return db.ldb.Close()
}

// Ping reports whether the database is usable.
func (db *DB) Ping() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	_, err := db.ldb.GetProperty("leveldb.num-files-at-level0")
	return err
}

// Update runs fn as one atomic unit of work.
func (db *DB) Update(fn func(tx *Txn) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	tx := &Txn{db: db.ldb, writes: make(map[string][]byte), batch: new(leveldb.Batch)}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.batch.Len() == 0 {
		return nil
	}
	if err := db.ldb.Write(tx.batch, &opt.WriteOptions{Sync: db.sync}); err != nil {
		return errors.Wrap(err, "commit batch")
	}
	return nil
}

// View runs fn with read-only access.
func (db *DB) View(fn func(tx *Txn) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return fn(&Txn{db: db.ldb, readOnly: true})
}

// Txn is the handle a unit of work reads and writes through.
type Txn struct {
	db       *leveldb.DB
	writes   map[string][]byte
	batch    *leveldb.Batch
	readOnly bool
}

func (tx *Txn) raw(k []byte) ([]byte, bool, error) {
	if v, ok := tx.writes[string(k)]; ok {
		return v, true, nil
	}
	v, err := tx.db.Get(k, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %x", k)
	}
	return v, true, nil
}

// Get decodes the record at key into v. It reports whether the record exists.
func (tx *Txn) Get(key Key, v any) (bool, error) {
	b, ok, err := tx.raw(key.Bytes())
	if err != nil || !ok {
		return false, err
	}
	if err := decMode.Unmarshal(b, v); err != nil {
		return false, errors.Wrapf(err, "decode %s", key)
	}
	return true, nil
}

// Has reports whether a record exists at key.
func (tx *Txn) Has(key Key) (bool, error) {
	_, ok, err := tx.raw(key.Bytes())
	return ok, err
}

// Put stores v at key, replacing any existing record.
func (tx *Txn) Put(key Key, v any) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	b, err := encMode.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	k := key.Bytes()
	tx.writes[string(k)] = b
	tx.batch.Put(k, b)
	return nil
}

// Create stores v at key only if no record exists there; otherwise it
// returns ErrExists and writes nothing.
func (tx *Txn) Create(key Key, v any) error {
	ok, err := tx.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return errors.Wrapf(ErrExists, "%s", key)
	}
	return tx.Put(key, v)
}

// ForEach calls fn for every record of kind in key order, including records
// staged earlier in this unit of work. fn receives the raw encoded value;
// use Decode to unpack it.
func (tx *Txn) ForEach(kind string, fn func(key Key, raw []byte) error) error {
	prefix := kindPrefix(kind)
	merged := make(map[string][]byte)

	iter := tx.db.NewIterator(util.BytesPrefix(prefix), nil)
	for iter.Next() {
		merged[string(iter.Key())] = append([]byte(nil), iter.Value()...)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrapf(err, "iterate %s", kind)
	}
	for k, v := range tx.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var key Key
		key.Kind = kind
		copy(key.ID[:], k[len(prefix):])
		if err := fn(key, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Decode unpacks a raw record produced by ForEach.
func Decode(raw []byte, v any) error {
	return errors.Wrap(decMode.Unmarshal(raw, v), "decode record")
}

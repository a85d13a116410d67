package kv

import (
	"fmt"
	"os"
	"time"

	. "github.com/stevegt/goadapt"
	bolt "go.etcd.io/bbolt"
)

// OpenTimeout bounds how long Open waits for another process to
// release the database file lock.
var OpenTimeout = 10 * time.Second

// Db is a key-value database with string keys and bucket names and
// byte-slice values.  It adapts bolt.
type Db struct {
	bdb *bolt.DB
}

// Open opens a database, creating it if it doesn't exist.
func Open(path string) (db *Db, err error) {
	defer Return(&err)
	db = &Db{}
	opts := &bolt.Options{Timeout: OpenTimeout}
	db.bdb, err = bolt.Open(path, 0600, opts)
	Ck(err, "opening %s", path)
	return
}

// Close closes the db.
func (db *Db) Close() (err error) {
	defer Return(&err)
	err = db.bdb.Close()
	Ck(err)
	return
}

// Path returns the database file path.
func (db *Db) Path() string {
	return db.bdb.Path()
}

// Backup writes a consistent copy of the db to path, which must not
// exist.
func (db *Db) Backup(path string) (err error) {
	defer Return(&err)
	_, err = os.Stat(path)
	if err == nil {
		err = fmt.Errorf("%s already exists", path)
		return
	}
	err = db.bdb.View(func(btx *bolt.Tx) error {
		return btx.CopyFile(path, 0600)
	})
	Ck(err, "backing up %s to %s", db.Path(), path)
	return
}

// View runs fn in a read-only transaction.
func (db *Db) View(fn func(tx *Tx) error) error {
	return db.bdb.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Update runs fn in a read-write transaction.  The transaction is
// committed if fn returns nil and rolled back otherwise.
func (db *Db) Update(fn func(tx *Tx) error) error {
	return db.bdb.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx})
	})
}

// Tx is a transaction.  It adapts bolt.
type Tx struct {
	btx *bolt.Tx
}

// Put adds or replaces a record in the given bucket, creating the
// bucket if needed.
func (tx *Tx) Put(bucket string, key string, value []byte) (err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		Debug("creating bucket %s", bucket)
		b, err = tx.MakeBucket(bucket)
		Ck(err)
	}
	err = b.Put([]byte(key), value)
	Ck(err)
	return
}

// Get retrieves a copy of a record from the given bucket. Returns a
// nil value if the key or bucket does not exist or if the key is a
// nested bucket.
func (tx *Tx) Get(bucket string, key string) (value []byte, err error) {
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	v := b.Get([]byte(key))
	if v == nil {
		return
	}
	// bolt values are only valid for the life of the transaction
	value = make([]byte, len(v))
	copy(value, v)
	return
}

// Delete removes a record from the given bucket.  Missing buckets and
// keys are not an error.
func (tx *Tx) Delete(bucket string, key string) (err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.Delete([]byte(key))
	Ck(err)
	return
}

// Keys returns all keys in the given bucket in byte order.
func (tx *Tx) Keys(bucket string) (keys []string, err error) {
	defer Return(&err)
	b := tx.btx.Bucket([]byte(bucket))
	if b == nil {
		return
	}
	err = b.ForEach(func(k, v []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	Ck(err)
	return
}

// MakeBucket creates a bucket if it doesn't already exist.
func (tx *Tx) MakeBucket(bucket string) (b *bolt.Bucket, err error) {
	defer Return(&err)
	b, err = tx.btx.CreateBucketIfNotExists([]byte(bucket))
	Ck(err)
	return
}

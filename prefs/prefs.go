package prefs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat/catalog"
	"github.com/stevegt/idechat/prefs/kv"
	"github.com/stevegt/semver"
)

// SchemaVersion is the layout of the preference db written by this
// code.
const SchemaVersion = "1.0.0"

const (
	bucket = "prefs"

	// KeyPreferredModel holds the id of the last selected model.
	KeyPreferredModel = "preferred_model"
	keySchema         = "schema"

	// keyModel is where 0.1.X dbs kept the preferred model.
	keyModel = "model"
)

// Store persists user preferences.  The only preference is the
// preferred model; writes are last-write-wins.
type Store struct {
	db *kv.Db
}

// Open opens or creates the preference db at path and brings its
// schema up to date.
func Open(path string) (s *Store, err error) {
	defer Return(&err)
	db, err := kv.Open(path)
	Ck(err)
	s = &Store{db: db}
	err = s.migrate()
	if err != nil {
		db.Close()
		s = nil
		return
	}
	return
}

// Close closes the db.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBVersion returns the schema version stored in the db.
func (s *Store) DBVersion() (string, error) {
	return s.Get(keySchema)
}

// Get returns the raw value of key, or "" if unset.
func (s *Store) Get(key string) (value string, err error) {
	err = s.db.View(func(tx *kv.Tx) error {
		buf, err := tx.Get(bucket, key)
		value = string(buf)
		return err
	})
	return
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	return s.db.Update(func(tx *kv.Tx) error {
		return tx.Put(bucket, key, []byte(value))
	})
}

// PreferredModel returns the stored model id.  ok is false if nothing
// is stored or the stored id is no longer in cat.
func (s *Store) PreferredModel(cat *catalog.Catalog) (id string, ok bool, err error) {
	defer Return(&err)
	id, err = s.Get(KeyPreferredModel)
	Ck(err)
	if id == "" {
		return
	}
	if !cat.Contains(id) {
		Debug("ignoring stored model %q: not in catalog", id)
		id = ""
		return
	}
	ok = true
	return
}

// SetPreferredModel stores id as the preferred model.  id must be in
// cat.
func (s *Store) SetPreferredModel(cat *catalog.Catalog, id string) (err error) {
	defer Return(&err)
	if !cat.Contains(id) {
		err = fmt.Errorf("model %q not found", id)
		return
	}
	err = s.Set(KeyPreferredModel, id)
	Ck(err)
	return
}

// backup copies the db to a time-stamped file in the temp dir before a
// layout change.
func (s *Store) backup(dbver string) (backpath string, err error) {
	defer Return(&err)
	deslashed := strings.Replace(s.db.Path(), string(filepath.Separator), "-", -1)
	backpath = filepath.Join(os.TempDir(), fmt.Sprintf("idechat-backup-%s-%s%s", dbver, time.Now().Format("20060102-150405"), deslashed))
	err = s.db.Backup(backpath)
	Ck(err)
	return
}

// migrate upgrades the db one minor version at a time until it
// matches SchemaVersion.
func (s *Store) migrate() (err error) {
	defer Return(&err)
	for {
		var dbver string
		dbver, err = s.Get(keySchema)
		Ck(err)
		if dbver == "" {
			// brand new, or written before the schema key existed
			dbver = "0.1.0"
			var old string
			old, err = s.Get(keyModel)
			Ck(err)
			if old == "" {
				err = s.Set(keySchema, SchemaVersion)
				Ck(err)
				return
			}
		}
		if dbver == SchemaVersion {
			return
		}

		var v *semver.Version
		v, err = semver.Parse([]byte(dbver))
		Ck(err, "bad prefs schema version %q", dbver)
		vstr := fmt.Sprintf("%s.%s.X", v.Major, v.Minor)

		switch vstr {
		case "0.1.X":
			var backpath string
			backpath, err = s.backup(dbver)
			Ck(err)
			log.Printf("backup of prefs db saved to %s", backpath)
			// 0.1.X stored the model under "model"
			err = s.db.Update(func(tx *kv.Tx) (err error) {
				defer Return(&err)
				old, err := tx.Get(bucket, keyModel)
				Ck(err)
				if old != nil {
					err = tx.Put(bucket, KeyPreferredModel, old)
					Ck(err)
				}
				err = tx.Delete(bucket, keyModel)
				Ck(err)
				err = tx.Put(bucket, keySchema, []byte("1.0.0"))
				Ck(err)
				return
			})
			Ck(err)
			log.Printf("migrated prefs db %s from %s to 1.0.0", s.db.Path(), dbver)
		case "1.0.X":
			// patch versions share a layout
			err = s.Set(keySchema, SchemaVersion)
			Ck(err)
		default:
			err = fmt.Errorf("prefs db is schema %s, but this code writes %s -- upgrade idechat", dbver, SchemaVersion)
			return
		}
	}
}

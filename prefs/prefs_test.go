package prefs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/idechat/catalog"
	"github.com/stevegt/idechat/prefs/kv"
)

func dbPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "prefs.db")
}

func TestPreferredModelRoundTrip(t *testing.T) {
	cat := catalog.New()
	path := dbPath(t)

	s, err := Open(path)
	Tassert(t, err == nil, "open: %v", err)

	_, ok, err := s.PreferredModel(cat)
	Tassert(t, err == nil, "get: %v", err)
	Tassert(t, !ok, "fresh db should have no preference")

	err = s.SetPreferredModel(cat, "gpt-4-turbo")
	Tassert(t, err == nil, "set: %v", err)
	err = s.Close()
	Ck(err)

	// preference survives reopening
	s, err = Open(path)
	Tassert(t, err == nil, "reopen: %v", err)
	defer s.Close()
	id, ok, err := s.PreferredModel(cat)
	Tassert(t, err == nil, "get: %v", err)
	Tassert(t, ok && id == "gpt-4-turbo", "got %q %v", id, ok)

	// last write wins
	err = s.SetPreferredModel(cat, "gpt-3.5-turbo")
	Ck(err)
	id, _, _ = s.PreferredModel(cat)
	Tassert(t, id == "gpt-3.5-turbo", "got %q", id)
}

func TestSetUnknownModel(t *testing.T) {
	cat := catalog.New()
	s, err := Open(dbPath(t))
	Ck(err)
	defer s.Close()

	err = s.SetPreferredModel(cat, "no-such-model")
	Tassert(t, err != nil, "expected error")
	v, err := s.Get(KeyPreferredModel)
	Ck(err)
	Tassert(t, v == "", "unknown model was stored: %q", v)
}

func TestStoredModelNotInCatalog(t *testing.T) {
	cat := catalog.New()
	s, err := Open(dbPath(t))
	Ck(err)
	defer s.Close()

	// e.g. a model that was dropped from the catalog
	err = s.Set(KeyPreferredModel, "gpt-4-32k")
	Ck(err)
	id, ok, err := s.PreferredModel(cat)
	Tassert(t, err == nil, "get: %v", err)
	Tassert(t, !ok && id == "", "got %q %v", id, ok)
}

func TestSchemaWritten(t *testing.T) {
	path := dbPath(t)
	s, err := Open(path)
	Ck(err)
	defer s.Close()
	v, err := s.Get(keySchema)
	Ck(err)
	Tassert(t, v == SchemaVersion, "got schema %q", v)

	// a fresh db has nothing to back up
	deslashed := strings.Replace(path, string(filepath.Separator), "-", -1)
	baks, err := filepath.Glob(filepath.Join(os.TempDir(), "idechat-backup-*"+deslashed))
	Ck(err)
	Tassert(t, len(baks) == 0, "unexpected backups %v", baks)
}

func writeRaw(t *testing.T, path string, kvs map[string]string) {
	db, err := kv.Open(path)
	Ck(err)
	err = db.Update(func(tx *kv.Tx) (err error) {
		defer Return(&err)
		for k, v := range kvs {
			err = tx.Put(bucket, k, []byte(v))
			Ck(err)
		}
		return
	})
	Ck(err)
	err = db.Close()
	Ck(err)
}

func TestMigrateFrom010(t *testing.T) {
	cat := catalog.New()
	path := dbPath(t)
	writeRaw(t, path, map[string]string{keyModel: "anthropic/claude-3-sonnet"})

	s, err := Open(path)
	Tassert(t, err == nil, "open: %v", err)
	defer s.Close()

	id, ok, err := s.PreferredModel(cat)
	Tassert(t, err == nil, "get: %v", err)
	Tassert(t, ok && id == "anthropic/claude-3-sonnet", "got %q %v", id, ok)
	old, err := s.Get(keyModel)
	Ck(err)
	Tassert(t, old == "", "old key not removed: %q", old)
	v, err := s.Get(keySchema)
	Ck(err)
	Tassert(t, v == SchemaVersion, "got schema %q", v)

	// the pre-migration db was backed up
	deslashed := strings.Replace(path, string(filepath.Separator), "-", -1)
	baks, err := filepath.Glob(filepath.Join(os.TempDir(), "idechat-backup-0.1.0-*"+deslashed))
	Ck(err)
	Tassert(t, len(baks) == 1, "got backups %v", baks)
	os.Remove(baks[0])
}

func TestNewerSchema(t *testing.T) {
	path := dbPath(t)
	writeRaw(t, path, map[string]string{keySchema: "2.0.0"})

	s, err := Open(path)
	Tassert(t, err != nil, "expected error opening newer schema")
	Tassert(t, s == nil)

	// the file lock must have been released
	db, err := kv.Open(path)
	Tassert(t, err == nil, "db still locked: %v", err)
	db.Close()
}

func TestMain(m *testing.M) {
	// keep lock waits short when a test leaves a db open
	kv.OpenTimeout = 2 * time.Second
	os.Exit(m.Run())
}

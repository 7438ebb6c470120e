package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/record"
)

// ErrNotFound is returned when a catalog entry doesn't exist.
var ErrNotFound = errors.New("catalog entry not found")

// ErrCatalogVersion is returned when a catalog was written by a newer
// schema than this build understands.
var ErrCatalogVersion = errors.New("unsupported catalog schema")

// CatalogSchemaVersion is the layout of catalog keys and values.
// 1 - file entries keyed by attribute tuple, msgpack values
const CatalogSchemaVersion = 1

const (
	keyPrefix = "file\x00"
	schemaKey = "meta\x00schema"
)

// Schema is stored alongside the entries.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry is the catalog value for one attribute tuple.
type Entry struct {
	Digest   string `msgpack:"digest"`
	Path     string `msgpack:"path"`
	StoredAt int64  `msgpack:"stored_at"`
}

// Catalog maps (name, size, mode, owner, group, mtime) to the digest of
// the content last stored for a file with exactly those attributes.
type Catalog struct {
	db *badger.DB
}

// OpenCatalog opens or creates a catalog at dir.
func OpenCatalog(dir string) (*Catalog, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	c := &Catalog{db: db}
	if err := c.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// checkSchema stamps a new catalog and rejects one from a newer schema.
func (c *Catalog) checkSchema() error {
	schema, err := c.Schema()
	if err != nil {
		return err
	}
	switch {
	case schema == nil:
		return c.setSchema(&Schema{Version: CatalogSchemaVersion, UpdatedAt: time.Now().UTC()})
	case schema.Version > CatalogSchemaVersion:
		return fmt.Errorf("%w: version %d, supported %d", ErrCatalogVersion, schema.Version, CatalogSchemaVersion)
	}
	return nil
}

// Schema returns the stored schema, or nil for a catalog that has none.
func (c *Catalog) Schema() (*Schema, error) {
	var schema *Schema
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})
	return schema, err
}

func (c *Catalog) setSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// Close closes the catalog.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Key builds the catalog key for rec. Fields are separated by NUL.
func Key(rec *record.File) []byte {
	return []byte(keyPrefix + strings.Join([]string{
		rec.Name,
		strconv.FormatInt(rec.Size, 10),
		rec.Mode,
		rec.Owner,
		rec.Group,
		strconv.FormatInt(rec.Mtime, 10),
	}, "\x00"))
}

// Get returns the entry for rec's attributes.
func (c *Catalog) Get(rec *record.File) (*Entry, error) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(Key(rec))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Lookup implements walker.Catalog.
func (c *Catalog) Lookup(rec *record.File) (string, bool, error) {
	entry, err := c.Get(rec)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Digest, true, nil
}

// Record stores the digest and blob path for rec's attributes.
func (c *Catalog) Record(rec *record.File, digest, path string) error {
	value, err := msgpack.Marshal(&Entry{
		Digest:   digest,
		Path:     path,
		StoredAt: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(Key(rec), value)
	})
}

// Count returns the number of catalog entries.
func (c *Catalog) Count() (int, error) {
	prefix := []byte(keyPrefix)
	var n int
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

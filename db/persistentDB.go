package db

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Nicba1010/PS-Tools/settings"
	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

const (
	DB_FILENAME           = "pstools.db"
	DB_INTERNAL_TABLENAME = "internal-metadata"
	DB_KEY_APP_VERSION    = "app_version"
)

// PersistentDB is a bolt file of gob encoded values grouped in tables.
type PersistentDB struct {
	db *bolt.DB
}

// NewPersistentDB opens (or creates) the cache in baseFolder. Cached scan
// results written by another release are dropped.
func NewPersistentDB(baseFolder string) (*PersistentDB, error) {
	db, err := bolt.Open(filepath.Join(baseFolder, DB_FILENAME), 0600, &bolt.Options{Timeout: 1 * time.Minute})
	if err != nil {
		zap.S().Errorf("failed to open db - %v", err)
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(DB_INTERNAL_TABLENAME))
		if err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		stored := string(b.Get([]byte(DB_KEY_APP_VERSION)))
		if stored == settings.PSTOOLS_VERSION {
			return nil
		}
		if stored != "" {
			zap.S().Infof("cache written by version %v, clearing scan data", stored)
			if err := tx.DeleteBucket([]byte(DB_TABLE_FILE_SCAN_METADATA)); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		return b.Put([]byte(DB_KEY_APP_VERSION), []byte(settings.PSTOOLS_VERSION))
	})
	if err != nil {
		zap.S().Warnf("failed to save app_version - %v", err)
		db.Close()
		return nil, err
	}

	return &PersistentDB{db: db}, nil
}

func (pd *PersistentDB) Close() error {
	return pd.db.Close()
}

// ClearTable removes a table. A missing table is not an error.
func (pd *PersistentDB) ClearTable(tableName string) error {
	return pd.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(tableName))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func (pd *PersistentDB) AddEntry(tableName string, key string, value interface{}) error {
	var bytesBuff bytes.Buffer
	if err := gob.NewEncoder(&bytesBuff).Encode(value); err != nil {
		return err
	}
	return pd.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(tableName))
		if err != nil {
			return fmt.Errorf("create bucket: %s", err)
		}
		return b.Put([]byte(key), bytesBuff.Bytes())
	})
}

// GetEntry decodes the stored value into value. It reports false, leaving
// value untouched, when the key is not present.
func (pd *PersistentDB) GetEntry(tableName string, key string, value interface{}) (bool, error) {
	found := false
	err := pd.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(tableName))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return gob.NewDecoder(bytes.NewReader(v)).Decode(value)
	})
	return found, err
}

// Count returns the number of keys in a table.
func (pd *PersistentDB) Count(tableName string) int {
	count := 0
	pd.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(tableName)); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	return count
}

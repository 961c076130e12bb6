// Package credstore persists the bearer token and admin flag between CLI
// invocations, standing in for the browser's local storage.
package credstore

import (
	"encoding/json"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var Buckets = struct {
	Metadata []byte
	Session  []byte
}{
	Metadata: []byte("__metadata__"),
	Session:  []byte("session"),
}

var MetadataKeys = struct {
	Version []byte
}{
	Version: []byte("version"),
}

var SessionKeys = struct {
	Credentials []byte
}{
	Credentials: []byte("credentials"),
}

const currentVersion = 1

// Credentials is everything the session persists. Token may carry the legacy
// `b'...'` quoting artifact written by an older client; consumers normalize it
// on use, the store keeps whatever it was given.
type Credentials struct {
	Token   string `json:"token"`
	IsAdmin bool   `json:"is_admin"`
}

type Store interface {
	// Load returns the stored credentials, with ok=false when none are stored.
	Load() (creds Credentials, ok bool, err error)
	Save(Credentials) error
	Clear() error
	Close() error
}

type store struct {
	*bbolt.DB
}

// Open opens (creating if needed) the bbolt-backed store at path.
func Open(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		metadata, err := tx.CreateBucketIfNotExists(Buckets.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(Buckets.Session); err != nil {
			return err
		}

		// Get the current version of the store
		var version int
		if versionBytes := metadata.Get(MetadataKeys.Version); versionBytes != nil {
			if err := json.Unmarshal(versionBytes, &version); err != nil {
				return err
			}
		}

		// Set the current version of the store
		versionBytes, err := json.Marshal(currentVersion)
		if err != nil {
			return err
		}
		return metadata.Put(MetadataKeys.Version, versionBytes)
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &store{db}, nil
}

func (s *store) Load() (creds Credentials, ok bool, err error) {
	err = s.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(Buckets.Session).Get(SessionKeys.Credentials)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &creds); err != nil {
			return err
		}
		ok = creds.Token != ""
		return nil
	})
	return creds, ok, err
}

func (s *store) Save(creds Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Session).Put(SessionKeys.Credentials, data)
	})
}

func (s *store) Clear() error {
	return s.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(Buckets.Session).Delete(SessionKeys.Credentials)
	})
}

// Memory is an in-memory Store for tests and ephemeral sessions.
type Memory struct {
	creds Credentials
	ok    bool
}

func (m *Memory) Load() (Credentials, bool, error) {
	return m.creds, m.ok, nil
}

func (m *Memory) Save(creds Credentials) error {
	m.creds = creds
	m.ok = creds.Token != ""
	return nil
}

func (m *Memory) Clear() error {
	m.creds = Credentials{}
	m.ok = false
	return nil
}

func (m *Memory) Close() error {
	return nil
}

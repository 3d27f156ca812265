// Package localstore is the namespaced, schema-versioned key-value layer
// holding guest data on the device. Every failure degrades to an
// Unavailable result or a false return instead of an error.
package localstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/hpungsan/stint/internal/db"
)

// SchemaVersion is the storage shape version embedded in every key.
const SchemaVersion = 1

// Collection names one logical group of guest records.
type Collection string

const (
	Notes    Collection = "notes"
	Tasks    Collection = "tasks"
	Sessions Collection = "sessions"
	Meta     Collection = "meta"
	// Outbox holds session snapshots the backend has not confirmed yet.
	Outbox Collection = "outbox"
	// Current mirrors the live session on this device, or null.
	Current Collection = "current"
)

// Collections lists every collection the store manages.
var Collections = []Collection{Notes, Tasks, Sessions, Meta, Outbox, Current}

// State tells callers how to interpret a read.
type State int

const (
	// Missing means the store answered and the key is absent.
	Missing State = iota
	// Found means Value holds the stored record.
	Found
	// Unavailable means the store could not answer; absence is "not yet known".
	Unavailable
)

func (s State) String() string {
	switch s {
	case Found:
		return "found"
	case Missing:
		return "missing"
	default:
		return "unavailable"
	}
}

// Result is a typed read outcome.
type Result[T any] struct {
	Value T
	State State
}

// Store is a capability-checked view over the kv table.
type Store struct {
	db        *sql.DB
	namespace string
	logger    *log.Logger
}

// New returns a Store over conn. A nil conn yields a permanently degraded store.
// logger may be nil.
func New(conn *sql.DB, namespace string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if namespace == "" {
		namespace = "stint"
	}
	return &Store{db: conn, namespace: namespace, logger: logger}
}

// Prefix is the namespaced, versioned prefix shared by all keys.
func (s *Store) Prefix() string {
	return fmt.Sprintf("%s.v%d:", s.namespace, SchemaVersion)
}

// Key returns the storage key of a collection.
func (s *Store) Key(c Collection) string {
	return s.Prefix() + string(c)
}

// Available reports whether the backing database answers.
func (s *Store) Available() bool {
	if s == nil || s.db == nil {
		return false
	}
	return s.db.Ping() == nil
}

// Get reads and decodes a collection.
func Get[T any](s *Store, c Collection) Result[T] {
	var zero T
	if s == nil || s.db == nil {
		return Result[T]{Value: zero, State: Unavailable}
	}

	raw, found, err := db.GetValue(s.db, s.Key(c))
	if err != nil {
		s.logger.Printf("localstore: read %s: %v", c, err)
		return Result[T]{Value: zero, State: Unavailable}
	}
	if !found {
		return Result[T]{Value: zero, State: Missing}
	}

	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		s.logger.Printf("localstore: decode %s: %v", c, err)
		return Result[T]{Value: zero, State: Unavailable}
	}
	return Result[T]{Value: v, State: Found}
}

// Set encodes and writes a collection. It reports whether the write landed.
func Set[T any](s *Store, c Collection, v T) bool {
	if s == nil || s.db == nil {
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("localstore: encode %s: %v", c, err)
		return false
	}
	if err := db.PutValue(s.db, s.Key(c), string(data)); err != nil {
		s.logger.Printf("localstore: write %s: %v", c, err)
		return false
	}
	return true
}

// Clear removes the given collections, or every namespaced key when none
// are given. It reports whether the delete landed.
func (s *Store) Clear(collections ...Collection) bool {
	if s == nil || s.db == nil {
		return false
	}

	var keys []string
	if len(collections) == 0 {
		entries, err := db.ListByPrefix(s.db, s.Prefix())
		if err != nil {
			s.logger.Printf("localstore: list %s: %v", s.Prefix(), err)
			return false
		}
		for _, e := range entries {
			keys = append(keys, e.Key)
		}
	} else {
		for _, c := range collections {
			keys = append(keys, s.Key(c))
		}
	}

	if _, err := db.DeleteKeys(s.db, keys...); err != nil {
		s.logger.Printf("localstore: clear: %v", err)
		return false
	}
	return true
}

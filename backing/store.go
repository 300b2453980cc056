// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/storage/badger"
)

// Key layout inside BadgerDB. Entity names must not contain '/'; resource
// identifiers may.
//
//	rec/<entity>/<local>       -> Record JSON
//	idx/<entity>/<resourceID>  -> local id (identity index)
const (
	recPrefix = "rec/"
	idxPrefix = "idx/"
)

func recKey(h identity.Handle) []byte {
	return []byte(recPrefix + h.Entity + "/" + h.Local)
}

func idxKey(entity, resourceID string) []byte {
	return []byte(idxPrefix + entity + "/" + resourceID)
}

// Store is the backing cache: the single shared mutable resource of the
// core. All writes go through the merge path (see Merger); readers get
// copies.
//
// Thread Safety:
//
//	Safe for concurrent use. A store-wide RWMutex makes each merge
//	atomically visible: readers hold the read lock for the duration of a
//	Get/Query, a merge holds the write lock while it applies a whole
//	response, so no reader observes a partially-merged record.
type Store struct {
	mu  sync.RWMutex
	db  *badger.DB
	ids *identity.Map
}

// NewStore creates a backing store over an open database and identity map.
//
// Call Rehydrate before first use when the database may hold prior state.
func NewStore(db *badger.DB, ids *identity.Map) *Store {
	return &Store{db: db, ids: ids}
}

// Identity returns the identity map the store maintains.
func (s *Store) Identity() *identity.Map {
	return s.ids
}

// Rehydrate loads the persistent identity index into the identity map.
//
// Description:
//
//	Scans the idx/ keyspace and registers every (entity, resource id) ->
//	handle binding. Must run before concurrent use; typically called once
//	by the Store facade at open.
//
// Outputs:
//
//	int - Number of bindings restored.
//	error - Non-nil on iteration failure or a conflicting binding, which
//	        indicates a corrupted index.
func (s *Store) Rehydrate(ctx context.Context) (int, error) {
	restored := 0
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(idxPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())

			rest := strings.TrimPrefix(key, idxPrefix)
			sep := strings.Index(rest, "/")
			if sep < 0 {
				return fmt.Errorf("malformed identity index key %q", key)
			}
			entity, resourceID := rest[:sep], rest[sep+1:]

			var local string
			if err := item.Value(func(val []byte) error {
				local = string(val)
				return nil
			}); err != nil {
				return err
			}

			h := identity.Handle{Entity: entity, Local: local}
			if err := s.ids.Register(entity, resourceID, h); err != nil {
				return fmt.Errorf("rehydrating %s %q: %w", entity, resourceID, err)
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return restored, err
	}
	return restored, nil
}

// Get returns a copy of the record for a handle.
//
// Outputs:
//
//	*Record - A copy; mutating it does not affect the store.
//	error - Wraps ErrRecordNotFound if no record exists.
func (s *Store) Get(ctx context.Context, h identity.Handle) (*Record, error) {
	if h.IsZero() {
		return nil, ErrInvalidHandle
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec *Record
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		rec, err = readRecord(txn, h)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query returns copies of all records of an entity matching a predicate.
//
// Description:
//
//	Prefix-scans the entity's records and filters with pred. A nil pred
//	matches everything. Results are sorted by local id for deterministic
//	local order; server order is only meaningful on the fetch path.
//
// Thread Safety: Holds the read lock for the whole scan, so a concurrent
// merge is either fully visible or not at all.
func (s *Store) Query(ctx context.Context, entity string, pred func(*Record) bool) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(recPrefix + entity + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decoding record %s: %w", it.Item().Key(), err)
			}
			if pred == nil || pred(&rec) {
				out = append(out, &rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Local < out[j].Local })
	return out, nil
}

// CreateLocal creates a record before any network contact.
//
// Description:
//
//	Mints an unidentified handle and writes a record with the given
//	attributes and zero staleness markers, so a later fault knows the
//	data is local-only. The handle acquires a resource identifier when
//	an external sync layer calls identity.Map.Register and the record is
//	next merged.
func (s *Store) CreateLocal(ctx context.Context, entity string, attrs map[string]any) (identity.Handle, error) {
	h := s.ids.Mint(entity)
	rec := &Record{Entity: h.Entity, Local: h.Local, Attributes: attrs}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return writeRecord(txn, rec)
	})
	if err != nil {
		return identity.Handle{}, err
	}
	return h, nil
}

// Delete removes a record and its identity-index entry.
//
// Deletion is always explicit: reconciliation during a collection fetch is
// the only core-internal caller, and only when opted in.
func (s *Store) Delete(ctx context.Context, h identity.Handle) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		rec, err := readRecord(txn, h)
		if err != nil {
			return err
		}
		if rec.ResourceID != "" {
			if err := txn.Delete(idxKey(h.Entity, rec.ResourceID)); err != nil {
				return err
			}
		}
		return txn.Delete(recKey(h))
	})
}

// readRecord loads and decodes one record inside a transaction.
func readRecord(txn *badgerdb.Txn, h identity.Handle) (*Record, error) {
	item, err := txn.Get(recKey(h))
	if err != nil {
		if err == badgerdb.ErrKeyNotFound {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, h)
		}
		return nil, err
	}

	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, fmt.Errorf("decoding record %s: %w", h, err)
	}
	return &rec, nil
}

// writeRecord encodes and stores one record plus its identity-index entry
// inside a transaction.
func writeRecord(txn *badgerdb.Txn, rec *Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.Handle(), err)
	}
	if err := txn.Set(recKey(rec.Handle()), buf); err != nil {
		return err
	}
	if rec.ResourceID != "" {
		if err := txn.Set(idxKey(rec.Entity, rec.ResourceID), []byte(rec.Local)); err != nil {
			return err
		}
	}
	return nil
}

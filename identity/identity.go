// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity correlates remote resource identifiers with stable local
// handles.
//
// The map is injective in one direction: a (entity, resource id) pair maps to
// exactly one handle. The reverse is not required; a handle minted for a
// locally-created record has no resource identifier until it is registered
// after its first sync.
package identity

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Handle is a stable local reference to a cached record. It is independent
// of whether a resource identifier is known yet, and remains valid for the
// life of the local store.
type Handle struct {
	// Entity is the entity name the handle belongs to.
	Entity string

	// Local is the store-local identifier, minted once and never reused.
	Local string
}

// IsZero returns true for the zero handle.
func (h Handle) IsZero() bool {
	return h.Entity == "" && h.Local == ""
}

func (h Handle) String() string {
	return h.Entity + "/" + h.Local
}

// key identifies a remote resource within the map.
type key struct {
	entity     string
	resourceID string
}

// Map is the in-process identity map.
//
// Thread Safety:
//
//	Safe for concurrent use. Lookups take a read lock; Resolve and
//	Register take the write lock.
type Map struct {
	mu       sync.RWMutex
	byRes    map[key]Handle
	byHandle map[Handle]string
}

// NewMap returns an empty identity map.
func NewMap() *Map {
	return &Map{
		byRes:    make(map[key]Handle),
		byHandle: make(map[Handle]string),
	}
}

// Resolve returns the handle bound to (entity, resourceID), minting and
// registering a new one if none exists.
//
// Outputs:
//
//	Handle - The existing or newly-minted handle.
//	bool - True if a new handle was minted by this call.
//	error - Wraps ErrEmptyResourceID for an empty identifier.
func (m *Map) Resolve(entity, resourceID string) (Handle, bool, error) {
	if resourceID == "" {
		return Handle{}, false, fmt.Errorf("%w: entity %q", ErrEmptyResourceID, entity)
	}

	k := key{entity: entity, resourceID: resourceID}

	m.mu.RLock()
	h, ok := m.byRes[k]
	m.mu.RUnlock()
	if ok {
		return h, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the write lock; a concurrent Resolve may have won.
	if h, ok := m.byRes[k]; ok {
		return h, false, nil
	}

	h = Handle{Entity: entity, Local: uuid.NewString()}
	m.byRes[k] = h
	m.byHandle[h] = resourceID
	return h, true, nil
}

// Mint creates an unidentified handle for a locally-created record.
//
// The handle has no resource identifier until Register binds one after the
// record's first sync.
func (m *Map) Mint(entity string) Handle {
	return Handle{Entity: entity, Local: uuid.NewString()}
}

// Register binds an existing handle to a resource identifier.
//
// Description:
//
//	Used when a locally-created record acquires its resource identifier
//	on first sync, and when rehydrating the map from the backing store's
//	persistent index at open.
//
// Outputs:
//
//	error - Wraps ErrIdentityConflict if (entity, resourceID) is already
//	        bound to a different handle, or ErrEmptyResourceID.
//	        Registering the same binding twice is a no-op.
func (m *Map) Register(entity, resourceID string, h Handle) error {
	if resourceID == "" {
		return fmt.Errorf("%w: entity %q", ErrEmptyResourceID, entity)
	}

	k := key{entity: entity, resourceID: resourceID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byRes[k]; ok {
		if existing == h {
			return nil
		}
		return fmt.Errorf("%w: %s %q already bound to %s, refusing %s",
			ErrIdentityConflict, entity, resourceID, existing, h)
	}

	m.byRes[k] = h
	m.byHandle[h] = resourceID
	return nil
}

// Lookup returns the handle bound to (entity, resourceID) without minting.
func (m *Map) Lookup(entity, resourceID string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.byRes[key{entity: entity, resourceID: resourceID}]
	return h, ok
}

// ResourceID returns the resource identifier bound to a handle, if any.
// An unidentified handle returns ("", false).
func (m *Map) ResourceID(h Handle) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHandle[h]
	return id, ok
}

// Len returns the number of identified bindings.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byRes)
}

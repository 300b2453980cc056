// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncstore

import (
	"fmt"
	"sort"
	"sync"
)

// TypeBadger is the built-in store type backed by an embedded BadgerDB.
const TypeBadger = "badger"

// Factory builds a store from construction options. Registered factories
// receive the full Options verbatim.
type Factory func(opts Options) (*Store, error)

var registry = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{
	TypeBadger: New,
}}

// Register adds a named store factory. Registration is an explicit call the
// application makes at startup; importing a package never registers a type
// as a side effect. Registering an already-registered name returns
// ErrStoreTypeRegistered.
func Register(storeType string, f Factory) error {
	if storeType == "" || f == nil {
		return fmt.Errorf("%w: empty type or nil factory", ErrStoreTypeUnknown)
	}
	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.factories[storeType]; dup {
		return fmt.Errorf("%w: %q", ErrStoreTypeRegistered, storeType)
	}
	registry.factories[storeType] = f
	return nil
}

// Open constructs a store of a registered type.
func Open(storeType string, opts Options) (*Store, error) {
	registry.RLock()
	f, ok := registry.factories[storeType]
	registry.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStoreTypeUnknown, storeType)
	}
	return f(opts)
}

// RegisteredTypes returns the registered store type names, sorted.
func RegisteredTypes() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

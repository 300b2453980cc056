// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backing is the local persistent object cache: typed records stored
// in BadgerDB, queryable by entity, mutated only through the merge path so
// the identity map and the cache never diverge.
//
// The store also persists the identity index (resource identifier to local
// handle) in the same transactions as record writes, so identity survives
// process restarts.
package backing

import (
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
)

// Record is the materialized local state for one handle: an entity, an
// attribute map, and a handle (or handle list) per relationship.
//
// Records are written only by the merge path. Callers receive copies; nothing
// handed out aliases store-internal state.
type Record struct {
	// Entity is the entity name.
	Entity string `json:"entity"`

	// Local is the store-local half of the handle.
	Local string `json:"local"`

	// ResourceID is the remote identifier, empty for a locally-created
	// record that has not yet synced.
	ResourceID string `json:"resource_id,omitempty"`

	// Attributes maps attribute name to last-merged value.
	Attributes map[string]any `json:"attributes,omitempty"`

	// ToOne maps relationship name to the single related handle.
	ToOne map[string]identity.Handle `json:"to_one,omitempty"`

	// ToMany maps relationship name to related handles in server order.
	ToMany map[string][]identity.Handle `json:"to_many,omitempty"`

	// AttributesFetchedAt is the unix-milli timestamp of the last remote
	// merge that touched attributes. Zero means the attribute set is
	// local-only and has never been fetched.
	AttributesFetchedAt int64 `json:"attributes_fetched_at,omitempty"`

	// RelationshipsFetchedAt records, per relationship name, the
	// unix-milli timestamp of the last remote merge that touched it.
	// A missing key means the relationship has never been fetched.
	RelationshipsFetchedAt map[string]int64 `json:"relationships_fetched_at,omitempty"`
}

// Handle returns the record's stable local handle.
func (r *Record) Handle() identity.Handle {
	return identity.Handle{Entity: r.Entity, Local: r.Local}
}

// AttributesFetched reports whether the attribute set has ever been merged
// from a remote response.
func (r *Record) AttributesFetched() bool {
	return r.AttributesFetchedAt > 0
}

// RelationshipFetched reports whether the named relationship has ever been
// merged from a remote response.
func (r *Record) RelationshipFetched(name string) bool {
	return r.RelationshipsFetchedAt[name] > 0
}

// Relationship returns the stored handles for a relationship: a slice of one
// for a populated to-one, the stored list for to-many, nil if unset.
func (r *Record) Relationship(rel *schema.Relationship) []identity.Handle {
	if rel.ToMany {
		stored := r.ToMany[rel.Name]
		if len(stored) == 0 {
			return nil
		}
		out := make([]identity.Handle, len(stored))
		copy(out, stored)
		return out
	}
	h, ok := r.ToOne[rel.Name]
	if !ok || h.IsZero() {
		return nil
	}
	return []identity.Handle{h}
}

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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/storage/badger"
	"github.com/AleutianAI/syncstore/wire"
)

func testModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.NewModel(
		&schema.Entity{
			Name:       "Employee",
			Attributes: map[string]schema.AttributeType{"name": schema.String},
			Relationships: map[string]*schema.Relationship{
				"manager": {Target: "Employee"},
				"reports": {Target: "Employee", ToMany: true, Ordered: true},
			},
		},
	)
	require.NoError(t, err)
	return m
}

func testStore(t *testing.T) (*Store, *Merger) {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, identity.NewMap())
	return store, NewMerger(store)
}

func employee(t *testing.T, m *schema.Model) *schema.Entity {
	t.Helper()
	e, err := m.Entity("Employee")
	require.NoError(t, err)
	return e
}

// aliceWithManager is the translated form of
// {"id":"42","name":"Alice","manager":{"id":"7","name":"Bob"}}.
func aliceWithManager(e *schema.Entity) *wire.Translated {
	return &wire.Translated{
		Entity:     e,
		ResourceID: "42",
		Attributes: map[string]any{"name": "Alice"},
		Relationships: map[string][]wire.RelValue{
			"manager": {{Nested: &wire.Translated{
				Entity:     e,
				ResourceID: "7",
				Attributes: map[string]any{"name": "Bob"},
			}}},
		},
	}
}

// TestMergeNestedRepresentation is the literal scenario: after the merge,
// both records exist and the relationship points at the nested handle.
func TestMergeNestedRepresentation(t *testing.T) {
	ctx := context.Background()
	m := testModel(t)
	e := employee(t, m)
	store, merger := testStore(t)

	handles, err := merger.Merge(ctx, aliceWithManager(e))
	require.NoError(t, err)
	require.Len(t, handles, 1)

	alice, err := store.Get(ctx, handles[0])
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Attributes["name"])
	assert.True(t, alice.AttributesFetched())
	assert.True(t, alice.RelationshipFetched("manager"))

	bobHandle, ok := store.Identity().Lookup("Employee", "7")
	require.True(t, ok)
	assert.Equal(t, bobHandle, alice.ToOne["manager"])

	bob, err := store.Get(ctx, bobHandle)
	require.NoError(t, err)
	assert.Equal(t, "Bob", bob.Attributes["name"])
}

// TestMergeIsIdempotent verifies re-merging an identical response changes
// nothing observable.
func TestMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := testModel(t)
	e := employee(t, m)
	store, merger := testStore(t)

	first, err := merger.Merge(ctx, aliceWithManager(e))
	require.NoError(t, err)
	before, err := store.Get(ctx, first[0])
	require.NoError(t, err)

	second, err := merger.Merge(ctx, aliceWithManager(e))
	require.NoError(t, err)
	assert.Equal(t, first, second, "identity must be stable across merges")

	after, err := store.Get(ctx, second[0])
	require.NoError(t, err)
	assert.Equal(t, before.Attributes, after.Attributes)
	assert.Equal(t, before.ToOne, after.ToOne)
	assert.Equal(t, before.ToMany, after.ToMany)

	// Exactly two records exist: Alice and Bob.
	recs, err := store.Query(ctx, "Employee", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

// TestMergeLastWriteWins verifies a later merge overwrites attributes
// without minting a duplicate handle.
func TestMergeLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := testModel(t)
	e := employee(t, m)
	store, merger := testStore(t)

	first, err := merger.Merge(ctx, aliceWithManager(e))
	require.NoError(t, err)

	second, err := merger.Merge(ctx, &wire.Translated{
		Entity:     e,
		ResourceID: "42",
		Attributes: map[string]any{"name": "Alicia"},
	})
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0])

	rec, err := store.Get(ctx, second[0])
	require.NoError(t, err)
	assert.Equal(t, "Alicia", rec.Attributes["name"])

	// The earlier relationship merge is untouched by an attribute-only merge.
	assert.True(t, rec.RelationshipFetched("manager"))
	assert.NotZero(t, rec.ToOne["manager"])
}

// TestMergeBareReferenceCreatesStub verifies refs resolve identity without
// attributes and leave the stub faultable.
func TestMergeBareReferenceCreatesStub(t *testing.T) {
	ctx := context.Background()
	m := testModel(t)
	e := employee(t, m)
	store, merger := testStore(t)

	_, err := merger.Merge(ctx, &wire.Translated{
		Entity:     e,
		ResourceID: "42",
		Relationships: map[string][]wire.RelValue{
			"reports": {{Ref: "8"}, {Ref: "9"}, {Ref: "8"}},
		},
	})
	require.NoError(t, err)

	h42, ok := store.Identity().Lookup("Employee", "42")
	require.True(t, ok)
	rec, err := store.Get(ctx, h42)
	require.NoError(t, err)

	// Duplicate refs collapse; order is preserved.
	require.Len(t, rec.ToMany["reports"], 2)

	h8, ok := store.Identity().Lookup("Employee", "8")
	require.True(t, ok)
	assert.Equal(t, h8, rec.ToMany["reports"][0])

	stub, err := store.Get(ctx, h8)
	require.NoError(t, err)
	assert.False(t, stub.AttributesFetched(), "stub attributes are local-only until faulted")
	assert.Equal(t, "8", stub.ResourceID)
}

// TestMergeRelationshipSetsParent verifies the relationship-fault merge
// points the parent at the merged handles atomically.
func TestMergeRelationshipSetsParent(t *testing.T) {
	ctx := context.Background()
	m := testModel(t)
	e := employee(t, m)
	store, merger := testStore(t)

	parents, err := merger.Merge(ctx, &wire.Translated{
		Entity: e, ResourceID: "42", Attributes: map[string]any{"name": "Alice"},
	})
	require.NoError(t, err)

	rel, err := e.Relationship("reports")
	require.NoError(t, err)

	reports, err := merger.MergeRelationship(ctx, parents[0], rel, []*wire.Translated{
		{Entity: e, ResourceID: "8", Attributes: map[string]any{"name": "Carol"}},
		{Entity: e, ResourceID: "9", Attributes: map[string]any{"name": "Dan"}},
	})
	require.NoError(t, err)
	require.Len(t, reports, 2)

	rec, err := store.Get(ctx, parents[0])
	require.NoError(t, err)
	assert.Equal(t, reports, rec.ToMany["reports"])
	assert.True(t, rec.RelationshipFetched("reports"))
}

// TestAtomicVisibility hammers Get while merging: a reader must never see
// updated attributes with the relationship missing, or vice versa.
func TestAtomicVisibility(t *testing.T) {
	ctx := context.Background()
	m := testModel(t)
	e := employee(t, m)
	store, merger := testStore(t)

	// Seed so readers have a handle to watch.
	handles, err := merger.Merge(ctx, aliceWithManager(e))
	require.NoError(t, err)
	h := handles[0]

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			rec, err := store.Get(ctx, h)
			if err != nil {
				continue
			}
			// Attributes and relationship always travel together.
			name := rec.Attributes["name"]
			_, hasManager := rec.ToOne["manager"]
			if name == "v2" {
				assert.True(t, hasManager, "post-merge state must be complete")
			}
		}
	}()

	for i := 0; i < 50; i++ {
		tr := aliceWithManager(e)
		tr.Attributes["name"] = "v2"
		_, err := merger.Merge(ctx, tr)
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()
}

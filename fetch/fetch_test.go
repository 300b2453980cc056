// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetch

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/syncstore/backing"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/restpolicy"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/storage/badger"
	"github.com/AleutianAI/syncstore/wire"
)

// fakeTransport returns one canned payload per call.
type fakeTransport struct {
	payload any
	err     error
	calls   int
	lastReq *wire.Request
}

func (f *fakeTransport) Do(_ context.Context, req *wire.Request) (*wire.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &wire.Response{StatusCode: http.StatusOK, Payload: f.payload}, nil
}

type fixture struct {
	store       *backing.Store
	coordinator *Coordinator
	transport   *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	model, err := schema.NewModel(&schema.Entity{
		Name:       "Employee",
		Attributes: map[string]schema.AttributeType{"name": schema.String},
		Relationships: map[string]*schema.Relationship{
			"manager": {Target: "Employee"},
		},
	})
	require.NoError(t, err)

	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ids := identity.NewMap()
	store := backing.NewStore(db, ids)
	merger := backing.NewMerger(store)
	rest := restpolicy.New(ids)
	transport := &fakeTransport{}

	return &fixture{
		store:     store,
		transport: transport,
		coordinator: NewCoordinator(model, store, merger,
			wire.NewTranslator(model, rest), rest, transport, nil),
	}
}

// TestExecutePreservesServerOrder verifies handles come back in response
// order, not local or sorted order.
func TestExecutePreservesServerOrder(t *testing.T) {
	fx := newFixture(t)
	fx.transport.payload = []any{
		map[string]any{"id": "9", "name": "Zed"},
		map[string]any{"id": "1", "name": "Amy"},
		map[string]any{"id": "5", "name": "Mel"},
	}

	handles, err := fx.coordinator.Execute(context.Background(), &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	require.Len(t, handles, 3)

	for i, id := range []string{"9", "1", "5"} {
		h, ok := fx.store.Identity().Lookup("Employee", id)
		require.True(t, ok)
		assert.Equal(t, h, handles[i])
	}
	assert.Equal(t, "/employees", fx.transport.lastReq.Path)
}

// TestExecuteMergesEmbeddedRelationships verifies nested representations
// become full records reachable from the parent.
func TestExecuteMergesEmbeddedRelationships(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.transport.payload = []any{
		map[string]any{
			"id": "42", "name": "Alice",
			"manager": map[string]any{"id": "7", "name": "Bob"},
		},
	}

	handles, err := fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	require.Len(t, handles, 1)

	alice, err := fx.store.Get(ctx, handles[0])
	require.NoError(t, err)

	bobHandle, ok := fx.store.Identity().Lookup("Employee", "7")
	require.True(t, ok)
	assert.Equal(t, bobHandle, alice.ToOne["manager"])

	bob, err := fx.store.Get(ctx, bobHandle)
	require.NoError(t, err)
	assert.Equal(t, "Bob", bob.Attributes["name"])
}

// TestExecuteUpdatesExistingRecords verifies refetching updates rather than
// duplicating.
func TestExecuteUpdatesExistingRecords(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.transport.payload = []any{map[string]any{"id": "42", "name": "Alice"}}
	first, err := fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)

	fx.transport.payload = []any{map[string]any{"id": "42", "name": "Alicia"}}
	second, err := fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)

	assert.Equal(t, first, second)

	recs, err := fx.store.Query(ctx, "Employee", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Alicia", recs[0].Attributes["name"])
}

// TestExecuteKeepsAbsentRecordsByDefault verifies no silent deletion.
func TestExecuteKeepsAbsentRecordsByDefault(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.transport.payload = []any{
		map[string]any{"id": "1", "name": "Amy"},
		map[string]any{"id": "2", "name": "Ben"},
	}
	_, err := fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)

	// A later, narrower response does not remove record 2.
	fx.transport.payload = []any{map[string]any{"id": "1", "name": "Amy"}}
	_, err = fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)

	recs, err := fx.store.Query(ctx, "Employee", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

// TestExecuteReconcileRemovesStale verifies opt-in reconciliation deletes
// identified records absent from the response but keeps local drafts.
func TestExecuteReconcileRemovesStale(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.transport.payload = []any{
		map[string]any{"id": "1", "name": "Amy"},
		map[string]any{"id": "2", "name": "Ben"},
	}
	_, err := fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)

	// A never-synced local draft must survive reconciliation.
	draft, err := fx.store.CreateLocal(ctx, "Employee", map[string]any{"name": "Draft"})
	require.NoError(t, err)

	fx.transport.payload = []any{map[string]any{"id": "1", "name": "Amy"}}
	_, err = fx.coordinator.Execute(ctx, &wire.Query{Entity: "Employee"}, WithReconcile())
	require.NoError(t, err)

	recs, err := fx.store.Query(ctx, "Employee", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	h2, ok := fx.store.Identity().Lookup("Employee", "2")
	require.True(t, ok)
	_, err = fx.store.Get(ctx, h2)
	assert.ErrorIs(t, err, backing.ErrRecordNotFound)

	_, err = fx.store.Get(ctx, draft)
	assert.NoError(t, err)
}

// TestExecuteSkipsBadRecords verifies translation errors drop only the
// affected record.
func TestExecuteSkipsBadRecords(t *testing.T) {
	fx := newFixture(t)

	fx.transport.payload = []any{
		map[string]any{"id": "1", "name": "Amy"},
		map[string]any{"name": "no id"},
		map[string]any{"id": "2", "name": "Ben"},
	}

	handles, err := fx.coordinator.Execute(context.Background(), &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	assert.Len(t, handles, 2)
}

// TestExecuteSurfacesTransportErrors verifies network failures abort cleanly.
func TestExecuteSurfacesTransportErrors(t *testing.T) {
	fx := newFixture(t)
	fx.transport.err = assert.AnError

	_, err := fx.coordinator.Execute(context.Background(), &wire.Query{Entity: "Employee"})
	require.ErrorIs(t, err, assert.AnError)

	recs, err := fx.store.Query(context.Background(), "Employee", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

// TestExecuteUnknownEntity verifies schema errors surface before any I/O.
func TestExecuteUnknownEntity(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.coordinator.Execute(context.Background(), &wire.Query{Entity: "Ghost"})
	assert.ErrorIs(t, err, schema.ErrUnknownEntity)
	assert.Zero(t, fx.transport.calls)
}

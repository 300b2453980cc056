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
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/syncstore/httpclient"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/restpolicy"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/wire"
)

func employeeModel(t *testing.T) *schema.Model {
	t.Helper()
	model, err := schema.NewModel(&schema.Entity{
		Name: "Employee",
		Attributes: map[string]schema.AttributeType{
			"name": schema.String,
		},
		Relationships: map[string]*schema.Relationship{
			"manager": {Target: "Employee"},
			"reports": {Target: "Employee", ToMany: true, Ordered: true},
		},
	})
	require.NoError(t, err)
	return model
}

// countingServer serves canned JSON per path and counts requests.
func countingServer(t *testing.T, routes map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func openTestStore(t *testing.T, baseURL string) (*Store, *identity.Map) {
	t.Helper()
	ids := identity.NewMap()
	rest := restpolicy.New(ids)
	transport, err := httpclient.New(baseURL)
	require.NoError(t, err)

	store, err := New(Options{
		Config:    Config{InMemory: true},
		Model:     employeeModel(t),
		Policy:    rest,
		Builder:   rest,
		Transport: transport,
		Identity:  ids,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, ids
}

func TestNewRequiresCollaborators(t *testing.T) {
	ids := identity.NewMap()
	rest := restpolicy.New(ids)
	transport, err := httpclient.New("http://localhost:1")
	require.NoError(t, err)

	cases := []struct {
		name string
		opts Options
	}{
		{"missing model", Options{Config: Config{InMemory: true}, Policy: rest, Builder: rest, Transport: transport}},
		{"missing policy", Options{Config: Config{InMemory: true}, Model: employeeModel(t), Builder: rest, Transport: transport}},
		{"missing builder", Options{Config: Config{InMemory: true}, Model: employeeModel(t), Policy: rest, Transport: transport}},
		{"missing transport", Options{Config: Config{InMemory: true}, Model: employeeModel(t), Policy: rest, Builder: rest}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.opts)
			require.ErrorIs(t, err, ErrUnimplementedPolicy)
		})
	}
}

// A collection response embedding a nested manager must leave both records
// resolvable without any further network traffic.
func TestNestedRelationshipResolvesLocally(t *testing.T) {
	srv, calls := countingServer(t, map[string]string{
		"/employees": `[{"id": 1, "name": "Alice", "manager": {"id": 2, "name": "Bob"}}]`,
	})
	store, _ := openTestStore(t, srv.URL)
	ctx := context.Background()

	handles, err := store.Fetch(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	alice := handles[0]

	attrs, err := store.ResolveAttributeFault(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", attrs["name"])

	managers, err := store.ResolveRelationshipFault(ctx, "manager", alice)
	require.NoError(t, err)
	require.Len(t, managers, 1)

	attrs, err = store.ResolveAttributeFault(ctx, managers[0])
	require.NoError(t, err)
	assert.Equal(t, "Bob", attrs["name"])

	assert.Equal(t, int64(1), calls.Load(), "nested data must not refetch")
}

// A bare reference yields a stub whose attribute fault fetches the record.
func TestBareReferenceFaultsOverHTTP(t *testing.T) {
	srv, calls := countingServer(t, map[string]string{
		"/employees":   `[{"id": 1, "name": "Alice", "manager": 2}]`,
		"/employees/2": `{"id": 2, "name": "Bob"}`,
	})
	store, _ := openTestStore(t, srv.URL)
	ctx := context.Background()

	handles, err := store.Fetch(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	require.Len(t, handles, 1)

	managers, err := store.ResolveRelationshipFault(ctx, "manager", handles[0])
	require.NoError(t, err)
	require.Len(t, managers, 1)

	attrs, err := store.ResolveAttributeFault(ctx, managers[0])
	require.NoError(t, err)
	assert.Equal(t, "Bob", attrs["name"])
	assert.Equal(t, int64(2), calls.Load())

	// Second access is served from the backing cache.
	_, err = store.ResolveAttributeFault(ctx, managers[0])
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestHandlesStableAcrossReopen(t *testing.T) {
	srv, _ := countingServer(t, map[string]string{
		"/employees": `[{"id": 7, "name": "Grace"}]`,
	})
	dir := t.TempDir()

	open := func() *Store {
		ids := identity.NewMap()
		rest := restpolicy.New(ids)
		transport, err := httpclient.New(srv.URL)
		require.NoError(t, err)
		store, err := New(Options{
			Config:    Config{Path: filepath.Join(dir, "cache")},
			Model:     employeeModel(t),
			Policy:    rest,
			Builder:   rest,
			Transport: transport,
			Identity:  ids,
		})
		require.NoError(t, err)
		return store
	}

	ctx := context.Background()
	store := open()
	handles, err := store.Fetch(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	first := handles[0]
	require.NoError(t, store.Close())

	store = open()
	defer store.Close()
	handles, err = store.Fetch(ctx, &wire.Query{Entity: "Employee"})
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, first, handles[0], "same resource must map to the same handle after reopen")
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, RegisteredTypes(), TypeBadger)

	_, err := Open("no-such-type", Options{})
	require.ErrorIs(t, err, ErrStoreTypeUnknown)

	err = Register(TypeBadger, New)
	require.ErrorIs(t, err, ErrStoreTypeRegistered)

	require.NoError(t, Register("custom-test", New))
	srv, _ := countingServer(t, nil)
	store, ids := func() (*Store, *identity.Map) {
		ids := identity.NewMap()
		rest := restpolicy.New(ids)
		transport, err := httpclient.New(srv.URL)
		require.NoError(t, err)
		store, err := Open("custom-test", Options{
			Config:    Config{InMemory: true},
			Model:     employeeModel(t),
			Policy:    rest,
			Builder:   rest,
			Transport: transport,
			Identity:  ids,
		})
		require.NoError(t, err)
		return store, ids
	}()
	defer store.Close()
	assert.NotNil(t, ids)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"path: /tmp/syncstore-test\nbase_url: http://localhost:8080\nrate_limit: 5\nburst: 10\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/syncstore-test", cfg.Path)
	assert.Equal(t, 5.0, cfg.RateLimit)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	empty := Config{}
	assert.Error(t, empty.Validate(), "path required when not in-memory")

	mem := Config{InMemory: true}
	assert.NoError(t, mem.Validate())

	badURL := Config{InMemory: true, BaseURL: "::bad::"}
	assert.Error(t, badURL.Validate())
}

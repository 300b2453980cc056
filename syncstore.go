// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncstore is an incremental persistence layer: it presents remote
// web-service resources as rows in a local, queryable, faultable object
// store. Queries and faults are answered from a BadgerDB-backed cache when
// possible; gaps are filled by fetching, translating, and merging remote
// representations while keeping a stable identity mapping between remote
// resources and local handles across process lifetimes.
//
// The store core is policy-free: how responses decompose into
// representations, how fields map to attributes, and how queries become
// requests all live behind the wire package's collaborator contracts. The
// restpolicy and httpclient packages provide defaults for conventional JSON
// REST services.
//
// Basic usage:
//
//	ids := identity.NewMap()
//	rest := restpolicy.New(ids)
//	transport, _ := httpclient.New("https://api.example.com")
//
//	store, err := syncstore.New(syncstore.Options{
//	    Config:    syncstore.DefaultConfig("/var/lib/myapp/cache"),
//	    Model:     model,
//	    Policy:    rest,
//	    Builder:   rest,
//	    Transport: transport,
//	    Identity:  ids,
//	})
//	if err != nil { ... }
//	defer store.Close()
//
//	handles, err := store.Fetch(ctx, &wire.Query{Entity: "Employee"})
//	attrs, err := store.ResolveAttributeFault(ctx, handles[0])
package syncstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/syncstore/backing"
	"github.com/AleutianAI/syncstore/fault"
	"github.com/AleutianAI/syncstore/fetch"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/storage/badger"
	"github.com/AleutianAI/syncstore/wire"
)

// Options bundles everything a store needs at construction.
//
// Model, Policy, Builder, and Transport are the mandatory collaborators;
// construction fails with ErrUnimplementedPolicy when any is missing.
// FetchPolicy is the optional should-fetch hook set and defaults to
// always-fetch.
type Options struct {
	// Config selects the backing cache location and transport tuning.
	Config Config

	// Model is the typed schema. Required.
	Model *schema.Model

	// Policy supplies the wire-format mapping rules. Required.
	Policy wire.ClientPolicy

	// Builder turns queries and faults into request descriptors. Required.
	Builder wire.RequestBuilder

	// Transport executes request descriptors. Required.
	Transport wire.Transport

	// FetchPolicy is the optional should-fetch hook set. When nil and
	// Policy implements wire.FetchPolicy, Policy's hooks are used.
	FetchPolicy wire.FetchPolicy

	// Identity is the identity map to use. Optional; a fresh map is
	// created when nil. Supply one when the RequestBuilder shares it
	// (restpolicy does).
	Identity *identity.Map

	// Logger receives structured store logs. Optional.
	Logger *slog.Logger
}

// Store is the incremental store facade: the fetch-by-query path, the two
// fault-resolution paths, and read access to the backing cache.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	model       *schema.Model
	db          *badger.DB
	backing     *backing.Store
	merger      *backing.Merger
	resolver    *fault.Resolver
	coordinator *fetch.Coordinator
	ids         *identity.Map
	logger      *slog.Logger
}

// New constructs a store and rehydrates identity state from disk.
//
// Description:
//
//	Validates the configuration and the collaborator set, opens the
//	backing database, restores the persistent identity index, and wires
//	the fault resolver and fetch coordinator.
//
// Outputs:
//
//	*Store - Ready for use. Caller must Close.
//	error - Wraps ErrUnimplementedPolicy naming the missing collaborator,
//	        or the configuration/database error.
func New(opts Options) (*Store, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	switch {
	case opts.Model == nil:
		return nil, fmt.Errorf("%w: Model", ErrUnimplementedPolicy)
	case opts.Policy == nil:
		return nil, fmt.Errorf("%w: ClientPolicy", ErrUnimplementedPolicy)
	case opts.Builder == nil:
		return nil, fmt.Errorf("%w: RequestBuilder", ErrUnimplementedPolicy)
	case opts.Transport == nil:
		return nil, fmt.Errorf("%w: Transport", ErrUnimplementedPolicy)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// A policy that carries its own should-fetch hooks is honored without
	// requiring the caller to pass it twice.
	if opts.FetchPolicy == nil {
		if fp, ok := opts.Policy.(wire.FetchPolicy); ok {
			opts.FetchPolicy = fp
		}
	}

	sc := opts.Config.storageConfig()
	sc.Logger = logger
	db, err := badger.Open(sc)
	if err != nil {
		return nil, err
	}

	ids := opts.Identity
	if ids == nil {
		ids = identity.NewMap()
	}

	store := backing.NewStore(db, ids)
	restored, err := store.Rehydrate(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("rehydrating identity index: %w", err)
	}
	if restored > 0 {
		logger.Info("restored identity bindings", slog.Int("count", restored))
	}

	merger := backing.NewMerger(store)
	translator := wire.NewTranslator(opts.Model, opts.Policy)

	return &Store{
		model:   opts.Model,
		db:      db,
		backing: store,
		merger:  merger,
		resolver: fault.NewResolver(opts.Model, store, merger, translator,
			opts.Builder, opts.Transport, opts.FetchPolicy, logger),
		coordinator: fetch.NewCoordinator(opts.Model, store, merger, translator,
			opts.Builder, opts.Transport, logger),
		ids:    ids,
		logger: logger,
	}, nil
}

// Fetch executes a collection query and returns handles in server order.
// See fetch.Coordinator.Execute; fetch.WithReconcile opts into removing
// stale local records.
func (s *Store) Fetch(ctx context.Context, q *wire.Query, opts ...fetch.Option) ([]identity.Handle, error) {
	return s.coordinator.Execute(ctx, q, opts...)
}

// ResolveAttributeFault returns a handle's attribute set, fetching it when
// the local copy has never been remotely populated.
func (s *Store) ResolveAttributeFault(ctx context.Context, h identity.Handle) (map[string]any, error) {
	return s.resolver.ResolveAttributes(ctx, h)
}

// ResolveRelationshipFault returns the handles behind a relationship,
// fetching when it has never been remotely populated. To-one relationships
// yield at most one handle.
func (s *Store) ResolveRelationshipFault(ctx context.Context, relationship string, h identity.Handle) ([]identity.Handle, error) {
	return s.resolver.ResolveRelationship(ctx, relationship, h)
}

// Record returns a copy of the cached record for a handle, without
// triggering any fetch.
func (s *Store) Record(ctx context.Context, h identity.Handle) (*backing.Record, error) {
	return s.backing.Get(ctx, h)
}

// Query returns cached records of an entity matching pred, local-only.
func (s *Store) Query(ctx context.Context, entity string, pred func(*backing.Record) bool) ([]*backing.Record, error) {
	if _, err := s.model.Entity(entity); err != nil {
		return nil, err
	}
	return s.backing.Query(ctx, entity, pred)
}

// CreateLocal creates a record with an unidentified handle before any
// network contact.
func (s *Store) CreateLocal(ctx context.Context, entity string, attrs map[string]any) (identity.Handle, error) {
	if _, err := s.model.Entity(entity); err != nil {
		return identity.Handle{}, err
	}
	return s.backing.CreateLocal(ctx, entity, attrs)
}

// Delete explicitly removes a record from the backing cache.
func (s *Store) Delete(ctx context.Context, h identity.Handle) error {
	return s.backing.Delete(ctx, h)
}

// Identity returns the store's identity map.
func (s *Store) Identity() *identity.Map {
	return s.ids
}

// Model returns the schema the store was built with.
func (s *Store) Model() *schema.Model {
	return s.model
}

// Close releases the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

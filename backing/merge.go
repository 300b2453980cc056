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
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/wire"
)

var mergeTracer = otel.Tracer("syncstore.backing")

// Prometheus metrics for the merge path.
var (
	mergeBatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncstore_merge_batches_total",
		Help: "Responses applied through the merge path",
	})

	mergeRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncstore_merge_records_total",
		Help: "Records written by merges, by entity",
	}, []string{"entity"})

	mergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "syncstore_merge_duration_seconds",
		Help:    "Time spent applying one response",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})
)

// Merger applies translated representations to the backing cache via the
// identity map. It is the only write path for remote data; translation
// output never touches records directly.
//
// Thread Safety:
//
//	Safe for concurrent use. Each Merge call applies its whole batch
//	under the store's write lock and a single database transaction, so a
//	concurrent reader sees either the pre-merge or the fully-merged
//	state. Across independent merges for the same resource,
//	last-merge-wins.
type Merger struct {
	store *Store
}

// NewMerger creates a merger over a backing store.
func NewMerger(store *Store) *Merger {
	return &Merger{store: store}
}

// Merge applies a batch of translated records atomically.
//
// Description:
//
//	For each translated record: resolves its identity, overwrites stored
//	attributes last-write-wins, recursively merges nested relationship
//	representations, resolves bare references to stub records, replaces
//	relationship handle sets preserving server order, and marks every
//	attribute set and relationship touched as remotely fetched.
//	Re-merging an identical batch is a no-op on record state.
//
// Inputs:
//
//	ctx - Context for the database transaction.
//	translated - Records in server order, typically one response's worth.
//
// Outputs:
//
//	[]identity.Handle - Handles of the top-level records, in input order.
//	error - Non-nil if the transaction failed; no partial state is kept.
func (m *Merger) Merge(ctx context.Context, translated ...*wire.Translated) ([]identity.Handle, error) {
	ctx, span := mergeTracer.Start(ctx, "Merge")
	defer span.End()

	start := time.Now()
	now := start.UnixMilli()

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	handles := make([]identity.Handle, 0, len(translated))
	err := m.store.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		for _, tr := range translated {
			h, err := m.mergeOne(txn, tr, now)
			if err != nil {
				return err
			}
			handles = append(handles, h)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mergeBatchesTotal.Inc()
	mergeDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("records", len(handles)))
	return handles, nil
}

// MergeRelationship merges a relationship-refresh response and points the
// parent's relationship at the merged handles, all in one transaction.
//
// Inputs:
//
//	parent - The handle whose relationship was faulted.
//	rel - The relationship descriptor.
//	translated - The relationship's records in server order.
//
// Outputs:
//
//	[]identity.Handle - The relationship's handles in server order (at
//	                    most one for to-one).
//	error - Wraps ErrRecordNotFound if the parent record is missing.
func (m *Merger) MergeRelationship(ctx context.Context, parent identity.Handle, rel *schema.Relationship, translated []*wire.Translated) ([]identity.Handle, error) {
	ctx, span := mergeTracer.Start(ctx, "MergeRelationship")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", parent.Entity),
		attribute.String("relationship", rel.Name),
	)

	start := time.Now()
	now := start.UnixMilli()

	m.store.mu.Lock()
	defer m.store.mu.Unlock()

	var related []identity.Handle
	err := m.store.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		related = related[:0]
		for _, tr := range translated {
			h, err := m.mergeOne(txn, tr, now)
			if err != nil {
				return err
			}
			related = append(related, h)
		}

		rec, err := readRecord(txn, parent)
		if err != nil {
			return err
		}
		setRelationship(rec, rel, dedupe(related), now)
		return writeRecord(txn, rec)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mergeBatchesTotal.Inc()
	mergeDuration.Observe(time.Since(start).Seconds())

	if !rel.ToMany && len(related) > 1 {
		related = related[:1]
	}
	return related, nil
}

// mergeOne applies one translated record inside an open transaction and
// returns its handle. Recurses into nested relationship representations.
func (m *Merger) mergeOne(txn *badgerdb.Txn, tr *wire.Translated, now int64) (identity.Handle, error) {
	h, _, err := m.store.ids.Resolve(tr.Entity.Name, tr.ResourceID)
	if err != nil {
		return identity.Handle{}, err
	}

	rec, err := readRecord(txn, h)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			return identity.Handle{}, err
		}
		rec = &Record{Entity: h.Entity, Local: h.Local}
	}
	rec.ResourceID = tr.ResourceID

	if rec.Attributes == nil && len(tr.Attributes) > 0 {
		rec.Attributes = make(map[string]any, len(tr.Attributes))
	}
	for k, v := range tr.Attributes {
		rec.Attributes[k] = v
	}
	rec.AttributesFetchedAt = now

	for name, values := range tr.Relationships {
		rel, err := tr.Entity.Relationship(name)
		if err != nil {
			return identity.Handle{}, err
		}

		related := make([]identity.Handle, 0, len(values))
		for _, v := range values {
			switch {
			case v.Nested != nil:
				child, err := m.mergeOne(txn, v.Nested, now)
				if err != nil {
					return identity.Handle{}, err
				}
				related = append(related, child)
			case v.Ref != "":
				child, err := m.resolveRef(txn, rel.Target, v.Ref)
				if err != nil {
					return identity.Handle{}, err
				}
				related = append(related, child)
			}
		}
		setRelationship(rec, rel, dedupe(related), now)
	}

	if err := writeRecord(txn, rec); err != nil {
		return identity.Handle{}, err
	}
	mergeRecordsTotal.WithLabelValues(rec.Entity).Inc()
	return h, nil
}

// resolveRef resolves a bare resource-identifier reference: identity only,
// no attributes. A stub record is written so the handle is faultable, with
// staleness markers left clear.
func (m *Merger) resolveRef(txn *badgerdb.Txn, entity, resourceID string) (identity.Handle, error) {
	h, _, err := m.store.ids.Resolve(entity, resourceID)
	if err != nil {
		return identity.Handle{}, err
	}

	_, err = readRecord(txn, h)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrRecordNotFound) {
		return identity.Handle{}, err
	}

	stub := &Record{Entity: h.Entity, Local: h.Local, ResourceID: resourceID}
	if err := writeRecord(txn, stub); err != nil {
		return identity.Handle{}, fmt.Errorf("writing stub for %s: %w", h, err)
	}
	return h, nil
}

// setRelationship replaces a relationship's stored value and marks it
// fetched. Server order is preserved for to-many; to-one keeps the first
// value.
func setRelationship(rec *Record, rel *schema.Relationship, related []identity.Handle, now int64) {
	if rel.ToMany {
		if rec.ToMany == nil {
			rec.ToMany = make(map[string][]identity.Handle)
		}
		rec.ToMany[rel.Name] = related
	} else {
		if rec.ToOne == nil {
			rec.ToOne = make(map[string]identity.Handle)
		}
		if len(related) > 0 {
			rec.ToOne[rel.Name] = related[0]
		} else {
			delete(rec.ToOne, rel.Name)
		}
	}
	if rec.RelationshipsFetchedAt == nil {
		rec.RelationshipsFetchedAt = make(map[string]int64)
	}
	rec.RelationshipsFetchedAt[rel.Name] = now
}

// dedupe drops repeated handles preserving first occurrence, so re-merged
// responses stay idempotent.
func dedupe(hs []identity.Handle) []identity.Handle {
	if len(hs) < 2 {
		return hs
	}
	seen := make(map[identity.Handle]struct{}, len(hs))
	out := hs[:0]
	for _, h := range hs {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

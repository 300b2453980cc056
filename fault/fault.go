// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fault resolves attribute and relationship faults: it decides
// whether local data suffices, and when it does not, it fetches, translates,
// and merges exactly once per fault target no matter how many callers are
// waiting.
//
// A fault target is (handle, attribute set) or (handle, relationship).
// Concurrent callers for the same target coalesce onto one network request
// through a singleflight group; all are released with the same outcome. A
// failed fetch leaves no state behind, so the next access simply re-faults.
package fault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/syncstore/backing"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/wire"
)

var tracer = otel.Tracer("syncstore.fault")

// Prometheus metrics for fault resolution.
var (
	faultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncstore_faults_total",
		Help: "Fault resolutions by kind and outcome",
	}, []string{"kind", "outcome"})

	faultCoalescedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncstore_fault_coalesced_total",
		Help: "Fault resolutions that joined an in-flight fetch",
	}, []string{"kind"})

	faultFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncstore_fault_fetch_duration_seconds",
		Help:    "Network fetch time for fault resolution",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})
)

// Fault outcomes for the faultsTotal metric.
const (
	outcomeLocal   = "local"
	outcomeFetched = "fetched"
	outcomeError   = "error"
)

// Resolver answers attribute and relationship faults.
//
// Thread Safety: safe for concurrent use.
type Resolver struct {
	model      *schema.Model
	store      *backing.Store
	merger     *backing.Merger
	translator *wire.Translator
	builder    wire.RequestBuilder
	transport  wire.Transport
	policy     wire.FetchPolicy
	flight     singleflight.Group
	logger     *slog.Logger
}

// NewResolver wires a resolver. policy may be nil; logger may be nil.
func NewResolver(model *schema.Model, store *backing.Store, merger *backing.Merger,
	translator *wire.Translator, builder wire.RequestBuilder, transport wire.Transport,
	policy wire.FetchPolicy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		model:      model,
		store:      store,
		merger:     merger,
		translator: translator,
		builder:    builder,
		transport:  transport,
		policy:     wire.FetchPolicyOrDefault(policy),
		logger:     logger,
	}
}

// ResolveAttributes returns a handle's attribute set, fetching it when the
// local copy is absent or has never been remotely populated.
//
// Description:
//
//	Unfaulted (attributes previously fetched): returns local data, no
//	network call. Faulted: consults the should-fetch hook; if it
//	declines, returns the current local data (possibly empty). Otherwise
//	fetches, merges, and returns the merged attributes. Concurrent calls
//	for the same handle share one fetch.
//
// Outputs:
//
//	map[string]any - The attribute set (a copy).
//	error - The network or translation error; local state is unchanged
//	        and the next call re-faults.
func (r *Resolver) ResolveAttributes(ctx context.Context, h identity.Handle) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "ResolveAttributes")
	defer span.End()
	span.SetAttributes(attribute.String("handle", h.String()))

	rec, err := r.store.Get(ctx, h)
	if err != nil && !errors.Is(err, backing.ErrRecordNotFound) {
		return nil, err
	}

	if rec != nil && rec.AttributesFetched() {
		faultsTotal.WithLabelValues("attributes", outcomeLocal).Inc()
		return attributesOf(rec), nil
	}

	if !r.policy.ShouldFetchAttributes(ctx, h) {
		faultsTotal.WithLabelValues("attributes", outcomeLocal).Inc()
		return attributesOf(rec), nil
	}

	key := "attr|" + h.Entity + "|" + h.Local
	v, err, shared := r.flight.Do(key, func() (any, error) {
		return r.fetchAttributes(context.WithoutCancel(ctx), h)
	})
	if shared {
		faultCoalescedTotal.WithLabelValues("attributes").Inc()
	}
	if err != nil {
		faultsTotal.WithLabelValues("attributes", outcomeError).Inc()
		span.RecordError(err)
		return nil, err
	}

	faultsTotal.WithLabelValues("attributes", outcomeFetched).Inc()
	return v.(map[string]any), nil
}

// ResolveRelationship returns the handles a relationship points at, fetching
// when the relationship has never been remotely populated.
//
// Outputs:
//
//	[]identity.Handle - Related handles in server order; at most one for
//	                    a to-one relationship; nil when empty.
//	error - Wraps schema.ErrUnknownRelationship, or the fetch error.
func (r *Resolver) ResolveRelationship(ctx context.Context, relName string, h identity.Handle) ([]identity.Handle, error) {
	ctx, span := tracer.Start(ctx, "ResolveRelationship")
	defer span.End()
	span.SetAttributes(
		attribute.String("handle", h.String()),
		attribute.String("relationship", relName),
	)

	entity, err := r.model.Entity(h.Entity)
	if err != nil {
		return nil, err
	}
	rel, err := entity.Relationship(relName)
	if err != nil {
		return nil, err
	}

	rec, err := r.store.Get(ctx, h)
	if err != nil && !errors.Is(err, backing.ErrRecordNotFound) {
		return nil, err
	}

	if rec != nil && rec.RelationshipFetched(relName) {
		faultsTotal.WithLabelValues("relationship", outcomeLocal).Inc()
		return rec.Relationship(rel), nil
	}

	if !r.policy.ShouldFetchRelationship(ctx, rel, h) {
		faultsTotal.WithLabelValues("relationship", outcomeLocal).Inc()
		if rec == nil {
			return nil, nil
		}
		return rec.Relationship(rel), nil
	}

	key := "rel|" + h.Entity + "|" + h.Local + "|" + relName
	v, err, shared := r.flight.Do(key, func() (any, error) {
		return r.fetchRelationship(context.WithoutCancel(ctx), rel, h)
	})
	if shared {
		faultCoalescedTotal.WithLabelValues("relationship").Inc()
	}
	if err != nil {
		faultsTotal.WithLabelValues("relationship", outcomeError).Inc()
		span.RecordError(err)
		return nil, err
	}

	faultsTotal.WithLabelValues("relationship", outcomeFetched).Inc()
	return v.([]identity.Handle), nil
}

// fetchAttributes runs the single in-flight attribute fetch for a handle.
func (r *Resolver) fetchAttributes(ctx context.Context, h identity.Handle) (map[string]any, error) {
	start := time.Now()

	req, err := r.builder.RequestForRecord(ctx, "GET", h)
	if err != nil {
		return nil, fmt.Errorf("building refresh request for %s: %w", h, err)
	}

	resp, err := r.transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("refreshing %s: %w", h, err)
	}
	faultFetchDuration.WithLabelValues("attributes").Observe(time.Since(start).Seconds())

	entity, err := r.model.Entity(h.Entity)
	if err != nil {
		return nil, err
	}

	translated, terrs, err := r.translator.TranslateResponse(resp, entity)
	if err != nil {
		return nil, err
	}
	if len(translated) == 0 {
		if len(terrs) > 0 {
			return nil, terrs[0]
		}
		return nil, fmt.Errorf("refresh of %s returned no representation", h)
	}

	if _, err := r.merger.Merge(ctx, translated...); err != nil {
		return nil, err
	}

	rec, err := r.store.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	return attributesOf(rec), nil
}

// fetchRelationship runs the single in-flight relationship fetch.
func (r *Resolver) fetchRelationship(ctx context.Context, rel *schema.Relationship, h identity.Handle) ([]identity.Handle, error) {
	start := time.Now()

	req, err := r.builder.RequestForRelationship(ctx, "GET", rel, h)
	if err != nil {
		return nil, fmt.Errorf("building relationship request for %s.%s: %w", h, rel.Name, err)
	}

	resp, err := r.transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s.%s: %w", h, rel.Name, err)
	}
	faultFetchDuration.WithLabelValues("relationship").Observe(time.Since(start).Seconds())

	target, err := r.model.Entity(rel.Target)
	if err != nil {
		return nil, err
	}

	translated, terrs, err := r.translator.TranslateResponse(resp, target)
	if err != nil {
		return nil, err
	}
	for _, terr := range terrs {
		r.logger.Warn("skipping untranslatable relationship record",
			slog.String("handle", h.String()),
			slog.String("relationship", rel.Name),
			slog.String("error", terr.Error()),
		)
	}
	if len(translated) == 0 && len(terrs) > 0 {
		return nil, terrs[0]
	}

	return r.merger.MergeRelationship(ctx, h, rel, translated)
}

func attributesOf(rec *backing.Record) map[string]any {
	if rec == nil || rec.Attributes == nil {
		return map[string]any{}
	}
	return rec.Attributes
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fetch executes collection queries: build the request, translate
// the response, merge every record, and return handles in server order.
//
// Local records absent from a response are kept by default; a partial or
// paginated response must not be misread as exhaustive. Reconciliation is an
// explicit opt-in per call.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/syncstore/backing"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/wire"
)

var tracer = otel.Tracer("syncstore.fetch")

// Prometheus metrics for the query path.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncstore_fetches_total",
		Help: "Collection fetches by entity and outcome",
	}, []string{"entity", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncstore_fetch_duration_seconds",
		Help:    "End-to-end collection fetch time",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"entity"})

	reconcileDeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncstore_fetch_reconcile_deletes_total",
		Help: "Local records removed by opt-in reconciliation",
	}, []string{"entity"})
)

// Option configures a single Execute call.
type Option func(*options)

type options struct {
	reconcile bool
}

// WithReconcile removes local records of the queried entity that match the
// query's predicate but were absent from the response. Only records with a
// known resource identifier are eligible; locally-created drafts are never
// reconciled away.
func WithReconcile() Option {
	return func(o *options) { o.reconcile = true }
}

// Coordinator executes collection fetches against the backing cache.
//
// Thread Safety: safe for concurrent use.
type Coordinator struct {
	model      *schema.Model
	store      *backing.Store
	merger     *backing.Merger
	translator *wire.Translator
	builder    wire.RequestBuilder
	transport  wire.Transport
	logger     *slog.Logger
}

// NewCoordinator wires a coordinator. logger may be nil.
func NewCoordinator(model *schema.Model, store *backing.Store, merger *backing.Merger,
	translator *wire.Translator, builder wire.RequestBuilder, transport wire.Transport,
	logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		model:      model,
		store:      store,
		merger:     merger,
		translator: translator,
		builder:    builder,
		transport:  transport,
		logger:     logger,
	}
}

// Execute runs a collection fetch.
//
// Description:
//
//	Builds the network request for the query, translates the primary
//	representation collection, merges every record (including embedded
//	relationship representations), and returns the handles in the order
//	the server returned them. Records that fail translation are logged
//	and skipped; their siblings survive.
//
// Outputs:
//
//	[]identity.Handle - Result handles in server order.
//	error - Non-nil when the request, payload decomposition, or merge
//	        failed; the cache is unchanged in that case.
func (c *Coordinator) Execute(ctx context.Context, q *wire.Query, opts ...Option) ([]identity.Handle, error) {
	ctx, span := tracer.Start(ctx, "Execute")
	defer span.End()
	span.SetAttributes(attribute.String("entity", q.Entity))

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	start := time.Now()

	entity, err := c.model.Entity(q.Entity)
	if err != nil {
		return nil, err
	}

	req, err := c.builder.RequestForQuery(ctx, q)
	if err != nil {
		fetchesTotal.WithLabelValues(q.Entity, "error").Inc()
		return nil, fmt.Errorf("building query request for %s: %w", q.Entity, err)
	}

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		fetchesTotal.WithLabelValues(q.Entity, "error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("fetching %s: %w", q.Entity, err)
	}

	translated, terrs, err := c.translator.TranslateResponse(resp, entity)
	if err != nil {
		fetchesTotal.WithLabelValues(q.Entity, "error").Inc()
		return nil, err
	}
	for _, terr := range terrs {
		c.logger.Warn("skipping untranslatable record in fetch response",
			slog.String("entity", q.Entity),
			slog.String("error", terr.Error()),
		)
	}

	handles, err := c.merger.Merge(ctx, translated...)
	if err != nil {
		fetchesTotal.WithLabelValues(q.Entity, "error").Inc()
		return nil, err
	}

	if o.reconcile {
		if err := c.reconcile(ctx, q, handles); err != nil {
			return nil, err
		}
	}

	fetchesTotal.WithLabelValues(q.Entity, "ok").Inc()
	fetchDuration.WithLabelValues(q.Entity).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("records", len(handles)),
		attribute.Int("translation_errors", len(terrs)),
	)
	return handles, nil
}

// reconcile deletes identified local records the response no longer carries.
func (c *Coordinator) reconcile(ctx context.Context, q *wire.Query, fetched []identity.Handle) error {
	present := make(map[identity.Handle]struct{}, len(fetched))
	for _, h := range fetched {
		present[h] = struct{}{}
	}

	locals, err := c.store.Query(ctx, q.Entity, func(rec *backing.Record) bool {
		return q.Matches(rec.Attributes)
	})
	if err != nil {
		return fmt.Errorf("querying %s for reconciliation: %w", q.Entity, err)
	}

	removed := 0
	for _, rec := range locals {
		if rec.ResourceID == "" {
			continue
		}
		h := rec.Handle()
		if _, ok := present[h]; ok {
			continue
		}
		if err := c.store.Delete(ctx, h); err != nil {
			return fmt.Errorf("reconciling %s: %w", h, err)
		}
		removed++
	}

	if removed > 0 {
		reconcileDeletesTotal.WithLabelValues(q.Entity).Add(float64(removed))
		c.logger.Info("reconciliation removed stale records",
			slog.String("entity", q.Entity),
			slog.Int("removed", removed),
		)
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpapi exposes a store over HTTP for inspection and operation:
// cache dumps, fault resolution, and query-driven fetches. It is meant for
// debugging and sidecar-style integrations, not as the store's primary API.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/syncstore"
	"github.com/AleutianAI/syncstore/backing"
	"github.com/AleutianAI/syncstore/fetch"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/wire"
)

// Server wraps a store with HTTP handlers.
type Server struct {
	store  *syncstore.Store
	logger *slog.Logger
}

// NewServer builds a server around an open store.
func NewServer(store *syncstore.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger}
}

// Router returns the configured gin engine.
//
// Routes:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /v1/stats
//	GET  /v1/records/:entity
//	GET  /v1/records/:entity/:local
//	GET  /v1/records/:entity/:local/relationships/:name
//	POST /v1/fetch
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/stats", s.stats)
	v1.GET("/records/:entity", s.listRecords)
	v1.GET("/records/:entity/:local", s.getRecord)
	v1.GET("/records/:entity/:local/relationships/:name", s.getRelationship)
	v1.POST("/fetch", s.fetch)
	return r
}

func (s *Server) stats(c *gin.Context) {
	counts := make(map[string]int)
	for _, name := range s.store.Model().EntityNames() {
		recs, err := s.store.Query(c.Request.Context(), name, nil)
		if err != nil {
			s.fail(c, err)
			return
		}
		counts[name] = len(recs)
	}
	c.JSON(http.StatusOK, gin.H{
		"entities":          counts,
		"identity_bindings": s.store.Identity().Len(),
	})
}

func (s *Server) listRecords(c *gin.Context) {
	recs, err := s.store.Query(c.Request.Context(), c.Param("entity"), nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (s *Server) getRecord(c *gin.Context) {
	h := identity.Handle{Entity: c.Param("entity"), Local: c.Param("local")}

	// resolve=true walks the fault path instead of dumping raw cache state.
	if c.Query("resolve") == "true" {
		attrs, err := s.store.ResolveAttributeFault(c.Request.Context(), h)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"handle": h, "attributes": attrs})
		return
	}

	rec, err := s.store.Record(c.Request.Context(), h)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) getRelationship(c *gin.Context) {
	h := identity.Handle{Entity: c.Param("entity"), Local: c.Param("local")}
	handles, err := s.store.ResolveRelationshipFault(c.Request.Context(), c.Param("name"), h)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handles": handles})
}

type fetchRequest struct {
	Entity    string            `json:"entity" binding:"required"`
	Params    map[string]string `json:"params"`
	Reconcile bool              `json:"reconcile"`
}

func (s *Server) fetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q := &wire.Query{Entity: req.Entity}
	if len(req.Params) > 0 {
		q.Params = make(url.Values, len(req.Params))
		for k, v := range req.Params {
			q.Params.Set(k, v)
		}
	}

	var opts []fetch.Option
	if req.Reconcile {
		opts = append(opts, fetch.WithReconcile())
	}

	handles, err := s.store.Fetch(c.Request.Context(), q, opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"handles": handles})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrUnknownEntity),
		errors.Is(err, schema.ErrUnknownRelationship),
		errors.Is(err, backing.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, backing.ErrInvalidHandle):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", c.Request.URL.Path), slog.Any("error", err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

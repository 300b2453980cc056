// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wire defines the collaborator contracts between the store core and
// the remote web service: how responses are decomposed into representations,
// how local queries and faults become network requests, and the translator
// that turns representations into attribute and relationship sets.
//
// Field-name conventions live entirely in the ClientPolicy implementation;
// the core treats representations and requests as opaque. The restpolicy
// package provides a default policy for conventional JSON REST services.
package wire

import (
	"context"
	"net/http"
	"net/url"

	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
)

// Representation is the wire-format encoding of one resource, as decoded
// from a response payload.
type Representation = map[string]any

// Query is a local fetch request: an entity plus an opaque predicate.
//
// Params are passed through to the RequestBuilder untouched; the core does
// not interpret them. Predicate, when set, is used only for local matching
// (reconciliation after a fetch); the server's result set is authoritative
// for what a query returns.
type Query struct {
	// Entity is the entity name being fetched.
	Entity string

	// Params are opaque query parameters for the RequestBuilder.
	Params url.Values

	// Predicate matches a record's attributes locally. Nil matches all
	// records of the entity.
	Predicate func(attrs map[string]any) bool
}

// Matches reports whether a record's attributes satisfy the query predicate.
func (q *Query) Matches(attrs map[string]any) bool {
	if q.Predicate == nil {
		return true
	}
	return q.Predicate(attrs)
}

// Request is a network request descriptor. The core builds none of it and
// inspects none of it; it is produced by a RequestBuilder and consumed by a
// Transport.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// Response is a decoded network response. Payload is the decoded body
// (typically the result of a JSON unmarshal into any).
type Response struct {
	StatusCode int
	Header     http.Header
	Payload    any
}

// Transport executes network requests. Implemented outside the core;
// httpclient provides a default over net/http.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// ClientPolicy supplies the wire-format <-> schema mapping rules.
//
// All four lookups are required. The translator is purely an orchestration
// around them and knows no field-name conventions itself.
type ClientPolicy interface {
	// Representations extracts the primary representation(s) from a raw
	// response payload. A payload may wrap a single resource or a
	// collection; the returned order is the server's order and is
	// preserved by the core.
	Representations(payload any, resp *Response) ([]Representation, error)

	// RelationshipRepresentations extracts nested values for each of the
	// entity's relationships, keyed by relationship name. Values may be a
	// full Representation, a []Representation (or []any of them), or a
	// bare resource identifier. Absent relationships are simply omitted.
	RelationshipRepresentations(rep Representation, entity *schema.Entity, resp *Response) (map[string]any, error)

	// ResourceIdentifier derives the stable identifier for a
	// representation. Must be deterministic for the same logical
	// resource. An empty result is a translation error.
	ResourceIdentifier(rep Representation, entity *schema.Entity, resp *Response) (string, error)

	// Attributes maps wire fields to attribute names and values. Unknown
	// wire fields are ignored, never errors.
	Attributes(rep Representation, entity *schema.Entity, resp *Response) (map[string]any, error)
}

// RequestBuilder turns local fetch and fault triggers into request
// descriptors.
type RequestBuilder interface {
	// RequestForQuery builds the request for a collection fetch.
	RequestForQuery(ctx context.Context, q *Query) (*Request, error)

	// RequestForRecord builds the request refreshing a single record's
	// attributes.
	RequestForRecord(ctx context.Context, method string, h identity.Handle) (*Request, error)

	// RequestForRelationship builds the request refreshing one
	// relationship of a record.
	RequestForRelationship(ctx context.Context, method string, rel *schema.Relationship, h identity.Handle) (*Request, error)
}

// FetchPolicy is the optional should-fetch hook set, consulted before a
// fault triggers a network request. Declining returns the current local data
// without a network call; the verdict is re-evaluated on the next fault
// trigger, never cached.
type FetchPolicy interface {
	ShouldFetchAttributes(ctx context.Context, h identity.Handle) bool
	ShouldFetchRelationship(ctx context.Context, rel *schema.Relationship, h identity.Handle) bool
}

// defaultFetchPolicy always fetches. Used when no FetchPolicy is supplied.
type defaultFetchPolicy struct{}

func (defaultFetchPolicy) ShouldFetchAttributes(context.Context, identity.Handle) bool {
	return true
}

func (defaultFetchPolicy) ShouldFetchRelationship(context.Context, *schema.Relationship, identity.Handle) bool {
	return true
}

// FetchPolicyOrDefault returns p, or an always-fetch policy when p is nil.
// Mirrors the optional half of the collaborator contract: unimplemented
// hooks default to true.
func FetchPolicyOrDefault(p FetchPolicy) FetchPolicy {
	if p == nil {
		return defaultFetchPolicy{}
	}
	return p
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package restpolicy implements wire.ClientPolicy and wire.RequestBuilder
// for conventional JSON REST services: collections at /<plural>, resources
// at /<plural>/<id>, numeric or string "id" fields, and related resources
// embedded under their relationship names.
//
// Services that deviate from these conventions supply their own policy; the
// store core is indifferent.
package restpolicy

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/schema"
	"github.com/AleutianAI/syncstore/wire"
)

// ResourceIDResolver maps a handle back to its resource identifier when one
// is known. *identity.Map satisfies it.
type ResourceIDResolver interface {
	ResourceID(h identity.Handle) (string, bool)
}

// Policy is a configurable default ClientPolicy and RequestBuilder.
type Policy struct {
	ids ResourceIDResolver

	// IDFields are checked in order when deriving a resource identifier.
	IDFields []string

	// Paths overrides the collection path per entity name. Entities not
	// listed use a naive plural of the lowercased name.
	Paths map[string]string

	// CollectionKeys are payload keys probed when a collection response
	// wraps its array in an envelope object, e.g. {"users": [...]}.
	// The entity's collection path is always probed first.
	CollectionKeys []string
}

// New returns a Policy with conventional defaults.
func New(ids ResourceIDResolver) *Policy {
	return &Policy{
		ids:            ids,
		IDFields:       []string{"id", "_id", "identifier"},
		CollectionKeys: []string{"data", "results", "items"},
	}
}

// CollectionPath returns the URL path segment for an entity's collection.
func (p *Policy) CollectionPath(entity string) string {
	if path, ok := p.Paths[entity]; ok {
		return path
	}
	return pluralize(strings.ToLower(entity))
}

// Representations extracts the primary representation(s) from a payload.
//
// A JSON array is a collection; an object is a single resource unless it
// wraps the collection under the entity's collection path or one of
// CollectionKeys, in which case the wrapped array is the collection.
func (p *Policy) Representations(payload any, _ *wire.Response) ([]wire.Representation, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil

	case []any:
		return repsFromSlice(v)

	case map[string]any:
		for _, key := range p.CollectionKeys {
			if wrapped, ok := v[key].([]any); ok {
				return repsFromSlice(wrapped)
			}
		}
		return []wire.Representation{v}, nil

	default:
		return nil, fmt.Errorf("%w: payload of type %T", wire.ErrMalformedRepresentation, payload)
	}
}

func repsFromSlice(raw []any) ([]wire.Representation, error) {
	out := make([]wire.Representation, 0, len(raw))
	for _, e := range raw {
		rep, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: collection element of type %T", wire.ErrMalformedRepresentation, e)
		}
		out = append(out, rep)
	}
	return out, nil
}

// RelationshipRepresentations lifts values stored under relationship names.
func (p *Policy) RelationshipRepresentations(rep wire.Representation, entity *schema.Entity, _ *wire.Response) (map[string]any, error) {
	out := make(map[string]any)
	for name := range entity.Relationships {
		if v, ok := rep[name]; ok && v != nil {
			out[name] = v
		}
	}
	return out, nil
}

// ResourceIdentifier derives the identifier from the first present ID field.
// Numeric identifiers are rendered in their canonical integer form so the
// same resource always yields the same string.
func (p *Policy) ResourceIdentifier(rep wire.Representation, _ *schema.Entity, _ *wire.Response) (string, error) {
	for _, field := range p.IDFields {
		v, ok := rep[field]
		if !ok || v == nil {
			continue
		}
		switch id := v.(type) {
		case string:
			if id != "" {
				return id, nil
			}
		case float64:
			if id == float64(int64(id)) {
				return fmt.Sprintf("%d", int64(id)), nil
			}
			return fmt.Sprintf("%v", id), nil
		case int:
			return fmt.Sprintf("%d", id), nil
		case int64:
			return fmt.Sprintf("%d", id), nil
		}
	}
	return "", nil
}

// Attributes returns the declared attributes present in the representation.
// Wire fields the entity does not declare are ignored.
func (p *Policy) Attributes(rep wire.Representation, entity *schema.Entity, _ *wire.Response) (map[string]any, error) {
	out := make(map[string]any)
	for name := range entity.Attributes {
		if v, ok := rep[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

// RequestForQuery builds GET /<collection> with the query's opaque params.
func (p *Policy) RequestForQuery(_ context.Context, q *wire.Query) (*wire.Request, error) {
	return &wire.Request{
		Method: "GET",
		Path:   "/" + p.CollectionPath(q.Entity),
		Query:  q.Params,
	}, nil
}

// RequestForRecord builds <method> /<collection>/<id>.
func (p *Policy) RequestForRecord(_ context.Context, method string, h identity.Handle) (*wire.Request, error) {
	resourceID, ok := p.ids.ResourceID(h)
	if !ok {
		return nil, fmt.Errorf("handle %s has no resource identifier", h)
	}
	return &wire.Request{
		Method: method,
		Path:   "/" + p.CollectionPath(h.Entity) + "/" + resourceID,
	}, nil
}

// RequestForRelationship builds <method> /<collection>/<id>/<relationship>.
func (p *Policy) RequestForRelationship(ctx context.Context, method string, rel *schema.Relationship, h identity.Handle) (*wire.Request, error) {
	req, err := p.RequestForRecord(ctx, method, h)
	if err != nil {
		return nil, err
	}
	req.Method = method
	req.Path += "/" + rel.Name
	return req, nil
}

// pluralize is deliberately naive; Paths overrides cover irregular nouns.
func pluralize(s string) string {
	switch {
	case s == "":
		return s
	case strings.HasSuffix(s, "s"), strings.HasSuffix(s, "x"),
		strings.HasSuffix(s, "ch"), strings.HasSuffix(s, "sh"):
		return s + "es"
	case strings.HasSuffix(s, "y") && len(s) > 1 && !isVowel(s[len(s)-2]):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

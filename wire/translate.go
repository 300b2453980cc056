// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wire

import (
	"fmt"
	"log/slog"

	"github.com/AleutianAI/syncstore/schema"
)

// RelValue is one translated value of a relationship: either a full nested
// representation (recursively translated) or a bare resource identifier
// reference.
type RelValue struct {
	// Nested is set when the wire value embedded a full representation.
	Nested *Translated

	// Ref is set when the wire value was a bare resource identifier.
	Ref string
}

// Translated is the translation of one representation: the derived resource
// identifier, the attribute set, and the relationship-representation set.
// Nested relationship values are themselves Translated, so a single response
// can describe an arbitrary subgraph of related resources.
type Translated struct {
	Entity        *schema.Entity
	ResourceID    string
	Attributes    map[string]any
	Relationships map[string][]RelValue
}

// Translator converts response payloads into Translated records by
// orchestrating the ClientPolicy's lookups. It holds no mutable state and is
// safe for concurrent use.
type Translator struct {
	model  *schema.Model
	policy ClientPolicy
}

// NewTranslator returns a translator over the given model and policy.
func NewTranslator(model *schema.Model, policy ClientPolicy) *Translator {
	return &Translator{model: model, policy: policy}
}

// TranslateResponse translates every primary representation in a response.
//
// Description:
//
//	Extracts the primary representation(s) via the policy, then
//	translates each independently. A record that fails to translate
//	(missing resource identifier, malformed shape) contributes a
//	*TranslationError to errs and does not abort its siblings; out
//	preserves the server's order for the records that survived.
//
// Inputs:
//
//	resp - The decoded response. Must not be nil.
//	entity - The entity the response was requested for.
//
// Outputs:
//
//	out - Translated records in server order.
//	errs - One *TranslationError per failed record. Both slices may be
//	       non-empty for the same response.
//	error - Non-nil only when the payload itself cannot be decomposed;
//	        no per-record results exist in that case.
func (t *Translator) TranslateResponse(resp *Response, entity *schema.Entity) (out []*Translated, errs []error, err error) {
	reps, err := t.policy.Representations(resp.Payload, resp)
	if err != nil {
		return nil, nil, fmt.Errorf("extracting representations for %s: %w", entity.Name, err)
	}

	for i, rep := range reps {
		tr, terr := t.translate(rep, entity, resp, i, "")
		if terr != nil {
			errs = append(errs, terr)
			continue
		}
		out = append(out, tr)
	}
	return out, errs, nil
}

// TranslateOne translates a single representation. Used by the fault path,
// where a refresh response carries exactly one record of interest.
func (t *Translator) TranslateOne(rep Representation, entity *schema.Entity, resp *Response) (*Translated, error) {
	return t.translate(rep, entity, resp, 0, "")
}

func (t *Translator) translate(rep Representation, entity *schema.Entity, resp *Response, index int, path string) (*Translated, error) {
	if rep == nil {
		return nil, &TranslationError{Entity: entity.Name, Index: index, Path: path, Err: ErrMalformedRepresentation}
	}

	resourceID, err := t.policy.ResourceIdentifier(rep, entity, resp)
	if err != nil {
		return nil, &TranslationError{Entity: entity.Name, Index: index, Path: path, Err: err}
	}
	if resourceID == "" {
		return nil, &TranslationError{Entity: entity.Name, Index: index, Path: path, Err: ErrMissingResourceID}
	}

	attrs, err := t.policy.Attributes(rep, entity, resp)
	if err != nil {
		return nil, &TranslationError{Entity: entity.Name, Index: index, Path: path, Err: err}
	}

	tr := &Translated{
		Entity:     entity,
		ResourceID: resourceID,
		Attributes: attrs,
	}

	relReps, err := t.policy.RelationshipRepresentations(rep, entity, resp)
	if err != nil {
		return nil, &TranslationError{Entity: entity.Name, Index: index, Path: path, Err: err}
	}
	if len(relReps) == 0 {
		return tr, nil
	}

	tr.Relationships = make(map[string][]RelValue, len(relReps))
	for name, raw := range relReps {
		rel, err := entity.Relationship(name)
		if err != nil {
			// The policy surfaced a key the model does not declare.
			// Ignored like any other unknown wire field.
			slog.Debug("dropping undeclared relationship from response",
				slog.String("entity", entity.Name),
				slog.String("relationship", name),
			)
			continue
		}

		target, err := t.model.Entity(rel.Target)
		if err != nil {
			return nil, &TranslationError{Entity: entity.Name, Index: index, Path: joinPath(path, name), Err: err}
		}

		values, err := t.translateRelValues(raw, target, resp, index, joinPath(path, name))
		if err != nil {
			return nil, err
		}
		if !rel.ToMany && len(values) > 1 {
			values = values[:1]
		}
		tr.Relationships[name] = values
	}

	return tr, nil
}

// translateRelValues normalizes one relationship's wire value into RelValues.
// Accepted shapes: a full representation, a slice of representations, a bare
// scalar identifier, or a slice of scalar identifiers.
func (t *Translator) translateRelValues(raw any, target *schema.Entity, resp *Response, index int, path string) ([]RelValue, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil

	case Representation:
		nested, err := t.translate(v, target, resp, index, path)
		if err != nil {
			return nil, err
		}
		return []RelValue{{Nested: nested}}, nil

	case []Representation:
		out := make([]RelValue, 0, len(v))
		for _, rep := range v {
			nested, err := t.translate(rep, target, resp, index, path)
			if err != nil {
				return nil, err
			}
			out = append(out, RelValue{Nested: nested})
		}
		return out, nil

	case []any:
		out := make([]RelValue, 0, len(v))
		for _, elem := range v {
			vals, err := t.translateRelValues(elem, target, resp, index, path)
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil

	case string:
		if v == "" {
			return nil, nil
		}
		return []RelValue{{Ref: v}}, nil

	case float64:
		// JSON numbers decode as float64; a numeric id is a bare reference.
		return []RelValue{{Ref: formatNumericID(v)}}, nil

	case int:
		return []RelValue{{Ref: fmt.Sprintf("%d", v)}}, nil

	case int64:
		return []RelValue{{Ref: fmt.Sprintf("%d", v)}}, nil

	default:
		return nil, &TranslationError{
			Entity: target.Name,
			Index:  index,
			Path:   path,
			Err:    fmt.Errorf("%w: relationship value of type %T", ErrMalformedRepresentation, raw),
		}
	}
}

func formatNumericID(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%v", v)
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

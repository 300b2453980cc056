// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the typed local schema the store translates remote
// resources into: entity descriptors with attributes and relationships.
//
// A Model is supplied by the application at store construction and is
// immutable afterwards. The store never infers schema from wire data; unknown
// wire fields are dropped during translation, and relationships are only
// followed when the entity declares them.
package schema

import (
	"fmt"
	"sort"
)

// AttributeType describes the declared type of an entity attribute.
//
// Attribute values are carried as `any` through translation and merge; the
// declared type documents intent and lets a policy coerce values, but the
// core does not enforce it.
type AttributeType string

// Supported attribute types.
const (
	String AttributeType = "string"
	Int    AttributeType = "int"
	Float  AttributeType = "float"
	Bool   AttributeType = "bool"
	Time   AttributeType = "time"
	Any    AttributeType = "any"
)

// Relationship describes a named link from one entity to another.
type Relationship struct {
	// Name is the relationship name, unique within its entity.
	Name string

	// Target is the name of the destination entity.
	Target string

	// ToMany is true when the relationship holds a set of handles
	// rather than a single handle.
	ToMany bool

	// Ordered is true when the server-provided order of a to-many
	// relationship is meaningful and must be preserved.
	Ordered bool
}

// Entity is a named schema type: a set of typed attributes and a set of
// relationships to other entities.
type Entity struct {
	// Name is the entity name, unique within the model.
	Name string

	// Attributes maps attribute name to its declared type.
	Attributes map[string]AttributeType

	// Relationships maps relationship name to its descriptor.
	Relationships map[string]*Relationship
}

// Relationship returns the named relationship descriptor.
//
// Outputs:
//
//	*Relationship - The descriptor.
//	error - Wraps ErrUnknownRelationship if the entity does not define it.
func (e *Entity) Relationship(name string) (*Relationship, error) {
	rel, ok := e.Relationships[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, e.Name, name)
	}
	return rel, nil
}

// HasAttribute returns true if the entity declares the named attribute.
func (e *Entity) HasAttribute(name string) bool {
	_, ok := e.Attributes[name]
	return ok
}

// Model is an immutable set of entity descriptors.
//
// Thread Safety:
//
//	Model is read-only after NewModel returns and is safe for
//	concurrent use.
type Model struct {
	entities map[string]*Entity
}

// NewModel builds and validates a model from entity descriptors.
//
// Description:
//
//	Validates that entity names are unique, relationship names are set,
//	and every relationship target names an entity in the same model.
//
// Inputs:
//
//	entities - The entity descriptors. Must not be empty.
//
// Outputs:
//
//	*Model - The validated model.
//	error - Wraps ErrInvalidModel describing the first violation found.
func NewModel(entities ...*Entity) (*Model, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: no entities", ErrInvalidModel)
	}

	byName := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		if e == nil || e.Name == "" {
			return nil, fmt.Errorf("%w: entity with empty name", ErrInvalidModel)
		}
		if _, dup := byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate entity %q", ErrInvalidModel, e.Name)
		}
		byName[e.Name] = e
	}

	for _, e := range byName {
		for name, rel := range e.Relationships {
			if rel == nil {
				return nil, fmt.Errorf("%w: %s.%s is nil", ErrInvalidModel, e.Name, name)
			}
			if rel.Name == "" {
				rel.Name = name
			} else if rel.Name != name {
				return nil, fmt.Errorf("%w: %s relationship keyed %q but named %q",
					ErrInvalidModel, e.Name, name, rel.Name)
			}
			if _, ok := byName[rel.Target]; !ok {
				return nil, fmt.Errorf("%w: %s.%s targets unknown entity %q",
					ErrInvalidModel, e.Name, name, rel.Target)
			}
		}
	}

	return &Model{entities: byName}, nil
}

// Entity returns the named entity descriptor.
//
// Outputs:
//
//	*Entity - The descriptor.
//	error - Wraps ErrUnknownEntity if the model does not define it.
func (m *Model) Entity(name string) (*Entity, error) {
	e, ok := m.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return e, nil
}

// EntityNames returns all entity names in sorted order.
func (m *Model) EntityNames() []string {
	names := make([]string, 0, len(m.entities))
	for name := range m.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

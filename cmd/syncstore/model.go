// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/syncstore/schema"
)

// modelFile is the on-disk schema description:
//
//	entities:
//	  Employee:
//	    attributes:
//	      name: string
//	    relationships:
//	      manager:
//	        target: Employee
//	      reports:
//	        target: Employee
//	        to_many: true
//	        ordered: true
type modelFile struct {
	Entities map[string]struct {
		Attributes    map[string]string `yaml:"attributes"`
		Relationships map[string]struct {
			Target  string `yaml:"target"`
			ToMany  bool   `yaml:"to_many"`
			Ordered bool   `yaml:"ordered"`
		} `yaml:"relationships"`
	} `yaml:"entities"`
}

func loadModel(path string) (*schema.Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}

	var mf modelFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parsing model file %s: %w", path, err)
	}

	entities := make([]*schema.Entity, 0, len(mf.Entities))
	for name, spec := range mf.Entities {
		e := &schema.Entity{
			Name:          name,
			Attributes:    make(map[string]schema.AttributeType, len(spec.Attributes)),
			Relationships: make(map[string]*schema.Relationship, len(spec.Relationships)),
		}
		for attr, typ := range spec.Attributes {
			e.Attributes[attr] = schema.AttributeType(typ)
		}
		for rel, rs := range spec.Relationships {
			e.Relationships[rel] = &schema.Relationship{
				Target:  rs.Target,
				ToMany:  rs.ToMany,
				Ordered: rs.Ordered,
			}
		}
		entities = append(entities, e)
	}
	return schema.NewModel(entities...)
}

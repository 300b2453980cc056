// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import "errors"

var (
	// ErrUnknownEntity indicates a lookup for an entity the model does not define.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrUnknownRelationship indicates a lookup for a relationship the entity does not define.
	ErrUnknownRelationship = errors.New("unknown relationship")

	// ErrInvalidModel indicates the model failed structural validation.
	ErrInvalidModel = errors.New("invalid model")
)

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
	"errors"
	"fmt"
)

var (
	// ErrMissingResourceID indicates the policy could not derive a resource
	// identifier for a representation. The affected record is skipped;
	// sibling records in the same response still translate.
	ErrMissingResourceID = errors.New("representation has no resource identifier")

	// ErrMalformedRepresentation indicates a representation the policy
	// returned could not be processed (wrong shape, nil map).
	ErrMalformedRepresentation = errors.New("malformed representation")
)

// TranslationError reports a failure to translate one representation.
//
// Sibling records in the same response are unaffected; callers receive one
// TranslationError per failed record alongside the successfully translated
// ones.
type TranslationError struct {
	// Entity is the entity name the representation was translated against.
	Entity string

	// Index is the representation's position in the response collection,
	// or -1 for a nested relationship representation.
	Index int

	// Path is the relationship path for nested failures ("manager",
	// "manager.department"), empty for top-level records.
	Path string

	// Err is the underlying cause.
	Err error
}

func (e *TranslationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("translate %s[%d] at %s: %v", e.Entity, e.Index, e.Path, e.Err)
	}
	return fmt.Sprintf("translate %s[%d]: %v", e.Entity, e.Index, e.Err)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

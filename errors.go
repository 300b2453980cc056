// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncstore

import "errors"

var (
	// ErrUnimplementedPolicy indicates a required collaborator was not
	// supplied at construction. Fatal at setup, never per-call.
	ErrUnimplementedPolicy = errors.New("required collaborator not supplied")

	// ErrStoreTypeUnknown indicates Open was called with a type tag no
	// factory was registered for.
	ErrStoreTypeUnknown = errors.New("unknown store type")

	// ErrStoreTypeRegistered indicates a duplicate Register call for the
	// same type tag.
	ErrStoreTypeRegistered = errors.New("store type already registered")
)

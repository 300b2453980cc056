// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import "errors"

var (
	// ErrIdentityConflict indicates a resource identifier is already bound
	// to a different handle. The caller must merge the two records
	// explicitly; the map never rebinds automatically.
	ErrIdentityConflict = errors.New("resource identifier bound to a different handle")

	// ErrEmptyResourceID indicates an empty resource identifier was passed
	// to Resolve or Register.
	ErrEmptyResourceID = errors.New("empty resource identifier")
)

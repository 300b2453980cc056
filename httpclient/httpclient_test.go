// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/syncstore/wire"
)

// TestDoDecodesJSON verifies the happy path end to end.
func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/employees/42", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "token", r.Header.Get("X-Auth"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","name":"Alice"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithHeader("X-Auth", "token"))
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &wire.Request{
		Method: "GET",
		Path:   "/employees/42",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload, ok := resp.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", payload["name"])
}

// TestDoEncodesQueryParams verifies query passthrough.
func TestDoEncodesQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sales", r.URL.Query().Get("dept"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &wire.Request{
		Method: "GET",
		Path:   "/employees",
		Query:  url.Values{"dept": []string{"sales"}},
	})
	require.NoError(t, err)
}

// TestDoSurfacesStatusError verifies non-2xx becomes *StatusError.
func TestDoSurfacesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), &wire.Request{Method: "GET", Path: "/missing"})
	require.Error(t, err)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Code)
}

// TestNewRejectsRelativeURL verifies setup validation.
func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/not-absolute")
	assert.Error(t, err)
}

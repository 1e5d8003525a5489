/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ruleexport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Export_ReturnsExportRef(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rule-drafts/draft-1/export", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(exportResponse{ExportRef: "ref-123"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	ref, err := client.Export(context.Background(), RuleDraft{ID: "draft-1", RuleName: "block-merchant-x"})

	require.NoError(t, err)
	assert.Equal(t, "ref-123", ref)
}

func TestHTTPClient_Export_MapsConflictStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	_, err := client.Export(context.Background(), RuleDraft{ID: "draft-1"})

	require.Error(t, err)
	var rxErr *Error
	require.ErrorAs(t, err, &rxErr)
	assert.Equal(t, ErrConflict, rxErr.Kind)
}

func TestHTTPClient_Export_MapsServerErrorToDependencyFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, time.Second)
	_, err := client.Export(context.Background(), RuleDraft{ID: "draft-1"})

	require.Error(t, err)
	var rxErr *Error
	require.ErrorAs(t, err, &rxErr)
	assert.Equal(t, ErrDependencyFailure, rxErr.Kind)
}

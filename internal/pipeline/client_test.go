// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncwell/syncd/internal/domain"
)

type fakePipeline struct {
	builds     []Build
	listStatus int
	dispatched atomic.Int32
	lastAuth   string
}

func (f *fakePipeline) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /licenses/", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
			return
		}
		json.NewEncoder(w).Encode(f.builds)
	})
	mux.HandleFunc("POST /builds", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		f.dispatched.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	return mux
}

func newFakeClient(t *testing.T, f *fakePipeline, artifacts []string) *Client {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	return NewClient(domain.PipelineConfig{
		URL:               srv.URL,
		Token:             "pipeline-token",
		RequiredArtifacts: artifacts,
	})
}

func TestEnsureBuildUnconfigured(t *testing.T) {
	c := NewClient(domain.PipelineConfig{})
	assert.False(t, c.IsConfigured())
	assert.NoError(t, c.EnsureBuild(context.Background(), 1, "SYNC-ABC1-XYZ9"))
}

func TestEnsureBuildDispatchesWhenNoBuilds(t *testing.T) {
	f := &fakePipeline{listStatus: http.StatusNotFound}
	c := newFakeClient(t, f, []string{"installer-linux"})

	require.NoError(t, c.EnsureBuild(context.Background(), 1, "SYNC-ABC1-XYZ9"))
	assert.EqualValues(t, 1, f.dispatched.Load())
	assert.Equal(t, "Bearer pipeline-token", f.lastAuth)
}

func TestEnsureBuildSkipsWhenCompleteBuildExists(t *testing.T) {
	f := &fakePipeline{builds: []Build{
		{ID: "b1", Version: "1.2.0", Status: "success", Artifacts: []Artifact{{Name: "installer-linux"}}},
	}}
	c := newFakeClient(t, f, []string{"installer-linux"})

	require.NoError(t, c.EnsureBuild(context.Background(), 1, "SYNC-ABC1-XYZ9"))
	assert.Zero(t, f.dispatched.Load())
}

// Failed builds, incomplete artifact sets and unparseable versions all
// disqualify a build from counting as complete.
func TestEnsureBuildDispatchesWhenNoUsableBuild(t *testing.T) {
	f := &fakePipeline{builds: []Build{
		{ID: "b1", Version: "1.0.0", Status: "failed", Artifacts: []Artifact{{Name: "installer-linux"}}},
		{ID: "b2", Version: "1.1.0", Status: "success", Artifacts: []Artifact{{Name: "installer-windows"}}},
		{ID: "b3", Version: "weird", Status: "success", Artifacts: []Artifact{{Name: "installer-linux"}}},
	}}
	c := newFakeClient(t, f, []string{"installer-linux"})

	require.NoError(t, c.EnsureBuild(context.Background(), 1, "SYNC-ABC1-XYZ9"))
	assert.EqualValues(t, 1, f.dispatched.Load())
}

func TestLatestCompleteBuildPicksHighestVersion(t *testing.T) {
	f := &fakePipeline{builds: []Build{
		{ID: "b1", Version: "1.2.0", Status: "success", Artifacts: []Artifact{{Name: "installer-linux"}}},
		{ID: "b2", Version: "1.10.0", Status: "success", Artifacts: []Artifact{{Name: "installer-linux"}}},
		{ID: "b3", Version: "1.9.9", Status: "success", Artifacts: []Artifact{{Name: "installer-linux"}}},
	}}
	c := newFakeClient(t, f, []string{"installer-linux"})

	best, err := c.latestCompleteBuild(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, best)
	// Semantic ordering, not lexical: 1.10.0 beats 1.9.9.
	assert.Equal(t, "b2", best.ID)
}

func TestEnsureBuildPropagatesListError(t *testing.T) {
	f := &fakePipeline{listStatus: http.StatusInternalServerError}
	c := newFakeClient(t, f, nil)

	err := c.EnsureBuild(context.Background(), 1, "SYNC-ABC1-XYZ9")
	assert.Error(t, err)
	assert.Zero(t, f.dispatched.Load())
}

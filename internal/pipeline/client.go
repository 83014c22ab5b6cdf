// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline talks to the external CI pipeline that produces branded
// agent installers per license.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/syncwell/syncd/internal/domain"
)

type Client struct {
	baseURL           string
	token             string
	requiredArtifacts []string
	http              *http.Client
}

func NewClient(cfg domain.PipelineConfig) *Client {
	return &Client{
		baseURL:           cfg.URL,
		token:             cfg.Token,
		requiredArtifacts: cfg.RequiredArtifacts,
		http:              &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured reports whether build dispatch is enabled.
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// Build is one pipeline run for a license.
type Build struct {
	ID        string     `json:"id"`
	Version   string     `json:"version"`
	Status    string     `json:"status"`
	Artifacts []Artifact `json:"artifacts"`
}

type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// EnsureBuild checks whether a successful build with every required artifact
// already exists for the license and dispatches a new pipeline run if not.
func (c *Client) EnsureBuild(ctx context.Context, licenseID int, licenseKey string) error {
	if !c.IsConfigured() {
		log.Debug().Msg("Build pipeline not configured, skipping dispatch")
		return nil
	}

	latest, err := c.latestCompleteBuild(ctx, licenseID)
	if err != nil {
		return err
	}
	if latest != nil {
		log.Debug().
			Int("licenseId", licenseID).
			Str("buildId", latest.ID).
			Str("version", latest.Version).
			Msg("Complete build already exists, not dispatching")
		return nil
	}

	return c.dispatch(ctx, licenseID, licenseKey)
}

// latestCompleteBuild returns the newest successful build (by semantic
// version) that carries every required artifact, or nil if none qualifies.
func (c *Client) latestCompleteBuild(ctx context.Context, licenseID int) (*Build, error) {
	url := fmt.Sprintf("%s/licenses/%d/builds", c.baseURL, licenseID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create builds request")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list builds")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("builds endpoint returned status %d", resp.StatusCode)
	}

	var builds []Build
	if err := json.NewDecoder(resp.Body).Decode(&builds); err != nil {
		return nil, errors.Wrap(err, "failed to decode builds response")
	}

	var best *Build
	var bestVersion *semver.Version
	for i := range builds {
		b := &builds[i]
		if b.Status != "success" || !c.hasRequiredArtifacts(b) {
			continue
		}

		v, err := semver.NewVersion(b.Version)
		if err != nil {
			log.Warn().Str("buildId", b.ID).Str("version", b.Version).Msg("Build has unparseable version, ignoring")
			continue
		}

		if bestVersion == nil || v.GreaterThan(bestVersion) {
			best, bestVersion = b, v
		}
	}

	return best, nil
}

func (c *Client) hasRequiredArtifacts(b *Build) bool {
	for _, required := range c.requiredArtifacts {
		found := false
		for _, a := range b.Artifacts {
			if a.Name == required {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Client) dispatch(ctx context.Context, licenseID int, licenseKey string) error {
	payload, err := json.Marshal(map[string]any{
		"licenseId":  licenseID,
		"licenseKey": licenseKey,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode dispatch payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/builds", bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create dispatch request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to dispatch build")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return errors.Errorf("build dispatch returned status %d", resp.StatusCode)
	}

	log.Info().Int("licenseId", licenseID).Msg("Agent build dispatched")
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

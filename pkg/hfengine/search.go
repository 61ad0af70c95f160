// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfengine

import (
	"context"
	"encoding/json"
	"net/http"
)

// ModelSummary is one row from the /api/models listing endpoint.
type ModelSummary struct {
	ID           string   `json:"id"`
	Author       string   `json:"author,omitempty"`
	Downloads    int64    `json:"downloads"`
	Likes        int64    `json:"likes"`
	Tags         []string `json:"tags,omitempty"`
	LastModified string   `json:"lastModified,omitempty"`
}

// ModelMetadata is the extended per-model response from /api/models/{id}.
type ModelMetadata struct {
	ModelID     string     `json:"id"`
	LibraryName string     `json:"library_name,omitempty"`
	PipelineTag string     `json:"pipeline_tag,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Siblings    []RepoFile `json:"siblings,omitempty"`
}

// RepoFile is one entry of ModelMetadata.Siblings.
type RepoFile struct {
	RFilename string `json:"rfilename"`
}

// SearchModels queries the listing endpoint and returns matching models
// sorted server-side by sort/direction. min-downloads and min-likes are
// applied client-side, matching the reference implementation's headless
// search filter.
func (c *Client) SearchModels(ctx context.Context, query string, limit int, sort string, direction int, minDownloads, minLikes int64) ([]ModelSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SearchURL(query, limit, sort, direction), nil)
	if err != nil {
		return nil, err
	}
	c.addAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: req.URL.String(), Transient: isTransientNetErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: req.URL.String()}
	}

	var models []ModelSummary
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, err
	}

	out := models[:0]
	for _, m := range models {
		if m.Downloads < minDownloads || m.Likes < minLikes {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchMetadata fetches the extended per-model metadata document.
func (c *Client) FetchMetadata(ctx context.Context, modelID string) (*ModelMetadata, error) {
	url := "https://" + c.host + "/api/models/" + pathEscapeAll(modelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.addAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Transient: isTransientNetErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{ModelID: modelID, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: url}
	}

	var meta ModelMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

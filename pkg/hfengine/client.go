// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hfengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHost = "huggingface.co"

// Client is a pooled HTTP client shared by the resolver and the download
// engine: one long-lived client per process rather than a fresh client
// per call, so concurrent requests against the same host reuse connections.
type Client struct {
	http  *http.Client
	host  string
	token string
}

// NewClient builds a Client with a shared, connection-reusing transport.
func NewClient(token string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   0, // per-request timeouts are applied via context
		},
		host:  defaultHost,
		token: token,
	}
}

func (c *Client) addAuth(req *http.Request) {
	if strings.TrimSpace(c.token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// TreeURL builds the repository tree listing URL for modelID at an
// optional subpath.
func (c *Client) TreeURL(modelID, path string) string {
	u := fmt.Sprintf("https://%s/api/models/%s/tree/main", c.host, pathEscapeAll(modelID))
	if path != "" {
		u += "/" + pathEscapeAll(path)
	}
	return u
}

// ResolveURL builds the binary content URL for a file within modelID.
func (c *Client) ResolveURL(modelID, filename string) string {
	return fmt.Sprintf("https://%s/%s/resolve/main/%s", c.host, pathEscapeAll(modelID), pathEscapeAll(filename))
}

// SearchURL builds the model-listing search URL.
func (c *Client) SearchURL(query string, limit int, sort string, direction int) string {
	v := url.Values{}
	v.Set("search", query)
	v.Set("limit", fmt.Sprint(limit))
	if sort != "" {
		v.Set("sort", sort)
	}
	v.Set("direction", fmt.Sprint(direction))
	return fmt.Sprintf("https://%s/api/models?%s", c.host, v.Encode())
}

// FetchTree fetches one directory level of a repository tree.
func (c *Client) FetchTree(ctx context.Context, modelID, path string) ([]ModelFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TreeURL(modelID, path), nil)
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
		return nil, &AuthError{ModelID: modelID, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, URL: req.URL.String()}
	}

	var files []ModelFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode tree response: %w", err)
	}
	return files, nil
}

func pathEscapeAll(s string) string {
	parts := strings.Split(s, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

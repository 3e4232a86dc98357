// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/comicfs-dev/comicfs/lib/netutil"
)

// Client talks to a gateway Server. The zero value is not usable;
// call NewClient.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the gateway at the given base URL
// (e.g., "http://127.0.0.1:8080"). A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid base URL %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("gateway: base URL %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: parsed.String(),
		http:    httpClient,
	}, nil
}

// Add registers a batch of episode URLs and returns how many files
// the server actually created. URLs that were already registered do
// not count.
func (c *Client) Add(ctx context.Context, request AddRequest) (int, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return 0, fmt.Errorf("gateway: encoding registration: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/add", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("gateway: building request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	var result struct {
		URLs int `json:"urls"`
	}
	response := envelope{Data: &result}
	if err := c.do(httpRequest, &response); err != nil {
		return 0, err
	}
	return result.URLs, nil
}

// ListComics returns all comic names.
func (c *Client) ListComics(ctx context.Context) ([]string, error) {
	var comics []string
	if err := c.get(ctx, "/list", &comics); err != nil {
		return nil, err
	}
	return comics, nil
}

// ListEpisodes returns a comic's episode names.
func (c *Client) ListEpisodes(ctx context.Context, comic string) ([]string, error) {
	var episodes []string
	if err := c.get(ctx, "/list/"+url.PathEscape(comic), &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

// ListFiles returns an episode's file entries.
func (c *Client) ListFiles(ctx context.Context, comic, episode string) ([]FileEntry, error) {
	var files []FileEntry
	path := "/list/" + url.PathEscape(comic) + "/" + url.PathEscape(episode)
	if err := c.get(ctx, path, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *Client) get(ctx context.Context, path string, data any) error {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("gateway: building request: %w", err)
	}

	response := envelope{Data: data}
	return c.do(httpRequest, &response)
}

// do executes the request and decodes the envelope. The envelope's
// Data field should point at the caller's destination before the call.
func (c *Client) do(httpRequest *http.Request, response *envelope) error {
	httpResponse, err := c.http.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", httpRequest.Method, httpRequest.URL.Path, err)
	}
	defer httpResponse.Body.Close()

	if err := netutil.DecodeResponse(httpResponse.Body, response); err != nil {
		return fmt.Errorf("gateway: decoding response for %s: %w", httpRequest.URL.Path, err)
	}
	if !response.OK {
		return fmt.Errorf("gateway: %s %s: HTTP %d: %s",
			httpRequest.Method, httpRequest.URL.Path, response.Status, response.Error)
	}
	return nil
}

// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotehttp implements the storesync RemoteGateway against the
// authoritative service's HTTP query API, plus a Postgres variant for
// deployments with direct read access to the authoritative database.
package remotehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commercekit/storesync/storesync"
)

// TokenSource returns a bearer token for one request.
type TokenSource func(ctx context.Context) (string, error)

// Gateway fetches remote snapshots and single records over HTTP. FetchAll
// requests a bounded window: orders restricted to active statuses, customers
// capped by count. The window keeps sweeps cheap and is why sweeps must
// never treat snapshot absence as deletion.
type Gateway struct {
	BaseURL string
	Token   TokenSource
	HTTP    *http.Client

	// ActiveOrderStatuses filters the order window. Empty means no filter.
	ActiveOrderStatuses []string
	// CustomerLimit caps the customer window. Zero means server default.
	CustomerLimit int

	logger *slog.Logger
}

// NewGateway builds an HTTP gateway with the production window defaults.
func NewGateway(baseURL string, token TokenSource, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		BaseURL:             strings.TrimRight(baseURL, "/"),
		Token:               token,
		HTTP:                &http.Client{Timeout: 60 * time.Second},
		ActiveOrderStatuses: []string{"open", "pending", "processing"},
		CustomerLimit:       500,
		logger:              logger,
	}
}

type listResponse struct {
	Records []json.RawMessage `json:"records"`
}

// FetchAll returns the windowed snapshot for one entity type and tenant.
func (g *Gateway) FetchAll(ctx context.Context, entity storesync.EntityType, tenantID string) ([]json.RawMessage, error) {
	query := url.Values{}
	query.Set("tenant_id", tenantID)
	switch entity {
	case storesync.EntityOrder:
		if len(g.ActiveOrderStatuses) > 0 {
			query.Set("status", strings.Join(g.ActiveOrderStatuses, ","))
		}
	case storesync.EntityCustomer:
		if g.CustomerLimit > 0 {
			query.Set("limit", fmt.Sprintf("%d", g.CustomerLimit))
		}
	}

	endpoint := fmt.Sprintf("%s/api/%s?%s", g.BaseURL, entity, query.Encode())
	body, err := g.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", entity, err)
	}
	return resp.Records, nil
}

// FetchOne returns the complete record for one id, or storesync.ErrNotFound.
func (g *Gateway) FetchOne(ctx context.Context, entity storesync.EntityType, id string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/api/%s/%s", g.BaseURL, entity, url.PathEscape(id))
	return g.get(ctx, endpoint)
}

func (g *Gateway) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := g.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, storesync.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}

// Package kili is a client for the Kili labeling platform's GraphQL API.
package kili

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sensorable/lblfetch"
	log "github.com/sirupsen/logrus"
)

// DefaultEndpoint is the GraphQL endpoint of the Kili cloud.
const DefaultEndpoint = "https://cloud.kili-technology.com/api/label/v2/graphql"

// Common errors.
var (
	ErrNotFound     = errors.New("kili: resource not found")
	ErrForbidden    = errors.New("kili: access forbidden")
	ErrUnauthorized = errors.New("kili: unauthorized")
	ErrServerError  = errors.New("kili: server error")
)

const countAssetsQuery = `query countAssets($where: AssetWhere!) {
  data: countAssets(where: $where)
}`

const assetsQuery = `query assets($where: AssetWhere!, $first: PageSize!, $skip: Int!) {
  data: assets(where: $where, first: $first, skip: $skip) {
    id
    content
    labels {
      createdAt
      jsonResponse
      labelType
    }
  }
}`

// Options configures the client.
type Options struct {
	// APIKey authenticates all requests, including content downloads.
	APIKey string

	// Endpoint is the GraphQL endpoint.
	// Default: DefaultEndpoint
	Endpoint string

	// Timeout for individual requests.
	// Default: 60s
	Timeout time.Duration
}

// Client implements lblfetch.AssetStore for Kili projects.
type Client struct {
	client *http.Client
	opts   Options
}

var _ lblfetch.AssetStore = (*Client)(nil)

// NewClient creates a new client with the given options.
func NewClient(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	return &Client{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// authorize sets the API key header on req.
func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "X-API-Key: "+c.opts.APIKey)
}

// query runs a GraphQL query and decodes the field aliased "data" into out.
func (c *Client) query(ctx context.Context, query string, variables map[string]interface{},
		out interface{}) error {

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return err
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		msgs := make([]string, len(gqlResp.Errors))
		for i, e := range gqlResp.Errors {
			msgs[i] = e.Message
		}
		return fmt.Errorf("kili: %s", strings.Join(msgs, "; "))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(gqlResp.Data, &envelope); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func projectWhere(projectID string) map[string]interface{} {
	return map[string]interface{}{
		"project": map[string]interface{}{"id": projectID},
	}
}

// CountAssets returns the number of assets in the project.
func (c *Client) CountAssets(ctx context.Context, projectID string) (int, error) {
	var n int
	err := c.query(ctx, countAssetsQuery, map[string]interface{}{"where": projectWhere(projectID)}, &n)
	if err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return n, nil
}

// Assets returns up to first assets of the project, skipping the first skip assets.
func (c *Client) Assets(ctx context.Context, projectID string, first, skip int) ([]lblfetch.Asset, error) {
	vars := map[string]interface{}{
		"where": projectWhere(projectID),
		"first": first,
		"skip":  skip,
	}
	var assets []lblfetch.Asset
	if err := c.query(ctx, assetsQuery, vars, &assets); err != nil {
		return nil, fmt.Errorf("list assets (skip %d): %w", skip, err)
	}
	return assets, nil
}

// ListAssets implements lblfetch.AssetStore.
func (c *Client) ListAssets(ctx context.Context, projectID string, pageSize int,
		fn func(page []lblfetch.Asset) error) error {

	if pageSize <= 0 {
		pageSize = lblfetch.DefaultPageSize
	}

	total, err := c.CountAssets(ctx, projectID)
	if err != nil {
		return err
	}
	log.WithField("project", projectID).Infof("Project has %d assets", total)

	for skip := 0; skip < total; skip += pageSize {
		page, err := c.Assets(ctx, projectID, pageSize, skip)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}
		if err := fn(page); err != nil {
			return err
		}
	}
	return nil
}

// FetchContent implements lblfetch.AssetStore.
func (c *Client) FetchContent(ctx context.Context, asset lblfetch.Asset) ([]byte, error) {
	if asset.Content == "" {
		return nil, fmt.Errorf("asset %s has no content URL", asset.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.Content, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

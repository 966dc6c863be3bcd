// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package graphcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/corylabs/graphfixture/fixture"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// graphPath is the route of the ancestry endpoint.  The root txid is
	// appended.
	graphPath = "/api/v1/graph/tx/"

	// tokenHeader carries the API token.
	tokenHeader = "X-API-Token"

	// DefaultTimeout bounds a single graph request.
	DefaultTimeout = 60 * time.Second
)

// Input is one input of a graph node.  Value is nil when the service could
// not resolve the funding output.
type Input struct {
	Sequence uint32 `json:"sequence"`
	Value    *int64 `json:"value"`
}

// Node is one transaction of a graph.
type Node struct {
	TxID   string  `json:"txid"`
	Inputs []Input `json:"inputs"`
}

// Stats are the counters reported with a graph.
type Stats struct {
	NodeCount       int `json:"node_count"`
	EdgeCount       int `json:"edge_count"`
	MaxDepthReached int `json:"max_depth_reached"`
}

// Graph is the ancestry graph returned by the service.  Fields the checks
// do not use are ignored.
type Graph struct {
	Nodes     map[string]Node `json:"nodes"`
	Edges     []fixture.Edge  `json:"edges"`
	RootTxID  string          `json:"root_txid"`
	Truncated bool            `json:"truncated"`
	Stats     Stats           `json:"stats"`
}

// ServiceError is returned when the service answers with a non-success
// status.
type ServiceError struct {
	StatusCode int
	Message    string
}

// Error satisfies the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("graph service returned %d: %s", e.StatusCode,
		e.Message)
}

// Client requests ancestry graphs from the service.
type Client struct {
	server string
	token  string
	http   *http.Client
}

// NewClient returns a client for the service at server.  A nil httpClient
// selects a client bounded by DefaultTimeout.
func NewClient(server, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		server: strings.TrimRight(server, "/"),
		token:  token,
		http:   httpClient,
	}
}

// graphURL returns the request url for txid under limits.
func (c *Client) graphURL(txid string, limits fixture.Limits) string {
	q := url.Values{}
	q.Set("max_depth", strconv.Itoa(limits.MaxDepth))
	q.Set("max_nodes", strconv.Itoa(limits.MaxNodes))
	q.Set("max_edges", strconv.Itoa(limits.MaxEdges))
	return c.server + graphPath + url.PathEscape(txid) + "?" + q.Encode()
}

// Graph fetches the ancestry graph of txid bounded by limits.
func (c *Client) Graph(ctx context.Context, txid string, limits fixture.Limits) (*Graph, error) {
	u := c.graphURL(txid, limits)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set(tokenHeader, c.token)
	}

	log.Debugf("GET %s", u)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request for %s: %w", txid, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read graph response for %s: %w", txid, err)
	}
	if resp.StatusCode != http.StatusOK {
		var reply struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &reply) == nil && reply.Error != "" {
			msg = reply.Error
		}
		return nil, &ServiceError{StatusCode: resp.StatusCode, Message: msg}
	}

	var g Graph
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("decode graph response for %s: %w", txid, err)
	}
	return &g, nil
}

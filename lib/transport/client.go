// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/beacon/lib/netutil"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

// Config holds configuration for creating a Client.
type Config struct {
	// Endpoint is the collector URL. Required; must be http or https.
	Endpoint string

	// ApplicationID is sent as the "app" query parameter. Required.
	ApplicationID string

	// AgentVersion is sent as "va".
	AgentVersion string

	// Technology is sent as "tt".
	Technology string

	// ServerID is the initial "srvid". Defaults to
	// serverconfig.DefaultServerID. Responses that set a server id
	// retarget later requests.
	ServerID int

	// HTTPClient is used for all requests. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Parameters are the per-request values owned by the caller.
type Parameters struct {
	// ConfigurationTimestamp is appended as "cts" when positive.
	ConfigurationTimestamp int64
}

// Client sends status, new-session and beacon requests. It is safe for
// concurrent use.
type Client struct {
	endpoint      *url.URL
	applicationID string
	agentVersion  string
	technology    string
	httpClient    *http.Client
	logger        *slog.Logger

	mu       sync.Mutex
	serverID int
}

// NewClient creates a Client from config.
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("transport: endpoint is required")
	}
	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing endpoint: %w", err)
	}
	if endpoint.Scheme != "http" && endpoint.Scheme != "https" {
		return nil, fmt.Errorf("transport: endpoint must be http or https, got %q", config.Endpoint)
	}
	if config.ApplicationID == "" {
		return nil, fmt.Errorf("transport: application id is required")
	}
	if config.ServerID == 0 {
		config.ServerID = serverconfig.DefaultServerID
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		endpoint:      endpoint,
		applicationID: config.ApplicationID,
		agentVersion:  config.AgentVersion,
		technology:    config.Technology,
		httpClient:    config.HTTPClient,
		logger:        config.Logger,
		serverID:      config.ServerID,
	}, nil
}

// ServerID returns the server id the next request targets.
func (c *Client) ServerID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverID
}

// SendStatus fetches the current server configuration.
func (c *Client) SendStatus(ctx context.Context, params Parameters) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.requestURL(params, false), "", nil, "status")
}

// SendNewSession fetches configuration for a new session.
func (c *Client) SendNewSession(ctx context.Context, params Parameters) (*Response, error) {
	return c.do(ctx, http.MethodGet, c.requestURL(params, true), "", nil, "new_session")
}

// SendBeacon POSTs body gzip-compressed. clientIP, when non-empty, is
// forwarded in the X-Client-IP header.
func (c *Client) SendBeacon(ctx context.Context, clientIP string, body []byte, params Parameters) (*Response, error) {
	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := writer.Write(body); err != nil {
		return nil, fmt.Errorf("compressing beacon: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("compressing beacon: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.requestURL(params, false), clientIP, &compressed, "beacon")
}

func (c *Client) requestURL(params Parameters, newSession bool) string {
	query := url.Values{}
	query.Set("type", "m")
	query.Set("srvid", strconv.Itoa(c.ServerID()))
	query.Set("app", c.applicationID)
	query.Set("va", c.agentVersion)
	query.Set("pt", "1")
	query.Set("tt", c.technology)
	if newSession {
		query.Set("ns", "1")
	}
	if params.ConfigurationTimestamp > 0 {
		query.Set("cts", strconv.FormatInt(params.ConfigurationTimestamp, 10))
	}

	target := *c.endpoint
	target.RawQuery = query.Encode()
	return target.String()
}

func (c *Client) do(ctx context.Context, method, target, clientIP string, body io.Reader, kind string) (*Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", kind, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "text/plain; charset=UTF-8")
		request.Header.Set("Content-Encoding", "gzip")
	}
	if clientIP != "" {
		request.Header.Set("X-Client-IP", clientIP)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", kind, err)
	}
	defer response.Body.Close()

	result := &Response{Code: response.StatusCode}
	if result.TooManyRequests() {
		result.RetryAfter = ParseRetryAfter(response.Header.Get("Retry-After"))
		c.logger.Info("collector throttled request",
			"kind", kind,
			"retry_after", result.RetryAfter,
		)
		return result, nil
	}
	if result.Erroneous() {
		c.logger.Debug("collector rejected request",
			"kind", kind,
			"status", response.StatusCode,
			"body", netutil.ErrorBody(response.Body),
		)
		return result, nil
	}

	data, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", kind, err)
	}
	attributes, err := serverconfig.ParseResponse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", kind, err)
	}
	result.Attributes = attributes

	if attributes.IsSet(serverconfig.AttributeServerID) {
		c.mu.Lock()
		c.serverID = attributes.ServerID()
		c.mu.Unlock()
	}
	return result, nil
}

// Package agents is a typed client for the agent provisioning and dispatch
// HTTP API.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
// Agent runs block until on-chain operations settle, so it is generous.
const DefaultHTTPTimeout = 3 * time.Minute

// Client wraps the HTTP interactions with the agent API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Agent is the public projection of one pool member.
type Agent struct {
	Name          string   `json:"name"`
	Index         int      `json:"index"`
	Functions     []string `json:"functions"`
	WalletAddress string   `json:"wallet_address"`
	WalletID      string   `json:"wallet_id"`
	Task          string   `json:"task,omitempty"`
}

// CreateAgentsResult is returned by CreateAgents.
type CreateAgentsResult struct {
	Success    bool    `json:"success"`
	Message    string  `json:"message"`
	AgentCount int     `json:"agent_count"`
	Version    uint64  `json:"version"`
	Agents     []Agent `json:"agents"`
}

// RunResult is returned by Run.
type RunResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// Identity is the public record of a wallet identity.
type Identity struct {
	ID        string    `json:"identity_id"`
	Address   string    `json:"public_address"`
	Network   string    `json:"network"`
	CreatedAt time.Time `json:"created_at"`
}

// ChainSnapshot describes the chain the service is bound to.
type ChainSnapshot struct {
	Network     string `json:"network"`
	Kind        string `json:"kind"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
}

// Health is the /healthz payload.
type Health struct {
	Status      string         `json:"status"`
	Chain       *ChainSnapshot `json:"chain,omitempty"`
	ChainError  string         `json:"chain_error,omitempty"`
	PoolVersion uint64         `json:"pool_version"`
	Agents      int            `json:"agents"`
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agents api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agents api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateAgents plans task and replaces the remote pool. When identityID is
// not empty every new agent reuses that identity.
func (c *Client) CreateAgents(ctx context.Context, task, identityID string) (CreateAgentsResult, error) {
	payload := map[string]string{"task_description": task}
	if identityID != "" {
		payload["identity_id"] = identityID
	}
	var out CreateAgentsResult
	if err := c.send(ctx, http.MethodPost, "/agents", payload, &out); err != nil {
		return CreateAgentsResult{}, err
	}
	return out, nil
}

// Agents lists the current pool.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.send(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Run dispatches prompt to the agent at index. identityID is optional and
// asserts which identity the agent must hold.
func (c *Client) Run(ctx context.Context, index int, prompt, identityID string) (RunResult, error) {
	payload := struct {
		AgentIndex int    `json:"agent_index"`
		Prompt     string `json:"prompt"`
		IdentityID string `json:"identity_id,omitempty"`
	}{index, prompt, identityID}
	var out RunResult
	if err := c.send(ctx, http.MethodPost, "/agents/run", payload, &out); err != nil {
		return RunResult{}, err
	}
	return out, nil
}

// Identity fetches the public record of id.
func (c *Client) Identity(ctx context.Context, id string) (Identity, error) {
	var out Identity
	if err := c.send(ctx, http.MethodGet, "/identities/"+url.PathEscape(id), nil, &out); err != nil {
		return Identity{}, err
	}
	return out, nil
}

// Identities lists every registered identity id.
func (c *Client) Identities(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.send(ctx, http.MethodGet, "/identities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health returns the service health. A degraded service still yields a
// Health value together with an *APIError.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.send(ctx, http.MethodGet, "/healthz", nil, &out)
	return out, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

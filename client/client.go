// Package client is the Go client for the VerifAI backend: typed
// wrappers over the REST API plus a realtime session for the event
// stream (see events.go).
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/verifailabs/verifai/models"
)

const defaultTimeout = 10 * time.Second

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("api key rejected")
)

type Config struct {
	// BaseURL includes the scheme, e.g. "http://localhost:8080".
	BaseURL string
	ApiKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("baseURL cannot be empty")
	}
	if cfg.ApiKey == "" {
		return nil, fmt.Errorf("apiKey cannot be empty")
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base URL '%s'", cfg.BaseURL)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiKey:     cfg.ApiKey,
		logger:     logger.WithGroup("verifai_client"),
	}, nil
}

func (c *Client) doRequest(method, path string, body any, target any) error {
	reqURL := c.baseURL.ResolveReference(&url.URL{Path: path})

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal request body for %s %s", method, path)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL.String(), reqBody)
	if err != nil {
		return errors.Wrapf(err, "failed to create request %s %s", method, path)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("Sending request", "method", method, "url", reqURL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "http request %s %s failed", method, path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned status %d for %s %s: %s", resp.StatusCode, method, path, string(raw))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return errors.Wrapf(err, "failed to decode response body for %s %s", method, path)
		}
	}
	return nil
}

// --- Agents ---

type AgentCreateRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	IsPublic     bool     `json:"is_public,omitempty"`
}

func (c *Client) CreateAgent(req AgentCreateRequest) (models.Agent, error) {
	var agent models.Agent
	err := c.doRequest(http.MethodPost, "/api/v1/agents", req, &agent)
	return agent, err
}

func (c *Client) ListAgents() ([]models.Agent, error) {
	var agents []models.Agent
	err := c.doRequest(http.MethodGet, "/api/v1/agents", nil, &agents)
	return agents, err
}

func (c *Client) GetAgent(agentID string) (models.Agent, error) {
	var agent models.Agent
	err := c.doRequest(http.MethodGet, "/api/v1/agents/"+agentID, nil, &agent)
	return agent, err
}

func (c *Client) DeleteAgent(agentID string) error {
	return c.doRequest(http.MethodDelete, "/api/v1/agents/"+agentID, nil, nil)
}

// Heartbeat refreshes the agent's liveness stamp; agents that go quiet
// are flipped offline server-side.
func (c *Client) Heartbeat(agentID string) (models.Agent, error) {
	var agent models.Agent
	err := c.doRequest(http.MethodPost, "/api/v1/agents/"+agentID+"/heartbeat", nil, &agent)
	return agent, err
}

// --- Proofs ---

type ProofSubmitRequest struct {
	ProofType models.ProofType `json:"proof_type,omitempty"`
	AgentID   string           `json:"agent_id,omitempty"`
}

// SubmitProof queues a proof for generation. The returned record is in
// the pending state; progress arrives on the realtime session.
func (c *Client) SubmitProof(req ProofSubmitRequest) (models.Proof, error) {
	var proof models.Proof
	err := c.doRequest(http.MethodPost, "/api/v1/proofs", req, &proof)
	return proof, err
}

func (c *Client) ListProofs() ([]models.Proof, error) {
	var proofs []models.Proof
	err := c.doRequest(http.MethodGet, "/api/v1/proofs", nil, &proofs)
	return proofs, err
}

func (c *Client) GetProof(proofID string) (models.Proof, error) {
	var proof models.Proof
	err := c.doRequest(http.MethodGet, "/api/v1/proofs/"+proofID, nil, &proof)
	return proof, err
}

// --- Settlements ---

type SettlementCreateRequest struct {
	Title    string  `json:"title"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

func (c *Client) CreateSettlement(req SettlementCreateRequest) (models.Settlement, error) {
	var settlement models.Settlement
	err := c.doRequest(http.MethodPost, "/api/v1/settlements", req, &settlement)
	return settlement, err
}

func (c *Client) ListSettlements() ([]models.Settlement, error) {
	var settlements []models.Settlement
	err := c.doRequest(http.MethodGet, "/api/v1/settlements", nil, &settlements)
	return settlements, err
}

func (c *Client) GetSettlement(settlementID string) (models.Settlement, error) {
	var settlement models.Settlement
	err := c.doRequest(http.MethodGet, "/api/v1/settlements/"+settlementID, nil, &settlement)
	return settlement, err
}

// --- Swarms ---

func (c *Client) CreateSwarm(name string) (models.Swarm, error) {
	var swarm models.Swarm
	err := c.doRequest(http.MethodPost, "/api/v1/swarms", map[string]string{"name": name}, &swarm)
	return swarm, err
}

func (c *Client) ListSwarms() ([]models.Swarm, error) {
	var swarms []models.Swarm
	err := c.doRequest(http.MethodGet, "/api/v1/swarms", nil, &swarms)
	return swarms, err
}

func (c *Client) JoinSwarm(swarmID, agentID string) (models.Swarm, error) {
	var swarm models.Swarm
	err := c.doRequest(http.MethodPost, "/api/v1/swarms/"+swarmID+"/join",
		map[string]string{"agent_id": agentID}, &swarm)
	return swarm, err
}

// --- Rewards ---

type RewardBalance struct {
	UserID  string  `json:"user_id"`
	Balance float64 `json:"balance"`
	Entries int     `json:"entries"`
}

func (c *Client) RewardBalance() (RewardBalance, error) {
	var balance RewardBalance
	err := c.doRequest(http.MethodGet, "/api/v1/rewards/balance", nil, &balance)
	return balance, err
}

func (c *Client) RewardHistory() ([]models.RewardEntry, error) {
	var entries []models.RewardEntry
	err := c.doRequest(http.MethodGet, "/api/v1/rewards/history", nil, &entries)
	return entries, err
}

// --- System ---

type CreatedUser struct {
	User   models.User `json:"user"`
	ApiKey string      `json:"api_key"`
}

// CreateUser provisions a user and returns their plaintext API key.
// Requires the root key.
func (c *Client) CreateUser(name string) (CreatedUser, error) {
	var created CreatedUser
	err := c.doRequest(http.MethodPost, "/api/v1/users", map[string]string{"name": name}, &created)
	return created, err
}

// Announce broadcasts to every connected client. Requires the root key.
func (c *Client) Announce(title, message, priority string) error {
	payload := map[string]string{"title": title, "message": message}
	if priority != "" {
		payload["priority"] = priority
	}
	return c.doRequest(http.MethodPost, "/api/v1/announce", payload, nil)
}

func (c *Client) DashboardStats() (map[string]any, error) {
	var stats map[string]any
	err := c.doRequest(http.MethodGet, "/api/v1/dashboard/stats", nil, &stats)
	return stats, err
}

func (c *Client) Ping() (map[string]string, error) {
	var response map[string]string
	err := c.doRequest(http.MethodGet, "/api/v1/ping", nil, &response)
	return response, err
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// TokenInfo describes a token mint as the server resolved it.
type TokenInfo struct {
	Mint     string `json:"mint"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Image    string `json:"image,omitempty"`
	Decimals uint8  `json:"decimals"`
}

// Escrow is the server's derived view of an on-chain escrow account.
type Escrow struct {
	Address      string    `json:"address"`
	DepositToken TokenInfo `json:"deposit_token"`
	RequestToken TokenInfo `json:"request_token"`

	DepositAmount    float64 `json:"deposit_amount"`
	DepositRemaining float64 `json:"deposit_remaining"`
	RequestAmount    float64 `json:"request_amount"`

	DepositAmountText    string `json:"deposit_amount_text"`
	DepositRemainingText string `json:"deposit_remaining_text"`
	RequestAmountText    string `json:"request_amount_text"`
	PriceText            string `json:"price_text"`

	Status          string `json:"status"` // active, filled, expired
	PublicRecipient bool   `json:"public_recipient"`
}

// FillQuote is the server's validation result and instruction preview for a
// candidate fill amount.
type FillQuote struct {
	Address         string  `json:"address"`
	Amount          string  `json:"amount"`
	Valid           bool    `json:"valid"`
	Error           string  `json:"error,omitempty"`
	MaxFill         float64 `json:"max_fill"`
	MaxFillText     string  `json:"max_fill_text"`
	ExpectedReceive float64 `json:"expected_receive"`

	Plan *FillPlan `json:"plan,omitempty"`
}

// FillPlan carries the integer amounts for the exchange instruction, as
// decimal strings in smallest units.
type FillPlan struct {
	PayAmount     string `json:"pay_amount"`
	ReceiveAmount string `json:"receive_amount"`
	FullFill      bool   `json:"full_fill"`
}

// CostItem is one line of a cost breakdown.
type CostItem struct {
	Label       string `json:"label"`
	Lamports    uint64 `json:"lamports"`
	Recoverable bool   `json:"recoverable"`
}

// CostBreakdown is the itemized lamport cost of an operation.
// ContractFeeInfo is informational only and not included in Total.
type CostBreakdown struct {
	Items           []CostItem `json:"items"`
	Total           uint64     `json:"total"`
	Recoverable     uint64     `json:"recoverable"`
	NonRecoverable  uint64     `json:"non_recoverable"`
	ContractFeeInfo uint64     `json:"contract_fee_info,omitempty"`
}

// CostEstimate wraps a breakdown; Unavailable is set when the server could
// not produce one (cost is advisory, so this is not an error).
type CostEstimate struct {
	Breakdown   *CostBreakdown `json:"breakdown,omitempty"`
	Unavailable bool           `json:"cost_unavailable,omitempty"`
}

// Watch represents a registered escrow watch.
type Watch struct {
	Address       string        `json:"address"`
	Network       string        `json:"network"`
	PollInterval  time.Duration `json:"poll_interval"`
	Status        string        `json:"status"`
	LastStatus    string        `json:"last_status,omitempty"`
	LastRemaining int64         `json:"last_remaining"`
	LastPollTime  *time.Time    `json:"last_poll_time,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Client is the HTTP client for the escrowdesk service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new escrowdesk service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetEscrow retrieves the derived snapshot for an escrow account.
func (c *Client) GetEscrow(ctx context.Context, address string) (*Escrow, error) {
	u := fmt.Sprintf("%s/api/v1/escrows/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var escrow Escrow
	if err := json.NewDecoder(resp.Body).Decode(&escrow); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &escrow, nil
}

// FillQuote asks the server to validate a candidate fill amount for a wallet
// and preview the exchange-instruction amounts.
func (c *Client) FillQuote(ctx context.Context, address, wallet, amount string) (*FillQuote, error) {
	reqBody := map[string]interface{}{
		"wallet": wallet,
		"amount": amount,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/escrows/%s/fill-quote", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "POST", u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var quote FillQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &quote, nil
}

// ExchangeCost retrieves the estimated lamport cost for a taker to exchange
// against an escrow.
func (c *Client) ExchangeCost(ctx context.Context, address, taker string) (*CostEstimate, error) {
	u := fmt.Sprintf("%s/api/v1/escrows/%s/exchange-cost?taker=%s",
		c.baseURL, url.PathEscape(address), url.QueryEscape(taker))
	return c.getCost(ctx, u)
}

// CreationCost retrieves the estimated lamport cost for a maker to create an
// escrow for the given mint pair.
func (c *Client) CreationCost(ctx context.Context, maker, depositMint, requestMint string) (*CostEstimate, error) {
	u := fmt.Sprintf("%s/api/v1/creation-cost?maker=%s&deposit=%s&request=%s",
		c.baseURL, url.QueryEscape(maker), url.QueryEscape(depositMint), url.QueryEscape(requestMint))
	return c.getCost(ctx, u)
}

func (c *Client) getCost(ctx context.Context, u string) (*CostEstimate, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var estimate CostEstimate
	if err := json.NewDecoder(resp.Body).Decode(&estimate); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &estimate, nil
}

// RegisterWatch tells the server to start polling an escrow for status
// changes.
func (c *Client) RegisterWatch(ctx context.Context, address, network string, pollInterval time.Duration) error {
	reqBody := map[string]interface{}{
		"address":       address,
		"network":       network,
		"poll_interval": pollInterval.String(),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/watches", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("watch registered", "address", address, "network", network, "poll_interval", pollInterval)
	return nil
}

// UnregisterWatch tells the server to stop polling an escrow.
func (c *Client) UnregisterWatch(ctx context.Context, address, network string) error {
	u := fmt.Sprintf("%s/api/v1/watches/%s?network=%s",
		c.baseURL, url.PathEscape(address), url.QueryEscape(network))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("watch unregistered", "address", address, "network", network)
	return nil
}

// ListWatches retrieves all registered escrow watches.
func (c *Client) ListWatches(ctx context.Context) ([]*Watch, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/watches", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var response struct {
		Watches []watchResponse `json:"watches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	watches := make([]*Watch, len(response.Watches))
	for i, apiWatch := range response.Watches {
		watch, err := responseToWatch(&apiWatch)
		if err != nil {
			return nil, fmt.Errorf("failed to parse watch %s: %w", apiWatch.Address, err)
		}
		watches[i] = watch
	}

	return watches, nil
}

// Health checks whether the server is reachable and healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// watchResponse is the API response format for a watch.
// The server returns poll_interval as a string (e.g. "30s").
type watchResponse struct {
	Address       string     `json:"address"`
	Network       string     `json:"network"`
	PollInterval  string     `json:"poll_interval"`
	Status        string     `json:"status"`
	LastStatus    string     `json:"last_status,omitempty"`
	LastRemaining int64      `json:"last_remaining"`
	LastPollTime  *time.Time `json:"last_poll_time,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// responseToWatch converts an API response to a domain Watch.
func responseToWatch(resp *watchResponse) (*Watch, error) {
	pollInterval, err := time.ParseDuration(resp.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid poll_interval %q: %w", resp.PollInterval, err)
	}

	return &Watch{
		Address:       resp.Address,
		Network:       resp.Network,
		PollInterval:  pollInterval,
		Status:        resp.Status,
		LastStatus:    resp.LastStatus,
		LastRemaining: resp.LastRemaining,
		LastPollTime:  resp.LastPollTime,
		CreatedAt:     resp.CreatedAt,
		UpdatedAt:     resp.UpdatedAt,
	}, nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}

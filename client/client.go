package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/mintmarket/service/market"
)

// Client is the HTTP client for a mintmarket server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// OperationResponse is the result of a mint, list, delist or buy request.
// RefreshError is set when the operation confirmed but the follow-up view
// rebuild failed.
type OperationResponse struct {
	Operation    market.OperationRecord `json:"operation"`
	RefreshError string                 `json:"refresh_error,omitempty"`
}

// Catalog is the server's for-sale catalog.
type Catalog struct {
	Entries   []market.ForSaleEntry `json:"catalog"`
	UpdatedAt *time.Time            `json:"updated_at,omitempty"`
}

// Tokens is the connected account's owned tokens.
type Tokens struct {
	Account   market.Account      `json:"account"`
	Tokens    []market.OwnedToken `json:"tokens"`
	UpdatedAt *time.Time          `json:"updated_at,omitempty"`
}

// OperationFilter narrows an operation history query.
type OperationFilter struct {
	Account market.Account
	Tag     market.OperationTag
	Status  market.OperationStatus
	Limit   int
}

// ResyncSchedule describes a background resync schedule.
type ResyncSchedule struct {
	Account  market.Account `json:"account"`
	Interval string         `json:"interval"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// IsBusy reports whether err is the server rejecting a write because another
// one is in flight.
func IsBusy(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsInvalidInput reports whether err is a validation rejection.
func IsInvalidInput(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusBadRequest
}

// IsNotConnected reports whether err is the server lacking a connected
// account or wallet.
func IsNotConnected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPreconditionFailed
}

// NewClient creates a new market client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		// Writes block until the ledger confirms them.
		httpClient = &http.Client{Timeout: 10 * time.Minute}
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

// Session returns the server's session snapshot.
func (c *Client) Session(ctx context.Context) (*market.Snapshot, error) {
	var snap market.Snapshot
	if err := c.do(ctx, "GET", "/api/v1/session", nil, http.StatusOK, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Connect asks the server to connect its wallet and load both views.
func (c *Client) Connect(ctx context.Context) (*market.Snapshot, error) {
	var snap market.Snapshot
	if err := c.do(ctx, "POST", "/api/v1/session", nil, http.StatusOK, &snap); err != nil {
		return nil, err
	}
	c.logger.Debug("session connected", "account", snap.Account)
	return &snap, nil
}

// Catalog returns the tokens currently for sale.
func (c *Client) Catalog(ctx context.Context) (*Catalog, error) {
	var cat Catalog
	if err := c.do(ctx, "GET", "/api/v1/catalog", nil, http.StatusOK, &cat); err != nil {
		return nil, err
	}
	return &cat, nil
}

// Tokens returns the tokens owned by the connected account.
func (c *Client) Tokens(ctx context.Context) (*Tokens, error) {
	var tokens Tokens
	if err := c.do(ctx, "GET", "/api/v1/tokens", nil, http.StatusOK, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Refresh rebuilds the named views, or both when none are given.
func (c *Client) Refresh(ctx context.Context, views ...market.View) (*market.Snapshot, error) {
	var body interface{}
	if len(views) > 0 {
		body = map[string]interface{}{"views": views}
	}
	var snap market.Snapshot
	if err := c.do(ctx, "POST", "/api/v1/refresh", body, http.StatusOK, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Mint creates a token whose metadata lives at cid.
func (c *Client) Mint(ctx context.Context, cid string) (*OperationResponse, error) {
	return c.operation(ctx, "POST", "/api/v1/mint", map[string]interface{}{"cid": cid})
}

// List offers a token for sale at price.
func (c *Client) List(ctx context.Context, id market.TokenID, price market.Price) (*OperationResponse, error) {
	return c.operation(ctx, "POST", "/api/v1/listings", map[string]interface{}{
		"token_id": id,
		"price":    price.String(),
	})
}

// Delist withdraws a token from sale.
func (c *Client) Delist(ctx context.Context, id market.TokenID) (*OperationResponse, error) {
	return c.operation(ctx, "DELETE", "/api/v1/listings/"+url.PathEscape(id.String()), nil)
}

// Buy purchases a token. A nil payment pays the catalog's current price.
func (c *Client) Buy(ctx context.Context, id market.TokenID, payment *market.Price) (*OperationResponse, error) {
	body := map[string]interface{}{"token_id": id}
	if payment != nil {
		body["price"] = payment.String()
	}
	return c.operation(ctx, "POST", "/api/v1/purchases", body)
}

// Operations lists journaled operations, newest first.
func (c *Client) Operations(ctx context.Context, filter OperationFilter) ([]market.OperationRecord, error) {
	q := url.Values{}
	if !filter.Account.IsZero() {
		q.Set("account", string(filter.Account))
	}
	if filter.Tag != "" {
		q.Set("tag", string(filter.Tag))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/operations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Operations []market.OperationRecord `json:"operations"`
	}
	if err := c.do(ctx, "GET", path, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Operations, nil
}

// Operation returns one journaled operation.
func (c *Client) Operation(ctx context.Context, id string) (*market.OperationRecord, error) {
	var rec market.OperationRecord
	if err := c.do(ctx, "GET", "/api/v1/operations/"+url.PathEscape(id), nil, http.StatusOK, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ScheduleResync creates or updates the background resync schedule for the
// connected account. A zero interval uses the server default.
func (c *Client) ScheduleResync(ctx context.Context, interval time.Duration) (*ResyncSchedule, error) {
	var body interface{}
	if interval > 0 {
		body = map[string]interface{}{"interval": interval.String()}
	}
	var sched ResyncSchedule
	if err := c.do(ctx, "PUT", "/api/v1/resync", body, http.StatusOK, &sched); err != nil {
		return nil, err
	}
	c.logger.Debug("resync scheduled", "account", sched.Account, "interval", sched.Interval)
	return &sched, nil
}

// DeleteResync removes the background resync schedule.
func (c *Client) DeleteResync(ctx context.Context) error {
	return c.do(ctx, "DELETE", "/api/v1/resync", nil, http.StatusNoContent, nil)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, http.StatusOK, nil)
}

func (c *Client) operation(ctx context.Context, method, path string, body interface{}) (*OperationResponse, error) {
	var resp OperationResponse
	if err := c.do(ctx, method, path, body, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("operation settled",
		"operation_id", resp.Operation.ID,
		"tag", resp.Operation.Tag,
		"status", resp.Operation.Status,
		"tx_hash", resp.Operation.TxHash,
	)
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, want int, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}

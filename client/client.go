// Package client talks to the bridge tracker HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gobridgetracker/identity"
	"gobridgetracker/recovery"
	"gobridgetracker/types"
	"gobridgetracker/workers/handlers"

	"github.com/rs/zerolog"
)

// APIError is a non-success answer of the server.
type APIError struct {
	Code      int
	Message   string
	Field     string
	Retryable bool
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("server returned %d: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

type Client struct {
	baseURL    string
	owner      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for baseURL. owner is sent with every request
// when not empty.
func NewClient(baseURL, owner string, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		owner:      owner,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, want int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.owner != "" {
		req.Header.Set(identity.HEADER_OWNER, c.owner)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request done")
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	var res handlers.APIResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err := json.Unmarshal(data, &res); err != nil || res.Message == "" {
		return &APIError{Code: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}
	return &APIError{Code: resp.StatusCode, Message: res.Message, Field: res.Field, Retryable: res.Retryable}
}

func (c *Client) Chains(ctx context.Context) ([]types.ChainDescriptor, error) {
	var res handlers.APIChainsResponse
	if err := c.do(ctx, http.MethodGet, "/chains", nil, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return res.Chains, nil
}

func (c *Client) Fee(ctx context.Context, source, destination int, token, amount string) (types.FeeEstimate, error) {
	q := url.Values{}
	q.Set("source", strconv.Itoa(source))
	q.Set("dest", strconv.Itoa(destination))
	q.Set("token", token)
	q.Set("amount", amount)

	var res handlers.APIFeeResponse
	if err := c.do(ctx, http.MethodGet, "/fees?"+q.Encode(), nil, &res, http.StatusOK); err != nil {
		return types.FeeEstimate{}, err
	}
	return res.Estimate, nil
}

// Send initiates a transfer and returns its id.
func (c *Client) Send(ctx context.Context, req handlers.BridgeRequest) (string, error) {
	var res handlers.APIBridgeResponse
	if err := c.do(ctx, http.MethodPost, "/bridge", req, &res, http.StatusCreated); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) Status(ctx context.Context, id string) (types.BridgeTransaction, error) {
	var res handlers.APITransactionResponse
	if err := c.do(ctx, http.MethodGet, "/bridge/"+url.PathEscape(id), nil, &res, http.StatusOK); err != nil {
		return types.BridgeTransaction{}, err
	}
	return res.Transaction, nil
}

func (c *Client) History(ctx context.Context) ([]types.BridgeTransaction, error) {
	var res handlers.APIHistoryResponse
	if err := c.do(ctx, http.MethodGet, "/history", nil, &res, http.StatusOK); err != nil {
		return nil, err
	}
	return res.Transactions, nil
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/bridge/"+url.PathEscape(id)+"/cancel", nil, nil, http.StatusOK)
}

// Retry re-initiates a failed transfer and returns the new id.
func (c *Client) Retry(ctx context.Context, id string) (string, error) {
	var res handlers.APIBridgeResponse
	if err := c.do(ctx, http.MethodPost, "/bridge/"+url.PathEscape(id)+"/retry", nil, &res, http.StatusCreated); err != nil {
		return "", err
	}
	return res.ID, nil
}

func (c *Client) Recovery(ctx context.Context) (recovery.Report, error) {
	var res handlers.APIRecoveryResponse
	if err := c.do(ctx, http.MethodGet, "/recovery", nil, &res, http.StatusOK); err != nil {
		return recovery.Report{}, err
	}
	return res.Report, nil
}

func (c *Client) Execute(ctx context.Context, actionID string) (string, error) {
	var res handlers.APIActionResponse
	if err := c.do(ctx, http.MethodPost, "/recovery/"+url.PathEscape(actionID), nil, &res, http.StatusOK); err != nil {
		return "", err
	}
	return res.Result, nil
}

/**
 * @description
 * This package provides a client for interacting with the Paystack payment
 * gateway. It encapsulates the logic for making authenticated HTTP requests to
 * Paystack's endpoints, handling request body construction, and parsing the
 * standard {status, message, data} response envelope.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

// ErrGatewayUnavailable wraps transport-level failures reaching the gateway, as
// opposed to the gateway rejecting a request.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Paystack API client.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ChargeRequest is the payload for initializing a checkout charge. Amount is in
// minor units (kobo).
type ChargeRequest struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference"`
}

// ChargeAuthorization is the checkout handle returned for an initialized charge.
type ChargeAuthorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// TransactionData is the verified state of a charge.
type TransactionData struct {
	ID              int64  `json:"id"`
	Status          string `json:"status"` // 'success', 'failed', 'abandoned'
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Channel         string `json:"channel"`
	GatewayResponse string `json:"gateway_response"`
}

// RecipientRequest is the payload for creating a transfer recipient.
type RecipientRequest struct {
	Type          string `json:"type"` // 'nuban'
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// Recipient is a created transfer recipient.
type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Active        bool   `json:"active"`
}

// TransferRequest is the payload for initiating a transfer. Amount is in minor
// units (kobo).
type TransferRequest struct {
	Source    string `json:"source"` // 'balance'
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// TransferData is the gateway's view of an initiated transfer.
type TransferData struct {
	ID           int64  `json:"id"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
}

// ErrorResponse represents a non-2xx reply from the Paystack API.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Status     bool   `json:"status"`
	Message    string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("paystack api error: %s (http %d)", e.Message, e.StatusCode)
	}
	return fmt.Sprintf("paystack api error (http %d)", e.StatusCode)
}

// envelope is Paystack's standard response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeCharge asks Paystack for a checkout authorization for a new charge.
func (c *Client) InitializeCharge(ctx context.Context, req ChargeRequest) (*ChargeAuthorization, error) {
	var auth ChargeAuthorization
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", req, &auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

// VerifyTransaction polls the current state of a charge by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*TransactionData, error) {
	var tx TransactionData
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// CreateRecipient registers a bank account as a transfer recipient.
func (c *Client) CreateRecipient(ctx context.Context, req RecipientRequest) (*Recipient, error) {
	var recipient Recipient
	if err := c.do(ctx, http.MethodPost, "/transferrecipient", req, &recipient); err != nil {
		return nil, err
	}
	return &recipient, nil
}

// InitiateTransfer starts a balance transfer to a recipient.
func (c *Client) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferData, error) {
	var transfer TransferData
	if err := c.do(ctx, http.MethodPost, "/transfer", req, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

// do executes one authenticated request and unmarshals the envelope's data
// field into out.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=paystack_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return &errResp
		}
		log.Printf("level=warn component=paystack_client op=%s status=%d message=%q", path, resp.StatusCode, errResp.Message)
		return &errResp
	}

	var env envelope
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if !env.Status {
		return &ErrorResponse{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

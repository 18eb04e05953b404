/**
 * @description
 * This package provides a client for interacting with the Paystack API.
 * It encapsulates the logic for making authenticated HTTP requests to
 * Paystack's endpoints, handling request body construction, and parsing
 * responses.
 *
 * All amounts sent to and received from Paystack are integer kobo.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

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

// ErrorResponse is Paystack's envelope for failed requests.
type ErrorResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("paystack api error: %s", e.Message)
}

// InitializeRequest is the payload for POST /transaction/initialize.
type InitializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// InitializeResponse is the envelope returned by /transaction/initialize.
type InitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// VerifyResponse is the envelope returned by /transaction/verify/{reference}.
type VerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
	} `json:"data"`
}

// TransferRecipientRequest is the payload for POST /transferrecipient.
type TransferRecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// TransferRecipientResponse is the envelope returned by /transferrecipient.
type TransferRecipientResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RecipientCode string `json:"recipient_code"`
		Active        bool   `json:"active"`
	} `json:"data"`
}

// TransferRequest is the payload for POST /transfer.
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// TransferResponse is the envelope returned by /transfer.
type TransferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
		Reference    string `json:"reference"`
	} `json:"data"`
}

// InitializeTransaction starts a hosted checkout session for a deposit.
func (c *Client) InitializeTransaction(ctx context.Context, reqBody InitializeRequest) (*InitializeResponse, error) {
	if reqBody.Currency == "" {
		reqBody.Currency = "NGN"
	}
	var resp InitializeResponse
	if err := c.do(ctx, "POST", "/transaction/initialize", reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyTransaction fetches the authoritative status of a transaction by its reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.do(ctx, "GET", "/transaction/verify/"+reference, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTransferRecipient registers a NUBAN bank account as a transfer destination.
func (c *Client) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (*TransferRecipientResponse, error) {
	reqBody := TransferRecipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      "NGN",
	}
	var resp TransferRecipientResponse
	if err := c.do(ctx, "POST", "/transferrecipient", reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitiateTransfer sends funds from the platform balance to a registered recipient.
func (c *Client) InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (*TransferResponse, error) {
	reqBody := TransferRequest{
		Source:    "balance",
		Amount:    amount,
		Recipient: recipientCode,
		Reference: reference,
		Reason:    reason,
	}
	var resp TransferResponse
	if err := c.do(ctx, "POST", "/transfer", reqBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes an authenticated request and decodes the response envelope.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
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
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=paystack_client method=%s path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", method, path, resp.StatusCode)
			return fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=paystack_client method=%s path=%s status=%d message=%q", method, path, resp.StatusCode, errResp.Message)
		return &errResp
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode success response: %w", err)
	}
	return nil
}

package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/terravault/wallet-service/pkg/paystack"
)

// DepositSession is the hosted checkout handle returned when a deposit is
// initialized with the gateway.
type DepositSession struct {
	AuthorizationURL string
	AccessCode       string
	GatewayReference string
}

// GatewayStatus is the gateway's authoritative view of a transaction.
// Status carries the gateway's own vocabulary ("success", "failed",
// "abandoned", "pending", ...); Amount is the gateway-reported kobo figure,
// cross-checked against the ledger row before a deposit is credited;
// RawPayload is stored on the ledger row.
type GatewayStatus struct {
	Status        string
	Amount        int64
	FailureReason string
	RawPayload    json.RawMessage
}

// PaymentGateway abstracts the payment processor so the service logic can be
// exercised against a stub in tests.
type PaymentGateway interface {
	InitializeDeposit(ctx context.Context, email string, amount int64, reference, callbackURL string) (*DepositSession, error)
	VerifyTransaction(ctx context.Context, reference string) (*GatewayStatus, error)
	CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (string, error)
}

// PaystackGateway adapts the Paystack client to the PaymentGateway interface.
type PaystackGateway struct {
	client *paystack.Client
}

func NewPaystackGateway(client *paystack.Client) *PaystackGateway {
	return &PaystackGateway{client: client}
}

func (g *PaystackGateway) InitializeDeposit(ctx context.Context, email string, amount int64, reference, callbackURL string) (*DepositSession, error) {
	resp, err := g.client.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       email,
		Amount:      amount,
		Reference:   reference,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, err
	}
	return &DepositSession{
		AuthorizationURL: resp.Data.AuthorizationURL,
		AccessCode:       resp.Data.AccessCode,
		GatewayReference: resp.Data.Reference,
	}, nil
}

func (g *PaystackGateway) VerifyTransaction(ctx context.Context, reference string) (*GatewayStatus, error) {
	resp, err := g.client.VerifyTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify payload: %w", err)
	}
	return &GatewayStatus{
		Status:        resp.Data.Status,
		Amount:        resp.Data.Amount,
		FailureReason: resp.Data.GatewayResponse,
		RawPayload:    payload,
	}, nil
}

func (g *PaystackGateway) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	resp, err := g.client.CreateTransferRecipient(ctx, name, accountNumber, bankCode)
	if err != nil {
		return "", err
	}
	return resp.Data.RecipientCode, nil
}

func (g *PaystackGateway) InitiateTransfer(ctx context.Context, recipientCode string, amount int64, reference, reason string) (string, error) {
	resp, err := g.client.InitiateTransfer(ctx, recipientCode, amount, reference, reason)
	if err != nil {
		return "", err
	}
	return resp.Data.TransferCode, nil
}

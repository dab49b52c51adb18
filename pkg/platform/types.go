package platform

import (
	"fmt"
	"net/http"
)

// AppStatus defines the lifecycle of a registered app.
type AppStatus string

const (
	AppStatusActive      AppStatus = "active"
	AppStatusSuspended   AppStatus = "suspended"
	AppStatusDevelopment AppStatus = "development"
)

// String returns the stored representation.
func (status AppStatus) String() string { return string(status) }

// ParseAppStatus validates a raw status value.
func ParseAppStatus(raw string) (AppStatus, error) {
	switch AppStatus(raw) {
	case AppStatusActive, AppStatusSuspended, AppStatusDevelopment:
		return AppStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAppStatus, raw)
}

// App is a registered tenant application. Secret is populated only on the
// records returned from CreateApp and RotateSecret; lookups leave it set so
// the auth gate can verify signatures, but it must never cross the transport
// boundary.
type App struct {
	ID             string
	Name           string
	Description    string
	Key            string
	Secret         string
	SecretHash     string
	WebhookURL     string
	Status         AppStatus
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// AppContext is the authenticated caller identity handed to request
// handlers. It carries no secret material.
type AppContext struct {
	AppID  string
	AppKey string
}

// VerifyPolicy selects the trust tier for an endpoint: identity-only, or
// full signature verification.
type VerifyPolicy struct {
	RequireSignature bool
}

// RequestCredentials are the auth headers extracted from an inbound call.
type RequestCredentials struct {
	AppKey    string
	Timestamp string
	Signature string
}

// Header names carried by signed server-to-server requests.
const (
	HeaderAppKey    = "x-app-id"
	HeaderTimestamp = "x-timestamp"
	HeaderSignature = "x-sign"
)

// CredentialsFromHeader extracts the platform auth headers.
func CredentialsFromHeader(header http.Header) RequestCredentials {
	return RequestCredentials{
		AppKey:    header.Get(HeaderAppKey),
		Timestamp: header.Get(HeaderTimestamp),
		Signature: header.Get(HeaderSignature),
	}
}

// Wallet is a per-user balance in integer minor currency units.
type Wallet struct {
	ID             string
	UserID         string
	Balance        int64
	Currency       string
	UpdatedUnixUTC int64
}

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionDeposit         TransactionType = "deposit"
	TransactionPayment         TransactionType = "payment"
	TransactionRefund          TransactionType = "refund"
	TransactionAdminAdjustment TransactionType = "admin_adjustment"
)

// String returns the stored representation.
func (transactionType TransactionType) String() string { return string(transactionType) }

// ParseTransactionType validates a raw transaction type.
func ParseTransactionType(raw string) (TransactionType, error) {
	switch TransactionType(raw) {
	case TransactionDeposit, TransactionPayment, TransactionRefund, TransactionAdminAdjustment:
		return TransactionType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionType, raw)
}

// WalletTransaction is a single immutable line in the wallet ledger.
// BalanceAfter snapshots the wallet balance the entry produced.
type WalletTransaction struct {
	ID             string
	WalletID       string
	Delta          int64
	BalanceAfter   int64
	Type           TransactionType
	Description    string
	OperatorRef    string
	IdempotencyKey string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Adjustment reports the outcome of a balance adjustment.
type Adjustment struct {
	WalletID      string
	TransactionID string
	NewBalance    int64
}

// InviteStatus defines the administrative state of an invite code.
type InviteStatus string

const (
	InviteStatusActive   InviteStatus = "active"
	InviteStatusDisabled InviteStatus = "disabled"
)

// String returns the stored representation.
func (status InviteStatus) String() string { return string(status) }

// InviteCode is a bounded-use, time-limited registration token.
// ExpiresAtUnixUTC of zero means the code never expires.
type InviteCode struct {
	ID               string
	Code             string
	AppID            string
	MaxUsage         int
	UsedCount        int
	ValidDays        int
	ExpiresAtUnixUTC int64
	Status           InviteStatus
	CreatedBy        string
	CreatedUnixUTC   int64
}

// Redemption records that a user consumed an invite code.
type Redemption struct {
	CodeID         string
	UserID         string
	MetadataJSON   string
	CreatedUnixUTC int64
}

package platform

import "context"

// Store is the persistence contract used by the platform services.
// Implementations must provide serializable per-row semantics for the
// ForUpdate lookups: inside WithTx the returned row stays locked until the
// transaction ends.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateApp(ctx context.Context, app App) error
	GetAppByKey(ctx context.Context, key string) (App, error)
	GetAppByID(ctx context.Context, appID string) (App, error)
	UpdateAppSecret(ctx context.Context, appID string, secret string, secretHash string, updatedUnixUTC int64) error
	UpdateAppStatus(ctx context.Context, appID string, status AppStatus, updatedUnixUTC int64) error
	ListApps(ctx context.Context) ([]App, error)

	GetOrCreateUserID(ctx context.Context, appID string, externalUserID string) (string, error)
	FindUserID(ctx context.Context, appID string, externalUserID string) (string, error)

	GetWalletByUser(ctx context.Context, userID string) (Wallet, error)
	GetOrCreateWalletForUpdate(ctx context.Context, userID string, currency string) (Wallet, error)
	GetWalletForUpdate(ctx context.Context, walletID string) (Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID string, balance int64, updatedUnixUTC int64) error
	InsertTransaction(ctx context.Context, transaction WalletTransaction) (string, error)
	ListTransactions(ctx context.Context, walletID string, offset int, limit int) ([]WalletTransaction, error)

	CreateInviteCodes(ctx context.Context, codes []InviteCode) error
	GetInviteCodeForUpdate(ctx context.Context, appID string, code string) (InviteCode, error)
	IncrementInviteUsage(ctx context.Context, codeID string) error
	HasRedemption(ctx context.Context, codeID string, userID string) (bool, error)
	InsertRedemption(ctx context.Context, redemption Redemption) error
	ListInviteCodes(ctx context.Context, appID string, offset int, limit int) ([]InviteCode, error)
}

// AppLookup is the read-only slice of Store the auth gate depends on.
type AppLookup interface {
	GetAppByKey(ctx context.Context, key string) (App, error)
}

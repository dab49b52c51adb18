package platform

import "time"

const (
	operationAdjust   = "adjust"
	operationGenerate = "generate"
	operationRedeem   = "redeem"
	operationCreate   = "create_app"
	operationRotate   = "rotate_secret"
	operationStatus   = "set_status"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// Replay window for signed requests. A timestamp at exactly the window
	// edge is rejected.
	FreshnessWindow = 5 * time.Minute

	// Invite codes are 8 symbols from a 36-symbol alphabet.
	inviteCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	inviteCodeLength   = 8

	// MaxBatchCount caps a single invite generation call.
	MaxBatchCount = 100

	// DefaultCurrency is assigned to lazily created wallets.
	DefaultCurrency = "CNY"

	conflictRetryAttempts = 3
	conflictBackoffBase   = 10 * time.Millisecond

	appKeyPrefix    = "ak_"
	appSecretPrefix = "sk_live_"
)

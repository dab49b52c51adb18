package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WalletLedger maintains a consistent, auditable balance per wallet. Every
// mutation is one store transaction: locked balance read, balance write,
// and ledger insert with a balance_after snapshot.
type WalletLedger struct {
	store           Store
	nowFn           func() int64
	logger          OperationLogger
	retryAttempts   int
	backoffBase     time.Duration
	allowNegative   bool
	defaultCurrency string
}

// WalletLedgerOption configures a WalletLedger.
type WalletLedgerOption func(*WalletLedger)

// WithLedgerLogger wires an operation logger.
func WithLedgerLogger(logger OperationLogger) WalletLedgerOption {
	return func(ledger *WalletLedger) {
		ledger.logger = logger
	}
}

// WithConflictRetry overrides the bounded retry applied to store conflicts.
func WithConflictRetry(attempts int, backoffBase time.Duration) WalletLedgerOption {
	return func(ledger *WalletLedger) {
		if attempts > 0 {
			ledger.retryAttempts = attempts
		}
		ledger.backoffBase = backoffBase
	}
}

// NewWalletLedger wires a WalletLedger.
func NewWalletLedger(store Store, now func() int64, options ...WalletLedgerOption) (*WalletLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	ledger := &WalletLedger{
		store:           store,
		nowFn:           now,
		retryAttempts:   conflictRetryAttempts,
		backoffBase:     conflictBackoffBase,
		defaultCurrency: DefaultCurrency,
	}
	for _, option := range options {
		if option != nil {
			option(ledger)
		}
	}
	return ledger, nil
}

// AdjustInput describes one balance adjustment.
type AdjustInput struct {
	Delta          int64
	Type           TransactionType
	Description    string
	OperatorRef    string
	IdempotencyKey string
	MetadataJSON   string
}

func (input AdjustInput) validate() error {
	if input.Delta == 0 {
		return fmt.Errorf("%w: delta must be non-zero", ErrInvalidAmount)
	}
	_, err := ParseTransactionType(input.Type.String())
	return err
}

// Adjust applies a signed delta to an existing wallet. WalletNotFound and
// InsufficientFunds are terminal; serialization failures are retried a
// bounded number of times before surfacing as ErrStoreConflict.
func (ledger *WalletLedger) Adjust(ctx context.Context, walletID string, input AdjustInput) (Adjustment, error) {
	if err := input.validate(); err != nil {
		return Adjustment{}, err
	}
	adjustment, operationError := ledger.withConflictRetry(ctx, func() (Adjustment, error) {
		return ledger.adjustOnce(ctx, input, func(ctx context.Context, txStore Store) (Wallet, error) {
			return txStore.GetWalletForUpdate(ctx, walletID)
		})
	})
	logOperation(ctx, ledger.logger, OperationLog{
		Operation:      operationAdjust,
		WalletID:       walletID,
		Amount:         input.Delta,
		IdempotencyKey: input.IdempotencyKey,
		Error:          operationError,
	})
	return adjustment, operationError
}

// AdjustForUser resolves (or lazily creates) the wallet of an app's end
// user and applies the adjustment to it.
func (ledger *WalletLedger) AdjustForUser(ctx context.Context, appID string, externalUserID string, input AdjustInput) (Adjustment, error) {
	if err := input.validate(); err != nil {
		return Adjustment{}, err
	}
	adjustment, operationError := ledger.withConflictRetry(ctx, func() (Adjustment, error) {
		return ledger.adjustOnce(ctx, input, func(ctx context.Context, txStore Store) (Wallet, error) {
			userID, err := txStore.GetOrCreateUserID(ctx, appID, externalUserID)
			if err != nil {
				return Wallet{}, err
			}
			return txStore.GetOrCreateWalletForUpdate(ctx, userID, ledger.defaultCurrency)
		})
	})
	logOperation(ctx, ledger.logger, OperationLog{
		Operation:      operationAdjust,
		AppID:          appID,
		UserID:         externalUserID,
		WalletID:       adjustment.WalletID,
		Amount:         input.Delta,
		IdempotencyKey: input.IdempotencyKey,
		Error:          operationError,
	})
	return adjustment, operationError
}

func (ledger *WalletLedger) adjustOnce(ctx context.Context, input AdjustInput, resolve func(ctx context.Context, txStore Store) (Wallet, error)) (Adjustment, error) {
	var adjustment Adjustment
	err := ledger.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		wallet, err := resolve(ctx, txStore)
		if err != nil {
			return err
		}
		newBalance := wallet.Balance + input.Delta
		if newBalance < 0 && !ledger.allowNegative {
			return ErrInsufficientFunds
		}
		now := ledger.nowFn()
		transactionID, err := txStore.InsertTransaction(ctx, WalletTransaction{
			WalletID:       wallet.ID,
			Delta:          input.Delta,
			BalanceAfter:   newBalance,
			Type:           input.Type,
			Description:    input.Description,
			OperatorRef:    input.OperatorRef,
			IdempotencyKey: input.IdempotencyKey,
			MetadataJSON:   input.MetadataJSON,
			CreatedUnixUTC: now,
		})
		if err != nil {
			return err
		}
		if err := txStore.UpdateWalletBalance(ctx, wallet.ID, newBalance, now); err != nil {
			return err
		}
		adjustment = Adjustment{
			WalletID:      wallet.ID,
			TransactionID: transactionID,
			NewBalance:    newBalance,
		}
		return nil
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adjustment, nil
}

// Balance returns the wallet view for an app's end user. A user without a
// wallet yet reads as a zero balance in the default currency.
func (ledger *WalletLedger) Balance(ctx context.Context, appID string, externalUserID string) (Wallet, error) {
	userID, err := ledger.store.FindUserID(ctx, appID, externalUserID)
	if errors.Is(err, ErrUserNotFound) {
		return Wallet{Currency: ledger.defaultCurrency}, nil
	}
	if err != nil {
		return Wallet{}, err
	}
	wallet, err := ledger.store.GetWalletByUser(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return Wallet{UserID: userID, Currency: ledger.defaultCurrency}, nil
	}
	if err != nil {
		return Wallet{}, err
	}
	return wallet, nil
}

// Transactions returns a page of ledger entries for an app's end user,
// newest first.
func (ledger *WalletLedger) Transactions(ctx context.Context, appID string, externalUserID string, page int, limit int) ([]WalletTransaction, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	userID, err := ledger.store.FindUserID(ctx, appID, externalUserID)
	if errors.Is(err, ErrUserNotFound) {
		return []WalletTransaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	wallet, err := ledger.store.GetWalletByUser(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return []WalletTransaction{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ledger.store.ListTransactions(ctx, wallet.ID, (page-1)*limit, limit)
}

func (ledger *WalletLedger) withConflictRetry(ctx context.Context, attempt func() (Adjustment, error)) (Adjustment, error) {
	var (
		adjustment Adjustment
		err        error
	)
	for try := 0; try < ledger.retryAttempts; try++ {
		adjustment, err = attempt()
		if !errors.Is(err, ErrStoreConflict) {
			return adjustment, err
		}
		if ledger.backoffBase > 0 {
			select {
			case <-ctx.Done():
				return Adjustment{}, ctx.Err()
			case <-time.After(ledger.backoffBase << uint(try)):
			}
		}
	}
	return adjustment, err
}

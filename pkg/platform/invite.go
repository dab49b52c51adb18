package platform

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

const secondsPerDay = 86400

// InviteCodeManager issues codes bounded by count, time, and usage, and
// redeems them with exactly-once-per-user semantics.
type InviteCodeManager struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	codeFn func() (string, error)
}

// InviteOption configures an InviteCodeManager.
type InviteOption func(*InviteCodeManager)

// WithInviteLogger wires an operation logger.
func WithInviteLogger(logger OperationLogger) InviteOption {
	return func(manager *InviteCodeManager) {
		manager.logger = logger
	}
}

// WithCodeGenerator overrides the random code source.
func WithCodeGenerator(codeFn func() (string, error)) InviteOption {
	return func(manager *InviteCodeManager) {
		manager.codeFn = codeFn
	}
}

// NewInviteCodeManager wires an InviteCodeManager.
func NewInviteCodeManager(store Store, now func() int64, options ...InviteOption) (*InviteCodeManager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	manager := &InviteCodeManager{store: store, nowFn: now, codeFn: randomInviteCode}
	for _, option := range options {
		if option != nil {
			option(manager)
		}
	}
	return manager, nil
}

// Generate creates a batch of codes for an app. count is clamped to
// MaxBatchCount. validDays of zero produces non-expiring codes.
func (manager *InviteCodeManager) Generate(ctx context.Context, appID string, count int, validDays int, maxUsage int, createdBy string) ([]InviteCode, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", ErrInvalidBatchCount)
	}
	if count > MaxBatchCount {
		count = MaxBatchCount
	}
	if maxUsage < 1 {
		maxUsage = 1
	}
	now := manager.nowFn()
	var expiresAt int64
	if validDays > 0 {
		expiresAt = now + int64(validDays)*secondsPerDay
	}
	codes := make([]InviteCode, 0, count)
	for len(codes) < count {
		code, err := manager.codeFn()
		if err != nil {
			return nil, WrapError(operationGenerate, "code", "random", err)
		}
		codes = append(codes, InviteCode{
			ID:               uuid.NewString(),
			Code:             code,
			AppID:            appID,
			MaxUsage:         maxUsage,
			ValidDays:        validDays,
			ExpiresAtUnixUTC: expiresAt,
			Status:           InviteStatusActive,
			CreatedBy:        createdBy,
			CreatedUnixUTC:   now,
		})
	}
	operationError := manager.store.CreateInviteCodes(ctx, codes)
	logOperation(ctx, manager.logger, OperationLog{
		Operation: operationGenerate,
		AppID:     appID,
		Amount:    int64(count),
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return codes, nil
}

// Redeem consumes one use of a code for a user. All checks and both
// mutations happen inside a single transaction over the locked code row;
// any failing check aborts with zero mutation.
func (manager *InviteCodeManager) Redeem(ctx context.Context, appID string, code string, externalUserID string) (Redemption, error) {
	var redemption Redemption
	operationError := manager.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		userID, err := txStore.GetOrCreateUserID(ctx, appID, externalUserID)
		if err != nil {
			return err
		}
		record, err := txStore.GetInviteCodeForUpdate(ctx, appID, code)
		if err != nil {
			return err
		}
		if record.Status != InviteStatusActive {
			return ErrCodeNotFound
		}
		now := manager.nowFn()
		if record.ExpiresAtUnixUTC != 0 && now >= record.ExpiresAtUnixUTC {
			return ErrCodeExpired
		}
		if record.UsedCount >= record.MaxUsage {
			return ErrCodeExhausted
		}
		redeemed, err := txStore.HasRedemption(ctx, record.ID, userID)
		if err != nil {
			return err
		}
		if redeemed {
			return ErrAlreadyRedeemed
		}
		if err := txStore.IncrementInviteUsage(ctx, record.ID); err != nil {
			return err
		}
		redemption = Redemption{
			CodeID:         record.ID,
			UserID:         userID,
			CreatedUnixUTC: now,
		}
		return txStore.InsertRedemption(ctx, redemption)
	})
	logOperation(ctx, manager.logger, OperationLog{
		Operation: operationRedeem,
		AppID:     appID,
		UserID:    externalUserID,
		Code:      code,
		Error:     operationError,
	})
	if operationError != nil {
		return Redemption{}, operationError
	}
	return redemption, nil
}

// ListCodes returns a page of an app's codes, newest first.
func (manager *InviteCodeManager) ListCodes(ctx context.Context, appID string, page int, limit int) ([]InviteCode, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > MaxBatchCount {
		limit = 20
	}
	return manager.store.ListInviteCodes(ctx, appID, (page-1)*limit, limit)
}

func randomInviteCode() (string, error) {
	entropy := make([]byte, inviteCodeLength)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}
	symbols := make([]byte, inviteCodeLength)
	for index, value := range entropy {
		symbols[index] = inviteCodeAlphabet[int(value)%len(inviteCodeAlphabet)]
	}
	return string(symbols), nil
}

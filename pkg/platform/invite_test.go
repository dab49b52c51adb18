package platform

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const (
	inviteAppID   = "app-invite"
	operatorID    = "admin-1"
	redeemingUser = "ext-redeemer"
)

func mustInviteManager(test *testing.T, store *stubStore, options ...InviteOption) *InviteCodeManager {
	test.Helper()
	manager, err := NewInviteCodeManager(store, func() int64 { return fixedNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("invite manager init: %v", err)
	}
	return manager
}

func generateOne(test *testing.T, manager *InviteCodeManager, validDays int, maxUsage int) InviteCode {
	test.Helper()
	codes, err := manager.Generate(context.Background(), inviteAppID, 1, validDays, maxUsage, operatorID)
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	return codes[0]
}

func TestGenerateProducesDistinctWellFormedCodes(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)

	codes, err := manager.Generate(context.Background(), inviteAppID, 5, 30, 1, operatorID)
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if len(codes) != 5 {
		test.Fatalf("expected 5 codes, got %d", len(codes))
	}
	seen := map[string]bool{}
	for _, code := range codes {
		if len(code.Code) != 8 {
			test.Fatalf("expected 8-symbol code, got %q", code.Code)
		}
		for _, symbol := range code.Code {
			if !strings.ContainsRune(inviteCodeAlphabet, symbol) {
				test.Fatalf("code %q contains symbol outside alphabet", code.Code)
			}
		}
		if seen[code.Code] {
			test.Fatalf("duplicate code %q in batch", code.Code)
		}
		seen[code.Code] = true
		if code.ExpiresAtUnixUTC != fixedNowUnixUTC+30*secondsPerDay {
			test.Fatalf("unexpected expiry %d", code.ExpiresAtUnixUTC)
		}
		if code.MaxUsage != 1 || code.UsedCount != 0 || code.Status != InviteStatusActive {
			test.Fatalf("unexpected code record: %+v", code)
		}
	}
}

func TestGenerateClampsBatchSize(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)

	codes, err := manager.Generate(context.Background(), inviteAppID, 500, 0, 1, operatorID)
	if err != nil {
		test.Fatalf("generate: %v", err)
	}
	if len(codes) != MaxBatchCount {
		test.Fatalf("expected %d codes, got %d", MaxBatchCount, len(codes))
	}
	if codes[0].ExpiresAtUnixUTC != 0 {
		test.Fatalf("expected non-expiring codes, got expiry %d", codes[0].ExpiresAtUnixUTC)
	}
}

func TestGenerateRejectsZeroCount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)

	_, err := manager.Generate(context.Background(), inviteAppID, 0, 30, 1, operatorID)
	if !errors.Is(err, ErrInvalidBatchCount) {
		test.Fatalf("expected ErrInvalidBatchCount, got %v", err)
	}
}

func TestRedeemGrantsOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 1)

	redemption, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser)
	if err != nil {
		test.Fatalf("redeem: %v", err)
	}
	if redemption.CodeID != code.ID {
		test.Fatalf("unexpected redemption: %+v", redemption)
	}
	record := store.codesByID[code.ID]
	if record.UsedCount != 1 {
		test.Fatalf("expected used_count 1, got %d", record.UsedCount)
	}
}

func TestRedeemExhaustedCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 1)

	if _, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser); err != nil {
		test.Fatalf("first redeem: %v", err)
	}
	_, err := manager.Redeem(context.Background(), inviteAppID, code.Code, "ext-other")
	if !errors.Is(err, ErrCodeExhausted) {
		test.Fatalf("expected ErrCodeExhausted, got %v", err)
	}
	if store.codesByID[code.ID].UsedCount != 1 {
		test.Fatalf("failed redeem mutated used_count: %d", store.codesByID[code.ID].UsedCount)
	}
}

func TestRedeemTwiceBySameUser(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 5)

	if _, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser); err != nil {
		test.Fatalf("first redeem: %v", err)
	}
	_, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser)
	if !errors.Is(err, ErrAlreadyRedeemed) {
		test.Fatalf("expected ErrAlreadyRedeemed, got %v", err)
	}
	if store.codesByID[code.ID].UsedCount != 1 {
		test.Fatalf("repeat redeem mutated used_count: %d", store.codesByID[code.ID].UsedCount)
	}
}

func TestRedeemExpiredCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 5)

	expired := store.codesByID[code.ID]
	expired.ExpiresAtUnixUTC = fixedNowUnixUTC - 1
	store.codesByID[code.ID] = expired
	store.codes[codeMapKey(inviteAppID, code.Code)] = expired

	_, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser)
	if !errors.Is(err, ErrCodeExpired) {
		test.Fatalf("expected ErrCodeExpired, got %v", err)
	}
}

func TestRedeemExpiryBoundaryIsExclusive(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 5)

	atBoundary := store.codesByID[code.ID]
	atBoundary.ExpiresAtUnixUTC = fixedNowUnixUTC
	store.codesByID[code.ID] = atBoundary
	store.codes[codeMapKey(inviteAppID, code.Code)] = atBoundary

	_, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser)
	if !errors.Is(err, ErrCodeExpired) {
		test.Fatalf("expected ErrCodeExpired at exact expiry, got %v", err)
	}
}

func TestRedeemUnknownCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)

	_, err := manager.Redeem(context.Background(), inviteAppID, "NOPE1234", redeemingUser)
	if !errors.Is(err, ErrCodeNotFound) {
		test.Fatalf("expected ErrCodeNotFound, got %v", err)
	}
}

func TestRedeemCodeScopedToApp(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 1)

	_, err := manager.Redeem(context.Background(), "app-other", code.Code, redeemingUser)
	if !errors.Is(err, ErrCodeNotFound) {
		test.Fatalf("expected ErrCodeNotFound for foreign app, got %v", err)
	}
}

func TestRedeemDisabledCode(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 1)

	disabled := store.codesByID[code.ID]
	disabled.Status = InviteStatusDisabled
	store.codesByID[code.ID] = disabled
	store.codes[codeMapKey(inviteAppID, code.Code)] = disabled

	_, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser)
	if !errors.Is(err, ErrCodeNotFound) {
		test.Fatalf("expected ErrCodeNotFound for disabled code, got %v", err)
	}
}

func TestRedeemFailureLeavesNoRedemptionRow(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	manager := mustInviteManager(test, store)
	code := generateOne(test, manager, 30, 1)

	expired := store.codesByID[code.ID]
	expired.ExpiresAtUnixUTC = fixedNowUnixUTC - 1
	store.codesByID[code.ID] = expired
	store.codes[codeMapKey(inviteAppID, code.Code)] = expired

	if _, err := manager.Redeem(context.Background(), inviteAppID, code.Code, redeemingUser); err == nil {
		test.Fatalf("expected redeem failure")
	}
	if len(store.redemptions) != 0 {
		test.Fatalf("failed redeem left %d redemption rows", len(store.redemptions))
	}
}

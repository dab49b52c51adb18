package platform

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/voicereflect/platform/pkg/signing"
)

// AuthGate establishes that a caller is a known, active app and, when the
// route policy requires it, that the request body is authentic and fresh.
// Verification is read-only: one identity lookup, no locks, no side
// effects.
type AuthGate struct {
	apps  AppLookup
	nowFn func() int64
}

// NewAuthGate wires an AuthGate over an app lookup.
func NewAuthGate(apps AppLookup, now func() int64) (*AuthGate, error) {
	if apps == nil {
		return nil, fmt.Errorf("%w: app lookup dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &AuthGate{apps: apps, nowFn: now}, nil
}

// Verify authenticates an inbound request. rawBody must be the exact bytes
// the caller signed; the transport layer is responsible for copying the
// body so downstream handlers can still read it.
func (gate *AuthGate) Verify(ctx context.Context, header http.Header, rawBody []byte, policy VerifyPolicy) (AppContext, error) {
	return gate.verify(ctx, CredentialsFromHeader(header), rawBody, policy)
}

func (gate *AuthGate) verify(ctx context.Context, credentials RequestCredentials, rawBody []byte, policy VerifyPolicy) (AppContext, error) {
	if credentials.AppKey == "" {
		return AppContext{}, ErrMissingIdentity
	}
	app, err := gate.apps.GetAppByKey(ctx, credentials.AppKey)
	if err != nil {
		return AppContext{}, err
	}
	if app.Status != AppStatusActive {
		return AppContext{}, ErrInactiveApp
	}

	// Signatures are verified whenever one is supplied, even on routes that
	// only require identity.
	signaturePresent := credentials.Signature != "" || credentials.Timestamp != ""
	if !policy.RequireSignature && !signaturePresent {
		return AppContext{AppID: app.ID, AppKey: app.Key}, nil
	}
	if credentials.Timestamp == "" || credentials.Signature == "" {
		return AppContext{}, ErrMissingSignature
	}
	if err := gate.checkFreshness(credentials.Timestamp); err != nil {
		return AppContext{}, err
	}
	// A missing secret is a provisioning fault on our side. It must fail
	// closed, never skip verification.
	if app.Secret == "" {
		return AppContext{}, ErrSecretNotProvisioned
	}
	if !signing.Verify([]byte(app.Secret), rawBody, credentials.Timestamp, credentials.Signature) {
		return AppContext{}, ErrInvalidSignature
	}
	return AppContext{AppID: app.ID, AppKey: app.Key}, nil
}

func (gate *AuthGate) checkFreshness(timestamp string) error {
	issued, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrExpiredRequest
	}
	skew := gate.nowFn() - issued
	if skew < 0 {
		skew = -skew
	}
	if skew >= int64(FreshnessWindow.Seconds()) {
		return ErrExpiredRequest
	}
	return nil
}

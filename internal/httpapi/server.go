// Package httpapi exposes the platform over HTTP: a client API for
// registered apps and their end users, and an admin API for operators.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/voicereflect/platform/internal/identity"
	"github.com/voicereflect/platform/pkg/platform"
)

const appContextKey = "app_context"

// Services bundles the domain services the HTTP layer fronts.
type Services struct {
	Gate     *platform.AuthGate
	Apps     *platform.AppDirectory
	Ledger   *platform.WalletLedger
	Invites  *platform.InviteCodeManager
	Resolver *identity.Resolver
}

// Run boots the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, services Services) error {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return err
	}

	handler := &httpHandler{
		logger:   logger,
		services: services,
		cfg:      cfg,
	}
	router := setupRouter(cfg, handler, validator)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("platform api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization", platform.HeaderAppKey, platform.HeaderTimestamp, platform.HeaderSignature},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	identified := api.Group("")
	identified.Use(handler.appAuth(platform.VerifyPolicy{RequireSignature: false}))
	identified.GET("/wallet", handler.handleWalletBalance)
	identified.POST("/wallet/transactions", handler.handleWalletTransactions)

	signed := api.Group("")
	signed.Use(handler.appAuth(platform.VerifyPolicy{RequireSignature: true}))
	signed.POST("/wallet/adjust", handler.handleWalletAdjust)
	signed.POST("/invite/redeem", handler.handleInviteRedeem)

	admin := router.Group("/admin")
	admin.Use(validator.GinMiddleware("auth_claims"))
	admin.POST("/apps", handler.handleAppCreate)
	admin.GET("/apps", handler.handleAppList)
	admin.POST("/apps/rotate", handler.handleAppRotate)
	admin.POST("/apps/status", handler.handleAppStatus)
	admin.POST("/invites", handler.handleInviteGenerate)
	admin.GET("/invites", handler.handleInviteList)
	admin.POST("/wallets/adjust", handler.handleAdminAdjust)

	return router
}

// appAuth verifies the caller's app credentials before the handler runs.
// The body is consumed for signature verification and restored so binding
// still works downstream.
func (handler *httpHandler) appAuth(policy platform.VerifyPolicy) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rawBody, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			respondError(ctx, http.StatusBadRequest, "invalid_body", "request body unreadable")
			ctx.Abort()
			return
		}
		ctx.Request.Body = io.NopCloser(bytes.NewReader(rawBody))

		appCtx, err := handler.services.Gate.Verify(ctx.Request.Context(), ctx.Request.Header, rawBody, policy)
		if err != nil {
			status, code := authFailureStatus(err)
			handler.logger.Warn("app auth rejected",
				zap.String("path", ctx.FullPath()),
				zap.String("code", code),
				zap.Error(err))
			respondError(ctx, status, code, "authentication failed")
			ctx.Abort()
			return
		}
		ctx.Set(appContextKey, appCtx)
		ctx.Next()
	}
}

func authFailureStatus(err error) (int, string) {
	switch {
	case errors.Is(err, platform.ErrMissingIdentity):
		return http.StatusUnauthorized, "missing_identity"
	case errors.Is(err, platform.ErrUnknownApp):
		return http.StatusUnauthorized, "unknown_app"
	case errors.Is(err, platform.ErrInactiveApp):
		return http.StatusForbidden, "app_inactive"
	case errors.Is(err, platform.ErrMissingSignature):
		return http.StatusUnauthorized, "missing_signature"
	case errors.Is(err, platform.ErrExpiredRequest):
		return http.StatusUnauthorized, "expired_request"
	case errors.Is(err, platform.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, platform.ErrSecretNotProvisioned):
		return http.StatusUnauthorized, "secret_not_provisioned"
	}
	return http.StatusInternalServerError, "internal_error"
}

func appContextFrom(ctx *gin.Context) (platform.AppContext, bool) {
	value, ok := ctx.Get(appContextKey)
	if !ok {
		return platform.AppContext{}, false
	}
	appCtx, ok := value.(platform.AppContext)
	return appCtx, ok
}

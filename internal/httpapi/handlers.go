package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/voicereflect/platform/pkg/platform"
)

type httpHandler struct {
	logger   *zap.Logger
	services Services
	cfg      Config
}

func respondOK(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(ctx *gin.Context, status int, code string, message string) {
	ctx.JSON(status, gin.H{"success": false, "code": code, "message": message})
}

func (handler *httpHandler) respondDomainError(ctx *gin.Context, err error) {
	status, code := domainFailureStatus(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	respondError(ctx, status, code, err.Error())
}

func domainFailureStatus(err error) (int, string) {
	switch {
	case errors.Is(err, platform.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, platform.ErrInvalidTransactionType):
		return http.StatusBadRequest, "invalid_transaction_type"
	case errors.Is(err, platform.ErrInvalidBatchCount):
		return http.StatusBadRequest, "invalid_batch_count"
	case errors.Is(err, platform.ErrInvalidAppStatus):
		return http.StatusBadRequest, "invalid_app_status"
	case errors.Is(err, platform.ErrInsufficientFunds):
		return http.StatusBadRequest, "insufficient_funds"
	case errors.Is(err, platform.ErrDuplicateAdjustment):
		return http.StatusConflict, "duplicate_adjustment"
	case errors.Is(err, platform.ErrUnknownApp):
		return http.StatusNotFound, "unknown_app"
	case errors.Is(err, platform.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, platform.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, platform.ErrCodeNotFound):
		return http.StatusNotFound, "code_not_found"
	case errors.Is(err, platform.ErrCodeExpired):
		return http.StatusBadRequest, "code_expired"
	case errors.Is(err, platform.ErrCodeExhausted):
		return http.StatusConflict, "code_exhausted"
	case errors.Is(err, platform.ErrAlreadyRedeemed):
		return http.StatusConflict, "already_redeemed"
	case errors.Is(err, platform.ErrStoreConflict):
		return http.StatusServiceUnavailable, "store_conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) resolveBearerUser(ctx *gin.Context) (string, bool) {
	externalUserID, err := handler.services.Resolver.Resolve(ctx.GetHeader("Authorization"))
	if err != nil {
		respondError(ctx, http.StatusUnauthorized, "invalid_user_token", "user credential rejected")
		return "", false
	}
	return externalUserID, true
}

type walletPayload struct {
	WalletID       string `json:"wallet_id"`
	Balance        int64  `json:"balance"`
	Currency       string `json:"currency"`
	UpdatedUnixUTC int64  `json:"updated_unix_utc"`
}

func walletToPayload(wallet platform.Wallet) walletPayload {
	return walletPayload{
		WalletID:       wallet.ID,
		Balance:        wallet.Balance,
		Currency:       wallet.Currency,
		UpdatedUnixUTC: wallet.UpdatedUnixUTC,
	}
}

func (handler *httpHandler) handleWalletBalance(ctx *gin.Context) {
	appCtx, ok := appContextFrom(ctx)
	if !ok {
		respondError(ctx, http.StatusUnauthorized, "missing_identity", "app context missing")
		return
	}
	externalUserID, ok := handler.resolveBearerUser(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	wallet, err := handler.services.Ledger.Balance(requestCtx, appCtx.AppID, externalUserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	respondOK(ctx, gin.H{"wallet": walletToPayload(wallet)})
}

type historyRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type transactionPayload struct {
	TransactionID  string `json:"transaction_id"`
	Delta          int64  `json:"amount"`
	BalanceAfter   int64  `json:"balance_after"`
	Type           string `json:"type"`
	Description    string `json:"description,omitempty"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func (handler *httpHandler) handleWalletTransactions(ctx *gin.Context) {
	appCtx, ok := appContextFrom(ctx)
	if !ok {
		respondError(ctx, http.StatusUnauthorized, "missing_identity", "app context missing")
		return
	}
	externalUserID, ok := handler.resolveBearerUser(ctx)
	if !ok {
		return
	}
	request := historyRequest{Page: 1, Limit: defaultHistoryPageSize}
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&request); err != nil {
			respondError(ctx, http.StatusBadRequest, "invalid_payload", "expected JSON body")
			return
		}
	}
	if request.Page < 1 {
		request.Page = 1
	}
	if request.Limit < 1 || request.Limit > maxHistoryPageSize {
		request.Limit = defaultHistoryPageSize
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transactions, err := handler.services.Ledger.Transactions(requestCtx, appCtx.AppID, externalUserID, request.Page, request.Limit)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payload = append(payload, transactionPayload{
			TransactionID:  transaction.ID,
			Delta:          transaction.Delta,
			BalanceAfter:   transaction.BalanceAfter,
			Type:           transaction.Type.String(),
			Description:    transaction.Description,
			CreatedUnixUTC: transaction.CreatedUnixUTC,
		})
	}
	respondOK(ctx, gin.H{
		"transactions": payload,
		"page":         request.Page,
		"limit":        request.Limit,
	})
}

type adjustRequest struct {
	ExternalUserID string         `json:"external_user_id"`
	Amount         int64          `json:"amount"`
	Type           string         `json:"type"`
	Description    string         `json:"description"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata"`
}

func (handler *httpHandler) handleWalletAdjust(ctx *gin.Context) {
	appCtx, ok := appContextFrom(ctx)
	if !ok {
		respondError(ctx, http.StatusUnauthorized, "missing_identity", "app context missing")
		return
	}
	var request adjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "expected JSON body")
		return
	}
	if request.ExternalUserID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "external_user_id is required")
		return
	}
	transactionType, err := platform.ParseTransactionType(request.Type)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	adjustment, err := handler.services.Ledger.AdjustForUser(requestCtx, appCtx.AppID, request.ExternalUserID, platform.AdjustInput{
		Delta:          request.Amount,
		Type:           transactionType,
		Description:    request.Description,
		IdempotencyKey: request.IdempotencyKey,
		MetadataJSON:   marshalMetadata(request.Metadata),
	})
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	respondOK(ctx, gin.H{
		"wallet_id":      adjustment.WalletID,
		"transaction_id": adjustment.TransactionID,
		"balance":        adjustment.NewBalance,
	})
}

type redeemRequest struct {
	Code           string `json:"code"`
	ExternalUserID string `json:"external_user_id"`
}

func (handler *httpHandler) handleInviteRedeem(ctx *gin.Context) {
	appCtx, ok := appContextFrom(ctx)
	if !ok {
		respondError(ctx, http.StatusUnauthorized, "missing_identity", "app context missing")
		return
	}
	var request redeemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "expected JSON body")
		return
	}
	if request.Code == "" || request.ExternalUserID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "code and external_user_id are required")
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	redemption, err := handler.services.Invites.Redeem(requestCtx, appCtx.AppID, request.Code, request.ExternalUserID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	respondOK(ctx, gin.H{
		"code_id":           redemption.CodeID,
		"user_id":           redemption.UserID,
		"redeemed_unix_utc": redemption.CreatedUnixUTC,
	})
}

type appCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type appPayload struct {
	AppID          string `json:"app_id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	AppKey         string `json:"app_key"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func appToPayload(app platform.App) appPayload {
	return appPayload{
		AppID:          app.ID,
		Name:           app.Name,
		Description:    app.Description,
		AppKey:         app.Key,
		Status:         app.Status.String(),
		CreatedUnixUTC: app.CreatedUnixUTC,
	}
}

func (handler *httpHandler) handleAppCreate(ctx *gin.Context) {
	var request appCreateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "expected JSON body")
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	app, err := handler.services.Apps.CreateApp(requestCtx, request.Name, request.Description)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	// The secret is disclosed in this response only; it is never listed
	// again.
	respondOK(ctx, gin.H{
		"app":        appToPayload(app),
		"app_secret": app.Secret,
	})
}

func (handler *httpHandler) handleAppList(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	apps, err := handler.services.Apps.ListApps(requestCtx)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]appPayload, 0, len(apps))
	for _, app := range apps {
		payload = append(payload, appToPayload(app))
	}
	respondOK(ctx, gin.H{"apps": payload})
}

type appRotateRequest struct {
	AppID string `json:"app_id"`
}

func (handler *httpHandler) handleAppRotate(ctx *gin.Context) {
	var request appRotateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.AppID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "app_id is required")
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	secret, err := handler.services.Apps.RotateSecret(requestCtx, request.AppID)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	respondOK(ctx, gin.H{"app_id": request.AppID, "app_secret": secret})
}

type appStatusRequest struct {
	AppID  string `json:"app_id"`
	Status string `json:"status"`
}

func (handler *httpHandler) handleAppStatus(ctx *gin.Context) {
	var request appStatusRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.AppID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "app_id is required")
		return
	}
	status, err := platform.ParseAppStatus(request.Status)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.services.Apps.SetStatus(requestCtx, request.AppID, status); err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	respondOK(ctx, gin.H{"app_id": request.AppID, "status": status.String()})
}

type inviteGenerateRequest struct {
	AppID     string `json:"app_id"`
	Count     int    `json:"count"`
	ValidDays int    `json:"valid_days"`
	MaxUsage  int    `json:"max_usage"`
}

type invitePayload struct {
	CodeID           string `json:"code_id"`
	Code             string `json:"code"`
	AppID            string `json:"app_id"`
	MaxUsage         int    `json:"max_usage"`
	UsedCount        int    `json:"used_count"`
	ExpiresAtUnixUTC int64  `json:"expires_at_unix_utc,omitempty"`
	Status           string `json:"status"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
}

func inviteToPayload(code platform.InviteCode) invitePayload {
	return invitePayload{
		CodeID:           code.ID,
		Code:             code.Code,
		AppID:            code.AppID,
		MaxUsage:         code.MaxUsage,
		UsedCount:        code.UsedCount,
		ExpiresAtUnixUTC: code.ExpiresAtUnixUTC,
		Status:           code.Status.String(),
		CreatedUnixUTC:   code.CreatedUnixUTC,
	}
}

func (handler *httpHandler) handleInviteGenerate(ctx *gin.Context) {
	var request inviteGenerateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.AppID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "app_id is required")
		return
	}
	createdBy := ""
	if claims := sessionClaims(ctx); claims != nil {
		createdBy = claims.GetUserID()
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	codes, err := handler.services.Invites.Generate(requestCtx, request.AppID, request.Count, request.ValidDays, request.MaxUsage, createdBy)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]invitePayload, 0, len(codes))
	for _, code := range codes {
		payload = append(payload, inviteToPayload(code))
	}
	respondOK(ctx, gin.H{"codes": payload})
}

func (handler *httpHandler) handleInviteList(ctx *gin.Context) {
	appID := ctx.Query("app_id")
	if appID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "app_id is required")
		return
	}
	page := queryInt(ctx, "page", 1)
	limit := queryInt(ctx, "limit", defaultHistoryPageSize)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	codes, err := handler.services.Invites.ListCodes(requestCtx, appID, page, limit)
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	payload := make([]invitePayload, 0, len(codes))
	for _, code := range codes {
		payload = append(payload, inviteToPayload(code))
	}
	respondOK(ctx, gin.H{"codes": payload, "page": page, "limit": limit})
}

type adminAdjustRequest struct {
	AppID          string `json:"app_id"`
	ExternalUserID string `json:"external_user_id"`
	Amount         int64  `json:"amount"`
	Description    string `json:"description"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (handler *httpHandler) handleAdminAdjust(ctx *gin.Context) {
	var request adminAdjustRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.AppID == "" || request.ExternalUserID == "" {
		respondError(ctx, http.StatusBadRequest, "invalid_payload", "app_id and external_user_id are required")
		return
	}
	operatorRef := ""
	if claims := sessionClaims(ctx); claims != nil {
		operatorRef = claims.GetUserID()
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	adjustment, err := handler.services.Ledger.AdjustForUser(requestCtx, request.AppID, request.ExternalUserID, platform.AdjustInput{
		Delta:          request.Amount,
		Type:           platform.TransactionAdminAdjustment,
		Description:    request.Description,
		OperatorRef:    operatorRef,
		IdempotencyKey: request.IdempotencyKey,
	})
	if err != nil {
		handler.respondDomainError(ctx, err)
		return
	}
	respondOK(ctx, gin.H{
		"wallet_id":      adjustment.WalletID,
		"transaction_id": adjustment.TransactionID,
		"balance":        adjustment.NewBalance,
	})
}

func sessionClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get("auth_claims")
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func queryInt(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func marshalMetadata(metadata map[string]any) string {
	if metadata == nil {
		return ""
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(raw)
}

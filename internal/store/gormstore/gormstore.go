package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/voicereflect/platform/pkg/platform"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode   = "23505"
	pgSerializationFailure  = "40001"
	pgDeadlockDetected      = "40P01"
	sqliteConstraintCode    = 19
	sqliteBusyCode          = 5
	defaultMetadataJSON     = "{}"
	errorOperationStore     = "store"
	errorSubjectApp         = "app"
	errorSubjectUser        = "user"
	errorSubjectWallet      = "wallet"
	errorSubjectTransaction = "transaction"
	errorSubjectCode        = "code"
	errorSubjectRedemption  = "redemption"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"
)

// Store implements platform.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore platform.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateApp(ctx context.Context, app platform.App) error {
	model := PlatformApp{
		ID:            app.ID,
		Name:          app.Name,
		Description:   app.Description,
		AppKey:        app.Key,
		AppSecret:     app.Secret,
		AppSecretHash: app.SecretHash,
		WebhookURL:    app.WebhookURL,
		Status:        app.Status.String(),
		CreatedAt:     time.Unix(app.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:     time.Unix(app.UpdatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectApp, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectApp, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAppByKey(ctx context.Context, key string) (platform.App, error) {
	var model PlatformApp
	err := store.db.WithContext(ctx).Where("app_key = ?", key).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return platform.App{}, platform.ErrUnknownApp
	}
	if err != nil {
		return platform.App{}, wrapStoreError(errorSubjectApp, errorCodeLookup, err)
	}
	return mapApp(model), nil
}

func (store *Store) GetAppByID(ctx context.Context, appID string) (platform.App, error) {
	var model PlatformApp
	err := store.db.WithContext(ctx).Where("id = ?", appID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return platform.App{}, platform.ErrUnknownApp
	}
	if err != nil {
		return platform.App{}, wrapStoreError(errorSubjectApp, errorCodeGet, err)
	}
	return mapApp(model), nil
}

func (store *Store) UpdateAppSecret(ctx context.Context, appID string, secret string, secretHash string, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&PlatformApp{}).
		Where("id = ?", appID).
		Updates(map[string]interface{}{
			"app_secret":      secret,
			"app_secret_hash": secretHash,
			"updated_at":      time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectApp, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return platform.ErrUnknownApp
	}
	return nil
}

func (store *Store) UpdateAppStatus(ctx context.Context, appID string, status platform.AppStatus, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&PlatformApp{}).
		Where("id = ?", appID).
		Updates(map[string]interface{}{
			"status":     status.String(),
			"updated_at": time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectApp, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return platform.ErrUnknownApp
	}
	return nil
}

func (store *Store) ListApps(ctx context.Context) ([]platform.App, error) {
	var models []PlatformApp
	err := store.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectApp, errorCodeList, err)
	}
	apps := make([]platform.App, 0, len(models))
	for _, model := range models {
		apps = append(apps, mapApp(model))
	}
	return apps, nil
}

func (store *Store) GetOrCreateUserID(ctx context.Context, appID string, externalUserID string) (string, error) {
	var user PlatformUser
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "app_id"}, {Name: "external_user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"app_id":           clause.Expr{SQL: "excluded.app_id"},
				"external_user_id": clause.Expr{SQL: "excluded.external_user_id"},
			}),
		}).
		FirstOrCreate(&user, PlatformUser{AppID: appID, ExternalUserID: externalUserID}).Error
	if err != nil {
		return "", wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return user.ID, nil
}

func (store *Store) FindUserID(ctx context.Context, appID string, externalUserID string) (string, error) {
	var user PlatformUser
	err := store.db.WithContext(ctx).
		Where("app_id = ? AND external_user_id = ?", appID, externalUserID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", platform.ErrUserNotFound
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return user.ID, nil
}

func (store *Store) GetWalletByUser(ctx context.Context, userID string) (platform.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return platform.Wallet{}, platform.ErrWalletNotFound
	}
	if err != nil {
		return platform.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(model), nil
}

func (store *Store) GetOrCreateWalletForUpdate(ctx context.Context, userID string, currency string) (platform.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now().UTC()
		model = Wallet{UserID: userID, Currency: currency, CreatedAt: now, UpdatedAt: now}
		createErr := store.db.WithContext(ctx).Create(&model).Error
		if isUniqueViolation(createErr) {
			// Another transaction created the wallet first; surface a
			// conflict so the caller retries and takes the lock path.
			return platform.Wallet{}, platform.ErrStoreConflict
		}
		if createErr != nil {
			return platform.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeCreate, createErr)
		}
		return mapWallet(model), nil
	}
	if err != nil {
		if isSerializationFailure(err) {
			return platform.Wallet{}, platform.ErrStoreConflict
		}
		return platform.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(model), nil
}

func (store *Store) GetWalletForUpdate(ctx context.Context, walletID string) (platform.Wallet, error) {
	var model Wallet
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", walletID).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return platform.Wallet{}, platform.ErrWalletNotFound
	}
	if err != nil {
		if isSerializationFailure(err) {
			return platform.Wallet{}, platform.ErrStoreConflict
		}
		return platform.Wallet{}, wrapStoreError(errorSubjectWallet, errorCodeGet, err)
	}
	return mapWallet(model), nil
}

func (store *Store) UpdateWalletBalance(ctx context.Context, walletID string, balance int64, updatedUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Unix(updatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		if isSerializationFailure(result.Error) {
			return platform.ErrStoreConflict
		}
		return wrapStoreError(errorSubjectWallet, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return platform.ErrWalletNotFound
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction platform.WalletTransaction) (string, error) {
	var idempotencyKey *string
	if transaction.IdempotencyKey != "" {
		value := transaction.IdempotencyKey
		idempotencyKey = &value
	}
	model := WalletTransaction{
		ID:             transaction.ID,
		WalletID:       transaction.WalletID,
		Delta:          transaction.Delta,
		BalanceAfter:   transaction.BalanceAfter,
		Type:           transaction.Type.String(),
		Description:    transaction.Description,
		OperatorRef:    transaction.OperatorRef,
		IdempotencyKey: idempotencyKey,
		Metadata:       datatypesJSON(transaction.MetadataJSON),
		CreatedAt:      time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return "", platform.ErrDuplicateAdjustment
	}
	if isSerializationFailure(err) {
		return "", platform.ErrStoreConflict
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return model.ID, nil
}

func (store *Store) ListTransactions(ctx context.Context, walletID string, offset int, limit int) ([]platform.WalletTransaction, error) {
	var models []WalletTransaction
	err := store.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]platform.WalletTransaction, 0, len(models))
	for _, model := range models {
		transactions = append(transactions, mapTransaction(model))
	}
	return transactions, nil
}

func (store *Store) CreateInviteCodes(ctx context.Context, codes []platform.InviteCode) error {
	models := make([]InviteCode, 0, len(codes))
	for _, code := range codes {
		var expiresAt *time.Time
		if code.ExpiresAtUnixUTC != 0 {
			value := time.Unix(code.ExpiresAtUnixUTC, 0).UTC()
			expiresAt = &value
		}
		models = append(models, InviteCode{
			ID:        code.ID,
			Code:      code.Code,
			AppID:     code.AppID,
			MaxUsage:  code.MaxUsage,
			UsedCount: code.UsedCount,
			ValidDays: code.ValidDays,
			ExpiresAt: expiresAt,
			Status:    code.Status.String(),
			CreatedBy: code.CreatedBy,
			CreatedAt: time.Unix(code.CreatedUnixUTC, 0).UTC(),
		})
	}
	err := store.db.WithContext(ctx).Create(&models).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectCode, errorCodeDuplicate, err)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCode, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetInviteCodeForUpdate(ctx context.Context, appID string, code string) (platform.InviteCode, error) {
	var model InviteCode
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("app_id = ? AND code = ?", appID, code).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return platform.InviteCode{}, platform.ErrCodeNotFound
	}
	if err != nil {
		if isSerializationFailure(err) {
			return platform.InviteCode{}, platform.ErrStoreConflict
		}
		return platform.InviteCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, err)
	}
	return mapInviteCode(model), nil
}

func (store *Store) IncrementInviteUsage(ctx context.Context, codeID string) error {
	result := store.db.WithContext(ctx).
		Model(&InviteCode{}).
		Where("id = ?", codeID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return platform.ErrCodeNotFound
	}
	return nil
}

func (store *Store) HasRedemption(ctx context.Context, codeID string, userID string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&InviteRedemption{}).
		Where("code_id = ? AND user_id = ?", codeID, userID).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectRedemption, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) InsertRedemption(ctx context.Context, redemption platform.Redemption) error {
	model := InviteRedemption{
		CodeID:    redemption.CodeID,
		UserID:    redemption.UserID,
		Metadata:  datatypesJSON(redemption.MetadataJSON),
		CreatedAt: time.Unix(redemption.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return platform.ErrAlreadyRedeemed
	}
	if err != nil {
		return wrapStoreError(errorSubjectRedemption, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListInviteCodes(ctx context.Context, appID string, offset int, limit int) ([]platform.InviteCode, error) {
	var models []InviteCode
	err := store.db.WithContext(ctx).
		Where("app_id = ?", appID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCode, errorCodeList, err)
	}
	codes := make([]platform.InviteCode, 0, len(models))
	for _, model := range models {
		codes = append(codes, mapInviteCode(model))
	}
	return codes, nil
}

func mapApp(model PlatformApp) platform.App {
	status, err := platform.ParseAppStatus(model.Status)
	if err != nil {
		status = platform.AppStatusSuspended
	}
	return platform.App{
		ID:             model.ID,
		Name:           model.Name,
		Description:    model.Description,
		Key:            model.AppKey,
		Secret:         model.AppSecret,
		SecretHash:     model.AppSecretHash,
		WebhookURL:     model.WebhookURL,
		Status:         status,
		CreatedUnixUTC: model.CreatedAt.Unix(),
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}
}

func mapWallet(model Wallet) platform.Wallet {
	return platform.Wallet{
		ID:             model.ID,
		UserID:         model.UserID,
		Balance:        model.Balance,
		Currency:       model.Currency,
		UpdatedUnixUTC: model.UpdatedAt.Unix(),
	}
}

func mapTransaction(model WalletTransaction) platform.WalletTransaction {
	idempotencyKey := ""
	if model.IdempotencyKey != nil {
		idempotencyKey = *model.IdempotencyKey
	}
	transactionType, err := platform.ParseTransactionType(model.Type)
	if err != nil {
		transactionType = platform.TransactionAdminAdjustment
	}
	return platform.WalletTransaction{
		ID:             model.ID,
		WalletID:       model.WalletID,
		Delta:          model.Delta,
		BalanceAfter:   model.BalanceAfter,
		Type:           transactionType,
		Description:    model.Description,
		OperatorRef:    model.OperatorRef,
		IdempotencyKey: idempotencyKey,
		MetadataJSON:   string(model.Metadata),
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}
}

func mapInviteCode(model InviteCode) platform.InviteCode {
	var expiresAt int64
	if model.ExpiresAt != nil {
		expiresAt = model.ExpiresAt.Unix()
	}
	status := platform.InviteStatusActive
	if model.Status != platform.InviteStatusActive.String() {
		status = platform.InviteStatusDisabled
	}
	return platform.InviteCode{
		ID:               model.ID,
		Code:             model.Code,
		AppID:            model.AppID,
		MaxUsage:         model.MaxUsage,
		UsedCount:        model.UsedCount,
		ValidDays:        model.ValidDays,
		ExpiresAtUnixUTC: expiresAt,
		Status:           status,
		CreatedBy:        model.CreatedBy,
		CreatedUnixUTC:   model.CreatedAt.Unix(),
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return platform.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteBusyCode
	}
	return false
}

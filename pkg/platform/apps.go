package platform

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const secretEntropyBytes = 24

// AppDirectory manages registered app identities: creation, secret
// rotation, and status changes. Apps are never deleted, only suspended.
type AppDirectory struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// AppDirectoryOption configures an AppDirectory.
type AppDirectoryOption func(*AppDirectory)

// WithDirectoryLogger wires an operation logger.
func WithDirectoryLogger(logger OperationLogger) AppDirectoryOption {
	return func(directory *AppDirectory) {
		directory.logger = logger
	}
}

// NewAppDirectory wires an AppDirectory.
func NewAppDirectory(store Store, now func() int64, options ...AppDirectoryOption) (*AppDirectory, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	directory := &AppDirectory{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(directory)
		}
	}
	return directory, nil
}

// CreateApp registers a new app in active status. The returned record is
// the only place the plaintext secret is ever disclosed for this identity.
func (directory *AppDirectory) CreateApp(ctx context.Context, name string, description string) (App, error) {
	if strings.TrimSpace(name) == "" {
		return App{}, WrapError(operationCreate, "app", "missing_name", ErrInvalidServiceConfig)
	}
	secret, err := newAppSecret()
	if err != nil {
		return App{}, WrapError(operationCreate, "app", "secret_gen", err)
	}
	now := directory.nowFn()
	app := App{
		ID:             uuid.NewString(),
		Name:           strings.TrimSpace(name),
		Description:    description,
		Key:            newAppKey(),
		Secret:         secret,
		SecretHash:     hashSecret(secret),
		Status:         AppStatusActive,
		CreatedUnixUTC: now,
		UpdatedUnixUTC: now,
	}
	operationError := directory.store.CreateApp(ctx, app)
	logOperation(ctx, directory.logger, OperationLog{
		Operation: operationCreate,
		AppID:     app.ID,
		Error:     operationError,
	})
	if operationError != nil {
		return App{}, operationError
	}
	return app, nil
}

// RotateSecret issues a new secret and invalidates the old one in the same
// write. Requests signed with the previous secret fail from this point on.
func (directory *AppDirectory) RotateSecret(ctx context.Context, appID string) (string, error) {
	secret, err := newAppSecret()
	if err != nil {
		return "", WrapError(operationRotate, "app", "secret_gen", err)
	}
	operationError := directory.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetAppByID(ctx, appID); err != nil {
			return err
		}
		return txStore.UpdateAppSecret(ctx, appID, secret, hashSecret(secret), directory.nowFn())
	})
	logOperation(ctx, directory.logger, OperationLog{
		Operation: operationRotate,
		AppID:     appID,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return secret, nil
}

// SetStatus moves an app between active, suspended, and development.
func (directory *AppDirectory) SetStatus(ctx context.Context, appID string, status AppStatus) error {
	if _, err := ParseAppStatus(status.String()); err != nil {
		return err
	}
	operationError := directory.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetAppByID(ctx, appID); err != nil {
			return err
		}
		return txStore.UpdateAppStatus(ctx, appID, status, directory.nowFn())
	})
	logOperation(ctx, directory.logger, OperationLog{
		Operation: operationStatus,
		AppID:     appID,
		Error:     operationError,
	})
	return operationError
}

// GetByKey looks up an app by its public key.
func (directory *AppDirectory) GetByKey(ctx context.Context, key string) (App, error) {
	return directory.store.GetAppByKey(ctx, key)
}

// ListApps returns all registered apps with secrets redacted.
func (directory *AppDirectory) ListApps(ctx context.Context) ([]App, error) {
	apps, err := directory.store.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	for index := range apps {
		apps[index].Secret = ""
	}
	return apps, nil
}

func newAppKey() string {
	return appKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newAppSecret() (string, error) {
	entropy := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(entropy); err != nil {
		return "", err
	}
	return appSecretPrefix + base64.RawURLEncoding.EncodeToString(entropy), nil
}

func hashSecret(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(digest[:])
}

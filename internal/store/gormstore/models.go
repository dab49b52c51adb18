package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlatformApp represents the platform_apps table.
type PlatformApp struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	Name          string `gorm:"not null"`
	Description   string
	AppKey        string `gorm:"uniqueIndex:uniq_apps_key;not null"`
	AppSecret     string
	AppSecretHash string
	WebhookURL    string
	Status        string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (PlatformApp) TableName() string { return "platform_apps" }

func (app *PlatformApp) BeforeCreate(tx *gorm.DB) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	return nil
}

// PlatformUser maps an app's external user id to a stable platform id.
type PlatformUser struct {
	ID             string    `gorm:"type:uuid;primaryKey"`
	AppID          string    `gorm:"not null;index:uniq_users_app_external,unique,priority:1"`
	ExternalUserID string    `gorm:"not null;index:uniq_users_app_external,unique,priority:2"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (PlatformUser) TableName() string { return "platform_users" }

func (user *PlatformUser) BeforeCreate(tx *gorm.DB) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return nil
}

// Wallet mirrors the platform_wallets table.
type Wallet struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:uniq_wallets_user"`
	Balance   int64     `gorm:"not null"`
	Currency  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Wallet) TableName() string { return "platform_wallets" }

func (wallet *Wallet) BeforeCreate(tx *gorm.DB) error {
	if wallet.ID == "" {
		wallet.ID = uuid.NewString()
	}
	return nil
}

// WalletTransaction mirrors the append-only platform_wallet_transactions
// table. IdempotencyKey is nullable so rows without a key do not collide on
// the unique (wallet_id, idempotency_key) index.
type WalletTransaction struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	WalletID       string `gorm:"type:uuid;not null;index:idx_wallet_txns_wallet_created,priority:1;index:uniq_wallet_txns_idem,unique,priority:1"`
	Delta          int64  `gorm:"not null"`
	BalanceAfter   int64  `gorm:"not null"`
	Type           string `gorm:"not null"`
	Description    string
	OperatorRef    string
	IdempotencyKey *string        `gorm:"index:uniq_wallet_txns_idem,unique,priority:2"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_wallet_txns_wallet_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "platform_wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	return nil
}

// InviteCode mirrors the platform_invite_codes table.
type InviteCode struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Code      string `gorm:"uniqueIndex:uniq_invite_codes_code;not null"`
	AppID     string `gorm:"type:uuid;not null;index:idx_invite_codes_app"`
	MaxUsage  int    `gorm:"not null"`
	UsedCount int    `gorm:"not null"`
	ValidDays int    `gorm:"not null"`
	ExpiresAt *time.Time
	Status    string `gorm:"not null"`
	CreatedBy string
	CreatedAt time.Time `gorm:"not null"`
}

func (InviteCode) TableName() string { return "platform_invite_codes" }

func (code *InviteCode) BeforeCreate(tx *gorm.DB) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	return nil
}

// InviteRedemption mirrors the platform_invite_redemptions table. The
// composite primary key enforces exactly-once redemption per user per code.
type InviteRedemption struct {
	CodeID    string         `gorm:"type:uuid;primaryKey"`
	UserID    string         `gorm:"type:uuid;primaryKey"`
	Metadata  datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"not null"`
}

func (InviteRedemption) TableName() string { return "platform_invite_redemptions" }

// Models lists every table for sqlite AutoMigrate.
func Models() []any {
	return []any{
		&PlatformApp{},
		&PlatformUser{},
		&Wallet{},
		&WalletTransaction{},
		&InviteCode{},
		&InviteRedemption{},
	}
}

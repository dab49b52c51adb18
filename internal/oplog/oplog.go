// Package oplog adapts zap to the platform operation logger.
package oplog

import (
	"context"

	"github.com/voicereflect/platform/pkg/platform"
	"go.uber.org/zap"
)

// Logger emits one structured log line per state-changing operation.
type Logger struct {
	base *zap.Logger
}

// New wraps a zap logger.
func New(base *zap.Logger) *Logger {
	return &Logger{base: base}
}

// LogOperation implements platform.OperationLogger.
func (logger *Logger) LogOperation(ctx context.Context, entry platform.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.AppID != "" {
		fields = append(fields, zap.String("app_id", entry.AppID))
	}
	if entry.UserID != "" {
		fields = append(fields, zap.String("user_id", entry.UserID))
	}
	if entry.WalletID != "" {
		fields = append(fields, zap.String("wallet_id", entry.WalletID))
	}
	if entry.Code != "" {
		fields = append(fields, zap.String("code", entry.Code))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount", entry.Amount))
	}
	if entry.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		logger.base.Warn("operation failed", fields...)
		return
	}
	logger.base.Info("operation completed", fields...)
}

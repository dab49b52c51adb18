package platform

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store used by the service tests. WithTx holds a
// transaction mutex for its whole callback, which gives the same
// serializability the SQL store provides with row locks, and restores a
// snapshot when the callback fails so aborted transactions leave no trace.
type stubStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	apps         map[string]App
	appsByID     map[string]App
	users        map[string]string
	wallets      map[string]Wallet
	walletByUser map[string]string
	transactions []WalletTransaction
	idemKeys     map[string]bool
	codes        map[string]InviteCode
	codesByID    map[string]InviteCode
	redemptions  map[string]Redemption
	nextID       int

	getAppError            error
	insertTransactionError error
	conflictsRemaining     int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		apps:         map[string]App{},
		appsByID:     map[string]App{},
		users:        map[string]string{},
		wallets:      map[string]Wallet{},
		walletByUser: map[string]string{},
		idemKeys:     map[string]bool{},
		codes:        map[string]InviteCode{},
		codesByID:    map[string]InviteCode{},
		redemptions:  map[string]Redemption{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	snapshot := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snapshot)
		return err
	}
	return nil
}

type stubSnapshot struct {
	apps         map[string]App
	appsByID     map[string]App
	users        map[string]string
	wallets      map[string]Wallet
	walletByUser map[string]string
	transactions []WalletTransaction
	idemKeys     map[string]bool
	codes        map[string]InviteCode
	codesByID    map[string]InviteCode
	redemptions  map[string]Redemption
	nextID       int
}

func (store *stubStore) snapshot() stubSnapshot {
	store.mu.Lock()
	defer store.mu.Unlock()
	return stubSnapshot{
		apps:         copyMap(store.apps),
		appsByID:     copyMap(store.appsByID),
		users:        copyMap(store.users),
		wallets:      copyMap(store.wallets),
		walletByUser: copyMap(store.walletByUser),
		transactions: append([]WalletTransaction(nil), store.transactions...),
		idemKeys:     copyMap(store.idemKeys),
		codes:        copyMap(store.codes),
		codesByID:    copyMap(store.codesByID),
		redemptions:  copyMap(store.redemptions),
		nextID:       store.nextID,
	}
}

func (store *stubStore) restore(snapshot stubSnapshot) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.apps = snapshot.apps
	store.appsByID = snapshot.appsByID
	store.users = snapshot.users
	store.wallets = snapshot.wallets
	store.walletByUser = snapshot.walletByUser
	store.transactions = snapshot.transactions
	store.idemKeys = snapshot.idemKeys
	store.codes = snapshot.codes
	store.codesByID = snapshot.codesByID
	store.redemptions = snapshot.redemptions
	store.nextID = snapshot.nextID
}

func copyMap[V any](source map[string]V) map[string]V {
	target := make(map[string]V, len(source))
	for key, value := range source {
		target[key] = value
	}
	return target
}

func (store *stubStore) CreateApp(_ context.Context, app App) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, exists := store.apps[app.Key]; exists {
		return fmt.Errorf("duplicate app key %q", app.Key)
	}
	store.apps[app.Key] = app
	store.appsByID[app.ID] = app
	return nil
}

func (store *stubStore) GetAppByKey(_ context.Context, key string) (App, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.getAppError != nil {
		return App{}, store.getAppError
	}
	app, exists := store.apps[key]
	if !exists {
		return App{}, ErrUnknownApp
	}
	return app, nil
}

func (store *stubStore) GetAppByID(_ context.Context, appID string) (App, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	app, exists := store.appsByID[appID]
	if !exists {
		return App{}, ErrUnknownApp
	}
	return app, nil
}

func (store *stubStore) UpdateAppSecret(_ context.Context, appID string, secret string, secretHash string, updatedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	app, exists := store.appsByID[appID]
	if !exists {
		return ErrUnknownApp
	}
	app.Secret = secret
	app.SecretHash = secretHash
	app.UpdatedUnixUTC = updatedUnixUTC
	store.appsByID[appID] = app
	store.apps[app.Key] = app
	return nil
}

func (store *stubStore) UpdateAppStatus(_ context.Context, appID string, status AppStatus, updatedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	app, exists := store.appsByID[appID]
	if !exists {
		return ErrUnknownApp
	}
	app.Status = status
	app.UpdatedUnixUTC = updatedUnixUTC
	store.appsByID[appID] = app
	store.apps[app.Key] = app
	return nil
}

func (store *stubStore) ListApps(_ context.Context) ([]App, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	apps := make([]App, 0, len(store.appsByID))
	for _, app := range store.appsByID {
		apps = append(apps, app)
	}
	return apps, nil
}

func userMapKey(appID string, externalUserID string) string {
	return appID + "/" + externalUserID
}

func (store *stubStore) GetOrCreateUserID(_ context.Context, appID string, externalUserID string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := userMapKey(appID, externalUserID)
	if userID, exists := store.users[key]; exists {
		return userID, nil
	}
	store.nextID++
	userID := fmt.Sprintf("user-%d", store.nextID)
	store.users[key] = userID
	return userID, nil
}

func (store *stubStore) FindUserID(_ context.Context, appID string, externalUserID string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	userID, exists := store.users[userMapKey(appID, externalUserID)]
	if !exists {
		return "", ErrUserNotFound
	}
	return userID, nil
}

func (store *stubStore) GetWalletByUser(_ context.Context, userID string) (Wallet, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	walletID, exists := store.walletByUser[userID]
	if !exists {
		return Wallet{}, ErrWalletNotFound
	}
	return store.wallets[walletID], nil
}

func (store *stubStore) GetOrCreateWalletForUpdate(_ context.Context, userID string, currency string) (Wallet, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if walletID, exists := store.walletByUser[userID]; exists {
		return store.wallets[walletID], nil
	}
	store.nextID++
	wallet := Wallet{
		ID:       fmt.Sprintf("wallet-%d", store.nextID),
		UserID:   userID,
		Currency: currency,
	}
	store.wallets[wallet.ID] = wallet
	store.walletByUser[userID] = wallet.ID
	return wallet, nil
}

func (store *stubStore) GetWalletForUpdate(_ context.Context, walletID string) (Wallet, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	wallet, exists := store.wallets[walletID]
	if !exists {
		return Wallet{}, ErrWalletNotFound
	}
	return wallet, nil
}

func (store *stubStore) UpdateWalletBalance(_ context.Context, walletID string, balance int64, updatedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	wallet, exists := store.wallets[walletID]
	if !exists {
		return ErrWalletNotFound
	}
	wallet.Balance = balance
	wallet.UpdatedUnixUTC = updatedUnixUTC
	store.wallets[walletID] = wallet
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction WalletTransaction) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.conflictsRemaining > 0 {
		store.conflictsRemaining--
		return "", ErrStoreConflict
	}
	if store.insertTransactionError != nil {
		return "", store.insertTransactionError
	}
	if transaction.IdempotencyKey != "" {
		idemKey := transaction.WalletID + "/" + transaction.IdempotencyKey
		if store.idemKeys[idemKey] {
			return "", ErrDuplicateAdjustment
		}
		store.idemKeys[idemKey] = true
	}
	store.nextID++
	transaction.ID = fmt.Sprintf("txn-%d", store.nextID)
	store.transactions = append(store.transactions, transaction)
	return transaction.ID, nil
}

func (store *stubStore) ListTransactions(_ context.Context, walletID string, offset int, limit int) ([]WalletTransaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matching := make([]WalletTransaction, 0)
	for index := len(store.transactions) - 1; index >= 0; index-- {
		if store.transactions[index].WalletID == walletID {
			matching = append(matching, store.transactions[index])
		}
	}
	if offset >= len(matching) {
		return []WalletTransaction{}, nil
	}
	matching = matching[offset:]
	if len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

func codeMapKey(appID string, code string) string {
	return appID + "/" + code
}

func (store *stubStore) CreateInviteCodes(_ context.Context, codes []InviteCode) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, code := range codes {
		mapKey := codeMapKey(code.AppID, code.Code)
		if _, exists := store.codes[mapKey]; exists {
			return fmt.Errorf("duplicate invite code %q", code.Code)
		}
		store.codes[mapKey] = code
		store.codesByID[code.ID] = code
	}
	return nil
}

func (store *stubStore) GetInviteCodeForUpdate(_ context.Context, appID string, code string) (InviteCode, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.codes[codeMapKey(appID, code)]
	if !exists {
		return InviteCode{}, ErrCodeNotFound
	}
	return record, nil
}

func (store *stubStore) IncrementInviteUsage(_ context.Context, codeID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	record, exists := store.codesByID[codeID]
	if !exists {
		return ErrCodeNotFound
	}
	record.UsedCount++
	store.codesByID[codeID] = record
	store.codes[codeMapKey(record.AppID, record.Code)] = record
	return nil
}

func (store *stubStore) HasRedemption(_ context.Context, codeID string, userID string) (bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	_, exists := store.redemptions[codeID+"/"+userID]
	return exists, nil
}

func (store *stubStore) InsertRedemption(_ context.Context, redemption Redemption) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	mapKey := redemption.CodeID + "/" + redemption.UserID
	if _, exists := store.redemptions[mapKey]; exists {
		return ErrAlreadyRedeemed
	}
	store.redemptions[mapKey] = redemption
	return nil
}

func (store *stubStore) ListInviteCodes(_ context.Context, appID string, offset int, limit int) ([]InviteCode, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	matching := make([]InviteCode, 0)
	for _, record := range store.codesByID {
		if record.AppID == appID {
			matching = append(matching, record)
		}
	}
	if offset >= len(matching) {
		return []InviteCode{}, nil
	}
	matching = matching[offset:]
	if len(matching) > limit {
		matching = matching[:limit]
	}
	return matching, nil
}

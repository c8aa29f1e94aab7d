//go:build integration

package postgres

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prk-Jr/payments-service/internal/credential"
	"github.com/prk-Jr/payments-service/internal/ledger"
	"github.com/prk-Jr/payments-service/internal/webhook"
	"github.com/prk-Jr/payments-service/pkg/logger"
	"github.com/prk-Jr/payments-service/pkg/money"
	"github.com/prk-Jr/payments-service/testutil/testdb"
)

var testDB *testdb.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testdb.NewTestDB(ctx)
	if err != nil {
		panic("failed to create test database: " + err.Error())
	}

	code := m.Run()

	testDB.Close(ctx)
	os.Exit(code)
}

func setupTest(t *testing.T) (*Repository, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))

	repo := NewRepository(&DB{Pool: testDB.Pool})
	return repo, ctx
}

// Helper to create an account with an opening balance
func createTestAccount(t *testing.T, ctx context.Context, repo *Repository, balance int64) *ledger.Account {
	account := &ledger.Account{
		ID:        uuid.New(),
		Name:      "account-" + uuid.NewString()[:8],
		Balance:   balance,
		Currency:  money.USD,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertAccount(ctx, account))
	return account
}

// Helper to create an active webhook endpoint
func createTestEndpoint(t *testing.T, ctx context.Context, repo *Repository, events ...string) *webhook.Endpoint {
	endpoint := &webhook.Endpoint{
		ID:        uuid.New(),
		URL:       "https://hooks.example.com/" + uuid.NewString()[:8],
		Secret:    "whsec_" + uuid.NewString(),
		Events:    events,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertWebhookEndpoint(ctx, endpoint))
	return endpoint
}

// Helper to enqueue a pending outbox event with a controlled created_at
func enqueueTestEvent(t *testing.T, ctx context.Context, repo *Repository, endpointID uuid.UUID, createdAt time.Time) uuid.UUID {
	event := &ledger.OutboxEvent{
		ID:         uuid.New(),
		EndpointID: endpointID,
		EventType:  ledger.EventDepositSuccess,
		Payload:    []byte(`{"event":"deposit.success"}`),
		CreatedAt:  createdAt,
	}
	require.NoError(t, repo.EnqueueWebhookEvent(ctx, event))
	return event.ID
}

// Account and transaction tests

func TestRepository_InsertAccount_RoundTrip(t *testing.T) {
	repo, ctx := setupTest(t)

	account := createTestAccount(t, ctx, repo, 2500)

	retrieved, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, retrieved.ID)
	assert.Equal(t, account.Name, retrieved.Name)
	assert.Equal(t, int64(2500), retrieved.Balance)
	assert.Equal(t, money.USD, retrieved.Currency)
	assert.WithinDuration(t, account.CreatedAt, retrieved.CreatedAt, time.Second)
}

func TestRepository_GetAccount_NotFound(t *testing.T) {
	repo, ctx := setupTest(t)

	_, err := repo.GetAccount(ctx, uuid.New())
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRepository_UpdateAccountBalance_MissingAccount(t *testing.T) {
	repo, ctx := setupTest(t)

	err := repo.UpdateAccountBalance(ctx, uuid.New(), 100)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestRepository_InsertTransaction_DuplicateIdempotencyKey(t *testing.T) {
	repo, ctx := setupTest(t)

	account := createTestAccount(t, ctx, repo, 0)
	key := "dup-key-1"

	first := &ledger.Transaction{
		ID:                   uuid.New(),
		Direction:            ledger.DirectionDeposit,
		Amount:               100,
		Currency:             money.USD,
		DestinationAccountID: &account.ID,
		IdempotencyKey:       &key,
		CreatedAt:            time.Now().UTC(),
	}
	require.NoError(t, repo.InsertTransaction(ctx, first))

	second := &ledger.Transaction{
		ID:                   uuid.New(),
		Direction:            ledger.DirectionDeposit,
		Amount:               999,
		Currency:             money.USD,
		DestinationAccountID: &account.ID,
		IdempotencyKey:       &key,
		CreatedAt:            time.Now().UTC(),
	}
	err := repo.InsertTransaction(ctx, second)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	stored, err := repo.GetTransactionByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
	assert.Equal(t, int64(100), stored.Amount)
}

func TestRepository_ListAccountTransactions_NewestFirst(t *testing.T) {
	repo, ctx := setupTest(t)

	account := createTestAccount(t, ctx, repo, 0)
	base := time.Now().UTC().Add(-time.Hour)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		txn := &ledger.Transaction{
			ID:                   uuid.New(),
			Direction:            ledger.DirectionDeposit,
			Amount:               int64(100 * (i + 1)),
			Currency:             money.USD,
			DestinationAccountID: &account.ID,
			CreatedAt:            base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.InsertTransaction(ctx, txn))
		ids = append(ids, txn.ID)
	}

	transactions, err := repo.ListAccountTransactions(ctx, account.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, transactions, 2)
	assert.Equal(t, ids[2], transactions[0].ID)
	assert.Equal(t, ids[1], transactions[1].ID)

	rest, err := repo.ListAccountTransactions(ctx, account.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[0], rest[0].ID)
}

// API key tests

func TestRepository_APIKey_Lifecycle(t *testing.T) {
	repo, ctx := setupTest(t)

	key := &credential.APIKey{
		ID:        uuid.New(),
		Name:      "ci",
		KeyHash:   credential.HashKey("sk_test_lifecycle"),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertAPIKey(ctx, key))

	retrieved, err := repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, retrieved.ID)
	assert.Equal(t, "ci", retrieved.Name)
	assert.Nil(t, retrieved.AccountID)
	assert.Nil(t, retrieved.LastUsedAt)

	usedAt := time.Now().UTC()
	require.NoError(t, repo.TouchAPIKeyLastUsed(ctx, key.ID, usedAt))

	retrieved, err = repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	require.NotNil(t, retrieved.LastUsedAt)
	assert.WithinDuration(t, usedAt, *retrieved.LastUsedAt, time.Second)

	require.NoError(t, repo.DeactivateAPIKey(ctx, key.ID))
	assert.ErrorIs(t, repo.DeactivateAPIKey(ctx, key.ID), credential.ErrKeyNotFound)

	// The row survives deactivation; only verification treats it as gone.
	retrieved, err = repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.False(t, retrieved.IsActive)
}

func TestRepository_CountActiveAPIKeys(t *testing.T) {
	repo, ctx := setupTest(t)

	count, err := repo.CountActiveAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	first := &credential.APIKey{
		ID:        uuid.New(),
		Name:      "one",
		KeyHash:   credential.HashKey("sk_test_one"),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	second := &credential.APIKey{
		ID:        uuid.New(),
		Name:      "two",
		KeyHash:   credential.HashKey("sk_test_two"),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.InsertAPIKey(ctx, first))
	require.NoError(t, repo.InsertAPIKey(ctx, second))

	count, err = repo.CountActiveAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, repo.DeactivateAPIKey(ctx, first.ID))

	count, err = repo.CountActiveAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// Webhook endpoint and outbox tests

func TestRepository_ListActiveEndpointIDsForEvent(t *testing.T) {
	repo, ctx := setupTest(t)

	subscribed := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess, ledger.EventTransferSuccess)
	deactivated := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	createTestEndpoint(t, ctx, repo, ledger.EventWithdrawSuccess)

	require.NoError(t, repo.DeactivateWebhookEndpoint(ctx, deactivated.ID))

	ids, err := repo.ListActiveEndpointIDsForEvent(ctx, ledger.EventDepositSuccess)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, subscribed.ID, ids[0])
}

func TestRepository_ClaimWebhookEvents_DueOnly(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	now := time.Now().UTC()

	dueID := enqueueTestEvent(t, ctx, repo, endpoint.ID, now.Add(-time.Minute))
	laterID := enqueueTestEvent(t, ctx, repo, endpoint.ID, now.Add(-time.Minute))

	// Push the second event's next attempt into the future.
	claimed, err := repo.ClaimWebhookEvents(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	future := now.Add(time.Hour)
	require.NoError(t, repo.MarkWebhookEventFailed(ctx, laterID, 1, "connection refused", &future))
	require.NoError(t, repo.MarkWebhookEventFailed(ctx, dueID, 1, "connection refused", &now))

	claimed, err = repo.ClaimWebhookEvents(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, dueID, claimed[0].ID)
	assert.Equal(t, webhook.StatusProcessing, claimed[0].Status)
	require.NotNil(t, claimed[0].ClaimedAt)

	// Nothing left that is due.
	claimed, err = repo.ClaimWebhookEvents(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRepository_ClaimWebhookEvents_OldestFirst(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	base := time.Now().UTC().Add(-time.Hour)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, enqueueTestEvent(t, ctx, repo, endpoint.ID, base.Add(time.Duration(i)*time.Second)))
	}

	claimed, err := repo.ClaimWebhookEvents(ctx, 3, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	for i, event := range claimed {
		assert.Equal(t, ids[i], event.ID)
	}
}

func TestRepository_ClaimWebhookEvents_SkipsRowsLockedByOtherClaimants(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		enqueueTestEvent(t, ctx, repo, endpoint.ID, base.Add(time.Duration(i)*time.Second))
	}

	now := time.Now().UTC()

	// First claimant holds its rows in an open transaction.
	txCtx, err := repo.BeginTx(ctx)
	require.NoError(t, err)
	held, err := repo.ClaimWebhookEvents(txCtx, 4, now)
	require.NoError(t, err)
	require.Len(t, held, 4)

	// A second claimant must skip the locked rows instead of blocking.
	rest, err := repo.ClaimWebhookEvents(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, rest, 6)

	require.NoError(t, repo.CommitTx(txCtx))

	seen := make(map[uuid.UUID]bool)
	for _, event := range held {
		seen[event.ID] = true
	}
	for _, event := range rest {
		assert.False(t, seen[event.ID], "event %s claimed twice", event.ID)
	}
}

func TestRepository_MarkWebhookEventDelivered(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	id := enqueueTestEvent(t, ctx, repo, endpoint.ID, time.Now().UTC())

	now := time.Now().UTC()
	claimed, err := repo.ClaimWebhookEvents(ctx, 1, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.MarkWebhookEventDelivered(ctx, id, 1, now))

	event, err := repo.GetWebhookEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusDelivered, event.Status)
	assert.Equal(t, 1, event.Attempts)
	assert.Nil(t, event.LastError)
	assert.Nil(t, event.ClaimedAt)
	require.NotNil(t, event.ProcessedAt)

	assert.ErrorIs(t, repo.MarkWebhookEventDelivered(ctx, uuid.New(), 1, now), webhook.ErrEventNotFound)
}

func TestRepository_MarkWebhookEventFailed_Reschedules(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	id := enqueueTestEvent(t, ctx, repo, endpoint.ID, time.Now().UTC())

	now := time.Now().UTC()
	_, err := repo.ClaimWebhookEvents(ctx, 1, now)
	require.NoError(t, err)

	nextAttempt := now.Add(30 * time.Second)
	require.NoError(t, repo.MarkWebhookEventFailed(ctx, id, 1, "502 Bad Gateway", &nextAttempt))

	event, err := repo.GetWebhookEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusPending, event.Status)
	assert.Equal(t, 1, event.Attempts)
	require.NotNil(t, event.LastError)
	assert.Equal(t, "502 Bad Gateway", *event.LastError)
	require.NotNil(t, event.NextAttemptAt)
	assert.WithinDuration(t, nextAttempt, *event.NextAttemptAt, time.Second)

	// Not due yet, then due once the backoff window has passed.
	claimed, err := repo.ClaimWebhookEvents(ctx, 1, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = repo.ClaimWebhookEvents(ctx, 1, nextAttempt.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
}

func TestRepository_MarkWebhookEventFailed_Terminal(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	id := enqueueTestEvent(t, ctx, repo, endpoint.ID, time.Now().UTC())

	now := time.Now().UTC()
	_, err := repo.ClaimWebhookEvents(ctx, 1, now)
	require.NoError(t, err)

	require.NoError(t, repo.MarkWebhookEventFailed(ctx, id, 5, "410 Gone", nil))

	event, err := repo.GetWebhookEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, event.Status)
	assert.Equal(t, 5, event.Attempts)
	require.NotNil(t, event.ProcessedAt)

	claimed, err := repo.ClaimWebhookEvents(ctx, 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRepository_RecoverStaleWebhookEvents(t *testing.T) {
	repo, ctx := setupTest(t)

	endpoint := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	staleTime := time.Now().UTC().Add(-10 * time.Minute)

	first := enqueueTestEvent(t, ctx, repo, endpoint.ID, staleTime)
	second := enqueueTestEvent(t, ctx, repo, endpoint.ID, staleTime)

	// Claimed ten minutes ago by a worker that never reported back.
	claimed, err := repo.ClaimWebhookEvents(ctx, 10, staleTime)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Claimed just now by a live worker.
	freshTime := time.Now().UTC()
	fresh := enqueueTestEvent(t, ctx, repo, endpoint.ID, freshTime)
	claimed, err = repo.ClaimWebhookEvents(ctx, 10, freshTime)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	recovered, err := repo.RecoverStaleWebhookEvents(ctx, freshTime.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	for _, id := range []uuid.UUID{first, second} {
		event, err := repo.GetWebhookEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, webhook.StatusPending, event.Status)
	}
	event, err := repo.GetWebhookEvent(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessing, event.Status)
}

// Ledger service tests against the real engine. These exercise the locking,
// retry, and outbox behavior that unit tests with fakes cannot.

func TestLedgerService_Deposit_WritesTransactionAndBalance(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	account := createTestAccount(t, ctx, repo, 0)
	key := "dep-1"
	ref := "invoice 42"

	txn, err := svc.Deposit(ctx, ledger.DepositParams{
		AccountID:      account.ID,
		Amount:         1250,
		Currency:       money.USD,
		IdempotencyKey: &key,
		Reference:      &ref,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.DirectionDeposit, txn.Direction)
	require.NotNil(t, txn.DestinationAccountID)
	assert.Equal(t, account.ID, *txn.DestinationAccountID)
	assert.Nil(t, txn.SourceAccountID)

	updated, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1250), updated.Balance)

	stored, err := repo.GetTransactionByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, stored.ID)
	require.NotNil(t, stored.Reference)
	assert.Equal(t, "invoice 42", *stored.Reference)
}

func TestLedgerService_ConcurrentWithdrawals_NeverOverdraw(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	account := createTestAccount(t, ctx, repo, 1000)

	const attempts = 20
	errs := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Withdraw(ctx, ledger.WithdrawParams{
				AccountID: account.ID,
				Amount:    100,
				Currency:  money.USD,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, rejected := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *ledger.InsufficientFundsError
		require.ErrorAs(t, err, &insufficient)
		rejected++
	}
	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, rejected)

	final, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), final.Balance)
}

func TestLedgerService_OpposingTransfers_Complete(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	alice := createTestAccount(t, ctx, repo, 50000)
	bob := createTestAccount(t, ctx, repo, 50000)

	const perDirection = 10
	errs := make(chan error, 2*perDirection)

	var wg sync.WaitGroup
	for i := 0; i < perDirection; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, ledger.TransferParams{
				FromAccountID: alice.ID,
				ToAccountID:   bob.ID,
				Amount:        100,
				Currency:      money.USD,
			})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(ctx, ledger.TransferParams{
				FromAccountID: bob.ID,
				ToAccountID:   alice.ID,
				Amount:        100,
				Currency:      money.USD,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	aliceAfter, err := repo.GetAccount(ctx, alice.ID)
	require.NoError(t, err)
	bobAfter, err := repo.GetAccount(ctx, bob.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(50000), aliceAfter.Balance)
	assert.Equal(t, int64(50000), bobAfter.Balance)
}

func TestLedgerService_RingTransfers_ConserveTotal(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	const accounts = 4
	const perEdge = 10

	ring := make([]*ledger.Account, accounts)
	for i := range ring {
		ring[i] = createTestAccount(t, ctx, repo, 25000)
	}

	errs := make(chan error, accounts*perEdge)

	var wg sync.WaitGroup
	for i := 0; i < accounts; i++ {
		from, to := ring[i].ID, ring[(i+1)%accounts].ID
		for j := 0; j < perEdge; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Transfer(ctx, ledger.TransferParams{
					FromAccountID: from,
					ToAccountID:   to,
					Amount:        100,
					Currency:      money.USD,
				})
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var total int64
	for _, account := range ring {
		after, err := repo.GetAccount(ctx, account.ID)
		require.NoError(t, err)
		// Every account sent and received the same amount.
		assert.Equal(t, int64(25000), after.Balance)
		total += after.Balance
	}
	assert.Equal(t, int64(100000), total)
}

func TestLedgerService_ConcurrentDeposits_SameKeyWritesOnce(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	account := createTestAccount(t, ctx, repo, 0)
	key := "replay-race"

	const callers = 8
	type depositResult struct {
		txn *ledger.Transaction
		err error
	}
	results := make(chan depositResult, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			txn, err := svc.Deposit(ctx, ledger.DepositParams{
				AccountID:      account.ID,
				Amount:         750,
				Currency:       money.USD,
				IdempotencyKey: &key,
			})
			results <- depositResult{txn: txn, err: err}
		}()
	}
	wg.Wait()
	close(results)

	var firstID uuid.UUID
	for res := range results {
		require.NoError(t, res.err)
		if firstID == uuid.Nil {
			firstID = res.txn.ID
		}
		assert.Equal(t, firstID, res.txn.ID)
	}

	final, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(750), final.Balance)

	var count int
	require.NoError(t, testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLedgerService_Deposit_EnqueuesEventPerSubscriber(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	account := createTestAccount(t, ctx, repo, 0)
	first := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess)
	second := createTestEndpoint(t, ctx, repo, ledger.EventDepositSuccess, ledger.EventTransferSuccess)
	createTestEndpoint(t, ctx, repo, ledger.EventTransferSuccess)

	txn, err := svc.Deposit(ctx, ledger.DepositParams{
		AccountID: account.ID,
		Amount:    500,
		Currency:  money.USD,
	})
	require.NoError(t, err)

	events, err := repo.ClaimWebhookEvents(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, events, 2)

	endpointIDs := make(map[uuid.UUID]bool)
	for _, event := range events {
		endpointIDs[event.EndpointID] = true
		assert.Equal(t, ledger.EventDepositSuccess, event.EventType)
		assert.Contains(t, string(event.Payload), `"event":"deposit.success"`)
		assert.Contains(t, string(event.Payload), txn.ID.String())
	}
	assert.True(t, endpointIDs[first.ID])
	assert.True(t, endpointIDs[second.ID])
}

func TestLedgerService_FailedWithdrawal_WritesNothing(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := ledger.NewService(repo)

	account := createTestAccount(t, ctx, repo, 50)
	createTestEndpoint(t, ctx, repo, ledger.EventWithdrawSuccess)

	_, err := svc.Withdraw(ctx, ledger.WithdrawParams{
		AccountID: account.ID,
		Amount:    100,
		Currency:  money.USD,
	})
	var insufficient *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(50), insufficient.Available)
	assert.Equal(t, int64(100), insufficient.Requested)

	final, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), final.Balance)

	var count int
	require.NoError(t, testDB.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&count))
	assert.Equal(t, 0, count)

	events, err := repo.ClaimWebhookEvents(ctx, 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCredentialService_Bootstrap_ConcurrentCallsIssueOneKey(t *testing.T) {
	repo, ctx := setupTest(t)
	svc := credential.NewService(repo, logger.New("test", io.Discard))

	const callers = 8
	type result struct {
		raw string
		err error
	}
	results := make(chan result, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, raw, err := svc.Bootstrap(ctx, "root")
			results <- result{raw: raw, err: err}
		}()
	}
	wg.Wait()
	close(results)

	issued, refused := 0, 0
	for res := range results {
		if res.err == nil {
			issued++
			assert.True(t, len(res.raw) > 3 && res.raw[:3] == "sk_")
			continue
		}
		require.ErrorIs(t, res.err, credential.ErrBootstrapForbidden)
		refused++
	}
	assert.Equal(t, 1, issued)
	assert.Equal(t, callers-1, refused)

	count, err := repo.CountActiveAPIKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

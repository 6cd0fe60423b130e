// Package sync drives the per-account sync state machine: it pulls balances
// and transactions through an aggregator adapter, persists the normalized
// results, and records the outcome on the account.
package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
	"finsync/internal/domain/transaction"
)

var (
	syncTracer         = otel.Tracer("finsync/sync")
	syncMeter          = otel.Meter("finsync/sync")
	syncDuration, _    = syncMeter.Float64Histogram("sync.account.duration", metric.WithDescription("Account sync duration in seconds"), metric.WithUnit("s"))
	syncTotal, _       = syncMeter.Int64Counter("sync.account.total", metric.WithDescription("Account syncs by resulting status"))
	txIngestedTotal, _ = syncMeter.Int64Counter("sync.transactions.ingested", metric.WithDescription("New transactions ingested"))
	txUpdatedTotal, _  = syncMeter.Int64Counter("sync.transactions.updated", metric.WithDescription("Existing transactions updated in place"))
)

const (
	defaultLookback = 30 * 24 * time.Hour
	defaultCount    = 100
)

// Config tunes the transaction fetch window.
type Config struct {
	TransactionLookback time.Duration
	TransactionCount    int
}

// Result summarizes one sync run.
type Result struct {
	AccountID            string
	Status               account.SyncStatus
	BalanceSynced        bool
	TransactionsIngested int
	TransactionsUpdated  int
	Errors               []account.SyncError
}

// Engine executes sync runs. It performs no internal retry or backoff:
// retryable failures are left for the scheduler's normal cadence.
type Engine struct {
	accounts     account.Repository
	transactions transaction.Repository
	events       EventSink
	lookback     time.Duration
	count        int
}

// NewEngine creates a sync engine.
func NewEngine(accounts account.Repository, transactions transaction.Repository, events EventSink, cfg Config) *Engine {
	if cfg.TransactionLookback <= 0 {
		cfg.TransactionLookback = defaultLookback
	}
	if cfg.TransactionCount <= 0 {
		cfg.TransactionCount = defaultCount
	}
	if events == nil {
		events = NopSink{}
	}
	return &Engine{
		accounts:     accounts,
		transactions: transactions,
		events:       events,
		lookback:     cfg.TransactionLookback,
		count:        cfg.TransactionCount,
	}
}

// SyncAccount runs one sync for one account. Aggregator failures are captured
// in the Result and on the account record; the returned error is reserved for
// precondition and persistence failures.
//
// Accounts in reauth_required are refused outright: that state is cleared only
// by an explicit reauthorization, never by another sync attempt.
func (e *Engine) SyncAccount(ctx context.Context, acct *account.Account, adapter aggregator.Adapter) (*Result, error) {
	if !acct.SyncStatus.Syncable() {
		return nil, fmt.Errorf("account %s: %w", acct.ID, account.ErrReauthRequired)
	}

	ctx, span := syncTracer.Start(ctx, "sync.account",
		trace.WithAttributes(
			attribute.String("account.id", acct.ID),
			attribute.String("provider", adapter.Provider()),
		),
	)
	defer span.End()

	start := time.Now()
	cred := acct.Credential()
	result := &Result{AccountID: acct.ID, Status: account.SyncStatusSynced}

	e.syncBalance(ctx, acct, adapter, cred, result)
	e.syncTransactions(ctx, acct, adapter, cred, result)

	now := time.Now()
	state := account.SyncState{Status: result.Status, SyncedAt: acct.LastSyncedAt}
	if result.Status == account.SyncStatusSynced {
		state.SyncedAt = &now
	} else {
		state.Error = e.worstError(result)
		span.SetStatus(codes.Error, state.Error.Message)
	}

	if err := e.accounts.UpdateSyncState(ctx, acct.ID, state); err != nil {
		return nil, fmt.Errorf("failed to record sync state for account %s: %w", acct.ID, err)
	}
	acct.SyncStatus = state.Status
	acct.LastSyncError = state.Error
	acct.LastSyncedAt = state.SyncedAt

	e.emitEvents(ctx, acct, result)

	syncDuration.Record(ctx, time.Since(start).Seconds())
	syncTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", adapter.Provider()),
		attribute.String("status", string(result.Status)),
	))
	txIngestedTotal.Add(ctx, int64(result.TransactionsIngested))
	txUpdatedTotal.Add(ctx, int64(result.TransactionsUpdated))

	return result, nil
}

// syncBalance fetches and applies the current balances. A partial failure here
// does not stop the transaction half of the run.
func (e *Engine) syncBalance(ctx context.Context, acct *account.Account, adapter aggregator.Adapter, cred aggregator.Credential, result *Result) {
	balance, err := adapter.FetchBalance(ctx, cred, acct.ExternalAccountID)
	if err != nil {
		e.recordFailure(result, "balance", err)
		return
	}

	if err := e.accounts.UpdateBalances(ctx, acct.ID, balance.Current, balance.Available, balance.Limit); err != nil {
		log.Printf("Failed to persist balances for account %s: %v", acct.ID, err)
		e.recordFailure(result, "balance", err)
		return
	}

	acct.BalanceCurrent = balance.Current
	acct.BalanceAvailable = balance.Available
	acct.BalanceLimit = balance.Limit
	result.BalanceSynced = true
}

// syncTransactions fetches the window and upserts each transaction keyed by
// its provider ID. Rows whose mutable fields are unchanged are skipped, so
// re-running with identical upstream data ingests and updates nothing.
func (e *Engine) syncTransactions(ctx context.Context, acct *account.Account, adapter aggregator.Adapter, cred aggregator.Credential, result *Result) {
	window := aggregator.Window{Since: time.Now().Add(-e.lookback), Count: e.count}

	fetched, err := adapter.FetchTransactions(ctx, cred, acct.ExternalAccountID, window)
	if err != nil {
		e.recordFailure(result, "transactions", err)
		return
	}

	for _, tx := range fetched {
		params := transaction.ParamsFromProvider(acct.ID, acct.Currency, tx)
		if err := params.Validate(); err != nil {
			log.Printf("Skipping invalid transaction %s for account %s: %v", tx.ExternalID, acct.ID, err)
			continue
		}

		existing, err := e.transactions.GetByExternalID(ctx, acct.ID, tx.ExternalID)
		if err != nil {
			e.recordFailure(result, "transactions", err)
			return
		}

		switch {
		case existing == nil:
			if _, err := e.transactions.Upsert(ctx, params); err != nil {
				e.recordFailure(result, "transactions", err)
				return
			}
			result.TransactionsIngested++
		case existing.Changed(params):
			if _, err := e.transactions.Upsert(ctx, params); err != nil {
				e.recordFailure(result, "transactions", err)
				return
			}
			result.TransactionsUpdated++
		}
	}
}

// recordFailure classifies err, folds it into the result, and raises the
// account status to the more severe outcome.
func (e *Engine) recordFailure(result *Result, operation string, err error) {
	aggErr := aggregator.Classify(err)
	log.Printf("Sync %s failed for account %s: [%s] %v", operation, result.AccountID, aggErr.Code, err)

	result.Errors = append(result.Errors, account.SyncError{
		Code:      aggErr.Code,
		Message:   aggErr.Message,
		Retryable: aggErr.Retryable,
	})

	next := account.SyncStatusError
	if aggErr.Code.RequiresReauth() {
		next = account.SyncStatusReauthRequired
	}
	result.Status = account.MergeStatus(result.Status, next)
}

// worstError picks the persisted last_error: the one matching the final
// status, so a reauth failure is never shadowed by a lesser one.
func (e *Engine) worstError(result *Result) *account.SyncError {
	for i := range result.Errors {
		code := result.Errors[i].Code
		if result.Status == account.SyncStatusReauthRequired && code.RequiresReauth() {
			return &result.Errors[i]
		}
		if result.Status == account.SyncStatusError && !code.RequiresReauth() {
			return &result.Errors[i]
		}
	}
	if len(result.Errors) > 0 {
		return &result.Errors[0]
	}
	return nil
}

// emitEvents notifies the external collaborator. Reauth is emitted at most
// once per run; transient retryable failures stay silent to the user.
func (e *Engine) emitEvents(ctx context.Context, acct *account.Account, result *Result) {
	if result.Status == account.SyncStatusReauthRequired {
		e.events.AccountRequiresReauth(ctx, acct)
		return
	}

	for _, syncErr := range result.Errors {
		if !syncErr.Retryable && !syncErr.Code.RequiresReauth() {
			e.events.AccountError(ctx, acct, syncErr.Code, syncErr.Message)
		}
	}
}

package scheduler

import (
	"context"
	"fmt"
	"log"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
	"finsync/internal/domain/sync"
)

// Dispatcher turns webhook deliveries and schedule ticks into sync jobs. It
// owns the per-account lock table shared by every job it creates.
type Dispatcher struct {
	accounts account.Repository
	engine   *sync.Engine
	adapters map[string]aggregator.Adapter
	pool     *WorkerPool
	locks    *accountLocks
}

// NewDispatcher creates a dispatcher over the registered provider adapters.
func NewDispatcher(accounts account.Repository, engine *sync.Engine, adapters map[string]aggregator.Adapter, pool *WorkerPool) *Dispatcher {
	return &Dispatcher{
		accounts: accounts,
		engine:   engine,
		adapters: adapters,
		pool:     pool,
		locks:    newAccountLocks(),
	}
}

// DispatchItem submits sync jobs for every syncable account under one
// provider item, typically in response to a webhook. Returns the number of
// jobs submitted.
func (d *Dispatcher) DispatchItem(ctx context.Context, provider, itemID string) (int, error) {
	adapter, ok := d.adapters[provider]
	if !ok {
		return 0, fmt.Errorf("no adapter registered for provider %q", provider)
	}

	accounts, err := d.accounts.ListByItemID(ctx, provider, itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts for item %s: %w", itemID, err)
	}

	submitted := 0
	for _, acct := range accounts {
		if !acct.SyncStatus.Syncable() {
			log.Printf("Skipping account %s: awaiting reauthorization", acct.ID)
			continue
		}
		if err := d.pool.Submit(NewAccountSyncJob(acct, adapter, d.engine, d.locks)); err != nil {
			continue
		}
		submitted++
	}
	return submitted, nil
}

// SyncableJobs builds jobs for every account eligible for a scheduled sync.
// Used as the scheduler's job provider.
func (d *Dispatcher) SyncableJobs(ctx context.Context) ([]Job, error) {
	accounts, err := d.accounts.ListSyncable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list syncable accounts: %w", err)
	}

	jobs := make([]Job, 0, len(accounts))
	for _, acct := range accounts {
		adapter, ok := d.adapters[acct.Provider]
		if !ok {
			log.Printf("Skipping account %s: no adapter for provider %q", acct.ID, acct.Provider)
			continue
		}
		jobs = append(jobs, NewAccountSyncJob(acct, adapter, d.engine, d.locks))
	}
	return jobs, nil
}

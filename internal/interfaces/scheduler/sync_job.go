package scheduler

import (
	"context"
	"fmt"
	"log"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
	"finsync/internal/domain/sync"
)

// AccountSyncJob implements the Job interface for syncing one account.
type AccountSyncJob struct {
	acct    *account.Account
	adapter aggregator.Adapter
	engine  *sync.Engine
	locks   *accountLocks
}

// NewAccountSyncJob creates a sync job for one account.
func NewAccountSyncJob(acct *account.Account, adapter aggregator.Adapter, engine *sync.Engine, locks *accountLocks) *AccountSyncJob {
	return &AccountSyncJob{acct: acct, adapter: adapter, engine: engine, locks: locks}
}

// Execute runs the sync. If the account already has a sync in flight, the job
// skips: the running sync covers the same upstream data.
func (j *AccountSyncJob) Execute(ctx context.Context) error {
	if !j.locks.TryAcquire(j.acct.ID) {
		log.Printf("Sync already in flight for account %s, skipping", j.acct.ID)
		return nil
	}
	defer j.locks.Release(j.acct.ID)

	result, err := j.engine.SyncAccount(ctx, j.acct, j.adapter)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	log.Printf("Account %s synced: status=%s ingested=%d updated=%d errors=%d",
		j.acct.ID, result.Status, result.TransactionsIngested, result.TransactionsUpdated, len(result.Errors))
	return nil
}

// AccountID returns the account this job syncs.
func (j *AccountSyncJob) AccountID() string {
	return j.acct.ID
}

// Description returns a human-readable description of the job.
func (j *AccountSyncJob) Description() string {
	return fmt.Sprintf("Account sync for %s (%s)", j.acct.ID, j.acct.Provider)
}

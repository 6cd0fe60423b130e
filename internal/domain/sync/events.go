package sync

import (
	"context"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
)

// EventSink receives user-facing sync outcomes. Deliveries are
// fire-and-forget: the engine awaits no response and a slow or failing sink
// must never block a sync run.
type EventSink interface {
	// AccountError reports a terminal (non-retryable) sync failure.
	AccountError(ctx context.Context, acct *account.Account, code aggregator.ErrorCode, message string)

	// AccountRequiresReauth reports that the user must relink the account.
	AccountRequiresReauth(ctx context.Context, acct *account.Account)
}

// NopSink discards all events. Used where no notification collaborator is
// wired, such as the admin CLI.
type NopSink struct{}

func (NopSink) AccountError(context.Context, *account.Account, aggregator.ErrorCode, string) {}
func (NopSink) AccountRequiresReauth(context.Context, *account.Account)                      {}

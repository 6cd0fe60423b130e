package notification

import (
	"context"
	"fmt"
	"log"

	"finsync/internal/aggregator"
	"finsync/internal/domain/account"
)

// Events adapts the notification service to the sync engine's event sink.
// Deliveries are fire-and-forget: failures are logged and swallowed so a
// notification outage never fails a sync run.
type Events struct {
	service *Service
}

// NewEvents creates the sync event sink backed by the notification service.
func NewEvents(service *Service) *Events {
	return &Events{service: service}
}

// AccountError notifies the user about a terminal sync failure.
func (e *Events) AccountError(ctx context.Context, acct *account.Account, code aggregator.ErrorCode, message string) {
	body := fmt.Sprintf("We couldn't update %s. %s", acct.Name, remediationText(code))
	err := e.service.SendToUser(ctx, CreateNotificationParams{
		UserID:   acct.UserID,
		Title:    "Account sync problem",
		Message:  body,
		Category: CategoryAccounts,
		Data: map[string]string{
			"account_id": acct.ID,
			"error_code": string(code),
		},
	})
	if err != nil {
		log.Printf("Failed to deliver sync error notification for account %s: %v", acct.ID, err)
	}
}

// AccountRequiresReauth asks the user to relink the account.
func (e *Events) AccountRequiresReauth(ctx context.Context, acct *account.Account) {
	body := fmt.Sprintf("%s needs to be reconnected. Open the app and sign in to your bank again to resume syncing.", acct.Name)
	err := e.service.SendToUser(ctx, CreateNotificationParams{
		UserID:   acct.UserID,
		Title:    "Reconnect your account",
		Message:  body,
		Category: CategoryAccounts,
		Data: map[string]string{
			"account_id": acct.ID,
			"action":     "reauthorize",
		},
	})
	if err != nil {
		log.Printf("Failed to deliver reauth notification for account %s: %v", acct.ID, err)
	}
}

// remediationText turns an error code into something the user can act on.
func remediationText(code aggregator.ErrorCode) string {
	switch code {
	case aggregator.CodeNotSupported:
		return "This account type isn't supported by your bank's connection. You can unlink it in settings."
	default:
		return "We'll keep an eye on it. If this persists, try unlinking and relinking the account."
	}
}

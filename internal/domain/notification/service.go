package notification

import (
	"context"
	"errors"
	"log"
)

// Service contains the business logic for notification operations
type Service struct {
	repo      Repository
	messenger Messenger
}

// NewService creates a new notification service
func NewService(repo Repository, messenger Messenger) *Service {
	return &Service{repo: repo, messenger: messenger}
}

// RegisterDevice registers a device token for the authenticated user.
// If the token already belongs to another user, it is reassigned.
func (s *Service) RegisterDevice(ctx context.Context, params CreateDeviceTokenParams) (*DeviceToken, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return s.repo.UpsertDeviceToken(ctx, params)
}

// GetPreferences returns the notification preferences for a user.
// Users who never touched their settings get all-enabled defaults.
func (s *Service) GetPreferences(ctx context.Context, userID int64) (*Preference, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}

	prefs, err := s.repo.GetPreferences(ctx, userID)
	if errors.Is(err, ErrPreferencesNotFound) {
		return &Preference{
			UserID:          userID,
			AccountsEnabled: true,
			GeneralEnabled:  true,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

// UpdatePreferences updates notification preferences for a user
func (s *Service) UpdatePreferences(ctx context.Context, userID int64, params UpdatePreferenceParams) (*Preference, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}

	return s.repo.UpsertPreferences(ctx, userID, params)
}

// ListNotifications returns paginated notifications for a user
func (s *Service) ListNotifications(ctx context.Context, userID int64, page, perPage int) ([]*Notification, int, error) {
	if userID <= 0 {
		return nil, 0, errors.New("valid user ID is required")
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return s.repo.ListByUserID(ctx, userID, page, perPage)
}

// MarkNotificationOpened marks a notification as opened by the authenticated user
func (s *Service) MarkNotificationOpened(ctx context.Context, notificationID string, userID int64) error {
	if notificationID == "" {
		return errors.New("notification ID is required")
	}
	if userID <= 0 {
		return errors.New("valid user ID is required")
	}

	return s.repo.MarkOpened(ctx, notificationID, userID)
}

// SendToUser stores a notification record and pushes it to the user's active
// devices. A muted category skips the user entirely; push delivery is
// best-effort and a messenger failure is logged, never returned.
func (s *Service) SendToUser(ctx context.Context, params CreateNotificationParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	prefs, err := s.GetPreferences(ctx, params.UserID)
	if err != nil {
		return err
	}
	if !prefs.IsCategoryEnabled(params.Category) {
		log.Printf("Notification skipped for user %d: category %q disabled", params.UserID, params.Category)
		return nil
	}

	if _, err := s.repo.CreateNotification(ctx, params); err != nil {
		return err
	}

	if s.messenger == nil {
		return nil
	}

	tokens, err := s.repo.GetActiveTokensByUserID(ctx, params.UserID)
	if err != nil {
		log.Printf("Failed to load device tokens for user %d: %v", params.UserID, err)
		return nil
	}
	if len(tokens) == 0 {
		return nil
	}

	data := params.Data
	if data == nil {
		data = make(map[string]string)
	}
	if _, ok := data["route"]; !ok {
		data["route"] = params.Category
	}

	tokenStrings := make([]string, len(tokens))
	for i, t := range tokens {
		tokenStrings[i] = t.Token
	}
	if err := s.messenger.SendMulticast(ctx, tokenStrings, params.Title, params.Message, data); err != nil {
		log.Printf("Error pushing notification to user %d: %v", params.UserID, err)
	}

	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"finsync/internal/domain/notification"
)

// NotificationRepository implements the notification.Repository interface for PostgreSQL
type NotificationRepository struct {
	db *DB
}

// NewNotificationRepository creates a new PostgreSQL notification repository
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// UpsertDeviceToken registers a device token, reassigning it if it already
// belongs to another user.
func (r *NotificationRepository) UpsertDeviceToken(ctx context.Context, params notification.CreateDeviceTokenParams) (*notification.DeviceToken, error) {
	query := `
		INSERT INTO device_tokens (id, user_id, token, device_type, is_active, last_used)
		VALUES ($1, $2, $3, $4, TRUE, NOW())
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_type = EXCLUDED.device_type,
			is_active = TRUE,
			last_used = NOW()
		RETURNING id, user_id, token, device_type, is_active, created_at, last_used
	`

	var token notification.DeviceToken
	err := r.db.QueryRowContext(
		ctx, query,
		uuid.New().String(), params.UserID, params.Token, params.DeviceType,
	).Scan(
		&token.ID, &token.UserID, &token.Token, &token.DeviceType,
		&token.IsActive, &token.CreatedAt, &token.LastUsed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert device token: %w", err)
	}
	return &token, nil
}

// GetActiveTokensByUserID retrieves all active device tokens for a user
func (r *NotificationRepository) GetActiveTokensByUserID(ctx context.Context, userID int64) ([]*notification.DeviceToken, error) {
	query := `
		SELECT id, user_id, token, device_type, is_active, created_at, last_used
		FROM device_tokens
		WHERE user_id = $1 AND is_active = TRUE
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*notification.DeviceToken
	for rows.Next() {
		var token notification.DeviceToken
		if err := rows.Scan(
			&token.ID, &token.UserID, &token.Token, &token.DeviceType,
			&token.IsActive, &token.CreatedAt, &token.LastUsed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, &token)
	}
	return tokens, rows.Err()
}

// DeactivateToken marks a device token as inactive, typically after FCM
// reports it unregistered.
func (r *NotificationRepository) DeactivateToken(ctx context.Context, token string) error {
	query := `UPDATE device_tokens SET is_active = FALSE WHERE token = $1`
	result, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return fmt.Errorf("failed to deactivate device token: %w", err)
	}
	return requireRowAffected(result, notification.ErrDeviceTokenNotFound)
}

// CreateNotification stores a notification record
func (r *NotificationRepository) CreateNotification(ctx context.Context, params notification.CreateNotificationParams) (*notification.Notification, error) {
	data, err := json.Marshal(params.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification data: %w", err)
	}

	query := `
		INSERT INTO notifications (id, user_id, title, message, category, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, user_id, title, message, category, data, opened_at, created_at
	`

	row := r.db.QueryRowContext(
		ctx, query,
		uuid.New().String(), params.UserID, params.Title, params.Message, params.Category, data,
	)
	return scanNotification(row)
}

// ListByUserID returns paginated notifications for a user plus the total count
func (r *NotificationRepository) ListByUserID(ctx context.Context, userID int64, page, perPage int) ([]*notification.Notification, int, error) {
	var total int
	countQuery := `SELECT COUNT(*) FROM notifications WHERE user_id = $1`
	if err := r.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := `
		SELECT id, user_id, title, message, category, data, opened_at, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, total, rows.Err()
}

// MarkOpened marks a notification as opened by its owner
func (r *NotificationRepository) MarkOpened(ctx context.Context, notificationID string, userID int64) error {
	query := `
		UPDATE notifications
		SET opened_at = NOW()
		WHERE id = $1 AND user_id = $2 AND opened_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification opened: %w", err)
	}
	return requireRowAffected(result, notification.ErrNotificationNotFound)
}

// GetPreferences returns the user's notification preferences, or
// notification.ErrPreferencesNotFound when none have been stored.
func (r *NotificationRepository) GetPreferences(ctx context.Context, userID int64) (*notification.Preference, error) {
	query := `
		SELECT id, user_id, accounts_enabled, general_enabled, updated_at
		FROM notification_preferences
		WHERE user_id = $1
	`

	var pref notification.Preference
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&pref.ID, &pref.UserID, &pref.AccountsEnabled, &pref.GeneralEnabled, &pref.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, notification.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification preferences: %w", err)
	}
	return &pref, nil
}

// UpsertPreferences applies partial preference updates, creating the row with
// all-enabled defaults on first write.
func (r *NotificationRepository) UpsertPreferences(ctx context.Context, userID int64, params notification.UpdatePreferenceParams) (*notification.Preference, error) {
	var accounts, general any
	if params.AccountsEnabled != nil {
		accounts = *params.AccountsEnabled
	}
	if params.GeneralEnabled != nil {
		general = *params.GeneralEnabled
	}

	query := `
		INSERT INTO notification_preferences (id, user_id, accounts_enabled, general_enabled)
		VALUES ($1, $2, COALESCE($3::boolean, TRUE), COALESCE($4::boolean, TRUE))
		ON CONFLICT (user_id) DO UPDATE SET
			accounts_enabled = COALESCE($3::boolean, notification_preferences.accounts_enabled),
			general_enabled = COALESCE($4::boolean, notification_preferences.general_enabled),
			updated_at = NOW()
		RETURNING id, user_id, accounts_enabled, general_enabled, updated_at
	`

	var pref notification.Preference
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), userID, accounts, general).Scan(
		&pref.ID, &pref.UserID, &pref.AccountsEnabled, &pref.GeneralEnabled, &pref.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert notification preferences: %w", err)
	}
	return &pref, nil
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var n notification.Notification
	var data []byte
	var openedAt sql.NullTime

	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Category, &data, &openedAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
		}
	}
	if openedAt.Valid {
		n.OpenedAt = &openedAt.Time
	}

	return &n, nil
}

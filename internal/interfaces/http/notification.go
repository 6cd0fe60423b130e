package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"finsync/internal/domain/notification"
)

// NotificationHandler handles device registration and the notification inbox.
type NotificationHandler struct {
	service *notification.Service
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(service *notification.Service) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// RegisterDeviceRequest is the request body for device registration.
type RegisterDeviceRequest struct {
	Token      string `json:"token"`
	DeviceType string `json:"deviceType"`
}

// HandleRegisterDevice registers an FCM device token for the authenticated
// user.
func (h *NotificationHandler) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.service.RegisterDevice(r.Context(), notification.CreateDeviceTokenParams{
		UserID:     userID,
		Token:      req.Token,
		DeviceType: req.DeviceType,
	})
	if err != nil {
		if errors.Is(err, notification.ErrInvalidToken) || errors.Is(err, notification.ErrInvalidDeviceType) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error registering device for user %d: %v", userID, err)
		http.Error(w, "Failed to register device", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

// HandleListNotifications returns the user's notifications, newest first.
func (h *NotificationHandler) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	notifications, total, err := h.service.ListNotifications(r.Context(), userID, page, perPage)
	if err != nil {
		log.Printf("Error listing notifications for user %d: %v", userID, err)
		http.Error(w, "Failed to list notifications", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"total":         total,
	})
}

// UpdatePreferencesRequest carries partial preference toggles; omitted fields
// are left unchanged.
type UpdatePreferencesRequest struct {
	AccountsEnabled *bool `json:"accountsEnabled"`
	GeneralEnabled  *bool `json:"generalEnabled"`
}

// HandlePreferences handles GET (read) and PATCH (partial update) of the
// user's notification preferences.
func (h *NotificationHandler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		prefs, err := h.service.GetPreferences(r.Context(), userID)
		if err != nil {
			log.Printf("Error loading preferences for user %d: %v", userID, err)
			http.Error(w, "Failed to load preferences", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, prefs)

	case http.MethodPatch:
		var req UpdatePreferencesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		prefs, err := h.service.UpdatePreferences(r.Context(), userID, notification.UpdatePreferenceParams{
			AccountsEnabled: req.AccountsEnabled,
			GeneralEnabled:  req.GeneralEnabled,
		})
		if err != nil {
			log.Printf("Error updating preferences for user %d: %v", userID, err)
			http.Error(w, "Failed to update preferences", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, prefs)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMarkOpened marks one notification as opened.
func (h *NotificationHandler) HandleMarkOpened(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	notificationID := r.PathValue("id")
	if err := h.service.MarkNotificationOpened(r.Context(), notificationID, userID); err != nil {
		if errors.Is(err, notification.ErrNotificationNotFound) {
			http.Error(w, "Notification not found", http.StatusNotFound)
			return
		}
		log.Printf("Error marking notification %s opened: %v", notificationID, err)
		http.Error(w, "Failed to update notification", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"finsync/internal/domain/account"
	"finsync/internal/domain/transaction"
)

// AccountHandler exposes a read/administer surface over linked accounts.
type AccountHandler struct {
	accountService *account.Service
	transactions   transaction.Repository
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accountService *account.Service, transactions transaction.Repository) *AccountHandler {
	return &AccountHandler{accountService: accountService, transactions: transactions}
}

// AccountResponse is the wire format for one account. The access token never
// leaves the server.
type AccountResponse struct {
	ID               string             `json:"id"`
	Provider         string             `json:"provider"`
	InstitutionID    string             `json:"institutionId"`
	InstitutionName  string             `json:"institutionName"`
	Name             string             `json:"name"`
	AccountType      string             `json:"accountType"`
	Subtype          string             `json:"subtype"`
	Mask             string             `json:"mask"`
	Currency         string             `json:"currency"`
	BalanceCurrent   string             `json:"balanceCurrent"`
	BalanceAvailable *string            `json:"balanceAvailable"`
	BalanceLimit     *string            `json:"balanceLimit"`
	SyncStatus       string             `json:"syncStatus"`
	LastSyncError    *account.SyncError `json:"lastSyncError,omitempty"`
	LastSyncedAt     *string            `json:"lastSyncedAt"`
}

func toAccountResponse(acc *account.Account) AccountResponse {
	resp := AccountResponse{
		ID:              acc.ID,
		Provider:        acc.Provider,
		InstitutionID:   acc.InstitutionID,
		InstitutionName: acc.InstitutionName,
		Name:            acc.Name,
		AccountType:     acc.AccountType,
		Subtype:         acc.Subtype,
		Mask:            acc.Mask,
		Currency:        acc.Currency,
		BalanceCurrent:  acc.BalanceCurrent.String(),
		SyncStatus:      string(acc.SyncStatus),
		LastSyncError:   acc.LastSyncError,
	}
	if acc.BalanceAvailable != nil {
		s := acc.BalanceAvailable.String()
		resp.BalanceAvailable = &s
	}
	if acc.BalanceLimit != nil {
		s := acc.BalanceLimit.String()
		resp.BalanceLimit = &s
	}
	if acc.LastSyncedAt != nil {
		s := acc.LastSyncedAt.Format(time.RFC3339)
		resp.LastSyncedAt = &s
	}
	return resp
}

// LinkAccountRequest is the request body for linking a new account.
type LinkAccountRequest struct {
	Provider          string `json:"provider"`
	ItemID            string `json:"itemId"`
	ExternalAccountID string `json:"externalAccountId"`
	InstitutionID     string `json:"institutionId"`
	InstitutionName   string `json:"institutionName"`
	Name              string `json:"name"`
	AccountType       string `json:"accountType"`
	Subtype           string `json:"subtype"`
	Mask              string `json:"mask"`
	Currency          string `json:"currency"`
	AccessToken       string `json:"accessToken"`
}

// HandleAccounts handles the account collection: GET lists the user's linked
// accounts, POST links a new one (or refreshes an existing link with a fresh
// credential).
func (h *AccountHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		accounts, err := h.accountService.ListAccounts(r.Context(), userID)
		if err != nil {
			log.Printf("Error listing accounts for user %d: %v", userID, err)
			http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
			return
		}

		responses := make([]AccountResponse, 0, len(accounts))
		for _, acc := range accounts {
			responses = append(responses, toAccountResponse(acc))
		}
		writeJSON(w, http.StatusOK, responses)

	case http.MethodPost:
		h.linkAccount(w, r, userID)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *AccountHandler) linkAccount(w http.ResponseWriter, r *http.Request, userID int64) {
	var req LinkAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	acc, err := h.accountService.LinkAccount(r.Context(), account.UpsertParams{
		UserID:            userID,
		Provider:          req.Provider,
		ItemID:            req.ItemID,
		ExternalAccountID: req.ExternalAccountID,
		InstitutionID:     req.InstitutionID,
		InstitutionName:   req.InstitutionName,
		Name:              req.Name,
		AccountType:       req.AccountType,
		Subtype:           req.Subtype,
		Mask:              req.Mask,
		Currency:          req.Currency,
		AccessToken:       req.AccessToken,
	})
	if err != nil {
		if errors.Is(err, account.ErrInvalidProvider) || errors.Is(err, account.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("Error linking account for user %d: %v", userID, err)
		http.Error(w, "Failed to link account", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(acc))
}

// HandleAccountByID handles GET (detail) and DELETE (unlink) for one account.
func (h *AccountHandler) HandleAccountByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		acc, err := h.accountService.GetAccount(r.Context(), accountID, userID)
		if err != nil {
			respondAccountError(w, accountID, err)
			return
		}
		writeJSON(w, http.StatusOK, toAccountResponse(acc))

	case http.MethodDelete:
		if err := h.accountService.UnlinkAccount(r.Context(), accountID, userID); err != nil {
			respondAccountError(w, accountID, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleAccountTransactions returns the most recent transactions for an account.
func (h *AccountHandler) HandleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	accountID := r.PathValue("id")
	if _, err := h.accountService.GetAccount(r.Context(), accountID, userID); err != nil {
		respondAccountError(w, accountID, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	transactions, err := h.transactions.ListByAccountID(r.Context(), accountID, limit)
	if err != nil {
		log.Printf("Error listing transactions for account %s: %v", accountID, err)
		http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, transactions)
}

// ReauthorizeRequest carries the fresh provider credential after relink.
type ReauthorizeRequest struct {
	AccessToken string `json:"accessToken"`
}

// HandleReauthorize records a fresh credential and returns the account to the
// sync rotation.
func (h *AccountHandler) HandleReauthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := requestUserID(w, r)
	if !ok {
		return
	}

	var req ReauthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	accountID := r.PathValue("id")
	if err := h.accountService.MarkReauthorized(r.Context(), accountID, userID, req.AccessToken); err != nil {
		respondAccountError(w, accountID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

// requestUserID reads the authenticated user from the X-User-ID header set by
// the fronting gateway.
func requestUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func respondAccountError(w http.ResponseWriter, accountID string, err error) {
	if errors.Is(err, account.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	log.Printf("Account %s request failed: %v", accountID, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

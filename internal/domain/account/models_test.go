package account

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMergeStatus(t *testing.T) {
	tests := []struct {
		name string
		a, b SyncStatus
		want SyncStatus
	}{
		{"synced + synced", SyncStatusSynced, SyncStatusSynced, SyncStatusSynced},
		{"synced + error", SyncStatusSynced, SyncStatusError, SyncStatusError},
		{"error + synced", SyncStatusError, SyncStatusSynced, SyncStatusError},
		{"error + reauth", SyncStatusError, SyncStatusReauthRequired, SyncStatusReauthRequired},
		{"reauth + error", SyncStatusReauthRequired, SyncStatusError, SyncStatusReauthRequired},
		{"pending + synced", SyncStatusPending, SyncStatusSynced, SyncStatusSynced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeStatus(tt.a, tt.b); got != tt.want {
				t.Errorf("MergeStatus(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSyncStatus_Syncable(t *testing.T) {
	if SyncStatusReauthRequired.Syncable() {
		t.Error("reauth_required accounts must not be syncable")
	}
	for _, s := range []SyncStatus{SyncStatusPending, SyncStatusSynced, SyncStatusError} {
		if !s.Syncable() {
			t.Errorf("%s should be syncable", s)
		}
	}
}

func TestUpsertParams_Validate(t *testing.T) {
	valid := UpsertParams{
		UserID:            1,
		Provider:          "plaid",
		ItemID:            "item-1",
		ExternalAccountID: "acc-1",
		Name:              "Checking",
		Currency:          "USD",
		AccessToken:       "access-token",
		BalanceCurrent:    decimal.NewFromInt(100),
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*UpsertParams)
	}{
		{"missing user", func(p *UpsertParams) { p.UserID = 0 }},
		{"unknown provider", func(p *UpsertParams) { p.Provider = "yodlee" }},
		{"missing item", func(p *UpsertParams) { p.ItemID = "" }},
		{"missing external id", func(p *UpsertParams) { p.ExternalAccountID = "" }},
		{"missing name", func(p *UpsertParams) { p.Name = "" }},
		{"bad currency", func(p *UpsertParams) { p.Currency = "DOLLARS" }},
		{"missing token", func(p *UpsertParams) { p.AccessToken = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid
			tt.mutate(&params)
			if err := params.Validate(); err == nil {
				t.Error("Validate() accepted invalid params")
			}
		})
	}
}

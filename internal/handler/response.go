package handler

import (
	"net/http"

	"github.com/payloom/link-server-go/internal/httputil"
	"github.com/payloom/link-server-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

type linkedAccountResponse struct {
	UserID           string `json:"userId"`
	BankID           string `json:"bankId"`
	AccountID        string `json:"accountId"`
	FundingSourceURL string `json:"fundingSourceUrl"`
	ShareableID      string `json:"shareableId"`
}

// formatRecord shapes the completion response. The access token stays out of
// anything the client can see.
func formatRecord(record *model.BankAccountRecord) linkedAccountResponse {
	return linkedAccountResponse{
		UserID:           record.UserID,
		BankID:           record.BankID,
		AccountID:        record.AccountID,
		FundingSourceURL: record.FundingSourceURL,
		ShareableID:      record.ShareableID,
	}
}

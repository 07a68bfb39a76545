package domain

import "time"

// SelectedLogistics records the logistics counterparty chosen for a retail order.
type SelectedLogistics struct {
	ID                     string
	TransactionID          string
	ProviderID             string
	LogisticsTransactionID string
	Selected               *SelectedLogisticsPayload
	CreatedAt              time.Time
}

// SelectedLogisticsPayload is the on_search/on_select response the selection was made from.
type SelectedLogisticsPayload struct {
	Context Context `json:"context"`
}

// DelegateContext is what a cascade needs to address the counterparty.
func (s *SelectedLogistics) DelegateContext() (transactionID, bppID, bppURI string) {
	if s == nil || s.Selected == nil {
		return "", "", ""
	}
	ctx := s.Selected.Context
	transactionID = ctx.TransactionID
	if transactionID == "" {
		transactionID = s.LogisticsTransactionID
	}
	return transactionID, ctx.BppID, ctx.BppURI
}

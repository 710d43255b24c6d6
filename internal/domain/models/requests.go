package models

// Requests for market HTTP endpoints. Defined in domain for consistency and reuse.

type HistoryRequest struct {
	Symbol   string `param:"symbol" json:"symbol" validate:"required,max=32"`
	Exchange string `query:"exchange" json:"exchange" validate:"omitempty,max=16"`
	Limit    int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=5000"`
}

type LivePricesRequest struct {
	Exchange string `query:"exchange" json:"exchange" validate:"omitempty,max=16"`
}

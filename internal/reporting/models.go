package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DocumentsSummaryRequest requests aggregated document metrics.
// Owner isolation: OwnerID is required.

type DocumentsSummaryRequest struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

type DocumentsSummary struct {
	OwnerID string `json:"owner_id"`

	TotalDocuments     int `json:"total_documents"`
	DraftDocuments     int `json:"draft_documents"`
	PendingDocuments   int `json:"pending_documents"`
	CompletedDocuments int `json:"completed_documents"`
	VoidedDocuments    int `json:"voided_documents"`
	ExpiredDocuments   int `json:"expired_documents"`

	SelfSignDocuments int `json:"self_sign_documents"`

	// CompletionRate is completed over everything that left draft.
	CompletionRate float64 `json:"completion_rate"`

	// AverageCompletionSeconds measures creation to completion, over
	// completed documents only.
	AverageCompletionSeconds int `json:"average_completion_seconds"`
}

// SignerFunnelRequest requests invitation funnel metrics across an owner's
// documents.

type SignerFunnelRequest struct {
	OwnerID string    `json:"owner_id"`
	Range   TimeRange `json:"range"`
}

type SignerFunnel struct {
	OwnerID string `json:"owner_id"`

	Invited  int `json:"invited"`
	Viewed   int `json:"viewed"`
	Signed   int `json:"signed"`
	Declined int `json:"declined"`

	ViewRate float64 `json:"view_rate"`
	SignRate float64 `json:"sign_rate"`
}

package rebate

import (
	"strings"
	"time"
)

// Parent-rebate statuses with lifecycle significance. The status directory
// stores these on the rebate-level parent record shared by a rebate's three
// forms, not on the per-form child records.
const (
	StatusEditsRequested = "Edits Requested"
	StatusWithdrawn      = "Withdrawn"
	StatusSelected       = "Selected"
	StatusAccepted       = "Accepted"
)

// ParentRebateStatus holds the rebate-level status fields resolved from the
// parent record relationship. One field exists per form stage.
type ParentRebateStatus struct {
	ID                    string `json:"id"`
	FundingRequestStatus  string `json:"fundingRequestStatus"`
	PaymentRequestStatus  string `json:"paymentRequestStatus"`
	CloseoutRequestStatus string `json:"closeoutRequestStatus"`
	ReimbursementNeeded   bool   `json:"reimbursementNeeded"`
}

// StatusFor returns the parent-rebate status field for the given form stage.
func (p ParentRebateStatus) StatusFor(formType FormType) string {
	switch formType {
	case FormTypeFRF:
		return p.FundingRequestStatus
	case FormTypePRF:
		return p.PaymentRequestStatus
	case FormTypeCRF:
		return p.CloseoutRequestStatus
	}
	return ""
}

// StatusRecord is the status directory's view of one form submission,
// resolved once at the client boundary. Optional upstream relationship
// fields collapse to zero values here.
type StatusRecord struct {
	ID             string             `json:"id"`
	ComboKey       string             `json:"comboKey"`
	FormID         string             `json:"formId"` // form store document ID
	ReviewItemID   string             `json:"reviewItemId"`
	RebateID       string             `json:"rebateId"`
	RecordTypeName string             `json:"recordTypeName"`
	ProgramYear    string             `json:"programYear"`
	LastModified   *time.Time         `json:"lastModified"`
	ParentRebate   ParentRebateStatus `json:"parentRebate"`
}

// FormType derives the form stage from the status directory's record type
// label, e.g. "CSB Payment Request 2023".
func (r StatusRecord) FormType() FormType {
	switch {
	case strings.Contains(r.RecordTypeName, "Funding"):
		return FormTypeFRF
	case strings.Contains(r.RecordTypeName, "Payment"):
		return FormTypePRF
	case strings.Contains(r.RecordTypeName, "Close"):
		return FormTypeCRF
	}
	return ""
}

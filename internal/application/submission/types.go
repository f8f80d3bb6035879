package submission

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/entity"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/bap"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/formio"
)

// BAPClient is the status directory surface the service depends on.
type BAPClient interface {
	GetSamEntities(ctx context.Context, email string) ([]entity.SamEntity, error)
	GetStatusRecords(ctx context.Context, comboKeys []string) ([]rebate.StatusRecord, error)
	GetSubmissionRecord(ctx context.Context, rebateYear string, formType rebate.FormType, rebateID, formID string) (*rebate.StatusRecord, error)
	GetPRFSeedData(ctx context.Context, rebateYear, frfReviewItemID string) (*bap.PRFSeedData, error)
	GetCRFSeedData(ctx context.Context, rebateYear, frfReviewItemID, prfReviewItemID string) (*bap.CRFSeedData, error)
	CheckDuplicates(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// FormStore is the form store surface the service depends on.
type FormStore interface {
	GetForm(ctx context.Context, rebateYear string, formType rebate.FormType) (*formio.Form, error)
	ListSubmissions(ctx context.Context, rebateYear string, formType rebate.FormType, comboKeys []string) ([]formio.Submission, error)
	GetSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) (*formio.Submission, error)
	CreateSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, payload formio.SubmissionPayload) (*formio.Submission, error)
	UpdateSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string, payload formio.SubmissionPayload) (*formio.Submission, error)
	DeleteSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) error
	StorageGet(ctx context.Context, rebateYear string, formType rebate.FormType, query url.Values) (json.RawMessage, error)
	StoragePost(ctx context.Context, rebateYear string, formType rebate.FormType, body json.RawMessage) (json.RawMessage, error)
	ExportPDF(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) ([]byte, string, error)
}

// FormSchema pairs a form's schema document with its source URL so the
// client can render and submit against the same endpoint.
type FormSchema struct {
	URL  string       `json:"url"`
	JSON *formio.Form `json:"json"`
}

// Envelope is the single-submission fetch response. UserAccess false means
// the user may not view the submission; the other fields are then null and
// the response carries no data.
type Envelope struct {
	UserAccess bool               `json:"userAccess"`
	FormSchema *FormSchema        `json:"formSchema"`
	Submission *formio.Submission `json:"submission"`
}

// CreatePRFRequest carries the client's context for seeding a new payment
// request from its selected application.
type CreatePRFRequest struct {
	ComboKey        string `json:"comboKey"`
	RebateID        string `json:"rebateId"`
	FRFReviewItemID string `json:"frfReviewItemId"`
	FRFFormModified string `json:"frfFormModified"`
}

// CreateCRFRequest carries the client's context for seeding a new close-out
// form from its application and payment request.
type CreateCRFRequest struct {
	ComboKey        string `json:"comboKey"`
	RebateID        string `json:"rebateId"`
	FRFReviewItemID string `json:"frfReviewItemId"`
	PRFReviewItemID string `json:"prfReviewItemId"`
	PRFFormModified string `json:"prfFormModified"`
}

// SamDataResponse lists the SAM.gov entities a user may act for.
type SamDataResponse struct {
	Results  bool               `json:"results"`
	Entities []entity.SamEntity `json:"entities"`
}

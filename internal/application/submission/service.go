// Package submission implements the portal's submission operations: listing
// reconciled submissions, gating reads and writes on entity access and
// enrollment periods, and seeding dependent forms from prior stages.
package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/access"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/entity"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/formio"
)

// Service coordinates the form store and the status directory behind the
// portal's submission endpoints.
type Service struct {
	periods   config.PeriodsConfig
	formioCfg config.FormioConfig
	metadata  map[string]any
	bap       BAPClient
	forms     FormStore
	auth      *access.Authorizer
	logger    *zap.Logger
}

func NewService(cfg *config.Config, bapClient BAPClient, forms FormStore, auth *access.Authorizer, logger *zap.Logger) *Service {
	return &Service{
		periods:   cfg.Periods,
		formioCfg: cfg.Formio,
		// Tags every submission document written through this wrapper.
		metadata: map[string]any{"csb-app-cy": cfg.App.Env},
		bap:      bapClient,
		forms:    forms,
		auth:     auth,
		logger:   logger,
	}
}

// ListSubmissions returns the user's submissions for one rebate year and
// form type, each joined with its status directory record.
func (s *Service) ListSubmissions(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType) ([]rebate.MergedSubmission, error) {
	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	submissions, err := s.forms.ListSubmissions(ctx, rebateYear, formType, comboKeys)
	if err != nil {
		return nil, err
	}

	records, err := s.bap.GetStatusRecords(ctx, comboKeys)
	if err != nil {
		return nil, err
	}

	merged := rebate.Merge(formType, toFormSubmissions(submissions), records)
	if merged == nil {
		merged = []rebate.MergedSubmission{}
	}
	return merged, nil
}

// GetSubmission fetches one submission with its form schema. A submission
// whose combo key the user does not hold yields an access-denied envelope,
// not an error: the client renders the refusal.
func (s *Service) GetSubmission(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, submissionID string) (*Envelope, error) {
	sub, err := s.forms.GetSubmission(ctx, rebateYear, formType, submissionID)
	if err != nil {
		return nil, err
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	comboKey := submissionComboKey(rebateYear, sub.Data)
	denial := access.Denial{
		Action:     "fetch",
		FormType:   string(formType),
		RebateYear: rebateYear,
		ResourceID: submissionID,
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return &Envelope{UserAccess: false}, nil
	}

	form, err := s.forms.GetForm(ctx, rebateYear, formType)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		UserAccess: true,
		FormSchema: &FormSchema{
			URL:  s.formioCfg.FormURL(rebateYear, string(formType)),
			JSON: form,
		},
		Submission: sub,
	}, nil
}

// CreateFRF creates a new application submission. New applications are only
// accepted while the year's application period is open; there is no
// edits-requested exception for brand new documents.
func (s *Service) CreateFRF(ctx context.Context, user access.User, rebateYear string, payload formio.SubmissionPayload) (*formio.Submission, error) {
	comboKey := submissionComboKey(rebateYear, payload.Data)
	denial := access.Denial{
		Action:     "create",
		FormType:   string(rebate.FormTypeFRF),
		RebateYear: rebateYear,
		ComboKey:   comboKey,
	}

	if !s.periods.SubmissionPeriodOpen(rebateYear, string(rebate.FormTypeFRF)) {
		s.logger.Error("User attempted to create an application while the enrollment period was closed",
			zap.String("user_email", user.Email),
			zap.String("rebate_year", rebateYear))
		s.auth.RecordDenial(user, denial, shared.ErrPeriodClosed.Code)
		return nil, periodClosedError(rebateYear, rebate.FormTypeFRF)
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return nil, err
	}

	payload.Metadata = s.mergeMetadata(payload.Metadata)
	return s.forms.CreateSubmission(ctx, rebateYear, rebate.FormTypeFRF, payload)
}

// UpdateSubmission saves an existing submission. The write is gated on the
// combo key held by the stored document, not the payload, so a forged
// payload cannot widen access.
func (s *Service) UpdateSubmission(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, submissionID string, payload formio.SubmissionPayload) (*formio.Submission, error) {
	existing, err := s.forms.GetSubmission(ctx, rebateYear, formType, submissionID)
	if err != nil {
		return nil, err
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	comboKey := submissionComboKey(rebateYear, existing.Data)
	denial := access.Denial{
		Action:     "update",
		FormType:   string(formType),
		RebateYear: rebateYear,
		ResourceID: submissionID,
		ComboKey:   comboKey,
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return nil, err
	}

	if err := s.checkWriteAllowed(ctx, rebateYear, formType, submissionID); err != nil {
		if shared.IsCode(err, shared.ErrPeriodClosed.Code) {
			s.logger.Error("User attempted to update a submission while the enrollment period was closed",
				zap.String("user_email", user.Email),
				zap.String("rebate_year", rebateYear),
				zap.String("form_type", string(formType)),
				zap.String("submission_id", submissionID))
			s.auth.RecordDenial(user, denial, shared.ErrPeriodClosed.Code)
		}
		return nil, err
	}

	payload.Metadata = s.mergeMetadata(payload.Metadata)
	return s.forms.UpdateSubmission(ctx, rebateYear, formType, submissionID, payload)
}

// DeleteSubmission removes a draft submission, used when an application
// returns to the applicant and its dependent drafts must be discarded.
func (s *Service) DeleteSubmission(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, submissionID string) error {
	existing, err := s.forms.GetSubmission(ctx, rebateYear, formType, submissionID)
	if err != nil {
		return err
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return err
	}

	comboKey := submissionComboKey(rebateYear, existing.Data)
	denial := access.Denial{
		Action:     "delete",
		FormType:   string(formType),
		RebateYear: rebateYear,
		ResourceID: submissionID,
		ComboKey:   comboKey,
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return err
	}

	return s.forms.DeleteSubmission(ctx, rebateYear, formType, submissionID)
}

// StorageDownload proxies a file metadata lookup after verifying the user
// holds the submission's combo key.
func (s *Service) StorageDownload(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, comboKey string, query url.Values) (json.RawMessage, error) {
	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, err
	}

	denial := access.Denial{
		Action:     "storage-download",
		FormType:   string(formType),
		RebateYear: rebateYear,
		ComboKey:   comboKey,
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return nil, err
	}

	return s.forms.StorageGet(ctx, rebateYear, formType, query)
}

// StorageUpload proxies a file upload registration. Uploads mutate the
// submission, so the write gate applies in addition to the combo key check.
func (s *Service) StorageUpload(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, comboKey, submissionID string, body json.RawMessage) (json.RawMessage, error) {
	denial := access.Denial{
		Action:     "storage-upload",
		FormType:   string(formType),
		RebateYear: rebateYear,
		ResourceID: submissionID,
		ComboKey:   comboKey,
	}

	if err := s.checkWriteAllowed(ctx, rebateYear, formType, submissionID); err != nil {
		if shared.IsCode(err, shared.ErrPeriodClosed.Code) {
			s.logger.Error("User attempted to upload a file while the enrollment period was closed",
				zap.String("user_email", user.Email),
				zap.String("rebate_year", rebateYear),
				zap.String("form_type", string(formType)))
			s.auth.RecordDenial(user, denial, shared.ErrPeriodClosed.Code)
		}
		return nil, err
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return nil, err
	}

	return s.forms.StoragePost(ctx, rebateYear, formType, body)
}

// ExportPDF renders a submission as a PDF. The export is read-only, so
// only the combo key gate applies, keyed on the stored document.
func (s *Service) ExportPDF(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, submissionID string) ([]byte, string, error) {
	existing, err := s.forms.GetSubmission(ctx, rebateYear, formType, submissionID)
	if err != nil {
		return nil, "", err
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return nil, "", err
	}

	comboKey := submissionComboKey(rebateYear, existing.Data)
	denial := access.Denial{
		Action:     "pdf-export",
		FormType:   string(formType),
		RebateYear: rebateYear,
		ResourceID: submissionID,
		ComboKey:   comboKey,
	}
	if err := s.auth.RequireComboKey(ctx, user, comboKeys, comboKey, denial); err != nil {
		return nil, "", err
	}

	return s.forms.ExportPDF(ctx, rebateYear, formType, submissionID)
}

// SamData returns the SAM.gov entities the user may act for.
func (s *Service) SamData(ctx context.Context, user access.User) (*SamDataResponse, error) {
	entities, err := s.bap.GetSamEntities(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if entities == nil {
		entities = []entity.SamEntity{}
	}
	return &SamDataResponse{Results: len(entities) > 0, Entities: entities}, nil
}

// CheckDuplicates forwards applicant identity data to the status
// directory's record matcher.
func (s *Service) CheckDuplicates(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return s.bap.CheckDuplicates(ctx, payload)
}

// checkWriteAllowed gates writes on the enrollment period. A closed period
// still admits writes to a submission whose status directory record says
// edits were requested. Upstream failures block the write: the gate cannot
// be answered, so it fails closed.
func (s *Service) checkWriteAllowed(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) error {
	if s.periods.SubmissionPeriodOpen(rebateYear, string(formType)) {
		return nil
	}

	record, err := s.bap.GetSubmissionRecord(ctx, rebateYear, formType, "", submissionID)
	if err != nil {
		return err
	}
	if record != nil && record.ParentRebate.StatusFor(formType) == rebate.StatusEditsRequested {
		return nil
	}
	return periodClosedError(rebateYear, formType)
}

func periodClosedError(rebateYear string, formType rebate.FormType) error {
	return shared.NewDomainError(shared.ErrPeriodClosed.Code,
		fmt.Sprintf("%s %s form enrollment period is closed", rebateYear, formType.Label()))
}

func (s *Service) mergeMetadata(metadata map[string]any) map[string]any {
	merged := make(map[string]any, len(metadata)+len(s.metadata))
	for k, v := range metadata {
		merged[k] = v
	}
	for k, v := range s.metadata {
		merged[k] = v
	}
	return merged
}

func submissionComboKey(rebateYear string, data map[string]any) string {
	key, _ := data[rebate.ComboKeyFieldName(rebateYear)].(string)
	return key
}

// toFormSubmissions projects form store documents into the reconciler's
// input shape. The full document survives in Document for the response.
func toFormSubmissions(submissions []formio.Submission) []rebate.FormSubmission {
	out := make([]rebate.FormSubmission, len(submissions))
	for i, sub := range submissions {
		out[i] = rebate.FormSubmission{
			ID:       sub.ID,
			State:    sub.State,
			Modified: sub.Modified,
			Document: submissionDocument(sub),
		}
	}
	return out
}

func submissionDocument(sub formio.Submission) map[string]any {
	raw, err := json.Marshal(sub)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

package submission

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/access"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/entity"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/audit"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/bap"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/formio"
)

type fakeBAP struct {
	entities      []entity.SamEntity
	statusRecords []rebate.StatusRecord
	record        *rebate.StatusRecord
	recordErr     error
	prfSeed       *bap.PRFSeedData
	crfSeed       *bap.CRFSeedData

	statusRecordCalls int
}

func (f *fakeBAP) GetSamEntities(_ context.Context, _ string) ([]entity.SamEntity, error) {
	return f.entities, nil
}

func (f *fakeBAP) GetComboKeys(_ context.Context, _ string) ([]string, error) {
	return entity.ComboKeys(f.entities), nil
}

func (f *fakeBAP) GetStatusRecords(_ context.Context, _ []string) ([]rebate.StatusRecord, error) {
	f.statusRecordCalls++
	return f.statusRecords, nil
}

func (f *fakeBAP) GetSubmissionRecord(_ context.Context, _ string, _ rebate.FormType, _, _ string) (*rebate.StatusRecord, error) {
	return f.record, f.recordErr
}

func (f *fakeBAP) GetPRFSeedData(_ context.Context, _, _ string) (*bap.PRFSeedData, error) {
	return f.prfSeed, nil
}

func (f *fakeBAP) GetCRFSeedData(_ context.Context, _, _, _ string) (*bap.CRFSeedData, error) {
	return f.crfSeed, nil
}

func (f *fakeBAP) CheckDuplicates(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
	return payload, nil
}

type fakeForms struct {
	submissions map[string]formio.Submission
	listed      []formio.Submission
	form        *formio.Form

	created []formio.SubmissionPayload
	updated map[string]formio.SubmissionPayload
	deleted []string
}

func newFakeForms() *fakeForms {
	return &fakeForms{
		submissions: make(map[string]formio.Submission),
		updated:     make(map[string]formio.SubmissionPayload),
		form:        &formio.Form{ID: "f1", Title: "Clean School Bus Application"},
	}
}

func (f *fakeForms) GetForm(_ context.Context, _ string, _ rebate.FormType) (*formio.Form, error) {
	return f.form, nil
}

func (f *fakeForms) ListSubmissions(_ context.Context, _ string, _ rebate.FormType, _ []string) ([]formio.Submission, error) {
	return f.listed, nil
}

func (f *fakeForms) GetSubmission(_ context.Context, _ string, _ rebate.FormType, id string) (*formio.Submission, error) {
	sub, ok := f.submissions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &sub, nil
}

func (f *fakeForms) CreateSubmission(_ context.Context, _ string, _ rebate.FormType, payload formio.SubmissionPayload) (*formio.Submission, error) {
	f.created = append(f.created, payload)
	return &formio.Submission{ID: "created-1", State: payload.State, Data: payload.Data, Metadata: payload.Metadata}, nil
}

func (f *fakeForms) UpdateSubmission(_ context.Context, _ string, _ rebate.FormType, id string, payload formio.SubmissionPayload) (*formio.Submission, error) {
	f.updated[id] = payload
	return &formio.Submission{ID: id, State: payload.State, Data: payload.Data, Metadata: payload.Metadata}, nil
}

func (f *fakeForms) DeleteSubmission(_ context.Context, _ string, _ rebate.FormType, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeForms) StorageGet(_ context.Context, _ string, _ rebate.FormType, _ url.Values) (json.RawMessage, error) {
	return json.RawMessage(`{"url":"https://bucket.example/file"}`), nil
}

func (f *fakeForms) StoragePost(_ context.Context, _ string, _ rebate.FormType, body json.RawMessage) (json.RawMessage, error) {
	return body, nil
}

func (f *fakeForms) ExportPDF(_ context.Context, _ string, _ rebate.FormType, id string) ([]byte, string, error) {
	if _, ok := f.submissions[id]; !ok {
		return nil, "", shared.ErrNotFound
	}
	return []byte("%PDF-1.4"), "application/pdf", nil
}

type capturingRecorder struct {
	denials []audit.AccessDenial
}

func (c *capturingRecorder) RecordDenial(d audit.AccessDenial) {
	c.denials = append(c.denials, d)
}

func sampleEntity(comboKey string) entity.SamEntity {
	return entity.SamEntity{
		ComboKey:          comboKey,
		UniqueEntityID:    "UEI123",
		EFTIndicator:      "",
		Status:            "Active",
		ElecBusPOCEmail:   "poc@school.example",
		LegalBusinessName: "Riverdale Schools",
	}
}

type serviceFixture struct {
	service  *Service
	bap      *fakeBAP
	forms    *fakeForms
	recorder *capturingRecorder
}

func newFixture(periodsOpen bool) *serviceFixture {
	open := map[string]map[string]bool{}
	for _, year := range []string{"2022", "2023", "2024"} {
		open[year] = map[string]bool{
			"frf": periodsOpen,
			"prf": periodsOpen,
			"crf": periodsOpen,
		}
	}

	cfg := &config.Config{
		App:     config.AppConfig{Env: "test"},
		Periods: config.PeriodsConfig{Open: open},
		Formio: config.FormioConfig{
			BaseURL:     "https://forms.example",
			ProjectName: "csb",
			Forms: map[string]map[string]string{
				"2022": {"frf": "frf-2022", "prf": "prf-2022", "crf": "crf-2022"},
				"2023": {"frf": "frf-2023", "prf": "prf-2023", "crf": "crf-2023"},
			},
		},
	}

	fakeBap := &fakeBAP{entities: []entity.SamEntity{sampleEntity("UEI1230000")}}
	forms := newFakeForms()
	recorder := &capturingRecorder{}
	auth := access.NewAuthorizer(fakeBap, nil, recorder, zap.NewNop())

	return &serviceFixture{
		service:  NewService(cfg, fakeBap, forms, auth, zap.NewNop()),
		bap:      fakeBap,
		forms:    forms,
		recorder: recorder,
	}
}

var testUser = access.User{Email: "poc@school.example", Name: "Jordan Miles", Title: "Transportation Director"}

func TestListSubmissionsMergesStatusRecords(t *testing.T) {
	f := newFixture(true)

	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	bapModified := modified.Add(-time.Hour)
	f.forms.listed = []formio.Submission{
		{ID: "sub1", State: "submitted", Modified: modified, Data: map[string]any{"_bap_entity_combo_key": "UEI1230000"}},
		{ID: "sub2", State: "draft", Modified: modified, Data: map[string]any{"_bap_entity_combo_key": "UEI1230000"}},
	}
	f.bap.statusRecords = []rebate.StatusRecord{
		{
			FormID:       "sub1",
			ComboKey:     "UEI1230000",
			RebateID:     "123456",
			ReviewItemID: "123456001",
			LastModified: &bapModified,
			ParentRebate: rebate.ParentRebateStatus{FundingRequestStatus: "Accepted"},
		},
	}

	merged, err := f.service.ListSubmissions(context.Background(), testUser, "2023", rebate.FormTypeFRF)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	require.NotNil(t, merged[0].BAP.RebateID)
	assert.Equal(t, "123456", *merged[0].BAP.RebateID)
	assert.True(t, merged[0].HasBeenUpdated)

	// second submission has no status record yet
	assert.Nil(t, merged[1].BAP.RebateID)
	assert.Equal(t, "draft", merged[1].DisplayStatus)
}

func TestGetSubmissionDeniedEnvelope(t *testing.T) {
	f := newFixture(true)
	f.forms.submissions["sub1"] = formio.Submission{
		ID:   "sub1",
		Data: map[string]any{"_bap_entity_combo_key": "UEI9990000"},
	}

	envelope, err := f.service.GetSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1")
	require.NoError(t, err)
	assert.False(t, envelope.UserAccess)
	assert.Nil(t, envelope.FormSchema)
	assert.Nil(t, envelope.Submission)
	assert.Len(t, f.recorder.denials, 1)
}

func TestGetSubmissionGranted(t *testing.T) {
	f := newFixture(true)
	f.forms.submissions["sub1"] = formio.Submission{
		ID:   "sub1",
		Data: map[string]any{"_bap_entity_combo_key": "UEI1230000"},
	}

	envelope, err := f.service.GetSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1")
	require.NoError(t, err)
	assert.True(t, envelope.UserAccess)
	require.NotNil(t, envelope.FormSchema)
	assert.Equal(t, "https://forms.example/csb/frf-2023", envelope.FormSchema.URL)
	require.NotNil(t, envelope.Submission)
	assert.Equal(t, "sub1", envelope.Submission.ID)
}

func TestCreateFRF(t *testing.T) {
	payload := formio.SubmissionPayload{
		State: "draft",
		Data:  map[string]any{"_bap_entity_combo_key": "UEI1230000"},
	}

	t.Run("period open and authorized", func(t *testing.T) {
		f := newFixture(true)

		sub, err := f.service.CreateFRF(context.Background(), testUser, "2023", payload)
		require.NoError(t, err)
		assert.Equal(t, "created-1", sub.ID)

		require.Len(t, f.forms.created, 1)
		assert.Equal(t, "test", f.forms.created[0].Metadata["csb-app-cy"])
	})

	t.Run("period closed is denied outright", func(t *testing.T) {
		f := newFixture(false)

		_, err := f.service.CreateFRF(context.Background(), testUser, "2023", payload)
		require.Error(t, err)
		assert.True(t, shared.IsCode(err, shared.ErrPeriodClosed.Code))
		assert.Empty(t, f.forms.created)

		require.Len(t, f.recorder.denials, 1)
		assert.Equal(t, "PERIOD_CLOSED", f.recorder.denials[0].Reason)
	})

	t.Run("unknown combo key is unauthorized", func(t *testing.T) {
		f := newFixture(true)

		_, err := f.service.CreateFRF(context.Background(), testUser, "2023", formio.SubmissionPayload{
			Data: map[string]any{"_bap_entity_combo_key": "UEI9990000"},
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
		assert.Empty(t, f.forms.created)
	})
}

func TestUpdateSubmission(t *testing.T) {
	stored := formio.Submission{
		ID:   "sub1",
		Data: map[string]any{"_bap_entity_combo_key": "UEI1230000"},
	}
	payload := formio.SubmissionPayload{State: "submitted", Data: map[string]any{"applicantName": "Riverdale"}}

	t.Run("period open", func(t *testing.T) {
		f := newFixture(true)
		f.forms.submissions["sub1"] = stored

		_, err := f.service.UpdateSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1", payload)
		require.NoError(t, err)
		assert.Contains(t, f.forms.updated, "sub1")
		assert.Equal(t, "test", f.forms.updated["sub1"].Metadata["csb-app-cy"])
	})

	t.Run("access gated on the stored document's combo key", func(t *testing.T) {
		f := newFixture(true)
		f.forms.submissions["sub1"] = formio.Submission{
			ID:   "sub1",
			Data: map[string]any{"_bap_entity_combo_key": "UEI9990000"},
		}

		_, err := f.service.UpdateSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1", payload)
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
		assert.Empty(t, f.forms.updated)
	})

	t.Run("closed period allows writes when edits were requested", func(t *testing.T) {
		f := newFixture(false)
		f.forms.submissions["sub1"] = stored
		f.bap.record = &rebate.StatusRecord{
			FormID:       "sub1",
			ParentRebate: rebate.ParentRebateStatus{FundingRequestStatus: rebate.StatusEditsRequested},
		}

		_, err := f.service.UpdateSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1", payload)
		require.NoError(t, err)
		assert.Contains(t, f.forms.updated, "sub1")
	})

	t.Run("closed period without edits requested is denied", func(t *testing.T) {
		f := newFixture(false)
		f.forms.submissions["sub1"] = stored
		f.bap.record = &rebate.StatusRecord{
			FormID:       "sub1",
			ParentRebate: rebate.ParentRebateStatus{FundingRequestStatus: "Accepted"},
		}

		_, err := f.service.UpdateSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1", payload)
		assert.True(t, shared.IsCode(err, shared.ErrPeriodClosed.Code))
		assert.Empty(t, f.forms.updated)

		require.Len(t, f.recorder.denials, 1)
		assert.Equal(t, "PERIOD_CLOSED", f.recorder.denials[0].Reason)
	})

	t.Run("closed period with no status record is denied", func(t *testing.T) {
		f := newFixture(false)
		f.forms.submissions["sub1"] = stored
		f.bap.record = nil

		_, err := f.service.UpdateSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1", payload)
		assert.True(t, shared.IsCode(err, shared.ErrPeriodClosed.Code))
	})

	t.Run("upstream failure blocks the write", func(t *testing.T) {
		f := newFixture(false)
		f.forms.submissions["sub1"] = stored
		f.bap.recordErr = shared.ErrUpstreamQuery

		_, err := f.service.UpdateSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1", payload)
		assert.ErrorIs(t, err, shared.ErrUpstreamQuery)
		assert.Empty(t, f.forms.updated)
	})
}

func TestDeleteSubmission(t *testing.T) {
	f := newFixture(true)
	f.forms.submissions["sub1"] = formio.Submission{
		ID:   "sub1",
		Data: map[string]any{"_bap_entity_combo_key": "UEI1230000"},
	}

	require.NoError(t, f.service.DeleteSubmission(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1"))
	assert.Equal(t, []string{"sub1"}, f.forms.deleted)
}

func TestStorage(t *testing.T) {
	t.Run("download requires the combo key", func(t *testing.T) {
		f := newFixture(true)

		_, err := f.service.StorageDownload(context.Background(), testUser, "2023", rebate.FormTypeFRF, "UEI9990000", url.Values{})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)

		result, err := f.service.StorageDownload(context.Background(), testUser, "2023", rebate.FormTypeFRF, "UEI1230000", url.Values{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"url":"https://bucket.example/file"}`, string(result))
	})

	t.Run("upload is write gated", func(t *testing.T) {
		f := newFixture(false)
		f.bap.record = nil

		_, err := f.service.StorageUpload(context.Background(), testUser, "2023", rebate.FormTypeFRF,
			"UEI1230000", "sub1", json.RawMessage(`{"name":"photo.jpg"}`))
		assert.True(t, shared.IsCode(err, shared.ErrPeriodClosed.Code))
	})

	t.Run("upload allowed while open", func(t *testing.T) {
		f := newFixture(true)

		result, err := f.service.StorageUpload(context.Background(), testUser, "2023", rebate.FormTypeFRF,
			"UEI1230000", "sub1", json.RawMessage(`{"name":"photo.jpg"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"photo.jpg"}`, string(result))
	})
}

func TestExportPDF(t *testing.T) {
	stored := formio.Submission{
		ID:   "sub1",
		Data: map[string]any{"_bap_entity_combo_key": "UEI1230000"},
	}

	t.Run("gated on the stored document's combo key", func(t *testing.T) {
		f := newFixture(true)
		f.forms.submissions["sub1"] = formio.Submission{
			ID:   "sub1",
			Data: map[string]any{"_bap_entity_combo_key": "UEI9990000"},
		}

		_, _, err := f.service.ExportPDF(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1")
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
		require.Len(t, f.recorder.denials, 1)
		assert.Equal(t, "pdf-export", f.recorder.denials[0].Action)
	})

	t.Run("streams the document when authorized", func(t *testing.T) {
		f := newFixture(true)
		f.forms.submissions["sub1"] = stored

		pdf, contentType, err := f.service.ExportPDF(context.Background(), testUser, "2023", rebate.FormTypeFRF, "sub1")
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", contentType)
		assert.Equal(t, []byte("%PDF-1.4"), pdf)
	})
}

func TestSamData(t *testing.T) {
	f := newFixture(true)

	resp, err := f.service.SamData(context.Background(), testUser)
	require.NoError(t, err)
	assert.True(t, resp.Results)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "UEI1230000", resp.Entities[0].ComboKey)

	t.Run("no registrations", func(t *testing.T) {
		f := newFixture(true)
		f.bap.entities = nil

		resp, err := f.service.SamData(context.Background(), testUser)
		require.NoError(t, err)
		assert.False(t, resp.Results)
		assert.NotNil(t, resp.Entities)
	})
}

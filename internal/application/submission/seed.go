package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/access"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/entity"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/bap"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/formio"
)

// CreatePRF seeds and creates a new payment request draft from the user's
// selected application. The applicant identity and entity fields are
// resolved server side; the client only names which rebate to continue.
func (s *Service) CreatePRF(ctx context.Context, user access.User, rebateYear string, req CreatePRFRequest) (*formio.Submission, error) {
	denial := access.Denial{
		Action:     "create",
		FormType:   string(rebate.FormTypePRF),
		RebateYear: rebateYear,
		ResourceID: req.RebateID,
		ComboKey:   req.ComboKey,
	}
	if err := s.checkSeedAllowed(ctx, user, rebateYear, rebate.FormTypePRF, denial); err != nil {
		return nil, err
	}

	ent, err := s.userEntity(ctx, user, req.ComboKey)
	if err != nil {
		return nil, err
	}

	seed, err := s.bap.GetPRFSeedData(ctx, rebateYear, req.FRFReviewItemID)
	if err != nil {
		return nil, err
	}

	mapping, err := rebate.LookupSeedMapping(rebateYear, rebate.FormTypePRF)
	if err != nil {
		return nil, err
	}

	seedCtx := rebate.SeedContext{
		"user":   userContext(user, ent),
		"entity": entityFields(ent),
		"request": {
			"comboKey":        req.ComboKey,
			"rebateId":        req.RebateID,
			"frfFormModified": req.FRFFormModified,
		},
		"record": seed.Record,
	}

	data := mapping.Build(seedCtx)
	data["busInfo"] = prfBusInfo(rebateYear, seed)
	if rebateYear == "2022" {
		// The purchase orders grid initializes as an object unless the
		// seed provides an empty array.
		data["purchaseOrders"] = []any{}
	}

	s.logger.Info("Seeding a new payment request draft",
		zap.String("user_email", user.Email),
		zap.String("rebate_year", rebateYear),
		zap.String("rebate_id", req.RebateID))

	return s.forms.CreateSubmission(ctx, rebateYear, rebate.FormTypePRF, formio.SubmissionPayload{
		State:    "draft",
		Data:     data,
		Metadata: s.mergeMetadata(nil),
	})
}

// CreateCRF seeds and creates a new close-out draft, drawing fleet fields
// from the application record and applicant and cost fields from the
// payment request record.
func (s *Service) CreateCRF(ctx context.Context, user access.User, rebateYear string, req CreateCRFRequest) (*formio.Submission, error) {
	denial := access.Denial{
		Action:     "create",
		FormType:   string(rebate.FormTypeCRF),
		RebateYear: rebateYear,
		ResourceID: req.RebateID,
		ComboKey:   req.ComboKey,
	}
	if err := s.checkSeedAllowed(ctx, user, rebateYear, rebate.FormTypeCRF, denial); err != nil {
		return nil, err
	}

	ent, err := s.userEntity(ctx, user, req.ComboKey)
	if err != nil {
		return nil, err
	}

	seed, err := s.bap.GetCRFSeedData(ctx, rebateYear, req.FRFReviewItemID, req.PRFReviewItemID)
	if err != nil {
		return nil, err
	}

	mapping, err := rebate.LookupSeedMapping(rebateYear, rebate.FormTypeCRF)
	if err != nil {
		return nil, err
	}

	seedCtx := rebate.SeedContext{
		"user":   userContext(user, ent),
		"entity": entityFields(ent),
		"request": {
			"comboKey":        req.ComboKey,
			"rebateId":        req.RebateID,
			"prfFormModified": req.PRFFormModified,
		},
		"frf": seed.FRFRecord,
		"prf": seed.PRFRecord,
	}

	data := mapping.Build(seedCtx)
	data["busInfo"] = crfBusInfo(seed.BusRecords)

	s.logger.Info("Seeding a new close-out draft",
		zap.String("user_email", user.Email),
		zap.String("rebate_year", rebateYear),
		zap.String("rebate_id", req.RebateID))

	return s.forms.CreateSubmission(ctx, rebateYear, rebate.FormTypeCRF, formio.SubmissionPayload{
		State:    "draft",
		Data:     data,
		Metadata: s.mergeMetadata(nil),
	})
}

// checkSeedAllowed gates dependent form creation: the period must be open
// and the user must hold the named combo key.
func (s *Service) checkSeedAllowed(ctx context.Context, user access.User, rebateYear string, formType rebate.FormType, denial access.Denial) error {
	if !s.periods.SubmissionPeriodOpen(rebateYear, string(formType)) {
		s.logger.Error("User attempted to create a dependent form while the enrollment period was closed",
			zap.String("user_email", user.Email),
			zap.String("rebate_year", rebateYear),
			zap.String("form_type", string(formType)))
		s.auth.RecordDenial(user, denial, shared.ErrPeriodClosed.Code)
		return periodClosedError(rebateYear, formType)
	}

	comboKeys, err := s.auth.ComboKeys(ctx, user.Email)
	if err != nil {
		return err
	}
	return s.auth.RequireComboKey(ctx, user, comboKeys, denial.ComboKey, denial)
}

// userEntity resolves the SAM.gov entity behind an authorized combo key.
// The combo key was just verified against the same source, so a miss means
// the upstream registration data changed mid-request.
func (s *Service) userEntity(ctx context.Context, user access.User, comboKey string) (entity.SamEntity, error) {
	entities, err := s.bap.GetSamEntities(ctx, user.Email)
	if err != nil {
		return entity.SamEntity{}, err
	}
	ent, ok := entity.FindByComboKey(entities, comboKey)
	if !ok {
		return entity.SamEntity{}, fmt.Errorf("%w: no SAM.gov entity for combo key %q",
			shared.ErrUpstreamDataIncomplete, comboKey)
	}
	return ent, nil
}

// userContext builds the acting user's seed namespace. Name and title come
// from the session claims, falling back to the entity's point-of-contact
// record matching the user's email.
func userContext(user access.User, ent entity.SamEntity) map[string]any {
	name, title := user.Name, user.Title
	if name == "" || title == "" {
		if poc, ok := ent.ContactFor(user.Email); ok {
			if name == "" {
				name = poc.Name
			}
			if title == "" {
				title = poc.Title
			}
		}
	}
	return map[string]any{
		"email": user.Email,
		"title": title,
		"name":  name,
	}
}

// entityFields projects a SAM.gov entity into the seed context namespace,
// keyed by the upstream field names the mapping table uses.
func entityFields(ent entity.SamEntity) map[string]any {
	raw, err := json.Marshal(ent)
	if err != nil {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil
	}
	return fields
}

// prfBusInfo builds the bus grid rows for a payment request seed. The
// source field names shifted between the 2022 and 2023 schemas; the row
// shape the form expects did not.
func prfBusInfo(rebateYear string, seed *bap.PRFSeedData) []map[string]any {
	districtID := seed.Record["CSB_NCES_ID__c"]

	rows := make([]map[string]any, 0, len(seed.BusRecords))
	for _, bus := range seed.BusRecords {
		row := map[string]any{
			"busNum":               bus["Rebate_Item_num__c"],
			"oldBusVin":            bus["CSB_VIN__c"],
			"oldBusModelYear":      bus["CSB_Model_Year__c"],
			"oldBusFuelType":       bus["CSB_Fuel_Type__c"],
			"oldBusNcesDistrictId": districtID,
		}
		if rebateYear == "2022" {
			row["newBusFuelType"] = bus["CSB_Replacement_Fuel_Type__c"]
			row["hidden_bap_max_rebate"] = bus["CSB_Funds_Requested__c"]
		} else {
			row["oldBusNcesDistrictId"] = bus["Old_Bus_NCES_District_ID__c"]
			row["newBusFuelType"] = bus["New_Bus_Fuel_Type__c"]
			row["hidden_bap_max_rebate"] = bus["New_Bus_Infra_Rebate_Requested__c"]
		}
		rows = append(rows, row)
	}
	return rows
}

// crfBusInfo builds the bus grid rows for a close-out seed from the
// payment request's "New Bus" line items.
func crfBusInfo(buses []bap.NewBusLineItem) []map[string]any {
	rows := make([]map[string]any, 0, len(buses))
	for _, bus := range buses {
		row := map[string]any{
			"busNum":               bus.RebateItemNum,
			"oldBusVin":            bus.VIN,
			"oldBusModelYear":      bus.ModelYear,
			"oldBusFuelType":       bus.FuelType,
			"oldBusNcesDistrictId": bus.OldBusNCESDistrict,
			"newBusFuelType":       bus.NewBusFuelType,
			"newBusMake":           bus.NewBusMake,
			"newBusModel":          bus.NewBusModel,
			"newBusModelYear":      bus.NewBusModelYear,
			"newBusGvwr":           bus.NewBusGVWR,
			"newBusRebateAmount":   bus.NewBusRebateAmount,
			"newBusPurchasePrice":  bus.NewBusPurchasePrice,
		}
		if bus.RelatedLineItem != nil {
			row["newBusManufacturer"] = bus.RelatedLineItem.VendorName
		}
		rows = append(rows, row)
	}
	return rows
}

package rebate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
)

// EFTISentinel replaces an empty-string EFT indicator. Upstream emits "" for
// entities without an indicator, which is a valid value distinct from a
// missing field, and dependent forms expect the normalized sentinel.
const EFTISentinel = "0000"

// SeedContext holds the namespaced source data a seed mapping reads from.
// Conventional namespaces: "user", "entity", "request", and one namespace
// per antecedent record set (e.g. "record", or "frf" and "prf" for the
// close-out form which draws from two prior stages).
type SeedContext map[string]map[string]any

// Resolve walks a namespaced dotted path ("entity.UNIQUE_ENTITY_ID__c",
// "record.Primary_Applicant__r.Name") through the context. The second
// return is false when any segment is absent.
func (c SeedContext) Resolve(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return nil, false
	}

	ns, ok := c[segments[0]]
	if !ok {
		return nil, false
	}

	var current any = ns
	for _, segment := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// FieldMapping maps one destination hidden field in a dependent form to its
// source in the seed context. Exactly one of Source or Object drives the
// value; Default applies when the source is absent. Fields with no Default
// are left unset when their source is missing, never written as "".
type FieldMapping struct {
	Target  string            `validate:"required"`
	Source  string            `validate:"required_without=Object,excluded_with=Object"`
	Object  map[string]string `validate:"omitempty,min=1"`
	Default *string
	// EFTI normalizes an empty-string value to the "0000" sentinel.
	EFTI bool
}

// SeedMapping is the full field mapping for one dependent form seed, keyed
// by rebate year and form type. Field names differ materially between
// rebate-year schema versions, so new years are added as new mappings, not
// new code paths.
type SeedMapping struct {
	RebateYear string         `validate:"required,oneof=2022 2023 2024"`
	FormType   FormType       `validate:"required,oneof=prf crf"`
	Fields     []FieldMapping `validate:"required,min=1,dive"`
}

// Build evaluates the mapping against the given context.
func (m SeedMapping) Build(ctx SeedContext) map[string]any {
	data := make(map[string]any, len(m.Fields))
	for _, field := range m.Fields {
		if field.Object != nil {
			nested := make(map[string]any, len(field.Object))
			for key, source := range field.Object {
				if value, ok := ctx.Resolve(source); ok {
					nested[key] = value
				}
			}
			data[field.Target] = nested
			continue
		}

		value, ok := ctx.Resolve(field.Source)
		if !ok {
			if field.Default != nil {
				data[field.Target] = *field.Default
			}
			continue
		}
		if field.EFTI {
			if s, isString := value.(string); isString && s == "" {
				value = EFTISentinel
			}
		}
		data[field.Target] = value
	}
	return data
}

// LookupSeedMapping returns the seed mapping for a rebate year and dependent
// form type.
func LookupSeedMapping(rebateYear string, formType FormType) (SeedMapping, error) {
	for _, m := range seedMappings {
		if m.RebateYear == rebateYear && m.FormType == formType {
			return m, nil
		}
	}
	return SeedMapping{}, shared.NewDomainError("INVALID_INPUT",
		fmt.Sprintf("no seed mapping for rebate year %q form type %q", rebateYear, formType))
}

// ValidateSeedMappings checks every registered mapping at startup so a
// malformed table fails the process before it serves traffic.
func ValidateSeedMappings(validate *validator.Validate) error {
	for _, m := range seedMappings {
		if err := validate.Struct(m); err != nil {
			return fmt.Errorf("seed mapping %s/%s: %w", m.RebateYear, m.FormType, err)
		}
	}
	return nil
}

func str(s string) *string { return &s }

var seedMappings = []SeedMapping{
	{
		RebateYear: "2022",
		FormType:   FormTypePRF,
		Fields: []FieldMapping{
			{Target: "bap_hidden_entity_combo_key", Source: "request.comboKey"},
			{Target: "hidden_application_form_modified", Source: "request.frfFormModified"},
			{Target: "hidden_current_user_email", Source: "user.email"},
			{Target: "hidden_current_user_title", Source: "user.title"},
			{Target: "hidden_current_user_name", Source: "user.name"},
			{Target: "hidden_sam_uei", Source: "entity.UNIQUE_ENTITY_ID__c"},
			{Target: "hidden_sam_efti", Source: "entity.ENTITY_EFT_INDICATOR__c", EFTI: true, Default: str(EFTISentinel)},
			{Target: "hidden_sam_elec_bus_poc_email", Source: "entity.ELEC_BUS_POC_EMAIL__c"},
			{Target: "hidden_sam_alt_elec_bus_poc_email", Source: "entity.ALT_ELEC_BUS_POC_EMAIL__c"},
			{Target: "hidden_sam_govt_bus_poc_email", Source: "entity.GOVT_BUS_POC_EMAIL__c"},
			{Target: "hidden_sam_alt_govt_bus_poc_email", Source: "entity.ALT_GOVT_BUS_POC_EMAIL__c"},
			{Target: "hidden_bap_rebate_id", Source: "request.rebateId"},
			{Target: "hidden_bap_district_id", Source: "record.CSB_NCES_ID__c"},
			{Target: "hidden_bap_primary_name", Source: "record.Primary_Applicant__r.Name"},
			{Target: "hidden_bap_primary_title", Source: "record.Primary_Applicant__r.Title"},
			{Target: "hidden_bap_primary_phone_number", Source: "record.Primary_Applicant__r.Phone"},
			{Target: "hidden_bap_primary_email", Source: "record.Primary_Applicant__r.Email"},
			{Target: "hidden_bap_alternate_name", Source: "record.Alternate_Applicant__r.Name", Default: str("")},
			{Target: "hidden_bap_alternate_title", Source: "record.Alternate_Applicant__r.Title", Default: str("")},
			{Target: "hidden_bap_alternate_phone_number", Source: "record.Alternate_Applicant__r.Phone", Default: str("")},
			{Target: "hidden_bap_alternate_email", Source: "record.Alternate_Applicant__r.Email", Default: str("")},
			{Target: "hidden_bap_org_name", Source: "record.Applicant_Organization__r.Name"},
			{Target: "hidden_bap_district_name", Source: "record.CSB_School_District__r.Name"},
			{Target: "hidden_bap_fleet_name", Source: "record.Fleet_Name__c"},
			{Target: "hidden_bap_prioritized", Source: "record.School_District_Prioritized__c"},
			{Target: "hidden_bap_requested_funds", Source: "record.Total_Rebate_Funds_Requested__c"},
			{Target: "hidden_bap_infra_max_rebate", Source: "record.Total_Infrastructure_Funds__c"},
		},
	},
	{
		RebateYear: "2023",
		FormType:   FormTypePRF,
		Fields: []FieldMapping{
			{Target: "_bap_entity_combo_key", Source: "request.comboKey"},
			{Target: "_application_form_modified", Source: "request.frfFormModified"},
			{Target: "_user_email", Source: "user.email"},
			{Target: "_user_title", Source: "user.title"},
			{Target: "_user_name", Source: "user.name"},
			{Target: "_bap_applicant_email", Source: "user.email"},
			{Target: "_bap_applicant_title", Source: "user.title"},
			{Target: "_bap_applicant_name", Source: "user.name"},
			{Target: "_bap_applicant_efti", Source: "entity.ENTITY_EFT_INDICATOR__c", EFTI: true, Default: str(EFTISentinel)},
			{Target: "_bap_applicant_uei", Source: "entity.UNIQUE_ENTITY_ID__c"},
			{Target: "_bap_applicant_organization_name", Source: "entity.LEGAL_BUSINESS_NAME__c"},
			{Target: "_bap_applicant_street_address_1", Source: "entity.PHYSICAL_ADDRESS_LINE_1__c"},
			{Target: "_bap_applicant_street_address_2", Source: "entity.PHYSICAL_ADDRESS_LINE_2__c"},
			{Target: "_bap_applicant_city", Source: "entity.PHYSICAL_ADDRESS_CITY__c"},
			{Target: "_bap_applicant_state", Source: "entity.PHYSICAL_ADDRESS_PROVINCE_OR_STATE__c"},
			{Target: "_bap_applicant_zip", Source: "entity.PHYSICAL_ADDRESS_ZIPPOSTAL_CODE__c"},
			{Target: "_bap_elec_bus_poc_email", Source: "entity.ELEC_BUS_POC_EMAIL__c"},
			{Target: "_bap_alt_elec_bus_poc_email", Source: "entity.ALT_ELEC_BUS_POC_EMAIL__c"},
			{Target: "_bap_govt_bus_poc_email", Source: "entity.GOVT_BUS_POC_EMAIL__c"},
			{Target: "_bap_alt_govt_bus_poc_email", Source: "entity.ALT_GOVT_BUS_POC_EMAIL__c"},
			{Target: "_bap_primary_fname", Source: "record.Primary_Applicant__r.FirstName"},
			{Target: "_bap_primary_lname", Source: "record.Primary_Applicant__r.LastName"},
			{Target: "_bap_primary_title", Source: "record.Primary_Applicant__r.Title"},
			{Target: "_bap_primary_email", Source: "record.Primary_Applicant__r.Email"},
			{Target: "_bap_primary_phone_number", Source: "record.Primary_Applicant__r.Phone"},
			{Target: "_bap_alternate_fname", Source: "record.Alternate_Applicant__r.FirstName"},
			{Target: "_bap_alternate_lname", Source: "record.Alternate_Applicant__r.LastName"},
			{Target: "_bap_alternate_title", Source: "record.Alternate_Applicant__r.Title"},
			{Target: "_bap_alternate_email", Source: "record.Alternate_Applicant__r.Email"},
			{Target: "_bap_alternate_phone_number", Source: "record.Alternate_Applicant__r.Phone"},
			{Target: "_bap_district_ncesID", Source: "record.CSB_NCES_ID__c"},
			{Target: "_bap_district_name", Source: "record.CSB_School_District__r.Name"},
			{Target: "_bap_district_address_1", Source: "record.CSB_School_District__r.BillingStreet"},
			{Target: "_bap_district_city", Source: "record.CSB_School_District__r.BillingCity"},
			{Target: "_bap_district_state", Source: "record.CSB_School_District__r.BillingState"},
			{Target: "_bap_district_zip", Source: "record.CSB_School_District__r.BillingPostalCode"},
			{Target: "_bap_district_priorityReason", Object: map[string]string{
				"highNeed": "record.Prioritized_as_High_Need__c",
				"tribal":   "record.Prioritized_as_Tribal__c",
				"rural":    "record.Prioritized_as_Rural__c",
			}},
			{Target: "_bap_district_contactFName", Source: "record.School_District_Contact__r.FirstName"},
			{Target: "_bap_district_contactLName", Source: "record.School_District_Contact__r.LastName"},
			{Target: "_bap_district_contactTitle", Source: "record.School_District_Contact__r.Title"},
			{Target: "_bap_district_contactEmail", Source: "record.School_District_Contact__r.Email"},
			{Target: "_bap_district_contactPhone", Source: "record.School_District_Contact__r.Phone"},
		},
	},
	{
		RebateYear: "2024",
		FormType:   FormTypePRF,
		Fields: []FieldMapping{
			{Target: "_bap_entity_combo_key", Source: "request.comboKey"},
			{Target: "_application_form_modified", Source: "request.frfFormModified"},
			{Target: "_user_email", Source: "user.email"},
			{Target: "_user_title", Source: "user.title"},
			{Target: "_user_name", Source: "user.name"},
			{Target: "_bap_applicant_email", Source: "user.email"},
			{Target: "_bap_applicant_title", Source: "user.title"},
			{Target: "_bap_applicant_name", Source: "user.name"},
			{Target: "_bap_applicant_efti", Source: "entity.ENTITY_EFT_INDICATOR__c", EFTI: true, Default: str(EFTISentinel)},
			{Target: "_bap_applicant_uei", Source: "entity.UNIQUE_ENTITY_ID__c"},
			{Target: "_bap_applicant_organization_name", Source: "entity.LEGAL_BUSINESS_NAME__c"},
			{Target: "_bap_applicant_street_address_1", Source: "entity.PHYSICAL_ADDRESS_LINE_1__c"},
			{Target: "_bap_applicant_street_address_2", Source: "entity.PHYSICAL_ADDRESS_LINE_2__c"},
			{Target: "_bap_applicant_city", Source: "entity.PHYSICAL_ADDRESS_CITY__c"},
			{Target: "_bap_applicant_state", Source: "entity.PHYSICAL_ADDRESS_PROVINCE_OR_STATE__c"},
			{Target: "_bap_applicant_zip", Source: "entity.PHYSICAL_ADDRESS_ZIPPOSTAL_CODE__c"},
			{Target: "_bap_elec_bus_poc_email", Source: "entity.ELEC_BUS_POC_EMAIL__c"},
			{Target: "_bap_alt_elec_bus_poc_email", Source: "entity.ALT_ELEC_BUS_POC_EMAIL__c"},
			{Target: "_bap_govt_bus_poc_email", Source: "entity.GOVT_BUS_POC_EMAIL__c"},
			{Target: "_bap_alt_govt_bus_poc_email", Source: "entity.ALT_GOVT_BUS_POC_EMAIL__c"},
			{Target: "_bap_primary_fname", Source: "record.Primary_Applicant__r.FirstName"},
			{Target: "_bap_primary_lname", Source: "record.Primary_Applicant__r.LastName"},
			{Target: "_bap_primary_title", Source: "record.Primary_Applicant__r.Title"},
			{Target: "_bap_primary_email", Source: "record.Primary_Applicant__r.Email"},
			{Target: "_bap_primary_phone_number", Source: "record.Primary_Applicant__r.Phone"},
			{Target: "_bap_alternate_fname", Source: "record.Alternate_Applicant__r.FirstName"},
			{Target: "_bap_alternate_lname", Source: "record.Alternate_Applicant__r.LastName"},
			{Target: "_bap_alternate_title", Source: "record.Alternate_Applicant__r.Title"},
			{Target: "_bap_alternate_email", Source: "record.Alternate_Applicant__r.Email"},
			{Target: "_bap_alternate_phone_number", Source: "record.Alternate_Applicant__r.Phone"},
			{Target: "_bap_district_ncesID", Source: "record.CSB_NCES_ID__c"},
			{Target: "_bap_district_name", Source: "record.CSB_School_District__r.Name"},
			{Target: "_bap_district_address_1", Source: "record.CSB_School_District__r.BillingStreet"},
			{Target: "_bap_district_city", Source: "record.CSB_School_District__r.BillingCity"},
			{Target: "_bap_district_state", Source: "record.CSB_School_District__r.BillingState"},
			{Target: "_bap_district_zip", Source: "record.CSB_School_District__r.BillingPostalCode"},
			{Target: "_bap_district_priorityReason", Object: map[string]string{
				"highNeed": "record.Prioritized_as_High_Need__c",
				"tribal":   "record.Prioritized_as_Tribal__c",
				"rural":    "record.Prioritized_as_Rural__c",
			}},
			{Target: "_bap_district_contactFName", Source: "record.School_District_Contact__r.FirstName"},
			{Target: "_bap_district_contactLName", Source: "record.School_District_Contact__r.LastName"},
			{Target: "_bap_district_contactTitle", Source: "record.School_District_Contact__r.Title"},
			{Target: "_bap_district_contactEmail", Source: "record.School_District_Contact__r.Email"},
			{Target: "_bap_district_contactPhone", Source: "record.School_District_Contact__r.Phone"},
		},
	},
	{
		// The close-out form draws from both prior stages: fleet fields
		// from the application record, applicant and cost fields from the
		// payment request record.
		RebateYear: "2022",
		FormType:   FormTypeCRF,
		Fields: []FieldMapping{
			{Target: "bap_hidden_entity_combo_key", Source: "request.comboKey"},
			{Target: "hidden_prf_modified", Source: "request.prfFormModified"},
			{Target: "hidden_current_user_email", Source: "user.email"},
			{Target: "hidden_current_user_title", Source: "user.title"},
			{Target: "hidden_current_user_name", Source: "user.name"},
			{Target: "hidden_sam_uei", Source: "entity.UNIQUE_ENTITY_ID__c"},
			{Target: "hidden_sam_efti", Source: "entity.ENTITY_EFT_INDICATOR__c", EFTI: true, Default: str(EFTISentinel)},
			{Target: "hidden_sam_elec_bus_poc_email", Source: "entity.ELEC_BUS_POC_EMAIL__c"},
			{Target: "hidden_sam_alt_elec_bus_poc_email", Source: "entity.ALT_ELEC_BUS_POC_EMAIL__c"},
			{Target: "hidden_sam_govt_bus_poc_email", Source: "entity.GOVT_BUS_POC_EMAIL__c"},
			{Target: "hidden_sam_alt_govt_bus_poc_email", Source: "entity.ALT_GOVT_BUS_POC_EMAIL__c"},
			{Target: "hidden_bap_rebate_id", Source: "request.rebateId"},
			{Target: "hidden_bap_district_id", Source: "prf.CSB_NCES_ID__c"},
			{Target: "hidden_bap_fleet_name", Source: "frf.Fleet_Name__c"},
			{Target: "hidden_bap_fleet_address", Source: "frf.Fleet_Street_Address__c"},
			{Target: "hidden_bap_fleet_city", Source: "frf.Fleet_City__c"},
			{Target: "hidden_bap_fleet_state", Source: "frf.Fleet_State__c"},
			{Target: "hidden_bap_fleet_zip", Source: "frf.Fleet_Zip__c"},
			{Target: "hidden_bap_fleet_contact_name", Source: "frf.Fleet_Contact_Name__c"},
			{Target: "hidden_bap_fleet_contact_title", Source: "frf.Fleet_Contact_Title__c"},
			{Target: "hidden_bap_fleet_contact_phone", Source: "frf.Fleet_Contact_Phone__c"},
			{Target: "hidden_bap_fleet_contact_email", Source: "frf.Fleet_Contact_Email__c"},
			{Target: "hidden_bap_district_contact_fname", Source: "frf.School_District_Contact__r.FirstName"},
			{Target: "hidden_bap_district_contact_lname", Source: "frf.School_District_Contact__r.LastName"},
			{Target: "hidden_bap_primary_fname", Source: "prf.Primary_Applicant__r.FirstName"},
			{Target: "hidden_bap_primary_lname", Source: "prf.Primary_Applicant__r.LastName"},
			{Target: "hidden_bap_primary_title", Source: "prf.Primary_Applicant__r.Title"},
			{Target: "hidden_bap_primary_phone_number", Source: "prf.Primary_Applicant__r.Phone"},
			{Target: "hidden_bap_primary_email", Source: "prf.Primary_Applicant__r.Email"},
			{Target: "hidden_bap_alternate_fname", Source: "prf.Alternate_Applicant__r.FirstName", Default: str("")},
			{Target: "hidden_bap_alternate_lname", Source: "prf.Alternate_Applicant__r.LastName", Default: str("")},
			{Target: "hidden_bap_alternate_title", Source: "prf.Alternate_Applicant__r.Title", Default: str("")},
			{Target: "hidden_bap_alternate_phone_number", Source: "prf.Alternate_Applicant__r.Phone", Default: str("")},
			{Target: "hidden_bap_alternate_email", Source: "prf.Alternate_Applicant__r.Email", Default: str("")},
			{Target: "hidden_bap_org_name", Source: "prf.Applicant_Organization__r.Name"},
			{Target: "hidden_bap_district_name", Source: "prf.CSB_School_District__r.Name"},
			{Target: "hidden_bap_prioritized", Source: "prf.School_District_Prioritized__c"},
			{Target: "hidden_bap_requested_funds", Source: "prf.Total_Rebate_Funds_Requested_PO__c"},
			{Target: "hidden_bap_bus_and_infra_rebate", Source: "prf.Total_Bus_And_Infrastructure_Rebate__c"},
			{Target: "hidden_bap_infra_max_rebate", Source: "prf.Total_Infrastructure_Funds__c"},
			{Target: "hidden_bap_num_buses", Source: "prf.Num_Of_Buses_Requested_From_Application__c"},
			{Target: "hidden_bap_total_bus_costs", Source: "prf.Total_Price_All_Buses__c"},
			{Target: "hidden_bap_total_bus_rebate", Source: "prf.Total_Bus_Rebate_Amount__c"},
			{Target: "hidden_bap_total_infra_costs", Source: "prf.Total_All_Eligible_Infrastructure_Costs__c"},
			{Target: "hidden_bap_total_infra_rebate", Source: "prf.Total_Infrastructure_Rebate__c"},
			{Target: "hidden_bap_level_2_charger_costs", Source: "prf.Total_Level_2_Charger_Costs__c"},
			{Target: "hidden_bap_dc_fast_charger_costs", Source: "prf.Total_DC_Fast_Charger_Costs__c"},
			{Target: "hidden_bap_other_infra_costs", Source: "prf.Total_Other_Infrastructure_Costs__c"},
		},
	},
}

package bap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/entity"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
)

// RecordTypeCache caches the upstream's record type name to ID resolution,
// which is stable for the life of a deployment. Implementations fail open:
// a cache miss or cache outage just costs one extra upstream query.
type RecordTypeCache interface {
	GetRecordTypeID(ctx context.Context, developerName string) (string, bool)
	SetRecordTypeID(ctx context.Context, developerName, id string)
}

// Client exposes the read-only status directory queries the portal needs.
// Every substantive query filters to the latest record version, since
// upstream updates append versions rather than mutate in place.
type Client struct {
	conn   *Connection
	cache  RecordTypeCache
	logger *zap.Logger
}

// NewClient creates a status directory client. cache may be nil.
func NewClient(conn *Connection, cache RecordTypeCache, logger *zap.Logger) *Client {
	return &Client{conn: conn, cache: cache, logger: logger}
}

const submissionProjection = `Id, UEI_EFTI_Combo_Key__c, CSB_Form_ID__c, ` +
	`CSB_Modified_Full_String__c, CSB_Review_Item_ID__c, Parent_Rebate_ID__c, ` +
	`Record_Type_Name__c, Rebate_Program_Year__c, Parent_CSB_Rebate__r.Id, ` +
	`Parent_CSB_Rebate__r.CSB_Funding_Request_Status__c, ` +
	`Parent_CSB_Rebate__r.CSB_Payment_Request_Status__c, ` +
	`Parent_CSB_Rebate__r.CSB_Closeout_Request_Status__c, ` +
	`Parent_CSB_Rebate__r.Reimbursement_Needed__c`

// inClause renders a SOQL IN filter over escaped string literals.
func inClause(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + soqlEscape(v) + "'"
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(quoted, ", "))
}

// GetSamEntities fetches the SAM.gov entities a user may act for, matching
// the user's email against the four point-of-contact roles.
func (c *Client) GetSamEntities(ctx context.Context, email string) ([]entity.SamEntity, error) {
	c.logger.Info("Querying the BAP for SAM.gov entities", zap.String("email", email))

	escaped := soqlEscape(email)
	soql := fmt.Sprintf(`SELECT Id, ENTITY_COMBO_KEY__c, UNIQUE_ENTITY_ID__c, `+
		`ENTITY_EFT_INDICATOR__c, ENTITY_STATUS__c, EXCLUSION_STATUS_FLAG__c, `+
		`DEBT_SUBJECT_TO_OFFSET_FLAG__c, LEGAL_BUSINESS_NAME__c, `+
		`PHYSICAL_ADDRESS_LINE_1__c, PHYSICAL_ADDRESS_LINE_2__c, `+
		`PHYSICAL_ADDRESS_CITY__c, PHYSICAL_ADDRESS_PROVINCE_OR_STATE__c, `+
		`PHYSICAL_ADDRESS_ZIPPOSTAL_CODE__c, PHYSICAL_ADDRESS_ZIP_CODE_4__c, `+
		`ELEC_BUS_POC_EMAIL__c, ELEC_BUS_POC_NAME__c, ELEC_BUS_POC_TITLE__c, `+
		`ALT_ELEC_BUS_POC_EMAIL__c, ALT_ELEC_BUS_POC_NAME__c, ALT_ELEC_BUS_POC_TITLE__c, `+
		`GOVT_BUS_POC_EMAIL__c, GOVT_BUS_POC_NAME__c, GOVT_BUS_POC_TITLE__c, `+
		`ALT_GOVT_BUS_POC_EMAIL__c, ALT_GOVT_BUS_POC_NAME__c, ALT_GOVT_BUS_POC_TITLE__c `+
		`FROM Data_Staging__c `+
		`WHERE ELEC_BUS_POC_EMAIL__c = '%s' OR ALT_ELEC_BUS_POC_EMAIL__c = '%s' `+
		`OR GOVT_BUS_POC_EMAIL__c = '%s' OR ALT_GOVT_BUS_POC_EMAIL__c = '%s'`,
		escaped, escaped, escaped, escaped)

	var entities []entity.SamEntity
	if err := c.conn.Query(ctx, soql, &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// GetComboKeys resolves the user's authorized combo key set.
func (c *Client) GetComboKeys(ctx context.Context, email string) ([]string, error) {
	entities, err := c.GetSamEntities(ctx, email)
	if err != nil {
		return nil, err
	}
	return entity.ComboKeys(entities), nil
}

// recordTypeID resolves a record type developer name to the upstream's
// internal ID, consulting the cache first.
func (c *Client) recordTypeID(ctx context.Context, developerName, sobjectType string) (string, error) {
	if c.cache != nil {
		if id, ok := c.cache.GetRecordTypeID(ctx, developerName); ok {
			return id, nil
		}
	}

	soql := fmt.Sprintf(`SELECT Id FROM RecordType WHERE DeveloperName = '%s' `+
		`AND SObjectType = '%s' LIMIT 1`,
		soqlEscape(developerName), soqlEscape(sobjectType))

	var records []recordTypeRecord
	if err := c.conn.Query(ctx, soql, &records); err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}

	if c.cache != nil {
		c.cache.SetRecordTypeID(ctx, developerName, records[0].ID)
	}
	return records[0].ID, nil
}

// GetStatusRecords fetches the status records reachable from a combo key
// set. The per-form status lives on a shared parent rebate record that the
// child forms cannot be filtered by directly, so the fetch runs two stages:
// resolve the rebate IDs the combo keys touch, then fetch every sibling
// form record sharing those rebate IDs.
func (c *Client) GetStatusRecords(ctx context.Context, comboKeys []string) ([]rebate.StatusRecord, error) {
	if len(comboKeys) == 0 {
		return nil, nil
	}

	c.logger.Info("Querying the BAP for form submission statuses",
		zap.Strings("combo_keys", comboKeys))

	stage1 := fmt.Sprintf(`SELECT Id, Parent_Rebate_ID__c FROM Order_Request__c `+
		`WHERE %s AND Latest_Version__c = TRUE ORDER BY CreatedDate DESC`,
		inClause("UEI_EFTI_Combo_Key__c", comboKeys))

	var idRecords []rebateIDRecord
	if err := c.conn.Query(ctx, stage1, &idRecords); err != nil {
		return nil, err
	}

	rebateIDs := make([]string, 0, len(idRecords))
	seen := make(map[string]bool, len(idRecords))
	for _, r := range idRecords {
		if r.ParentRebateID != "" && !seen[r.ParentRebateID] {
			seen[r.ParentRebateID] = true
			rebateIDs = append(rebateIDs, r.ParentRebateID)
		}
	}
	if len(rebateIDs) == 0 {
		return nil, nil
	}

	stage2 := fmt.Sprintf(`SELECT %s FROM Order_Request__c `+
		`WHERE %s AND Latest_Version__c = TRUE ORDER BY CreatedDate DESC`,
		submissionProjection,
		inClause("Parent_CSB_Rebate__r.CSB_Rebate_ID__c", rebateIDs))

	var wireRecords []orderRequestRecord
	if err := c.conn.Query(ctx, stage2, &wireRecords); err != nil {
		return nil, err
	}

	records := make([]rebate.StatusRecord, len(wireRecords))
	for i, w := range wireRecords {
		records[i] = w.toDomain()
	}
	return records, nil
}

// GetSubmissionRecord fetches one form submission's status record by form
// store document ID or rebate ID. Returns nil without error when the
// upstream has no matching record, which is expected during ETL lag.
func (c *Client) GetSubmissionRecord(ctx context.Context, rebateYear string, formType rebate.FormType, rebateID, formID string) (*rebate.StatusRecord, error) {
	developerName, err := rebate.RecordTypeDeveloperName(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	recordTypeID, err := c.recordTypeID(ctx, developerName, "Order_Request__c")
	if err != nil {
		return nil, err
	}
	if recordTypeID == "" {
		return nil, nil
	}

	conditions := []string{
		fmt.Sprintf("RecordTypeId = '%s'", soqlEscape(recordTypeID)),
		"Latest_Version__c = TRUE",
	}
	if formID != "" {
		conditions = append(conditions, fmt.Sprintf("CSB_Form_ID__c = '%s'", soqlEscape(formID)))
	}
	if rebateID != "" {
		conditions = append(conditions, fmt.Sprintf("Parent_Rebate_ID__c = '%s'", soqlEscape(rebateID)))
	}

	soql := fmt.Sprintf(`SELECT %s FROM Order_Request__c WHERE %s`,
		submissionProjection, strings.Join(conditions, " AND "))

	var wireRecords []orderRequestRecord
	if err := c.conn.Query(ctx, soql, &wireRecords); err != nil {
		return nil, err
	}
	if len(wireRecords) == 0 {
		return nil, nil
	}

	record := wireRecords[0].toDomain()
	return &record, nil
}

// prfSeedProjections lists the application-record fields each rebate year's
// payment request seed draws from. The schema nesting differs per year.
var prfSeedProjections = map[string]string{
	"2022": `Id, UEI_EFTI_Combo_Key__c, CSB_NCES_ID__c, ` +
		`Primary_Applicant__r.Id, Primary_Applicant__r.Name, Primary_Applicant__r.Title, ` +
		`Primary_Applicant__r.Phone, Primary_Applicant__r.Email, ` +
		`Alternate_Applicant__r.Id, Alternate_Applicant__r.Name, Alternate_Applicant__r.Title, ` +
		`Alternate_Applicant__r.Phone, Alternate_Applicant__r.Email, ` +
		`Applicant_Organization__r.Id, Applicant_Organization__r.Name, ` +
		`CSB_School_District__r.Id, CSB_School_District__r.Name, ` +
		`Fleet_Name__c, School_District_Prioritized__c, ` +
		`Total_Rebate_Funds_Requested__c, Total_Infrastructure_Funds__c`,
	"2023": prf2023Projection,
	"2024": prf2023Projection,
}

const prf2023Projection = `Id, ` +
	`Applicant_Organization__r.Id, Applicant_Organization__r.County__c, ` +
	`Primary_Applicant__r.Id, Primary_Applicant__r.FirstName, Primary_Applicant__r.LastName, ` +
	`Primary_Applicant__r.Title, Primary_Applicant__r.Email, Primary_Applicant__r.Phone, ` +
	`Alternate_Applicant__r.Id, Alternate_Applicant__r.FirstName, Alternate_Applicant__r.LastName, ` +
	`Alternate_Applicant__r.Title, Alternate_Applicant__r.Email, Alternate_Applicant__r.Phone, ` +
	`CSB_School_District__r.Id, CSB_School_District__r.Name, ` +
	`CSB_School_District__r.BillingStreet, CSB_School_District__r.BillingCity, ` +
	`CSB_School_District__r.BillingState, CSB_School_District__r.BillingPostalCode, ` +
	`School_District_Contact__r.Id, School_District_Contact__r.FirstName, ` +
	`School_District_Contact__r.LastName, School_District_Contact__r.Title, ` +
	`School_District_Contact__r.Email, School_District_Contact__r.Phone, ` +
	`CSB_NCES_ID__c, Org_District_Prioritized__c, Self_Certification_Category__c, ` +
	`Prioritized_as_High_Need__c, Prioritized_as_Tribal__c, Prioritized_as_Rural__c`

var prfBusProjections = map[string]string{
	"2022": `Id, Rebate_Item_num__c, CSB_VIN__c, CSB_Model_Year__c, ` +
		`CSB_Fuel_Type__c, CSB_Replacement_Fuel_Type__c, CSB_Funds_Requested__c`,
	"2023": prfBus2023Projection,
	"2024": prfBus2023Projection,
}

const prfBus2023Projection = `Id, Rebate_Item_num__c, CSB_VIN__c, CSB_Fuel_Type__c, ` +
	`CSB_GVWR__c, Old_Bus_Odometer_miles__c, Old_Bus_NCES_District_ID__c, CSB_Model__c, ` +
	`CSB_Model_Year__c, CSB_Manufacturer__c, CSB_Manufacturer_if_Other__c, ` +
	`CSB_Annual_Fuel_Consumption__c, Annual_Mileage__c, Old_Bus_Estimated_Remaining_Life__c, ` +
	`Old_Bus_Annual_Idling_Hours__c, New_Bus_Infra_Rebate_Requested__c, ` +
	`New_Bus_Fuel_Type__c, New_Bus_GVWR__c, New_Bus_ADA_Compliant__c`

const busContactProjection = `Id, Related_Line_Item__c, Relationship_Type__c, ` +
	`Contact__r.Id, Contact__r.FirstName, Contact__r.LastName, Contact__r.Title, ` +
	`Contact__r.Email, Contact__r.Phone, Contact__r.Account.Id, Contact__r.Account.Name, ` +
	`Contact__r.Account.BillingStreet, Contact__r.Account.BillingCity, ` +
	`Contact__r.Account.BillingState, Contact__r.Account.BillingPostalCode, ` +
	`Contact__r.Account.County__c`

// GetPRFSeedData fetches the application data needed to seed a new payment
// request: the application record itself, its "Old Bus" child records, and
// (for 2023 onward) each bus's owner/contact relationship records.
func (c *Client) GetPRFSeedData(ctx context.Context, rebateYear, frfReviewItemID string) (*PRFSeedData, error) {
	c.logger.Info("Querying the BAP for application data for a new payment request",
		zap.String("rebate_year", rebateYear),
		zap.String("frf_review_item_id", frfReviewItemID))

	developerName, err := rebate.RecordTypeDeveloperName(rebateYear, rebate.FormTypeFRF)
	if err != nil {
		return nil, err
	}

	record, err := c.antecedentRecord(ctx, developerName, prfSeedProjections[rebateYear], frfReviewItemID)
	if err != nil {
		return nil, err
	}

	recordID, _ := record["Id"].(string)
	busRecords, err := c.lineItems(ctx, prfBusProjections[rebateYear], recordID, "Old Bus")
	if err != nil {
		return nil, err
	}

	seed := &PRFSeedData{RebateYear: rebateYear, Record: record, BusRecords: busRecords}

	if rebateYear != "2022" && len(busRecords) > 0 {
		busIDs := make([]string, 0, len(busRecords))
		for _, bus := range busRecords {
			if id, ok := bus["Id"].(string); ok && id != "" {
				busIDs = append(busIDs, id)
			}
		}
		contacts, err := c.busContacts(ctx, busIDs)
		if err != nil {
			return nil, err
		}
		seed.ContactRecords = contacts
	}

	return seed, nil
}

// GetCRFSeedData fetches the application and payment request data needed to
// seed a new close-out form, including the payment request's "New Bus"
// child records.
func (c *Client) GetCRFSeedData(ctx context.Context, rebateYear, frfReviewItemID, prfReviewItemID string) (*CRFSeedData, error) {
	c.logger.Info("Querying the BAP for antecedent data for a new close-out form",
		zap.String("rebate_year", rebateYear),
		zap.String("frf_review_item_id", frfReviewItemID),
		zap.String("prf_review_item_id", prfReviewItemID))

	frfDeveloperName, err := rebate.RecordTypeDeveloperName(rebateYear, rebate.FormTypeFRF)
	if err != nil {
		return nil, err
	}

	frfProjection := `Id, Fleet_Name__c, Fleet_Street_Address__c, Fleet_City__c, ` +
		`Fleet_State__c, Fleet_Zip__c, Fleet_Contact_Name__c, Fleet_Contact_Title__c, ` +
		`Fleet_Contact_Phone__c, Fleet_Contact_Email__c, School_District_Contact__r.Id, ` +
		`School_District_Contact__r.FirstName, School_District_Contact__r.LastName`

	frfRecord, err := c.antecedentRecord(ctx, frfDeveloperName, frfProjection, frfReviewItemID)
	if err != nil {
		return nil, err
	}

	prfDeveloperName, err := rebate.RecordTypeDeveloperName(rebateYear, rebate.FormTypePRF)
	if err != nil {
		return nil, err
	}

	prfProjection := `Id, UEI_EFTI_Combo_Key__c, CSB_NCES_ID__c, ` +
		`Primary_Applicant__r.Id, Primary_Applicant__r.FirstName, Primary_Applicant__r.LastName, ` +
		`Primary_Applicant__r.Title, Primary_Applicant__r.Phone, Primary_Applicant__r.Email, ` +
		`Alternate_Applicant__r.Id, Alternate_Applicant__r.FirstName, Alternate_Applicant__r.LastName, ` +
		`Alternate_Applicant__r.Title, Alternate_Applicant__r.Phone, Alternate_Applicant__r.Email, ` +
		`Applicant_Organization__r.Id, Applicant_Organization__r.Name, ` +
		`CSB_School_District__r.Id, CSB_School_District__r.Name, School_District_Prioritized__c, ` +
		`Total_Rebate_Funds_Requested_PO__c, Total_Bus_And_Infrastructure_Rebate__c, ` +
		`Total_Infrastructure_Funds__c, Num_Of_Buses_Requested_From_Application__c, ` +
		`Total_Price_All_Buses__c, Total_Bus_Rebate_Amount__c, ` +
		`Total_All_Eligible_Infrastructure_Costs__c, Total_Infrastructure_Rebate__c, ` +
		`Total_Level_2_Charger_Costs__c, Total_DC_Fast_Charger_Costs__c, ` +
		`Total_Other_Infrastructure_Costs__c`

	prfRecord, err := c.antecedentRecord(ctx, prfDeveloperName, prfProjection, prfReviewItemID)
	if err != nil {
		return nil, err
	}

	prfRecordID, _ := prfRecord["Id"].(string)
	rebateItemTypeID, err := c.recordTypeID(ctx, "CSB_Rebate_Item", "Line_Item__c")
	if err != nil {
		return nil, err
	}

	busProjection := `Id, Rebate_Item_num__c, CSB_VIN__c, CSB_Model_Year__c, CSB_Fuel_Type__c, ` +
		`CSB_Manufacturer_if_Other__c, Old_Bus_NCES_District_ID__c, ` +
		`Old_Bus_Estimated_Remaining_Life__c, Old_Bus_Exclude__c, ` +
		`Related_Line_Item__r.Id, Related_Line_Item__r.Vendor_Name__c, ` +
		`New_Bus_Fuel_Type__c, New_Bus_Make__c, New_Bus_Model__c, New_Bus_Model_Year__c, ` +
		`New_Bus_GVWR__c, New_Bus_Rebate_Amount__c, New_Bus_Purchase_Price__c`

	soql := fmt.Sprintf(`SELECT %s FROM Line_Item__c WHERE RecordTypeId = '%s' `+
		`AND Related_Order_Request__c = '%s' AND CSB_Rebate_Item_Type__c = 'New Bus'`,
		busProjection, soqlEscape(rebateItemTypeID), soqlEscape(prfRecordID))

	var busRecords []NewBusLineItem
	if err := c.conn.Query(ctx, soql, &busRecords); err != nil {
		return nil, err
	}

	return &CRFSeedData{
		RebateYear: rebateYear,
		FRFRecord:  frfRecord,
		PRFRecord:  prfRecord,
		BusRecords: busRecords,
	}, nil
}

// antecedentRecord fetches the latest version of a typed record by review
// item ID. A missing record fails with an upstream-data-incomplete error:
// the antecedent form was referenced but no longer exists upstream.
func (c *Client) antecedentRecord(ctx context.Context, developerName, projection, reviewItemID string) (map[string]any, error) {
	recordTypeID, err := c.recordTypeID(ctx, developerName, "Order_Request__c")
	if err != nil {
		return nil, err
	}
	if recordTypeID == "" {
		return nil, fmt.Errorf("%w: record type %q not found", shared.ErrUpstreamDataIncomplete, developerName)
	}

	soql := fmt.Sprintf(`SELECT %s FROM Order_Request__c WHERE RecordTypeId = '%s' `+
		`AND CSB_Review_Item_ID__c = '%s' AND Latest_Version__c = TRUE`,
		projection, soqlEscape(recordTypeID), soqlEscape(reviewItemID))

	var records []map[string]any
	if err := c.conn.Query(ctx, soql, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no record for review item ID %q",
			shared.ErrUpstreamDataIncomplete, reviewItemID)
	}
	return records[0], nil
}

// lineItems fetches the rebate item child records of an order request.
func (c *Client) lineItems(ctx context.Context, projection, orderRequestID, itemType string) ([]map[string]any, error) {
	recordTypeID, err := c.recordTypeID(ctx, "CSB_Rebate_Item", "Line_Item__c")
	if err != nil {
		return nil, err
	}
	if recordTypeID == "" {
		return nil, fmt.Errorf("%w: record type CSB_Rebate_Item not found", shared.ErrUpstreamDataIncomplete)
	}

	soql := fmt.Sprintf(`SELECT %s FROM Line_Item__c WHERE RecordTypeId = '%s' `+
		`AND Related_Order_Request__c = '%s' AND CSB_Rebate_Item_Type__c = '%s'`,
		projection, soqlEscape(recordTypeID), soqlEscape(orderRequestID), soqlEscape(itemType))

	var records []map[string]any
	if err := c.conn.Query(ctx, soql, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// busContacts fetches the owner/contact relationship records linked to a
// set of bus line items in one query.
func (c *Client) busContacts(ctx context.Context, busIDs []string) ([]map[string]any, error) {
	if len(busIDs) == 0 {
		return nil, nil
	}

	recordTypeID, err := c.recordTypeID(ctx, "CSB_Rebate_Item", "Line_Item__c")
	if err != nil {
		return nil, err
	}

	soql := fmt.Sprintf(`SELECT %s FROM Line_Item__c WHERE RecordTypeId = '%s' `+
		`AND %s AND CSB_Rebate_Item_Type__c = 'COF Relationship'`,
		busContactProjection, soqlEscape(recordTypeID),
		inClause("Related_Line_Item__c", busIDs))

	var records []map[string]any
	if err := c.conn.Query(ctx, soql, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CheckDuplicates forwards applicant identity data to the upstream record
// matcher and returns its response unaltered.
func (c *Client) CheckDuplicates(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	c.logger.Info("Querying the BAP for duplicates")

	var result json.RawMessage
	if err := c.conn.Apex(ctx, "/v2/recordMatcher/", payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

package bap

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
)

// orderRequestRecord is the upstream wire shape of one form submission
// record, including the parent-rebate relationship traversal.
type orderRequestRecord struct {
	ID              string              `json:"Id"`
	ComboKey        string              `json:"UEI_EFTI_Combo_Key__c"`
	FormID          string              `json:"CSB_Form_ID__c"`
	ModifiedString  string              `json:"CSB_Modified_Full_String__c"`
	ReviewItemID    string              `json:"CSB_Review_Item_ID__c"`
	ParentRebateID  string              `json:"Parent_Rebate_ID__c"`
	RecordTypeName  string              `json:"Record_Type_Name__c"`
	ProgramYear     string              `json:"Rebate_Program_Year__c"`
	ParentCSBRebate *parentRebateRecord `json:"Parent_CSB_Rebate__r"`
}

type parentRebateRecord struct {
	ID                    string `json:"Id"`
	FundingRequestStatus  string `json:"CSB_Funding_Request_Status__c"`
	PaymentRequestStatus  string `json:"CSB_Payment_Request_Status__c"`
	CloseoutRequestStatus string `json:"CSB_Closeout_Request_Status__c"`
	ReimbursementNeeded   bool   `json:"Reimbursement_Needed__c"`
}

// toDomain resolves the wire record's optional relationship fields once at
// the client boundary. A missing parent relationship collapses to zero
// values, and an unparseable modified timestamp collapses to nil.
func (r orderRequestRecord) toDomain() rebate.StatusRecord {
	record := rebate.StatusRecord{
		ID:             r.ID,
		ComboKey:       r.ComboKey,
		FormID:         r.FormID,
		ReviewItemID:   r.ReviewItemID,
		RebateID:       r.ParentRebateID,
		RecordTypeName: r.RecordTypeName,
		ProgramYear:    r.ProgramYear,
	}

	if r.ModifiedString != "" {
		if modified, err := time.Parse(time.RFC3339, r.ModifiedString); err == nil {
			record.LastModified = &modified
		}
	}

	if p := r.ParentCSBRebate; p != nil {
		record.ParentRebate = rebate.ParentRebateStatus{
			ID:                    p.ID,
			FundingRequestStatus:  p.FundingRequestStatus,
			PaymentRequestStatus:  p.PaymentRequestStatus,
			CloseoutRequestStatus: p.CloseoutRequestStatus,
			ReimbursementNeeded:   p.ReimbursementNeeded,
		}
	}

	return record
}

type recordTypeRecord struct {
	ID string `json:"Id"`
}

type rebateIDRecord struct {
	ID             string `json:"Id"`
	ParentRebateID string `json:"Parent_Rebate_ID__c"`
}

// NewBusLineItem is one "New Bus" child record of a payment request,
// carried into a close-out form. Amount fields use decimal to keep rebate
// dollar values exact.
type NewBusLineItem struct {
	ID                  string           `json:"Id"`
	RebateItemNum       *decimal.Decimal `json:"Rebate_Item_num__c"`
	VIN                 string           `json:"CSB_VIN__c"`
	ModelYear           string           `json:"CSB_Model_Year__c"`
	FuelType            string           `json:"CSB_Fuel_Type__c"`
	ManufacturerIfOther string           `json:"CSB_Manufacturer_if_Other__c"`
	OldBusNCESDistrict  string           `json:"Old_Bus_NCES_District_ID__c"`
	OldBusRemainingLife *decimal.Decimal `json:"Old_Bus_Estimated_Remaining_Life__c"`
	OldBusExclude       bool             `json:"Old_Bus_Exclude__c"`
	RelatedLineItem     *RelatedLineItem `json:"Related_Line_Item__r"`
	NewBusFuelType      string           `json:"New_Bus_Fuel_Type__c"`
	NewBusMake          string           `json:"New_Bus_Make__c"`
	NewBusModel         string           `json:"New_Bus_Model__c"`
	NewBusModelYear     string           `json:"New_Bus_Model_Year__c"`
	NewBusGVWR          *decimal.Decimal `json:"New_Bus_GVWR__c"`
	NewBusRebateAmount  *decimal.Decimal `json:"New_Bus_Rebate_Amount__c"`
	NewBusPurchasePrice *decimal.Decimal `json:"New_Bus_Purchase_Price__c"`
}

type RelatedLineItem struct {
	ID         string `json:"Id"`
	VendorName string `json:"Vendor_Name__c"`
}

// PRFSeedData is the antecedent application data needed to seed a new
// payment request. Record holds the raw application record keyed by
// upstream field names for the data-driven field mapping; BusRecords and
// ContactRecords cover the nesting depth of the year's schema.
type PRFSeedData struct {
	RebateYear     string
	Record         map[string]any
	BusRecords     []map[string]any
	ContactRecords []map[string]any // 2023+ per-bus owner/contact linkage
}

// CRFSeedData is the application and payment request data needed to seed a
// new close-out form.
type CRFSeedData struct {
	RebateYear string
	FRFRecord  map[string]any
	PRFRecord  map[string]any
	BusRecords []NewBusLineItem
}

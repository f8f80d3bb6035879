package entity

import "strings"

// SamEntity is one SAM.gov registrant record as staged in the status
// directory. Field tags mirror the upstream API names so records pass
// through to the client unchanged.
type SamEntity struct {
	ID                      string `json:"Id"`
	ComboKey                string `json:"ENTITY_COMBO_KEY__c"`
	UniqueEntityID          string `json:"UNIQUE_ENTITY_ID__c"`
	EFTIndicator            string `json:"ENTITY_EFT_INDICATOR__c"`
	Status                  string `json:"ENTITY_STATUS__c"`
	ExclusionStatusFlag     string `json:"EXCLUSION_STATUS_FLAG__c"`
	DebtSubjectToOffsetFlag string `json:"DEBT_SUBJECT_TO_OFFSET_FLAG__c"`
	LegalBusinessName       string `json:"LEGAL_BUSINESS_NAME__c"`
	AddressLine1            string `json:"PHYSICAL_ADDRESS_LINE_1__c"`
	AddressLine2            string `json:"PHYSICAL_ADDRESS_LINE_2__c"`
	City                    string `json:"PHYSICAL_ADDRESS_CITY__c"`
	StateOrProvince         string `json:"PHYSICAL_ADDRESS_PROVINCE_OR_STATE__c"`
	ZipCode                 string `json:"PHYSICAL_ADDRESS_ZIPPOSTAL_CODE__c"`
	ZipCodePlus4            string `json:"PHYSICAL_ADDRESS_ZIP_CODE_4__c"`

	ElecBusPOCEmail    string `json:"ELEC_BUS_POC_EMAIL__c"`
	ElecBusPOCName     string `json:"ELEC_BUS_POC_NAME__c"`
	ElecBusPOCTitle    string `json:"ELEC_BUS_POC_TITLE__c"`
	AltElecBusPOCEmail string `json:"ALT_ELEC_BUS_POC_EMAIL__c"`
	AltElecBusPOCName  string `json:"ALT_ELEC_BUS_POC_NAME__c"`
	AltElecBusPOCTitle string `json:"ALT_ELEC_BUS_POC_TITLE__c"`
	GovtBusPOCEmail    string `json:"GOVT_BUS_POC_EMAIL__c"`
	GovtBusPOCName     string `json:"GOVT_BUS_POC_NAME__c"`
	GovtBusPOCTitle    string `json:"GOVT_BUS_POC_TITLE__c"`
	AltGovtBusPOCEmail string `json:"ALT_GOVT_BUS_POC_EMAIL__c"`
	AltGovtBusPOCName  string `json:"ALT_GOVT_BUS_POC_NAME__c"`
	AltGovtBusPOCTitle string `json:"ALT_GOVT_BUS_POC_TITLE__c"`
}

// Active reports whether the registrant's SAM.gov registration is current.
func (e SamEntity) Active() bool {
	return e.Status == "Active"
}

// PointOfContact is one of an entity's bus program contacts.
type PointOfContact struct {
	Email string
	Name  string
	Title string
}

// Contacts returns the entity's four point-of-contact roles: primary and
// alternate, electronic and government.
func (e SamEntity) Contacts() []PointOfContact {
	return []PointOfContact{
		{Email: e.ElecBusPOCEmail, Name: e.ElecBusPOCName, Title: e.ElecBusPOCTitle},
		{Email: e.AltElecBusPOCEmail, Name: e.AltElecBusPOCName, Title: e.AltElecBusPOCTitle},
		{Email: e.GovtBusPOCEmail, Name: e.GovtBusPOCName, Title: e.GovtBusPOCTitle},
		{Email: e.AltGovtBusPOCEmail, Name: e.AltGovtBusPOCName, Title: e.AltGovtBusPOCTitle},
	}
}

// ContactFor resolves the point-of-contact role matching the given email,
// case-insensitively. Used to stamp the acting user's name and title into
// seeded forms.
func (e SamEntity) ContactFor(email string) (PointOfContact, bool) {
	for _, poc := range e.Contacts() {
		if poc.Email != "" && strings.EqualFold(poc.Email, email) {
			return poc, true
		}
	}
	return PointOfContact{}, false
}

// ComboKeys extracts the combo keys from a set of entities. The combo key
// set is the user's write-authorization boundary across both backends.
func ComboKeys(entities []SamEntity) []string {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		if e.ComboKey != "" {
			keys = append(keys, e.ComboKey)
		}
	}
	return keys
}

// FindByComboKey returns the entity holding the given combo key.
func FindByComboKey(entities []SamEntity, comboKey string) (SamEntity, bool) {
	for _, e := range entities {
		if e.ComboKey == comboKey {
			return e, true
		}
	}
	return SamEntity{}, false
}

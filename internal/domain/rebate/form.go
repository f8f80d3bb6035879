package rebate

import (
	"fmt"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
)

// FormType identifies one of the three sequential form stages of a rebate.
type FormType string

const (
	FormTypeFRF FormType = "frf" // Application / Funding Request
	FormTypePRF FormType = "prf" // Payment Request
	FormTypeCRF FormType = "crf" // Close Out Request
)

// ParseFormType validates a form type path parameter.
func ParseFormType(s string) (FormType, error) {
	switch FormType(s) {
	case FormTypeFRF, FormTypePRF, FormTypeCRF:
		return FormType(s), nil
	}
	return "", shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("invalid form type %q", s))
}

// Label returns the user-facing form name, used in error messages.
func (t FormType) Label() string {
	switch t {
	case FormTypeFRF:
		return "CSB Application"
	case FormTypePRF:
		return "CSB Payment Request"
	case FormTypeCRF:
		return "CSB Close Out"
	}
	return "CSB"
}

// Years lists the rebate program years the portal serves, oldest first.
func Years() []string {
	return []string{"2022", "2023", "2024"}
}

// ValidYear reports whether the given rebate year is served.
func ValidYear(year string) bool {
	for _, y := range Years() {
		if y == year {
			return true
		}
	}
	return false
}

// recordTypeDeveloperNames maps rebate year and form type to the status
// directory's RecordType developer name. Typed record queries resolve the
// developer name to a record type ID first.
var recordTypeDeveloperNames = map[string]map[FormType]string{
	"2022": {
		FormTypeFRF: "CSB_Funding_Request",
		FormTypePRF: "CSB_Payment_Request",
		FormTypeCRF: "CSB_Closeout_Request",
	},
	"2023": {
		FormTypeFRF: "CSB_Funding_Request_2023",
		FormTypePRF: "CSB_Payment_Request_2023",
		FormTypeCRF: "CSB_Closeout_Request_2023",
	},
	"2024": {
		FormTypeFRF: "CSB_Funding_Request_2024",
		FormTypePRF: "CSB_Payment_Request_2024",
		FormTypeCRF: "CSB_Closeout_Request_2024",
	},
}

// RecordTypeDeveloperName returns the status directory RecordType developer
// name for a rebate year and form type.
func RecordTypeDeveloperName(year string, formType FormType) (string, error) {
	name := recordTypeDeveloperNames[year][formType]
	if name == "" {
		return "", shared.NewDomainError("INVALID_INPUT",
			fmt.Sprintf("no record type for rebate year %q form type %q", year, formType))
	}
	return name, nil
}

// ComboKeyFieldName returns the hidden form field that carries the entity
// combo key for a rebate year. The field was renamed between the 2022 and
// 2023 form schemas.
func ComboKeyFieldName(year string) string {
	if year == "2022" {
		return "bap_hidden_entity_combo_key"
	}
	return "_bap_entity_combo_key"
}

package submission

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eastern-Research-Group/csb-data-system/internal/application/access"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/entity"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/bap"
)

func TestCreatePRF2022(t *testing.T) {
	f := newFixture(true)
	f.bap.prfSeed = &bap.PRFSeedData{
		RebateYear: "2022",
		Record: map[string]any{
			"Id":             "frf1",
			"CSB_NCES_ID__c": "1234567",
			"Fleet_Name__c":  "Riverdale Fleet",
			"Primary_Applicant__r": map[string]any{
				"Name":  "Jordan Miles",
				"Email": "poc@school.example",
			},
			"Total_Rebate_Funds_Requested__c": 750000.0,
		},
		BusRecords: []map[string]any{
			{
				"Id":                           "bus1",
				"Rebate_Item_num__c":           1.0,
				"CSB_VIN__c":                   "VIN0001",
				"CSB_Model_Year__c":            "2002",
				"CSB_Fuel_Type__c":             "Diesel",
				"CSB_Replacement_Fuel_Type__c": "Electric",
				"CSB_Funds_Requested__c":       375000.0,
			},
		},
	}

	sub, err := f.service.CreatePRF(context.Background(), testUser, "2022", CreatePRFRequest{
		ComboKey:        "UEI1230000",
		RebateID:        "123456",
		FRFReviewItemID: "123456001",
		FRFFormModified: "2024-03-01T12:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "draft", sub.State)

	data := sub.Data
	assert.Equal(t, "UEI1230000", data["bap_hidden_entity_combo_key"])
	assert.Equal(t, "123456", data["hidden_bap_rebate_id"])
	assert.Equal(t, "poc@school.example", data["hidden_current_user_email"])
	assert.Equal(t, "UEI123", data["hidden_sam_uei"])
	// empty EFT indicator normalizes to the sentinel
	assert.Equal(t, "0000", data["hidden_sam_efti"])
	assert.Equal(t, "Riverdale Fleet", data["hidden_bap_fleet_name"])
	assert.Equal(t, "Jordan Miles", data["hidden_bap_primary_name"])
	// absent alternate applicant defaults to empty string
	assert.Equal(t, "", data["hidden_bap_alternate_name"])

	busInfo, ok := data["busInfo"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, busInfo, 1)
	assert.Equal(t, "VIN0001", busInfo[0]["oldBusVin"])
	assert.Equal(t, "1234567", busInfo[0]["oldBusNcesDistrictId"])
	assert.Equal(t, "Electric", busInfo[0]["newBusFuelType"])
	assert.Equal(t, 375000.0, busInfo[0]["hidden_bap_max_rebate"])

	purchaseOrders, ok := data["purchaseOrders"].([]any)
	require.True(t, ok)
	assert.Empty(t, purchaseOrders)

	assert.Equal(t, "test", sub.Metadata["csb-app-cy"])
}

func TestCreatePRF2023(t *testing.T) {
	f := newFixture(true)
	f.bap.prfSeed = &bap.PRFSeedData{
		RebateYear: "2023",
		Record: map[string]any{
			"Id":             "frf1",
			"CSB_NCES_ID__c": "1234567",
			"Primary_Applicant__r": map[string]any{
				"FirstName": "Jordan",
				"LastName":  "Miles",
			},
			"Prioritized_as_High_Need__c": true,
			"Prioritized_as_Rural__c":     false,
		},
		BusRecords: []map[string]any{
			{
				"Id":                                "bus1",
				"Rebate_Item_num__c":                1.0,
				"CSB_VIN__c":                        "VIN0001",
				"CSB_Model_Year__c":                 "2002",
				"CSB_Fuel_Type__c":                  "Diesel",
				"Old_Bus_NCES_District_ID__c":       "1234567",
				"New_Bus_Fuel_Type__c":              "Electric",
				"New_Bus_Infra_Rebate_Requested__c": 345000.0,
			},
		},
	}

	sub, err := f.service.CreatePRF(context.Background(), testUser, "2023", CreatePRFRequest{
		ComboKey:        "UEI1230000",
		RebateID:        "123456",
		FRFReviewItemID: "123456001",
	})
	require.NoError(t, err)

	data := sub.Data
	assert.Equal(t, "UEI1230000", data["_bap_entity_combo_key"])
	assert.Equal(t, "Jordan", data["_bap_primary_fname"])
	assert.Equal(t, "0000", data["_bap_applicant_efti"])
	assert.Equal(t, "Riverdale Schools", data["_bap_applicant_organization_name"])

	priority, ok := data["_bap_district_priorityReason"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, priority["highNeed"])
	assert.Equal(t, false, priority["rural"])

	busInfo, ok := data["busInfo"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, busInfo, 1)
	assert.Equal(t, "Electric", busInfo[0]["newBusFuelType"])
	assert.Equal(t, 345000.0, busInfo[0]["hidden_bap_max_rebate"])
}

func TestCreatePRFUserFallsBackToEntityContact(t *testing.T) {
	f := newFixture(true)
	ent := sampleEntity("UEI1230000")
	ent.ElecBusPOCName = "Jordan Miles"
	ent.ElecBusPOCTitle = "Transportation Director"
	f.bap.entities = []entity.SamEntity{ent}
	f.bap.prfSeed = &bap.PRFSeedData{
		RebateYear: "2022",
		Record:     map[string]any{"Id": "frf1"},
	}

	// Session claims without a name or title
	bareUser := access.User{Email: "poc@school.example"}

	sub, err := f.service.CreatePRF(context.Background(), bareUser, "2022", CreatePRFRequest{
		ComboKey:        "UEI1230000",
		RebateID:        "123456",
		FRFReviewItemID: "123456001",
	})
	require.NoError(t, err)

	assert.Equal(t, "Jordan Miles", sub.Data["hidden_current_user_name"])
	assert.Equal(t, "Transportation Director", sub.Data["hidden_current_user_title"])
}

func TestCreatePRFGates(t *testing.T) {
	req := CreatePRFRequest{ComboKey: "UEI1230000", FRFReviewItemID: "123456001"}

	t.Run("period closed", func(t *testing.T) {
		f := newFixture(false)

		_, err := f.service.CreatePRF(context.Background(), testUser, "2022", req)
		assert.True(t, shared.IsCode(err, shared.ErrPeriodClosed.Code))
		require.Len(t, f.recorder.denials, 1)
		assert.Equal(t, "PERIOD_CLOSED", f.recorder.denials[0].Reason)
	})

	t.Run("combo key not held", func(t *testing.T) {
		f := newFixture(true)

		_, err := f.service.CreatePRF(context.Background(), testUser, "2022", CreatePRFRequest{
			ComboKey:        "UEI9990000",
			FRFReviewItemID: "123456001",
		})
		assert.ErrorIs(t, err, shared.ErrUnauthorized)
	})
}

func TestCreateCRF2022(t *testing.T) {
	amount := decimal.NewFromInt(375000)
	f := newFixture(true)
	f.bap.crfSeed = &bap.CRFSeedData{
		RebateYear: "2022",
		FRFRecord: map[string]any{
			"Fleet_Name__c":          "Riverdale Fleet",
			"Fleet_Contact_Email__c": "fleet@school.example",
		},
		PRFRecord: map[string]any{
			"CSB_NCES_ID__c": "1234567",
			"Primary_Applicant__r": map[string]any{
				"FirstName": "Jordan",
				"LastName":  "Miles",
			},
			"Total_Bus_Rebate_Amount__c": 375000.0,
		},
		BusRecords: []bap.NewBusLineItem{
			{
				ID:                 "bus1",
				VIN:                "VIN0001",
				FuelType:           "Diesel",
				NewBusFuelType:     "Electric",
				NewBusRebateAmount: &amount,
				RelatedLineItem:    &bap.RelatedLineItem{ID: "li1", VendorName: "BusCo"},
			},
		},
	}

	sub, err := f.service.CreateCRF(context.Background(), testUser, "2022", CreateCRFRequest{
		ComboKey:        "UEI1230000",
		RebateID:        "123456",
		FRFReviewItemID: "123456001",
		PRFReviewItemID: "123456002",
	})
	require.NoError(t, err)

	data := sub.Data
	assert.Equal(t, "UEI1230000", data["bap_hidden_entity_combo_key"])
	assert.Equal(t, "Riverdale Fleet", data["hidden_bap_fleet_name"])
	assert.Equal(t, "Jordan", data["hidden_bap_primary_fname"])
	assert.Equal(t, 375000.0, data["hidden_bap_total_bus_rebate"])

	busInfo, ok := data["busInfo"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, busInfo, 1)
	assert.Equal(t, "VIN0001", busInfo[0]["oldBusVin"])
	assert.Equal(t, "Electric", busInfo[0]["newBusFuelType"])
	assert.Equal(t, "BusCo", busInfo[0]["newBusManufacturer"])
}

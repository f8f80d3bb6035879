package bap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
)

// fakeRecordTypeCache is an in-memory RecordTypeCache.
type fakeRecordTypeCache struct {
	mu     sync.Mutex
	values map[string]string
	hits   int
	misses int
}

func newFakeRecordTypeCache() *fakeRecordTypeCache {
	return &fakeRecordTypeCache{values: make(map[string]string)}
}

func (f *fakeRecordTypeCache) GetRecordTypeID(_ context.Context, developerName string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.values[developerName]
	if ok {
		f.hits++
	} else {
		f.misses++
	}
	return id, ok
}

func (f *fakeRecordTypeCache) SetRecordTypeID(_ context.Context, developerName, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[developerName] = id
}

// soqlResponder answers queries by substring match against the SOQL text.
func soqlResponder(t *testing.T, responses map[string]string, queries *[]string) func(w http.ResponseWriter, r *http.Request) {
	t.Helper()
	var mu sync.Mutex
	return func(w http.ResponseWriter, r *http.Request) {
		soql := r.URL.Query().Get("q")
		mu.Lock()
		*queries = append(*queries, soql)
		mu.Unlock()

		for needle, records := range responses {
			if needle != "" && strings.Contains(soql, needle) {
				_, _ = fmt.Fprintf(w, `{"totalSize":1,"done":true,"records":%s}`, records)
				return
			}
		}
		_, _ = w.Write([]byte(`{"totalSize":0,"done":true,"records":[]}`))
	}
}

func TestGetSamEntities(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"Data_Staging__c": `[{
			"Id": "a0A1",
			"ENTITY_COMBO_KEY__c": "UEI1230000",
			"UNIQUE_ENTITY_ID__c": "UEI123",
			"ENTITY_EFT_INDICATOR__c": "",
			"ENTITY_STATUS__c": "Active",
			"ELEC_BUS_POC_EMAIL__c": "poc@school.example"
		}]`,
	}, &queries))

	client := NewClient(testConnection(server), nil, zap.NewNop())

	entities, err := client.GetSamEntities(context.Background(), "poc@school.example")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "UEI1230000", entities[0].ComboKey)
	assert.True(t, entities[0].Active())

	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], "FROM Data_Staging__c")
	assert.Contains(t, queries[0], "ELEC_BUS_POC_EMAIL__c = 'poc@school.example'")
	assert.Contains(t, queries[0], "ALT_GOVT_BUS_POC_EMAIL__c = 'poc@school.example'")
}

func TestGetSamEntitiesEscapesEmail(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, nil, &queries))

	client := NewClient(testConnection(server), nil, zap.NewNop())

	_, err := client.GetSamEntities(context.Background(), "o'brien@school.example")
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], `o\'brien@school.example`)
}

func TestGetComboKeys(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"Data_Staging__c": `[
			{"Id": "a0A1", "ENTITY_COMBO_KEY__c": "UEI1230000"},
			{"Id": "a0A2", "ENTITY_COMBO_KEY__c": "UEI4561234"}
		]`,
	}, &queries))

	client := NewClient(testConnection(server), nil, zap.NewNop())

	keys, err := client.GetComboKeys(context.Background(), "poc@school.example")
	require.NoError(t, err)
	assert.Equal(t, []string{"UEI1230000", "UEI4561234"}, keys)
}

func TestGetStatusRecordsTwoStage(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"UEI_EFTI_Combo_Key__c IN": `[
			{"Id": "sub1", "Parent_Rebate_ID__c": "123456"},
			{"Id": "sub2", "Parent_Rebate_ID__c": "123456"},
			{"Id": "sub3", "Parent_Rebate_ID__c": "654321"}
		]`,
		"Parent_CSB_Rebate__r.CSB_Rebate_ID__c IN": `[{
			"Id": "sub1",
			"UEI_EFTI_Combo_Key__c": "UEI1230000",
			"CSB_Form_ID__c": "656b8a36a9c1b9e1a3b4c5d6",
			"CSB_Modified_Full_String__c": "2024-03-01T12:00:00Z",
			"CSB_Review_Item_ID__c": "123456001",
			"Parent_Rebate_ID__c": "123456",
			"Record_Type_Name__c": "CSB Funding Request 2023",
			"Rebate_Program_Year__c": "2023",
			"Parent_CSB_Rebate__r": {
				"Id": "reb1",
				"CSB_Funding_Request_Status__c": "Edits Requested"
			}
		}]`,
	}, &queries))

	client := NewClient(testConnection(server), nil, zap.NewNop())

	records, err := client.GetStatusRecords(context.Background(), []string{"UEI1230000"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "656b8a36a9c1b9e1a3b4c5d6", record.FormID)
	assert.Equal(t, "123456", record.RebateID)
	assert.Equal(t, rebate.FormTypeFRF, record.FormType())
	assert.Equal(t, "Edits Requested", record.ParentRebate.FundingRequestStatus)
	require.NotNil(t, record.LastModified)

	require.Len(t, queries, 2)
	// stage 2 deduplicates the rebate IDs from stage 1
	assert.Contains(t, queries[1], "('123456', '654321')")
	for _, q := range queries {
		assert.Contains(t, q, "Latest_Version__c = TRUE")
		assert.Contains(t, q, "ORDER BY CreatedDate DESC")
	}
}

func TestGetStatusRecordsShortCircuits(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, nil, &queries))

	client := NewClient(testConnection(server), nil, zap.NewNop())

	t.Run("no combo keys", func(t *testing.T) {
		records, err := client.GetStatusRecords(context.Background(), nil)
		require.NoError(t, err)
		assert.Nil(t, records)
		assert.Empty(t, queries)
	})

	t.Run("no rebate ids from stage one", func(t *testing.T) {
		records, err := client.GetStatusRecords(context.Background(), []string{"UEI0000000"})
		require.NoError(t, err)
		assert.Nil(t, records)
		// stage 2 never runs
		assert.Len(t, queries, 1)
	})
}

func TestGetSubmissionRecord(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"FROM RecordType": `[{"Id": "rt1"}]`,
		"CSB_Form_ID__c = '656b8a36a9c1b9e1a3b4c5d6'": `[{"Id": "sub1", "Parent_Rebate_ID__c": "123456", "CSB_Form_ID__c": "656b8a36a9c1b9e1a3b4c5d6"}]`,
	}, &queries))

	cache := newFakeRecordTypeCache()
	client := NewClient(testConnection(server), cache, zap.NewNop())

	record, err := client.GetSubmissionRecord(context.Background(), "2023", rebate.FormTypeFRF, "", "656b8a36a9c1b9e1a3b4c5d6")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "123456", record.RebateID)

	require.GreaterOrEqual(t, len(queries), 2)
	assert.Contains(t, queries[0], "DeveloperName = 'CSB_Funding_Request_2023'")
	assert.Contains(t, queries[1], "CSB_Form_ID__c = '656b8a36a9c1b9e1a3b4c5d6'")
	assert.Contains(t, queries[1], "Latest_Version__c = TRUE")

	t.Run("record type resolution is cached", func(t *testing.T) {
		before := len(queries)
		_, err := client.GetSubmissionRecord(context.Background(), "2023", rebate.FormTypeFRF, "", "656b8a36a9c1b9e1a3b4c5d6")
		require.NoError(t, err)
		// only the data query runs; the record type lookup hits the cache
		assert.Equal(t, before+1, len(queries))
	})

	t.Run("missing record yields nil, not error", func(t *testing.T) {
		record, err := client.GetSubmissionRecord(context.Background(), "2023", rebate.FormTypeFRF, "", "000000000000000000000000")
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("invalid year fails", func(t *testing.T) {
		_, err := client.GetSubmissionRecord(context.Background(), "2021", rebate.FormTypeFRF, "", "656b8a36a9c1b9e1a3b4c5d6")
		assert.Error(t, err)
	})
}

func TestGetPRFSeedData2022(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"FROM RecordType": `[{"Id": "rt1"}]`,
		"CSB_Review_Item_ID__c": `[{
			"Id": "frf1",
			"CSB_NCES_ID__c": "1234567",
			"Fleet_Name__c": "Riverdale Fleet",
			"Primary_Applicant__r": {"Name": "Jordan Miles", "Email": "jordan@school.example"}
		}]`,
		"CSB_Rebate_Item_Type__c = 'Old Bus'": `[{
			"Id": "bus1",
			"Rebate_Item_num__c": 1,
			"CSB_VIN__c": "VIN0001",
			"CSB_Funds_Requested__c": 375000
		}]`,
	}, &queries))

	client := NewClient(testConnection(server), newFakeRecordTypeCache(), zap.NewNop())

	seed, err := client.GetPRFSeedData(context.Background(), "2022", "123456001")
	require.NoError(t, err)
	assert.Equal(t, "Riverdale Fleet", seed.Record["Fleet_Name__c"])
	require.Len(t, seed.BusRecords, 1)
	assert.Equal(t, "VIN0001", seed.BusRecords[0]["CSB_VIN__c"])
	assert.Empty(t, seed.ContactRecords)

	// nested relationship fields come back as nested maps for the seed mapper
	primary, ok := seed.Record["Primary_Applicant__r"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Jordan Miles", primary["Name"])
}

func TestGetPRFSeedDataMissingAntecedent(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"FROM RecordType": `[{"Id": "rt1"}]`,
	}, &queries))

	client := NewClient(testConnection(server), nil, zap.NewNop())

	_, err := client.GetPRFSeedData(context.Background(), "2023", "123456001")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrUpstreamDataIncomplete)
}

func TestGetCRFSeedData(t *testing.T) {
	server := newBAPServer(t)
	var queries []string
	server.setQueryHandler(soqlResponder(t, map[string]string{
		"FROM RecordType": `[{"Id": "rt1"}]`,
		"Fleet_Name__c":   `[{"Id": "frf1", "Fleet_Name__c": "Riverdale Fleet"}]`,
		"Total_Rebate_Funds_Requested_PO__c": `[{
			"Id": "prf1",
			"CSB_NCES_ID__c": "1234567",
			"Total_Bus_Rebate_Amount__c": 375000
		}]`,
		"CSB_Rebate_Item_Type__c = 'New Bus'": `[{
			"Id": "bus1",
			"CSB_VIN__c": "VIN0001",
			"New_Bus_Rebate_Amount__c": "375000.50",
			"Related_Line_Item__r": {"Id": "li1", "Vendor_Name__c": "BusCo"}
		}]`,
	}, &queries))

	client := NewClient(testConnection(server), newFakeRecordTypeCache(), zap.NewNop())

	seed, err := client.GetCRFSeedData(context.Background(), "2022", "123456001", "123456002")
	require.NoError(t, err)
	assert.Equal(t, "Riverdale Fleet", seed.FRFRecord["Fleet_Name__c"])
	assert.Equal(t, "1234567", seed.PRFRecord["CSB_NCES_ID__c"])
	require.Len(t, seed.BusRecords, 1)

	bus := seed.BusRecords[0]
	assert.Equal(t, "VIN0001", bus.VIN)
	require.NotNil(t, bus.NewBusRebateAmount)
	assert.Equal(t, "375000.5", bus.NewBusRebateAmount.String())
	require.NotNil(t, bus.RelatedLineItem)
	assert.Equal(t, "BusCo", bus.RelatedLineItem.VendorName)
}

func TestCheckDuplicates(t *testing.T) {
	server := newBAPServer(t)

	mux, ok := server.Config.Handler.(*http.ServeMux)
	require.True(t, ok)
	mux.HandleFunc("/services/apexrest/v2/recordMatcher/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "jordan@school.example", payload["email"])
		_, _ = w.Write([]byte(`[{"confidence":0.92,"record":{"Id":"c1"}}]`))
	})

	client := NewClient(testConnection(server), nil, zap.NewNop())

	result, err := client.CheckDuplicates(context.Background(), json.RawMessage(`{"email":"jordan@school.example"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"confidence":0.92,"record":{"Id":"c1"}}]`, string(result))
}

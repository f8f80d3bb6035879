package rebate

import "time"

// FormSubmission is the form store's view of a submission, reduced to the
// fields the reconciler joins and derives from. Document carries the full
// form store payload untouched.
type FormSubmission struct {
	ID       string
	State    string
	Modified time.Time
	Document map[string]any
}

// MergedBAPFields is the status directory half of a merged submission. All
// fields are nil when no status directory record has matched the submission
// yet, which is expected for freshly created submissions the upstream ETL
// has not picked up.
type MergedBAPFields struct {
	ComboKey     *string    `json:"comboKey"`
	RebateID     *string    `json:"rebateId"`
	ReviewItemID *string    `json:"reviewItemId"`
	Status       *string    `json:"status"`
	LastModified *time.Time `json:"lastModified"`
}

// MergedSubmission is the reconciler's read-only projection of one
// submission across both backends. Recomputed per request, never persisted.
type MergedSubmission struct {
	Type           FormType        `json:"type"`
	Formio         map[string]any  `json:"formio"`
	BAP            MergedBAPFields `json:"bap"`
	DisplayStatus  string          `json:"displayStatus"`
	HasBeenUpdated bool            `json:"hasBeenUpdated"`
}

// HasBeenUpdated reports whether the form store holds edits newer than the
// status directory's authoritative timestamp. The upstream ETL lags form
// store writes by an unbounded interval, so a stale "Edits Requested" must
// not be shown once the user has saved a newer draft. False when the status
// directory has no record yet.
func HasBeenUpdated(formModified time.Time, bapLastModified *time.Time) bool {
	if bapLastModified == nil {
		return false
	}
	return formModified.After(*bapLastModified)
}

// statusRule is one row of the lifecycle decision table. Rules are evaluated
// top to bottom; the first match wins.
type statusRule struct {
	name    string
	applies func(bapStatus string, hasBeenUpdated bool) bool
	result  func(bapStatus, rawState string) string
}

var statusRules = []statusRule{
	{
		// An upstream edit request stands only until the user saves a
		// newer draft or resubmits.
		name: "edits requested",
		applies: func(bapStatus string, hasBeenUpdated bool) bool {
			return bapStatus == StatusEditsRequested && !hasBeenUpdated
		},
		result: func(bapStatus, rawState string) string { return StatusEditsRequested },
	},
	{
		name: "withdrawn",
		applies: func(bapStatus string, hasBeenUpdated bool) bool {
			return bapStatus == StatusWithdrawn
		},
		result: func(bapStatus, rawState string) string { return StatusWithdrawn },
	},
	{
		name:    "form state",
		applies: func(string, bool) bool { return true },
		result:  func(bapStatus, rawState string) string { return rawState },
	},
}

// DeriveDisplayStatus resolves the user-facing lifecycle state from the
// upstream parent-rebate status and the form store's raw state.
func DeriveDisplayStatus(bapStatus, rawState string, hasBeenUpdated bool) string {
	for _, rule := range statusRules {
		if rule.applies(bapStatus, hasBeenUpdated) {
			return rule.result(bapStatus, rawState)
		}
	}
	return rawState
}

// Merge joins form store submissions with status directory records on the
// form store document ID and derives each submission's lifecycle state.
// Neither input is mutated; submissions keep their input order.
func Merge(formType FormType, submissions []FormSubmission, records []StatusRecord) []MergedSubmission {
	byFormID := make(map[string]StatusRecord, len(records))
	for _, record := range records {
		if record.FormID == "" {
			continue
		}
		if _, seen := byFormID[record.FormID]; !seen {
			byFormID[record.FormID] = record
		}
	}

	merged := make([]MergedSubmission, 0, len(submissions))
	for _, submission := range submissions {
		out := MergedSubmission{
			Type:          formType,
			Formio:        submission.Document,
			DisplayStatus: submission.State,
		}

		record, ok := byFormID[submission.ID]
		if ok {
			status := record.ParentRebate.StatusFor(formType)
			out.BAP = MergedBAPFields{
				ComboKey:     &record.ComboKey,
				RebateID:     &record.RebateID,
				ReviewItemID: &record.ReviewItemID,
				Status:       &status,
				LastModified: record.LastModified,
			}
			out.HasBeenUpdated = HasBeenUpdated(submission.Modified, record.LastModified)
			out.DisplayStatus = DeriveDisplayStatus(status, submission.State, out.HasBeenUpdated)
		}

		merged = append(merged, out)
	}
	return merged
}

// GroupByRebate buckets status records by their shared rebate ID so a
// rebate's Application, Payment Request, and Close Out statuses can be read
// together. Records without a rebate ID are dropped.
func GroupByRebate(records []StatusRecord) map[string][]StatusRecord {
	grouped := make(map[string][]StatusRecord)
	for _, record := range records {
		if record.RebateID == "" {
			continue
		}
		grouped[record.RebateID] = append(grouped[record.RebateID], record)
	}
	return grouped
}

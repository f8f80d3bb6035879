package formio

import (
	"encoding/json"
	"time"
)

// Submission is a form store submission document. Data carries the raw
// form field values keyed by component API name.
type Submission struct {
	ID       string         `json:"_id"`
	FormID   string         `json:"form,omitempty"`
	State    string         `json:"state,omitempty"`
	Created  time.Time      `json:"created,omitempty"`
	Modified time.Time      `json:"modified,omitempty"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SubmissionPayload is the body of a create or update request. Pointer
// fields are omitted when unset so partial updates do not clobber state.
type SubmissionPayload struct {
	State    string         `json:"state,omitempty"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Form is a form schema document. Components is kept raw: the schema is
// rendered client side and the server never interprets it.
type Form struct {
	ID         string          `json:"_id"`
	Title      string          `json:"title"`
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	Components json.RawMessage `json:"components"`
}

package model

import (
	"fmt"
	"strings"
	"time"
)

// BaselineKind names the baseline date a deliverable's due date counts from
type BaselineKind string

const (
	BaselineSignDate  BaselineKind = "sign_date"
	BaselineAwardDate BaselineKind = "award_date"
)

// ParseBaselineKind accepts the canonical names, their CamelCase forms and the
// Chinese labels used in contract tables.
func ParseBaselineKind(s string) (BaselineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sign_date", "signdate", "sign", "簽約日", "簽約":
		return BaselineSignDate, nil
	case "award_date", "awarddate", "award", "決標日", "決標":
		return BaselineAwardDate, nil
	}
	return "", fmt.Errorf("unknown baseline kind %q", s)
}

// Deliverable represents one contractual obligation
type Deliverable struct {
	ItemName      string       `json:"item_name"`
	BasisClause   string       `json:"basis_clause"`
	DueText       string       `json:"due_text,omitempty"`
	BaselineKind  BaselineKind `json:"baseline_kind"`
	DurationDays  *int         `json:"duration_days,omitempty"`
	SubmittedDate *time.Time   `json:"submitted_date,omitempty"`
	ApprovedDate  *time.Time   `json:"approved_date,omitempty"`

	// Set on the single sentinel record produced when extraction output
	// could not be parsed.
	ExtractionFailed bool   `json:"extraction_failed,omitempty"`
	ErrorMsg         string `json:"error_msg,omitempty"`
}

// Status is the derived tracking state of a deliverable
type Status string

// Status constants
const (
	StatusUnknown          Status = "unknown"
	StatusPending          Status = "pending"
	StatusOverdue          Status = "overdue"
	StatusSubmittedOnTime  Status = "submitted_on_time"
	StatusSubmittedLate    Status = "submitted_late"
	StatusApproved         Status = "approved"
	StatusExtractionFailed Status = "extraction_failed"
)

// Action is what a progress sentence reports
type Action string

const (
	ActionSubmitted Action = "submitted"
	ActionApproved  Action = "approved"
)

// Update is a fully interpreted progress sentence
type Update struct {
	Action   Action    `json:"action"`
	Date     time.Time `json:"date"`
	ItemName string    `json:"item_name"`
	Sentence string    `json:"sentence,omitempty"`
}

// Row is one line of the exported tracking table
type Row struct {
	ItemName         string       `json:"item_name"`
	BasisClause      string       `json:"basis_clause"`
	BaselineKind     BaselineKind `json:"baseline_kind"`
	DurationDays     *int         `json:"duration_days"`
	DueDate          *time.Time   `json:"due_date"`
	SubmittedDate    *time.Time   `json:"submitted_date"`
	ApprovedDate     *time.Time   `json:"approved_date"`
	Status           Status       `json:"status"`
	ExtractionFailed bool         `json:"extraction_failed,omitempty"`
	ErrorMsg         string       `json:"error_msg,omitempty"`
}

// Baselines holds the session's two reference dates
type Baselines struct {
	SignDate  *time.Time `json:"sign_date"`
	AwardDate *time.Time `json:"award_date"`
}

// Get returns the baseline for kind, or nil if it is unset or kind is unknown
func (b Baselines) Get(kind BaselineKind) *time.Time {
	switch kind {
	case BaselineSignDate:
		return b.SignDate
	case BaselineAwardDate:
		return b.AwardDate
	}
	return nil
}

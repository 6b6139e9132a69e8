package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

// Supported project statuses.
const (
	ProjectStatusActive    ProjectStatus = "Active"
	ProjectStatusCompleted ProjectStatus = "Completed"
)

// Valid reports whether s is one of the known statuses.
func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusActive, ProjectStatusCompleted:
		return true
	default:
		return false
	}
}

// Project represents a funded initiative tracked over a date range.
// A project belongs to exactly one user and carries its disbursement
// phases inline.
type Project struct {
	// ID is the unique identifier of the project (a UUID string).
	ID string `json:"_id" db:"id"`

	// Title is the human-readable name of the project.
	Title string `json:"title" db:"title"`

	// FundingAmount is the total amount of funding granted to the project.
	FundingAmount float64 `json:"fundingAmount" db:"funding_amount"`

	// FunderName names the organisation or person providing the funds.
	FunderName string `json:"funderName" db:"funder_name"`

	// StartDate is the first day of the funded period.
	StartDate time.Time `json:"startDate" db:"start_date"`

	// EndDate is the last day of the funded period.
	EndDate time.Time `json:"endDate" db:"end_date"`

	// Description is optional free text.
	Description string `json:"description" db:"description"`

	// Status is Active until the owner marks the project Completed.
	Status ProjectStatus `json:"status" db:"status"`

	// Owner is the ID of the user who created the project. It never changes.
	Owner string `json:"owner" db:"owner_id"`

	// Phases is the ordered list of disbursement tranches. Phases have no
	// identifier of their own and are addressed by position.
	Phases Phases `json:"phases" db:"phases"`

	// Version is incremented on every write and guards phase updates
	// against lost writes.
	Version int `json:"__v" db:"version"`

	// CreatedAt is the timestamp at which the project was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the project.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// Phase is a dated disbursement tranche within a project.
type Phase struct {
	PhaseNumber    int       `json:"phaseNumber"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	AmountReceived float64   `json:"amountReceived"`
}

// Phases is persisted as a single JSON document column.
type Phases []Phase

// Value implements driver.Valuer.
func (p Phases) Value() (driver.Value, error) {
	if p == nil {
		p = Phases{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *Phases) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Phases{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("phases: unsupported source type %T", src)
	}

	var phases Phases
	if err := json.Unmarshal(data, &phases); err != nil {
		return fmt.Errorf("phases: %w", err)
	}
	if phases == nil {
		phases = Phases{}
	}
	*p = phases
	return nil
}

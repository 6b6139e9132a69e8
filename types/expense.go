package types

import "time"

// UploadsPrefix is the public path under which stored objects are served.
const UploadsPrefix = "/uploads/"

// Expense is a dated spend record against a project, optionally evidenced
// by a receipt stored in object storage.
type Expense struct {
	// ID is the unique identifier of the expense (a UUID string).
	ID string `json:"_id" db:"id"`

	// Project is the ID of the project the expense was logged against.
	Project string `json:"project" db:"project_id"`

	Purpose  string    `json:"purpose" db:"purpose"`
	Amount   float64   `json:"amount" db:"amount"`
	Date     time.Time `json:"date" db:"date"`
	Category string    `json:"category" db:"category"`

	// ReceiptPath is the object storage key of the receipt, empty when none
	// was uploaded.
	ReceiptPath string `json:"receiptPath,omitempty" db:"receipt_path"`

	// ReceiptURL is derived from ReceiptPath and is null when there is no
	// receipt.
	ReceiptURL *string `json:"receiptUrl" db:"-"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// WithReceiptURL returns a copy of e with ReceiptURL derived from ReceiptPath.
func (e Expense) WithReceiptURL() Expense {
	e.ReceiptURL = PublicURL(e.ReceiptPath)
	return e
}

// PublicURL maps an object key to the path it is served from, or nil for
// an empty key.
func PublicURL(key string) *string {
	if key == "" {
		return nil
	}
	url := UploadsPrefix + key
	return &url
}

package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format of transaction dates.
const DateLayout = "2006-01-02"

// TransactionType distinguishes income from expenses.
type TransactionType string

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"-"`
}

// Transaction is a single ledger entry owned by one user.
type Transaction struct {
	ID     int64
	UserID int64
	Amount decimal.Decimal
	// Category is a free-text label, at most 100 characters.
	Category string
	// Date has no time component; it is kept at midnight UTC.
	Date time.Time
	Type TransactionType
}

type transactionJSON struct {
	ID              int64           `json:"id"`
	User            int64           `json:"user"`
	Amount          string          `json:"amount"`
	Category        string          `json:"category"`
	Date            string          `json:"date"`
	TransactionType TransactionType `json:"transaction_type"`
}

// MarshalJSON renders the amount with exactly two fractional digits and the
// date without a time component.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		ID:              t.ID,
		User:            t.UserID,
		Amount:          t.Amount.StringFixed(2),
		Category:        t.Category,
		Date:            t.Date.Format(DateLayout),
		TransactionType: t.Type,
	})
}

// TransactionInput carries caller-supplied transaction fields. Nil fields were
// not supplied. The owner always comes from the session.
type TransactionInput struct {
	Amount          *decimal.Decimal
	Category        *string
	Date            *string
	TransactionType *string
}

// Session represents an authenticated user session. Token is only populated
// when the session is issued; storage keeps a hash of it.
type Session struct {
	Token        string
	UserID       int64
	User         *User
	ExpiresAt    time.Time
	LastActivity time.Time
	// Renewed is set when validation extended ExpiresAt.
	Renewed bool
}

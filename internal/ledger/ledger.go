// Package ledger validates and stores users' income and expense transactions.
//
// Every read and mutation is scoped to the owner: a transaction belonging to
// someone else is reported as apperr.ErrForbidden, an unknown id as
// apperr.ErrNotFound.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"centsible/internal/apperr"
	"centsible/internal/models"
	"centsible/internal/storage"

	"github.com/shopspring/decimal"
)

const (
	// MaxCategoryLength is the longest accepted category label, in characters.
	MaxCategoryLength = 100
	// AmountPlaces is the number of fractional digits kept for amounts.
	AmountPlaces = 2
	// AmountMaxDigits bounds the total number of digits of an amount.
	AmountMaxDigits = 10
)

var maxAmount = decimal.New(1, AmountMaxDigits-AmountPlaces)

// maxCoefficientBits bounds the unscaled value of an amount before any
// rescaling; 128 bits hold 38 decimal digits.
const maxCoefficientBits = 128

// Repository is the persistence the ledger needs.
type Repository interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error)
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	DeleteTransaction(ctx context.Context, id int64) error
}

// Store is the ledger of all users.
type Store struct {
	repo Repository
}

// NewStore returns a Store backed by repo.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Create validates in and records it as a transaction owned by userID.
func (s *Store) Create(ctx context.Context, userID int64, in models.TransactionInput) (*models.Transaction, error) {
	t := &models.Transaction{UserID: userID}
	if err := apply(t, in, false); err != nil {
		return nil, err
	}
	if err := s.repo.CreateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	return t, nil
}

// List returns the transactions owned by userID, newest first.
func (s *Store) List(ctx context.Context, userID int64) ([]models.Transaction, error) {
	ts, err := s.repo.ListTransactions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return ts, nil
}

// Get returns transaction id if userID owns it.
func (s *Store) Get(ctx context.Context, id, userID int64) (*models.Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", id, err)
	}
	if t.UserID != userID {
		return nil, apperr.ErrForbidden
	}
	return t, nil
}

// Update changes transaction id. With partial unset every field must be
// supplied; with partial set only the supplied fields change.
func (s *Store) Update(ctx context.Context, id, userID int64, in models.TransactionInput, partial bool) (*models.Transaction, error) {
	t, err := s.Get(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := apply(t, in, partial); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTransaction(ctx, t); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("update transaction %d: %w", id, err)
	}
	return t, nil
}

// Delete removes transaction id if userID owns it.
func (s *Store) Delete(ctx context.Context, id, userID int64) error {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return err
	}
	if err := s.repo.DeleteTransaction(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	return nil
}

// apply validates the supplied fields of in and copies them onto t. t is left
// untouched when validation fails.
func apply(t *models.Transaction, in models.TransactionInput, partial bool) error {
	next := *t

	if in.Amount != nil {
		amount, err := ValidateAmount(*in.Amount)
		if err != nil {
			return err
		}
		next.Amount = amount
	} else if !partial {
		return required("amount")
	}

	if in.Category != nil {
		category, err := ValidateCategory(*in.Category)
		if err != nil {
			return err
		}
		next.Category = category
	} else if !partial {
		return required("category")
	}

	if in.Date != nil {
		date, err := ParseDate(*in.Date)
		if err != nil {
			return err
		}
		next.Date = date
	} else if !partial {
		return required("date")
	}

	if in.TransactionType != nil {
		typ, err := ParseType(*in.TransactionType)
		if err != nil {
			return err
		}
		next.Type = typ
	} else if !partial {
		return required("transaction_type")
	}

	*t = next
	return nil
}

func required(field string) error {
	return apperr.Validation("%s: this field is required", field)
}

// ValidateAmount accepts amounts representable with two fractional digits and
// at most ten digits in total, and returns them rounded to two places.
func ValidateAmount(d decimal.Decimal) (decimal.Decimal, error) {
	// Round and Cmp rescale through 10^|exponent|, so the exponent and
	// coefficient are bounded first.
	coef := d.Coefficient()
	if coef.Sign() == 0 {
		return decimal.Zero, nil
	}
	if coef.BitLen() > maxCoefficientBits || d.Exponent() > AmountMaxDigits {
		return decimal.Decimal{}, tooManyDigits()
	}
	// A coefficient below 10^39 cannot absorb a shift of more than 38 places.
	if d.Exponent() < -(AmountPlaces + 38) {
		return decimal.Decimal{}, tooManyPlaces()
	}

	rounded := d.Round(AmountPlaces)
	if !rounded.Equal(d) {
		return decimal.Decimal{}, tooManyPlaces()
	}
	if rounded.Abs().GreaterThanOrEqual(maxAmount) {
		return decimal.Decimal{}, tooManyDigits()
	}
	return rounded, nil
}

func tooManyPlaces() error {
	return apperr.Validation("amount: ensure that there are no more than %d decimal places", AmountPlaces)
}

func tooManyDigits() error {
	return apperr.Validation("amount: ensure that there are no more than %d digits in total", AmountMaxDigits)
}

// ValidateCategory trims surrounding whitespace and enforces the length limit.
func ValidateCategory(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.Validation("category: this field may not be blank")
	}
	if utf8.RuneCountInString(s) > MaxCategoryLength {
		return "", apperr.Validation("category: ensure this field has no more than %d characters", MaxCategoryLength)
	}
	return s, nil
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, apperr.Validation("date: date has wrong format, use YYYY-MM-DD")
	}
	return d, nil
}

// ParseType accepts "income" or "expense".
func ParseType(s string) (models.TransactionType, error) {
	t := models.TransactionType(s)
	if !t.Valid() {
		return "", apperr.Validation("transaction_type: %q is not a valid choice", s)
	}
	return t, nil
}

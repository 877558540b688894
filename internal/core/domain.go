package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"binledger/internal/apperror"

	"github.com/shopspring/decimal"
)

const (
	dateLayout           = "2006-01-02"
	maxDescriptionLength = 200
)

type (
	// Date is a calendar day at UTC midnight.
	Date struct {
		time.Time
	}

	// Expense is a stored ledger record. It lives in exactly one of the
	// active or recycled sets of its account.
	Expense struct {
		ID          string          `json:"id"`
		Amount      decimal.Decimal `json:"amount"`
		Date        Date            `json:"date"`
		Description string          `json:"description"`
		Card        Card            `json:"card"`
		CreatedAt   time.Time       `json:"createdAt"`
	}

	// Draft carries the user-editable fields of an expense before it is stored.
	Draft struct {
		Amount      decimal.Decimal `json:"amount"`
		Date        Date            `json:"date"`
		Description string          `json:"description"`
		Card        Card            `json:"card"`
	}
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, apperror.ValidationFailed("date", fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", s))
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return apperror.ValidationFailed("date", "date is required")
	}
	return nil
}

// String returns the ISO form used for storage.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Localized returns the month/day/year form shown to users and matched by search.
func (d Date) Localized() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d/%d/%d", int(d.Month()), d.Day(), d.Year())
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Draft) Validate() error {
	if d.Amount.Sign() <= 0 {
		return apperror.InvalidAmount(d.Amount.String())
	}
	if err := d.Date.Validate(); err != nil {
		return err
	}
	if !d.Card.Valid() {
		return apperror.ValidationFailed("card", fmt.Sprintf("unknown card %q", d.Card))
	}
	if len(d.Description) > maxDescriptionLength {
		return apperror.ValidationFailed("description", fmt.Sprintf("description too long (max %d characters)", maxDescriptionLength))
	}
	return nil
}

// Normalize trims the description and rounds the amount to cents.
func (d Draft) Normalize() Draft {
	d.Description = strings.TrimSpace(d.Description)
	d.Amount = d.Amount.Round(2)
	return d
}

// Draft returns the editable fields of the expense.
func (e Expense) Draft() Draft {
	return Draft{Amount: e.Amount, Date: e.Date, Description: e.Description, Card: e.Card}
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return apperror.ValidationFailed("id", "expense id is required")
	}
	return e.Draft().Validate()
}

package casework

import (
	"maps"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/collector/internal/domain"
)

// Listing bounds.
const (
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// MaxNotesLength bounds action log notes after trimming.
const MaxNotesLength = 1000

// Risk score bounds accepted on customer creation.
const (
	MinRiskScore = 0
	MaxRiskScore = 1000
)

// NewCustomer is the customer half of a full creation request.
type NewCustomer struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	Email     string  `json:"email"`
	Country   string  `json:"country"`
	RiskScore float64 `json:"riskScore"`
}

// NewLoan is the loan half of a full creation request.
type NewLoan struct {
	Principal   float64   `json:"principal"`
	Outstanding float64   `json:"outstanding"`
	DueDate     time.Time `json:"dueDate"`
}

// NewCustomerLoan is the input of CreateFull.
type NewCustomerLoan struct {
	Customer NewCustomer `json:"customer"`
	Loan     NewLoan     `json:"loan"`
}

// Validate checks every field and reports all failures at once.
func (in NewCustomerLoan) Validate() error {
	var errs []domain.FieldError
	add := func(field, msg string) {
		errs = append(errs, domain.FieldError{Field: field, Message: msg})
	}

	c := in.Customer
	if strings.TrimSpace(c.Name) == "" {
		add("customer.name", "is required")
	}
	if strings.TrimSpace(c.Phone) == "" {
		add("customer.phone", "is required")
	}
	if strings.TrimSpace(c.Country) == "" {
		add("customer.country", "is required")
	}
	if addr, err := mail.ParseAddress(c.Email); err != nil || addr.Address != c.Email {
		add("customer.email", "must be a valid email address")
	}
	if c.RiskScore < MinRiskScore || c.RiskScore > MaxRiskScore {
		add("customer.riskScore", "must be between 0 and 1000")
	}

	l := in.Loan
	if l.Principal < 0 {
		add("loan.principal", "must not be negative")
	}
	if l.Outstanding < 0 {
		add("loan.outstanding", "must not be negative")
	}
	if l.DueDate.IsZero() {
		add("loan.dueDate", "is required")
	}

	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// validateIDs rejects any value that is not a UUID. Fields are reported in
// name order so the error is stable.
func validateIDs(ids map[string]string) error {
	var errs []domain.FieldError
	for _, field := range slices.Sorted(maps.Keys(ids)) {
		if _, err := uuid.Parse(ids[field]); err != nil {
			errs = append(errs, domain.FieldError{Field: field, Message: "must be a valid UUID"})
		}
	}
	if len(errs) > 0 {
		return domain.NewValidationErrors(errs)
	}
	return nil
}

// normalizeNotes trims notes and maps blank input to nil.
func normalizeNotes(notes *string) (*string, error) {
	if notes == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil, nil
	}
	if len([]rune(trimmed)) > MaxNotesLength {
		return nil, domain.NewValidationError("notes", "must be at most 1000 characters")
	}
	return &trimmed, nil
}

func normalizeFilter(f domain.CaseFilter) (domain.CaseFilter, error) {
	var errs []domain.FieldError
	add := func(field, msg string) {
		errs = append(errs, domain.FieldError{Field: field, Message: msg})
	}

	switch {
	case f.Page == 0:
		f.Page = DefaultPage
	case f.Page < 1:
		add("page", "must be at least 1")
	}
	switch {
	case f.PageSize == 0:
		f.PageSize = DefaultPageSize
	case f.PageSize < 1 || f.PageSize > MaxPageSize:
		add("pageSize", "must be between 1 and 100")
	}

	if f.Status != nil && !f.Status.Valid() {
		add("status", "unknown status")
	}
	if f.Stage != nil && !f.Stage.Valid() {
		add("stage", "unknown stage")
	}
	if f.DPDMin != nil && *f.DPDMin < 0 {
		add("dpdMin", "must not be negative")
	}
	if f.DPDMax != nil && *f.DPDMax < 0 {
		add("dpdMax", "must not be negative")
	}
	if f.DPDMin != nil && f.DPDMax != nil && *f.DPDMin > *f.DPDMax {
		add("dpdMin", "must not be greater than dpdMax")
	}
	f.AssignedTo = strings.TrimSpace(f.AssignedTo)
	if len(f.AssignedTo) > 100 {
		add("assignedTo", "must be at most 100 characters")
	}

	if len(errs) > 0 {
		return f, domain.NewValidationErrors(errs)
	}
	return f, nil
}

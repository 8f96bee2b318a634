package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

// ErrNotFound is returned when a requested invoice does not exist.
var ErrNotFound = errors.New("invoice not found")

// Status tracks an order through the laundry.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusCompleted  Status = "completed"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusReady, StatusCompleted, StatusClosed:
		return true
	}
	return false
}

// Customer identifies who the invoice is billed to.
type Customer struct {
	Name  string
	Phone string
	Email string
}

// Invoice is a persisted order header together with its priced lines.
// Lines and Totals are the authoritative monetary values.
type Invoice struct {
	ID        string
	Number    string
	BranchID  string
	Customer  Customer
	Notes     string
	Lines     []pricing.Line
	Totals    pricing.Totals
	Status    Status
	CreatedAt time.Time
}

// Summary is a lightweight invoice listing entry.
type Summary struct {
	ID           string
	Number       string
	CustomerName string
	Totals       pricing.Totals
	Status       Status
	CreatedAt    time.Time
}

// Repository defines persistence operations for invoices.
type Repository interface {
	// Create assigns Number and CreatedAt and stores the header and all lines
	// atomically. On error nothing is persisted.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	ListRecent(ctx context.Context, limit int) ([]Summary, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// RateResolver resolves pricing rate identifiers to rate records.
// Unknown identifiers are omitted from the result rather than reported.
type RateResolver interface {
	GetRatesByIDs(ctx context.Context, ids []string) ([]pricing.Rate, error)
}

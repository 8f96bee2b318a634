package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/laundry-billing/internal/domain/invoice"
	"github.com/xenking/laundry-billing/internal/domain/pricing"
)

const (
	nextInvoiceNumberSQL = `SELECT generate_invoice_number()`

	createInvoiceSQL = `INSERT INTO invoices (id, invoice_number, branch_id,
			customer_name, customer_phone, customer_email, notes,
			subtotal, discount_amount, total_amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at`

	getInvoiceSQL = `SELECT id, invoice_number, branch_id,
			customer_name, customer_phone, customer_email, notes,
			subtotal, discount_amount, total_amount, status, created_at
		FROM invoices WHERE id = $1`

	getInvoiceLinesSQL = `SELECT line_type, item_id, pricing_rate_id, quantity, weight_kg,
			unit_price, price_per_kg, line_total
		FROM invoice_lines WHERE invoice_id = $1
		ORDER BY position`

	listRecentInvoicesSQL = `SELECT id, invoice_number, customer_name,
			subtotal, discount_amount, total_amount, status, created_at
		FROM invoices
		ORDER BY created_at DESC
		LIMIT $1`

	updateInvoiceStatusSQL = `UPDATE invoices SET status = $2, updated_at = now() WHERE id = $1`
)

var invoiceLineColumns = []string{
	"invoice_id", "position", "line_type", "item_id", "pricing_rate_id",
	"quantity", "weight_kg", "unit_price", "price_per_kg", "line_total",
}

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Create stores the invoice header and its lines in a single transaction.
// The invoice number is drawn from the database sequence, so a failed
// insert leaves a gap in numbering but never a partial invoice.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) (rerr error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning invoice transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var number string
	if err := tx.QueryRow(ctx, nextInvoiceNumberSQL).Scan(&number); err != nil {
		return fmt.Errorf("generating invoice number: %w", err)
	}

	err = tx.QueryRow(ctx, createInvoiceSQL,
		inv.ID, number, nullText(inv.BranchID),
		inv.Customer.Name, nullText(inv.Customer.Phone), nullText(inv.Customer.Email), nullText(inv.Notes),
		inv.Totals.Subtotal, inv.Totals.Discount, inv.Totals.Total, string(inv.Status),
	).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting invoice %q: %w", inv.ID, err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"invoice_lines"},
		invoiceLineColumns,
		pgx.CopyFromSlice(len(inv.Lines), func(i int) ([]any, error) {
			l := inv.Lines[i]
			return []any{
				inv.ID, i, string(l.Type), l.ItemID, l.RateID,
				l.Quantity, l.WeightKg, l.UnitPrice, l.PricePerKg, l.Total,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("inserting lines of invoice %q: %w", inv.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing invoice %q: %w", inv.ID, err)
	}

	inv.Number = number
	return nil
}

// GetByID returns an invoice with its lines in entry order.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	id, ok := canonicalUUID(id)
	if !ok {
		return nil, invoice.ErrNotFound
	}

	rows, err := r.pool.Query(ctx, getInvoiceSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice %q: %w", id, err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, fmt.Errorf("getting invoice %q: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getInvoiceLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting lines of invoice %q: %w", id, err)
	}
	inv.Lines, err = pgx.CollectRows(rows, scanInvoiceLine)
	if err != nil {
		return nil, fmt.Errorf("getting lines of invoice %q: %w", id, err)
	}
	return &inv, nil
}

// ListRecent returns up to limit invoice summaries, newest first.
func (r *InvoiceRepository) ListRecent(ctx context.Context, limit int) ([]invoice.Summary, error) {
	rows, err := r.pool.Query(ctx, listRecentInvoicesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	return pgx.CollectRows(rows, scanSummary)
}

// UpdateStatus sets the status of an existing invoice.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, id string, status invoice.Status) error {
	id, ok := canonicalUUID(id)
	if !ok {
		return invoice.ErrNotFound
	}

	tag, err := r.pool.Exec(ctx, updateInvoiceStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating invoice %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return invoice.ErrNotFound
	}
	return nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv                        invoice.Invoice
		branch, phone, email, note *string
		status                     string
	)
	err := row.Scan(
		&inv.ID, &inv.Number, &branch,
		&inv.Customer.Name, &phone, &email, &note,
		&inv.Totals.Subtotal, &inv.Totals.Discount, &inv.Totals.Total, &status, &inv.CreatedAt,
	)
	inv.BranchID = textOrEmpty(branch)
	inv.Customer.Phone = textOrEmpty(phone)
	inv.Customer.Email = textOrEmpty(email)
	inv.Notes = textOrEmpty(note)
	inv.Status = invoice.Status(status)
	return inv, err
}

func scanInvoiceLine(row pgx.CollectableRow) (pricing.Line, error) {
	var (
		l     pricing.Line
		model string
	)
	err := row.Scan(
		&model, &l.ItemID, &l.RateID, &l.Quantity, &l.WeightKg,
		&l.UnitPrice, &l.PricePerKg, &l.Total,
	)
	l.Type = pricing.Model(model)
	return l, err
}

func scanSummary(row pgx.CollectableRow) (invoice.Summary, error) {
	var (
		s      invoice.Summary
		status string
	)
	err := row.Scan(
		&s.ID, &s.Number, &s.CustomerName,
		&s.Totals.Subtotal, &s.Totals.Discount, &s.Totals.Total, &status, &s.CreatedAt,
	)
	s.Status = invoice.Status(status)
	return s, err
}

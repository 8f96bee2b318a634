package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/laundry-billing/internal/domain/catalog"
)

const (
	listItemsSQL = `SELECT id, name, description, is_active FROM items
		WHERE is_active OR NOT $1
		ORDER BY name`

	createItemSQL = `INSERT INTO items (name, description, is_active) VALUES ($1, $2, $3) RETURNING id`

	updateItemSQL = `UPDATE items SET name = $2, description = $3, is_active = $4 WHERE id = $1`

	upsertItemSQL = `INSERT INTO items (name, is_active) VALUES ($1, TRUE)
		ON CONFLICT (LOWER(name)) DO UPDATE SET is_active = TRUE
		RETURNING id`
)

var _ catalog.ItemRepository = (*ItemRepository)(nil)

// ItemRepository implements catalog.ItemRepository backed by PostgreSQL.
type ItemRepository struct {
	pool *pgxpool.Pool
}

// NewItemRepository returns an ItemRepository that uses the given pool.
func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{pool: pool}
}

// ListItems returns items ordered by name.
func (r *ItemRepository) ListItems(ctx context.Context, activeOnly bool) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listItemsSQL, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return pgx.CollectRows(rows, scanItem)
}

// CreateItem inserts item and sets its generated ID.
func (r *ItemRepository) CreateItem(ctx context.Context, item *catalog.Item) error {
	err := r.pool.QueryRow(ctx, createItemSQL, item.Name, nullText(item.Description), item.Active).Scan(&item.ID)
	if err != nil {
		if pgErrorCode(err) == codeUniqueViolation {
			return fmt.Errorf("creating item %q: %w", item.Name, catalog.ErrItemExists)
		}
		return fmt.Errorf("creating item %q: %w", item.Name, err)
	}
	return nil
}

// UpdateItem replaces the name, description and active flag of item.
func (r *ItemRepository) UpdateItem(ctx context.Context, item *catalog.Item) error {
	id, ok := canonicalUUID(item.ID)
	if !ok {
		return catalog.ErrNotFound
	}
	item.ID = id

	tag, err := r.pool.Exec(ctx, updateItemSQL, id, item.Name, nullText(item.Description), item.Active)
	if err != nil {
		if pgErrorCode(err) == codeUniqueViolation {
			return fmt.Errorf("renaming item %q to %q: %w", id, item.Name, catalog.ErrItemExists)
		}
		return fmt.Errorf("updating item %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

// UpsertItem returns the ID of the item with the given name, creating or
// reactivating it as needed. Names match case-insensitively.
func (r *ItemRepository) UpsertItem(ctx context.Context, name string) (string, error) {
	var id string
	if err := r.pool.QueryRow(ctx, upsertItemSQL, name).Scan(&id); err != nil {
		return "", fmt.Errorf("upserting item %q: %w", name, err)
	}
	return id, nil
}

func scanItem(row pgx.CollectableRow) (catalog.Item, error) {
	var (
		it          catalog.Item
		description *string
	)
	err := row.Scan(&it.ID, &it.Name, &description, &it.Active)
	it.Description = textOrEmpty(description)
	return it, err
}

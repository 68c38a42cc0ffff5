package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
)

const table = "products"

var (
	ErrProductNotFound = fmt.Errorf("product not found: %w", apperr.ErrNotFound)
	ErrProductInUse    = fmt.Errorf("product is referenced by existing orders: %w", apperr.ErrConflict)
)

type Repository interface {
	List(ctx context.Context, f ListFilter) ([]Product, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	Create(ctx context.Context, p *Product) (*Product, error)
	Update(ctx context.Context, id uuid.UUID, patch db.Values) (*Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type postgresRepository struct {
	q db.Querier
}

func NewRepository(q db.Querier) Repository {
	return &postgresRepository{q: q}
}

func (r *postgresRepository) List(ctx context.Context, f ListFilter) ([]Product, error) {
	filter := db.Filter{}
	if f.Category != "" {
		filter["categories"] = db.Contains([]string{f.Category})
	}
	if f.InStockOnly {
		filter["in_stock"] = true
	}

	products, err := db.Select[Product](ctx, r.q, table, db.Query{Filter: filter, OrderBy: "created_at", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list products: %w", err)
	}
	return products, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := db.Get[Product](ctx, r.q, table, db.Filter{"id": id})
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to get product %s: %w", id, err)
	}
	return p, nil
}

func (r *postgresRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	products, err := db.Select[Product](ctx, r.q, table, db.Query{Filter: db.Filter{"id": db.In(strIDs)}})
	if err != nil {
		return nil, fmt.Errorf("repository: failed to get products by ids: %w", err)
	}
	return products, nil
}

func (r *postgresRepository) Create(ctx context.Context, p *Product) (*Product, error) {
	now := time.Now().UTC()
	created, err := db.Insert[Product](ctx, r.q, table, db.Values{
		"id":          p.ID,
		"name":        p.Name,
		"price":       p.Price,
		"description": p.Description,
		"image_url":   p.ImageURL,
		"image_key":   p.ImageKey,
		"images":      nonNil(p.Images),
		"image_keys":  nonNil(p.ImageKeys),
		"restricted":  p.Restricted,
		"in_stock":    p.InStock,
		"categories":  nonNil(p.Categories),
		"created_at":  now,
		"updated_at":  now,
	})
	if err != nil {
		log.Error().Err(err).Stringer("product_id", p.ID).Msg("repository: failed to insert product")
		return nil, fmt.Errorf("repository: failed to create product: %w", err)
	}
	return created, nil
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, patch db.Values) (*Product, error) {
	patch["updated_at"] = time.Now().UTC()
	updated, err := db.Update[Product](ctx, r.q, table, db.Filter{"id": id}, patch)
	if err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to update product %s: %w", id, err)
	}
	return updated, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := db.Delete(ctx, r.q, table, db.Filter{"id": id})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrProductInUse
		}
		return fmt.Errorf("repository: failed to delete product %s: %w", id, err)
	}
	if n == 0 {
		return ErrProductNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

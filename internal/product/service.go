package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/storage"
)

type Service interface {
	List(ctx context.Context, f ListFilter) ([]Product, error)
	Get(ctx context.Context, id uuid.UUID) (*Product, error)
	GetMany(ctx context.Context, ids []uuid.UUID) ([]Product, error)
	Create(ctx context.Context, in Input, files Uploads) (*Product, error)
	Update(ctx context.Context, id uuid.UUID, in Input, files Uploads) (*Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo  Repository
	store storage.Gateway
}

func NewService(repo Repository, store storage.Gateway) Service {
	return &service{repo: repo, store: store}
}

func (s *service) List(ctx context.Context, f ListFilter) ([]Product, error) {
	products, err := s.repo.List(ctx, f)
	if err != nil {
		log.Error().Err(err).Str("category", f.Category).Msg("service: failed to list products")
		return nil, fmt.Errorf("service: failed to list products: %w", err)
	}
	return products, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", id).Msg("service: failed to fetch product")
		return nil, fmt.Errorf("service: failed to fetch product: %w", err)
	}
	return p, nil
}

func (s *service) GetMany(ctx context.Context, ids []uuid.UUID) ([]Product, error) {
	products, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch products: %w", err)
	}
	return products, nil
}

func validate(in *Input) error {
	if in.Name == "" {
		return apperr.Validation("product name is required")
	}
	if !in.Price.IsPositive() {
		return apperr.Validation("product price must be greater than zero, got %s", in.Price.String())
	}
	in.Categories = NormalizeCategories(in.Categories)
	return nil
}

func (s *service) Create(ctx context.Context, in Input, files Uploads) (*Product, error) {
	if err := validate(&in); err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate product id: %w", err)
	}

	up, err := s.upload(ctx, id, files)
	if err != nil {
		return nil, err
	}

	p := &Product{
		ID:          id,
		Name:        in.Name,
		Price:       in.Price,
		Description: in.Description,
		Restricted:  in.Restricted,
		InStock:     in.InStock,
		Categories:  in.Categories,
	}
	if up.primary != nil {
		p.ImageURL, p.ImageKey = up.primary.URL, up.primary.Key
	}
	for _, obj := range up.secondary {
		p.Images = append(p.Images, obj.URL)
		p.ImageKeys = append(p.ImageKeys, obj.Key)
	}

	created, err := s.repo.Create(ctx, p)
	if err != nil {
		s.removeObjects(ctx, id, up.keys())
		return nil, fmt.Errorf("service: failed to create product: %w", err)
	}

	log.Info().Stringer("product_id", id).Str("name", created.Name).Msg("service: product created")
	return created, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, in Input, files Uploads) (*Product, error) {
	if err := validate(&in); err != nil {
		return nil, err
	}

	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	up, err := s.upload(ctx, id, files)
	if err != nil {
		return nil, err
	}

	patch := db.Values{
		"name":        in.Name,
		"price":       in.Price,
		"description": in.Description,
		"restricted":  in.Restricted,
		"in_stock":    in.InStock,
		"categories":  nonNil(in.Categories),
	}
	var replaced []string
	if up.primary != nil {
		patch["image_url"] = up.primary.URL
		patch["image_key"] = up.primary.Key
		replaced = append(replaced, existing.ImageKey)
	}
	if len(up.secondary) > 0 {
		urls := make([]string, len(up.secondary))
		keys := make([]string, len(up.secondary))
		for i, obj := range up.secondary {
			urls[i], keys[i] = obj.URL, obj.Key
		}
		patch["images"] = urls
		patch["image_keys"] = keys
		replaced = append(replaced, existing.ImageKeys...)
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		s.removeObjects(ctx, id, up.keys())
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to update product: %w", err)
	}

	s.removeObjects(ctx, id, replaced)
	log.Info().Stringer("product_id", id).Msg("service: product updated")
	return updated, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrProductInUse) {
			return err
		}
		return fmt.Errorf("service: failed to delete product: %w", err)
	}

	s.removeObjects(ctx, id, append([]string{existing.ImageKey}, existing.ImageKeys...))
	log.Info().Stringer("product_id", id).Msg("service: product deleted")
	return nil
}

type uploaded struct {
	primary   *storage.Object
	secondary []storage.Object
}

func (u uploaded) keys() []string {
	var keys []string
	if u.primary != nil {
		keys = append(keys, u.primary.Key)
	}
	for _, obj := range u.secondary {
		keys = append(keys, obj.Key)
	}
	return keys
}

// upload stores every submitted file. If any upload fails, the ones already
// stored are removed before returning.
func (s *service) upload(ctx context.Context, id uuid.UUID, files Uploads) (uploaded, error) {
	var up uploaded
	prefix := "products/" + id.String()

	put := func(f Upload) (storage.Object, error) {
		key, err := storage.Key(prefix, f.Filename)
		if err != nil {
			return storage.Object{}, err
		}
		return s.store.Upload(ctx, key, f.ContentType, f.Data)
	}

	if files.Primary != nil {
		obj, err := put(*files.Primary)
		if err != nil {
			return uploaded{}, fmt.Errorf("service: failed to upload primary image: %w", err)
		}
		up.primary = &obj
	}
	for _, f := range files.Secondary {
		obj, err := put(f)
		if err != nil {
			s.removeObjects(ctx, id, up.keys())
			return uploaded{}, fmt.Errorf("service: failed to upload image %q: %w", f.Filename, err)
		}
		up.secondary = append(up.secondary, obj)
	}
	return up, nil
}

func (s *service) removeObjects(ctx context.Context, id uuid.UUID, keys []string) {
	var nonEmpty []string
	for _, k := range keys {
		if k != "" {
			nonEmpty = append(nonEmpty, k)
		}
	}
	if len(nonEmpty) == 0 {
		return
	}
	keys = nonEmpty
	if err := s.store.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Stringer("product_id", id).Strs("keys", keys).Msg("service: failed to remove stored images")
	}
}

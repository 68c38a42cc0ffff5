package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/product"
	"gopkg.in/yaml.v3"
)

// seedNamespace derives stable product ids from names so reseeding is idempotent.
var seedNamespace = uuid.Must(uuid.FromString("8f0c6a52-3d1e-4b8a-9a57-2f1c2b7d9e40"))

type seedFile struct {
	Products []seedProduct `yaml:"products"`
}

type seedProduct struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Price       string   `yaml:"price"`
	Description string   `yaml:"description"`
	ImageURL    string   `yaml:"image_url"`
	Images      []string `yaml:"images"`
	Restricted  bool     `yaml:"restricted"`
	InStock     *bool    `yaml:"in_stock"`
	Categories  []string `yaml:"categories"`
}

func parseSeed(r io.Reader) ([]product.Product, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}

	products := make([]product.Product, 0, len(f.Products))
	for i, sp := range f.Products {
		if sp.Name == "" {
			return nil, fmt.Errorf("seed: product %d: name is required", i)
		}
		price, err := decimal.NewFromString(sp.Price)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("seed: product %q: price must be a positive number", sp.Name)
		}

		id := uuid.NewV5(seedNamespace, sp.Name)
		if sp.ID != "" {
			if id, err = uuid.FromString(sp.ID); err != nil {
				return nil, fmt.Errorf("seed: product %q: invalid id: %w", sp.Name, err)
			}
		}

		inStock := true
		if sp.InStock != nil {
			inStock = *sp.InStock
		}

		products = append(products, product.Product{
			ID:          id,
			Name:        sp.Name,
			Price:       price,
			Description: sp.Description,
			ImageURL:    sp.ImageURL,
			Images:      sp.Images,
			Restricted:  sp.Restricted,
			InStock:     inStock,
			Categories:  product.NormalizeCategories(sp.Categories),
		})
	}
	return products, nil
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert catalog products from a YAML file",
		Long: `Insert catalog products from a YAML file.

Products already present (same id, or same name when no id is given) are skipped.

Example file:
  products:
    - name: Sunset Poster
      price: "19.90"
      categories: [prints, art]
      image_url: https://cdn.example.com/sunset.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("seed: %w", err)
			}
			defer fh.Close()

			products, err := parseSeed(fh)
			if err != nil {
				return err
			}

			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			pgCfg, err := config.PostgresFromEnv(os.Getenv)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pg, err := db.New(ctx, pgCfg)
			if err != nil {
				return err
			}
			defer pg.Close()

			return seedProducts(ctx, product.NewRepository(pg.Pool), products)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed/products.yaml", "YAML file with products")
	return cmd
}

func seedProducts(ctx context.Context, repo product.Repository, products []product.Product) error {
	inserted := 0
	for i := range products {
		p := &products[i]
		if _, err := repo.GetByID(ctx, p.ID); err == nil {
			log.Info().Stringer("product_id", p.ID).Str("name", p.Name).Msg("seed: product exists, skipping")
			continue
		} else if !errors.Is(err, product.ErrProductNotFound) {
			return fmt.Errorf("seed: lookup %q: %w", p.Name, err)
		}

		if _, err := repo.Create(ctx, p); err != nil {
			return fmt.Errorf("seed: insert %q: %w", p.Name, err)
		}
		inserted++
	}
	log.Info().Int("inserted", inserted).Int("total", len(products)).Msg("seed: done")
	return nil
}

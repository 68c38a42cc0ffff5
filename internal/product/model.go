package product

import (
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Description string          `json:"description" db:"description"`
	ImageURL    string          `json:"imageUrl" db:"image_url"`
	ImageKey    string          `json:"-" db:"image_key"`
	Images      []string        `json:"images" db:"images"`
	ImageKeys   []string        `json:"-" db:"image_keys"`
	Restricted  bool            `json:"restricted" db:"restricted"`
	InStock     bool            `json:"inStock" db:"in_stock"`
	Categories  []string        `json:"categories" db:"categories"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// Input carries the admin-editable fields of a product.
type Input struct {
	Name        string
	Price       decimal.Decimal
	Description string
	Restricted  bool
	InStock     bool
	Categories  []string
}

type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Uploads holds the files submitted with a create or update. A nil Primary or
// an empty Secondary leaves the corresponding stored images untouched.
type Uploads struct {
	Primary   *Upload
	Secondary []Upload
}

type ListFilter struct {
	Category    string
	InStockOnly bool
}

// NormalizeCategories trims, drops empties, deduplicates and sorts.
func NormalizeCategories(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, c := range strings.Split(raw, ",") {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Category is a purchasable lead grouping: fixed price, one deliverable
// artifact file. The catalog is read-only reference data loaded once at
// process start, so it needs no locking.
type Category struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Price    decimal.Decimal `json:"price"`
	Artifact string          `json:"artifact"`
}

type Catalog struct {
	byID  map[string]Category
	order []string
}

// Load reads the catalog file (a JSON array of categories).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var categories []Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(categories)
}

func New(categories []Category) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Category, len(categories))}
	for _, cat := range categories {
		if cat.ID == "" {
			return nil, fmt.Errorf("category %q: missing id", cat.Label)
		}
		if _, dup := c.byID[cat.ID]; dup {
			return nil, fmt.Errorf("category %q: duplicate id", cat.ID)
		}
		if cat.Price.IsNegative() {
			return nil, fmt.Errorf("category %q: negative price", cat.ID)
		}
		c.byID[cat.ID] = cat
		c.order = append(c.order, cat.ID)
	}
	return c, nil
}

func (c *Catalog) Get(id string) (Category, bool) {
	cat, ok := c.byID[id]
	return cat, ok
}

// All returns categories in catalog file order, for menu rendering.
func (c *Catalog) All() []Category {
	out := make([]Category, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// TotalFor sums the prices of the given category IDs. Every ID must exist.
func (c *Catalog) TotalFor(ids []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, id := range ids {
		cat, ok := c.byID[id]
		if !ok {
			return decimal.Zero, fmt.Errorf("category %q not in catalog", id)
		}
		total = total.Add(cat.Price)
	}
	return total, nil
}

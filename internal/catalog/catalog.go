// Package catalog loads and serves the purchase-order reference data that
// invoices are reconciled against.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// MatchingError marks catalog-level failures. Unlike per-invoice extraction
// failures, a MatchingError is fatal to the whole batch because no invoice
// can be matched without the catalog.
type MatchingError struct {
	Err error
}

func (e *MatchingError) Error() string {
	return fmt.Sprintf("matching error: %v", e.Err)
}

func (e *MatchingError) Unwrap() error { return e.Err }

// IsMatchingError reports whether err is (or wraps) a MatchingError.
func IsMatchingError(err error) bool {
	var me *MatchingError
	return eris.As(err, &me)
}

// Catalog is an immutable, case-insensitive index of purchase orders. It is
// loaded once at startup and shared read-only across concurrent pipeline
// runs.
type Catalog struct {
	orders []model.PurchaseOrder
	byRef  map[string]*model.PurchaseOrder
}

type catalogFile struct {
	PurchaseOrders []model.PurchaseOrder `json:"purchase_orders" yaml:"purchase_orders"`
}

// Load reads a PO catalog from a JSON or YAML file, keyed by extension.
// An unreadable, malformed, or empty catalog is a MatchingError.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &MatchingError{Err: eris.Wrapf(err, "reading catalog %s", path)}
	}

	var file catalogFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		return nil, &MatchingError{Err: eris.Errorf("unsupported catalog format %q", ext)}
	}
	if err != nil {
		return nil, &MatchingError{Err: eris.Wrapf(err, "parsing catalog %s", path)}
	}

	return FromOrders(file.PurchaseOrders)
}

// FromOrders builds a catalog from in-memory purchase orders.
func FromOrders(orders []model.PurchaseOrder) (*Catalog, error) {
	if len(orders) == 0 {
		return nil, &MatchingError{Err: eris.New("catalog contains no purchase orders")}
	}

	c := &Catalog{
		orders: orders,
		byRef:  make(map[string]*model.PurchaseOrder, len(orders)),
	}
	for i := range c.orders {
		po := &c.orders[i]
		key := normalizeRef(po.PONumber)
		if key == "" {
			return nil, &MatchingError{Err: eris.Errorf("purchase order at index %d has no po_number", i)}
		}
		if _, dup := c.byRef[key]; dup {
			return nil, &MatchingError{Err: eris.Errorf("duplicate purchase order %s", po.PONumber)}
		}
		c.byRef[key] = po
	}
	return c, nil
}

func normalizeRef(ref string) string {
	return strings.ToLower(strings.TrimSpace(ref))
}

// Get looks up a PO by reference, ignoring case and surrounding whitespace.
func (c *Catalog) Get(ref string) (*model.PurchaseOrder, bool) {
	po, ok := c.byRef[normalizeRef(ref)]
	return po, ok
}

// All returns every PO ordered by PO number. The caller must not mutate the
// returned records.
func (c *Catalog) All() []*model.PurchaseOrder {
	out := make([]*model.PurchaseOrder, 0, len(c.orders))
	for i := range c.orders {
		out = append(out, &c.orders[i])
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].PONumber < out[b].PONumber
	})
	return out
}

// Len reports the number of purchase orders in the catalog.
func (c *Catalog) Len() int { return len(c.orders) }

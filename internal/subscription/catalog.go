package subscription

import (
	"fmt"
	"strings"

	"github.com/dukerupert/smartsavvy/internal/model"
)

// Kind distinguishes plan packages from one-off course entitlements.
type Kind int

const (
	KindPlan Kind = iota + 1
	KindCourse
)

// Entitlement is what a purchased product unlocks.
type Entitlement struct {
	Kind    Kind
	Package model.Package
	Course  string
}

func (e Entitlement) String() string {
	switch e.Kind {
	case KindPlan:
		return string(e.Package)
	case KindCourse:
		return "course:" + e.Course
	}
	return ""
}

// ParseEntitlement accepts "label-plan", "artist-plan", "agency-plan" or
// "course:<slug>".
func ParseEntitlement(s string) (Entitlement, error) {
	s = strings.TrimSpace(s)
	if slug, ok := strings.CutPrefix(s, "course:"); ok {
		if slug == "" {
			return Entitlement{}, fmt.Errorf("empty course slug in %q", s)
		}
		return Entitlement{Kind: KindCourse, Course: slug}, nil
	}
	name, ok := strings.CutSuffix(strings.ToLower(s), "-plan")
	if !ok {
		return Entitlement{}, fmt.Errorf("unknown entitlement %q", s)
	}
	pkg := model.Package(strings.ToUpper(name))
	if !pkg.Valid() {
		return Entitlement{}, fmt.Errorf("unknown package %q", s)
	}
	return Entitlement{Kind: KindPlan, Package: pkg}, nil
}

// Catalog maps vendor product identifiers to entitlements. It is built once
// at startup and read-only afterwards.
type Catalog struct {
	products map[string]Entitlement
}

// DefaultProducts are the product identifiers known out of the box. The
// plan names double as CopeCart internal product names.
var DefaultProducts = map[string]string{
	"artist-plan": "artist-plan",
	"label-plan":  "label-plan",
	"agency-plan": "agency-plan",
}

// NewCatalog builds a catalog from DefaultProducts overlaid with overrides
// (product id -> entitlement string).
func NewCatalog(overrides map[string]string) (*Catalog, error) {
	c := &Catalog{products: make(map[string]Entitlement)}
	for _, src := range []map[string]string{DefaultProducts, overrides} {
		for id, raw := range src {
			ent, err := ParseEntitlement(raw)
			if err != nil {
				return nil, fmt.Errorf("product %q: %w", id, err)
			}
			c.products[strings.TrimSpace(id)] = ent
		}
	}
	return c, nil
}

// Lookup returns the entitlement for a product id. The id is matched as-is
// first, then as an entitlement string so "course:<slug>" works without a
// mapping entry.
func (c *Catalog) Lookup(productID string) (Entitlement, bool) {
	productID = strings.TrimSpace(productID)
	if ent, ok := c.products[productID]; ok {
		return ent, true
	}
	if ent, err := ParseEntitlement(productID); err == nil && ent.Kind == KindCourse {
		return ent, true
	}
	return Entitlement{}, false
}

// ParseProductMap parses "id=entitlement,id=entitlement".
func ParseProductMap(s string) (map[string]string, error) {
	m := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, ent, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(ent) == "" {
			return nil, fmt.Errorf("invalid product mapping %q", pair)
		}
		m[strings.TrimSpace(id)] = strings.TrimSpace(ent)
	}
	return m, nil
}

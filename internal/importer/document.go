package importer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/bartek5186/hurtownia/internal/apperr"
)

// Document to cennik partnera (YAML lub JSON, ta sama struktura).
type Document struct {
	Shop       string        `yaml:"shop"`
	Categories []DocCategory `yaml:"categories"`
	Goods      []Good        `yaml:"goods"`
}

// DocCategory.ID jest lokalne dla dokumentu: goods[].category się do niego odwołuje,
// kategoria w bazie identyfikowana jest po nazwie.
type DocCategory struct {
	ID   *int64 `yaml:"id"`
	Name string `yaml:"name"`
}

type Good struct {
	ID         *int64                `yaml:"id"` // external_id
	Category   *int64                `yaml:"category"`
	Model      string                `yaml:"model"` // ignorowane
	Name       string                `yaml:"name"`
	Price      *Amount               `yaml:"price"`
	PriceRRC   *Amount               `yaml:"price_rrc"`
	Quantity   *int64                `yaml:"quantity"`
	Parameters map[string]ParamValue `yaml:"parameters"`
}

// Amount to kwota parsowana bez przejścia przez float.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: price must be a number", node.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid price %q", node.Line, node.Value)
	}
	a.Decimal = d
	return nil
}

// ParamValue przyjmuje dowolny skalar (liczby i bool jako tekst).
type ParamValue string

func (p *ParamValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: parameter value must be a scalar", node.Line)
	}
	*p = ParamValue(node.Value)
	return nil
}

// limity zgodne z rozmiarami kolumn
const (
	maxShopName     = 50
	maxCategoryName = 50
	maxProductName  = 80
	maxParamName    = 40
	maxParamValue   = 100
	maxReported     = 20
	priceScale      = 2 // decimal(20,2)
)

var maxPrice = decimal.New(1, 18)

// Parse dekoduje dokument; nie waliduje treści.
func Parse(raw []byte) (*Document, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, apperr.New(apperr.Validation, "document is empty")
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(apperr.Validation, "invalid document: "+err.Error(), err)
	}
	return &doc, nil
}

// Validate zgłasza wszystkie błędne pola naraz, np. "goods[2].price: must be >= 0".
func (d *Document) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	d.Shop = strings.TrimSpace(d.Shop)
	switch {
	case d.Shop == "":
		add("shop: required")
	case len([]rune(d.Shop)) > maxShopName:
		add("shop: longer than %d characters", maxShopName)
	}

	ids := map[int64]bool{}
	for i := range d.Categories {
		c := &d.Categories[i]
		c.Name = strings.TrimSpace(c.Name)
		switch {
		case c.Name == "":
			add("categories[%d].name: required", i)
		case len([]rune(c.Name)) > maxCategoryName:
			add("categories[%d].name: longer than %d characters", i, maxCategoryName)
		}
		if c.ID != nil {
			if ids[*c.ID] {
				add("categories[%d].id: duplicate id %d", i, *c.ID)
			}
			ids[*c.ID] = true
		}
	}

	for i := range d.Goods {
		g := &d.Goods[i]
		g.Name = strings.TrimSpace(g.Name)
		if g.ID == nil {
			add("goods[%d].id: required", i)
		}
		switch {
		case g.Category == nil:
			add("goods[%d].category: required", i)
		case !ids[*g.Category]:
			add("goods[%d].category: unknown category %d", i, *g.Category)
		}
		switch {
		case g.Name == "":
			add("goods[%d].name: required", i)
		case len([]rune(g.Name)) > maxProductName:
			add("goods[%d].name: longer than %d characters", i, maxProductName)
		}
		checkAmount := func(field string, a *Amount) {
			switch {
			case a == nil:
				add("goods[%d].%s: required", i, field)
			case a.IsNegative():
				add("goods[%d].%s: must be >= 0", i, field)
			case !a.Equal(a.Round(priceScale)):
				add("goods[%d].%s: at most %d decimal places", i, field, priceScale)
			case a.GreaterThanOrEqual(maxPrice):
				add("goods[%d].%s: too large", i, field)
			}
		}
		checkAmount("price", g.Price)
		checkAmount("price_rrc", g.PriceRRC)
		switch {
		case g.Quantity == nil:
			add("goods[%d].quantity: required", i)
		case *g.Quantity < 0:
			add("goods[%d].quantity: must be >= 0", i)
		}
		for _, name := range g.ParamNames() {
			switch {
			case strings.TrimSpace(name) == "":
				add("goods[%d].parameters: empty parameter name", i)
			case len([]rune(name)) > maxParamName:
				add("goods[%d].parameters.%s: name longer than %d characters", i, name, maxParamName)
			}
			if len([]rune(string(g.Parameters[name]))) > maxParamValue {
				add("goods[%d].parameters.%s: value longer than %d characters", i, name, maxParamValue)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	if len(errs) > maxReported {
		errs = append(errs[:maxReported], fmt.Sprintf("... and %d more", len(errs)-maxReported))
	}
	return apperr.New(apperr.Validation, "invalid document: "+strings.Join(errs, "; "))
}

// ParamNames zwraca nazwy parametrów w stałej kolejności.
func (g *Good) ParamNames() []string {
	names := make([]string, 0, len(g.Parameters))
	for k := range g.Parameters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

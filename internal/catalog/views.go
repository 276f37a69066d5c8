package catalog

import (
	"fmt"

	"github.com/bartek5186/hurtownia/internal/db"
)

// Action wybiera kształt odpowiedzi dla zasobów z listą i szczegółami.
type Action int

const (
	ActionList Action = iota
	ActionRetrieve
)

type ShopListView struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	AcceptingOrders bool   `json:"accepting_orders"`
}

type CategoryRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type ShopDetailView struct {
	ID              uint          `json:"id"`
	Name            string        `json:"name"`
	URL             *string       `json:"url"`
	AcceptingOrders bool          `json:"accepting_orders"`
	Categories      []CategoryRef `json:"categories"`
}

type CategoryListView struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type ShopRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

type CategoryDetailView struct {
	ID    uint      `json:"id"`
	Name  string    `json:"name"`
	Shops []ShopRef `json:"shops"`
}

type ParameterView struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

type ProductView struct {
	Name     string      `json:"name"`
	Category CategoryRef `json:"category"`
}

type ProductInfoView struct {
	ID         uint            `json:"id"`
	ExternalID int64           `json:"external_id"`
	Product    ProductView     `json:"product"`
	Shop       ShopRef         `json:"shop"`
	Quantity   int64           `json:"quantity"`
	Price      string          `json:"price"`
	PriceRRC   string          `json:"price_rrc"`
	Parameters []ParameterView `json:"parameters"`
}

// ShopStateView to odpowiedź /partner/state.
type ShopStateView struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	AcceptingOrders bool   `json:"accepting_orders"`
}

func ShopView(a Action, s *db.Shop, cats []db.Category) any {
	switch a {
	case ActionList:
		return ShopListView{ID: s.ID, Name: s.Name, AcceptingOrders: s.AcceptingOrders}
	case ActionRetrieve:
		refs := make([]CategoryRef, 0, len(cats))
		for _, c := range cats {
			refs = append(refs, CategoryRef{ID: c.ID, Name: c.Name})
		}
		return ShopDetailView{ID: s.ID, Name: s.Name, URL: s.URL, AcceptingOrders: s.AcceptingOrders, Categories: refs}
	}
	panic(fmt.Sprintf("catalog: unknown action %d", a))
}

func CategoryView(a Action, c *db.Category, shops []db.Shop) any {
	switch a {
	case ActionList:
		return CategoryListView{ID: c.ID, Name: c.Name}
	case ActionRetrieve:
		refs := make([]ShopRef, 0, len(shops))
		for _, s := range shops {
			refs = append(refs, ShopRef{ID: s.ID, Name: s.Name})
		}
		return CategoryDetailView{ID: c.ID, Name: c.Name, Shops: refs}
	}
	panic(fmt.Sprintf("catalog: unknown action %d", a))
}

func StateView(s *db.Shop) ShopStateView {
	return ShopStateView{ID: s.ID, Name: s.Name, AcceptingOrders: s.AcceptingOrders}
}

func productInfoView(pi *db.ProductInfo) ProductInfoView {
	v := ProductInfoView{
		ID:         pi.ID,
		ExternalID: pi.ExternalID,
		Quantity:   pi.Quantity,
		Price:      pi.Price.StringFixed(2),
		PriceRRC:   pi.PriceRRC.StringFixed(2),
		Parameters: make([]ParameterView, 0, len(pi.Parameters)),
	}
	if p := pi.Product; p != nil {
		v.Product.Name = p.Name
		if c := p.Category; c != nil {
			v.Product.Category = CategoryRef{ID: c.ID, Name: c.Name}
		}
	}
	if s := pi.Shop; s != nil {
		v.Shop = ShopRef{ID: s.ID, Name: s.Name}
	}
	for _, pp := range pi.Parameters {
		pv := ParameterView{Value: pp.Value}
		if pp.Parameter != nil {
			pv.Parameter = pp.Parameter.Name
		}
		v.Parameters = append(v.Parameters, pv)
	}
	return v
}

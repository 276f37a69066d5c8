package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/db"
)

var zero = decimal.Zero

type ItemView struct {
	ID          uint   `json:"id"`
	ProductInfo *uint  `json:"product_info"`
	Product     string `json:"product"`
	Shop        uint   `json:"shop"`
	ExternalID  int64  `json:"external_id"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price"`
	Sum         string `json:"sum"`
}

type BasketView struct {
	ID    uint       `json:"id"`
	Items []ItemView `json:"items"`
	Total string     `json:"total"`
}

type ContactView struct {
	ID        uint   `json:"id"`
	Person    string `json:"person"`
	Phone     string `json:"phone"`
	City      string `json:"city"`
	Street    string `json:"street"`
	House     string `json:"house"`
	Structure string `json:"structure"`
	Building  string `json:"building"`
	Apartment string `json:"apartment"`
}

type OrderView struct {
	ID        uint         `json:"id"`
	State     string       `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	PlacedAt  *time.Time   `json:"placed_at,omitempty"`
	Contact   *ContactView `json:"contact"`
	Items     []ItemView   `json:"items"`
	OrderSum  string       `json:"order_sum"`
}

// Orders zwraca złożone zamówienia kupującego, najnowsze pierwsze.
func (s *Service) Orders(ctx context.Context, userID uint) ([]OrderView, error) {
	var list []db.Order
	err := s.db.WithContext(ctx).
		Preload("Contact").
		Preload("Items", orderedItems).
		Preload("Items.ProductInfo.Product").
		Where("user_id = ? AND state <> ?", userID, db.StateBasket).
		Order("id DESC").Find(&list).Error
	if err != nil {
		return nil, err
	}
	out := make([]OrderView, 0, len(list))
	for i := range list {
		out = append(out, orderView(&list[i]))
	}
	return out, nil
}

func (s *Service) Order(ctx context.Context, userID, orderID uint) (*OrderView, error) {
	var o db.Order
	err := s.db.WithContext(ctx).
		Preload("Contact").
		Preload("Items", orderedItems).
		Preload("Items.ProductInfo.Product").
		Where("id = ? AND user_id = ? AND state <> ?", orderID, userID, db.StateBasket).
		Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	v := orderView(&o)
	return &v, nil
}

// ShopOrders zwraca zamówienia z pozycjami sklepu partnera; suma liczy tylko te pozycje.
func (s *Service) ShopOrders(ctx context.Context, ownerID uint) ([]OrderView, error) {
	gdb := s.db.WithContext(ctx)
	var shop db.Shop
	err := gdb.Where("user_id = ?", ownerID).Take(&shop).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}

	var list []db.Order
	err = gdb.
		Preload("Contact").
		Preload("Items", func(tx *gorm.DB) *gorm.DB {
			return tx.Where("shop_id = ?", shop.ID).Order("id")
		}).
		Preload("Items.ProductInfo.Product").
		Where("state <> ? AND id IN (?)", db.StateBasket,
			gdb.Model(&db.OrderItem{}).Select("order_id").Where("shop_id = ?", shop.ID)).
		Order("id DESC").Find(&list).Error
	if err != nil {
		return nil, err
	}
	out := make([]OrderView, 0, len(list))
	for i := range list {
		out = append(out, orderView(&list[i]))
	}
	return out, nil
}

func orderedItems(tx *gorm.DB) *gorm.DB {
	return tx.Order("id")
}

func loadItems(gdb *gorm.DB, orderID uint) ([]db.OrderItem, error) {
	var items []db.OrderItem
	err := gdb.Preload("ProductInfo.Product").Where("order_id = ?", orderID).Order("id").Find(&items).Error
	return items, err
}

func basketView(id uint, items []db.OrderItem) *BasketView {
	views, total := itemViews(items)
	return &BasketView{ID: id, Items: views, Total: fixed(total)}
}

func orderView(o *db.Order) OrderView {
	views, total := itemViews(o.Items)
	v := OrderView{
		ID:        o.ID,
		State:     o.State,
		CreatedAt: o.CreatedAt,
		PlacedAt:  o.PlacedAt,
		Items:     views,
		OrderSum:  fixed(total),
	}
	if c := o.Contact; c != nil {
		v.Contact = &ContactView{
			ID: c.ID, Person: c.Person, Phone: c.Phone, City: c.City, Street: c.Street,
			House: c.House, Structure: c.Structure, Building: c.Building, Apartment: c.Apartment,
		}
	}
	return v
}

// itemViews liczy też sumę: ilość × cena, sumowane przy odczycie.
func itemViews(items []db.OrderItem) ([]ItemView, decimal.Decimal) {
	out := make([]ItemView, 0, len(items))
	total := zero
	for _, it := range items {
		price := UnitPrice(&it)
		sum := price.Mul(decimal.NewFromInt(it.Quantity))
		total = total.Add(sum)

		v := ItemView{
			ID:          it.ID,
			ProductInfo: it.ProductInfoID,
			Product:     it.ProductName,
			Shop:        it.ShopID,
			ExternalID:  it.ExternalID,
			Quantity:    it.Quantity,
			Price:       fixed(price),
			Sum:         fixed(sum),
		}
		if pi := it.ProductInfo; pi != nil && v.Product == "" {
			v.ExternalID = pi.ExternalID
			if pi.Product != nil {
				v.Product = pi.Product.Name
			}
		}
		out = append(out, v)
	}
	return out, total
}

// UnitPrice: cena zapisana przy złożeniu, a dla koszyka bieżąca cena oferty.
func UnitPrice(it *db.OrderItem) decimal.Decimal {
	if it.UnitPrice.Valid {
		return it.UnitPrice.Decimal
	}
	if it.ProductInfo != nil {
		return it.ProductInfo.Price
	}
	return zero
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(2)
}

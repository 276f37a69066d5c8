// internal/db/models.go
package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stany zamówienia. basket = koszyk, jedyny stan mutowalny.
const (
	StateBasket    = "basket"
	StateNew       = "new"
	StateConfirmed = "confirmed"
	StateAssembled = "assembled"
	StateSent      = "sent"
	StateDelivered = "delivered"
	StateCanceled  = "canceled"
)

// shops
type Shop struct {
	ID              uint    `gorm:"primaryKey"`
	Name            string  `gorm:"size:50;not null;uniqueIndex"`
	URL             *string `gorm:"size:200"`
	UserID          *uint   `gorm:"uniqueIndex"` // jeden sklep na konto partnera
	AcceptingOrders bool    `gorm:"not null"`
	CatalogSHA256   string  `gorm:"size:64"` // hash ostatnio wgranego cennika
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// categories
type Category struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:50;not null;uniqueIndex"`
}

// shop_categories (M2M)
type ShopCategory struct {
	ShopID     uint      `gorm:"primaryKey"`
	CategoryID uint      `gorm:"primaryKey"`
	Shop       *Shop     `gorm:"constraint:OnDelete:CASCADE"`
	Category   *Category `gorm:"constraint:OnDelete:CASCADE"`
}

// products
type Product struct {
	ID         uint      `gorm:"primaryKey"`
	Name       string    `gorm:"size:80;not null;uniqueIndex:uniq_product_name_category"`
	CategoryID uint      `gorm:"not null;uniqueIndex:uniq_product_name_category"`
	Category   *Category `gorm:"constraint:OnDelete:CASCADE"`
}

// product_infos: podmieniane w całości przy każdym imporcie sklepu
type ProductInfo struct {
	ID         uint               `gorm:"primaryKey"`
	ExternalID int64              `gorm:"not null;uniqueIndex:uniq_product_info"`
	ProductID  uint               `gorm:"not null;uniqueIndex:uniq_product_info"`
	ShopID     uint               `gorm:"not null;uniqueIndex:uniq_product_info;index"`
	Quantity   int64              `gorm:"not null;check:chk_product_info_quantity,quantity >= 0"`
	Price      decimal.Decimal    `gorm:"type:decimal(20,2);not null;check:chk_product_info_price,price >= 0"`
	PriceRRC   decimal.Decimal    `gorm:"column:price_rrc;type:decimal(20,2);not null;check:chk_product_info_price_rrc,price_rrc >= 0"`
	Product    *Product           `gorm:"constraint:OnDelete:CASCADE"`
	Shop       *Shop              `gorm:"constraint:OnDelete:CASCADE"`
	Parameters []ProductParameter `gorm:"foreignKey:ProductInfoID;constraint:OnDelete:CASCADE"`
}

// parameters: globalny słownik nazw parametrów
type Parameter struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:40;not null;uniqueIndex"`
}

// product_parameters
type ProductParameter struct {
	ID            uint       `gorm:"primaryKey"`
	ProductInfoID uint       `gorm:"not null;uniqueIndex:uniq_product_parameter"`
	ParameterID   uint       `gorm:"not null;uniqueIndex:uniq_product_parameter"`
	Value         string     `gorm:"size:100;not null"`
	Parameter     *Parameter `gorm:"constraint:OnDelete:CASCADE"`
}

// contacts: zarządzane poza tym serwisem, tu tylko odczyt
type Contact struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	Person    string `gorm:"size:50"`
	Phone     string `gorm:"size:20"`
	City      string `gorm:"size:50"`
	Street    string `gorm:"size:100"`
	House     string `gorm:"size:15"`
	Structure string `gorm:"size:15"`
	Building  string `gorm:"size:15"`
	Apartment string `gorm:"size:15"`
}

// orders
type Order struct {
	ID     uint   `gorm:"primaryKey"`
	UserID uint   `gorm:"not null;uniqueIndex:uniq_order_user_dt"`
	State  string `gorm:"size:25;not null;index"`
	// = UserID dopóki State == basket, potem NULL; unikalność daje max. jeden koszyk na usera
	BasketOwner *uint    `gorm:"uniqueIndex:uniq_order_basket_owner"`
	ContactID   *uint    `gorm:"index"`
	Contact     *Contact `gorm:"constraint:OnDelete:SET NULL"`
	PlacedAt    *time.Time
	CreatedAt   time.Time `gorm:"uniqueIndex:uniq_order_user_dt"`
	UpdatedAt   time.Time
	Items       []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// order_items
type OrderItem struct {
	ID            uint                `gorm:"primaryKey"`
	OrderID       uint                `gorm:"not null;uniqueIndex:uniq_order_item"`
	ProductInfoID *uint               `gorm:"uniqueIndex:uniq_order_item"`
	Quantity      int64               `gorm:"not null;check:chk_order_item_quantity,quantity > 0"`
	UnitPrice     decimal.NullDecimal `gorm:"type:decimal(20,2)"` // ustawiana przy złożeniu zamówienia
	ShopID        uint                `gorm:"not null;index"`
	ProductName   string              `gorm:"size:80"`
	ExternalID    int64
	ProductInfo   *ProductInfo `gorm:"constraint:OnDelete:SET NULL"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Statusy importu cennika.
const (
	ImportPending = 0
	ImportDone    = 1
	ImportError   = 2
)

// ingestions: historia importów cenników
type Ingestion struct {
	ID           uint   `gorm:"primaryKey"`
	Ref          string `gorm:"size:36;not null;uniqueIndex"`
	ShopName     string `gorm:"size:50;index"`
	UserID       uint   `gorm:"index"`
	Source       string `gorm:"size:500"`
	SHA256       string `gorm:"size:64;index"`
	SizeBytes    int64
	Status       int  `gorm:"index"` // 0=pending, 1=done, 2=error
	Unchanged    bool // ten sam hash co aktualny cennik, podmiana pominięta
	ProductInfos int
	Categories   int
	LastError    string    `gorm:"type:text"`
	ReceivedAt   time.Time `gorm:"autoCreateTime"`
	ProcessedAt  *time.Time
}

// Statusy zadań kolejki.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskError   = "error"
)

// tasks
type Task struct {
	ID   uint   `gorm:"primaryKey"`
	Kind string `gorm:"size:50;not null;index"` // np. catalog.import, order.confirmation
	// klucz deduplikacji; NULL gdy zadanie zakończone
	ActiveKey   *string   `gorm:"size:200;uniqueIndex"`
	PayloadJSON string    // bez rozmiaru: longtext w mysql, dokument cennika może być duży
	Status      string    `gorm:"size:20;not null;index;default:pending"`
	Attempts    int       `gorm:"not null;default:0"`
	LastError   string    `gorm:"type:text"`
	RunAfter    time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time
}

// All zwraca modele w kolejności migracji.
func All() []any {
	return []any{
		&Shop{},
		&Category{},
		&ShopCategory{},
		&Product{},
		&ProductInfo{},
		&Parameter{},
		&ProductParameter{},
		&Contact{},
		&Order{},
		&OrderItem{},
		&Ingestion{},
		&Task{},
	}
}

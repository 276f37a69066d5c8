// Package catalog: odczyt katalogu (sklepy, kategorie, oferty) i stan przyjmowania zamówień.
// Widoczne są tylko sklepy, które przyjmują zamówienia.
package catalog

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
)

var (
	ErrShopNotFound     = apperr.New(apperr.NotFound, "shop not found")
	ErrCategoryNotFound = apperr.New(apperr.NotFound, "category not found")
)

const (
	defaultLimit = 100
	maxLimit     = 500
)

type Filter struct {
	Search   string
	Ordering string // name, -name, id, -id
	Limit    int
	Offset   int
}

type ProductFilter struct {
	ShopID     uint
	CategoryID uint
	Search     string // nazwa produktu albo sklepu
	Limit      int
	Offset     int
}

type Service struct {
	db *gorm.DB
}

func NewService(gdb *gorm.DB) *Service {
	return &Service{db: gdb}
}

func (s *Service) Shops(ctx context.Context, f Filter) ([]db.Shop, error) {
	var out []db.Shop
	q := s.db.WithContext(ctx).Where("accepting_orders = ?", true)
	if f.Search != "" {
		q = q.Where("LOWER(name) LIKE ?", like(f.Search))
	}
	err := page(q.Order(ordering(f.Ordering, "shops")), f.Limit, f.Offset).Find(&out).Error
	return out, err
}

// Shop zwraca sklep z kategoriami, w których ma oferty.
func (s *Service) Shop(ctx context.Context, id uint) (*db.Shop, []db.Category, error) {
	gdb := s.db.WithContext(ctx)
	var shop db.Shop
	err := gdb.Where("id = ? AND accepting_orders = ?", id, true).Take(&shop).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrShopNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var cats []db.Category
	err = gdb.Joins("JOIN shop_categories ON shop_categories.category_id = categories.id").
		Where("shop_categories.shop_id = ?", shop.ID).Order("categories.name").Find(&cats).Error
	if err != nil {
		return nil, nil, err
	}
	return &shop, cats, nil
}

// Categories zwraca kategorie, do których należy choć jeden aktywny sklep.
func (s *Service) Categories(ctx context.Context, f Filter) ([]db.Category, error) {
	gdb := s.db.WithContext(ctx)
	var out []db.Category
	q := gdb.Where("EXISTS (?)", activeLinks(gdb, "categories.id"))
	if f.Search != "" {
		q = q.Where("LOWER(name) LIKE ?", like(f.Search))
	}
	err := page(q.Order(ordering(f.Ordering, "categories")), f.Limit, f.Offset).Find(&out).Error
	return out, err
}

func (s *Service) Category(ctx context.Context, id uint) (*db.Category, []db.Shop, error) {
	gdb := s.db.WithContext(ctx)
	var cat db.Category
	err := gdb.Where("id = ?", id).Where("EXISTS (?)", activeLinks(gdb, "categories.id")).Take(&cat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	var shops []db.Shop
	err = gdb.Joins("JOIN shop_categories ON shop_categories.shop_id = shops.id").
		Where("shop_categories.category_id = ? AND shops.accepting_orders = ?", cat.ID, true).
		Order("shops.name").Find(&shops).Error
	if err != nil {
		return nil, nil, err
	}
	return &cat, shops, nil
}

func (s *Service) Products(ctx context.Context, f ProductFilter) ([]ProductInfoView, error) {
	q := s.db.WithContext(ctx).Model(&db.ProductInfo{}).
		Joins("JOIN shops ON shops.id = product_infos.shop_id").
		Joins("JOIN products ON products.id = product_infos.product_id").
		Where("shops.accepting_orders = ?", true)
	if f.ShopID != 0 {
		q = q.Where("product_infos.shop_id = ?", f.ShopID)
	}
	if f.CategoryID != 0 {
		q = q.Where("products.category_id = ?", f.CategoryID)
	}
	if f.Search != "" {
		p := like(f.Search)
		q = q.Where("(LOWER(products.name) LIKE ? OR LOWER(shops.name) LIKE ?)", p, p)
	}

	var infos []db.ProductInfo
	err := page(q, f.Limit, f.Offset).
		Preload("Shop").
		Preload("Product.Category").
		Preload("Parameters", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		Preload("Parameters.Parameter").
		Order("products.name, product_infos.id").
		Find(&infos).Error
	if err != nil {
		return nil, err
	}
	out := make([]ProductInfoView, 0, len(infos))
	for i := range infos {
		out = append(out, productInfoView(&infos[i]))
	}
	return out, nil
}

// ShopState zwraca sklep partnera razem z flagą przyjmowania zamówień.
func (s *Service) ShopState(ctx context.Context, ownerID uint) (*db.Shop, error) {
	var shop db.Shop
	err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Take(&shop).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrShopNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

func (s *Service) SetShopState(ctx context.Context, ownerID uint, accepting bool) (*db.Shop, error) {
	res := s.db.WithContext(ctx).Model(&db.Shop{}).Where("user_id = ?", ownerID).
		Update("accepting_orders", accepting)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrShopNotFound
	}
	return s.ShopState(ctx, ownerID)
}

func activeLinks(gdb *gorm.DB, categoryCol string) *gorm.DB {
	return gdb.Table("shop_categories").Select("1").
		Joins("JOIN shops ON shops.id = shop_categories.shop_id").
		Where("shop_categories.category_id = "+categoryCol+" AND shops.accepting_orders = ?", true)
}

func like(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(`%`, "", `_`, "").Replace(s)
	return "%" + s + "%"
}

// ordering przyjmuje tylko znane kolumny; domyślnie po nazwie.
func ordering(o, table string) string {
	switch o {
	case "id":
		return table + ".id"
	case "-id":
		return table + ".id DESC"
	case "-name":
		return table + ".name DESC"
	default:
		return table + ".name"
	}
}

func page(q *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return q.Limit(limit).Offset(offset)
}

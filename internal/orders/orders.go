// Package orders: koszyk użytkownika (zamówienie w stanie basket) i jego złożenie.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
)

var (
	ErrDuplicateItem   = apperr.New(apperr.Conflict, "item is already in basket")
	ErrInvalidFormat   = apperr.New(apperr.Validation, "invalid request format")
	ErrBasketEmpty     = apperr.New(apperr.Validation, "basket is empty")
	ErrAlreadyPlaced   = apperr.New(apperr.Conflict, "order is already placed")
	ErrBasketPlaced    = apperr.New(apperr.Conflict, "basket was placed in the meantime, try again")
	ErrContactNotFound = apperr.New(apperr.NotFound, "contact not found")
	ErrOrderNotFound   = apperr.New(apperr.NotFound, "order not found")
	ErrShopNotFound    = apperr.New(apperr.NotFound, "shop not found")
	ErrShopClosed      = apperr.New(apperr.Validation, "shop is not accepting orders")
)

// Wyniki dla pojedynczej pozycji przy zmianie ilości i usuwaniu.
const (
	ResultUpdated  = "updated"
	ResultDeleted  = "deleted"
	ResultNotFound = "not_found"
)

// Enqueuer zleca zadania w tle (potwierdzenie zamówienia).
type Enqueuer interface {
	Enqueue(ctx context.Context, kind, key string, payload any) (*db.Task, bool, error)
}

type Service struct {
	log      zerolog.Logger
	db       *gorm.DB
	contacts Contacts
	queue    Enqueuer
}

func NewService(log zerolog.Logger, gdb *gorm.DB, contacts Contacts, q Enqueuer) *Service {
	return &Service{
		log:      log.With().Str("component", "orders").Logger(),
		db:       gdb,
		contacts: contacts,
		queue:    q,
	}
}

type NewItem struct {
	ProductInfo uint  `json:"product_info"`
	Quantity    int64 `json:"quantity"`
}

// ItemUpdate wskazuje pozycję po id albo po ofercie (product_info).
type ItemUpdate struct {
	ID          uint  `json:"id,omitempty"`
	ProductInfo uint  `json:"product_info,omitempty"`
	Quantity    int64 `json:"quantity"`
}

type ItemResult struct {
	ID          uint   `json:"id,omitempty"`
	ProductInfo uint   `json:"product_info,omitempty"`
	Result      string `json:"result"`
}

// Basket zwraca koszyk bez zakładania go; brak koszyka to pusty widok.
func (s *Service) Basket(ctx context.Context, userID uint) (*BasketView, error) {
	gdb := s.db.WithContext(ctx)
	o, err := findBasket(gdb, userID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return &BasketView{Items: []ItemView{}, Total: fixed(zero)}, nil
	}
	items, err := loadItems(gdb, o.ID)
	if err != nil {
		return nil, err
	}
	return basketView(o.ID, items), nil
}

// GetOrCreateBasket: unikalny basket_owner gwarantuje jeden koszyk na użytkownika.
func (s *Service) GetOrCreateBasket(ctx context.Context, userID uint) (*db.Order, error) {
	gdb := s.db.WithContext(ctx)
	o, err := findBasket(gdb, userID)
	if err != nil || o != nil {
		return o, err
	}

	o = &db.Order{UserID: userID, State: db.StateBasket, BasketOwner: &userID}
	err = gdb.Create(o).Error
	if err == nil {
		return o, nil
	}
	if !db.IsDuplicate(err) {
		return nil, fmt.Errorf("create basket: %w", err)
	}
	// równoległe żądanie założyło koszyk pierwsze
	o, err = findBasket(gdb, userID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errors.New("basket vanished after duplicate insert")
	}
	return o, nil
}

// AddItems dodaje pozycje jednym insertem. Pozycja, która już jest w koszyku,
// odrzuca całą partię (ErrDuplicateItem); ilość zmienia się przez UpdateItems.
func (s *Service) AddItems(ctx context.Context, userID uint, items []NewItem) (int, error) {
	if err := validateNew(items); err != nil {
		return 0, err
	}
	basket, err := s.GetOrCreateBasket(ctx, userID)
	if err != nil {
		return 0, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchBasket(tx, basket.ID); err != nil {
			return err
		}

		ids := make([]uint, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ProductInfo)
		}
		var infos []db.ProductInfo
		if err := tx.Preload("Shop").Where("id IN ?", ids).Find(&infos).Error; err != nil {
			return err
		}
		byID := make(map[uint]db.ProductInfo, len(infos))
		for _, pi := range infos {
			byID[pi.ID] = pi
		}

		rows := make([]db.OrderItem, 0, len(items))
		for _, it := range items {
			pi, ok := byID[it.ProductInfo]
			if !ok {
				return apperr.Newf(apperr.NotFound, "product info %d not found", it.ProductInfo)
			}
			if pi.Shop == nil || !pi.Shop.AcceptingOrders {
				return ErrShopClosed
			}
			pid := pi.ID
			rows = append(rows, db.OrderItem{
				OrderID:       basket.ID,
				ProductInfoID: &pid,
				ShopID:        pi.ShopID,
				Quantity:      it.Quantity,
			})
		}
		if err := tx.Omit("ProductInfo").Create(&rows).Error; err != nil {
			if db.IsDuplicate(err) {
				return ErrDuplicateItem
			}
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// UpdateItems zmienia ilości w koszyku użytkownika. Błędny format odrzuca całość,
// brak pozycji jest raportowany osobno dla każdego wpisu.
func (s *Service) UpdateItems(ctx context.Context, userID uint, updates []ItemUpdate) ([]ItemResult, error) {
	if len(updates) == 0 {
		return nil, ErrInvalidFormat
	}
	for _, u := range updates {
		if (u.ID == 0 && u.ProductInfo == 0) || u.Quantity <= 0 {
			return nil, ErrInvalidFormat
		}
	}

	out := make([]ItemResult, 0, len(updates))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		out = out[:0]
		basketID, err := lockBasket(tx, userID)
		if err != nil {
			return err
		}
		for _, u := range updates {
			r := ItemResult{ID: u.ID, ProductInfo: u.ProductInfo, Result: ResultNotFound}
			if basketID == 0 {
				out = append(out, r)
				continue
			}
			q := tx.Model(&db.OrderItem{}).Where("order_id = ?", basketID)
			if u.ID != 0 {
				q = q.Where("id = ?", u.ID)
			} else {
				q = q.Where("product_info_id = ?", u.ProductInfo)
			}
			res := q.Update("quantity", u.Quantity)
			if res.Error != nil {
				return fmt.Errorf("update item: %w", res.Error)
			}
			if res.RowsAffected > 0 {
				r.Result = ResultUpdated
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveItems usuwa pozycje (id pozycji) z koszyka użytkownika i raportuje wynik dla każdego id.
// Wszystkie id są sprawdzane przed jakimkolwiek usunięciem.
func (s *Service) RemoveItems(ctx context.Context, userID uint, rawIDs []string) ([]ItemResult, error) {
	ids, err := ParseIDs(rawIDs)
	if err != nil {
		return nil, err
	}

	found := map[uint]bool{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		basketID, err := lockBasket(tx, userID)
		if err != nil || basketID == 0 {
			return err
		}
		var hits []uint
		if err := tx.Model(&db.OrderItem{}).Where("order_id = ? AND id IN ?", basketID, ids).
			Pluck("id", &hits).Error; err != nil {
			return fmt.Errorf("find items: %w", err)
		}
		if len(hits) == 0 {
			return nil
		}
		if err := tx.Where("order_id = ? AND id IN ?", basketID, hits).Delete(&db.OrderItem{}).Error; err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		for _, id := range hits {
			found[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ItemResult, 0, len(ids))
	for _, id := range ids {
		r := ItemResult{ID: id, Result: ResultNotFound}
		if found[id] {
			r.Result = ResultDeleted
		}
		out = append(out, r)
	}
	return out, nil
}

// ParseIDs przyjmuje wyłącznie dodatnie liczby całkowite.
func ParseIDs(raw []string) ([]uint, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidFormat
	}
	out := make([]uint, 0, len(raw))
	for _, r := range raw {
		n, err := strconv.ParseUint(strings.TrimSpace(r), 10, 64)
		if err != nil || n == 0 {
			return nil, ErrInvalidFormat
		}
		out = append(out, uint(n))
	}
	return out, nil
}

func validateNew(items []NewItem) error {
	if len(items) == 0 {
		return apperr.New(apperr.Validation, "items: required")
	}
	seen := map[uint]bool{}
	for n, it := range items {
		if it.ProductInfo == 0 {
			return apperr.Newf(apperr.Validation, "items[%d].product_info: required", n)
		}
		if it.Quantity <= 0 {
			return apperr.Newf(apperr.Validation, "items[%d].quantity: must be > 0", n)
		}
		if seen[it.ProductInfo] {
			return ErrDuplicateItem
		}
		seen[it.ProductInfo] = true
	}
	return nil
}

func findBasket(gdb *gorm.DB, userID uint) (*db.Order, error) {
	var o db.Order
	err := gdb.Where("user_id = ? AND state = ?", userID, db.StateBasket).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find basket: %w", err)
	}
	return &o, nil
}

// touchBasket upewnia się, że zamówienie nadal jest koszykiem; warunkowy update trzyma
// blokadę wiersza do końca transakcji.
func touchBasket(tx *gorm.DB, orderID uint) error {
	res := tx.Model(&db.Order{}).Where("id = ? AND state = ?", orderID, db.StateBasket).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBasketPlaced
	}
	return nil
}

// lockBasket zwraca id koszyka użytkownika (0 = brak) i blokuje jego wiersz warunkowym
// update'em; złożenie zamówienia w tym czasie czeka albo kończy się ErrBasketPlaced.
func lockBasket(tx *gorm.DB, userID uint) (uint, error) {
	o, err := findBasket(tx, userID)
	if err != nil || o == nil {
		return 0, err
	}
	if err := touchBasket(tx, o.ID); err != nil {
		return 0, err
	}
	return o.ID, nil
}

package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
)

// ConfirmationTask to rodzaj zadania wysyłającego potwierdzenie zamówienia.
const ConfirmationTask = "order.confirmation"

// Confirmation to payload zadania ConfirmationTask.
type Confirmation struct {
	OrderID uint   `json:"order_id"`
	UserID  uint   `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// Buyer to zalogowany kupujący.
type Buyer struct {
	UserID uint
	Email  string
	Name   string
}

type PlaceRequest struct {
	OrderID   uint `json:"id,omitempty"` // 0 = bieżący koszyk
	ContactID uint `json:"contact"`
}

// PlaceOrder zmienia koszyk w zamówienie (basket -> new).
// Przejście to jeden warunkowy update; z dwóch równoległych wywołań wygrywa jedno.
func (s *Service) PlaceOrder(ctx context.Context, buyer Buyer, req PlaceRequest) (*OrderView, error) {
	if req.ContactID == 0 {
		return nil, apperr.New(apperr.Validation, "contact: required")
	}
	contact, err := s.contacts.Contact(ctx, buyer.UserID, req.ContactID)
	if err != nil {
		return nil, err
	}

	orderID := req.OrderID
	if orderID == 0 {
		basket, err := findBasket(s.db.WithContext(ctx), buyer.UserID)
		if err != nil {
			return nil, err
		}
		if basket == nil {
			return nil, ErrBasketEmpty
		}
		orderID = basket.ID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var closed int64
		if err := tx.Model(&db.OrderItem{}).
			Joins("JOIN orders ON orders.id = order_items.order_id").
			Joins("JOIN shops ON shops.id = order_items.shop_id").
			Where("order_items.order_id = ? AND orders.user_id = ? AND shops.accepting_orders = ?", orderID, buyer.UserID, false).
			Count(&closed).Error; err != nil {
			return err
		}
		if closed > 0 {
			return ErrShopClosed
		}

		now := time.Now()
		res := tx.Model(&db.Order{}).
			Where("id = ? AND user_id = ? AND state = ?", orderID, buyer.UserID, db.StateBasket).
			Where("EXISTS (SELECT 1 FROM order_items WHERE order_items.order_id = orders.id)").
			Updates(map[string]any{
				"state":        db.StateNew,
				"contact_id":   contact.ID,
				"basket_owner": nil,
				"placed_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("place order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return placeFailure(tx, orderID, buyer.UserID)
		}
		return snapshotItems(tx, orderID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Uint("order", orderID).Uint("user", buyer.UserID).Msg("zamówienie złożone")

	if s.queue != nil {
		payload := Confirmation{OrderID: orderID, UserID: buyer.UserID, Email: buyer.Email, Name: buyer.Name}
		key := fmt.Sprintf("%s:%d", ConfirmationTask, orderID)
		if _, _, err := s.queue.Enqueue(context.WithoutCancel(ctx), ConfirmationTask, key, payload); err != nil {
			// zamówienie zostaje złożone nawet bez potwierdzenia
			s.log.Error().Err(err).Uint("order", orderID).Msg("nie udało się zlecić potwierdzenia")
		}
	}

	return s.Order(ctx, buyer.UserID, orderID)
}

// placeFailure rozróżnia, dlaczego warunkowy update nic nie zmienił.
func placeFailure(tx *gorm.DB, orderID, userID uint) error {
	var o db.Order
	err := tx.Where("id = ? AND user_id = ?", orderID, userID).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if o.State != db.StateBasket {
		return ErrAlreadyPlaced
	}
	return ErrBasketEmpty
}

// snapshotItems zapisuje w pozycjach cenę, nazwę i external_id z chwili złożenia,
// żeby kolejny import cennika nie zmienił złożonego zamówienia.
func snapshotItems(tx *gorm.DB, orderID uint) error {
	var items []db.OrderItem
	if err := tx.Preload("ProductInfo.Product").Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}
	for _, it := range items {
		if it.ProductInfo == nil {
			continue
		}
		upd := map[string]any{
			"unit_price":  it.ProductInfo.Price,
			"external_id": it.ProductInfo.ExternalID,
		}
		if it.ProductInfo.Product != nil {
			upd["product_name"] = it.ProductInfo.Product.Name
		}
		if err := tx.Model(&db.OrderItem{}).Where("id = ?", it.ID).Updates(upd).Error; err != nil {
			return fmt.Errorf("snapshot item %d: %w", it.ID, err)
		}
	}
	return nil
}

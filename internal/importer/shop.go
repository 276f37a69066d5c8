package importer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
)

var (
	ErrNotShopOwner    = apperr.New(apperr.Forbidden, "shop belongs to another partner")
	ErrOwnsAnotherShop = apperr.New(apperr.Forbidden, "account already owns another shop")
)

// Zasady własności sklepu:
//   - nowy sklep dostaje właściciela = wgrywający,
//   - sklep bez właściciela zostaje przejęty,
//   - sklep innego partnera: odmowa,
//   - konto może mieć tylko jeden sklep.
func ownership(shop *db.Shop, userID uint, owned *db.Shop) error {
	if shop != nil && shop.UserID != nil {
		if *shop.UserID != userID {
			return ErrNotShopOwner
		}
		return nil
	}
	if owned != nil {
		return ErrOwnsAnotherShop
	}
	return nil
}

// checkOwner to wstępne sprawdzenie przed kolejką; właściwe jest w lockShop.
func (i *Importer) checkOwner(ctx context.Context, userID uint, name string) error {
	gdb := i.db.WithContext(ctx)
	shop, err := findShop(gdb.Where("name = ?", name))
	if err != nil {
		return err
	}
	var owned *db.Shop
	if shop == nil || shop.UserID == nil {
		if owned, err = findShop(gdb.Where("user_id = ?", userID)); err != nil {
			return err
		}
	}
	return ownership(shop, userID, owned)
}

// lockShop znajduje lub zakłada sklep i blokuje jego wiersz do końca transakcji.
func lockShop(tx *gorm.DB, userID uint, name string) (*db.Shop, error) {
	locking := clause.Locking{Strength: "UPDATE"}

	shop, err := findShop(tx.Clauses(locking).Where("name = ?", name))
	if err != nil {
		return nil, err
	}
	var owned *db.Shop
	if shop == nil || shop.UserID == nil {
		if owned, err = findShop(tx.Where("user_id = ?", userID)); err != nil {
			return nil, err
		}
	}
	if err := ownership(shop, userID, owned); err != nil {
		return nil, err
	}

	switch {
	case shop == nil:
		shop = &db.Shop{Name: name, UserID: &userID, AcceptingOrders: true}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(shop)
		if res.Error != nil {
			if db.IsDuplicate(res.Error) {
				return nil, ErrOwnsAnotherShop
			}
			return nil, fmt.Errorf("create shop: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// ktoś założył sklep równolegle; sprawdź go jeszcze raz
			return lockShopExisting(tx, userID, name)
		}
	case shop.UserID == nil:
		if err := tx.Model(shop).Update("user_id", userID).Error; err != nil {
			if db.IsDuplicate(err) {
				return nil, ErrOwnsAnotherShop
			}
			return nil, fmt.Errorf("claim shop: %w", err)
		}
		shop.UserID = &userID
	}
	return shop, nil
}

func lockShopExisting(tx *gorm.DB, userID uint, name string) (*db.Shop, error) {
	shop, err := findShop(tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("name = ?", name))
	if err != nil {
		return nil, err
	}
	if shop == nil || shop.UserID == nil || *shop.UserID != userID {
		return nil, ErrNotShopOwner
	}
	return shop, nil
}

func findShop(q *gorm.DB) (*db.Shop, error) {
	var s db.Shop
	err := q.Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find shop: %w", err)
	}
	return &s, nil
}

// getOrCreate: odczyt, insert z ON CONFLICT DO NOTHING, a gdy ktoś był szybszy, ponowny odczyt.
func getOrCreate[T any](tx *gorm.DB, fresh T, query string, args ...any) (*T, error) {
	var out T
	err := tx.Where(query, args...).Take(&out).Error
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	res := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected > 0 {
		return &fresh, nil
	}
	if err := tx.Where(query, args...).Take(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

func getOrCreateCategory(tx *gorm.DB, name string) (*db.Category, error) {
	return getOrCreate(tx, db.Category{Name: name}, "name = ?", name)
}

func getOrCreateProduct(tx *gorm.DB, name string, categoryID uint) (*db.Product, error) {
	return getOrCreate(tx, db.Product{Name: name, CategoryID: categoryID}, "name = ? AND category_id = ?", name, categoryID)
}

func getOrCreateParameter(tx *gorm.DB, name string) (*db.Parameter, error) {
	return getOrCreate(tx, db.Parameter{Name: name}, "name = ?", name)
}

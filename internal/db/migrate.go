package db

import (
	"fmt"

	"gorm.io/gorm"
)

// indeksy, od których zależy poprawność (koszyk, import, pozycje zamówienia)
var requiredIndexes = []struct {
	model any
	name  string
}{
	{&ProductInfo{}, "uniq_product_info"},
	{&ProductParameter{}, "uniq_product_parameter"},
	{&Product{}, "uniq_product_name_category"},
	{&Order{}, "uniq_order_basket_owner"},
	{&Order{}, "uniq_order_user_dt"},
	{&OrderItem{}, "uniq_order_item"},
}

func (h *Handle) Migrate() error {
	return Migrate(h.DB)
}

// Migrate tworzy/aktualizuje schemat bazy.
// Kolejność:
//  1. AutoMigrate
//  2. upewnij się, że indeksy unikalne istnieją (starsze bazy mogły je zgubić)
func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(All()...); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}

	m := gdb.Migrator()
	for _, idx := range requiredIndexes {
		if m.HasIndex(idx.model, idx.name) {
			continue
		}
		if err := m.CreateIndex(idx.model, idx.name); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Package dbtest otwiera bazę SQLite na potrzeby testów i dostarcza fixtury.
package dbtest

import (
	"path/filepath"
	"testing"

	glebarez "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/db"
)

// Open zwraca świeżą, zmigrowaną bazę w katalogu tymczasowym testu.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	gdb, err := db.OpenDialector(glebarez.Open(dsn), zerolog.Nop(), false)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func Shop(t testing.TB, gdb *gorm.DB, name string, owner uint) *db.Shop {
	t.Helper()
	s := &db.Shop{Name: name, AcceptingOrders: true}
	if owner != 0 {
		s.UserID = &owner
	}
	must(t, gdb.Create(s).Error)
	return s
}

func Category(t testing.TB, gdb *gorm.DB, name string, shops ...*db.Shop) *db.Category {
	t.Helper()
	c := &db.Category{Name: name}
	must(t, gdb.Create(c).Error)
	for _, s := range shops {
		must(t, gdb.Create(&db.ShopCategory{ShopID: s.ID, CategoryID: c.ID}).Error)
	}
	return c
}

// ProductInfo tworzy produkt w kategorii i jego ofertę w sklepie.
func ProductInfo(t testing.TB, gdb *gorm.DB, shop *db.Shop, cat *db.Category, name string, externalID int64, price string, qty int64) *db.ProductInfo {
	t.Helper()
	p := &db.Product{Name: name, CategoryID: cat.ID}
	must(t, gdb.Where(db.Product{Name: name, CategoryID: cat.ID}).FirstOrCreate(p).Error)

	pi := &db.ProductInfo{
		ExternalID: externalID,
		ProductID:  p.ID,
		ShopID:     shop.ID,
		Quantity:   qty,
		Price:      decimal.RequireFromString(price),
		PriceRRC:   decimal.RequireFromString(price),
	}
	must(t, gdb.Create(pi).Error)
	return pi
}

func Contact(t testing.TB, gdb *gorm.DB, userID uint) *db.Contact {
	t.Helper()
	c := &db.Contact{UserID: userID, Person: "Jan Kowalski", Phone: "+48500600700", City: "Kraków", Street: "Długa", House: "1"}
	must(t, gdb.Create(c).Error)
	return c
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
}

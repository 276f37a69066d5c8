package orders

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/db"
)

// Contacts daje dostęp do adresów kupującego; zarządzanie nimi jest poza tym serwisem.
type Contacts interface {
	Contact(ctx context.Context, userID, contactID uint) (*db.Contact, error)
}

// StoreContacts czyta kontakty z tabeli contacts.
type StoreContacts struct {
	DB *gorm.DB
}

func (c StoreContacts) Contact(ctx context.Context, userID, contactID uint) (*db.Contact, error) {
	var ct db.Contact
	err := c.DB.WithContext(ctx).Where("id = ? AND user_id = ?", contactID, userID).Take(&ct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

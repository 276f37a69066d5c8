package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicate mówi, czy błąd to naruszenie ograniczenia unikalności.
// TranslateError pokrywa znane sterowniki; tekst to zapas dla pozostałych.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // sqlite
		strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key") || // postgres
		strings.Contains(msg, "Duplicate entry") // mysql
}

// IsNotFound opakowuje gorm.ErrRecordNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

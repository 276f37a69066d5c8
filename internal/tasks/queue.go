// Package tasks to trwała kolejka zadań w tabeli tasks i worker, który je wykonuje.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/hurtownia/internal/db"
)

// Queue zapisuje zadania i budzi worker po dodaniu nowego.
type Queue struct {
	db   *gorm.DB
	wake chan struct{}
}

func NewQueue(gdb *gorm.DB) *Queue {
	return &Queue{db: gdb, wake: make(chan struct{}, 1)}
}

// Enqueue dodaje zadanie we własnej transakcji.
// Gdy zadanie z tym samym kluczem jeszcze czeka lub trwa, zwraca istniejące i created=false.
func (q *Queue) Enqueue(ctx context.Context, kind, key string, payload any) (*db.Task, bool, error) {
	var (
		t       *db.Task
		created bool
	)
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		t, created, err = q.EnqueueTx(tx, kind, key, payload)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		q.Wake()
	}
	return t, created, nil
}

// EnqueueTx działa w transakcji wołającego; po commicie wołający powinien wywołać Wake.
// Pusty key wyłącza deduplikację.
func (q *Queue) EnqueueTx(tx *gorm.DB, kind, key string, payload any) (*db.Task, bool, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s payload: %w", kind, err)
	}

	t := &db.Task{
		Kind:        kind,
		PayloadJSON: string(raw),
		Status:      db.TaskPending,
		RunAfter:    time.Now().UTC(),
	}
	if key == "" {
		if err := tx.Create(t).Error; err != nil {
			return nil, false, fmt.Errorf("insert task: %w", err)
		}
		return t, true, nil
	}

	t.ActiveKey = &key
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "active_key"}},
		DoNothing: true,
	}).Create(t)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert task: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return t, true, nil
	}

	var existing db.Task
	if err := tx.Where("active_key = ?", key).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("load active task %s: %w", key, err)
	}
	return &existing, false, nil
}

// Wake nie blokuje; wystarczy jeden sygnał w buforze.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Get(ctx context.Context, id uint) (*db.Task, error) {
	var t db.Task
	if err := q.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// Decode rozpakowuje payload zadania.
func Decode(t *db.Task, v any) error {
	if err := json.Unmarshal([]byte(t.PayloadJSON), v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}

package importer

import (
	"context"
	"fmt"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
	"github.com/bartek5186/hurtownia/internal/tasks"
)

type taskPayload struct {
	Ref      string `json:"ref"`
	Document string `json:"document"`
}

// Handler wykonuje zadanie catalog.import. Ponowienie jest bezpieczne:
// ten sam dokument daje ten sam katalog.
func (i *Importer) Handler() tasks.Handler {
	return func(ctx context.Context, t *db.Task) error {
		var p taskPayload
		if err := tasks.Decode(t, &p); err != nil {
			return err
		}

		var rec db.Ingestion
		if err := i.db.WithContext(ctx).Where("ref = ?", p.Ref).Take(&rec).Error; err != nil {
			if db.IsNotFound(err) {
				return tasks.Permanent(fmt.Errorf("ingestion %s not found", p.Ref))
			}
			return err
		}

		doc, err := Parse([]byte(p.Document))
		if err != nil {
			i.markFailed(ctx, rec.Ref, err)
			return tasks.Permanent(err)
		}
		if _, err := i.Apply(ctx, &rec, doc); err != nil {
			switch apperr.KindOf(err) {
			case apperr.Validation, apperr.Forbidden, apperr.Conflict:
				return tasks.Permanent(err)
			}
			return err
		}
		return nil
	}
}

// Package importer wgrywa cenniki partnerów: pobranie, walidacja i atomowa podmiana
// ofert (product_infos) jednego sklepu.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
	"github.com/bartek5186/hurtownia/internal/tasks"
)

const (
	TaskKind  = "catalog.import"
	batchSize = 500
)

type Options struct {
	FetchTimeout time.Duration
	MaxBytes     int64
	Async        bool // false: Submit od razu podmienia katalog
}

type Importer struct {
	log    zerolog.Logger
	db     *gorm.DB
	queue  *tasks.Queue
	opts   Options
	client *http.Client
	locks  *keyedMutex
}

// Source to cennik z adresu URL albo przesłany bezpośrednio.
type Source struct {
	URL  string
	Data []byte
	Name string // nazwa pliku, tylko do historii
}

// Result podsumowuje jedną podmianę katalogu.
type Result struct {
	ShopID       uint
	Unchanged    bool
	ProductInfos int
	Categories   int
}

func New(log zerolog.Logger, gdb *gorm.DB, q *tasks.Queue, opts Options) *Importer {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 32 << 20
	}
	return &Importer{
		log:    log.With().Str("component", "importer").Logger(),
		db:     gdb,
		queue:  q,
		opts:   opts,
		client: &http.Client{},
		locks:  newKeyedMutex(),
	}
}

// Submit pobiera i sprawdza dokument, a podmianę zleca workerowi (albo wykonuje od razu,
// gdy Async=false). Błędy pobrania i walidacji wracają synchronicznie.
func (i *Importer) Submit(ctx context.Context, userID uint, src Source) (*db.Ingestion, error) {
	raw := src.Data
	source := src.Name
	if src.URL != "" {
		source = src.URL
		var err error
		if raw, err = i.Fetch(ctx, src.URL); err != nil {
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, apperr.New(apperr.Validation, "url or file is required")
	}
	if int64(len(raw)) > i.opts.MaxBytes {
		return nil, apperr.Newf(apperr.Validation, "document is larger than %d bytes", i.opts.MaxBytes)
	}

	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if err := i.checkOwner(ctx, userID, doc.Shop); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(raw)
	rec := &db.Ingestion{
		Ref:       uuid.NewString(),
		ShopName:  doc.Shop,
		UserID:    userID,
		Source:    truncate(source, 500),
		SHA256:    hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(raw)),
		Status:    db.ImportPending,
	}

	if !i.opts.Async || i.queue == nil {
		if err := i.db.WithContext(ctx).Create(rec).Error; err != nil {
			return nil, fmt.Errorf("insert ingestion: %w", err)
		}
		if _, err := i.Apply(ctx, rec, doc); err != nil {
			return nil, err
		}
		return i.Ingestion(ctx, userID, rec.Ref)
	}

	payload := taskPayload{Ref: rec.Ref, Document: string(raw)}
	key := fmt.Sprintf("%s:%s:%s", TaskKind, doc.Shop, rec.SHA256)
	err = i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, created, err := i.queue.EnqueueTx(tx, TaskKind, key, payload)
		if err != nil {
			return err
		}
		if !created {
			// ten sam dokument już czeka w kolejce
			var prev taskPayload
			if err := tasks.Decode(task, &prev); err != nil {
				return err
			}
			var existing db.Ingestion
			if err := tx.Where("ref = ?", prev.Ref).Take(&existing).Error; err != nil {
				return err
			}
			*rec = existing
			return nil
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}
	i.queue.Wake()

	i.log.Info().Str("ref", rec.Ref).Str("shop", rec.ShopName).Uint("user", userID).
		Int64("bytes", rec.SizeBytes).Msg("cennik przyjęty do kolejki")
	return rec, nil
}

// Apply podmienia katalog i zapisuje wynik w historii importów.
func (i *Importer) Apply(ctx context.Context, rec *db.Ingestion, doc *Document) (*Result, error) {
	res, err := i.Ingest(ctx, rec.UserID, doc, rec.SHA256)
	if err != nil {
		i.markFailed(ctx, rec.Ref, err)
		i.log.Error().Err(err).Str("ref", rec.Ref).Str("shop", doc.Shop).Msg("import cennika nieudany")
		return nil, err
	}
	i.saveStatus(ctx, rec.Ref, map[string]any{
		"status":        db.ImportDone,
		"last_error":    "",
		"unchanged":     res.Unchanged,
		"product_infos": res.ProductInfos,
		"categories":    res.Categories,
	})
	i.log.Info().Str("ref", rec.Ref).Str("shop", doc.Shop).Bool("unchanged", res.Unchanged).
		Int("product_infos", res.ProductInfos).Int("categories", res.Categories).Msg("import cennika OK")
	return res, nil
}

func (i *Importer) markFailed(ctx context.Context, ref string, err error) {
	i.saveStatus(ctx, ref, map[string]any{"status": db.ImportError, "last_error": err.Error()})
}

func (i *Importer) saveStatus(ctx context.Context, ref string, upd map[string]any) {
	upd["processed_at"] = time.Now()
	if err := i.db.WithContext(context.WithoutCancel(ctx)).Model(&db.Ingestion{}).
		Where("ref = ?", ref).Updates(upd).Error; err != nil {
		i.log.Error().Err(err).Str("ref", ref).Msg("nie mogę zapisać statusu importu")
	}
}

// Ingest atomowo podmienia oferty sklepu na te z dokumentu.
// Importy tego samego sklepu są serializowane, różnych sklepów idą równolegle.
// sha pusty wymusza podmianę.
func (i *Importer) Ingest(ctx context.Context, userID uint, doc *Document, sha string) (*Result, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	unlock := i.locks.Lock(doc.Shop)
	defer unlock()

	tx := i.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	shop, err := lockShop(tx, userID, doc.Shop)
	if err != nil {
		return nil, err
	}

	res := &Result{ShopID: shop.ID}
	if sha != "" && shop.CatalogSHA256 == sha {
		res.Unchanged = true
		var n int64
		if err := tx.Model(&db.ProductInfo{}).Where("shop_id = ?", shop.ID).Count(&n).Error; err != nil {
			return nil, err
		}
		res.ProductInfos = int(n)
		res.Categories = len(doc.Categories)
		if err := tx.Commit().Error; err != nil {
			return nil, err
		}
		return res, nil
	}

	// 1) kategorie: get-or-create po nazwie + powiązanie ze sklepem
	catByDocID := map[int64]uint{}
	for _, c := range doc.Categories {
		cat, err := getOrCreateCategory(tx, c.Name)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c.Name, err)
		}
		link := db.ShopCategory{ShopID: shop.ID, CategoryID: cat.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return nil, fmt.Errorf("link category %q: %w", c.Name, err)
		}
		if c.ID != nil {
			catByDocID[*c.ID] = cat.ID
		}
	}
	res.Categories = len(doc.Categories)

	// 2) usunięcie dotychczasowych ofert sklepu
	if err := clearShop(tx, shop.ID); err != nil {
		return nil, err
	}

	// 3) nowe oferty
	products := map[productKey]uint{}
	infos := make([]db.ProductInfo, 0, len(doc.Goods))
	for _, g := range doc.Goods {
		catID := catByDocID[*g.Category]
		key := productKey{name: g.Name, category: catID}
		pid, ok := products[key]
		if !ok {
			p, err := getOrCreateProduct(tx, g.Name, catID)
			if err != nil {
				return nil, fmt.Errorf("product %q: %w", g.Name, err)
			}
			pid = p.ID
			products[key] = pid
		}
		infos = append(infos, db.ProductInfo{
			ExternalID: *g.ID,
			ProductID:  pid,
			ShopID:     shop.ID,
			Quantity:   *g.Quantity,
			Price:      g.Price.Decimal,
			PriceRRC:   g.PriceRRC.Decimal,
		})
	}
	if len(infos) > 0 {
		if err := tx.Omit(clause.Associations).CreateInBatches(&infos, batchSize).Error; err != nil {
			if db.IsDuplicate(err) {
				return nil, apperr.Wrap(apperr.Conflict, "duplicate goods entry: the same id, name and category appear twice", err)
			}
			return nil, fmt.Errorf("insert product infos: %w", err)
		}
	}
	res.ProductInfos = len(infos)

	// 4) parametry
	params := map[string]uint{}
	var pps []db.ProductParameter
	for n, g := range doc.Goods {
		for _, name := range g.ParamNames() {
			paramID, ok := params[name]
			if !ok {
				p, err := getOrCreateParameter(tx, name)
				if err != nil {
					return nil, fmt.Errorf("parameter %q: %w", name, err)
				}
				paramID = p.ID
				params[name] = paramID
			}
			pps = append(pps, db.ProductParameter{
				ProductInfoID: infos[n].ID,
				ParameterID:   paramID,
				Value:         string(g.Parameters[name]),
			})
		}
	}
	if len(pps) > 0 {
		if err := tx.Omit(clause.Associations).CreateInBatches(&pps, batchSize).Error; err != nil {
			return nil, fmt.Errorf("insert product parameters: %w", err)
		}
	}

	if err := tx.Model(&db.Shop{}).Where("id = ?", shop.ID).Update("catalog_sha256", sha).Error; err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		i.log.Error().Err(err).Str("shop", doc.Shop).Msg("tx commit failed")
		return nil, err
	}
	return res, nil
}

// Ingestions zwraca historię importów partnera, najnowsze pierwsze.
func (i *Importer) Ingestions(ctx context.Context, userID uint, limit int) ([]db.Ingestion, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var out []db.Ingestion
	err := i.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (i *Importer) Ingestion(ctx context.Context, userID uint, ref string) (*db.Ingestion, error) {
	var rec db.Ingestion
	err := i.db.WithContext(ctx).Where("ref = ? AND user_id = ?", ref, userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.NotFound, "import not found")
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// clearShop usuwa oferty sklepu. Pozycje koszyków na te oferty znikają,
// pozycje złożonych zamówień zostają odpięte (mają własną kopię ceny i nazwy).
func clearShop(tx *gorm.DB, shopID uint) error {
	infoIDs := func() *gorm.DB {
		return tx.Model(&db.ProductInfo{}).Select("id").Where("shop_id = ?", shopID)
	}

	if err := tx.Where("product_info_id IN (?)", infoIDs()).Delete(&db.ProductParameter{}).Error; err != nil {
		return fmt.Errorf("delete product parameters: %w", err)
	}
	basketIDs := tx.Model(&db.Order{}).Select("id").Where("state = ?", db.StateBasket)
	if err := tx.Where("product_info_id IN (?) AND order_id IN (?)", infoIDs(), basketIDs).
		Delete(&db.OrderItem{}).Error; err != nil {
		return fmt.Errorf("delete basket items: %w", err)
	}
	if err := tx.Model(&db.OrderItem{}).Where("product_info_id IN (?)", infoIDs()).
		Update("product_info_id", nil).Error; err != nil {
		return fmt.Errorf("detach order items: %w", err)
	}
	if err := tx.Where("shop_id = ?", shopID).Delete(&db.ProductInfo{}).Error; err != nil {
		return fmt.Errorf("delete product infos: %w", err)
	}
	return nil
}

type productKey struct {
	name     string
	category uint
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

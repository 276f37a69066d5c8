package importer_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/db"
	"github.com/bartek5186/hurtownia/internal/dbtest"
	"github.com/bartek5186/hurtownia/internal/importer"
	"github.com/bartek5186/hurtownia/internal/tasks"
)

type good struct {
	id    int64
	name  string
	price string
	qty   int64
}

// priceList buduje dokument z jedną kategorią; każdy towar ma parametr "kolor".
func priceList(shop string, goods ...good) string {
	var b strings.Builder
	fmt.Fprintf(&b, "shop: %q\ncategories:\n  - id: 1\n    name: Smartfony\n  - id: 2\n    name: Akcesoria\ngoods:\n", shop)
	for _, g := range goods {
		fmt.Fprintf(&b, "  - id: %d\n    category: 1\n    name: %q\n    price: %s\n    price_rrc: %s\n    quantity: %d\n    parameters:\n      kolor: czarny\n      pamięć: 64\n",
			g.id, g.name, g.price, g.price, g.qty)
	}
	return b.String()
}

func parse(t *testing.T, raw string) *importer.Document {
	t.Helper()
	doc, err := importer.Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func newImporter(t *testing.T, gdb *gorm.DB, async bool) (*importer.Importer, *tasks.Queue) {
	t.Helper()
	q := tasks.NewQueue(gdb)
	return importer.New(zerolog.Nop(), gdb, q, importer.Options{
		FetchTimeout: 2 * time.Second,
		MaxBytes:     1 << 20,
		Async:        async,
	}), q
}

type infoRow struct {
	ExternalID int64
	Name       string
	Price      string
	Quantity   int64
}

func catalogOf(t *testing.T, gdb *gorm.DB, shopName string) []infoRow {
	t.Helper()
	var infos []db.ProductInfo
	require.NoError(t, gdb.Joins("JOIN shops ON shops.id = product_infos.shop_id").
		Where("shops.name = ?", shopName).Preload("Product").
		Order("product_infos.external_id").Find(&infos).Error)

	out := make([]infoRow, 0, len(infos))
	for _, pi := range infos {
		out = append(out, infoRow{ExternalID: pi.ExternalID, Name: pi.Product.Name, Price: pi.Price.StringFixed(2), Quantity: pi.Quantity})
	}
	return out
}

func infoIDs(t *testing.T, gdb *gorm.DB, shopID uint) []uint {
	t.Helper()
	var ids []uint
	require.NoError(t, gdb.Model(&db.ProductInfo{}).Where("shop_id = ?", shopID).Order("id").Pluck("id", &ids).Error)
	return ids
}

var (
	docA = priceList("Связной",
		good{1, "iPhone XS", "110000.00", 14},
		good{2, "Galaxy S9", "60000.50", 3},
		good{3, "Xperia", "30000", 0},
	)
	docB = priceList("Связной",
		good{2, "Galaxy S9", "59000", 1},
		good{4, "Pixel", "45000.99", 7},
	)
)

func TestIngestCreatesCatalog(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	res, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ProductInfos)
	assert.Equal(t, 2, res.Categories)
	assert.False(t, res.Unchanged)

	var shop db.Shop
	require.NoError(t, gdb.Where("name = ?", "Связной").Take(&shop).Error)
	require.NotNil(t, shop.UserID)
	assert.EqualValues(t, 10, *shop.UserID)
	assert.True(t, shop.AcceptingOrders)
	assert.Equal(t, "sha-a", shop.CatalogSHA256)

	assert.Equal(t, []infoRow{
		{1, "iPhone XS", "110000.00", 14},
		{2, "Galaxy S9", "60000.50", 3},
		{3, "Xperia", "30000.00", 0},
	}, catalogOf(t, gdb, "Связной"))

	var links int64
	require.NoError(t, gdb.Model(&db.ShopCategory{}).Where("shop_id = ?", shop.ID).Count(&links).Error)
	assert.EqualValues(t, 2, links)

	var params int64
	require.NoError(t, gdb.Model(&db.ProductParameter{}).Count(&params).Error)
	assert.EqualValues(t, 6, params)

	var names []string
	require.NoError(t, gdb.Model(&db.Parameter{}).Order("name").Pluck("name", &names).Error)
	assert.Equal(t, []string{"kolor", "pamięć"}, names)
}

func TestReingestReplacesWholeCatalog(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	first, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	oldIDs := infoIDs(t, gdb, first.ShopID)

	res, err := imp.Ingest(ctx, 10, parse(t, docB), "sha-b")
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProductInfos)

	assert.Equal(t, []infoRow{
		{2, "Galaxy S9", "59000.00", 1},
		{4, "Pixel", "45000.99", 7},
	}, catalogOf(t, gdb, "Связной"))

	// nic z poprzedniego importu nie przetrwało
	var stale int64
	require.NoError(t, gdb.Model(&db.ProductInfo{}).Where("id IN ?", oldIDs).Count(&stale).Error)
	assert.Zero(t, stale)

	var orphanParams int64
	require.NoError(t, gdb.Model(&db.ProductParameter{}).Where("product_info_id IN ?", oldIDs).Count(&orphanParams).Error)
	assert.Zero(t, orphanParams)

	// produkty i kategorie zostają
	var products int64
	require.NoError(t, gdb.Model(&db.Product{}).Count(&products).Error)
	assert.EqualValues(t, 4, products)
}

func TestIngestIsIdempotent(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	_, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	want := catalogOf(t, gdb, "Связной")

	// ten sam hash: podmiana pominięta
	res, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
	assert.Equal(t, 3, res.ProductInfos)
	assert.Equal(t, want, catalogOf(t, gdb, "Связной"))

	// bez hasha: pełna podmiana daje ten sam zestaw
	for i := 0; i < 2; i++ {
		res, err = imp.Ingest(ctx, 10, parse(t, docA), "")
		require.NoError(t, err)
		assert.False(t, res.Unchanged)
		assert.Equal(t, want, catalogOf(t, gdb, "Связной"))
	}

	// A -> B -> A wraca do stanu A
	_, err = imp.Ingest(ctx, 10, parse(t, docB), "sha-b")
	require.NoError(t, err)
	_, err = imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	assert.Equal(t, want, catalogOf(t, gdb, "Связной"))
}

func TestDuplicateGoodsRollsBack(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	first, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	before := infoIDs(t, gdb, first.ShopID)

	dup := priceList("Связной",
		good{5, "Nokia", "100", 1},
		good{5, "Nokia", "200", 2},
	)
	_, err = imp.Ingest(ctx, 10, parse(t, dup), "sha-dup")
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	// poprzedni katalog nietknięty
	assert.Equal(t, before, infoIDs(t, gdb, first.ShopID))
	var shop db.Shop
	require.NoError(t, gdb.First(&shop, first.ShopID).Error)
	assert.Equal(t, "sha-a", shop.CatalogSHA256)

	var nokia int64
	require.NoError(t, gdb.Model(&db.Product{}).Where("name = ?", "Nokia").Count(&nokia).Error)
	assert.Zero(t, nokia)
}

func TestIngestRejectsInvalidDocument(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)

	bad := priceList("s", good{1, "p", "-1", 1})
	_, err := imp.Ingest(context.Background(), 10, parse(t, bad), "x")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "goods[0].price: must be >= 0")

	var shops int64
	require.NoError(t, gdb.Model(&db.Shop{}).Count(&shops).Error)
	assert.Zero(t, shops)
}

func TestIngestOwnership(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	_, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)

	// obcy partner
	_, err = imp.Ingest(ctx, 11, parse(t, docB), "sha-b")
	assert.ErrorIs(t, err, importer.ErrNotShopOwner)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	// drugi sklep na tym samym koncie
	_, err = imp.Ingest(ctx, 10, parse(t, priceList("Другой", good{1, "x", "1", 1})), "sha-c")
	assert.ErrorIs(t, err, importer.ErrOwnsAnotherShop)

	// sklep bez właściciela zostaje przejęty
	orphan := dbtest.Shop(t, gdb, "Ничей", 0)
	_, err = imp.Ingest(ctx, 12, parse(t, priceList("Ничей", good{1, "x", "1", 1})), "sha-d")
	require.NoError(t, err)
	require.NoError(t, gdb.First(orphan, orphan.ID).Error)
	require.NotNil(t, orphan.UserID)
	assert.EqualValues(t, 12, *orphan.UserID)
}

func TestReingestDropsBasketItemsAndDetachesPlacedOrders(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	first, err := imp.Ingest(ctx, 10, parse(t, docA), "sha-a")
	require.NoError(t, err)
	ids := infoIDs(t, gdb, first.ShopID)

	buyer := uint(50)
	basket := db.Order{UserID: buyer, State: db.StateBasket, BasketOwner: &buyer}
	require.NoError(t, gdb.Create(&basket).Error)
	require.NoError(t, gdb.Create(&db.OrderItem{OrderID: basket.ID, ProductInfoID: &ids[0], ShopID: first.ShopID, Quantity: 1}).Error)

	placed := db.Order{UserID: buyer, State: db.StateNew, CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, gdb.Create(&placed).Error)
	snap := db.OrderItem{
		OrderID: placed.ID, ProductInfoID: &ids[1], ShopID: first.ShopID, Quantity: 2,
		UnitPrice:   decimal.NewNullDecimal(decimal.RequireFromString("60000.50")),
		ProductName: "Galaxy S9", ExternalID: 2,
	}
	require.NoError(t, gdb.Create(&snap).Error)

	_, err = imp.Ingest(ctx, 10, parse(t, docB), "sha-b")
	require.NoError(t, err)

	var basketItems int64
	require.NoError(t, gdb.Model(&db.OrderItem{}).Where("order_id = ?", basket.ID).Count(&basketItems).Error)
	assert.Zero(t, basketItems)

	var kept db.OrderItem
	require.NoError(t, gdb.First(&kept, snap.ID).Error)
	assert.Nil(t, kept.ProductInfoID)
	assert.Equal(t, "60000.50", kept.UnitPrice.Decimal.StringFixed(2))
	assert.Equal(t, "Galaxy S9", kept.ProductName)
}

func TestConcurrentIngestion(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	docC := priceList("Эльдорадо", good{10, "TV", "999.99", 2})

	jobs := []struct {
		user uint
		doc  *importer.Document
		sha  string
	}{
		{10, parse(t, docA), "sha-a"},
		{10, parse(t, docB), "sha-b"},
		{20, parse(t, docC), "sha-c"},
		{10, parse(t, docA), "sha-a2"},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(jobs))
	for n, j := range jobs {
		n, j := n, j
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[n] = imp.Ingest(ctx, j.user, j.doc, j.sha)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	// katalog to w całości A albo B, nigdy mieszanka
	got := catalogOf(t, gdb, "Связной")
	ids := make([]int64, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ExternalID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Contains(t, [][]int64{{1, 2, 3}, {2, 4}}, ids)

	assert.Equal(t, []infoRow{{10, "TV", "999.99", 2}}, catalogOf(t, gdb, "Эльдорадо"))
}

func TestSubmitSync(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	rec, err := imp.Submit(ctx, 10, importer.Source{Data: []byte(docA), Name: "shop1.yaml"})
	require.NoError(t, err)
	assert.Equal(t, db.ImportDone, rec.Status)
	assert.Equal(t, 3, rec.ProductInfos)
	assert.Equal(t, "shop1.yaml", rec.Source)
	assert.Len(t, rec.SHA256, 64)
	require.NotNil(t, rec.ProcessedAt)

	again, err := imp.Submit(ctx, 10, importer.Source{Data: []byte(docA)})
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.NotEqual(t, rec.Ref, again.Ref)

	list, err := imp.Ingestions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, again.Ref, list[0].Ref)

	_, err = imp.Ingestion(ctx, 11, rec.Ref)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestSubmitValidatesBeforeQueueing(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, true)
	ctx := context.Background()

	_, err := imp.Submit(ctx, 10, importer.Source{})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = imp.Submit(ctx, 10, importer.Source{Data: []byte(priceList("s", good{1, "p", "1", -1}))})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	dbtest.Shop(t, gdb, "Связной", 99)
	_, err = imp.Submit(ctx, 10, importer.Source{Data: []byte(docA)})
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	var queued int64
	require.NoError(t, gdb.Model(&db.Task{}).Count(&queued).Error)
	assert.Zero(t, queued)
}

func TestSubmitAsyncRunsThroughWorker(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, q := newImporter(t, gdb, true)
	ctx := context.Background()

	rec, err := imp.Submit(ctx, 10, importer.Source{Data: []byte(docA)})
	require.NoError(t, err)
	assert.Equal(t, db.ImportPending, rec.Status)

	// ten sam dokument w kolejce: ta sama referencja
	dup, err := imp.Submit(ctx, 10, importer.Source{Data: []byte(docA)})
	require.NoError(t, err)
	assert.Equal(t, rec.Ref, dup.Ref)

	reg := tasks.NewRegistry()
	reg.Register(importer.TaskKind, imp.Handler())
	w := tasks.NewWorker(zerolog.Nop(), gdb, q, reg, tasks.Options{MaxAttempts: 3})

	ok, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	done, err := imp.Ingestion(ctx, 10, rec.Ref)
	require.NoError(t, err)
	assert.Equal(t, db.ImportDone, done.Status)
	assert.Equal(t, 3, done.ProductInfos)
	assert.Len(t, catalogOf(t, gdb, "Связной"), 3)

	var task db.Task
	require.NoError(t, gdb.Where("kind = ?", importer.TaskKind).Take(&task).Error)
	assert.Equal(t, db.TaskDone, task.Status)
}

func TestHandlerMarksPermanentFailure(t *testing.T) {
	gdb := dbtest.Open(t)
	imp, q := newImporter(t, gdb, true)
	ctx := context.Background()

	rec, err := imp.Submit(ctx, 10, importer.Source{Data: []byte(docA)})
	require.NoError(t, err)

	// w międzyczasie sklep przejął ktoś inny
	require.NoError(t, gdb.Create(&db.Shop{Name: "Связной", UserID: ptr(uint(77)), AcceptingOrders: true}).Error)

	reg := tasks.NewRegistry()
	reg.Register(importer.TaskKind, imp.Handler())
	w := tasks.NewWorker(zerolog.Nop(), gdb, q, reg, tasks.Options{MaxAttempts: 5})
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)

	failed, err := imp.Ingestion(ctx, 10, rec.Ref)
	require.NoError(t, err)
	assert.Equal(t, db.ImportError, failed.Status)
	assert.Contains(t, failed.LastError, "another partner")

	var task db.Task
	require.NoError(t, gdb.Where("kind = ?", importer.TaskKind).Take(&task).Error)
	assert.Equal(t, db.TaskError, task.Status)
	assert.Equal(t, 1, task.Attempts)
}

func TestFetch(t *testing.T) {
	latin2 := []byte("shop: \xa3\xf3d\xbc\n")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/shop1.yaml":
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write([]byte(docA))
		case "/latin2.yaml":
			w.Header().Set("Content-Type", "text/yaml; charset=ISO8859-2")
			_, _ = w.Write(latin2)
		case "/big.yaml":
			_, _ = w.Write([]byte(strings.Repeat("#", 2<<20)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gdb := dbtest.Open(t)
	imp, _ := newImporter(t, gdb, false)
	ctx := context.Background()

	data, err := imp.Fetch(ctx, srv.URL+"/shop1.yaml")
	require.NoError(t, err)
	assert.Equal(t, docA, string(data))

	data, err = imp.Fetch(ctx, srv.URL+"/latin2.yaml")
	require.NoError(t, err)
	assert.Equal(t, "shop: Łódź\n", string(data))

	_, err = imp.Fetch(ctx, srv.URL+"/missing.yaml")
	assert.Equal(t, apperr.Upstream, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "404")

	_, err = imp.Fetch(ctx, srv.URL+"/big.yaml")
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = imp.Fetch(ctx, "ftp://example.com/x.yaml")
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	_, err = imp.Fetch(ctx, "not a url")
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	// adres nieosiągalny: błąd upstream z przyczyną
	closed := httptest.NewServer(http.NotFoundHandler())
	addr := closed.URL
	closed.Close()
	_, err = imp.Fetch(ctx, addr+"/x.yaml")
	assert.Equal(t, apperr.Upstream, apperr.KindOf(err))
	assert.Contains(t, apperr.Message(err), "cannot fetch price list")

	rec, err := imp.Submit(ctx, 10, importer.Source{URL: srv.URL + "/shop1.yaml"})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/shop1.yaml", rec.Source)
	assert.Equal(t, db.ImportDone, rec.Status)
}

func ptr[T any](v T) *T { return &v }

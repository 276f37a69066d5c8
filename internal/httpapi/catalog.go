package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/catalog"
)

func (s *Server) listShops(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shops, err := s.catalog.Shops(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]any, 0, len(shops))
	for i := range shops {
		out = append(out, catalog.ShopView(catalog.ActionList, &shops[i], nil))
	}
	ok(w, envelope{"shops": out})
}

func (s *Server) getShop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shop, cats, err := s.catalog.Shop(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"shop": catalog.ShopView(catalog.ActionRetrieve, shop, cats)})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cats, err := s.catalog.Categories(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]any, 0, len(cats))
	for i := range cats {
		out = append(out, catalog.CategoryView(catalog.ActionList, &cats[i], nil))
	}
	ok(w, envelope{"categories": out})
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cat, shops, err := s.catalog.Category(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"category": catalog.CategoryView(catalog.ActionRetrieve, cat, shops)})
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   catalog.ProductFilter
		err error
	)
	if f.ShopID, err = queryID(q.Get("shop_id"), "shop_id"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.CategoryID, err = queryID(q.Get("category_id"), "category_id"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.Limit, f.Offset, err = paging(r); err != nil {
		s.fail(w, r, err)
		return
	}
	f.Search = q.Get("search")

	infos, err := s.catalog.Products(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"products": infos})
}

func listFilter(r *http.Request) (catalog.Filter, error) {
	limit, offset, err := paging(r)
	if err != nil {
		return catalog.Filter{}, err
	}
	q := r.URL.Query()
	return catalog.Filter{
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
		Limit:    limit,
		Offset:   offset,
	}, nil
}

func paging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, apperr.New(apperr.Validation, "limit must be a non-negative integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, apperr.New(apperr.Validation, "offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

// queryID parsuje opcjonalny filtr id; pusty = brak filtra.
func queryID(v, name string) (uint, error) {
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Newf(apperr.Validation, "%s must be a positive integer", name)
	}
	return uint(id), nil
}

func pathID(r *http.Request, name string) (uint, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.New(apperr.NotFound, "resource not found")
	}
	return uint(id), nil
}

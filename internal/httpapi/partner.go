package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bartek5186/hurtownia/internal/apperr"
	"github.com/bartek5186/hurtownia/internal/catalog"
	"github.com/bartek5186/hurtownia/internal/db"
	"github.com/bartek5186/hurtownia/internal/importer"
)

// IngestionView to wpis historii importów partnera.
type IngestionView struct {
	Ref          string     `json:"ref"`
	Shop         string     `json:"shop"`
	Source       string     `json:"source"`
	SHA256       string     `json:"sha256"`
	SizeBytes    int64      `json:"size_bytes"`
	Status       string     `json:"status"`
	Unchanged    bool       `json:"unchanged"`
	ProductInfos int        `json:"product_infos"`
	Categories   int        `json:"categories"`
	Error        string     `json:"error,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
	ProcessedAt  *time.Time `json:"processed_at"`
}

func ingestionView(rec *db.Ingestion) IngestionView {
	status := "pending"
	switch rec.Status {
	case db.ImportDone:
		status = "done"
	case db.ImportError:
		status = "error"
	}
	return IngestionView{
		Ref:          rec.Ref,
		Shop:         rec.ShopName,
		Source:       rec.Source,
		SHA256:       rec.SHA256,
		SizeBytes:    rec.SizeBytes,
		Status:       status,
		Unchanged:    rec.Unchanged,
		ProductInfos: rec.ProductInfos,
		Categories:   rec.Categories,
		Error:        rec.LastError,
		ReceivedAt:   rec.ReceivedAt,
		ProcessedAt:  rec.ProcessedAt,
	}
}

// partnerUpdate przyjmuje cennik jako {"url": ...}, plik multipart "file"
// albo surowe ciało YAML/JSON.
func (s *Server) partnerUpdate(w http.ResponseWriter, r *http.Request) {
	src, err := s.updateSource(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.importer.Submit(r.Context(), identity(r.Context()).UserID, src)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"import": ingestionView(rec)})
}

func (s *Server) updateSource(w http.ResponseWriter, r *http.Request) (importer.Source, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mt {
	case "multipart/form-data":
		f, hdr, err := r.FormFile("file")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return importer.Source{}, apperr.New(apperr.Validation, "file: required")
			}
			return importer.Source{}, bodyError(err, s.maxBody)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return importer.Source{}, bodyError(err, s.maxBody)
		}
		return importer.Source{Data: data, Name: hdr.Filename}, nil

	case "application/json":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return importer.Source{}, bodyError(err, s.maxBody)
		}
		// {"url": "..."}; każdy inny JSON to sam dokument cennika
		var req struct {
			URL string `json:"url"`
		}
		if json.Unmarshal(data, &req) == nil && req.URL != "" {
			return importer.Source{URL: strings.TrimSpace(req.URL)}, nil
		}
		return importer.Source{Data: data, Name: "body.json"}, nil

	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return importer.Source{}, bodyError(err, s.maxBody)
		}
		return importer.Source{Data: data, Name: "body"}, nil
	}
}

func bodyError(err error, limit int64) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return apperr.Newf(apperr.Validation, "document is larger than %d bytes", limit)
	}
	return apperr.Wrap(apperr.Validation, errBadJSON.Msg, err)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	shop, err := s.catalog.ShopState(r.Context(), identity(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"state": catalog.StateView(shop)})
}

func (s *Server) setState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State json.RawMessage `json:"state"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	accepting, err := parseState(req.State)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	shop, err := s.catalog.SetShopState(r.Context(), identity(r.Context()).UserID, accepting)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Info().Uint("shop", shop.ID).Bool("accepting_orders", accepting).Msg("zmiana statusu sklepu")
	ok(w, envelope{"state": catalog.StateView(shop)})
}

var errBadState = apperr.New(apperr.Validation, "state: expected true/false")

// parseState przyjmuje bool albo tekst w rodzaju "on"/"off", "yes"/"no", "1"/"0".
func parseState(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, errBadState
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b, nil
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return false, errBadState
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "t", "true", "on", "1":
		return true, nil
	case "n", "no", "f", "false", "off", "0":
		return false, nil
	}
	return false, errBadState
}

func (s *Server) partnerOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.orders.ShopOrders(r.Context(), identity(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"orders": list})
}

func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.importer.Ingestions(r.Context(), identity(r.Context()).UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]IngestionView, 0, len(recs))
	for i := range recs {
		out = append(out, ingestionView(&recs[i]))
	}
	ok(w, envelope{"imports": out})
}

func (s *Server) getImport(w http.ResponseWriter, r *http.Request) {
	rec, err := s.importer.Ingestion(r.Context(), identity(r.Context()).UserID, chi.URLParam(r, "ref"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"import": ingestionView(rec)})
}

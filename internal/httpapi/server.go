// Package httpapi wystawia katalog, koszyk, zamówienia i panel partnera po HTTP.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/bartek5186/hurtownia/internal/auth"
	"github.com/bartek5186/hurtownia/internal/catalog"
	"github.com/bartek5186/hurtownia/internal/importer"
	"github.com/bartek5186/hurtownia/internal/orders"
)

type Deps struct {
	DB        *gorm.DB
	Catalog   *catalog.Service
	Orders    *orders.Service
	Importer  *importer.Importer
	JWTSecret []byte
	// limit ciała POST /partner/update (plik albo surowy dokument)
	MaxUploadBytes int64
}

type Server struct {
	log      zerolog.Logger
	db       *gorm.DB
	catalog  *catalog.Service
	orders   *orders.Service
	importer *importer.Importer
	secret   []byte
	maxBody  int64
}

func New(log zerolog.Logger, d Deps) *Server {
	maxBody := d.MaxUploadBytes
	if maxBody <= 0 {
		maxBody = 32 << 20
	}
	return &Server{
		log:      log.With().Str("component", "http").Logger(),
		db:       d.DB,
		catalog:  d.Catalog,
		orders:   d.Orders,
		importer: d.Importer,
		secret:   d.JWTSecret,
		maxBody:  maxBody,
	}
}

// Routes buduje router ze wszystkimi endpointami.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(accessLog(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	// publiczny katalog
	r.Get("/shops", s.listShops)
	r.Get("/shops/{id}", s.getShop)
	r.Get("/categories", s.listCategories)
	r.Get("/categories/{id}", s.getCategory)
	r.Get("/products", s.listProducts)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.secret, s.fail))

		r.Route("/basket", func(r chi.Router) {
			r.Get("/", s.getBasket)
			r.Post("/", s.addToBasket)
			r.Put("/", s.updateBasket)
			r.Delete("/", s.removeFromBasket)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.listOrders)
			r.Post("/", s.placeOrder)
			r.Get("/{id}", s.getOrder)
		})

		r.Route("/partner", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleShop, s.fail))
			r.Post("/update", s.partnerUpdate)
			r.Get("/state", s.getState)
			r.Put("/state", s.setState)
			r.Get("/orders", s.partnerOrders)
			r.Get("/imports", s.listImports)
			r.Get("/imports/{ref}", s.getImport)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusNotFound, statusNotFound, envelope{"error": "resource not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusMethodNotAllowed, statusBadRequest, envelope{"error": "method not allowed"})
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, nil)
}

func identity(ctx context.Context) *auth.Identity {
	id, _ := auth.FromContext(ctx)
	return id
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bartek5186/hurtownia/internal/orders"
)

type addRequest struct {
	Items []orders.NewItem `json:"items"`
}

type updateRequest struct {
	Items []orders.ItemUpdate `json:"items"`
}

// removeRequest przyjmuje {"items": "1,2,3"} albo {"items": [1, "2", 3]}.
type removeRequest struct {
	Items json.RawMessage `json:"items"`
}

func (s *Server) getBasket(w http.ResponseWriter, r *http.Request) {
	b, err := s.orders.Basket(r.Context(), identity(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"basket": b})
}

func (s *Server) addToBasket(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.orders.AddItems(r.Context(), identity(r.Context()).UserID, req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"created": n})
}

func (s *Server) updateBasket(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.orders.UpdateItems(r.Context(), identity(r.Context()).UserID, req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"items": res})
}

func (s *Server) removeFromBasket(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ids, err := rawIDs(req.Items)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.orders.RemoveItems(r.Context(), identity(r.Context()).UserID, ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"items": res})
}

// rawIDs zamienia listę id w postaci tekstu albo tablicy na surowe napisy;
// ich poprawność sprawdza orders.ParseIDs.
func rawIDs(msg json.RawMessage) ([]string, error) {
	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.Equal(msg, []byte("null")) {
		return nil, orders.ErrInvalidFormat
	}
	if msg[0] == '"' {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, orders.ErrInvalidFormat
		}
		return strings.Split(s, ","), nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(msg, &list); err != nil {
		return nil, orders.ErrInvalidFormat
	}
	out := make([]string, 0, len(list))
	for _, el := range list {
		var s string
		if err := json.Unmarshal(el, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(el))
	}
	return out, nil
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.orders.Orders(r.Context(), identity(r.Context()).UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"orders": list})
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	o, err := s.orders.Order(r.Context(), identity(r.Context()).UserID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"order": o})
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id := identity(r.Context())
	o, err := s.orders.PlaceOrder(r.Context(), orders.Buyer{UserID: id.UserID, Email: id.Email, Name: id.Name}, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, envelope{"order": o})
}

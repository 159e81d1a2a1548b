package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"bookshelf/internal/catalog"
	"bookshelf/internal/communities"
	"bookshelf/internal/identity"
	"bookshelf/internal/messages"
	"bookshelf/internal/remote"
	"bookshelf/internal/reviews"
	"bookshelf/internal/validation"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
)

type handler struct {
	logger   *zap.SugaredLogger
	backend  remote.Backend
	parsers  fastjson.ParserPool
	upgrader websocket.Upgrader
}

// parse reads the already validated JSON body. The returned value belongs to p,
// which the caller puts back into the pool once done with it.
func (h *handler) parse(r *http.Request) (*fastjson.Value, *fastjson.Parser) {
	body, _ := io.ReadAll(r.Body)
	p := h.parsers.Get()
	v, err := p.ParseBytes(body)
	if err != nil {
		v = fastjson.MustParse("{}")
	}
	return v, p
}

// requiredString retrieves a non-blank string field, writing the error response when absent
func requiredString(w http.ResponseWriter, v *fastjson.Value, field string) (string, bool) {
	if !v.Exists(field) {
		http.Error(w, "Missing Field \""+field+"\"", http.StatusBadRequest)
		return "", false
	}

	s := strings.TrimSpace(string(v.GetStringBytes(field)))
	if v.Get(field).Type() != fastjson.TypeString || len(s) == 0 {
		http.Error(w, "Field \""+field+"\" must be a string and have non-zero length", http.StatusBadRequest)
		return "", false
	}

	return s, true
}

// optionalString retrieves a string field, empty when absent
func optionalString(w http.ResponseWriter, v *fastjson.Value, field string) (string, bool) {
	f := v.Get(field)
	if f == nil || f.Type() == fastjson.TypeNull {
		return "", true
	}
	if f.Type() != fastjson.TypeString {
		http.Error(w, "Field \""+field+"\" must be a string", http.StatusBadRequest)
		return "", false
	}
	return string(f.GetStringBytes()), true
}

// requireUser answers 401 for anonymous sessions
func requireUser(w http.ResponseWriter, r *http.Request) (identity.Session, bool) {
	session := identity.FromContext(r.Context())
	if _, ok := session.CurrentUser(); !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return nil, false
	}
	return session, true
}

func (h *handler) write(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// fail maps view model errors to responses
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validation.ErrRejected):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, remote.ErrBadReference):
		http.Error(w, "Referenced row does not exist", http.StatusBadRequest)
	default:
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// serveView opens the view model, answers with its snapshot and closes it
func (h *handler) serveView(w http.ResponseWriter, r *http.Request, kind string, params map[string]string) {
	v, err := newView(h.logger, h.backend, identity.FromContext(r.Context()), kind, params)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer v.close()

	if err := v.open(r.Context()); err != nil {
		h.fail(w, err)
		return
	}

	h.write(w, http.StatusOK, v.snapshot())
}

// reviewsByBook handles HTTP requests on "/reviews/get" endpoint
func (h *handler) reviewsByBook(w http.ResponseWriter, r *http.Request) {
	v, p := h.parse(r)
	defer h.parsers.Put(p)

	book, ok := requiredString(w, v, "book")
	if !ok {
		return
	}

	h.serveView(w, r, "reviews", map[string]string{"book": book})
}

// submitReview handles HTTP requests on "/reviews/add" endpoint
func (h *handler) submitReview(w http.ResponseWriter, r *http.Request) {
	session, ok := requireUser(w, r)
	if !ok {
		return
	}

	v, p := h.parse(r)
	defer h.parsers.Put(p)

	book, ok := requiredString(w, v, "book")
	if !ok {
		return
	}

	if !v.Exists("rating") {
		http.Error(w, "Missing Field \"rating\"", http.StatusBadRequest)
		return
	}
	rating, err := v.Get("rating").Int()
	if err != nil {
		http.Error(w, "Field \"rating\" must be an integer", http.StatusBadRequest)
		return
	}

	text, ok := optionalString(w, v, "text")
	if !ok {
		return
	}

	d := reviews.NewDialog(h.logger, h.backend, h.backend, session, book)
	defer d.Close()

	if err := d.Open(r.Context()); err != nil {
		h.fail(w, err)
		return
	}

	if err := d.Submit(r.Context(), reviews.Draft{Rating: rating, Body: text}); err != nil {
		h.fail(w, err)
		return
	}

	own, _ := d.Own()
	h.write(w, http.StatusCreated, map[string]interface{}{
		"id":    own.ID,
		"stats": statsJSON{Average: d.Stats().Average, Total: d.Stats().Total},
	})
}

// conversation handles HTTP requests on "/messages/get" endpoint
func (h *handler) conversation(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	v, p := h.parse(r)
	defer h.parsers.Put(p)

	peer, ok := requiredString(w, v, "peer")
	if !ok {
		return
	}

	h.serveView(w, r, "messages", map[string]string{"peer": peer})
}

// sendMessage handles HTTP requests on "/messages/add" endpoint
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := requireUser(w, r)
	if !ok {
		return
	}

	v, p := h.parse(r)
	defer h.parsers.Put(p)

	peer, ok := requiredString(w, v, "peer")
	if !ok {
		return
	}
	if _, ok := requiredString(w, v, "text"); !ok {
		return
	}
	// sent as typed, only blank messages are refused
	text := string(v.GetStringBytes("text"))

	c := messages.NewConversation(h.logger, h.backend, h.backend, session, peer)
	m, err := c.Send(r.Context(), text)
	if err != nil {
		h.fail(w, err)
		return
	}

	h.write(w, http.StatusCreated, newMessageJSON(m))
}

// communityList handles HTTP requests on "/communities/get" endpoint
func (h *handler) communityList(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, "communities", nil)
}

// createCommunity handles HTTP requests on "/communities/add" endpoint
func (h *handler) createCommunity(w http.ResponseWriter, r *http.Request) {
	session, ok := requireUser(w, r)
	if !ok {
		return
	}

	v, p := h.parse(r)
	defer h.parsers.Put(p)

	name, ok := requiredString(w, v, "name")
	if !ok {
		return
	}
	description, ok := optionalString(w, v, "description")
	if !ok {
		return
	}
	category, ok := optionalString(w, v, "category")
	if !ok {
		return
	}

	b := communities.NewBoard(h.logger, h.backend, h.backend, session)
	c, err := b.Create(r.Context(), communities.Draft{
		Name:        name,
		Description: description,
		Category:    communities.Category(category),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	h.write(w, http.StatusCreated, newCommunityJSON(c))
}

// joinCommunity handles HTTP requests on "/communities/join" endpoint
func (h *handler) joinCommunity(w http.ResponseWriter, r *http.Request) {
	session, ok := requireUser(w, r)
	if !ok {
		return
	}

	v, p := h.parse(r)
	defer h.parsers.Put(p)

	community, ok := requiredString(w, v, "community")
	if !ok {
		return
	}

	b := communities.NewBoard(h.logger, h.backend, h.backend, session)
	if err := b.Join(r.Context(), community); err != nil {
		h.fail(w, err)
		return
	}

	h.write(w, http.StatusOK, map[string]bool{"joined": true})
}

// bookList handles HTTP requests on "/books/get" endpoint
func (h *handler) bookList(w http.ResponseWriter, r *http.Request) {
	v, p := h.parse(r)
	defer h.parsers.Put(p)

	params := map[string]string{}
	for _, field := range []string{"search", "genre"} {
		s, ok := optionalString(w, v, field)
		if !ok {
			return
		}
		params[field] = s
	}

	if f := v.Get("available"); f != nil {
		available, err := f.Bool()
		if err != nil {
			http.Error(w, "Field \"available\" must be a boolean", http.StatusBadRequest)
			return
		}
		if available {
			params["available"] = "true"
		}
	}

	h.serveView(w, r, "books", params)
}

// bookAction handles the per-book endpoints of the shelf
func (h *handler) bookAction(action func(http.ResponseWriter, *http.Request, *catalog.Shelf, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := requireUser(w, r)
		if !ok {
			return
		}

		v, p := h.parse(r)
		defer h.parsers.Put(p)

		book, ok := requiredString(w, v, "book")
		if !ok {
			return
		}

		s := catalog.NewShelf(h.logger, h.backend, h.backend, session, catalog.Criteria{})
		action(w, r, s, book)
	}
}

// checkOut handles HTTP requests on "/books/checkout" endpoint
func (h *handler) checkOut(w http.ResponseWriter, r *http.Request, s *catalog.Shelf, book string) {
	loan, err := s.CheckOut(r.Context(), book)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusCreated, newLoanJSON(loan, loan.CreatedAt))
}

// checkIn handles HTTP requests on "/books/checkin" endpoint
func (h *handler) checkIn(w http.ResponseWriter, r *http.Request, s *catalog.Shelf, book string) {
	if err := s.CheckIn(r.Context(), book); err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]bool{"available": true})
}

// toggleWishlist handles HTTP requests on "/books/wishlist" endpoint
func (h *handler) toggleWishlist(w http.ResponseWriter, r *http.Request, s *catalog.Shelf, book string) {
	on, err := s.ToggleWishlist(r.Context(), book)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.write(w, http.StatusOK, map[string]bool{"wishlisted": on})
}

// loanList handles HTTP requests on "/loans/get" endpoint
func (h *handler) loanList(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	h.serveView(w, r, "loans", nil)
}

package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookshelf/internal/identity"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

type liveMessage struct {
	View  string      `json:"view"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(allowed),
	}
}

// checkOrigin accepts requests without an Origin header (non-browser clients), from the
// serving host itself and from the allowed origins. Browsers attach the access_token
// query parameter to cross-site websocket requests too, so any other origin is refused.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(strings.TrimSuffix(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// live handles websocket connections on "/live". The view is picked with the "view" query
// parameter and its arguments are the remaining parameters. A snapshot is pushed after every
// reload of the view model until the client disconnects.
func (h *handler) live(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("view")
	params := map[string]string{}
	for k, vs := range r.URL.Query() {
		if k != "view" && k != "access_token" && len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	session := identity.FromContext(r.Context())
	v, err := newView(h.logger, h.backend, session, kind, params)
	if err != nil {
		http.Error(w, "Unknown view \""+kind+"\"", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered
		h.logger.Errorf("upgrading ws connection: %v", err)
		return
	}
	defer conn.Close()

	if _, ok := session.CurrentUser(); v.needsUser && !ok {
		h.send(conn, liveMessage{View: kind, Error: "authentication required"})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"),
			time.Now().Add(writeWait))
		return
	}

	// reloads are coalesced, the writer always sends the latest snapshot
	reloaded := make(chan struct{}, 1)
	v.watch(func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})

	defer v.close()

	if err := v.open(r.Context()); err != nil {
		h.logger.Errorf("opening %s view: %v", kind, err)
		if err := h.send(conn, liveMessage{View: kind, Error: err.Error()}); err != nil {
			return
		}
	}

	// the client only ever closes, anything it sends is discarded
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-reloaded:
			if err := h.send(conn, liveMessage{View: kind, Data: v.snapshot()}); err != nil {
				h.logger.Debugf("writing %s snapshot: %v", kind, err)
				return
			}
		case <-disconnected:
			h.logger.Debugf("%s view client disconnected", kind)
			return
		}
	}
}

func (h *handler) send(conn *websocket.Conn, m liveMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}

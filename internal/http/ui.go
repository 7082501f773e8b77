package http

import (
	"bytes"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-app/internal/app"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
	"github.com/kjstillabower/weather-forecast-app/internal/ui"
)

// SessionCookieName identifies the browser session that owns a Container.
const SessionCookieName = "forecast_session"

// UIHandler serves the HTML page and the actions its components report.
type UIHandler struct {
	sessions     *app.SessionStore
	logger       *zap.Logger
	secureCookie bool
}

// NewUIHandler returns a UIHandler. secureCookie marks the session cookie Secure (HTTPS only).
func NewUIHandler(sessions *app.SessionStore, logger *zap.Logger, secureCookie bool) *UIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UIHandler{sessions: sessions, logger: logger, secureCookie: secureCookie}
}

// container returns the session's Container, starting a session and setting the cookie when needed.
func (h *UIHandler) container(w http.ResponseWriter, r *http.Request) *app.Container {
	var id string
	if c, err := r.Cookie(SessionCookieName); err == nil {
		id = c.Value
	}
	id, c, created := h.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
		requestLogger(r, h.logger).Debug("session started", zap.String("session_id", id))
	}
	return c
}

// Index handles GET /. The first render of a session triggers the initial fetch.
func (h *UIHandler) Index(w http.ResponseWriter, r *http.Request) {
	c := h.container(w, r)
	c.Mount(r.Context())

	var buf bytes.Buffer
	if err := ui.RenderPage(&buf, ui.NewPageProps(c.Snapshot())); err != nil {
		requestLogger(r, h.logger).Error("render page", zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// SearchText handles POST /search/text: the search field reports its full value.
func (h *UIHandler) SearchText(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	h.container(w, r).SetSearchText(r.PostForm.Get("city"))
	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /search. A posted city is applied as the final keystroke, then the
// container fetches using its own search text.
func (h *UIHandler) Search(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	c := h.container(w, r)
	if _, ok := r.PostForm["city"]; ok {
		c.SetSearchText(r.PostForm.Get("city"))
	}
	c.Submit(r.Context())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// SelectForecast handles POST /forecasts. The date is a form field, not a path segment:
// forecast dates are opaque and may contain '/', '?' or '#'.
func (h *UIHandler) SelectForecast(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	date, ok := r.PostForm["date"]
	if !ok || len(date) == 0 {
		http.Error(w, "missing date", http.StatusBadRequest)
		return
	}
	h.container(w, r).SelectDate(date[0])
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type stateResponse struct {
	app.State
	Selected *models.Forecast `json:"selectedForecast"`
}

// GetState handles GET /state: the session's container state as JSON.
func (h *UIHandler) GetState(w http.ResponseWriter, r *http.Request) {
	s := h.container(w, r).Snapshot()
	resp := stateResponse{State: s}
	if f, ok := s.SelectedForecast(); ok {
		resp.Selected = &f
	}
	writeJSON(w, http.StatusOK, resp)
}

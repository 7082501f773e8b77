package http

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/kjstillabower/weather-forecast-app/internal/app"
	"github.com/kjstillabower/weather-forecast-app/internal/client"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
)

type fakeForecastClient struct {
	mu      sync.Mutex
	byCity  map[string]models.ForecastResponse
	errs    map[string]error
	queries []string
}

func (f *fakeForecastClient) GetForecast(ctx context.Context, city string) (models.ForecastResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, city)
	if err := f.errs[city]; err != nil {
		return models.ForecastResponse{}, err
	}
	if resp, ok := f.byCity[city]; ok {
		return resp, nil
	}
	return models.ForecastResponse{}, fmt.Errorf("%w", client.ErrLocationNotFound)
}

func (f *fakeForecastClient) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type uiHarness struct {
	t      *testing.T
	router http.Handler
	client *fakeForecastClient
	cookie *http.Cookie
}

func newUIHarness(t *testing.T) *uiHarness {
	fc := &fakeForecastClient{
		byCity: map[string]models.ForecastResponse{
			"":      sampleForecast("Manchester", "GB", "2024-05-01", "2024-05-02"),
			"Leeds": sampleForecast("Leeds", "GB", "2024-06-01", "2024-06-02", "2024-06-03"),
			"Paris": sampleForecast("Paris", "FR", "01/05/2024", "02/05/2024 #2?am"),
		},
		errs: map[string]error{"Broken": fmt.Errorf("%w: HTTP 500", client.ErrServerError)},
	}
	sessions := app.NewSessionStore(fc, 0, nil)
	return &uiHarness{
		t:      t,
		router: NewRouter(RouterConfig{UI: NewUIHandler(sessions, nil, false)}),
		client: fc,
	}
}

func (h *uiHarness) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	w := serve(h.router, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			h.cookie = c
		}
	}
	return w
}

func (h *uiHarness) state() stateResponse {
	h.t.Helper()
	w := h.do(http.MethodGet, "/state", nil)
	if w.Code != http.StatusOK {
		h.t.Fatalf("GET /state status = %d", w.Code)
	}
	var s stateResponse
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		h.t.Fatalf("decode state: %v", err)
	}
	return s
}

func TestUIHandler_Index_FirstRenderFetchesDefault(t *testing.T) {
	h := newUIHarness(t)

	w := h.do(http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if h.cookie == nil || h.cookie.Value == "" {
		t.Fatal("session cookie not set")
	}
	if !h.cookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	body := w.Body.String()
	if !strings.Contains(body, "Manchester, GB") {
		t.Errorf("page missing location line:\n%s", body)
	}
	if n := strings.Count(body, `<li class="forecast-summary`); n != 2 {
		t.Errorf("forecast summaries = %d, want 2", n)
	}
	if q := h.client.Queries(); len(q) != 1 || q[0] != "" {
		t.Errorf("queries = %q, want one default lookup", q)
	}

	h.do(http.MethodGet, "/", nil)
	if q := h.client.Queries(); len(q) != 1 {
		t.Errorf("second render issued another fetch: %q", q)
	}
}

func TestUIHandler_SearchTextThenSubmit(t *testing.T) {
	h := newUIHarness(t)
	h.do(http.MethodGet, "/", nil)

	for _, partial := range []string{"L", "Le", "Lee", "Leeds"} {
		if w := h.do(http.MethodPost, "/search/text", url.Values{"city": {partial}}); w.Code != http.StatusNoContent {
			t.Fatalf("POST /search/text status = %d, want 204", w.Code)
		}
	}
	if q := h.client.Queries(); len(q) != 1 {
		t.Fatalf("keystrokes must not fetch: %q", q)
	}

	w := h.do(http.MethodPost, "/search", url.Values{})
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("POST /search = %d %q, want 303 to /", w.Code, w.Header().Get("Location"))
	}
	q := h.client.Queries()
	if len(q) != 2 || q[1] != "Leeds" {
		t.Fatalf("queries = %q, want second lookup for Leeds", q)
	}

	s := h.state()
	if s.SearchText != "Leeds" || s.Location.City != "Leeds" || s.SelectedDate != "2024-06-01" || len(s.Forecasts) != 3 {
		t.Errorf("state = %+v", s)
	}
	if s.Selected == nil || s.Selected.Date != "2024-06-01" {
		t.Errorf("selectedForecast = %+v, want 2024-06-01", s.Selected)
	}
}

func TestUIHandler_SearchFormFieldAppliedBeforeSubmit(t *testing.T) {
	h := newUIHarness(t)
	h.do(http.MethodGet, "/", nil)

	h.do(http.MethodPost, "/search", url.Values{"city": {"Leeds"}})
	if s := h.state(); s.SearchText != "Leeds" || s.Location.City != "Leeds" {
		t.Errorf("state = %+v, want Leeds applied", s)
	}
}

func TestUIHandler_SelectForecast(t *testing.T) {
	h := newUIHarness(t)
	h.do(http.MethodGet, "/", nil)

	w := h.do(http.MethodPost, "/forecasts", url.Values{"date": {"2024-05-02"}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	s := h.state()
	if s.SelectedDate != "2024-05-02" || s.Selected == nil || s.Selected.Date != "2024-05-02" {
		t.Errorf("state = %+v, selected = %+v", s, s.Selected)
	}

	page := h.do(http.MethodGet, "/", nil).Body.String()
	if !strings.Contains(page, `<li class="forecast-summary selected">`) {
		t.Error("selected entry not marked in list")
	}
	if !strings.Contains(page, "temperature.max") {
		t.Error("detail panel missing flattened attributes")
	}
}

var dateFieldPattern = regexp.MustCompile(`<input type="hidden" name="date" value="([^"]*)">`)

func TestUIHandler_SelectForecastWithReservedCharacters(t *testing.T) {
	h := newUIHarness(t)
	h.do(http.MethodGet, "/", nil)
	h.do(http.MethodPost, "/search", url.Values{"city": {"Paris"}})

	page := h.do(http.MethodGet, "/", nil).Body.String()
	fields := dateFieldPattern.FindAllStringSubmatch(page, -1)
	if len(fields) != 2 {
		t.Fatalf("date fields = %d, want 2:\n%s", len(fields), page)
	}
	date := html.UnescapeString(fields[1][1])
	if date != "02/05/2024 #2?am" {
		t.Fatalf("rendered date = %q", date)
	}

	w := h.do(http.MethodPost, "/forecasts", url.Values{"date": {date}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}
	s := h.state()
	if s.Selected == nil || s.Selected.Date != "02/05/2024 #2?am" {
		t.Errorf("selectedDate = %q, selected = %+v", s.SelectedDate, s.Selected)
	}
}

func TestUIHandler_SelectForecastMissingDate(t *testing.T) {
	h := newUIHarness(t)
	h.do(http.MethodGet, "/", nil)

	w := h.do(http.MethodPost, "/forecasts", url.Values{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if s := h.state(); s.SelectedDate != "2024-05-01" {
		t.Errorf("selectedDate = %q, want unchanged 2024-05-01", s.SelectedDate)
	}
}

func TestUIHandler_SelectUnknownDateShowsNoDetail(t *testing.T) {
	h := newUIHarness(t)
	h.do(http.MethodGet, "/", nil)
	h.do(http.MethodPost, "/forecasts", url.Values{"date": {"1999-01-01"}})

	s := h.state()
	if s.Selected != nil {
		t.Errorf("selectedForecast = %+v, want null", s.Selected)
	}
	if strings.Contains(h.do(http.MethodGet, "/", nil).Body.String(), "temperature.max") {
		t.Error("detail panel rendered for unmatched selection")
	}
}

func TestUIHandler_ErrorsReplaceLocationAndHideForecasts(t *testing.T) {
	tests := []struct {
		city string
		want string
	}{
		{"Atlantis", client.NotFoundMessage},
		{"Broken", client.ServerErrorMessage},
	}
	for _, tt := range tests {
		t.Run(tt.city, func(t *testing.T) {
			h := newUIHarness(t)
			h.do(http.MethodGet, "/", nil)
			h.do(http.MethodPost, "/search", url.Values{"city": {tt.city}})

			s := h.state()
			if s.ErrorMessage != tt.want {
				t.Errorf("errorMessage = %q, want %q", s.ErrorMessage, tt.want)
			}
			if s.Location.City != "Manchester" || len(s.Forecasts) != 2 {
				t.Errorf("previous forecasts and location should be kept: %+v", s)
			}
			page := h.do(http.MethodGet, "/", nil).Body.String()
			if !strings.Contains(page, tt.want) {
				t.Errorf("page missing %q", tt.want)
			}
			if strings.Contains(page, "Manchester, GB") {
				t.Error("location line should be replaced by the error")
			}
			if strings.Contains(page, `<li class="forecast-summary`) {
				t.Error("forecast list rendered while error present")
			}
		})
	}
}

func TestUIHandler_SessionsAreIsolated(t *testing.T) {
	a := newUIHarness(t)
	b := &uiHarness{t: t, router: a.router, client: a.client}
	a.do(http.MethodGet, "/", nil)
	b.do(http.MethodGet, "/", nil)

	a.do(http.MethodPost, "/search/text", url.Values{"city": {"Leeds"}})
	if s := b.state(); s.SearchText != "" {
		t.Errorf("session b searchText = %q, want empty", s.SearchText)
	}
	if a.cookie.Value == b.cookie.Value {
		t.Error("sessions share an ID")
	}
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"gigfin/internal/aggregate"
	"gigfin/internal/auth"
	"gigfin/internal/cache"
	"gigfin/internal/core"
	"gigfin/internal/listing"
	"gigfin/internal/services"
	"gigfin/internal/storage"
)

var fixedNow = time.Date(2024, time.March, 15, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newConfiguredServer(t, Config{Addr: ":0", RateLimitPerMinute: 1000, DefaultPageSize: 20})
}

func newConfiguredServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	entries := services.NewEntryService(repo, cache.NewStore(100, time.Minute), nil)
	authSvc := auth.NewService(repo, auth.Config{SessionTTL: time.Hour, BcryptCost: bcrypt.MinCost})

	srv := NewServer(cfg, entries, authSvc, repo)
	srv.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv
}

// client keeps the session cookie between requests like a browser would.
type client struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rr := httptest.NewRecorder()
	c.h.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == SessionCookieName {
			if ck.MaxAge < 0 {
				c.cookie = nil
			} else {
				c.cookie = ck
			}
		}
	}
	return rr
}

// with rebinds the client to a subtest so failures stop the right goroutine.
func (c *client) with(t *testing.T) *client {
	cp := *c
	cp.t = t
	return &cp
}

func (c *client) expect(rr *httptest.ResponseRecorder, status int) {
	c.t.Helper()
	if rr.Code != status {
		c.t.Fatalf("status = %d, want %d, body = %s", rr.Code, status, rr.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

// signedIn registers and logs in a fresh user.
func signedIn(t *testing.T, srv *Server, email string) *client {
	t.Helper()
	c := &client{t: t, h: srv.Handler}
	creds := `{"email":"` + email + `","password":"correct horse"}`
	c.expect(c.do(http.MethodPost, "/api/auth/register", creds), http.StatusCreated)
	c.expect(c.do(http.MethodPost, "/api/auth/login", creds), http.StatusOK)
	if c.cookie == nil {
		t.Fatal("login did not set the session cookie")
	}
	return c
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, h: srv.Handler}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := c.do(http.MethodGet, path, "")
		c.expect(rr, http.StatusOK)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing X-Request-ID", path)
		}
		if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Errorf("%s: missing security headers", path)
		}
	}
}

func TestAPIRequiresSession(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, h: srv.Handler}

	for _, path := range []string{"/api/incomes", "/api/dashboard/summary", "/api/export/all", "/api/auth/me"} {
		rr := c.do(http.MethodGet, path, "")
		c.expect(rr, http.StatusUnauthorized)
		if body := decodeBody[ErrorBody](t, rr); body.Error == "" {
			t.Errorf("%s: missing error message", path)
		}
	}

	c.cookie = &http.Cookie{Name: SessionCookieName, Value: "not-a-session"}
	c.expect(c.do(http.MethodGet, "/api/incomes", ""), http.StatusUnauthorized)
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, h: srv.Handler}

	rr := c.do(http.MethodPost, "/api/auth/register", `{"email":" Alice@Example.com ","password":"correct horse"}`)
	c.expect(rr, http.StatusCreated)
	if u := decodeBody[core.User](t, rr); u.Email != "alice@example.com" {
		t.Errorf("email = %q, want normalised", u.Email)
	}
	if strings.Contains(rr.Body.String(), "correct horse") || strings.Contains(rr.Body.String(), "passwordHash") {
		t.Error("register response leaks credentials")
	}

	c.expect(c.do(http.MethodPost, "/api/auth/register", `{"email":"alice@example.com","password":"correct horse"}`), http.StatusConflict)
	c.expect(c.do(http.MethodPost, "/api/auth/register", `{"email":"bob@example.com","password":"short"}`), http.StatusBadRequest)
	c.expect(c.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"wrong password"}`), http.StatusUnauthorized)

	rr = c.do(http.MethodPost, "/api/auth/login", `{"email":"alice@example.com","password":"correct horse"}`)
	c.expect(rr, http.StatusOK)
	if c.cookie == nil || !c.cookie.HttpOnly || c.cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("session cookie = %+v", c.cookie)
	}

	me := decodeBody[meResponse](t, c.do(http.MethodGet, "/api/auth/me", ""))
	if me.User.Email != "alice@example.com" || me.Session.ID != c.cookie.Value {
		t.Errorf("me = %+v", me)
	}

	c.expect(c.do(http.MethodPost, "/api/auth/logout", ""), http.StatusNoContent)
	if c.cookie != nil {
		t.Error("logout should clear the cookie")
	}
}

func TestIncomeCRUD(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"zero amount", `{"platform":"Uber","amount":0,"date":"2024-03-01"}`, http.StatusBadRequest},
		{"missing platform", `{"amount":10,"date":"2024-03-01"}`, http.StatusBadRequest},
		{"bad date", `{"platform":"Uber","amount":10,"date":"03/01/2024"}`, http.StatusBadRequest},
		{"unknown field", `{"platform":"Uber","amount":10,"date":"2024-03-01","tip":2}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := alice.with(t)
			c.expect(c.do(http.MethodPost, "/api/incomes", tt.body), tt.want)
		})
	}

	rr := alice.do(http.MethodPost, "/api/incomes", `{"platform":"Uber","amount":42.5,"date":"2024-03-01","notes":"airport"}`)
	alice.expect(rr, http.StatusCreated)
	created := decodeBody[core.IncomeEntry](t, rr)
	if created.ID == 0 || !created.Amount.Equal(decimal.RequireFromString("42.5")) {
		t.Fatalf("created = %+v", created)
	}
	alice.expect(alice.do(http.MethodPost, "/api/incomes", `{"platform":"Lyft","amount":10,"date":"2024-03-02"}`), http.StatusCreated)

	list := decodeBody[[]core.IncomeEntry](t, alice.do(http.MethodGet, "/api/incomes", ""))
	if len(list) != 2 {
		t.Fatalf("full list len = %d, want 2", len(list))
	}

	path := "/api/incomes/" + jsonID(created.ID)
	rr = alice.do(http.MethodPatch, path, `{"amount":50}`)
	alice.expect(rr, http.StatusOK)
	updated := decodeBody[core.IncomeEntry](t, rr)
	if !updated.Amount.Equal(decimal.NewFromInt(50)) || updated.Platform != "Uber" || updated.Notes != "airport" {
		t.Errorf("patch should only change amount: %+v", updated)
	}

	page := decodeBody[listing.Page[core.IncomeEntry]](t, alice.do(http.MethodGet, "/api/incomes?sort=amount&order=desc&pageSize=1", ""))
	if page.TotalItems != 2 || page.TotalPages != 2 || len(page.Items) != 1 || page.Items[0].ID != created.ID {
		t.Errorf("page = %+v", page)
	}
	alice.expect(alice.do(http.MethodGet, "/api/incomes?month=2024-13", ""), http.StatusBadRequest)

	alice.expect(alice.do(http.MethodDelete, path, ""), http.StatusNoContent)
	alice.expect(alice.do(http.MethodGet, path, ""), http.StatusNotFound)
	alice.expect(alice.do(http.MethodDelete, path, ""), http.StatusNotFound)
	alice.expect(alice.do(http.MethodGet, "/api/incomes/abc", ""), http.StatusBadRequest)
}

func TestEntriesAreScopedToOwner(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")
	bob := signedIn(t, srv, "bob@example.com")

	rr := alice.do(http.MethodPost, "/api/vehicle-profiles", `{"label":"Leaf","vehicleType":"EV","isDefault":true}`)
	alice.expect(rr, http.StatusCreated)
	car := decodeBody[core.VehicleProfile](t, rr)

	rr = alice.do(http.MethodPost, "/api/odometers", `{"date":"2024-03-10","startReading":100,"endReading":160,"vehicleProfileId":`+jsonID(car.ID)+`}`)
	alice.expect(rr, http.StatusCreated)
	trip := decodeBody[core.OdometerEntry](t, rr)

	path := "/api/odometers/" + jsonID(trip.ID)
	bob.expect(bob.do(http.MethodGet, path, ""), http.StatusNotFound)
	bob.expect(bob.do(http.MethodPatch, path, `{"endReading":999}`), http.StatusNotFound)
	bob.expect(bob.do(http.MethodDelete, path, ""), http.StatusNotFound)
	if list := decodeBody[[]core.OdometerEntry](t, bob.do(http.MethodGet, "/api/odometers", "")); len(list) != 0 {
		t.Errorf("bob sees %d odometer entries", len(list))
	}

	// referencing someone else's vehicle is a validation error
	rr = bob.do(http.MethodPost, "/api/expenses", `{"expenseType":"cleaning","amountMinor":500,"paidAt":"2024-03-10","vehicleProfileId":`+jsonID(car.ID)+`}`)
	bob.expect(rr, http.StatusBadRequest)
	if body := decodeBody[ErrorBody](t, rr); !strings.Contains(body.Error, "vehicleProfileId") {
		t.Errorf("error = %q", body.Error)
	}
	bob.expect(bob.do(http.MethodGet, "/api/dashboard/driving-costs?vehicleId="+jsonID(car.ID), ""), http.StatusNotFound)
}

func TestExpenseUnitRateRules(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"fuel with rate", `{"expenseType":"fuel_charging","amountMinor":3000,"paidAt":"2024-03-10","unitRateMinor":45,"unitRateUnit":"kwh"}`, http.StatusCreated},
		{"rate without unit", `{"expenseType":"fuel_charging","amountMinor":3000,"paidAt":"2024-03-10","unitRateMinor":45}`, http.StatusBadRequest},
		{"rate on maintenance", `{"expenseType":"maintenance","amountMinor":3000,"paidAt":"2024-03-10","unitRateMinor":45,"unitRateUnit":"litre"}`, http.StatusBadRequest},
		{"unknown type", `{"expenseType":"snacks","amountMinor":300,"paidAt":"2024-03-10"}`, http.StatusBadRequest},
		{"details object", `{"expenseType":"other","amountMinor":300,"paidAt":"2024-03-10T08:30:00Z","detailsJson":{"shop":"x"}}`, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := alice.with(t)
			c.expect(c.do(http.MethodPost, "/api/expenses", tt.body), tt.want)
		})
	}
}

func TestCombinedLogAndActivity(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")

	alice.expect(alice.do(http.MethodPost, "/api/incomes", `{"platform":"Uber","amount":80,"date":"2024-03-12"}`), http.StatusCreated)
	alice.expect(alice.do(http.MethodPost, "/api/expenses", `{"expenseType":"parking_tolls","amountMinor":1250,"paidAt":"2024-03-13"}`), http.StatusCreated)

	page := decodeBody[listing.Page[listing.LogRow]](t, alice.do(http.MethodGet, "/api/logs/combined", ""))
	if page.TotalItems != 2 || page.Items[0].Kind != listing.KindExpense {
		t.Errorf("combined = %+v", page)
	}

	page = decodeBody[listing.Page[listing.LogRow]](t, alice.do(http.MethodGet, "/api/logs/combined?category=Uber", ""))
	if page.TotalItems != 1 || page.Items[0].Kind != listing.KindIncome {
		t.Errorf("filtered combined = %+v", page)
	}

	// activity rows are written by the worker; the API serves an empty list until then
	if got := decodeBody[[]core.Activity](t, alice.do(http.MethodGet, "/api/activity", "")); len(got) != 0 {
		t.Errorf("activity = %+v", got)
	}
	alice.expect(alice.do(http.MethodGet, "/api/activity?limit=0", ""), http.StatusBadRequest)
}

func TestDashboard(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")

	for _, body := range []string{
		`{"platform":"Uber","amount":100,"date":"2024-03-14"}`,
		`{"platform":"Lyft","amount":50,"date":"2024-03-14"}`,
		`{"platform":"Uber","amount":30,"date":"2024-02-20"}`,
	} {
		alice.expect(alice.do(http.MethodPost, "/api/incomes", body), http.StatusCreated)
	}
	alice.expect(alice.do(http.MethodPost, "/api/expenses", `{"expenseType":"fuel_charging","amountMinor":2000,"paidAt":"2024-03-14"}`), http.StatusCreated)
	alice.expect(alice.do(http.MethodPost, "/api/odometers", `{"date":"2024-03-14","startReading":1000,"endReading":1100}`), http.StatusCreated)

	t.Run("summary", func(t *testing.T) {
		c := alice.with(t)
		s := decodeBody[aggregate.Summary](t, c.do(http.MethodGet, "/api/dashboard/summary?timeframe=monthly", ""))
		if !s.IncomeTotal.Equal(decimal.NewFromInt(150)) || !s.ExpenseTotal.Equal(decimal.NewFromInt(20)) {
			t.Errorf("totals = %s / %s", s.IncomeTotal, s.ExpenseTotal)
		}
		if s.Distance != 100 || !s.FuelCostPerDistance.Available || s.FuelCostPerDistance.Value != 0.2 {
			t.Errorf("distance = %v, fuel ratio = %+v", s.Distance, s.FuelCostPerDistance)
		}
		c.expect(c.do(http.MethodGet, "/api/dashboard/summary?timeframe=decade", ""), http.StatusBadRequest)
	})

	t.Run("daily", func(t *testing.T) {
		c := alice.with(t)
		days := decodeBody[[]aggregate.DailyIncomeSummary](t, c.do(http.MethodGet, "/api/dashboard/daily?timeframe=last90Days", ""))
		if len(days) != 2 || days[0].Date != "2024-03-14" || days[0].Breakdown[0].Platform != "Uber" {
			t.Errorf("daily = %+v", days)
		}
	})

	t.Run("monthly", func(t *testing.T) {
		c := alice.with(t)
		m := decodeBody[monthlyResponse](t, c.do(http.MethodGet, "/api/dashboard/monthly?months=3", ""))
		if len(m.Incomes) != 3 || m.Incomes[2].Label != "Mar" || !m.Incomes[1].Total.Equal(decimal.NewFromInt(30)) {
			t.Errorf("monthly = %+v", m.Incomes)
		}
		y := decodeBody[monthlyResponse](t, c.do(http.MethodGet, "/api/dashboard/monthly?year=2024", ""))
		if len(y.Expenses) != 12 || !y.Expenses[2].Total.Equal(decimal.NewFromInt(20)) {
			t.Errorf("calendar year = %+v", y.Expenses)
		}
		c.expect(c.do(http.MethodGet, "/api/dashboard/monthly?months=3&year=2024", ""), http.StatusBadRequest)
	})

	t.Run("distribution", func(t *testing.T) {
		c := alice.with(t)
		shares := decodeBody[[]aggregate.Share](t, c.do(http.MethodGet, "/api/dashboard/distribution?kind=income&timeframe=monthly", ""))
		if len(shares) != 2 || shares[0].Key != "Uber" {
			t.Errorf("shares = %+v", shares)
		}
		c.expect(c.do(http.MethodGet, "/api/dashboard/distribution?kind=tips", ""), http.StatusBadRequest)
	})

	t.Run("driving costs", func(t *testing.T) {
		c := alice.with(t)
		costs := decodeBody[aggregate.DrivingCosts](t, c.do(http.MethodGet, "/api/dashboard/driving-costs", ""))
		if costs.Distance != 100 || !costs.FuelSpend.Equal(decimal.NewFromInt(20)) {
			t.Errorf("costs = %+v", costs)
		}
	})
}

func TestExport(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")
	alice.expect(alice.do(http.MethodPost, "/api/incomes", `{"platform":"Uber \"Eats\"","amount":12.3,"date":"2024-03-01"}`), http.StatusCreated)

	rr := alice.do(http.MethodGet, "/api/export/incomes", "")
	alice.expect(rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "gigfin-incomes-2024-03-15.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\r\n")
	if lines[0] != `"id","date","platform","amount","notes","created_at"` {
		t.Errorf("header = %s", lines[0])
	}
	if len(lines) != 2 || !strings.Contains(lines[1], `"Uber ""Eats""","12.30"`) {
		t.Errorf("rows = %q", lines[1:])
	}

	rr = alice.do(http.MethodGet, "/api/export/all?format=xlsx", "")
	alice.expect(rr, http.StatusOK)
	f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	if got := f.GetSheetList(); len(got) != 4 {
		t.Errorf("sheets = %v", got)
	}

	alice.expect(alice.do(http.MethodGet, "/api/export/all?format=pdf", ""), http.StatusBadRequest)
	alice.expect(alice.do(http.MethodGet, "/api/export/receipts", ""), http.StatusNotFound)
}

func TestTwoFactorFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := signedIn(t, srv, "alice@example.com")
	creds := `{"email":"alice@example.com","password":"correct horse"}`

	rr := alice.do(http.MethodPost, "/api/auth/2fa/setup", "")
	alice.expect(rr, http.StatusOK)
	setup := decodeBody[auth.TOTPSetup](t, rr)
	if setup.Secret == "" || !strings.HasPrefix(setup.URL, "otpauth://") || setup.QRCodePNG == "" {
		t.Fatalf("setup = %+v", setup)
	}

	alice.expect(alice.do(http.MethodPost, "/api/auth/2fa/enable", `{"code":"000000"}`), http.StatusUnauthorized)
	code, err := totp.GenerateCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	alice.expect(alice.do(http.MethodPost, "/api/auth/2fa/enable", `{"code":"`+code+`"}`), http.StatusOK)
	alice.expect(alice.do(http.MethodPost, "/api/auth/2fa/setup", ""), http.StatusConflict)

	// a fresh login now only unlocks verification
	fresh := &client{t: t, h: srv.Handler}
	rr = fresh.do(http.MethodPost, "/api/auth/login", creds)
	fresh.expect(rr, http.StatusOK)
	if !decodeBody[loginResponse](t, rr).TwoFactorRequired {
		t.Fatal("login should require the second factor")
	}
	fresh.expect(fresh.do(http.MethodGet, "/api/incomes", ""), http.StatusUnauthorized)
	fresh.expect(fresh.do(http.MethodPost, "/api/auth/2fa/verify", `{"code":"123"}`), http.StatusUnauthorized)
	fresh.expect(fresh.do(http.MethodPost, "/api/auth/2fa/verify", `{"code":"`+code+`"}`), http.StatusOK)
	fresh.expect(fresh.do(http.MethodGet, "/api/incomes", ""), http.StatusOK)

	// revoking other sessions signs the first client out
	rr = fresh.do(http.MethodPost, "/api/auth/sessions/revoke-others", "")
	fresh.expect(rr, http.StatusOK)
	if n := decodeBody[map[string]int64](t, rr)["revoked"]; n != 1 {
		t.Errorf("revoked = %d, want 1", n)
	}
	alice.expect(alice.do(http.MethodGet, "/api/auth/me", ""), http.StatusUnauthorized)
}

func TestTrustedProxies(t *testing.T) {
	login := func(srv *Server, forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = "100.64.3.4:5000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, req)
		return rr.Code
	}

	t.Run("configured range forwards client address", func(t *testing.T) {
		srv := newConfiguredServer(t, Config{
			RateLimitPerMinute: 1,
			DefaultPageSize:    20,
			TrustedProxies:     []string{"100.64.0.0/10", "not-a-cidr"},
		})
		if code := login(srv, "203.0.113.1"); code == http.StatusTooManyRequests {
			t.Fatalf("first client limited")
		}
		if code := login(srv, "203.0.113.2"); code == http.StatusTooManyRequests {
			t.Errorf("second client behind the same proxy was limited")
		}
		if code := login(srv, "203.0.113.1"); code != http.StatusTooManyRequests {
			t.Errorf("repeat client status = %d, want 429", code)
		}
	})

	t.Run("unlisted range is the client", func(t *testing.T) {
		srv := newConfiguredServer(t, Config{RateLimitPerMinute: 1, DefaultPageSize: 20})
		login(srv, "203.0.113.1")
		if code := login(srv, "203.0.113.2"); code != http.StatusTooManyRequests {
			t.Errorf("status = %d, want 429 keyed on the proxy address", code)
		}
	})
}

func TestUnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	c := &client{t: t, h: srv.Handler}
	rr := c.do(http.MethodGet, "/nope", "")
	c.expect(rr, http.StatusNotFound)
	if body := decodeBody[ErrorBody](t, rr); body.Error != "not found" {
		t.Errorf("error = %q", body.Error)
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}

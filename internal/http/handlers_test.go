package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/gofiber/fiber/v2"
)

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeQueries struct {
	mu    sync.Mutex
	rng   domain.TimeRange
	limit int
	id    *int16

	// listErr, when set, is returned by ListSolar.
	listErr error
}

func (f *fakeQueries) record(rng domain.TimeRange, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rng, f.limit = rng, limit
}

func (f *fakeQueries) GetElectricity(_ context.Context, t time.Time) (domain.ElectricityDataPoint, error) {
	if !t.Equal(noon) {
		return domain.ElectricityDataPoint{}, repository.ErrNotFound
	}
	return domain.ElectricityDataPoint{Time: noon, KWhImportTotalTarifLow: 12.5}, nil
}

func (f *fakeQueries) ListElectricity(_ context.Context, rng domain.TimeRange, limit int) ([]domain.ElectricityDataPoint, error) {
	f.record(rng, limit)
	return []domain.ElectricityDataPoint{{Time: noon}}, nil
}

func (f *fakeQueries) ListSlaves(_ context.Context, rng domain.TimeRange, id *int16, limit int) ([]domain.SlaveDataPoint, error) {
	f.record(rng, limit)
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeQueries) GetSolar(_ context.Context, t time.Time) (domain.SolarDataPoint, error) {
	return domain.SolarDataPoint{}, repository.ErrNotFound
}

func (f *fakeQueries) ListSolar(_ context.Context, rng domain.TimeRange, limit int) ([]domain.SolarDataPoint, error) {
	f.record(rng, limit)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []domain.SolarDataPoint{{Time: noon, ActivePowerOutput: 500}}, nil
}

func newTestApp() (*fiber.App, *fakeQueries) {
	q := &fakeQueries{}
	app := NewApp()
	Register(app, q)
	return app, q
}

func get(t *testing.T, app *fiber.App, target string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", target, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp()

	if code, body := get(t, app, "/health"); code != 200 || body != "ok" {
		t.Fatalf("health=%d %q", code, body)
	}
	code, body := get(t, app, "/metrics")
	if code != 200 {
		t.Fatalf("metrics status=%d", code)
	}
	if !strings.Contains(body, "http_requests_total") {
		t.Fatal("request counter missing from /metrics")
	}
}

func TestListElectricity_Params(t *testing.T) {
	t.Parallel()
	app, q := newTestApp()

	code, body := get(t, app, "/api/electricity?start=2024-03-01T00:00:00Z&end=2024-03-02T00:00:00%2B01:00&limit=5")
	if code != 200 {
		t.Fatalf("status=%d body=%s", code, body)
	}
	var items []domain.ElectricityDataPoint
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := len(items), 1; got != want {
		t.Fatalf("items=%d want %d", got, want)
	}
	if got, want := q.limit, 5; got != want {
		t.Fatalf("limit=%d want %d", got, want)
	}
	if q.rng.Start == nil || !q.rng.Start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start=%v", q.rng.Start)
	}
	if q.rng.End == nil || !q.rng.End.Equal(time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("end=%v", q.rng.End)
	}
}

func TestListLimits(t *testing.T) {
	t.Parallel()
	app, q := newTestApp()

	cases := []struct {
		query string
		want  int
	}{
		{"", DefaultLimit},
		{"?limit=50000", MaxLimit},
		{"?limit=1", 1},
	}
	for _, tc := range cases {
		if code, body := get(t, app, "/api/solar"+tc.query); code != 200 {
			t.Fatalf("%q: status=%d body=%s", tc.query, code, body)
		}
		if q.limit != tc.want {
			t.Fatalf("%q: limit=%d want %d", tc.query, q.limit, tc.want)
		}
	}
}

func TestBadInput(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp()

	for _, target := range []string{
		"/api/electricity?start=yesterday",
		"/api/electricity?start=2024-03-02T00:00:00Z&end=2024-03-01T00:00:00Z",
		"/api/solar?limit=0",
		"/api/solar?limit=ten",
		"/api/slaves?id=abc",
		"/api/slaves?id=70000",
		"/api/electricity/not-a-time",
	} {
		code, body := get(t, app, target)
		if code != 400 {
			t.Errorf("%s: status=%d want 400", target, code)
			continue
		}
		var e map[string]string
		if err := json.Unmarshal([]byte(body), &e); err != nil || e["error"] == "" {
			t.Errorf("%s: body=%s want a JSON error", target, body)
		}
	}
}

func TestGetByTime(t *testing.T) {
	t.Parallel()
	app, _ := newTestApp()

	code, body := get(t, app, "/api/electricity/2024-03-01T12:00:00Z")
	if code != 200 {
		t.Fatalf("status=%d body=%s", code, body)
	}
	var d domain.ElectricityDataPoint
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !d.Time.Equal(noon) || d.KWhImportTotalTarifLow != 12.5 {
		t.Fatalf("got %+v", d)
	}

	for _, target := range []string{"/api/electricity/2024-03-01T13:00:00Z", "/api/solar/2024-03-01T12:00:00Z"} {
		if code, body := get(t, app, target); code != 404 || !strings.Contains(body, "error") {
			t.Fatalf("%s: status=%d body=%s want 404", target, code, body)
		}
	}
}

func TestListSlaves_IDFilterAndEmptyList(t *testing.T) {
	t.Parallel()
	app, q := newTestApp()

	code, body := get(t, app, "/api/slaves?id=1")
	if code != 200 {
		t.Fatalf("status=%d body=%s", code, body)
	}
	if got, want := body, "[]"; got != want {
		t.Fatalf("body=%s want %s", got, want)
	}
	if q.id == nil || *q.id != 1 {
		t.Fatalf("id=%v want 1", q.id)
	}
}

func TestInternalErrorHidesDetail(t *testing.T) {
	t.Parallel()
	q := &fakeQueries{listErr: fmt.Errorf("list solar: %w", errors.New("failed to connect to host=db user=p1"))}
	app := NewApp()
	Register(app, q)

	code, body := get(t, app, "/api/solar")
	if got, want := code, fiber.StatusInternalServerError; got != want {
		t.Fatalf("status=%d want %d", got, want)
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		t.Fatalf("body %q: %v", body, err)
	}
	if got, want := e.Error, "internal error"; got != want {
		t.Fatalf("error=%q want %q", got, want)
	}

	// Client errors keep their message.
	code, body = get(t, app, "/api/solar?limit=abc")
	if code != fiber.StatusBadRequest || !strings.Contains(body, "limit") {
		t.Fatalf("status=%d body=%s", code, body)
	}
}

package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

func newMock(t *testing.T) (*Repos, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		_ = db.Close()
	})
	return New(sqlx.NewDb(db, "pgx")), mock
}

func TestInsertElectricity_FlattensPhases(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	d := &domain.ElectricityDataPoint{
		Time:                    ts,
		KWhImportTotalTarifLow:  1,
		KWhImportTotalTarifHigh: 2,
		KWhExportTotalTarifLow:  3,
		KWhExportTotalTarifHigh: 4,
		Voltages:                domain.Phases{230, 231, 232},
		ActivePowersImport:      domain.Phases{0.5, 0, 0},
		ActivePowersExport:      domain.Phases{0, 0.25, 0},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO electricity_data_points")).
		WithArgs(ts, 1.0, 2.0, 3.0, 4.0, 230.0, 231.0, 232.0, 0.5, 0.0, 0.0, 0.0, 0.25, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := r.InsertElectricity(context.Background(), d); err != nil {
		t.Fatalf("InsertElectricity: %v", err)
	}
}

func TestInsertElectricity_DuplicateTime(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO electricity_data_points")).
		WillReturnError(&pgconn.PgError{Code: "23505", Detail: "Key (time) already exists."})

	err := r.InsertElectricity(context.Background(), &domain.ElectricityDataPoint{Time: time.Now()})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err=%v want ErrDuplicate", err)
	}
}

func TestInsertSlave_IgnoresConflicts(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	ts := time.Date(2024, 3, 1, 11, 55, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
		WithArgs(ts, int64(0), 1234.5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := r.InsertSlave(context.Background(), &domain.SlaveDataPoint{Time: ts, ID: 0, Value: 1234.5}); err != nil {
		t.Fatalf("InsertSlave: %v", err)
	}
}

func TestInsertSolar_MissingValue(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO solar_data_points")).
		WillReturnError(&pgconn.PgError{Code: "23502", ColumnName: "total_energy"})

	err := r.InsertSolar(context.Background(), &domain.SolarDataPoint{Time: time.Now()})
	if !errors.Is(err, ErrMissingValue) {
		t.Fatalf("err=%v want ErrMissingValue", err)
	}
}

func TestGetSolar_NotFound(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM solar_data_points WHERE time = $1")).
		WillReturnRows(sqlmock.NewRows([]string{"time", "active_power_output", "active_power_input", "total_energy", "inverter_temperature"}))

	_, err := r.GetSolar(context.Background(), time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestGetElectricity_ScansPhases(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"time",
		"kwh_import_total_tarif_low", "kwh_import_total_tarif_high",
		"kwh_export_total_tarif_low", "kwh_export_total_tarif_high",
		"voltage_l1", "voltage_l2", "voltage_l3",
		"import_l1", "import_l2", "import_l3",
		"export_l1", "export_l2", "export_l3",
	}).AddRow(ts, 1.0, 2.0, 3.0, 4.0, 230.0, 231.0, 232.0, 0.5, 0.0, 0.0, 0.0, 0.25, 0.0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM electricity_data_points WHERE time = $1")).
		WithArgs(ts).
		WillReturnRows(rows)

	got, err := r.GetElectricity(context.Background(), ts)
	if err != nil {
		t.Fatalf("GetElectricity: %v", err)
	}
	if want := (domain.Phases{230, 231, 232}); got.Voltages != want {
		t.Fatalf("voltages=%v want %v", got.Voltages, want)
	}
	if got, want := got.ActivePowersExport[1], float32(0.25); got != want {
		t.Fatalf("export l2=%v want %v", got, want)
	}
	if got, want := got.KWhBalance(), float32(1+2-3-4); got != want {
		t.Fatalf("balance=%v want %v", got, want)
	}
}

func TestListSlaves_FiltersByIDAndRange(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	id := int16(1)

	mock.ExpectQuery(regexp.QuoteMeta("FROM slave_data_points WHERE time >= $1 AND time < $2 AND id = $3 ORDER BY time, id LIMIT 10")).
		WithArgs(start, end, int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"time", "id", "value"}).
			AddRow(start.Add(time.Hour), 1, 10.5).
			AddRow(start.Add(2*time.Hour), 1, 11.0))

	got, err := r.ListSlaves(context.Background(), domain.TimeRange{Start: &start, End: &end}, &id, 10)
	if err != nil {
		t.Fatalf("ListSlaves: %v", err)
	}
	if got, want := len(got), 2; got != want {
		t.Fatalf("len=%d want %d", got, want)
	}
	if got, want := got[1].Value, float32(11); got != want {
		t.Fatalf("value=%v want %v", got, want)
	}
}

func TestListSolar_NoFilters(t *testing.T) {
	t.Parallel()
	r, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM solar_data_points ORDER BY time")).
		WithArgs().
		WillReturnRows(sqlmock.NewRows([]string{"time", "active_power_output", "active_power_input", "total_energy", "inverter_temperature"}))

	got, err := r.ListSolar(context.Background(), domain.TimeRange{}, 0)
	if err != nil {
		t.Fatalf("ListSolar: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len=%d want 0", len(got))
	}
}

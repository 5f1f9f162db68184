package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("data point not found")
	ErrDuplicate    = errors.New("data point already exists")
	ErrMissingValue = errors.New("required value missing")
)

// PostgreSQL error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	codeUniqueViolation  = "23505"
	codeNotNullViolation = "23502"
)

type Repos struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repos { return &Repos{db: db} }

const insertElectricity = `INSERT INTO electricity_data_points (
	time,
	kwh_import_total_tarif_low, kwh_import_total_tarif_high,
	kwh_export_total_tarif_low, kwh_export_total_tarif_high,
	voltages, active_powers_import, active_powers_export
) VALUES (
	$1, $2, $3, $4, $5,
	ARRAY[$6::real, $7::real, $8::real],
	ARRAY[$9::real, $10::real, $11::real],
	ARRAY[$12::real, $13::real, $14::real]
)`

func (r *Repos) InsertElectricity(ctx context.Context, d *domain.ElectricityDataPoint) error {
	_, err := r.db.ExecContext(ctx, insertElectricity,
		d.Time,
		d.KWhImportTotalTarifLow, d.KWhImportTotalTarifHigh,
		d.KWhExportTotalTarifLow, d.KWhExportTotalTarifHigh,
		d.Voltages[0], d.Voltages[1], d.Voltages[2],
		d.ActivePowersImport[0], d.ActivePowersImport[1], d.ActivePowersImport[2],
		d.ActivePowersExport[0], d.ActivePowersExport[1], d.ActivePowersExport[2],
	)
	if err != nil {
		return fmt.Errorf("insert electricity data point %s: %w", d.Time.Format(time.RFC3339Nano), classify(err))
	}
	return nil
}

// InsertSlave stores a slave reading. The meter repeats the last slave reading
// in every telegram until a new one arrives, so repeats are silently ignored.
func (r *Repos) InsertSlave(ctx context.Context, d *domain.SlaveDataPoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO slave_data_points (time, id, value) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		d.Time, d.ID, d.Value)
	if err != nil {
		return fmt.Errorf("insert slave data point %d: %w", d.ID, classify(err))
	}
	return nil
}

// InsertSlaveStrict is InsertSlave without conflict handling.
func (r *Repos) InsertSlaveStrict(ctx context.Context, d *domain.SlaveDataPoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO slave_data_points (time, id, value) VALUES ($1, $2, $3)`,
		d.Time, d.ID, d.Value)
	if err != nil {
		return fmt.Errorf("insert slave data point %d: %w", d.ID, classify(err))
	}
	return nil
}

func (r *Repos) InsertSolar(ctx context.Context, d *domain.SolarDataPoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO solar_data_points (time, active_power_output, active_power_input, total_energy, inverter_temperature)
		VALUES ($1, $2, $3, $4, $5)`,
		d.Time, d.ActivePowerOutput, d.ActivePowerInput, d.TotalEnergy, d.InverterTemperature)
	if err != nil {
		return fmt.Errorf("insert solar data point %s: %w", d.Time.Format(time.RFC3339Nano), classify(err))
	}
	return nil
}

// electricityRow flattens the REAL[3] columns so plain database/sql scanning works.
type electricityRow struct {
	Time                    time.Time `db:"time"`
	KWhImportTotalTarifLow  float32   `db:"kwh_import_total_tarif_low"`
	KWhImportTotalTarifHigh float32   `db:"kwh_import_total_tarif_high"`
	KWhExportTotalTarifLow  float32   `db:"kwh_export_total_tarif_low"`
	KWhExportTotalTarifHigh float32   `db:"kwh_export_total_tarif_high"`
	VoltageL1               float32   `db:"voltage_l1"`
	VoltageL2               float32   `db:"voltage_l2"`
	VoltageL3               float32   `db:"voltage_l3"`
	ImportL1                float32   `db:"import_l1"`
	ImportL2                float32   `db:"import_l2"`
	ImportL3                float32   `db:"import_l3"`
	ExportL1                float32   `db:"export_l1"`
	ExportL2                float32   `db:"export_l2"`
	ExportL3                float32   `db:"export_l3"`
}

func (row electricityRow) toDomain() domain.ElectricityDataPoint {
	return domain.ElectricityDataPoint{
		Time:                    row.Time.UTC(),
		KWhImportTotalTarifLow:  row.KWhImportTotalTarifLow,
		KWhImportTotalTarifHigh: row.KWhImportTotalTarifHigh,
		KWhExportTotalTarifLow:  row.KWhExportTotalTarifLow,
		KWhExportTotalTarifHigh: row.KWhExportTotalTarifHigh,
		Voltages:                domain.Phases{row.VoltageL1, row.VoltageL2, row.VoltageL3},
		ActivePowersImport:      domain.Phases{row.ImportL1, row.ImportL2, row.ImportL3},
		ActivePowersExport:      domain.Phases{row.ExportL1, row.ExportL2, row.ExportL3},
	}
}

const selectElectricity = `SELECT time,
	kwh_import_total_tarif_low, kwh_import_total_tarif_high,
	kwh_export_total_tarif_low, kwh_export_total_tarif_high,
	voltages[1] AS voltage_l1, voltages[2] AS voltage_l2, voltages[3] AS voltage_l3,
	active_powers_import[1] AS import_l1, active_powers_import[2] AS import_l2, active_powers_import[3] AS import_l3,
	active_powers_export[1] AS export_l1, active_powers_export[2] AS export_l2, active_powers_export[3] AS export_l3
FROM electricity_data_points`

func (r *Repos) GetElectricity(ctx context.Context, t time.Time) (domain.ElectricityDataPoint, error) {
	var row electricityRow
	if err := r.db.GetContext(ctx, &row, selectElectricity+` WHERE time = $1`, t); err != nil {
		return domain.ElectricityDataPoint{}, fmt.Errorf("get electricity data point: %w", classify(err))
	}
	return row.toDomain(), nil
}

func (r *Repos) ListElectricity(ctx context.Context, rng domain.TimeRange, limit int) ([]domain.ElectricityDataPoint, error) {
	where, args := rangeClause(rng)
	query := selectElectricity + where + ` ORDER BY time` + limitClause(limit)

	var rows []electricityRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list electricity data points: %w", classify(err))
	}
	out := make([]domain.ElectricityDataPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListSlaves returns slave readings in time order. A nil id matches every slave.
func (r *Repos) ListSlaves(ctx context.Context, rng domain.TimeRange, id *int16, limit int) ([]domain.SlaveDataPoint, error) {
	where, args := rangeClause(rng)
	if id != nil {
		args = append(args, *id)
		where = appendCondition(where, fmt.Sprintf("id = $%d", len(args)))
	}
	query := `SELECT time, id, value FROM slave_data_points` + where + ` ORDER BY time, id` + limitClause(limit)

	var out []domain.SlaveDataPoint
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list slave data points: %w", classify(err))
	}
	for i := range out {
		out[i].Time = out[i].Time.UTC()
	}
	return out, nil
}

const selectSolar = `SELECT time, active_power_output, active_power_input, total_energy, inverter_temperature FROM solar_data_points`

func (r *Repos) GetSolar(ctx context.Context, t time.Time) (domain.SolarDataPoint, error) {
	var out domain.SolarDataPoint
	if err := r.db.GetContext(ctx, &out, selectSolar+` WHERE time = $1`, t); err != nil {
		return domain.SolarDataPoint{}, fmt.Errorf("get solar data point: %w", classify(err))
	}
	out.Time = out.Time.UTC()
	return out, nil
}

func (r *Repos) ListSolar(ctx context.Context, rng domain.TimeRange, limit int) ([]domain.SolarDataPoint, error) {
	where, args := rangeClause(rng)
	query := selectSolar + where + ` ORDER BY time` + limitClause(limit)

	var out []domain.SolarDataPoint
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list solar data points: %w", classify(err))
	}
	for i := range out {
		out[i].Time = out[i].Time.UTC()
	}
	return out, nil
}

func rangeClause(rng domain.TimeRange) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if rng.Start != nil {
		args = append(args, *rng.Start)
		conds = append(conds, fmt.Sprintf("time >= $%d", len(args)))
	}
	if rng.End != nil {
		args = append(args, *rng.End)
		conds = append(conds, fmt.Sprintf("time < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func appendCondition(where, cond string) string {
	if where == "" {
		return " WHERE " + cond
	}
	return where + " AND " + cond
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.Detail)
		case codeNotNullViolation:
			return fmt.Errorf("%w: column %s", ErrMissingValue, pgErr.ColumnName)
		}
	}
	return err
}

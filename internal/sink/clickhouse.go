package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/rs/zerolog/log"
)

var clickHouseTables = []string{`
CREATE TABLE IF NOT EXISTS electricity_data_points (
	Time DateTime64(3, 'UTC'),
	KWhImportLow Float32,
	KWhImportHigh Float32,
	KWhExportLow Float32,
	KWhExportHigh Float32,
	Voltages Array(Float32),
	ActivePowersImport Array(Float32),
	ActivePowersExport Array(Float32)
)
ENGINE = ReplacingMergeTree
ORDER BY Time
`, `
CREATE TABLE IF NOT EXISTS slave_data_points (
	Time DateTime64(3, 'UTC'),
	ID Int16,
	Value Float32
)
ENGINE = ReplacingMergeTree
ORDER BY (ID, Time)
`, `
CREATE TABLE IF NOT EXISTS solar_data_points (
	Time DateTime64(3, 'UTC'),
	ActivePowerOutput Int32,
	ActivePowerInput Int32,
	TotalEnergy Float32,
	InverterTemperature Int16
)
ENGINE = ReplacingMergeTree
ORDER BY Time
`}

type chElectricity struct {
	Time               time.Time `ch:"Time"`
	KWhImportLow       float32   `ch:"KWhImportLow"`
	KWhImportHigh      float32   `ch:"KWhImportHigh"`
	KWhExportLow       float32   `ch:"KWhExportLow"`
	KWhExportHigh      float32   `ch:"KWhExportHigh"`
	Voltages           []float32 `ch:"Voltages"`
	ActivePowersImport []float32 `ch:"ActivePowersImport"`
	ActivePowersExport []float32 `ch:"ActivePowersExport"`
}

type chSlave struct {
	Time  time.Time `ch:"Time"`
	ID    int16     `ch:"ID"`
	Value float32   `ch:"Value"`
}

type chSolar struct {
	Time                time.Time `ch:"Time"`
	ActivePowerOutput   int32     `ch:"ActivePowerOutput"`
	ActivePowerInput    int32     `ch:"ActivePowerInput"`
	TotalEnergy         float32   `ch:"TotalEnergy"`
	InverterTemperature int16     `ch:"InverterTemperature"`
}

// ClickHouse keeps an analytics copy of every sample. ReplacingMergeTree makes
// replays of the same instant collapse like the primary keys do in PostgreSQL.
type ClickHouse struct {
	conn clickhouse.Conn
}

func NewClickHouse(ctx context.Context, addr, database, username, password string) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, err
	}
	v, err := conn.ServerVersion()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse server version: %w", err)
	}
	log.Info().Str("version", v.Version.String()).Uint64("revision", v.Revision).Msg("connected to clickhouse server")

	for _, ddl := range clickHouseTables {
		if err := conn.Exec(ctx, ddl); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("create clickhouse table: %w", err)
		}
	}
	return &ClickHouse{conn: conn}, nil
}

func (s *ClickHouse) insert(ctx context.Context, table string, row any) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	if err := batch.AppendStruct(row); err != nil {
		return fmt.Errorf("append to %s batch: %w", table, err)
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send %s batch: %w", table, err)
	}
	return nil
}

func (s *ClickHouse) WriteElectricity(ctx context.Context, d *domain.ElectricityDataPoint) error {
	return s.insert(ctx, "electricity_data_points", &chElectricity{
		Time:               d.Time,
		KWhImportLow:       d.KWhImportTotalTarifLow,
		KWhImportHigh:      d.KWhImportTotalTarifHigh,
		KWhExportLow:       d.KWhExportTotalTarifLow,
		KWhExportHigh:      d.KWhExportTotalTarifHigh,
		Voltages:           d.Voltages[:],
		ActivePowersImport: d.ActivePowersImport[:],
		ActivePowersExport: d.ActivePowersExport[:],
	})
}

func (s *ClickHouse) WriteSlave(ctx context.Context, d *domain.SlaveDataPoint) error {
	return s.insert(ctx, "slave_data_points", &chSlave{Time: d.Time, ID: d.ID, Value: d.Value})
}

func (s *ClickHouse) WriteSolar(ctx context.Context, d *domain.SolarDataPoint) error {
	return s.insert(ctx, "solar_data_points", &chSolar{
		Time:                d.Time,
		ActivePowerOutput:   d.ActivePowerOutput,
		ActivePowerInput:    d.ActivePowerInput,
		TotalEnergy:         d.TotalEnergy,
		InverterTemperature: d.InverterTemperature,
	})
}

func (s *ClickHouse) Name() string { return "clickhouse" }

func (s *ClickHouse) Close() error { return s.conn.Close() }

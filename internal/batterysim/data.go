// Package batterysim replays recorded meter data against a simulated home
// battery to estimate how much grid import and export it would save.
package batterysim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/rs/zerolog/log"
)

// NormalizeTimeFormat rewrites the short "+00" zone suffix that some exports
// emit into RFC 3339 "+00:00". It reports whether anything changed.
func NormalizeTimeFormat(data []byte) ([]byte, bool) {
	short, full := []byte(`+00"`), []byte(`+00:00"`)
	if !bytes.Contains(data, short) {
		return data, false
	}
	return bytes.ReplaceAll(data, short, full), true
}

// Decode parses a JSON array of electricity data points.
func Decode(data []byte) ([]domain.ElectricityDataPoint, error) {
	data, _ = NormalizeTimeFormat(data)
	var points []domain.ElectricityDataPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("decode data points: %w", err)
	}
	return points, nil
}

// LoadFile reads a JSON export. A file in the short time format is fixed up
// on disk so the next run can skip the rewrite.
func LoadFile(path string) ([]domain.ElectricityDataPoint, error) {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("loaded file")

	if fixed, changed := NormalizeTimeFormat(data); changed {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, fixed, info.Mode().Perm()); err != nil {
			return nil, fmt.Errorf("write back %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("time format fixed and written back")
		data = fixed
	}

	start = time.Now()
	points, err := Decode(data)
	if err != nil {
		return nil, err
	}
	log.Info().Int("entries", len(points)).Dur("took", time.Since(start)).Msg("parsed file")
	return points, nil
}

// SortByTime orders points by time and reports whether they were out of
// order.
func SortByTime(points []domain.ElectricityDataPoint) bool {
	byTime := func(a, b domain.ElectricityDataPoint) int { return a.Time.Compare(b.Time) }
	if slices.IsSortedFunc(points, byTime) {
		return false
	}
	slices.SortFunc(points, byTime)
	return true
}

// GapThreshold is the longest spacing between two samples that still counts
// as continuous recording.
const GapThreshold = 5 * time.Second

type Gaps struct {
	Count   int
	Largest time.Duration
}

// FindGaps scans sorted points for holes longer than GapThreshold.
func FindGaps(points []domain.ElectricityDataPoint) Gaps {
	var g Gaps
	for i := 1; i < len(points); i++ {
		d := points[i].Time.Sub(points[i-1].Time)
		if d > GapThreshold {
			g.Count++
			g.Largest = max(g.Largest, d)
		}
	}
	return g
}

// Package sink mirrors stored samples to optional secondary systems. Mirrors
// are best effort: PostgreSQL stays the system of record.
package sink

import (
	"context"
	"errors"

	"github.com/diondokter/p1-reader/internal/domain"
)

type Sink interface {
	WriteElectricity(ctx context.Context, d *domain.ElectricityDataPoint) error
	WriteSlave(ctx context.Context, d *domain.SlaveDataPoint) error
	WriteSolar(ctx context.Context, d *domain.SolarDataPoint) error
	Name() string
	Close() error
}

// Multi fans every write out to all sinks and joins their errors.
type Multi []Sink

func (m Multi) WriteElectricity(ctx context.Context, d *domain.ElectricityDataPoint) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteElectricity(ctx, d); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteSlave(ctx context.Context, d *domain.SlaveDataPoint) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteSlave(ctx, d); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteSolar(ctx context.Context, d *domain.SolarDataPoint) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteSolar(ctx, d); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string { return "multi" }

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Error tags a failure with the sink that produced it.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string { return e.Sink + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Failed lists the sinks named in err, which may be a joined error from Multi.
func Failed(err error) []string {
	if err == nil {
		return nil
	}
	var out []string
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Failed(e)...)
		}
		return out
	}
	var se *Error
	if errors.As(err, &se) {
		return []string{se.Sink}
	}
	return []string{"unknown"}
}

package http

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diondokter/p1-reader/internal/domain"
	"github.com/diondokter/p1-reader/internal/metrics"
	"github.com/diondokter/p1-reader/internal/repository"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultLimit = 1000
	MaxLimit     = 10000
)

// Queries is the read side of the repository.
type Queries interface {
	GetElectricity(ctx context.Context, t time.Time) (domain.ElectricityDataPoint, error)
	ListElectricity(ctx context.Context, rng domain.TimeRange, limit int) ([]domain.ElectricityDataPoint, error)
	ListSlaves(ctx context.Context, rng domain.TimeRange, id *int16, limit int) ([]domain.SlaveDataPoint, error)
	GetSolar(ctx context.Context, t time.Time) (domain.SolarDataPoint, error)
	ListSolar(ctx context.Context, rng domain.TimeRange, limit int) ([]domain.SolarDataPoint, error)
}

// NewApp returns a fiber app serving /health and /metrics. The readers run it
// bare on METRICS_ADDR; the API adds its routes with Register.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	app.Use(observe)
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	return app
}

func Register(app *fiber.App, q Queries) {
	g := app.Group("/api")

	g.Get("/electricity", func(c *fiber.Ctx) error {
		rng, limit, err := listParams(c)
		if err != nil {
			return err
		}
		items, err := q.ListElectricity(c.UserContext(), rng, limit)
		if err != nil {
			return err
		}
		return c.JSON(nonNil(items))
	})
	g.Get("/electricity/:time", func(c *fiber.Ctx) error {
		t, err := pathTime(c)
		if err != nil {
			return err
		}
		item, err := q.GetElectricity(c.UserContext(), t)
		if err != nil {
			return err
		}
		return c.JSON(item)
	})

	g.Get("/slaves", func(c *fiber.Ctx) error {
		rng, limit, err := listParams(c)
		if err != nil {
			return err
		}
		var id *int16
		if v := c.Query("id"); v != "" {
			n, err := strconv.ParseInt(v, 10, 16)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("id: want a small integer, got %q", v))
			}
			id16 := int16(n)
			id = &id16
		}
		items, err := q.ListSlaves(c.UserContext(), rng, id, limit)
		if err != nil {
			return err
		}
		return c.JSON(nonNil(items))
	})

	g.Get("/solar", func(c *fiber.Ctx) error {
		rng, limit, err := listParams(c)
		if err != nil {
			return err
		}
		items, err := q.ListSolar(c.UserContext(), rng, limit)
		if err != nil {
			return err
		}
		return c.JSON(nonNil(items))
	})
	g.Get("/solar/:time", func(c *fiber.Ctx) error {
		t, err := pathTime(c)
		if err != nil {
			return err
		}
		item, err := q.GetSolar(c.UserContext(), t)
		if err != nil {
			return err
		}
		return c.JSON(item)
	})
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, repository.ErrNotFound):
		code = fiber.StatusNotFound
	}
	msg := err.Error()
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		msg = "internal error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func observe(c *fiber.Ctx) error {
	start := time.Now()
	if err := c.Next(); err != nil {
		if herr := c.App().ErrorHandler(c, err); herr != nil {
			return herr
		}
	}
	route := c.Route().Path
	method := c.Method()
	metrics.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(c.Response().StatusCode())).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	return nil
}

func listParams(c *fiber.Ctx) (domain.TimeRange, int, error) {
	var rng domain.TimeRange
	bounds := []struct {
		key string
		dst **time.Time
	}{
		{"start", &rng.Start},
		{"end", &rng.End},
	}
	for _, b := range bounds {
		v := c.Query(b.key)
		if v == "" {
			continue
		}
		t, err := parseTime(b.key, v)
		if err != nil {
			return rng, 0, err
		}
		*b.dst = &t
	}
	if rng.Start != nil && rng.End != nil && rng.End.Before(*rng.Start) {
		return rng, 0, fiber.NewError(fiber.StatusBadRequest, "end is before start")
	}

	limit := DefaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return rng, 0, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit: want a positive integer, got %q", v))
		}
		limit = min(n, MaxLimit)
	}
	return rng, limit, nil
}

func pathTime(c *fiber.Ctx) (time.Time, error) {
	v, err := url.PathUnescape(c.Params("time"))
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return parseTime("time", v)
}

// parseTime accepts RFC 3339. An unescaped '+' in a query string arrives as
// a space, so that is put back first.
func parseTime(key, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.ReplaceAll(v, " ", "+"))
	if err != nil {
		return time.Time{}, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s: want an RFC 3339 time, got %q", key, v))
	}
	return t, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// Serve runs app on addr until ctx is done.
func Serve(ctx context.Context, app *fiber.App, addr string) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http listening")
		errc <- app.Listen(addr)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			return err
		}
		return <-errc
	}
}

package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Render now so the logged status matches what the client sees.
				c.Error(err)
			}

			rid, _ := c.Get("request_id").(string)
			actorID, _ := c.Get("actor_id").(string)

			evt := logger.Info()
			status := c.Response().Status
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			}

			// Access tokens travel in paths and query strings; log the route
			// template instead of the raw URL.
			path := c.Path()
			if path == "" {
				path = req.URL.Path
			}

			evt.
				Str("request_id", rid).
				Str("actor_id", actorID).
				Str("method", req.Method).
				Str("route", path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return nil
		}
	}
}

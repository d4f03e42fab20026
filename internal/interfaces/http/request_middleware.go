package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID identifica la petición en respuestas y logs.
const HeaderRequestID = "X-Request-ID"

// RequestLogger asigna un X-Request-ID (si el cliente no lo envía) y registra
// método, ruta, status y duración de cada petición.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		started := time.Now()
		id := c.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)

		err := c.Next()
		if err != nil {
			// el ErrorHandler de la app escribe la respuesta después
			if e, ok := err.(*fiber.Error); ok {
				c.Status(e.Code)
			} else {
				c.Status(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()
		ev := log.Info()
		if status >= fiber.StatusInternalServerError {
			ev = log.Error().Err(err)
		}
		ev.Str("request_id", id).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duracion", time.Since(started)).
			Msg("petición HTTP")
		return err
	}
}

package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Fiscal-api/internal/application/dto"
	"github.com/jhoicas/Fiscal-api/internal/application/fiscal"
	"github.com/jhoicas/Fiscal-api/internal/domain"
)

// statusByKind traduce la taxonomía de errores fiscales a códigos HTTP.
var statusByKind = map[string]int{
	string(domain.KindValidation):        fiber.StatusBadRequest,
	string(domain.KindCertificate):       fiber.StatusUnprocessableEntity,
	string(domain.KindProtocolRejection): fiber.StatusUnprocessableEntity,
	string(domain.KindSigning):           fiber.StatusInternalServerError,
	string(domain.KindConfiguration):     fiber.StatusInternalServerError,
	string(domain.KindTransportSecurity): fiber.StatusBadGateway,
	string(domain.KindTransportNetwork):  fiber.StatusBadGateway,
	string(domain.KindTransportTimeout):  fiber.StatusGatewayTimeout,
	fiscal.KindInternal:                  fiber.StatusInternalServerError,
}

// StatusForKind devuelve el código HTTP de un ErrorKind; desconocido = 500.
func StatusForKind(kind string) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return fiber.StatusInternalServerError
}

// writeResult responde con el Result del orquestador. Sin ErrorKind la operación
// llegó a la SEFAZ y se responde okStatus aunque Success sea false (p. ej. nota cancelada).
func writeResult(c *fiber.Ctx, res fiscal.Result, okStatus int) error {
	if res.ErrorKind == "" {
		return c.Status(okStatus).JSON(res)
	}
	return c.Status(StatusForKind(res.ErrorKind)).JSON(res)
}

// writeError traduce sentinelas y *FiscalError a dto.ErrorResponse.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
	case errors.Is(err, domain.ErrSyncInProgress):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "SYNC_IN_PROGRESS", Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: err.Error()})
	}
	var fe *domain.FiscalError
	if errors.As(err, &fe) {
		return c.Status(StatusForKind(string(fe.Kind))).JSON(dto.ErrorResponse{Code: string(fe.Kind), Message: fe.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: fiscal.KindInternal, Message: err.Error()})
}

func badRequest(c *fiber.Ctx, code, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: code, Message: msg})
}

func forbidden(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: msg})
}

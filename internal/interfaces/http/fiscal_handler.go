package http

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Fiscal-api/internal/application/fiscal"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/jwt"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// FiscalService es lo que el handler necesita del orquestador.
type FiscalService interface {
	Emit(ctx context.Context, in entity.DocumentIntent) fiscal.Result
	Cancel(ctx context.Context, req fiscal.CancelRequest) fiscal.Result
	Invalidate(ctx context.Context, req fiscal.InvalidateRequest) fiscal.Result
	Query(ctx context.Context, accessKey string) fiscal.Result
	Fetch(ctx context.Context, accessKey string) ([]byte, error)
	ServiceStatus(ctx context.Context, ufs []string) []fiscal.StatusReport
}

// FiscalHandler expone emisión, eventos y consultas de NF-e.
type FiscalHandler struct {
	svc FiscalService
}

// NewFiscalHandler construye el handler.
func NewFiscalHandler(svc FiscalService) *FiscalHandler {
	return &FiscalHandler{svc: svc}
}

// Emit numera, firma y transmite una NF-e.
// POST /api/nfe
func (h *FiscalHandler) Emit(c *fiber.Ctx) error {
	var in entity.DocumentIntent
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if !ownsTaxID(c, in.Issuer.TaxID) {
		return forbidden(c, "el emitente no corresponde al CNPJ del token")
	}
	return writeResult(c, h.svc.Emit(c.Context(), in), fiber.StatusCreated)
}

// Cancel registra el evento de cancelamento (110111).
// POST /api/nfe/:chave/cancelamento
func (h *FiscalHandler) Cancel(c *fiber.Ctx) error {
	var req fiscal.CancelRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	req.AccessKey = c.Params("chave")
	if fields, err := nfe.Decode(req.AccessKey); err == nil && !ownsTaxID(c, fields.TaxID) {
		return forbidden(c, "la NF-e no pertenece al CNPJ del token")
	}
	return writeResult(c, h.svc.Cancel(c.Context(), req), fiber.StatusOK)
}

// Invalidate inutiliza un intervalo de numeración.
// POST /api/nfe/inutilizacao
func (h *FiscalHandler) Invalidate(c *fiber.Ctx) error {
	var req fiscal.InvalidateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "INVALID_BODY", "cuerpo inválido")
	}
	if req.TaxID == "" {
		req.TaxID = GetTaxID(c)
	}
	if !ownsTaxID(c, req.TaxID) {
		return forbidden(c, "el CNPJ no corresponde al del token")
	}
	return writeResult(c, h.svc.Invalidate(c.Context(), req), fiber.StatusOK)
}

// Query consulta la situación de la NF-e en la SEFAZ.
// GET /api/nfe/:chave
func (h *FiscalHandler) Query(c *fiber.Ctx) error {
	return writeResult(c, h.svc.Query(c.Context(), c.Params("chave")), fiber.StatusOK)
}

// Fetch descarga el XML (caché, enviadas o distribución DF-e).
// GET /api/nfe/:chave/xml
func (h *FiscalHandler) Fetch(c *fiber.Ctx) error {
	data, err := h.svc.Fetch(c.Context(), c.Params("chave"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	return c.Send(data)
}

// Status consulta NFeStatusServico4 en las UF pedidas (?ufs=SP,RJ) o en las configuradas.
// GET /api/sefaz/status
func (h *FiscalHandler) Status(c *fiber.Ctx) error {
	var ufs []string
	for _, uf := range strings.Split(c.Query("ufs"), ",") {
		if uf = strings.ToUpper(strings.TrimSpace(uf)); uf != "" {
			ufs = append(ufs, uf)
		}
	}
	return c.JSON(h.svc.ServiceStatus(c.Context(), ufs))
}

// ownsTaxID: el admin opera cualquier CNPJ; los demás roles solo el de su token.
func ownsTaxID(c *fiber.Ctx, taxID string) bool {
	if GetRole(c) == jwt.RoleAdmin {
		return true
	}
	own := nfe.OnlyDigits(GetTaxID(c))
	return own != "" && own == nfe.OnlyDigits(taxID)
}

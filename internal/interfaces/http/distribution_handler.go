package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Fiscal-api/internal/application/dto"
	"github.com/jhoicas/Fiscal-api/internal/application/fiscal"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// DistributionRunner es lo que el handler necesita del sincronizador DF-e.
type DistributionRunner interface {
	Run(ctx context.Context, taxID string, env nfe.Environment) (fiscal.Summary, error)
	State(taxID string, env nfe.Environment) fiscal.SyncState
}

// DistributionHandler dispara la distribución DF-e bajo demanda.
type DistributionHandler struct {
	sync         DistributionRunner
	defaultEnv   nfe.Environment
	defaultTaxID string
}

// NewDistributionHandler construye el handler con el ambiente y CNPJ por defecto.
func NewDistributionHandler(sync DistributionRunner, env nfe.Environment, taxID string) *DistributionHandler {
	return &DistributionHandler{sync: sync, defaultEnv: env, defaultTaxID: taxID}
}

// Sync ejecuta una pasada completa. Una ejecución ya en curso responde 409.
// POST /api/dfe/sync
func (h *DistributionHandler) Sync(c *fiber.Ctx) error {
	var req dto.SyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "INVALID_BODY", "cuerpo inválido")
		}
	}
	env, taxID, err := h.target(c, req.Environment, req.TaxID)
	if err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	if !ownsTaxID(c, taxID) {
		return forbidden(c, "el CNPJ no corresponde al del token")
	}
	sum, err := h.sync.Run(c.Context(), taxID, env)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(sum)
}

// State devuelve la fase de la última ejecución del par cnpj/ambiente.
// GET /api/dfe/state?cnpj=&ambiente=
func (h *DistributionHandler) State(c *fiber.Ctx) error {
	env, taxID, err := h.target(c, c.Query("ambiente"), c.Query("cnpj"))
	if err != nil {
		return badRequest(c, "VALIDATION", err.Error())
	}
	return c.JSON(dto.SyncStateResponse{
		TaxID:       nfe.OnlyDigits(taxID),
		Environment: env.String(),
		State:       string(h.sync.State(taxID, env)),
	})
}

// target resuelve ambiente y CNPJ: el pedido, luego el token y luego la configuración.
func (h *DistributionHandler) target(c *fiber.Ctx, ambiente, taxID string) (nfe.Environment, string, error) {
	env := h.defaultEnv
	if ambiente != "" {
		parsed, err := nfe.ParseEnvironment(ambiente)
		if err != nil {
			return "", "", err
		}
		env = parsed
	}
	if taxID == "" {
		taxID = GetTaxID(c)
	}
	if taxID == "" {
		taxID = h.defaultTaxID
	}
	return env, taxID, nil
}

package http

import (
	"context"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Fiscal-api/internal/application/dto"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/cache"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/certstore"
)

// CertificateStore es lo que el handler necesita del almacén de certificados.
type CertificateStore interface {
	Save(ctx context.Context, ownerID string, pfx []byte, passphrase string) (*entity.Certificate, error)
	List(ctx context.Context) ([]entity.CertificateInfo, error)
	ExpiringSoon(ctx context.Context, withinDays int) ([]entity.CertificateInfo, error)
}

// CacheEvicter limpia la caché de documentos.
type CacheEvicter interface {
	Evict(maxAgeDays, maxTotalSizeMB int) (cache.EvictionReport, error)
}

// AdminHandler agrupa certificados y mantenimiento de caché (solo admin).
type AdminHandler struct {
	certs      CertificateStore
	evicter    CacheEvicter
	onNewCert  func() // descarta los clientes TLS con el certificado anterior
	maxAgeDays int
	maxSizeMB  int
}

// NewAdminHandler construye el handler. onNewCert puede ser nil.
func NewAdminHandler(certs CertificateStore, evicter CacheEvicter, onNewCert func(), maxAgeDays, maxSizeMB int) *AdminHandler {
	return &AdminHandler{certs: certs, evicter: evicter, onNewCert: onNewCert, maxAgeDays: maxAgeDays, maxSizeMB: maxSizeMB}
}

// UploadCertificate recibe un .pfx/.p12 (campo "certificado") con owner_id y senha.
// POST /api/certificados
func (h *AdminHandler) UploadCertificate(c *fiber.Ctx) error {
	owner := c.FormValue("owner_id")
	if owner == "" {
		return badRequest(c, "VALIDATION", "owner_id requerido")
	}
	fh, err := c.FormFile("certificado")
	if err != nil {
		return badRequest(c, "MISSING_FILE", "archivo 'certificado' requerido")
	}
	if err := certstore.CheckUpload(fh.Filename, fh.Size); err != nil {
		return writeError(c, err)
	}
	f, err := fh.Open()
	if err != nil {
		return writeError(c, err)
	}
	defer f.Close()
	pfx, err := io.ReadAll(io.LimitReader(f, certstore.MaxUploadSize+1))
	if err != nil {
		return writeError(c, err)
	}

	cert, err := h.certs.Save(c.Context(), owner, pfx, c.FormValue("senha"))
	if err != nil {
		return writeError(c, err)
	}
	if h.onNewCert != nil {
		h.onNewCert()
	}
	return c.Status(fiber.StatusCreated).JSON(cert.Info(time.Now()))
}

// ListCertificates lista los certificados guardados, vencidos incluidos.
// GET /api/certificados
func (h *AdminHandler) ListCertificates(c *fiber.Ctx) error {
	list, err := h.certs.List(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(list)
}

// ExpiringCertificates lista los que vencen en ?dias=N (30 por defecto).
// GET /api/certificados/vencendo
func (h *AdminHandler) ExpiringCertificates(c *fiber.Ctx) error {
	days := c.QueryInt("dias", 30)
	list, err := h.certs.ExpiringSoon(c.Context(), days)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(list)
}

// EvictCache aplica la expulsión por edad y tamaño.
// POST /api/cache/evict
func (h *AdminHandler) EvictCache(c *fiber.Ctx) error {
	var req dto.EvictRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "INVALID_BODY", "cuerpo inválido")
		}
	}
	age, size := h.maxAgeDays, h.maxSizeMB
	if req.MaxAgeDays != nil {
		age = *req.MaxAgeDays
	}
	if req.MaxSizeMB != nil {
		size = *req.MaxSizeMB
	}
	rep, err := h.evicter.Evict(age, size)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.EvictResponse{
		Scanned:        rep.Scanned,
		RemovedByAge:   rep.RemovedByAge,
		RemovedBySize:  rep.RemovedBySize,
		FreedBytes:     rep.FreedBytes,
		Remaining:      rep.Remaining,
		RemainingBytes: rep.RemainingBytes,
	})
}

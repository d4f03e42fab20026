package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/pkg/jwt"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Fiscal       FiscalService
	Distribution DistributionRunner
	Certificates CertificateStore
	Cache        CacheEvicter
	OnNewCert    func()
	Metrics      *metrics.Registry
	Log          zerolog.Logger
	JWTSecret    string
	Environment  nfe.Environment
	TaxID        string // CNPJ por defecto de la distribución
	CacheMaxAge  int
	CacheMaxMB   int
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Use(RequestLogger(deps.Log))

	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics.Handler()))
	}

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))
	anyRole := RequireRole(jwt.RoleAdmin, jwt.RoleEmitter, jwt.RoleReadOnly)
	emitters := RequireRole(jwt.RoleAdmin, jwt.RoleEmitter)
	admins := RequireRole(jwt.RoleAdmin)

	// NF-e
	fiscalHandler := NewFiscalHandler(deps.Fiscal)
	nfeGroup := protected.Group("/nfe")
	nfeGroup.Post("/", emitters, fiscalHandler.Emit)
	nfeGroup.Post("/inutilizacao", emitters, fiscalHandler.Invalidate)
	nfeGroup.Post("/:chave/cancelamento", emitters, fiscalHandler.Cancel)
	nfeGroup.Get("/:chave/xml", anyRole, fiscalHandler.Fetch)
	nfeGroup.Get("/:chave", anyRole, fiscalHandler.Query)

	protected.Get("/sefaz/status", anyRole, fiscalHandler.Status)

	// Distribución DF-e
	dfeHandler := NewDistributionHandler(deps.Distribution, deps.Environment, deps.TaxID)
	dfe := protected.Group("/dfe")
	dfe.Post("/sync", emitters, dfeHandler.Sync)
	dfe.Get("/state", anyRole, dfeHandler.State)

	// Certificados y caché (admin)
	adminHandler := NewAdminHandler(deps.Certificates, deps.Cache, deps.OnNewCert, deps.CacheMaxAge, deps.CacheMaxMB)
	certs := protected.Group("/certificados", admins)
	certs.Post("/", adminHandler.UploadCertificate)
	certs.Get("/", adminHandler.ListCertificates)
	certs.Get("/vencendo", adminHandler.ExpiringCertificates)
	protected.Post("/cache/evict", admins, adminHandler.EvictCache)
}

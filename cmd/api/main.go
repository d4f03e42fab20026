package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/jhoicas/Fiscal-api/internal/bootstrap"
	httpRouter "github.com/jhoicas/Fiscal-api/internal/interfaces/http"
	"github.com/jhoicas/Fiscal-api/pkg/config"
	"github.com/jhoicas/Fiscal-api/pkg/logger"
)

const evictionInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("uf", cfg.Sefaz.UF).
		Str("ambiente", cfg.Sefaz.Environment.String()).
		Msg("iniciando aplicación")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	svc, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar servicios")
	}
	defer svc.Close()

	if list, err := svc.Certificates.ExpiringSoon(ctx, 30); err != nil {
		log.Warn().Err(err).Msg("no se pudo revisar la vigencia de los certificados")
	} else {
		for _, c := range list {
			log.Warn().Str("owner", c.OwnerID).Int("dias", c.DaysLeft).Str("status", c.Status).Msg("certificado próximo a vencer")
		}
	}
	if _, err := svc.Schemas.VerifyChecksums(); err != nil {
		log.Warn().Err(err).Msg("no se pudieron verificar los checksums XSD")
	}

	go evictLoop(ctx, svc, cfg, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.Sefaz.Timeout*time.Duration(cfg.Sefaz.RetryAttempts) + cfg.Sefaz.BackoffCap,
		IdleTimeout:  time.Second * 60,
		BodyLimit:    6 << 20, // certificados de hasta 5 MB
	})
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Fiscal:       svc.Orchestrator,
		Distribution: svc.Sync,
		Certificates: svc.Certificates,
		Cache:        svc.Cache,
		OnNewCert:    svc.Registry.Reset,
		Metrics:      svc.Metrics,
		Log:          log.Component("http"),
		JWTSecret:    cfg.JWT.Secret,
		Environment:  cfg.Sefaz.Environment,
		TaxID:        cfg.Sefaz.TaxID,
		CacheMaxAge:  cfg.Storage.CacheMaxAgeDays,
		CacheMaxMB:   cfg.Storage.CacheMaxSizeMB,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

// evictLoop aplica la expulsión de la caché cada hora hasta que ctx termine.
func evictLoop(ctx context.Context, svc *bootstrap.Services, cfg *config.Config, log *logger.Logger) {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Cache.Evict(cfg.Storage.CacheMaxAgeDays, cfg.Storage.CacheMaxSizeMB); err != nil {
				log.Error().Err(err).Msg("limpieza de caché")
			}
		}
	}
}

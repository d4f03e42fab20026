// Package bootstrap arma el grafo de dependencias compartido por la API y nfectl.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/internal/application/fiscal"
	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/cache"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/certstore"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/postgres"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/schema"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/storage"
	"github.com/jhoicas/Fiscal-api/pkg/config"
	"github.com/jhoicas/Fiscal-api/pkg/logger"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
)

// Services son los componentes listos para usar.
type Services struct {
	Config       *config.Config
	Metrics      *metrics.Registry
	Certificates *certstore.Store
	Registry     *sefaz.Registry
	Schemas      *schema.Validator
	Cache        *cache.DocumentCache
	Archive      *storage.Archive
	Sync         *fiscal.DistributionSync
	Orchestrator *fiscal.Orchestrator

	pool *pgxpool.Pool
}

// Close libera el pool de PostgreSQL y los clientes TLS.
func (s *Services) Close() {
	s.Registry.Close()
	if s.pool != nil {
		s.pool.Close()
	}
}

// Build crea los servicios a partir de la configuración. Con CURSOR_BACKEND=postgres
// conecta, migra y usa los repositorios pgx para cursor, numeración y documentos.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Services, error) {
	m := metrics.New()
	s := &Services{Config: cfg, Metrics: m}

	masterKey, err := cfg.Security.MasterKey()
	if err != nil {
		return nil, err
	}
	dataDir := cfg.Storage.DataDir

	s.Certificates, err = certstore.New(filepath.Join(dataDir, "certs"), masterKey, m, log.Component("certstore"))
	if err != nil {
		return nil, err
	}
	if err := importCertificate(ctx, s.Certificates, cfg.Sefaz, log.Zerolog()); err != nil {
		return nil, err
	}
	owner := cfg.Sefaz.CertOwner
	certs := func(ctx context.Context) (tls.Certificate, error) {
		c, err := s.Certificates.Open(ctx, owner)
		if err != nil {
			return tls.Certificate{}, err
		}
		return c.TLS, nil
	}

	s.Registry = sefaz.NewRegistry(nil, cfg.Sefaz.CADir, sefaz.OptionsFromConfig(cfg.Sefaz), certs, m, log.Component("sefaz"))
	s.Schemas = schema.New(cfg.Schema.XSDDir, m, log.Component("schema"))

	if s.Cache, err = cache.New(filepath.Join(dataDir, "cache"), m, log.Component("cache")); err != nil {
		return nil, err
	}
	if s.Archive, err = storage.NewArchive(dataDir, log.Zerolog()); err != nil {
		return nil, err
	}

	var (
		cursors   repository.CursorRepository
		numbering repository.NumberingRepository
		documents repository.DocumentRepository
	)
	switch cfg.Storage.CursorBackend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DB, log.Component("postgres"))
		if err != nil {
			return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
		}
		s.pool = pool
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		cursors = postgres.NewCursorRepository(pool)
		numbering = postgres.NewNumberingRepository(pool)
		documents = postgres.NewDocumentRepository(pool)
	default:
		fileCursors, err := storage.NewCursorStore(dataDir)
		if err != nil {
			return nil, err
		}
		fileNumbering, err := storage.NewNumberingStore(dataDir)
		if err != nil {
			return nil, err
		}
		cursors, numbering = fileCursors, fileNumbering
	}

	clients := fiscal.FromRegistry(s.Registry)
	s.Sync = fiscal.NewDistributionSync(clients, cursors, s.Cache,
		fiscal.SyncConfig{UF: cfg.Sefaz.UF, MaxLoops: cfg.Storage.DFeMaxLoops}, m, log.Zerolog())

	s.Orchestrator, err = fiscal.New(fiscal.ConfigFrom(cfg), fiscal.Deps{
		Clients:      clients,
		Certificates: certs,
		Signer:       signer.NewXMLDSigService(),
		Schemas:      s.Schemas,
		Numbering:    numbering,
		Documents:    documents,
		Archive:      s.Archive,
		Cache:        s.Cache,
		Sync:         s.Sync,
		Metrics:      m,
		Log:          log.Zerolog(),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// importCertificate guarda cifrado el .pfx de CERT_PATH bajo CERT_OWNER, si está configurado.
func importCertificate(ctx context.Context, store *certstore.Store, cfg config.SefazConfig, log zerolog.Logger) error {
	if cfg.CertPath == "" {
		return nil
	}
	pfx, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return fmt.Errorf("leer CERT_PATH: %w", err)
	}
	cert, err := store.Save(ctx, cfg.CertOwner, pfx, cfg.CertPassword)
	if err != nil {
		return err
	}
	log.Info().Str("owner", cfg.CertOwner).Str("titular", cert.HolderName).Msg("certificado importado desde CERT_PATH")
	return nil
}

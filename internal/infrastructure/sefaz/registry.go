package sefaz

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// CertificateProvider entrega el certificado A1 vigente (normalmente certstore.Store.Open).
type CertificateProvider func(ctx context.Context) (tls.Certificate, error)

// Registry mantiene un Client por binding UF/ambiente, creado bajo demanda.
type Registry struct {
	table   *Table
	caDir   string
	opts    Options
	certs   CertificateProvider
	metrics *metrics.Registry
	log     zerolog.Logger

	mu      sync.Mutex
	clients map[entity.EndpointBinding]*Client
}

// NewRegistry crea el registro. table nil usa DefaultTable.
func NewRegistry(table *Table, caDir string, opts Options, certs CertificateProvider, m *metrics.Registry, log zerolog.Logger) *Registry {
	if table == nil {
		table = DefaultTable()
	}
	return &Registry{
		table:   table,
		caDir:   caDir,
		opts:    opts,
		certs:   certs,
		metrics: m,
		log:     log.With().Str("component", "sefaz").Logger(),
		clients: map[entity.EndpointBinding]*Client{},
	}
}

// Table expone la tabla de endpoints.
func (r *Registry) Table() *Table { return r.table }

// Client devuelve el cliente del binding, armando TLS con el certificado actual la primera vez.
func (r *Registry) Client(ctx context.Context, b entity.EndpointBinding) (*Client, error) {
	const op = "sefaz.Registry.Client"
	b.UF = strings.ToUpper(strings.TrimSpace(b.UF))
	if _, ok := nfe.UFCode(b.UF); !ok {
		return nil, domain.NewConfigurationError(op, fmt.Sprintf("UF desconhecida %q", b.UF), nil)
	}
	if !b.Environment.Valid() {
		return nil, domain.NewConfigurationError(op, fmt.Sprintf("ambiente inválido %q", b.Environment), nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[b]; ok {
		return c, nil
	}
	if r.certs == nil {
		return nil, domain.NewCertificateError(op, "ningún certificado configurado", nil)
	}
	cert, err := r.certs(ctx)
	if err != nil {
		if domain.KindOf(err) == "" {
			return nil, domain.NewCertificateError(op, "carregar certificado", err)
		}
		return nil, err
	}
	tlsCfg, err := NewTLSConfig(cert, r.caDir)
	if err != nil {
		return nil, err
	}
	c := NewClient(b, r.table, tlsCfg, r.opts, r.metrics, r.log)
	r.clients[b] = c
	r.log.Debug().Str("binding", b.String()).Msg("cliente SOAP creado")
	return c, nil
}

// Reset descarta los clientes (p. ej. tras subir un certificado nuevo).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for b, c := range r.clients {
		c.Close()
		delete(r.clients, b)
	}
}

// Close libera todas las conexiones.
func (r *Registry) Close() { r.Reset() }

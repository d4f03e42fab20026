package fiscal_test

import (
	"context"
	"crypto/tls"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/application/fiscal"
	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/cache"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/schema"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz/signer"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/storage"
	"github.com/jhoicas/Fiscal-api/internal/testutil"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

const (
	chave     = "35250732409620000175550010000037471011544648"
	protocolo = "135250000012345"
)

var emitidaEm = time.Date(2025, 7, 10, 14, 30, 0, 0, time.FixedZone("BRT", -3*3600))

var idNFe = regexp.MustCompile(`Id="NFe(\d{44})"`)

// chaveDoEnvio extrae la chave del enviNFe recibido por el servidor falso.
func chaveDoEnvio(envelope []byte) string {
	if m := idNFe.FindSubmatch(envelope); m != nil {
		return string(m[1])
	}
	return ""
}

func intent() entity.DocumentIntent {
	return entity.DocumentIntent{
		Kind:              nfe.KindNFe,
		UF:                "SP",
		Environment:       nfe.Homologation,
		Series:            1,
		NatureOfOperation: "Venda de mercadoria",
		Issuer: entity.Party{
			TaxID:             testutil.TestCNPJ,
			Name:              "Empresa Teste Ltda",
			StateRegistration: "111222333444",
			Address: entity.Address{
				Street: "Rua das Flores", Number: "100", District: "Centro",
				CityCode: "3550308", CityName: "São Paulo", UF: "SP", ZIP: "01001000",
			},
		},
		Items: []entity.IntentItem{
			{Code: "P1", Description: "Caneta azul", NCM: "96081000", CFOP: "5102", Unit: "UN",
				Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("10.50")},
		},
		PaymentType: "01",
		IssuedAt:    emitidaEm,
	}
}

// ── Dobles ───────────────────────────────────────────────────────────────────

type fakeSchemas struct {
	outbound schema.Result
	err      error
}

func validSchemas() *fakeSchemas {
	return &fakeSchemas{outbound: schema.Result{Valid: true, SchemaFile: "enviNFe_v4.00.xsd"}}
}

func (f *fakeSchemas) Validate([]byte, nfe.Operation, nfe.Environment) (schema.Result, error) {
	return f.outbound, f.err
}

func (f *fakeSchemas) ValidateResponse([]byte, nfe.Operation, nfe.Environment) (schema.Result, error) {
	return schema.Result{Valid: true}, nil
}

type statusUpdate struct {
	Status, Protocol, StatusCode string
}

type memDocs struct {
	mu            sync.Mutex
	saved         map[string]entity.FiscalDocument
	updates       map[string]statusUpdate
	invalidations []entity.InvalidatedRange
}

func newMemDocs() *memDocs {
	return &memDocs{saved: map[string]entity.FiscalDocument{}, updates: map[string]statusUpdate{}}
}

func (m *memDocs) Save(_ context.Context, doc *entity.FiscalDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[doc.AccessKey] = *doc
	return nil
}

func (m *memDocs) GetByAccessKey(_ context.Context, key string) (*entity.FiscalDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.saved[key]; ok {
		return &d, nil
	}
	return nil, nil
}

func (m *memDocs) UpdateStatus(_ context.Context, key, status, protocol, cStat, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates[key] = statusUpdate{Status: status, Protocol: protocol, StatusCode: cStat}
	if _, ok := m.saved[key]; !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (m *memDocs) SaveInvalidation(_ context.Context, rng *entity.InvalidatedRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations = append(m.invalidations, *rng)
	return nil
}

func (m *memDocs) doc(key string) (entity.FiscalDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.saved[key]
	return d, ok
}

func (m *memDocs) update(key string) (statusUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.updates[key]
	return u, ok
}

// ── Entorno ──────────────────────────────────────────────────────────────────

type harness struct {
	srv     *testutil.SefazServer
	orch    *fiscal.Orchestrator
	sync    *fiscal.DistributionSync
	archive *storage.Archive
	cache   *cache.DocumentCache
	cursors *storage.CursorStore
	docs    *memDocs
	schemas *fakeSchemas
}

type option func(*fiscal.Config, *fiscal.Deps, *fiscal.SyncConfig)

func withSchemas(v fiscal.SchemaValidator) option {
	return func(_ *fiscal.Config, d *fiscal.Deps, _ *fiscal.SyncConfig) { d.Schemas = v }
}

func withEnforce(enforce bool) option {
	return func(c *fiscal.Config, _ *fiscal.Deps, _ *fiscal.SyncConfig) { c.EnforceSchema = enforce }
}

func withMaxLoops(n int) option {
	return func(_ *fiscal.Config, _ *fiscal.Deps, s *fiscal.SyncConfig) { s.MaxLoops = n }
}

var spHom = entity.EndpointBinding{UF: "SP", Environment: nfe.Homologation}

func tableFor(url string) *sefaz.Table {
	urls := sefaz.ServiceURLs{}
	for _, op := range nfe.Operations {
		urls[op] = url
	}
	return sefaz.NewTable(map[entity.EndpointBinding]sefaz.ServiceURLs{
		spHom: urls,
		{UF: nfe.UFAN, Environment: nfe.Homologation}: urls,
	}, nil)
}

func newHarness(t *testing.T, attempts int, handler testutil.SefazHandler, opts ...option) *harness {
	t.Helper()
	srv := testutil.NewSefazServer(t, handler)
	m := metrics.New()

	certs := func(context.Context) (tls.Certificate, error) { return srv.ClientCert, nil }
	reg := sefaz.NewRegistry(tableFor(srv.URL), srv.CADir, sefaz.Options{
		Timeout:       3 * time.Second,
		RetryAttempts: attempts,
		BackoffBase:   time.Millisecond,
		BackoffCap:    5 * time.Millisecond,
	}, certs, m, zerolog.Nop())
	t.Cleanup(reg.Close)

	dir := t.TempDir()
	archive, err := storage.NewArchive(dir+"/xml", zerolog.Nop())
	require.NoError(t, err)
	docCache, err := cache.New(dir+"/cache", m, zerolog.Nop())
	require.NoError(t, err)
	cursors, err := storage.NewCursorStore(dir)
	require.NoError(t, err)
	numbering, err := storage.NewNumberingStore(dir)
	require.NoError(t, err)

	h := &harness{srv: srv, archive: archive, cache: docCache, cursors: cursors, docs: newMemDocs(), schemas: validSchemas()}
	cfg := fiscal.Config{UF: "SP", Environment: nfe.Homologation, EnforceSchema: true, StatusTTL: time.Minute, StatusTimeout: 3 * time.Second}
	syncCfg := fiscal.SyncConfig{UF: "SP", MaxLoops: 5}
	deps := fiscal.Deps{
		Clients:      fiscal.FromRegistry(reg),
		Certificates: certs,
		Signer:       signer.NewXMLDSigService(),
		Schemas:      h.schemas,
		Numbering:    numbering,
		Documents:    h.docs,
		Archive:      archive,
		Cache:        docCache,
		Metrics:      m,
		Log:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg, &deps, &syncCfg)
	}
	h.sync = fiscal.NewDistributionSync(deps.Clients, cursors, docCache, syncCfg, m, zerolog.Nop())
	deps.Sync = h.sync

	h.orch, err = fiscal.New(cfg, deps)
	require.NoError(t, err)
	return h
}

func (h *harness) list(t *testing.T, folder storage.Folder) []string {
	t.Helper()
	names, err := h.archive.List(folder)
	require.NoError(t, err)
	return names
}

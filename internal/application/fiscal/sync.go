package fiscal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/domain/repository"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/cache"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// SyncState es la fase de la sincronización DF-e.
type SyncState string

const (
	SyncIdle       SyncState = "IDLE"
	SyncFetching   SyncState = "FETCHING"
	SyncPersisting SyncState = "PERSISTING"
	SyncDone       SyncState = "DONE"
)

// Summary resume una ejecución de Run.
type Summary struct {
	TaxID       string          `json:"tax_id"`
	Environment nfe.Environment `json:"environment"`
	Loops       int             `json:"loops"`
	Received    int             `json:"received"`
	Stored      int             `json:"stored"` // documentos nuevos en la caché
	LastNSU     string          `json:"last_nsu"`
	MaxNSU      string          `json:"max_nsu"`
	StatusCode  string          `json:"status_code,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Done        bool            `json:"done"`
}

// SyncConfig son los parámetros de la distribución.
type SyncConfig struct {
	UF       string // UF del interessado (cUFAutor)
	MaxLoops int
}

// DistributionSync descarga la caja de entrada DF-e avanzando el cursor NSU.
// Los reintentos con backoff ocurren en el transporte; un fallo definitivo
// detiene la ejecución sin avanzar el cursor.
type DistributionSync struct {
	clients Clients
	cursors repository.CursorRepository
	cache   Cache
	cfg     SyncConfig
	metrics *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	states  map[entity.CursorKey]SyncState
	running map[entity.CursorKey]struct{}
}

// NewDistributionSync crea el sincronizador. MaxLoops < 1 se toma como 1.
func NewDistributionSync(clients Clients, cursors repository.CursorRepository, c Cache, cfg SyncConfig, m *metrics.Registry, log zerolog.Logger) *DistributionSync {
	if cfg.MaxLoops < 1 {
		cfg.MaxLoops = 1
	}
	cfg.UF = strings.ToUpper(cfg.UF)
	s := &DistributionSync{
		clients: clients,
		cursors: cursors,
		cache:   c,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "dfe").Logger(),
		now:     time.Now,
		states:  map[entity.CursorKey]SyncState{},
		running: map[entity.CursorKey]struct{}{},
	}
	return s
}

// State es la fase de la última ejecución del par cnpj/ambiente; IDLE si nunca corrió.
func (s *DistributionSync) State(taxID string, env nfe.Environment) SyncState {
	key := entity.CursorKey{TaxID: nfe.OnlyDigits(taxID), Environment: env}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[key]; ok {
		return st
	}
	return SyncIdle
}

func (s *DistributionSync) setState(key entity.CursorKey, st SyncState) {
	s.mu.Lock()
	s.states[key] = st
	s.mu.Unlock()
}

// acquire toma el lock del par cnpj/ambiente sin esperar.
func (s *DistributionSync) acquire(key entity.CursorKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[key]; busy {
		return false
	}
	s.running[key] = struct{}{}
	return true
}

func (s *DistributionSync) release(key entity.CursorKey) {
	s.mu.Lock()
	delete(s.running, key)
	s.mu.Unlock()
}

// ── Run ──────────────────────────────────────────────────────────────────────

// Run descarga lotes desde el cursor guardado hasta que la SEFAZ no devuelva
// documentos, ultNSU alcance maxNSU o se cumpla MaxLoops. Cada documento se
// escribe en la caché antes de persistir el cursor del lote.
func (s *DistributionSync) Run(ctx context.Context, taxID string, env nfe.Environment) (Summary, error) {
	const op = "fiscal.DistributionSync.Run"
	key, err := cursorKey(op, taxID, env)
	if err != nil {
		return Summary{}, err
	}
	if !s.acquire(key) {
		return Summary{}, domain.ErrSyncInProgress
	}
	defer s.release(key)

	sum := Summary{TaxID: key.TaxID, Environment: env}
	final := SyncIdle
	defer func() { s.setState(key, final) }()

	cursor, err := s.cursors.Load(ctx, key)
	if err != nil {
		return sum, err
	}
	sum.LastNSU, sum.MaxNSU = cursor.LastNSU, cursor.MaxNSU

	client, err := s.clients.Client(ctx, entity.EndpointBinding{UF: s.cfg.UF, Environment: env})
	if err != nil {
		return sum, err
	}
	log := s.log.With().Str("cnpj", key.TaxID).Str("ambiente", env.Dir()).Logger()

	for loop := 1; loop <= s.cfg.MaxLoops; loop++ {
		s.setState(key, SyncFetching)
		batch, err := s.pull(ctx, client, sefaz.DistributionRequest{TaxID: key.TaxID, LastNSU: cursor.LastNSU}, loop)
		if err != nil {
			log.Error().Err(err).Str("ultNSU", cursor.LastNSU).Msg("distribución DF-e interrumpida")
			return sum, err
		}
		sum.Loops = loop
		sum.StatusCode, sum.Reason = batch.StatusCode, batch.Reason

		if batch.StatusCode != nfe.StatusDistributionDocs && batch.StatusCode != nfe.StatusDistributionNoDocs {
			return sum, domain.NewProtocolRejectionError(op, batch.StatusCode, batch.Reason)
		}

		s.setState(key, SyncPersisting)
		for _, doc := range batch.Docs {
			stored, err := s.store(doc)
			if err != nil {
				return sum, err
			}
			sum.Received++
			if stored {
				sum.Stored++
			}
		}

		next, err := cursor.Advance(batch.LastNSU, batch.MaxNSU, s.now())
		if err != nil {
			return sum, domain.NewProtocolRejectionError(op, batch.StatusCode, err.Error())
		}
		if err := s.cursors.Save(ctx, next); err != nil {
			return sum, err
		}
		cursor = next
		sum.LastNSU, sum.MaxNSU = cursor.LastNSU, cursor.MaxNSU
		log.Debug().Int("lote", loop).Int("documentos", len(batch.Docs)).
			Str("ultNSU", cursor.LastNSU).Str("maxNSU", cursor.MaxNSU).Msg("lote DF-e guardado")

		if len(batch.Docs) == 0 || cursor.Done() {
			break
		}
	}

	sum.Done = cursor.Done()
	if sum.Done {
		final = SyncDone
	}
	log.Info().Int("lotes", sum.Loops).Int("novos", sum.Stored).Str("ultNSU", sum.LastNSU).
		Str("maxNSU", sum.MaxNSU).Msg("distribución DF-e completada")
	return sum, nil
}

func (s *DistributionSync) pull(ctx context.Context, client Transport, req sefaz.DistributionRequest, attempt int) (sefaz.DistributionBatch, error) {
	started := time.Now()
	raw, err := client.PullDistribution(ctx, req)
	var batch sefaz.DistributionBatch
	if err == nil {
		batch, err = sefaz.ParseDistribution(raw)
	}
	s.metrics.RecordDFeFetch(s.cfg.UF, err == nil, attempt, time.Since(started))
	return batch, err
}

// store escribe el documento si no existe. Resumos y procNFe se guardan por
// chave; un procNFe reemplaza al resumo previo. El resto, por NSU.
func (s *DistributionSync) store(doc sefaz.DistributedDoc) (bool, error) {
	if doc.AccessKey != "" && isNFeSchema(doc.Schema) {
		key := cache.DocumentKey(doc.AccessKey)
		if strings.HasPrefix(doc.Schema, "procNFe") {
			_, existed, err := s.cache.Get(key)
			if err != nil {
				return false, err
			}
			if err := s.cache.Put(key, doc.XML); err != nil {
				return false, err
			}
			return !existed, nil
		}
		return s.cache.PutIfAbsent(key, doc.XML)
	}
	nsu := doc.NSU
	if nsu == "" {
		nsu = strconv.FormatInt(s.now().UnixMilli(), 10)
	}
	return s.cache.PutIfAbsent(cache.DistributionKey(nsu), doc.XML)
}

func isNFeSchema(schema string) bool {
	return strings.HasPrefix(schema, "resNFe") || strings.HasPrefix(schema, "procNFe")
}

// ── FetchByKey ───────────────────────────────────────────────────────────────

// FetchByKey pide un documento por chave (consChNFe). Prefiere el procNFe
// completo; sin documentos devuelve ErrNotFound.
func (s *DistributionSync) FetchByKey(ctx context.Context, taxID string, env nfe.Environment, accessKey string) ([]byte, error) {
	const op = "fiscal.DistributionSync.FetchByKey"
	key, err := cursorKey(op, taxID, env)
	if err != nil {
		return nil, err
	}
	if !nfe.Verify(accessKey) {
		return nil, domain.NewValidationError(op, "chave de acesso inválida", nil)
	}
	client, err := s.clients.Client(ctx, entity.EndpointBinding{UF: s.cfg.UF, Environment: env})
	if err != nil {
		return nil, err
	}
	batch, err := s.pull(ctx, client, sefaz.DistributionRequest{TaxID: key.TaxID, AccessKey: accessKey}, 1)
	if err != nil {
		return nil, err
	}
	switch batch.StatusCode {
	case nfe.StatusDistributionDocs:
	case nfe.StatusDistributionNoDocs:
		return nil, fmt.Errorf("%s: chave %s: %w", op, accessKey, domain.ErrNotFound)
	default:
		return nil, domain.NewProtocolRejectionError(op, batch.StatusCode, batch.Reason)
	}
	var best *sefaz.DistributedDoc
	for i := range batch.Docs {
		d := &batch.Docs[i]
		if strings.HasPrefix(d.Schema, "procNFe") {
			best = d
			break
		}
		if best == nil {
			best = d
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s: chave %s: %w", op, accessKey, domain.ErrNotFound)
	}
	return best.XML, nil
}

func cursorKey(op, taxID string, env nfe.Environment) (entity.CursorKey, error) {
	digits := nfe.OnlyDigits(taxID)
	if n := len(digits); n != 11 && n != 14 {
		return entity.CursorKey{}, domain.NewValidationError(op, "CNPJ/CPF del interesado inválido", nil)
	}
	if !env.Valid() {
		return entity.CursorKey{}, domain.NewValidationError(op, fmt.Sprintf("ambiente inválido %q", env), nil)
	}
	return entity.CursorKey{TaxID: digits, Environment: env}, nil
}

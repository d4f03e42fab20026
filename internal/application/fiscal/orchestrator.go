package fiscal

import (
	"context"
	"errors"
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
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/nfexml"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/sefaz"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/storage"
	"github.com/jhoicas/Fiscal-api/pkg/config"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

// Config son los parámetros del orquestador.
type Config struct {
	UF            string
	Environment   nfe.Environment
	TaxID         string // interessado de la distribución; vacío = emitente de la chave
	EnforceSchema bool   // sin XSD disponible: true bloquea, false solo advierte
	StatusTTL     time.Duration
	StatusTimeout time.Duration
	StatusUFs     []string
}

// ConfigFrom toma los valores de la configuración de la aplicación.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		UF:            cfg.Sefaz.UF,
		Environment:   cfg.Sefaz.Environment,
		TaxID:         cfg.Sefaz.TaxID,
		EnforceSchema: cfg.Schema.Enforce,
		StatusTTL:     cfg.Sefaz.StatusTTL,
		StatusTimeout: cfg.Sefaz.StatusTimeout,
		StatusUFs:     cfg.Sefaz.StatusUFs,
	}
}

// Deps son las dependencias del orquestador. Documents es opcional.
type Deps struct {
	Clients      Clients
	Certificates sefaz.CertificateProvider
	Signer       Signer
	Schemas      SchemaValidator
	Builder      *nfexml.NFeBuilder
	Numbering    repository.NumberingRepository
	Documents    repository.DocumentRepository
	Archive      Archive
	Cache        Cache
	Sync         *DistributionSync
	Metrics      *metrics.Registry
	Log          zerolog.Logger
	Now          func() time.Time
}

// Orchestrator coordina el ciclo completo de cada documento:
//
//	numeración → chave → XML → firma → lote → XSD → pendentes → SEFAZ → enviadas|falhas
//
// Cada operación devuelve un Result; los errores nunca escapan.
type Orchestrator struct {
	deps Deps
	opt  Config
	log  zerolog.Logger
	now  func() time.Time

	statusMu    sync.Mutex
	statusCache map[entity.EndpointBinding]StatusReport
}

// New valida las dependencias obligatorias.
func New(opt Config, d Deps) (*Orchestrator, error) {
	const op = "fiscal.New"
	switch {
	case d.Clients == nil:
		return nil, domain.NewConfigurationError(op, "transporte SEFAZ no configurado", nil)
	case d.Certificates == nil:
		return nil, domain.NewConfigurationError(op, "proveedor de certificado no configurado", nil)
	case d.Signer == nil || d.Schemas == nil:
		return nil, domain.NewConfigurationError(op, "firmador y validador XSD son obligatorios", nil)
	case d.Numbering == nil || d.Archive == nil || d.Cache == nil:
		return nil, domain.NewConfigurationError(op, "numeración, archivo y caché son obligatorios", nil)
	}
	if _, ok := nfe.UFCode(opt.UF); !ok {
		return nil, domain.NewConfigurationError(op, fmt.Sprintf("UF desconocida %q", opt.UF), nil)
	}
	if !opt.Environment.Valid() {
		return nil, domain.NewConfigurationError(op, fmt.Sprintf("ambiente inválido %q", opt.Environment), nil)
	}
	if d.Builder == nil {
		d.Builder = nfexml.NewNFeBuilder()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if opt.StatusTTL <= 0 {
		opt.StatusTTL = time.Minute
	}
	if opt.StatusTimeout <= 0 {
		opt.StatusTimeout = 10 * time.Second
	}
	return &Orchestrator{
		deps:        d,
		opt:         opt,
		log:         d.Log.With().Str("component", "fiscal").Logger(),
		now:         d.Now,
		statusCache: map[entity.EndpointBinding]StatusReport{},
	}, nil
}

// ── Emisión ──────────────────────────────────────────────────────────────────

// Emit numera, firma y envía la NF-e de forma síncrona.
func (o *Orchestrator) Emit(ctx context.Context, in entity.DocumentIntent) Result {
	started := o.now()
	res := o.emit(ctx, &in)
	o.record(nfe.OpAuthorization, res, started)
	return res
}

func (o *Orchestrator) emit(ctx context.Context, in *entity.DocumentIntent) Result {
	const op = "fiscal.Emit"
	now := o.now()

	if in.Kind == "" {
		in.Kind = nfe.KindNFe
	}
	if in.UF == "" {
		in.UF = o.opt.UF
	}
	in.UF = strings.ToUpper(in.UF)
	if in.Environment == "" {
		in.Environment = o.opt.Environment
	}
	if in.IssuedAt.IsZero() {
		in.IssuedAt = now
	}
	ufCode, ok := nfe.UFCode(in.UF)
	if !ok || ufCode == "91" {
		return failure(domain.NewValidationError(op, fmt.Sprintf("UF desconhecida %q", in.UF), nil))
	}
	if !in.Environment.Valid() {
		return failure(domain.NewValidationError(op, fmt.Sprintf("ambiente inválido %q", in.Environment), nil))
	}
	if err := o.deps.Builder.Check(in); err != nil {
		return failure(err)
	}
	model, err := in.Kind.Model()
	if err != nil {
		return failure(domain.NewValidationError(op, err.Error(), nil))
	}

	// ═══════════════════════════════════════════════════════════════════════
	// 1. Numeración y chave de acesso
	// ═══════════════════════════════════════════════════════════════════════
	if in.Number == 0 {
		n, err := o.deps.Numbering.Next(ctx, in.Issuer.TaxID, model, in.Series, in.Environment)
		if err != nil {
			return failure(err)
		}
		in.Number = n
	}
	code, err := nfe.NewRandomCode(in.Number)
	if err != nil {
		return failure(domain.NewValidationError(op, err.Error(), nil))
	}
	fields := nfe.KeyFields{
		UF:           ufCode,
		YearMonth:    in.IssuedAt.Format("0601"),
		TaxID:        in.Issuer.TaxID,
		Model:        model,
		Series:       in.Series,
		Number:       in.Number,
		EmissionType: "1",
		RandomCode:   code,
	}
	key, err := nfe.Encode(fields)
	if err != nil {
		return failure(domain.NewValidationError(op, err.Error(), nil))
	}
	log := o.log.With().Str("chave", key).Int("numero", in.Number).Logger()

	// ═══════════════════════════════════════════════════════════════════════
	// 2. XML, firma y lote
	// ═══════════════════════════════════════════════════════════════════════
	unsigned, err := o.deps.Builder.Build(in, fields, key)
	if err != nil {
		return o.withNumber(failure(err), in)
	}
	signed, err := o.sign(ctx, op, unsigned)
	if err != nil {
		return o.withNumber(failure(err), in)
	}
	lot, err := nfexml.WrapBatch(strconv.FormatInt(now.UnixMilli(), 10), signed)
	if err != nil {
		return o.withNumber(failure(err), in)
	}

	// ═══════════════════════════════════════════════════════════════════════
	// 3. Validación XSD (bloqueante) sobre el lote firmado
	// ═══════════════════════════════════════════════════════════════════════
	if err := o.validate(lot, nfe.OpAuthorization, in.Environment); err != nil {
		return o.withNumber(failure(err), in)
	}

	// ═══════════════════════════════════════════════════════════════════════
	// 4. Pendentes → SEFAZ
	// ═══════════════════════════════════════════════════════════════════════
	name := storage.ArchiveName(in.Number, now)
	if _, err := o.deps.Archive.SavePending(name, signed); err != nil {
		return o.withNumber(failure(err), in)
	}
	doc := &entity.FiscalDocument{
		AccessKey:   key,
		Kind:        in.Kind,
		Series:      in.Series,
		Number:      in.Number,
		Environment: in.Environment,
		IssuerTaxID: nfe.OnlyDigits(in.Issuer.TaxID),
		UF:          in.UF,
		Total:       in.Total(),
		XML:         string(signed),
		Status:      entity.DocStatusSent,
		IssuedAt:    in.IssuedAt,
	}

	resp, err := o.submit(ctx, in.UF, in.Environment, lot)
	if err != nil {
		log.Error().Err(err).Msg("falló el envío del lote")
		o.finish(name, storage.FolderFailed, nil, log)
		doc.Status = entity.DocStatusError
		doc.Reason = err.Error()
		o.saveDocument(ctx, doc, log)
		res := failure(err)
		res.AccessKey = key
		return o.withNumber(res, in)
	}

	// ═══════════════════════════════════════════════════════════════════════
	// 5. Resultado: enviadas (autorizada) o falhas
	// ═══════════════════════════════════════════════════════════════════════
	res := fromResponse(resp)
	res.Verified = o.verifyResponse(resp, in.Environment)
	if res.AccessKey == "" {
		res.AccessKey = key
	}
	doc.ProtocolNumber = resp.ProtocolNumber
	doc.StatusCode = resp.StatusCode
	doc.Reason = resp.Reason
	doc.Verified = res.Verified

	if resp.Success() {
		proc := nfexml.WrapProcessed(signed, resp.ProtocolXML)
		res.File = o.finish(name, storage.FolderAccepted, proc, log)
		if err := o.deps.Cache.Put(cache.DocumentKey(key), proc); err != nil {
			log.Warn().Err(err).Msg("no se pudo guardar el nfeProc en caché")
		}
		doc.Status = entity.DocStatusAuthorized
		doc.XML = string(proc)
		res.XML = proc
		log.Info().Str("protocolo", resp.ProtocolNumber).Msg("NF-e autorizada")
	} else {
		res.File = o.finish(name, storage.FolderFailed, nil, log)
		doc.Status = entity.DocStatusRejected
		if resp.State() == nfe.StateDenied {
			doc.Status = entity.DocStatusDenied
		}
		res.ErrorKind = string(domain.KindProtocolRejection)
		log.Warn().Str("cStat", resp.StatusCode).Str("xMotivo", resp.Reason).Msg("NF-e no autorizada")
	}
	o.saveDocument(ctx, doc, log)
	return o.withNumber(res, in)
}

func (o *Orchestrator) withNumber(r Result, in *entity.DocumentIntent) Result {
	r.Number = in.Number
	r.Series = in.Series
	return r
}

func (o *Orchestrator) submit(ctx context.Context, uf string, env nfe.Environment, lot []byte) (sefaz.Response, error) {
	client, err := o.deps.Clients.Client(ctx, entity.EndpointBinding{UF: uf, Environment: env})
	if err != nil {
		return sefaz.Response{}, err
	}
	raw, err := client.SubmitBatch(ctx, lot)
	if err != nil {
		return sefaz.Response{}, err
	}
	return sefaz.ParseResponse(nfe.OpAuthorization, raw)
}

func (o *Orchestrator) finish(name string, to storage.Folder, data []byte, log zerolog.Logger) string {
	path, err := o.deps.Archive.Finish(name, to, data)
	if err != nil {
		log.Error().Err(err).Str("archivo", name).Str("destino", string(to)).Msg("no se pudo mover el XML")
		return ""
	}
	return path
}

func (o *Orchestrator) saveDocument(ctx context.Context, doc *entity.FiscalDocument, log zerolog.Logger) {
	if o.deps.Documents == nil {
		return
	}
	if err := o.deps.Documents.Save(ctx, doc); err != nil {
		log.Error().Err(err).Msg("no se pudo persistir el documento")
	}
}

// ── Cancelamento ─────────────────────────────────────────────────────────────

// CancelRequest pide el cancelamento de una NF-e autorizada.
type CancelRequest struct {
	AccessKey     string `json:"access_key"`
	Protocol      string `json:"protocol"`
	Justification string `json:"justification"`
	Sequence      int    `json:"sequence,omitempty"`
}

// Cancel valida justificativa y protocolo antes de cualquier llamada de red.
func (o *Orchestrator) Cancel(ctx context.Context, req CancelRequest) Result {
	started := o.now()
	res := o.cancel(ctx, req)
	o.record(nfe.OpCancellation, res, started)
	return res
}

func (o *Orchestrator) cancel(ctx context.Context, req CancelRequest) Result {
	const op = "fiscal.Cancel"
	fields, uf, err := decodeKey(op, req.AccessKey)
	if err != nil {
		return failure(err)
	}
	if req.Sequence == 0 {
		req.Sequence = 1
	}
	now := o.now()
	unsigned, err := nfexml.BuildCancelEvent(nfexml.CancelEvent{
		LotID:         strconv.FormatInt(now.UnixMilli(), 10),
		AccessKey:     req.AccessKey,
		Protocol:      strings.TrimSpace(req.Protocol),
		Justification: req.Justification,
		TaxID:         fields.TaxID,
		Environment:   o.opt.Environment,
		Sequence:      req.Sequence,
		At:            now,
	})
	if err != nil {
		return keyed(failure(err), req.AccessKey)
	}
	signed, err := o.sign(ctx, op, unsigned)
	if err != nil {
		return keyed(failure(err), req.AccessKey)
	}
	if err := o.validate(signed, nfe.OpCancellation, o.opt.Environment); err != nil {
		return keyed(failure(err), req.AccessKey)
	}

	client, err := o.deps.Clients.Client(ctx, entity.EndpointBinding{UF: uf, Environment: o.opt.Environment})
	if err != nil {
		return keyed(failure(err), req.AccessKey)
	}
	raw, err := client.CancelEvent(ctx, signed)
	if err != nil {
		return keyed(failure(err), req.AccessKey)
	}
	resp, err := sefaz.ParseResponse(nfe.OpCancellation, raw)
	if err != nil {
		return keyed(failure(err), req.AccessKey)
	}
	res := keyed(fromResponse(resp), req.AccessKey)
	res.Verified = o.verifyResponse(resp, o.opt.Environment)
	log := o.log.With().Str("chave", req.AccessKey).Logger()
	if resp.Success() {
		res.State = nfe.StateCancelled
		o.updateStatus(ctx, req.AccessKey, entity.DocStatusCancelled, resp, log)
		log.Info().Str("protocolo", resp.ProtocolNumber).Msg("cancelación homologada")
	} else {
		res.ErrorKind = string(domain.KindProtocolRejection)
		log.Warn().Str("cStat", resp.StatusCode).Str("xMotivo", resp.Reason).Msg("cancelación rechazada")
	}
	return res
}

// ── Inutilização ─────────────────────────────────────────────────────────────

// InvalidateRequest pide la inutilização de un intervalo de numeración.
type InvalidateRequest struct {
	TaxID         string `json:"tax_id"`
	UF            string `json:"uf,omitempty"`
	Model         string `json:"model,omitempty"`
	Series        int    `json:"series"`
	From          int    `json:"from"`
	To            int    `json:"to"`
	Year          int    `json:"year,omitempty"`
	Justification string `json:"justification"`
}

// Invalidate inutiliza el intervalo [From, To] de la serie.
func (o *Orchestrator) Invalidate(ctx context.Context, req InvalidateRequest) Result {
	started := o.now()
	res := o.invalidate(ctx, req)
	o.record(nfe.OpInvalidation, res, started)
	return res
}

func (o *Orchestrator) invalidate(ctx context.Context, req InvalidateRequest) Result {
	const op = "fiscal.Invalidate"
	if req.UF == "" {
		req.UF = o.opt.UF
	}
	req.UF = strings.ToUpper(req.UF)
	if req.Model == "" {
		req.Model = "55"
	}
	if req.Year == 0 {
		req.Year = o.now().Year()
	}
	unsigned, err := nfexml.BuildInvalidation(nfexml.Invalidation{
		UF:            req.UF,
		Environment:   o.opt.Environment,
		Year:          req.Year,
		TaxID:         req.TaxID,
		Model:         req.Model,
		Series:        req.Series,
		From:          req.From,
		To:            req.To,
		Justification: req.Justification,
	})
	if err != nil {
		return failure(err)
	}
	signed, err := o.sign(ctx, op, unsigned)
	if err != nil {
		return failure(err)
	}
	if err := o.validate(signed, nfe.OpInvalidation, o.opt.Environment); err != nil {
		return failure(err)
	}
	client, err := o.deps.Clients.Client(ctx, entity.EndpointBinding{UF: req.UF, Environment: o.opt.Environment})
	if err != nil {
		return failure(err)
	}
	raw, err := client.InvalidateRange(ctx, signed)
	if err != nil {
		return failure(err)
	}
	resp, err := sefaz.ParseResponse(nfe.OpInvalidation, raw)
	if err != nil {
		return failure(err)
	}
	res := fromResponse(resp)
	res.Verified = o.verifyResponse(resp, o.opt.Environment)
	res.Series = req.Series
	if !resp.Success() {
		res.ErrorKind = string(domain.KindProtocolRejection)
		o.log.Warn().Str("cStat", resp.StatusCode).Str("xMotivo", resp.Reason).
			Int("de", req.From).Int("ate", req.To).Msg("inutilización rechazada")
		return res
	}
	o.log.Info().Str("protocolo", resp.ProtocolNumber).Int("de", req.From).Int("ate", req.To).Msg("inutilización homologada")
	if o.deps.Documents != nil {
		just, _ := nfexml.NormalizeJustification(op, req.Justification)
		err := o.deps.Documents.SaveInvalidation(ctx, &entity.InvalidatedRange{
			IssuerTaxID:    nfe.OnlyDigits(req.TaxID),
			UF:             req.UF,
			Environment:    o.opt.Environment,
			Model:          req.Model,
			Series:         req.Series,
			From:           req.From,
			To:             req.To,
			Justification:  just,
			ProtocolNumber: resp.ProtocolNumber,
		})
		if err != nil {
			o.log.Error().Err(err).Msg("no se pudo persistir la inutilización")
		}
	}
	return res
}

// ── Consulta y obtención ─────────────────────────────────────────────────────

// Query consulta la situación de la NF-e en el autorizador de su UF.
func (o *Orchestrator) Query(ctx context.Context, accessKey string) Result {
	started := o.now()
	res := o.query(ctx, accessKey)
	o.record(nfe.OpConsultation, res, started)
	return res
}

func (o *Orchestrator) query(ctx context.Context, accessKey string) Result {
	const op = "fiscal.Query"
	_, uf, err := decodeKey(op, accessKey)
	if err != nil {
		return failure(err)
	}
	client, err := o.deps.Clients.Client(ctx, entity.EndpointBinding{UF: uf, Environment: o.opt.Environment})
	if err != nil {
		return keyed(failure(err), accessKey)
	}
	raw, err := client.Query(ctx, accessKey)
	if err != nil {
		return keyed(failure(err), accessKey)
	}
	resp, err := sefaz.ParseResponse(nfe.OpConsultation, raw)
	if err != nil {
		return keyed(failure(err), accessKey)
	}
	res := keyed(fromResponse(resp), accessKey)
	res.Verified = o.verifyResponse(resp, o.opt.Environment)

	log := o.log.With().Str("chave", accessKey).Logger()
	switch resp.State() {
	case nfe.StateSuccess:
		o.updateStatus(ctx, accessKey, entity.DocStatusAuthorized, resp, log)
	case nfe.StateCancelled:
		o.updateStatus(ctx, accessKey, entity.DocStatusCancelled, resp, log)
	case nfe.StateDenied:
		o.updateStatus(ctx, accessKey, entity.DocStatusDenied, resp, log)
	}
	return res
}

// Fetch devuelve el XML de la NF-e: caché local, luego enviadas y por último la
// distribución DF-e por chave. Un acierto local nunca toca la red.
func (o *Orchestrator) Fetch(ctx context.Context, accessKey string) ([]byte, error) {
	const op = "fiscal.Fetch"
	fields, _, err := decodeKey(op, accessKey)
	if err != nil {
		return nil, err
	}
	cacheKey := cache.DocumentKey(accessKey)
	if data, ok, err := o.deps.Cache.Get(cacheKey); err != nil {
		return nil, err
	} else if ok {
		return data, nil
	}
	if data, ok, err := o.deps.Archive.FindAccepted(accessKey); err != nil {
		return nil, err
	} else if ok {
		o.putCache(cacheKey, data)
		return data, nil
	}
	if o.deps.Sync == nil {
		return nil, fmt.Errorf("%s: chave %s: %w", op, accessKey, domain.ErrNotFound)
	}
	taxID := o.opt.TaxID
	if taxID == "" {
		taxID = fields.TaxID
	}
	data, err := o.deps.Sync.FetchByKey(ctx, taxID, o.opt.Environment, accessKey)
	if err != nil {
		return nil, err
	}
	o.putCache(cacheKey, data)
	return data, nil
}

func (o *Orchestrator) putCache(key string, data []byte) {
	if err := o.deps.Cache.Put(key, data); err != nil {
		o.log.Warn().Err(err).Str("chave", key).Msg("no se pudo guardar en caché")
	}
}

// ── Auxiliares ───────────────────────────────────────────────────────────────

// sign firma con el certificado vigente; errores sin tipo pasan a SigningError.
func (o *Orchestrator) sign(ctx context.Context, op string, unsigned []byte) ([]byte, error) {
	cert, err := o.deps.Certificates(ctx)
	if err != nil {
		if domain.KindOf(err) == "" {
			return nil, domain.NewCertificateError(op, "carregar certificado", err)
		}
		return nil, err
	}
	signed, err := o.deps.Signer.Sign(unsigned, cert)
	if err != nil {
		if domain.KindOf(err) == "" {
			return nil, domain.NewSigningError(op, "assinar documento", err)
		}
		return nil, err
	}
	return signed, nil
}

// validate bloquea el envío de un XML no conforme. Sin XSD en disco solo bloquea
// con EnforceSchema.
func (o *Orchestrator) validate(xmlBytes []byte, op nfe.Operation, env nfe.Environment) error {
	opName := "fiscal.validate"
	res, err := o.deps.Schemas.Validate(xmlBytes, op, env)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) && !o.opt.EnforceSchema {
			o.log.Warn().Err(err).Str("operacao", string(op)).Msg("XSD no disponible, envío sin validación")
			return nil
		}
		return err
	}
	if !res.Valid {
		return domain.NewValidationError(opName,
			fmt.Sprintf("%s no conforme a %s: %s", op, res.SchemaFile, strings.Join(res.Errors, "; ")), nil)
	}
	return nil
}

// verifyResponse es informativa: un retorno fuera del XSD se acepta como no verificado.
func (o *Orchestrator) verifyResponse(resp sefaz.Response, env nfe.Environment) bool {
	if len(resp.Payload) == 0 {
		return false
	}
	res, err := o.deps.Schemas.ValidateResponse(resp.Payload, resp.Operation, env)
	if err != nil {
		o.log.Debug().Err(err).Str("operacao", string(resp.Operation)).Msg("retorno sin XSD para verificar")
		return false
	}
	return res.Valid
}

func (o *Orchestrator) updateStatus(ctx context.Context, accessKey, status string, resp sefaz.Response, log zerolog.Logger) {
	if o.deps.Documents == nil {
		return
	}
	err := o.deps.Documents.UpdateStatus(ctx, accessKey, status, resp.ProtocolNumber, resp.StatusCode, resp.Reason)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Debug().Msg("documento emitido fuera de este servicio, status no persistido")
	case err != nil:
		log.Error().Err(err).Msg("no se pudo actualizar el status del documento")
	}
}

func (o *Orchestrator) record(op nfe.Operation, res Result, started time.Time) {
	o.deps.Metrics.IncDocument(string(op), outcome(res))
	ev := o.log.Debug()
	if !res.Success {
		ev = o.log.Info()
	}
	ev.Str("operacao", string(op)).Bool("sucesso", res.Success).Str("cStat", res.StatusCode).
		Str("tipo_erro", res.ErrorKind).Dur("duracao", o.now().Sub(started)).Msg("operación fiscal completada")
}

// decodeKey verifica la chave y devuelve sus campos y la sigla de la UF emisora.
func decodeKey(op, accessKey string) (nfe.KeyFields, string, error) {
	if !nfe.Verify(accessKey) {
		return nfe.KeyFields{}, "", domain.NewValidationError(op, "chave de acesso inválida", nil)
	}
	fields, err := nfe.Decode(accessKey)
	if err != nil {
		return nfe.KeyFields{}, "", domain.NewValidationError(op, err.Error(), nil)
	}
	uf, ok := nfe.UFSiglaByCode(fields.UF)
	if !ok {
		return nfe.KeyFields{}, "", domain.NewValidationError(op, fmt.Sprintf("código de UF desconhecido %q", fields.UF), nil)
	}
	return fields, uf, nil
}

func keyed(r Result, accessKey string) Result {
	if r.AccessKey == "" {
		r.AccessKey = accessKey
	}
	return r
}

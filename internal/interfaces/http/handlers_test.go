package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Fiscal-api/internal/application/dto"
	"github.com/jhoicas/Fiscal-api/internal/application/fiscal"
	"github.com/jhoicas/Fiscal-api/internal/domain"
	"github.com/jhoicas/Fiscal-api/internal/domain/entity"
	"github.com/jhoicas/Fiscal-api/internal/infrastructure/cache"
	apphttp "github.com/jhoicas/Fiscal-api/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/Fiscal-api/pkg/jwt"
	"github.com/jhoicas/Fiscal-api/pkg/metrics"
	"github.com/jhoicas/Fiscal-api/pkg/nfe"
)

const chave = "35250732409620000175550010000037471011544648" // emitente testTaxID

// ── Dobles ───────────────────────────────────────────────────────────────────

type fakeFiscal struct {
	mu      sync.Mutex
	result  fiscal.Result
	xml     []byte
	err     error
	reports []fiscal.StatusReport
	calls   []string
	ufs     []string
	cancel  fiscal.CancelRequest
}

func (f *fakeFiscal) called(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeFiscal) Emit(context.Context, entity.DocumentIntent) fiscal.Result {
	f.called("emit")
	return f.result
}

func (f *fakeFiscal) Cancel(_ context.Context, req fiscal.CancelRequest) fiscal.Result {
	f.called("cancel")
	f.cancel = req
	return f.result
}

func (f *fakeFiscal) Invalidate(context.Context, fiscal.InvalidateRequest) fiscal.Result {
	f.called("invalidate")
	return f.result
}

func (f *fakeFiscal) Query(context.Context, string) fiscal.Result {
	f.called("query")
	return f.result
}

func (f *fakeFiscal) Fetch(context.Context, string) ([]byte, error) {
	f.called("fetch")
	return f.xml, f.err
}

func (f *fakeFiscal) ServiceStatus(_ context.Context, ufs []string) []fiscal.StatusReport {
	f.called("status")
	f.ufs = ufs
	return f.reports
}

type fakeSync struct {
	taxID string
	env   nfe.Environment
	err   error
}

func (f *fakeSync) Run(_ context.Context, taxID string, env nfe.Environment) (fiscal.Summary, error) {
	f.taxID, f.env = taxID, env
	if f.err != nil {
		return fiscal.Summary{}, f.err
	}
	return fiscal.Summary{TaxID: taxID, Environment: env, Loops: 1, Done: true}, nil
}

func (f *fakeSync) State(taxID string, env nfe.Environment) fiscal.SyncState {
	f.taxID, f.env = taxID, env
	return fiscal.SyncDone
}

type fakeCerts struct {
	saved []byte
	owner string
}

func (f *fakeCerts) Save(_ context.Context, owner string, pfx []byte, _ string) (*entity.Certificate, error) {
	f.owner, f.saved = owner, pfx
	return &entity.Certificate{OwnerID: owner, HolderName: "EMPRESA TESTE", TaxID: testTaxID,
		NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().AddDate(1, 0, 0)}, nil
}

func (f *fakeCerts) List(context.Context) ([]entity.CertificateInfo, error) {
	return []entity.CertificateInfo{{OwnerID: "default", DaysLeft: 10, Status: entity.CertStatusExpiring}}, nil
}

func (f *fakeCerts) ExpiringSoon(_ context.Context, days int) ([]entity.CertificateInfo, error) {
	return []entity.CertificateInfo{{OwnerID: "default", DaysLeft: days}}, nil
}

type fakeEvicter struct{ age, size int }

func (f *fakeEvicter) Evict(age, size int) (cache.EvictionReport, error) {
	f.age, f.size = age, size
	return cache.EvictionReport{Scanned: 3, RemovedByAge: 1, Remaining: 2}, nil
}

// ── Entorno ──────────────────────────────────────────────────────────────────

type api struct {
	app      *fiber.App
	fiscal   *fakeFiscal
	sync     *fakeSync
	certs    *fakeCerts
	evicter  *fakeEvicter
	newCerts int
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{fiscal: &fakeFiscal{}, sync: &fakeSync{}, certs: &fakeCerts{}, evicter: &fakeEvicter{}}
	a.app = fiber.New()
	apphttp.Router(a.app, apphttp.RouterDeps{
		Fiscal:       a.fiscal,
		Distribution: a.sync,
		Certificates: a.certs,
		Cache:        a.evicter,
		OnNewCert:    func() { a.newCerts++ },
		Metrics:      metrics.New(),
		Log:          zerolog.Nop(),
		JWTSecret:    testJWTSecret,
		Environment:  nfe.Homologation,
		CacheMaxAge:  30,
		CacheMaxMB:   200,
	})
	return a
}

func (a *api) do(t *testing.T, method, path, role, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if role != "" {
		req.Header.Set("Authorization", tokenForRole(t, role))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (a *api) doJSON(t *testing.T, method, path, role string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return a.do(t, method, path, role, fiber.MIMEApplicationJSON, body)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func intentFor(taxID string) entity.DocumentIntent {
	return entity.DocumentIntent{Kind: nfe.KindNFe, UF: "SP", Series: 1, Issuer: entity.Party{TaxID: taxID}}
}

// ── NF-e ─────────────────────────────────────────────────────────────────────

func TestEmit_AutorizadaResponde201(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{Success: true, AccessKey: chave, ProtocolNumber: "135250000012345", StatusCode: "100", State: nfe.StateSuccess}

	resp := a.doJSON(t, http.MethodPost, "/api/nfe", pkgjwt.RoleEmitter, intentFor(testTaxID))

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	res := decode[fiscal.Result](t, resp)
	assert.True(t, res.Success)
	assert.Equal(t, chave, res.AccessKey)
	assert.NotEmpty(t, resp.Header.Get(apphttp.HeaderRequestID), "toda respuesta lleva X-Request-ID")
}

func TestEmit_RechazoResponde422ConResultado(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{AccessKey: chave, StatusCode: "301", Reason: "Uso Denegado", ErrorKind: string(domain.KindProtocolRejection)}

	resp := a.doJSON(t, http.MethodPost, "/api/nfe", pkgjwt.RoleEmitter, intentFor(testTaxID))

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	res := decode[fiscal.Result](t, resp)
	assert.Equal(t, "301", res.StatusCode, "el cuerpo conserva el cStat de la SEFAZ")
}

func TestEmit_OtroEmitenteEsProhibido(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodPost, "/api/nfe", pkgjwt.RoleEmitter, intentFor("11222333000181"))

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, a.fiscal.calls, "no debe llegar al orquestador")
}

func TestEmit_AdminOperaCualquierEmitente(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{Success: true}
	resp := a.doJSON(t, http.MethodPost, "/api/nfe", pkgjwt.RoleAdmin, intentFor("11222333000181"))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestEmit_RolConsultaNoEmite(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodPost, "/api/nfe", pkgjwt.RoleReadOnly, intentFor(testTaxID))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEmit_CuerpoInvalido(t *testing.T) {
	a := newAPI(t)
	resp := a.do(t, http.MethodPost, "/api/nfe", pkgjwt.RoleEmitter, fiber.MIMEApplicationJSON, strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_BODY", decode[dto.ErrorResponse](t, resp).Code)
}

func TestEmit_SinToken(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodPost, "/api/nfe", "", intentFor(testTaxID))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCancel_TomaLaChaveDeLaRuta(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{Success: true, AccessKey: chave, StatusCode: "135", State: nfe.StateCancelled}

	resp := a.doJSON(t, http.MethodPost, "/api/nfe/"+chave+"/cancelamento", pkgjwt.RoleEmitter,
		fiscal.CancelRequest{Protocol: "135250000012345", Justification: "Erro na digitação do pedido"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, chave, a.fiscal.cancel.AccessKey)
	assert.Equal(t, "135250000012345", a.fiscal.cancel.Protocol)
}

func TestInvalidate_UsaElCNPJDelToken(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{Success: true, StatusCode: "102"}

	resp := a.doJSON(t, http.MethodPost, "/api/nfe/inutilizacao", pkgjwt.RoleEmitter,
		fiscal.InvalidateRequest{Series: 1, From: 10, To: 12, Justification: "Quebra de sequência na numeração"})

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"invalidate"}, a.fiscal.calls)
}

func TestQuery_NotaCanceladaResponde200(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{Success: false, AccessKey: chave, StatusCode: "101", State: nfe.StateCancelled}

	resp := a.doJSON(t, http.MethodGet, "/api/nfe/"+chave, pkgjwt.RoleReadOnly, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode, "la consulta respondió; el estado va en el cuerpo")
	assert.Equal(t, nfe.StateCancelled, decode[fiscal.Result](t, resp).State)
}

func TestQuery_TimeoutResponde504(t *testing.T) {
	a := newAPI(t)
	a.fiscal.result = fiscal.Result{AccessKey: chave, ErrorKind: string(domain.KindTransportTimeout)}

	resp := a.doJSON(t, http.MethodGet, "/api/nfe/"+chave, pkgjwt.RoleReadOnly, nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestFetch_DevuelveXML(t *testing.T) {
	a := newAPI(t)
	a.fiscal.xml = []byte(`<nfeProc/>`)

	resp := a.doJSON(t, http.MethodGet, "/api/nfe/"+chave+"/xml", pkgjwt.RoleReadOnly, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/xml")
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `<nfeProc/>`, string(body))
	assert.Equal(t, []string{"fetch"}, a.fiscal.calls, "la ruta /xml no debe caer en la consulta")
}

func TestFetch_NoEncontrado404(t *testing.T) {
	a := newAPI(t)
	a.fiscal.err = domain.ErrNotFound

	resp := a.doJSON(t, http.MethodGet, "/api/nfe/"+chave+"/xml", pkgjwt.RoleReadOnly, nil)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decode[dto.ErrorResponse](t, resp).Code)
}

func TestStatus_NormalizaLasUF(t *testing.T) {
	a := newAPI(t)
	a.fiscal.reports = []fiscal.StatusReport{{UF: "SP", Online: true}, {UF: "RJ", Online: true}}

	resp := a.doJSON(t, http.MethodGet, "/api/sefaz/status?ufs=sp,%20rj,", pkgjwt.RoleReadOnly, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"SP", "RJ"}, a.fiscal.ufs)
	assert.Len(t, decode[[]fiscal.StatusReport](t, resp), 2)
}

// ── Distribución ─────────────────────────────────────────────────────────────

func TestSync_PorDefectoUsaTokenYAmbienteConfigurado(t *testing.T) {
	a := newAPI(t)

	resp := a.doJSON(t, http.MethodPost, "/api/dfe/sync", pkgjwt.RoleEmitter, nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, testTaxID, a.sync.taxID)
	assert.Equal(t, nfe.Homologation, a.sync.env)
	assert.True(t, decode[fiscal.Summary](t, resp).Done)
}

func TestSync_AmbienteExplicito(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodPost, "/api/dfe/sync", pkgjwt.RoleEmitter, dto.SyncRequest{Environment: "1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, nfe.Production, a.sync.env)
}

func TestSync_EnCursoResponde409(t *testing.T) {
	a := newAPI(t)
	a.sync.err = domain.ErrSyncInProgress

	resp := a.doJSON(t, http.MethodPost, "/api/dfe/sync", pkgjwt.RoleEmitter, nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SYNC_IN_PROGRESS", decode[dto.ErrorResponse](t, resp).Code)
}

func TestSync_ErrorDeRedResponde502(t *testing.T) {
	a := newAPI(t)
	a.sync.err = domain.NewTransportNetworkError("sefaz.invoke", "connection reset", nil)

	resp := a.doJSON(t, http.MethodPost, "/api/dfe/sync", pkgjwt.RoleEmitter, nil)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, string(domain.KindTransportNetwork), decode[dto.ErrorResponse](t, resp).Code)
}

func TestSync_OtroCNPJEsProhibido(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodPost, "/api/dfe/sync", pkgjwt.RoleEmitter, dto.SyncRequest{TaxID: "11222333000181"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, a.sync.taxID)
}

func TestState_PorParCNPJAmbiente(t *testing.T) {
	a := newAPI(t)

	resp := a.do(t, http.MethodGet, "/api/dfe/state?ambiente=producao", pkgjwt.RoleReadOnly, "", nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[dto.SyncStateResponse](t, resp)
	assert.Equal(t, string(fiscal.SyncDone), body.State)
	assert.Equal(t, testTaxID, body.TaxID)
	assert.Equal(t, "producao", body.Environment)
	assert.Equal(t, testTaxID, a.sync.taxID)
	assert.Equal(t, nfe.Production, a.sync.env)
}

func TestState_AmbienteInvalido(t *testing.T) {
	a := newAPI(t)
	resp := a.do(t, http.MethodGet, "/api/dfe/state?ambiente=9", pkgjwt.RoleReadOnly, "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ── Administración ───────────────────────────────────────────────────────────

func multipartCert(t *testing.T, filename string) (string, io.Reader) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("owner_id", "empresa-1"))
	require.NoError(t, w.WriteField("senha", "1234"))
	part, err := w.CreateFormFile("certificado", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("pfx-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType(), &buf
}

func TestUploadCertificate_GuardaYReiniciaClientes(t *testing.T) {
	a := newAPI(t)
	ct, body := multipartCert(t, "empresa.pfx")

	resp := a.do(t, http.MethodPost, "/api/certificados", pkgjwt.RoleAdmin, ct, body)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "empresa-1", a.certs.owner)
	assert.Equal(t, []byte("pfx-bytes"), a.certs.saved)
	assert.Equal(t, 1, a.newCerts, "los clientes TLS se recrean con el certificado nuevo")
	info := decode[entity.CertificateInfo](t, resp)
	assert.Equal(t, entity.CertStatusValid, info.Status)
}

func TestUploadCertificate_ExtensionInvalida(t *testing.T) {
	a := newAPI(t)
	ct, body := multipartCert(t, "empresa.txt")

	resp := a.do(t, http.MethodPost, "/api/certificados", pkgjwt.RoleAdmin, ct, body)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, string(domain.KindCertificate), decode[dto.ErrorResponse](t, resp).Code)
	assert.Zero(t, a.newCerts)
}

func TestUploadCertificate_SoloAdmin(t *testing.T) {
	a := newAPI(t)
	ct, body := multipartCert(t, "empresa.pfx")
	resp := a.do(t, http.MethodPost, "/api/certificados", pkgjwt.RoleEmitter, ct, body)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestExpiringCertificates_LeeDias(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodGet, "/api/certificados/vencendo?dias=7", pkgjwt.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]entity.CertificateInfo](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, 7, list[0].DaysLeft)
}

func TestEvictCache_UsaLimitesConfiguradosOPedidos(t *testing.T) {
	a := newAPI(t)
	resp := a.doJSON(t, http.MethodPost, "/api/cache/evict", pkgjwt.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 30, a.evicter.age)
	assert.Equal(t, 200, a.evicter.size)

	days := 7
	resp = a.doJSON(t, http.MethodPost, "/api/cache/evict", pkgjwt.RoleAdmin, dto.EvictRequest{MaxAgeDays: &days})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 7, a.evicter.age)
	assert.Equal(t, 200, a.evicter.size)
	assert.Equal(t, 1, decode[dto.EvictResponse](t, resp).RemovedByAge)
}

func TestMetrics_Expuesto(t *testing.T) {
	a := newAPI(t)
	resp := a.do(t, http.MethodGet, "/metrics", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "/metrics no requiere token")
}
